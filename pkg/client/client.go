// Package client turns the gateway's unordered OSC message stream into
// awaitable request/response operations: console handshake with protocol
// negotiation, ping, reset and subscription management. Timeouts resolve
// into result statuses rather than errors.
package client

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "strings"
    "time"

    "go.uber.org/zap"

    "eosbridge/pkg/gateway"
    "eosbridge/pkg/osc"
)

// Well-known request/reply addresses. Replies mirror the Eos convention
// of prefixing outbound traffic with /eos/out.
const (
    AddrHandshake      = "/eos/bridge/handshake"
    AddrHandshakeReply = "/eos/out/bridge/handshake"
    AddrProtocol       = "/eos/bridge/protocol"
    AddrProtocolReply  = "/eos/out/bridge/protocol"
    AddrReset          = "/eos/bridge/reset"
    AddrResetReply     = "/eos/out/bridge/reset"
    AddrSubscribe      = "/eos/subscribe"
    AddrSubscribeReply = "/eos/out/subscribe"
)

// StepStatus is the unified outcome taxonomy for every RPC step.
type StepStatus string

const (
    StatusOK      StepStatus = "ok"
    StatusTimeout StepStatus = "timeout"
    StatusError   StepStatus = "error"
    StatusSkipped StepStatus = "skipped"
)

// ErrTimeout marks an await that saw no matching reply in time.
var ErrTimeout = errors.New("rpc timed out")

const defaultTimeout = 5 * time.Second

// Client issues request/response operations over a Gateway.
type Client struct {
    gw      *gateway.Gateway
    timeout time.Duration
}

// New builds a Client with the given default per-call timeout
// (defaultTimeout when zero).
func New(gw *gateway.Gateway, timeout time.Duration) *Client {
    if timeout <= 0 {
        timeout = defaultTimeout
    }
    return &Client{gw: gw, timeout: timeout}
}

// request registers a transient reply listener, sends the request, then
// races the listener against the timeout and ctx. The listener and timer
// are torn down exactly once whichever side wins; the buffered channel
// guards against double resolution.
func (c *Client) request(ctx context.Context, req osc.Message, replyAddr string, timeout time.Duration, toolID string) (osc.Message, error) {
    if timeout <= 0 {
        timeout = c.timeout
    }
    ch := make(chan osc.Message, 1)
    unsub := c.gw.OnMessage(func(m osc.Message) {
        if m.Address == replyAddr {
            select { case ch <- m: default: }
        }
    })
    defer unsub()

    var sendOpts *gateway.SendOptions
    if toolID != "" {
        sendOpts = &gateway.SendOptions{ToolID: toolID}
    }
    if _, err := c.gw.Send(req, sendOpts); err != nil {
        return osc.Message{}, err
    }

    timer := time.NewTimer(timeout)
    defer timer.Stop()
    select {
    case m := <-ch:
        return m, nil
    case <-timer.C:
        return osc.Message{}, fmt.Errorf("%w awaiting %s", ErrTimeout, replyAddr)
    case <-ctx.Done():
        return osc.Message{}, ctx.Err()
    }
}

// extractPayload applies the reply payload convention: the first argument,
// with strings attempted as JSON and kept raw on parse failure.
func extractPayload(m osc.Message) any {
    v := m.FirstArg()
    s, ok := v.(string)
    if !ok {
        return v
    }
    var out any
    if err := json.Unmarshal([]byte(s), &out); err != nil {
        return s
    }
    return out
}

// normalizeStatus maps an embedded status string onto the StepStatus
// taxonomy by substring.
func normalizeStatus(s string) StepStatus {
    ls := strings.ToLower(s)
    switch {
    case strings.Contains(ls, "error"), strings.Contains(ls, "fail"):
        return StatusError
    case strings.Contains(ls, "timeout"):
        return StatusTimeout
    case strings.Contains(ls, "skip"):
        return StatusSkipped
    default:
        return StatusOK
    }
}

func statusFromPayload(p any) StepStatus {
    switch v := p.(type) {
    case string:
        return normalizeStatus(v)
    case map[string]any:
        if s, ok := v["status"].(string); ok {
            return normalizeStatus(s)
        }
    }
    return StatusOK
}

func failureStatus(err error) StepStatus {
    if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
        return StatusTimeout
    }
    return StatusError
}

// ConnectOptions parameterizes the handshake.
type ConnectOptions struct {
    ClientID           string
    PreferredProtocols []string
    Timeout            time.Duration
    ToolID             string
}

// ConnectResult reports the handshake and the optional protocol
// negotiation that follows it.
type ConnectResult struct {
    Status             StepStatus `json:"status"`
    Version            string     `json:"version,omitempty"`
    AvailableProtocols []string   `json:"available_protocols,omitempty"`
    SelectedProtocol   string     `json:"selected_protocol,omitempty"`
    ProtocolStatus     StepStatus `json:"protocol_status"`
    HandshakePayload   any        `json:"handshake_payload,omitempty"`
    ProtocolResponse   any        `json:"protocol_response,omitempty"`
    Err                error      `json:"-"`
}

// Connect performs the handshake then negotiates the best mutually
// supported protocol. A handshake timeout skips negotiation; an empty or
// unmatched protocol list skips it without being an error.
func (c *Client) Connect(ctx context.Context, opts ConnectOptions) ConnectResult {
    res := ConnectResult{Status: StatusOK, ProtocolStatus: StatusSkipped}

    args := []osc.Arg{osc.String(opts.ClientID)}
    if len(opts.PreferredProtocols) > 0 {
        b, err := json.Marshal(opts.PreferredProtocols)
        if err == nil {
            args = append(args, osc.String(string(b)))
        }
    }
    reply, err := c.request(ctx, osc.Message{Address: AddrHandshake, Args: args},
        AddrHandshakeReply, opts.Timeout, opts.ToolID)
    if err != nil {
        res.Status = failureStatus(err)
        res.Err = err
        return res
    }

    payload := extractPayload(reply)
    res.HandshakePayload = payload
    if mp, ok := payload.(map[string]any); ok {
        if v, ok := mp["version"].(string); ok {
            res.Version = v
        }
        if ps, ok := mp["protocols"].([]any); ok {
            for _, p := range ps {
                if s, ok := p.(string); ok {
                    res.AvailableProtocols = append(res.AvailableProtocols, s)
                }
            }
        }
    }
    if len(res.AvailableProtocols) == 0 {
        return res
    }

    prefs := opts.PreferredProtocols
    if len(prefs) == 0 {
        prefs = res.AvailableProtocols
    }
    selected := ""
    for _, p := range prefs {
        for _, avail := range res.AvailableProtocols {
            if p == avail {
                selected = p
                break
            }
        }
        if selected != "" { break }
    }
    if selected == "" {
        zap.L().Debug("no mutually supported protocol, skipping negotiation",
            zap.Strings("preferred", opts.PreferredProtocols),
            zap.Strings("available", res.AvailableProtocols))
        return res
    }

    preply, err := c.request(ctx, osc.Message{Address: AddrProtocol, Args: []osc.Arg{osc.String(selected)}},
        AddrProtocolReply, opts.Timeout, opts.ToolID)
    if err != nil {
        res.ProtocolStatus = failureStatus(err)
        res.Err = err
        return res
    }
    res.SelectedProtocol = selected
    res.ProtocolResponse = extractPayload(preply)
    res.ProtocolStatus = statusFromPayload(res.ProtocolResponse)
    return res
}

// PingOptions parameterizes Ping.
type PingOptions struct {
    Echo    string
    Timeout time.Duration
    ToolID  string
}

// PingResult reports round-trip time and any echoed payload. RoundtripMs
// and Echo are nil on timeout.
type PingResult struct {
    Status      StepStatus `json:"status"`
    RoundtripMs *int64     `json:"roundtrip_ms"`
    Echo        any        `json:"echo,omitempty"`
    Payload     any        `json:"payload,omitempty"`
    Err         error      `json:"-"`
}

// Ping sends /eos/ping and measures send-to-reply latency.
func (c *Client) Ping(ctx context.Context, opts PingOptions) PingResult {
    var args []osc.Arg
    if opts.Echo != "" {
        args = append(args, osc.String(opts.Echo))
    }
    start := time.Now()
    reply, err := c.request(ctx, osc.Message{Address: gateway.PingAddress, Args: args},
        gateway.PingReplyAddress, opts.Timeout, opts.ToolID)
    if err != nil {
        return PingResult{Status: failureStatus(err), Err: err}
    }
    rtt := time.Since(start).Milliseconds()
    res := PingResult{Status: StatusOK, RoundtripMs: &rtt}
    res.Payload = extractPayload(reply)
    switch p := res.Payload.(type) {
    case string:
        res.Echo = p
    case map[string]any:
        if e, ok := p["echo"]; ok {
            res.Echo = e
        }
    }
    return res
}

// ResetOptions parameterizes Reset. Full resets the whole bridge state;
// otherwise only the transient session is cleared.
type ResetOptions struct {
    Full    bool
    Timeout time.Duration
    ToolID  string
}

// ResetResult reports the normalized confirmation status.
type ResetResult struct {
    Status  StepStatus `json:"status"`
    Payload any        `json:"payload,omitempty"`
    Err     error      `json:"-"`
}

// Reset requests a full or partial reset and normalizes the reply status.
func (c *Client) Reset(ctx context.Context, opts ResetOptions) ResetResult {
    req := osc.Message{Address: AddrReset, Args: []osc.Arg{osc.Bool(opts.Full)}}
    reply, err := c.request(ctx, req, AddrResetReply, opts.Timeout, opts.ToolID)
    if err != nil {
        return ResetResult{Status: failureStatus(err), Err: err}
    }
    payload := extractPayload(reply)
    return ResetResult{Status: statusFromPayload(payload), Payload: payload}
}

// SubscribeOptions parameterizes Subscribe. Rate is in updates per second;
// zero leaves the console default.
type SubscribeOptions struct {
    Path    string
    Enable  bool
    Rate    int32
    Timeout time.Duration
    ToolID  string
}

// SubscribeResult reports the normalized confirmation status.
type SubscribeResult struct {
    Status  StepStatus `json:"status"`
    Payload any        `json:"payload,omitempty"`
    Err     error      `json:"-"`
}

// Subscribe enables or disables console event streaming for a path.
func (c *Client) Subscribe(ctx context.Context, opts SubscribeOptions) SubscribeResult {
    args := []osc.Arg{osc.String(opts.Path), osc.Bool(opts.Enable)}
    if opts.Rate > 0 {
        args = append(args, osc.Int(opts.Rate))
    }
    req := osc.Message{Address: AddrSubscribe, Args: args}
    reply, err := c.request(ctx, req, AddrSubscribeReply, opts.Timeout, opts.ToolID)
    if err != nil {
        return SubscribeResult{Status: failureStatus(err), Err: err}
    }
    payload := extractPayload(reply)
    return SubscribeResult{Status: statusFromPayload(payload), Payload: payload}
}
