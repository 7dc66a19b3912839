package client

import (
    "context"
    "encoding/json"
    "errors"
    "net"
    "sync"
    "testing"
    "time"

    "eosbridge/pkg/gateway"
    "eosbridge/pkg/osc"
    "eosbridge/pkg/transport"
)

// udpConsole answers requests over UDP, always replying from a fresh
// ephemeral socket rather than the port the gateway targeted. Consoles do
// exactly this in the field.
type udpConsole struct {
    t       *testing.T
    conn    *net.UDPConn
    handler func(osc.Message) []osc.Message
}

func newUDPConsole(t *testing.T, handler func(osc.Message) []osc.Message) *udpConsole {
    t.Helper()
    conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
    if err != nil {
        t.Fatalf("listen udp: %v", err)
    }
    s := &udpConsole{t: t, conn: conn, handler: handler}
    go s.loop()
    t.Cleanup(func() { _ = conn.Close() })
    return s
}

func (s *udpConsole) port() int { return s.conn.LocalAddr().(*net.UDPAddr).Port }

func (s *udpConsole) loop() {
    buf := make([]byte, 64*1024)
    for {
        n, src, err := s.conn.ReadFromUDP(buf)
        if err != nil {
            return
        }
        msgs, err := osc.Flatten(buf[:n])
        if err != nil {
            continue
        }
        for _, m := range msgs {
            for _, reply := range s.handler(m) {
                s.sendFromFreshSocket(reply, src)
            }
        }
    }
}

func (s *udpConsole) sendFromFreshSocket(m osc.Message, dst *net.UDPAddr) {
    raw, err := osc.Encode(m)
    if err != nil {
        return
    }
    out, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
    if err != nil {
        return
    }
    defer out.Close()
    _, _ = out.WriteToUDP(raw, dst)
}

func closedTCPPort(t *testing.T) int {
    t.Helper()
    ln, err := net.Listen("tcp", "127.0.0.1:0")
    if err != nil {
        t.Fatalf("listen: %v", err)
    }
    port := ln.Addr().(*net.TCPAddr).Port
    _ = ln.Close()
    return port
}

// newTestClient wires a gateway whose only live link is UDP at the console.
func newTestClient(t *testing.T, console *udpConsole, timeout time.Duration) *Client {
    t.Helper()
    g, err := gateway.New(gateway.Options{Transport: transport.Options{
        Host:    "127.0.0.1",
        TCPPort: closedTCPPort(t),
        UDPPort: console.port(),
        Backoff: transport.BackoffOptions{Initial: 30 * time.Millisecond, Multiplier: 1, Max: 30 * time.Millisecond},
    }})
    if err != nil {
        t.Fatalf("new gateway: %v", err)
    }
    t.Cleanup(g.Close)
    deadline := time.Now().Add(3 * time.Second)
    for time.Now().Before(deadline) {
        if g.Statuses()[1].State == transport.StateConnected {
            break
        }
        time.Sleep(10 * time.Millisecond)
    }
    return New(g, timeout)
}

func jsonArg(t *testing.T, v any) osc.Arg {
    t.Helper()
    b, err := json.Marshal(v)
    if err != nil {
        t.Fatalf("marshal: %v", err)
    }
    return osc.String(string(b))
}

func TestPingEchoOverUDP(t *testing.T) {
    console := newUDPConsole(t, func(m osc.Message) []osc.Message {
        if m.Address != gateway.PingAddress {
            return nil
        }
        // ignore argless keepalive pings so only the echo request is answered
        s, ok := m.FirstArg().(string)
        if !ok {
            return nil
        }
        return []osc.Message{{Address: gateway.PingReplyAddress, Args: []osc.Arg{osc.String(s)}}}
    })
    c := newTestClient(t, console, 2*time.Second)

    res := c.Ping(context.Background(), PingOptions{Echo: "marco"})
    if res.Status != StatusOK {
        t.Fatalf("ping status = %v (err %v)", res.Status, res.Err)
    }
    if res.RoundtripMs == nil || *res.RoundtripMs < 0 {
        t.Fatalf("roundtrip = %v", res.RoundtripMs)
    }
    if res.Echo != "marco" {
        t.Fatalf("echo = %v", res.Echo)
    }
}

func TestPingTimeoutResolvesToStatus(t *testing.T) {
    console := newUDPConsole(t, func(osc.Message) []osc.Message { return nil })
    c := newTestClient(t, console, 150*time.Millisecond)

    res := c.Ping(context.Background(), PingOptions{})
    if res.Status != StatusTimeout {
        t.Fatalf("status = %v, want timeout", res.Status)
    }
    if res.RoundtripMs != nil {
        t.Fatalf("roundtrip must be nil on timeout, got %d", *res.RoundtripMs)
    }
    if !errors.Is(res.Err, ErrTimeout) {
        t.Fatalf("err = %v, want ErrTimeout", res.Err)
    }
}

func TestPingCanceledContext(t *testing.T) {
    console := newUDPConsole(t, func(osc.Message) []osc.Message { return nil })
    c := newTestClient(t, console, 5*time.Second)

    ctx, cancel := context.WithCancel(context.Background())
    cancel()
    res := c.Ping(ctx, PingOptions{})
    if res.Status != StatusTimeout {
        t.Fatalf("canceled ping status = %v, want timeout", res.Status)
    }
}

func TestConnectNegotiatesProtocol(t *testing.T) {
    console := newUDPConsole(t, func(m osc.Message) []osc.Message {
        switch m.Address {
        case AddrHandshake:
            return []osc.Message{{Address: AddrHandshakeReply, Args: []osc.Arg{
                osc.String(`{"version":"3.2.0","protocols":["osc-1.1","osc-1.0"]}`),
            }}}
        case AddrProtocol:
            return []osc.Message{{Address: AddrProtocolReply, Args: []osc.Arg{
                osc.String(`{"status":"ok"}`),
            }}}
        }
        return nil
    })
    c := newTestClient(t, console, 2*time.Second)

    res := c.Connect(context.Background(), ConnectOptions{
        ClientID:           "tool-77",
        PreferredProtocols: []string{"osc-1.0"},
    })
    if res.Status != StatusOK {
        t.Fatalf("connect status = %v (err %v)", res.Status, res.Err)
    }
    if res.Version != "3.2.0" {
        t.Fatalf("version = %q", res.Version)
    }
    if len(res.AvailableProtocols) != 2 {
        t.Fatalf("available = %v", res.AvailableProtocols)
    }
    if res.SelectedProtocol != "osc-1.0" || res.ProtocolStatus != StatusOK {
        t.Fatalf("negotiation: selected %q status %v", res.SelectedProtocol, res.ProtocolStatus)
    }
}

func TestConnectSkipsNegotiationWithoutCommonProtocol(t *testing.T) {
    console := newUDPConsole(t, func(m osc.Message) []osc.Message {
        if m.Address == AddrHandshake {
            return []osc.Message{{Address: AddrHandshakeReply, Args: []osc.Arg{
                jsonArg(t, map[string]any{"version": "1.0", "protocols": []string{"exotic"}}),
            }}}
        }
        return nil
    })
    c := newTestClient(t, console, 2*time.Second)

    res := c.Connect(context.Background(), ConnectOptions{
        ClientID:           "tool-1",
        PreferredProtocols: []string{"osc-1.0"},
    })
    if res.Status != StatusOK {
        t.Fatalf("connect status = %v", res.Status)
    }
    if res.ProtocolStatus != StatusSkipped || res.SelectedProtocol != "" {
        t.Fatalf("negotiation should be skipped: %+v", res)
    }
}

func TestConnectTimeoutSkipsNegotiation(t *testing.T) {
    console := newUDPConsole(t, func(osc.Message) []osc.Message { return nil })
    c := newTestClient(t, console, 150*time.Millisecond)

    res := c.Connect(context.Background(), ConnectOptions{ClientID: "tool-1"})
    if res.Status != StatusTimeout {
        t.Fatalf("status = %v, want timeout", res.Status)
    }
    if res.ProtocolStatus != StatusSkipped {
        t.Fatalf("protocol status = %v, want skipped", res.ProtocolStatus)
    }
}

func TestResetStatusNormalization(t *testing.T) {
    var mu sync.Mutex
    var sawFull any
    console := newUDPConsole(t, func(m osc.Message) []osc.Message {
        if m.Address != AddrReset {
            return nil
        }
        mu.Lock()
        sawFull = m.FirstArg()
        mu.Unlock()
        return []osc.Message{{Address: AddrResetReply, Args: []osc.Arg{osc.String("error: console busy")}}}
    })
    c := newTestClient(t, console, 2*time.Second)

    res := c.Reset(context.Background(), ResetOptions{Full: true})
    if res.Status != StatusError {
        t.Fatalf("status = %v, want error", res.Status)
    }
    mu.Lock()
    defer mu.Unlock()
    if sawFull != true {
        t.Fatalf("full flag arrived as %v", sawFull)
    }
}

func TestSubscribeCarriesRate(t *testing.T) {
    var mu sync.Mutex
    var gotArgs []osc.Arg
    console := newUDPConsole(t, func(m osc.Message) []osc.Message {
        if m.Address != AddrSubscribe {
            return nil
        }
        mu.Lock()
        gotArgs = m.Args
        mu.Unlock()
        return []osc.Message{{Address: AddrSubscribeReply, Args: []osc.Arg{osc.String("ok")}}}
    })
    c := newTestClient(t, console, 2*time.Second)

    res := c.Subscribe(context.Background(), SubscribeOptions{Path: "/eos/out/active/*", Enable: true, Rate: 30})
    if res.Status != StatusOK {
        t.Fatalf("status = %v (err %v)", res.Status, res.Err)
    }
    mu.Lock()
    defer mu.Unlock()
    if len(gotArgs) != 3 {
        t.Fatalf("args = %v", gotArgs)
    }
    if gotArgs[0].Value != "/eos/out/active/*" || gotArgs[1].Value != true || gotArgs[2].Value != int32(30) {
        t.Fatalf("args = %v", gotArgs)
    }
}

func TestNormalizeStatus(t *testing.T) {
    cases := map[string]StepStatus{
        "ok":               StatusOK,
        "OK":               StatusOK,
        "done":             StatusOK,
        "error: bad state": StatusError,
        "FAILED":           StatusError,
        "timeout waiting":  StatusTimeout,
        "skipped":          StatusSkipped,
    }
    for in, want := range cases {
        if got := normalizeStatus(in); got != want {
            t.Fatalf("normalizeStatus(%q) = %v, want %v", in, got, want)
        }
    }
}

func TestExtractPayload(t *testing.T) {
    m := osc.Message{Address: "/x", Args: []osc.Arg{osc.String(`{"a":1}`)}}
    p, ok := extractPayload(m).(map[string]any)
    if !ok || p["a"] != float64(1) {
        t.Fatalf("json payload = %#v", extractPayload(m))
    }

    m = osc.Message{Address: "/x", Args: []osc.Arg{osc.String("plain text")}}
    if got := extractPayload(m); got != "plain text" {
        t.Fatalf("non-json string = %v", got)
    }

    m = osc.Message{Address: "/x", Args: []osc.Arg{osc.Int(5)}}
    if got := extractPayload(m); got != int32(5) {
        t.Fatalf("int payload = %v", got)
    }

    if got := extractPayload(osc.Message{Address: "/x"}); got != nil {
        t.Fatalf("empty payload = %v", got)
    }
}

func TestFailureStatus(t *testing.T) {
    if failureStatus(ErrTimeout) != StatusTimeout {
        t.Fatalf("ErrTimeout not mapped to timeout")
    }
    if failureStatus(context.DeadlineExceeded) != StatusTimeout {
        t.Fatalf("deadline not mapped to timeout")
    }
    if failureStatus(errors.New("boom")) != StatusError {
        t.Fatalf("generic error not mapped to error")
    }
}
