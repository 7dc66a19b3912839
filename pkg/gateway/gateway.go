// Package gateway presents a message-oriented OSC interface over the raw
// transport manager: binary encode/decode, bundle flattening, traffic
// diagnostics and hot reconfiguration that preserves external listeners.
package gateway

import (
    "sync"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "go.uber.org/zap"

    "eosbridge/pkg/codec"
    "eosbridge/pkg/osc"
    "eosbridge/pkg/transport"
)

// Eos keepalive addresses. The console answers /eos/ping on the
// /eos/out/ping reply address.
const (
    PingAddress      = "/eos/ping"
    PingReplyAddress = "/eos/out/ping"
)

// Options configures a Gateway.
type Options struct {
    Transport transport.Options

    // LogIncoming/LogOutgoing toggle per-packet debug logging.
    LogIncoming bool
    LogOutgoing bool

    // Registry receives the gateway's Prometheus metrics. Nil uses a
    // private registry so independent gateways never collide.
    Registry prometheus.Registerer
}

// SendOptions carries per-call routing overrides for Gateway.Send.
type SendOptions struct {
    ToolID        string
    Preference    *transport.Preference
    TargetAddress string
    TargetPort    int
}

// Gateway owns the current manager instance plus the listener registries
// that survive reconfiguration.
type Gateway struct {
    mu        sync.Mutex
    mgr       *transport.Manager
    opts      Options
    startedAt time.Time
    stats     *diagStats
    unhook    []func()

    subMu      sync.Mutex
    nextSub    int
    msgSubs    map[int]func(osc.Message)
    statusSubs map[int]func(transport.Status)

    codecs  *codec.Registry
    metrics *metrics

    logMu       sync.RWMutex
    logIncoming bool
    logOutgoing bool
}

// New builds a Gateway and starts its manager. A default heartbeat payload
// (an encoded /eos/ping) and matcher (a decoded /eos/out/ping reply, bundle
// or not) are installed when the transport options carry none.
func New(opts Options) (*Gateway, error) {
    reg := opts.Registry
    if reg == nil {
        reg = prometheus.NewRegistry()
    }
    codecs := codec.NewRegistry()
    if c, err := codec.CBOR(); err == nil {
        codecs.Register(c)
    }
    g := &Gateway{
        opts:        opts,
        stats:       newDiagStats(),
        msgSubs:     make(map[int]func(osc.Message)),
        statusSubs:  make(map[int]func(transport.Status)),
        codecs:      codecs,
        metrics:     newMetrics(reg),
        logIncoming: opts.LogIncoming,
        logOutgoing: opts.LogOutgoing,
    }
    topts, err := g.fillTransportDefaults(opts.Transport)
    if err != nil { return nil, err }
    g.mu.Lock()
    g.attach(topts)
    g.mu.Unlock()
    return g, nil
}

func (g *Gateway) fillTransportDefaults(topts transport.Options) (transport.Options, error) {
    if len(topts.HeartbeatPayload) == 0 {
        payload, err := osc.Encode(osc.Message{Address: PingAddress})
        if err != nil { return topts, err }
        topts.HeartbeatPayload = payload
    }
    if topts.HeartbeatMatcher == nil {
        topts.HeartbeatMatcher = DefaultHeartbeatMatcher
    }
    return topts, nil
}

// DefaultHeartbeatMatcher accepts a packet as keepalive acknowledgment when
// it decodes to the ping reply address, including when wrapped in a bundle.
// Unrelated console chatter does not count as liveness.
func DefaultHeartbeatMatcher(data []byte) bool {
    msgs, err := osc.Flatten(data)
    if err != nil {
        return false
    }
    for _, m := range msgs {
        if m.Address == PingReplyAddress {
            return true
        }
    }
    return false
}

// attach builds a fresh manager for topts and wires the incoming and
// status subscriptions. Caller holds g.mu.
func (g *Gateway) attach(topts transport.Options) {
    mgr := transport.New(topts)
    g.mgr = mgr
    g.startedAt = time.Now()
    unsubMsg := mgr.OnMessage(func(m transport.Message) { g.handleRaw(mgr, m) })
    unsubStatus := mgr.OnStatus(func(st transport.Status) { g.handleStatus(mgr, st) })
    g.unhook = []func(){unsubMsg, unsubStatus}
}

// handleRaw decodes one raw packet, flattens bundles and fans the messages
// out. Undecodable packets are dropped and logged; they never take the
// process down.
func (g *Gateway) handleRaw(src *transport.Manager, raw transport.Message) {
    if !g.isCurrent(src) {
        return
    }
    msgs, err := osc.Flatten(raw.Data)
    if err != nil {
        zap.L().Warn("dropping undecodable osc packet",
            zap.String("transport", raw.Kind.String()),
            zap.Int("bytes", len(raw.Data)),
            zap.Error(err))
        return
    }
    g.stats.recordBytes(dirIncoming, len(raw.Data))
    g.metrics.observeBytes(dirIncoming, len(raw.Data))
    for _, m := range msgs {
        g.stats.recordMessage(dirIncoming, m.Address)
        g.metrics.observeMessage(dirIncoming)
        if g.loggingIncoming() {
            zap.L().Debug("osc in",
                zap.String("transport", raw.Kind.String()),
                zap.String("address", m.Address),
                zap.Int("args", len(m.Args)))
        }
        g.fanOut(m)
    }
}

func (g *Gateway) handleStatus(src *transport.Manager, st transport.Status) {
    if !g.isCurrent(src) {
        return
    }
    g.metrics.setState(st)
    g.subMu.Lock()
    fns := make([]func(transport.Status), 0, len(g.statusSubs))
    for _, fn := range g.statusSubs {
        fns = append(fns, fn)
    }
    g.subMu.Unlock()
    for _, fn := range fns {
        fn(st)
    }
}

// isCurrent drops callbacks from a manager that has been swapped out by
// Reconfigure; no stale message crosses the swap.
func (g *Gateway) isCurrent(src *transport.Manager) bool {
    g.mu.Lock()
    defer g.mu.Unlock()
    return g.mgr == src
}

func (g *Gateway) fanOut(m osc.Message) {
    g.subMu.Lock()
    fns := make([]func(osc.Message), 0, len(g.msgSubs))
    for _, fn := range g.msgSubs {
        fns = append(fns, fn)
    }
    g.subMu.Unlock()
    for _, fn := range fns {
        fn(m)
    }
}

// Send encodes the message to OSC binary and transmits it on the link
// selected by the tool's preference, reporting the transport used.
func (g *Gateway) Send(m osc.Message, opts *SendOptions) (transport.Kind, error) {
    data, err := osc.Encode(m)
    if err != nil {
        return transport.KindTCP, err
    }
    g.mu.Lock()
    mgr := g.mgr
    g.mu.Unlock()

    var topts *transport.SendOptions
    toolID := ""
    if opts != nil {
        toolID = opts.ToolID
        topts = &transport.SendOptions{
            Preference:    opts.Preference,
            TargetAddress: opts.TargetAddress,
            TargetPort:    opts.TargetPort,
        }
    }
    kind, err := mgr.Send(toolID, data, topts)
    if err != nil {
        return kind, err
    }
    g.stats.recordBytes(dirOutgoing, len(data))
    g.stats.recordMessage(dirOutgoing, m.Address)
    g.metrics.observeBytes(dirOutgoing, len(data))
    g.metrics.observeMessage(dirOutgoing)
    if g.loggingOutgoing() {
        zap.L().Debug("osc out",
            zap.String("transport", kind.String()),
            zap.String("address", m.Address),
            zap.Int("bytes", len(data)))
    }
    return kind, nil
}

// SetPreference stores a routing preference for a tool id on the current
// manager.
func (g *Gateway) SetPreference(toolID string, p transport.Preference) {
    g.mu.Lock()
    mgr := g.mgr
    g.mu.Unlock()
    mgr.SetPreference(toolID, p)
}

// OnMessage registers a decoded-message listener that survives
// Reconfigure. Returns its unsubscribe func.
func (g *Gateway) OnMessage(fn func(osc.Message)) func() {
    g.subMu.Lock()
    id := g.nextSub
    g.nextSub++
    g.msgSubs[id] = fn
    g.subMu.Unlock()
    return func() {
        g.subMu.Lock()
        delete(g.msgSubs, id)
        g.subMu.Unlock()
    }
}

// OnStatus registers a link-status listener that survives Reconfigure.
func (g *Gateway) OnStatus(fn func(transport.Status)) func() {
    g.subMu.Lock()
    id := g.nextSub
    g.nextSub++
    g.statusSubs[id] = fn
    g.subMu.Unlock()
    return func() {
        g.subMu.Lock()
        delete(g.statusSubs, id)
        g.subMu.Unlock()
    }
}

// Statuses returns the current manager's link snapshots.
func (g *Gateway) Statuses() []transport.Status {
    g.mu.Lock()
    mgr := g.mgr
    g.mu.Unlock()
    return mgr.Statuses()
}

// SetLogging toggles per-packet logging at runtime.
func (g *Gateway) SetLogging(incoming, outgoing bool) {
    g.logMu.Lock()
    g.logIncoming, g.logOutgoing = incoming, outgoing
    g.logMu.Unlock()
}

func (g *Gateway) loggingIncoming() bool {
    g.logMu.RLock()
    defer g.logMu.RUnlock()
    return g.logIncoming
}

func (g *Gateway) loggingOutgoing() bool {
    g.logMu.RLock()
    defer g.logMu.RUnlock()
    return g.logOutgoing
}

// Reconfigure stops the current manager and attaches a fresh one built
// from topts. Externally registered listeners keep working without
// re-registering; diagnostics and uptime restart from zero because they
// are scoped to one transport configuration's lifetime.
func (g *Gateway) Reconfigure(topts transport.Options) error {
    filled, err := g.fillTransportDefaults(topts)
    if err != nil { return err }
    g.mu.Lock()
    old := g.mgr
    for _, u := range g.unhook {
        u()
    }
    g.opts.Transport = topts
    g.stats = newDiagStats()
    g.attach(filled)
    g.mu.Unlock()
    old.Stop()
    zap.L().Info("gateway reconfigured",
        zap.String("host", topts.Host),
        zap.Int("tcp_port", topts.TCPPort),
        zap.Int("udp_port", topts.UDPPort))
    return nil
}

// Close stops the current manager. The gateway is not usable afterwards.
func (g *Gateway) Close() {
    g.mu.Lock()
    mgr := g.mgr
    g.mu.Unlock()
    mgr.Stop()
}
