package transport

import (
    "sync"
)

// Manager owns the TCP and UDP links to one console. Both start connecting
// at construction and are supervised independently: a failure or reconnect
// cycle on one never touches the other.
type Manager struct {
    opts Options
    done chan struct{}
    once sync.Once

    prefMu sync.RWMutex
    prefs  map[string]Preference

    subMu      sync.Mutex
    nextSub    int
    msgSubs    map[int]func(Message)
    statusSubs map[int]func(Status)

    tcp *link
    udp *link
}

// New builds a Manager and starts both link supervisors immediately.
func New(opts Options) *Manager {
    m := &Manager{
        opts:       opts.withDefaults(),
        done:       make(chan struct{}),
        prefs:      make(map[string]Preference),
        msgSubs:    make(map[int]func(Message)),
        statusSubs: make(map[int]func(Status)),
    }
    m.tcp = newLink(KindTCP, m)
    m.udp = newLink(KindUDP, m)
    m.tcp.start()
    m.udp.start()
    return m
}

// Options returns the effective (defaulted) options.
func (m *Manager) Options() Options { return m.opts }

// SetPreference stores the routing preference for a tool id.
func (m *Manager) SetPreference(toolID string, p Preference) {
    m.prefMu.Lock()
    m.prefs[toolID] = p
    m.prefMu.Unlock()
}

// Preference returns the stored preference for a tool id (auto when unset).
func (m *Manager) Preference(toolID string) Preference {
    m.prefMu.RLock()
    defer m.prefMu.RUnlock()
    return m.prefs[toolID]
}

// Send transmits one complete packet on the best available link for the
// tool's preference and reports which kind carried it. When no candidate
// is connected it kicks reconnection on the candidates and returns
// ErrNoTransport; there is no queuing.
func (m *Manager) Send(toolID string, payload []byte, opts *SendOptions) (Kind, error) {
    select {
    case <-m.done:
        return KindTCP, errStopped
    default:
    }
    pref := m.Preference(toolID)
    if opts != nil && opts.Preference != nil {
        pref = *opts.Preference
    }
    order := m.order(pref)
    for _, l := range order {
        if l.currentState() == StateConnected {
            l.write(payload, opts)
            return l.kind, nil
        }
    }
    for _, l := range order {
        l.kick()
    }
    return KindTCP, ErrNoTransport
}

// order ranks the links for a preference. Auto prefers the healthiest
// link by current state, tie-broken TCP first.
func (m *Manager) order(p Preference) [2]*link {
    switch p {
    case PreferReliability:
        return [2]*link{m.tcp, m.udp}
    case PreferSpeed:
        return [2]*link{m.udp, m.tcp}
    default:
        if m.udp.currentState() > m.tcp.currentState() {
            return [2]*link{m.udp, m.tcp}
        }
        return [2]*link{m.tcp, m.udp}
    }
}

// OnMessage registers a listener for every reassembled inbound packet and
// returns its unsubscribe func.
func (m *Manager) OnMessage(fn func(Message)) func() {
    m.subMu.Lock()
    id := m.nextSub
    m.nextSub++
    m.msgSubs[id] = fn
    m.subMu.Unlock()
    return func() {
        m.subMu.Lock()
        delete(m.msgSubs, id)
        m.subMu.Unlock()
    }
}

// OnStatus registers a listener for link state transitions.
func (m *Manager) OnStatus(fn func(Status)) func() {
    m.subMu.Lock()
    id := m.nextSub
    m.nextSub++
    m.statusSubs[id] = fn
    m.subMu.Unlock()
    return func() {
        m.subMu.Lock()
        delete(m.statusSubs, id)
        m.subMu.Unlock()
    }
}

func (m *Manager) emitMessage(msg Message) {
    m.subMu.Lock()
    fns := make([]func(Message), 0, len(m.msgSubs))
    for _, fn := range m.msgSubs {
        fns = append(fns, fn)
    }
    m.subMu.Unlock()
    for _, fn := range fns {
        fn(msg)
    }
}

func (m *Manager) emitStatus(st Status) {
    m.subMu.Lock()
    fns := make([]func(Status), 0, len(m.statusSubs))
    for _, fn := range m.statusSubs {
        fns = append(fns, fn)
    }
    m.subMu.Unlock()
    for _, fn := range fns {
        fn(st)
    }
}

// Status returns the snapshot for one link.
func (m *Manager) Status(k Kind) Status {
    if k == KindUDP {
        return m.udp.snapshot()
    }
    return m.tcp.snapshot()
}

// Statuses returns both link snapshots, TCP first.
func (m *Manager) Statuses() []Status {
    return []Status{m.tcp.snapshot(), m.udp.snapshot()}
}

func (m *Manager) isStopped() bool {
    select {
    case <-m.done:
        return true
    default:
        return false
    }
}

// Stop permanently tears both links down. Idempotent; the only way to
// halt a manager.
func (m *Manager) Stop() {
    m.once.Do(func() {
        close(m.done)
        m.tcp.teardown()
        m.udp.teardown()
    })
}
