package transport

import (
    "bufio"
    "encoding/binary"
    "errors"
    "io"
    "net"
    "strconv"
    "sync"
    "time"

    "go.uber.org/zap"
)

var errStopped = errors.New("manager stopped")

// link is one supervised connection. A supervisor goroutine drives the
// disconnected → connecting → connected cycle; gen increments on every
// teardown so stale timer callbacks and writes can detect a dead socket.
type link struct {
    kind Kind
    m    *Manager

    mu         sync.Mutex
    state      State
    gen        int
    conn       net.Conn     // TCP
    uconn      *net.UDPConn // UDP
    udpTarget  *net.UDPAddr
    failures   int
    streakAt   time.Time // first failure of the current streak
    lastHBSent time.Time
    lastHBAck  time.Time
    hbStop     chan struct{}
    hbTimer    *time.Timer
    running    bool

    wake chan struct{}
}

func newLink(kind Kind, m *Manager) *link {
    return &link{kind: kind, m: m, wake: make(chan struct{}, 1)}
}

// start launches the supervisor if it is not already running.
func (l *link) start() {
    l.mu.Lock()
    if l.running || l.m.isStopped() {
        l.mu.Unlock()
        return
    }
    l.running = true
    l.mu.Unlock()
    go l.run()
}

// kick is the Send-while-down path: restart a parked supervisor with a
// fresh failure streak, or hasten one sleeping in backoff.
func (l *link) kick() {
    l.mu.Lock()
    if l.m.isStopped() || l.state == StateConnected {
        l.mu.Unlock()
        return
    }
    if !l.running {
        l.running = true
        l.failures = 0
        l.streakAt = time.Time{}
        l.mu.Unlock()
        go l.run()
        return
    }
    l.mu.Unlock()
    select { case l.wake <- struct{}{}: default: }
}

func (l *link) run() {
    for {
        if l.m.isStopped() {
            l.park()
            return
        }
        l.transition(StateConnecting)
        if err := l.open(); err != nil {
            if !errors.Is(err, errStopped) {
                zap.L().Warn("connect failed",
                    zap.String("transport", l.kind.String()), zap.Error(err))
            }
            l.transition(StateDisconnected)
            if !l.backoffWait() {
                return
            }
            continue
        }
        l.readLoop()
        l.teardown()
        if l.m.isStopped() {
            l.park()
            return
        }
        if !l.backoffWait() {
            return
        }
    }
}

func (l *link) park() {
    l.mu.Lock()
    l.running = false
    l.mu.Unlock()
}

// backoffWait records a failure and sleeps the computed delay. It returns
// false when the streak budget is spent or the manager stopped; the
// supervisor is parked in both cases.
func (l *link) backoffWait() bool {
    l.mu.Lock()
    l.failures++
    if l.streakAt.IsZero() {
        l.streakAt = time.Now()
    }
    d := l.m.opts.Backoff.delay(l.failures)
    budget := l.m.opts.ReconnectTimeout
    if budget > 0 && time.Since(l.streakAt)+d > budget {
        l.running = false
        failures := l.failures
        l.mu.Unlock()
        zap.L().Warn("reconnect budget exhausted, giving up on streak",
            zap.String("transport", l.kind.String()),
            zap.Int("failures", failures),
            zap.Duration("budget", budget))
        return false
    }
    l.mu.Unlock()

    select {
    case <-l.m.done:
        l.park()
        return false
    case <-time.After(d):
    case <-l.wake:
    }
    return true
}

func (l *link) open() error {
    opts := l.m.opts
    var (
        conn      net.Conn
        uconn     *net.UDPConn
        udpTarget *net.UDPAddr
    )
    switch l.kind {
    case KindTCP:
        addr := net.JoinHostPort(opts.Host, strconv.Itoa(opts.TCPPort))
        c, err := net.DialTimeout("tcp", addr, opts.ConnectionTimeout)
        if err != nil { return err }
        conn = c
    case KindUDP:
        raddr, err := net.ResolveUDPAddr("udp",
            net.JoinHostPort(opts.Host, strconv.Itoa(opts.UDPPort)))
        if err != nil { return err }
        var laddr *net.UDPAddr
        if opts.LocalAddress != "" || opts.LocalPort != 0 {
            laddr = &net.UDPAddr{IP: net.ParseIP(opts.LocalAddress), Port: opts.LocalPort}
        }
        uc, err := net.ListenUDP("udp", laddr)
        if err != nil { return err }
        uconn, udpTarget = uc, raddr
    }

    l.mu.Lock()
    if l.m.isStopped() {
        l.mu.Unlock()
        if conn != nil { _ = conn.Close() }
        if uconn != nil { _ = uconn.Close() }
        return errStopped
    }
    l.conn, l.uconn, l.udpTarget = conn, uconn, udpTarget
    l.state = StateConnected
    l.failures = 0
    l.streakAt = time.Time{}
    l.lastHBAck = time.Now()
    gen := l.gen
    var hbStop chan struct{}
    if len(opts.HeartbeatPayload) > 0 {
        hbStop = make(chan struct{})
        l.hbStop = hbStop
    }
    st := l.snapshotLocked()
    l.mu.Unlock()

    zap.L().Info("transport connected", zap.String("transport", l.kind.String()))
    l.m.emitStatus(st)
    if hbStop != nil {
        go l.heartbeatLoop(gen, hbStop)
    }
    return nil
}

func (l *link) readLoop() {
    l.mu.Lock()
    conn, uconn := l.conn, l.uconn
    l.mu.Unlock()
    switch l.kind {
    case KindTCP:
        if conn != nil { l.tcpReadLoop(conn) }
    case KindUDP:
        if uconn != nil { l.udpReadLoop(uconn) }
    }
}

// tcpReadLoop reassembles [u32 BE length][payload] frames off the stream.
// io.ReadFull makes reassembly independent of how the bytes were chunked;
// a partial frame simply keeps the loop blocked until the rest arrives.
func (l *link) tcpReadLoop(conn net.Conn) {
    br := bufio.NewReader(conn)
    for {
        var hdr [4]byte
        if _, err := io.ReadFull(br, hdr[:]); err != nil {
            l.logReadEnd(err)
            return
        }
        n := binary.BigEndian.Uint32(hdr[:])
        if n == 0 || n > maxFrameSize {
            zap.L().Warn("invalid tcp frame length, dropping connection",
                zap.Uint32("length", n))
            return
        }
        buf := make([]byte, n)
        if _, err := io.ReadFull(br, buf); err != nil {
            l.logReadEnd(err)
            return
        }
        l.noteInbound(buf)
        l.m.emitMessage(Message{Kind: KindTCP, Data: buf})
    }
}

// udpReadLoop emits every datagram regardless of source address: consoles
// may reply from an ephemeral port rather than the one we target.
func (l *link) udpReadLoop(uconn *net.UDPConn) {
    buf := make([]byte, 64*1024)
    for {
        n, _, err := uconn.ReadFromUDP(buf)
        if err != nil {
            l.logReadEnd(err)
            return
        }
        pkt := make([]byte, n)
        copy(pkt, buf[:n])
        l.noteInbound(pkt)
        l.m.emitMessage(Message{Kind: KindUDP, Data: pkt})
    }
}

func (l *link) logReadEnd(err error) {
    if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
        zap.L().Debug("transport read ended",
            zap.String("transport", l.kind.String()), zap.Error(err))
        return
    }
    zap.L().Warn("transport read failed",
        zap.String("transport", l.kind.String()), zap.Error(err))
}

// noteInbound records liveness for any inbound packet accepted by the
// heartbeat matcher and disarms the pending watchdog.
func (l *link) noteInbound(data []byte) {
    match := l.m.opts.HeartbeatMatcher
    if match != nil && !match(data) {
        return
    }
    l.mu.Lock()
    l.lastHBAck = time.Now()
    if l.hbTimer != nil {
        l.hbTimer.Stop()
        l.hbTimer = nil
    }
    l.mu.Unlock()
}

func (l *link) heartbeatLoop(gen int, stop <-chan struct{}) {
    l.sendHeartbeat(gen)
    t := time.NewTicker(l.m.opts.HeartbeatInterval)
    defer t.Stop()
    for {
        select {
        case <-stop:
            return
        case <-l.m.done:
            return
        case <-t.C:
            l.sendHeartbeat(gen)
        }
    }
}

// sendHeartbeat writes the keepalive payload and arms the ack watchdog
// unless one is already pending.
func (l *link) sendHeartbeat(gen int) {
    l.mu.Lock()
    if l.gen != gen || l.state != StateConnected {
        l.mu.Unlock()
        return
    }
    l.lastHBSent = time.Now()
    if l.hbTimer == nil {
        l.hbTimer = time.AfterFunc(l.m.opts.ConnectionTimeout, func() {
            l.checkHeartbeat(gen)
        })
    }
    l.mu.Unlock()
    l.write(l.m.opts.HeartbeatPayload, nil)
}

func (l *link) checkHeartbeat(gen int) {
    l.mu.Lock()
    l.hbTimer = nil
    if l.gen != gen || l.state != StateConnected {
        l.mu.Unlock()
        return
    }
    silent := time.Since(l.lastHBAck)
    if silent < l.m.opts.ConnectionTimeout {
        l.mu.Unlock()
        return
    }
    l.closeSocketsLocked()
    l.mu.Unlock()
    zap.L().Warn("heartbeat timeout, recycling transport",
        zap.String("transport", l.kind.String()),
        zap.Duration("silent", silent))
}

// write sends one complete packet on the live socket. Failures are logged
// and fed into the common failure path (socket close unblocks the read
// loop), never returned: by the time a transport was selected the caller
// is done.
func (l *link) write(payload []byte, opts *SendOptions) {
    l.mu.Lock()
    gen := l.gen
    conn, uconn, target := l.conn, l.uconn, l.udpTarget
    l.mu.Unlock()

    var err error
    switch l.kind {
    case KindTCP:
        if conn == nil { return }
        frame := make([]byte, 4+len(payload))
        binary.BigEndian.PutUint32(frame, uint32(len(payload)))
        copy(frame[4:], payload)
        _, err = conn.Write(frame)
    case KindUDP:
        if uconn == nil { return }
        if opts != nil && (opts.TargetAddress != "" || opts.TargetPort != 0) {
            target = resolveOverride(target, opts)
        }
        _, err = uconn.WriteToUDP(payload, target)
    }
    if err != nil {
        zap.L().Error("transport write failed",
            zap.String("transport", l.kind.String()), zap.Error(err))
        l.failGen(gen)
    }
}

func resolveOverride(base *net.UDPAddr, opts *SendOptions) *net.UDPAddr {
    out := &net.UDPAddr{}
    if base != nil { *out = *base }
    if opts.TargetAddress != "" {
        if ip := net.ParseIP(opts.TargetAddress); ip != nil {
            out.IP = ip
        } else if addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(opts.TargetAddress, "0")); err == nil {
            out.IP = addr.IP
        }
    }
    if opts.TargetPort != 0 { out.Port = opts.TargetPort }
    return out
}

// failGen forces the link down if the socket generation is still current.
func (l *link) failGen(gen int) {
    l.mu.Lock()
    if l.gen == gen && l.state == StateConnected {
        l.closeSocketsLocked()
    }
    l.mu.Unlock()
}

func (l *link) closeSocketsLocked() {
    if l.conn != nil { _ = l.conn.Close() }
    if l.uconn != nil { _ = l.uconn.Close() }
}

// teardown unconditionally releases the socket and timers and marks the
// link disconnected. Idempotent.
func (l *link) teardown() {
    l.mu.Lock()
    l.gen++
    if l.hbStop != nil {
        close(l.hbStop)
        l.hbStop = nil
    }
    if l.hbTimer != nil {
        l.hbTimer.Stop()
        l.hbTimer = nil
    }
    l.closeSocketsLocked()
    l.conn, l.uconn, l.udpTarget = nil, nil, nil
    changed := l.state != StateDisconnected
    l.state = StateDisconnected
    st := l.snapshotLocked()
    l.mu.Unlock()
    if changed {
        l.m.emitStatus(st)
    }
}

func (l *link) transition(s State) {
    l.mu.Lock()
    if l.state == s {
        l.mu.Unlock()
        return
    }
    l.state = s
    st := l.snapshotLocked()
    l.mu.Unlock()
    l.m.emitStatus(st)
}

func (l *link) currentState() State {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.state
}

func (l *link) snapshotLocked() Status {
    return Status{
        Kind:                l.kind,
        State:               l.state,
        LastHeartbeatSentAt: l.lastHBSent,
        LastHeartbeatAckAt:  l.lastHBAck,
        ConsecutiveFailures: l.failures,
    }
}

func (l *link) snapshot() Status {
    l.mu.Lock()
    defer l.mu.Unlock()
    return l.snapshotLocked()
}
