package gateway

import (
    "sort"
    "sync"
    "time"
)

type direction int

const (
    dirIncoming direction = iota
    dirOutgoing
)

func (d direction) String() string {
    if d == dirOutgoing {
        return "outgoing"
    }
    return "incoming"
}

// AddressStat is a per-address traffic counter.
type AddressStat struct {
    Address string    `json:"address"`
    Count   uint64    `json:"count"`
    LastAt  time.Time `json:"last_at"`
}

// DirectionStats aggregates one traffic direction.
type DirectionStats struct {
    Count       uint64        `json:"count"`
    Bytes       uint64        `json:"bytes"`
    LastAt      time.Time     `json:"last_at"`
    LastSummary string        `json:"last_summary,omitempty"`
    ByAddress   []AddressStat `json:"by_address,omitempty"`
}

// Diagnostics is the point-in-time snapshot returned by Gateway.Diagnostics.
type Diagnostics struct {
    Config struct {
        Host    string `json:"host"`
        TCPPort int    `json:"tcp_port"`
        UDPPort int    `json:"udp_port"`
    } `json:"config"`
    Logging struct {
        Incoming bool `json:"incoming"`
        Outgoing bool `json:"outgoing"`
    } `json:"logging"`
    Stats struct {
        Incoming DirectionStats `json:"incoming"`
        Outgoing DirectionStats `json:"outgoing"`
    } `json:"stats"`
    Listeners struct {
        Active int `json:"active"`
    } `json:"listeners"`
    StartedAt time.Time `json:"started_at"`
    UptimeMs  int64     `json:"uptime_ms"`
}

type addrCounter struct {
    count  uint64
    lastAt time.Time
}

type dirCounters struct {
    count     uint64
    bytes     uint64
    lastAt    time.Time
    summary   string
    byAddress map[string]*addrCounter
}

// diagStats holds both directions' counters for the lifetime of one
// manager instance; Reconfigure replaces the whole struct.
type diagStats struct {
    mu   sync.Mutex
    dirs [2]dirCounters
}

func newDiagStats() *diagStats {
    s := &diagStats{}
    s.dirs[dirIncoming].byAddress = make(map[string]*addrCounter)
    s.dirs[dirOutgoing].byAddress = make(map[string]*addrCounter)
    return s
}

func (s *diagStats) recordBytes(d direction, n int) {
    s.mu.Lock()
    s.dirs[d].bytes += uint64(n)
    s.mu.Unlock()
}

func (s *diagStats) recordMessage(d direction, address string) {
    now := time.Now()
    s.mu.Lock()
    dc := &s.dirs[d]
    dc.count++
    dc.lastAt = now
    dc.summary = address
    ac := dc.byAddress[address]
    if ac == nil {
        ac = &addrCounter{}
        dc.byAddress[address] = ac
    }
    ac.count++
    ac.lastAt = now
    s.mu.Unlock()
}

// snapshot copies one direction, with per-address stats sorted by count
// descending then recency.
func (s *diagStats) snapshot(d direction) DirectionStats {
    s.mu.Lock()
    dc := &s.dirs[d]
    out := DirectionStats{
        Count:       dc.count,
        Bytes:       dc.bytes,
        LastAt:      dc.lastAt,
        LastSummary: dc.summary,
    }
    for addr, ac := range dc.byAddress {
        out.ByAddress = append(out.ByAddress, AddressStat{Address: addr, Count: ac.count, LastAt: ac.lastAt})
    }
    s.mu.Unlock()
    sort.Slice(out.ByAddress, func(i, j int) bool {
        if out.ByAddress[i].Count != out.ByAddress[j].Count {
            return out.ByAddress[i].Count > out.ByAddress[j].Count
        }
        return out.ByAddress[i].LastAt.After(out.ByAddress[j].LastAt)
    })
    return out
}

// Diagnostics computes the full snapshot at call time. Uptime is measured
// against the current manager instance's start.
func (g *Gateway) Diagnostics() Diagnostics {
    g.mu.Lock()
    stats := g.stats
    startedAt := g.startedAt
    topts := g.opts.Transport
    g.mu.Unlock()

    var d Diagnostics
    d.Config.Host = topts.Host
    d.Config.TCPPort = topts.TCPPort
    d.Config.UDPPort = topts.UDPPort
    d.Logging.Incoming = g.loggingIncoming()
    d.Logging.Outgoing = g.loggingOutgoing()
    d.Stats.Incoming = stats.snapshot(dirIncoming)
    d.Stats.Outgoing = stats.snapshot(dirOutgoing)
    g.subMu.Lock()
    d.Listeners.Active = len(g.msgSubs) + len(g.statusSubs)
    g.subMu.Unlock()
    d.StartedAt = startedAt
    d.UptimeMs = time.Since(startedAt).Milliseconds()
    return d
}

// ExportDiagnostics serializes the snapshot with the registered codec for
// contentType (application/json or application/cbor).
func (g *Gateway) ExportDiagnostics(contentType string) ([]byte, error) {
    c, err := g.codecs.Get(contentType)
    if err != nil {
        return nil, err
    }
    return c.Marshal(g.Diagnostics())
}
