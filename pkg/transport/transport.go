// Package transport maintains two independently supervised connections to a
// single lighting console — a framed TCP stream and a UDP datagram socket —
// with automatic reconnection, heartbeat liveness checks and per-caller
// transport preference.
package transport

import (
    "errors"
    "time"
)

// Kind identifies one of the two console links.
type Kind int

const (
    KindTCP Kind = iota
    KindUDP
)

func (k Kind) String() string {
    switch k {
    case KindTCP:
        return "tcp"
    case KindUDP:
        return "udp"
    default:
        return "unknown"
    }
}

// State is the lifecycle state of a single link.
type State int

const (
    StateDisconnected State = iota
    StateConnecting
    StateConnected
)

func (s State) String() string {
    switch s {
    case StateConnecting:
        return "connecting"
    case StateConnected:
        return "connected"
    default:
        return "disconnected"
    }
}

// Status is a point-in-time snapshot of one link, emitted on every state
// transition and available on demand.
type Status struct {
    Kind                Kind      `json:"type"`
    State               State     `json:"state"`
    LastHeartbeatSentAt time.Time `json:"last_heartbeat_sent_at"`
    LastHeartbeatAckAt  time.Time `json:"last_heartbeat_ack_at"`
    ConsecutiveFailures int       `json:"consecutive_failures"`
}

// Message is one complete inbound packet: a reassembled TCP frame or a
// single UDP datagram.
type Message struct {
    Kind Kind
    Data []byte
}

// Preference selects how a caller's traffic is routed across the two links.
type Preference int

const (
    // PreferAuto routes to whichever link is currently healthiest,
    // tie-broken TCP first.
    PreferAuto Preference = iota
    // PreferReliability routes TCP first.
    PreferReliability
    // PreferSpeed routes UDP first.
    PreferSpeed
)

func (p Preference) String() string {
    switch p {
    case PreferReliability:
        return "reliability"
    case PreferSpeed:
        return "speed"
    default:
        return "auto"
    }
}

// ParsePreference maps a config string to a Preference; unknown values
// fall back to auto.
func ParsePreference(s string) Preference {
    switch s {
    case "reliability", "tcp":
        return PreferReliability
    case "speed", "udp":
        return PreferSpeed
    default:
        return PreferAuto
    }
}

// ErrNoTransport is returned by Send when no candidate link is connected.
// Reconnection is kicked on the candidates as a side effect; there is no
// implicit queuing, callers retry.
var ErrNoTransport = errors.New("no transport available")

// Options configures a Manager. Zero durations take the defaults below.
type Options struct {
    // Host is the console address shared by both links.
    Host    string
    TCPPort int
    UDPPort int

    // LocalAddress/LocalPort optionally pin the UDP socket's bind point.
    LocalAddress string
    LocalPort    int

    // HeartbeatInterval is the keepalive send period once connected.
    HeartbeatInterval time.Duration
    // ConnectionTimeout bounds both dialing and heartbeat acknowledgment:
    // a link with no acknowledged activity for this long is forced down.
    ConnectionTimeout time.Duration

    Backoff BackoffOptions
    // ReconnectTimeout caps the total duration of one failure streak;
    // once exceeded, retries stop until Send kicks the link again or the
    // manager is rebuilt. Zero means retry forever.
    ReconnectTimeout time.Duration

    // HeartbeatPayload is written as a regular packet on the interval.
    // Empty disables heartbeating.
    HeartbeatPayload []byte
    // HeartbeatMatcher decides whether an inbound packet counts as
    // liveness proof. Nil accepts any inbound data.
    HeartbeatMatcher func([]byte) bool
}

const (
    defaultHeartbeatInterval = 5 * time.Second
    defaultConnectionTimeout = 5 * time.Second
    // maxFrameSize guards the TCP length prefix against garbage; OSC
    // packets from a console are far below this.
    maxFrameSize = 1 << 20
)

func (o *Options) withDefaults() Options {
    out := *o
    if out.HeartbeatInterval <= 0 { out.HeartbeatInterval = defaultHeartbeatInterval }
    if out.ConnectionTimeout <= 0 { out.ConnectionTimeout = defaultConnectionTimeout }
    out.Backoff = out.Backoff.withDefaults()
    return out
}

// SendOptions carries per-call overrides for Manager.Send.
type SendOptions struct {
    // Preference overrides the stored per-tool preference for this call.
    Preference *Preference
    // TargetAddress/TargetPort override the UDP destination.
    TargetAddress string
    TargetPort    int
}
