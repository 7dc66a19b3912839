package gateway

import (
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"

    "eosbridge/pkg/transport"
)

// metrics mirrors the diagnostics counters into Prometheus. The gauge
// tracks each link's state as connected=2/connecting=1/disconnected=0.
type metrics struct {
    messages   *prometheus.CounterVec
    bytes      *prometheus.CounterVec
    reconnects *prometheus.CounterVec
    state      *prometheus.GaugeVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
    f := promauto.With(reg)
    return &metrics{
        messages: f.NewCounterVec(prometheus.CounterOpts{
            Namespace: "eosbridge",
            Name:      "osc_messages_total",
            Help:      "OSC messages processed, by direction.",
        }, []string{"direction"}),
        bytes: f.NewCounterVec(prometheus.CounterOpts{
            Namespace: "eosbridge",
            Name:      "osc_bytes_total",
            Help:      "OSC wire bytes processed, by direction.",
        }, []string{"direction"}),
        reconnects: f.NewCounterVec(prometheus.CounterOpts{
            Namespace: "eosbridge",
            Name:      "transport_reconnects_total",
            Help:      "Times a transport dropped to disconnected.",
        }, []string{"transport"}),
        state: f.NewGaugeVec(prometheus.GaugeOpts{
            Namespace: "eosbridge",
            Name:      "transport_state",
            Help:      "Current transport state (0 down, 1 connecting, 2 up).",
        }, []string{"transport"}),
    }
}

func (m *metrics) observeMessage(d direction) {
    m.messages.WithLabelValues(d.String()).Inc()
}

func (m *metrics) observeBytes(d direction, n int) {
    m.bytes.WithLabelValues(d.String()).Add(float64(n))
}

func (m *metrics) setState(st transport.Status) {
    m.state.WithLabelValues(st.Kind.String()).Set(float64(st.State))
    if st.State == transport.StateDisconnected {
        m.reconnects.WithLabelValues(st.Kind.String()).Inc()
    }
}
