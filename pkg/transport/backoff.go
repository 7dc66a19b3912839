package transport

import (
    "math"
    "math/rand"
    "time"
)

// BackoffOptions parameterizes the per-link reconnect delay schedule.
type BackoffOptions struct {
    Initial    time.Duration
    Multiplier float64
    Max        time.Duration
    // Jitter is a fraction of the computed delay added at random (0..1).
    Jitter float64
}

func (b BackoffOptions) withDefaults() BackoffOptions {
    if b.Initial <= 0 { b.Initial = 500 * time.Millisecond }
    if b.Multiplier < 1 { b.Multiplier = 2 }
    if b.Max <= 0 { b.Max = 30 * time.Second }
    if b.Jitter < 0 { b.Jitter = 0 }
    return b
}

// delay returns the reconnect delay for the given consecutive failure
// count (1-based): min(initial*multiplier^(n-1), max) plus jitter.
func (b BackoffOptions) delay(failures int) time.Duration {
    if failures < 1 { failures = 1 }
    d := float64(b.Initial) * math.Pow(b.Multiplier, float64(failures-1))
    if d > float64(b.Max) { d = float64(b.Max) }
    if b.Jitter > 0 {
        d += d * b.Jitter * rand.Float64()
    }
    return time.Duration(d)
}
