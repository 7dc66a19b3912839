package transport

import (
    "testing"
    "time"
)

func TestBackoffScheduleMonotonic(t *testing.T) {
    b := BackoffOptions{Initial: 100 * time.Millisecond, Multiplier: 2, Max: 2 * time.Second}.withDefaults()
    want := []time.Duration{
        100 * time.Millisecond,
        200 * time.Millisecond,
        400 * time.Millisecond,
        800 * time.Millisecond,
        1600 * time.Millisecond,
        2 * time.Second,
        2 * time.Second,
    }
    prev := time.Duration(0)
    for i, w := range want {
        got := b.delay(i + 1)
        if got != w {
            t.Fatalf("delay(%d) = %v, want %v", i+1, got, w)
        }
        if got < prev {
            t.Fatalf("delay(%d) = %v decreased below %v", i+1, got, prev)
        }
        prev = got
    }
}

func TestBackoffJitterBounds(t *testing.T) {
    b := BackoffOptions{Initial: 100 * time.Millisecond, Multiplier: 2, Max: time.Second, Jitter: 0.5}.withDefaults()
    for i := 0; i < 200; i++ {
        d := b.delay(3) // base 400ms
        if d < 400*time.Millisecond || d > 600*time.Millisecond {
            t.Fatalf("jittered delay %v outside [400ms, 600ms]", d)
        }
    }
}

func TestBackoffDefaults(t *testing.T) {
    b := BackoffOptions{}.withDefaults()
    if b.Initial <= 0 || b.Max <= 0 || b.Multiplier < 1 {
        t.Fatalf("defaults not applied: %+v", b)
    }
    if d := b.delay(0); d != b.Initial {
        t.Fatalf("delay(0) = %v, want initial %v", d, b.Initial)
    }
}
