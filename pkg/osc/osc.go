// Package osc implements the OSC 1.0 binary wire format: messages with an
// address pattern, a type-tag string and typed arguments, plus nested
// bundles sharing a time tag. Encoding is big-endian with 4-byte alignment.
package osc

import (
    "errors"
    "fmt"
)

// ErrMalformed is wrapped by all decode failures.
var ErrMalformed = errors.New("malformed osc packet")

// Arg is a single typed OSC argument. Type holds the one-character
// type tag ("i","f","s","b","h","t","d","T","F","N","I").
type Arg struct {
    Type  string `json:"type"`
    Value any    `json:"value"`
}

// Message is a decoded OSC message.
type Message struct {
    Address string `json:"address"`
    Args    []Arg  `json:"args,omitempty"`
}

// Bundle groups packets under a shared time tag. Elements are Message or
// Bundle values; nesting is allowed per OSC 1.0.
type Bundle struct {
    TimeTag  uint64
    Elements []any
}

// TimeTagImmediate is the reserved "execute now" bundle time tag.
const TimeTagImmediate uint64 = 1

// Argument constructors.

func Int(v int32) Arg      { return Arg{Type: "i", Value: v} }
func Float(v float32) Arg  { return Arg{Type: "f", Value: v} }
func String(v string) Arg  { return Arg{Type: "s", Value: v} }
func Blob(v []byte) Arg    { return Arg{Type: "b", Value: v} }
func Int64(v int64) Arg    { return Arg{Type: "h", Value: v} }
func TimeTag(v uint64) Arg { return Arg{Type: "t", Value: v} }
func Double(v float64) Arg { return Arg{Type: "d", Value: v} }
func Nil() Arg             { return Arg{Type: "N"} }
func Impulse() Arg         { return Arg{Type: "I"} }

// Bool encodes as the OSC T/F payload-less tags.
func Bool(v bool) Arg {
    if v {
        return Arg{Type: "T", Value: true}
    }
    return Arg{Type: "F", Value: false}
}

// FirstArg returns the first argument value, or nil when the message
// carries none.
func (m Message) FirstArg() any {
    if len(m.Args) == 0 { return nil }
    return m.Args[0].Value
}

func malformed(format string, args ...any) error {
    return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// pad4 returns the number of bytes needed to reach 4-byte alignment.
func pad4(n int) int { return (4 - n%4) % 4 }
