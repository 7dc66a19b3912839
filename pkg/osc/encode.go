package osc

import (
    "encoding/binary"
    "fmt"
    "math"
    "strings"
)

// Encode serializes a single OSC message: padded address, ","+type tags
// padded, then argument payloads in order.
func Encode(m Message) ([]byte, error) {
    if !strings.HasPrefix(m.Address, "/") {
        return nil, fmt.Errorf("osc address must start with '/': %q", m.Address)
    }
    out := appendPaddedString(nil, m.Address)

    tags := make([]byte, 0, len(m.Args)+1)
    tags = append(tags, ',')
    for _, a := range m.Args {
        if len(a.Type) != 1 {
            return nil, fmt.Errorf("invalid osc type tag %q", a.Type)
        }
        tags = append(tags, a.Type[0])
    }
    out = appendPaddedString(out, string(tags))

    for _, a := range m.Args {
        var err error
        out, err = appendArg(out, a)
        if err != nil { return nil, err }
    }
    return out, nil
}

// EncodeBundle serializes a bundle: "#bundle\0", 8-byte time tag, then each
// element as a size-prefixed encoded packet. A zero time tag is promoted to
// the immediate tag.
func EncodeBundle(b Bundle) ([]byte, error) {
    tt := b.TimeTag
    if tt == 0 { tt = TimeTagImmediate }
    out := append([]byte(nil), bundlePrefix...)
    out = binary.BigEndian.AppendUint64(out, tt)
    for i, el := range b.Elements {
        var pkt []byte
        var err error
        switch v := el.(type) {
        case Message:
            pkt, err = Encode(v)
        case Bundle:
            pkt, err = EncodeBundle(v)
        default:
            return nil, fmt.Errorf("bundle element %d: unsupported type %T", i, el)
        }
        if err != nil { return nil, err }
        out = binary.BigEndian.AppendUint32(out, uint32(len(pkt)))
        out = append(out, pkt...)
    }
    return out, nil
}

func appendArg(out []byte, a Arg) ([]byte, error) {
    switch a.Type {
    case "i":
        v, ok := a.Value.(int32)
        if !ok { return nil, typeErr(a) }
        return binary.BigEndian.AppendUint32(out, uint32(v)), nil
    case "f":
        v, ok := a.Value.(float32)
        if !ok { return nil, typeErr(a) }
        return binary.BigEndian.AppendUint32(out, math.Float32bits(v)), nil
    case "s":
        v, ok := a.Value.(string)
        if !ok { return nil, typeErr(a) }
        return appendPaddedString(out, v), nil
    case "b":
        v, ok := a.Value.([]byte)
        if !ok { return nil, typeErr(a) }
        out = binary.BigEndian.AppendUint32(out, uint32(len(v)))
        out = append(out, v...)
        return append(out, make([]byte, pad4(len(v)))...), nil
    case "h":
        v, ok := a.Value.(int64)
        if !ok { return nil, typeErr(a) }
        return binary.BigEndian.AppendUint64(out, uint64(v)), nil
    case "t":
        v, ok := a.Value.(uint64)
        if !ok { return nil, typeErr(a) }
        return binary.BigEndian.AppendUint64(out, v), nil
    case "d":
        v, ok := a.Value.(float64)
        if !ok { return nil, typeErr(a) }
        return binary.BigEndian.AppendUint64(out, math.Float64bits(v)), nil
    case "T", "F", "N", "I":
        // payload-less tags
        return out, nil
    default:
        return nil, fmt.Errorf("unsupported osc type tag %q", a.Type)
    }
}

func typeErr(a Arg) error {
    return fmt.Errorf("osc arg tag %q: incompatible value %T", a.Type, a.Value)
}

// appendPaddedString appends s, a NUL terminator and zero padding to the
// next 4-byte boundary.
func appendPaddedString(out []byte, s string) []byte {
    out = append(out, s...)
    out = append(out, 0)
    return append(out, make([]byte, pad4(len(s)+1))...)
}
