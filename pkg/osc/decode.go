package osc

import (
    "bytes"
    "encoding/binary"
    "math"
)

var bundlePrefix = []byte("#bundle\x00")

// IsBundle reports whether the raw packet is an OSC bundle.
func IsBundle(data []byte) bool { return bytes.HasPrefix(data, bundlePrefix) }

// Decode parses a raw packet into a Message or a Bundle.
func Decode(data []byte) (any, error) {
    if IsBundle(data) {
        return decodeBundle(data)
    }
    return decodeMessage(data)
}

// Flatten decodes a raw packet and returns its messages in encoded order,
// recursing through nested bundles.
func Flatten(data []byte) ([]Message, error) {
    p, err := Decode(data)
    if err != nil { return nil, err }
    var out []Message
    var walk func(any)
    walk = func(el any) {
        switch v := el.(type) {
        case Message:
            out = append(out, v)
        case Bundle:
            for _, e := range v.Elements { walk(e) }
        }
    }
    walk(p)
    return out, nil
}

func decodeBundle(data []byte) (Bundle, error) {
    r := reader{buf: data}
    r.off = len(bundlePrefix)
    tt, err := r.uint64()
    if err != nil { return Bundle{}, malformed("bundle time tag: %v", err) }
    b := Bundle{TimeTag: tt}
    for r.off < len(r.buf) {
        n, err := r.uint32()
        if err != nil { return Bundle{}, malformed("bundle element size: %v", err) }
        pkt, err := r.take(int(n))
        if err != nil { return Bundle{}, malformed("bundle element truncated (want %d bytes)", n) }
        el, err := Decode(pkt)
        if err != nil { return Bundle{}, err }
        b.Elements = append(b.Elements, el)
    }
    return b, nil
}

func decodeMessage(data []byte) (Message, error) {
    r := reader{buf: data}
    addr, err := r.paddedString()
    if err != nil { return Message{}, malformed("address: %v", err) }
    if len(addr) == 0 || addr[0] != '/' {
        return Message{}, malformed("address %q does not start with '/'", addr)
    }
    m := Message{Address: addr}
    if r.off >= len(r.buf) {
        // no type tag string at all; tolerated as a bare address
        return m, nil
    }
    tags, err := r.paddedString()
    if err != nil { return Message{}, malformed("type tags: %v", err) }
    if len(tags) == 0 || tags[0] != ',' {
        return Message{}, malformed("type tag string %q does not start with ','", tags)
    }
    for _, t := range tags[1:] {
        a, err := r.arg(byte(t))
        if err != nil { return Message{}, err }
        m.Args = append(m.Args, a)
    }
    return m, nil
}

// reader is a bounds-checked cursor over a raw packet.
type reader struct {
    buf []byte
    off int
}

func (r *reader) take(n int) ([]byte, error) {
    if n < 0 || r.off+n > len(r.buf) {
        return nil, malformed("truncated packet at offset %d (need %d bytes)", r.off, n)
    }
    b := r.buf[r.off : r.off+n]
    r.off += n
    return b, nil
}

func (r *reader) uint32() (uint32, error) {
    b, err := r.take(4)
    if err != nil { return 0, err }
    return binary.BigEndian.Uint32(b), nil
}

func (r *reader) uint64() (uint64, error) {
    b, err := r.take(8)
    if err != nil { return 0, err }
    return binary.BigEndian.Uint64(b), nil
}

func (r *reader) paddedString() (string, error) {
    i := bytes.IndexByte(r.buf[r.off:], 0)
    if i < 0 {
        return "", malformed("unterminated string at offset %d", r.off)
    }
    s := string(r.buf[r.off : r.off+i])
    adv := i + 1
    adv += pad4(adv)
    if r.off+adv > len(r.buf) {
        // padding may be clipped at the end of the packet
        adv = len(r.buf) - r.off
    }
    r.off += adv
    return s, nil
}

func (r *reader) arg(tag byte) (Arg, error) {
    switch tag {
    case 'i':
        v, err := r.uint32()
        if err != nil { return Arg{}, err }
        return Int(int32(v)), nil
    case 'f':
        v, err := r.uint32()
        if err != nil { return Arg{}, err }
        return Float(math.Float32frombits(v)), nil
    case 's', 'S':
        v, err := r.paddedString()
        if err != nil { return Arg{}, err }
        return String(v), nil
    case 'b':
        n, err := r.uint32()
        if err != nil { return Arg{}, err }
        b, err := r.take(int(n))
        if err != nil { return Arg{}, err }
        if _, err := r.take(pad4(int(n))); err != nil { return Arg{}, err }
        return Blob(append([]byte(nil), b...)), nil
    case 'h':
        v, err := r.uint64()
        if err != nil { return Arg{}, err }
        return Int64(int64(v)), nil
    case 't':
        v, err := r.uint64()
        if err != nil { return Arg{}, err }
        return TimeTag(v), nil
    case 'd':
        v, err := r.uint64()
        if err != nil { return Arg{}, err }
        return Double(math.Float64frombits(v)), nil
    case 'T':
        return Bool(true), nil
    case 'F':
        return Bool(false), nil
    case 'N':
        return Nil(), nil
    case 'I':
        return Impulse(), nil
    default:
        return Arg{}, malformed("unknown type tag %q", string(tag))
    }
}
