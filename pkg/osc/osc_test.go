package osc

import (
    "bytes"
    "errors"
    "math"
    "reflect"
    "testing"
)

func TestEncodeNoArgs(t *testing.T) {
    got, err := Encode(Message{Address: "/eos/ping"})
    if err != nil {
        t.Fatalf("encode: %v", err)
    }
    want := []byte("/eos/ping\x00\x00\x00,\x00\x00\x00")
    if !bytes.Equal(got, want) {
        t.Fatalf("encoded = %q, want %q", got, want)
    }
}

func TestEncodeStringPadding(t *testing.T) {
    // address and string argument lengths chosen to exercise every pad width
    for _, s := range []string{"", "a", "ab", "abc", "abcd"} {
        got, err := Encode(Message{Address: "/x", Args: []Arg{String(s)}})
        if err != nil {
            t.Fatalf("encode %q: %v", s, err)
        }
        if len(got)%4 != 0 {
            t.Fatalf("packet for %q not 4-aligned: %d bytes", s, len(got))
        }
    }
}

func TestRoundTripAllTypes(t *testing.T) {
    in := Message{
        Address: "/eos/out/everything",
        Args: []Arg{
            Int(-7),
            Float(1.5),
            String("chan 1"),
            Blob([]byte{0xde, 0xad, 0xbe}),
            Int64(-1 << 40),
            TimeTag(0x123456789abcdef0),
            Double(math.Pi),
            Bool(true),
            Bool(false),
            Nil(),
            Impulse(),
        },
    }
    raw, err := Encode(in)
    if err != nil {
        t.Fatalf("encode: %v", err)
    }
    out, err := Decode(raw)
    if err != nil {
        t.Fatalf("decode: %v", err)
    }
    got, ok := out.(Message)
    if !ok {
        t.Fatalf("decoded %T, want Message", out)
    }
    if !reflect.DeepEqual(got, in) {
        t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, in)
    }
}

func TestDecodeBareAddress(t *testing.T) {
    // some senders omit the type tag string entirely
    out, err := Decode([]byte("/eos/out/ping\x00\x00\x00"))
    if err != nil {
        t.Fatalf("decode: %v", err)
    }
    m := out.(Message)
    if m.Address != "/eos/out/ping" || len(m.Args) != 0 {
        t.Fatalf("got %#v", m)
    }
}

func TestBundleFlattenOrder(t *testing.T) {
    b := Bundle{
        TimeTag: TimeTagImmediate,
        Elements: []any{
            Message{Address: "/a", Args: []Arg{Int(1)}},
            Bundle{
                TimeTag: TimeTagImmediate,
                Elements: []any{
                    Message{Address: "/b"},
                    Message{Address: "/c", Args: []Arg{String("x")}},
                },
            },
            Message{Address: "/d"},
        },
    }
    raw, err := EncodeBundle(b)
    if err != nil {
        t.Fatalf("encode bundle: %v", err)
    }
    if !IsBundle(raw) {
        t.Fatalf("IsBundle false for encoded bundle")
    }
    msgs, err := Flatten(raw)
    if err != nil {
        t.Fatalf("flatten: %v", err)
    }
    var addrs []string
    for _, m := range msgs {
        addrs = append(addrs, m.Address)
    }
    want := []string{"/a", "/b", "/c", "/d"}
    if !reflect.DeepEqual(addrs, want) {
        t.Fatalf("flatten order = %v, want %v", addrs, want)
    }
}

func TestFlattenPlainMessage(t *testing.T) {
    raw, err := Encode(Message{Address: "/solo"})
    if err != nil {
        t.Fatalf("encode: %v", err)
    }
    msgs, err := Flatten(raw)
    if err != nil {
        t.Fatalf("flatten: %v", err)
    }
    if len(msgs) != 1 || msgs[0].Address != "/solo" {
        t.Fatalf("got %#v", msgs)
    }
}

func TestEncodeBundleZeroTimeTag(t *testing.T) {
    raw, err := EncodeBundle(Bundle{Elements: []any{Message{Address: "/a"}}})
    if err != nil {
        t.Fatalf("encode: %v", err)
    }
    b, err := Decode(raw)
    if err != nil {
        t.Fatalf("decode: %v", err)
    }
    if got := b.(Bundle).TimeTag; got != TimeTagImmediate {
        t.Fatalf("time tag = %d, want immediate", got)
    }
}

func TestEncodeRejectsBadAddress(t *testing.T) {
    if _, err := Encode(Message{Address: "no-slash"}); err == nil {
        t.Fatalf("expected error for address without leading slash")
    }
}

func TestEncodeRejectsMismatchedArgValue(t *testing.T) {
    if _, err := Encode(Message{Address: "/x", Args: []Arg{{Type: "i", Value: "nope"}}}); err == nil {
        t.Fatalf("expected error for int tag with string value")
    }
}

func TestDecodeMalformed(t *testing.T) {
    cases := map[string][]byte{
        "empty":             {},
        "no leading slash":  []byte("oops\x00\x00\x00\x00"),
        "unterminated":      []byte("/abc"),
        "bad tag prefix":    []byte("/a\x00\x00abc\x00"),
        "truncated int arg": []byte("/a\x00\x00,i\x00\x00\x01"),
        "unknown tag":       []byte("/a\x00\x00,z\x00\x00\x00\x00\x00\x00"),
        "truncated bundle":  append(append([]byte("#bundle\x00"), make([]byte, 8)...), 0, 0, 0, 9),
    }
    for name, raw := range cases {
        if _, err := Decode(raw); !errors.Is(err, ErrMalformed) {
            t.Fatalf("%s: err = %v, want ErrMalformed", name, err)
        }
    }
}

func TestFirstArg(t *testing.T) {
    if v := (Message{}).FirstArg(); v != nil {
        t.Fatalf("empty message FirstArg = %v", v)
    }
    m := Message{Address: "/x", Args: []Arg{Int(9), String("later")}}
    if v := m.FirstArg(); v != int32(9) {
        t.Fatalf("FirstArg = %v", v)
    }
}
