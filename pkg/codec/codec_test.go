package codec

import (
    "reflect"
    "testing"
)

type sample struct {
    Name  string `json:"name" cbor:"name"`
    Count int    `json:"count" cbor:"count"`
}

func TestRegistryLookup(t *testing.T) {
    r := NewRegistry()
    if _, err := r.Get(ContentJSON); err != nil {
        t.Fatalf("json codec missing: %v", err)
    }
    if _, err := r.Get(ContentCBOR); err == nil {
        t.Fatalf("cbor must not be preloaded")
    }
    c, err := CBOR()
    if err != nil {
        t.Fatalf("cbor: %v", err)
    }
    r.Register(c)
    if _, err := r.Get(ContentCBOR); err != nil {
        t.Fatalf("cbor lookup after register: %v", err)
    }
    if _, err := r.Get("text/xml"); err == nil {
        t.Fatalf("unknown content type must fail")
    }
}

func TestRoundTrip(t *testing.T) {
    r := NewRegistry()
    c, err := CBOR()
    if err != nil {
        t.Fatalf("cbor: %v", err)
    }
    r.Register(c)

    in := sample{Name: "eos", Count: 42}
    for _, ct := range []string{ContentJSON, ContentCBOR} {
        codec, err := r.Get(ct)
        if err != nil {
            t.Fatalf("%s: %v", ct, err)
        }
        raw, err := codec.Marshal(in)
        if err != nil {
            t.Fatalf("%s marshal: %v", ct, err)
        }
        var out sample
        if err := codec.Unmarshal(raw, &out); err != nil {
            t.Fatalf("%s unmarshal: %v", ct, err)
        }
        if !reflect.DeepEqual(in, out) {
            t.Fatalf("%s round trip: got %+v, want %+v", ct, out, in)
        }
    }
}

func TestCBORDeterministic(t *testing.T) {
    c, err := CBOR()
    if err != nil {
        t.Fatalf("cbor: %v", err)
    }
    in := map[string]int{"b": 2, "a": 1, "c": 3}
    first, err := c.Marshal(in)
    if err != nil {
        t.Fatalf("marshal: %v", err)
    }
    for i := 0; i < 5; i++ {
        again, err := c.Marshal(in)
        if err != nil {
            t.Fatalf("marshal: %v", err)
        }
        if string(again) != string(first) {
            t.Fatalf("canonical encoding not stable")
        }
    }
}
