// Package codec provides content-type keyed marshaling for diagnostics
// snapshots and other structured exports.
package codec

import (
    "encoding/json"
    "fmt"
)

// Content type aliases.
const (
    ContentJSON = "application/json"
    ContentCBOR = "application/cbor"
)

// Codec defines a simple interface for marshaling typed values.
// Implementations should be deterministic.
type Codec interface {
    ContentType() string
    Marshal(v any) ([]byte, error)
    Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with the JSON codec.
// CBOR is added explicitly via Register(CBOR()).
func NewRegistry() *Registry {
    r := &Registry{byType: make(map[string]Codec)}
    r.Register(JSON())
    return r
}

// Register adds a codec.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns the codec for a content type.
func (r *Registry) Get(contentType string) (Codec, error) {
    c, ok := r.byType[contentType]
    if !ok {
        return nil, fmt.Errorf("no codec registered for %q", contentType)
    }
    return c, nil
}

type jsonCodec struct{}

// JSON returns the stdlib JSON codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) ContentType() string { return ContentJSON }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
