package cas

import (
	"github.com/ipfs/go-cid"
)

// Codec knows how to extract the content links embedded in payloads of one
// codec tag. Link extraction drives reachability traversal; it never needs
// to understand the payload beyond finding addresses inside it.
type Codec interface {
	// Code returns the multicodec tag this codec handles.
	Code() uint64

	// ExtractLinks returns every content address embedded in payload. An
	// error means the payload is malformed for this codec; callers treat
	// that as "no links", never as fatal.
	ExtractLinks(payload []byte) ([]cid.Cid, error)
}

// Registry maps codec tags to Codecs.
type Registry struct {
	codecs map[uint64]Codec
}

// NewRegistry creates a Registry holding the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[uint64]Codec)}
	for _, c := range codecs {
		r.codecs[c.Code()] = c
	}
	return r
}

// DefaultRegistry returns a Registry with the raw and DAG-CBOR codecs.
func DefaultRegistry() *Registry {
	return NewRegistry(rawCodec{}, dagCBORCodec{})
}

// ExtractLinks extracts the links of a payload stored under addr. Payloads
// with an unknown codec tag have no extractable links.
func (r *Registry) ExtractLinks(addr cid.Cid, payload []byte) ([]cid.Cid, error) {
	c, ok := r.codecs[addr.Type()]
	if !ok {
		return nil, nil
	}
	return c.ExtractLinks(payload)
}

// rawCodec handles opaque payloads, which carry no links by definition.
type rawCodec struct{}

func (rawCodec) Code() uint64 { return Raw }

func (rawCodec) ExtractLinks(payload []byte) ([]cid.Cid, error) {
	return nil, nil
}
