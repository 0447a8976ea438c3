package cas

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
)

// linkTag is the CBOR tag number that marks a content link in DAG-CBOR. The
// tag content is a byte string holding the address bytes behind a single
// zero byte (the identity multibase prefix).
const linkTag = 42

// dagCBORCodec extracts links from DAG-CBOR payloads. Decoding is strict in
// the sense that a payload which is not valid CBOR yields an error, but a
// tag-42 item whose content is not a well-formed address is simply skipped:
// a misbehaving peer must not be able to wedge traversal.
type dagCBORCodec struct{}

func (dagCBORCodec) Code() uint64 { return DagCBOR }

func (dagCBORCodec) ExtractLinks(payload []byte) ([]cid.Cid, error) {
	var v interface{}
	if err := cbor.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("decoding dag-cbor: %v", err)
	}

	var links []cid.Cid
	collectLinks(v, &links)

	return links, nil
}

// collectLinks walks a decoded CBOR value and appends every well-formed
// tag-42 link to links. The walk is iterative over the decoded structure,
// which is finite, so it always terminates.
func collectLinks(v interface{}, links *[]cid.Cid) {
	switch t := v.(type) {
	case cbor.Tag:
		if t.Number == linkTag {
			raw, ok := t.Content.([]byte)
			if ok && len(raw) > 1 && raw[0] == 0 {
				if c, err := cid.Cast(raw[1:]); err == nil {
					*links = append(*links, c)
				}
			}
			return
		}
		collectLinks(t.Content, links)
	case []interface{}:
		for _, e := range t {
			collectLinks(e, links)
		}
	case map[interface{}]interface{}:
		for _, e := range t {
			collectLinks(e, links)
		}
	case map[string]interface{}:
		for _, e := range t {
			collectLinks(e, links)
		}
	}
}

// EncodeNode builds a DAG-CBOR payload holding an opaque data field and a
// list of links. It is the encoding counterpart of ExtractLinks and the
// easiest way to produce linked content for a Put.
func EncodeNode(data []byte, links []cid.Cid) ([]byte, error) {
	tagged := make([]interface{}, len(links))
	for i, l := range links {
		if !l.Defined() {
			return nil, fmt.Errorf("link %d is undefined", i)
		}
		tagged[i] = cbor.Tag{
			Number:  linkTag,
			Content: append([]byte{0}, l.Bytes()...),
		}
	}

	node := map[string]interface{}{
		"data":  data,
		"links": tagged,
	}

	return cbor.Marshal(node)
}
