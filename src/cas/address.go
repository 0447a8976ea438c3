package cas

import (
	"bytes"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Codec tags recognised by the default registry. The values follow the
// multicodec table so that addresses produced here are interoperable with
// other content-addressed systems.
const (
	// Raw names an opaque byte payload with no embedded links.
	Raw = cid.Raw

	// DagCBOR names a CBOR payload in which links are encoded as tag 42
	// data items.
	DagCBOR = cid.DagCBOR
)

// Sum computes the content address of payload under the given codec tag.
// The digest is a sha2-256 multihash.
func Sum(codec uint64, payload []byte) (cid.Cid, error) {
	h, err := mh.Sum(payload, mh.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(codec, h), nil
}

// Verify reports whether payload hashes to the digest carried by addr, using
// the hash function named in the address itself. It is called on every
// insert and on every exchange receipt; a payload is never trusted on input.
func Verify(addr cid.Cid, payload []byte) bool {
	if !addr.Defined() {
		return false
	}
	dec, err := mh.Decode(addr.Hash())
	if err != nil {
		return false
	}
	h, err := mh.Sum(payload, dec.Code, dec.Length)
	if err != nil {
		return false
	}
	return bytes.Equal(h, addr.Hash())
}
