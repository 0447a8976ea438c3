package cas

import (
	"fmt"

	"github.com/ipfs/go-cid"
)

// Block pairs a payload with the content address that names it. A Block is
// only ever constructed through NewBlock or NewVerifiedBlock, so holding one
// is proof that Address and Payload agree.
type Block struct {
	Address cid.Cid
	Payload []byte
}

// NewBlock creates a Block from an arbitrary payload, computing its address
// under the given codec tag.
func NewBlock(codec uint64, payload []byte) (*Block, error) {
	addr, err := Sum(codec, payload)
	if err != nil {
		return nil, err
	}
	return &Block{Address: addr, Payload: payload}, nil
}

// NewVerifiedBlock creates a Block from a payload and a claimed address,
// typically an exchange receipt. It fails if the payload does not hash to
// the claimed address.
func NewVerifiedBlock(addr cid.Cid, payload []byte) (*Block, error) {
	if !Verify(addr, payload) {
		return nil, fmt.Errorf("payload does not hash to %s", addr)
	}
	return &Block{Address: addr, Payload: payload}, nil
}
