package store

import (
	"github.com/ipfs/go-cid"

	"github.com/meshnetworks/hoard/src/cas"
)

// Alias is a named protection root. While an alias exists, its target and
// everything reachable from it survive garbage collection.
type Alias struct {
	Name   string
	Target cid.Cid
}

// Store is the retention layer: content-addressed block storage plus the
// alias registry that anchors the protection graph. Implementations must
// make Put, PutBlock and DeleteMany atomic with respect to readers; a
// reader never observes a block whose bytes do not hash to its address.
type Store interface {
	// Put computes the address of payload under the given codec tag and
	// inserts it. Inserting a payload that is already present is a no-op
	// returning the existing address.
	Put(codec uint64, payload []byte) (cid.Cid, error)

	// PutBlock inserts an already-addressed block, typically an exchange
	// receipt that has been verified upstream. Same idempotence as Put.
	PutBlock(block *cas.Block) error

	// Get returns the block stored under addr, or a KeyNotFound StoreErr.
	Get(addr cid.Cid) (*cas.Block, error)

	// Has reports whether a block is stored under addr.
	Has(addr cid.Cid) (bool, error)

	// DeleteMany removes the given addresses. It is used exclusively by
	// the garbage collector.
	DeleteMany(addrs []cid.Cid) error

	// Addresses returns every stored address. It is used by the garbage
	// collector to compute sweep candidates.
	Addresses() ([]cid.Cid, error)

	// Pin upserts an alias. Overwriting an existing name does not delete
	// the old target's data; it merely removes it from protection.
	Pin(name string, target cid.Cid) error

	// Unpin removes an alias, or returns an AliasNotFound StoreErr. It has
	// no immediate effect on stored data.
	Unpin(name string) error

	// Aliases lists all aliases.
	Aliases() ([]Alias, error)

	// Resolve returns the target of the named alias, or an AliasNotFound
	// StoreErr.
	Resolve(name string) (cid.Cid, error)

	// Close releases the underlying resources.
	Close() error
}
