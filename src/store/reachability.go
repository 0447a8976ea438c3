package store

import (
	"github.com/ipfs/go-cid"

	"github.com/meshnetworks/hoard/src/cas"
	cm "github.com/meshnetworks/hoard/src/common"
)

// Tracker computes the set of blocks reachable from the store's aliases by
// following codec-extracted links. The garbage collector uses it to decide
// what survives a sweep.
type Tracker struct {
	store    Store
	registry *cas.Registry
}

// NewTracker instantiates a Tracker over a store and a codec registry.
func NewTracker(store Store, registry *cas.Registry) *Tracker {
	return &Tracker{
		store:    store,
		registry: registry,
	}
}

// LiveSet traverses the block graph from roots and returns every address
// reached, roots included. Links to blocks absent from the store are counted
// as reachable but not followed; missing collects them so callers can report
// or re-fetch them. Cycles are handled with a visited set.
func (t *Tracker) LiveSet(roots []cid.Cid) (live map[cid.Cid]bool, missing []cid.Cid, err error) {
	live = make(map[cid.Cid]bool)
	missing = []cid.Cid{}

	stack := make([]cid.Cid, len(roots))
	copy(stack, roots)

	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if live[addr] {
			continue
		}
		live[addr] = true

		block, err := t.store.Get(addr)
		if err != nil {
			if cm.IsStore(err, cm.KeyNotFound) {
				missing = append(missing, addr)
				continue
			}
			return nil, nil, err
		}

		// A payload that does not parse under its codec is a leaf: it stays
		// live but contributes no links. Failing here would wedge collection
		// for as long as the block is reachable.
		links, err := t.registry.ExtractLinks(block.Address, block.Payload)
		if err != nil {
			continue
		}

		stack = append(stack, links...)
	}

	return live, missing, nil
}

// Closure returns the live set computed from the store's current aliases plus
// any extra roots supplied by the caller.
func (t *Tracker) Closure(extraRoots []cid.Cid) (map[cid.Cid]bool, []cid.Cid, error) {
	aliases, err := t.store.Aliases()
	if err != nil {
		return nil, nil, err
	}

	roots := make([]cid.Cid, 0, len(aliases)+len(extraRoots))
	for _, alias := range aliases {
		roots = append(roots, alias.Target)
	}
	roots = append(roots, extraRoots...)

	return t.LiveSet(roots)
}
