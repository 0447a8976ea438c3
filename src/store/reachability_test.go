package store

import (
	"testing"

	"github.com/ipfs/go-cid"

	"github.com/meshnetworks/hoard/src/cas"
)

//putNode stores a dag-cbor node linking to children and returns its address.
func putNode(store Store, data string, children []cid.Cid, t *testing.T) cid.Cid {
	payload, err := cas.EncodeNode([]byte(data), children)
	if err != nil {
		t.Fatal(err)
	}
	addr, err := store.Put(cas.DagCBOR, payload)
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func putLeaf(store Store, data string, t *testing.T) cid.Cid {
	addr, err := store.Put(cas.Raw, []byte(data))
	if err != nil {
		t.Fatal(err)
	}
	return addr
}

func TestLiveSet(t *testing.T) {
	store := NewInmemStore()
	tracker := NewTracker(store, cas.DefaultRegistry())

	leaf1 := putLeaf(store, "leaf1", t)
	leaf2 := putLeaf(store, "leaf2", t)
	mid := putNode(store, "mid", []cid.Cid{leaf1, leaf2}, t)
	root := putNode(store, "root", []cid.Cid{mid}, t)
	orphan := putLeaf(store, "orphan", t)

	live, missing, err := tracker.LiveSet([]cid.Cid{root})
	if err != nil {
		t.Fatal(err)
	}

	if len(missing) != 0 {
		t.Fatalf("Missing should be empty, not %v", missing)
	}
	if len(live) != 4 {
		t.Fatalf("Live set should contain 4 addresses, not %d", len(live))
	}
	for _, addr := range []cid.Cid{root, mid, leaf1, leaf2} {
		if !live[addr] {
			t.Fatalf("Live set should contain %s", addr)
		}
	}
	if live[orphan] {
		t.Fatalf("Live set should not contain the orphan %s", orphan)
	}
}

func TestLiveSetSharedChild(t *testing.T) {
	store := NewInmemStore()
	tracker := NewTracker(store, cas.DefaultRegistry())

	shared := putLeaf(store, "shared", t)
	parent1 := putNode(store, "parent1", []cid.Cid{shared}, t)
	parent2 := putNode(store, "parent2", []cid.Cid{shared}, t)

	live, _, err := tracker.LiveSet([]cid.Cid{parent1, parent2})
	if err != nil {
		t.Fatal(err)
	}

	if len(live) != 3 {
		t.Fatalf("Live set should contain 3 addresses, not %d", len(live))
	}
	if !live[shared] {
		t.Fatalf("Live set should contain the shared child %s", shared)
	}
}

func TestLiveSetMissingLink(t *testing.T) {
	store := NewInmemStore()
	tracker := NewTracker(store, cas.DefaultRegistry())

	absent, _ := cas.Sum(cas.Raw, []byte("never stored"))
	root := putNode(store, "root", []cid.Cid{absent}, t)

	live, missing, err := tracker.LiveSet([]cid.Cid{root})
	if err != nil {
		t.Fatal(err)
	}

	if !live[absent] {
		t.Fatalf("A missing link is still reachable, live set should contain %s", absent)
	}
	if len(missing) != 1 || !missing[0].Equals(absent) {
		t.Fatalf("Missing should be [%s], not %v", absent, missing)
	}
}

func TestClosureFromAliases(t *testing.T) {
	store := NewInmemStore()
	tracker := NewTracker(store, cas.DefaultRegistry())

	leaf := putLeaf(store, "leaf", t)
	root := putNode(store, "root", []cid.Cid{leaf}, t)
	extra := putLeaf(store, "extra", t)
	orphan := putLeaf(store, "orphan", t)

	if err := store.Pin("root", root); err != nil {
		t.Fatal(err)
	}

	live, _, err := tracker.Closure([]cid.Cid{extra})
	if err != nil {
		t.Fatal(err)
	}

	if len(live) != 3 {
		t.Fatalf("Live set should contain 3 addresses, not %d", len(live))
	}
	if !live[root] || !live[leaf] || !live[extra] {
		t.Fatalf("Live set %v should contain root, leaf and extra", live)
	}
	if live[orphan] {
		t.Fatalf("Live set should not contain the orphan %s", orphan)
	}
}

func TestLiveSetSelfReference(t *testing.T) {
	store := NewInmemStore()
	tracker := NewTracker(store, cas.DefaultRegistry())

	// A payload cannot normally link to its own address, but a malformed
	// store entry could claim to. Traversal must still terminate.
	addr, err := cas.Sum(cas.DagCBOR, []byte("placeholder"))
	if err != nil {
		t.Fatal(err)
	}
	payload, err := cas.EncodeNode([]byte("self"), []cid.Cid{addr})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutBlock(&cas.Block{Address: addr, Payload: payload}); err != nil {
		t.Fatal(err)
	}

	live, _, err := tracker.LiveSet([]cid.Cid{addr})
	if err != nil {
		t.Fatal(err)
	}
	if len(live) != 1 || !live[addr] {
		t.Fatalf("Live set should contain only the self-referencing block, got %v", live)
	}
}

func TestLiveSetMalformedPayload(t *testing.T) {
	store := NewInmemStore()
	tracker := NewTracker(store, cas.DefaultRegistry())

	// Stored under the dag-cbor codec but not valid CBOR. It must be treated
	// as a leaf, not as a traversal failure.
	junk, err := store.Put(cas.DagCBOR, []byte("\xff\xff not cbor"))
	if err != nil {
		t.Fatal(err)
	}
	root := putNode(store, "root", []cid.Cid{junk}, t)

	live, missing, err := tracker.LiveSet([]cid.Cid{root})
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Fatalf("Missing should be empty, not %v", missing)
	}
	if len(live) != 2 || !live[root] || !live[junk] {
		t.Fatalf("Live set should contain the root and the malformed leaf, got %v", live)
	}
}
