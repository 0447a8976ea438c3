package cas

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
)

func TestSumDeterministic(t *testing.T) {
	a1, err := Sum(Raw, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}

	a2, err := Sum(Raw, []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}

	if !a1.Equals(a2) {
		t.Fatalf("addresses differ: %s vs %s", a1, a2)
	}

	a3, err := Sum(Raw, []byte("world"))
	if err != nil {
		t.Fatal(err)
	}

	if a1.Equals(a3) {
		t.Fatalf("distinct payloads produced the same address %s", a1)
	}
}

func TestSumCodecTag(t *testing.T) {
	raw, _ := Sum(Raw, []byte("x"))
	dag, _ := Sum(DagCBOR, []byte("x"))

	if raw.Type() != Raw {
		t.Fatalf("expected codec %d, got %d", Raw, raw.Type())
	}
	if dag.Type() != DagCBOR {
		t.Fatalf("expected codec %d, got %d", DagCBOR, dag.Type())
	}
	if raw.Equals(dag) {
		t.Fatal("codec tag should be part of the address")
	}
}

func TestVerify(t *testing.T) {
	payload := []byte("some payload")

	addr, err := Sum(Raw, payload)
	if err != nil {
		t.Fatal(err)
	}

	if !Verify(addr, payload) {
		t.Fatal("payload should verify against its own address")
	}
	if Verify(addr, []byte("some other payload")) {
		t.Fatal("mismatched payload should not verify")
	}
	if Verify(cid.Undef, payload) {
		t.Fatal("undefined address should never verify")
	}
}

func TestNewBlock(t *testing.T) {
	payload := []byte("block payload")

	b, err := NewBlock(Raw, payload)
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(b.Payload, payload) {
		t.Fatal("payload was not preserved")
	}
	if !Verify(b.Address, b.Payload) {
		t.Fatal("computed address does not match payload")
	}
}

func TestNewVerifiedBlock(t *testing.T) {
	payload := []byte("verified payload")
	addr, _ := Sum(Raw, payload)

	b, err := NewVerifiedBlock(addr, payload)
	if err != nil {
		t.Fatal(err)
	}
	if !b.Address.Equals(addr) {
		t.Fatalf("address changed: %s vs %s", b.Address, addr)
	}

	other, _ := Sum(Raw, []byte("not the payload"))
	if _, err := NewVerifiedBlock(other, payload); err == nil {
		t.Fatal("expected verification failure")
	}
}

func TestRawCodecHasNoLinks(t *testing.T) {
	reg := DefaultRegistry()

	addr, _ := Sum(Raw, []byte("raw bytes"))
	links, err := reg.ExtractLinks(addr, []byte("raw bytes"))
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Fatalf("raw payloads carry no links, got %v", links)
	}
}

func TestUnknownCodecHasNoLinks(t *testing.T) {
	reg := DefaultRegistry()

	// dag-pb is not registered by default
	addr, _ := Sum(0x70, []byte("whatever"))
	links, err := reg.ExtractLinks(addr, []byte("whatever"))
	if err != nil {
		t.Fatal(err)
	}
	if links != nil {
		t.Fatalf("unknown codec should yield no links, got %v", links)
	}
}

func TestDagCBORRoundTrip(t *testing.T) {
	l1, _ := Sum(Raw, []byte("leaf one"))
	l2, _ := Sum(Raw, []byte("leaf two"))

	payload, err := EncodeNode([]byte("branch"), []cid.Cid{l1, l2})
	if err != nil {
		t.Fatal(err)
	}

	reg := DefaultRegistry()
	addr, _ := Sum(DagCBOR, payload)

	links, err := reg.ExtractLinks(addr, payload)
	if err != nil {
		t.Fatal(err)
	}

	if !reflect.DeepEqual(links, []cid.Cid{l1, l2}) {
		t.Fatalf("expected links [%s %s], got %v", l1, l2, links)
	}
}

func TestDagCBORMalformed(t *testing.T) {
	reg := DefaultRegistry()
	addr, _ := Sum(DagCBOR, []byte{0xff, 0x00, 0x12})

	if _, err := reg.ExtractLinks(addr, []byte{0xff, 0x00, 0x12}); err == nil {
		t.Fatal("expected an error for a payload that is not CBOR")
	}
}

func TestDagCBORSkipsBadLinks(t *testing.T) {
	// a tag-42 item whose content is garbage must be skipped, not fatal
	payload, err := cbor.Marshal([]interface{}{
		cbor.Tag{Number: linkTag, Content: []byte{1, 2, 3}},
		"unrelated",
	})
	if err != nil {
		t.Fatal(err)
	}

	reg := DefaultRegistry()
	addr, _ := Sum(DagCBOR, payload)

	links, err := reg.ExtractLinks(addr, payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 0 {
		t.Fatalf("expected no links, got %v", links)
	}
}
