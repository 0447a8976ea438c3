package peers

import (
	"sort"
	"strings"
)

// PeerSet is a collection of peers indexed by network address and public key.
type PeerSet struct {
	Peers     []*Peer          `json:"peers"`
	ByNetAddr map[string]*Peer `json:"-"`
	ByPubKey  map[string]*Peer `json:"-"`
}

// NewPeerSet creates a new PeerSet from a list of Peers, sorted by public
// key.
func NewPeerSet(peers []*Peer) *PeerSet {
	sorted := make([]*Peer, len(peers))
	copy(sorted, peers)
	sort.Sort(byPubHex(sorted))

	peerSet := &PeerSet{
		Peers:     sorted,
		ByNetAddr: make(map[string]*Peer),
		ByPubKey:  make(map[string]*Peer),
	}

	for _, peer := range sorted {
		peerSet.ByNetAddr[peer.NetAddr] = peer
		peerSet.ByPubKey[peer.PubKeyHex] = peer
	}

	return peerSet
}

// WithNewPeer returns a new PeerSet that includes peer. It has no effect if
// the peer's public key is already present.
func (p *PeerSet) WithNewPeer(peer *Peer) *PeerSet {
	if _, ok := p.ByPubKey[peer.PubKeyHex]; ok {
		return p
	}
	return NewPeerSet(append(p.Peers, peer))
}

// WithoutPeer returns a new PeerSet that excludes the peer with the given
// public key.
func (p *PeerSet) WithoutPeer(pubKeyHex string) *PeerSet {
	peers := []*Peer{}
	for _, peer := range p.Peers {
		if peer.PubKeyHex != pubKeyHex {
			peers = append(peers, peer)
		}
	}
	return NewPeerSet(peers)
}

// NetAddrs returns the network addresses of all peers, in public key order.
func (p *PeerSet) NetAddrs() []string {
	res := []string{}
	for _, peer := range p.Peers {
		res = append(res, peer.NetAddr)
	}
	return res
}

// Len returns the number of peers.
func (p *PeerSet) Len() int {
	return len(p.Peers)
}

// byPubHex implements sort.Interface for []*Peer based on the PubKeyHex
// field.
type byPubHex []*Peer

func (a byPubHex) Len() int      { return len(a) }
func (a byPubHex) Swap(i, j int) { a[i], a[j] = a[j], a[i] }
func (a byPubHex) Less(i, j int) bool {
	return strings.Compare(a[i].PubKeyHex, a[j].PubKeyHex) < 0
}
