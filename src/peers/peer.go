// Package peers defines the concept of a hoard peer and implements functions
// to manage collections of peers.
//
// A peer is an entity that operates a hoard node. Peers are identified by
// their public keys, and optionally a moniker which is a non-unique
// user-friendly name. A peer should also specify an IP address and port where
// it can be reached by other peers.
//
// Upon starting up, hoard looks for a peers.json file in its data directory.
// The file lists the peers that the node attempts to connect to on startup;
// it may be absent or empty, in which case the node starts alone and serves
// only inbound connections.
package peers

import (
	"encoding/hex"

	"github.com/meshnetworks/hoard/src/common"
)

// Peer is a participant in the block exchange.
type Peer struct {
	NetAddr   string
	PubKeyHex string
	Moniker   string

	id uint32
}

// NewPeer instantiates a Peer.
func NewPeer(pubKeyHex, netAddr, moniker string) *Peer {
	peer := &Peer{
		PubKeyHex: pubKeyHex,
		NetAddr:   netAddr,
		Moniker:   moniker,
	}

	return peer
}

// ID returns a composite hash of the peer's public key, computed on first
// use.
func (p *Peer) ID() uint32 {
	if p.id == 0 {
		pubKeyBytes, err := p.PubKeyBytes()
		if err != nil {
			return 0
		}
		p.id = common.Hash32(pubKeyBytes)
	}

	return p.id
}

// PubKeyBytes decodes the hex representation of the public key.
func (p *Peer) PubKeyBytes() ([]byte, error) {
	return hex.DecodeString(p.PubKeyHex[2:])
}
