package net

import (
	"crypto/rand"
	"fmt"
	"sync"
)

// NewInmemAddr returns a new in-memory addr with
// a randomly generate UUID as the ID.
func NewInmemAddr() string {
	return generateUUID()
}

// generateUUID is used to generate a random UUID.
func generateUUID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Errorf("failed to read random bytes: %v", err))
	}

	return fmt.Sprintf("%08x-%04x-%04x-%04x-%12x",
		buf[0:4],
		buf[4:6],
		buf[6:8],
		buf[8:10],
		buf[10:16])
}

// InmemNetwork routes messages between InmemTransports, to allow nodes to be
// tested in-memory without going over a network.
type InmemNetwork struct {
	sync.RWMutex
	transports map[string]*InmemTransport
}

// NewInmemNetwork instantiates an empty network.
func NewInmemNetwork() *InmemNetwork {
	return &InmemNetwork{
		transports: make(map[string]*InmemTransport),
	}
}

// NewTransport creates a transport attached to this network and generates a
// random local address if none is specified.
func (n *InmemNetwork) NewTransport(addr string) *InmemTransport {
	if addr == "" {
		addr = NewInmemAddr()
	}

	trans := &InmemTransport{
		network:    n,
		consumerCh: make(chan Envelope, 16),
		eventCh:    make(chan PeerEvent, 16),
		localAddr:  addr,
		peers:      make(map[string]*InmemTransport),
	}

	n.Lock()
	n.transports[addr] = trans
	n.Unlock()

	return trans
}

func (n *InmemNetwork) lookup(addr string) *InmemTransport {
	n.RLock()
	defer n.RUnlock()
	return n.transports[addr]
}

// InmemTransport implements the Transport interface for tests. Connections
// are symmetric: connecting A to B also connects B to A, and both sides see
// the corresponding peer events.
type InmemTransport struct {
	sync.RWMutex
	network    *InmemNetwork
	consumerCh chan Envelope
	eventCh    chan PeerEvent
	localAddr  string
	peers      map[string]*InmemTransport
}

// Listen implements the Transport interface. There is no need to defer
// initialisation of the InmemTransport so it returns immediately.
func (i *InmemTransport) Listen() {
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan Envelope {
	return i.consumerCh
}

// Events implements the Transport interface.
func (i *InmemTransport) Events() <-chan PeerEvent {
	return i.eventCh
}

// LocalAddr implements the Transport interface.
func (i *InmemTransport) LocalAddr() string {
	return i.localAddr
}

// AdvertiseAddr implements the Transport interface.
func (i *InmemTransport) AdvertiseAddr() string {
	return i.localAddr
}

// Send implements the Transport interface.
func (i *InmemTransport) Send(target string, msg *Message) error {
	i.RLock()
	peer, ok := i.peers[target]
	i.RUnlock()

	if !ok {
		return ErrPeerNotConnected
	}

	peer.consumerCh <- Envelope{From: i.localAddr, Message: *msg}
	return nil
}

// Connect implements the Transport interface. Both sides are linked and both
// receive a PeerConnected event.
func (i *InmemTransport) Connect(target string) error {
	peer := i.network.lookup(target)
	if peer == nil {
		return fmt.Errorf("failed to connect to peer: %v", target)
	}

	i.Lock()
	if _, ok := i.peers[target]; ok {
		i.Unlock()
		return nil
	}
	i.peers[target] = peer
	i.Unlock()

	peer.Lock()
	peer.peers[i.localAddr] = i
	peer.Unlock()

	i.eventCh <- PeerEvent{Type: PeerConnected, Peer: target}
	peer.eventCh <- PeerEvent{Type: PeerConnected, Peer: i.localAddr}

	return nil
}

// Disconnect implements the Transport interface. Both sides are unlinked and
// both receive a PeerDisconnected event.
func (i *InmemTransport) Disconnect(target string) {
	i.Lock()
	peer, ok := i.peers[target]
	if !ok {
		i.Unlock()
		return
	}
	delete(i.peers, target)
	i.Unlock()

	peer.Lock()
	delete(peer.peers, i.localAddr)
	peer.Unlock()

	i.eventCh <- PeerEvent{Type: PeerDisconnected, Peer: target}
	peer.eventCh <- PeerEvent{Type: PeerDisconnected, Peer: i.localAddr}
}

// Close is used to permanently disable the transport.
func (i *InmemTransport) Close() error {
	i.Lock()
	peers := make([]string, 0, len(i.peers))
	for addr := range i.peers {
		peers = append(peers, addr)
	}
	i.Unlock()

	for _, addr := range peers {
		i.Disconnect(addr)
	}

	i.network.Lock()
	delete(i.network.transports, i.localAddr)
	i.network.Unlock()

	return nil
}
