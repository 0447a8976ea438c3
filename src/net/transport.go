package net

import "errors"

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")

	// ErrUnknownMessage is returned when a frame carries an unknown type byte
	// or no body.
	ErrUnknownMessage = errors.New("unknown message type")

	// ErrPeerNotConnected is returned by Send when there is no live
	// connection to the target peer.
	ErrPeerNotConnected = errors.New("peer not connected")
)

// Envelope is an inbound message tagged with the advertise address of the
// peer that sent it.
type Envelope struct {
	From    string
	Message Message
}

// PeerEventType distinguishes connections from disconnections.
type PeerEventType uint8

const (
	// PeerConnected signals a new live connection, inbound or outbound.
	PeerConnected PeerEventType = iota
	// PeerDisconnected signals that a connection was lost or closed.
	PeerDisconnected
)

// PeerEvent notifies the consumer of a change in connectivity with a peer.
type PeerEvent struct {
	Type PeerEventType
	Peer string
}

// Transport provides an interface for network transports to allow a node to
// exchange messages with other nodes. Peers are identified by their
// advertise address.
type Transport interface {

	// Listen starts the transport accepting inbound connections. It blocks
	// until the transport is closed.
	Listen()

	// Consumer returns the channel on which inbound messages are delivered.
	Consumer() <-chan Envelope

	// Events returns the channel on which connectivity changes are
	// delivered.
	Events() <-chan PeerEvent

	// Send delivers a message to a connected peer. It does not wait for a
	// response; replies come back through the Consumer channel.
	Send(target string, msg *Message) error

	// Connect establishes a persistent connection to a peer.
	Connect(target string) error

	// Disconnect tears down the connection to a peer, if any.
	Disconnect(target string)

	// LocalAddr is used to return our local address
	LocalAddr() string

	// AdvertiseAddr is used to return our advertise address where other peers
	// can reach us
	AdvertiseAddr() string

	// Close permanently closes a transport, stopping any associated
	// goroutines and freeing other resources.
	Close() error
}
