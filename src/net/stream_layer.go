package net

import (
	"net"
	"time"
)

// StreamLayer is the low level connection abstraction underneath the
// NetworkTransport. It accepts inbound connections like a net.Listener and
// dials outbound ones.
type StreamLayer interface {
	net.Listener

	// Dial creates a new outgoing connection.
	Dial(address string, timeout time.Duration) (net.Conn, error)

	// AdvertiseAddr is the publicly-reachable address peers should use to
	// dial back.
	AdvertiseAddr() string
}
