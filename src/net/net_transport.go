package net

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const (
	bufSize = math.MaxUint16

	// maxFrameSize bounds a single framed message, payload included.
	maxFrameSize = 32 * 1024 * 1024
)

/*
NetworkTransport provides a network based transport that can be used to
exchange blocks with remote machines. It requires an underlying stream layer
to provide a stream abstraction, which can be simple TCP, TLS, etc.

One persistent connection is maintained per peer, keyed by the peer's
advertise address. The dialing side opens the connection with a hello frame
carrying its own advertise address, so both ends agree on the peer's
identity. After the hello, each frame is a length prefix followed by a type
byte and the canonical json encoding of the message body.
*/
type NetworkTransport struct {
	logger *logrus.Entry

	conns    map[string]*netConn
	connLock sync.Mutex

	consumeCh chan Envelope
	eventCh   chan PeerEvent

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	stream StreamLayer

	timeout time.Duration
}

type netConn struct {
	target string
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	wLock  sync.Mutex
}

// Release closes the underlying connection
func (n *netConn) Release() error {
	return n.conn.Close()
}

// NewNetworkTransport creates a new network transport with the given stream
// layer. The timeout is used to apply I/O deadlines.
func NewNetworkTransport(
	stream StreamLayer,
	timeout time.Duration,
	logger *logrus.Entry,
) *NetworkTransport {

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	trans := &NetworkTransport{
		conns:      make(map[string]*netConn),
		consumeCh:  make(chan Envelope),
		eventCh:    make(chan PeerEvent, 16),
		logger:     logger,
		shutdownCh: make(chan struct{}),
		stream:     stream,
		timeout:    timeout,
	}

	return trans
}

// NewTCPTransport returns a NetworkTransport that is built on top of a TCP
// streaming transport layer, with log output going to the supplied Logger
func NewTCPTransport(
	bindAddr string,
	advertise string,
	timeout time.Duration,
	logger *logrus.Entry,
) (*NetworkTransport, error) {
	stream, err := NewTCPStreamLayer(bindAddr, advertise)
	if err != nil {
		return nil, err
	}
	return NewNetworkTransport(stream, timeout, logger), nil
}

// Close is used to stop the network transport.
func (n *NetworkTransport) Close() error {
	n.shutdownLock.Lock()
	defer n.shutdownLock.Unlock()

	if !n.shutdown {
		close(n.shutdownCh)
		n.stream.Close()

		n.connLock.Lock()
		for _, conn := range n.conns {
			conn.Release()
		}
		n.conns = make(map[string]*netConn)
		n.connLock.Unlock()

		n.shutdown = true
	}
	return nil
}

// Consumer implements the Transport interface.
func (n *NetworkTransport) Consumer() <-chan Envelope {
	return n.consumeCh
}

// Events implements the Transport interface.
func (n *NetworkTransport) Events() <-chan PeerEvent {
	return n.eventCh
}

// LocalAddr implements the Transport interface.
func (n *NetworkTransport) LocalAddr() string {
	addr := n.stream.Addr()

	if addr != nil {
		return addr.String()
	}

	return ""
}

// AdvertiseAddr implements the Transport interface.
func (n *NetworkTransport) AdvertiseAddr() string {
	return n.stream.AdvertiseAddr()
}

// IsShutdown is used to check if the transport is shutdown.
func (n *NetworkTransport) IsShutdown() bool {
	select {
	case <-n.shutdownCh:
		return true
	default:
		return false
	}
}

// getConn returns the live connection to target, if any.
func (n *NetworkTransport) getConn(target string) *netConn {
	n.connLock.Lock()
	defer n.connLock.Unlock()
	return n.conns[target]
}

// addConn registers a connection under the peer's advertise address. If a
// connection to the same peer already exists, for instance when both sides
// dialed each other at the same time, the newcomer is rejected.
func (n *NetworkTransport) addConn(nc *netConn) bool {
	n.connLock.Lock()
	defer n.connLock.Unlock()

	if _, ok := n.conns[nc.target]; ok {
		return false
	}
	n.conns[nc.target] = nc
	return true
}

// removeConn drops the registration if it still points at nc.
func (n *NetworkTransport) removeConn(nc *netConn) bool {
	n.connLock.Lock()
	defer n.connLock.Unlock()

	if n.conns[nc.target] != nc {
		return false
	}
	delete(n.conns, nc.target)
	return true
}

func (n *NetworkTransport) emitEvent(ev PeerEvent) {
	select {
	case n.eventCh <- ev:
	case <-n.shutdownCh:
	}
}

// Connect implements the Transport interface. It dials the target, sends the
// hello frame and starts reading messages from the connection.
func (n *NetworkTransport) Connect(target string) error {
	if n.IsShutdown() {
		return ErrTransportShutdown
	}

	if n.getConn(target) != nil {
		return nil
	}

	conn, err := n.stream.Dial(target, n.timeout)
	if err != nil {
		return err
	}

	nc := &netConn{
		target: target,
		conn:   conn,
		r:      bufio.NewReaderSize(conn, bufSize),
		w:      bufio.NewWriterSize(conn, bufSize),
	}

	// Identify ourselves
	hello, err := encodeHello(n.AdvertiseAddr())
	if err != nil {
		nc.Release()
		return err
	}
	if err := nc.writeFrame(hello, n.timeout); err != nil {
		nc.Release()
		return err
	}

	if !n.addConn(nc) {
		nc.Release()
		return nil
	}

	n.logger.WithField("peer", target).Debug("Connected")
	n.emitEvent(PeerEvent{Type: PeerConnected, Peer: target})

	go n.readLoop(nc)

	return nil
}

// Disconnect implements the Transport interface.
func (n *NetworkTransport) Disconnect(target string) {
	if nc := n.getConn(target); nc != nil {
		n.dropConn(nc, nil)
	}
}

// dropConn closes a connection, deregisters it, and emits a disconnection
// event if the registration was still live.
func (n *NetworkTransport) dropConn(nc *netConn, err error) {
	nc.Release()

	if !n.removeConn(nc) {
		return
	}

	if err != nil && err != io.EOF && !n.IsShutdown() {
		n.logger.WithFields(logrus.Fields{
			"peer":  nc.target,
			"error": err,
		}).Error("Connection failed")
	}

	if !n.IsShutdown() {
		n.emitEvent(PeerEvent{Type: PeerDisconnected, Peer: nc.target})
	}
}

// Send implements the Transport interface.
func (n *NetworkTransport) Send(target string, msg *Message) error {
	nc := n.getConn(target)
	if nc == nil {
		return ErrPeerNotConnected
	}

	data, err := msg.Marshal()
	if err != nil {
		return err
	}

	if err := nc.writeFrame(data, n.timeout); err != nil {
		n.dropConn(nc, err)
		return err
	}

	return nil
}

// Listen opens the stream and handles incoming connections.
func (n *NetworkTransport) Listen() {
	for {
		// Accept incoming connections
		conn, err := n.stream.Accept()
		if err != nil {
			if n.IsShutdown() {
				return
			}
			n.logger.WithField("error", err).Error("Failed to accept connection")
			continue
		}
		n.logger.WithFields(logrus.Fields{
			"node": conn.LocalAddr(),
			"from": conn.RemoteAddr(),
		}).Debug("Accepted connection")

		// Handle the connection in dedicated routine
		go n.handleConn(conn)
	}
}

// handleConn reads the hello frame from an inbound connection, registers the
// peer, and hands off to the read loop.
func (n *NetworkTransport) handleConn(conn net.Conn) {
	nc := &netConn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, bufSize),
		w:    bufio.NewWriterSize(conn, bufSize),
	}

	hello, err := nc.readFrame()
	if err != nil {
		n.logger.WithField("error", err).Error("Failed to read hello frame")
		nc.Release()
		return
	}

	target, err := decodeHello(hello)
	if err != nil {
		n.logger.WithField("error", err).Error("Failed to decode hello frame")
		nc.Release()
		return
	}
	nc.target = target

	if !n.addConn(nc) {
		nc.Release()
		return
	}

	n.logger.WithField("peer", target).Debug("Peer connected")
	n.emitEvent(PeerEvent{Type: PeerConnected, Peer: target})

	n.readLoop(nc)
}

// readLoop decodes frames off the connection and dispatches them until the
// connection or the transport dies.
func (n *NetworkTransport) readLoop(nc *netConn) {
	for {
		data, err := nc.readFrame()
		if err != nil {
			n.dropConn(nc, err)
			return
		}

		var msg Message
		if err := msg.Unmarshal(data); err != nil {
			n.dropConn(nc, err)
			return
		}

		select {
		case n.consumeCh <- Envelope{From: nc.target, Message: msg}:
		case <-n.shutdownCh:
			n.dropConn(nc, nil)
			return
		}
	}
}

// writeFrame sends a length-prefixed frame on the connection.
func (n *netConn) writeFrame(data []byte, timeout time.Duration) error {
	n.wLock.Lock()
	defer n.wLock.Unlock()

	if timeout > 0 {
		n.conn.SetWriteDeadline(time.Now().Add(timeout))
	}

	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(data)))

	if _, err := n.w.Write(length[:]); err != nil {
		return err
	}
	if _, err := n.w.Write(data); err != nil {
		return err
	}

	return n.w.Flush()
}

// readFrame reads a length-prefixed frame off the connection. It blocks
// without a deadline; liveness is the remote's concern.
func (n *netConn) readFrame() ([]byte, error) {
	var length [4]byte
	if _, err := io.ReadFull(n.r, length[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(length[:])
	if size > maxFrameSize {
		return nil, fmt.Errorf("frame of %d bytes exceeds limit", size)
	}

	data := make([]byte, size)
	if _, err := io.ReadFull(n.r, data); err != nil {
		return nil, err
	}

	return data, nil
}

func encodeHello(advertiseAddr string) ([]byte, error) {
	b := new(bytes.Buffer)
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	enc := codec.NewEncoder(b, jh)
	if err := enc.Encode(advertiseAddr); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

func decodeHello(data []byte) (string, error) {
	var advertiseAddr string
	jh := new(codec.JsonHandle)
	jh.Canonical = true
	dec := codec.NewDecoder(bytes.NewBuffer(data), jh)
	if err := dec.Decode(&advertiseAddr); err != nil {
		return "", err
	}
	return advertiseAddr, nil
}
