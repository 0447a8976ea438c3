package net

import (
	"testing"
	"time"

	"github.com/meshnetworks/hoard/src/common"
)

func waitEvent(t *testing.T, trans Transport, expected PeerEvent) {
	select {
	case ev := <-trans.Events():
		if ev != expected {
			t.Fatalf("Event should be %v, not %v", expected, ev)
		}
	case <-time.After(time.Second):
		t.Fatalf("Timeout waiting for event %v", expected)
	}
}

func waitEnvelope(t *testing.T, trans Transport) Envelope {
	select {
	case env := <-trans.Consumer():
		return env
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for envelope")
		return Envelope{}
	}
}

func TestInmemTransportConnect(t *testing.T) {
	network := NewInmemNetwork()
	trans1 := network.NewTransport("")
	trans2 := network.NewTransport("")

	if err := trans1.Connect(trans2.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	waitEvent(t, trans1, PeerEvent{Type: PeerConnected, Peer: trans2.LocalAddr()})
	waitEvent(t, trans2, PeerEvent{Type: PeerConnected, Peer: trans1.LocalAddr()})

	trans1.Disconnect(trans2.LocalAddr())

	waitEvent(t, trans1, PeerEvent{Type: PeerDisconnected, Peer: trans2.LocalAddr()})
	waitEvent(t, trans2, PeerEvent{Type: PeerDisconnected, Peer: trans1.LocalAddr()})
}

func TestInmemTransportSend(t *testing.T) {
	network := NewInmemNetwork()
	trans1 := network.NewTransport("")
	trans2 := network.NewTransport("")

	msg := Message{Want: &WantMessage{Address: "bafyaddr"}}

	if err := trans1.Send(trans2.LocalAddr(), &msg); err != ErrPeerNotConnected {
		t.Fatalf("Should be ErrPeerNotConnected, not %v", err)
	}

	if err := trans1.Connect(trans2.LocalAddr()); err != nil {
		t.Fatal(err)
	}

	if err := trans1.Send(trans2.LocalAddr(), &msg); err != nil {
		t.Fatal(err)
	}

	env := waitEnvelope(t, trans2)
	if env.From != trans1.LocalAddr() {
		t.Fatalf("From should be %s, not %s", trans1.LocalAddr(), env.From)
	}
	if env.Message.Want == nil || env.Message.Want.Address != "bafyaddr" {
		t.Fatalf("Unexpected message %#v", env.Message)
	}
}

func TestNetworkTransportStartStop(t *testing.T) {
	logger := common.NewTestLogger(t).WithField("id", 1)

	trans, err := NewTCPTransport("127.0.0.1:0", "", time.Second, logger)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	trans.Close()
}

func TestNetworkTransportConnectAndSend(t *testing.T) {
	trans1, err := NewTCPTransport("127.0.0.1:0", "", time.Second,
		common.NewTestLogger(t).WithField("id", 1))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans1.Close()
	go trans1.Listen()

	trans2, err := NewTCPTransport("127.0.0.1:0", "", time.Second,
		common.NewTestLogger(t).WithField("id", 2))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans2.Close()
	go trans2.Listen()

	if err := trans2.Connect(trans1.AdvertiseAddr()); err != nil {
		t.Fatal(err)
	}

	// The dialer sees the connection immediately; the listener sees it when
	// the hello frame lands.
	waitEvent(t, trans2, PeerEvent{Type: PeerConnected, Peer: trans1.AdvertiseAddr()})
	waitEvent(t, trans1, PeerEvent{Type: PeerConnected, Peer: trans2.AdvertiseAddr()})

	msg := Message{Want: &WantMessage{Address: "bafyaddr", SendBlock: true}}
	if err := trans2.Send(trans1.AdvertiseAddr(), &msg); err != nil {
		t.Fatal(err)
	}

	env := waitEnvelope(t, trans1)
	if env.From != trans2.AdvertiseAddr() {
		t.Fatalf("From should be %s, not %s", trans2.AdvertiseAddr(), env.From)
	}
	if env.Message.Want == nil || !env.Message.Want.SendBlock {
		t.Fatalf("Unexpected message %#v", env.Message)
	}

	// Replies travel on the same connection, in the other direction.
	reply := Message{Block: &BlockMessage{Address: "bafyaddr", Payload: []byte("data")}}
	if err := trans1.Send(trans2.AdvertiseAddr(), &reply); err != nil {
		t.Fatal(err)
	}

	env = waitEnvelope(t, trans2)
	if env.Message.Block == nil || string(env.Message.Block.Payload) != "data" {
		t.Fatalf("Unexpected message %#v", env.Message)
	}
}

func TestNetworkTransportDisconnect(t *testing.T) {
	trans1, err := NewTCPTransport("127.0.0.1:0", "", time.Second,
		common.NewTestLogger(t).WithField("id", 1))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans1.Close()
	go trans1.Listen()

	trans2, err := NewTCPTransport("127.0.0.1:0", "", time.Second,
		common.NewTestLogger(t).WithField("id", 2))
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	defer trans2.Close()
	go trans2.Listen()

	if err := trans2.Connect(trans1.AdvertiseAddr()); err != nil {
		t.Fatal(err)
	}

	waitEvent(t, trans2, PeerEvent{Type: PeerConnected, Peer: trans1.AdvertiseAddr()})
	waitEvent(t, trans1, PeerEvent{Type: PeerConnected, Peer: trans2.AdvertiseAddr()})

	// An explicit disconnect on one side surfaces as a connection loss on
	// the other.
	trans2.Disconnect(trans1.AdvertiseAddr())

	waitEvent(t, trans2, PeerEvent{Type: PeerDisconnected, Peer: trans1.AdvertiseAddr()})
	waitEvent(t, trans1, PeerEvent{Type: PeerDisconnected, Peer: trans2.AdvertiseAddr()})

	if err := trans2.Send(trans1.AdvertiseAddr(), &Message{Cancel: &CancelMessage{Address: "x"}}); err != ErrPeerNotConnected {
		t.Fatalf("Should be ErrPeerNotConnected, not %v", err)
	}
}
