package node

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/meshnetworks/hoard/src/cas"
	"github.com/meshnetworks/hoard/src/net"
	"github.com/meshnetworks/hoard/src/peers"
	"github.com/meshnetworks/hoard/src/store"
)

//Node is a peer in the block exchange. It ties together the local store, the
//garbage collector, and the exchange engine, and exposes the public API.
type Node struct {
	state

	conf   *Config
	logger *logrus.Entry

	identity *Identity

	store     store.Store
	registry  *cas.Registry
	collector *store.Collector
	exchange  *Exchange

	trans   net.Transport
	netCh   <-chan net.Envelope
	eventCh <-chan net.PeerEvent

	bootPeers *peers.PeerSet

	sigintCh   chan os.Signal
	shutdownCh chan struct{}
	resumeCh   chan struct{}

	controlTimer *ControlTimer

	start time.Time
}

//NewNode is a factory method that returns a Node instance
func NewNode(conf *Config,
	identity *Identity,
	bootPeers *peers.PeerSet,
	s store.Store,
	registry *cas.Registry,
	trans net.Transport,
) *Node {
	//Prepare sigintCh to relay SIGINT system calls
	sigintCh := make(chan os.Signal, 1)
	signal.Notify(sigintCh, os.Interrupt, syscall.SIGINT)

	logger := conf.Logger.WithField("this_id", identity.ID())

	tracker := store.NewTracker(s, registry)

	//The collector sees the exchange's want-list as extra roots. The
	//exchange does not exist yet, hence the indirection.
	var exchange *Exchange
	collector := store.NewCollector(s, tracker, conf.GCPolicy,
		func() []cid.Cid {
			if exchange == nil {
				return nil
			}
			return exchange.WantList()
		},
		logger)

	exchange = NewExchange(s, collector, trans, conf, logger)

	node := Node{
		identity:     identity,
		conf:         conf,
		logger:       logger,
		store:        s,
		registry:     registry,
		collector:    collector,
		exchange:     exchange,
		trans:        trans,
		netCh:        trans.Consumer(),
		eventCh:      trans.Events(),
		bootPeers:    bootPeers,
		sigintCh:     sigintCh,
		shutdownCh:   make(chan struct{}),
		resumeCh:     make(chan struct{}),
		controlTimer: NewRandomControlTimer(),
	}

	return &node
}

//Init intialises the node and connects to the bootstrap peers. Connection
//failures are logged and skipped; peers that come up later can still dial
//us.
func (n *Node) Init() error {
	n.start = time.Now()

	for _, peer := range n.bootPeers.Peers {
		if peer.NetAddr == n.trans.AdvertiseAddr() {
			continue
		}
		if err := n.trans.Connect(peer.NetAddr); err != nil {
			n.logger.WithFields(logrus.Fields{
				"peer":  peer.NetAddr,
				"error": err,
			}).Warn("Failed to connect to bootstrap peer")
		}
	}

	if n.conf.MaintenanceMode {
		n.logger.Debug("MaintenanceMode => Suspended")
		n.setState(Suspended)
	} else {
		n.setState(Serving)
	}

	return nil
}

//RunAsync calls Run as a separate thread
func (n *Node) RunAsync() {
	go n.Run()
}

//Run invokes the main loop of the node
func (n *Node) Run() {
	//The ControlTimer paces want-list reviews. It should only be running
	//when there are pending wants in the system.
	go n.controlTimer.Run(n.conf.WantTimeout)

	go n.trans.Listen()

	var gcCh <-chan time.Time
	if n.conf.GCInterval > 0 {
		gcTicker := time.NewTicker(n.conf.GCInterval)
		defer gcTicker.Stop()
		gcCh = gcTicker.C
	}

	//Execute Node State Machine
	for {
		state := n.getState()

		n.logger.WithField("state", state.String()).Debug("Run loop")

		switch state {
		case Serving:
			n.serve(gcCh)
		case Suspended:
			n.standBy()
		case Shutdown:
			return
		}
	}
}

//serve processes network traffic, want-list reviews, and periodic garbage
//collection, until the state changes.
func (n *Node) serve(gcCh <-chan time.Time) {
	for {
		select {
		case env := <-n.netCh:
			n.goFunc(func() {
				n.exchange.HandleEnvelope(env)
				n.resetTimer()
			})
		case ev := <-n.eventCh:
			n.exchange.HandlePeerEvent(ev)
		case <-n.controlTimer.tickCh:
			n.exchange.CheckTimeouts(time.Now())
			n.resetTimer()
		case <-gcCh:
			n.goFunc(func() {
				if _, err := n.CollectGarbage(); err != nil {
					n.logger.WithError(err).Error("Periodic garbage collection")
				}
			})
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT - SHUTDOWN")
			n.Shutdown()
			os.Exit(0)
		case <-n.shutdownCh:
			return
		}
	}
}

//standBy keeps answering remote traffic, serving wants and storing verified
//blocks, but initiates nothing of its own: Get is refused and the retry
//timer stays unarmed. It returns when the node is resumed or shut down.
func (n *Node) standBy() {
	n.logger.Debug("SUSPENDED")

	for {
		select {
		case env := <-n.netCh:
			n.goFunc(func() {
				n.exchange.HandleEnvelope(env)
			})
		case ev := <-n.eventCh:
			n.exchange.HandlePeerEvent(ev)
		case <-n.resumeCh:
			n.setState(Serving)
			return
		case <-n.sigintCh:
			n.logger.Debug("Reacting to SIGINT - SHUTDOWN")
			n.Shutdown()
			os.Exit(0)
		case <-n.shutdownCh:
			return
		}
	}
}

//Resume takes a suspended node back to the Serving state.
func (n *Node) Resume() {
	if n.getState() == Suspended {
		n.resumeCh <- struct{}{}
	}
}

//resetTimer re-arms the control timer when there are pending wants.
func (n *Node) resetTimer() {
	if !n.controlTimer.set && len(n.exchange.WantList()) > 0 {
		n.armTimer()
	}
}

//armTimer arms the control timer without blocking; when the reset is not
//accepted immediately, the next run loop pass re-arms it.
func (n *Node) armTimer() {
	select {
	case n.controlTimer.resetCh <- n.conf.WantTimeout:
	default:
	}
}

//Put stores a block locally and serves any peers that asked for it while we
//did not have it. It returns the block's address.
func (n *Node) Put(codec uint64, payload []byte) (cid.Cid, error) {
	if n.getState() == Shutdown {
		return cid.Undef, ErrShutdown
	}

	block, err := cas.NewBlock(codec, payload)
	if err != nil {
		return cid.Undef, err
	}

	n.collector.BeginMutation()
	err = n.store.PutBlock(block)
	n.collector.EndMutation(block.Address)
	if err != nil {
		return cid.Undef, err
	}

	n.exchange.NotifyBlock(block)

	return block.Address, nil
}

//Get returns the block at addr, fetching it from peers when it is not held
//locally. It blocks until the block arrives, ctx is cancelled, or the retry
//budget runs out.
func (n *Node) Get(ctx context.Context, addr cid.Cid) (*cas.Block, error) {
	switch n.getState() {
	case Shutdown:
		return nil, ErrShutdown
	case Suspended:
		return nil, ErrSuspended
	}

	//Arm the retry timer before blocking, so wants are reviewed even when
	//no network traffic comes in.
	n.armTimer()

	return n.exchange.Want(ctx, addr, 0)
}

//Cancel withdraws every pending Get for addr.
func (n *Node) Cancel(addr cid.Cid) {
	n.exchange.Cancel(addr)
}

//Pin creates or moves a named alias to target, protecting its closure from
//garbage collection.
func (n *Node) Pin(name string, target cid.Cid) error {
	n.collector.BeginMutation()
	err := n.store.Pin(name, target)
	n.collector.EndMutation(target)
	return err
}

//Unpin removes a named alias.
func (n *Node) Unpin(name string) error {
	n.collector.BeginMutation()
	err := n.store.Unpin(name)
	n.collector.EndMutation()
	return err
}

//Aliases lists all aliases.
func (n *Node) Aliases() ([]store.Alias, error) {
	return n.store.Aliases()
}

//Resolve returns the target of a named alias.
func (n *Node) Resolve(name string) (cid.Cid, error) {
	return n.store.Resolve(name)
}

//CollectGarbage runs one mark-and-sweep cycle and returns the deleted
//addresses.
func (n *Node) CollectGarbage() ([]cid.Cid, error) {
	return n.collector.Collect()
}

//ID returns the node's numeric identifier.
func (n *Node) ID() uint32 {
	return n.identity.ID()
}

//Moniker returns the node's moniker.
func (n *Node) Moniker() string {
	return n.identity.Moniker
}

//AdvertiseAddr returns the address peers use to reach this node.
func (n *Node) AdvertiseAddr() string {
	return n.trans.AdvertiseAddr()
}

//GetPeers returns the advertise addresses of the connected peers.
func (n *Node) GetPeers() []string {
	return n.exchange.Peers()
}

//GetStats returns stats
func (n *Node) GetStats() map[string]string {
	timeElapsed := time.Since(n.start)

	s := map[string]string{
		"uptime":  timeElapsed.String(),
		"id":      fmt.Sprint(n.identity.ID()),
		"state":   n.getState().String(),
		"moniker": n.identity.Moniker,
	}

	for key, value := range n.exchange.Stats() {
		s[key] = strconv.Itoa(value)
	}

	if addrs, err := n.store.Addresses(); err == nil {
		s["stored_blocks"] = strconv.Itoa(len(addrs))
	}

	return s
}

//Shutdown stops the node and releases the transport and the store.
func (n *Node) Shutdown() {
	if n.getState() != Shutdown {
		n.logger.Debug("Shutdown")

		//Exit any non-shutdown state immediately
		n.setState(Shutdown)

		//Stop and wait for concurrent operations
		close(n.shutdownCh)

		n.waitRoutines()

		n.controlTimer.Shutdown()

		//transport and store should only be closed once all concurrent
		//operations are finished otherwise they will panic trying to use
		//closed objects
		n.trans.Close()

		n.store.Close()
	}
}
