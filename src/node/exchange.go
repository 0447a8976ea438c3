package node

import (
	"context"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"

	"github.com/meshnetworks/hoard/src/cas"
	cm "github.com/meshnetworks/hoard/src/common"
	"github.com/meshnetworks/hoard/src/net"
	"github.com/meshnetworks/hoard/src/store"
)

// Exchange implements the want/have protocol over a Transport. It keeps one
// wantEntry per missing address, answers remote wants from the local store,
// and records the wants it could not answer so they can be served when the
// block shows up later.
//
// All handler methods are called from the node's run loop; Want is called
// from API goroutines. A single mutex guards the maps. Messages are never
// sent while holding it.
type Exchange struct {
	store     store.Store
	collector *store.Collector
	trans     net.Transport
	conf      *Config
	logger    *logrus.Entry

	mu          sync.Mutex
	wants       map[cid.Cid]*wantEntry
	peers       map[string]bool
	remoteWants map[cid.Cid]map[string]bool

	blocksReceived  int
	blocksSent      int
	wantsReceived   int
	invalidPayloads map[string]int
}

// outMsg is a message staged under the mutex and flushed outside it.
type outMsg struct {
	target string
	msg    net.Message
}

// NewExchange instantiates an Exchange.
func NewExchange(s store.Store,
	collector *store.Collector,
	trans net.Transport,
	conf *Config,
	logger *logrus.Entry) *Exchange {

	return &Exchange{
		store:           s,
		collector:       collector,
		trans:           trans,
		conf:            conf,
		logger:          logger,
		wants:           make(map[cid.Cid]*wantEntry),
		peers:           make(map[string]bool),
		remoteWants:     make(map[cid.Cid]map[string]bool),
		invalidPayloads: make(map[string]int),
	}
}

func (e *Exchange) flush(outbox []outMsg) {
	for _, out := range outbox {
		msg := out.msg
		if err := e.trans.Send(out.target, &msg); err != nil {
			e.logger.WithFields(logrus.Fields{
				"peer":  out.target,
				"error": err,
			}).Debug("Failed to send message")
		}
	}
}

// Want blocks until the address is retrieved from a peer, the context is
// cancelled, or the retry budget runs out. The block is verified and stored
// before being returned.
func (e *Exchange) Want(ctx context.Context, addr cid.Cid, priority int) (*cas.Block, error) {
	block, err := e.store.Get(addr)
	if err == nil {
		return block, nil
	}
	if !cm.IsStore(err, cm.KeyNotFound) {
		return nil, err
	}

	e.mu.Lock()

	entry, ok := e.wants[addr]
	if !ok {
		entry = newWantEntry(addr, priority)
		e.wants[addr] = entry
	}
	ch := entry.addWaiter()

	var outbox []outMsg
	if !ok {
		outbox = e.broadcastLocked(entry)
	}

	e.mu.Unlock()

	e.flush(outbox)

	select {
	case res := <-ch:
		return res.block, res.err

	case <-ctx.Done():
		e.mu.Lock()

		// The want may have resolved while we were reacting to the
		// cancellation.
		select {
		case res := <-ch:
			e.mu.Unlock()
			return res.block, res.err
		default:
		}

		outbox = nil
		if entry, ok := e.wants[addr]; ok {
			if entry.removeWaiter(ch) == 0 {
				outbox = e.dropLocked(entry)
			}
		}

		e.mu.Unlock()

		e.flush(outbox)

		return nil, ErrCancelled
	}
}

// Cancel withdraws a want entirely. Every pending Get for the address
// returns ErrCancelled. It has no effect if the address is not wanted.
func (e *Exchange) Cancel(addr cid.Cid) {
	e.mu.Lock()

	var outbox []outMsg
	var waiters []chan wantResult

	if entry, ok := e.wants[addr]; ok {
		waiters = entry.waiters
		entry.waiters = nil
		outbox = e.dropLocked(entry)
	}

	e.mu.Unlock()

	for _, ch := range waiters {
		ch <- wantResult{err: ErrCancelled}
	}

	e.flush(outbox)
}

// WantList returns the addresses currently wanted. The garbage collector
// treats them as extra roots so that a block arriving mid-sweep is not
// immediately collected.
func (e *Exchange) WantList() []cid.Cid {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := make([]cid.Cid, 0, len(e.wants))
	for addr := range e.wants {
		res = append(res, addr)
	}
	return res
}

// Peers returns the advertise addresses of the connected peers.
func (e *Exchange) Peers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	res := make([]string, 0, len(e.peers))
	for peer := range e.peers {
		res = append(res, peer)
	}
	return res
}

// broadcastLocked stages the want for every connected peer and stamps the
// attempt. Callers hold the mutex.
func (e *Exchange) broadcastLocked(entry *wantEntry) []outMsg {
	entry.lastSent = time.Now()

	outbox := []outMsg{}
	for peer := range e.peers {
		entry.outstanding[peer] = true
		outbox = append(outbox, outMsg{
			target: peer,
			msg: net.Message{Want: &net.WantMessage{
				Address:   entry.address.String(),
				Priority:  entry.priority,
				SendBlock: e.conf.EagerBlocks || entry.retries > 0,
			}},
		})
	}
	return outbox
}

// dropLocked removes the entry and stages cancels for the peers still
// holding the want. Callers hold the mutex.
func (e *Exchange) dropLocked(entry *wantEntry) []outMsg {
	delete(e.wants, entry.address)

	outbox := []outMsg{}
	for peer := range entry.outstanding {
		outbox = append(outbox, outMsg{
			target: peer,
			msg:    net.Message{Cancel: &net.CancelMessage{Address: entry.address.String()}},
		})
	}
	return outbox
}

// HandlePeerEvent reacts to connectivity changes. A new peer receives our
// full want-list; a lost peer is removed from every entry's outstanding set,
// and entries left without outstanding peers are re-broadcast.
func (e *Exchange) HandlePeerEvent(ev net.PeerEvent) {
	e.mu.Lock()

	outbox := []outMsg{}

	switch ev.Type {
	case net.PeerConnected:
		e.peers[ev.Peer] = true

		for _, entry := range e.wants {
			entry.outstanding[ev.Peer] = true
			outbox = append(outbox, outMsg{
				target: ev.Peer,
				msg: net.Message{Want: &net.WantMessage{
					Address:   entry.address.String(),
					Priority:  entry.priority,
					SendBlock: e.conf.EagerBlocks || entry.retries > 0,
				}},
			})
		}

	case net.PeerDisconnected:
		delete(e.peers, ev.Peer)

		for _, entry := range e.wants {
			if !entry.outstanding[ev.Peer] {
				continue
			}
			delete(entry.outstanding, ev.Peer)
			if len(entry.outstanding) == 0 && len(e.peers) > 0 {
				outbox = append(outbox, e.broadcastLocked(entry)...)
			}
		}
	}

	e.mu.Unlock()

	e.flush(outbox)
}

// HandleEnvelope dispatches an inbound message.
func (e *Exchange) HandleEnvelope(env net.Envelope) {
	switch {
	case env.Message.Want != nil:
		e.handleWant(env.From, env.Message.Want)
	case env.Message.Have != nil:
		e.handleHave(env.From, env.Message.Have)
	case env.Message.DontHave != nil:
		e.handleDontHave(env.From, env.Message.DontHave)
	case env.Message.Block != nil:
		e.handleBlock(env.From, env.Message.Block)
	case env.Message.Cancel != nil:
		e.handleCancel(env.From, env.Message.Cancel)
	}
}

func (e *Exchange) handleWant(from string, msg *net.WantMessage) {
	addr, err := cid.Decode(msg.Address)
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"peer":  from,
			"error": err,
		}).Warn("Malformed want address")
		return
	}

	e.mu.Lock()
	e.wantsReceived++
	e.mu.Unlock()

	block, err := e.store.Get(addr)
	if err != nil {
		if !cm.IsStore(err, cm.KeyNotFound) {
			e.logger.WithField("error", err).Error("Reading block for want")
			return
		}

		// Remember the want; if the block arrives later we serve it then.
		e.mu.Lock()
		if _, ok := e.remoteWants[addr]; !ok {
			e.remoteWants[addr] = make(map[string]bool)
		}
		e.remoteWants[addr][from] = true
		e.mu.Unlock()

		e.flush([]outMsg{{
			target: from,
			msg:    net.Message{DontHave: &net.DontHaveMessage{Address: msg.Address}},
		}})
		return
	}

	if msg.SendBlock {
		e.sendBlock(from, block)
	} else {
		e.flush([]outMsg{{
			target: from,
			msg:    net.Message{Have: &net.HaveMessage{Address: msg.Address}},
		}})
	}
}

func (e *Exchange) sendBlock(target string, block *cas.Block) {
	e.mu.Lock()
	e.blocksSent++
	e.mu.Unlock()

	e.flush([]outMsg{{
		target: target,
		msg: net.Message{Block: &net.BlockMessage{
			Address: block.Address.String(),
			Payload: block.Payload,
		}},
	}})
}

func (e *Exchange) handleHave(from string, msg *net.HaveMessage) {
	addr, err := cid.Decode(msg.Address)
	if err != nil {
		return
	}

	e.mu.Lock()

	var outbox []outMsg
	if entry, ok := e.wants[addr]; ok {
		entry.outstanding[from] = true
		outbox = append(outbox, outMsg{
			target: from,
			msg: net.Message{Want: &net.WantMessage{
				Address:   msg.Address,
				Priority:  entry.priority,
				SendBlock: true,
			}},
		})
	}

	e.mu.Unlock()

	e.flush(outbox)
}

func (e *Exchange) handleDontHave(from string, msg *net.DontHaveMessage) {
	addr, err := cid.Decode(msg.Address)
	if err != nil {
		return
	}

	e.mu.Lock()
	if entry, ok := e.wants[addr]; ok {
		delete(entry.outstanding, from)
	}
	e.mu.Unlock()
}

func (e *Exchange) handleBlock(from string, msg *net.BlockMessage) {
	addr, err := cid.Decode(msg.Address)
	if err != nil {
		return
	}

	block, err := cas.NewVerifiedBlock(addr, msg.Payload)
	if err != nil {
		// A payload that does not hash to its address is dropped silently;
		// the want keeps waiting for an honest copy.
		e.mu.Lock()
		e.invalidPayloads[from]++
		e.mu.Unlock()

		e.logger.WithFields(logrus.Fields{
			"peer":    from,
			"address": msg.Address,
		}).Warn("Dropping block with invalid payload")
		return
	}

	// Persist before waking anyone. A block received for a want that was
	// cancelled in the meantime is kept too.
	e.collector.BeginMutation()
	err = e.store.PutBlock(block)
	e.collector.EndMutation(addr)
	if err != nil {
		e.logger.WithField("error", err).Error("Storing received block")
		return
	}

	e.mu.Lock()

	e.blocksReceived++

	var waiters []chan wantResult
	outbox := []outMsg{}

	if entry, ok := e.wants[addr]; ok {
		waiters = entry.waiters
		entry.waiters = nil
		delete(entry.outstanding, from)
		outbox = append(outbox, e.dropLocked(entry)...)
	}

	outbox = append(outbox, e.serveRemoteWantsLocked(block)...)

	e.mu.Unlock()

	for _, ch := range waiters {
		ch <- wantResult{block: block}
	}

	e.flush(outbox)
}

func (e *Exchange) handleCancel(from string, msg *net.CancelMessage) {
	addr, err := cid.Decode(msg.Address)
	if err != nil {
		return
	}

	e.mu.Lock()
	if wanters, ok := e.remoteWants[addr]; ok {
		delete(wanters, from)
		if len(wanters) == 0 {
			delete(e.remoteWants, addr)
		}
	}
	e.mu.Unlock()
}

// NotifyBlock serves the recorded remote wants for a block that just became
// available locally.
func (e *Exchange) NotifyBlock(block *cas.Block) {
	e.mu.Lock()
	outbox := e.serveRemoteWantsLocked(block)
	e.mu.Unlock()

	e.flush(outbox)
}

// serveRemoteWantsLocked stages the block for every peer that asked for it
// while we did not have it. Callers hold the mutex.
func (e *Exchange) serveRemoteWantsLocked(block *cas.Block) []outMsg {
	wanters, ok := e.remoteWants[block.Address]
	if !ok {
		return nil
	}
	delete(e.remoteWants, block.Address)

	outbox := []outMsg{}
	for peer := range wanters {
		e.blocksSent++
		outbox = append(outbox, outMsg{
			target: peer,
			msg: net.Message{Block: &net.BlockMessage{
				Address: block.Address.String(),
				Payload: block.Payload,
			}},
		})
	}
	return outbox
}

// CheckTimeouts re-broadcasts wants whose attempt has expired and fails the
// ones that exhausted their retry budget.
func (e *Exchange) CheckTimeouts(now time.Time) {
	e.mu.Lock()

	outbox := []outMsg{}
	var expired []struct {
		waiters []chan wantResult
		err     error
	}

	for _, entry := range e.wants {
		if now.Before(entry.deadline(e.conf.WantTimeout)) {
			continue
		}

		if entry.retries >= e.conf.RetryLimit {
			waiters := entry.waiters
			entry.waiters = nil
			outbox = append(outbox, e.dropLocked(entry)...)
			expired = append(expired, struct {
				waiters []chan wantResult
				err     error
			}{waiters, ErrNotFound})
			continue
		}

		entry.retries++
		for peer := range entry.outstanding {
			delete(entry.outstanding, peer)
		}
		outbox = append(outbox, e.broadcastLocked(entry)...)
	}

	e.mu.Unlock()

	for _, ex := range expired {
		for _, ch := range ex.waiters {
			ch <- wantResult{err: ex.err}
		}
	}

	e.flush(outbox)
}

// Stats returns exchange counters.
func (e *Exchange) Stats() map[string]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	invalid := 0
	for _, count := range e.invalidPayloads {
		invalid += count
	}

	return map[string]int{
		"pending_wants":    len(e.wants),
		"remote_wants":     len(e.remoteWants),
		"num_peers":        len(e.peers),
		"blocks_received":  e.blocksReceived,
		"blocks_sent":      e.blocksSent,
		"wants_received":   e.wantsReceived,
		"invalid_payloads": invalid,
	}
}
