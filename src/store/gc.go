package store

import (
	"sync"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
)

// Policy selects how the garbage collector reconciles a sweep with concurrent
// writes and pins.
type Policy string

const (
	// Pause blocks all mutations for the duration of mark and sweep. Simple
	// and strictly correct, at the cost of write latency during collection.
	Pause Policy = "pause"

	// Revalidate lets mutations proceed during the mark phase and shields
	// every address they touch from the pending sweep. Only the final delete
	// excludes writers.
	Revalidate Policy = "revalidate"
)

// Collector runs mark-and-sweep garbage collection over a store. Roots are
// the store's aliases plus any extra roots supplied by the owner, typically
// the addresses still wanted by the exchange engine.
type Collector struct {
	store      Store
	tracker    *Tracker
	policy     Policy
	extraRoots func() []cid.Cid

	// gate orders mutations against sweeps. Mutators hold it for read;
	// the collector takes it for write around the critical section, whose
	// extent depends on the policy.
	gate sync.RWMutex

	// mu guards sweeping and shield.
	mu       sync.Mutex
	sweeping bool
	shield   map[cid.Cid]bool

	logger *logrus.Entry
}

// NewCollector instantiates a Collector. extraRoots may be nil when aliases
// are the only roots.
func NewCollector(store Store,
	tracker *Tracker,
	policy Policy,
	extraRoots func() []cid.Cid,
	logger *logrus.Entry) *Collector {

	if extraRoots == nil {
		extraRoots = func() []cid.Cid { return nil }
	}

	return &Collector{
		store:      store,
		tracker:    tracker,
		policy:     policy,
		extraRoots: extraRoots,
		logger:     logger,
	}
}

// BeginMutation must be called before any store write or pin change that the
// collector should see. It blocks while a critical section of a sweep is in
// progress.
func (c *Collector) BeginMutation() {
	c.gate.RLock()
}

// EndMutation releases the mutation gate. addrs are the addresses the
// mutation wrote or pinned; if a revalidate sweep is marking, they are
// shielded from its sweep. The mutation must already be persisted when
// EndMutation is called.
func (c *Collector) EndMutation(addrs ...cid.Cid) {
	c.mu.Lock()
	if c.sweeping {
		for _, addr := range addrs {
			c.shield[addr] = true
		}
	}
	c.mu.Unlock()

	c.gate.RUnlock()
}

// Collect runs one mark-and-sweep cycle and returns the addresses it deleted.
func (c *Collector) Collect() ([]cid.Cid, error) {
	switch c.policy {
	case Revalidate:
		return c.collectRevalidate()
	default:
		return c.collectPause()
	}
}

// collectPause excludes all mutators for the whole cycle, so the candidate
// computation cannot race with anything.
func (c *Collector) collectPause() ([]cid.Cid, error) {
	c.gate.Lock()
	defer c.gate.Unlock()

	candidates, err := c.mark()
	if err != nil {
		return nil, err
	}

	if err := c.store.DeleteMany(candidates); err != nil {
		return nil, err
	}

	c.logger.WithField("deleted", len(candidates)).Debug("Swept")

	return candidates, nil
}

// collectRevalidate marks concurrently with mutators, recording every address
// they touch in the shield, then excludes them only while subtracting the
// shield and deleting.
func (c *Collector) collectRevalidate() ([]cid.Cid, error) {
	c.mu.Lock()
	c.sweeping = true
	c.shield = make(map[cid.Cid]bool)
	c.mu.Unlock()

	candidates, err := c.mark()
	if err != nil {
		c.closeShield()
		return nil, err
	}

	c.gate.Lock()
	defer c.gate.Unlock()

	c.mu.Lock()
	shield := c.shield
	c.sweeping = false
	c.shield = nil
	c.mu.Unlock()

	// A shielded address was written or pinned after the mark snapshot;
	// treat it and everything below it as live.
	if len(shield) > 0 {
		shieldRoots := make([]cid.Cid, 0, len(shield))
		for addr := range shield {
			shieldRoots = append(shieldRoots, addr)
		}
		shieldLive, _, err := c.tracker.LiveSet(shieldRoots)
		if err != nil {
			return nil, err
		}
		kept := candidates[:0]
		for _, addr := range candidates {
			if !shieldLive[addr] {
				kept = append(kept, addr)
			}
		}
		candidates = kept
	}

	if err := c.store.DeleteMany(candidates); err != nil {
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"deleted":  len(candidates),
		"shielded": len(shield),
	}).Debug("Swept")

	return candidates, nil
}

// mark computes the sweep candidates, ie. the stored addresses outside the
// live set.
func (c *Collector) mark() ([]cid.Cid, error) {
	live, missing, err := c.tracker.Closure(c.extraRoots())
	if err != nil {
		return nil, err
	}

	if len(missing) > 0 {
		c.logger.WithField("missing", len(missing)).Debug("Unresolved links in live set")
	}

	addrs, err := c.store.Addresses()
	if err != nil {
		return nil, err
	}

	candidates := []cid.Cid{}
	for _, addr := range addrs {
		if !live[addr] {
			candidates = append(candidates, addr)
		}
	}

	return candidates, nil
}

func (c *Collector) closeShield() {
	c.mu.Lock()
	c.sweeping = false
	c.shield = nil
	c.mu.Unlock()
}
