package node

import (
	"time"

	"github.com/ipfs/go-cid"

	"github.com/meshnetworks/hoard/src/cas"
)

// wantResult is delivered to every Get call waiting on a want.
type wantResult struct {
	block *cas.Block
	err   error
}

// wantEntry tracks one wanted address. All Get calls for the same address
// share a single entry; the first one creates it and triggers the broadcast,
// later ones just add a waiter.
type wantEntry struct {
	address  cid.Cid
	priority int
	waiters  []chan wantResult

	// retries counts re-broadcasts; lastSent is when the want was last put
	// on the wire. The retry deadline doubles with each attempt.
	retries  int
	lastSent time.Time

	// outstanding holds the peers the want was sent to that have not yet
	// answered DontHave.
	outstanding map[string]bool
}

func newWantEntry(addr cid.Cid, priority int) *wantEntry {
	return &wantEntry{
		address:     addr,
		priority:    priority,
		outstanding: make(map[string]bool),
	}
}

// addWaiter registers a channel to be woken when the want resolves. The
// channel is buffered so resolution never blocks on a departed waiter.
func (w *wantEntry) addWaiter() chan wantResult {
	ch := make(chan wantResult, 1)
	w.waiters = append(w.waiters, ch)
	return ch
}

// removeWaiter drops a waiter and reports how many remain.
func (w *wantEntry) removeWaiter(ch chan wantResult) int {
	for i, waiter := range w.waiters {
		if waiter == ch {
			w.waiters = append(w.waiters[:i], w.waiters[i+1:]...)
			break
		}
	}
	return len(w.waiters)
}

// deadline returns when the current attempt expires. Each retry doubles the
// base timeout.
func (w *wantEntry) deadline(base time.Duration) time.Time {
	return w.lastSent.Add(base << uint(w.retries))
}
