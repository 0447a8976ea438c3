package node

import (
	"sync"
	"sync/atomic"
)

// State captures the state of a hoard node: Serving, Suspended, or Shutdown
type State uint32

const (
	//Serving is the initial state of a node. It exchanges blocks with peers
	//and runs periodic garbage collection.
	Serving State = iota
	//Suspended is initialised, but not exchanging blocks. The local store
	//remains fully usable.
	Suspended
	//Shutdown is shutdown
	Shutdown
)

// String ...
func (s State) String() string {
	switch s {
	case Serving:
		return "Serving"
	case Suspended:
		return "Suspended"
	case Shutdown:
		return "Shutdown"
	default:
		return "Unknown"
	}
}

// WGLIMIT is the maximum number of goroutines that can be launched through
// state.goFunc
const WGLIMIT = 20

type state struct {
	state   State
	wg      sync.WaitGroup
	wgCount int32
}

func (b *state) getState() State {
	stateAddr := (*uint32)(&b.state)
	return State(atomic.LoadUint32(stateAddr))
}

func (b *state) setState(s State) {
	stateAddr := (*uint32)(&b.state)
	atomic.StoreUint32(stateAddr, uint32(s))
}

// Start a goroutine and add it to waitgroup. When the limit is reached the
// function runs inline instead; the caller blocks, work is never dropped.
func (b *state) goFunc(f func()) {
	tempWgCount := atomic.LoadInt32(&b.wgCount)
	if tempWgCount < WGLIMIT {
		b.wg.Add(1)
		atomic.AddInt32(&b.wgCount, 1)
		go func() {
			defer b.wg.Done()
			defer atomic.AddInt32(&b.wgCount, -1)
			f()
		}()
	} else {
		f()
	}
}

func (b *state) waitRoutines() {
	b.wg.Wait()
}
