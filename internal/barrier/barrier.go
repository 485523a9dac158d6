// Package barrier implements the one-shot termination barrier the cluster
// run ends on: every node arrives after finishing its request loop, and no
// participant returns until all have arrived. The barrier is an explicit
// collaborator handed to each node, with its lifecycle scoped to one run,
// rather than package-level mutable state.
package barrier

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// ErrAlreadyArrived is returned by Arrive if the same participant index
// calls Arrive more than once.
var ErrAlreadyArrived = errors.New("barrier: participant already arrived")

// Barrier blocks n participants until all of them have arrived, then
// releases all of them. It is one-shot: once every participant has
// arrived, the barrier stays open forever.
type Barrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	n       int
	arrived int
	seen    map[int]bool
}

// New creates a Barrier for exactly n participants.
func New(n int) *Barrier {
	b := &Barrier{n: n, seen: make(map[int]bool, n)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Arrive registers participant id's arrival and blocks until all n
// participants have arrived or ctx is done. The last arrival wakes every
// waiter.
func (b *Barrier) Arrive(ctx context.Context, id int) error {
	b.mu.Lock()
	if b.seen[id] {
		b.mu.Unlock()
		return ErrAlreadyArrived
	}
	b.seen[id] = true
	b.arrived++
	if b.arrived == b.n {
		b.cond.Broadcast()
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	for b.arrived < b.n {
		if ctx.Err() != nil {
			b.mu.Unlock()
			return ctx.Err()
		}
		b.cond.Wait()
	}
	b.mu.Unlock()
	return nil
}

// Arrived reports how many participants have arrived so far.
func (b *Barrier) Arrived() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.arrived
}
