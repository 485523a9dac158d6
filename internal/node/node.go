// Package node implements the per-node Maekawa mutual-exclusion state
// machine: the node's protocol state, the six message handlers, and the
// request loop that drives critical-section entry and exit.
package node

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/barrier"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/clock"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/logging"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/message"
)

// OutboundLink is the write-only transport surface a Node needs: a single
// atomic write to a given destination. internal/transport.Sender satisfies
// this; the interface lives here (consumer side) so this package never
// needs to import transport.
type OutboundLink interface {
	WriteFrame(dest int, payload []byte) error
}

// Delays bundles the request loop's randomized timing: the
// desynchronization sleep before each request and the critical-section
// occupancy time.
type Delays struct {
	RequestMin, RequestMax     time.Duration
	OccupancyMin, OccupancyMax time.Duration
}

// Config bundles everything a Node needs beyond its id and quorum.
type Config struct {
	ID         int
	Colleagues []int
	Iterations int
	Delays     Delays
	Link       OutboundLink
	Barrier    *barrier.Barrier
	Log        logging.Logger
	Rand       *rand.Rand
}

// Node is one participant in the Maekawa protocol. Every mutable field
// below is guarded by mu; Colleagues and ID are immutable after
// construction and safe to read without the lock.
type Node struct {
	ID         int
	Colleagues []int

	mu   sync.Mutex
	cond *sync.Cond

	clock clock.Lamport

	queue *requestQueue

	grantsSent     *message.Priority
	grantsReceived map[int]bool
	yielded        bool
	failed         bool
	inCS           bool

	link       OutboundLink
	iterations int
	delays     Delays
	brr        *barrier.Barrier
	log        logging.Logger
	rng        *rand.Rand

	// csEntries counts completed critical-section occupancies, for tests
	// and the status API; it is not part of the protocol's invariants.
	csEntries int
}

// New constructs a Node ready to run, with an empty queue and no
// outstanding grants.
func New(cfg Config) *Node {
	n := &Node{
		ID:             cfg.ID,
		Colleagues:     append([]int(nil), cfg.Colleagues...),
		queue:          newRequestQueue(),
		grantsReceived: make(map[int]bool),
		link:           cfg.Link,
		iterations:     cfg.Iterations,
		delays:         cfg.Delays,
		brr:            cfg.Barrier,
		log:            cfg.Log.With(map[string]interface{}{"node_id": cfg.ID}),
		rng:            cfg.Rand,
	}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Snapshot is a read-only copy of NodeState for the status API and tests.
type Snapshot struct {
	ID             int
	Colleagues     []int
	LamportTS      int64
	QueueLen       int
	GrantsSent     *message.Priority
	GrantsReceived []int
	Yielded        bool
	Failed         bool
	InCS           bool
	CSEntries      int
}

// Snapshot returns the current state, taking the lock briefly.
func (n *Node) Snapshot() Snapshot {
	n.mu.Lock()
	defer n.mu.Unlock()

	received := make([]int, 0, len(n.grantsReceived))
	for id := range n.grantsReceived {
		received = append(received, id)
	}

	var grantsSent *message.Priority
	if n.grantsSent != nil {
		cp := *n.grantsSent
		grantsSent = &cp
	}

	return Snapshot{
		ID:             n.ID,
		Colleagues:     append([]int(nil), n.Colleagues...),
		LamportTS:      n.clock.Value(),
		QueueLen:       n.queue.Len(),
		GrantsSent:     grantsSent,
		GrantsReceived: received,
		Yielded:        n.yielded,
		Failed:         n.failed,
		InCS:           n.inCS,
		CSEntries:      n.csEntries,
	}
}

// InCS reports whether the node currently occupies the critical section.
// Used by mutual-exclusion property tests across a live cluster.
func (n *Node) InCS() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.inCS
}
