// Package orchestrator brings up a full Maekawa cluster in one process:
// it listens on every node's port, drives the all-to-all dial phase, and
// runs every node's request loop to completion, fanning out and back in
// with golang.org/x/sync/errgroup.
package orchestrator

import (
	"context"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/barrier"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/config"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/logging"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/node"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/quorum"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/statusapi"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/transport"
)

// Orchestrator owns the lifecycle of one simulated cluster: N in-process
// nodes, connected full-mesh over loopback TCP, all driving their request
// loops concurrently until every node completes its configured iteration
// count and arrives at the shared termination barrier.
type Orchestrator struct {
	cfg config.Config
	log logging.Logger

	mu    sync.Mutex
	nodes []*node.Node
}

// New builds an Orchestrator from cfg. cfg is assumed already validated
// (see config.Config.Validate).
func New(cfg config.Config, log logging.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:   cfg,
		log:   log,
		nodes: make([]*node.Node, cfg.NumNodes),
	}
}

// Run brings the whole cluster up and blocks until every node has
// completed its iterations and arrived at the termination barrier, ctx is
// cancelled, or any node fails irrecoverably (a failed listen or an
// exhausted mesh dial). It tears every listener and connection down
// before returning.
func (o *Orchestrator) Run(ctx context.Context) error {
	n := o.cfg.NumNodes

	listeners := make([]net.Listener, n)
	addrs := make([]string, n)
	for i := 0; i < n; i++ {
		ln, err := transport.Listen(o.cfg.BasePort, i)
		if err != nil {
			closeAll(listeners[:i])
			return errors.Wrapf(err, "node %d: listen", i)
		}
		listeners[i] = ln
		addrs[i] = ln.Addr().String()
	}
	defer closeAll(listeners)

	brr := barrier.New(n)
	seed := rand.New(rand.NewSource(time.Now().UnixNano()))

	g, gctx := errgroup.WithContext(ctx)

	// The status API lives outside the node errgroup: it only stops on
	// context cancellation, so keeping it inside the group would leave
	// g.Wait blocked forever after a fully successful run.
	statusCtx, stopStatus := context.WithCancel(ctx)
	defer stopStatus()
	var statusDone chan error
	if o.cfg.StatusAPIEnabled {
		status := statusapi.New(o.cfg.StatusAPIAddr, o.Snapshots, o.log.With(map[string]interface{}{"component": "statusapi"}))
		statusDone = make(chan error, 1)
		go func() { statusDone <- status.Run(statusCtx) }()
	}

	for i := 0; i < n; i++ {
		i := i
		colleagues := quorum.Build(n, i, rand.New(rand.NewSource(seed.Int63())))
		delayRng := rand.New(rand.NewSource(seed.Int63()))
		nodeLog := o.log.With(map[string]interface{}{"node_id": i})

		g.Go(func() error {
			return o.runNode(gctx, i, listeners[i], addrs, colleagues, delayRng, brr, nodeLog)
		})
	}

	err := g.Wait()
	stopStatus()
	if statusDone != nil {
		if serr := <-statusDone; err == nil {
			err = serr
		}
	}
	return err
}

func (o *Orchestrator) runNode(ctx context.Context, id int, ln net.Listener, addrs []string, colleagues []int, rng *rand.Rand, brr *barrier.Barrier, log logging.Logger) error {
	conns, err := transport.DialMesh(ctx, addrs, o.cfg.DialTimeout, log)
	if err != nil {
		return errors.Wrapf(err, "node %d: dial mesh", id)
	}
	sender := transport.NewSender(conns)
	defer sender.Close()

	nd := node.New(node.Config{
		ID:         id,
		Colleagues: colleagues,
		Iterations: o.cfg.Iterations,
		Delays: node.Delays{
			RequestMin:   o.cfg.RequestDelayMin,
			RequestMax:   o.cfg.RequestDelayMax,
			OccupancyMin: o.cfg.CSOccupancyMin,
			OccupancyMax: o.cfg.CSOccupancyMax,
		},
		Link:    sender,
		Barrier: brr,
		Log:     log,
		Rand:    rng,
	})

	o.mu.Lock()
	o.nodes[id] = nd
	o.mu.Unlock()

	receiver := transport.NewReceiver(ln, o.cfg.ReceiverTimeout, log, nd.Dispatch)
	recvDone := make(chan error, 1)
	go func() { recvDone <- receiver.Serve(ctx) }()

	runErr := nd.Run(ctx)

	// Close this node's outbound connections as soon as its own request
	// loop is done, before waiting for its Receiver to drain. Every
	// accepted connection on a peer's Receiver only sees EOF once the far
	// end (this node's Sender) closes; if this waited until after
	// receiver.Serve had already drained every inbound connection, every
	// node in the full mesh would be waiting on every other node to close
	// first, and none would.
	sender.Close()
	ln.Close()
	<-recvDone

	return runErr
}

// Snapshots reports every node's current state, for the status API. Nodes
// not yet constructed (dial phase still in flight) are omitted.
func (o *Orchestrator) Snapshots() []node.Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]node.Snapshot, 0, len(o.nodes))
	for _, nd := range o.nodes {
		if nd != nil {
			out = append(out, nd.Snapshot())
		}
	}
	return out
}

func closeAll(lns []net.Listener) {
	for _, ln := range lns {
		if ln != nil {
			ln.Close()
		}
	}
}
