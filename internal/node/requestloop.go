package node

import (
	"context"
	"time"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/message"
)

// Run drives the request loop: for each of n.iterations rounds, desync
// sleep, multicast REQUEST, wait for the full quorum (colleagues+self) to
// grant, occupy the critical section, then multicast RELEASE. After the
// last round it registers this node's arrival at the shared termination
// barrier. Run returns early with ctx's error if ctx is cancelled while
// waiting on a timer or on the quorum condition.
func (n *Node) Run(ctx context.Context) error {
	quorum := len(n.Colleagues) + 1

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			n.mu.Lock()
			n.cond.Broadcast()
			n.mu.Unlock()
		case <-done:
		}
	}()

	for i := 0; i < n.iterations; i++ {
		if err := n.sleep(ctx, n.delays.RequestMin, n.delays.RequestMax); err != nil {
			return err
		}

		n.mu.Lock()
		n.grantsReceived = make(map[int]bool, quorum)
		n.grantsReceived[n.ID] = true
		n.yielded = false
		n.failed = false
		n.mu.Unlock()

		n.multicast(message.Request, n.Colleagues)

		n.mu.Lock()
		for len(n.grantsReceived) < quorum && ctx.Err() == nil {
			n.cond.Wait()
		}
		if ctx.Err() != nil {
			n.mu.Unlock()
			return ctx.Err()
		}
		n.inCS = true
		n.csEntries++
		n.log.Debugf("entered critical section (round %d/%d)", i+1, n.iterations)
		n.mu.Unlock()

		occErr := n.sleep(ctx, n.delays.OccupancyMin, n.delays.OccupancyMax)

		n.mu.Lock()
		n.inCS = false
		n.grantsReceived = make(map[int]bool, quorum)
		n.mu.Unlock()

		if occErr != nil {
			return occErr
		}

		n.multicast(message.Release, n.Colleagues)
	}

	if n.brr == nil {
		return nil
	}
	return n.brr.Arrive(ctx, n.ID)
}

// sleep blocks for a duration drawn uniformly from [min, max] (or exactly
// min if max <= min), returning early with ctx's error if ctx is
// cancelled first. This is the desync/occupancy delay used between
// rounds of the request loop.
func (n *Node) sleep(ctx context.Context, min, max time.Duration) error {
	d := min
	if max > min {
		d = min + time.Duration(n.rng.Int63n(int64(max-min+1)))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
