package node

import (
	"context"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/barrier"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/logging"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/message"
)

// TestMain verifies no goroutine started by a Node's request loop (the
// ctx.Done watcher in Run, in particular) survives past the test that
// spawned it.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeLink records every frame written to it, keyed by destination, so
// tests can assert on what a Node sent without a real socket.
type fakeLink struct {
	mu     sync.Mutex
	frames []sentFrame
}

type sentFrame struct {
	dest int
	msg  message.Message
}

func (f *fakeLink) WriteFrame(dest int, payload []byte) error {
	var m message.Message
	if err := m.UnmarshalJSON(payload); err != nil {
		return err
	}
	f.mu.Lock()
	f.frames = append(f.frames, sentFrame{dest: dest, msg: m})
	f.mu.Unlock()
	return nil
}

func (f *fakeLink) sent() []sentFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentFrame, len(f.frames))
	copy(out, f.frames)
	return out
}

func newTestNode(id int, colleagues []int, link *fakeLink) *Node {
	return New(Config{
		ID:         id,
		Colleagues: colleagues,
		Iterations: 1,
		Delays: Delays{
			RequestMin: time.Millisecond, RequestMax: time.Millisecond,
			OccupancyMin: time.Millisecond, OccupancyMax: time.Millisecond,
		},
		Link: link,
		Log:  logging.Nop(),
		Rand: rand.New(rand.NewSource(1)),
	})
}

func TestHandleRequest_GrantsImmediatelyWhenIdle(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	n.Dispatch(message.Message{Type: message.Request, Src: 1, Dest: 0, TS: 5})

	sent := link.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, message.Grant, sent[0].msg.Type)
	assert.Equal(t, 1, sent[0].dest)

	snap := n.Snapshot()
	require.NotNil(t, snap.GrantsSent)
	assert.Equal(t, message.Priority{TS: 5, Src: 1}, *snap.GrantsSent)
}

func TestHandleRequest_LowerPriorityIsQueuedAndFailed(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	// Node 1 (ts=1) holds the grant; node 2 requests with a later ts, so
	// it is lower priority and must be queued and denied.
	n.Dispatch(message.Message{Type: message.Request, Src: 1, Dest: 0, TS: 1})
	n.Dispatch(message.Message{Type: message.Request, Src: 2, Dest: 0, TS: 10})

	sent := link.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, message.Grant, sent[0].msg.Type)
	assert.Equal(t, message.Failed, sent[1].msg.Type)
	assert.Equal(t, 2, sent[1].dest)
	assert.Equal(t, 1, n.queue.Len())
}

func TestHandleRequest_HigherPriorityTriggersInquire(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	// Node 1 (ts=10) holds the grant; node 2 requests with an earlier ts,
	// so it outranks the held grant and the grantee must be inquired.
	n.Dispatch(message.Message{Type: message.Request, Src: 1, Dest: 0, TS: 10})
	n.Dispatch(message.Message{Type: message.Request, Src: 2, Dest: 0, TS: 3})

	sent := link.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, message.Inquire, sent[1].msg.Type)
	assert.Equal(t, 1, sent[1].dest)
	require.NotNil(t, sent[1].msg.Data)
	assert.Equal(t, 2, sent[1].msg.Data.Src)
}

func TestHandleRelease_GrantsNextQueuedWaiter(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	n.Dispatch(message.Message{Type: message.Request, Src: 1, Dest: 0, TS: 1})
	n.Dispatch(message.Message{Type: message.Request, Src: 2, Dest: 0, TS: 2})
	n.Dispatch(message.Message{Type: message.Release, Src: 1, Dest: 0, TS: 50})

	sent := link.sent()
	require.Len(t, sent, 3)
	assert.Equal(t, message.Grant, sent[2].msg.Type)
	assert.Equal(t, 2, sent[2].dest)
	assert.Equal(t, 0, n.queue.Len())

	snap := n.Snapshot()
	require.NotNil(t, snap.GrantsSent)
	assert.Equal(t, 2, snap.GrantsSent.Src)
}

func TestHandleRelease_ClearsGrantWhenQueueEmpty(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	n.Dispatch(message.Message{Type: message.Request, Src: 1, Dest: 0, TS: 1})
	n.Dispatch(message.Message{Type: message.Release, Src: 1, Dest: 0, TS: 50})

	assert.Nil(t, n.Snapshot().GrantsSent)
}

func TestHandleInquire_YieldsWhenNotInCS(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	n.mu.Lock()
	n.grantsReceived[1] = true
	n.mu.Unlock()

	n.Dispatch(message.Message{Type: message.Inquire, Src: 1, Dest: 0, TS: 7})

	sent := link.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, message.Yield, sent[0].msg.Type)

	snap := n.Snapshot()
	assert.True(t, snap.Yielded)
	assert.NotContains(t, snap.GrantsReceived, 1)
}

func TestHandleInquire_IgnoredWhileInCS(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	n.mu.Lock()
	n.inCS = true
	n.mu.Unlock()

	n.Dispatch(message.Message{Type: message.Inquire, Src: 1, Dest: 0, TS: 7})

	assert.Empty(t, link.sent())
}

func TestHandleYield_RequeuesAndRegrants(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	n.Dispatch(message.Message{Type: message.Request, Src: 1, Dest: 0, TS: 1})
	n.Dispatch(message.Message{Type: message.Yield, Src: 1, Dest: 0, TS: 1})

	sent := link.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, message.Grant, sent[1].msg.Type)
	assert.Equal(t, 1, sent[1].dest)
}

func TestHandleGrant_SignalsOnFullQuorum(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	woke := make(chan struct{})
	go func() {
		n.mu.Lock()
		for len(n.grantsReceived) < 3 {
			n.cond.Wait()
		}
		n.mu.Unlock()
		close(woke)
	}()

	time.Sleep(20 * time.Millisecond)
	n.mu.Lock()
	n.grantsReceived[0] = true
	n.mu.Unlock()
	n.Dispatch(message.Message{Type: message.Grant, Src: 1, Dest: 0, TS: 1})
	n.Dispatch(message.Message{Type: message.Grant, Src: 2, Dest: 0, TS: 1})

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("waiter was never woken after full quorum")
	}
}

func TestHandleFailed_MarksFailedAndYielded(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)

	n.Dispatch(message.Message{Type: message.Failed, Src: 1, Dest: 0, TS: 1})

	snap := n.Snapshot()
	assert.True(t, snap.Failed)
	assert.True(t, snap.Yielded)
}

// TestRun_SoleNodeCompletesEveryRound exercises the request loop with no
// colleagues, so the quorum is satisfied by the self-grant alone: Run
// must complete all rounds and arrive at the barrier without any network
// traffic beyond its own REQUEST/RELEASE multicasts (which have no
// destinations).
func TestRun_SoleNodeCompletesEveryRound(t *testing.T) {
	link := &fakeLink{}
	brr := barrier.New(1)
	n := New(Config{
		ID:         0,
		Colleagues: nil,
		Iterations: 3,
		Delays: Delays{
			RequestMin: time.Millisecond, RequestMax: 2 * time.Millisecond,
			OccupancyMin: time.Millisecond, OccupancyMax: 2 * time.Millisecond,
		},
		Link:    link,
		Barrier: brr,
		Log:     logging.Nop(),
		Rand:    rand.New(rand.NewSource(2)),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := n.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n.Snapshot().CSEntries)
	assert.Equal(t, 1, brr.Arrived())
}

func TestRun_ContextCancellationDuringWaitReturnsPromptly(t *testing.T) {
	link := &fakeLink{}
	n := newTestNode(0, []int{1, 2}, link)
	n.iterations = 1

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
