package node

import (
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/message"
)

// Dispatch applies the Lamport receive rule (clock <- max(clock, msg.ts)+1,
// once per message, before anything else) and routes the message to the
// handler for its type. The codec already rejects any type outside the
// six-member enum, so there is no "unknown type" branch here.
func (n *Node) Dispatch(msg message.Message) {
	n.mu.Lock()
	n.clock.Witness(msg.TS)
	n.mu.Unlock()

	switch msg.Type {
	case message.Request:
		n.handleRequest(msg)
	case message.Release:
		n.handleRelease(msg)
	case message.Inquire:
		n.handleInquire(msg)
	case message.Yield:
		n.handleYield(msg)
	case message.Grant:
		n.handleGrant(msg)
	case message.Failed:
		n.handleFailed(msg)
	}
}

// handleRequest decides what a REQUEST gets:
//   - no outstanding grant -> grant immediately.
//   - outstanding grant outranks the request -> enqueue, reply FAILED.
//   - request outranks the outstanding grant -> enqueue, INQUIRE the
//     current grantee.
func (n *Node) handleRequest(msg message.Message) {
	p := message.Priority{TS: msg.TS, Src: msg.Src}

	n.mu.Lock()
	held := n.grantsSent
	if held == nil {
		n.grantsSent = &p
		n.mu.Unlock()
		n.send(message.Grant, msg.Src, nil)
		return
	}

	hp := *held
	n.queue.Put(p)
	if hp.Less(p) {
		// The held grant already outranks the incoming request: deny it.
		n.mu.Unlock()
		n.send(message.Failed, msg.Src, nil)
		return
	}
	// The incoming request outranks the held grant: ask the grantee to yield.
	n.mu.Unlock()
	n.send(message.Inquire, hp.Src, &p)
}

// handleRelease purges any queued entry from the releaser, then hands the
// grant to the next-highest-priority waiter, or clears it if none is
// waiting. A well-behaved peer never has both an outstanding grant and a
// queued request; the purge keeps the handler idempotent if one ever does.
func (n *Node) handleRelease(msg message.Message) {
	n.mu.Lock()
	n.queue.Remove(msg.Src)

	next, ok := n.queue.Pop()
	if ok {
		cp := next
		n.grantsSent = &cp
	} else {
		n.grantsSent = nil
	}
	n.mu.Unlock()

	if ok {
		n.send(message.Grant, next.Src, nil)
	}
}

// handleInquire yields the grant held from the inquirer unless this node
// is already in the critical section, in which case the grant is retained
// and the inquirer will next hear a RELEASE.
func (n *Node) handleInquire(msg message.Message) {
	n.mu.Lock()
	shouldYield := !n.inCS
	if shouldYield {
		n.yielded = true
		delete(n.grantsReceived, msg.Src)
	}
	n.mu.Unlock()

	if shouldYield {
		n.send(message.Yield, msg.Src, nil)
	}
}

// handleYield re-enqueues the yielder, clears a matching held grant, then
// grants the highest-priority waiter (the yielder itself when it was the
// only entry).
func (n *Node) handleYield(msg message.Message) {
	p := message.Priority{TS: msg.TS, Src: msg.Src}

	n.mu.Lock()
	n.queue.Put(p)
	if n.grantsSent != nil && *n.grantsSent == p {
		n.grantsSent = nil
	}

	next, ok := n.queue.Pop()
	if ok {
		cp := next
		n.grantsSent = &cp
	}
	n.mu.Unlock()

	if ok {
		n.send(message.Grant, next.Src, nil)
	}
}

// handleGrant records the grantor, resets the yielded/failed flags, and
// wakes the request loop once the full quorum (colleagues plus self) has
// granted.
func (n *Node) handleGrant(msg message.Message) {
	n.mu.Lock()
	n.grantsReceived[msg.Src] = true
	n.yielded = false
	n.failed = false
	full := len(n.grantsReceived) >= len(n.Colleagues)+1
	n.mu.Unlock()

	if full {
		n.mu.Lock()
		n.cond.Signal()
		n.mu.Unlock()
	}
}

// handleFailed marks the outstanding request as denied. No reply is sent;
// progress depends on the peer eventually releasing and granting this node.
func (n *Node) handleFailed(msg message.Message) {
	n.mu.Lock()
	n.failed = true
	n.yielded = true
	n.mu.Unlock()
}
