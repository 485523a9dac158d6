package node

import (
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/message"
)

// send stamps the message with a freshly ticked Lamport timestamp and
// writes it to dest. The mutex is held only long enough to tick the clock;
// the network write happens outside the lock so a slow or blocked write
// can never hold up another goroutine's access to this node's state.
func (n *Node) send(mtype message.Type, dest int, data *message.Priority) {
	n.mu.Lock()
	ts := n.clock.Tick()
	n.mu.Unlock()

	n.writeMessage(message.Message{
		Type: mtype,
		Src:  n.ID,
		Dest: dest,
		TS:   ts,
		Data: data,
	})
}

// multicast ticks the clock exactly once and emits one copy per
// destination in group, all carrying that same timestamp.
func (n *Node) multicast(mtype message.Type, group []int) int64 {
	n.mu.Lock()
	ts := n.clock.Tick()
	n.mu.Unlock()

	for _, dest := range group {
		n.writeMessage(message.Message{
			Type: mtype,
			Src:  n.ID,
			Dest: dest,
			TS:   ts,
		})
	}
	return ts
}

func (n *Node) writeMessage(m message.Message) {
	b, err := message.Encode(m)
	if err != nil {
		n.log.Errorf("encode %s to node %d: %v", m.Type, m.Dest, err)
		return
	}
	if err := n.link.WriteFrame(m.Dest, b); err != nil {
		// A lost connection is a permanent peer failure; there is no
		// retry, it is simply logged.
		n.log.Warnf("write %s to node %d failed: %v", m.Type, m.Dest, err)
		return
	}
	n.log.Debugf("sent %s to node %d (ts=%d)", m.Type, m.Dest, m.TS)
}
