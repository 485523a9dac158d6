package transport

import (
	"net"
	"sync"

	"github.com/pkg/errors"
)

// Sender owns this node's N outbound streams (one per destination,
// including itself) and writes raw frames to them. It has no knowledge of
// Lamport stamping or message semantics: stamping happens once per send
// or multicast in the caller, and Sender's job is only the single atomic
// write per message.
type Sender struct {
	conns []net.Conn
	mus   []sync.Mutex
	alive []bool
}

// NewSender takes ownership of conns, indexed by destination node id.
func NewSender(conns []net.Conn) *Sender {
	s := &Sender{
		conns: conns,
		mus:   make([]sync.Mutex, len(conns)),
		alive: make([]bool, len(conns)),
	}
	for i := range s.alive {
		s.alive[i] = conns[i] != nil
	}
	return s
}

// WriteFrame writes payload to dest's outbound stream as a single
// contiguous write. Concurrent writers to the same destination are
// serialized so two messages can never interleave on the wire.
func (s *Sender) WriteFrame(dest int, payload []byte) error {
	if dest < 0 || dest >= len(s.conns) {
		return errors.Errorf("transport: no outbound connection to node %d", dest)
	}
	s.mus[dest].Lock()
	defer s.mus[dest].Unlock()

	if !s.alive[dest] {
		return ErrSocketClosed
	}

	if _, err := s.conns[dest].Write(payload); err != nil {
		s.alive[dest] = false
		return errors.Wrapf(err, "write to node %d", dest)
	}
	return nil
}

// Close closes every outbound connection.
func (s *Sender) Close() {
	for dest, conn := range s.conns {
		s.mus[dest].Lock()
		if s.alive[dest] {
			conn.Close()
			s.alive[dest] = false
		}
		s.mus[dest].Unlock()
	}
}
