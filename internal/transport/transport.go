// Package transport provides the per-pair reliable ordered byte streams
// the protocol runs over: one TCP listener per node and one outbound
// connection from every node to every node's listener (including itself).
// Messages from node i to node j always travel on i's outbound connection
// to j and never share a stream with any other source.
package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/logging"
)

// ErrSocketClosed is returned by operations attempted on a connection that
// has already been closed after a read or write error.
var ErrSocketClosed = errors.New("transport: socket closed")

// Address returns the listening address for node id given a base port:
// 127.0.0.1:basePort+id.
func Address(basePort, id int) string {
	return fmt.Sprintf("127.0.0.1:%d", basePort+id)
}

// Listen opens node id's listening socket. If basePort is 0, the OS
// chooses an ephemeral port (useful for tests); callers should read back
// the real port from the returned listener's Addr().
func Listen(basePort, id int) (net.Listener, error) {
	addr := Address(basePort, id)
	if basePort == 0 {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", addr)
	}
	return ln, nil
}

// Dial opens a single outbound connection to addr, bounded by timeout.
func Dial(ctx context.Context, addr string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return conn, nil
}

// DialMesh opens one outbound connection to every address in addrs (index
// i is node i's listening address, including this node's own), retrying
// each dial until it succeeds or ctx is done.
func DialMesh(ctx context.Context, addrs []string, timeout time.Duration, log logging.Logger) ([]net.Conn, error) {
	conns := make([]net.Conn, len(addrs))
	for dest, addr := range addrs {
		conn, err := dialWithRetry(ctx, addr, timeout, log)
		if err != nil {
			for _, c := range conns {
				if c != nil {
					c.Close()
				}
			}
			return nil, err
		}
		conns[dest] = conn
	}
	return conns, nil
}

// dialWithRetry retries a dial against a listener that may not have bound
// its port yet (the mesh-connect phase races every node's Listen call
// against every other node's Dial calls).
func dialWithRetry(ctx context.Context, addr string, timeout time.Duration, log logging.Logger) (net.Conn, error) {
	backoff := 10 * time.Millisecond
	const maxBackoff = 200 * time.Millisecond

	for {
		conn, err := Dial(ctx, addr, timeout)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Debugf("dial %s failed, retrying: %v", addr, err)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
		}
	}
}
