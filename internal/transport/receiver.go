package transport

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/logging"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/message"
)

// readChunk is the bounded per-read buffer size.
const readChunk = 4096

// Dispatch is called once per decoded Message, in the order it was framed
// off its connection. It must not block for long: the caller is the
// connection's only reader goroutine.
type Dispatch func(message.Message)

// Receiver accepts inbound connections on a listener and, for each one,
// reads bounded chunks, splits them into frames, and dispatches each
// decoded Message. Each accepted connection gets its own reader
// goroutine: per-connection read timeouts are non-fatal liveness pokes,
// socket read errors tear down only the offending connection, and decode
// errors are logged and dropped without affecting the connection.
type Receiver struct {
	ln       net.Listener
	timeout  time.Duration
	log      logging.Logger
	dispatch Dispatch

	wg sync.WaitGroup
}

// NewReceiver builds a Receiver that serves ln.
func NewReceiver(ln net.Listener, timeout time.Duration, log logging.Logger, dispatch Dispatch) *Receiver {
	return &Receiver{ln: ln, timeout: timeout, log: log, dispatch: dispatch}
}

// Serve accepts connections until ctx is done or the listener errors
// fatally. It blocks the caller; run it in its own goroutine.
func (r *Receiver) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		r.ln.Close()
	}()

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			// The listener is gone either way: by ctx cancellation or by
			// the caller closing it directly once its node's request loop
			// finished. Either way, wait for every already-accepted
			// connection's goroutine to exit before returning, so the
			// caller never observes Serve's return as "fully stopped"
			// while a serveConn goroutine is still live.
			r.wg.Wait()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		r.wg.Add(1)
		go r.serveConn(ctx, conn)
	}
}

func (r *Receiver) serveConn(ctx context.Context, conn net.Conn) {
	defer r.wg.Done()
	defer conn.Close()

	buf := make([]byte, readChunk)
	for {
		if ctx.Err() != nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(r.timeout))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				// Non-fatal liveness poke: re-enter the wait.
				continue
			}
			r.log.Warnf("socket read error, closing connection: %v", err)
			return
		}

		msgs, err := message.DecodeFrames(string(buf[:n]))
		if err != nil {
			// Every message in the batch that decoded is still
			// delivered; only the offender is dropped.
			r.log.Warnf("frame decode error (message dropped, connection kept): %v", err)
		}
		for _, m := range msgs {
			r.dispatch(m)
		}
	}
}

// Wait blocks until every connection goroutine this Receiver spawned has
// exited.
func (r *Receiver) Wait() {
	r.wg.Wait()
}
