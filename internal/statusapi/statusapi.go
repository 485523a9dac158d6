// Package statusapi exposes a read-only HTTP introspection surface over a
// running set of Maekawa nodes: a liveness probe and a snapshot of every
// node's protocol state. It never takes part in the protocol itself,
// which runs over raw TCP.
package statusapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/logging"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/node"
)

// SnapshotSource reports the current state of every node known to the
// running process. It is normally backed by an orchestrator's node list.
type SnapshotSource func() []node.Snapshot

// Server is the status HTTP server. It never mutates protocol state; every
// route reads through SnapshotSource.
type Server struct {
	httpServer *http.Server
	log        logging.Logger
}

// New builds a Server listening on addr, with routes:
//
//	GET /health  -> {"status":"ok","time":<RFC 3339 timestamp>}
//	GET /status  -> {"nodes":[...Snapshot]}
func New(addr string, source SnapshotSource, log logging.Logger) *Server {
	r := mux.NewRouter()

	r.HandleFunc("/health", handleHealth).Methods("GET")
	r.HandleFunc("/status", handleStatus(source)).Methods("GET")

	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: r,
		},
		log: log,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func handleStatus(source SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"nodes": source(),
		})
	}
}

// Run starts serving and blocks until ctx is cancelled, at which point it
// shuts the server down gracefully. A nil Server (status API disabled) is
// a no-op that simply waits for ctx.
func (s *Server) Run(ctx context.Context) error {
	if s == nil {
		<-ctx.Done()
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("status API listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
