package statusapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/logging"
	"github.com/sincronizacion-distribuida/maekawa-mutex/internal/node"
)

func newTestServer(t *testing.T, source SnapshotSource) *httptest.Server {
	t.Helper()
	s := New("127.0.0.1:0", source, logging.Nop())
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestHealthRoute(t *testing.T) {
	ts := newTestServer(t, func() []node.Snapshot { return nil })

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusRoute(t *testing.T) {
	ts := newTestServer(t, func() []node.Snapshot {
		return []node.Snapshot{
			{ID: 0, LamportTS: 12, InCS: true, CSEntries: 2},
			{ID: 1, LamportTS: 9},
		}
	})

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Nodes []node.Snapshot `json:"nodes"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Nodes, 2)
	assert.True(t, body.Nodes[0].InCS)
	assert.Equal(t, 2, body.Nodes[0].CSEntries)
}

func TestStatusRejectsNonGET(t *testing.T) {
	ts := newTestServer(t, func() []node.Snapshot { return nil })

	resp, err := http.Post(ts.URL+"/status", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
