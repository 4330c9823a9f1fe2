package admin_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rahra/utdns/internal/admin"
	"github.com/rahra/utdns/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStats struct {
	snap dispatch.Snapshot
}

func (f fakeStats) Snapshot() dispatch.Snapshot { return f.snap }

func newTestServer(snap dispatch.Snapshot) *admin.Server {
	return admin.NewServer("127.0.0.1:0", fakeStats{snap: snap}, nil)
}

func serve(t *testing.T, s *admin.Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthz_ReturnsOK(t *testing.T) {
	s := newTestServer(dispatch.Snapshot{})
	w := serve(t, s, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestStats_ReportsDispatchSnapshot(t *testing.T) {
	snap := dispatch.Snapshot{QueriesAccepted: 42, ResponsesRelayed: 40}
	s := newTestServer(snap)
	w := serve(t, s, http.MethodGet, "/stats")

	assert.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Dispatch dispatch.Snapshot `json:"dispatch"`
		CPU      struct {
			NumCPU int `json:"num_cpu"`
		} `json:"cpu"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, snap, resp.Dispatch)
	assert.Greater(t, resp.CPU.NumCPU, 0)
}

func TestMetrics_ExposesPrometheusFormat(t *testing.T) {
	s := newTestServer(dispatch.Snapshot{})
	w := serve(t, s, http.MethodGet, "/metrics")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestObserve_AddsDeltaNotCumulative(t *testing.T) {
	s := newTestServer(dispatch.Snapshot{})
	s.Observe(dispatch.Snapshot{QueriesAccepted: 5}, dispatch.Snapshot{QueriesAccepted: 8})

	w := serve(t, s, http.MethodGet, "/metrics")
	assert.Contains(t, w.Body.String(), "utdns_queries_accepted_total 3")
}
