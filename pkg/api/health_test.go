package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgehq/forge/pkg/cluster"
	"github.com/forgehq/forge/pkg/types"
)

func testService(t *testing.T, bindAddr string) *cluster.Service {
	t.Helper()
	svc, err := cluster.NewService(cluster.Config{
		NodeID:             "node-api-test",
		BindAddr:           bindAddr,
		DataDir:            t.TempDir(),
		ElectionTimeoutMin: 100 * time.Millisecond,
		ElectionTimeoutMax: 200 * time.Millisecond,
		HeartbeatInterval:  20 * time.Millisecond,
		RPCTimeout:         100 * time.Millisecond,
		CommitTimeout:      2 * time.Second,
	})
	require.NoError(t, err)
	return svc
}

func TestHealthHandler(t *testing.T) {
	s := NewServer(nil)

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{name: "GET request succeeds", method: http.MethodGet, expectedStatus: http.StatusOK},
		{name: "POST request fails", method: http.MethodPost, expectedStatus: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			w := httptest.NewRecorder()

			s.healthHandler(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
				assert.Equal(t, "healthy", response.Status)
				assert.False(t, response.Timestamp.IsZero())
			}
		})
	}
}

func TestReadyHandlerNoService(t *testing.T) {
	s := NewServer(nil)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	s.readyHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "not ready", response.Status)
	assert.Equal(t, "not initialized", response.Checks["raft"])
}

func TestReadyHandlerBeforeAndAfterLeaderElection(t *testing.T) {
	svc := testService(t, "127.0.0.1:19301")
	s := NewServer(svc)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()
	s.readyHandler(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code, "ready should fail before Start")

	require.NoError(t, svc.Start())
	defer svc.Stop()
	require.Eventually(t, func() bool { return svc.IsLeader() }, 2*time.Second, 10*time.Millisecond)

	w = httptest.NewRecorder()
	s.readyHandler(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	var response ReadyResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "leader", response.Checks["raft"])
}

func TestStatusHandler(t *testing.T) {
	svc := testService(t, "127.0.0.1:19302")
	require.NoError(t, svc.Start())
	defer svc.Stop()
	require.Eventually(t, func() bool { return svc.IsLeader() }, 2*time.Second, 10*time.Millisecond)

	s := NewServer(svc)
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.statusHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var status cluster.Status
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "leader", status.Role)
}

func TestMetricsSummaryHandler(t *testing.T) {
	svc := testService(t, "127.0.0.1:19305")
	require.NoError(t, svc.Start())
	defer svc.Stop()
	require.Eventually(t, func() bool { return svc.IsLeader() }, 2*time.Second, 10*time.Millisecond)

	s := NewServer(svc)
	req := httptest.NewRequest(http.MethodGet, "/metrics-summary", nil)
	w := httptest.NewRecorder()
	s.metricsSummaryHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var m cluster.Metrics
	require.NoError(t, json.NewDecoder(w.Body).Decode(&m))
	assert.GreaterOrEqual(t, m.UptimeSeconds, float64(0))
}

func TestCommandHandlerRoundTrip(t *testing.T) {
	svc := testService(t, "127.0.0.1:19303")
	require.NoError(t, svc.Start())
	defer svc.Stop()
	require.Eventually(t, func() bool { return svc.IsLeader() }, 2*time.Second, 10*time.Millisecond)

	s := NewServer(svc)

	body, err := json.Marshal(types.Command{
		Type:          types.CommandCreateProject,
		CreateProject: &types.CreateProjectPayload{ID: "p-api", Name: "API Test Project"},
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/command", bytes.NewReader(body))
	w := httptest.NewRecorder()
	s.commandHandler(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp ClientResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Empty(t, resp.LeaderID)
}

func TestCommandHandlerRejectsBadMethod(t *testing.T) {
	s := NewServer(nil)
	req := httptest.NewRequest(http.MethodGet, "/command", nil)
	w := httptest.NewRecorder()
	s.commandHandler(w, req)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestLifecycleHandlersViaMux(t *testing.T) {
	svc := testService(t, "127.0.0.1:19304")
	s := NewServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/start", nil)
	w := httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/stop", nil)
	w = httptest.NewRecorder()
	s.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetHandler(t *testing.T) {
	s := NewServer(nil)
	handler := s.GetHandler()
	assert.NotNil(t, handler)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
