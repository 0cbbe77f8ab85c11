package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-mem/cmem-worker/internal/auth"
	"github.com/open-mem/cmem-worker/internal/config"
	"github.com/open-mem/cmem-worker/internal/queue"
	"github.com/open-mem/cmem-worker/internal/search"
	"github.com/open-mem/cmem-worker/internal/sse"
	"github.com/open-mem/cmem-worker/internal/store"
)

func newTestServer(t *testing.T) (*Server, *auth.Manager) {
	t.Helper()
	dir := t.TempDir()

	authMgr, err := auth.EnsureToken(filepath.Join(dir, "auth.token"))
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(dir, "cmem.db"), authMgr.HMACKey())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	broker := sse.NewBroker()
	t.Cleanup(broker.Stop)

	cfg := config.Defaults()
	cfg.Port = 8765
	cfg.Host = "127.0.0.1"
	cfg.RateLimitRPS = 1000
	cfg.RateLimitBurst = 1000
	cfg.BodySizeLimit = 100 * 1024

	qcfg := cfg.Queue
	qcfg.PollInterval = 10 * time.Millisecond
	qcfg.StuckScanPeriod = time.Hour

	eng := queue.New(st, qcfg, broker)
	require.NoError(t, eng.Start(func(ctx context.Context, item store.QueueItem) (*queue.ProcessResult, error) {
		obs, err := st.InsertObservation(store.Observation{
			SessionID: item.SessionID, ToolName: "Edit", ObsType: store.ObsOther,
			Title: "t", Narrative: "n", Compressed: "{}",
		})
		if err != nil {
			return nil, err
		}
		return &queue.ProcessResult{ObservationID: obs.ID}, nil
	}))
	t.Cleanup(eng.Stop)

	sc := search.New(st)

	srv := New(cfg, st, eng, sc, broker, authMgr)
	t.Cleanup(srv.rateLimit.Stop)
	return srv, authMgr
}

func authedRequest(t *testing.T, mgr *auth.Manager, method, target string, body interface{}) *http.Request {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	req.RemoteAddr = "127.0.0.1:5555"
	req.Header.Set("Authorization", "Bearer "+mgr.Token())
	if method == http.MethodPost || method == http.MethodPut {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func TestHealth_NoAuthRequired(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoute_RejectsMissingToken(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtectedRoute_RejectsNonLocalhost(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.RemoteAddr = "10.0.0.7:1234"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSessionInit_ThenObservationLifecycle(t *testing.T) {
	s, mgr := newTestServer(t)

	initReq := authedRequest(t, mgr, http.MethodPost, "/api/sessions/init", map[string]interface{}{
		"session_id": "sess-abc", "project": "proj1", "userPrompt": "do the thing",
	})
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, initReq)
	require.Equal(t, http.StatusOK, rec.Code)

	var initResp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &initResp))
	assert.True(t, initResp["success"].(bool))

	obsReq := authedRequest(t, mgr, http.MethodPost, "/api/observations", map[string]interface{}{
		"session_id": "sess-abc", "tool_name": "Edit", "tool_input": map[string]string{"file": "a.go"},
		"tool_response": "ok", "project": "proj1",
	})
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, obsReq)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		listReq := authedRequest(t, mgr, http.MethodGet, "/api/observations?project=proj1", nil)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, listReq)
		var resp map[string]interface{}
		_ = json.Unmarshal(rec.Body.Bytes(), &resp)
		obs, ok := resp["observations"].([]interface{})
		return ok && len(obs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestContext_RequiresProjectParam(t *testing.T) {
	s, mgr := newTestServer(t)
	req := authedRequest(t, mgr, http.MethodGet, "/api/context", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContext_WrapsInContextElement(t *testing.T) {
	s, mgr := newTestServer(t)
	req := authedRequest(t, mgr, http.MethodGet, "/api/context?project=proj1", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "<c-mem-context>")
	assert.NotEmpty(t, rec.Header().Get("X-Token-Estimate"))
}

func TestNoRoute_Returns404WithEnvelope(t *testing.T) {
	s, mgr := newTestServer(t)
	req := authedRequest(t, mgr, http.MethodGet, "/not-a-real-route", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Not found")
}

func TestContentTypeEnforcement_RejectsNonJSON(t *testing.T) {
	s, mgr := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/sessions/complete", bytes.NewReader([]byte(`{"session_id":"x"}`)))
	req.RemoteAddr = "127.0.0.1:5555"
	req.Header.Set("Authorization", "Bearer "+mgr.Token())
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestCORS_EchoesAllowedOriginOnly(t *testing.T) {
	s, mgr := newTestServer(t)

	req := authedRequest(t, mgr, http.MethodGet, "/api/stats", nil)
	req.Header.Set("Origin", "http://localhost:8765")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:8765", rec.Header().Get("Access-Control-Allow-Origin"))

	req2 := authedRequest(t, mgr, http.MethodGet, "/api/stats", nil)
	req2.Header.Set("Origin", "https://evil.com")
	rec2 := httptest.NewRecorder()
	s.router.ServeHTTP(rec2, req2)
	assert.Empty(t, rec2.Header().Get("Access-Control-Allow-Origin"))
}
