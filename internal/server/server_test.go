package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Cris-z123/mailCopilot-sub001/internal/config"
	"github.com/Cris-z123/mailCopilot-sub001/internal/extraction"
	"github.com/Cris-z123/mailCopilot-sub001/internal/modes"
	"github.com/Cris-z123/mailCopilot-sub001/internal/orchestrator"
	"github.com/Cris-z123/mailCopilot-sub001/internal/store"
)

// stubRunner scripts the orchestration layer.
type stubRunner struct {
	result *orchestrator.BatchResult
	err    error
	last   orchestrator.BatchRequest
}

func (r *stubRunner) ProcessBatch(ctx context.Context, req orchestrator.BatchRequest) (*orchestrator.BatchResult, error) {
	r.last = req
	if r.err != nil {
		return nil, r.err
	}
	return r.result, nil
}

type stubLister struct {
	items []store.Item
	err   error
}

func (l *stubLister) ItemsByDate(ctx context.Context, reportDate string) ([]store.Item, error) {
	return l.items, l.err
}

type stubGenerator struct {
	healthy bool
	cfg     extraction.Config
	patches []extraction.ConfigPatch
}

func (g *stubGenerator) Generate(ctx context.Context, req extraction.Request) (*extraction.LLMOutput, error) {
	return nil, nil
}
func (g *stubGenerator) CheckHealth(context.Context) bool { return g.healthy }
func (g *stubGenerator) Config() extraction.Config        { return g.cfg }
func (g *stubGenerator) UpdateConfig(p extraction.ConfigPatch) {
	g.patches = append(g.patches, p)
}

type fixture struct {
	server *Server
	runner *stubRunner
	coord  *modes.Coordinator
	local  *stubGenerator
	remote *stubGenerator
}

func setupTestServer(t *testing.T) *fixture {
	t.Helper()
	runner := &stubRunner{result: &orchestrator.BatchResult{Success: true}}
	coord := modes.New(extraction.ModeLocal, nil)
	local := &stubGenerator{healthy: true}
	remote := &stubGenerator{healthy: true}

	srv, err := New(
		runner,
		&stubLister{},
		coord,
		map[extraction.Mode]extraction.Generator{
			extraction.ModeLocal:  local,
			extraction.ModeRemote: remote,
		},
		nil,
		zap.NewNop(),
		config.ServerConfig{Addr: "127.0.0.1:0"},
	)
	require.NoError(t, err)
	return &fixture{server: srv, runner: runner, coord: coord, local: local, remote: remote}
}

func doJSON(f *fixture, method, target string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServerValidation(t *testing.T) {
	coord := modes.New(extraction.ModeLocal, nil)

	_, err := New(nil, nil, coord, nil, nil, zap.NewNop(), config.ServerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "runner")

	_, err = New(&stubRunner{}, nil, nil, nil, nil, zap.NewNop(), config.ServerConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "coordinator")
}

func TestHandleHealth(t *testing.T) {
	f := setupTestServer(t)
	rec := doJSON(f, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, extraction.ModeLocal, resp.Mode)
	assert.True(t, resp.BackendReady)
}

func TestHandleBatch(t *testing.T) {
	f := setupTestServer(t)
	f.runner.result = &orchestrator.BatchResult{Success: true, Processed: 3}

	rec := doJSON(f, http.MethodPost, "/api/batch", orchestrator.BatchRequest{
		Paths: []string{"a.eml"}, ReportDate: "2025-06-02",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	var result orchestrator.BatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Processed)
	assert.Equal(t, "2025-06-02", f.runner.last.ReportDate)
}

func TestHandleBatchRejections(t *testing.T) {
	f := setupTestServer(t)

	rec := doJSON(f, http.MethodPost, "/api/batch", map[string]any{"paths": []string{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.runner.err = orchestrator.ErrBatchBusy
	rec = doJSON(f, http.MethodPost, "/api/batch", orchestrator.BatchRequest{Paths: []string{"a.eml"}})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleModeLifecycle(t *testing.T) {
	f := setupTestServer(t)

	rec := doJSON(f, http.MethodGet, "/api/mode", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st modes.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, extraction.ModeLocal, st.CurrentMode)

	rec = doJSON(f, http.MethodPost, "/api/mode", ModeSwitchRequest{Mode: extraction.ModeRemote})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, extraction.ModeRemote, st.CurrentMode)

	rec = doJSON(f, http.MethodPost, "/api/mode", map[string]string{"mode": "hybrid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleModeCancelWhileProcessing(t *testing.T) {
	f := setupTestServer(t)
	require.True(t, f.coord.TryAcquire())
	defer f.coord.Release()

	doJSON(f, http.MethodPost, "/api/mode", ModeSwitchRequest{Mode: extraction.ModeRemote})
	st := f.coord.State()
	require.NotNil(t, st.PendingMode)

	rec := doJSON(f, http.MethodDelete, "/api/mode/pending", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, f.coord.State().PendingMode)
}

func TestHandleItems(t *testing.T) {
	f := setupTestServer(t)
	rec := doJSON(f, http.MethodGet, "/api/items", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(f, http.MethodGet, "/api/items?date=2025-06-02", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleBackendConfig(t *testing.T) {
	f := setupTestServer(t)

	timeout := 45
	rec := doJSON(f, http.MethodPost, "/api/backends/remote/config", BackendConfigRequest{
		Model: strPtr("gpt-4o"), TimeoutSec: &timeout,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.remote.patches, 1)
	assert.Equal(t, "gpt-4o", *f.remote.patches[0].Model)

	rec = doJSON(f, http.MethodPost, "/api/backends/hybrid/config", BackendConfigRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	bad := 0
	rec = doJSON(f, http.MethodPost, "/api/backends/local/config", BackendConfigRequest{TimeoutSec: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func strPtr(s string) *string { return &s }
