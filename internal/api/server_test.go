package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Y0oshi/deepfocus/internal/config"
	"github.com/Y0oshi/deepfocus/internal/export"
	"github.com/Y0oshi/deepfocus/internal/probe"
	"github.com/Y0oshi/deepfocus/internal/scan"
	"github.com/Y0oshi/deepfocus/internal/store"
)

func testServer(t *testing.T) (*Server, *store.Store, *config.Config) {
	t.Helper()

	cfg := config.Default()
	cfg.Governor.SampleInterval = time.Hour

	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "api_test.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine := scan.NewEngine(cfg, st, nil)
	ex := export.New(filepath.Join(dir, "exports"), nil)
	h := NewHandlers(cfg, engine, st, ex, nil)
	return NewServer(cfg, h, nil), st, cfg
}

func seed(t *testing.T, st *store.Store, ip string, port int, state string) {
	t.Helper()
	err := st.SaveResult(context.Background(), &probe.Result{
		IP:       ip,
		Port:     port,
		Protocol: probe.ProtocolFTP,
		Service:  "ftp",
		Banner:   "220 ready",
		Auth:     probe.FTPAnonAllowed,
		State:    state,
		SeenAt:   time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deepfocus_")
}

func TestScanStatusIdle(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest("GET", "/api/v1/scan/status", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body ScanStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, scan.SessionIdle, body.Scan.State)
}

func TestStartScanRejectsBadNetwork(t *testing.T) {
	srv, _, _ := testServer(t)

	payload := `{"network": "not-a-cidr"}`
	req := httptest.NewRequest("POST", "/api/v1/scan/start", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartScanRejectsBadPower(t *testing.T) {
	srv, _, _ := testServer(t)

	payload := `{"network": "127.0.0.0/30", "power": 5}`
	req := httptest.NewRequest("POST", "/api/v1/scan/start", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStopScanWithoutRunningScan(t *testing.T) {
	srv, _, _ := testServer(t)

	req := httptest.NewRequest("POST", "/api/v1/scan/stop", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResultsEndpoint(t *testing.T) {
	srv, st, _ := testServer(t)
	seed(t, st, "10.0.0.1", 21, probe.StateOpen)
	seed(t, st, "10.0.0.2", 22, probe.StateUnreachable)

	req := httptest.NewRequest("GET", "/api/v1/results", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Count    int                   `json:"count"`
		Services []store.ServiceRecord `json:"services"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.Count)

	// filtered view
	req = httptest.NewRequest("GET", "/api/v1/results?state=open", nil)
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "10.0.0.1", body.Services[0].IP)
}

func TestExportEndpoint(t *testing.T) {
	srv, st, _ := testServer(t)
	seed(t, st, "10.0.0.1", 21, probe.StateOpen)

	req := httptest.NewRequest("POST", "/api/v1/export", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["records"])

	entries, err := export.ParseFile(body["path"].(string))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "10.0.0.1", entries[0].IP)
}

func TestUpdateSettings(t *testing.T) {
	srv, _, cfg := testServer(t)

	payload := `{"power": 80, "threads": 500}`
	req := httptest.NewRequest("PUT", "/api/v1/settings", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 80, cfg.Scanning.PowerLevel)
	assert.Equal(t, 500, cfg.Scanning.ThreadCount)
}

func TestUpdateSettingsNetworkAndExportDir(t *testing.T) {
	srv, _, cfg := testServer(t)
	newDir := t.TempDir()

	payload := `{"network": "10.20.0.0/24", "export_dir": ` + strconv.Quote(newDir) + `}`
	req := httptest.NewRequest("PUT", "/api/v1/settings", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10.20.0.0/24", cfg.Scanning.TargetNetwork)
	assert.Equal(t, newDir, cfg.Export.Directory)
}

func TestUpdateSettingsRejectsBadNetwork(t *testing.T) {
	srv, _, cfg := testServer(t)
	before := cfg.Scanning.TargetNetwork

	for _, payload := range []string{
		`{"network": "not-a-cidr"}`,
		`{"network": "10.0.0.0/7"}`, // wider than a /8
		`{"export_dir": ""}`,
		`{"network": "10.20.0.0/24", "power": 5}`, // one bad field rejects all
	} {
		req := httptest.NewRequest("PUT", "/api/v1/settings", bytes.NewBufferString(payload))
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "payload %s", payload)
	}
	assert.Equal(t, before, cfg.Scanning.TargetNetwork)
}

func TestUpdateSettingsRejectsOutOfRange(t *testing.T) {
	srv, _, cfg := testServer(t)
	before := cfg.Scanning.PowerLevel

	payload := `{"power": 101}`
	req := httptest.NewRequest("PUT", "/api/v1/settings", bytes.NewBufferString(payload))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, before, cfg.Scanning.PowerLevel)

	payload = `{"threads": 50}`
	req = httptest.NewRequest("PUT", "/api/v1/settings", bytes.NewBufferString(payload))
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetSettings(t *testing.T) {
	srv, _, cfg := testServer(t)

	req := httptest.NewRequest("GET", "/api/v1/settings", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(cfg.Scanning.PowerLevel), body["power"])
	assert.Equal(t, cfg.Scanning.TargetNetwork, body["network"])
}
