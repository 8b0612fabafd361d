package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Y0oshi/deepfocus/internal/config"
	"github.com/Y0oshi/deepfocus/internal/enumerate"
	"github.com/Y0oshi/deepfocus/internal/export"
	"github.com/Y0oshi/deepfocus/internal/governor"
	"github.com/Y0oshi/deepfocus/internal/logging"
	"github.com/Y0oshi/deepfocus/internal/scan"
	"github.com/Y0oshi/deepfocus/internal/store"
)

// Handlers implements the API endpoints over the engine and store.
type Handlers struct {
	mu     sync.Mutex
	cfg    *config.Config
	engine *scan.Engine
	store  *store.Store
	export *export.Exporter
	logger *logging.Logger

	started time.Time
}

// NewHandlers wires the endpoint implementations.
func NewHandlers(cfg *config.Config, engine *scan.Engine, st *store.Store, ex *export.Exporter, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewDefault().WithComponent("api")
	}
	return &Handlers{
		cfg:     cfg,
		engine:  engine,
		store:   st,
		export:  ex,
		logger:  logger,
		started: time.Now(),
	}
}

// Health reports liveness and uptime.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"uptime":  time.Since(h.started).String(),
		"version": Version,
	})
}

// Version is stamped at build time.
var Version = "dev"

// StartScanRequest is the body of POST /api/v1/scan/start. Omitted fields
// fall back to the server configuration.
type StartScanRequest struct {
	Network string `json:"network"`
	Power   int    `json:"power,omitempty"`
	Threads int    `json:"threads,omitempty"`
	Ports   []int  `json:"ports,omitempty"`
}

// StartScan validates the request against the configured limits and
// launches a scan.
func (h *Handlers) StartScan(w http.ResponseWriter, r *http.Request) {
	var req StartScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mu.Lock()
	cfg := *h.cfg
	h.mu.Unlock()

	if req.Network != "" {
		cfg.Scanning.TargetNetwork = req.Network
	}
	if req.Power != 0 {
		cfg.Scanning.PowerLevel = req.Power
	}
	if req.Threads != 0 {
		cfg.Scanning.ThreadCount = req.Threads
	}
	if len(req.Ports) > 0 {
		cfg.Scanning.Ports = req.Ports
	}

	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	source, err := enumerate.New(cfg.Scanning.TargetNetwork, cfg.Scanning.Ports)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.mu.Lock()
	*h.cfg = cfg
	h.mu.Unlock()

	session, err := h.engine.Start(context.Background(), source, cfg.Scanning.TargetNetwork)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, session.Snapshot())
}

// StopScan requests a graceful stop.
func (h *Handlers) StopScan(w http.ResponseWriter, r *http.Request) {
	status := h.engine.Status()
	if status.State != scan.SessionRunning && status.State != scan.SessionStopping {
		writeError(w, http.StatusConflict, "no scan is running")
		return
	}

	// the engine's completion hook writes the export snapshot once the
	// in-flight probes drain
	go h.engine.Stop()
	writeJSON(w, http.StatusAccepted, map[string]string{"state": scan.SessionStopping})
}

// ScanStatusResponse joins session progress with the governor snapshot.
type ScanStatusResponse struct {
	Scan     scan.Progress   `json:"scan"`
	Governor governor.Status `json:"governor"`
}

// ScanStatus reports the current session and governor posture.
func (h *Handlers) ScanStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ScanStatusResponse{
		Scan:     h.engine.Status(),
		Governor: h.engine.GovernorStatus(),
	})
}

// Results returns stored services; ?state=open filters to the exported
// subset.
func (h *Handlers) Results(w http.ResponseWriter, r *http.Request) {
	var (
		recs []store.ServiceRecord
		err  error
	)
	if r.URL.Query().Get("state") == "open" {
		recs, err = h.store.ListOpen(r.Context())
	} else {
		recs, err = h.store.ListAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read results")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count":    len(recs),
		"services": recs,
	})
}

// Export writes a new export file from the open records and returns its
// path.
func (h *Handlers) Export(w http.ResponseWriter, r *http.Request) {
	path, records, err := h.ExportSnapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"path":    path,
		"records": records,
	})
}

// ExportSnapshot writes the open services to the currently configured
// export directory. Shared by the export endpoint and the scan-complete
// hook.
func (h *Handlers) ExportSnapshot(ctx context.Context) (string, int, error) {
	h.mu.Lock()
	ex := h.export
	h.mu.Unlock()

	recs, err := h.store.ListOpen(ctx)
	if err != nil {
		return "", 0, err
	}
	path, err := ex.Export(recs)
	if err != nil {
		return "", 0, err
	}
	return path, len(recs), nil
}

// SettingsRequest is the body of PUT /api/v1/settings. Every field is
// optional; present fields are validated together before any is applied.
type SettingsRequest struct {
	Network   *string `json:"network,omitempty"`
	Power     *int    `json:"power,omitempty"`
	Threads   *int    `json:"threads,omitempty"`
	ExportDir *string `json:"export_dir,omitempty"`
}

// UpdateSettings adjusts the scan range, tuning and export path. Values
// apply to the next scan; an active session keeps the budget it started
// with.
func (h *Handlers) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if req.Power != nil {
		if *req.Power < config.MinPowerLevel || *req.Power > config.MaxPowerLevel {
			writeError(w, http.StatusBadRequest, "power out of range")
			return
		}
	}
	if req.Threads != nil {
		if *req.Threads < config.MinThreadCount || *req.Threads > config.MaxThreadCount {
			writeError(w, http.StatusBadRequest, "threads out of range")
			return
		}
	}
	if req.ExportDir != nil && *req.ExportDir == "" {
		writeError(w, http.StatusBadRequest, "export_dir must not be empty")
		return
	}

	// stage on a copy so a bad network leaves nothing half-applied
	staged := *h.cfg
	if req.Network != nil {
		staged.Scanning.TargetNetwork = *req.Network
	}
	if req.Power != nil {
		staged.Scanning.PowerLevel = *req.Power
	}
	if req.Threads != nil {
		staged.Scanning.ThreadCount = *req.Threads
	}
	if req.ExportDir != nil {
		staged.Export.Directory = *req.ExportDir
	}
	if err := staged.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExportDir != nil && *req.ExportDir != h.cfg.Export.Directory {
		h.export = export.New(*req.ExportDir, h.logger)
	}
	*h.cfg = staged

	writeJSON(w, http.StatusOK, map[string]any{
		"network":    h.cfg.Scanning.TargetNetwork,
		"power":      h.cfg.Scanning.PowerLevel,
		"threads":    h.cfg.Scanning.ThreadCount,
		"export_dir": h.cfg.Export.Directory,
	})
}

// GetSettings returns the current scan tuning.
func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	defer h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"network":    h.cfg.Scanning.TargetNetwork,
		"power":      h.cfg.Scanning.PowerLevel,
		"threads":    h.cfg.Scanning.ThreadCount,
		"ports":      h.cfg.Scanning.Ports,
		"export_dir": h.cfg.Export.Directory,
	})
}
