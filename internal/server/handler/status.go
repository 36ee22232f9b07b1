package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
	"github.com/alanyoungcy/wagerwatch/internal/ingest"
)

// SyncStatus is the ingestion side of the status report.
type SyncStatus interface {
	Status() ingest.Status
}

// ReconcileStatus reports the reconciler's queue sizes.
type ReconcileStatus interface {
	Counts() (pending, auto int)
}

// StatusHandler serves GET /api/status. Engine and Reconciler are nil in the
// server-only mode.
type StatusHandler struct {
	Mode        string
	StartedAt   time.Time
	Engine      SyncStatus
	Reconciler  ReconcileStatus
	Checkpoints domain.CheckpointStore
	Logger      *slog.Logger
}

type watermarkJSON struct {
	Block    uint64 `json:"block"`
	LogIndex uint   `json:"logIndex"`
}

// GetStatus reports the run mode, the stored watermarks and, when this
// process ingests, the engine phase.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	wms, err := h.Checkpoints.Watermarks(r.Context())
	if err != nil {
		writeStoreError(w, h.Logger, "watermarks", err)
		return
	}
	marks := make(map[string]watermarkJSON, len(wms))
	for s, p := range wms {
		marks[string(s)] = watermarkJSON{Block: p.Block, LogIndex: p.Index}
	}

	resp := map[string]any{
		"mode":           h.Mode,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
		"watermarks":     marks,
	}
	if h.Engine != nil {
		resp["sync"] = h.Engine.Status()
	}
	if h.Reconciler != nil {
		pending, auto := h.Reconciler.Counts()
		resp["reconcile"] = map[string]int{"pending": pending, "auto_updating": auto}
	}
	writeJSON(w, http.StatusOK, resp)
}
