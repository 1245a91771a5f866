package http

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"fusionbridge/internal/audit"
	"fusionbridge/internal/auth"
	"fusionbridge/internal/health"
	"fusionbridge/internal/syncengine"
)

// SyncHandler exposes the sync engine's administrative operations.
type SyncHandler struct {
	service     *syncengine.Service
	guard       *health.Guard
	auditLogger audit.Logger
	logger      *log.Logger
}

// NewSyncHandler constructs a handler.
func NewSyncHandler(service *syncengine.Service, guard *health.Guard, auditLogger audit.Logger, logger *log.Logger) (*SyncHandler, error) {
	if service == nil {
		return nil, errors.New("sync handler: nil service")
	}
	if guard == nil {
		return nil, errors.New("sync handler: nil health guard")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &SyncHandler{service: service, guard: guard, auditLogger: auditLogger, logger: logger}, nil
}

// Register mounts the sync routes on the mux.
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/sync/run", h.handleRun)
	mux.HandleFunc("/api/v1/sync/reset-block", h.handleResetBlock)
	mux.HandleFunc("/api/v1/sync/cleanup", h.handleCleanup)
	mux.HandleFunc("/api/v1/sync/status", h.handleStatus)
	mux.HandleFunc("/api/v1/sync/health", h.handleHealth)
}

type runRequest struct {
	Mode         string   `json:"mode"`
	StationCodes []string `json:"station_codes"`
}

// handleRun handles POST /api/v1/sync/run.
func (h *SyncHandler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// An empty body means a full run with defaults.
	var req runRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}

	report, err := h.service.Run(r.Context(), syncengine.Mode(req.Mode), req.StationCodes)
	if err != nil {
		var blocked *health.BlockedError
		var limited *health.RateLimitedError
		switch {
		case errors.As(err, &blocked), errors.As(err, &limited):
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error(), "report": report})
		case report.StartedAt.IsZero():
			// Rejected before the cycle started: bad mode or unknown station.
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "report": report})
		}
		h.logAudit(r, "sync.run", req.Mode)
		return
	}
	writeJSON(w, http.StatusOK, report)
	h.logAudit(r, "sync.run", req.Mode)
}

// handleResetBlock handles POST /api/v1/sync/reset-block.
func (h *SyncHandler) handleResetBlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.guard.ResetBlock(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	h.logAudit(r, "sync.reset_block", "")
}

// handleCleanup handles POST /api/v1/sync/cleanup.
func (h *SyncHandler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	removed, err := h.service.CleanupOldSamples(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
	h.logAudit(r, "sync.cleanup", "")
}

// handleStatus handles GET /api/v1/sync/status, the health guard state.
func (h *SyncHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	state, err := h.guard.Load(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"api_blocked":           state.APIBlocked,
		"auth_error_count":      state.AuthErrorCount,
		"last_auth_error":       state.LastAuthError,
		"block_reason":          state.BlockReason,
		"block_time":            state.BlockTime,
		"frequency_block_until": state.FrequencyBlockUntil,
		"last_successful_sync":  state.LastSuccessfulSync,
	})
}

// handleHealth handles GET /api/v1/sync/health, the fleet health report.
func (h *SyncHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	report, err := h.service.MonitorHealth(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *SyncHandler) logAudit(r *http.Request, action, detail string) {
	if h.auditLogger == nil {
		return
	}
	var metadata json.RawMessage
	if detail != "" {
		metadata, _ = json.Marshal(map[string]string{"mode": detail})
	}
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "sync",
		Metadata:     metadata,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Printf("sync handler: audit log: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
