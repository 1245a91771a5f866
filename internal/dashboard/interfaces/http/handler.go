package http

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"fusionbridge/internal/dashboard"
	"fusionbridge/internal/reporting"
)

// DashboardHandler exposes the fleet dashboard and report downloads.
type DashboardHandler struct {
	dashboard *dashboard.Service
	exporter  *reporting.Exporter
	logger    *log.Logger
}

// NewDashboardHandler constructs a handler.
func NewDashboardHandler(dash *dashboard.Service, exporter *reporting.Exporter, logger *log.Logger) (*DashboardHandler, error) {
	if dash == nil {
		return nil, errors.New("dashboard handler: nil dashboard service")
	}
	if exporter == nil {
		return nil, errors.New("dashboard handler: nil exporter")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &DashboardHandler{dashboard: dash, exporter: exporter, logger: logger}, nil
}

// Register mounts the dashboard routes on the mux.
func (h *DashboardHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/dashboard", h.handleFleet)
	mux.HandleFunc("/api/v1/stations/", h.handleStation)
	mux.HandleFunc("/api/v1/reports/fleet.xlsx", h.handleFleetXLSX)
	mux.HandleFunc("/api/v1/reports/summary.pdf", h.handleSummaryPDF)
}

// handleFleet handles GET /api/v1/dashboard.
func (h *DashboardHandler) handleFleet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	snap, err := h.dashboard.FleetSnapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

// handleStation handles GET /api/v1/stations/{code}.
func (h *DashboardHandler) handleStation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	code := strings.TrimPrefix(r.URL.Path, "/api/v1/stations/")
	if code == "" || strings.Contains(code, "/") {
		http.Error(w, "missing station code", http.StatusBadRequest)
		return
	}
	details, err := h.dashboard.StationDetails(r.Context(), code)
	if err != nil {
		if strings.Contains(err.Error(), "unknown station code") {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(details)
}

// handleFleetXLSX handles GET /api/v1/reports/fleet.xlsx.
func (h *DashboardHandler) handleFleetXLSX(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	payload, err := h.exporter.FleetXLSX(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	filename := "fleet-" + time.Now().UTC().Format("20060102") + ".xlsx"
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}

// handleSummaryPDF handles GET /api/v1/reports/summary.pdf.
func (h *DashboardHandler) handleSummaryPDF(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	payload, err := h.exporter.SummaryPDF(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	filename := "summary-" + time.Now().UTC().Format("20060102") + ".pdf"
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	_, _ = w.Write(payload)
}
