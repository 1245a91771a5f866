package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	masterdata "fusionbridge/internal/masterdata/domain"
	telemetry "fusionbridge/internal/telemetry/domain"
)

// Mode selects the shape of a sync run.
type Mode string

const (
	ModeFull         Mode = "full"
	ModeIncremental  Mode = "incremental"
	ModeStationsOnly Mode = "stations_only"
	ModeDataOnly     Mode = "data_only"
	ModeRetryFailed  Mode = "retry_failed"
)

// DefaultRetentionDays is how long KPI history rows are kept.
const DefaultRetentionDays = 90

// DefaultIncrementalWindow selects stations for incremental runs: anything
// not synced within this window.
const DefaultIncrementalWindow = time.Hour

// DefaultOutdatedAfter marks a station as outdated in the health report.
const DefaultOutdatedAfter = 2 * time.Hour

// errorRatioWarning is the fleet error share above which the health monitor
// raises a warning.
const errorRatioWarning = 0.10

// Service is the application entry point for sync runs, retention and fleet
// health checks.
type Service struct {
	orchestrator *Orchestrator
	stations     masterdata.StationRepository
	samples      telemetry.SampleRepository

	retentionDays     int
	incrementalWindow time.Duration
	outdatedAfter     time.Duration

	logger *log.Logger
	now    func() time.Time
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithRetentionDays overrides the KPI history retention.
func WithRetentionDays(days int) ServiceOption {
	return func(s *Service) {
		if days > 0 {
			s.retentionDays = days
		}
	}
}

// WithIncrementalWindow overrides the incremental staleness window.
func WithIncrementalWindow(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.incrementalWindow = d
		}
	}
}

// WithOutdatedAfter overrides the health-report staleness threshold.
func WithOutdatedAfter(d time.Duration) ServiceOption {
	return func(s *Service) {
		if d > 0 {
			s.outdatedAfter = d
		}
	}
}

// WithServiceClock overrides the time source for tests.
func WithServiceClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a service.
func NewService(orchestrator *Orchestrator, stations masterdata.StationRepository, samples telemetry.SampleRepository, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if orchestrator == nil {
		return nil, errors.New("sync service: nil orchestrator")
	}
	if stations == nil {
		return nil, errors.New("sync service: nil station repository")
	}
	if samples == nil {
		return nil, errors.New("sync service: nil sample repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		orchestrator:      orchestrator,
		stations:          stations,
		samples:           samples,
		retentionDays:     DefaultRetentionDays,
		incrementalWindow: DefaultIncrementalWindow,
		outdatedAfter:     DefaultOutdatedAfter,
		logger:            logger,
		now:               func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run executes one sync cycle in the given mode. stationCodes, when
// non-empty, narrows the data pass to those stations regardless of mode.
func (s *Service) Run(ctx context.Context, mode Mode, stationCodes []string) (CycleReport, error) {
	opts, err := s.cycleOptions(ctx, mode, len(stationCodes) > 0)
	if err != nil {
		return CycleReport{}, err
	}
	if len(stationCodes) > 0 {
		selected, err := s.resolveStations(ctx, stationCodes)
		if err != nil {
			return CycleReport{}, err
		}
		opts.SyncData = true
		opts.Stations = selected
	}
	s.logger.Printf("sync service: starting %s run", mode)
	return s.orchestrator.RunCycle(ctx, opts)
}

func (s *Service) cycleOptions(ctx context.Context, mode Mode, hasSelection bool) (CycleOptions, error) {
	switch mode {
	case ModeFull, "":
		return CycleOptions{RefreshStations: true, SyncData: true}, nil
	case ModeStationsOnly:
		return CycleOptions{RefreshStations: true}, nil
	case ModeDataOnly:
		if hasSelection {
			return CycleOptions{SyncData: true}, nil
		}
		stations, err := s.stations.List(ctx)
		if err != nil {
			return CycleOptions{}, err
		}
		if len(stations) == 0 {
			return CycleOptions{}, errors.New("sync service: no stations to sync, refresh stations first")
		}
		return CycleOptions{SyncData: true, Stations: stations}, nil
	case ModeIncremental:
		cutoff := s.now().Add(-s.incrementalWindow)
		stale, err := s.stations.ListSyncedBefore(ctx, cutoff)
		if err != nil {
			return CycleOptions{}, err
		}
		if stale == nil {
			stale = []masterdata.Station{}
		}
		return CycleOptions{SyncData: true, Stations: stale}, nil
	case ModeRetryFailed:
		failed, err := s.stations.ListByStatus(ctx, masterdata.StatusSyncError, masterdata.StatusError)
		if err != nil {
			return CycleOptions{}, err
		}
		if failed == nil {
			failed = []masterdata.Station{}
		}
		return CycleOptions{SyncData: true, Stations: failed}, nil
	default:
		return CycleOptions{}, fmt.Errorf("sync service: unknown mode %q", mode)
	}
}

func (s *Service) resolveStations(ctx context.Context, codes []string) ([]masterdata.Station, error) {
	stations := make([]masterdata.Station, 0, len(codes))
	for _, code := range codes {
		station, err := s.stations.FindByCode(ctx, code)
		if err != nil {
			return nil, err
		}
		if station == nil {
			return nil, fmt.Errorf("sync service: unknown station code %q", code)
		}
		stations = append(stations, *station)
	}
	return stations, nil
}

// CleanupOldSamples removes KPI history older than the retention window and
// returns the number of rows removed.
func (s *Service) CleanupOldSamples(ctx context.Context) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)
	removed, err := s.samples.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Printf("sync service: retention cleanup removed %d KPI rows older than %s",
			removed, cutoff.Format(time.RFC3339))
	}
	return removed, nil
}

// HealthReport is a fleet-level status summary.
type HealthReport struct {
	Total      int       `json:"total"`
	Active     int       `json:"active"`
	Inactive   int       `json:"inactive"`
	Errored    int       `json:"errored"`
	Outdated   int       `json:"outdated"`
	ErrorRatio float64   `json:"error_ratio"`
	Warnings   []string  `json:"warnings,omitempty"`
	CheckedAt  time.Time `json:"checked_at"`
}

// MonitorHealth counts the fleet by status and staleness and raises warnings
// when the error share crosses the threshold or stations fall behind.
func (s *Service) MonitorHealth(ctx context.Context) (HealthReport, error) {
	report := HealthReport{CheckedAt: s.now()}
	stations, err := s.stations.List(ctx)
	if err != nil {
		return report, err
	}
	report.Total = len(stations)
	if report.Total == 0 {
		return report, nil
	}

	staleCutoff := report.CheckedAt.Add(-s.outdatedAfter)
	for _, station := range stations {
		switch station.Status {
		case masterdata.StatusActive:
			report.Active++
		case masterdata.StatusInactive:
			report.Inactive++
		case masterdata.StatusError, masterdata.StatusSyncError:
			report.Errored++
		}
		if station.LastSync.IsZero() || station.LastSync.Before(staleCutoff) {
			report.Outdated++
		}
	}
	report.ErrorRatio = float64(report.Errored) / float64(report.Total)

	if report.ErrorRatio > errorRatioWarning {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"%d of %d stations (%.0f%%) are in an error state",
			report.Errored, report.Total, report.ErrorRatio*100))
	}
	if report.Outdated > 0 {
		report.Warnings = append(report.Warnings, fmt.Sprintf(
			"%d stations have no sync newer than %s", report.Outdated, s.outdatedAfter))
	}
	for _, warning := range report.Warnings {
		s.logger.Printf("sync service: health warning: %s", warning)
	}
	return report, nil
}
