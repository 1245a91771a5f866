package masterdata

import (
	"context"
	"errors"
	"time"
)

// StationStatus is the operational state of a mirrored station.
type StationStatus string

const (
	StatusActive      StationStatus = "active"
	StatusInactive    StationStatus = "inactive"
	StatusMaintenance StationStatus = "maintenance"
	StatusError       StationStatus = "error"
	StatusSyncError   StationStatus = "sync_error"
)

// DefaultBatchGroup is assigned to stations without an operator partition.
const DefaultBatchGroup = "default"

// Station mirrors a remote solar plant. Telemetry snapshot and the sync
// statistics are engine-owned: descriptive refreshes must never touch them.
type Station struct {
	ID           int64
	StationCode  string
	PlantCode    string
	Name         string
	Region       string
	CapacityKW   float64
	SyncPriority int
	BatchGroup   string

	CurrentPowerKW    float64
	DailyEnergyKWh    float64
	MonthlyEnergyKWh  float64
	YearlyEnergyKWh   float64
	LifetimeEnergyKWh float64
	LastSync          time.Time

	Status          StationStatus
	SyncAttempts    int
	SuccessfulSyncs int
	LastError       string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks station invariants.
func (s Station) Validate() error {
	if s.StationCode == "" {
		return errors.New("station: empty station code")
	}
	if s.Name == "" {
		return errors.New("station: empty name")
	}
	if s.CapacityKW < 0 {
		return errors.New("station: negative capacity")
	}
	if s.SyncPriority < 1 || s.SyncPriority > 10 {
		return errors.New("station: sync priority out of range 1..10")
	}
	return nil
}

// TelemetrySnapshot is the per-cycle KPI update applied to a station.
type TelemetrySnapshot struct {
	CurrentPowerKW    float64
	DailyEnergyKWh    float64
	MonthlyEnergyKWh  float64
	YearlyEnergyKWh   float64
	LifetimeEnergyKWh float64
	Status            StationStatus
	At                time.Time
}

// StationRepository manages station persistence. Find methods return
// (nil, nil) when no station matches.
type StationRepository interface {
	FindByCode(ctx context.Context, stationCode string) (*Station, error)
	Get(ctx context.Context, id int64) (*Station, error)
	List(ctx context.Context) ([]Station, error)
	ListByStatus(ctx context.Context, statuses ...StationStatus) ([]Station, error)
	ListSyncedBefore(ctx context.Context, cutoff time.Time) ([]Station, error)

	Create(ctx context.Context, station *Station) error
	CreateBatch(ctx context.Context, stations []*Station) error

	// UpdateDescriptive writes name/plant_code/capacity/region only. The
	// engine-owned columns are excluded by construction.
	UpdateDescriptive(ctx context.Context, station *Station) error

	// IncrementSyncAttempts bumps the attempt counter for a whole batch.
	IncrementSyncAttempts(ctx context.Context, ids []int64) error

	// ApplyTelemetry writes the snapshot, sets last_sync, increments
	// successful_syncs and clears last_error.
	ApplyTelemetry(ctx context.Context, id int64, snap TelemetrySnapshot) error

	// MarkSyncError records a failed sync for one station.
	MarkSyncError(ctx context.Context, id int64, status StationStatus, message string) error

	// SetStatus overrides the status without touching counters.
	SetStatus(ctx context.Context, id int64, status StationStatus) error
}
