package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	masterdata "fusionbridge/internal/masterdata/domain"
)

// StationRepository is an in-memory station store for unit tests.
type StationRepository struct {
	mu     sync.RWMutex
	nextID int64
	byID   map[int64]*masterdata.Station
}

// NewStationRepository constructs an empty repository.
func NewStationRepository() *StationRepository {
	return &StationRepository{nextID: 1, byID: make(map[int64]*masterdata.Station)}
}

// FindByCode returns (nil, nil) when absent.
func (r *StationRepository) FindByCode(ctx context.Context, stationCode string) (*masterdata.Station, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.byID {
		if s.StationCode == stationCode {
			clone := *s
			return &clone, nil
		}
	}
	return nil, nil
}

// Get returns (nil, nil) when absent.
func (r *StationRepository) Get(ctx context.Context, id int64) (*masterdata.Station, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	clone := *s
	return &clone, nil
}

// List returns all stations ordered by (sync_priority, id).
func (r *StationRepository) List(ctx context.Context) ([]masterdata.Station, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotSorted(func(*masterdata.Station) bool { return true }), nil
}

// ListByStatus filters by status.
func (r *StationRepository) ListByStatus(ctx context.Context, statuses ...masterdata.StationStatus) ([]masterdata.Station, error) {
	_ = ctx
	wanted := make(map[masterdata.StationStatus]bool, len(statuses))
	for _, status := range statuses {
		wanted[status] = true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotSorted(func(s *masterdata.Station) bool { return wanted[s.Status] }), nil
}

// ListSyncedBefore returns stale or never-synced stations.
func (r *StationRepository) ListSyncedBefore(ctx context.Context, cutoff time.Time) ([]masterdata.Station, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotSorted(func(s *masterdata.Station) bool {
		return s.LastSync.IsZero() || s.LastSync.Before(cutoff)
	}), nil
}

// Create inserts a station, enforcing the unique station_code constraint.
func (r *StationRepository) Create(ctx context.Context, station *masterdata.Station) error {
	_ = ctx
	if station == nil {
		return errors.New("station repo: nil station")
	}
	if err := station.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.StationCode == station.StationCode {
			return errors.New("station repo: duplicate station code")
		}
	}
	station.ID = r.nextID
	r.nextID++
	now := time.Now().UTC()
	station.CreatedAt = now
	station.UpdatedAt = now
	clone := *station
	r.byID[station.ID] = &clone
	return nil
}

// CreateBatch inserts stations one by one.
func (r *StationRepository) CreateBatch(ctx context.Context, stations []*masterdata.Station) error {
	for _, station := range stations {
		if err := r.Create(ctx, station); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDescriptive writes descriptive fields only.
func (r *StationRepository) UpdateDescriptive(ctx context.Context, station *masterdata.Station) error {
	_ = ctx
	if station == nil || station.ID == 0 {
		return errors.New("station repo: missing station id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[station.ID]
	if !ok {
		return errors.New("station repo: unknown station")
	}
	existing.PlantCode = station.PlantCode
	existing.Name = station.Name
	existing.Region = station.Region
	existing.CapacityKW = station.CapacityKW
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

// IncrementSyncAttempts bumps attempt counters.
func (r *StationRepository) IncrementSyncAttempts(ctx context.Context, ids []int64) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if s, ok := r.byID[id]; ok {
			s.SyncAttempts++
		}
	}
	return nil
}

// ApplyTelemetry applies a snapshot as the Postgres implementation does.
func (r *StationRepository) ApplyTelemetry(ctx context.Context, id int64, snap masterdata.TelemetrySnapshot) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return errors.New("station repo: unknown station")
	}
	s.CurrentPowerKW = snap.CurrentPowerKW
	s.DailyEnergyKWh = snap.DailyEnergyKWh
	s.MonthlyEnergyKWh = snap.MonthlyEnergyKWh
	s.YearlyEnergyKWh = snap.YearlyEnergyKWh
	s.LifetimeEnergyKWh = snap.LifetimeEnergyKWh
	s.LastSync = snap.At
	s.Status = snap.Status
	s.SuccessfulSyncs++
	s.LastError = ""
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// MarkSyncError records a failed sync.
func (r *StationRepository) MarkSyncError(ctx context.Context, id int64, status masterdata.StationStatus, message string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return errors.New("station repo: unknown station")
	}
	s.Status = status
	s.LastError = message
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// SetStatus overrides the status.
func (r *StationRepository) SetStatus(ctx context.Context, id int64, status masterdata.StationStatus) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return errors.New("station repo: unknown station")
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *StationRepository) snapshotSorted(keep func(*masterdata.Station) bool) []masterdata.Station {
	var stations []masterdata.Station
	for _, s := range r.byID {
		if keep(s) {
			stations = append(stations, *s)
		}
	}
	sort.Slice(stations, func(i, j int) bool {
		if stations[i].SyncPriority != stations[j].SyncPriority {
			return stations[i].SyncPriority < stations[j].SyncPriority
		}
		return stations[i].ID < stations[j].ID
	})
	return stations
}
