package telemetry

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateSample signals a second sample for the same (station, ts) pair.
// The history table is append-only and unique on that pair.
var ErrDuplicateSample = errors.New("kpi sample: duplicate station/timestamp")

// Sample is one immutable KPI history row for a station.
type Sample struct {
	ID                int64
	StationID         int64
	TS                time.Time
	CurrentPowerKW    float64
	DailyEnergyKWh    float64
	MonthlyEnergyKWh  float64
	YearlyEnergyKWh   float64
	LifetimeEnergyKWh float64
}

// Validate checks sample invariants.
func (s Sample) Validate() error {
	if s.StationID == 0 {
		return errors.New("kpi sample: empty station id")
	}
	if s.TS.IsZero() {
		return errors.New("kpi sample: empty timestamp")
	}
	return nil
}

// SampleRepository manages KPI history persistence.
type SampleRepository interface {
	// Append inserts one sample; ErrDuplicateSample on a (station, ts) clash.
	Append(ctx context.Context, sample *Sample) error

	// ListByStation returns samples in [from, to) ordered by ts ascending.
	ListByStation(ctx context.Context, stationID int64, from, to time.Time) ([]Sample, error)

	// ListRecent returns the newest samples for a station, ts descending.
	ListRecent(ctx context.Context, stationID int64, limit int) ([]Sample, error)

	// DeleteOlderThan removes samples with ts < cutoff, returning the count.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
