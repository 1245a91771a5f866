package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	masterdata "fusionbridge/internal/masterdata/domain"
	telemetry "fusionbridge/internal/telemetry/domain"
)

// trendDays is the daily-production trend window on the fleet snapshot.
const trendDays = 7

// detailsDays is the history window behind per-station statistics.
const detailsDays = 30

// Snapshot is the fleet-level dashboard payload.
type Snapshot struct {
	GeneratedAt time.Time `json:"generated_at"`

	TotalStations int `json:"total_stations"`
	ActiveCount   int `json:"active_count"`
	InactiveCount int `json:"inactive_count"`
	ErrorCount    int `json:"error_count"`

	TotalCapacityKW        float64 `json:"total_capacity_kw"`
	TotalCurrentPowerKW    float64 `json:"total_current_power_kw"`
	TotalDailyEnergyKWh    float64 `json:"total_daily_energy_kwh"`
	TotalMonthlyEnergyKWh  float64 `json:"total_monthly_energy_kwh"`
	TotalYearlyEnergyKWh   float64 `json:"total_yearly_energy_kwh"`
	TotalLifetimeEnergyKWh float64 `json:"total_lifetime_energy_kwh"`

	// EfficiencyPct is current output over installed capacity.
	EfficiencyPct float64 `json:"efficiency_pct"`

	Alerts []Alert      `json:"alerts"`
	Trend  []TrendPoint `json:"trend"`
}

// Alert flags one station needing attention.
type Alert struct {
	StationCode string `json:"station_code"`
	Name        string `json:"name"`
	Status      string `json:"status"`
	LastError   string `json:"last_error,omitempty"`
}

// TrendPoint is one day of fleet production, derived from the daily-energy
// high-water mark in the history.
type TrendPoint struct {
	Date      string  `json:"date"`
	EnergyKWh float64 `json:"energy_kwh"`
}

// StationDetails is the per-station dashboard payload.
type StationDetails struct {
	Station masterdata.Station `json:"station"`

	AvgPowerKW   float64 `json:"avg_power_kw"`
	MaxPowerKW   float64 `json:"max_power_kw"`
	SampleCount  int     `json:"sample_count"`
	WindowDays   int     `json:"window_days"`
	SuccessRatio float64 `json:"success_ratio"`
}

// Service aggregates the mirrored fleet for read-side consumers.
type Service struct {
	stations masterdata.StationRepository
	samples  telemetry.SampleRepository
	logger   *log.Logger
	now      func() time.Time
}

// ServiceOption configures the service.
type ServiceOption func(*Service)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a dashboard service.
func NewService(stations masterdata.StationRepository, samples telemetry.SampleRepository, logger *log.Logger, opts ...ServiceOption) (*Service, error) {
	if stations == nil {
		return nil, errors.New("dashboard: nil station repository")
	}
	if samples == nil {
		return nil, errors.New("dashboard: nil sample repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &Service{
		stations: stations,
		samples:  samples,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// FleetSnapshot builds the fleet dashboard from the current mirror and the
// last seven days of history.
func (s *Service) FleetSnapshot(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{GeneratedAt: s.now()}
	stations, err := s.stations.List(ctx)
	if err != nil {
		return snap, err
	}

	snap.TotalStations = len(stations)
	for _, station := range stations {
		switch station.Status {
		case masterdata.StatusActive:
			snap.ActiveCount++
		case masterdata.StatusInactive:
			snap.InactiveCount++
		case masterdata.StatusError, masterdata.StatusSyncError:
			snap.ErrorCount++
			snap.Alerts = append(snap.Alerts, Alert{
				StationCode: station.StationCode,
				Name:        station.Name,
				Status:      string(station.Status),
				LastError:   station.LastError,
			})
		}
		snap.TotalCapacityKW += station.CapacityKW
		snap.TotalCurrentPowerKW += station.CurrentPowerKW
		snap.TotalDailyEnergyKWh += station.DailyEnergyKWh
		snap.TotalMonthlyEnergyKWh += station.MonthlyEnergyKWh
		snap.TotalYearlyEnergyKWh += station.YearlyEnergyKWh
		snap.TotalLifetimeEnergyKWh += station.LifetimeEnergyKWh
	}
	if snap.TotalCapacityKW > 0 {
		snap.EfficiencyPct = snap.TotalCurrentPowerKW / snap.TotalCapacityKW * 100
	}

	trend, err := s.fleetTrend(ctx, stations)
	if err != nil {
		return snap, err
	}
	snap.Trend = trend
	return snap, nil
}

// fleetTrend sums, per calendar day, the maximum daily-energy reading of each
// station. daily_energy_kwh is a day-cumulative counter on the vendor side,
// so the day's last (highest) reading is the day's production.
func (s *Service) fleetTrend(ctx context.Context, stations []masterdata.Station) ([]TrendPoint, error) {
	now := s.now()
	from := now.AddDate(0, 0, -trendDays).Truncate(24 * time.Hour)

	perDay := make(map[string]float64)
	for _, station := range stations {
		samples, err := s.samples.ListByStation(ctx, station.ID, from, now)
		if err != nil {
			return nil, err
		}
		stationDay := make(map[string]float64)
		for _, sample := range samples {
			day := sample.TS.Format("2006-01-02")
			if sample.DailyEnergyKWh > stationDay[day] {
				stationDay[day] = sample.DailyEnergyKWh
			}
		}
		for day, energy := range stationDay {
			perDay[day] += energy
		}
	}

	trend := make([]TrendPoint, 0, trendDays)
	for i := trendDays - 1; i >= 0; i-- {
		day := now.AddDate(0, 0, -i).Format("2006-01-02")
		trend = append(trend, TrendPoint{Date: day, EnergyKWh: perDay[day]})
	}
	return trend, nil
}

// StationDetails builds per-station statistics over the last thirty days.
func (s *Service) StationDetails(ctx context.Context, stationCode string) (StationDetails, error) {
	var details StationDetails
	station, err := s.stations.FindByCode(ctx, stationCode)
	if err != nil {
		return details, err
	}
	if station == nil {
		return details, fmt.Errorf("dashboard: unknown station code %q", stationCode)
	}
	details.Station = *station
	details.WindowDays = detailsDays

	now := s.now()
	samples, err := s.samples.ListByStation(ctx, station.ID, now.AddDate(0, 0, -detailsDays), now)
	if err != nil {
		return details, err
	}
	details.SampleCount = len(samples)
	var sum float64
	for _, sample := range samples {
		sum += sample.CurrentPowerKW
		if sample.CurrentPowerKW > details.MaxPowerKW {
			details.MaxPowerKW = sample.CurrentPowerKW
		}
	}
	if len(samples) > 0 {
		details.AvgPowerKW = sum / float64(len(samples))
	}
	if station.SyncAttempts > 0 {
		details.SuccessRatio = float64(station.SuccessfulSyncs) / float64(station.SyncAttempts)
	}
	return details, nil
}
