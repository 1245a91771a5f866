package dashboard

import (
	"context"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	masterdata "fusionbridge/internal/masterdata/domain"
	stationmem "fusionbridge/internal/masterdata/infrastructure/memory"
	telemetry "fusionbridge/internal/telemetry/domain"
	samplemem "fusionbridge/internal/telemetry/infrastructure/memory"
)

func newTestService(t *testing.T, now time.Time) (*Service, *stationmem.StationRepository, *samplemem.SampleRepository) {
	t.Helper()
	stations := stationmem.NewStationRepository()
	samples := samplemem.NewSampleRepository()
	logger := log.New(io.Discard, "", 0)
	service, err := NewService(stations, samples, logger, WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, stations, samples
}

func seedStation(t *testing.T, repo *stationmem.StationRepository, station masterdata.Station) masterdata.Station {
	t.Helper()
	if station.SyncPriority == 0 {
		station.SyncPriority = 5
	}
	if station.Name == "" {
		station.Name = "Plant " + station.StationCode
	}
	if err := repo.Create(context.Background(), &station); err != nil {
		t.Fatalf("seed station %s: %v", station.StationCode, err)
	}
	return station
}

func TestFleetSnapshot_TotalsAndAlerts(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)
	service, stations, _ := newTestService(t, now)

	seedStation(t, stations, masterdata.Station{
		StationCode: "NE=1", CapacityKW: 100, CurrentPowerKW: 40,
		DailyEnergyKWh: 200, LifetimeEnergyKWh: 5000,
		Status: masterdata.StatusActive,
	})
	seedStation(t, stations, masterdata.Station{
		StationCode: "NE=2", CapacityKW: 100, Status: masterdata.StatusInactive,
	})
	seedStation(t, stations, masterdata.Station{
		StationCode: "NE=3", CapacityKW: 50, Status: masterdata.StatusSyncError,
		LastError: "sync failed: boom",
	})

	snap, err := service.FleetSnapshot(ctx)
	if err != nil {
		t.Fatalf("fleet snapshot: %v", err)
	}
	if snap.TotalStations != 3 || snap.ActiveCount != 1 || snap.InactiveCount != 1 || snap.ErrorCount != 1 {
		t.Fatalf("unexpected counts %+v", snap)
	}
	if snap.TotalCapacityKW != 250 || snap.TotalCurrentPowerKW != 40 {
		t.Fatalf("unexpected totals %+v", snap)
	}
	if snap.EfficiencyPct != 16 {
		t.Fatalf("expected efficiency 16%%, got %v", snap.EfficiencyPct)
	}
	if len(snap.Alerts) != 1 || snap.Alerts[0].StationCode != "NE=3" {
		t.Fatalf("unexpected alerts %v", snap.Alerts)
	}
	if snap.Alerts[0].LastError != "sync failed: boom" {
		t.Fatalf("alert must carry the error, got %+v", snap.Alerts[0])
	}
	if len(snap.Trend) != trendDays {
		t.Fatalf("expected %d trend points, got %d", trendDays, len(snap.Trend))
	}
}

func TestFleetSnapshot_TrendUsesDailyHighWaterMark(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.August, 15, 22, 0, 0, 0, time.UTC)
	service, stations, samples := newTestService(t, now)

	a := seedStation(t, stations, masterdata.Station{StationCode: "NE=A", Status: masterdata.StatusActive})
	b := seedStation(t, stations, masterdata.Station{StationCode: "NE=B", Status: masterdata.StatusActive})

	today := now.Truncate(24 * time.Hour)
	// daily_energy_kwh grows over the day; the last reading is the production.
	for hour, energy := range map[int]float64{8: 20, 12: 80, 18: 150} {
		if err := samples.Append(ctx, &telemetry.Sample{
			StationID: a.ID, TS: today.Add(time.Duration(hour) * time.Hour), DailyEnergyKWh: energy,
		}); err != nil {
			t.Fatalf("seed sample: %v", err)
		}
	}
	if err := samples.Append(ctx, &telemetry.Sample{
		StationID: b.ID, TS: today.Add(14 * time.Hour), DailyEnergyKWh: 50,
	}); err != nil {
		t.Fatalf("seed sample: %v", err)
	}

	snap, err := service.FleetSnapshot(ctx)
	if err != nil {
		t.Fatalf("fleet snapshot: %v", err)
	}
	last := snap.Trend[len(snap.Trend)-1]
	if last.Date != today.Format("2006-01-02") {
		t.Fatalf("expected today last, got %s", last.Date)
	}
	if last.EnergyKWh != 200 {
		t.Fatalf("expected 150+50 for today, got %v", last.EnergyKWh)
	}
}

func TestStationDetails_Statistics(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)
	service, stations, samples := newTestService(t, now)

	station := seedStation(t, stations, masterdata.Station{
		StationCode: "NE=1", Status: masterdata.StatusActive,
	})
	if err := stations.IncrementSyncAttempts(ctx, []int64{station.ID}); err != nil {
		t.Fatalf("bump attempts: %v", err)
	}
	if err := stations.IncrementSyncAttempts(ctx, []int64{station.ID}); err != nil {
		t.Fatalf("bump attempts: %v", err)
	}
	if err := stations.ApplyTelemetry(ctx, station.ID, masterdata.TelemetrySnapshot{
		Status: masterdata.StatusActive, At: now,
	}); err != nil {
		t.Fatalf("apply telemetry: %v", err)
	}

	for i, power := range []float64{10, 20, 30} {
		if err := samples.Append(ctx, &telemetry.Sample{
			StationID: station.ID, TS: now.Add(-time.Duration(i+1) * time.Hour), CurrentPowerKW: power,
		}); err != nil {
			t.Fatalf("seed sample: %v", err)
		}
	}
	// Outside the 30-day window, must be ignored.
	if err := samples.Append(ctx, &telemetry.Sample{
		StationID: station.ID, TS: now.AddDate(0, 0, -45), CurrentPowerKW: 500,
	}); err != nil {
		t.Fatalf("seed old sample: %v", err)
	}

	details, err := service.StationDetails(ctx, "NE=1")
	if err != nil {
		t.Fatalf("station details: %v", err)
	}
	if details.SampleCount != 3 {
		t.Fatalf("expected 3 samples in window, got %d", details.SampleCount)
	}
	if details.AvgPowerKW != 20 || details.MaxPowerKW != 30 {
		t.Fatalf("unexpected stats avg=%v max=%v", details.AvgPowerKW, details.MaxPowerKW)
	}
	if details.SuccessRatio != 0.5 {
		t.Fatalf("expected success ratio 0.5, got %v", details.SuccessRatio)
	}
}

func TestStationDetails_UnknownCode(t *testing.T) {
	service, _, _ := newTestService(t, time.Now().UTC())
	_, err := service.StationDetails(context.Background(), "NE=NOPE")
	if err == nil || !strings.Contains(err.Error(), "unknown station code") {
		t.Fatalf("expected unknown station code error, got %v", err)
	}
}
