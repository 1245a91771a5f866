package syncengine

import (
	"context"
	"strings"
	"testing"
	"time"

	masterdata "fusionbridge/internal/masterdata/domain"
	telemetry "fusionbridge/internal/telemetry/domain"
)

func newTestService(t *testing.T, api *stubAPI, opts ...ServiceOption) (*Service, *testEngine) {
	t.Helper()
	engine := newTestEngine(t, api)
	service, err := NewService(engine.orch, engine.stations, engine.samples, testLogger(), opts...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service, engine
}

func TestRun_IncrementalSelectsStaleStationsOnly(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.July, 10, 9, 0, 0, 0, time.UTC)

	api := &stubAPI{}
	api.handler = func(operation string, payload map[string]any) (map[string]any, error) {
		codes, _ := payload["stationCodes"].(string)
		return kpiBody(15, splitCodes(codes)...), nil
	}
	service, engine := newTestService(t, api, WithServiceClock(func() time.Time { return now }))

	fresh := seedStation(t, engine.stations, "NE=FRESH", "default", 5)
	stale := seedStation(t, engine.stations, "NE=STALE", "default", 5)
	if err := engine.stations.ApplyTelemetry(ctx, fresh.ID, masterdata.TelemetrySnapshot{
		Status: masterdata.StatusActive, At: now.Add(-10 * time.Minute),
	}); err != nil {
		t.Fatalf("mark fresh: %v", err)
	}
	if err := engine.stations.ApplyTelemetry(ctx, stale.ID, masterdata.TelemetrySnapshot{
		Status: masterdata.StatusActive, At: now.Add(-3 * time.Hour),
	}); err != nil {
		t.Fatalf("mark stale: %v", err)
	}

	report, err := service.Run(ctx, ModeIncremental, nil)
	if err != nil {
		t.Fatalf("incremental run: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("expected only the stale station, got %+v", report)
	}
	calls := api.callsFor("getStationRealKpi")
	if len(calls) != 1 {
		t.Fatalf("expected 1 KPI call, got %d", len(calls))
	}
	if got, _ := calls[0].payload["stationCodes"].(string); got != "NE=STALE" {
		t.Fatalf("expected NE=STALE, got %q", got)
	}
}

func TestRun_IncrementalWithNothingStale(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	api := &stubAPI{}
	service, engine := newTestService(t, api)

	fresh := seedStation(t, engine.stations, "NE=FRESH", "default", 5)
	if err := engine.stations.ApplyTelemetry(ctx, fresh.ID, masterdata.TelemetrySnapshot{
		Status: masterdata.StatusActive, At: now,
	}); err != nil {
		t.Fatalf("mark fresh: %v", err)
	}

	report, err := service.Run(ctx, ModeIncremental, nil)
	if err != nil {
		t.Fatalf("incremental run: %v", err)
	}
	if report.Processed != 0 {
		t.Fatalf("expected empty data pass, got %+v", report)
	}
	if got := len(api.callsFor("getStationRealKpi")); got != 0 {
		t.Fatalf("expected no KPI calls, got %d", got)
	}
}

func TestRun_RetryFailedSelectsErroredStations(t *testing.T) {
	ctx := context.Background()
	api := &stubAPI{}
	api.handler = func(operation string, payload map[string]any) (map[string]any, error) {
		codes, _ := payload["stationCodes"].(string)
		return kpiBody(8, splitCodes(codes)...), nil
	}
	service, engine := newTestService(t, api)

	seedStation(t, engine.stations, "NE=OK", "default", 5)
	broken := seedStation(t, engine.stations, "NE=BROKEN", "default", 5)
	if err := engine.stations.MarkSyncError(ctx, broken.ID, masterdata.StatusSyncError, "boom"); err != nil {
		t.Fatalf("mark broken: %v", err)
	}

	report, err := service.Run(ctx, ModeRetryFailed, nil)
	if err != nil {
		t.Fatalf("retry run: %v", err)
	}
	if report.Processed != 1 || report.Succeeded != 1 {
		t.Fatalf("expected one retried station, got %+v", report)
	}
	station, _ := engine.stations.FindByCode(ctx, "NE=BROKEN")
	if station.Status != masterdata.StatusActive || station.LastError != "" {
		t.Fatalf("expected recovered station, got %+v", station)
	}
}

func TestRun_StationCodesOverrideSelection(t *testing.T) {
	ctx := context.Background()
	api := &stubAPI{}
	api.handler = func(operation string, payload map[string]any) (map[string]any, error) {
		codes, _ := payload["stationCodes"].(string)
		return kpiBody(5, splitCodes(codes)...), nil
	}
	service, engine := newTestService(t, api)
	seedStation(t, engine.stations, "NE=1", "default", 5)
	seedStation(t, engine.stations, "NE=2", "default", 5)

	report, err := service.Run(ctx, ModeDataOnly, []string{"NE=2"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if report.Processed != 1 {
		t.Fatalf("expected only NE=2 processed, got %+v", report)
	}
}

func TestRun_DataOnlyRequiresStations(t *testing.T) {
	service, _ := newTestService(t, &stubAPI{})
	_, err := service.Run(context.Background(), ModeDataOnly, nil)
	if err == nil || !strings.Contains(err.Error(), "no stations") {
		t.Fatalf("expected no-stations error on an empty mirror, got %v", err)
	}
}

func TestRun_UnknownStationCode(t *testing.T) {
	service, _ := newTestService(t, &stubAPI{})
	_, err := service.Run(context.Background(), ModeDataOnly, []string{"NE=NOPE"})
	if err == nil || !strings.Contains(err.Error(), "unknown station code") {
		t.Fatalf("expected unknown station code error, got %v", err)
	}
}

func TestRun_UnknownMode(t *testing.T) {
	service, _ := newTestService(t, &stubAPI{})
	_, err := service.Run(context.Background(), Mode("bogus"), nil)
	if err == nil || !strings.Contains(err.Error(), "unknown mode") {
		t.Fatalf("expected unknown mode error, got %v", err)
	}
}

func TestCleanupOldSamples_RetentionWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)
	service, engine := newTestService(t, &stubAPI{},
		WithServiceClock(func() time.Time { return now }))

	station := seedStation(t, engine.stations, "NE=1", "default", 5)
	for _, age := range []int{120, 95, 80, 10} {
		sample := &telemetry.Sample{
			StationID:      station.ID,
			TS:             now.AddDate(0, 0, -age),
			CurrentPowerKW: 1,
		}
		if err := engine.samples.Append(ctx, sample); err != nil {
			t.Fatalf("seed sample (%d days): %v", age, err)
		}
	}

	removed, err := service.CleanupOldSamples(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 rows removed with 90-day retention, got %d", removed)
	}
	kept, _ := engine.samples.ListByStation(ctx, station.ID, time.Time{}, now.Add(time.Hour))
	if len(kept) != 2 {
		t.Fatalf("expected 2 rows kept, got %d", len(kept))
	}
}

func TestMonitorHealth_CountsAndWarnings(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
	service, engine := newTestService(t, &stubAPI{},
		WithServiceClock(func() time.Time { return now }))

	active := seedStation(t, engine.stations, "NE=ACTIVE", "default", 5)
	if err := engine.stations.ApplyTelemetry(ctx, active.ID, masterdata.TelemetrySnapshot{
		Status: masterdata.StatusActive, At: now.Add(-5 * time.Minute),
	}); err != nil {
		t.Fatalf("mark active: %v", err)
	}
	seedStation(t, engine.stations, "NE=IDLE", "default", 5)
	errored := seedStation(t, engine.stations, "NE=ERR", "default", 5)
	if err := engine.stations.MarkSyncError(ctx, errored.ID, masterdata.StatusSyncError, "boom"); err != nil {
		t.Fatalf("mark errored: %v", err)
	}

	report, err := service.MonitorHealth(ctx)
	if err != nil {
		t.Fatalf("monitor health: %v", err)
	}
	if report.Total != 3 || report.Active != 1 || report.Inactive != 1 || report.Errored != 1 {
		t.Fatalf("unexpected counts %+v", report)
	}
	// The idle and errored stations never synced, so both are outdated.
	if report.Outdated != 2 {
		t.Fatalf("expected 2 outdated stations, got %d", report.Outdated)
	}
	if len(report.Warnings) != 2 {
		t.Fatalf("expected error-ratio and staleness warnings, got %v", report.Warnings)
	}
}

func TestMonitorHealth_EmptyFleet(t *testing.T) {
	service, _ := newTestService(t, &stubAPI{})
	report, err := service.MonitorHealth(context.Background())
	if err != nil {
		t.Fatalf("monitor health: %v", err)
	}
	if report.Total != 0 || len(report.Warnings) != 0 {
		t.Fatalf("expected empty report, got %+v", report)
	}
}
