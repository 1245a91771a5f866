package syncengine

import (
	"context"
	"io"
	"log"
	"testing"

	"fusionbridge/internal/fusionsolar"
	masterdata "fusionbridge/internal/masterdata/domain"
	stationmem "fusionbridge/internal/masterdata/infrastructure/memory"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestReconcileAll_CreatesUnknownStations(t *testing.T) {
	ctx := context.Background()
	repo := stationmem.NewStationRepository()
	registry, err := NewRegistry(repo, testLogger())
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	identities := []fusionsolar.StationIdentity{
		{StationCode: "NE=1", PlantCode: "NE=1", Name: "Plant One", Region: "Poland", CapacityKW: 100},
		{StationCode: "NE=2", PlantCode: "NE=2", Name: "Plant Two", CapacityKW: 50},
	}
	result, err := registry.ReconcileAll(ctx, identities)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Created != 2 || result.Updated != 0 {
		t.Fatalf("expected 2 created, got %+v", result)
	}

	station, err := repo.FindByCode(ctx, "NE=1")
	if err != nil || station == nil {
		t.Fatalf("find NE=1: %v %v", station, err)
	}
	if station.Status != masterdata.StatusActive {
		t.Fatalf("expected new station active, got %s", station.Status)
	}
	if station.SyncPriority != 10 {
		t.Fatalf("expected lowest default priority 10, got %d", station.SyncPriority)
	}
	if station.BatchGroup != masterdata.DefaultBatchGroup {
		t.Fatalf("expected default batch group, got %q", station.BatchGroup)
	}
}

func TestReconcileAll_SecondPassIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := stationmem.NewStationRepository()
	registry, _ := NewRegistry(repo, testLogger())

	identities := []fusionsolar.StationIdentity{
		{StationCode: "NE=1", PlantCode: "NE=1", Name: "Plant One", CapacityKW: 100},
	}
	if _, err := registry.ReconcileAll(ctx, identities); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	result, err := registry.ReconcileAll(ctx, identities)
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if result.Created != 0 || result.Updated != 0 {
		t.Fatalf("expected no changes on second pass, got %+v", result)
	}
}

func TestReconcileAll_RefreshesDescriptiveFieldsOnly(t *testing.T) {
	ctx := context.Background()
	repo := stationmem.NewStationRepository()
	registry, _ := NewRegistry(repo, testLogger())

	if _, err := registry.ReconcileAll(ctx, []fusionsolar.StationIdentity{
		{StationCode: "NE=1", PlantCode: "NE=1", Name: "Old Name", Region: "Poland", CapacityKW: 100},
	}); err != nil {
		t.Fatalf("seed pass: %v", err)
	}
	station, _ := repo.FindByCode(ctx, "NE=1")
	if err := repo.ApplyTelemetry(ctx, station.ID, masterdata.TelemetrySnapshot{
		CurrentPowerKW: 42, Status: masterdata.StatusActive,
	}); err != nil {
		t.Fatalf("apply telemetry: %v", err)
	}

	result, err := registry.ReconcileAll(ctx, []fusionsolar.StationIdentity{
		{StationCode: "NE=1", PlantCode: "NE=1", Name: "New Name", CapacityKW: 150},
	})
	if err != nil {
		t.Fatalf("refresh pass: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("expected 1 update, got %+v", result)
	}

	station, _ = repo.FindByCode(ctx, "NE=1")
	if station.Name != "New Name" || station.CapacityKW != 150 {
		t.Fatalf("descriptive fields not refreshed: %+v", station)
	}
	if station.Region != "Poland" {
		t.Fatalf("expected empty region to preserve the old value, got %q", station.Region)
	}
	if station.CurrentPowerKW != 42 || station.Status != masterdata.StatusActive {
		t.Fatalf("engine-owned fields must survive a refresh: %+v", station)
	}
}

func TestReconcileAll_SkipsDuplicatesAndEmptyCodes(t *testing.T) {
	ctx := context.Background()
	repo := stationmem.NewStationRepository()
	registry, _ := NewRegistry(repo, testLogger())

	result, err := registry.ReconcileAll(ctx, []fusionsolar.StationIdentity{
		{StationCode: "NE=1", Name: "Plant One"},
		{StationCode: "NE=1", Name: "Plant One Again"},
		{StationCode: "", Name: "Orphan"},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Created != 1 || result.Skipped != 2 {
		t.Fatalf("expected 1 created and 2 skipped, got %+v", result)
	}
}
