package reporting

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	"fusionbridge/internal/dashboard"
	masterdata "fusionbridge/internal/masterdata/domain"
)

// Exporter renders fleet reports for download.
type Exporter struct {
	stations  masterdata.StationRepository
	dashboard *dashboard.Service
	logger    *log.Logger
	now       func() time.Time
}

// ExporterOption configures the exporter.
type ExporterOption func(*Exporter)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) ExporterOption {
	return func(e *Exporter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewExporter constructs an exporter.
func NewExporter(stations masterdata.StationRepository, dash *dashboard.Service, logger *log.Logger, opts ...ExporterOption) (*Exporter, error) {
	if stations == nil {
		return nil, errors.New("reporting: nil station repository")
	}
	if dash == nil {
		return nil, errors.New("reporting: nil dashboard service")
	}
	if logger == nil {
		logger = log.Default()
	}
	e := &Exporter{
		stations:  stations,
		dashboard: dash,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

var fleetHeader = []string{
	"Station Code", "Name", "Region", "Capacity (kW)", "Status",
	"Current Power (kW)", "Daily Energy (kWh)", "Monthly Energy (kWh)",
	"Yearly Energy (kWh)", "Lifetime Energy (kWh)",
	"Last Sync", "Sync Attempts", "Successful Syncs", "Last Error",
}

// FleetXLSX renders one worksheet with a row per station.
func (e *Exporter) FleetXLSX(ctx context.Context) ([]byte, error) {
	stations, err := e.stations.List(ctx)
	if err != nil {
		return nil, err
	}

	file := excelize.NewFile()
	defer func() { _ = file.Close() }()

	const sheet = "Fleet"
	index, err := file.NewSheet(sheet)
	if err != nil {
		return nil, fmt.Errorf("reporting: create sheet: %w", err)
	}
	file.SetActiveSheet(index)
	if err := file.DeleteSheet("Sheet1"); err != nil {
		return nil, fmt.Errorf("reporting: drop default sheet: %w", err)
	}

	for col, title := range fleetHeader {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return nil, err
		}
		if err := file.SetCellValue(sheet, cell, title); err != nil {
			return nil, err
		}
	}

	for i, station := range stations {
		lastSync := ""
		if !station.LastSync.IsZero() {
			lastSync = station.LastSync.Format(time.RFC3339)
		}
		values := []any{
			station.StationCode, station.Name, station.Region, station.CapacityKW,
			string(station.Status),
			station.CurrentPowerKW, station.DailyEnergyKWh, station.MonthlyEnergyKWh,
			station.YearlyEnergyKWh, station.LifetimeEnergyKWh,
			lastSync, station.SyncAttempts, station.SuccessfulSyncs, station.LastError,
		}
		for col, value := range values {
			cell, err := excelize.CoordinatesToCellName(col+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := file.SetCellValue(sheet, cell, value); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("reporting: write workbook: %w", err)
	}
	e.logger.Printf("reporting: fleet XLSX rendered with %d stations", len(stations))
	return buf.Bytes(), nil
}

// SummaryPDF renders a one-page fleet summary from the dashboard snapshot.
func (e *Exporter) SummaryPDF(ctx context.Context) ([]byte, error) {
	snap, err := e.dashboard.FleetSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Solar Fleet Summary")
	pdf.Ln(8)
	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 8, "Generated "+snap.GeneratedAt.Format("2006-01-02 15:04 MST"))
	pdf.Ln(12)

	lines := []string{
		fmt.Sprintf("Stations: %d total, %d active, %d inactive, %d in error",
			snap.TotalStations, snap.ActiveCount, snap.InactiveCount, snap.ErrorCount),
		fmt.Sprintf("Installed capacity: %.1f kW", snap.TotalCapacityKW),
		fmt.Sprintf("Current output: %.1f kW (%.1f%% of capacity)",
			snap.TotalCurrentPowerKW, snap.EfficiencyPct),
		fmt.Sprintf("Production today: %.1f kWh", snap.TotalDailyEnergyKWh),
		fmt.Sprintf("Production this month: %.1f kWh", snap.TotalMonthlyEnergyKWh),
		fmt.Sprintf("Production this year: %.1f kWh", snap.TotalYearlyEnergyKWh),
		fmt.Sprintf("Lifetime production: %.1f kWh", snap.TotalLifetimeEnergyKWh),
	}
	pdf.SetFont("Helvetica", "", 12)
	for _, line := range lines {
		pdf.Cell(0, 8, line)
		pdf.Ln(8)
	}

	if len(snap.Alerts) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, "Stations needing attention")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 10)
		for _, alert := range snap.Alerts {
			line := fmt.Sprintf("%s (%s): %s", alert.Name, alert.StationCode, alert.Status)
			if alert.LastError != "" {
				line += " - " + alert.LastError
			}
			pdf.Cell(0, 6, line)
			pdf.Ln(6)
		}
	}

	if len(snap.Trend) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 8, "Daily production, last 7 days")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 10)
		for _, point := range snap.Trend {
			pdf.Cell(0, 6, fmt.Sprintf("%s: %.1f kWh", point.Date, point.EnergyKWh))
			pdf.Ln(6)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("reporting: write pdf: %w", err)
	}
	return buf.Bytes(), nil
}
