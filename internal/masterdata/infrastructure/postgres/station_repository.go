package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	masterdata "fusionbridge/internal/masterdata/domain"
)

const defaultStationTable = "stations"

const stationColumns = `
	id, station_code, plant_code, name, region, capacity_kw,
	sync_priority, batch_group,
	current_power_kw, daily_energy_kwh, monthly_energy_kwh,
	yearly_energy_kwh, lifetime_energy_kwh, last_sync,
	status, sync_attempts, successful_syncs, last_error,
	created_at, updated_at`

// StationRepository is a Postgres implementation of the station store.
type StationRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*StationRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *StationRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewStationRepository constructs a repository with the default table name.
func NewStationRepository(db *sql.DB, opts ...RepositoryOption) *StationRepository {
	repo := &StationRepository{db: db, table: defaultStationTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// FindByCode returns (nil, nil) when no station has the code.
func (r *StationRepository) FindByCode(ctx context.Context, stationCode string) (*masterdata.Station, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE station_code = $1", stationColumns, r.table)
	station, err := scanStation(r.db.QueryRowContext(ctx, query, stationCode))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return station, err
}

// Get returns (nil, nil) when the id is unknown.
func (r *StationRepository) Get(ctx context.Context, id int64) (*masterdata.Station, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1", stationColumns, r.table)
	station, err := scanStation(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return station, err
}

// List returns all stations ordered by (sync_priority, id).
func (r *StationRepository) List(ctx context.Context) ([]masterdata.Station, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY sync_priority ASC, id ASC", stationColumns, r.table)
	return r.queryStations(ctx, query)
}

// ListByStatus returns stations in any of the given statuses.
func (r *StationRepository) ListByStatus(ctx context.Context, statuses ...masterdata.StationStatus) ([]masterdata.Station, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(status)
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE status IN (%s) ORDER BY sync_priority ASC, id ASC",
		stationColumns, r.table, strings.Join(placeholders, ", "),
	)
	return r.queryStations(ctx, query, args...)
}

// ListSyncedBefore returns stations whose last sync is older than cutoff or
// that never synced at all.
func (r *StationRepository) ListSyncedBefore(ctx context.Context, cutoff time.Time) ([]masterdata.Station, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE last_sync IS NULL OR last_sync < $1 ORDER BY sync_priority ASC, id ASC",
		stationColumns, r.table,
	)
	return r.queryStations(ctx, query, cutoff)
}

// Create inserts a new station and fills its ID.
func (r *StationRepository) Create(ctx context.Context, station *masterdata.Station) error {
	if err := r.check(); err != nil {
		return err
	}
	if station == nil {
		return errors.New("station repo: nil station")
	}
	if err := station.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	station_code, plant_code, name, region, capacity_kw,
	sync_priority, batch_group, status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at`, r.table)

	return r.db.QueryRowContext(ctx, query,
		station.StationCode,
		station.PlantCode,
		station.Name,
		station.Region,
		station.CapacityKW,
		station.SyncPriority,
		station.BatchGroup,
		string(station.Status),
	).Scan(&station.ID, &station.CreatedAt, &station.UpdatedAt)
}

// CreateBatch inserts new stations in one transaction.
func (r *StationRepository) CreateBatch(ctx context.Context, stations []*masterdata.Station) error {
	if err := r.check(); err != nil {
		return err
	}
	if len(stations) == 0 {
		return nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	station_code, plant_code, name, region, capacity_kw,
	sync_priority, batch_group, status
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING id, created_at, updated_at`, r.table)

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, station := range stations {
		if station == nil {
			_ = tx.Rollback()
			return errors.New("station repo: nil station in batch")
		}
		if err := station.Validate(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := stmt.QueryRowContext(ctx,
			station.StationCode,
			station.PlantCode,
			station.Name,
			station.Region,
			station.CapacityKW,
			station.SyncPriority,
			station.BatchGroup,
			string(station.Status),
		).Scan(&station.ID, &station.CreatedAt, &station.UpdatedAt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// UpdateDescriptive writes the descriptive columns only. Status, counters and
// last_error are engine-owned and deliberately absent from the statement.
func (r *StationRepository) UpdateDescriptive(ctx context.Context, station *masterdata.Station) error {
	if err := r.check(); err != nil {
		return err
	}
	if station == nil || station.ID == 0 {
		return errors.New("station repo: missing station id")
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	plant_code = $2,
	name = $3,
	region = $4,
	capacity_kw = $5,
	updated_at = NOW()
WHERE id = $1`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		station.ID, station.PlantCode, station.Name, station.Region, station.CapacityKW)
	return err
}

// IncrementSyncAttempts bumps the attempt counter for a batch of stations.
func (r *StationRepository) IncrementSyncAttempts(ctx context.Context, ids []int64) error {
	if err := r.check(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	query := fmt.Sprintf(
		"UPDATE %s SET sync_attempts = sync_attempts + 1, updated_at = NOW() WHERE id IN (%s)",
		r.table, strings.Join(placeholders, ", "),
	)
	_, err := r.db.ExecContext(ctx, query, args...)
	return err
}

// ApplyTelemetry writes the snapshot, stamps last_sync, bumps
// successful_syncs and clears last_error.
func (r *StationRepository) ApplyTelemetry(ctx context.Context, id int64, snap masterdata.TelemetrySnapshot) error {
	if err := r.check(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	current_power_kw = $2,
	daily_energy_kwh = $3,
	monthly_energy_kwh = $4,
	yearly_energy_kwh = $5,
	lifetime_energy_kwh = $6,
	last_sync = $7,
	status = $8,
	successful_syncs = successful_syncs + 1,
	last_error = '',
	updated_at = NOW()
WHERE id = $1`, r.table)

	_, err := r.db.ExecContext(ctx, query,
		id,
		snap.CurrentPowerKW,
		snap.DailyEnergyKWh,
		snap.MonthlyEnergyKWh,
		snap.YearlyEnergyKWh,
		snap.LifetimeEnergyKWh,
		snap.At,
		string(snap.Status),
	)
	return err
}

// MarkSyncError records a failed sync for one station.
func (r *StationRepository) MarkSyncError(ctx context.Context, id int64, status masterdata.StationStatus, message string) error {
	if err := r.check(); err != nil {
		return err
	}
	query := fmt.Sprintf(
		"UPDATE %s SET status = $2, last_error = $3, updated_at = NOW() WHERE id = $1", r.table)
	_, err := r.db.ExecContext(ctx, query, id, string(status), message)
	return err
}

// SetStatus overrides the status only.
func (r *StationRepository) SetStatus(ctx context.Context, id int64, status masterdata.StationStatus) error {
	if err := r.check(); err != nil {
		return err
	}
	query := fmt.Sprintf("UPDATE %s SET status = $2, updated_at = NOW() WHERE id = $1", r.table)
	_, err := r.db.ExecContext(ctx, query, id, string(status))
	return err
}

func (r *StationRepository) check() error {
	if r == nil || r.db == nil {
		return errors.New("station repo: nil db")
	}
	return nil
}

func (r *StationRepository) queryStations(ctx context.Context, query string, args ...any) ([]masterdata.Station, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stations []masterdata.Station
	for rows.Next() {
		station, err := scanStation(rows)
		if err != nil {
			return nil, err
		}
		stations = append(stations, *station)
	}
	return stations, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStation(row rowScanner) (*masterdata.Station, error) {
	var s masterdata.Station
	var status string
	var lastSync sql.NullTime
	var lastError sql.NullString
	if err := row.Scan(
		&s.ID, &s.StationCode, &s.PlantCode, &s.Name, &s.Region, &s.CapacityKW,
		&s.SyncPriority, &s.BatchGroup,
		&s.CurrentPowerKW, &s.DailyEnergyKWh, &s.MonthlyEnergyKWh,
		&s.YearlyEnergyKWh, &s.LifetimeEnergyKWh, &lastSync,
		&status, &s.SyncAttempts, &s.SuccessfulSyncs, &lastError,
		&s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Status = masterdata.StationStatus(status)
	if lastSync.Valid {
		s.LastSync = lastSync.Time
	}
	if lastError.Valid {
		s.LastError = lastError.String
	}
	return &s, nil
}
