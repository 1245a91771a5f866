package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	telemetry "fusionbridge/internal/telemetry/domain"
)

const defaultSampleTable = "kpi_samples"

// SampleRepository is a Postgres implementation of the KPI history store.
type SampleRepository struct {
	db    *sql.DB
	table string
}

// RepositoryOption configures the repository.
type RepositoryOption func(*SampleRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *SampleRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewSampleRepository constructs a repository with the default table name.
func NewSampleRepository(db *sql.DB, opts ...RepositoryOption) *SampleRepository {
	repo := &SampleRepository{db: db, table: defaultSampleTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Append inserts one sample. A (station_id, ts) unique violation surfaces as
// telemetry.ErrDuplicateSample.
func (r *SampleRepository) Append(ctx context.Context, sample *telemetry.Sample) error {
	if r == nil || r.db == nil {
		return errors.New("sample repo: nil db")
	}
	if sample == nil {
		return errors.New("sample repo: nil sample")
	}
	if err := sample.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	station_id, ts, current_power_kw, daily_energy_kwh,
	monthly_energy_kwh, yearly_energy_kwh, lifetime_energy_kwh
) VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`, r.table)

	err := r.db.QueryRowContext(ctx, query,
		sample.StationID,
		sample.TS,
		sample.CurrentPowerKW,
		sample.DailyEnergyKWh,
		sample.MonthlyEnergyKWh,
		sample.YearlyEnergyKWh,
		sample.LifetimeEnergyKWh,
	).Scan(&sample.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return telemetry.ErrDuplicateSample
		}
		return err
	}
	return nil
}

// ListByStation returns samples in [from, to) ordered by ts ascending.
func (r *SampleRepository) ListByStation(ctx context.Context, stationID int64, from, to time.Time) ([]telemetry.Sample, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sample repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, station_id, ts, current_power_kw, daily_energy_kwh,
	monthly_energy_kwh, yearly_energy_kwh, lifetime_energy_kwh
FROM %s
WHERE station_id = $1 AND ts >= $2 AND ts < $3
ORDER BY ts ASC`, r.table)
	return r.querySamples(ctx, query, stationID, from, to)
}

// ListRecent returns the newest samples for a station.
func (r *SampleRepository) ListRecent(ctx context.Context, stationID int64, limit int) ([]telemetry.Sample, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("sample repo: nil db")
	}
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
SELECT id, station_id, ts, current_power_kw, daily_energy_kwh,
	monthly_energy_kwh, yearly_energy_kwh, lifetime_energy_kwh
FROM %s
WHERE station_id = $1
ORDER BY ts DESC
LIMIT $2`, r.table)
	return r.querySamples(ctx, query, stationID, limit)
}

// DeleteOlderThan removes samples with ts < cutoff and returns the count.
func (r *SampleRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("sample repo: nil db")
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE ts < $1", r.table)
	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *SampleRepository) querySamples(ctx context.Context, query string, args ...any) ([]telemetry.Sample, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []telemetry.Sample
	for rows.Next() {
		var s telemetry.Sample
		if err := rows.Scan(
			&s.ID, &s.StationID, &s.TS, &s.CurrentPowerKW, &s.DailyEnergyKWh,
			&s.MonthlyEnergyKWh, &s.YearlyEnergyKWh, &s.LifetimeEnergyKWh,
		); err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
