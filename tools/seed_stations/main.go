package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Seeds stations and KPI history for load and dashboard testing.

type config struct {
	dsn          string
	stationCount int
	prefix       string
	days         int
	samplesPerDy int
	batchGroups  int
}

func main() {
	cfg := parseConfig()
	if cfg.dsn == "" {
		log.Fatal("PG_DSN or DATABASE_URL is required")
	}
	if cfg.stationCount <= 0 {
		log.Fatal("station-count must be > 0")
	}

	db, err := sql.Open("pgx", cfg.dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	ids, err := seedStations(ctx, db, cfg)
	if err != nil {
		log.Fatalf("seed stations: %v", err)
	}
	if cfg.days > 0 {
		if err := seedSamples(ctx, db, ids, cfg); err != nil {
			log.Fatalf("seed samples: %v", err)
		}
	}
	log.Printf("seed completed: %d stations, %d days of history", len(ids), cfg.days)
}

func parseConfig() config {
	cfg := config{}
	flag.StringVar(&cfg.dsn, "pg-dsn", envOrDefault("PG_DSN", envOrDefault("DATABASE_URL", "")), "Postgres DSN")
	flag.IntVar(&cfg.stationCount, "station-count", envOrInt("STATION_COUNT", 25), "number of stations to seed")
	flag.StringVar(&cfg.prefix, "station-prefix", envOrDefault("STATION_PREFIX", "NE=SEED"), "station code prefix")
	flag.IntVar(&cfg.days, "days", envOrInt("DAYS", 7), "days of KPI history per station")
	flag.IntVar(&cfg.samplesPerDy, "samples-per-day", envOrInt("SAMPLES_PER_DAY", 24), "KPI samples per day")
	flag.IntVar(&cfg.batchGroups, "batch-groups", envOrInt("BATCH_GROUPS", 3), "number of batch groups to spread stations over")
	flag.Parse()
	return cfg
}

func seedStations(ctx context.Context, db *sql.DB, cfg config) ([]int64, error) {
	const insertSQL = `
INSERT INTO stations (
	station_code, plant_code, name, region, capacity_kw,
	sync_priority, batch_group, status
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (station_code) DO UPDATE SET
	name = EXCLUDED.name,
	capacity_kw = EXCLUDED.capacity_kw,
	updated_at = NOW()
RETURNING id`

	regions := []string{"Poland", "Germany", "Spain", "Ukraine"}
	ids := make([]int64, 0, cfg.stationCount)
	for i := 1; i <= cfg.stationCount; i++ {
		code := fmt.Sprintf("%s%04d", cfg.prefix, i)
		group := fmt.Sprintf("group-%d", (i%cfg.batchGroups)+1)
		var id int64
		if err := db.QueryRowContext(ctx, insertSQL,
			code,
			code,
			fmt.Sprintf("Seed Plant %04d", i),
			regions[i%len(regions)],
			float64(50+(i%20)*25),
			(i%10)+1,
			group,
			"active",
		).Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	log.Printf("seeded %d stations", len(ids))
	return ids, nil
}

func seedSamples(ctx context.Context, db *sql.DB, ids []int64, cfg config) error {
	const insertSQL = `
INSERT INTO kpi_samples (
	station_id, ts, current_power_kw, daily_energy_kwh,
	monthly_energy_kwh, yearly_energy_kwh, lifetime_energy_kwh
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (station_id, ts) DO NOTHING`

	start := time.Now().UTC().AddDate(0, 0, -cfg.days).Truncate(24 * time.Hour)
	step := 24 * time.Hour / time.Duration(cfg.samplesPerDy)

	for idx, id := range ids {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		lifetime := float64(1000 * (idx + 1))
		for day := 0; day < cfg.days; day++ {
			daily := 0.0
			for n := 0; n < cfg.samplesPerDy; n++ {
				ts := start.AddDate(0, 0, day).Add(time.Duration(n) * step)
				hour := float64(ts.Hour())
				power := 0.0
				if hour >= 6 && hour <= 20 {
					power = 30 + 30*rand.Float64()
				}
				daily += power * step.Hours()
				lifetime += power * step.Hours()
				if _, err := stmt.ExecContext(ctx, id, ts,
					power, daily, daily*25, daily*300, lifetime); err != nil {
					_ = stmt.Close()
					_ = tx.Rollback()
					return err
				}
			}
		}
		if err := stmt.Close(); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		log.Printf("seeded history for station %d (%d/%d)", id, idx+1, len(ids))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
