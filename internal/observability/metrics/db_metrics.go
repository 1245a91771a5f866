package metrics

import (
	"database/sql"
	"log"

	"github.com/prometheus/client_golang/prometheus"
)

// Init registers the database-backed gauges. Call once after the pool is up.
func Init(db *sql.DB, logger *log.Logger) {
	registerDBMetrics(db, logger)
}

func registerDBMetrics(db *sql.DB, logger *log.Logger) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "stations_total",
			Help: "Stations in the local mirror",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM stations")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "stations_in_error",
			Help: "Stations in error or sync_error status",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM stations WHERE status IN ('error', 'sync_error')")
		},
	))

	prometheus.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: metricPrefix + "kpi_samples_stored",
			Help: "KPI history rows currently stored",
		},
		func() float64 {
			return queryCount(db, logger, "SELECT COUNT(*) FROM kpi_samples")
		},
	))
}

func queryCount(db *sql.DB, logger *log.Logger, query string) float64 {
	if db == nil {
		return 0
	}
	var count int64
	if err := db.QueryRow(query).Scan(&count); err != nil {
		if logger != nil {
			logger.Printf("metrics query failed: %v", err)
		}
		return 0
	}
	if count < 0 {
		return 0
	}
	return float64(count)
}
