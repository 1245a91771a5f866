package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "fusionbridge_"

// Sync cycle results.
const (
	CycleResultSuccess = "success"
	CycleResultPartial = "partial"
	CycleResultError   = "error"
	CycleResultBlocked = "blocked"
)

var (
	syncCycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: metricPrefix + "sync_cycles_total",
			Help: "Completed sync cycles by result",
		},
		[]string{"result"},
	)

	syncCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "sync_cycle_duration_seconds",
			Help:    "Wall time of a full sync cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	stationsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "stations_processed_total",
			Help: "Stations processed across all cycles",
		},
	)

	stationErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "station_errors_total",
			Help: "Per-station sync failures",
		},
	)

	apiCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    metricPrefix + "api_call_duration_seconds",
			Help:    "Vendor API call latency by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	authFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "auth_failures_total",
			Help: "Vendor authentication failures",
		},
	)

	apiBlocked = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "api_blocked",
			Help: "1 while the auth-failure block is engaged",
		},
	)

	transportBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: metricPrefix + "transport_breaker_state",
			Help: "Transport circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	samplesAppended = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: metricPrefix + "kpi_samples_appended_total",
			Help: "KPI history rows written",
		},
	)
)

func init() {
	prometheus.MustRegister(
		syncCycles,
		syncCycleDuration,
		stationsProcessed,
		stationErrors,
		apiCallDuration,
		authFailures,
		apiBlocked,
		transportBreakerState,
		samplesAppended,
	)
}

// ObserveSyncCycle records one finished cycle.
func ObserveSyncCycle(result string, elapsed time.Duration) {
	syncCycles.WithLabelValues(result).Inc()
	syncCycleDuration.Observe(elapsed.Seconds())
}

// AddStationsProcessed counts stations handled in a batch.
func AddStationsProcessed(n int) {
	if n > 0 {
		stationsProcessed.Add(float64(n))
	}
}

// IncStationError counts one per-station failure.
func IncStationError() { stationErrors.Inc() }

// ObserveAPICall records vendor call latency.
func ObserveAPICall(operation string, elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	apiCallDuration.WithLabelValues(operation, result).Observe(elapsed.Seconds())
}

// IncAuthFailure counts one vendor authentication failure.
func IncAuthFailure() { authFailures.Inc() }

// SetAPIBlocked mirrors the persisted block flag.
func SetAPIBlocked(blocked bool) {
	if blocked {
		apiBlocked.Set(1)
		return
	}
	apiBlocked.Set(0)
}

// SetTransportBreakerState mirrors the gobreaker state.
func SetTransportBreakerState(state float64) { transportBreakerState.Set(state) }

// IncSamplesAppended counts one KPI history row.
func IncSamplesAppended() { samplesAppended.Inc() }
