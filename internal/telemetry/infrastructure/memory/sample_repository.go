package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	telemetry "fusionbridge/internal/telemetry/domain"
)

// SampleRepository is an in-memory KPI history store for unit tests. It
// enforces the same (station, ts) uniqueness as the Postgres table.
type SampleRepository struct {
	mu      sync.RWMutex
	nextID  int64
	samples []telemetry.Sample
	seen    map[sampleKey]bool
}

type sampleKey struct {
	stationID int64
	ts        int64
}

// NewSampleRepository constructs an empty repository.
func NewSampleRepository() *SampleRepository {
	return &SampleRepository{nextID: 1, seen: make(map[sampleKey]bool)}
}

// Append inserts one sample, rejecting (station, ts) duplicates.
func (r *SampleRepository) Append(ctx context.Context, sample *telemetry.Sample) error {
	_ = ctx
	if sample == nil {
		return errors.New("sample repo: nil sample")
	}
	if err := sample.Validate(); err != nil {
		return err
	}
	key := sampleKey{stationID: sample.StationID, ts: sample.TS.UnixNano()}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen[key] {
		return telemetry.ErrDuplicateSample
	}
	sample.ID = r.nextID
	r.nextID++
	r.seen[key] = true
	r.samples = append(r.samples, *sample)
	return nil
}

// ListByStation returns samples in [from, to) ordered by ts ascending.
func (r *SampleRepository) ListByStation(ctx context.Context, stationID int64, from, to time.Time) ([]telemetry.Sample, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []telemetry.Sample
	for _, s := range r.samples {
		if s.StationID == stationID && !s.TS.Before(from) && s.TS.Before(to) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

// ListRecent returns the newest samples for a station.
func (r *SampleRepository) ListRecent(ctx context.Context, stationID int64, limit int) ([]telemetry.Sample, error) {
	_ = ctx
	if limit <= 0 {
		limit = 10
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []telemetry.Sample
	for _, s := range r.samples {
		if s.StationID == stationID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteOlderThan removes samples with ts < cutoff and returns the count.
func (r *SampleRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var kept []telemetry.Sample
	var removed int64
	for _, s := range r.samples {
		if s.TS.Before(cutoff) {
			removed++
			delete(r.seen, sampleKey{stationID: s.StationID, ts: s.TS.UnixNano()})
			continue
		}
		kept = append(kept, s)
	}
	r.samples = kept
	return removed, nil
}
