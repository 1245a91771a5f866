package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"fusionbridge/internal/fusionsolar"
	masterdata "fusionbridge/internal/masterdata/domain"
	"fusionbridge/internal/observability/metrics"
	telemetry "fusionbridge/internal/telemetry/domain"
)

// DefaultBatchSize bounds the number of station codes in one combined KPI call.
const DefaultBatchSize = 20

// DefaultRequestDelay paces consecutive vendor calls.
const DefaultRequestDelay = time.Second

// BatchScheduler pulls KPI data for a station set, grouped by batch group and
// chunked into combined getStationRealKpi calls, with a per-station fallback
// when a station is missing from the combined response.
type BatchScheduler struct {
	api      fusionsolar.Caller
	stations masterdata.StationRepository
	samples  telemetry.SampleRepository

	batchSize      int
	requestDelay   time.Duration
	deviceFallback bool
	deviceDelay    time.Duration

	logger *log.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
}

// BatchResult counts the outcome of one data pass.
type BatchResult struct {
	Processed int
	Succeeded int
	Failed    int
}

// SchedulerOption configures the scheduler.
type SchedulerOption func(*BatchScheduler)

// WithBatchSize overrides the combined-call chunk size.
func WithBatchSize(n int) SchedulerOption {
	return func(s *BatchScheduler) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithRequestDelay overrides the pacing delay between vendor calls.
func WithRequestDelay(d time.Duration) SchedulerOption {
	return func(s *BatchScheduler) {
		if d >= 0 {
			s.requestDelay = d
		}
	}
}

// WithDeviceFallback enables the device-level KPI fallback for stations that
// report zero power, with its own pacing delay.
func WithDeviceFallback(enabled bool, delay time.Duration) SchedulerOption {
	return func(s *BatchScheduler) {
		s.deviceFallback = enabled
		if delay > 0 {
			s.deviceDelay = delay
		}
	}
}

// WithSleep overrides the pacing sleep for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) SchedulerOption {
	return func(s *BatchScheduler) {
		if sleep != nil {
			s.sleep = sleep
		}
	}
}

// WithSchedulerClock overrides the time source for tests.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *BatchScheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// NewBatchScheduler constructs a scheduler.
func NewBatchScheduler(api fusionsolar.Caller, stations masterdata.StationRepository, samples telemetry.SampleRepository, logger *log.Logger, opts ...SchedulerOption) (*BatchScheduler, error) {
	if api == nil {
		return nil, errors.New("batch scheduler: nil api caller")
	}
	if stations == nil {
		return nil, errors.New("batch scheduler: nil station repository")
	}
	if samples == nil {
		return nil, errors.New("batch scheduler: nil sample repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	s := &BatchScheduler{
		api:          api,
		stations:     stations,
		samples:      samples,
		batchSize:    DefaultBatchSize,
		requestDelay: DefaultRequestDelay,
		deviceDelay:  DefaultRequestDelay,
		logger:       logger,
		sleep:        sleepCtx,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run syncs KPI data for the given stations. Groups run in name order,
// batches within a group in (sync_priority, id) order. A returned error is
// fatal for the whole cycle (auth or frequency classification); ordinary
// per-station failures are counted in the result instead.
func (s *BatchScheduler) Run(ctx context.Context, stations []masterdata.Station) (BatchResult, error) {
	var result BatchResult
	if len(stations) == 0 {
		return result, nil
	}

	groups := make(map[string][]masterdata.Station)
	for _, station := range stations {
		group := station.BatchGroup
		if group == "" {
			group = masterdata.DefaultBatchGroup
		}
		groups[group] = append(groups[group], station)
	}
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		members := groups[name]
		sort.Slice(members, func(i, j int) bool {
			if members[i].SyncPriority != members[j].SyncPriority {
				return members[i].SyncPriority < members[j].SyncPriority
			}
			return members[i].ID < members[j].ID
		})

		// The double pacing applies between batches of one group only,
		// never across a group boundary.
		first := true
		for start := 0; start < len(members); start += s.batchSize {
			end := start + s.batchSize
			if end > len(members) {
				end = len(members)
			}
			if !first {
				if err := s.sleep(ctx, 2*s.requestDelay); err != nil {
					return result, err
				}
			}
			first = false
			if err := s.syncBatch(ctx, members[start:end], &result); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

func (s *BatchScheduler) syncBatch(ctx context.Context, batch []masterdata.Station, result *BatchResult) error {
	ids := make([]int64, len(batch))
	codes := make([]string, len(batch))
	for i, station := range batch {
		ids[i] = station.ID
		codes[i] = station.StationCode
	}
	if err := s.stations.IncrementSyncAttempts(ctx, ids); err != nil {
		return err
	}

	kpiByCode, err := s.fetchCombined(ctx, codes)
	if err != nil {
		if fatalAPIError(err) {
			return err
		}
		s.logger.Printf("batch scheduler: combined KPI call failed (%v), falling back to per-station calls", err)
		kpiByCode = nil
	}

	for i, station := range batch {
		if i > 0 {
			if err := s.sleep(ctx, s.requestDelay); err != nil {
				return err
			}
		}
		kpi, ok := kpiByCode[station.StationCode]
		if !ok {
			var err error
			kpi, err = s.fetchOne(ctx, station.StationCode)
			if err != nil {
				if fatalAPIError(err) {
					return err
				}
				s.failStation(ctx, station, masterdata.StatusSyncError, err, result)
				continue
			}
		}
		if err := s.applyKpi(ctx, station, kpi, result); err != nil {
			return err
		}
	}
	metrics.AddStationsProcessed(len(batch))
	return nil
}

func (s *BatchScheduler) fetchCombined(ctx context.Context, codes []string) (map[string]map[string]any, error) {
	started := s.now()
	body, err := s.api.Call(ctx, fusionsolar.OpStationRealKpi,
		map[string]any{"stationCodes": strings.Join(codes, ",")},
		fusionsolar.BatchTimeout)
	metrics.ObserveAPICall(fusionsolar.OpStationRealKpi, s.now().Sub(started), err)
	if err != nil {
		return nil, err
	}
	if err := fusionsolar.BodyError(fusionsolar.OpStationRealKpi, body); err != nil {
		return nil, err
	}
	return fusionsolar.ExtractKpiRecords(body), nil
}

func (s *BatchScheduler) fetchOne(ctx context.Context, code string) (map[string]any, error) {
	started := s.now()
	body, err := s.api.Call(ctx, fusionsolar.OpStationRealKpi,
		map[string]any{"stationCodes": code},
		fusionsolar.DefaultTimeout)
	metrics.ObserveAPICall(fusionsolar.OpStationRealKpi, s.now().Sub(started), err)
	if err != nil {
		return nil, err
	}
	if err := fusionsolar.BodyError(fusionsolar.OpStationRealKpi, body); err != nil {
		return nil, err
	}
	if kpi, ok := fusionsolar.ExtractKpiRecords(body)[code]; ok {
		return kpi, nil
	}
	return nil, nil
}

// applyKpi writes the snapshot and appends the history row. A station with no
// KPI payload at all is marked inactive rather than failed: a commissioned but
// idle plant legitimately reports nothing.
func (s *BatchScheduler) applyKpi(ctx context.Context, station masterdata.Station, kpi map[string]any, result *BatchResult) error {
	result.Processed++
	if len(kpi) == 0 {
		s.logger.Printf("batch scheduler: no KPI data for station %s, marking inactive", station.StationCode)
		if err := s.stations.SetStatus(ctx, station.ID, masterdata.StatusInactive); err != nil {
			return err
		}
		result.Succeeded++
		return nil
	}

	power := fusionsolar.ExtractCurrentPower(kpi)
	if power == 0 && s.deviceFallback {
		devicePower, err := s.devicePower(ctx, station.StationCode)
		if err != nil {
			if fatalAPIError(err) {
				return err
			}
			s.logger.Printf("batch scheduler: device fallback for %s failed: %v", station.StationCode, err)
		} else if devicePower > 0 {
			power = devicePower
		}
	}

	at := s.now().Truncate(time.Second)
	snap := masterdata.TelemetrySnapshot{
		CurrentPowerKW:    power,
		DailyEnergyKWh:    fusionsolar.ExtractEnergy(kpi, fusionsolar.DailyEnergyKeys, 0),
		MonthlyEnergyKWh:  fusionsolar.ExtractEnergy(kpi, fusionsolar.MonthlyEnergyKeys, 0),
		YearlyEnergyKWh:   fusionsolar.ExtractEnergy(kpi, fusionsolar.YearlyEnergyKeys, 0),
		LifetimeEnergyKWh: fusionsolar.ExtractEnergy(kpi, fusionsolar.LifetimeEnergyKeys, 0),
		Status:            fusionsolar.DetermineStatus(power, kpi),
		At:                at,
	}
	if err := s.stations.ApplyTelemetry(ctx, station.ID, snap); err != nil {
		s.failStation(ctx, station, masterdata.StatusError, err, result)
		result.Processed--
		return nil
	}

	sample := &telemetry.Sample{
		StationID:         station.ID,
		TS:                at,
		CurrentPowerKW:    snap.CurrentPowerKW,
		DailyEnergyKWh:    snap.DailyEnergyKWh,
		MonthlyEnergyKWh:  snap.MonthlyEnergyKWh,
		YearlyEnergyKWh:   snap.YearlyEnergyKWh,
		LifetimeEnergyKWh: snap.LifetimeEnergyKWh,
	}
	switch err := s.samples.Append(ctx, sample); {
	case err == nil:
		metrics.IncSamplesAppended()
	case errors.Is(err, telemetry.ErrDuplicateSample):
		s.logger.Printf("batch scheduler: duplicate KPI sample for station %s at %s, skipped",
			station.StationCode, at.Format(time.RFC3339))
	default:
		s.failStation(ctx, station, masterdata.StatusError, err, result)
		result.Processed--
		return nil
	}
	result.Succeeded++
	return nil
}

// devicePower sums inverter-level active power, used when the station-level
// reading is zero but production is suspected.
func (s *BatchScheduler) devicePower(ctx context.Context, code string) (float64, error) {
	started := s.now()
	body, err := s.api.Call(ctx, fusionsolar.OpDevList,
		map[string]any{"stationCodes": code}, fusionsolar.DefaultTimeout)
	metrics.ObserveAPICall(fusionsolar.OpDevList, s.now().Sub(started), err)
	if err != nil {
		return 0, err
	}
	if err := fusionsolar.BodyError(fusionsolar.OpDevList, body); err != nil {
		return 0, err
	}
	ids := fusionsolar.ExtractDeviceIDs(body)
	if len(ids) == 0 {
		return 0, nil
	}
	if err := s.sleep(ctx, s.deviceDelay); err != nil {
		return 0, err
	}

	started = s.now()
	body, err = s.api.Call(ctx, fusionsolar.OpDevRealKpi,
		map[string]any{"devIds": strings.Join(ids, ","), "devTypeId": 1},
		fusionsolar.DefaultTimeout)
	metrics.ObserveAPICall(fusionsolar.OpDevRealKpi, s.now().Sub(started), err)
	if err != nil {
		return 0, err
	}
	if err := fusionsolar.BodyError(fusionsolar.OpDevRealKpi, body); err != nil {
		return 0, err
	}
	var total float64
	for _, kpi := range fusionsolar.ExtractDeviceKpiList(body) {
		total += fusionsolar.ExtractCurrentPower(kpi)
	}
	return total, nil
}

// failStation records one station's failure. Fetch failures carry
// sync_error; failures while writing the snapshot or the history row carry
// error.
func (s *BatchScheduler) failStation(ctx context.Context, station masterdata.Station, status masterdata.StationStatus, cause error, result *BatchResult) {
	result.Processed++
	result.Failed++
	metrics.IncStationError()
	message := fmt.Sprintf("sync failed: %v", cause)
	s.logger.Printf("batch scheduler: station %s: %s", station.StationCode, message)
	if err := s.stations.MarkSyncError(ctx, station.ID, status, message); err != nil {
		s.logger.Printf("batch scheduler: mark sync error for %s: %v", station.StationCode, err)
	}
}

// fatalAPIError reports whether an error must abort the whole cycle so the
// health guard can record it, instead of being absorbed as one station's
// failure.
func fatalAPIError(err error) bool {
	var authErr *fusionsolar.AuthError
	if errors.As(err, &authErr) {
		switch authErr.Kind {
		case fusionsolar.AuthInvalidCredentials, fusionsolar.AuthForbidden,
			fusionsolar.AuthFrequencyLimited, fusionsolar.AuthRateLimited:
			return true
		}
	}
	return errors.Is(err, context.Canceled)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
