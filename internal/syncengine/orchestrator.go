package syncengine

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"fusionbridge/internal/fusionsolar"
	"fusionbridge/internal/health"
	masterdata "fusionbridge/internal/masterdata/domain"
	"fusionbridge/internal/observability/metrics"
)

// DefaultPageSize is the page size for the paginated station listing.
const DefaultPageSize = 100

// Hard ceiling on listing pages. A vendor bug that keeps returning full pages
// must not loop forever.
const maxListPages = 200

// authKeywords matches unstructured error text from older API deployments
// that reject without a failCode. Used only when the typed classification
// does not apply.
var authKeywords = []string{
	"401",
	"unauthorized",
	"authentication",
	"login",
	"token",
	"credential",
	"user.login.user_or_value_invalid",
	`failcode": 20400`,
	"failcode\":20400",
	"access denied",
	"forbidden",
}

// CycleOptions selects what a cycle does. Stations, when non-nil, overrides
// the station selection for the data pass.
type CycleOptions struct {
	RefreshStations bool
	SyncData        bool
	Stations        []masterdata.Station
}

// CycleReport is the outcome of one sync cycle.
type CycleReport struct {
	Result     string        `json:"result"`
	Discovered int           `json:"discovered"`
	Created    int           `json:"created"`
	Updated    int           `json:"updated"`
	Processed  int           `json:"processed"`
	Succeeded  int           `json:"succeeded"`
	Failed     int           `json:"failed"`
	StartedAt  time.Time     `json:"started_at"`
	Elapsed    time.Duration `json:"elapsed_ns"`
	Message    string        `json:"message,omitempty"`
}

// Orchestrator runs the cycle state machine: readiness gate, login, station
// discovery, batched KPI sync, health bookkeeping.
type Orchestrator struct {
	api      fusionsolar.Caller
	guard    *health.Guard
	registry *Registry
	batches  *BatchScheduler
	stations masterdata.StationRepository

	pageSize int
	logger   *log.Logger
	now      func() time.Time
}

// OrchestratorOption configures the orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithPageSize overrides the station listing page size.
func WithPageSize(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n > 0 {
			o.pageSize = n
		}
	}
}

// WithOrchestratorClock overrides the time source for tests.
func WithOrchestratorClock(now func() time.Time) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(api fusionsolar.Caller, guard *health.Guard, registry *Registry, batches *BatchScheduler, stations masterdata.StationRepository, logger *log.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if api == nil {
		return nil, errors.New("orchestrator: nil api caller")
	}
	if guard == nil {
		return nil, errors.New("orchestrator: nil health guard")
	}
	if registry == nil {
		return nil, errors.New("orchestrator: nil registry")
	}
	if batches == nil {
		return nil, errors.New("orchestrator: nil batch scheduler")
	}
	if stations == nil {
		return nil, errors.New("orchestrator: nil station repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	o := &Orchestrator{
		api:      api,
		guard:    guard,
		registry: registry,
		batches:  batches,
		stations: stations,
		pageSize: DefaultPageSize,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// RunCycle runs one cycle. The readiness gate fires before any network call:
// while blocked or rate limited nothing touches the vendor. The returned
// error carries the cycle-level failure; per-station failures only shape the
// report.
func (o *Orchestrator) RunCycle(ctx context.Context, opts CycleOptions) (CycleReport, error) {
	report := CycleReport{StartedAt: o.now()}
	finish := func(result string, err error) (CycleReport, error) {
		report.Result = result
		report.Elapsed = o.now().Sub(report.StartedAt)
		if err != nil {
			report.Message = err.Error()
		}
		metrics.ObserveSyncCycle(result, report.Elapsed)
		o.logger.Printf("orchestrator: cycle finished result=%s discovered=%d created=%d processed=%d failed=%d elapsed=%s",
			result, report.Discovered, report.Created, report.Processed, report.Failed, report.Elapsed)
		return report, err
	}

	if err := o.guard.CheckReady(ctx); err != nil {
		var blocked *health.BlockedError
		var limited *health.RateLimitedError
		if errors.As(err, &blocked) || errors.As(err, &limited) {
			return finish(metrics.CycleResultBlocked, err)
		}
		return finish(metrics.CycleResultError, err)
	}

	if _, err := o.api.Authenticate(ctx); err != nil {
		return finish(o.recordCycleFailure(ctx, err))
	}

	if opts.RefreshStations {
		identities, err := o.discoverStations(ctx)
		if err != nil {
			return finish(o.recordCycleFailure(ctx, err))
		}
		reconciled, err := o.registry.ReconcileAll(ctx, identities)
		report.Discovered = reconciled.Discovered
		report.Created = reconciled.Created
		report.Updated = reconciled.Updated
		if err != nil {
			return finish(metrics.CycleResultError, err)
		}
	}

	if opts.SyncData {
		stations := opts.Stations
		if stations == nil {
			var err error
			stations, err = o.stations.List(ctx)
			if err != nil {
				return finish(metrics.CycleResultError, err)
			}
		}
		batchResult, err := o.batches.Run(ctx, stations)
		report.Processed = batchResult.Processed
		report.Succeeded = batchResult.Succeeded
		report.Failed = batchResult.Failed
		if err != nil {
			return finish(o.recordCycleFailure(ctx, err))
		}
	}

	if err := o.guard.RecordCycleSuccess(ctx); err != nil {
		return finish(metrics.CycleResultError, err)
	}
	if report.Failed > 0 {
		return finish(metrics.CycleResultPartial, nil)
	}
	return finish(metrics.CycleResultSuccess, nil)
}

// discoverStations walks the paginated listing. When the first page fails or
// comes back empty it falls through to the legacy one-shot getStationList,
// which older deployments still serve.
func (o *Orchestrator) discoverStations(ctx context.Context) ([]fusionsolar.StationIdentity, error) {
	var identities []fusionsolar.StationIdentity
	for page := 1; page <= maxListPages; page++ {
		started := o.now()
		body, err := o.api.Call(ctx, fusionsolar.OpStations,
			map[string]any{"pageNo": strconv.Itoa(page), "pageSize": strconv.Itoa(o.pageSize)},
			fusionsolar.DefaultTimeout)
		metrics.ObserveAPICall(fusionsolar.OpStations, o.now().Sub(started), err)
		if err == nil {
			err = fusionsolar.BodyError(fusionsolar.OpStations, body)
		}
		if err != nil {
			if page == 1 {
				o.logger.Printf("orchestrator: paginated listing failed (%v), trying legacy endpoint", err)
				return o.discoverStationsLegacy(ctx, err)
			}
			return nil, err
		}

		records := fusionsolar.ExtractStationList(body)
		if len(records) == 0 && page == 1 {
			return o.discoverStationsLegacy(ctx, nil)
		}
		for _, record := range records {
			identity, ok := fusionsolar.ExtractStationIdentity(record)
			if !ok {
				o.logger.Printf("orchestrator: skipping station record without a code on page %d", page)
				continue
			}
			identities = append(identities, identity)
		}
		if len(records) < o.pageSize {
			break
		}
	}
	return identities, nil
}

// discoverStationsLegacy issues the unpaginated getStationList exactly once.
// cause, when non-nil, is the paginated failure to surface if the legacy path
// fails too.
func (o *Orchestrator) discoverStationsLegacy(ctx context.Context, cause error) ([]fusionsolar.StationIdentity, error) {
	started := o.now()
	body, err := o.api.Call(ctx, fusionsolar.OpStationListOld, map[string]any{}, fusionsolar.DefaultTimeout)
	metrics.ObserveAPICall(fusionsolar.OpStationListOld, o.now().Sub(started), err)
	if err == nil {
		err = fusionsolar.BodyError(fusionsolar.OpStationListOld, body)
	}
	if err != nil {
		if cause != nil {
			return nil, cause
		}
		return nil, err
	}

	var identities []fusionsolar.StationIdentity
	for _, record := range fusionsolar.ExtractStationList(body) {
		identity, ok := fusionsolar.ExtractStationIdentity(record)
		if !ok {
			continue
		}
		identities = append(identities, identity)
	}
	o.logger.Printf("orchestrator: legacy station listing returned %d records", len(identities))
	return identities, nil
}

// recordCycleFailure routes a cycle-level failure into the health guard:
// frequency and rate limits start the temporary hold, credential problems
// count toward the persistent block, everything else is a plain error.
func (o *Orchestrator) recordCycleFailure(ctx context.Context, cause error) (string, error) {
	var authErr *fusionsolar.AuthError
	if errors.As(cause, &authErr) {
		switch authErr.Kind {
		case fusionsolar.AuthFrequencyLimited, fusionsolar.AuthRateLimited:
			if err := o.guard.RecordFrequencyLimit(ctx, authErr.Message); err != nil {
				o.logger.Printf("orchestrator: record frequency limit: %v", err)
			}
			return metrics.CycleResultBlocked, cause
		default:
			// Every other login rejection counts toward the block, whatever
			// the fail code: credentials, permissions, server-side refusals.
			if err := o.guard.RecordAuthFailure(ctx, cause.Error()); err != nil {
				o.logger.Printf("orchestrator: record auth failure: %v", err)
			}
			return metrics.CycleResultError, cause
		}
	}
	var transportErr *fusionsolar.TransportError
	var protocolErr *fusionsolar.ProtocolError
	if errors.As(cause, &transportErr) || errors.As(cause, &protocolErr) {
		// Network and protocol trouble is retryable and never counts
		// toward the auth-failure block.
		return metrics.CycleResultError, cause
	}
	if errors.Is(cause, fusionsolar.ErrTokenMissing) || looksLikeAuthFailure(cause) {
		if err := o.guard.RecordAuthFailure(ctx, cause.Error()); err != nil {
			o.logger.Printf("orchestrator: record auth failure: %v", err)
		}
	}
	return metrics.CycleResultError, cause
}

// looksLikeAuthFailure is the keyword fallback for unstructured errors.
func looksLikeAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, keyword := range authKeywords {
		if strings.Contains(text, keyword) {
			return true
		}
	}
	return false
}
