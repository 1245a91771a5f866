package health

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"fusionbridge/internal/observability/metrics"
)

// Parameter keys in the shared key-value store. Persisted so the block
// survives restarts, mirroring the operational state an administrator sees.
const (
	paramAPIBlocked          = "fusionsolar.api_blocked"
	paramAuthErrorCount      = "fusionsolar.auth_error_count"
	paramLastAuthError       = "fusionsolar.last_auth_error"
	paramLastAuthErrorTime   = "fusionsolar.last_auth_error_time"
	paramBlockReason         = "fusionsolar.block_reason"
	paramBlockTime           = "fusionsolar.block_time"
	paramResetTime           = "fusionsolar.reset_time"
	paramFrequencyBlockUntil = "fusionsolar.frequency_block_until"
	paramSuspendedTriggers   = "fusionsolar.suspended_triggers"
	paramLastSuccessfulSync  = "fusionsolar.last_successful_sync"
)

// DefaultMaxAuthErrors blocks the API after this many consecutive
// authentication failures.
const DefaultMaxAuthErrors = 3

// DefaultFrequencyHold is how long a vendor frequency-limit response pauses
// synchronization.
const DefaultFrequencyHold = 30 * time.Minute

// ParamStore is a generic key-value store for process-wide sync state.
// Get returns "" for a missing key.
type ParamStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// TriggerController lets the guard disable and restore the external periodic
// triggers in lockstep with the block. Disable returns the names of the
// triggers that were active, so a later Enable can restore exactly those.
type TriggerController interface {
	Disable(ctx context.Context) ([]string, error)
	Enable(ctx context.Context, names []string) error
}

// BlockedError is returned while the auth-failure block is engaged. No
// network call may be attempted while it stands.
type BlockedError struct {
	Reason     string
	ErrorCount int
	LastError  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("sync blocked: %s (auth errors: %d, last: %s)", e.Reason, e.ErrorCount, e.LastError)
}

// RateLimitedError is returned while a vendor frequency hold is active.
type RateLimitedError struct {
	ResumeAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("sync rate limited by vendor, resumes at %s", e.ResumeAt.UTC().Format(time.RFC3339))
}

// State is a read snapshot of the persisted health parameters.
type State struct {
	APIBlocked          bool
	AuthErrorCount      int
	LastAuthError       string
	BlockReason         string
	BlockTime           time.Time
	FrequencyBlockUntil time.Time
	LastSuccessfulSync  time.Time
}

// Guard owns the persisted circuit-breaker state. Only one sync cycle runs
// at a time, so reads-then-writes within a cycle are not racy.
type Guard struct {
	store         ParamStore
	triggers      TriggerController
	maxAuthErrors int
	frequencyHold time.Duration
	logger        *log.Logger
	now           func() time.Time
}

// GuardOption configures the guard.
type GuardOption func(*Guard)

// WithMaxAuthErrors overrides the block threshold.
func WithMaxAuthErrors(n int) GuardOption {
	return func(g *Guard) {
		if n > 0 {
			g.maxAuthErrors = n
		}
	}
}

// WithFrequencyHold overrides the frequency-limit hold duration.
func WithFrequencyHold(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.frequencyHold = d
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard constructs a guard. triggers may be nil when no periodic trigger
// exists (one-shot CLI use).
func NewGuard(store ParamStore, triggers TriggerController, logger *log.Logger, opts ...GuardOption) (*Guard, error) {
	if store == nil {
		return nil, errors.New("health guard: nil param store")
	}
	if logger == nil {
		logger = log.Default()
	}
	g := &Guard{
		store:         store,
		triggers:      triggers,
		maxAuthErrors: DefaultMaxAuthErrors,
		frequencyHold: DefaultFrequencyHold,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Load reads the current state snapshot.
func (g *Guard) Load(ctx context.Context) (State, error) {
	var state State
	blocked, err := g.store.Get(ctx, paramAPIBlocked)
	if err != nil {
		return state, err
	}
	state.APIBlocked = blocked == "true"
	state.AuthErrorCount, err = g.getInt(ctx, paramAuthErrorCount)
	if err != nil {
		return state, err
	}
	if state.LastAuthError, err = g.store.Get(ctx, paramLastAuthError); err != nil {
		return state, err
	}
	if state.BlockReason, err = g.store.Get(ctx, paramBlockReason); err != nil {
		return state, err
	}
	if state.BlockTime, err = g.getTime(ctx, paramBlockTime); err != nil {
		return state, err
	}
	if state.FrequencyBlockUntil, err = g.getTime(ctx, paramFrequencyBlockUntil); err != nil {
		return state, err
	}
	if state.LastSuccessfulSync, err = g.getTime(ctx, paramLastSuccessfulSync); err != nil {
		return state, err
	}
	return state, nil
}

// CheckReady fails with BlockedError while the block is engaged and with
// RateLimitedError while a frequency hold is pending. An elapsed hold is
// cleared here and the suspended triggers restored.
func (g *Guard) CheckReady(ctx context.Context) error {
	state, err := g.Load(ctx)
	if err != nil {
		return err
	}
	if state.APIBlocked {
		reason := state.BlockReason
		if reason == "" {
			reason = "authentication failures exceeded the limit"
		}
		return &BlockedError{Reason: reason, ErrorCount: state.AuthErrorCount, LastError: state.LastAuthError}
	}
	if !state.FrequencyBlockUntil.IsZero() {
		if g.now().Before(state.FrequencyBlockUntil) {
			return &RateLimitedError{ResumeAt: state.FrequencyBlockUntil}
		}
		if err := g.clearFrequencyHold(ctx); err != nil {
			return err
		}
	}
	return nil
}

// RecordAuthFailure increments the failure counter and engages the block
// once the threshold is reached, disabling the periodic triggers.
func (g *Guard) RecordAuthFailure(ctx context.Context, message string) error {
	count, err := g.getInt(ctx, paramAuthErrorCount)
	if err != nil {
		return err
	}
	count++
	metrics.IncAuthFailure()

	if err := g.store.Set(ctx, paramAuthErrorCount, strconv.Itoa(count)); err != nil {
		return err
	}
	if err := g.store.Set(ctx, paramLastAuthError, message); err != nil {
		return err
	}
	if err := g.store.Set(ctx, paramLastAuthErrorTime, g.now().Format(time.RFC3339)); err != nil {
		return err
	}
	g.logger.Printf("health guard: auth failure #%d: %s", count, message)

	if count < g.maxAuthErrors {
		return nil
	}

	reason := fmt.Sprintf("exceeded the maximum of %d authentication failures", g.maxAuthErrors)
	if err := g.store.Set(ctx, paramAPIBlocked, "true"); err != nil {
		return err
	}
	if err := g.store.Set(ctx, paramBlockReason, reason); err != nil {
		return err
	}
	if err := g.store.Set(ctx, paramBlockTime, g.now().Format(time.RFC3339)); err != nil {
		return err
	}
	metrics.SetAPIBlocked(true)
	g.logger.Printf("health guard: API BLOCKED after %d auth failures", count)

	if g.triggers != nil {
		names, err := g.triggers.Disable(ctx)
		if err != nil {
			g.logger.Printf("health guard: disable triggers: %v", err)
		} else if err := g.setSuspended(ctx, names); err != nil {
			return err
		}
	}
	return nil
}

// RecordFrequencyLimit starts the temporary frequency hold and disables the
// periodic triggers, remembering which were active.
func (g *Guard) RecordFrequencyLimit(ctx context.Context, message string) error {
	until := g.now().Add(g.frequencyHold)
	if err := g.store.Set(ctx, paramFrequencyBlockUntil, until.Format(time.RFC3339)); err != nil {
		return err
	}
	g.logger.Printf("health guard: vendor frequency limit (%s), holding sync until %s",
		message, until.Format(time.RFC3339))

	if g.triggers != nil {
		names, err := g.triggers.Disable(ctx)
		if err != nil {
			g.logger.Printf("health guard: disable triggers: %v", err)
		} else if err := g.setSuspended(ctx, names); err != nil {
			return err
		}
	}
	return nil
}

// RecordCycleSuccess heals the failure counter after a fully successful
// cycle and stamps the success time.
func (g *Guard) RecordCycleSuccess(ctx context.Context) error {
	if err := g.store.Set(ctx, paramAuthErrorCount, "0"); err != nil {
		return err
	}
	return g.store.Set(ctx, paramLastSuccessfulSync, g.now().Format(time.RFC3339))
}

// ResetBlock clears the block and counters and restores the suspended
// triggers. Manual administrative action.
func (g *Guard) ResetBlock(ctx context.Context) error {
	for key, value := range map[string]string{
		paramAPIBlocked:     "false",
		paramAuthErrorCount: "0",
		paramLastAuthError:  "",
		paramBlockReason:    "",
		paramResetTime:      g.now().Format(time.RFC3339),
	} {
		if err := g.store.Set(ctx, key, value); err != nil {
			return err
		}
	}
	metrics.SetAPIBlocked(false)
	if err := g.restoreTriggers(ctx); err != nil {
		return err
	}
	g.logger.Printf("health guard: API block reset, periodic triggers restored")
	return nil
}

func (g *Guard) clearFrequencyHold(ctx context.Context) error {
	if err := g.store.Set(ctx, paramFrequencyBlockUntil, ""); err != nil {
		return err
	}
	g.logger.Printf("health guard: frequency hold elapsed, restoring triggers")
	return g.restoreTriggers(ctx)
}

func (g *Guard) restoreTriggers(ctx context.Context) error {
	if g.triggers == nil {
		return nil
	}
	raw, err := g.store.Get(ctx, paramSuspendedTriggers)
	if err != nil {
		return err
	}
	var names []string
	if raw != "" {
		names = strings.Split(raw, ",")
	}
	if err := g.triggers.Enable(ctx, names); err != nil {
		return err
	}
	return g.store.Set(ctx, paramSuspendedTriggers, "")
}

func (g *Guard) setSuspended(ctx context.Context, names []string) error {
	return g.store.Set(ctx, paramSuspendedTriggers, strings.Join(names, ","))
}

func (g *Guard) getInt(ctx context.Context, key string) (int, error) {
	raw, err := g.store.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("health guard: bad %s value %q: %w", key, raw, err)
	}
	return value, nil
}

func (g *Guard) getTime(ctx context.Context, key string) (time.Time, error) {
	raw, err := g.store.Get(ctx, key)
	if err != nil || raw == "" {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("health guard: bad %s value %q: %w", key, raw, err)
	}
	return t, nil
}
