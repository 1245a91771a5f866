package fusionsolar

import (
	"context"
	"errors"
	"log"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"fusionbridge/internal/observability/metrics"
)

// BreakerCaller wraps a Caller with a transport-level circuit breaker. It
// trips on sustained transport/protocol failure so a dead endpoint stops
// burning the per-call timeouts of a whole fleet pass. It is orthogonal to
// the persisted auth-failure block: application-level rejections (login
// refused, success=false bodies) never count as breaker failures.
type BreakerCaller struct {
	inner  Caller
	cb     *gobreaker.CircuitBreaker[map[string]any]
	logger *log.Logger
}

// NewBreakerCaller wraps inner. Opens after a 60% failure rate over at least
// 5 requests within a one-minute window; retries after two minutes.
func NewBreakerCaller(inner Caller, logger *log.Logger) (*BreakerCaller, error) {
	if inner == nil {
		return nil, errors.New("fusionsolar breaker: nil caller")
	}
	if logger == nil {
		logger = log.Default()
	}
	b := &BreakerCaller{inner: inner, logger: logger}
	b.cb = gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        "fusionsolar-api",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Printf("fusionsolar breaker: %s %s -> %s", name, from, to)
			metrics.SetTransportBreakerState(stateToFloat(to))
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var transportErr *TransportError
			var protocolErr *ProtocolError
			return !errors.As(err, &transportErr) && !errors.As(err, &protocolErr)
		},
	})
	return b, nil
}

// Authenticate forwards through the breaker.
func (b *BreakerCaller) Authenticate(ctx context.Context) (string, error) {
	var token string
	_, err := b.cb.Execute(func() (map[string]any, error) {
		t, err := b.inner.Authenticate(ctx)
		token = t
		return nil, err
	})
	if err != nil {
		return "", wrapBreakerErr(OpLogin, err)
	}
	return token, nil
}

// Call forwards through the breaker.
func (b *BreakerCaller) Call(ctx context.Context, operation string, payload map[string]any, timeout time.Duration) (map[string]any, error) {
	body, err := b.cb.Execute(func() (map[string]any, error) {
		return b.inner.Call(ctx, operation, payload, timeout)
	})
	if err != nil {
		return nil, wrapBreakerErr(operation, err)
	}
	return body, nil
}

// wrapBreakerErr maps a rejected request to a TransportError so callers see
// one retryable taxonomy for "endpoint unreachable".
func wrapBreakerErr(operation string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &TransportError{Operation: operation, Err: err}
	}
	return err
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
