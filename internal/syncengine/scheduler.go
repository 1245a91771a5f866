package syncengine

import (
	"context"
	"errors"
	"log"
	stdsync "sync"
	"time"
)

// DefaultSyncInterval is the periodic trigger cadence.
const DefaultSyncInterval = 15 * time.Minute

// PeriodicTrigger fires sync cycles on a fixed interval. It implements the
// health guard's trigger control: the guard disables it when the block
// engages and restores it on reset. A tick that arrives while a run is still
// in flight is skipped, never queued.
type PeriodicTrigger struct {
	name     string
	service  *Service
	mode     Mode
	interval time.Duration
	logger   *log.Logger

	mu      stdsync.Mutex
	enabled bool
	running bool

	stop chan struct{}
	done chan struct{}
}

// NewPeriodicTrigger constructs a trigger in the enabled state. Start must be
// called to begin ticking.
func NewPeriodicTrigger(name string, service *Service, mode Mode, interval time.Duration, logger *log.Logger) (*PeriodicTrigger, error) {
	if name == "" {
		return nil, errors.New("periodic trigger: empty name")
	}
	if service == nil {
		return nil, errors.New("periodic trigger: nil service")
	}
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	if logger == nil {
		logger = log.Default()
	}
	return &PeriodicTrigger{
		name:     name,
		service:  service,
		mode:     mode,
		interval: interval,
		logger:   logger,
		enabled:  true,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the ticking goroutine.
func (t *PeriodicTrigger) Start(ctx context.Context) {
	go t.loop(ctx)
}

// Stop halts the ticking goroutine and waits for an in-flight run to finish.
func (t *PeriodicTrigger) Stop() {
	close(t.stop)
	<-t.done
}

// Disable implements health.TriggerController. It returns the trigger's name
// when it was enabled, so a later Enable restores exactly that.
func (t *PeriodicTrigger) Disable(ctx context.Context) ([]string, error) {
	_ = ctx
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.enabled {
		return nil, nil
	}
	t.enabled = false
	t.logger.Printf("periodic trigger %s: disabled", t.name)
	return []string{t.name}, nil
}

// Enable implements health.TriggerController, re-enabling the trigger when
// its name is in the restored set.
func (t *PeriodicTrigger) Enable(ctx context.Context, names []string) error {
	_ = ctx
	for _, name := range names {
		if name != t.name {
			continue
		}
		t.mu.Lock()
		t.enabled = true
		t.mu.Unlock()
		t.logger.Printf("periodic trigger %s: enabled", t.name)
		return nil
	}
	return nil
}

func (t *PeriodicTrigger) loop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.tick(ctx)
		}
	}
}

func (t *PeriodicTrigger) tick(ctx context.Context) {
	t.mu.Lock()
	if !t.enabled || t.running {
		skippedWhileRunning := t.running
		t.mu.Unlock()
		if skippedWhileRunning {
			t.logger.Printf("periodic trigger %s: previous run still in flight, skipping tick", t.name)
		}
		return
	}
	t.running = true
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.running = false
		t.mu.Unlock()
	}()

	if _, err := t.service.Run(ctx, t.mode, nil); err != nil {
		t.logger.Printf("periodic trigger %s: run failed: %v", t.name, err)
	}
}
