// Package modelwatch monitors the generative model backend's reachability.
//
// The backend is optional at every moment of the process lifetime: the rule
// cascade answers every turn the model cannot. What the watcher adds is an
// accurate model_loaded flag on the health endpoint without a restart when
// Ollama comes up late, restarts, or drops off the network.
//
// The watcher probes in two phases:
//  1. Startup: exponential backoff (2s, 4s, 8s, ... capped at 60s)
//  2. Background: periodic polling with state-transition callbacks
package modelwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether the model backend is reachable. Return nil if
// healthy.
type ProbeFunc func(ctx context.Context) error

// Config controls probe timing and transition callbacks.
type Config struct {
	// Probe checks backend health. Must be safe for concurrent use.
	Probe ProbeFunc

	// InitialDelay is the delay before the first startup retry (default: 2s).
	InitialDelay time.Duration

	// MaxDelay is the ceiling for backoff growth (default: 60s).
	MaxDelay time.Duration

	// MaxRetries is the number of startup probe attempts before the
	// watcher settles into background polling (default: 10).
	MaxRetries int

	// PollInterval is the background check interval (default: 60s).
	PollInterval time.Duration

	// ProbeTimeout limits each individual probe call (default: 10s).
	ProbeTimeout time.Duration

	// OnChange is called on every ready/not-ready transition, including
	// the first successful probe. Called from the watcher goroutine;
	// must not block. Optional.
	OnChange func(ready bool)

	Logger *slog.Logger
}

// Watcher tracks the model backend's health in a background goroutine.
type Watcher struct {
	cfg    Config
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	lastErr error
}

// Start begins watching. The goroutine runs until ctx is cancelled or
// Stop is called. Panics if cfg.Probe is nil.
func Start(ctx context.Context, cfg Config) *Watcher {
	if cfg.Probe == nil {
		panic("modelwatch: Config.Probe must not be nil")
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)
	return w
}

// Ready reports whether the model backend is currently reachable.
func (w *Watcher) Ready() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error, or nil if healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	logger := w.cfg.Logger

	// Phase 1: startup probing with exponential backoff.
	delay := w.cfg.InitialDelay
	for attempt := 1; attempt <= w.cfg.MaxRetries; attempt++ {
		err := w.probe(ctx)
		w.record(err)

		if err == nil {
			w.transition(true)
			logger.Info("model backend connected", "after_attempts", attempt)
			break
		}

		if attempt == w.cfg.MaxRetries {
			logger.Info("model backend unreachable at startup, continuing with rule responses",
				"attempts", attempt,
				"error", err,
			)
			break
		}

		logger.Debug("model probe failed, retrying",
			"attempt", attempt,
			"next_delay", delay.String(),
			"error", err,
		)

		if !sleepCtx(ctx, delay) {
			return
		}
		delay *= 2
		if delay > w.cfg.MaxDelay {
			delay = w.cfg.MaxDelay
		}
	}

	// Phase 2: background polling with transition logging.
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.probe(ctx)
			w.record(err)

			switch {
			case w.ready.Load() && err != nil:
				w.transition(false)
				logger.Info("model backend became unreachable", "error", err)
			case !w.ready.Load() && err == nil:
				w.transition(true)
				logger.Info("model backend recovered")
			case err != nil:
				logger.Debug("model backend still unreachable", "error", err)
			}
		}
	}
}

func (w *Watcher) transition(ready bool) {
	w.ready.Store(ready)
	if w.cfg.OnChange != nil {
		w.cfg.OnChange(ready)
	}
}

func (w *Watcher) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.ProbeTimeout)
	defer cancel()
	return w.cfg.Probe(probeCtx)
}

func (w *Watcher) record(err error) {
	w.mu.Lock()
	w.lastErr = err
	w.mu.Unlock()
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if
// cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
