package operations

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// RemoteState is the executor's view of a job's lifecycle
type RemoteState string

const (
	RemoteStatePending   RemoteState = "pending"
	RemoteStateRunning   RemoteState = "running"
	RemoteStateSucceeded RemoteState = "succeeded"
	RemoteStateFailed    RemoteState = "failed"
	RemoteStateCancelled RemoteState = "cancelled"
)

// RemoteStatus is one status report fetched from the remote executor
type RemoteStatus struct {
	State    RemoteState
	Progress Snapshot
	Result   map[string]any
	Error    string
}

// StatusFetcher fetches the current status of a remote executor job. The
// ref is the executor-specific job reference supplied at Track time.
type StatusFetcher interface {
	FetchStatus(ctx context.Context, ref string) (*RemoteStatus, error)
}

// BridgeConfig tunes the live-status bridge
type BridgeConfig struct {
	// PollInterval is the delay between poll sweeps
	PollInterval time.Duration
	// FetchTimeout bounds a single status fetch
	FetchTimeout time.Duration
	// MaxFetchFailures is how many consecutive fetch failures are
	// tolerated per operation before it is failed with a connectivity
	// error and dropped from the poll set
	MaxFetchFailures int
}

// DefaultBridgeConfig returns the default bridge tuning
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		PollInterval:     5 * time.Second,
		FetchTimeout:     10 * time.Second,
		MaxFetchFailures: 5,
	}
}

type trackedJob struct {
	ref      string
	failures int
	started  bool
}

// Bridge periodically polls a remote executor and overlays its reported
// status onto locally tracked records. It talks to the registry only
// through the same public methods any other caller uses, and fetch I/O
// always runs outside registry locks.
type Bridge struct {
	registry *Registry
	fetcher  StatusFetcher
	config   BridgeConfig
	logger   *slog.Logger

	mu      sync.Mutex
	tracked map[string]*trackedJob

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewBridge creates a bridge for the given registry and executor client
func NewBridge(registry *Registry, fetcher StatusFetcher, config BridgeConfig, logger *slog.Logger) *Bridge {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultBridgeConfig().PollInterval
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultBridgeConfig().FetchTimeout
	}
	if config.MaxFetchFailures <= 0 {
		config.MaxFetchFailures = DefaultBridgeConfig().MaxFetchFailures
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Bridge{
		registry: registry,
		fetcher:  fetcher,
		config:   config,
		logger:   logger.With(slog.String("component", "operations.bridge")),
		tracked:  make(map[string]*trackedJob),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Track registers an operation for live status overlay. The ref is the
// executor-specific job reference whose status will be mirrored onto the
// record on every poll tick.
func (b *Bridge) Track(operationID, ref string) error {
	if _, err := b.registry.Get(operationID); err != nil {
		return err
	}

	b.mu.Lock()
	b.tracked[operationID] = &trackedJob{ref: ref}
	b.mu.Unlock()

	b.logger.Info("operation_tracked",
		slog.String("operation_id", operationID),
		slog.String("executor_ref", ref))
	return nil
}

// Untrack removes an operation from the poll set without touching its record
func (b *Bridge) Untrack(operationID string) {
	b.mu.Lock()
	delete(b.tracked, operationID)
	b.mu.Unlock()
}

// TrackedCount returns the size of the poll set
func (b *Bridge) TrackedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tracked)
}

// Start runs the poll loop until ctx is cancelled or Stop is called
func (b *Bridge) Start(ctx context.Context) {
	b.logger.Info("bridge_started",
		slog.Duration("poll_interval", b.config.PollInterval))

	go func() {
		defer close(b.done)
		ticker := time.NewTicker(b.config.PollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				b.logger.Info("bridge_stopped", slog.String("cause", "context"))
				return
			case <-b.stop:
				b.logger.Info("bridge_stopped", slog.String("cause", "stop"))
				return
			case <-ticker.C:
				b.Poll(ctx)
			}
		}
	}()
}

// Stop terminates the poll loop and waits for it to exit
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
	<-b.done
}

// Poll performs one sweep over the tracked operations. A failure or panic
// while polling one operation is isolated to that operation; the rest of
// the sweep continues.
func (b *Bridge) Poll(ctx context.Context) {
	b.mu.Lock()
	batch := make(map[string]string, len(b.tracked))
	for id, job := range b.tracked {
		batch[id] = job.ref
	}
	b.mu.Unlock()

	for id, ref := range batch {
		b.pollOne(ctx, id, ref)
	}
}

func (b *Bridge) pollOne(ctx context.Context, id, ref string) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("bridge_poll_panic",
				slog.String("operation_id", id),
				slog.Any("panic", rec))
		}
	}()

	fetchCtx, cancel := context.WithTimeout(ctx, b.config.FetchTimeout)
	defer cancel()

	start := time.Now()
	status, err := b.fetcher.FetchStatus(fetchCtx, ref)
	if err != nil {
		b.metricsOutcome("fetch_error", start)
		b.handleFetchFailure(id, ref, err)
		return
	}
	b.metricsOutcome(string(status.State), start)

	b.mu.Lock()
	if job, ok := b.tracked[id]; ok {
		job.failures = 0
	}
	b.mu.Unlock()

	b.apply(id, status)
}

// handleFetchFailure counts consecutive failures and, once the retry budget
// is exhausted, fails the record with a connectivity error and prunes it
func (b *Bridge) handleFetchFailure(id, ref string, err error) {
	b.mu.Lock()
	job, ok := b.tracked[id]
	if !ok {
		b.mu.Unlock()
		return
	}
	job.failures++
	failures := job.failures
	// An unknown job ref is permanent; retrying cannot recover it.
	exhausted := failures >= b.config.MaxFetchFailures || IsNotFound(err)
	if exhausted {
		delete(b.tracked, id)
	}
	b.mu.Unlock()

	if !exhausted {
		b.logger.Warn("bridge_fetch_failed",
			slog.String("operation_id", id),
			slog.String("executor_ref", ref),
			slog.Int("consecutive_failures", failures),
			slog.Int("max_failures", b.config.MaxFetchFailures),
			slog.String("error", err.Error()))
		return
	}

	b.logger.Error("bridge_fetch_exhausted",
		slog.String("operation_id", id),
		slog.String("executor_ref", ref),
		slog.Int("consecutive_failures", failures),
		slog.String("error", err.Error()))

	connErr := NewConnectivity(id, err)
	b.ensureRunning(id)
	if failErr := b.registry.Fail(id, connErr.Error(), nil); failErr != nil {
		b.logger.Error("bridge_finalize_failed",
			slog.String("operation_id", id),
			slog.String("error", failErr.Error()))
	}
}

// apply overlays one remote status report onto the local record
func (b *Bridge) apply(id string, status *RemoteStatus) {
	switch status.State {
	case RemoteStatePending:
		// Remote executor has not started the job yet; nothing to overlay.

	case RemoteStateRunning:
		b.ensureRunning(id)
		if err := b.registry.ReportProgress(id, status.Progress); err != nil {
			// A terminal local record means a completion/cancellation
			// race; prune rather than fight it.
			if IsInvalidTransition(err) {
				b.logger.Warn("bridge_progress_rejected",
					slog.String("operation_id", id),
					slog.String("error", err.Error()))
				b.Untrack(id)
				return
			}
			b.logger.Error("bridge_progress_failed",
				slog.String("operation_id", id),
				slog.String("error", err.Error()))
		}

	case RemoteStateSucceeded:
		b.finalizeOnce(id, func() error {
			return b.registry.Complete(id, status.Result)
		})

	case RemoteStateFailed:
		msg := status.Error
		if msg == "" {
			msg = "remote executor reported failure"
		}
		b.finalizeOnce(id, func() error {
			return b.registry.Fail(id, msg, status.Result)
		})

	case RemoteStateCancelled:
		b.finalizeOnce(id, func() error {
			if rec, err := b.registry.Get(id); err == nil && rec.Cancellation.Requested() {
				return b.registry.AcknowledgeCancellation(id)
			}
			return b.registry.Fail(id, "cancelled by remote executor", status.Result)
		})

	default:
		b.logger.Warn("bridge_unknown_remote_state",
			slog.String("operation_id", id),
			slog.String("state", string(status.State)))
	}
}

// finalizeOnce applies a terminal transition and prunes the operation from
// the poll set immediately, so later ticks never touch it again
func (b *Bridge) finalizeOnce(id string, fn func() error) {
	b.ensureRunning(id)
	b.Untrack(id)

	if err := fn(); err != nil {
		if IsInvalidTransition(err) {
			// Already finalized locally; the overlay lost the race.
			b.logger.Warn("bridge_already_finalized",
				slog.String("operation_id", id),
				slog.String("error", err.Error()))
			return
		}
		b.logger.Error("bridge_finalize_failed",
			slog.String("operation_id", id),
			slog.String("error", err.Error()))
	}
}

// ensureRunning moves a still-pending record to running so that progress
// and terminal overlays are valid transitions. An operation already past
// pending is left untouched.
func (b *Bridge) ensureRunning(id string) {
	rec, err := b.registry.Get(id)
	if err != nil || rec.Status != StatusPending {
		return
	}
	if _, err := b.registry.MarkStarted(id); err != nil && !IsInvalidTransition(err) {
		b.logger.Error("bridge_mark_started_failed",
			slog.String("operation_id", id),
			slog.String("error", err.Error()))
	}
}

func (b *Bridge) metricsOutcome(outcome string, start time.Time) {
	b.registry.metrics.recordBridgePoll(outcome, time.Since(start))
}
