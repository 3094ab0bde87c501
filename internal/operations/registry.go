package operations

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Event types pushed to the status broadcaster, matching the frontend format
const (
	EventTypeStatus   = "operation:status"
	EventTypeProgress = "operation:progress"
	EventTypeComplete = "operation:complete"
	EventTypeError    = "operation:error"
)

// Broadcaster receives lifecycle events as they happen. Implementations must
// not block; the registry calls them synchronously after releasing record
// locks. A nil broadcaster is inert.
type Broadcaster interface {
	BroadcastOperation(eventType string, record *Record)
}

// Registry is the concurrency-safe owner of all operation records.
//
// The registry mutex guards only the id→record map; each record carries its
// own lock, so calls against distinct ids never contend. Construct one per
// process (or per test) and inject it; there is no package-level instance.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record

	seq     atomic.Uint64
	logger  *slog.Logger
	sink    Broadcaster
	metrics *Metrics
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger used for lifecycle events
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithBroadcaster attaches a status broadcaster
func WithBroadcaster(sink Broadcaster) Option {
	return func(r *Registry) { r.sink = sink }
}

// WithMetrics attaches OpenTelemetry instrumentation
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		records: make(map[string]*Record),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "operations.registry"))
	return r
}

// Create allocates a new record in pending status and returns a clone of it.
// The returned record's ID is the sole lookup key for all other calls.
func (r *Registry) Create(typ Type, metadata map[string]string) (*Record, error) {
	if !typ.Valid() {
		return nil, &Error{
			Kind:    KindInvalidTransition,
			Op:      "create",
			Message: "unknown operation type " + string(typ),
		}
	}

	rec := &Record{
		seq:          r.seq.Add(1),
		ID:           uuid.NewString(),
		Type:         typ,
		Status:       StatusPending,
		CreatedAt:    time.Now(),
		Cancellation: NewCancelSignal(),
	}
	if len(metadata) > 0 {
		rec.Metadata = make(map[string]string, len(metadata))
		for k, v := range metadata {
			rec.Metadata[k] = v
		}
	}

	r.mu.Lock()
	r.records[rec.ID] = rec
	r.mu.Unlock()

	r.logger.InfoContext(context.Background(), "operation_created",
		slog.String("operation_id", rec.ID),
		slog.String("type", string(typ)))
	r.metrics.recordCreated(typ)
	r.emit(EventTypeStatus, rec)

	return rec.Clone(), nil
}

// MarkStarted transitions pending → running and issues the narrow handle the
// executing task uses to report progress and observe cancellation
func (r *Registry) MarkStarted(id string) (*Handle, error) {
	rec, err := r.lookup("mark_started", id)
	if err != nil {
		return nil, err
	}

	rec.mu.Lock()
	if rec.Status != StatusPending {
		from := rec.Status
		rec.mu.Unlock()
		return nil, NewInvalidTransition("mark_started", id, from, StatusPending)
	}
	now := time.Now()
	rec.Status = StatusRunning
	rec.StartedAt = &now
	rec.mu.Unlock()

	r.logger.InfoContext(context.Background(), "operation_started",
		slog.String("operation_id", id))
	r.emit(EventTypeStatus, rec)

	return &Handle{id: id, registry: r}, nil
}

// ReportProgress replaces the record's progress snapshot. Valid only while
// the operation is running; the snapshot is stored verbatim, including
// percentages that regress or disagree with the step counts.
func (r *Registry) ReportProgress(id string, snapshot Snapshot) error {
	rec, err := r.lookup("report_progress", id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.Status != StatusRunning {
		from := rec.Status
		rec.mu.Unlock()
		return NewInvalidTransition("report_progress", id, from, StatusRunning)
	}
	rec.Progress = snapshot.clone()
	rec.mu.Unlock()

	r.logger.DebugContext(context.Background(), "operation_progress",
		slog.String("operation_id", id),
		slog.Float64("percentage", snapshot.Percentage),
		slog.String("current_step", snapshot.CurrentStep))
	r.metrics.recordProgressReport()
	r.emit(EventTypeProgress, rec)

	return nil
}

// Complete transitions running → completed and stores the result summary.
// A second finalization of any kind fails with an invalid-transition error
// so that double-finalizing collaborators are surfaced, not masked.
func (r *Registry) Complete(id string, result map[string]any) error {
	return r.finalize("complete", id, StatusCompleted, "", result)
}

// Fail transitions running → failed, storing the error detail and any
// partial result the task salvaged
func (r *Registry) Fail(id, errorMessage string, result map[string]any) error {
	return r.finalize("fail", id, StatusFailed, errorMessage, result)
}

// RequestCancellation sets the cancellation flag and stores the reason if
// none was stored yet. A pending operation is cancelled immediately since no
// task has observed the signal; a running one is only signalled and stays
// running until its task acknowledges. Requesting cancellation of an
// already-terminal operation is an idempotent no-op that reports the
// existing status, because races between natural completion and
// cancellation are expected.
func (r *Registry) RequestCancellation(id, reason string) (Status, error) {
	rec, err := r.lookup("request_cancellation", id)
	if err != nil {
		return "", err
	}

	rec.mu.Lock()
	status := rec.Status
	if status.Terminal() {
		rec.mu.Unlock()
		return status, nil
	}

	first := rec.Cancellation.Request(reason)
	if status == StatusPending {
		now := time.Now()
		rec.Status = StatusCancelled
		rec.CompletedAt = &now
		rec.mu.Unlock()

		r.logger.InfoContext(context.Background(), "operation_cancelled",
			slog.String("operation_id", id),
			slog.String("reason", reason),
			slog.Bool("was_pending", true))
		r.metrics.recordFinalized(StatusCancelled)
		r.emit(EventTypeComplete, rec)
		return StatusCancelled, nil
	}
	rec.mu.Unlock()

	if first {
		r.logger.InfoContext(context.Background(), "cancellation_requested",
			slog.String("operation_id", id),
			slog.String("reason", reason))
		r.emit(EventTypeStatus, rec)
	}
	return StatusRunning, nil
}

// AcknowledgeCancellation is called by the owning task (through its handle)
// once it has unwound, performing the running → cancelled transition
func (r *Registry) AcknowledgeCancellation(id string) error {
	rec, err := r.lookup("acknowledge_cancellation", id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.Status != StatusRunning {
		from := rec.Status
		rec.mu.Unlock()
		return NewInvalidTransition("acknowledge_cancellation", id, from, StatusRunning)
	}
	if !rec.Cancellation.Requested() {
		rec.mu.Unlock()
		return &Error{
			Kind:    KindInvalidTransition,
			Op:      "acknowledge_cancellation",
			ID:      id,
			Message: "cancellation was never requested",
		}
	}
	rec.Cancellation.Acknowledge()
	now := time.Now()
	rec.Status = StatusCancelled
	rec.CompletedAt = &now
	rec.mu.Unlock()

	r.logger.InfoContext(context.Background(), "operation_cancelled",
		slog.String("operation_id", id),
		slog.String("reason", rec.Cancellation.Reason()))
	r.metrics.recordFinalized(StatusCancelled)
	r.emit(EventTypeComplete, rec)

	return nil
}

// Get returns a point-in-time deep copy of the record
func (r *Registry) Get(id string) (*Record, error) {
	rec, err := r.lookup("get", id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// List returns operations matching the filter, sorted by creation time
// descending (most recent first), plus the total match count before
// pagination. The result is a point-in-time snapshot; it never blocks
// writers beyond the per-record clone.
func (r *Registry) List(filter Filter) ([]*Record, int) {
	r.mu.RLock()
	candidates := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		candidates = append(candidates, rec)
	}
	r.mu.RUnlock()

	matched := make([]*Record, 0, len(candidates))
	for _, rec := range candidates {
		clone := rec.Clone()
		if filter.matches(clone.Status, clone.Type) {
			matched = append(matched, clone)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].seq > matched[j].seq
	})

	total := len(matched)
	if filter.Offset > 0 {
		if filter.Offset >= total {
			return []*Record{}, total
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total
}

// Results returns the stored result summary of a terminal operation. The
// summary may be nil when the task provided none.
func (r *Registry) Results(id string) (map[string]any, error) {
	rec, err := r.lookup("results", id)
	if err != nil {
		return nil, err
	}

	clone := rec.Clone()
	if !clone.Status.Terminal() {
		return nil, NewNotReady(id, clone.Status)
	}
	return clone.ResultSummary, nil
}

// Cleanup removes terminal records whose completion precedes the given age
// and returns how many were removed. It is explicit and caller-invoked;
// nothing evicts records automatically.
func (r *Registry) Cleanup(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)

	r.mu.Lock()
	removed := 0
	for id, rec := range r.records {
		rec.mu.RLock()
		expired := rec.Status.Terminal() && rec.CompletedAt != nil && rec.CompletedAt.Before(cutoff)
		rec.mu.RUnlock()
		if expired {
			delete(r.records, id)
			removed++
		}
	}
	remaining := len(r.records)
	r.mu.Unlock()

	r.logger.InfoContext(context.Background(), "cleanup_completed",
		slog.Int("removed", removed),
		slog.Int("remaining", remaining),
		slog.Duration("older_than", olderThan))
	return removed
}

// Count returns the number of tracked records
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// finalize performs a running → terminal transition
func (r *Registry) finalize(op, id string, to Status, errorMessage string, result map[string]any) error {
	rec, err := r.lookup(op, id)
	if err != nil {
		return err
	}

	rec.mu.Lock()
	if rec.Status != StatusRunning {
		from := rec.Status
		rec.mu.Unlock()
		return NewInvalidTransition(op, id, from, StatusRunning)
	}
	now := time.Now()
	rec.Status = to
	rec.CompletedAt = &now
	rec.ErrorMessage = errorMessage
	if result != nil {
		rec.ResultSummary = make(map[string]any, len(result))
		for k, v := range result {
			rec.ResultSummary[k] = v
		}
	}
	duration := now.Sub(rec.CreatedAt)
	rec.mu.Unlock()

	if to == StatusFailed {
		r.logger.ErrorContext(context.Background(), "operation_failed",
			slog.String("operation_id", id),
			slog.String("error", errorMessage),
			slog.Duration("duration", duration))
		r.emit(EventTypeError, rec)
	} else {
		r.logger.InfoContext(context.Background(), "operation_completed",
			slog.String("operation_id", id),
			slog.Duration("duration", duration))
		r.emit(EventTypeComplete, rec)
	}
	r.metrics.recordFinalized(to)

	return nil
}

// lookup fetches the live record pointer under the map read lock
func (r *Registry) lookup(op, id string) (*Record, error) {
	r.mu.RLock()
	rec, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, NewNotFound(op, id)
	}
	return rec, nil
}

// emit pushes a cloned record to the broadcaster, outside any lock
func (r *Registry) emit(eventType string, rec *Record) {
	if r.sink == nil {
		return
	}
	r.sink.BroadcastOperation(eventType, rec.Clone())
}
