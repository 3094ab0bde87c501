package operations

import (
	"sync"
	"time"
)

// Type identifies the kind of work an operation tracks
type Type string

const (
	TypeDataLoad Type = "data-load"
	TypeTraining Type = "training"
	TypeBacktest Type = "backtest"
	TypeGeneric  Type = "generic"
)

// Valid reports whether t is a known operation type
func (t Type) Valid() bool {
	switch t {
	case TypeDataLoad, TypeTraining, TypeBacktest, TypeGeneric:
		return true
	}
	return false
}

// Bridged reports whether the authoritative progress for this type lives in
// a remote executor rather than an in-process task
func (t Type) Bridged() bool {
	return t == TypeTraining
}

// Status represents the lifecycle status of an operation
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions are permitted
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Active reports whether the operation is pending or running
func (s Status) Active() bool {
	return s == StatusPending || s == StatusRunning
}

// Record is one tracked unit of long-running asynchronous work.
//
// All fields are owned by the Registry and mutated only under the record's
// mutex; reads performed through the registry return deep clones, so a
// Record obtained from Get or List is safe to use without locking.
type Record struct {
	mu  sync.RWMutex
	seq uint64 // registry-assigned, breaks created_at ties in list ordering

	ID          string     `json:"id"`
	Type        Type       `json:"type"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Progress     Snapshot      `json:"progress"`
	Cancellation *CancelSignal `json:"cancellation"`

	ErrorMessage  string         `json:"error_message,omitempty"`
	ResultSummary map[string]any `json:"result_summary,omitempty"`

	// Metadata is caller-supplied context captured at creation (symbol,
	// strategy, dataset...). Never mutated after Create.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Duration returns how long the operation has been running, or ran
func (r *Record) Duration() time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start := r.CreatedAt
	if r.StartedAt != nil {
		start = *r.StartedAt
	}
	if r.CompletedAt != nil {
		return r.CompletedAt.Sub(start)
	}
	return time.Since(start)
}

// Clone creates a deep copy of the record
func (r *Record) Clone() *Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clone := &Record{
		seq:          r.seq,
		ID:           r.ID,
		Type:         r.Type,
		Status:       r.Status,
		CreatedAt:    r.CreatedAt,
		Progress:     r.Progress.clone(),
		Cancellation: r.Cancellation.clone(),
		ErrorMessage: r.ErrorMessage,
	}

	if r.StartedAt != nil {
		t := *r.StartedAt
		clone.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		clone.CompletedAt = &t
	}
	if r.ResultSummary != nil {
		clone.ResultSummary = make(map[string]any, len(r.ResultSummary))
		for k, v := range r.ResultSummary {
			clone.ResultSummary[k] = v
		}
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}

	return clone
}

// Filter selects operations for List
type Filter struct {
	// Type restricts results to a single operation type when non-empty
	Type Type
	// Status restricts results to a single status when non-empty
	Status Status
	// ActiveOnly restricts results to pending and running operations.
	// Combined with Status the intersection applies.
	ActiveOnly bool
	// Limit bounds the page size; zero or negative means no limit
	Limit int
	// Offset skips that many records of the full ordering
	Offset int
}

func (f Filter) matches(status Status, typ Type) bool {
	if f.Type != "" && typ != f.Type {
		return false
	}
	if f.Status != "" && status != f.Status {
		return false
	}
	if f.ActiveOnly && !status.Active() {
		return false
	}
	return true
}
