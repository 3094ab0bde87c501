// Package services hosts the thin orchestration layer between transport and
// the operations core.
package services

import (
	"context"
	"log/slog"
	"time"

	"quantlab/internal/operations"
)

// MetadataKeyExecutorJob is the metadata key carrying the remote executor's
// job reference for bridged operation types
const MetadataKeyExecutorJob = "executor_job"

// Tracker is the part of the live-status bridge the service uses
type Tracker interface {
	Track(operationID, ref string) error
}

// StartRequest describes a new operation to track
type StartRequest struct {
	Type        operations.Type
	Metadata    map[string]string
	ExecutorJob string // remote job reference, required for bridged types
}

// OperationsService exposes the registry to transport layers and hooks
// bridged operations up to the live-status bridge
type OperationsService struct {
	registry *operations.Registry
	bridge   Tracker
	logger   *slog.Logger
}

// NewOperationsService creates the service. The bridge may be nil when no
// remote executor is configured; bridged types then behave like local ones.
func NewOperationsService(registry *operations.Registry, bridge Tracker, logger *slog.Logger) *OperationsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationsService{
		registry: registry,
		bridge:   bridge,
		logger:   logger.With(slog.String("component", "operations.service")),
	}
}

// Start creates a new operation. Operations of a bridged type carrying an
// executor job reference are registered with the bridge so their status is
// polled from the remote executor.
func (s *OperationsService) Start(ctx context.Context, req StartRequest) (*operations.Record, error) {
	metadata := req.Metadata
	if req.ExecutorJob != "" {
		metadata = make(map[string]string, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		metadata[MetadataKeyExecutorJob] = req.ExecutorJob
	}

	record, err := s.registry.Create(req.Type, metadata)
	if err != nil {
		return nil, err
	}

	if req.Type.Bridged() && req.ExecutorJob != "" && s.bridge != nil {
		if err := s.bridge.Track(record.ID, req.ExecutorJob); err != nil {
			s.logger.ErrorContext(ctx, "bridge_track_failed",
				slog.String("operation_id", record.ID),
				slog.String("executor_job", req.ExecutorJob),
				slog.String("error", err.Error()))
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "operation_start_accepted",
		slog.String("operation_id", record.ID),
		slog.String("type", string(req.Type)),
		slog.Bool("bridged", req.Type.Bridged() && req.ExecutorJob != ""))

	return record, nil
}

// MarkStarted transitions an operation to running and returns the task
// handle for in-process executors
func (s *OperationsService) MarkStarted(ctx context.Context, id string) (*operations.Handle, error) {
	return s.registry.MarkStarted(id)
}

// Get returns a point-in-time copy of the operation
func (s *OperationsService) Get(ctx context.Context, id string) (*operations.Record, error) {
	return s.registry.Get(id)
}

// List returns operations matching the filter plus the total match count
func (s *OperationsService) List(ctx context.Context, filter operations.Filter) ([]*operations.Record, int) {
	return s.registry.List(filter)
}

// Cancel requests cooperative cancellation and reports the resulting status
func (s *OperationsService) Cancel(ctx context.Context, id, reason string) (operations.Status, error) {
	return s.registry.RequestCancellation(id, reason)
}

// Results returns the result summary of a terminal operation
func (s *OperationsService) Results(ctx context.Context, id string) (map[string]any, error) {
	return s.registry.Results(id)
}

// Cleanup removes terminal operations older than the given age and returns
// how many were removed
func (s *OperationsService) Cleanup(ctx context.Context, olderThan time.Duration) int {
	removed := s.registry.Cleanup(olderThan)
	s.logger.InfoContext(ctx, "operations_cleanup",
		slog.Duration("older_than", olderThan),
		slog.Int("removed", removed))
	return removed
}
