package http

import (
	"context"
	"time"

	"quantlab/internal/operations"
	"quantlab/internal/services"
)

// OperationsServiceInterface is the contract the handler consumes; the
// concrete implementation lives in internal/services
type OperationsServiceInterface interface {
	Start(ctx context.Context, req services.StartRequest) (*operations.Record, error)
	Get(ctx context.Context, id string) (*operations.Record, error)
	List(ctx context.Context, filter operations.Filter) ([]*operations.Record, int)
	Cancel(ctx context.Context, id, reason string) (operations.Status, error)
	Results(ctx context.Context, id string) (map[string]any, error)
	Cleanup(ctx context.Context, olderThan time.Duration) int
}
