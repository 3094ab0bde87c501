package websocket

import (
	"encoding/json"
	"log/slog"
	"time"

	"quantlab/internal/operations"
)

// MessageSink is the subset of Hub the adapter needs; tests substitute it
type MessageSink interface {
	Broadcast(message []byte)
}

// OperationsAdapter implements operations.Broadcaster by wrapping lifecycle
// events into the frontend's websocket envelope and pushing them through
// the hub
type OperationsAdapter struct {
	sink   MessageSink
	logger *slog.Logger
}

// NewOperationsAdapter creates the adapter
func NewOperationsAdapter(sink MessageSink, logger *slog.Logger) *OperationsAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &OperationsAdapter{
		sink:   sink,
		logger: logger.With(slog.String("component", "websocket.operations_adapter")),
	}
}

// envelope is the wire format pushed to subscribers
type envelope struct {
	Type      string             `json:"type"`
	Data      *operations.Record `json:"data"`
	Timestamp string             `json:"timestamp"`
}

// BroadcastOperation implements operations.Broadcaster
func (a *OperationsAdapter) BroadcastOperation(eventType string, record *operations.Record) {
	message, err := json.Marshal(envelope{
		Type:      eventType,
		Data:      record,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	})
	if err != nil {
		a.logger.Error("broadcast_marshal_failed",
			slog.String("event_type", eventType),
			slog.String("operation_id", record.ID),
			slog.String("error", err.Error()))
		return
	}
	a.sink.Broadcast(message)
}
