package websocket_test

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/operations"
	"quantlab/internal/websocket"
)

// captureSink records broadcast frames instead of fanning them out
type captureSink struct {
	mu       sync.Mutex
	messages [][]byte
}

func (s *captureSink) Broadcast(message []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
}

func (s *captureSink) all() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.messages))
	copy(out, s.messages)
	return out
}

type frame struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp string          `json:"timestamp"`
}

func TestAdapterEnvelope(t *testing.T) {
	sink := &captureSink{}
	adapter := websocket.NewOperationsAdapter(sink, nil)

	record := &operations.Record{
		ID:           "op-1",
		Type:         operations.TypeDataLoad,
		Status:       operations.StatusRunning,
		CreatedAt:    time.Now(),
		Cancellation: operations.NewCancelSignal(),
	}
	adapter.BroadcastOperation(operations.EventTypeStatus, record)

	messages := sink.all()
	require.Len(t, messages, 1)

	var f frame
	require.NoError(t, json.Unmarshal(messages[0], &f))
	assert.Equal(t, "operation:status", f.Type)
	assert.NotEmpty(t, f.Timestamp)

	var data map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, "op-1", data["id"])
	assert.Equal(t, "running", data["status"])
}

func TestRegistryEventsReachSink(t *testing.T) {
	sink := &captureSink{}
	adapter := websocket.NewOperationsAdapter(sink, nil)
	registry := operations.NewRegistry(operations.WithBroadcaster(adapter))

	record, err := registry.Create(operations.TypeDataLoad, nil)
	require.NoError(t, err)
	_, err = registry.MarkStarted(record.ID)
	require.NoError(t, err)
	require.NoError(t, registry.ReportProgress(record.ID, operations.Snapshot{Percentage: 50}))
	require.NoError(t, registry.Complete(record.ID, map[string]any{"rows": 500}))

	messages := sink.all()
	require.Len(t, messages, 4)

	types := make([]string, len(messages))
	for i, message := range messages {
		var f frame
		require.NoError(t, json.Unmarshal(message, &f))
		types[i] = f.Type
	}
	assert.Equal(t, []string{
		operations.EventTypeStatus,   // created
		operations.EventTypeStatus,   // started
		operations.EventTypeProgress, // progress report
		operations.EventTypeComplete, // finalized
	}, types)
}

func TestFailureEventType(t *testing.T) {
	sink := &captureSink{}
	adapter := websocket.NewOperationsAdapter(sink, nil)
	registry := operations.NewRegistry(operations.WithBroadcaster(adapter))

	record, err := registry.Create(operations.TypeBacktest, nil)
	require.NoError(t, err)
	_, err = registry.MarkStarted(record.ID)
	require.NoError(t, err)
	require.NoError(t, registry.Fail(record.ID, "boom", nil))

	messages := sink.all()
	require.NotEmpty(t, messages)

	var f frame
	require.NoError(t, json.Unmarshal(messages[len(messages)-1], &f))
	assert.Equal(t, operations.EventTypeError, f.Type)

	var data map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &data))
	assert.Equal(t, "boom", data["error_message"])
}
