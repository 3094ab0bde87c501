package operations

import (
	"encoding/json"
	"sync"
)

// CancelSignal is the per-operation cooperative cancellation primitive: a
// flag plus optional human-readable reason, settable exactly once. The
// executing task acknowledges the signal separately, because cancellation
// is cooperative and may take time to take effect.
type CancelSignal struct {
	mu           sync.Mutex
	requested    bool
	reason       string
	acknowledged bool
}

// NewCancelSignal creates an unset signal
func NewCancelSignal() *CancelSignal {
	return &CancelSignal{}
}

// Request sets the flag and returns true if this call was the first
// request. Repeated requests are no-ops, except that they fill in the
// reason when none was stored yet. Once set, the flag never reverts.
func (s *CancelSignal) Request(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.requested {
		if s.reason == "" && reason != "" {
			s.reason = reason
		}
		return false
	}
	s.requested = true
	s.reason = reason
	return true
}

// Requested reports whether cancellation has been requested
func (s *CancelSignal) Requested() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested
}

// Reason returns the stored cancellation reason, if any
func (s *CancelSignal) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Acknowledge records that the executing task observed the signal and is
// unwinding
func (s *CancelSignal) Acknowledge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acknowledged = true
}

// Acknowledged reports whether the task acknowledged the signal
func (s *CancelSignal) Acknowledged() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acknowledged
}

func (s *CancelSignal) clone() *CancelSignal {
	if s == nil {
		return NewCancelSignal()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return &CancelSignal{
		requested:    s.requested,
		reason:       s.reason,
		acknowledged: s.acknowledged,
	}
}

// cancelView is the wire shape of a CancelSignal
type cancelView struct {
	Requested    bool   `json:"requested"`
	Reason       string `json:"reason,omitempty"`
	Acknowledged bool   `json:"acknowledged"`
}

// MarshalJSON implements json.Marshaler
func (s *CancelSignal) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	v := cancelView{
		Requested:    s.requested,
		Reason:       s.reason,
		Acknowledged: s.acknowledged,
	}
	s.mu.Unlock()
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler
func (s *CancelSignal) UnmarshalJSON(data []byte) error {
	var v cancelView
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	s.mu.Lock()
	s.requested = v.Requested
	s.reason = v.Reason
	s.acknowledged = v.Acknowledged
	s.mu.Unlock()
	return nil
}
