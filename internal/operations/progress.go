package operations

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Snapshot captures the progress of an operation at a point in time.
// The registry stores whatever it is given: percentage is expected, not
// enforced, to be non-decreasing, and is not validated against the step
// counts (a partial retry may legitimately reset progress).
type Snapshot struct {
	Percentage     float64 `json:"percentage"`
	CurrentStep    string  `json:"current_step,omitempty"`
	StepsCompleted int     `json:"steps_completed,omitempty"`
	StepsTotal     int     `json:"steps_total,omitempty"`
	Context        Context `json:"context,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.Context = s.Context.clone()
	return c
}

// Field is a single ordered key/value pair of domain-specific progress
// detail (epoch number, batch number, rows loaded...)
type Field struct {
	Key   string
	Value any
}

// Context is an order-preserving key/value container. It marshals to a JSON
// object whose keys appear in insertion order, and is replaced wholesale on
// each progress report rather than merged key-by-key.
type Context []Field

// Ctx builds a Context from alternating key/value arguments
func Ctx(pairs ...any) Context {
	c := make(Context, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			key = fmt.Sprint(pairs[i])
		}
		c = append(c, Field{Key: key, Value: pairs[i+1]})
	}
	return c
}

// Get returns the value for key and whether it is present
func (c Context) Get(key string) (any, bool) {
	for _, f := range c {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func (c Context) clone() Context {
	if c == nil {
		return nil
	}
	out := make(Context, len(c))
	copy(out, c)
	return out
}

// MarshalJSON renders the context as a JSON object in insertion order
func (c Context) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(f.Value)
		if err != nil {
			return nil, fmt.Errorf("context key %q: %w", f.Key, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object preserving its key order
func (c *Context) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*c = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("progress context must be a JSON object")
	}

	out := Context{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("progress context key must be a string")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("context key %q: %w", key, err)
		}
		out = append(out, Field{Key: key, Value: normalizeValue(value)})
	}
	if _, err := dec.Token(); err != nil { // closing brace
		return err
	}
	*c = out
	return nil
}

// normalizeValue converts json.Number tokens into float64 so that values
// round-trip the same way they would through map[string]any
func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case []any:
		for i, e := range t {
			t[i] = normalizeValue(e)
		}
		return t
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeValue(e)
		}
		return t
	}
	return v
}
