package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Error is a failure reported by the engine itself (operationType contains ERROR).
type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// OperationTypes accepts both the single string and the list form the engine emits.
type OperationTypes []string

// UnmarshalJSON implements json.Unmarshaler.
func (o *OperationTypes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*o = nil
		return nil
	}
	if data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return err
		}
		*o = OperationTypes{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("operationType: %w", err)
	}
	*o = list
	return nil
}

// IsError reports whether any operation type contains ERROR.
func (o OperationTypes) IsError() bool {
	for _, op := range o {
		if strings.Contains(op, "ERROR") {
			return true
		}
	}
	return false
}

// Result is the tagged outcome of a single pixel: either OK with an Output
// payload, or a failure with the engine's message.
type Result struct {
	OK            bool
	Output        json.RawMessage
	OperationType OperationTypes
	Message       string
}

// NewResult classifies a raw pixelReturn entry.
func NewResult(output json.RawMessage, ops OperationTypes) Result {
	res := Result{
		OK:            !ops.IsError(),
		Output:        output,
		OperationType: ops,
	}
	if !res.OK {
		res.Message = OutputMessage(output)
	}
	return res
}

// Err returns nil for a successful result and an *Error otherwise.
func (r Result) Err(fallback string) error {
	if r.OK {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = fallback
	}
	return &Error{Message: msg}
}

// Decode unmarshals the output payload into v.
func (r Result) Decode(v any) error {
	if len(r.Output) == 0 {
		return fmt.Errorf("empty output")
	}
	return json.Unmarshal(r.Output, v)
}

// Array returns the output elements, or nil when the output is not a JSON array.
func (r Result) Array() []json.RawMessage {
	trimmed := bytes.TrimSpace(r.Output)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil
	}
	if items == nil {
		items = []json.RawMessage{}
	}
	return items
}

// OutputMessage extracts a human readable message from an output payload:
// the payload itself when it is a string, or its "response" field when it is
// an object. Anything else yields "".
func OutputMessage(output json.RawMessage) string {
	trimmed := bytes.TrimSpace(output)
	if len(trimmed) == 0 {
		return ""
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return ""
		}
		raw, ok := obj["response"]
		if !ok {
			return ""
		}
		return stringify(raw)
	}
	return ""
}

func stringify(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return "null"
	}
	return string(trimmed)
}

// HasResponse reports whether output is an object carrying a "response" field.
func HasResponse(output json.RawMessage) bool {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(output, &obj); err != nil {
		return false
	}
	_, ok := obj["response"]
	return ok
}
