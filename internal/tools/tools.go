// Package tools defines the tool catalogue and call types shared by the
// classifier, executor, client cache and workflow controller.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrBackendUnavailable marks failures of the shared client or transport
	// rather than of an individual call. A parallel batch in which every call
	// failed this way is considered a systemic failure.
	ErrBackendUnavailable = errors.New("tool backend unavailable")

	// ErrToolNotFound is returned when a request names a tool that is not in
	// the user's catalogue.
	ErrToolNotFound = errors.New("tool not found")

	// ErrInvalidArguments is returned when arguments do not match the tool's
	// input schema.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// Category is the safety category of a tool.
type Category string

const (
	// SafeParallel tools have no irreversible side effect and may run
	// concurrently without approval.
	SafeParallel Category = "SAFE_PARALLEL"

	// RequiresApproval tools have externally visible side effects that are
	// hard to undo and never run without a human decision.
	RequiresApproval Category = "REQUIRES_APPROVAL"

	// SequentialOnly tools mutate state in an undoable or idempotent way and
	// run one at a time in plan order.
	SequentialOnly Category = "SEQUENTIAL_ONLY"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case SafeParallel, RequiresApproval, SequentialOnly:
		return true
	}
	return false
}

// Strictness orders categories from least to most restrictive.
func (c Category) Strictness() int {
	switch c {
	case SafeParallel:
		return 0
	case SequentialOnly:
		return 1
	case RequiresApproval:
		return 2
	}
	return 1
}

// Capability is the behaviour a tool declares about itself. A nil field means
// the tool did not declare it.
type Capability struct {
	ReadOnly    *bool `json:"readOnly,omitempty"`
	Destructive *bool `json:"destructive,omitempty"`
	Idempotent  *bool `json:"idempotent,omitempty"`
}

// Declared reports whether any capability hint is present.
func (c Capability) Declared() bool {
	return c.ReadOnly != nil || c.Destructive != nil || c.Idempotent != nil
}

// InvokeFunc executes a tool with the given arguments and returns its
// rendered text output.
type InvokeFunc func(ctx context.Context, args map[string]any) (string, error)

// Descriptor describes one invocable tool. Descriptors are immutable once
// placed in a catalogue.
type Descriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Provider    string          `json:"provider,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
	Capability  Capability      `json:"capability"`
	Category    Category        `json:"category"`

	Invoke InvokeFunc `json:"-"`
}

// Catalog resolves tool names to descriptors.
type Catalog interface {
	Lookup(name string) (Descriptor, bool)
}

// Index is a Catalog backed by a map.
type Index map[string]Descriptor

// NewIndex indexes descriptors by name. The first descriptor with a given
// name wins.
func NewIndex(descriptors []Descriptor) Index {
	idx := make(Index, len(descriptors))
	for _, d := range descriptors {
		if _, exists := idx[d.Name]; !exists {
			idx[d.Name] = d
		}
	}
	return idx
}

// Lookup implements Catalog.
func (idx Index) Lookup(name string) (Descriptor, bool) {
	d, ok := idx[name]
	return d, ok
}

// Request is a tool call proposed by the planner.
type Request struct {
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName"`
	Args       map[string]any `json:"args,omitempty"`
}

// Status is the outcome of a tool call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusTimeout Status = "timeout"
	StatusSkipped Status = "skipped"

	// StatusPending marks a call returned unexecuted, either because it needs
	// approval or because it is queued behind one that does.
	StatusPending Status = "pending"
)

// Settled reports whether the status is final.
func (s Status) Settled() bool {
	return s != StatusPending && s != ""
}

// Result is the outcome of one tool call.
type Result struct {
	ToolCallID       string
	ToolName         string
	Status           Status
	Result           string
	Error            string
	ExecutionTime    time.Duration
	RequiresApproval bool
}

type resultJSON struct {
	ToolCallID       string `json:"toolCallId,omitempty"`
	ToolName         string `json:"toolName"`
	Status           Status `json:"status"`
	Result           string `json:"result,omitempty"`
	Error            string `json:"error,omitempty"`
	ExecutionTimeMs  int64  `json:"executionTimeMs"`
	RequiresApproval bool   `json:"requiresApproval"`
}

// MarshalJSON encodes the execution time in milliseconds.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(resultJSON{
		ToolCallID:       r.ToolCallID,
		ToolName:         r.ToolName,
		Status:           r.Status,
		Result:           r.Result,
		Error:            r.Error,
		ExecutionTimeMs:  r.ExecutionTime.Milliseconds(),
		RequiresApproval: r.RequiresApproval,
	})
}

// UnmarshalJSON decodes a result encoded by MarshalJSON.
func (r *Result) UnmarshalJSON(data []byte) error {
	var raw resultJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = Result{
		ToolCallID:       raw.ToolCallID,
		ToolName:         raw.ToolName,
		Status:           raw.Status,
		Result:           raw.Result,
		Error:            raw.Error,
		ExecutionTime:    time.Duration(raw.ExecutionTimeMs) * time.Millisecond,
		RequiresApproval: raw.RequiresApproval,
	}
	return nil
}
