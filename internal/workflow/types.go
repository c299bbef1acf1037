package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/teemow/inboxpilot/internal/tools"
)

// Role is the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`

	// ToolCalls are the calls an assistant message requested.
	ToolCalls []tools.Request `json:"toolCalls,omitempty"`

	// ToolCallID and Name identify the call a tool message answers.
	ToolCallID string `json:"toolCallId,omitempty"`
	Name       string `json:"name,omitempty"`
}

// PlanRequest is the input of one planning step.
type PlanRequest struct {
	ThreadID string
	UserID   string
	Messages []Message
	Tools    []tools.Descriptor
}

// Plan is the planner's answer: text for the user and the tool calls to run
// next. A plan without tool calls ends the run.
type Plan struct {
	Content   string
	ToolCalls []tools.Request
}

// Planner decides the next step of a run.
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*Plan, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, req PlanRequest) (*Plan, error)

// Plan implements Planner.
func (f PlannerFunc) Plan(ctx context.Context, req PlanRequest) (*Plan, error) {
	return f(ctx, req)
}

// Toolset is the catalog a run plans and executes against.
type Toolset interface {
	tools.Catalog
	Descriptors() []tools.Descriptor
}

// ToolsetSource returns the toolset of a user.
type ToolsetSource interface {
	Toolset(ctx context.Context, userID string) (Toolset, error)
}

// ToolsetFunc adapts a function to the ToolsetSource interface.
type ToolsetFunc func(ctx context.Context, userID string) (Toolset, error)

// Toolset implements ToolsetSource.
func (f ToolsetFunc) Toolset(ctx context.Context, userID string) (Toolset, error) {
	return f(ctx, userID)
}

// Input starts a run.
type Input struct {
	UserID string `json:"userId"`

	// ThreadID is generated when empty.
	ThreadID string `json:"threadId,omitempty"`

	// Messages is the conversation so far, ending with the user's message.
	Messages []Message `json:"messages"`

	// MaxIterations and MaxToolCalls override the controller's budgets when
	// positive.
	MaxIterations int `json:"maxIterations,omitempty"`
	MaxToolCalls  int `json:"maxToolCalls,omitempty"`
}

// DecisionType is the kind of answer given to an interrupt.
type DecisionType string

const (
	// DecisionApprove executes the call, optionally with overriding args.
	DecisionApprove DecisionType = "approve"
	// DecisionReject skips the call.
	DecisionReject DecisionType = "reject"
	// DecisionEdit executes the call with replacement args.
	DecisionEdit DecisionType = "edit"
	// DecisionHumanInput answers the call with free text instead of
	// executing it.
	DecisionHumanInput DecisionType = "human_input"
)

// Decision resumes a suspended call.
type Decision struct {
	Type DecisionType `json:"type"`

	// Args override (approve) or replace (edit) the call's arguments.
	Args map[string]any `json:"args,omitempty"`

	// Input is the free-text answer of a human_input decision.
	Input string `json:"input,omitempty"`

	// Reason is recorded with a rejection.
	Reason string `json:"reason,omitempty"`
}

// Validate checks that the decision is complete.
func (d Decision) Validate() error {
	switch d.Type {
	case DecisionApprove, DecisionReject:
	case DecisionEdit:
		if d.Args == nil {
			return fmt.Errorf("%w: edit requires replacement args", ErrInvalidDecision)
		}
	case DecisionHumanInput:
		if d.Input == "" {
			return fmt.Errorf("%w: human_input requires input", ErrInvalidDecision)
		}
	default:
		return fmt.Errorf("%w: unknown decision type %q", ErrInvalidDecision, d.Type)
	}
	return nil
}

// ResumeInput resumes a suspended round.
type ResumeInput struct {
	// UserID, when set, must match the user that started the run.
	UserID     string   `json:"userId,omitempty"`
	ThreadID   string   `json:"threadId"`
	ToolCallID string   `json:"toolCallId"`
	Decision   Decision `json:"decision"`
}

// InterruptPayload describes a suspended call to the caller.
type InterruptPayload struct {
	// Type is approve for approval-gated calls and human_input when the
	// planner asked the user a question.
	Type       DecisionType   `json:"type"`
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Prompt     string         `json:"prompt,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	ThreadID   string         `json:"threadId"`
}

// TerminationReason explains why a run completed.
type TerminationReason string

const (
	ReasonNatural       TerminationReason = "natural"
	ReasonMaxIterations TerminationReason = "max_iterations"
	ReasonMaxTools      TerminationReason = "max_tools"
	ReasonError         TerminationReason = "error"
)

// ExecutionStats tracks a run. Only the controller mutates it and it is
// frozen once IsComplete is set.
type ExecutionStats struct {
	IterationCount    int               `json:"iterationCount"`
	ToolCallCount     int               `json:"toolCallCount"`
	StartTime         time.Time         `json:"startTime"`
	EndTime           *time.Time        `json:"endTime,omitempty"`
	IsComplete        bool              `json:"isComplete"`
	TerminationReason TerminationReason `json:"terminationReason,omitempty"`
}

func (s *ExecutionStats) complete(reason TerminationReason, now time.Time) {
	if s.IsComplete {
		return
	}
	s.IsComplete = true
	s.TerminationReason = reason
	s.EndTime = &now
}

// Budgets bound a run.
type Budgets struct {
	MaxIterations int `json:"maxIterations"`
	MaxToolCalls  int `json:"maxToolCalls"`
}
