package workflow

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/teemow/inboxpilot/internal/tools"
)

// stateVersion is bumped whenever RoundState changes incompatibly.
const stateVersion = 1

// RoundState is everything needed to continue a suspended round, possibly in
// another process.
type RoundState struct {
	Version  int    `json:"version"`
	ThreadID string `json:"threadId"`
	UserID   string `json:"userId"`

	// Messages is the history up to and including the assistant message
	// that requested Round.
	Messages []Message `json:"messages"`

	// Round and Results are parallel: Results[i] is the outcome of Round[i].
	Round   []tools.Request `json:"round"`
	Results []tools.Result  `json:"results"`

	// PendingIndex is the suspended call's index in Round.
	PendingIndex int `json:"pendingIndex"`

	Stats     ExecutionStats `json:"stats"`
	Budgets   Budgets        `json:"budgets"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Pending returns the suspended call.
func (s *RoundState) Pending() (tools.Request, bool) {
	if s.PendingIndex < 0 || s.PendingIndex >= len(s.Round) {
		return tools.Request{}, false
	}
	return s.Round[s.PendingIndex], true
}

// overrideArgs replaces the arguments of a call in the assistant message
// that requested it.
func (s *RoundState) overrideArgs(toolCallID string, args map[string]any) {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		msg := &s.Messages[i]
		if msg.Role != RoleAssistant {
			continue
		}
		for j := range msg.ToolCalls {
			if msg.ToolCalls[j].ToolCallID == toolCallID {
				msg.ToolCalls[j].Args = args
				return
			}
		}
		return
	}
}

func (s *RoundState) marshal() ([]byte, error) {
	s.Version = stateVersion
	return json.Marshal(s)
}

func unmarshalState(data []byte) (*RoundState, error) {
	var s RoundState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode round state: %w", err)
	}
	if s.Version != stateVersion {
		return nil, fmt.Errorf("unsupported round state version %d", s.Version)
	}
	if len(s.Round) != len(s.Results) {
		return nil, fmt.Errorf("corrupt round state: %d calls but %d results", len(s.Round), len(s.Results))
	}
	if _, ok := s.Pending(); !ok {
		return nil, fmt.Errorf("corrupt round state: pending index %d out of range", s.PendingIndex)
	}
	return &s, nil
}
