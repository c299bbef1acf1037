package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/teemow/inboxpilot/internal/tools"
)

// AskHumanTool is the built-in tool the planner calls to ask the user a
// question. It never executes; the run suspends until a human_input decision
// supplies the answer.
const AskHumanTool = "ask_human"

var askHumanDescriptor = tools.Descriptor{
	Name:        AskHumanTool,
	Description: "Ask the user a question and wait for the answer. Use it when a decision or detail only the user can provide is missing.",
	Provider:    "workflow",
	InputSchema: json.RawMessage(`{"type":"object","properties":{"question":{"type":"string","description":"The question to ask"}},"required":["question"]}`),
	Category:    tools.RequiresApproval,
	Invoke: func(context.Context, map[string]any) (string, error) {
		return "", fmt.Errorf("%s is answered by the user", AskHumanTool)
	},
}

// withAskHuman adds the ask_human tool to a toolset.
type withAskHuman struct {
	Toolset
}

func (t withAskHuman) Lookup(name string) (tools.Descriptor, bool) {
	if name == AskHumanTool {
		return askHumanDescriptor, true
	}
	if t.Toolset == nil {
		return tools.Descriptor{}, false
	}
	return t.Toolset.Lookup(name)
}

func (t withAskHuman) Descriptors() []tools.Descriptor {
	var list []tools.Descriptor
	if t.Toolset != nil {
		list = append(list, t.Toolset.Descriptors()...)
	}
	return append(list, askHumanDescriptor)
}

// interruptFor describes the suspended call req.
func interruptFor(threadID string, req tools.Request) *InterruptPayload {
	payload := &InterruptPayload{
		Type:       DecisionApprove,
		ToolCallID: req.ToolCallID,
		ToolName:   req.ToolName,
		Args:       req.Args,
		ThreadID:   threadID,
	}
	if req.ToolName == AskHumanTool {
		payload.Type = DecisionHumanInput
		payload.Prompt, _ = req.Args["question"].(string)
		payload.Args = nil
		return payload
	}
	payload.Prompt = fmt.Sprintf("Approve call to %s?", req.ToolName)
	return payload
}
