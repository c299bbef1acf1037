package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	openai "github.com/sashabaranov/go-openai"

	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/tools"
	"github.com/teemow/inboxpilot/internal/workflow"
)

// Defaults for Config.
const (
	DefaultModel      = "gpt-4o"
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second
)

// DefaultSystemPrompt frames the assistant for mailbox and calendar work.
const DefaultSystemPrompt = `You are an assistant that works on the user's email, calendar and documents.
Use the available tools to look things up before answering. Prefer reading over changing data.
Calls that send, share or delete are confirmed by the user before they run.
When you need information only the user has, call ask_human.`

// ErrMalformedResponse is returned when the model's answer cannot be turned
// into a plan.
var ErrMalformedResponse = errors.New("malformed model response")

// Config configures an OpenAIPlanner.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// SystemPrompt is prepended to every request (default: DefaultSystemPrompt).
	SystemPrompt string

	Temperature float32
	MaxTokens   int

	// MaxRetries bounds attempts for rate limited or failed requests.
	MaxRetries int

	// RetryDelay is the base of the linear backoff between attempts.
	RetryDelay time.Duration

	HTTPClient *http.Client
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

// OpenAIPlanner implements workflow.Planner with chat completions.
// It is safe for concurrent use.
type OpenAIPlanner struct {
	client *openai.Client
	config Config
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewOpenAIPlanner creates a planner.
func NewOpenAIPlanner(config Config) (*OpenAIPlanner, error) {
	if config.APIKey == "" && config.BaseURL == "" {
		return nil, fmt.Errorf("API key or base URL is required")
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = DefaultRetryDelay
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.HTTPClient != nil {
		clientConfig.HTTPClient = config.HTTPClient
	}

	clock := config.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	return &OpenAIPlanner{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		clock:  clock,
		logger: logging.WithComponent(config.Logger, "llm"),
	}, nil
}

// Plan asks the model for the next step of the conversation.
func (p *OpenAIPlanner) Plan(ctx context.Context, req workflow.PlanRequest) (*workflow.Plan, error) {
	ctx, span := instrumentation.StartSpan(ctx, "llm.plan",
		instrumentation.NewSpanAttributeBuilder().
			WithThread(req.ThreadID, 0).
			WithUserHash(logging.AnonymizeUser(req.UserID)).
			Build()...)
	defer span.End()

	messages, err := toChatMessages(p.config.SystemPrompt, req.Messages)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Messages:    messages,
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = toFunctionTools(req.Tools)
	}

	resp, err := p.complete(ctx, chatReq)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	plan, err := toPlan(resp)
	if err != nil {
		instrumentation.SetSpanError(span, err)
		return nil, err
	}

	p.logger.Debug("plan received",
		logging.ThreadID(req.ThreadID),
		slog.Int("tool_calls", len(plan.ToolCalls)),
		slog.Int("prompt_tokens", resp.Usage.PromptTokens),
		slog.Int("completion_tokens", resp.Usage.CompletionTokens))
	instrumentation.SetSpanSuccess(span)
	return plan, nil
}

func (p *OpenAIPlanner) complete(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	var lastErr error
	for attempt := 0; attempt < p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return openai.ChatCompletionResponse{}, ctx.Err()
			case <-p.clock.After(p.config.RetryDelay * time.Duration(attempt)):
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return openai.ChatCompletionResponse{}, fmt.Errorf("chat completion: %w", err)
		}
		p.logger.Warn("chat completion failed, retrying", slog.Int("attempt", attempt+1), logging.Err(err))
	}
	return openai.ChatCompletionResponse{}, fmt.Errorf("chat completion: max retries exceeded: %w", lastErr)
}

// isRetryable reports whether err is a rate limit or server side failure.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return false
}

func toChatMessages(system string, history []workflow.Message) ([]openai.ChatCompletionMessage, error) {
	out := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range history {
		m := openai.ChatCompletionMessage{Role: string(msg.Role), Content: msg.Content}
		switch msg.Role {
		case workflow.RoleAssistant:
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(argsOrEmpty(call.Args))
				if err != nil {
					return nil, fmt.Errorf("encode arguments of %s: %w", call.ToolName, err)
				}
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ToolCallID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.ToolName,
						Arguments: string(args),
					},
				})
			}
		case workflow.RoleTool:
			m.ToolCallID = msg.ToolCallID
			m.Name = msg.Name
		}
		out = append(out, m)
	}
	return out, nil
}

func toFunctionTools(descriptors []tools.Descriptor) []openai.Tool {
	out := make([]openai.Tool, len(descriptors))
	for i, d := range descriptors {
		var params map[string]any
		if err := json.Unmarshal(d.InputSchema, &params); err != nil || params == nil {
			params = map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			}
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

func toPlan(resp openai.ChatCompletionResponse) (*workflow.Plan, error) {
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}
	msg := resp.Choices[0].Message

	plan := &workflow.Plan{Content: msg.Content}
	for _, call := range msg.ToolCalls {
		if call.Function.Name == "" {
			return nil, fmt.Errorf("%w: tool call %q without a name", ErrMalformedResponse, call.ID)
		}
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("%w: arguments of %s: %v", ErrMalformedResponse, call.Function.Name, err)
			}
		}
		plan.ToolCalls = append(plan.ToolCalls, tools.Request{
			ToolCallID: call.ID,
			ToolName:   call.Function.Name,
			Args:       args,
		})
	}
	return plan, nil
}

func argsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}
