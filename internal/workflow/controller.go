package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/teemow/inboxpilot/internal/checkpoint"
	"github.com/teemow/inboxpilot/internal/executor"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/tools"
)

// Config defaults.
const (
	DefaultMaxIterations = 10
	DefaultMaxToolCalls  = 50
	DefaultEventBuffer   = 64
)

// NoToolsMessage is streamed to users without any usable tool.
const NoToolsMessage = "No tools are available for your account. Connect an integration and try again."

// Config configures a Controller.
type Config struct {
	MaxIterations int
	MaxToolCalls  int

	// ChunkSize is the number of runes per content event.
	ChunkSize int

	// EventBuffer is the capacity of a run's event channel.
	EventBuffer int

	// CheckpointTTL bounds how long a suspended round stays resumable.
	CheckpointTTL time.Duration

	Executor executor.Config
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations: DefaultMaxIterations,
		MaxToolCalls:  DefaultMaxToolCalls,
		ChunkSize:     DefaultChunkSize,
		EventBuffer:   DefaultEventBuffer,
		CheckpointTTL: checkpoint.DefaultTTL,
		Executor:      executor.DefaultConfig(),
	}
}

// Runner executes tool calls. *executor.Executor implements it.
type Runner interface {
	Execute(ctx context.Context, catalog tools.Catalog, requests []tools.Request, cfg executor.Config) []tools.Result
	Invoke(ctx context.Context, catalog tools.Catalog, req tools.Request, cfg executor.Config) tools.Result
}

// Dependencies are the collaborators of a Controller.
type Dependencies struct {
	Planner     Planner
	Tools       ToolsetSource
	Runner      Runner
	Checkpoints checkpoint.Store

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// NewID generates thread and tool call IDs.
	NewID func() string
}

// Controller runs and resumes workflows. It is safe for concurrent use;
// each thread has at most one active run.
type Controller struct {
	config Config
	deps   Dependencies
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// New creates a Controller.
func New(config Config, deps Dependencies) (*Controller, error) {
	if deps.Planner == nil {
		return nil, fmt.Errorf("planner is required")
	}
	if deps.Tools == nil {
		return nil, fmt.Errorf("toolset source is required")
	}
	if deps.Runner == nil {
		return nil, fmt.Errorf("tool runner is required")
	}
	if deps.Checkpoints == nil {
		return nil, fmt.Errorf("checkpoint store is required")
	}

	defaults := DefaultConfig()
	if config.MaxIterations <= 0 {
		config.MaxIterations = defaults.MaxIterations
	}
	if config.MaxToolCalls <= 0 {
		config.MaxToolCalls = defaults.MaxToolCalls
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaults.ChunkSize
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaults.EventBuffer
	}
	if config.CheckpointTTL <= 0 {
		config.CheckpointTTL = defaults.CheckpointTTL
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}

	return &Controller{
		config: config,
		deps:   deps,
		logger: logging.WithComponent(deps.Logger, "workflow"),
		active: make(map[string]struct{}),
	}, nil
}

func (c *Controller) acquire(threadID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.active[threadID]; busy {
		return false
	}
	c.active[threadID] = struct{}{}
	return true
}

func (c *Controller) release(threadID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, threadID)
}

// Run starts a workflow and streams its events. The channel is closed when
// the run completes or suspends. Cancelling ctx lets in-flight tool calls
// finish but starts no further round.
func (c *Controller) Run(ctx context.Context, in Input) (<-chan Event, error) {
	if in.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if len(in.Messages) == 0 {
		return nil, fmt.Errorf("at least one message is required")
	}
	threadID := in.ThreadID
	if threadID == "" {
		threadID = c.deps.NewID()
	}
	if !c.acquire(threadID) {
		return nil, ErrThreadBusy
	}

	budgets := Budgets{MaxIterations: c.config.MaxIterations, MaxToolCalls: c.config.MaxToolCalls}
	if in.MaxIterations > 0 {
		budgets.MaxIterations = in.MaxIterations
	}
	if in.MaxToolCalls > 0 {
		budgets.MaxToolCalls = in.MaxToolCalls
	}

	st := &RoundState{
		ThreadID:     threadID,
		UserID:       in.UserID,
		Messages:     append([]Message(nil), in.Messages...),
		PendingIndex: -1,
		Stats:        ExecutionStats{StartTime: c.deps.Clock.Now()},
		Budgets:      budgets,
	}
	em := newEmitter(ctx, threadID, c.config.ChunkSize, c.config.EventBuffer)

	c.deps.Metrics.IncrementActiveRuns(ctx)
	go func() {
		// The thread is free again before the stream closes.
		defer em.close()
		defer c.deps.Metrics.DecrementActiveRuns(context.WithoutCancel(ctx))
		defer c.release(threadID)

		toolset, err := c.deps.Tools.Toolset(ctx, in.UserID)
		if err != nil {
			c.finish(ctx, st, em, ReasonError, &LoopError{Phase: PhaseInit, Err: err})
			return
		}
		if toolset == nil || len(toolset.Descriptors()) == 0 {
			c.logger.Info("no tools available", logging.ThreadID(threadID), logging.UserHash(in.UserID))
			em.content(NoToolsMessage)
			c.finish(ctx, st, em, ReasonNatural, nil)
			return
		}

		c.drive(ctx, st, em, withAskHuman{toolset})
	}()

	return em.ch, nil
}

// Resume continues a suspended round with a decision for its pending call.
// A suspended round can be resumed at most once.
func (c *Controller) Resume(ctx context.Context, in ResumeInput) (<-chan Event, error) {
	if in.ThreadID == "" || in.ToolCallID == "" {
		return nil, fmt.Errorf("thread id and tool call id are required")
	}
	if err := in.Decision.Validate(); err != nil {
		return nil, err
	}
	if !c.acquire(in.ThreadID) {
		return nil, ErrThreadBusy
	}

	st, ts, err := c.claim(ctx, in)
	if err != nil {
		c.release(in.ThreadID)
		return nil, err
	}

	em := newEmitter(ctx, in.ThreadID, c.config.ChunkSize, c.config.EventBuffer)
	c.deps.Metrics.IncrementActiveRuns(ctx)
	c.deps.Metrics.RecordWorkflowInterrupt(ctx, string(in.Decision.Type))

	go func() {
		defer em.close()
		defer c.deps.Metrics.DecrementActiveRuns(context.WithoutCancel(ctx))
		defer c.release(in.ThreadID)

		if suspended := c.resumeRound(ctx, st, em, ts, in.Decision); suspended {
			return
		}
		c.drive(ctx, st, em, ts)
	}()

	return em.ch, nil
}

// claim loads the suspended round, checks the decision against it, resolves
// the user's toolset and only then takes the checkpoint. Any failure before
// the take leaves the round resumable.
func (c *Controller) claim(ctx context.Context, in ResumeInput) (*RoundState, Toolset, error) {
	data, err := c.deps.Checkpoints.Load(ctx, in.ThreadID, in.ToolCallID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil, ErrInterruptNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load checkpoint: %w", err)
	}

	st, err := unmarshalState(data)
	if err != nil {
		return nil, nil, err
	}
	pending, _ := st.Pending()
	if pending.ToolCallID != in.ToolCallID || st.ThreadID != in.ThreadID {
		return nil, nil, ErrInterruptNotFound
	}
	if in.UserID != "" && in.UserID != st.UserID {
		return nil, nil, ErrInterruptNotFound
	}
	if pending.ToolName == AskHumanTool {
		switch in.Decision.Type {
		case DecisionHumanInput, DecisionReject:
		default:
			return nil, nil, fmt.Errorf("%w: %s can only be answered or rejected", ErrInvalidDecision, AskHumanTool)
		}
	}

	toolset, err := c.deps.Tools.Toolset(ctx, st.UserID)
	if err != nil {
		return nil, nil, &LoopError{Phase: PhaseResuming, Iteration: st.Stats.IterationCount, Err: err}
	}

	if _, err := c.deps.Checkpoints.Take(ctx, in.ThreadID, in.ToolCallID); err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, nil, ErrInterruptNotFound
		}
		return nil, nil, fmt.Errorf("take checkpoint: %w", err)
	}
	return st, withAskHuman{toolset}, nil
}

// drive runs PLANNING and EXECUTING rounds until the run completes or
// suspends.
func (c *Controller) drive(ctx context.Context, st *RoundState, em *emitter, toolset Toolset) {
	logger := c.logger.With(logging.ThreadID(st.ThreadID), logging.UserHash(st.UserID))

	for {
		if err := ctx.Err(); err != nil {
			logger.Info("run cancelled, not starting another round")
			c.finish(ctx, st, em, ReasonError, &LoopError{Phase: PhasePlanning, Iteration: st.Stats.IterationCount, Err: err})
			return
		}
		if st.Stats.IterationCount >= st.Budgets.MaxIterations {
			c.finish(ctx, st, em, ReasonMaxIterations, &LoopError{
				Phase:     PhasePlanning,
				Iteration: st.Stats.IterationCount,
				Err:       fmt.Errorf("%w: reached max iterations %d", ErrBudgetExceeded, st.Budgets.MaxIterations),
			})
			return
		}
		st.Stats.IterationCount++
		iteration := st.Stats.IterationCount

		roundCtx, span := instrumentation.StartSpan(ctx, "workflow.round",
			instrumentation.NewSpanAttributeBuilder().
				WithThread(st.ThreadID, iteration).
				WithUserHash(logging.AnonymizeUser(st.UserID)).
				Build()...)

		plan, err := c.deps.Planner.Plan(roundCtx, PlanRequest{
			ThreadID: st.ThreadID,
			UserID:   st.UserID,
			Messages: st.Messages,
			Tools:    toolset.Descriptors(),
		})
		if err != nil {
			instrumentation.SetSpanError(span, err)
			span.End()
			c.finish(ctx, st, em, ReasonError, &LoopError{Phase: PhasePlanning, Iteration: iteration, Err: err})
			return
		}
		if plan == nil {
			plan = &Plan{}
		}

		em.content(plan.Content)
		calls := c.assignIDs(plan.ToolCalls)
		st.Messages = append(st.Messages, Message{Role: RoleAssistant, Content: plan.Content, ToolCalls: calls})

		if len(calls) == 0 {
			span.End()
			c.finish(ctx, st, em, ReasonNatural, nil)
			return
		}

		if st.Stats.ToolCallCount+len(calls) > st.Budgets.MaxToolCalls {
			span.End()
			c.finish(ctx, st, em, ReasonMaxTools, &LoopError{
				Phase:     PhaseExecuting,
				Iteration: iteration,
				Err: fmt.Errorf("%w: batch of %d tool calls rejected, %d of %d already used",
					ErrBudgetExceeded, len(calls), st.Stats.ToolCallCount, st.Budgets.MaxToolCalls),
			})
			return
		}
		st.Stats.ToolCallCount += len(calls)

		for i := range calls {
			em.send(Event{Type: EventToolCallStarted, ToolCall: &calls[i]})
		}
		logger.Debug("executing round", slog.Int("iteration", iteration), slog.Int("calls", len(calls)))

		// In-flight calls finish even when the consumer goes away.
		results := c.deps.Runner.Execute(context.WithoutCancel(roundCtx), toolset, calls, c.config.Executor)
		span.End()

		st.Round = calls
		st.Results = results
		if c.settleRound(ctx, st, em, indexes(len(results))) {
			return
		}
	}
}

// resumeRound applies the decision to the suspended call and runs the calls
// queued behind it. It reports whether the round suspended again.
func (c *Controller) resumeRound(ctx context.Context, st *RoundState, em *emitter, toolset Toolset, d Decision) bool {
	execCtx := context.WithoutCancel(ctx)
	idx := st.PendingIndex
	req := st.Round[idx]

	var res tools.Result
	switch d.Type {
	case DecisionApprove, DecisionEdit:
		if d.Args != nil {
			req.Args = d.Args
			st.Round[idx].Args = d.Args
			st.overrideArgs(req.ToolCallID, d.Args)
		}
		res = c.deps.Runner.Invoke(execCtx, toolset, req, c.config.Executor)
	case DecisionReject:
		msg := "rejected by user"
		if d.Reason != "" {
			msg += ": " + d.Reason
		}
		res = tools.Result{ToolCallID: req.ToolCallID, ToolName: req.ToolName, Status: tools.StatusSkipped, Error: msg}
	case DecisionHumanInput:
		res = tools.Result{ToolCallID: req.ToolCallID, ToolName: req.ToolName, Status: tools.StatusSuccess, Result: d.Input}
	}
	st.Results[idx] = res

	c.logger.Info("interrupt resolved",
		logging.ThreadID(st.ThreadID),
		logging.ToolCallID(req.ToolCallID),
		logging.Tool(req.ToolName),
		slog.String("decision", string(d.Type)),
		logging.Status(string(res.Status)))

	fresh := []int{idx}
	var queued []int
	for i := idx + 1; i < len(st.Results); i++ {
		if st.Results[i].Status == tools.StatusPending {
			queued = append(queued, i)
		}
	}
	if len(queued) > 0 {
		requests := make([]tools.Request, len(queued))
		for j, i := range queued {
			requests[j] = st.Round[i]
		}
		for j, r := range c.deps.Runner.Execute(execCtx, toolset, requests, c.config.Executor) {
			st.Results[queued[j]] = r
		}
		fresh = append(fresh, queued...)
	}

	return c.settleRound(ctx, st, em, fresh)
}

// settleRound streams the results listed in fresh that have settled. If a
// call still needs a decision the round is suspended and settleRound reports
// true; otherwise the round's tool messages join the history.
func (c *Controller) settleRound(ctx context.Context, st *RoundState, em *emitter, fresh []int) bool {
	for _, i := range fresh {
		if st.Results[i].Status.Settled() {
			em.send(Event{Type: EventToolCallCompleted, Result: &st.Results[i]})
		}
	}

	if idx := pendingIndex(st.Results); idx >= 0 {
		st.PendingIndex = idx
		c.suspend(ctx, st, em)
		return true
	}

	for i, req := range st.Round {
		st.Messages = append(st.Messages, Message{
			Role:       RoleTool,
			ToolCallID: req.ToolCallID,
			Name:       req.ToolName,
			Content:    resultContent(st.Results[i]),
		})
	}
	st.Round, st.Results, st.PendingIndex = nil, nil, -1
	return false
}

// suspend checkpoints the round and raises the interrupt. The checkpoint is
// written before the interrupt is streamed.
func (c *Controller) suspend(ctx context.Context, st *RoundState, em *emitter) {
	pending, _ := st.Pending()
	st.CreatedAt = c.deps.Clock.Now()

	data, err := st.marshal()
	if err == nil {
		err = c.deps.Checkpoints.Save(context.WithoutCancel(ctx), st.ThreadID, pending.ToolCallID, data, c.config.CheckpointTTL)
	}
	if err != nil {
		c.finish(ctx, st, em, ReasonError, &LoopError{
			Phase:     PhaseSuspending,
			Iteration: st.Stats.IterationCount,
			Err:       fmt.Errorf("save checkpoint: %w", err),
		})
		return
	}

	payload := interruptFor(st.ThreadID, pending)
	c.deps.Metrics.RecordWorkflowInterrupt(context.WithoutCancel(ctx), "raised")
	c.logger.Info("workflow suspended",
		logging.ThreadID(st.ThreadID),
		logging.ToolCallID(pending.ToolCallID),
		logging.Tool(pending.ToolName),
		slog.String("interrupt_type", string(payload.Type)))

	stats := st.Stats
	em.send(Event{Type: EventInterrupt, Interrupt: payload, Stats: &stats})
}

// finish completes the run and sends the final events.
func (c *Controller) finish(ctx context.Context, st *RoundState, em *emitter, reason TerminationReason, err error) {
	st.Stats.complete(reason, c.deps.Clock.Now())

	logger := c.logger.With(
		logging.ThreadID(st.ThreadID),
		slog.String("termination_reason", string(reason)),
		slog.Int("iterations", st.Stats.IterationCount),
		slog.Int("tool_calls", st.Stats.ToolCallCount))
	if err != nil {
		logger.Warn("workflow ended with error", logging.Err(err))
		em.send(Event{Type: EventError, Error: err.Error()})
	} else {
		logger.Info("workflow completed")
	}

	stats := st.Stats
	em.send(Event{Type: EventDone, Stats: &stats})
	c.deps.Metrics.RecordWorkflowRun(context.WithoutCancel(ctx), string(reason))
}

// assignIDs gives every call a tool call ID.
func (c *Controller) assignIDs(calls []tools.Request) []tools.Request {
	if len(calls) == 0 {
		return nil
	}
	out := make([]tools.Request, len(calls))
	for i, call := range calls {
		if call.ToolCallID == "" {
			call.ToolCallID = c.deps.NewID()
		}
		out[i] = call
	}
	return out
}

func pendingIndex(results []tools.Result) int {
	first := -1
	for i, r := range results {
		if r.Status != tools.StatusPending {
			continue
		}
		if r.RequiresApproval {
			return i
		}
		if first < 0 {
			first = i
		}
	}
	return first
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// resultContent renders a result as the content of a tool message.
func resultContent(r tools.Result) string {
	switch r.Status {
	case tools.StatusSuccess:
		return r.Result
	case tools.StatusSkipped:
		return "Skipped: " + r.Error
	case tools.StatusTimeout:
		return "Timed out: " + r.Error
	default:
		return "Error: " + r.Error
	}
}
