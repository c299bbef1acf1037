package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/teemow/inboxpilot/internal/classifier"
	"github.com/teemow/inboxpilot/internal/instrumentation"
	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/tools"
)

// ErrTimeout is the cause of a call that exceeded its per-call timeout.
var ErrTimeout = errors.New("tool call timed out")

// Options holds the collaborators of an Executor.
type Options struct {
	// Classifier categorises descriptors that carry no valid category.
	Classifier *classifier.Classifier

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Metrics *instrumentation.Metrics

	// NewID generates tool call IDs for requests without one.
	NewID func() string
}

// Executor runs tool call batches. It is safe for concurrent use.
type Executor struct {
	classifier *classifier.Classifier
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
	newID      func() string
	schemas    schemaCache
}

// New creates an Executor.
func New(opts Options) *Executor {
	e := &Executor{
		classifier: opts.Classifier,
		clock:      opts.Clock,
		logger:     logging.WithComponent(opts.Logger, "executor"),
		metrics:    opts.Metrics,
		newID:      opts.NewID,
	}
	if e.classifier == nil {
		e.classifier = classifier.New(nil, opts.Logger)
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	return e
}

// call is one request of a batch together with its resolved descriptor.
type call struct {
	index    int
	request  tools.Request
	tool     tools.Descriptor
	category tools.Category
}

// Execute runs a batch and returns one result per request, in request
// order. Unknown tools yield error results and are never invoked.
func (e *Executor) Execute(ctx context.Context, catalog tools.Catalog, requests []tools.Request, cfg Config) []tools.Result {
	cfg = cfg.withDefaults()
	results := make([]tools.Result, len(requests))
	if len(requests) == 0 {
		return results
	}

	var parallel, lane []call
	for i, req := range requests {
		if req.ToolCallID == "" {
			req.ToolCallID = e.newID()
		}
		d, ok := lookup(catalog, req.ToolName)
		if !ok {
			results[i] = tools.Result{
				ToolCallID: req.ToolCallID,
				ToolName:   req.ToolName,
				Status:     tools.StatusError,
				Error:      fmt.Sprintf("%s: %s", tools.ErrToolNotFound, req.ToolName),
			}
			continue
		}

		c := call{index: i, request: req, tool: d, category: e.categoryOf(d)}
		if cfg.Enabled && c.category == tools.SafeParallel {
			parallel = append(parallel, c)
		} else {
			lane = append(lane, c)
		}
	}

	if len(parallel) > 0 {
		e.runParallel(ctx, parallel, cfg, results)
	}
	if len(lane) > 0 {
		e.runLane(ctx, lane, cfg, results)
	}

	summary := Summarize(results)
	e.logger.Debug("batch settled",
		slog.Int("total", summary.Total),
		slog.Int("parallel", len(parallel)),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", summary.Failed),
		slog.Int("timed_out", summary.TimedOut),
		slog.Int("pending", summary.Pending))
	return results
}

// Invoke executes a single call regardless of its category, under the same
// validation and timeout rules as Execute. It is used to run a call that
// was released by an approval decision.
func (e *Executor) Invoke(ctx context.Context, catalog tools.Catalog, req tools.Request, cfg Config) tools.Result {
	cfg = cfg.withDefaults()
	if req.ToolCallID == "" {
		req.ToolCallID = e.newID()
	}
	d, ok := lookup(catalog, req.ToolName)
	if !ok {
		return tools.Result{
			ToolCallID: req.ToolCallID,
			ToolName:   req.ToolName,
			Status:     tools.StatusError,
			Error:      fmt.Sprintf("%s: %s", tools.ErrToolNotFound, req.ToolName),
		}
	}
	res, _ := e.run(ctx, call{request: req, tool: d, category: e.categoryOf(d)}, cfg.PerCallTimeout)
	return res
}

func lookup(catalog tools.Catalog, name string) (tools.Descriptor, bool) {
	if catalog == nil {
		return tools.Descriptor{}, false
	}
	d, ok := catalog.Lookup(name)
	if !ok || d.Invoke == nil {
		return tools.Descriptor{}, false
	}
	return d, true
}

// categoryOf resolves a descriptor's category at dispatch. The live policy
// table wins over the category recorded when the catalog was built.
func (e *Executor) categoryOf(d tools.Descriptor) tools.Category {
	if category, ok := e.classifier.Override(d.Name); ok {
		return category
	}
	if d.Category.Valid() {
		return d.Category
	}
	return e.classifier.ClassifyTool(d.Name, d.Capability)
}

// runParallel runs the SAFE_PARALLEL calls and waits for all of them to
// settle. When every call failed because its backend was unavailable the
// batch is retried once, sequentially.
func (e *Executor) runParallel(ctx context.Context, calls []call, cfg Config, results []tools.Result) {
	errs := make([]error, len(calls))
	sem := make(chan struct{}, cfg.MaxConcurrency)

	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[c.index] = skipped(c.request, ctx.Err())
				errs[i] = ctx.Err()
				return
			}
			results[c.index], errs[i] = e.run(ctx, c, cfg.PerCallTimeout)
		}()
	}
	wg.Wait()

	if !cfg.FallbackToSequential || !systemicFailure(errs) {
		return
	}

	e.logger.Warn("parallel batch failed systemically, retrying sequentially",
		slog.Int("calls", len(calls)))
	e.metrics.RecordBatchFallback(ctx)
	for _, c := range calls {
		results[c.index], _ = e.run(ctx, c, cfg.PerCallTimeout)
	}
}

// systemicFailure reports whether every call failed with an unavailable
// backend.
func systemicFailure(errs []error) bool {
	if len(errs) == 0 {
		return false
	}
	for _, err := range errs {
		if !errors.Is(err, tools.ErrBackendUnavailable) {
			return false
		}
	}
	return true
}

// runLane runs the sequential lane in plan order, stopping at the first
// call that needs approval.
func (e *Executor) runLane(ctx context.Context, calls []call, cfg Config, results []tools.Result) {
	blocked := false
	for _, c := range calls {
		switch {
		case blocked:
			results[c.index] = pending(c.request, false)
		case c.category == tools.RequiresApproval:
			blocked = true
			results[c.index] = pending(c.request, true)
			e.logger.Debug("call awaits approval",
				logging.Tool(c.request.ToolName),
				logging.ToolCallID(c.request.ToolCallID))
		case ctx.Err() != nil:
			results[c.index] = skipped(c.request, ctx.Err())
		default:
			results[c.index], _ = e.run(ctx, c, cfg.PerCallTimeout)
		}
	}
}

func pending(req tools.Request, needsApproval bool) tools.Result {
	return tools.Result{
		ToolCallID:       req.ToolCallID,
		ToolName:         req.ToolName,
		Status:           tools.StatusPending,
		RequiresApproval: needsApproval,
	}
}

func skipped(req tools.Request, cause error) tools.Result {
	return tools.Result{
		ToolCallID: req.ToolCallID,
		ToolName:   req.ToolName,
		Status:     tools.StatusSkipped,
		Error:      fmt.Sprintf("not executed: %v", cause),
	}
}

// run executes one call and returns its result together with the cause of
// a failure.
func (e *Executor) run(ctx context.Context, c call, timeout time.Duration) (tools.Result, error) {
	name := c.request.ToolName
	attrs := instrumentation.NewSpanAttributeBuilder().
		WithCategory(string(c.category)).
		WithProvider(c.tool.Provider).
		Build()
	ctx, span := instrumentation.StartToolSpan(ctx, name, attrs...)
	defer span.End()

	start := e.clock.Now()
	output, err := e.invoke(ctx, c, timeout)

	res := tools.Result{
		ToolCallID:    c.request.ToolCallID,
		ToolName:      name,
		ExecutionTime: e.clock.Since(start),
	}
	switch {
	case err == nil:
		res.Status = tools.StatusSuccess
		res.Result = output
		instrumentation.SetSpanSuccess(span)
	case errors.Is(err, ErrTimeout):
		res.Status = tools.StatusTimeout
		res.Error = fmt.Sprintf("%s after %s", ErrTimeout, timeout)
		instrumentation.SetSpanError(span, err)
	default:
		res.Status = tools.StatusError
		res.Error = err.Error()
		instrumentation.SetSpanError(span, err)
	}

	e.metrics.RecordToolExecution(ctx, name, string(c.category), string(res.Status), res.ExecutionTime)

	logger := e.logger.With(
		logging.Tool(name),
		logging.ToolCallID(c.request.ToolCallID),
		logging.Category(string(c.category)),
		slog.Duration("duration", res.ExecutionTime))
	if err != nil {
		logger.Warn("tool call failed", logging.Status(string(res.Status)), logging.Err(err))
	} else {
		logger.Debug("tool call succeeded")
	}
	return res, err
}

// invoke validates the arguments and invokes the tool under the timeout. The
// invocation runs in its own goroutine so that a tool ignoring its context
// still times out on schedule.
func (e *Executor) invoke(ctx context.Context, c call, timeout time.Duration) (string, error) {
	if err := e.schemas.validateArgs(c.tool, c.request.Args); err != nil {
		return "", err
	}

	callCtx, cancel := clockwork.WithTimeout(ctx, e.clock, timeout)
	defer cancel()

	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("tool panicked",
					logging.Tool(c.request.ToolName),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		output, err := c.tool.Invoke(callCtx, c.request.Args)
		done <- outcome{output: output, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return o.output, o.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", ErrTimeout
	}
}
