// Package investigate drives the model through one (entity, criterion)
// investigation at a time and runs batches of them in a fixed order.
package investigate

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-agent/internal/control"
	"github.com/sells-group/research-agent/internal/conversation"
	"github.com/sells-group/research-agent/internal/cost"
	"github.com/sells-group/research-agent/internal/events"
	"github.com/sells-group/research-agent/internal/llm"
	"github.com/sells-group/research-agent/internal/metrics"
	"github.com/sells-group/research-agent/internal/model"
	"github.com/sells-group/research-agent/internal/prompt"
	"github.com/sells-group/research-agent/internal/resilience"
	"github.com/sells-group/research-agent/internal/toolcall"
	"github.com/sells-group/research-agent/internal/tools"
	"github.com/sells-group/research-agent/internal/verdict"
	"github.com/sells-group/research-agent/internal/verify"
)

// ErrFatalProvider is returned once a provider reported a quota, billing
// or credential failure. No further external calls are made for the batch.
var ErrFatalProvider = eris.New("investigate: fatal provider error")

// Options configures the iteration loop.
type Options struct {
	// MaxIterations caps tool round-trips per pair. Default 3.
	MaxIterations int
	// PauseBetweenSearches waits on the Approver before every tool call.
	PauseBetweenSearches bool
	// VerifyResults enables the verification pass.
	VerifyResults bool
	// VerifyTool is the tool used for verification queries. Default "search".
	VerifyTool string
	// PreviousFindings are injected into every prompt, under the findings
	// the batch itself discovers.
	PreviousFindings map[string]string
	// MaxReminders caps syntax reminders per pair. Default 2.
	MaxReminders    int
	MaxContextChars int
	MaxTokens       int
	Temperature     *float64
	Retry           resilience.RetryConfig
}

func (o Options) withDefaults() Options {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 3
	}
	if o.MaxReminders <= 0 {
		o.MaxReminders = 2
	}
	if o.MaxContextChars <= 0 {
		o.MaxContextChars = conversation.DefaultMaxChars
	}
	if o.VerifyTool == "" {
		o.VerifyTool = cost.ToolSearch
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
	return o
}

// Pair is one unit of work for the controller.
type Pair struct {
	InvestigationID string
	Entity          model.Entity
	Criterion       model.Criterion
	Findings        map[string]string
	// Resume continues a paused pair from its committed turns.
	Resume *model.PairCheckpoint
}

// Outcome is what one pair produced.
type Outcome struct {
	State  State
	Result model.Result
	// Checkpoint is set when the pair paused.
	Checkpoint *model.PairCheckpoint
	// Finding is set for named-entity answers.
	Finding *verdict.Finding
}

// Controller runs the per-pair state machine.
type Controller struct {
	model     llm.Model
	exec      *tools.Executor
	extractor *toolcall.Extractor
	verifier  *verify.Verifier
	calc      *cost.Calculator
	ctl       *control.Control
	sink      events.Sink
	approver  Approver
	opts      Options
}

// NewController wires a controller. sink and approver may be nil.
func NewController(m llm.Model, exec *tools.Executor, calc *cost.Calculator, sink events.Sink, approver Approver, opts Options) *Controller {
	opts = opts.withDefaults()
	if sink == nil {
		sink = events.Discard
	}
	if approver == nil {
		approver = AutoApprove
	}
	return &Controller{
		model:     m,
		exec:      exec,
		extractor: toolcall.New(exec.Registry().Names()...),
		verifier:  verify.New(exec, opts.VerifyTool),
		calc:      calc,
		ctl:       exec.Control(),
		sink:      sink,
		approver:  approver,
		opts:      opts,
	}
}

// Control returns the pause/fatal control shared with the executor.
func (c *Controller) Control() *control.Control { return c.ctl }

// Options returns the effective options.
func (c *Controller) Options() Options { return c.opts }

// pairRun is the mutable state of one pair.
type pairRun struct {
	pair       Pair
	conv       *conversation.Context
	state      State
	iterations int
	reminders  int
	request    model.ToolRequest
	lastText   string
	status     model.ResultStatus
	toolCalls  []model.ToolCallRecord
	usage      model.TokenUsage
	cost       model.CostBreakdown
}

// Run investigates one pair. A nil error covers every outcome that leaves
// the batch able to continue, including pause, decline and model errors.
// Fatal provider failures return ErrFatalProvider and context
// cancellation returns the context error.
func (c *Controller) Run(ctx context.Context, pair Pair) (Outcome, error) {
	run := c.init(pair)
	log := zap.L().With(
		zap.String("investigation", pair.InvestigationID),
		zap.String("entity", pair.Entity.Name),
		zap.String("criterion", pair.Criterion.ID),
	)

	for {
		log.Debug("investigate: state", zap.Stringer("state", run.state), zap.Int("iteration", run.iterations))

		switch run.state {
		case StateAwaitingModel:
			if out, stop, err := c.checkpoint(ctx, run); stop {
				return out, err
			}
			text, err := c.callModel(ctx, run)
			if err != nil {
				return c.modelFailed(ctx, run, err)
			}
			run.conv.AppendAssistant(text)
			c.route(run, text)

		case StateToolRequested:
			c.emit(run, events.Event{
				Type:      events.TypeToolRequest,
				Tool:      run.request.Tool,
				Query:     run.request.Query,
				Iteration: run.iterations + 1,
				Remaining: c.opts.MaxIterations - run.iterations,
			})
			if c.opts.PauseBetweenSearches {
				run.state = StateAwaitingApproval
			} else {
				run.state = StateToolExecuting
			}

		case StateAwaitingApproval:
			if out, stop, err := c.checkpoint(ctx, run); stop {
				return out, err
			}
			if done, out, err := c.awaitApproval(ctx, run); done {
				return out, err
			}

		case StateToolExecuting:
			if out, stop, err := c.checkpoint(ctx, run); stop {
				return out, err
			}
			if res := c.executeTool(ctx, run); res.Fatal {
				return c.cancelled(run, c.fatalErr())
			}

		case StateFinished:
			return c.finish(ctx, run), nil

		default:
			return Outcome{}, eris.Errorf("investigate: unexpected state %s", run.state)
		}
	}
}

// init builds the transcript, or restores it from a checkpoint. A restored
// transcript ending in a model turn is routed again without a new model
// call, so a pending tool request runs once.
func (c *Controller) init(pair Pair) *pairRun {
	findings := make(map[string]string, len(c.opts.PreviousFindings)+len(pair.Findings))
	for k, v := range c.opts.PreviousFindings {
		findings[k] = v
	}
	for k, v := range pair.Findings {
		findings[k] = v
	}
	pair.Findings = findings

	system := prompt.System(prompt.SystemOptions{
		Tools:        c.exec.Registry().Specs(),
		MaxToolCalls: c.opts.MaxIterations,
	})
	run := &pairRun{pair: pair, state: StateInit}

	cp := pair.Resume
	if cp != nil && cp.EntityID == pair.Entity.ID && cp.CriterionID == pair.Criterion.ID && len(cp.Turns) > 0 {
		run.conv = conversation.Restore(system, c.opts.MaxContextChars, cp.Turns)
		run.iterations = cp.Iterations
		run.reminders = cp.Reminders
		run.toolCalls = append(run.toolCalls, cp.ToolCalls...)
		run.usage = cp.Usage
		run.cost = cp.Cost
		run.state = StateAwaitingModel
		if last, ok := run.conv.Last(); ok && last.Role == model.RoleAssistant {
			c.route(run, last.Content)
		}
		zap.L().Info("investigate: resuming pair",
			zap.String("entity", pair.Entity.Name),
			zap.String("criterion", pair.Criterion.ID),
			zap.Int("turns", len(cp.Turns)),
			zap.Int("iterations", cp.Iterations),
		)
		return run
	}

	run.conv = conversation.New(system, c.opts.MaxContextChars)
	run.conv.AppendUser(prompt.Initial(pair.Entity, pair.Criterion, findings))
	run.state = StateAwaitingModel
	return run
}

// route classifies a model response and picks the next state.
func (c *Controller) route(run *pairRun, text string) {
	run.lastText = text
	parse := c.extractor.Extract(text)

	switch parse.Kind {
	case toolcall.Final:
		run.status = model.StatusComplete
		run.state = StateFinished

	case toolcall.ToolCall:
		if run.iterations < c.opts.MaxIterations {
			run.request = parse.Request
			run.state = StateToolRequested
			return
		}
		// Budget spent: the verdict comes from this response.
		run.status = model.StatusBestEffort
		run.state = StateFinished

	case toolcall.Malformed:
		if run.reminders < c.opts.MaxReminders {
			run.reminders++
			run.conv.AppendUser(prompt.Reminder(c.exec.Registry().Specs()))
			run.state = StateAwaitingModel
			return
		}
		run.status = model.StatusBestEffort
		run.state = StateFinished

	default:
		run.status = model.StatusBestEffort
		run.state = StateFinished
	}
}

// checkpoint runs before every external call. stop is true when the pair
// must end here.
func (c *Controller) checkpoint(ctx context.Context, run *pairRun) (Outcome, bool, error) {
	switch c.ctl.Check(ctx) {
	case control.Paused:
		return c.paused(run), true, nil
	case control.Fatal:
		out, err := c.cancelled(run, c.fatalErr())
		return out, true, err
	case control.Cancelled:
		out, err := c.cancelled(run, ctx.Err())
		return out, true, err
	default:
		return Outcome{}, false, nil
	}
}

func (c *Controller) callModel(ctx context.Context, run *pairRun) (string, error) {
	retry := c.opts.Retry
	retry.OnRetry = resilience.RetryLogger(c.model.Provider(), "complete")

	start := time.Now()
	resp, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*llm.Response, error) {
		return c.model.Complete(ctx, llm.Request{
			System:      run.conv.System(),
			Turns:       run.conv.Turns(),
			MaxTokens:   c.opts.MaxTokens,
			Temperature: c.opts.Temperature,
		})
	})
	if err != nil {
		return "", err
	}

	callCost := c.calc.Model(c.model.Provider(), c.model.Name(), resp.Usage)
	run.usage.Add(resp.Usage)
	run.cost.Add(model.CostBreakdown{Model: callCost})

	metrics.ModelTokens.WithLabelValues(c.model.Provider(), "input").Add(float64(resp.Usage.InputTokens))
	metrics.ModelTokens.WithLabelValues(c.model.Provider(), "output").Add(float64(resp.Usage.OutputTokens))
	metrics.CostUSD.WithLabelValues("model").Add(callCost)

	zap.L().Debug("investigate: model response",
		zap.String("model", c.model.Name()),
		zap.Int("input_tokens", resp.Usage.InputTokens),
		zap.Int("output_tokens", resp.Usage.OutputTokens),
		zap.Float64("cost_usd", callCost),
		zap.Duration("elapsed", time.Since(start)),
	)

	c.emit(run, events.Event{
		Type:      events.TypeModelResponse,
		Content:   resp.Text,
		Iteration: run.iterations,
	})
	return resp.Text, nil
}

// modelFailed ends the pair after a model call failed past its retries.
func (c *Controller) modelFailed(ctx context.Context, run *pairRun, err error) (Outcome, error) {
	if resilience.IsFatalProvider(err) {
		c.ctl.LatchFatal(err)
		return c.cancelled(run, c.fatalErr())
	}
	if ctx.Err() != nil {
		return c.cancelled(run, ctx.Err())
	}

	zap.L().Error("investigate: model call failed",
		zap.String("entity", run.pair.Entity.Name),
		zap.String("criterion", run.pair.Criterion.ID),
		zap.Error(err),
	)
	res := c.partial(run, model.AnswerError, model.StatusError)
	res.Error = err.Error()
	c.emit(run, events.Event{Type: events.TypeResearchError, Error: res.Error})
	return Outcome{State: StateFinished, Result: res}, nil
}

// awaitApproval parks the pair on the Approver. done is true when the pair
// ends here.
func (c *Controller) awaitApproval(ctx context.Context, run *pairRun) (bool, Outcome, error) {
	req := ApprovalRequest{
		InvestigationID: run.pair.InvestigationID,
		EntityID:        run.pair.Entity.ID,
		EntityName:      run.pair.Entity.Name,
		CriterionID:     run.pair.Criterion.ID,
		Tool:            run.request.Tool,
		Query:           run.request.Query,
		Iteration:       run.iterations + 1,
	}
	c.emit(run, events.Event{
		Type:      events.TypeToolApprovalNeeded,
		Tool:      req.Tool,
		Query:     req.Query,
		Iteration: req.Iteration,
	})

	// A pause ends the wait; the tool request is asked again on resume.
	actx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.ctl.PauseRequested():
			cancel()
		case <-actx.Done():
		}
	}()

	decision, err := c.approver.Approve(actx, req)
	if ctx.Err() != nil {
		out, cerr := c.cancelled(run, ctx.Err())
		return true, out, cerr
	}
	if c.ctl.IsPaused() {
		return true, c.paused(run), nil
	}
	if err != nil {
		return true, Outcome{}, eris.Wrap(err, "investigate: approval")
	}

	if !decision.Approved {
		res := c.partial(run, model.AnswerAborted, model.StatusAborted)
		res.Error = "tool call declined"
		c.emit(run, events.Event{Type: events.TypeFinalResult, Result: &res, Reason: res.Error})
		return true, Outcome{State: StateFinished, Result: res}, nil
	}
	if q := strings.TrimSpace(decision.Query); q != "" {
		run.request.Query = q
	}
	run.state = StateToolExecuting
	return false, Outcome{}, nil
}

func (c *Controller) executeTool(ctx context.Context, run *pairRun) model.ToolResult {
	req := run.request
	res := c.exec.Execute(ctx, req.Tool, req.Query)
	run.iterations++

	run.toolCalls = append(run.toolCalls, model.ToolCallRecord{
		Tool:      req.Tool,
		Query:     req.Query,
		Cached:    res.Cached,
		IsError:   res.IsError,
		Error:     res.Error,
		Links:     res.Links,
		Cost:      res.Cost,
		Iteration: run.iterations,
		At:        time.Now().UTC(),
	})
	run.usage.ToolCalls++
	run.cost.Add(model.CostBreakdown{Tools: res.Cost})
	metrics.CostUSD.WithLabelValues("tools").Add(res.Cost)

	c.emit(run, events.Event{
		Type:      events.TypeToolResult,
		Tool:      req.Tool,
		Query:     req.Query,
		Content:   res.Content,
		Links:     res.Links,
		Cached:    res.Cached,
		Error:     res.Error,
		Iteration: run.iterations,
		Remaining: c.opts.MaxIterations - run.iterations,
	})

	if !res.Fatal {
		run.conv.AppendUser(prompt.ToolOutput(req, res, c.opts.MaxIterations-run.iterations))
		run.state = StateAwaitingModel
	}
	return res
}

// finish extracts the verdict, runs verification when enabled and emits
// the final result.
func (c *Controller) finish(ctx context.Context, run *pairRun) Outcome {
	v := verdict.Extract(run.lastText, run.pair.Criterion)

	res := c.partial(run, v.Answer, run.status)
	res.Explanation = v.Explanation
	res.Evidence = v.Evidence
	res.Sources = v.Sources
	res.Confidence = v.Confidence
	if res.Sources == "" {
		res.Sources = strings.Join(toolLinks(run.toolCalls), "\n")
	}

	if c.opts.VerifyResults && verify.Applies(res) {
		// Verification is an external call: skip it once the batch is
		// stopping and keep the unverified verdict.
		if c.ctl.Check(ctx) == control.Continue {
			res = c.verifier.Verify(ctx, run.pair.Entity, run.pair.Criterion, res)
			metrics.CostUSD.WithLabelValues("verification").Add(res.CostBreakdown.Verification)
		}
	}

	metrics.Iterations.Observe(float64(res.Iterations))
	c.emit(run, events.Event{Type: events.TypeFinalResult, Result: &res})

	out := Outcome{State: StateFinished, Result: res}
	if v.Finding != nil && !res.IsUnknown() && res.Answer == v.Answer {
		out.Finding = v.Finding
	}
	return out
}

func (c *Controller) paused(run *pairRun) Outcome {
	res := c.partial(run, model.AnswerPaused, model.StatusPaused)
	zap.L().Info("investigate: paused",
		zap.String("entity", run.pair.Entity.Name),
		zap.String("criterion", run.pair.Criterion.ID),
		zap.Int("iterations", run.iterations),
	)
	return Outcome{State: StatePaused, Result: res, Checkpoint: snapshot(run)}
}

func snapshot(run *pairRun) *model.PairCheckpoint {
	return &model.PairCheckpoint{
		EntityID:    run.pair.Entity.ID,
		CriterionID: run.pair.Criterion.ID,
		Turns:       run.conv.Turns(),
		ToolCalls:   append([]model.ToolCallRecord(nil), run.toolCalls...),
		Iterations:  run.iterations,
		Usage:       run.usage,
		Cost:        run.cost,
		Reminders:   run.reminders,
	}
}

func (c *Controller) cancelled(run *pairRun, err error) (Outcome, error) {
	res := c.partial(run, model.AnswerAborted, model.StatusCancelled)
	if err != nil {
		res.Error = err.Error()
	}
	out := Outcome{State: StateCancelled, Result: res}
	if !errors.Is(err, ErrFatalProvider) {
		// Context cancellation is resumable like a pause.
		out.Checkpoint = snapshot(run)
	}
	return out, err
}

func (c *Controller) fatalErr() error {
	cause := c.ctl.Fatal()
	if cause == nil {
		return ErrFatalProvider
	}
	return eris.Wrap(ErrFatalProvider, cause.Error())
}

// partial builds a result from the work done so far.
func (c *Controller) partial(run *pairRun, answer string, status model.ResultStatus) model.Result {
	return model.Result{
		CriterionID:   run.pair.Criterion.ID,
		EntityID:      run.pair.Entity.ID,
		Answer:        answer,
		Confidence:    model.ConfidenceLow,
		Iterations:    run.iterations,
		ToolCalls:     append([]model.ToolCallRecord(nil), run.toolCalls...),
		TokenUsage:    run.usage,
		CostBreakdown: run.cost,
		Timestamp:     time.Now().UTC(),
		Status:        status,
	}
}

func (c *Controller) emit(run *pairRun, e events.Event) {
	e.InvestigationID = run.pair.InvestigationID
	e.EntityID = run.pair.Entity.ID
	e.EntityName = run.pair.Entity.Name
	e.CriterionID = run.pair.Criterion.ID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	c.sink.Emit(e)
}

func toolLinks(calls []model.ToolCallRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tc := range calls {
		for _, l := range tc.Links {
			if !seen[l] {
				seen[l] = true
				out = append(out, l)
			}
		}
	}
	return out
}
