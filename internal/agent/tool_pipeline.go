package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/internal/approval"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/supervision"
	"github.com/haasonsaas/conductor/pkg/models"
)

// DefaultToolTimeout bounds a single tool execution.
const DefaultToolTimeout = 120 * time.Second

// ToolPipeline wraps raw tool execution with the runtime's cross-cutting
// layers: alias resolution, input validation, approval gating, a timeout
// race, and error enhancement. Every result the model sees comes out of
// this pipeline; raw Execute is never called directly.
type ToolPipeline struct {
	registry  *ToolRegistry
	hints     *FailureTracker
	approvals *approval.Registry
	gate      *supervision.Gate
	sink      EventSink
	metrics   *observability.Metrics
	logger    *slog.Logger

	timeout         time.Duration
	approvalTimeout time.Duration

	// alwaysHuman lists tools whose approval can never be auto-approved or
	// delegated to the supervision gate.
	alwaysHuman map[string]struct{}
}

// PipelineConfig configures a ToolPipeline. Zero values get defaults.
type PipelineConfig struct {
	Registry  *ToolRegistry
	Hints     *FailureTracker
	Approvals *approval.Registry
	Gate      *supervision.Gate
	Sink      EventSink
	Metrics   *observability.Metrics
	Logger    *slog.Logger

	// Timeout bounds tool execution. Defaults to DefaultToolTimeout.
	Timeout time.Duration

	// ApprovalTimeout bounds how long a human approval may stay pending.
	// Defaults to approval.DefaultTimeout.
	ApprovalTimeout time.Duration

	// AlwaysHuman names tools that always require an explicit human
	// decision regardless of auto-approval or supervision mode.
	AlwaysHuman []string
}

// NewToolPipeline builds the pipeline with defaults filled in.
func NewToolPipeline(cfg PipelineConfig) *ToolPipeline {
	if cfg.Registry == nil {
		cfg.Registry = NewToolRegistry()
	}
	if cfg.Hints == nil {
		cfg.Hints = NewFailureTracker()
	}
	if cfg.Approvals == nil {
		cfg.Approvals = approval.NewRegistry()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultToolTimeout
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = approval.DefaultTimeout
	}

	alwaysHuman := make(map[string]struct{}, len(cfg.AlwaysHuman))
	for _, name := range cfg.AlwaysHuman {
		alwaysHuman[name] = struct{}{}
	}

	return &ToolPipeline{
		registry:        cfg.Registry,
		hints:           cfg.Hints,
		approvals:       cfg.Approvals,
		gate:            cfg.Gate,
		sink:            cfg.Sink,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		timeout:         cfg.Timeout,
		approvalTimeout: cfg.ApprovalTimeout,
		alwaysHuman:     alwaysHuman,
	}
}

// Registry exposes the tool registry for registration and provider wiring.
func (p *ToolPipeline) Registry() *ToolRegistry { return p.registry }

// Approvals exposes the pending-approval registry so a transport layer can
// deliver user decisions.
func (p *ToolPipeline) Approvals() *approval.Registry { return p.approvals }

// Execute runs one tool call through the full pipeline and always returns a
// usable result. Execution failures become error results for the model, not
// turn failures; only ctx expiry aborts without a result being meaningful.
func (p *ToolPipeline) Execute(ctx context.Context, rc *RequestContext, task string, call models.ToolCall) *models.ToolResult {
	record := models.NewToolCallRecord(call.ID, call.Name)
	record.Input = call.Input
	_ = record.Advance(models.ToolCallInputAvailable)

	p.sink.Emit(models.NewToolEvent(models.EventToolInputAvailable, call.Name, call.ID).
		WithAgentPath(rc.Stack.Path()))

	tool, canonical, ok := p.registry.Resolve(call.Name)
	if !ok {
		return p.fail(rc, record, call, p.notFoundError(call))
	}
	if canonical != call.Name {
		p.logger.Debug("tool alias resolved",
			"requested", call.Name, "canonical", canonical)
	}
	record.ToolID = canonical

	if err := p.registry.ValidateInput(tool, call.Input); err != nil {
		return p.fail(rc, record, call, &ToolError{ToolName: canonical, ToolCallID: call.ID, Cause: err})
	}

	if denied, reason := p.approve(ctx, rc, task, record, tool, canonical, call); denied {
		return p.deny(rc, record, call, canonical, reason)
	}

	_ = record.Advance(models.ToolCallOutputStreaming)
	start := time.Now()
	result, err := p.executeWithTimeout(ctx, rc, tool, call)
	elapsed := time.Since(start)

	if p.metrics != nil {
		p.metrics.ToolDuration.WithLabelValues(canonical).Observe(elapsed.Seconds())
	}

	if err != nil {
		toolErr, isToolErr := err.(*ToolError)
		if !isToolErr {
			toolErr = &ToolError{ToolName: canonical, ToolCallID: call.ID, Cause: err}
		}
		return p.fail(rc, record, call, toolErr)
	}
	if result != nil && result.IsError {
		// Tools may report failure through the result instead of an error.
		return p.fail(rc, record, call, &ToolError{
			ToolName:   canonical,
			ToolCallID: call.ID,
			Cause:      fmt.Errorf("%s", result.Content),
		})
	}

	p.hints.RecordSuccess(canonical)
	_ = record.Advance(models.ToolCallOutputAvailable)
	p.count(canonical, "success")
	p.sink.Emit(models.NewToolEvent(models.EventToolOutputAvailable, canonical, call.ID).
		WithAgentPath(rc.Stack.Path()))

	if result == nil {
		result = &models.ToolResult{ToolCallID: call.ID}
	}
	result.ToolCallID = call.ID
	return result
}

// approve runs the approval leg of the pipeline. It returns denied=true with
// a reason when the call must not execute.
func (p *ToolPipeline) approve(ctx context.Context, rc *RequestContext, task string, record *models.ToolCallRecord, tool Tool, canonical string, call models.ToolCall) (bool, string) {
	aware, isAware := tool.(ApprovalAwareTool)
	if !isAware || !aware.NeedsApproval(call.Input) {
		return false, ""
	}

	_, mustAskHuman := p.alwaysHuman[canonical]

	// Turn-scoped auto-approval overrides the tool's own predicate, except
	// for tools pinned to human review.
	if rc.AutoApproveTools && !mustAskHuman {
		p.logger.Debug("tool auto-approved", "tool", canonical, "tool_call_id", call.ID)
		return false, ""
	}

	_ = record.Advance(models.ToolCallApprovalRequested)

	var approved bool
	var reason string

	if rc.SupervisionMode && !mustAskHuman && p.gate != nil {
		verdict := p.gate.Evaluate(ctx, supervision.Request{
			ToolCallID: call.ID,
			ToolName:   canonical,
			Input:      call.Input,
			Task:       task,
			AgentPath:  rc.Stack.Path(),
		})
		approved = verdict.Approved
		reason = fmt.Sprintf("%s tier: %s", verdict.Tier, verdict.Reason)
		if p.metrics != nil {
			decision := "reject"
			if approved {
				decision = "approve"
			}
			p.metrics.GateDecisions.WithLabelValues(verdict.Tier, decision).Inc()
		}
	} else {
		p.sink.Emit(models.NewToolEvent(models.EventToolApprovalRequested, canonical, call.ID).
			WithAgentPath(rc.Stack.Path()))
		decision := p.waitForHuman(ctx, call.ID)
		approved = decision.Approved()
		switch {
		case decision.TimedOut:
			reason = "approval request timed out"
		case approved:
			reason = "approved by user"
		default:
			reason = "denied by user"
		}
	}

	_ = record.Advance(models.ToolCallApprovalResponded)
	p.sink.Emit(models.NewToolEvent(models.EventToolApprovalResponded, canonical, call.ID).
		WithMessage(reason).
		WithAgentPath(rc.Stack.Path()))

	return !approved, reason
}

// waitForHuman blocks on the pending-approval registry until a decision
// arrives, the request expires, or the turn is cancelled.
func (p *ToolPipeline) waitForHuman(ctx context.Context, toolCallID string) approval.Decision {
	ch := p.approvals.Register(toolCallID, p.approvalTimeout)
	select {
	case decision := <-ch:
		return decision
	case <-ctx.Done():
		p.approvals.Cancel(toolCallID)
		return approval.Decision{Status: approval.StatusDenied, TimedOut: true}
	}
}

// executeWithTimeout races the raw tool execution against the per-call
// deadline. A timed-out tool keeps running in its goroutine until its own
// ctx check fires; its eventual result is discarded.
func (p *ToolPipeline) executeWithTimeout(ctx context.Context, rc *RequestContext, tool Tool, call models.ToolCall) (*models.ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type outcome struct {
		result *models.ToolResult
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		var result *models.ToolResult
		var err error
		if aware, ok := tool.(RequestAwareTool); ok {
			result, err = aware.ExecuteWithRequest(execCtx, rc, call.Input)
		} else {
			result, err = tool.Execute(execCtx, call.Input)
		}
		done <- outcome{result: result, err: err}
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, &ToolError{ToolName: tool.Name(), ToolCallID: call.ID, Cause: ctx.Err()}
		}
		return nil, &ToolError{ToolName: tool.Name(), ToolCallID: call.ID, TimedOut: true}
	}
}

// fail converts an execution failure into an enhanced error result.
func (p *ToolPipeline) fail(rc *RequestContext, record *models.ToolCallRecord, call models.ToolCall, toolErr *ToolError) *models.ToolResult {
	toolID := toolErr.ToolName
	if toolID == "" {
		toolID = call.Name
	}

	_ = record.Advance(models.ToolCallOutputError)

	status := "error"
	if toolErr.TimedOut {
		status = "timeout"
	}
	p.count(toolID, status)

	enhanced := p.hints.Enhance(toolID, toolErr)
	p.logger.Warn("tool execution failed",
		"tool", toolID, "tool_call_id", call.ID, "timed_out", toolErr.TimedOut, "error", toolErr.Error())
	p.sink.Emit(models.NewToolEvent(models.EventToolOutputError, toolID, call.ID).
		WithMessage(toolErr.Error()).
		WithAgentPath(rc.Stack.Path()))

	return &models.ToolResult{
		ToolCallID: call.ID,
		Content:    enhanced,
		IsError:    true,
		TimedOut:   toolErr.TimedOut,
	}
}

// deny converts a rejected approval into a denial result. Denials are not
// failures: they do not feed the failure tracker.
func (p *ToolPipeline) deny(rc *RequestContext, record *models.ToolCallRecord, call models.ToolCall, canonical, reason string) *models.ToolResult {
	_ = record.Advance(models.ToolCallOutputDenied)
	p.count(canonical, "denied")
	p.sink.Emit(models.NewToolEvent(models.EventToolOutputDenied, canonical, call.ID).
		WithMessage(reason).
		WithAgentPath(rc.Stack.Path()))

	return &models.ToolResult{
		ToolCallID: call.ID,
		Content:    fmt.Sprintf("Tool call was not approved: %s", reason),
		IsError:    true,
		Denied:     true,
	}
}

// notFoundError builds an unknown-tool failure listing close matches so the
// model can self-correct on the next call.
func (p *ToolPipeline) notFoundError(call models.ToolCall) *ToolError {
	msg := fmt.Sprintf("%v: %s", ErrToolNotFound, call.Name)
	if suggestions := p.registry.Suggest(call.Name); len(suggestions) > 0 {
		msg += fmt.Sprintf(" (did you mean: %s)", strings.Join(suggestions, ", "))
	} else if names := p.registry.Names(); len(names) > 0 {
		msg += fmt.Sprintf(" (available: %s)", strings.Join(names, ", "))
	}
	return &ToolError{
		ToolName:   call.Name,
		ToolCallID: call.ID,
		Cause:      fmt.Errorf("%s", msg),
	}
}

func (p *ToolPipeline) count(tool, status string) {
	if p.metrics != nil {
		p.metrics.ToolExecutions.WithLabelValues(tool, status).Inc()
	}
}
