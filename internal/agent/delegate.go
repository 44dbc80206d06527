package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/pkg/models"
)

// Delegator hands sub-tasks to registered agents. Structural limits are
// checked before any frame is pushed, so a rejected delegation never
// touches the stack. A successful delegation runs the sub-agent to
// completion before returning; the caller resumes only once the merged
// output is final.
type Delegator struct {
	runtime *Runtime
}

// NewDelegator creates a delegator bound to a runtime.
func NewDelegator(runtime *Runtime) *Delegator {
	return &Delegator{runtime: runtime}
}

// Delegate runs task on the named agent and blocks until it finishes.
// Structural rejections (cycle, depth, allow-list, unknown agent) come back
// as typed results, never errors.
func (d *Delegator) Delegate(ctx context.Context, rc *RequestContext, target, task string) DelegateResult {
	r := d.runtime
	current := rc.Stack.Current()
	if current == nil {
		return DelegateResult{OK: false, Agent: target, Err: fmt.Errorf("no active agent frame")}
	}

	// Checks run in a fixed order so a call violating several limits always
	// reports the same code.
	if rc.Stack.Contains(target) {
		d.reject(RejectRecursion, target)
		return rejected(RejectRecursion, target)
	}
	if rc.Stack.Len() >= current.MaxDepth {
		d.reject(RejectMaxDepth, target)
		return rejected(RejectMaxDepth, target)
	}
	if !current.MayDelegate(target) {
		d.reject(RejectNotAllowed, target)
		return rejected(RejectNotAllowed, target)
	}
	def, ok := r.agents.Get(target)
	if !ok {
		d.reject(RejectNotFound, target)
		return rejected(RejectNotFound, target)
	}

	frame := def.Frame(FrameSub, uuid.NewString(), current.Path)
	rc.Stack.Push(frame)
	// The frame comes off on every exit path, including sub-turn panics
	// recovered upstream and ctx cancellation.
	defer rc.Stack.Pop()

	r.sink.Emit(models.NewToolEvent(models.EventDelegationStarted, "delegate", frame.AgentID).
		WithMessage(task).
		WithAgentPath(frame.Path).
		WithMeta("agent", target))
	started := time.Now()

	messages := []models.Message{{
		ID:        uuid.NewString(),
		SessionID: rc.SessionID,
		Role:      models.RoleUser,
		Content:   task,
		CreatedAt: started,
	}}

	output, err := r.runLoop(ctx, rc, def.SystemPrompt, def.Model, messages, func(*ResponseChunk) {})

	r.sink.Emit(models.NewToolEvent(models.EventDelegationFinished, "delegate", frame.AgentID).
		WithAgentPath(frame.Path).
		WithMeta("agent", target).
		WithMeta("duration", time.Since(started).String()).
		WithMeta("ok", err == nil))

	if err != nil {
		var code RejectCode
		if errors.Is(err, context.DeadlineExceeded) {
			code = RejectTimeout
		}
		if r.metrics != nil {
			label := "error"
			if code != "" {
				label = string(code)
			}
			r.metrics.Delegations.WithLabelValues(label).Inc()
		}
		r.logger.Warn("delegated sub-turn failed",
			"agent", target, "error", err)
		return DelegateResult{OK: false, Code: code, Agent: target, Err: err}
	}

	if r.metrics != nil {
		r.metrics.Delegations.WithLabelValues("ok").Inc()
	}
	return DelegateResult{OK: true, Agent: target, Output: output}
}

func (d *Delegator) reject(code RejectCode, target string) {
	if d.runtime.metrics != nil {
		d.runtime.metrics.Delegations.WithLabelValues(string(code)).Inc()
	}
	d.runtime.logger.Info("delegation rejected", "agent", target, "code", string(code))
}

// delegateInput is the tool-call payload for the delegation tool.
type delegateInput struct {
	Agent string `json:"agent"`
	Task  string `json:"task"`
}

const delegateSchema = `{
	"type": "object",
	"properties": {
		"agent": {"type": "string", "description": "Name of the registered agent to delegate to"},
		"task": {"type": "string", "description": "Self-contained task description for the sub-agent"}
	},
	"required": ["agent", "task"],
	"additionalProperties": false
}`

// DelegateTool exposes delegation as a model-callable tool.
type DelegateTool struct {
	delegator *Delegator
}

// NewDelegateTool wraps a delegator as a tool.
func NewDelegateTool(delegator *Delegator) *DelegateTool {
	return &DelegateTool{delegator: delegator}
}

func (t *DelegateTool) Name() string { return "delegate" }

func (t *DelegateTool) Description() string {
	names := t.delegator.runtime.agents.Names()
	if len(names) == 0 {
		return "Delegate a sub-task to a specialized agent."
	}
	return fmt.Sprintf("Delegate a sub-task to a specialized agent. Available agents: %s.",
		strings.Join(names, ", "))
}

func (t *DelegateTool) Schema() json.RawMessage { return json.RawMessage(delegateSchema) }

// Execute satisfies Tool but delegation always needs request state; the
// pipeline routes through ExecuteWithRequest instead.
func (t *DelegateTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	return nil, fmt.Errorf("delegate: request state required")
}

// ExecuteWithRequest parses the payload and runs the delegation. Typed
// rejections are encoded into the result content so the model can react
// without the call counting as an execution failure.
func (t *DelegateTool) ExecuteWithRequest(ctx context.Context, rc *RequestContext, input json.RawMessage) (*models.ToolResult, error) {
	var in delegateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("delegate: invalid input: %w", err)
	}

	result := t.delegator.Delegate(ctx, rc, in.Agent, in.Task)
	if result.Err != nil {
		return nil, result.Err
	}

	if !result.OK {
		return &models.ToolResult{
			Content: fmt.Sprintf("[%s] delegation to %q rejected: %s",
				result.Code, result.Agent, rejectExplanation(result.Code)),
		}, nil
	}
	return &models.ToolResult{Content: result.Output}, nil
}

func rejectExplanation(code RejectCode) string {
	switch code {
	case RejectRecursion:
		return "the target agent is already active in the current delegation chain"
	case RejectMaxDepth:
		return "the delegation chain is at its depth limit; solve the task directly"
	case RejectNotAllowed:
		return "the current agent is not permitted to delegate to this target"
	case RejectNotFound:
		return "no agent with this name is registered"
	default:
		return "delegation is not possible here"
	}
}
