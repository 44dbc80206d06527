// Package supervision decides whether a risky tool call may proceed. It
// layers a static rule table, then a supervisory model, then a human
// escalation, so that human interruptions are the last resort while an
// unanswered risky action can never execute.
package supervision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/haasonsaas/conductor/internal/approval"
	"github.com/haasonsaas/conductor/pkg/models"
)

// DefaultEscalationTimeout bounds tier-3 human review. Expiry rejects.
const DefaultEscalationTimeout = 300 * time.Second

// maxJudgmentInputBytes bounds the tool arguments quoted into the tier-2
// judgment prompt.
const maxJudgmentInputBytes = 2048

// Request describes the tool call under review.
type Request struct {
	ToolCallID string
	ToolName   string
	Input      json.RawMessage
	// Task is the delegated task or user message giving the call context.
	Task      string
	AgentPath []string
}

// Verdict is the gate's terminal decision. Escalation is internal: every
// evaluation ends in approve or reject.
type Verdict struct {
	Approved bool
	// Tier names the authoritative tier: "rules", "model", "human", or
	// "timeout" when human review expired.
	Tier   string
	Reason string
}

// Judge issues a bounded supervisory judgment. Implemented by the
// anthropic provider; any transport failure escalates to human review.
type Judge interface {
	Judge(ctx context.Context, system, prompt string) (string, error)
}

// EventSink receives the status-change notifications published when a call
// escalates to human review.
type EventSink interface {
	Emit(event *models.RuntimeEvent)
}

// Gate is the three-tier decision engine.
type Gate struct {
	rules   *RuleSet
	judge   Judge
	pending *approval.Registry
	sink    EventSink
	timeout time.Duration
	logger  *slog.Logger
}

// Config assembles a Gate.
type Config struct {
	// Rules defaults to DefaultRuleSet.
	Rules *RuleSet

	// Judge is the optional tier-2 supervisory model. Nil skips straight
	// to human escalation.
	Judge Judge

	// Pending is the shared pending-approval registry for tier 3.
	Pending *approval.Registry

	// Sink receives escalation status events.
	Sink EventSink

	// EscalationTimeout defaults to DefaultEscalationTimeout.
	EscalationTimeout time.Duration

	Logger *slog.Logger
}

// NewGate creates a gate, applying defaults for unset fields.
func NewGate(cfg Config) *Gate {
	if cfg.Rules == nil {
		cfg.Rules = DefaultRuleSet()
	}
	if cfg.Pending == nil {
		cfg.Pending = approval.NewRegistry()
	}
	if cfg.EscalationTimeout <= 0 {
		cfg.EscalationTimeout = DefaultEscalationTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Gate{
		rules:   cfg.Rules,
		judge:   cfg.Judge,
		pending: cfg.Pending,
		sink:    cfg.Sink,
		timeout: cfg.EscalationTimeout,
		logger:  cfg.Logger,
	}
}

// Evaluate runs the tiers in order. The first tier returning a
// non-escalate decision is authoritative; the rest are skipped.
func (g *Gate) Evaluate(ctx context.Context, req Request) Verdict {
	if approve, matched := g.rules.Evaluate(req.ToolName, req.Input); matched {
		return Verdict{Approved: approve, Tier: "rules", Reason: "matched static rule table"}
	}

	if g.judge != nil {
		verdict, escalate := g.judgeCall(ctx, req)
		if !escalate {
			return verdict
		}
	}

	return g.escalate(ctx, req)
}

// judgeCall runs tier 2. It returns escalate=true on unparseable output,
// an explicit escalate decision, or any transport failure, failing safe
// toward human review rather than silent approval.
func (g *Gate) judgeCall(ctx context.Context, req Request) (Verdict, bool) {
	input := string(req.Input)
	if len(input) > maxJudgmentInputBytes {
		input = input[:maxJudgmentInputBytes] + "…"
	}

	prompt := fmt.Sprintf(
		"A tool call needs a safety judgment.\n\nTool: %s\nArguments: %s\nTask context: %s\n\n"+
			`Respond with a single JSON object: {"decision": "approve"|"reject"|"escalate", "reason": "..."}`,
		req.ToolName, input, req.Task)

	response, err := g.judge.Judge(ctx, supervisorSystemPrompt, prompt)
	if err != nil {
		g.logger.Warn("supervisory model failed, escalating",
			"tool", req.ToolName, "tool_call_id", req.ToolCallID, "error", err)
		return Verdict{}, true
	}

	decision, reason, ok := parseJudgment(response)
	if !ok {
		g.logger.Warn("unparseable supervisory judgment, escalating",
			"tool", req.ToolName, "tool_call_id", req.ToolCallID)
		return Verdict{}, true
	}

	switch decision {
	case "approve":
		return Verdict{Approved: true, Tier: "model", Reason: reason}, false
	case "reject":
		return Verdict{Approved: false, Tier: "model", Reason: reason}, false
	default:
		return Verdict{}, true
	}
}

// escalate runs tier 3: publish a status change and wait for the human
// decision, which fails closed on timeout or abort.
func (g *Gate) escalate(ctx context.Context, req Request) Verdict {
	if g.sink != nil {
		g.sink.Emit(models.NewToolEvent(models.EventStatusChange, req.ToolName, req.ToolCallID).
			WithMessage("awaiting human approval").
			WithAgentPath(req.AgentPath))
	}

	decisions := g.pending.Register(req.ToolCallID, g.timeout)
	select {
	case decision := <-decisions:
		if decision.TimedOut {
			return Verdict{Approved: false, Tier: "timeout", Reason: "approval request expired"}
		}
		reason := "human decision"
		if len(decision.Payload) > 0 {
			reason = string(decision.Payload)
		}
		return Verdict{Approved: decision.Approved(), Tier: "human", Reason: reason}
	case <-ctx.Done():
		g.pending.Cancel(req.ToolCallID)
		return Verdict{Approved: false, Tier: "human", Reason: "turn aborted while awaiting approval"}
	}
}

const supervisorSystemPrompt = "You are a safety supervisor for an AI assistant's tool calls. " +
	"Approve calls that are clearly within the user's task, reject calls that are destructive or " +
	"out of scope, and escalate anything you are unsure about. Respond only with the JSON object requested."

// parseJudgment extracts the first JSON-like substring from a model
// response and reads {decision, reason} from it.
func parseJudgment(response string) (decision, reason string, ok bool) {
	start := strings.IndexByte(response, '{')
	if start < 0 {
		return "", "", false
	}

	depth := 0
	end := -1
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		c := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			escaped = inString
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					end = i + 1
				}
			}
		}
		if end > 0 {
			break
		}
	}
	if end < 0 {
		return "", "", false
	}

	var parsed struct {
		Decision string `json:"decision"`
		Reason   string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(response[start:end]), &parsed); err != nil {
		return "", "", false
	}

	decision = strings.ToLower(strings.TrimSpace(parsed.Decision))
	switch decision {
	case "approve", "reject", "escalate":
		return decision, parsed.Reason, true
	default:
		return "", "", false
	}
}
