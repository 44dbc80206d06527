package supervision

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/conductor/internal/approval"
	"github.com/haasonsaas/conductor/pkg/models"
)

// fakeJudge returns a canned response or error.
type fakeJudge struct {
	response string
	err      error
	called   bool
}

func (j *fakeJudge) Judge(ctx context.Context, system, prompt string) (string, error) {
	j.called = true
	return j.response, j.err
}

// autoResolveSink resolves escalations as soon as they are announced,
// standing in for a human who answers instantly.
type autoResolveSink struct {
	pending *approval.Registry
	status  approval.Status
}

func (s *autoResolveSink) Emit(event *models.RuntimeEvent) {
	if event.Type == models.EventStatusChange && event.ToolCallID != "" {
		_ = s.pending.Resolve(event.ToolCallID, s.status, nil)
	}
}

func riskyRequest() Request {
	return Request{
		ToolCallID: "tc-1",
		ToolName:   "write_file",
		Input:      json.RawMessage(`{"path":"a.txt","content":"x"}`),
		Task:       "update the file",
		AgentPath:  []string{"master"},
	}
}

func TestGateTier1Approves(t *testing.T) {
	judge := &fakeJudge{}
	gate := NewGate(Config{Judge: judge})

	verdict := gate.Evaluate(context.Background(), Request{
		ToolCallID: "tc-1",
		ToolName:   "read_file",
		Input:      json.RawMessage(`{"path":"a.txt"}`),
	})

	if !verdict.Approved || verdict.Tier != "rules" {
		t.Fatalf("verdict = %+v, want rules approval", verdict)
	}
	if judge.called {
		t.Error("tier-1 match should not consult the judge")
	}
}

func TestGateTier2Decisions(t *testing.T) {
	tests := []struct {
		name        string
		response    string
		wantApprove bool
	}{
		{"approve", `{"decision": "approve", "reason": "in scope"}`, true},
		{"reject", `{"decision": "reject", "reason": "destructive"}`, false},
		{"json inside prose", `Sure, here is my judgment: {"decision": "approve", "reason": "fine"} as requested.`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewGate(Config{Judge: &fakeJudge{response: tt.response}})

			verdict := gate.Evaluate(context.Background(), riskyRequest())
			if verdict.Tier != "model" {
				t.Fatalf("tier = %s, want model", verdict.Tier)
			}
			if verdict.Approved != tt.wantApprove {
				t.Errorf("approved = %v, want %v", verdict.Approved, tt.wantApprove)
			}
		})
	}
}

func TestGateEscalatesOnJudgeFailure(t *testing.T) {
	pending := approval.NewRegistry()
	sink := &autoResolveSink{pending: pending, status: approval.StatusApproved}
	gate := NewGate(Config{
		Judge:   &fakeJudge{err: errors.New("model unavailable")},
		Pending: pending,
		Sink:    sink,
	})

	verdict := gate.Evaluate(context.Background(), riskyRequest())
	if verdict.Tier != "human" {
		t.Fatalf("tier = %s, want human after judge failure", verdict.Tier)
	}
	if !verdict.Approved {
		t.Error("human approval should carry through")
	}
}

func TestGateEscalatesOnUnparseableJudgment(t *testing.T) {
	pending := approval.NewRegistry()
	sink := &autoResolveSink{pending: pending, status: approval.StatusDenied}
	gate := NewGate(Config{
		Judge:   &fakeJudge{response: "I think you should probably be careful here."},
		Pending: pending,
		Sink:    sink,
	})

	verdict := gate.Evaluate(context.Background(), riskyRequest())
	if verdict.Tier != "human" {
		t.Fatalf("tier = %s, want human after unparseable judgment", verdict.Tier)
	}
	if verdict.Approved {
		t.Error("human denial should carry through")
	}
}

func TestGateEscalatesOnExplicitEscalate(t *testing.T) {
	pending := approval.NewRegistry()
	sink := &autoResolveSink{pending: pending, status: approval.StatusApproved}
	gate := NewGate(Config{
		Judge:   &fakeJudge{response: `{"decision": "escalate", "reason": "unsure"}`},
		Pending: pending,
		Sink:    sink,
	})

	if verdict := gate.Evaluate(context.Background(), riskyRequest()); verdict.Tier != "human" {
		t.Errorf("tier = %s, want human on explicit escalate", verdict.Tier)
	}
}

func TestGateTimeoutFailsClosed(t *testing.T) {
	gate := NewGate(Config{EscalationTimeout: 20 * time.Millisecond})

	verdict := gate.Evaluate(context.Background(), riskyRequest())
	if verdict.Approved {
		t.Fatal("unanswered escalation must not approve")
	}
	if verdict.Tier != "timeout" {
		t.Errorf("tier = %s, want timeout", verdict.Tier)
	}
}

func TestGateAbortFailsClosed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	gate := NewGate(Config{})

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	verdict := gate.Evaluate(ctx, riskyRequest())
	if verdict.Approved {
		t.Fatal("aborted escalation must not approve")
	}
}

func TestParseJudgment(t *testing.T) {
	tests := []struct {
		name         string
		response     string
		wantDecision string
		wantOK       bool
	}{
		{"bare object", `{"decision": "approve", "reason": "ok"}`, "approve", true},
		{"mixed case", `{"decision": "REJECT", "reason": "no"}`, "reject", true},
		{"embedded in text", `verdict follows {"decision":"escalate","reason":"unsure"} end`, "escalate", true},
		{"nested braces in reason", `{"decision":"approve","reason":"writes {a: 1} to disk"}`, "approve", true},
		{"escaped quote in reason", `{"decision":"approve","reason":"file \"a.txt\""}`, "approve", true},
		{"no json at all", "definitely approve this", "", false},
		{"unknown decision value", `{"decision": "maybe", "reason": "?"}`, "", false},
		{"truncated object", `{"decision": "approve"`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision, _, ok := parseJudgment(tt.response)
			if ok != tt.wantOK {
				t.Fatalf("parseJudgment(%q) ok = %v, want %v", tt.response, ok, tt.wantOK)
			}
			if decision != tt.wantDecision {
				t.Errorf("decision = %q, want %q", decision, tt.wantDecision)
			}
		})
	}
}
