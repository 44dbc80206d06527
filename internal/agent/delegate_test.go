package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

// scriptedProvider replays canned chunk sequences, one per Complete call.
type scriptedProvider struct {
	turns [][]CompletionChunk
	calls int
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	if p.calls >= len(p.turns) {
		return nil, errors.New("scripted provider exhausted")
	}
	turn := p.turns[p.calls]
	p.calls++

	out := make(chan *CompletionChunk, len(turn)+1)
	for i := range turn {
		out <- &turn[i]
	}
	out <- &CompletionChunk{Done: true}
	close(out)
	return out, nil
}

func textTurn(text string) []CompletionChunk {
	return []CompletionChunk{{Text: text}}
}

func newTestRuntime(t *testing.T, provider LLMProvider) *Runtime {
	t.Helper()
	runtime, err := NewRuntime(RuntimeConfig{
		Provider: provider,
		Options:  RuntimeOptions{DefaultModel: "test-model", MaxTokens: 512},
	})
	if err != nil {
		t.Fatalf("NewRuntime: %v", err)
	}
	return runtime
}

func TestDelegateRejections(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(rc *RequestContext, agents *AgentRegistry)
		target   string
		wantCode RejectCode
	}{
		{
			name: "recursion",
			setup: func(rc *RequestContext, agents *AgentRegistry) {
				agents.Register(&AgentDefinition{Name: "researcher"})
				rc.Stack.Push(&AgentFrame{
					Kind: FrameSub, Name: "researcher",
					Path: []string{"master", "researcher"}, MaxDepth: DefaultMaxDepth,
				})
			},
			target:   "researcher",
			wantCode: RejectRecursion,
		},
		{
			name: "max depth",
			setup: func(rc *RequestContext, agents *AgentRegistry) {
				agents.Register(&AgentDefinition{Name: "coder"})
				rc.Stack.Push(&AgentFrame{
					Kind: FrameSub, Name: "shallow",
					Path: []string{"master", "shallow"}, MaxDepth: 2,
				})
			},
			target:   "coder",
			wantCode: RejectMaxDepth,
		},
		{
			name: "not allowed",
			setup: func(rc *RequestContext, agents *AgentRegistry) {
				agents.Register(&AgentDefinition{Name: "coder"})
				rc.Stack.Push(&AgentFrame{
					Kind: FrameSub, Name: "restricted",
					Path:             []string{"master", "restricted"},
					MaxDepth:         DefaultMaxDepth,
					AllowedSubAgents: map[string]struct{}{"researcher": {}},
				})
			},
			target:   "coder",
			wantCode: RejectNotAllowed,
		},
		{
			name:     "not found",
			setup:    func(rc *RequestContext, agents *AgentRegistry) {},
			target:   "ghost",
			wantCode: RejectNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runtime := newTestRuntime(t, &scriptedProvider{})
			delegator := NewDelegator(runtime)

			rc := testRequestContext()
			tt.setup(rc, runtime.Agents())
			depthBefore := rc.Stack.Len()

			result := delegator.Delegate(context.Background(), rc, tt.target, "do a thing")

			if result.OK {
				t.Fatal("expected rejection, got OK")
			}
			if result.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", result.Code, tt.wantCode)
			}
			if result.Err != nil {
				t.Errorf("structural rejection carried an error: %v", result.Err)
			}
			if rc.Stack.Len() != depthBefore {
				t.Errorf("stack depth changed on rejection: %d -> %d", depthBefore, rc.Stack.Len())
			}
		})
	}
}

func TestDelegateSuccess(t *testing.T) {
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		textTurn("research complete: the answer is 42"),
	}}
	runtime := newTestRuntime(t, provider)
	runtime.Agents().Register(&AgentDefinition{
		Name:         "researcher",
		SystemPrompt: "You research things.",
	})
	delegator := NewDelegator(runtime)

	rc := testRequestContext()
	depthBefore := rc.Stack.Len()

	result := delegator.Delegate(context.Background(), rc, "researcher", "find the answer")

	if !result.OK {
		t.Fatalf("delegation failed: code=%s err=%v", result.Code, result.Err)
	}
	if result.Output != "research complete: the answer is 42" {
		t.Errorf("output = %q", result.Output)
	}
	if rc.Stack.Len() != depthBefore {
		t.Errorf("frame leaked: depth %d -> %d", depthBefore, rc.Stack.Len())
	}
}

func TestDelegateFrameFreedOnError(t *testing.T) {
	// Provider exhaustion makes the sub-turn fail; the frame must still come off.
	runtime := newTestRuntime(t, &scriptedProvider{})
	runtime.Agents().Register(&AgentDefinition{Name: "researcher"})
	delegator := NewDelegator(runtime)

	rc := testRequestContext()
	depthBefore := rc.Stack.Len()

	result := delegator.Delegate(context.Background(), rc, "researcher", "task")

	if result.OK {
		t.Fatal("expected failure from exhausted provider")
	}
	if result.Err == nil {
		t.Fatal("expected an execution error")
	}
	if result.Code != "" {
		t.Errorf("code = %q, want none for a generic execution failure", result.Code)
	}
	if rc.Stack.Len() != depthBefore {
		t.Errorf("frame leaked on error: depth %d -> %d", depthBefore, rc.Stack.Len())
	}
}

func TestDelegateTimeoutTagged(t *testing.T) {
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		{{Error: context.DeadlineExceeded}},
	}}
	runtime := newTestRuntime(t, provider)
	runtime.Agents().Register(&AgentDefinition{Name: "researcher"})
	delegator := NewDelegator(runtime)

	rc := testRequestContext()
	result := delegator.Delegate(context.Background(), rc, "researcher", "task")

	if result.OK {
		t.Fatal("expected failure from a timed-out sub-turn")
	}
	if result.Code != RejectTimeout {
		t.Errorf("code = %q, want %q", result.Code, RejectTimeout)
	}
	if !errors.Is(result.Err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", result.Err)
	}
}

func TestDelegateToolRejectionContent(t *testing.T) {
	runtime := newTestRuntime(t, &scriptedProvider{})
	tool := NewDelegateTool(NewDelegator(runtime))

	rc := testRequestContext()
	input, _ := json.Marshal(delegateInput{Agent: "ghost", Task: "anything"})

	result, err := tool.ExecuteWithRequest(context.Background(), rc, input)
	if err != nil {
		t.Fatalf("structural rejection surfaced as error: %v", err)
	}
	if !strings.Contains(result.Content, "[NOT_FOUND]") {
		t.Errorf("rejection content missing code: %q", result.Content)
	}
	if !strings.Contains(result.Content, "ghost") {
		t.Errorf("rejection content missing agent name: %q", result.Content)
	}
}

func TestDelegateToolRequiresRequestState(t *testing.T) {
	runtime := newTestRuntime(t, &scriptedProvider{})
	tool := NewDelegateTool(NewDelegator(runtime))

	if _, err := tool.Execute(context.Background(), json.RawMessage(`{}`)); err == nil {
		t.Fatal("plain Execute should refuse to run without request state")
	}
}

func TestDelegateToolDescriptionListsAgents(t *testing.T) {
	runtime := newTestRuntime(t, &scriptedProvider{})
	runtime.Agents().Register(&AgentDefinition{Name: "coder"})
	runtime.Agents().Register(&AgentDefinition{Name: "researcher"})
	tool := NewDelegateTool(NewDelegator(runtime))

	desc := tool.Description()
	if !strings.Contains(desc, "coder") || !strings.Contains(desc, "researcher") {
		t.Errorf("description should list registered agents: %q", desc)
	}
}

func TestDelegateWithinToolLoop(t *testing.T) {
	// The sub-agent's own turn may call tools; its delegated output only
	// returns once that inner loop has finished.
	provider := &scriptedProvider{turns: [][]CompletionChunk{
		{
			{ToolCall: &models.ToolCall{ID: "tc-1", Name: "echo", Input: json.RawMessage(`{"v":"hi"}`)}},
		},
		textTurn("done after tool"),
	}}
	runtime := newTestRuntime(t, provider)
	runtime.Pipeline().Registry().Register(&fakeTool{
		name: "echo",
		execute: func(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
			return &models.ToolResult{Content: "echoed"}, nil
		},
	})
	runtime.Agents().Register(&AgentDefinition{Name: "worker"})

	rc := testRequestContext()
	result := NewDelegator(runtime).Delegate(context.Background(), rc, "worker", "use the tool")

	if !result.OK {
		t.Fatalf("delegation failed: %v", result.Err)
	}
	if result.Output != "done after tool" {
		t.Errorf("output = %q", result.Output)
	}
	if provider.calls != 2 {
		t.Errorf("expected two model turns, got %d", provider.calls)
	}
}
