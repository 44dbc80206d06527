package providers

import (
	"context"
	"encoding/json"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

func TestConvertOpenAIMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: models.RoleUser, Content: "read the file"},
		{
			Role:    models.RoleAssistant,
			Content: "on it",
			ToolCalls: []models.ToolCall{
				{ID: "tc-1", Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`)},
			},
		},
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "tc-1", Content: "file contents"},
				{ToolCallID: "tc-2", Content: "more"},
			},
		},
	}

	out := convertOpenAIMessages(messages, "be helpful")

	// system + user + assistant + two tool messages
	if len(out) != 5 {
		t.Fatalf("message count = %d, want 5", len(out))
	}
	if out[0].Role != openai.ChatMessageRoleSystem || out[0].Content != "be helpful" {
		t.Errorf("system message = %+v", out[0])
	}
	if out[1].Role != "user" {
		t.Errorf("user role = %q", out[1].Role)
	}

	assistant := out[2]
	if len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant tool calls = %d", len(assistant.ToolCalls))
	}
	if assistant.ToolCalls[0].Function.Name != "read_file" {
		t.Errorf("tool call name = %q", assistant.ToolCalls[0].Function.Name)
	}
	if assistant.ToolCalls[0].Function.Arguments != `{"path":"a.txt"}` {
		t.Errorf("tool call args = %q", assistant.ToolCalls[0].Function.Arguments)
	}

	for i, want := range []string{"tc-1", "tc-2"} {
		msg := out[3+i]
		if msg.Role != openai.ChatMessageRoleTool || msg.ToolCallID != want {
			t.Errorf("tool message %d = %+v", i, msg)
		}
	}
}

func TestConvertOpenAIMessagesNoSystem(t *testing.T) {
	out := convertOpenAIMessages([]agent.CompletionMessage{
		{Role: models.RoleUser, Content: "hi"},
	}, "")
	if len(out) != 1 {
		t.Fatalf("message count = %d, want 1", len(out))
	}
	if out[0].Role != "user" {
		t.Errorf("role = %q", out[0].Role)
	}
}

type schemaTool struct {
	name   string
	schema string
}

func (t *schemaTool) Name() string             { return t.name }
func (t *schemaTool) Description() string      { return "test tool" }
func (t *schemaTool) Schema() json.RawMessage  { return json.RawMessage(t.schema) }
func (t *schemaTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	return nil, nil
}

func TestConvertOpenAITools(t *testing.T) {
	tools := []agent.Tool{
		&schemaTool{name: "good", schema: `{"type":"object","properties":{"x":{"type":"string"}}}`},
		&schemaTool{name: "broken", schema: `{not json`},
	}

	out := convertOpenAITools(tools)
	if len(out) != 2 {
		t.Fatalf("tool count = %d", len(out))
	}
	if out[0].Function.Name != "good" {
		t.Errorf("name = %q", out[0].Function.Name)
	}

	// A broken schema degrades to an empty object schema.
	params, ok := out[1].Function.Parameters.(map[string]any)
	if !ok {
		t.Fatalf("parameters type = %T", out[1].Function.Parameters)
	}
	if params["type"] != "object" {
		t.Errorf("degraded schema = %v", params)
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want bool
	}{
		{"rate limit", "429 rate limit exceeded", true},
		{"server error", "internal server error (500)", true},
		{"timeout", "request timeout", true},
		{"connection", "connection reset by peer", true},
		{"auth failure", "401 invalid api key", false},
		{"bad request", "invalid request body", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &testError{msg: tt.msg}
			if got := isRetryableError(err); got != tt.want {
				t.Errorf("isRetryableError(%q) = %v, want %v", tt.msg, got, tt.want)
			}
		})
	}

	if isRetryableError(nil) {
		t.Error("nil error should not be retryable")
	}
}

type testError struct{ msg string }

func (e *testError) Error() string { return e.msg }
