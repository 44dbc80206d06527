package providers

import (
	"encoding/json"
	"testing"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/pkg/models"
)

func TestNewAnthropicProviderRequiresKey(t *testing.T) {
	if _, err := NewAnthropicProvider(AnthropicConfig{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
	if _, err := NewAnthropicProvider(AnthropicConfig{APIKey: "sk-test"}); err != nil {
		t.Fatalf("NewAnthropicProvider: %v", err)
	}
}

func TestConvertAnthropicMessages(t *testing.T) {
	messages := []agent.CompletionMessage{
		{Role: models.RoleSystem, Content: "system prompt travels separately"},
		{Role: models.RoleUser, Content: "do the thing"},
		{
			Role:    models.RoleAssistant,
			Content: "calling a tool",
			ToolCalls: []models.ToolCall{
				{ID: "tc-1", Name: "shell", Input: json.RawMessage(`{"command":"ls"}`)},
			},
		},
		{
			Role: models.RoleTool,
			ToolResults: []models.ToolResult{
				{ToolCallID: "tc-1", Content: "a.txt"},
			},
		},
		{Role: models.RoleUser}, // empty content is skipped entirely
	}

	out, err := convertAnthropicMessages(messages)
	if err != nil {
		t.Fatalf("convertAnthropicMessages: %v", err)
	}

	// system and empty messages drop; user + assistant + tool-result remain
	if len(out) != 3 {
		t.Fatalf("message count = %d, want 3", len(out))
	}
	if out[0].Role != "user" {
		t.Errorf("first role = %q", out[0].Role)
	}
	if out[1].Role != "assistant" {
		t.Errorf("second role = %q", out[1].Role)
	}
	if len(out[1].Content) != 2 {
		t.Errorf("assistant blocks = %d, want text + tool_use", len(out[1].Content))
	}
	if out[2].Role != "user" {
		t.Errorf("tool-result role = %q, want user", out[2].Role)
	}
}

func TestConvertAnthropicMessagesBadToolInput(t *testing.T) {
	_, err := convertAnthropicMessages([]agent.CompletionMessage{
		{
			Role:      models.RoleAssistant,
			ToolCalls: []models.ToolCall{{ID: "tc-1", Name: "x", Input: json.RawMessage(`{broken`)}},
		},
	})
	if err == nil {
		t.Fatal("expected error for unparseable tool input")
	}
}

func TestConvertAnthropicTools(t *testing.T) {
	tools := []agent.Tool{
		&schemaTool{name: "read_file", schema: `{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`},
	}

	out, err := convertAnthropicTools(tools)
	if err != nil {
		t.Fatalf("convertAnthropicTools: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("tool count = %d", len(out))
	}
	if out[0].OfTool == nil || out[0].OfTool.Name != "read_file" {
		t.Errorf("tool param = %+v", out[0])
	}
}

func TestMaxTokensDefault(t *testing.T) {
	if got := maxTokens(0); got != 4096 {
		t.Errorf("maxTokens(0) = %d", got)
	}
	if got := maxTokens(1000); got != 1000 {
		t.Errorf("maxTokens(1000) = %d", got)
	}
}
