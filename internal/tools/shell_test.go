package tools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestShellToolNeedsApproval(t *testing.T) {
	tool := NewShellTool(Config{})

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"read-only command", `{"command":"ls -la"}`, false},
		{"mutating command", `{"command":"rm -rf ."}`, true},
		{"chained command", `{"command":"ls && rm x"}`, true},
		{"malformed input", `{"command":`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tool.NeedsApproval(json.RawMessage(tt.input)); got != tt.want {
				t.Errorf("NeedsApproval(%s) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestShellToolExecute(t *testing.T) {
	tool := NewShellTool(Config{Workspace: t.TempDir()})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"echo hi"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if strings.TrimSpace(result.Content) != "hi" {
		t.Errorf("output = %q", result.Content)
	}
}

func TestShellToolFailureReturnsError(t *testing.T) {
	tool := NewShellTool(Config{Workspace: t.TempDir()})

	_, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"exit 3"}`))
	if err == nil {
		t.Fatal("failing command should surface an error for hint enhancement")
	}
	if !strings.Contains(err.Error(), "exit status 3") {
		t.Errorf("error = %v", err)
	}
}

func TestShellToolEmptyCommand(t *testing.T) {
	tool := NewShellTool(Config{})

	result, err := tool.Execute(context.Background(), json.RawMessage(`{"command":"  "}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.IsError {
		t.Error("empty command should be rejected")
	}
}
