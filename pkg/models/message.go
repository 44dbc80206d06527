package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is the unified conversation message format used by the runtime,
// the context compressor, and persistence collaborators.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id,omitempty"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	// Summary marks a synthetic message produced by the context compressor.
	// Summary messages are opaque leaves: the compressor never re-summarizes them.
	Summary   bool           `json:"summary,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToolCall represents a model's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResult represents the output of a tool execution.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
	// Denied marks a result produced by an approval denial rather than
	// execution. Denials are terminal for the call and fail closed.
	Denied bool `json:"denied,omitempty"`
	// TimedOut distinguishes timeout failures from execution failures so
	// retry heuristics can tell "slow" from "wrong".
	TimedOut bool `json:"timed_out,omitempty"`
}
