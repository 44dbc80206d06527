package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/conductor/pkg/models"
)

// LLMProvider streams completions from a language model. Implementations
// must honor ctx cancellation: an aborted turn must terminate the stream.
type LLMProvider interface {
	// Name returns the stable lowercase provider identifier.
	Name() string

	// Complete sends a completion request and returns a channel of chunks.
	// The channel is closed when the stream terminates (done or error).
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)
}

// CompletionMessage is one message in a provider request.
type CompletionMessage struct {
	Role        models.Role
	Content     string
	ToolCalls   []models.ToolCall
	ToolResults []models.ToolResult
}

// CompletionRequest describes one model call.
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []CompletionMessage
	Tools     []Tool
	MaxTokens int
}

// CompletionChunk is one streamed unit of model output. Exactly one
// terminal chunk (Done or Error set) ends every stream.
type CompletionChunk struct {
	Text         string
	Thinking     string
	ToolCall     *models.ToolCall
	Done         bool
	InputTokens  int
	OutputTokens int
	Error        error
}

// Tool is the generic contract every tool must satisfy. Domain-specific
// tool logic lives with collaborators; the runtime only requires this
// surface to wrap, gate, and execute a tool.
type Tool interface {
	// Name returns the tool id used for model function calling.
	Name() string

	// Description helps the model decide when to use the tool.
	Description() string

	// Schema returns the JSON Schema for the tool's input.
	Schema() json.RawMessage

	// Execute runs the tool. Errors are recovered by the wrapping pipeline,
	// never surfaced as fatal turn failures.
	Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error)
}

// RequestAwareTool is implemented by tools that need the per-turn request
// state, such as the delegation tool inspecting the agent stack. The state
// is passed explicitly; tools never reach for ambient globals.
type RequestAwareTool interface {
	Tool

	ExecuteWithRequest(ctx context.Context, rc *RequestContext, input json.RawMessage) (*models.ToolResult, error)
}

// ApprovalAwareTool is implemented by tools whose execution is risky enough
// to require an approval decision. The predicate may inspect the input
// (e.g. a shell tool approving read-only commands).
type ApprovalAwareTool interface {
	Tool

	// NeedsApproval reports whether this invocation requires approval.
	NeedsApproval(input json.RawMessage) bool
}

// EventSink receives typed state-change events. Sinks need not be
// synchronous; the runtime never blocks on emission.
type EventSink interface {
	Emit(event *models.RuntimeEvent)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Emit(*models.RuntimeEvent) {}
