package models

// RuntimeEventType identifies the typed state-change events the runtime
// emits to a UI event sink. The sink renders them however it likes; the
// runtime never waits on it.
type RuntimeEventType string

const (
	// EventToolInputAvailable indicates a tool call's input is complete.
	EventToolInputAvailable RuntimeEventType = "tool-input-available"

	// EventToolOutputAvailable indicates a tool produced output.
	EventToolOutputAvailable RuntimeEventType = "tool-output-available"

	// EventToolOutputError indicates a tool execution failed.
	EventToolOutputError RuntimeEventType = "tool-output-error"

	// EventToolOutputDenied indicates a tool call was denied by approval.
	EventToolOutputDenied RuntimeEventType = "tool-output-denied"

	// EventToolApprovalRequested indicates a tool call is awaiting approval.
	EventToolApprovalRequested RuntimeEventType = "tool-approval-requested"

	// EventToolApprovalResponded indicates an approval decision arrived.
	EventToolApprovalResponded RuntimeEventType = "tool-approval-responded"

	// EventStatusChange indicates a coarse runtime status transition
	// (supervision escalation, compaction, delegation boundaries).
	EventStatusChange RuntimeEventType = "status-change"

	// EventDelegationStarted indicates a sub-agent turn began.
	EventDelegationStarted RuntimeEventType = "delegation-started"

	// EventDelegationFinished indicates a sub-agent turn terminated.
	EventDelegationFinished RuntimeEventType = "delegation-finished"
)

// RuntimeEvent is one typed state-change notification.
type RuntimeEvent struct {
	Type       RuntimeEventType `json:"type"`
	Message    string           `json:"message,omitempty"`
	ToolName   string           `json:"tool_name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	AgentPath  []string         `json:"agent_path,omitempty"`
	Meta       map[string]any   `json:"meta,omitempty"`
}

// NewToolEvent creates a tool lifecycle event.
func NewToolEvent(eventType RuntimeEventType, toolName, toolCallID string) *RuntimeEvent {
	return &RuntimeEvent{
		Type:       eventType,
		ToolName:   toolName,
		ToolCallID: toolCallID,
	}
}

// WithMessage adds a human-readable description.
func (e *RuntimeEvent) WithMessage(msg string) *RuntimeEvent {
	e.Message = msg
	return e
}

// WithAgentPath records the delegation ancestry the event occurred under.
func (e *RuntimeEvent) WithAgentPath(path []string) *RuntimeEvent {
	e.AgentPath = append([]string(nil), path...)
	return e
}

// WithMeta attaches event-specific metadata.
func (e *RuntimeEvent) WithMeta(key string, value any) *RuntimeEvent {
	if e.Meta == nil {
		e.Meta = make(map[string]any)
	}
	e.Meta[key] = value
	return e
}
