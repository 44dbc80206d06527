package models

import (
	"encoding/json"
	"fmt"
)

// ToolCallState tracks a tool call through its lifecycle. Transitions are
// strictly forward; the only branch is the approval detour between input
// availability and output.
type ToolCallState string

const (
	ToolCallInputStreaming    ToolCallState = "input-streaming"
	ToolCallInputAvailable    ToolCallState = "input-available"
	ToolCallApprovalRequested ToolCallState = "approval-requested"
	ToolCallApprovalResponded ToolCallState = "approval-responded"
	ToolCallOutputStreaming   ToolCallState = "output-streaming"
	ToolCallOutputAvailable   ToolCallState = "output-available"
	ToolCallOutputError       ToolCallState = "output-error"
	ToolCallOutputDenied      ToolCallState = "output-denied"
)

// toolCallTransitions enumerates the legal forward transitions.
var toolCallTransitions = map[ToolCallState][]ToolCallState{
	ToolCallInputStreaming:    {ToolCallInputAvailable},
	ToolCallInputAvailable:    {ToolCallApprovalRequested, ToolCallOutputStreaming, ToolCallOutputAvailable, ToolCallOutputError},
	ToolCallApprovalRequested: {ToolCallApprovalResponded},
	ToolCallApprovalResponded: {ToolCallOutputStreaming, ToolCallOutputAvailable, ToolCallOutputError, ToolCallOutputDenied},
	ToolCallOutputStreaming:   {ToolCallOutputAvailable, ToolCallOutputError},
}

// Terminal reports whether the state admits no further transitions.
func (s ToolCallState) Terminal() bool {
	return len(toolCallTransitions[s]) == 0
}

// CanTransition reports whether next is a legal successor of s.
func (s ToolCallState) CanTransition(next ToolCallState) bool {
	for _, allowed := range toolCallTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ToolCallRecord tracks one discrete tool invocation from input to output
// or denial. Records live for the duration of the enclosing turn.
type ToolCallRecord struct {
	ToolCallID string          `json:"tool_call_id"`
	ToolID     string          `json:"tool_id"`
	Input      json.RawMessage `json:"input,omitempty"`
	State      ToolCallState   `json:"state"`
}

// NewToolCallRecord creates a record in the input-streaming state.
func NewToolCallRecord(toolCallID, toolID string) *ToolCallRecord {
	return &ToolCallRecord{
		ToolCallID: toolCallID,
		ToolID:     toolID,
		State:      ToolCallInputStreaming,
	}
}

// Advance moves the record to the next state, rejecting backward or
// otherwise illegal transitions.
func (r *ToolCallRecord) Advance(next ToolCallState) error {
	if !r.State.CanTransition(next) {
		return fmt.Errorf("tool call %s: illegal transition %s -> %s", r.ToolCallID, r.State, next)
	}
	r.State = next
	return nil
}

// ApprovalGate is the unresolved decision point blocking a risky tool call.
// At most one unresolved gate exists per tool call, and resolution is
// terminal: later resolutions are ignored.
type ApprovalGate struct {
	ApprovalID string `json:"approval_id"`
	ToolCallID string `json:"tool_call_id"`
	approved   *bool
}

// NewApprovalGate creates an unresolved gate for the given tool call.
func NewApprovalGate(approvalID, toolCallID string) *ApprovalGate {
	return &ApprovalGate{ApprovalID: approvalID, ToolCallID: toolCallID}
}

// Resolve records the decision. It returns false if the gate was already
// resolved, in which case the original decision stands.
func (g *ApprovalGate) Resolve(approved bool) bool {
	if g.approved != nil {
		return false
	}
	g.approved = &approved
	return true
}

// Resolved reports whether a decision has been recorded.
func (g *ApprovalGate) Resolved() bool { return g.approved != nil }

// Approved reports the decision; valid only after Resolved returns true.
func (g *ApprovalGate) Approved() bool { return g.approved != nil && *g.approved }
