package agent

import (
	"time"

	"github.com/google/uuid"
)

// RequestContext carries per-turn state explicitly through every call site.
// It is created at turn start, discarded at turn end, and has exactly one
// writer (the turn handler). Cancellation travels separately as the
// context.Context threaded into every suspension point.
type RequestContext struct {
	SessionID   string
	WorkspaceID string
	ProjectID   string

	// Stack is the per-request delegation call stack.
	Stack *Stack

	// AutoApproveTools short-circuits tool approval predicates for this turn.
	AutoApproveTools bool

	// SupervisionMode routes risky calls through the supervision gate
	// instead of prompting the user directly.
	SupervisionMode bool

	StartedAt time.Time
}

// NewRequestContext creates the state for one inbound turn.
func NewRequestContext(sessionID string) *RequestContext {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &RequestContext{
		SessionID: sessionID,
		Stack:     NewStack(),
		StartedAt: time.Now(),
	}
}
