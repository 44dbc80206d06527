package agent

import (
	"errors"
	"fmt"
)

// Common sentinel errors for runtime operations.
var (
	// ErrToolTimeout indicates a tool execution exceeded its deadline.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolNotFound indicates a requested tool doesn't exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrNoProvider indicates no LLM provider is configured.
	ErrNoProvider = errors.New("no provider configured")

	// ErrTurnAborted indicates the enclosing request was cancelled.
	ErrTurnAborted = errors.New("turn aborted")
)

// RejectCode is a typed structural rejection that a UI or test harness can
// pattern-match without parsing prose. Structural rejections are results,
// never errors: the calling model is expected to react to them.
type RejectCode string

const (
	// RejectRecursion means the target agent is already an ancestor of the caller.
	RejectRecursion RejectCode = "RECURSION"

	// RejectMaxDepth means the delegation stack is at its depth limit.
	RejectMaxDepth RejectCode = "MAX_DEPTH"

	// RejectNotAllowed means the current frame restricts delegation and the
	// target is not in its allowed set.
	RejectNotAllowed RejectCode = "NOT_ALLOWED"

	// RejectNotFound means no registered agent matches the target name.
	RejectNotFound RejectCode = "NOT_FOUND"

	// RejectTimeout tags a sub-turn that hit its deadline distinctly from
	// other execution failures.
	RejectTimeout RejectCode = "TIMEOUT"
)

// DelegateResult is the typed outcome of a delegation attempt. Structural
// rejections set Code and leave Err nil; execution failures after a
// successful delegation set Err, with Code additionally set to
// RejectTimeout when the sub-turn ran out of time.
type DelegateResult struct {
	OK     bool       `json:"ok"`
	Code   RejectCode `json:"code,omitempty"`
	Agent  string     `json:"agent,omitempty"`
	Output string     `json:"output,omitempty"`
	Err    error      `json:"-"`
}

func rejected(code RejectCode, agent string) DelegateResult {
	return DelegateResult{OK: false, Code: code, Agent: agent}
}

// ToolError is a structured execution failure carrying the call identity so
// the error enhancer can key its failure counters.
type ToolError struct {
	ToolName   string
	ToolCallID string
	Cause      error
	TimedOut   bool
}

func (e *ToolError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s: %v", e.ToolName, ErrToolTimeout)
	}
	return fmt.Sprintf("%s: %v", e.ToolName, e.Cause)
}

func (e *ToolError) Unwrap() error {
	if e.TimedOut {
		return ErrToolTimeout
	}
	return e.Cause
}
