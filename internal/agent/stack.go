package agent

import "sync"

// FrameKind distinguishes the root frame from delegated frames.
type FrameKind string

const (
	FrameMaster FrameKind = "master"
	FrameSub    FrameKind = "sub"
)

// AgentFrame is one entry in the delegation call stack. Frames are immutable
// once pushed and owned exclusively by the stack for the lifetime of one
// delegated call.
//
// Invariant: len(Path)-1 equals the recursion depth at which the frame sits.
type AgentFrame struct {
	Kind    FrameKind
	Name    string
	AgentID string

	// Path is the ordered ancestor chain including this frame's own name.
	Path []string

	Model    string
	MaxDepth int

	// AllowedSubAgents, when non-nil, restricts which agents this frame may
	// delegate to. A nil map means no restriction.
	AllowedSubAgents map[string]struct{}
}

// Depth returns the frame's recursion depth (0 for the master frame).
func (f *AgentFrame) Depth() int { return len(f.Path) - 1 }

// MayDelegate reports whether this frame's allowed-set admits name.
func (f *AgentFrame) MayDelegate(name string) bool {
	if f.AllowedSubAgents == nil {
		return true
	}
	_, ok := f.AllowedSubAgents[name]
	return ok
}

// Stack maintains the per-request chain of agent frames. One turn handler
// owns it; the mutex only guards against observers (event emission, tests)
// reading concurrently with the owner.
type Stack struct {
	mu     sync.RWMutex
	frames []*AgentFrame
}

// NewStack returns an empty stack.
func NewStack() *Stack {
	return &Stack{}
}

// Push appends a frame.
func (s *Stack) Push(frame *AgentFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
}

// Pop removes and returns the top frame, or nil if the stack is empty.
func (s *Stack) Pop() *AgentFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	return top
}

// Current returns the top frame, or nil if the stack is empty.
func (s *Stack) Current() *AgentFrame {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Len returns the number of frames on the stack.
func (s *Stack) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.frames)
}

// Contains reports whether name appears anywhere in the active stack. Used
// for cycle prevention: re-entering an ancestor agent is forbidden.
func (s *Stack) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, f := range s.frames {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Path returns the current ancestry path (top frame's path), or nil for an
// empty stack.
func (s *Stack) Path() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.frames) == 0 {
		return nil
	}
	top := s.frames[len(s.frames)-1]
	return append([]string(nil), top.Path...)
}
