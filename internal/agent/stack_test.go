package agent

import (
	"testing"
)

func masterFrame() *AgentFrame {
	return &AgentFrame{
		Kind:     FrameMaster,
		Name:     "master",
		AgentID:  "master-1",
		Path:     []string{"master"},
		MaxDepth: DefaultMaxDepth,
	}
}

func TestStackPushPop(t *testing.T) {
	s := NewStack()
	if s.Len() != 0 {
		t.Fatalf("expected empty stack, got len %d", s.Len())
	}
	if s.Current() != nil {
		t.Fatal("expected nil current frame on empty stack")
	}
	if s.Pop() != nil {
		t.Fatal("expected nil pop on empty stack")
	}

	master := masterFrame()
	s.Push(master)
	sub := &AgentFrame{
		Kind: FrameSub,
		Name: "researcher",
		Path: append(append([]string{}, master.Path...), "researcher"),
	}
	s.Push(sub)

	if s.Len() != 2 {
		t.Fatalf("expected len 2, got %d", s.Len())
	}
	if got := s.Current(); got != sub {
		t.Fatalf("expected current frame %q, got %v", sub.Name, got)
	}
	if got := s.Pop(); got != sub {
		t.Fatalf("expected popped frame %q, got %v", sub.Name, got)
	}
	if got := s.Current(); got != master {
		t.Fatalf("expected current frame %q after pop, got %v", master.Name, got)
	}
}

func TestStackContains(t *testing.T) {
	s := NewStack()
	s.Push(masterFrame())
	s.Push(&AgentFrame{Kind: FrameSub, Name: "researcher", Path: []string{"master", "researcher"}})

	if !s.Contains("researcher") {
		t.Error("expected stack to contain researcher")
	}
	if !s.Contains("master") {
		t.Error("expected stack to contain master")
	}
	if s.Contains("coder") {
		t.Error("did not expect stack to contain coder")
	}
}

func TestStackPathIsCopy(t *testing.T) {
	s := NewStack()
	s.Push(masterFrame())

	path := s.Path()
	if len(path) != 1 || path[0] != "master" {
		t.Fatalf("unexpected path %v", path)
	}
	path[0] = "mutated"
	if got := s.Path(); got[0] != "master" {
		t.Errorf("stack path mutated through returned slice: %v", got)
	}
}

func TestFrameDepth(t *testing.T) {
	tests := []struct {
		name string
		path []string
		want int
	}{
		{"master", []string{"master"}, 0},
		{"one sub", []string{"master", "researcher"}, 1},
		{"nested", []string{"master", "researcher", "coder"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &AgentFrame{Path: tt.path}
			if got := f.Depth(); got != tt.want {
				t.Errorf("Depth() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestFrameMayDelegate(t *testing.T) {
	tests := []struct {
		name    string
		allowed map[string]struct{}
		target  string
		want    bool
	}{
		{"nil map allows everything", nil, "anyone", true},
		{"listed agent allowed", map[string]struct{}{"coder": {}}, "coder", true},
		{"unlisted agent blocked", map[string]struct{}{"coder": {}}, "researcher", false},
		{"empty map blocks everything", map[string]struct{}{}, "coder", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &AgentFrame{AllowedSubAgents: tt.allowed}
			if got := f.MayDelegate(tt.target); got != tt.want {
				t.Errorf("MayDelegate(%q) = %v, want %v", tt.target, got, tt.want)
			}
		})
	}
}
