package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/haasonsaas/conductor/internal/approval"
	"github.com/haasonsaas/conductor/pkg/models"
)

// consoleSink renders runtime events on the terminal and doubles as the
// human approval surface: approval-requested events prompt on stdin and the
// answer lands in the pending-approval registry. The prompt runs before the
// pipeline starts waiting, so the decision arrives through the registry's
// early-decision cache.
type consoleSink struct {
	mu        sync.Mutex
	in        *bufio.Reader
	out       io.Writer
	approvals *approval.Registry
}

func newConsoleSink(in io.Reader, out io.Writer, approvals *approval.Registry) *consoleSink {
	return &consoleSink{
		in:        bufio.NewReader(in),
		out:       out,
		approvals: approvals,
	}
}

// Input returns the shared line reader. Every terminal read must go
// through this one buffer; a second reader over the same descriptor could
// swallow bytes the other expects.
func (s *consoleSink) Input() *bufio.Reader {
	return s.in
}

func (s *consoleSink) Emit(event *models.RuntimeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch event.Type {
	case models.EventToolInputAvailable:
		fmt.Fprintf(s.out, "⚙ %s\n", event.ToolName)

	case models.EventToolApprovalRequested:
		s.promptApproval(event)

	case models.EventStatusChange:
		// Supervision escalations surface as status changes carrying the
		// tool call under review.
		if event.ToolCallID != "" {
			s.promptApproval(event)
		}

	case models.EventToolOutputError:
		fmt.Fprintf(s.out, "✗ %s: %s\n", event.ToolName, event.Message)

	case models.EventToolOutputDenied:
		fmt.Fprintf(s.out, "⊘ %s: %s\n", event.ToolName, event.Message)

	case models.EventDelegationStarted:
		path := strings.Join(event.AgentPath, " → ")
		fmt.Fprintf(s.out, "↳ delegating [%s]\n", path)

	case models.EventDelegationFinished:
		fmt.Fprintf(s.out, "↲ delegation finished\n")
	}
}

func (s *consoleSink) promptApproval(event *models.RuntimeEvent) {
	fmt.Fprintf(s.out, "tool %q requests approval. Allow? [y/N]: ", event.ToolName)

	line, err := s.in.ReadString('\n')
	status := approval.StatusDenied
	if err == nil {
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "y" || answer == "yes" {
			status = approval.StatusApproved
		}
	}

	if err := s.approvals.Resolve(event.ToolCallID, status, nil); err != nil {
		fmt.Fprintf(s.out, "approval not recorded: %v\n", err)
	}
}
