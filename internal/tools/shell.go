package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"

	"github.com/haasonsaas/conductor/internal/supervision"
	"github.com/haasonsaas/conductor/pkg/models"
)

const maxShellOutputBytes = 100000

// ShellTool runs shell commands in the workspace. Read-only commands skip
// the approval gate; anything that could mutate state requires approval.
type ShellTool struct {
	workdir string
}

// NewShellTool creates a shell tool rooted at the workspace.
func NewShellTool(cfg Config) *ShellTool {
	workdir := cfg.Workspace
	if workdir == "" {
		workdir = "."
	}
	return &ShellTool{workdir: workdir}
}

func (t *ShellTool) Name() string {
	return "shell"
}

func (t *ShellTool) Description() string {
	return "Run a shell command in the workspace and return combined output."
}

func (t *ShellTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "Shell command to execute."}
		},
		"required": ["command"]
	}`)
}

// NeedsApproval exempts recognizably read-only commands.
func (t *ShellTool) NeedsApproval(input json.RawMessage) bool {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return true
	}
	return !supervision.IsReadOnlyCommand(in.Command)
}

func (t *ShellTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(in.Command) == "" {
		return toolError("command is required"), nil
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", in.Command)
	cmd.Dir = t.workdir

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	text := output.String()
	if len(text) > maxShellOutputBytes {
		text = text[:maxShellOutputBytes] + "\n... (output truncated)"
	}

	if err != nil {
		return nil, fmt.Errorf("%v\n%s", err, text)
	}
	return &models.ToolResult{Content: text}, nil
}
