package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

// fakeTool is a minimal Tool for registry and pipeline tests.
type fakeTool struct {
	name      string
	schema    string
	execute   func(ctx context.Context, input json.RawMessage) (*models.ToolResult, error)
	needsAppr bool
}

func (f *fakeTool) Name() string        { return f.name }
func (f *fakeTool) Description() string { return "fake tool for tests" }

func (f *fakeTool) Schema() json.RawMessage {
	return json.RawMessage(f.schema)
}

func (f *fakeTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	if f.execute != nil {
		return f.execute(ctx, input)
	}
	return &models.ToolResult{Content: "ok"}, nil
}

// approvalFakeTool additionally opts into approval checks.
type approvalFakeTool struct {
	fakeTool
}

func (f *approvalFakeTool) NeedsApproval(json.RawMessage) bool { return f.needsAppr }

func TestRegistryResolve(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&fakeTool{name: "read_file"})
	r.Register(&fakeTool{name: "shell"})
	r.Alias("bash", "shell")
	r.Alias("cat", "read_file")

	tests := []struct {
		name      string
		lookup    string
		wantName  string
		wantFound bool
	}{
		{"canonical name", "shell", "shell", true},
		{"alias resolves", "bash", "shell", true},
		{"second alias", "cat", "read_file", true},
		{"unknown tool", "browse", "", false},
		{"alias to missing canonical", "dangling", "", false},
	}

	r.Alias("dangling", "nonexistent")

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tool, canonical, ok := r.Resolve(tt.lookup)
			if ok != tt.wantFound {
				t.Fatalf("Resolve(%q) found = %v, want %v", tt.lookup, ok, tt.wantFound)
			}
			if !ok {
				return
			}
			if canonical != tt.wantName || tool.Name() != tt.wantName {
				t.Errorf("Resolve(%q) = %q, want %q", tt.lookup, canonical, tt.wantName)
			}
		})
	}
}

func TestRegistryNamesSorted(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&fakeTool{name: "zeta"})
	r.Register(&fakeTool{name: "alpha"})
	r.Register(&fakeTool{name: "mid"})

	names := r.Names()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("Names() = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}
}

func TestRegistrySuggest(t *testing.T) {
	r := NewToolRegistry()
	r.Register(&fakeTool{name: "read_file"})
	r.Register(&fakeTool{name: "write_file"})
	r.Register(&fakeTool{name: "shell"})

	suggestions := r.Suggest("file")
	if len(suggestions) != 2 {
		t.Fatalf("Suggest(file) = %v, want two matches", suggestions)
	}
	if suggestions[0] != "read_file" || suggestions[1] != "write_file" {
		t.Errorf("Suggest(file) = %v", suggestions)
	}

	if got := r.Suggest("zzz"); len(got) != 0 {
		t.Errorf("Suggest(zzz) = %v, want none", got)
	}
}

func TestValidateInput(t *testing.T) {
	schema := `{
		"type": "object",
		"properties": {
			"path": {"type": "string"}
		},
		"required": ["path"],
		"additionalProperties": false
	}`

	tests := []struct {
		name    string
		schema  string
		input   string
		wantErr bool
	}{
		{"valid input", schema, `{"path": "a.txt"}`, false},
		{"missing required", schema, `{}`, true},
		{"wrong type", schema, `{"path": 42}`, true},
		{"extra property", schema, `{"path": "a.txt", "junk": true}`, true},
		{"malformed json", schema, `{"path":`, true},
		{"empty schema skips validation", "", `{"anything": "goes"}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewToolRegistry()
			tool := &fakeTool{name: "probe", schema: tt.schema}
			r.Register(tool)

			err := r.ValidateInput(tool, json.RawMessage(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateInput(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
