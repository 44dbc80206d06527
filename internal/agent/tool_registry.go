package agent

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. An alias table is consulted before a lookup fails, so the model
// requesting a near-miss id (e.g. "read" for "read_file") is transparently
// routed to the canonical tool.
type ToolRegistry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	aliases map[string]string
	schemas map[string]*jsonschema.Schema
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:   make(map[string]Tool),
		aliases: make(map[string]string),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool under its name. A tool with the same name is
// replaced. Schema compilation failures are deferred to first validation.
func (r *ToolRegistry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	delete(r.schemas, tool.Name())
}

// Alias maps an alternate id to a canonical tool name. Aliases resolve at
// lookup time, so they may be registered before the tool itself.
func (r *ToolRegistry) Alias(alias, canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[alias] = canonical
}

// Resolve returns the tool for name, following one alias hop. The returned
// canonical name differs from name when an alias was applied.
func (r *ToolRegistry) Resolve(name string) (Tool, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tool, ok := r.tools[name]; ok {
		return tool, name, true
	}
	if canonical, ok := r.aliases[name]; ok {
		if tool, ok := r.tools[canonical]; ok {
			return tool, canonical, true
		}
	}
	return nil, "", false
}

// Names returns all registered canonical tool names, sorted.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Tools returns all registered tools for passing to providers.
func (r *ToolRegistry) Tools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		tools = append(tools, t)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Suggest returns registered names that look close to the unknown id, for a
// user-facing suggestion instead of a hard failure.
func (r *ToolRegistry) Suggest(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lower := strings.ToLower(name)
	var matches []string
	for candidate := range r.tools {
		cl := strings.ToLower(candidate)
		if strings.Contains(cl, lower) || strings.Contains(lower, cl) {
			matches = append(matches, candidate)
		}
	}
	sort.Strings(matches)
	return matches
}

// ValidateInput validates raw input against the tool's JSON schema. Tools
// returning an empty schema skip validation.
func (r *ToolRegistry) ValidateInput(tool Tool, input json.RawMessage) error {
	raw := tool.Schema()
	if len(raw) == 0 {
		return nil
	}

	schema, err := r.compiledSchema(tool.Name(), raw)
	if err != nil {
		return fmt.Errorf("compile schema for %s: %w", tool.Name(), err)
	}

	var decoded any
	if len(input) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("tool input is not valid JSON: %w", err)
	}

	if err := schema.Validate(decoded); err != nil {
		return fmt.Errorf("tool input invalid: %w", err)
	}
	return nil
}

func (r *ToolRegistry) compiledSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	r.mu.RLock()
	compiled, ok := r.schemas[name]
	r.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.schemas[name] = compiled
	r.mu.Unlock()
	return compiled, nil
}
