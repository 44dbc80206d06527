package agent

import (
	"sort"
	"sync"
)

// DefaultMaxDepth bounds delegation chains when a definition doesn't set
// its own limit.
const DefaultMaxDepth = 4

// AgentDefinition describes a registered agent that can receive delegated
// sub-tasks.
type AgentDefinition struct {
	// Name is the unique identifier used by delegation calls.
	Name string `json:"name" yaml:"name"`

	// Description explains what this agent specializes in. The master agent
	// sees it when deciding where to delegate.
	Description string `json:"description,omitempty" yaml:"description"`

	// SystemPrompt is the agent's base system prompt.
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt"`

	// Model selects the LLM model (falls back to the runtime default).
	Model string `json:"model,omitempty" yaml:"model"`

	// MaxDepth limits the delegation stack while this agent is on top.
	// Zero means DefaultMaxDepth.
	MaxDepth int `json:"max_depth,omitempty" yaml:"max_depth"`

	// AllowedSubAgents, when non-empty, restricts which agents this one may
	// delegate to. Empty means unrestricted.
	AllowedSubAgents []string `json:"allowed_sub_agents,omitempty" yaml:"allowed_sub_agents"`
}

// Frame builds an AgentFrame for this definition pushed under parentPath.
func (d *AgentDefinition) Frame(kind FrameKind, agentID string, parentPath []string) *AgentFrame {
	maxDepth := d.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	var allowed map[string]struct{}
	if len(d.AllowedSubAgents) > 0 {
		allowed = make(map[string]struct{}, len(d.AllowedSubAgents))
		for _, name := range d.AllowedSubAgents {
			allowed[name] = struct{}{}
		}
	}
	path := make([]string, 0, len(parentPath)+1)
	path = append(path, parentPath...)
	path = append(path, d.Name)
	return &AgentFrame{
		Kind:             kind,
		Name:             d.Name,
		AgentID:          agentID,
		Path:             path,
		Model:            d.Model,
		MaxDepth:         maxDepth,
		AllowedSubAgents: allowed,
	}
}

// AgentRegistry is the typed registry of agents available for delegation.
type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[string]*AgentDefinition
}

// NewAgentRegistry creates an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{agents: make(map[string]*AgentDefinition)}
}

// Register adds or replaces an agent definition.
func (r *AgentRegistry) Register(def *AgentDefinition) {
	if def == nil || def.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[def.Name] = def
}

// Get returns the definition for name.
func (r *AgentRegistry) Get(name string) (*AgentDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.agents[name]
	return def, ok
}

// Names returns all registered agent names, sorted.
func (r *AgentRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
