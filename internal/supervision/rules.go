package supervision

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Tier 1 is a synchronous rule table with no I/O. It approves the obviously
// safe cases so the model and human tiers only ever see genuinely risky
// calls.

// shellMetachars matches metacharacters that let a command chain, redirect,
// or substitute, any of which can turn a read-only command into a write.
var shellMetachars = regexp.MustCompile("[;&|`$<>]")

// readOnlyCommands are command names whose plain invocations don't mutate
// state.
var readOnlyCommands = map[string]struct{}{
	"ls": {}, "cat": {}, "head": {}, "tail": {}, "grep": {}, "rg": {},
	"find": {}, "wc": {}, "pwd": {}, "stat": {}, "file": {}, "which": {},
	"du": {}, "df": {}, "ps": {}, "env": {}, "date": {}, "uname": {},
	"whoami": {}, "echo": {}, "sort": {}, "uniq": {}, "diff": {},
}

// RuleSet is the static tier-1 decision table.
type RuleSet struct {
	// ReadOnlyTools auto-approve unconditionally.
	ReadOnlyTools map[string]struct{}

	// ShellTools are tools whose input carries a shell command; they
	// approve only when the command passes the read-only predicate.
	ShellTools map[string]struct{}

	// TrustedTools (delegation, planning) approve unconditionally: their
	// effects are bounded by the runtime's own limits.
	TrustedTools map[string]struct{}
}

// DefaultRuleSet covers the built-in tool vocabulary.
func DefaultRuleSet() *RuleSet {
	return &RuleSet{
		ReadOnlyTools: setOf("read_file", "list_dir", "glob", "search", "fetch_url", "get_time"),
		ShellTools:    setOf("shell", "exec", "bash"),
		TrustedTools:  setOf("delegate", "plan"),
	}
}

func setOf(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Evaluate applies the rule table. It returns (approve, matched); when no
// rule matches, the call falls through to the next tier.
func (r *RuleSet) Evaluate(toolName string, input json.RawMessage) (bool, bool) {
	if _, ok := r.TrustedTools[toolName]; ok {
		return true, true
	}
	if _, ok := r.ReadOnlyTools[toolName]; ok {
		return true, true
	}
	if _, ok := r.ShellTools[toolName]; ok {
		if IsReadOnlyCommand(commandFromInput(input)) {
			return true, true
		}
		return false, false
	}
	return false, false
}

// commandFromInput extracts the command string from a shell tool's input.
func commandFromInput(input json.RawMessage) string {
	var params struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &params); err != nil {
		return ""
	}
	return params.Command
}

// IsReadOnlyCommand reports whether a shell command provably doesn't mutate
// state: a known read-only binary, no chaining or redirection, no
// substitution. Anything it can't prove safe is not approved here.
func IsReadOnlyCommand(command string) bool {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return false
	}
	if strings.Contains(trimmed, "\x00") {
		return false
	}
	if shellMetachars.MatchString(trimmed) {
		return false
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return false
	}
	name := fields[0]
	// Strip a leading path so /bin/ls still matches.
	if idx := strings.LastIndex(name, "/"); idx >= 0 {
		name = name[idx+1:]
	}
	_, ok := readOnlyCommands[name]
	return ok
}
