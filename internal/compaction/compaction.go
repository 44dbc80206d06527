// Package compaction shrinks conversation history to fit model context
// windows. It combines a CJK-aware token heuristic, a trigger threshold
// against the model's window, and tiered truncation of older messages while
// the most recent exchanges stay verbatim.
package compaction

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/pkg/models"
)

const (
	// CJKTokensPerChar is the per-character token cost for CJK text, which
	// tokenizes far denser than Latin script.
	CJKTokensPerChar = 1.5

	// DefaultTokensPerChar is the per-character token cost for non-CJK text
	// (roughly 4 characters per token).
	DefaultTokensPerChar = 0.25

	// MessageOverheadTokens accounts for role and framing tokens per message.
	MessageOverheadTokens = 4

	// DefaultTriggerRatio is the fraction of the context window at which
	// compaction activates.
	DefaultTriggerRatio = 0.7

	// DefaultKeepRecentPairs is how many trailing user/assistant exchanges
	// stay untouched.
	DefaultKeepRecentPairs = 5

	// DefaultMaxResultTokens bounds a summarize-tier tool result after
	// truncation.
	DefaultMaxResultTokens = 256

	// DefaultContextWindow is the fallback window for unrecognized models.
	DefaultContextWindow = 100000
)

// modelWindows maps model-name substrings to context window sizes. First
// match wins; lookup is case-insensitive.
var modelWindows = []struct {
	substring string
	window    int
}{
	{"claude", 200000},
	{"gpt-4o", 128000},
	{"gpt-4-turbo", 128000},
	{"gpt-4", 8192},
	{"gpt-3.5", 16385},
	{"o1", 200000},
	{"o3", 200000},
}

// ContextWindowFor resolves the context window for a model name, falling
// back to DefaultContextWindow.
func ContextWindowFor(model string) int {
	lower := strings.ToLower(model)
	for _, entry := range modelWindows {
		if strings.Contains(lower, entry.substring) {
			return entry.window
		}
	}
	return DefaultContextWindow
}

// isCJK reports whether r belongs to a CJK script block.
func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF: // CJK Unified Ideographs
		return true
	case r >= 0x3400 && r <= 0x4DBF: // CJK Extension A
		return true
	case r >= 0x3040 && r <= 0x30FF: // Hiragana, Katakana
		return true
	case r >= 0xAC00 && r <= 0xD7AF: // Hangul Syllables
		return true
	case r >= 0x3000 && r <= 0x303F: // CJK punctuation
		return true
	case r >= 0xFF00 && r <= 0xFFEF: // Fullwidth forms
		return true
	}
	return false
}

// EstimateTokens estimates the token count of text. CJK characters weigh
// CJKTokensPerChar; everything else weighs DefaultTokensPerChar.
func EstimateTokens(text string) int {
	var total float64
	for _, r := range text {
		if isCJK(r) {
			total += CJKTokensPerChar
		} else {
			total += DefaultTokensPerChar
		}
	}
	return int(total + 0.5)
}

// EstimateMessageTokens estimates one message including tool payloads and
// per-message overhead.
func EstimateMessageTokens(msg models.Message) int {
	tokens := MessageOverheadTokens + EstimateTokens(msg.Content)
	for _, call := range msg.ToolCalls {
		tokens += EstimateTokens(call.Name) + EstimateTokens(string(call.Input))
	}
	for _, result := range msg.ToolResults {
		tokens += EstimateTokens(result.Content)
	}
	return tokens
}

// EstimateConversationTokens sums estimates across all messages.
func EstimateConversationTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateMessageTokens(msg)
	}
	return total
}

// ToolImportance controls how a tool's results are treated when the history
// they belong to ages out of the verbatim tail.
type ToolImportance string

const (
	// ImportanceKeep preserves results verbatim.
	ImportanceKeep ToolImportance = "keep"

	// ImportanceSummarize truncates results to a token budget.
	ImportanceSummarize ToolImportance = "summarize"

	// ImportanceDrop replaces results with a one-line marker.
	ImportanceDrop ToolImportance = "drop"
)

// DefaultToolImportance classifies the built-in tools. Unlisted tools
// default to ImportanceSummarize.
func DefaultToolImportance() map[string]ToolImportance {
	return map[string]ToolImportance{
		"plan":       ImportanceKeep,
		"delegate":   ImportanceKeep,
		"write_file": ImportanceKeep,
		"read_file":  ImportanceSummarize,
		"search":     ImportanceSummarize,
		"fetch_url":  ImportanceSummarize,
		"shell":      ImportanceDrop,
		"exec":       ImportanceDrop,
		"list_dir":   ImportanceDrop,
	}
}

// Config tunes the compressor. Zero values get defaults.
type Config struct {
	// ContextWindow overrides model-based window lookup when positive.
	ContextWindow int

	// TriggerRatio is the window fraction above which compaction runs.
	TriggerRatio float64

	// KeepRecentPairs is how many trailing user exchanges stay verbatim.
	KeepRecentPairs int

	// MaxResultTokens bounds summarize-tier tool results.
	MaxResultTokens int

	// ToolImportance overrides the per-tool tier table.
	ToolImportance map[string]ToolImportance

	Logger *slog.Logger
}

// Compactor is the context compressor. It is stateless between calls and
// safe for concurrent use.
type Compactor struct {
	cfg Config
}

// New creates a compressor with defaults filled in.
func New(cfg Config) *Compactor {
	if cfg.TriggerRatio <= 0 || cfg.TriggerRatio > 1 {
		cfg.TriggerRatio = DefaultTriggerRatio
	}
	if cfg.KeepRecentPairs <= 0 {
		cfg.KeepRecentPairs = DefaultKeepRecentPairs
	}
	if cfg.MaxResultTokens <= 0 {
		cfg.MaxResultTokens = DefaultMaxResultTokens
	}
	if cfg.ToolImportance == nil {
		cfg.ToolImportance = DefaultToolImportance()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Compactor{cfg: cfg}
}

// Compact shrinks messages when they exceed the trigger threshold for the
// model's context window. It returns the (possibly new) slice and whether
// anything changed. Compaction is idempotent: summary messages it produced
// earlier are opaque leaves and never reprocessed.
func (c *Compactor) Compact(messages []models.Message, model string) ([]models.Message, bool) {
	window := c.cfg.ContextWindow
	if window <= 0 {
		window = ContextWindowFor(model)
	}
	trigger := int(float64(window) * c.cfg.TriggerRatio)

	total := EstimateConversationTokens(messages)
	if total <= trigger {
		return messages, false
	}

	split := c.tailStart(messages)
	if split <= 0 {
		// Everything is within the verbatim tail; nothing to collapse.
		return messages, false
	}

	head := messages[:split]
	tail := messages[split:]

	collapsed, changed := c.collapseHead(head)
	if !changed {
		return messages, false
	}

	out := make([]models.Message, 0, len(collapsed)+len(tail))
	out = append(out, collapsed...)
	out = append(out, tail...)

	c.cfg.Logger.Debug("history compacted",
		"model", model,
		"window", window,
		"before_tokens", total,
		"after_tokens", EstimateConversationTokens(out))
	return out, true
}

// tailStart returns the index where the verbatim tail begins: the start of
// the KeepRecentPairs-th most recent user exchange.
func (c *Compactor) tailStart(messages []models.Message) int {
	pairs := 0
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser && !messages[i].Summary {
			pairs++
			if pairs >= c.cfg.KeepRecentPairs {
				return i
			}
		}
	}
	return 0
}

// collapseHead rewrites the aged-out prefix. System and summary messages
// pass through untouched; the rest collapse into a single summary message
// built from tier-filtered content.
func (c *Compactor) collapseHead(head []models.Message) ([]models.Message, bool) {
	// Results arrive on tool messages separate from the assistant message
	// that carried the calls, so tool names resolve through an index.
	callNames := make(map[string]string)
	for _, msg := range head {
		for _, call := range msg.ToolCalls {
			callNames[call.ID] = call.Name
		}
	}

	var kept []models.Message
	var body strings.Builder
	collapsedAny := false
	var sessionID string

	for _, msg := range head {
		if msg.Role == models.RoleSystem || msg.Summary {
			kept = append(kept, msg)
			continue
		}
		if sessionID == "" {
			sessionID = msg.SessionID
		}
		collapsedAny = true
		c.renderMessage(&body, msg, callNames)
	}

	if !collapsedAny {
		return head, false
	}

	summary := models.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      models.RoleUser,
		Content: "Earlier conversation (compacted):\n\n" +
			strings.TrimRight(body.String(), "\n"),
		Summary:   true,
		CreatedAt: time.Now(),
	}
	return append(kept, summary), true
}

// renderMessage appends one message's tier-filtered rendering.
func (c *Compactor) renderMessage(body *strings.Builder, msg models.Message, callNames map[string]string) {
	if msg.Content != "" {
		fmt.Fprintf(body, "[%s] %s\n", msg.Role, c.truncate(msg.Content, c.cfg.MaxResultTokens))
	}
	for _, call := range msg.ToolCalls {
		fmt.Fprintf(body, "[tool-call] %s %s\n", call.Name, c.truncate(string(call.Input), 64))
	}
	for _, result := range msg.ToolResults {
		c.renderResult(body, result, callNames)
	}
}

func (c *Compactor) renderResult(body *strings.Builder, result models.ToolResult, callNames map[string]string) {
	toolName := callNames[result.ToolCallID]
	tier, ok := c.cfg.ToolImportance[toolName]
	if !ok {
		tier = ImportanceSummarize
	}

	switch tier {
	case ImportanceKeep:
		fmt.Fprintf(body, "[tool-result %s] %s\n", toolName, result.Content)
	case ImportanceDrop:
		fmt.Fprintf(body, "[tool-result %s] (output dropped, ~%d tokens)\n",
			toolName, EstimateTokens(result.Content))
	default:
		fmt.Fprintf(body, "[tool-result %s] %s\n",
			toolName, c.truncate(result.Content, c.cfg.MaxResultTokens))
	}
}

// truncate keeps the head and tail of text within a token budget, marking
// the elision. Short text passes through unchanged.
func (c *Compactor) truncate(text string, budgetTokens int) string {
	if EstimateTokens(text) <= budgetTokens {
		return text
	}

	// Convert the budget to a character allowance at the non-CJK rate;
	// CJK-heavy text truncates harder, which errs on the safe side.
	allowance := int(float64(budgetTokens) / DefaultTokensPerChar)
	if allowance < 8 {
		allowance = 8
	}

	runes := []rune(text)
	if len(runes) <= allowance {
		return text
	}

	headLen := allowance * 2 / 3
	tailLen := allowance - headLen
	elided := len(runes) - headLen - tailLen
	return fmt.Sprintf("%s\n... (%d characters elided) ...\n%s",
		string(runes[:headLen]), elided, string(runes[len(runes)-tailLen:]))
}
