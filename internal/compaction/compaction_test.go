package compaction

import (
	"fmt"
	"strings"
	"testing"

	"github.com/haasonsaas/conductor/pkg/models"
)

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"ascii four chars per token", "abcdefgh", 2},
		{"cjk heavier than ascii", "你好世界", 6},
		{"hiragana", "こんにちは", 8},
		{"hangul", "안녕하세요", 8},
		{"mixed", "hi 你好", 4}, // 3 ascii * 0.25 + 2 CJK * 1.5, rounded
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EstimateTokens(tt.text); got != tt.want {
				t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
			}
		})
	}
}

func TestCJKDenserThanLatin(t *testing.T) {
	latin := strings.Repeat("a", 100)
	cjk := strings.Repeat("字", 100)
	if EstimateTokens(cjk) <= EstimateTokens(latin) {
		t.Errorf("CJK estimate (%d) should exceed Latin estimate (%d) at equal length",
			EstimateTokens(cjk), EstimateTokens(latin))
	}
}

func TestContextWindowFor(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"claude-sonnet-4-20250514", 200000},
		{"gpt-4o-mini", 128000},
		{"gpt-4-turbo-preview", 128000},
		{"gpt-4", 8192},
		{"gpt-3.5-turbo", 16385},
		{"o1-preview", 200000},
		{"completely-unknown-model", DefaultContextWindow},
		{"", DefaultContextWindow},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := ContextWindowFor(tt.model); got != tt.want {
				t.Errorf("ContextWindowFor(%q) = %d, want %d", tt.model, got, tt.want)
			}
		})
	}
}

func userMsg(content string) models.Message {
	return models.Message{Role: models.RoleUser, Content: content, SessionID: "s"}
}

func assistantMsg(content string) models.Message {
	return models.Message{Role: models.RoleAssistant, Content: content, SessionID: "s"}
}

// conversation builds n user/assistant exchanges with padded content.
func conversation(n, padChars int) []models.Message {
	pad := strings.Repeat("x", padChars)
	var msgs []models.Message
	for i := 0; i < n; i++ {
		msgs = append(msgs, userMsg(fmt.Sprintf("question %d %s", i, pad)))
		msgs = append(msgs, assistantMsg(fmt.Sprintf("answer %d %s", i, pad)))
	}
	return msgs
}

func TestCompactBelowTriggerIsNoop(t *testing.T) {
	c := New(Config{ContextWindow: 100000})
	msgs := conversation(3, 10)

	out, changed := c.Compact(msgs, "claude-sonnet-4-20250514")
	if changed {
		t.Fatal("small history should not compact")
	}
	if len(out) != len(msgs) {
		t.Errorf("message count changed: %d -> %d", len(msgs), len(out))
	}
}

func TestCompactCollapsesHead(t *testing.T) {
	c := New(Config{ContextWindow: 100, KeepRecentPairs: 2})
	msgs := conversation(8, 200)

	out, changed := c.Compact(msgs, "")
	if !changed {
		t.Fatal("oversized history should compact")
	}
	if len(out) >= len(msgs) {
		t.Errorf("compaction did not shrink: %d -> %d", len(msgs), len(out))
	}

	// The first message is the summary, flagged opaque.
	if !out[0].Summary {
		t.Error("leading message should be the summary")
	}
	if !strings.Contains(out[0].Content, "Earlier conversation (compacted):") {
		t.Errorf("summary header missing: %q", out[0].Content)
	}

	// The last two exchanges survive verbatim.
	tail := out[len(out)-4:]
	if tail[0].Content != msgs[len(msgs)-4].Content {
		t.Errorf("verbatim tail altered: %q", tail[0].Content)
	}
	if tail[3].Content != msgs[len(msgs)-1].Content {
		t.Errorf("last message altered: %q", tail[3].Content)
	}
}

func TestCompactPreservesSystemMessages(t *testing.T) {
	c := New(Config{ContextWindow: 100, KeepRecentPairs: 1})
	msgs := []models.Message{
		{Role: models.RoleSystem, Content: "system rules"},
	}
	msgs = append(msgs, conversation(6, 200)...)

	out, changed := c.Compact(msgs, "")
	if !changed {
		t.Fatal("expected compaction")
	}
	if out[0].Role != models.RoleSystem || out[0].Content != "system rules" {
		t.Errorf("system message not preserved first: %+v", out[0])
	}
}

func TestCompactIdempotent(t *testing.T) {
	c := New(Config{ContextWindow: 100, KeepRecentPairs: 1})
	msgs := conversation(6, 200)

	once, changed := c.Compact(msgs, "")
	if !changed {
		t.Fatal("expected first compaction")
	}

	// Second pass sees the summary leaf plus a short tail; nothing left to
	// collapse beneath the trigger arithmetic's reach.
	twice, _ := c.Compact(once, "")
	summaries := 0
	for _, m := range twice {
		if m.Summary {
			summaries++
		}
	}
	if summaries != 1 {
		t.Errorf("summary count = %d after double compaction, want 1", summaries)
	}
}

func TestToolResultTiers(t *testing.T) {
	pad := strings.Repeat("y", 3000)
	msgs := []models.Message{
		userMsg("do things" + pad),
		{
			Role: models.RoleAssistant, SessionID: "s",
			ToolCalls: []models.ToolCall{
				{ID: "tc-keep", Name: "write_file"},
				{ID: "tc-drop", Name: "shell"},
				{ID: "tc-sum", Name: "read_file"},
			},
		},
		{
			Role: models.RoleTool, SessionID: "s",
			ToolResults: []models.ToolResult{
				{ToolCallID: "tc-keep", Content: "wrote 3 files"},
				{ToolCallID: "tc-drop", Content: strings.Repeat("noise ", 500)},
				{ToolCallID: "tc-sum", Content: strings.Repeat("data ", 1000)},
			},
		},
	}
	msgs = append(msgs, conversation(2, 10)...)

	c := New(Config{ContextWindow: 100, KeepRecentPairs: 2, MaxResultTokens: 32})
	out, changed := c.Compact(msgs, "")
	if !changed {
		t.Fatal("expected compaction")
	}

	summary := out[0].Content
	if !strings.Contains(summary, "wrote 3 files") {
		t.Errorf("keep-tier result lost: %s", summary)
	}
	if !strings.Contains(summary, "(output dropped") {
		t.Errorf("drop-tier result not replaced by marker: %s", summary)
	}
	if strings.Contains(summary, strings.Repeat("noise ", 500)) {
		t.Error("drop-tier content survived verbatim")
	}
	if !strings.Contains(summary, "characters elided") {
		t.Errorf("summarize-tier result not truncated: %s", summary)
	}
}

func TestTruncateShortTextUnchanged(t *testing.T) {
	c := New(Config{})
	if got := c.truncate("short", 100); got != "short" {
		t.Errorf("truncate altered short text: %q", got)
	}
}

func TestTruncateKeepsHeadAndTail(t *testing.T) {
	c := New(Config{})
	text := "HEAD" + strings.Repeat("m", 5000) + "TAIL"

	got := c.truncate(text, 64)
	if !strings.HasPrefix(got, "HEAD") {
		t.Errorf("head lost: %q", got[:20])
	}
	if !strings.HasSuffix(got, "TAIL") {
		t.Errorf("tail lost: %q", got[len(got)-20:])
	}
	if !strings.Contains(got, "characters elided") {
		t.Errorf("elision marker missing: %q", got)
	}
	if len(got) >= len(text) {
		t.Error("truncation did not shrink the text")
	}
}
