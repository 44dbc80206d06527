package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/pkg/models"
)

// DefaultMaxIterations caps the model/tool round trips in one turn.
const DefaultMaxIterations = 10

// ContextCompactor shrinks a conversation before it is sent to the model.
// The returned flag reports whether anything was collapsed.
type ContextCompactor interface {
	Compact(messages []models.Message, model string) ([]models.Message, bool)
}

// ResponseChunk is one streamed unit of a turn: model text, a tool call
// announcement, a tool result, or the terminal marker.
type ResponseChunk struct {
	Text       string
	Thinking   string
	ToolCall   *models.ToolCall
	ToolResult *models.ToolResult
	AgentPath  []string
	Done       bool
	Error      error
}

// RuntimeOptions tunes the turn loop.
type RuntimeOptions struct {
	// DefaultModel is used when an agent definition doesn't pin one.
	DefaultModel string

	// SystemPrompt is the master agent's base prompt.
	SystemPrompt string

	// MaxTokens caps completion length per model call.
	MaxTokens int

	// MaxIterations caps model/tool round trips per turn. Zero means
	// DefaultMaxIterations.
	MaxIterations int
}

// Runtime drives conversational turns: it streams model output, routes tool
// calls through the wrapping pipeline, and loops until the model stops
// requesting tools.
type Runtime struct {
	provider  LLMProvider
	pipeline  *ToolPipeline
	agents    *AgentRegistry
	compactor ContextCompactor
	sink      EventSink
	metrics   *observability.Metrics
	logger    *slog.Logger
	opts      RuntimeOptions
}

// RuntimeConfig wires a Runtime. Provider is required.
type RuntimeConfig struct {
	Provider  LLMProvider
	Pipeline  *ToolPipeline
	Agents    *AgentRegistry
	Compactor ContextCompactor
	Sink      EventSink
	Metrics   *observability.Metrics
	Logger    *slog.Logger
	Options   RuntimeOptions
}

// NewRuntime builds a Runtime with defaults filled in.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.Provider == nil {
		return nil, ErrNoProvider
	}
	if cfg.Pipeline == nil {
		cfg.Pipeline = NewToolPipeline(PipelineConfig{})
	}
	if cfg.Agents == nil {
		cfg.Agents = NewAgentRegistry()
	}
	if cfg.Sink == nil {
		cfg.Sink = NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Options.MaxIterations <= 0 {
		cfg.Options.MaxIterations = DefaultMaxIterations
	}

	return &Runtime{
		provider:  cfg.Provider,
		pipeline:  cfg.Pipeline,
		agents:    cfg.Agents,
		compactor: cfg.Compactor,
		sink:      cfg.Sink,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		opts:      cfg.Options,
	}, nil
}

// Pipeline exposes the tool pipeline for registration.
func (r *Runtime) Pipeline() *ToolPipeline { return r.pipeline }

// Agents exposes the agent registry.
func (r *Runtime) Agents() *AgentRegistry { return r.agents }

// Run executes one conversational turn. The returned channel streams
// response chunks and is closed after exactly one terminal chunk. The
// caller cancels ctx to abort the turn.
func (r *Runtime) Run(ctx context.Context, rc *RequestContext, history []models.Message, userMessage string) (<-chan *ResponseChunk, error) {
	master := &AgentFrame{
		Kind:     FrameMaster,
		Name:     "master",
		AgentID:  uuid.NewString(),
		Path:     []string{"master"},
		Model:    r.opts.DefaultModel,
		MaxDepth: DefaultMaxDepth,
	}
	rc.Stack.Push(master)

	messages := append(append([]models.Message(nil), history...), models.Message{
		ID:        uuid.NewString(),
		SessionID: rc.SessionID,
		Role:      models.RoleUser,
		Content:   userMessage,
		CreatedAt: time.Now(),
	})

	out := make(chan *ResponseChunk, 16)
	go func() {
		defer close(out)
		defer rc.Stack.Pop()

		emit := func(chunk *ResponseChunk) {
			chunk.AgentPath = rc.Stack.Path()
			select {
			case out <- chunk:
			case <-ctx.Done():
			}
		}

		_, err := r.runLoop(ctx, rc, r.opts.SystemPrompt, r.opts.DefaultModel, messages, emit)
		if err != nil {
			emit(&ResponseChunk{Done: true, Error: err})
			return
		}
		emit(&ResponseChunk{Done: true})
	}()
	return out, nil
}

// runLoop is the shared model/tool loop used by both master turns and
// delegated sub-turns. It returns the concatenated assistant text.
func (r *Runtime) runLoop(ctx context.Context, rc *RequestContext, system, model string, messages []models.Message, emit func(*ResponseChunk)) (string, error) {
	if model == "" {
		model = r.opts.DefaultModel
	}

	task := lastUserContent(messages)
	var transcript strings.Builder

	for iteration := 0; iteration < r.opts.MaxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return transcript.String(), fmt.Errorf("%w: %v", ErrTurnAborted, err)
		}

		messages = r.compact(messages, model)

		req := &CompletionRequest{
			Model:     model,
			System:    system,
			Messages:  toCompletionMessages(messages),
			Tools:     r.pipeline.Registry().Tools(),
			MaxTokens: r.opts.MaxTokens,
		}

		stream, err := r.provider.Complete(ctx, req)
		if err != nil {
			return transcript.String(), fmt.Errorf("provider %s: %w", r.provider.Name(), err)
		}

		var text strings.Builder
		var toolCalls []models.ToolCall
		for chunk := range stream {
			if chunk.Error != nil {
				return transcript.String(), fmt.Errorf("provider %s stream: %w", r.provider.Name(), chunk.Error)
			}
			if chunk.Text != "" {
				text.WriteString(chunk.Text)
				emit(&ResponseChunk{Text: chunk.Text})
			}
			if chunk.Thinking != "" {
				emit(&ResponseChunk{Thinking: chunk.Thinking})
			}
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
				emit(&ResponseChunk{ToolCall: chunk.ToolCall})
			}
		}

		transcript.WriteString(text.String())

		if len(toolCalls) == 0 {
			return transcript.String(), nil
		}

		assistant := models.Message{
			ID:        uuid.NewString(),
			SessionID: rc.SessionID,
			Role:      models.RoleAssistant,
			Content:   text.String(),
			ToolCalls: toolCalls,
			CreatedAt: time.Now(),
		}
		messages = append(messages, assistant)

		// Tool calls run sequentially in stream order; a denial or failure
		// becomes a result the model sees on the next iteration.
		results := make([]models.ToolResult, 0, len(toolCalls))
		for _, call := range toolCalls {
			result := r.pipeline.Execute(ctx, rc, task, call)
			results = append(results, *result)
			emit(&ResponseChunk{ToolResult: result})
		}

		messages = append(messages, models.Message{
			ID:          uuid.NewString(),
			SessionID:   rc.SessionID,
			Role:        models.RoleTool,
			ToolResults: results,
			CreatedAt:   time.Now(),
		})
	}

	r.logger.Warn("turn reached iteration limit",
		"session_id", rc.SessionID, "limit", r.opts.MaxIterations)
	return transcript.String(), nil
}

func (r *Runtime) compact(messages []models.Message, model string) []models.Message {
	if r.compactor == nil {
		return messages
	}
	compacted, changed := r.compactor.Compact(messages, model)
	if r.metrics != nil {
		action := "noop"
		if changed {
			action = "compacted"
		}
		r.metrics.CompactionRuns.WithLabelValues(action).Inc()
	}
	if changed {
		r.logger.Info("conversation compacted",
			"before", len(messages), "after", len(compacted))
	}
	return compacted
}

func toCompletionMessages(messages []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, CompletionMessage{
			Role:        m.Role,
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}

func lastUserContent(messages []models.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}
