package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/conductor/internal/correlation"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/pkg/models"
)

// RemoteCallTool invokes a method on an external automation endpoint (a
// browser driver, a device bridge) through the correlation pool. Responses
// are matched to requests by id even when the endpoint interleaves events.
type RemoteCallTool struct {
	pool    *correlation.Pool
	metrics *observability.Metrics
}

// NewRemoteCallTool wraps a correlation pool as a tool. metrics may be nil.
func NewRemoteCallTool(pool *correlation.Pool, metrics *observability.Metrics) *RemoteCallTool {
	return &RemoteCallTool{pool: pool, metrics: metrics}
}

func (t *RemoteCallTool) Name() string {
	return "remote_call"
}

func (t *RemoteCallTool) Description() string {
	return "Call a method on a connected automation endpoint over its control channel."
}

func (t *RemoteCallTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"endpoint": {"type": "string", "description": "Websocket endpoint URL (ws:// or wss://)."},
			"method": {"type": "string", "description": "Method name to invoke."},
			"params": {"type": "object", "description": "Method parameters."}
		},
		"required": ["endpoint", "method"]
	}`)
}

// NeedsApproval gates every remote invocation.
func (t *RemoteCallTool) NeedsApproval(json.RawMessage) bool {
	return true
}

func (t *RemoteCallTool) Execute(ctx context.Context, input json.RawMessage) (*models.ToolResult, error) {
	var in struct {
		Endpoint string          `json:"endpoint"`
		Method   string          `json:"method"`
		Params   json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err)), nil
	}

	result, err := t.pool.Call(ctx, in.Endpoint, in.Method, in.Params)
	t.count(err)
	if err != nil {
		return nil, err
	}
	return &models.ToolResult{Content: string(result)}, nil
}

func (t *RemoteCallTool) count(err error) {
	if t.metrics == nil {
		return
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, correlation.ErrPoolClosed), errors.Is(err, correlation.ErrSessionClosed):
		status = "closed"
	case errors.Is(err, context.DeadlineExceeded):
		status = "timeout"
	default:
		status = "error"
	}
	t.metrics.CorrelationCalls.WithLabelValues(status).Inc()
}
