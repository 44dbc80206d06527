// Package main provides the CLI entry point for conductor, an agent
// orchestration runtime that connects LLM providers to supervised tool
// execution with delegation to specialized sub-agents.
//
// # Basic Usage
//
// Start an interactive session:
//
//	conductor chat --config conductor.yaml
//
// List registered agents:
//
//	conductor agents --config conductor.yaml
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/conductor/internal/agent"
	"github.com/haasonsaas/conductor/internal/agent/providers"
	"github.com/haasonsaas/conductor/internal/approval"
	"github.com/haasonsaas/conductor/internal/compaction"
	"github.com/haasonsaas/conductor/internal/config"
	"github.com/haasonsaas/conductor/internal/correlation"
	"github.com/haasonsaas/conductor/internal/observability"
	"github.com/haasonsaas/conductor/internal/supervision"
	"github.com/haasonsaas/conductor/internal/tools"
	"github.com/haasonsaas/conductor/pkg/models"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conductor",
		Short: "Conductor - supervised agent orchestration runtime",
		Long: `Conductor runs conversational agents with supervised tool execution.

Tool calls flow through a wrapping pipeline (validation, approval, timeout,
error enhancement), risky calls escalate through a rule/model/human gate,
and agents delegate sub-tasks to registered specialists.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildChatCmd(),
		buildAgentsCmd(),
		buildToolsCmd(),
	)
	return rootCmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func buildChatCmd() *cobra.Command {
	var configPath string
	var sessionID string
	var workspace string
	var metricsAddr string
	var autoApprove bool
	var supervised bool

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			logger := observability.NewLogger(observability.LogConfig{
				Level:  cfg.Logging.Level,
				Format: cfg.Logging.Format,
				Output: os.Stderr,
			})
			promRegistry := prometheus.NewRegistry()
			metrics := observability.NewMetrics(promRegistry)
			if metricsAddr != "" {
				go func() {
					mux := http.NewServeMux()
					mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logger.Error("metrics server failed", "error", err)
					}
				}()
			}

			runtime, sink, pool, err := buildRuntime(cfg, workspace, metrics)
			if err != nil {
				return err
			}
			defer pool.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			return runChatLoop(ctx, runtime, sink, sessionID, autoApprove, supervised)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id (random when empty)")
	cmd.Flags().StringVar(&workspace, "workspace", ".", "Workspace root for file and shell tools")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Listen address for Prometheus metrics (disabled when empty)")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "Auto-approve tool calls for this session")
	cmd.Flags().BoolVar(&supervised, "supervised", false, "Route risky tool calls through the supervision gate")
	return cmd
}

// buildRuntime wires the full stack: providers, tools, approval, the
// supervision gate, compaction, and the correlation pool.
func buildRuntime(cfg *config.Config, workspace string, metrics *observability.Metrics) (*agent.Runtime, *consoleSink, *correlation.Pool, error) {
	slogger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, nil, nil, err
	}

	pool := correlation.NewPool(correlation.PoolConfig{
		Dialer:      correlation.DialWS,
		Logger:      slogger,
		CallTimeout: cfg.Correlation.CallTimeout,
		IdleTTL:     cfg.Correlation.IdleTTL,
	})

	registry := agent.NewToolRegistry()
	toolCfg := tools.Config{Workspace: workspace}
	registry.Register(tools.NewReadFileTool(toolCfg))
	registry.Register(tools.NewWriteFileTool(toolCfg))
	registry.Register(tools.NewListDirTool(toolCfg))
	registry.Register(tools.NewShellTool(toolCfg))
	registry.Register(tools.NewRemoteCallTool(pool, metrics))
	registry.Alias("read", "read_file")
	registry.Alias("write", "write_file")
	registry.Alias("ls", "list_dir")
	registry.Alias("bash", "shell")
	registry.Alias("exec", "shell")
	for alias, canonical := range cfg.Tools.Aliases {
		registry.Alias(alias, canonical)
	}

	approvals := approval.NewRegistry()
	sink := newConsoleSink(os.Stdin, os.Stderr, approvals)

	var gate *supervision.Gate
	if cfg.Supervision.Enabled {
		var judge supervision.Judge
		if cfg.Supervision.JudgeModel != "" {
			judgeProvider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
				APIKey:       cfg.LLM.Providers["anthropic"].APIKey,
				DefaultModel: cfg.Supervision.JudgeModel,
			})
			if err != nil {
				return nil, nil, nil, fmt.Errorf("supervision judge: %w", err)
			}
			judge = judgeProvider
		}
		gate = supervision.NewGate(supervision.Config{
			Judge:             judge,
			Pending:           approvals,
			Sink:              sink,
			EscalationTimeout: cfg.Supervision.EscalationTimeout,
			Logger:            slogger,
		})
	}

	pipeline := agent.NewToolPipeline(agent.PipelineConfig{
		Registry:        registry,
		Approvals:       approvals,
		Gate:            gate,
		Sink:            sink,
		Logger:          slogger,
		Metrics:         metrics,
		Timeout:         cfg.Tools.Timeout,
		ApprovalTimeout: cfg.Tools.ApprovalTimeout,
		AlwaysHuman:     cfg.Tools.AlwaysHuman,
	})

	compactor := compaction.New(compaction.Config{
		ContextWindow:   cfg.Compaction.ContextWindow,
		TriggerRatio:    cfg.Compaction.TriggerRatio,
		KeepRecentPairs: cfg.Compaction.KeepRecentPairs,
		MaxResultTokens: cfg.Compaction.MaxResultTokens,
		Logger:          slogger,
	})

	runtime, err := agent.NewRuntime(agent.RuntimeConfig{
		Provider:  provider,
		Pipeline:  pipeline,
		Compactor: compactor,
		Sink:      sink,
		Metrics:   metrics,
		Logger:    slogger,
		Options: agent.RuntimeOptions{
			DefaultModel: cfg.LLM.DefaultModel,
			MaxTokens:    cfg.LLM.MaxTokens,
		},
	})
	if err != nil {
		return nil, nil, nil, err
	}

	for _, agentCfg := range cfg.Agents {
		runtime.Agents().Register(&agent.AgentDefinition{
			Name:             agentCfg.Name,
			Description:      agentCfg.Description,
			SystemPrompt:     agentCfg.SystemPrompt,
			Model:            agentCfg.Model,
			MaxDepth:         agentCfg.MaxDepth,
			AllowedSubAgents: agentCfg.AllowedSubAgents,
		})
	}
	registry.Register(agent.NewDelegateTool(agent.NewDelegator(runtime)))

	return runtime, sink, pool, nil
}

func buildProvider(cfg *config.Config) (agent.LLMProvider, error) {
	switch cfg.LLM.DefaultProvider {
	case "openai":
		providerCfg := cfg.LLM.Providers["openai"]
		if providerCfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider selected but no API key configured")
		}
		return providers.NewOpenAIProvider(providerCfg.APIKey), nil
	case "anthropic", "":
		providerCfg := cfg.LLM.Providers["anthropic"]
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:       providerCfg.APIKey,
			BaseURL:      providerCfg.BaseURL,
			DefaultModel: cfg.LLM.DefaultModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %s", cfg.LLM.DefaultProvider)
	}
}

func runChatLoop(ctx context.Context, runtime *agent.Runtime, sink *consoleSink, sessionID string, autoApprove, supervised bool) error {
	reader := sink.Input()
	var history []models.Message

	fmt.Println("conductor ready. Type a message, or /quit to exit.")
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return nil
		}
		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "/quit" || input == "/exit" {
			return nil
		}

		rc := agent.NewRequestContext(sessionID)
		rc.AutoApproveTools = autoApprove
		rc.SupervisionMode = supervised

		chunks, err := runtime.Run(ctx, rc, history, input)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		var assistantText strings.Builder
		for chunk := range chunks {
			if chunk.Error != nil {
				fmt.Fprintf(os.Stderr, "\nerror: %v\n", chunk.Error)
				break
			}
			if chunk.Text != "" {
				fmt.Print(chunk.Text)
				assistantText.WriteString(chunk.Text)
			}
		}
		fmt.Println()

		now := time.Now()
		history = append(history,
			models.Message{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				Role:      models.RoleUser,
				Content:   input,
				CreatedAt: now,
			},
			models.Message{
				ID:        uuid.NewString(),
				SessionID: sessionID,
				Role:      models.RoleAssistant,
				Content:   assistantText.String(),
				CreatedAt: now,
			},
		)
	}
}

func buildAgentsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents available for delegation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if len(cfg.Agents) == 0 {
				fmt.Println("no agents configured")
				return nil
			}
			for _, a := range cfg.Agents {
				fmt.Printf("%-20s %s\n", a.Name, a.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

func buildToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List built-in tools",
		RunE: func(cmd *cobra.Command, args []string) error {
			toolCfg := tools.Config{Workspace: "."}
			all := []interface {
				Name() string
				Description() string
			}{
				tools.NewReadFileTool(toolCfg),
				tools.NewWriteFileTool(toolCfg),
				tools.NewListDirTool(toolCfg),
				tools.NewShellTool(toolCfg),
			}
			for _, t := range all {
				fmt.Printf("%-12s %s\n", t.Name(), t.Description())
			}
			return nil
		},
	}
	return cmd
}
