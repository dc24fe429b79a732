package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/agentserver/internal/appconfig"
	"github.com/haasonsaas/agentserver/internal/browserpool"
	"github.com/haasonsaas/agentserver/internal/descriptioncache"
	"github.com/haasonsaas/agentserver/internal/facade"
	"github.com/haasonsaas/agentserver/internal/llmgateway"
	"github.com/haasonsaas/agentserver/internal/llmgateway/providers"
	"github.com/haasonsaas/agentserver/internal/obs"
	"github.com/haasonsaas/agentserver/internal/taskexec"
	"github.com/haasonsaas/agentserver/internal/toolregistry"
	"github.com/haasonsaas/agentserver/internal/webaction"
	"github.com/haasonsaas/agentserver/internal/webtools"
)

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent server",
		Long: `Start the agent server.

The server will:
1. Load configuration from the given YAML file (or built-in defaults)
2. Build the tool registry, generating and caching tool descriptions
3. Start the browser pool and task executor worker pool
4. Serve the JSON-RPC, agent-card, and SSE dialects over HTTP

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := appconfig.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("configuration loaded",
		"listen_port", cfg.ListenPort,
		"lm_provider", cfg.LMProvider,
		"lm_model", cfg.LMModel,
		"workers", cfg.Workers,
		"browser_pool_size", cfg.BrowserPoolSize,
	)

	if err := os.MkdirAll(cfg.ScreenshotsDir, 0o755); err != nil {
		return fmt.Errorf("create screenshots dir: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := obs.NewMetrics(registry)

	descStore, err := buildDescriptionStore(cfg)
	if err != nil {
		return fmt.Errorf("build description cache: %w", err)
	}

	gateway, err := buildGateway(ctx, cfg, metrics)
	if err != nil {
		return fmt.Errorf("build llm gateway: %w", err)
	}

	toolRegistry := toolregistry.New(descStore, gateway, metrics, cfg.LMMaxConcurrency)

	pool := browserpool.New(browserpool.Config{
		Capacity:       cfg.BrowserPoolSize,
		Headless:       cfg.BrowserHeadless,
		ViewportWidth:  1366,
		ViewportHeight: 768,
	}, metrics)
	defer pool.Close()

	parser := webaction.NewGatewayParser(gateway, cfg.LMProvider+":"+cfg.LMModel)
	interpreter := webaction.New(parser)
	webActionTool := webtools.New(pool, interpreter, cfg.ScreenshotsDir, cfg.BrowserAcquireWait)
	if err := toolRegistry.Register(webActionTool); err != nil {
		return fmt.Errorf("register web_action tool: %w", err)
	}

	buildCtx, cancelBuild := context.WithTimeout(ctx, 2*time.Minute)
	defer cancelBuild()
	if err := toolRegistry.Build(buildCtx, cfg.LMProvider+":"+cfg.LMModel); err != nil {
		return fmt.Errorf("build tool registry: %w", err)
	}

	taskStore, err := buildTaskStore(cfg)
	if err != nil {
		return fmt.Errorf("build task store: %w", err)
	}

	execCfg := taskexec.DefaultConfig()
	execCfg.Workers = cfg.Workers
	execCfg.QueueDepth = cfg.QueueDepth
	execCfg.DefaultTimeout = cfg.DefaultTimeout
	execCfg.DefaultMaxRetries = cfg.DefaultMaxRetry
	execCfg.HousekeepingInterval = cfg.HousekeepingTick
	execCfg.QueueTimeout = cfg.QueueTimeout

	executor := taskexec.New(execCfg, taskStore, resolverAdapter{toolRegistry}, metrics)
	executor.Start()
	defer executor.Stop()

	var authMiddleware facade.AuthMiddleware
	if cfg.AuthSecret != "" {
		authMiddleware = facade.NewJWTAuth(cfg.AuthSecret).Middleware()
	}

	server := facade.NewServer(facade.Config{
		Catalog:             toolRegistry,
		Tasks:               executor,
		AgentName:           "agentserver",
		AgentDescription:    "Protocol-speaking agent server exposing browser-automation tools",
		AgentVersion:        version,
		PublicURL:           fmt.Sprintf("http://localhost:%d", cfg.ListenPort),
		SyncCallTimeout:     30 * time.Second,
		DefaultTaskTimeout:  cfg.DefaultTimeout,
		DefaultTaskMaxRetry: cfg.DefaultMaxRetry,
		Auth:                authMiddleware,
		Logger:              slog.Default(),
		Metrics:             metrics,
	})

	mux := http.NewServeMux()
	mux.Handle("/", server.Mount())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.ListenPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("agent server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildDescriptionStore(cfg *appconfig.Config) (descriptioncache.Store, error) {
	if cfg.DatabaseDSN == "" {
		return descriptioncache.NewMemoryStore(), nil
	}
	return descriptioncache.NewSQLStore(cfg.Driver, cfg.DatabaseDSN, descriptioncache.DefaultSQLConfig())
}

func buildTaskStore(cfg *appconfig.Config) (taskexec.Store, error) {
	if cfg.DatabaseDSN == "" {
		return taskexec.NewMemoryStore(), nil
	}
	return taskexec.NewSQLStore(cfg.Driver, cfg.DatabaseDSN, 10, 5, time.Hour, 10*time.Second)
}

func buildGateway(ctx context.Context, cfg *appconfig.Config, metrics *obs.Metrics) (*llmgateway.Gateway, error) {
	gw := llmgateway.New(cfg.LMFingerprintTTL, llmgateway.NewMemoryCallLogSink(), metrics, defaultPricing())

	if cfg.AnthropicAPIKey != "" || cfg.LMProvider == "anthropic" {
		gw.Register(providers.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.LMModel))
	}
	if cfg.OpenAIAPIKey != "" || cfg.LMProvider == "openai" {
		gw.Register(providers.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.LMModel))
	}
	if cfg.GeminiAPIKey != "" || cfg.LMProvider == "gemini" {
		gp, err := providers.NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.LMModel)
		if err != nil {
			return nil, err
		}
		gw.Register(gp)
	}
	if cfg.LMProvider == "bedrock" {
		bp, err := providers.NewBedrockProvider(ctx, cfg.BedrockRegion, cfg.LMModel)
		if err != nil {
			return nil, err
		}
		gw.Register(bp)
	}

	return gw, nil
}

// defaultPricing seeds a conservative per-million-token pricing table for
// the handful of models this server ships providers for; operators running
// other models absorb $0 estimated cost until the table is extended.
func defaultPricing() llmgateway.PricingTable {
	return llmgateway.PricingTable{
		"anthropic:claude-3-5-sonnet-latest": {InputPerMillion: 3.0, OutputPerMillion: 15.0},
		"openai:gpt-4o":                      {InputPerMillion: 2.5, OutputPerMillion: 10.0},
		"gemini:gemini-1.5-pro":              {InputPerMillion: 1.25, OutputPerMillion: 5.0},
	}
}

// resolverAdapter narrows *toolregistry.Registry to taskexec.ToolResolver:
// toolregistry.Tool and taskexec.Executable share an Execute signature but
// are distinct named interfaces, so Resolve's return type needs this one
// hop rather than satisfying the interface directly.
type resolverAdapter struct {
	reg *toolregistry.Registry
}

func (r resolverAdapter) Resolve(name string) (taskexec.Executable, bool) {
	tool, ok := r.reg.Resolve(name)
	if !ok {
		return nil, false
	}
	return tool, true
}
