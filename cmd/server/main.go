// Command server runs the alpha chat server.
//
// Configuration is read from a YAML file (--config, ALPHA_CONFIG,
// ./config.yaml or /etc/alpha/config.yaml) and ALPHA_* environment
// variables. Provider API keys fall back to OPENAI_API_KEY,
// ANTHROPIC_API_KEY, GROQ_API_KEY, GEMINI_API_KEY and OPENROUTER_API_KEY;
// OLLAMA_BASE_URL points the ollama provider at a remote host.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rhuss/alpha/pkg/auth"
	"github.com/rhuss/alpha/pkg/auth/apikey"
	"github.com/rhuss/alpha/pkg/auth/jwt"
	"github.com/rhuss/alpha/pkg/chat"
	"github.com/rhuss/alpha/pkg/config"
	"github.com/rhuss/alpha/pkg/debug"
	"github.com/rhuss/alpha/pkg/engine"
	"github.com/rhuss/alpha/pkg/provider"
	"github.com/rhuss/alpha/pkg/provider/openaicompat"
	"github.com/rhuss/alpha/pkg/storage"
	"github.com/rhuss/alpha/pkg/storage/bolt"
	"github.com/rhuss/alpha/pkg/storage/memory"
	"github.com/rhuss/alpha/pkg/storage/postgres"
	"github.com/rhuss/alpha/pkg/storage/sqlite"
	"github.com/rhuss/alpha/pkg/tools"
	"github.com/rhuss/alpha/pkg/tools/mcp"
	"github.com/rhuss/alpha/pkg/transport"
	transporthttp "github.com/rhuss/alpha/pkg/transport/http"
)

func main() {
	var configPath string
	cmd := &cobra.Command{
		Use:           "server",
		Short:         "Run the alpha chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	debug.InitWithFormat(cfg.Logging.Debug, cfg.Logging.Level, cfg.Logging.Format)

	store, backend, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Storage.Type, err)
	}
	defer store.Close()
	store = storage.Instrument(backend, store)

	registry := provider.NewRegistry(openaicompat.New, cfg.ProviderConfigs()...)
	defer registry.Close()

	executors, closeTools, err := connectTools(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTools()

	eng, err := engine.New(registry, engine.Config{
		DefaultModel:  cfg.Engine.DefaultModel,
		MaxTurns:      cfg.Engine.MaxTurns,
		HistoryWindow: cfg.Engine.HistoryWindow,
		Temperature:   cfg.Engine.Temperature,
		MaxTokens:     cfg.Engine.MaxTokens,
		Executors:     executors,
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	mgr, err := chat.NewManager(store, eng, registry, chat.NewPrompts(cfg.Engine.PromptsDir), chat.Options{
		DefaultModel:  cfg.Engine.DefaultModel,
		DefaultPrompt: cfg.Engine.DefaultPrompt,
	})
	if err != nil {
		return fmt.Errorf("creating chat manager: %w", err)
	}

	middleware, err := buildMiddleware(cfg)
	if err != nil {
		return err
	}

	adapterCfg := transporthttp.Config{
		Prefix:      cfg.Server.APIPrefix,
		MaxBodySize: cfg.Server.MaxBodySize,
	}
	if cfg.Observability.Metrics.Enabled {
		adapterCfg.MetricsPath = cfg.Observability.Metrics.Path
	}
	adapter := transporthttp.NewAdapter(mgr, adapterCfg,
		transporthttp.WithModels(registry),
		transporthttp.WithHealthCheck(store),
		transporthttp.WithMiddleware(middleware...),
	)

	slog.Info("alpha starting",
		"addr", cfg.Server.Addr(),
		"prefix", cfg.Server.APIPrefix,
		"model", cfg.Engine.DefaultModel,
		"storage", backend,
		"auth", cfg.Auth.Type,
		"tools", len(executors),
	)

	srv := transporthttp.NewServer(adapter.Handler(),
		transporthttp.WithAddr(cfg.Server.Addr()),
		transporthttp.WithReadHeaderTimeout(cfg.Server.ReadHeaderTimeout),
		transporthttp.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)
	return srv.Run(ctx)
}

// openStore opens the configured conversation store and returns it with
// its metrics label.
func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, string, error) {
	switch cfg.Type {
	case "memory":
		return memory.New(cfg.Memory.MaxSize), "memory", nil
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLite.Path)
		return s, "sqlite", err
	case "bolt":
		s, err := bolt.Open(cfg.Bolt.Path)
		return s, "bolt", err
	case "postgres":
		s, err := postgres.New(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			MinConns:        cfg.Postgres.MinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime,
			MigrateOnStart:  cfg.Postgres.MigrateOnStart,
		})
		return s, "postgres", err
	default:
		return nil, "", fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

// connectTools connects the configured MCP servers. The returned close
// function is always safe to call.
func connectTools(ctx context.Context, cfg *config.Config) ([]tools.ToolExecutor, func(), error) {
	servers, err := cfg.MCPServers()
	if err != nil {
		return nil, func() {}, err
	}
	if len(servers) == 0 {
		return nil, func() {}, nil
	}

	exec, err := mcp.Connect(ctx, servers)
	if err != nil {
		return nil, func() {}, fmt.Errorf("connecting MCP servers: %w", err)
	}
	slog.Info("MCP servers connected", "servers", exec.Servers())
	return []tools.ToolExecutor{exec}, func() {
		if err := exec.Close(); err != nil {
			slog.Warn("closing MCP servers", "error", err)
		}
	}, nil
}

// buildMiddleware returns the request middleware, outermost first.
func buildMiddleware(cfg *config.Config) ([]transport.Middleware, error) {
	mw := []transport.Middleware{
		transport.Recovery(nil),
		transport.RequestID(),
		transport.Logging(nil),
	}
	if cfg.Server.CORS {
		mw = append(mw, transport.CORS())
	}

	chain, err := buildAuthChain(cfg.Auth)
	if err != nil {
		return nil, err
	}
	if chain != nil {
		bypass := append([]string(nil), auth.DefaultBypassEndpoints...)
		if cfg.Observability.Metrics.Enabled {
			bypass = append(bypass, cfg.Observability.Metrics.Path)
		}
		mw = append(mw, auth.Middleware(chain, bypass))
	}
	return mw, nil
}

// buildAuthChain returns nil when authentication is disabled.
func buildAuthChain(cfg config.AuthConfig) (*auth.Chain, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "apikey":
		return &auth.Chain{Authenticators: []auth.Authenticator{apikey.New(cfg.APIKeys)}}, nil
	case "jwt":
		a, err := jwt.New(cfg.JWT)
		if err != nil {
			return nil, err
		}
		return &auth.Chain{Authenticators: []auth.Authenticator{a}}, nil
	default:
		return nil, errors.New("unknown auth type " + cfg.Type)
	}
}
