// Package main provides the lisa binary entry point.
// Lisa is a conversational test-design and requirement-review agent
// serving a chat UI over HTTP/SSE.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/c360studio/lisa/agent"
	"github.com/c360studio/lisa/assistant"
	"github.com/c360studio/lisa/checkpoint"
	"github.com/c360studio/lisa/config"
	"github.com/c360studio/lisa/llm"
	"github.com/c360studio/lisa/metrics"
	"github.com/c360studio/lisa/server"
	"github.com/c360studio/lisa/session"
	"github.com/c360studio/semstreams/natsclient"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "lisa"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "lisa",
		Short: "Conversational test-design agent",
		Long: `Lisa serves the test-design (Lisa) and requirement-review (Alex)
assistants over HTTP.

It provides:
- Session management backed by sqlite
- Streaming chat turns with artifact generation
- Staged workflows with clarify gates and progress events`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	})

	return cmd
}

func run(configPath, logLevel string) error {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath, logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	endpoint := cfg.DefaultAI()
	if endpoint == nil {
		return fmt.Errorf("no ai endpoint configured")
	}

	clientOpts := []llm.ClientOption{llm.WithLogger(logger)}
	if endpoint.Timeout > 0 {
		clientOpts = append(clientOpts, llm.WithHTTPClient(&http.Client{Timeout: endpoint.Timeout}))
	}
	client, err := llm.NewClient(llm.Endpoint{
		APIKey:  endpoint.APIKey,
		BaseURL: endpoint.BaseURL,
		Model:   endpoint.Model,
	}, clientOpts...)
	if err != nil {
		return fmt.Errorf("create llm client: %w", err)
	}
	logger.Info("Using AI endpoint", "name", endpoint.Name, "model", endpoint.Model)

	ctx := context.Background()

	var nc *natsclient.Client
	var saver checkpoint.Saver = checkpoint.NewMemory()
	if cfg.NATS.URL != "" {
		nc, err = connectToNATS(ctx, cfg.NATS.URL, logger)
		if err != nil {
			return err
		}
		defer nc.Close(ctx)

		kv, err := checkpoint.NewNATSKV(nc)
		if err != nil {
			return fmt.Errorf("create checkpoint bucket: %w", err)
		}
		saver = kv
		logger.Info("Checkpoints stored in NATS KV", "bucket", checkpoint.CheckpointsBucket)
	} else {
		logger.Warn("NATS disabled, checkpoints are in-memory only")
	}

	store, err := session.Open(cfg.DB.Path)
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer store.Close()

	registry, err := assistant.NewRegistry(cfg.Assets.Dir, logger)
	if err != nil {
		return fmt.Errorf("load assistant bundles: %w", err)
	}
	defer registry.Close()
	if cfg.Assets.Watch {
		if err := registry.Watch(); err != nil {
			logger.Warn("Bundle hot reload unavailable", "error", err)
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	svcOpts := []agent.ServiceOption{
		agent.WithServiceLogger(logger),
		agent.WithNodeObserver(m.ObserveNode),
	}
	if nc != nil {
		svcOpts = append(svcOpts, agent.WithNATS(nc))
	}
	svc := agent.NewService(client, saver, svcOpts...)

	srv := server.New(svc, store, registry, m, cfg.Limits, logger)
	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Routes(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Lisa ready", "version", Version, "addr", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		logger.Info("Shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func loadConfig(configPath string, logger *slog.Logger) (*config.Config, error) {
	if configPath == "" {
		return config.NewLoader(logger).Load()
	}
	cfg := config.DefaultConfig()
	fileCfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, err
	}
	cfg.Merge(fileCfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func connectToNATS(ctx context.Context, url string, logger *slog.Logger) (*natsclient.Client, error) {
	logger.Info("Connecting to NATS", "url", url)

	client, err := natsclient.NewClient(url,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return client, nil
}
