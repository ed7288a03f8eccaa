package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"anthrobridge/internal/auth"
	"anthrobridge/internal/auth/cedar"
	"anthrobridge/internal/config"
	"anthrobridge/internal/httpapi"
	"anthrobridge/internal/logger"
	"anthrobridge/internal/metrics"
	"anthrobridge/internal/observability"
	"anthrobridge/internal/secrets"
	"anthrobridge/internal/translate"
	"anthrobridge/internal/upstream"
)

var (
	configPath   string
	otelEndpoint string
	policyPath   string
)

func main() {
	root := &cobra.Command{
		Use:     "anthrobridge",
		Short:   "Translates between the Anthropic Messages API and an OpenAI-compatible Chat Completions API",
		Version: "0.1.0",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the proxy server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
	serve.Flags().StringVar(&configPath, "config", "", "path to an optional YAML config overlay")
	serve.Flags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP/gRPC endpoint for trace export (tracing disabled when empty)")
	serve.Flags().StringVar(&policyPath, "cedar-policy", "", "path to a Cedar policy file enabling per-model authorization")

	root.AddCommand(serve)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe() error {
	logger.Init(logger.DefaultConfig())
	log := logger.WithComponent("main")

	cfg, err := config.Load(afero.NewOsFs(), configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	if otelEndpoint != "" {
		tp, err := observability.InitTracer("anthrobridge", otelEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing, continuing without it", "error", err)
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	collector := metrics.NewCollector()

	invoker := upstream.NewInvoker(cfg.UpstreamBaseURL, cfg.UpstreamAPIKey, upstream.DefaultClientConfig())
	defer invoker.Close()

	var verifier *auth.Verifier
	if jwtCfg, ok := auth.LoadConfig(); ok {
		if secretLoader, err := secrets.NewLoader(); err == nil {
			jwtCfg.Secret = []byte(secretLoader.LoadJWTSecret(string(jwtCfg.Secret)))
		} else {
			log.Warn("failed to initialize secrets loader for JWT secret, using environment value", "error", err)
		}
		verifier = auth.NewVerifier(jwtCfg)
		log.Info("inbound JWT verification enabled")
	}

	var pdp *cedar.PolicyDecisionPoint
	if policyPath != "" {
		p, err := cedar.NewPDP(policyPath)
		if err != nil {
			return fmt.Errorf("loading cedar policy: %w", err)
		}
		pdp = p
		log.Info("per-model cedar authorization enabled", "policy_path", policyPath)
	}

	router := httpapi.NewRouter(httpapi.Options{
		Invoker: invoker,
		Overrides: translate.ModelOverrides{
			ReasoningModel:  cfg.ReasoningModel,
			CompletionModel: cfg.CompletionModel,
		},
		Metrics:      collector,
		IdleTimeout:  cfg.UpstreamIdleTimeout,
		PingInterval: cfg.PingInterval,
		Verifier:     verifier,
		PDP:          pdp,
	})

	mux := http.NewServeMux()
	router.Register(mux)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		// Streaming responses can legitimately run far longer than a
		// typical request; ReadTimeout/WriteTimeout are left at zero
		// (no limit) and the idle-read timeout on the upstream body is
		// what actually bounds a hung stream (see internal/httpapi).
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("anthrobridge listening", "addr", server.Addr, "upstream", cfg.UpstreamBaseURL)
		serverErr <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-stop:
		log.Info("received shutdown signal", "signal", sig.String())
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		log.Info("anthrobridge shut down cleanly")
	}

	return nil
}
