package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/yourorg/hpp-checkout/internal/bridge"
	"github.com/yourorg/hpp-checkout/internal/config"
	custom_context "github.com/yourorg/hpp-checkout/internal/context"
	"github.com/yourorg/hpp-checkout/internal/logging"
	"github.com/yourorg/hpp-checkout/internal/policy"
	"github.com/yourorg/hpp-checkout/internal/reconciler"
	"github.com/yourorg/hpp-checkout/internal/server"
	"github.com/yourorg/hpp-checkout/internal/transport"
	"github.com/yourorg/hpp-checkout/internal/transport/circuitbreaker"
	"github.com/yourorg/hpp-checkout/internal/transport/httptransport"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hpp-checkout",
		Short:         "Hosted payment page checkout service",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	root.AddCommand(newServeCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var configPath, envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the checkout HTTP host",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	return cmd
}

// app is everything serve wires together.
type app struct {
	handler  http.Handler
	server   *server.Server
	logger   *zap.Logger
	shutdown func(context.Context) error
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	shutdown := func(context.Context) error { return nil }
	if cfg.Tracing.Enabled {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		shutdown = tp.Shutdown
	}

	client := httptransport.New(httptransport.Config{
		BaseURL:       cfg.Backend.BaseURL,
		Timeout:       cfg.Backend.Timeout,
		RetryAttempts: cfg.Backend.RetryAttempts,
		RetryDelay:    cfg.Backend.RetryDelay,
		AuthToken:     cfg.Backend.AuthToken,
	}, logger)
	breaker := circuitbreaker.NewCircuitBreaker(circuitbreaker.Config{
		FailureThreshold:         cfg.Breaker.FailureThreshold,
		ResetTimeout:             cfg.Breaker.ResetTimeout,
		HalfOpenSuccessThreshold: cfg.Breaker.HalfOpenSuccessThreshold,
	})
	checkoutTransport := transport.NewGuarded(client, breaker)

	grace, err := policy.NewGracePolicy(cfg.Reconcile.GracePeriod, cfg.GraceRules())
	if err != nil {
		return nil, err
	}
	rec := reconciler.New(checkoutTransport, grace, reconciler.WithLogger(logger))

	secret := cfg.Bridge.TokenSecret
	if secret == "" {
		logger.Warn("bridge.token_secret not set, using a per-process secret")
		secret = uuid.NewString()
	}
	tokens, err := bridge.NewTokenIssuer(secret, cfg.Bridge.TokenTTL)
	if err != nil {
		return nil, err
	}

	srv := server.New(ctx, server.Config{
		Transport:      checkoutTransport,
		Reconciler:     rec,
		Stores:         custom_context.NewInMemoryStoreConfigRepository(cfg.StoreConfigs()...),
		Tokens:         tokens,
		Logger:         logger,
		PageTimeout:    cfg.Session.PageTimeout,
		AllowedOrigins: cfg.Bridge.AllowedOrigin,
		ServiceName:    cfg.Tracing.ServiceName,
		Retention:      cfg.Session.Retention,
		HistoryLimit:   cfg.Session.HistoryLimit,
	})

	return &app{handler: srv.Router(), server: srv, logger: logger, shutdown: shutdown}, nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.logger.Sync() //nolint:errcheck
	return a.run(ctx, cfg.Server)
}

// run serves until ctx ends, then stops accepting requests and waits for the
// sessions ctx pushed into reconciliation to reach a verdict.
func (a *app) run(ctx context.Context, cfg config.ServerConfig) error {
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	httpServer := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting server", zap.String("addr", listener.Addr().String()), zap.String("version", version))
		errCh <- httpServer.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		a.logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("sessions abandoned at exit", zap.Error(err))
	}
	return a.shutdown(shutdownCtx)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
