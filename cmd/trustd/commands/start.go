package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/trustd/internal/logger"
	"github.com/marmos91/trustd/pkg/api"
	"github.com/marmos91/trustd/pkg/config"
	"github.com/marmos91/trustd/pkg/metrics"
	"github.com/marmos91/trustd/pkg/powerauth/callback"
	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/service"
	"github.com/marmos91/trustd/pkg/powerauth/store"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the trustd server",
	Long: `Start the trustd server with the specified configuration.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/trustd/config.yaml.

Examples:
  # Start with default config location
  trustd start

  # Start with custom config file
  trustd start --config /etc/trustd/config.yaml

  # Start with environment variable overrides
  TRUSTD_LOGGING_LEVEL=DEBUG trustd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	// Initialize the structured logger
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("trustd - mobile multi-factor authentication server")
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))

	// Initialize metrics (if enabled)
	var m *metrics.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		m = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		metricsServer = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler: mux,
		}
		go func() {
			logger.Info("Metrics server listening", "port", cfg.Metrics.Port)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	} else {
		logger.Info("Metrics collection disabled")
	}

	// Connect to the database
	st, err := store.New(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("Database close error", "error", err)
		}
	}()
	logger.Info("Database connected", "type", cfg.Database.Type)

	if cfg.Server.RestrictAccess {
		hasIntegrations, err := st.HasIntegrations(ctx)
		if err != nil {
			return fmt.Errorf("failed to check integrations: %w", err)
		}
		if !hasIntegrations {
			logger.Warn("Restricted access is enabled but no integrations exist; " +
				"every protocol request will be rejected. " +
				"Create credentials with: trustd integration create <name>")
		}
	}

	// Start the callback notifier worker
	notifier := callback.NewHTTPNotifier(st, cfg.Callbacks)
	notifier.Start(ctx)
	defer notifier.Close()

	masterDBKey, err := cfg.PowerAuth.MasterDBEncryptionKeyBytes()
	if err != nil {
		return err
	}

	svc := service.New(st, service.Config{
		ActivationValidity:           cfg.PowerAuth.ActivationValidity,
		SignatureMaxFailedAttempts:   cfg.PowerAuth.SignatureMaxFailedAttempts,
		SignatureValidationLookahead: cfg.PowerAuth.SignatureValidationLookahead,
		ActivationIDIterations:       cfg.PowerAuth.ActivationIDIterations,
		ActivationCodeIterations:     cfg.PowerAuth.ActivationCodeIterations,
		ServerPrivateKeyEncryption:   crypto.EncryptionMode(cfg.PowerAuth.ServerPrivateKeyEncryption),
		MasterDBEncryptionKey:        masterDBKey,
		ExpirationSweepInterval:      cfg.PowerAuth.ExpirationSweepInterval,
	}, notifier, m)

	// Background sweep of expired pending activations
	go svc.RunExpirationSweeper(ctx)

	apiServer := api.NewServer(cfg.Server, api.NewRouter(svc, st, m, cfg.Server.RestrictAccess))

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- apiServer.Start(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		// Wait for server to shut down gracefully
		if err := <-serverDone; err != nil {
			logger.Error("Server shutdown error", "error", err)
			return err
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		if err != nil {
			logger.Error("Server error", "error", err)
			return err
		}
		logger.Info("Server stopped")
	}

	if metricsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancelShutdown()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown error", "error", err)
		}
	}

	return nil
}
