package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/vidocr/internal/config"
	"github.com/MeKo-Tech/vidocr/internal/pipeline"
	"github.com/MeKo-Tech/vidocr/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the pipeline API",
	Long: `Start an HTTP server exposing every stage and the full pipeline.

The server provides the following endpoints:
  POST /upload               - Ingest an uploaded video (multipart field "file")
  POST /stages/{stage}       - Run one stage on {"id": N}
  POST /full_pipeline        - Ingest an upload and run all stages
  GET  /videos/{id}/lineage  - Every record derived from a video
  GET  /health               - Health check endpoint
  GET  /metrics              - Prometheus metrics
  GET  /log-stream           - Websocket stream of pipeline progress

Examples:
  vidocr serve
  vidocr serve --port 8080
  vidocr serve --host 0.0.0.0 --port 3000 --requests-per-minute 30`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// Get configuration from centralized system (includes config file, env vars, and defaults)
		cfg := GetConfig()
		applyServeFlags(cmd, &cfg.Server)

		// Validate port number
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Server.Port)
		}

		comps, err := pipeline.Build(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize pipeline: %w", err)
		}
		defer func() {
			if err := comps.Close(); err != nil {
				slog.Error("Pipeline cleanup error", "error", err)
			}
		}()

		srv, err := server.New(serverConfig(cfg.Server), comps.Stages, comps.Store, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		httpServer := &http.Server{
			Addr:              cfg.Addr(),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			slog.Info("Starting vidocr server", "addr", httpServer.Addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// In-flight runs are detached from their requests; Shutdown waits for
		// their handlers to return.
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// applyServeFlags overrides server settings with flags given explicitly.
func applyServeFlags(cmd *cobra.Command, sc *config.ServerConfig) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		sc.Host, _ = flags.GetString("host")
	}
	if flags.Changed("port") {
		sc.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("cors-origin") {
		sc.CORSOrigin, _ = flags.GetString("cors-origin")
	}
	if flags.Changed("max-upload-size") {
		sc.MaxUploadMB, _ = flags.GetInt("max-upload-size")
	}
	if flags.Changed("shutdown-timeout") {
		sc.ShutdownTimeout, _ = flags.GetInt("shutdown-timeout")
	}
	if flags.Changed("requests-per-minute") {
		sc.RequestsPerMinute, _ = flags.GetInt("requests-per-minute")
	}
	if flags.Changed("max-upload-per-day") {
		sc.MaxUploadPerDayMB, _ = flags.GetInt("max-upload-per-day")
	}
}

// serverConfig maps the config file's server section onto server.Config.
func serverConfig(sc config.ServerConfig) server.Config {
	return server.Config{
		CORSOrigin:  sc.CORSOrigin,
		MaxUploadMB: int64(sc.MaxUploadMB),
		RateLimit: server.RateLimitConfig{
			RequestsPerMinute: sc.RequestsPerMinute,
			MaxUploadPerDay:   int64(sc.MaxUploadPerDayMB) * 1024 * 1024,
		},
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().String("cors-origin", "*", "CORS allowed origins")
	serveCmd.Flags().Int("max-upload-size", 512, "maximum upload size in MB")
	serveCmd.Flags().Int("shutdown-timeout", 30, "shutdown timeout in seconds")
	// Rate limiting flags; 0 disables the limit
	serveCmd.Flags().Int("requests-per-minute", 0, "maximum pipeline requests per minute per client")
	serveCmd.Flags().Int("max-upload-per-day", 0, "maximum uploaded MB per day per client")
}
