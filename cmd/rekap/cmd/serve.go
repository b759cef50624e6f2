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

	"github.com/MeKo-Tech/rekap/internal/config"
	"github.com/MeKo-Tech/rekap/internal/export"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
	"github.com/MeKo-Tech/rekap/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the ingestion job API",
	Long: `Start an HTTP server that runs ingestion jobs in the background.

The server provides the following endpoints:
  POST /v1/jobs               - Upload a document (multipart field "file")
  GET  /v1/jobs/{id}/progress - Latest progress of a job
  GET  /v1/jobs/{id}/result   - Result manifest once the job finished
  GET  /v1/jobs/{id}/ws       - WebSocket progress stream
  GET  /health                - Health check endpoint
  GET  /metrics               - Prometheus metrics

Examples:
  rekap serve
  rekap serve --port 8080
  rekap serve --host 0.0.0.0 --port 3000`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		if cmd.Flags().Changed("host") {
			cfg.Server.Host, _ = cmd.Flags().GetString("host")
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("out") {
			cfg.Output.Dir, _ = cmd.Flags().GetString("out")
		}

		// Validate port number
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("invalid port number: %d (must be between 1 and 65535)", cfg.Server.Port)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServer(ctx, cfg, slog.Default())
	},
}

// serverConfig maps the loaded configuration onto the server settings.
func serverConfig(cfg *config.Config) server.Config {
	return server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		CORSOrigin:  cfg.Server.CORSOrigin,
		MaxUploadMB: int64(cfg.Server.MaxUploadMB),
		TimeoutSec:  cfg.Server.TimeoutSec,
		JobTimeout:  time.Duration(cfg.Server.JobTimeoutSec) * time.Second,
		UploadDir:   cfg.TempDir,
		Retention:   cfg.Server.ProgressTTL,
		Export:      cfg.ToExportOptions(),
		RateLimit: server.RateLimitConfig{
			JobsPerMinute:  cfg.Server.JobsPerMinute,
			JobsPerHour:    cfg.Server.JobsPerHour,
			MaxBytesPerDay: int64(cfg.Server.MaxUploadMBPerDay) * 1024 * 1024,
		},
	}
}

// runServer serves the job API until ctx is cancelled, then drains running jobs.
func runServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	progress := pipeline.NewProgressStore(cfg.Server.ProgressTTL)
	writer := export.NewWriter(cfg.Output.Dir, logger)

	ingester, err := newIngester(cfg, writer,
		pipeline.NewMultiProgress(progress,
			throttled(pipeline.NewLogProgress(logger, slog.LevelDebug), cfg.Output.ProgressInterval)), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	sc := serverConfig(cfg)
	jobServer := server.NewServer(sc, ingester, writer, progress, logger)

	mux := http.NewServeMux()
	jobServer.SetupRoutes(mux)

	timeout := time.Duration(sc.TimeoutSec) * time.Second
	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", sc.Host, sc.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       timeout,
		// WriteTimeout stays unset: websocket streams outlive a request timeout.
		IdleTimeout: 2 * timeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Starting rekap server", "host", sc.Host, "port", sc.Port, "output_dir", cfg.Output.Dir)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	logger.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := jobServer.Close(shutdownCtx); err != nil {
		logger.Warn("Running jobs cancelled at shutdown", "error", err)
	}

	logger.Info("Graceful shutdown completed")
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringP("host", "H", "localhost", "server host")
	serveCmd.Flags().IntP("port", "p", 8080, "server port")
	serveCmd.Flags().StringP("out", "o", "output", "output root directory for job results")
}
