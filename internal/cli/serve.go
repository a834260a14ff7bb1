package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/uveral/diario/internal/api"
	"github.com/uveral/diario/internal/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serve the journal API. When SCHEDULER_INTERVAL is set the dead man's
switch notifier also runs in-process on that interval; otherwise an external
cron is expected to call POST /api/cron/deadman.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("deadman_mode", a.runner.Mode()).
		Bool("transcription_enabled", cfg.TranscriptionEnabled()).
		Bool("scheduler_enabled", cfg.SchedulerEnabled()).
		Msg("starting diario")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	server := api.NewServer(api.ServerConfig{
		ListenAddr:  fmt.Sprintf(":%d", cfg.HTTPPort),
		CronSecret:  cfg.CronSecret,
		CORSOrigins: cfg.CORSOrigins,
		RateLimit: api.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
		},
		MaxUploadBytes: cfg.MaxUploadBytes,
	}, api.Deps{
		Journal: a.journal,
		Audio:   a.audio,
		Deadman: a.deadman,
		Runner:  a.runner,
		Checker: a.checker,
		Metrics: a.metrics,
	}, logger)

	if cfg.CronSecret == "" {
		logger.Warn().Msg("CRON_SECRET not set; the trigger endpoint rejects every request")
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			serverErr <- err
		}
	}()

	var schedDone <-chan struct{}
	if cfg.SchedulerEnabled() {
		sched := scheduler.New(logger, scheduler.DeadmanJob(a.runner, cfg.SchedulerInterval, logger))
		schedDone = sched.Start(ctx)
	}

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case err := <-serverErr:
		logger.Error().Err(err).Msg("HTTP server error")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		if schedDone != nil {
			<-schedDone
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("diario stopped")
	return nil
}
