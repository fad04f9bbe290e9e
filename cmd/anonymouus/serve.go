package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/server"
	"github.com/UtrechtUniversity/anonymouus/internal/walker"
	"github.com/UtrechtUniversity/anonymouus/internal/watch"
	"github.com/UtrechtUniversity/anonymouus/internal/websocket"
)

const statusInterval = 30 * time.Second

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the anonymization HTTP API",
		Long: `Starts an HTTP server exposing the rewriter chain. Text posted to
/v1/anonymize comes back anonymized, and connected WebSocket clients
receive substitution and status events as they happen. With
watch.source and watch.target configured, a drop folder runs next to
the API and file events reach the same clients.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	addMappingFlags(serveCmd)
	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides the configuration)")

	return serveCmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := applyMappingFlags(cmd, cfg); err != nil {
		return err
	}
	if port, err := cmd.Flags().GetInt("port"); err == nil && port > 0 {
		cfg.Server.Port = port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	server.Version = version
	srv, err := server.New(cfg, pipe.rewrite, pipe.stats, log)
	if err != nil {
		pipe.Close(context.Background())
		return err
	}
	if pipe.registry != nil {
		srv.SetRegistry(pipe.registry)
	}

	log.Info("Starting anonymoUUs",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_date", date),
		zap.Int("port", cfg.Server.Port),
	)

	// A configured drop folder runs next to the API, so connected
	// clients see files being processed as they land.
	var watcher *watch.Watcher
	if cfg.Watch.Source != "" && cfg.Watch.Target != "" {
		walk := walker.New(pipe.rewrite, cfg.Walker, pipe.stats, log.WithComponent("walker"))
		walk.OnFile = srv.Hub().BroadcastFile

		watcher, err = watch.New(cfg.Watch.Source, cfg.Watch.Target, walk, cfg.Watch.Debounce, log.WithComponent("watch"))
		if err != nil {
			pipe.Close(context.Background())
			return err
		}
		if err := watcher.Start(ctx); err != nil {
			pipe.Close(context.Background())
			return err
		}
	}

	started := time.Now()
	go broadcastStatus(ctx, srv.Hub(), pipe, started)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("Server error", zap.Error(err))
		stopWatcher(watcher, log)
		pipe.Close(context.Background())
		return err

	case sig := <-shutdown:
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		stopWatcher(watcher, log)

		// Give outstanding requests 30 seconds to complete.
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()

		if err := srv.Stop(stopCtx); err != nil {
			log.Error("Failed to shutdown server gracefully", zap.Error(err))
			pipe.Close(context.Background())
			return err
		}
	}

	if err := pipe.Close(context.Background()); err != nil {
		log.Error("Failed to flush translation table", zap.Error(err))
		return err
	}

	log.Info("Server shutdown complete")
	return nil
}

// stopWatcher stops the drop-folder watcher when one is running, waiting
// for files already in flight.
func stopWatcher(watcher *watch.Watcher, log *logger.Logger) {
	if watcher == nil {
		return
	}
	if err := watcher.Stop(); err != nil {
		log.Error("Failed to stop watcher", zap.Error(err))
	}
}

// broadcastStatus pushes a system status event to connected WebSocket
// clients every statusInterval.
func broadcastStatus(ctx context.Context, hub *websocket.Hub, pipe *pipeline, started time.Time) {
	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := pipe.stats.Snapshot()
			hub.BroadcastEvent(websocket.Event{
				Type: websocket.EventTypeSystemStatus,
				Data: websocket.SystemStatusEvent{
					Status:            "healthy",
					Uptime:            time.Since(started).Round(time.Second).String(),
					FilesProcessed:    snap.Files,
					TotalReplacements: snap.TotalReplacements,
					ConnectedClients:  hub.ClientCount(),
				},
			})
		case <-ctx.Done():
			return
		}
	}
}
