package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/walker"
	"github.com/UtrechtUniversity/anonymouus/internal/watch"
)

func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch <source> <target>",
		Short: "Watch a drop folder and anonymize whatever lands in it",
		Long: `Watches a source directory and anonymizes every file dropped into it
into the target directory. Files already present when the watcher starts
are processed too. Runs until interrupted.`,
		Args: cobra.ExactArgs(2),
		RunE: runWatch,
	}

	addMappingFlags(watchCmd)
	watchCmd.Flags().Duration("debounce", 0, "Delay before a dropped file is processed")

	return watchCmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := applyMappingFlags(cmd, cfg); err != nil {
		return err
	}
	if debounce, err := cmd.Flags().GetDuration("debounce"); err == nil && debounce > 0 {
		cfg.Watch.Debounce = debounce
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pipe, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	walk := walker.New(pipe.rewrite, cfg.Walker, pipe.stats, log.WithComponent("walker"))
	watcher, err := watch.New(args[0], args[1], walk, cfg.Watch.Debounce, log.WithComponent("watch"))
	if err != nil {
		pipe.Close(context.Background())
		return err
	}

	if err := watcher.Start(ctx); err != nil {
		pipe.Close(context.Background())
		return err
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	sig := <-shutdown
	log.Info("Shutdown signal received", zap.String("signal", sig.String()))

	// Stop waits for files already being processed, so the flush below
	// sees every pseudonym minted during the session.
	if err := watcher.Stop(); err != nil {
		log.Error("Failed to stop watcher", zap.Error(err))
	}
	cancel()

	if err := pipe.Close(context.Background()); err != nil {
		log.Error("Failed to flush translation table", zap.Error(err))
		return err
	}

	snap := pipe.stats.Snapshot()
	log.Info("Watch complete",
		zap.Int("files", snap.Files),
		zap.Int("replacements", snap.TotalReplacements),
	)
	return nil
}
