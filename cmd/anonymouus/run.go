package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/walker"
)

func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run <source> [target]",
		Short: "Anonymize a file or directory tree",
		Long: `Walks a file or directory tree and replaces identifying strings in
text files, file and directory names, and archive members. With a target
directory an anonymized copy is written there; without one the source is
rewritten in place.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runRun,
	}

	addMappingFlags(runCmd)
	runCmd.Flags().String("archive-format", "", "Repack archives as this format (zip or tar.gz)")
	runCmd.Flags().Bool("keep-names", false, "Leave file and directory names alone")

	return runCmd
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := applyMappingFlags(cmd, cfg); err != nil {
		return err
	}
	if cmd.Flags().Changed("archive-format") {
		format, err := cmd.Flags().GetString("archive-format")
		if err != nil {
			return err
		}
		cfg.Walker.ArchiveFormat = format
	}
	if keep, err := cmd.Flags().GetBool("keep-names"); err == nil && keep {
		cfg.Walker.SubstituteNames = false
	}

	source := args[0]
	target := ""
	if len(args) == 2 {
		target = args[1]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-shutdown
		log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	pipe, err := buildPipeline(ctx, cfg, log)
	if err != nil {
		return err
	}

	walk := walker.New(pipe.rewrite, cfg.Walker, pipe.stats, log.WithComponent("walker"))
	runErr := walk.Run(ctx, source, target)

	// Flush on a fresh context so an interrupt cannot lose minted
	// pseudonyms.
	if err := pipe.Close(context.Background()); err != nil {
		log.Error("Failed to flush translation table", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return runErr
	}

	snap := pipe.stats.Snapshot()
	log.Info("Run complete",
		zap.String("source", source),
		zap.Int("files", snap.Files),
		zap.Int("replacements", snap.TotalReplacements),
	)
	return nil
}
