package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/tabular"
)

func newTabularCmd() *cobra.Command {
	tabularCmd := &cobra.Command{
		Use:   "tabular <source> [dest]",
		Short: "Anonymize a delimited data file cell by cell",
		Long: `Rewrites the cells of a delimited data file. Columns can be selected
by header name or zero-based index; the header row itself is never
rewritten. Without a destination the source file is rewritten in place.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: runTabular,
	}

	addMappingFlags(tabularCmd)
	tabularCmd.Flags().StringP("delimiter", "d", "", "Field delimiter of the data file")
	tabularCmd.Flags().StringSlice("columns", nil, "Columns to rewrite (names or zero-based indexes)")
	tabularCmd.Flags().StringSlice("exclude-columns", nil, "Columns to leave alone")

	return tabularCmd
}

func runTabular(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	if err := applyMappingFlags(cmd, cfg); err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("delimiter") {
		delimiter, err := flags.GetString("delimiter")
		if err != nil {
			return err
		}
		cfg.Tabular.Delimiter = delimiter
	}
	if flags.Changed("columns") {
		columns, err := flags.GetStringSlice("columns")
		if err != nil {
			return err
		}
		cfg.Tabular.Columns = columns
	}
	if flags.Changed("exclude-columns") {
		exclude, err := flags.GetStringSlice("exclude-columns")
		if err != nil {
			return err
		}
		cfg.Tabular.ExcludeColumns = exclude
	}

	source := args[0]
	dest := ""
	if len(args) == 2 {
		dest = args[1]
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

	processor := tabular.New(pipe.rewrite, cfg.Tabular, pipe.stats, log.WithComponent("tabular"))
	runErr := processor.ProcessFile(ctx, source, dest)

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
	log.Info("Tabular run complete",
		zap.String("source", source),
		zap.Int("rows", snap.Lines),
		zap.Int("replacements", snap.TotalReplacements),
	)
	return nil
}
