package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/pseudonym"
	"github.com/UtrechtUniversity/anonymouus/internal/substitute"
)

func newTableCmd() *cobra.Command {
	tableCmd := &cobra.Command{
		Use:   "table",
		Short: "Export the pseudonym translation table",
		Long: `Writes the registry's translation table to disk without processing
anything. Useful with a shared redis or postgres registry, where other
runs keep minting while this exports a snapshot. An existing table is
backed up first.`,
		Args: cobra.NoArgs,
		RunE: runTableExport,
	}

	tableCmd.Flags().StringP("write", "w", "", "Table destination (overrides registry.table_path)")
	tableCmd.Flags().String("format", "", "Table format (csv or parquet)")

	return tableCmd
}

func runTableExport(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()

	flags := cmd.Flags()
	if flags.Changed("write") {
		path, err := flags.GetString("write")
		if err != nil {
			return err
		}
		cfg.Registry.TablePath = path
	}
	if flags.Changed("format") {
		format, err := flags.GetString("format")
		if err != nil {
			return err
		}
		if format != "csv" && format != "parquet" {
			return fmt.Errorf("%w: invalid table format %q", substitute.ErrInvalidConfiguration, format)
		}
		cfg.Registry.TableFormat = format
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		cancel()
	}()

	store, err := pseudonym.NewStore(cfg.Registry, log.WithComponent("registry"))
	if err != nil {
		return err
	}
	registry, err := pseudonym.New(store, pseudonym.Options{
		DuplicateWarnThreshold: cfg.Registry.DuplicateWarnThreshold,
	}, log.WithComponent("registry"))
	if err != nil {
		store.Close()
		return err
	}
	defer registry.Close()

	path := pseudonym.TablePath(cfg.Registry)
	if err := registry.Flush(ctx, path, delimiterRune(cfg.Mapping.Delimiter)); err != nil {
		return err
	}

	records, err := registry.Count(ctx)
	if err != nil {
		return err
	}
	log.Info("Translation table exported",
		zap.String("path", path),
		zap.Int("records", records),
	)
	return nil
}
