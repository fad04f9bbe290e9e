// Package main is the entry point for the anonymouus binary.
// It provides a CLI for replacing identifying strings in files, file
// trees, tabular data, and text sent over HTTP.
package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/logger"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "anonymouus",
		Short: "Pseudonymize research data",
		Long: `anonymoUUs replaces identifying strings in text files, file and
directory names, archives, and tabular data. Substitutions come from a
mapping table, or are minted on the fly by the pseudonym registry.

Example:
  anonymouus run --mapping keys.csv ./interviews ./anonymized`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringP("log-level", "l", "", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(),
		newTabularCmd(),
		newTableCmd(),
		newServeCmd(),
		newWatchCmd(),
		newVersionCmd(),
	)

	return rootCmd
}

// setup loads the configuration and builds the logger shared by every
// subcommand.
func setup(cmd *cobra.Command) (*config.Config, *logger.Logger, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if level, err := cmd.Flags().GetString("log-level"); err == nil && level != "" {
		cfg.Logging.Level = level
	}

	loggerConfig := logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, log, nil
}

// addMappingFlags registers the flags shared by every command that
// rewrites text.
func addMappingFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("mapping", "m", "", "Path to the mapping table (.csv or .parquet)")
	cmd.Flags().StringP("pattern", "p", "", "Regular expression matched instead of mapping keys")
	cmd.Flags().Bool("case-insensitive", false, "Match mapping keys regardless of case")
	cmd.Flags().Bool("word-boundaries", false, "Only match mapping keys on word boundaries")
	cmd.Flags().Bool("registry", false, "Mint pseudonyms on the fly for pattern matches")
	cmd.Flags().Bool("dates", false, "Redact dates after the substitution pass")
}

// applyMappingFlags copies explicitly set flags over the loaded
// configuration. Unset flags leave the file values alone.
func applyMappingFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()

	if flags.Changed("mapping") {
		path, err := flags.GetString("mapping")
		if err != nil {
			return err
		}
		cfg.Mapping.Path = path
	}
	if flags.Changed("pattern") {
		pattern, err := flags.GetString("pattern")
		if err != nil {
			return err
		}
		cfg.Mapping.Pattern = pattern
	}
	if flags.Changed("case-insensitive") {
		v, err := flags.GetBool("case-insensitive")
		if err != nil {
			return err
		}
		cfg.Mapping.CaseInsensitive = v
	}
	if flags.Changed("word-boundaries") {
		v, err := flags.GetBool("word-boundaries")
		if err != nil {
			return err
		}
		cfg.Mapping.WordBoundaries = v
	}
	if flags.Changed("registry") {
		v, err := flags.GetBool("registry")
		if err != nil {
			return err
		}
		cfg.Registry.Enabled = v
	}
	if flags.Changed("dates") {
		v, err := flags.GetBool("dates")
		if err != nil {
			return err
		}
		cfg.Dates.Enabled = v
	}

	return nil
}
