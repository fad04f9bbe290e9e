package main

import (
	"context"
	"fmt"
	"os"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/dates"
	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/pseudonym"
	"github.com/UtrechtUniversity/anonymouus/internal/substitute"
)

// pipeline bundles the rewriter chain with the registry minting behind
// it, when one is configured.
type pipeline struct {
	rewrite  substitute.Rewriter
	stats    *substitute.Stats
	registry *pseudonym.Registry
	cfg      *config.Config
	logger   *logger.Logger
}

// buildPipeline assembles the rewriter chain from the configuration.
// With registry.enabled, matches of mapping.pattern are minted on the
// fly; otherwise the mapping table drives the substitutions. Date
// redaction runs after the substitution pass when enabled.
func buildPipeline(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pipeline, error) {
	opts := substitute.Options{
		CaseInsensitive:       cfg.Mapping.CaseInsensitive,
		WordBoundaries:        cfg.Mapping.WordBoundaries,
		WrapPatternBoundaries: cfg.Mapping.WrapPatternBoundaries,
	}

	var (
		chain    substitute.Chain
		registry *pseudonym.Registry
	)

	if cfg.Registry.Enabled {
		if cfg.Mapping.Pattern == "" {
			return nil, fmt.Errorf("%w: the registry requires mapping.pattern", substitute.ErrInvalidConfiguration)
		}

		store, err := pseudonym.NewStore(cfg.Registry, log.WithComponent("registry"))
		if err != nil {
			return nil, err
		}
		registry, err = pseudonym.New(store, pseudonym.Options{
			DuplicateWarnThreshold: cfg.Registry.DuplicateWarnThreshold,
		}, log.WithComponent("registry"))
		if err != nil {
			store.Close()
			return nil, err
		}

		// Reload the previous table so pseudonyms stay stable across runs.
		tablePath := pseudonym.TablePath(cfg.Registry)
		if _, statErr := os.Stat(tablePath); statErr == nil {
			if err := registry.LoadTable(ctx, tablePath, delimiterRune(cfg.Mapping.Delimiter)); err != nil {
				registry.Close()
				return nil, err
			}
		}

		rw, err := pseudonym.NewRewriter(registry, cfg.Mapping.Pattern, opts, log.WithComponent("substitute"))
		if err != nil {
			registry.Close()
			return nil, err
		}
		chain = append(chain, rw)
	} else {
		if cfg.Mapping.Path == "" {
			return nil, fmt.Errorf("%w: mapping.path is required unless the registry is enabled", substitute.ErrInvalidConfiguration)
		}

		sub, err := substitute.New(substitute.Source{
			TablePath:      cfg.Mapping.Path,
			TableDelimiter: delimiterRune(cfg.Mapping.Delimiter),
			Pattern:        cfg.Mapping.Pattern,
		}, opts, log.WithComponent("substitute"))
		if err != nil {
			return nil, err
		}
		chain = append(chain, sub)
	}

	if cfg.Dates.Enabled {
		redactor := dates.New(cfg.Dates.ReplaceInvalid, log.WithComponent("dates"))
		for _, p := range cfg.Dates.Patterns {
			if err := redactor.AddPattern(p.Pattern, p.Replacement); err != nil {
				if registry != nil {
					registry.Close()
				}
				return nil, err
			}
		}
		chain = append(chain, redactor)
	}

	return &pipeline{
		rewrite:  chain,
		stats:    &substitute.Stats{},
		registry: registry,
		cfg:      cfg,
		logger:   log,
	}, nil
}

// Close flushes the translation table and releases the registry store.
// Pipelines without a registry have nothing to release.
func (p *pipeline) Close(ctx context.Context) error {
	if p.registry == nil {
		return nil
	}
	defer p.registry.Close()

	path := pseudonym.TablePath(p.cfg.Registry)
	return p.registry.Flush(ctx, path, delimiterRune(p.cfg.Mapping.Delimiter))
}

func delimiterRune(s string) rune {
	if s == "" {
		return ','
	}
	return rune(s[0])
}
