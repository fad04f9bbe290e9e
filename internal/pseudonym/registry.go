package pseudonym

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/substitute"
)

// Registry mints and remembers pseudonyms. Lookup and mint run under one
// lock so concurrent callers can never assign two pseudonyms to the same
// original.
type Registry struct {
	mu            sync.Mutex
	store         Store
	generator     Generator
	warnThreshold int
	collisions    int
	logger        *logger.Logger
}

// Options tune registry behavior. The zero value uses UUIDGenerator and
// the default warn threshold.
type Options struct {
	Generator              Generator
	DuplicateWarnThreshold int
}

// New creates a registry on top of a store. A custom generator is probed
// once before it is accepted.
func New(store Store, opts Options, log *logger.Logger) (*Registry, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: registry requires a store", substitute.ErrInvalidConfiguration)
	}
	threshold := opts.DuplicateWarnThreshold
	if threshold <= 0 {
		threshold = DefaultDuplicateWarnThreshold
	}

	r := &Registry{
		store:         store,
		generator:     UUIDGenerator,
		warnThreshold: threshold,
		logger:        log,
	}
	if opts.Generator != nil {
		if err := r.SetGenerator(opts.Generator); err != nil {
			return nil, err
		}
	}

	log.Info("Pseudonym registry initialized",
		zap.Int("duplicate_warn_threshold", threshold),
		zap.Bool("custom_generator", opts.Generator != nil),
	)
	return r, nil
}

// SetGenerator swaps in a generator after probing it once. The probe
// result is discarded, never stored.
func (r *Registry) SetGenerator(gen Generator) error {
	if gen == nil {
		return fmt.Errorf("%w: generator is nil", substitute.ErrInvalidConfiguration)
	}
	if err := probeGenerator(gen); err != nil {
		return err
	}
	r.mu.Lock()
	r.generator = gen
	r.mu.Unlock()
	return nil
}

// probeGenerator invokes a generator once with a fixed input so a broken
// one surfaces at configuration time, not at the first real original.
func probeGenerator(gen Generator) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: generator panicked during probe: %v", substitute.ErrInvalidConfiguration, rec)
		}
	}()
	out, perr := gen(probeInput)
	if perr != nil {
		return fmt.Errorf("%w: generator probe failed: %v", substitute.ErrInvalidConfiguration, perr)
	}
	if out == "" {
		return fmt.Errorf("%w: generator probe returned an empty pseudonym", substitute.ErrInvalidConfiguration)
	}
	return nil
}

// Pseudonym returns the pseudonym for an original, minting and storing
// one on first sight.
func (r *Registry) Pseudonym(ctx context.Context, original string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok, err := r.store.Lookup(ctx, original); err != nil {
		return "", fmt.Errorf("registry lookup failed: %w", err)
	} else if ok {
		return p, nil
	}
	return r.mint(ctx, original)
}

// mint generates a fresh pseudonym, regenerating a bounded number of
// times when the candidate is already taken. Callers hold r.mu.
func (r *Registry) mint(ctx context.Context, original string) (string, error) {
	candidate := ""
	for attempt := 0; ; attempt++ {
		p, err := r.generator(original)
		if err != nil {
			return "", fmt.Errorf("pseudonym generation failed: %w", err)
		}
		if p == "" {
			return "", fmt.Errorf("pseudonym generation returned an empty pseudonym")
		}
		inUse, err := r.store.PseudonymInUse(ctx, p)
		if err != nil {
			return "", fmt.Errorf("pseudonym check failed: %w", err)
		}
		candidate = p
		if !inUse {
			break
		}
		if attempt >= maxCollisionRetries {
			r.noteCollision(candidate)
			break
		}
	}

	if err := r.store.Insert(ctx, original, candidate); err != nil {
		return "", fmt.Errorf("registry insert failed: %w", err)
	}
	r.logger.Debug("Pseudonym minted", zap.String("pseudonym", candidate))
	return candidate, nil
}

// noteCollision counts a tolerated duplicate and warns once the threshold
// is reached. Callers hold r.mu.
func (r *Registry) noteCollision(pseudonym string) {
	r.collisions++
	r.logger.Debug("Duplicate pseudonym tolerated",
		zap.String("pseudonym", pseudonym),
		zap.Int("duplicates", r.collisions),
	)
	if r.collisions >= r.warnThreshold {
		r.logger.Warn("Generator keeps producing duplicate pseudonyms",
			zap.Int("duplicates", r.collisions),
			zap.Int("threshold", r.warnThreshold),
		)
		r.collisions = 0
	}
}

// AddRecord registers an explicit pair. Registering an original twice is
// an error; reusing a pseudonym is tolerated with a warning.
func (r *Registry) AddRecord(ctx context.Context, original, pseudonym string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok, err := r.store.Lookup(ctx, original); err != nil {
		return fmt.Errorf("registry lookup failed: %w", err)
	} else if ok {
		return fmt.Errorf("%w: %q", ErrDuplicateRecord, original)
	}
	inUse, err := r.store.PseudonymInUse(ctx, pseudonym)
	if err != nil {
		return fmt.Errorf("pseudonym check failed: %w", err)
	}
	if inUse {
		r.logger.Warn("Pseudonym assigned to more than one original",
			zap.String("pseudonym", pseudonym))
	}
	if err := r.store.Insert(ctx, original, pseudonym); err != nil {
		return fmt.Errorf("registry insert failed: %w", err)
	}
	return nil
}

// LoadTable preloads the registry from an existing translation table.
func (r *Registry) LoadTable(ctx context.Context, path string, delimiter rune) error {
	entries, err := substitute.LoadTable(path, delimiter)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := r.AddRecord(ctx, e.Key, e.Value); err != nil {
			return err
		}
	}
	r.logger.Info("Translation table loaded",
		zap.String("path", path),
		zap.Int("records", len(entries)),
	)
	return nil
}

// Count returns the number of stored records.
func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.store.Count(ctx)
}

// Close releases the underlying store.
func (r *Registry) Close() error {
	return r.store.Close()
}
