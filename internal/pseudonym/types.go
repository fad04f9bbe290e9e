package pseudonym

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/logger"
)

// ErrDuplicateRecord is returned when an original is registered twice.
var ErrDuplicateRecord = errors.New("duplicate record")

const (
	// probeInput exercises a freshly configured generator once.
	probeInput = "test"
	// maxCollisionRetries bounds regeneration when a pseudonym is taken.
	maxCollisionRetries = 5
	// DefaultDuplicateWarnThreshold batches collision warnings.
	DefaultDuplicateWarnThreshold = 10
)

// Generator derives a pseudonym for an original value. Implementations
// carry keys, counters, or other state through their closure.
type Generator func(original string) (string, error)

// UUIDGenerator is the default generator. It ignores the original and
// returns a fresh UUID.
func UUIDGenerator(string) (string, error) {
	return uuid.NewString(), nil
}

// Record is one original/pseudonym pair in the translation table.
type Record struct {
	Original  string `db:"original" json:"original" parquet:"original"`
	Pseudonym string `db:"pseudonym" json:"pseudonym" parquet:"pseudonym"`
}

// Store persists the translation table. Implementations keep insertion
// order so flushed tables stay diffable between runs.
type Store interface {
	// Lookup returns the pseudonym registered for an original.
	Lookup(ctx context.Context, original string) (string, bool, error)
	// PseudonymInUse reports whether a pseudonym is already assigned.
	PseudonymInUse(ctx context.Context, pseudonym string) (bool, error)
	// Insert registers a new pair.
	Insert(ctx context.Context, original, pseudonym string) error
	// All returns every record in insertion order.
	All(ctx context.Context) ([]Record, error)
	// Count returns the number of records.
	Count(ctx context.Context) (int, error)
	Close() error
}

// NewStore builds the store backend named in the configuration.
func NewStore(cfg config.RegistryConfig, log *logger.Logger) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return NewRedisStore(cfg.Redis, log)
	case "postgres":
		return NewPostgresStore(cfg.Postgres, log)
	default:
		return nil, fmt.Errorf("unknown registry store %q", cfg.Store)
	}
}
