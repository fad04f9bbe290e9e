package pseudonym

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/logger"
)

// tableNamePattern restricts the configurable table name to a plain SQL
// identifier, since identifiers cannot be bound as query parameters.
var tableNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresStore keeps the translation table in PostgreSQL so multiple
// runs and machines build one consistent table.
type PostgresStore struct {
	db     *sqlx.DB
	table  string
	logger *logger.Logger
}

// NewPostgresStore connects to the database, verifies the connection,
// and creates the table when it is missing.
func NewPostgresStore(cfg config.PostgresConfig, log *logger.Logger) (*PostgresStore, error) {
	table := cfg.Table
	if table == "" {
		table = "pseudonyms"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sqlx.Connect("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &PostgresStore{
		db:     db,
		table:  table,
		logger: log,
	}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	log.Info("Postgres pseudonym store initialized",
		zap.String("database_url", maskURL(cfg.DatabaseURL)),
		zap.String("table", table),
	)

	return store, nil
}

// initialize checks the connection and ensures the table exists.
func (s *PostgresStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id SERIAL PRIMARY KEY,
			original TEXT NOT NULL UNIQUE,
			pseudonym TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Lookup(ctx context.Context, original string) (string, bool, error) {
	var p string
	query := fmt.Sprintf("SELECT pseudonym FROM %s WHERE original = $1", s.table)
	err := s.db.GetContext(ctx, &p, query, original)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("database lookup failed: %w", err)
	}
	return p, true, nil
}

func (s *PostgresStore) PseudonymInUse(ctx context.Context, pseudonym string) (bool, error) {
	var exists bool
	query := fmt.Sprintf("SELECT EXISTS(SELECT 1 FROM %s WHERE pseudonym = $1)", s.table)
	if err := s.db.GetContext(ctx, &exists, query, pseudonym); err != nil {
		return false, fmt.Errorf("database check failed: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) Insert(ctx context.Context, original, pseudonym string) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (original, pseudonym)
		VALUES ($1, $2)
		ON CONFLICT (original) DO NOTHING`, s.table)
	res, err := s.db.ExecContext(ctx, query, original, pseudonym)
	if err != nil {
		return fmt.Errorf("database insert failed: %w", err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("database insert failed: %w", err)
	}
	if inserted == 0 {
		return fmt.Errorf("%w: %q", ErrDuplicateRecord, original)
	}
	return nil
}

func (s *PostgresStore) All(ctx context.Context) ([]Record, error) {
	var records []Record
	query := fmt.Sprintf("SELECT original, pseudonym FROM %s ORDER BY id", s.table)
	if err := s.db.SelectContext(ctx, &records, query); err != nil {
		return nil, fmt.Errorf("database read failed: %w", err)
	}
	return records, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)
	if err := s.db.GetContext(ctx, &n, query); err != nil {
		return 0, fmt.Errorf("database count failed: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
