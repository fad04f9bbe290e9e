package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Logging  LoggingConfig  `yaml:"logging" mapstructure:"logging"`
	Mapping  MappingConfig  `yaml:"mapping" mapstructure:"mapping"`
	Dates    DatesConfig    `yaml:"dates" mapstructure:"dates"`
	Registry RegistryConfig `yaml:"registry" mapstructure:"registry"`
	Walker   WalkerConfig   `yaml:"walker" mapstructure:"walker"`
	Tabular  TabularConfig  `yaml:"tabular" mapstructure:"tabular"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Watch    WatchConfig    `yaml:"watch" mapstructure:"watch"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// MappingConfig describes where substitution rules come from and how
// they are compiled.
type MappingConfig struct {
	// Path to a two-column mapping table (.csv or .parquet).
	Path string `yaml:"path" mapstructure:"path"`
	// Delimiter for CSV mapping tables.
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
	// Pattern switches the engine to single-pattern matching. Matches are
	// resolved against the mapping table or, with registry.enabled, minted
	// on the fly.
	Pattern string `yaml:"pattern" mapstructure:"pattern"`
	// CaseInsensitive folds case at compile time.
	CaseInsensitive bool `yaml:"case_insensitive" mapstructure:"case_insensitive"`
	// WordBoundaries wraps every key in boundary anchors at compile time.
	WordBoundaries bool `yaml:"word_boundaries" mapstructure:"word_boundaries"`
	// WrapPatternBoundaries also wraps an external pattern. Off by default:
	// callers usually anchor their own pattern.
	WrapPatternBoundaries bool `yaml:"wrap_pattern_boundaries" mapstructure:"wrap_pattern_boundaries"`
}

// DatesConfig controls the date redaction pass.
type DatesConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// ReplaceInvalid replaces shape-matched strings even when they do not
	// parse as real dates.
	ReplaceInvalid bool `yaml:"replace_invalid" mapstructure:"replace_invalid"`
	// Patterns are appended after the built-in ones.
	Patterns []DatePattern `yaml:"patterns" mapstructure:"patterns"`
}

// DatePattern is an extra date pattern from the config file.
type DatePattern struct {
	Pattern     string `yaml:"pattern" mapstructure:"pattern"`
	Replacement string `yaml:"replacement" mapstructure:"replacement"`
}

// RegistryConfig controls on-the-fly pseudonym minting and persistence.
type RegistryConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Store backend: memory, redis, or postgres.
	Store string `yaml:"store" mapstructure:"store"`
	// TablePath is where the translation table is flushed.
	TablePath string `yaml:"table_path" mapstructure:"table_path"`
	// TableFormat: csv or parquet.
	TableFormat string `yaml:"table_format" mapstructure:"table_format"`
	// DuplicateWarnThreshold batches collision warnings.
	DuplicateWarnThreshold int            `yaml:"duplicate_warn_threshold" mapstructure:"duplicate_warn_threshold"`
	Redis                  RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Postgres               PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// RedisConfig contains the shared registry store connection settings.
type RedisConfig struct {
	URL          string        `yaml:"url" mapstructure:"url"`
	KeyPrefix    string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
}

// PostgresConfig contains the durable registry store connection settings.
type PostgresConfig struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	Table           string        `yaml:"table" mapstructure:"table"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// WalkerConfig controls tree traversal and file dispatch.
type WalkerConfig struct {
	// TextExtensions are rewritten through the substitution engine.
	TextExtensions []string `yaml:"text_extensions" mapstructure:"text_extensions"`
	// ArchiveExtensions are unpacked, recursed into, and repacked.
	ArchiveExtensions []string `yaml:"archive_extensions" mapstructure:"archive_extensions"`
	// ArchiveFormat forces the repack format (zip or tar.gz). Empty keeps
	// the source archive's own format.
	ArchiveFormat string `yaml:"archive_format" mapstructure:"archive_format"`
	// SubstituteNames rewrites file and directory names as well.
	SubstituteNames bool `yaml:"substitute_names" mapstructure:"substitute_names"`
}

// TabularConfig controls cell-wise CSV rewriting.
type TabularConfig struct {
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
	// Columns selects which columns are rewritten (names or zero-based
	// indexes). Empty means all.
	Columns []string `yaml:"columns" mapstructure:"columns"`
	// ExcludeColumns are skipped even when selected.
	ExcludeColumns []string `yaml:"exclude_columns" mapstructure:"exclude_columns"`
}

// ServerConfig contains HTTP API configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxTextBytes int64         `yaml:"max_text_bytes" mapstructure:"max_text_bytes"`
	RateLimit    struct {
		Enabled           bool    `yaml:"enabled" mapstructure:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
		Burst             int     `yaml:"burst" mapstructure:"burst"`
	} `yaml:"rate_limit" mapstructure:"rate_limit"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
}

// WebSocketConfig contains event hub configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Events          struct {
		BroadcastFiles         bool `yaml:"broadcast_files" mapstructure:"broadcast_files"`
		BroadcastSubstitutions bool `yaml:"broadcast_substitutions" mapstructure:"broadcast_substitutions"`
		BroadcastSystem        bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
		BroadcastConnections   bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// WatchConfig controls the drop-folder mode.
type WatchConfig struct {
	// Source and Target configure the drop folder for serve mode. The
	// watch command takes them as arguments instead.
	Source string `yaml:"source" mapstructure:"source"`
	Target string `yaml:"target" mapstructure:"target"`
	// Debounce delays processing so editors finishing a write do not
	// trigger a half-read.
	Debounce time.Duration `yaml:"debounce" mapstructure:"debounce"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Mapping: MappingConfig{
			Delimiter: ",",
		},
		Dates: DatesConfig{
			Enabled:        false,
			ReplaceInvalid: false,
		},
		Registry: RegistryConfig{
			Enabled:                false,
			Store:                  "memory",
			TablePath:              "pseudonyms.csv",
			TableFormat:            "csv",
			DuplicateWarnThreshold: 10,
			Redis: RedisConfig{
				URL:          "redis://localhost:6379/0",
				KeyPrefix:    "anonymouus",
				PoolSize:     10,
				MinIdleConns: 2,
				DialTimeout:  5 * time.Second,
			},
			Postgres: PostgresConfig{
				Table:           "pseudonyms",
				MaxOpenConns:    10,
				MaxIdleConns:    2,
				ConnMaxLifetime: 30 * time.Minute,
			},
		},
		Walker: WalkerConfig{
			TextExtensions:    []string{".txt", ".csv", ".html", ".htm", ".xml", ".json"},
			ArchiveExtensions: []string{".zip", ".gz", ".gzip", ".tgz"},
			ArchiveFormat:     "",
			SubstituteNames:   true,
		},
		Tabular: TabularConfig{
			Delimiter: ",",
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxTextBytes: 1 << 20,
			WebSocket: WebSocketConfig{
				Enabled:         true,
				Path:            "/ws",
				MaxConnections:  100,
				ReadBufferSize:  1024,
				WriteBufferSize: 1024,
				PingInterval:    54 * time.Second,
				PongTimeout:     60 * time.Second,
				WriteTimeout:    10 * time.Second,
				AllowedOrigins:  []string{"*"},
			},
		},
		Watch: WatchConfig{
			Debounce: time.Second,
		},
	}

	cfg.Server.RateLimit.Enabled = true
	cfg.Server.RateLimit.RequestsPerSecond = 10
	cfg.Server.RateLimit.Burst = 20

	cfg.Server.WebSocket.Events.BroadcastFiles = true
	cfg.Server.WebSocket.Events.BroadcastSubstitutions = true
	cfg.Server.WebSocket.Events.BroadcastSystem = true
	cfg.Server.WebSocket.Events.BroadcastConnections = true

	return cfg
}
