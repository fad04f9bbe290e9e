package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	cfg := GetDefaults()

	if cfg.Server.Port != 8080 {
		t.Errorf("default port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("default logging = %s/%s", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Registry.Store != "memory" {
		t.Errorf("default registry store = %s", cfg.Registry.Store)
	}
	if !cfg.Walker.SubstituteNames {
		t.Error("name substitution should default on")
	}
	if cfg.Walker.ArchiveFormat != "" {
		t.Errorf("archives should keep their own format by default, got %q", cfg.Walker.ArchiveFormat)
	}

	hasTxt := false
	for _, ext := range cfg.Walker.TextExtensions {
		if ext == ".txt" {
			hasTxt = true
		}
	}
	if !hasTxt {
		t.Error(".txt missing from default text extensions")
	}

	if err := validateConfig(cfg); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anonymouus.yaml")
	content := `logging:
  level: debug
server:
  port: 9090
mapping:
  path: keys.csv
  case_insensitive: true
walker:
  substitute_names: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %s, want debug", cfg.Logging.Level)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Mapping.Path != "keys.csv" || !cfg.Mapping.CaseInsensitive {
		t.Errorf("mapping not applied: %+v", cfg.Mapping)
	}
	if cfg.Walker.SubstituteNames {
		t.Error("substitute_names: false not applied")
	}

	// Untouched sections keep their defaults.
	if cfg.Logging.Format != "json" {
		t.Errorf("format = %s, want default json", cfg.Logging.Format)
	}
	if cfg.Registry.DuplicateWarnThreshold != 10 {
		t.Errorf("threshold = %d, want default 10", cfg.Registry.DuplicateWarnThreshold)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anonymouus.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: -1\n"), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an invalid port")
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad registry store", func(c *Config) { c.Registry.Store = "etcd" }, true},
		{"bad table format", func(c *Config) { c.Registry.TableFormat = "xlsx" }, true},
		{"zero warn threshold", func(c *Config) { c.Registry.DuplicateWarnThreshold = 0 }, true},
		{"bad archive format", func(c *Config) { c.Walker.ArchiveFormat = "rar" }, true},
		{"forced zip", func(c *Config) { c.Walker.ArchiveFormat = "zip" }, false},
		{"forced tar.gz", func(c *Config) { c.Walker.ArchiveFormat = "tar.gz" }, false},
		{"long mapping delimiter", func(c *Config) { c.Mapping.Delimiter = ",," }, true},
		{"long tabular delimiter", func(c *Config) { c.Tabular.Delimiter = "||" }, true},
		{"semicolon delimiter", func(c *Config) { c.Tabular.Delimiter = ";" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaults()
			tt.mutate(cfg)
			err := validateConfig(cfg)
			if tt.wantErr && err == nil {
				t.Fatal("expected a validation error")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
