package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/UtrechtUniversity/anonymouus/internal/config"
	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/substitute"
)

func writeMapping(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "keys.csv")
	content := "original,pseudonym\nJane Doe,aaaa\nAmsterdam,bbbb\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write mapping table: %v", err)
	}
	return path
}

func TestBuildPipeline(t *testing.T) {
	log := logger.NewNop()

	t.Run("mapping mode", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Mapping.Path = writeMapping(t)

		pipe, err := buildPipeline(context.Background(), cfg, log)
		if err != nil {
			t.Fatalf("failed to build pipeline: %v", err)
		}
		defer pipe.Close(context.Background())

		out, n, err := pipe.rewrite.Apply("Jane Doe visited Amsterdam")
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if out != "aaaa visited bbbb" || n != 2 {
			t.Fatalf("got %q with %d replacements", out, n)
		}
	})

	t.Run("missing mapping path", func(t *testing.T) {
		cfg := config.GetDefaults()
		if _, err := buildPipeline(context.Background(), cfg, log); !errors.Is(err, substitute.ErrInvalidConfiguration) {
			t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
		}
	})

	t.Run("registry without pattern", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Registry.Enabled = true
		if _, err := buildPipeline(context.Background(), cfg, log); !errors.Is(err, substitute.ErrInvalidConfiguration) {
			t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
		}
	})

	t.Run("dates appended", func(t *testing.T) {
		cfg := config.GetDefaults()
		cfg.Mapping.Path = writeMapping(t)
		cfg.Dates.Enabled = true

		pipe, err := buildPipeline(context.Background(), cfg, log)
		if err != nil {
			t.Fatalf("failed to build pipeline: %v", err)
		}
		defer pipe.Close(context.Background())

		out, n, err := pipe.rewrite.Apply("Jane Doe called on 12-01-1999")
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if strings.Contains(out, "12-01-1999") {
			t.Fatalf("date survived: %q", out)
		}
		if n != 2 {
			t.Fatalf("got %d replacements, want 2", n)
		}
	})

	t.Run("registry mints and persists", func(t *testing.T) {
		dir := t.TempDir()
		cfg := config.GetDefaults()
		cfg.Registry.Enabled = true
		cfg.Registry.TablePath = filepath.Join(dir, "pseudonyms.csv")
		cfg.Mapping.Pattern = `\bjane\b`

		pipe, err := buildPipeline(context.Background(), cfg, log)
		if err != nil {
			t.Fatalf("failed to build pipeline: %v", err)
		}

		first, n, err := pipe.rewrite.Apply("jane spoke")
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if n != 1 || first == "jane spoke" {
			t.Fatalf("nothing minted: %q, %d", first, n)
		}
		if err := pipe.Close(context.Background()); err != nil {
			t.Fatalf("failed to close pipeline: %v", err)
		}

		data, err := os.ReadFile(cfg.Registry.TablePath)
		if err != nil {
			t.Fatalf("translation table not flushed: %v", err)
		}
		if !strings.Contains(string(data), "jane") {
			t.Fatalf("table is missing the original: %q", data)
		}

		// A second pipeline reloads the table, so the same original
		// resolves to the same pseudonym.
		pipe2, err := buildPipeline(context.Background(), cfg, log)
		if err != nil {
			t.Fatalf("failed to rebuild pipeline: %v", err)
		}
		defer pipe2.Close(context.Background())

		second, _, err := pipe2.rewrite.Apply("jane spoke")
		if err != nil {
			t.Fatalf("apply failed: %v", err)
		}
		if second != first {
			t.Fatalf("pseudonym changed across runs: %q vs %q", first, second)
		}
	})
}

func TestDelimiterRune(t *testing.T) {
	if got := delimiterRune(""); got != ',' {
		t.Fatalf("empty delimiter resolved to %q", got)
	}
	if got := delimiterRune(";"); got != ';' {
		t.Fatalf("got %q", got)
	}
}

func writeTestConfig(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "anonymouus.yaml")
	content := "logging:\n  level: error\n  format: console\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestRunCommand(t *testing.T) {
	src := t.TempDir()
	dst := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "jane.txt"), []byte("Jane Doe lives in Amsterdam\n"), 0o644); err != nil {
		t.Fatalf("failed to seed source: %v", err)
	}

	root := newRootCmd()
	root.SetArgs([]string{
		"run",
		"--config", writeTestConfig(t),
		"--mapping", writeMapping(t),
		src, dst,
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("run command failed: %v", err)
	}

	out := filepath.Join(dst, filepath.Base(src), "jane.txt")
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if got, want := string(data), "aaaa lives in bbbb\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestTabularCommand(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "data.csv")
	if err := os.WriteFile(source, []byte("name,city\nJane Doe,Amsterdam\n"), 0o644); err != nil {
		t.Fatalf("failed to seed source: %v", err)
	}
	dest := filepath.Join(dir, "out.csv")

	root := newRootCmd()
	root.SetArgs([]string{
		"tabular",
		"--config", writeTestConfig(t),
		"--mapping", writeMapping(t),
		"--columns", "name",
		source, dest,
	})
	if err := root.Execute(); err != nil {
		t.Fatalf("tabular command failed: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	if got, want := string(data), "name,city\naaaa,Amsterdam\n"; got != want {
		t.Fatalf("output = %q, want %q", got, want)
	}
}

func TestTableCommand(t *testing.T) {
	out := filepath.Join(t.TempDir(), "export.csv")
	root := newRootCmd()
	root.SetArgs([]string{"table", "--config", writeTestConfig(t), "--write", out})
	if err := root.Execute(); err != nil {
		t.Fatalf("table command failed: %v", err)
	}

	// A memory registry starts empty, and a zero-record flush writes
	// nothing.
	if _, err := os.Stat(out); err == nil {
		t.Fatal("empty export should not create a file")
	}

	root = newRootCmd()
	root.SilenceErrors = true
	root.SetArgs([]string{"table", "--config", writeTestConfig(t), "--format", "xlsx"})
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for an invalid format")
	}
}

func TestRootCommand(t *testing.T) {
	root := newRootCmd()
	names := make(map[string]bool)
	for _, sub := range root.Commands() {
		names[sub.Name()] = true
	}
	for _, want := range []string{"run", "tabular", "table", "serve", "watch", "version"} {
		if !names[want] {
			t.Fatalf("missing %s subcommand", want)
		}
	}

	root.SetArgs([]string{"no-such-command"})
	root.SilenceErrors = true
	if err := root.Execute(); err == nil {
		t.Fatal("expected an error for an unknown subcommand")
	}
}
