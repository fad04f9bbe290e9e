package dates

import (
	"strings"
	"testing"

	"github.com/UtrechtUniversity/anonymouus/internal/logger"
)

func TestDefaultPatterns(t *testing.T) {
	t.Run("iso datetime with milliseconds", func(t *testing.T) {
		r := New(false, logger.NewNop())
		out, n := r.Replace("logged at 2021-05-03T11:22:33.123 by admin")
		if out != "logged at 1970-01-01T00:00:00 by admin" {
			t.Errorf("unexpected output: %q", out)
		}
		// The date pattern re-matches the date half of the placeholder,
		// so the cascade reports two replacements for one timestamp.
		if n != 2 {
			t.Errorf("expected 2 replacements, got %d", n)
		}
	})

	t.Run("iso datetime with space separator", func(t *testing.T) {
		r := New(false, logger.NewNop())
		out, _ := r.Replace("2021-05-03 11:22:33")
		if out != "1970-01-01T00:00:00" {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("iso date", func(t *testing.T) {
		r := New(false, logger.NewNop())
		out, n := r.Replace("born 2021-05-03 in Utrecht")
		if out != "born 1970-01-01 in Utrecht" {
			t.Errorf("unexpected output: %q", out)
		}
		if n != 1 {
			t.Errorf("expected 1 replacement, got %d", n)
		}
	})

	t.Run("slashed day first date", func(t *testing.T) {
		r := New(false, logger.NewNop())
		out, n := r.Replace("on 31/12/2021 we left")
		if out != "on 01-01-1970 we left" {
			t.Errorf("unexpected output: %q", out)
		}
		if n != 1 {
			t.Errorf("expected 1 replacement, got %d", n)
		}
	})

	t.Run("compact timestamp in filename", func(t *testing.T) {
		r := New(false, logger.NewNop())
		out, n := r.Replace("export_20210503_1122.txt")
		if out != "export_19700101_0000.txt" {
			t.Errorf("unexpected output: %q", out)
		}
		if n != 1 {
			t.Errorf("expected 1 replacement, got %d", n)
		}
	})

	t.Run("basic iso timestamp", func(t *testing.T) {
		r := New(false, logger.NewNop())
		out, n := r.Replace("snapshot 20210503T112233 done")
		if out != "snapshot 19700101T000000 done" {
			t.Errorf("unexpected output: %q", out)
		}
		if n != 1 {
			t.Errorf("expected 1 replacement, got %d", n)
		}
	})

	t.Run("dotted datetime", func(t *testing.T) {
		r := New(false, logger.NewNop())
		out, n := r.Replace("03.04.2021 11:22:33")
		if out != "01.01.1970 00:00:00" {
			t.Errorf("unexpected output: %q", out)
		}
		if n != 1 {
			t.Errorf("expected 1 replacement, got %d", n)
		}
	})

	t.Run("text without dates is untouched", func(t *testing.T) {
		r := New(false, logger.NewNop())
		in := "no dates here, just room 101 and highway 12"
		out, n := r.Replace(in)
		if out != in {
			t.Errorf("text changed: %q", out)
		}
		if n != 0 {
			t.Errorf("expected 0 replacements, got %d", n)
		}
	})
}

func TestValidityGate(t *testing.T) {
	t.Run("invalid date is skipped", func(t *testing.T) {
		r := New(false, logger.NewNop())
		in := "code 99/99/9999 is not a date"
		out, n := r.Replace(in)
		if out != in {
			t.Errorf("invalid date was replaced: %q", out)
		}
		if n != 0 {
			t.Errorf("expected 0 replacements, got %d", n)
		}
	})

	t.Run("replace invalid forces replacement", func(t *testing.T) {
		r := New(true, logger.NewNop())
		out, n := r.Replace("code 99/99/9999 is not a date")
		if out != "code 01-01-1970 is not a date" {
			t.Errorf("unexpected output: %q", out)
		}
		if n != 1 {
			t.Errorf("expected 1 replacement, got %d", n)
		}
	})

	t.Run("toggle after construction", func(t *testing.T) {
		r := New(false, logger.NewNop())
		r.SetReplaceInvalid(true)
		out, _ := r.Replace("99/99/9999")
		if out != "01-01-1970" {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("valid and invalid in one text", func(t *testing.T) {
		r := New(false, logger.NewNop())
		out, n := r.Replace("good 31/12/2021 bad 99/99/9999")
		if out != "good 01-01-1970 bad 99/99/9999" {
			t.Errorf("unexpected output: %q", out)
		}
		if n != 1 {
			t.Errorf("expected 1 replacement, got %d", n)
		}
	})
}

func TestPatternManagement(t *testing.T) {
	t.Run("clear disables all patterns", func(t *testing.T) {
		r := New(false, logger.NewNop())
		r.ClearPatterns()
		in := "born 2021-05-03"
		out, n := r.Replace(in)
		if out != in || n != 0 {
			t.Errorf("cleared redactor still replaced: %q (%d)", out, n)
		}
	})

	t.Run("reset restores defaults", func(t *testing.T) {
		r := New(false, logger.NewNop())
		r.ClearPatterns()
		r.ResetPatterns()
		out, _ := r.Replace("born 2021-05-03")
		if out != "born 1970-01-01" {
			t.Errorf("unexpected output after reset: %q", out)
		}
	})

	t.Run("custom literal pattern", func(t *testing.T) {
		r := New(false, logger.NewNop())
		r.ClearPatterns()
		if err := r.AddPattern(`\d{4}-\d{2}-\d{2}`, "REDACTED"); err != nil {
			t.Fatalf("failed to add pattern: %v", err)
		}
		out, n := r.Replace("x 2021-05-03 y 2022-06-04 z")
		if out != "x REDACTED y REDACTED z" {
			t.Errorf("unexpected output: %q", out)
		}
		if n != 2 {
			t.Errorf("expected 2 replacements, got %d", n)
		}
	})

	t.Run("custom functional replacement", func(t *testing.T) {
		r := New(false, logger.NewNop())
		r.ClearPatterns()
		err := r.AddPatternFunc(`\d{4}-\d{2}-\d{2}`, func(match string) string {
			return match[:4] + "-XX-XX"
		})
		if err != nil {
			t.Fatalf("failed to add pattern: %v", err)
		}
		out, _ := r.Replace("born 2021-05-03")
		if out != "born 2021-XX-XX" {
			t.Errorf("unexpected output: %q", out)
		}
	})

	t.Run("invalid pattern is rejected", func(t *testing.T) {
		r := New(false, logger.NewNop())
		if err := r.AddPattern(`(\d{4}`, "x"); err == nil {
			t.Error("expected error for unbalanced pattern")
		}
		if err := r.AddPatternFunc(`(\d{4}`, func(string) string { return "x" }); err == nil {
			t.Error("expected error for unbalanced pattern")
		}
	})

	t.Run("nil replacement function is rejected", func(t *testing.T) {
		r := New(false, logger.NewNop())
		if err := r.AddPatternFunc(`\d{4}`, nil); err == nil {
			t.Error("expected error for nil replacement function")
		}
	})
}

func TestReplaceSnapshots(t *testing.T) {
	// A shrinking replacement must not shift the spans found later in the
	// same scan.
	r := New(false, logger.NewNop())
	r.ClearPatterns()
	if err := r.AddPattern(`\d{4}-\d{2}-\d{2}`, "D"); err != nil {
		t.Fatalf("failed to add pattern: %v", err)
	}
	out, n := r.Replace("a 2021-05-03 b 2022-06-04 c 2023-07-05 d")
	if out != "a D b D c D d" {
		t.Errorf("unexpected output: %q", out)
	}
	if n != 3 {
		t.Errorf("expected 3 replacements, got %d", n)
	}
}

func TestApply(t *testing.T) {
	r := New(false, logger.NewNop())
	out, n, err := r.Apply("born 2021-05-03")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "born 1970-01-01" || n != 1 {
		t.Errorf("unexpected result: %q (%d)", out, n)
	}
}

func BenchmarkReplace(b *testing.B) {
	r := New(false, logger.NewNop())
	text := strings.Repeat("event at 2021-05-03T11:22:33 and again on 31/12/2021. ", 20)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.Replace(text)
	}
}
