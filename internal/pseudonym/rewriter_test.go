package pseudonym

import (
	"context"
	"errors"
	"testing"

	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/substitute"
)

var _ substitute.Rewriter = (*Rewriter)(nil)

type failingStore struct {
	*MemoryStore
}

func (f *failingStore) Lookup(context.Context, string) (string, bool, error) {
	return "", false, errors.New("store down")
}

func TestRewriter(t *testing.T) {
	ctx := context.Background()

	t.Run("mints stable pseudonyms per match", func(t *testing.T) {
		reg := newTestRegistry(t, Options{Generator: sequenceGenerator()})
		rw, err := NewRewriter(reg, `p[0-9]{3}`, substitute.Options{}, logger.NewNop())
		if err != nil {
			t.Fatalf("failed to create rewriter: %v", err)
		}

		out, n, err := rw.Apply("p001 met p002 en p001")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "id-002 met id-003 en id-002" {
			t.Errorf("unexpected output: %q", out)
		}
		if n != 3 {
			t.Errorf("expected 3 replacements, got %d", n)
		}
	})

	t.Run("unmatched text passes through", func(t *testing.T) {
		reg := newTestRegistry(t, Options{})
		rw, err := NewRewriter(reg, `p[0-9]{3}`, substitute.Options{}, logger.NewNop())
		if err != nil {
			t.Fatalf("failed to create rewriter: %v", err)
		}

		in := "no participants here"
		out, n, err := rw.Apply(in)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != in || n != 0 {
			t.Errorf("expected pass-through, got %q (%d)", out, n)
		}
	})

	t.Run("case variants are distinct originals", func(t *testing.T) {
		reg := newTestRegistry(t, Options{Generator: sequenceGenerator()})
		rw, err := NewRewriter(reg, `jane`, substitute.Options{CaseInsensitive: true}, logger.NewNop())
		if err != nil {
			t.Fatalf("failed to create rewriter: %v", err)
		}

		_, n, err := rw.Apply("Jane sprak met JANE")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 2 {
			t.Errorf("expected 2 replacements, got %d", n)
		}

		count, err := reg.Count(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if count != 2 {
			t.Errorf("expected 2 records for 2 case variants, got %d", count)
		}
	})

	t.Run("word boundaries are opt-in", func(t *testing.T) {
		reg := newTestRegistry(t, Options{Generator: sequenceGenerator()})
		opts := substitute.Options{WordBoundaries: true, WrapPatternBoundaries: true}
		rw, err := NewRewriter(reg, `ca.*?er`, opts, logger.NewNop())
		if err != nil {
			t.Fatalf("failed to create rewriter: %v", err)
		}

		out, n, err := rw.Apply("the caterpillar crawled")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "the caterpillar crawled" {
			t.Errorf("boundary wrap should block the partial match: %q", out)
		}
		if n != 0 {
			t.Errorf("expected 0 replacements, got %d", n)
		}
	})

	t.Run("store failure returns input untouched", func(t *testing.T) {
		store := &failingStore{MemoryStore: NewMemoryStore()}
		reg, err := New(store, Options{}, logger.NewNop())
		if err != nil {
			t.Fatalf("failed to create registry: %v", err)
		}
		rw, err := NewRewriter(reg, `p[0-9]{3}`, substitute.Options{}, logger.NewNop())
		if err != nil {
			t.Fatalf("failed to create rewriter: %v", err)
		}

		in := "p001 met p002"
		out, n, err := rw.Apply(in)
		if err == nil {
			t.Fatal("expected store error")
		}
		if out != in || n != 0 {
			t.Errorf("expected untouched input on error, got %q (%d)", out, n)
		}
	})

	t.Run("nil registry is rejected", func(t *testing.T) {
		_, err := NewRewriter(nil, `p[0-9]{3}`, substitute.Options{}, logger.NewNop())
		if !errors.Is(err, substitute.ErrInvalidConfiguration) {
			t.Errorf("expected ErrInvalidConfiguration, got %v", err)
		}
	})

	t.Run("invalid pattern is rejected", func(t *testing.T) {
		reg := newTestRegistry(t, Options{})
		_, err := NewRewriter(reg, `p[0-9`, substitute.Options{}, logger.NewNop())
		if !errors.Is(err, substitute.ErrInvalidConfiguration) {
			t.Errorf("expected ErrInvalidConfiguration, got %v", err)
		}
	})

	t.Run("chains with other rewriters", func(t *testing.T) {
		reg := newTestRegistry(t, Options{Generator: sequenceGenerator()})
		rw, err := NewRewriter(reg, `p[0-9]{3}`, substitute.Options{}, logger.NewNop())
		if err != nil {
			t.Fatalf("failed to create rewriter: %v", err)
		}

		chain := substitute.Chain{rw}
		out, n, err := chain.Apply("p001 waits")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out != "id-002 waits" || n != 1 {
			t.Errorf("unexpected chain result: %q (%d)", out, n)
		}
	})
}
