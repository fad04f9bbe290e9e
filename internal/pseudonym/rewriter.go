package pseudonym

import (
	"context"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/logger"
	"github.com/UtrechtUniversity/anonymouus/internal/substitute"
)

// Rewriter replaces pattern matches with registry pseudonyms, minting on
// first sight. It satisfies the rewriter contract of the substitution
// chain, so a registry can stand in for a static mapping.
type Rewriter struct {
	registry *Registry
	pattern  *regexp.Regexp
	logger   *logger.Logger
}

// NewRewriter compiles the pattern and binds it to a registry. Options
// control case folding and boundary wrapping the same way they do for
// mapping keys.
func NewRewriter(reg *Registry, pattern string, opts substitute.Options, log *logger.Logger) (*Rewriter, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: rewriter requires a registry", substitute.ErrInvalidConfiguration)
	}
	re, err := substitute.CompilePattern(pattern, opts)
	if err != nil {
		return nil, err
	}

	log.Info("Registry rewriter initialized", zap.String("pattern", re.String()))

	return &Rewriter{
		registry: reg,
		pattern:  re,
		logger:   log,
	}, nil
}

// Apply rewrites every match through the registry. On a generation or
// store error the input is returned untouched.
func (rw *Rewriter) Apply(text string) (string, int, error) {
	count := 0
	var applyErr error
	out := rw.pattern.ReplaceAllStringFunc(text, func(match string) string {
		if applyErr != nil {
			return match
		}
		p, err := rw.registry.Pseudonym(context.Background(), match)
		if err != nil {
			applyErr = err
			return match
		}
		count++
		return p
	})
	if applyErr != nil {
		return text, 0, fmt.Errorf("pseudonym rewrite failed: %w", applyErr)
	}
	return out, count, nil
}
