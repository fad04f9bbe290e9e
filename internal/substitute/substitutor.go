package substitute

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/logger"
)

// Substitutor applies a compiled rule set to text.
type Substitutor struct {
	rules  *RuleSet
	logger *logger.Logger
}

// New compiles a source and returns a ready substitutor.
func New(src Source, opts Options, log *logger.Logger) (*Substitutor, error) {
	rs, err := NewRuleSet(src, opts)
	if err != nil {
		return nil, err
	}
	return NewWithRuleSet(rs, log), nil
}

// NewWithRuleSet wraps an already compiled rule set.
func NewWithRuleSet(rs *RuleSet, log *logger.Logger) *Substitutor {
	s := &Substitutor{
		rules:  rs,
		logger: log,
	}

	log.Info("Substitutor initialized",
		zap.String("mode", string(rs.Mode())),
		zap.Int("rules", rs.Len()),
		zap.Bool("word_boundaries", rs.opts.WordBoundaries),
		zap.Bool("case_insensitive", rs.opts.CaseInsensitive),
	)
	if rs.skippedRegexEntries > 0 {
		log.Warn("Regex-marked mapping entries ignored in lookup mode",
			zap.Int("skipped", rs.skippedRegexEntries),
		)
	}

	return s
}

// RuleSet returns the compiled rule set.
func (s *Substitutor) RuleSet() *RuleSet {
	return s.rules
}

// Apply rewrites text and returns the number of substitutions made in this
// call. The caller aggregates counts into Stats.
func (s *Substitutor) Apply(text string) (string, int, error) {
	work := text
	if s.rules.opts.Preprocess != nil {
		work = s.rules.opts.Preprocess(work)
	}

	switch s.rules.Mode() {
	case ModeTransform:
		out, n, err := s.applyTransform(work)
		if err != nil {
			return text, 0, err
		}
		return out, n, nil
	case ModeLookup:
		out, n := s.applyLookup(work)
		return out, n, nil
	default:
		out, n := s.applyRules(work)
		return out, n, nil
	}
}

// applyRules iterates the rules in their fixed order. Each rule rewrites
// the output of the rules before it, so a replacement value containing a
// later key will itself be rewritten (cascading substitution).
func (s *Substitutor) applyRules(text string) (string, int) {
	total := 0

	for _, rule := range s.rules.rules {
		if !rule.Pattern.MatchString(text) {
			continue
		}

		count := 0
		text = rule.Pattern.ReplaceAllStringFunc(text, func(string) string {
			count++
			return rule.Replacement
		})
		total += count

		s.logger.Debug("Rule applied",
			zap.String("key", rule.Raw),
			zap.Bool("regex", rule.IsRegex),
			zap.Int("count", count),
		)
	}

	return text, total
}

// applyLookup resolves every pattern match against the mapping. Unknown
// match text passes through unchanged; that is policy, not an error.
func (s *Substitutor) applyLookup(text string) (string, int) {
	count := 0
	out := s.rules.pattern.ReplaceAllStringFunc(text, func(match string) string {
		if value, ok := s.rules.lookup[match]; ok {
			count++
			return value
		}
		return match
	})
	return out, count
}

// applyTransform mints a replacement for every pattern match. A transform
// error aborts the call; the input is returned unchanged.
func (s *Substitutor) applyTransform(text string) (string, int, error) {
	count := 0
	var applyErr error

	out := s.rules.pattern.ReplaceAllStringFunc(text, func(match string) string {
		if applyErr != nil {
			return match
		}
		value, err := s.rules.transform(match)
		if err != nil {
			applyErr = err
			return match
		}
		count++
		return value
	})
	if applyErr != nil {
		return text, 0, fmt.Errorf("transform failed: %w", applyErr)
	}

	return out, count, nil
}
