package substitute

import (
	"errors"
	"regexp"
)

var (
	// ErrInvalidConfiguration marks structural misuse caught at build time:
	// a transform without a pattern, conflicting mapping sources, or an
	// external pattern that does not compile.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrMappingLoad marks an unreadable or malformed mapping source.
	ErrMappingLoad = errors.New("mapping load failed")
)

// regexMarker prefixes mapping keys that are regular expressions rather
// than literals.
const regexMarker = "r#"

// regexKeyRank orders regex keys ahead of every literal key.
const regexKeyRank = 1 << 20

// probeValue is fed to transforms once at build time to surface broken
// functions before the first real match.
const probeValue = "test"

// Entry is one raw original/pseudonym pair before compilation. A Key
// starting with "r#" is compiled as a regular expression.
type Entry struct {
	Key   string
	Value string
}

// Rule is a single compiled substitution rule.
type Rule struct {
	// Raw is the key text before escaping, without the regex marker.
	Raw         string
	Pattern     *regexp.Regexp
	Replacement string
	IsRegex     bool
}

// TransformFunc mints a replacement for a matched string. Fixed auxiliary
// state belongs in the closure.
type TransformFunc func(match string) (string, error)

// PreprocessFunc normalizes text before any matching occurs.
type PreprocessFunc func(text string) string

// Source describes where substitution rules come from. Exactly one of
// Entries or TablePath may be set; Pattern switches to single-pattern
// matching, with Transform minting replacements instead of a lookup.
type Source struct {
	Entries   []Entry
	TablePath string
	// TableDelimiter applies to CSV tables. Zero means comma.
	TableDelimiter rune
	Pattern        string
	Transform      TransformFunc
}

// Options control how a rule set is compiled.
type Options struct {
	// CaseInsensitive folds case at compile time, never per call.
	CaseInsensitive bool
	// WordBoundaries wraps every key in boundary anchors at compile time.
	WordBoundaries bool
	// WrapPatternBoundaries wraps an external pattern too. Off by default:
	// callers are expected to anchor their own pattern.
	WrapPatternBoundaries bool
	// Preprocess runs on the input before matching.
	Preprocess PreprocessFunc
}

// Mode identifies how a rule set matches.
type Mode string

const (
	// ModeRules iterates compiled rules in order.
	ModeRules Mode = "rules"
	// ModeLookup matches one pattern and resolves matches via the mapping.
	ModeLookup Mode = "lookup"
	// ModeTransform matches one pattern and mints replacements.
	ModeTransform Mode = "transform"
)

// Rewriter is the contract the traversal, tabular, and name-processing
// layers consume: one string in, the rewritten string and the number of
// substitutions out.
type Rewriter interface {
	Apply(text string) (string, int, error)
}

// Chain runs rewriters in order, feeding each one's output to the next and
// summing their counts.
type Chain []Rewriter

// Apply implements Rewriter.
func (c Chain) Apply(text string) (string, int, error) {
	total := 0
	out := text
	for _, r := range c {
		next, n, err := r.Apply(out)
		if err != nil {
			return text, 0, err
		}
		out = next
		total += n
	}
	return out, total, nil
}
