package substitute

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RuleSet holds compiled substitution rules in application order. It is
// immutable after construction and safe for concurrent readers.
type RuleSet struct {
	rules     []Rule
	pattern   *regexp.Regexp
	lookup    map[string]string
	transform TransformFunc
	opts      Options

	// skippedRegexEntries counts regex-marked mapping entries dropped in
	// lookup mode, where only exact match text can be resolved.
	skippedRegexEntries int
}

// NewRuleSet compiles a source into an ordered rule set. Structural misuse
// fails here, before any substitution occurs.
func NewRuleSet(src Source, opts Options) (*RuleSet, error) {
	hasEntries := len(src.Entries) > 0
	hasTable := src.TablePath != ""
	hasPattern := src.Pattern != ""
	hasTransform := src.Transform != nil

	if hasTransform && !hasPattern {
		return nil, fmt.Errorf("%w: a transform function requires an external pattern", ErrInvalidConfiguration)
	}
	if hasTransform && (hasEntries || hasTable) {
		return nil, fmt.Errorf("%w: a transform function cannot combine with a mapping", ErrInvalidConfiguration)
	}
	if hasEntries && hasTable {
		return nil, fmt.Errorf("%w: mapping entries and a table path are mutually exclusive", ErrInvalidConfiguration)
	}

	entries := src.Entries
	if hasTable {
		loaded, err := LoadTable(src.TablePath, src.TableDelimiter)
		if err != nil {
			return nil, err
		}
		entries = loaded
	}

	rs := &RuleSet{opts: opts}

	if hasPattern {
		pattern, err := CompilePattern(src.Pattern, opts)
		if err != nil {
			return nil, err
		}
		rs.pattern = pattern

		if hasTransform {
			if err := probeTransform(src.Transform); err != nil {
				return nil, err
			}
			rs.transform = src.Transform
			return rs, nil
		}

		rs.lookup = make(map[string]string, len(entries))
		for _, e := range entries {
			if strings.HasPrefix(e.Key, regexMarker) {
				rs.skippedRegexEntries++
				continue
			}
			rs.lookup[e.Key] = e.Value
		}
		return rs, nil
	}

	rules, err := compileRules(entries, opts)
	if err != nil {
		return nil, err
	}
	rs.rules = rules
	return rs, nil
}

// compileRules parses, escapes, compiles, and orders mapping entries.
func compileRules(entries []Entry, opts Options) ([]Rule, error) {
	// Later duplicates win, matching how repeated table rows behave.
	byKey := make(map[string]int, len(entries))
	rules := make([]Rule, 0, len(entries))

	for _, e := range entries {
		raw, isRegex := strings.CutPrefix(e.Key, regexMarker)
		if raw == "" {
			return nil, fmt.Errorf("%w: empty mapping key", ErrMappingLoad)
		}

		expr := raw
		if !isRegex {
			expr = regexp.QuoteMeta(raw)
		}
		if opts.WordBoundaries {
			if isRegex {
				expr = `\b(?:` + expr + `)\b`
			} else {
				expr = `\b` + expr + `\b`
			}
		}
		if opts.CaseInsensitive {
			expr = "(?i)" + expr
		}

		pattern, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q: %v", ErrMappingLoad, e.Key, err)
		}

		rule := Rule{
			Raw:         raw,
			Pattern:     pattern,
			Replacement: e.Value,
			IsRegex:     isRegex,
		}
		if i, seen := byKey[e.Key]; seen {
			rules[i] = rule
			continue
		}
		byKey[e.Key] = len(rules)
		rules = append(rules, rule)
	}

	// Longest key first so a short key can never claim part of a longer
	// key's span. Regex keys rank as maximal and keep their relative order.
	sort.SliceStable(rules, func(i, j int) bool {
		return ruleRank(rules[i]) > ruleRank(rules[j])
	})

	return rules, nil
}

func ruleRank(r Rule) int {
	if r.IsRegex {
		return regexKeyRank
	}
	return len(r.Raw)
}

// CompilePattern compiles an external match pattern, honoring the case
// and boundary options the same way mapping keys do.
func CompilePattern(expr string, opts Options) (*regexp.Regexp, error) {
	if opts.WordBoundaries && opts.WrapPatternBoundaries {
		expr = `\b(?:` + expr + `)\b`
	}
	if opts.CaseInsensitive {
		expr = "(?i)" + expr
	}
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: pattern %q: %v", ErrInvalidConfiguration, expr, err)
	}
	return pattern, nil
}

// probeTransform invokes a transform once with a fixed probe value so a
// broken function surfaces at build time, not at the first real match.
func probeTransform(fn TransformFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: transform probe panicked: %v", ErrInvalidConfiguration, r)
		}
	}()
	if _, perr := fn(probeValue); perr != nil {
		return fmt.Errorf("%w: transform probe failed: %v", ErrInvalidConfiguration, perr)
	}
	return nil
}

// Mode reports how this rule set matches.
func (rs *RuleSet) Mode() Mode {
	switch {
	case rs.transform != nil:
		return ModeTransform
	case rs.pattern != nil:
		return ModeLookup
	default:
		return ModeRules
	}
}

// Len returns the number of compiled rules or lookup entries.
func (rs *RuleSet) Len() int {
	if rs.lookup != nil {
		return len(rs.lookup)
	}
	return len(rs.rules)
}

// Rules returns the compiled rules in application order.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	copy(out, rs.rules)
	return out
}
