package dates

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"go.uber.org/zap"

	"github.com/UtrechtUniversity/anonymouus/internal/logger"
)

// ReplacementFunc derives a replacement from the matched date string.
type ReplacementFunc func(match string) string

type patternEntry struct {
	pattern     *regexp.Regexp
	replacement string
	fn          ReplacementFunc
}

// defaultPatterns returns the built-in date and timestamp shapes, most
// specific first. Datetime shapes run before plain dates so a date pattern
// never claims the date half of a timestamp.
func defaultPatterns() []patternEntry {
	return []patternEntry{
		{
			pattern:     regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}[T\s]\d{2}:\d{2}:\d{2}(\.\d{3})?`),
			replacement: "1970-01-01T00:00:00",
		},
		{
			pattern:     regexp.MustCompile(`\d{4}[-/]\d{2}[-/]\d{2}`),
			replacement: "1970-01-01",
		},
		{
			pattern:     regexp.MustCompile(`\d{1,2}[-/\\]\d{1,2}[-/\\]\d{4}`),
			replacement: "01-01-1970",
		},
		{
			pattern:     regexp.MustCompile(`\d{8}_?\d{4}`),
			replacement: "19700101_0000",
		},
		{
			pattern:     regexp.MustCompile(`\d{8}T\d{6}`),
			replacement: "19700101T000000",
		},
		{
			pattern:     regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}\s\d{2}:\d{2}:\d{2}`),
			replacement: "01.01.1970 00:00:00",
		},
	}
}

// fallbackLayouts cover shapes the general parser does not recognize.
var fallbackLayouts = []string{
	"20060102 1504",
	"20060102T150405",
	"02.01.2006 15:04:05",
}

// Redactor masks date and timestamp literals. Matches are validity-checked
// before replacement so numeric strings that merely look like dates are
// left alone.
type Redactor struct {
	patterns       []patternEntry
	replaceInvalid bool
	logger         *logger.Logger
}

// New returns a redactor loaded with the default patterns. With
// replaceInvalid set, shape matches are replaced without parsing them
// first.
func New(replaceInvalid bool, log *logger.Logger) *Redactor {
	r := &Redactor{
		replaceInvalid: replaceInvalid,
		logger:         log,
	}
	r.ResetPatterns()

	log.Info("Date redactor initialized",
		zap.Int("patterns", len(r.patterns)),
		zap.Bool("replace_invalid", replaceInvalid),
	)

	return r
}

// SetReplaceInvalid toggles the validity gate.
func (r *Redactor) SetReplaceInvalid(state bool) {
	r.replaceInvalid = state
}

// ClearPatterns removes all patterns.
func (r *Redactor) ClearPatterns() {
	r.patterns = nil
}

// ResetPatterns restores the default patterns.
func (r *Redactor) ResetPatterns() {
	r.patterns = defaultPatterns()
}

// AddPattern appends a pattern with a literal replacement. The expression
// must compile.
func (r *Redactor) AddPattern(expr, replacement string) error {
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid date pattern %q: %w", expr, err)
	}
	r.patterns = append(r.patterns, patternEntry{pattern: pattern, replacement: replacement})
	return nil
}

// AddPatternFunc appends a pattern whose replacement is derived from the
// matched text.
func (r *Redactor) AddPatternFunc(expr string, fn ReplacementFunc) error {
	if fn == nil {
		return fmt.Errorf("replacement function is nil")
	}
	pattern, err := regexp.Compile(expr)
	if err != nil {
		return fmt.Errorf("invalid date pattern %q: %w", expr, err)
	}
	r.patterns = append(r.patterns, patternEntry{pattern: pattern, fn: fn})
	return nil
}

// Replace rewrites date matches and returns the number of spans replaced.
// Patterns cascade: each pattern scans the output of the ones before it.
// Spans within one pattern are resolved against a single snapshot, so
// replacements of a different length cannot corrupt later spans.
func (r *Redactor) Replace(text string) (string, int) {
	total := 0

	for _, p := range r.patterns {
		locs := p.pattern.FindAllStringIndex(text, -1)
		if locs == nil {
			continue
		}

		var b strings.Builder
		last := 0
		replaced := 0
		for _, loc := range locs {
			match := text[loc[0]:loc[1]]
			if !r.replaceInvalid && !parsesAsDate(match) {
				continue
			}

			b.WriteString(text[last:loc[0]])
			if p.fn != nil {
				b.WriteString(p.fn(match))
			} else {
				b.WriteString(p.replacement)
			}
			last = loc[1]
			replaced++
		}
		if replaced == 0 {
			continue
		}
		b.WriteString(text[last:])
		text = b.String()
		total += replaced

		r.logger.Debug("Date pattern applied",
			zap.String("pattern", p.pattern.String()),
			zap.Int("count", replaced),
		)
	}

	return text, total
}

// Apply implements the rewriter contract used by the traversal and
// tabular layers.
func (r *Redactor) Apply(text string) (string, int, error) {
	out, n := r.Replace(text)
	return out, n, nil
}

// parsesAsDate reports whether a matched string is a real date. Underscores
// join date and time in compact forms and are normalized to spaces first.
func parsesAsDate(s string) bool {
	normalized := strings.ReplaceAll(s, "_", " ")
	if _, err := dateparse.ParseAny(normalized); err == nil {
		return true
	}
	for _, layout := range fallbackLayouts {
		if _, err := time.Parse(layout, normalized); err == nil {
			return true
		}
	}
	return false
}
