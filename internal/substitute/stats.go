package substitute

import "sync"

// Stats tracks substitution bookkeeping across a run. Counters are purely
// observational and never affect control flow. Safe for concurrent use.
type Stats struct {
	mu               sync.RWMutex
	unitReplacements int
	total            int
	lines            int
	files            int
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	UnitReplacements  int `json:"unit_replacements"`
	TotalReplacements int `json:"total_replacements"`
	Lines             int `json:"lines"`
	Files             int `json:"files"`
}

// StartUnit resets the per-unit counter at the start of a file or row
// batch. The grand total is untouched.
func (s *Stats) StartUnit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitReplacements = 0
}

// AddReplacements records substitutions made in the current unit.
func (s *Stats) AddReplacements(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unitReplacements += n
	s.total += n
}

// AddLines records processed lines or rows.
func (s *Stats) AddLines(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines += n
}

// FileDone records a completed file.
func (s *Stats) FileDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files++
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		UnitReplacements:  s.unitReplacements,
		TotalReplacements: s.total,
		Lines:             s.lines,
		Files:             s.files,
	}
}
