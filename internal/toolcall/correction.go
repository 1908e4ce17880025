package toolcall

import (
	"sort"
	"sync"

	"github.com/sahilm/fuzzy"
)

// DefaultMaxCorrections bounds corrective re-prompts per unknown name.
const DefaultMaxCorrections = 2

// CorrectionState tracks how many corrective turns have been spent on
// each unknown tool name. Once a name exhausts its budget, the next
// encounter forces the create-missing-tool plan exactly once.
type CorrectionState struct {
	mu     sync.Mutex
	max    int
	counts map[string]int
	forced map[string]bool
}

// NewCorrectionState creates tracking with the given budget; values
// below one fall back to the default.
func NewCorrectionState(max int) *CorrectionState {
	if max < 1 {
		max = DefaultMaxCorrections
	}
	return &CorrectionState{
		max:    max,
		counts: make(map[string]int),
		forced: make(map[string]bool),
	}
}

// Verdict is the outcome of observing one unknown name.
type Verdict int

const (
	// VerdictCorrect means budget remains; emit a corrective turn.
	VerdictCorrect Verdict = iota
	// VerdictForcePlan means the budget is spent; emit the
	// create-missing-tool plan. Returned exactly once per name.
	VerdictForcePlan
	// VerdictExhausted means the plan was already forced for this name.
	VerdictExhausted
)

// Observe records one unknown-name encounter and says what to do.
func (s *CorrectionState) Observe(name string) Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.forced[name] {
		return VerdictExhausted
	}
	if s.counts[name] >= s.max {
		s.forced[name] = true
		return VerdictForcePlan
	}
	s.counts[name]++
	return VerdictCorrect
}

// Count returns the corrective turns spent on a name so far.
func (s *CorrectionState) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[name]
}

// Suggest returns the closest known tool name, or "" when nothing is
// plausibly close.
func Suggest(name string, known []string) string {
	if len(known) == 0 {
		return ""
	}
	sorted := append([]string(nil), known...)
	sort.Strings(sorted)
	matches := fuzzy.Find(name, sorted)
	if len(matches) == 0 {
		return ""
	}
	return sorted[matches[0].Index]
}
