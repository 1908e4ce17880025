package watchdog

import (
	"regexp"
	"strings"
)

// Heuristic is the default question classifier: interrogative markers
// and a trailing question mark, weighted into a rough confidence.
// Anything scoring at or above Threshold counts as a question.
type Heuristic struct {
	// Threshold defaults to 0.5 when zero.
	Threshold float64
}

var interrogativeRe = regexp.MustCompile(`(?i)\b(should i|shall i|do you want|would you like|can i|may i|which (one|option)|what do you prefer|is it ok|confirm|your decision|please decide|waiting for your)\b`)

// Classify scores one turn's text.
func (h Heuristic) Classify(text string) (bool, float64) {
	threshold := h.Threshold
	if threshold == 0 {
		threshold = 0.5
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false, 0
	}

	var score float64
	if strings.HasSuffix(trimmed, "?") {
		score += 0.5
	}
	if interrogativeRe.MatchString(trimmed) {
		score += 0.5
	}
	// A question mark buried mid-text is a weaker signal.
	if score == 0 && strings.Contains(trimmed, "?") {
		score = 0.3
	}
	return score >= threshold, score
}
