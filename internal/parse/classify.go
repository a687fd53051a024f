package parse

import (
	"strings"

	"nichenerd-service/internal/domain"
)

var incorrectMarkers = []string{"incorrect", "wrong", "not correct", "not quite"}

// ClassifyCorrectness derives a correct/incorrect/unknown verdict from the
// agent's latest message. This is a best-effort heuristic over phrasing, not
// grading: the agent's score field stays the source of truth for numbers,
// the verdict only drives the inline badge on a chat turn. Only answer turns
// should be classified; the opening turn has no prior answer to grade.
func ClassifyCorrectness(message string) domain.Verdict {
	lower := strings.ToLower(message)
	if strings.Contains(lower, "correct") &&
		!strings.Contains(lower, "incorrect") &&
		!strings.Contains(lower, "not correct") {
		return domain.VerdictCorrect
	}
	for _, marker := range incorrectMarkers {
		if strings.Contains(lower, marker) {
			return domain.VerdictIncorrect
		}
	}
	return domain.VerdictUnknown
}
