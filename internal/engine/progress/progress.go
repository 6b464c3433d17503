// Package progress derives interview completion from a response set.
package progress

import (
	"math"

	"readyline/internal/domain"
)

// Derive counts applicable responses and answered ones. An answer only counts
// once at least one role is tagged on it, unless implicitRole is set
// (individual or single-role interviews).
func Derive(interviewID string, responses []domain.InterviewResponse, implicitRole bool) domain.Progress {
	p := domain.Progress{InterviewID: interviewID}
	for _, r := range responses {
		if !r.IsApplicable {
			continue
		}
		p.TotalQuestions++
		if !r.Answered() {
			continue
		}
		if !implicitRole && len(r.RoleIDs) == 0 {
			continue
		}
		p.AnsweredQuestions++
	}
	if p.TotalQuestions > 0 {
		p.ProgressPercentage = int(math.Round(100 * float64(p.AnsweredQuestions) / float64(p.TotalQuestions)))
	}
	p.Status = Status(p.AnsweredQuestions, p.TotalQuestions)
	return p
}

// Status maps counts to the three lifecycle states.
func Status(answered, total int) string {
	switch {
	case answered == 0:
		return domain.StatusPending
	case total > 0 && answered == total:
		return domain.StatusCompleted
	default:
		return domain.StatusInProgress
	}
}
