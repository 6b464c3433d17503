package scoring

import (
	"errors"

	"readyline/internal/domain"
)

var ErrConflictingRating = errors.New("rating_score and is_unknown=true are mutually exclusive")

// Rating is the scored state of a response.
type Rating struct {
	Score   *float64
	Unknown bool
	Source  string
}

// ManualInput carries a manual rating change. Nil fields are left as is;
// Clear drops the rating without marking the response unknown.
type ManualInput struct {
	Score   *float64
	Unknown *bool
	Clear   bool
}

func (in ManualInput) Empty() bool {
	return in.Score == nil && in.Unknown == nil && !in.Clear
}

// SetManual applies a manual rating. A non-nil score clears the unknown
// marker and unknown=true clears the score.
func SetManual(cur Rating, in ManualInput) (Rating, error) {
	if in.Score != nil && in.Unknown != nil && *in.Unknown {
		return cur, ErrConflictingRating
	}
	next := cur
	if in.Clear {
		next.Score = nil
	}
	if in.Score != nil {
		s := *in.Score
		next.Score = &s
		next.Unknown = false
	}
	if in.Unknown != nil {
		next.Unknown = *in.Unknown
		if next.Unknown {
			next.Score = nil
		}
	}
	next.Source = domain.ScoreManual
	return next, nil
}

// Calculated wraps an aggregate rating as a derived score.
func Calculated(score *float64) Rating {
	return Rating{Score: score, Source: domain.ScoreCalculated}
}
