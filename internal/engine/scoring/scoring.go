// Package scoring turns per-part answers into maturity levels and an
// aggregate rating, and enforces the manual rating rules.
package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"readyline/internal/domain"
)

// ErrNoPartScoring is returned when part answers arrive for a question that
// has no parts configured.
var ErrNoPartScoring = errors.New("question has no part scoring")

// UnknownPartError reports an answer for a part the question does not have.
type UnknownPartError struct {
	PartID string
}

func (e UnknownPartError) Error() string {
	return fmt.Sprintf("unknown question part %s", e.PartID)
}

// UnmappedValueError is only raised in strict mode.
type UnmappedValueError struct {
	PartID string
	Value  any
}

func (e UnmappedValueError) Error() string {
	return fmt.Sprintf("no level mapped for value %v on part %s", e.Value, e.PartID)
}

type Answer struct {
	PartID string `json:"part_id"`
	Value  any    `json:"value"`
}

type PartResult struct {
	PartID string
	Value  any
	Level  *int
}

type Result struct {
	Parts  []PartResult
	Rating *float64
}

type Options struct {
	Strict bool
}

// Apply maps each answer to a level and aggregates them. Later answers for
// the same part replace earlier ones. The rating is floor(sum/count) over
// the parts that produced a level, or nil when none did.
func Apply(parts []domain.QuestionPart, answers []Answer, opts Options) (Result, error) {
	if len(parts) == 0 {
		return Result{}, ErrNoPartScoring
	}
	byID := make(map[string]domain.QuestionPart, len(parts))
	for _, p := range parts {
		byID[p.ID] = p
	}
	var res Result
	index := map[string]int{}
	for _, a := range answers {
		part, ok := byID[a.PartID]
		if !ok {
			return Result{}, UnknownPartError{PartID: a.PartID}
		}
		level, ok := Level(part, a.Value)
		if !ok && opts.Strict {
			return Result{}, UnmappedValueError{PartID: a.PartID, Value: a.Value}
		}
		pr := PartResult{PartID: a.PartID, Value: a.Value}
		if ok {
			l := level
			pr.Level = &l
		}
		if i, seen := index[a.PartID]; seen {
			res.Parts[i] = pr
			continue
		}
		index[a.PartID] = len(res.Parts)
		res.Parts = append(res.Parts, pr)
	}
	sum, count := 0, 0
	for _, p := range res.Parts {
		if p.Level != nil {
			sum += *p.Level
			count++
		}
	}
	if count > 0 {
		// Rounds down on purpose; ties go to the lower maturity level.
		r := math.Floor(float64(sum) / float64(count))
		res.Rating = &r
	}
	return res, nil
}

// Level resolves the level for a single raw answer value.
func Level(part domain.QuestionPart, value any) (int, bool) {
	switch part.AnswerType {
	case domain.AnswerNumeric:
		v, ok := toFloat(value)
		if !ok || len(part.Ranges) == 0 {
			return 0, false
		}
		for _, r := range part.Ranges {
			if r.Min <= v && v <= r.Max {
				return r.Level, true
			}
		}
		return part.Ranges[len(part.Ranges)-1].Level, true
	case domain.AnswerBoolean, domain.AnswerLabelled:
		key, ok := literal(value)
		if !ok {
			return 0, false
		}
		l, ok := part.Levels[key]
		return l, ok
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func literal(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		return strconv.FormatBool(s), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case json.Number:
		return s.String(), true
	}
	return "", false
}
