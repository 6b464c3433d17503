package repo

import (
	"context"
	"fmt"
)

// Kind enumerates the interview-owned entity tables so that cleanup and
// counts go through one code path instead of a switch per table.
type Kind int

const (
	KindInterview Kind = iota
	KindInterviewRole
	KindResponse
	KindApplicableRole
	KindResponseRole
	KindPartAnswer
)

type kindSpec struct {
	name  string
	table string
	// byInterview selects the kind's rows belonging to one interview.
	byInterview string
}

var kindSpecs = map[Kind]kindSpec{
	KindInterview:      {"interview", "interviews", "id=?"},
	KindInterviewRole:  {"interview role", "interview_roles", "interview_id=?"},
	KindResponse:       {"response", "interview_responses", "interview_id=?"},
	KindApplicableRole: {"applicable role", "interview_applicable_roles", "interview_id=?"},
	KindResponseRole:   {"response role", "response_roles", "response_id IN (SELECT id FROM interview_responses WHERE interview_id=?)"},
	KindPartAnswer:     {"part answer", "response_part_answers", "response_id IN (SELECT id FROM interview_responses WHERE interview_id=?)"},
}

// CleanupOrder lists kinds children first, the order in which an
// interview's rows can be removed without tripping foreign keys.
var CleanupOrder = []Kind{
	KindPartAnswer,
	KindResponseRole,
	KindApplicableRole,
	KindResponse,
	KindInterviewRole,
	KindInterview,
}

func (k Kind) String() string {
	if s, ok := kindSpecs[k]; ok {
		return s.name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func specFor(k Kind) (kindSpec, error) {
	s, ok := kindSpecs[k]
	if !ok {
		return kindSpec{}, fmt.Errorf("unknown entity kind %d", int(k))
	}
	return s, nil
}

// CountForInterview counts the kind's rows owned by an interview.
func (r Repo) CountForInterview(ctx context.Context, kind Kind, interviewID string) (int, error) {
	s, err := specFor(kind)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT count(*) FROM %s WHERE %s`, s.table, s.byInterview), interviewID).Scan(&n)
	return n, err
}

// DeleteForInterview removes the kind's rows owned by an interview and
// returns how many were removed.
func (r Repo) DeleteForInterview(ctx context.Context, kind Kind, interviewID string) (int64, error) {
	s, err := specFor(kind)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s`, s.table, s.byInterview), interviewID)
	if err != nil {
		return 0, fmt.Errorf("delete %s rows: %w", s.name, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeInterview hard-deletes everything an interview owns, children first.
// It keeps going past individual failures and reports the first one.
func (r Repo) PurgeInterview(ctx context.Context, interviewID string) (map[Kind]int64, error) {
	removed := map[Kind]int64{}
	var firstErr error
	for _, k := range CleanupOrder {
		n, err := r.DeleteForInterview(ctx, k, interviewID)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		removed[k] = n
	}
	return removed, firstErr
}
