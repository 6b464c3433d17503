package engine

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"readyline/internal/domain"
	"readyline/internal/engine/scoring"
	"readyline/internal/events"
)

// ResponseUpdateOptions are parameters for updating a response. Nil fields
// are left unchanged.
type ResponseUpdateOptions struct {
	ID          string
	RatingScore *float64
	IsUnknown   *bool
	// ClearRating drops the rating without marking the response unknown.
	ClearRating bool
	// RoleIDs replaces the role tags when non-nil; an empty slice clears them.
	RoleIDs     []string
	PartAnswers []scoring.Answer
	Comments    *string
	ActorID     string
}

// UpdateResponse records a manual rating, role tags, comments or part
// answers on one response. Part answers replace earlier answers for the same
// part and the rating is recalculated from the full stored set, read back
// inside the transaction that wrote them.
func (e Engine) UpdateResponse(ctx context.Context, opts ResponseUpdateOptions) (domain.InterviewResponse, error) {
	if opts.ActorID == "" {
		return domain.InterviewResponse{}, ValidationError{Field: "actor_id", Message: "required"}
	}
	resp, err := e.Repo.GetResponse(ctx, opts.ID)
	if err != nil {
		return resp, notFound(err, "response", opts.ID)
	}
	iv, err := e.Repo.GetInterview(ctx, resp.InterviewID)
	if err != nil {
		return resp, notFound(err, "interview", resp.InterviewID)
	}
	if !iv.Enabled {
		return resp, ValidationError{Field: "interview", Message: "interview is disabled"}
	}
	manual := scoring.ManualInput{Score: opts.RatingScore, Unknown: opts.IsUnknown, Clear: opts.ClearRating}
	if len(opts.PartAnswers) > 0 && !manual.Empty() {
		return resp, ValidationError{Field: "part_answers", Message: "cannot be combined with rating_score or is_unknown"}
	}

	next := resp
	next.UpdatedAt = e.timestamp()
	var parts []domain.QuestionPart
	var incoming []domain.PartAnswer
	changes := events.Payload{}

	switch {
	case len(opts.PartAnswers) > 0:
		if !iv.IsIndividual() {
			return resp, ValidationError{Field: "part_answers", Message: "only individual interviews accept part answers"}
		}
		parts, incoming, err = e.levelParts(ctx, resp, opts.PartAnswers, next.UpdatedAt)
		if err != nil {
			return resp, err
		}
	case !manual.Empty():
		if resp.ScoreSource == domain.ScoreCalculated {
			return resp, ValidationError{Field: "rating_score", Message: "rating is calculated from part answers"}
		}
		rating, err := scoring.SetManual(scoring.Rating{Score: resp.RatingScore, Unknown: resp.IsUnknown, Source: resp.ScoreSource}, manual)
		if errors.Is(err, scoring.ErrConflictingRating) {
			return resp, ValidationError{Field: "rating_score", Message: err.Error()}
		}
		if err != nil {
			return resp, err
		}
		next.RatingScore = rating.Score
		next.IsUnknown = rating.Unknown
		next.ScoreSource = rating.Source
		changes["rating_score"] = rating.Score
		changes["is_unknown"] = rating.Unknown
	}

	var roles []string
	if opts.RoleIDs != nil {
		if iv.IsIndividual() {
			return resp, ValidationError{Field: "role_ids", Message: "individual interviews do not take role tags"}
		}
		roles = uniqueIDs(opts.RoleIDs)
		if err := e.checkRoleTags(ctx, iv, resp, roles); err != nil {
			return resp, err
		}
		next.RoleIDs = roles
		changes["role_ids"] = roles
	}
	if opts.Comments != nil {
		c := strings.TrimSpace(*opts.Comments)
		if c == "" {
			next.Comments = nil
		} else {
			next.Comments = &c
		}
		changes["comments"] = next.Comments != nil
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return resp, err
	}
	defer tx.Rollback()
	if len(incoming) > 0 {
		// The transaction holds the write lock from BEGIN, so the parts read
		// back include every concurrent update committed before it.
		if err := e.Repo.UpsertPartAnswers(ctx, tx, resp.ID, incoming); err != nil {
			return resp, err
		}
		all, err := e.Repo.ListPartAnswers(ctx, tx, resp.ID)
		if err != nil {
			return resp, err
		}
		rating, err := e.rateParts(resp.QuestionID, parts, all)
		if err != nil {
			return resp, err
		}
		next.RatingScore = rating.Score
		next.IsUnknown = rating.Unknown
		next.ScoreSource = rating.Source
		changes["part_answers"] = len(incoming)
		changes["rating_score"] = rating.Score
	}
	if err := e.Repo.UpdateResponse(ctx, tx, next); err != nil {
		return resp, notFound(err, "response", resp.ID)
	}
	if opts.RoleIDs != nil {
		if err := e.Repo.ReplaceResponseRoles(ctx, tx, resp.ID, roles); err != nil {
			return resp, err
		}
	}
	if err := e.Repo.TouchInterview(ctx, tx, iv.ID, next.UpdatedAt); err != nil {
		return resp, err
	}
	changes["interview_id"] = iv.ID
	changes["question_id"] = resp.QuestionID
	if err := e.events().Append(ctx, tx, events.ResponseUpdated, iv.CompanyID, "response", resp.ID, opts.ActorID, changes); err != nil {
		return resp, err
	}
	if err := tx.Commit(); err != nil {
		return resp, err
	}
	return e.GetResponse(ctx, resp.ID)
}

// levelParts validates the incoming answers against the question's parts and
// levels them. The returned answers hold one entry per answered part, the
// last answer for a part winning.
func (e Engine) levelParts(ctx context.Context, resp domain.InterviewResponse, answers []scoring.Answer, now string) ([]domain.QuestionPart, []domain.PartAnswer, error) {
	parts, err := e.Repo.ListQuestionParts(ctx, resp.QuestionID)
	if err != nil {
		return nil, nil, err
	}
	incoming, err := scoring.Apply(parts, answers, e.scoringOptions())
	if err != nil {
		return nil, nil, e.scoringError(resp.QuestionID, err)
	}
	out := make([]domain.PartAnswer, 0, len(incoming.Parts))
	for _, p := range incoming.Parts {
		if p.Level == nil {
			e.log().Debug("part answer has no mapped level",
				zap.String("response_id", resp.ID), zap.String("part_id", p.PartID), zap.Any("value", p.Value))
		}
		out = append(out, domain.PartAnswer{PartID: p.PartID, Value: p.Value, Level: p.Level, AnsweredAt: now})
	}
	return parts, out, nil
}

// rateParts derives the calculated rating from every stored part answer.
func (e Engine) rateParts(questionID string, parts []domain.QuestionPart, stored []domain.PartAnswer) (scoring.Rating, error) {
	answers := make([]scoring.Answer, 0, len(stored))
	for _, a := range stored {
		answers = append(answers, scoring.Answer{PartID: a.PartID, Value: a.Value})
	}
	total, err := scoring.Apply(parts, answers, e.scoringOptions())
	if err != nil {
		return scoring.Rating{}, e.scoringError(questionID, err)
	}
	return scoring.Calculated(total.Rating), nil
}

func (e Engine) scoringOptions() scoring.Options {
	return scoring.Options{Strict: e.Config != nil && e.Config.Scoring.Strict}
}

func (e Engine) scoringError(questionID string, err error) error {
	var unknownPart scoring.UnknownPartError
	var unmapped scoring.UnmappedValueError
	switch {
	case errors.Is(err, scoring.ErrNoPartScoring):
		return InvalidConfigurationError{QuestionID: questionID, Reason: "question has no part scoring"}
	case errors.As(err, &unknownPart):
		return InvalidConfigurationError{QuestionID: questionID, PartID: unknownPart.PartID, Reason: "part is not configured"}
	case errors.As(err, &unmapped):
		return ValidationError{Field: "part_answers", Message: unmapped.Error()}
	}
	return err
}

// checkRoleTags rejects tags that are not applicable to the response's
// question within the interview.
func (e Engine) checkRoleTags(ctx context.Context, iv domain.Interview, resp domain.InterviewResponse, roles []string) error {
	if len(roles) == 0 {
		return nil
	}
	allowed, _, err := e.applicableRoleIDs(ctx, iv, resp.QuestionID)
	if err != nil {
		return err
	}
	for _, id := range roles {
		if !allowed[id] {
			return ValidationError{Field: "role_ids", Message: "role " + id + " is not applicable to question " + resp.QuestionID}
		}
	}
	return nil
}

// applicableRoleIDs expands the stored applicability records of a question:
// a universal question accepts any interview role, or any company role when
// the interview is unscoped.
func (e Engine) applicableRoleIDs(ctx context.Context, iv domain.Interview, questionID string) (map[string]bool, bool, error) {
	records, err := e.Repo.ListApplicableRoles(ctx, iv.ID, questionID)
	if err != nil {
		return nil, false, err
	}
	allowed := map[string]bool{}
	universal := false
	for _, r := range records {
		if r.IsUniversal {
			universal = true
			continue
		}
		if r.CompanyRoleID != nil {
			allowed[*r.CompanyRoleID] = true
		}
	}
	if !universal {
		return allowed, false, nil
	}
	if len(iv.RoleIDs) > 0 {
		for _, id := range iv.RoleIDs {
			allowed[id] = true
		}
		return allowed, true, nil
	}
	roles, err := e.Repo.ListCompanyRoles(ctx, iv.CompanyID)
	if err != nil {
		return nil, true, err
	}
	for _, r := range roles {
		allowed[r.ID] = true
	}
	return allowed, true, nil
}

func (e Engine) GetResponse(ctx context.Context, id string) (domain.InterviewResponse, error) {
	resp, err := e.Repo.GetResponse(ctx, id)
	if err != nil {
		return resp, notFound(err, "response", id)
	}
	return resp, nil
}

// ListResponses returns an interview's responses in questionnaire order.
func (e Engine) ListResponses(ctx context.Context, interviewID string) ([]domain.InterviewResponse, error) {
	if _, err := e.GetInterview(ctx, interviewID); err != nil {
		return nil, err
	}
	return e.Repo.ListResponses(ctx, interviewID)
}

// ApplicableRoles is the role picker for one question of an interview.
type ApplicableRoles struct {
	InterviewID string               `json:"interview_id"`
	QuestionID  string               `json:"question_id"`
	Applicable  bool                 `json:"applicable"`
	Universal   bool                 `json:"universal"`
	Roles       []domain.CompanyRole `json:"roles"`
}

// ListApplicableRoles returns which company roles may answer a question.
func (e Engine) ListApplicableRoles(ctx context.Context, interviewID, questionID string) (ApplicableRoles, error) {
	out := ApplicableRoles{InterviewID: interviewID, QuestionID: questionID}
	iv, err := e.GetInterview(ctx, interviewID)
	if err != nil {
		return out, err
	}
	responses, err := e.Repo.ListResponses(ctx, interviewID)
	if err != nil {
		return out, err
	}
	found := false
	for _, r := range responses {
		if r.QuestionID == questionID {
			found = true
			out.Applicable = r.IsApplicable
			break
		}
	}
	if !found {
		return out, NotFoundError{Kind: "question", ID: questionID}
	}
	allowed, universal, err := e.applicableRoleIDs(ctx, iv, questionID)
	if err != nil {
		return out, err
	}
	out.Universal = universal
	roles, err := e.Repo.ListCompanyRoles(ctx, iv.CompanyID)
	if err != nil {
		return out, err
	}
	var picked []domain.CompanyRole
	for _, r := range roles {
		if allowed[r.ID] {
			picked = append(picked, r)
		}
	}
	out.Roles, err = e.withPaths(ctx, iv.CompanyID, picked)
	return out, err
}
