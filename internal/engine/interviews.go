package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"readyline/internal/domain"
	"readyline/internal/engine/applicability"
	"readyline/internal/events"
	"readyline/internal/repo"
)

// InterviewCreateOptions are parameters for creating an interview.
type InterviewCreateOptions struct {
	CompanyID       string
	QuestionnaireID string
	// AssessmentID, when set, supplies the questionnaire and company.
	AssessmentID string
	// ContactID binds the interview to one respondent (individual interview).
	ContactID string
	// RoleIDs scopes the interview to company roles; empty means open to all.
	RoleIDs []string
	Name    string
	ActorID string
}

// creationStep is one write of the creation sequence.
type creationStep struct {
	name string
	run  func(ctx context.Context) error
}

// CreateInterview materializes an interview with one response per question
// and the applicable-role records for each. The writes are not wrapped in a
// single transaction; if any of them fails, every row already written for
// the interview is deleted before a CreationError is returned.
func (e Engine) CreateInterview(ctx context.Context, opts InterviewCreateOptions) (domain.Interview, error) {
	if opts.ActorID == "" {
		return domain.Interview{}, ValidationError{Field: "actor_id", Message: "required"}
	}
	if opts.AssessmentID != "" {
		a, err := e.Repo.GetAssessment(ctx, opts.AssessmentID)
		if err != nil {
			return domain.Interview{}, notFound(err, "assessment", opts.AssessmentID)
		}
		if opts.QuestionnaireID == "" {
			opts.QuestionnaireID = a.QuestionnaireID
		} else if opts.QuestionnaireID != a.QuestionnaireID {
			return domain.Interview{}, ValidationError{Field: "questionnaire_id", Message: "does not match the assessment's questionnaire"}
		}
		if opts.CompanyID == "" {
			opts.CompanyID = a.CompanyID
		} else if opts.CompanyID != a.CompanyID {
			return domain.Interview{}, ValidationError{Field: "company_id", Message: "does not match the assessment's company"}
		}
	}
	if opts.CompanyID == "" {
		return domain.Interview{}, ValidationError{Field: "company_id", Message: "required"}
	}
	if opts.QuestionnaireID == "" {
		return domain.Interview{}, ValidationError{Field: "questionnaire_id", Message: "required"}
	}
	if _, err := e.Repo.GetCompany(ctx, opts.CompanyID); err != nil {
		return domain.Interview{}, notFound(err, "company", opts.CompanyID)
	}
	if _, err := e.Repo.GetQuestionnaire(ctx, opts.QuestionnaireID); err != nil {
		return domain.Interview{}, notFound(err, "questionnaire", opts.QuestionnaireID)
	}
	if opts.ContactID != "" {
		c, err := e.Repo.GetContact(ctx, opts.ContactID)
		if err != nil {
			return domain.Interview{}, notFound(err, "contact", opts.ContactID)
		}
		if c.CompanyID != opts.CompanyID {
			return domain.Interview{}, ValidationError{Field: "contact_id", Message: "contact belongs to another company"}
		}
	}

	companyRoles, err := e.Repo.ListCompanyRoles(ctx, opts.CompanyID)
	if err != nil {
		return domain.Interview{}, fmt.Errorf("role lookup failed: %w", err)
	}
	known := make(map[string]bool, len(companyRoles))
	for _, r := range companyRoles {
		known[r.ID] = true
	}
	selected := uniqueIDs(opts.RoleIDs)
	for _, id := range selected {
		if !known[id] {
			return domain.Interview{}, NotFoundError{Kind: "company role", ID: id}
		}
	}

	scopes, err := e.Repo.ListQuestionScopes(ctx, opts.QuestionnaireID)
	if err != nil {
		return domain.Interview{}, fmt.Errorf("question lookup failed: %w", err)
	}
	if len(scopes) == 0 {
		e.log().Warn("no questionnaire associated: questionnaire has no questions",
			zap.String("questionnaire_id", opts.QuestionnaireID), zap.String("company_id", opts.CompanyID))
	}
	decisions := applicability.NewResolver(companyRoles, selected).ResolveAll(scopes)

	now := e.timestamp()
	iv := domain.Interview{
		ID:              uuid.NewString(),
		CompanyID:       opts.CompanyID,
		QuestionnaireID: opts.QuestionnaireID,
		Name:            opts.Name,
		Status:          domain.StatusPending,
		Enabled:         true,
		RoleIDs:         selected,
		CreatedBy:       opts.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if opts.AssessmentID != "" {
		id := opts.AssessmentID
		iv.AssessmentID = &id
	}
	if opts.ContactID != "" {
		id := opts.ContactID
		iv.ContactID = &id
	}

	responses := make([]domain.InterviewResponse, 0, len(decisions))
	var records []domain.ApplicableRole
	var tags []repo.ResponseRole
	applicable := 0
	for _, d := range decisions {
		resp := domain.InterviewResponse{
			ID:           uuid.NewString(),
			InterviewID:  iv.ID,
			QuestionID:   d.QuestionID,
			IsApplicable: d.Applicable,
			ScoreSource:  domain.ScoreManual,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		responses = append(responses, resp)
		if d.Applicable {
			applicable++
		}
		if d.Universal {
			records = append(records, domain.ApplicableRole{ID: uuid.NewString(), InterviewID: iv.ID, QuestionID: d.QuestionID, IsUniversal: true})
		}
		for _, roleID := range d.RoleIDs {
			rid := roleID
			records = append(records, domain.ApplicableRole{ID: uuid.NewString(), InterviewID: iv.ID, QuestionID: d.QuestionID, CompanyRoleID: &rid})
		}
		if len(selected) == 1 {
			tags = append(tags, repo.ResponseRole{ResponseID: resp.ID, CompanyRoleID: selected[0]})
		}
	}

	steps := []creationStep{
		{"interview", func(ctx context.Context) error { return e.Repo.InsertInterview(ctx, iv) }},
		{"interview roles", func(ctx context.Context) error { return e.Repo.InsertInterviewRoles(ctx, iv.ID, selected) }},
		{"responses", func(ctx context.Context) error { return e.Repo.InsertResponses(ctx, responses) }},
		{"applicable roles", func(ctx context.Context) error { return e.Repo.InsertApplicableRoles(ctx, records) }},
		{"response roles", func(ctx context.Context) error { return e.Repo.InsertResponseRoles(ctx, tags) }},
		{"event", func(ctx context.Context) error {
			return e.events().Append(ctx, e.DB, events.InterviewCreated, iv.CompanyID, "interview", iv.ID, opts.ActorID, events.Payload{
				"questionnaire_id": iv.QuestionnaireID,
				"role_ids":         selected,
				"individual":       iv.IsIndividual(),
				"questions":        len(responses),
				"applicable":       applicable,
			})
		}},
	}
	for i, step := range steps {
		if err := step.run(ctx); err != nil {
			if i > 0 {
				e.rollbackCreation(ctx, iv.ID, step.name, err)
			}
			return domain.Interview{}, CreationError{InterviewID: iv.ID, Step: step.name, Err: err}
		}
	}
	e.log().Info("interview created",
		zap.String("interview_id", iv.ID),
		zap.String("company_id", iv.CompanyID),
		zap.Int("questions", len(responses)),
		zap.Int("applicable", applicable),
		zap.Int("applicable_role_records", len(records)))
	return iv, nil
}

// rollbackCreation deletes everything written for a failed creation,
// children first. It runs even when ctx is already cancelled.
func (e Engine) rollbackCreation(ctx context.Context, interviewID, step string, cause error) {
	ctx = context.WithoutCancel(ctx)
	removed, err := e.Repo.PurgeInterview(ctx, interviewID)
	fields := []zap.Field{
		zap.String("interview_id", interviewID),
		zap.String("step", step),
		zap.NamedError("cause", cause),
	}
	for kind, n := range removed {
		if n > 0 {
			fields = append(fields, zap.Int64(kind.String(), n))
		}
	}
	if err != nil {
		e.log().Error("interview creation rollback incomplete", append(fields, zap.Error(err))...)
		return
	}
	e.log().Warn("interview creation rolled back", fields...)
}

func (e Engine) GetInterview(ctx context.Context, id string) (domain.Interview, error) {
	iv, err := e.Repo.GetInterview(ctx, id)
	if err != nil {
		return iv, notFound(err, "interview", id)
	}
	return iv, nil
}

func (e Engine) ListInterviews(ctx context.Context, f repo.InterviewFilters) ([]domain.Interview, error) {
	if f.CompanyID != "" {
		if _, err := e.Repo.GetCompany(ctx, f.CompanyID); err != nil {
			return nil, notFound(err, "company", f.CompanyID)
		}
	}
	return e.Repo.ListInterviews(ctx, f)
}

// DeleteInterview soft-deletes an interview. Its responses stay stored but
// are no longer reachable.
func (e Engine) DeleteInterview(ctx context.Context, id, actorID string) error {
	iv, err := e.GetInterview(ctx, id)
	if err != nil {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.SoftDeleteInterview(ctx, tx, id, e.timestamp()); err != nil {
		return notFound(err, "interview", id)
	}
	if err := e.events().Append(ctx, tx, events.InterviewDeleted, iv.CompanyID, "interview", id, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// SetInterviewEnabled toggles an individual interview. Disabled interviews
// reject response updates.
func (e Engine) SetInterviewEnabled(ctx context.Context, id string, enabled bool, actorID string) (domain.Interview, error) {
	iv, err := e.GetInterview(ctx, id)
	if err != nil {
		return iv, err
	}
	if !iv.IsIndividual() {
		return iv, ValidationError{Field: "enabled", Message: "only individual interviews can be enabled or disabled"}
	}
	if iv.Enabled == enabled {
		return iv, nil
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return iv, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetInterviewEnabled(ctx, tx, id, enabled, e.timestamp()); err != nil {
		return iv, notFound(err, "interview", id)
	}
	if err := e.events().Append(ctx, tx, events.InterviewEnabled, iv.CompanyID, "interview", id, actorID, events.Payload{"enabled": enabled, "status": iv.Status}); err != nil {
		return iv, err
	}
	if err := tx.Commit(); err != nil {
		return iv, err
	}
	return e.GetInterview(ctx, id)
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	var out []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
