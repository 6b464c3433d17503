package server

import (
	"encoding/json"

	"readyline/internal/domain"
	"readyline/internal/engine"
	"readyline/internal/engine/scoring"
)

// Request payloads

type CreateInterviewRequest struct {
	QuestionnaireID string   `json:"questionnaire_id,omitempty"`
	AssessmentID    string   `json:"assessment_id,omitempty"`
	ContactID       string   `json:"contact_id,omitempty"`
	RoleIDs         []string `json:"role_ids,omitempty"`
	Name            string   `json:"name,omitempty"`
}

type SetEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

type PartAnswerRequest struct {
	PartID string `json:"part_id"`
	Value  any    `json:"value"`
}

type UpdateResponseRequest struct {
	RatingScore *float64            `json:"rating_score,omitempty"`
	IsUnknown   *bool               `json:"is_unknown,omitempty"`
	ClearRating bool                `json:"clear_rating,omitempty"`
	RoleIDs     []string            `json:"role_ids,omitempty"`
	PartAnswers []PartAnswerRequest `json:"part_answers,omitempty"`
	Comments    *string             `json:"comments,omitempty"`
}

// Response payloads

type InterviewResponse struct {
	ID              string   `json:"id"`
	CompanyID       string   `json:"company_id"`
	QuestionnaireID string   `json:"questionnaire_id"`
	AssessmentID    string   `json:"assessment_id,omitempty"`
	ContactID       string   `json:"contact_id,omitempty"`
	Name            string   `json:"name,omitempty"`
	Individual      bool     `json:"individual"`
	Status          string   `json:"status" enum:"pending,in_progress,completed"`
	Enabled         bool     `json:"enabled"`
	RoleIDs         []string `json:"role_ids"`
	CreatedBy       string   `json:"created_by"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
	CompletedAt     *string  `json:"completed_at,omitempty" format:"date-time"`
}

type ResponseResponse struct {
	ID           string              `json:"id"`
	InterviewID  string              `json:"interview_id"`
	QuestionID   string              `json:"question_id"`
	IsApplicable bool                `json:"is_applicable"`
	RatingScore  *float64            `json:"rating_score"`
	IsUnknown    bool                `json:"is_unknown"`
	ScoreSource  string              `json:"score_source,omitempty" enum:"manual,calculated"`
	Comments     *string             `json:"comments,omitempty"`
	RoleIDs      []string            `json:"role_ids"`
	PartAnswers  []domain.PartAnswer `json:"part_answers"`
	UpdatedAt    string              `json:"updated_at" format:"date-time"`
}

// ProgressResponse is the derived completion of an interview.
type ProgressResponse domain.Progress

type RoleResponse struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	RoleCategoryID string   `json:"role_category_id"`
	OrgNodeID      string   `json:"org_node_id,omitempty"`
	Path           []string `json:"path"`
}

type ApplicableRolesResponse struct {
	InterviewID string         `json:"interview_id"`
	QuestionID  string         `json:"question_id"`
	Applicable  bool           `json:"applicable"`
	Universal   bool           `json:"universal"`
	Roles       []RoleResponse `json:"roles"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	CompanyID  string         `json:"company_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedInterviews struct {
	Items []InterviewResponse `json:"items"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func interviewResponse(iv domain.Interview) InterviewResponse {
	return InterviewResponse{
		ID:              iv.ID,
		CompanyID:       iv.CompanyID,
		QuestionnaireID: iv.QuestionnaireID,
		AssessmentID:    stringOrEmpty(iv.AssessmentID),
		ContactID:       stringOrEmpty(iv.ContactID),
		Name:            iv.Name,
		Individual:      iv.IsIndividual(),
		Status:          iv.Status,
		Enabled:         iv.Enabled,
		RoleIDs:         nonNilSlice(iv.RoleIDs),
		CreatedBy:       iv.CreatedBy,
		CreatedAt:       iv.CreatedAt,
		UpdatedAt:       iv.UpdatedAt,
		CompletedAt:     iv.CompletedAt,
	}
}

func mapInterviews(items []domain.Interview) []InterviewResponse {
	out := make([]InterviewResponse, 0, len(items))
	for _, iv := range items {
		out = append(out, interviewResponse(iv))
	}
	return out
}

func responseResponse(r domain.InterviewResponse) ResponseResponse {
	return ResponseResponse{
		ID:           r.ID,
		InterviewID:  r.InterviewID,
		QuestionID:   r.QuestionID,
		IsApplicable: r.IsApplicable,
		RatingScore:  r.RatingScore,
		IsUnknown:    r.IsUnknown,
		ScoreSource:  r.ScoreSource,
		Comments:     r.Comments,
		RoleIDs:      nonNilSlice(r.RoleIDs),
		PartAnswers:  nonNilSlice(r.PartAnswers),
		UpdatedAt:    r.UpdatedAt,
	}
}

func mapResponses(items []domain.InterviewResponse) []ResponseResponse {
	out := make([]ResponseResponse, 0, len(items))
	for _, r := range items {
		out = append(out, responseResponse(r))
	}
	return out
}

func roleResponse(r domain.CompanyRole) RoleResponse {
	return RoleResponse{
		ID:             r.ID,
		Name:           r.Name,
		RoleCategoryID: r.RoleCategoryID,
		OrgNodeID:      stringOrEmpty(r.OrgNodeID),
		Path:           nonNilSlice(r.Path),
	}
}

func mapRoles(items []domain.CompanyRole) []RoleResponse {
	out := make([]RoleResponse, 0, len(items))
	for _, r := range items {
		out = append(out, roleResponse(r))
	}
	return out
}

func applicableRolesResponse(a engine.ApplicableRoles) ApplicableRolesResponse {
	return ApplicableRolesResponse{
		InterviewID: a.InterviewID,
		QuestionID:  a.QuestionID,
		Applicable:  a.Applicable,
		Universal:   a.Universal,
		Roles:       mapRoles(a.Roles),
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		CompanyID:  e.CompanyID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func partAnswers(in []PartAnswerRequest) []scoring.Answer {
	if len(in) == 0 {
		return nil
	}
	out := make([]scoring.Answer, 0, len(in))
	for _, a := range in {
		out = append(out, scoring.Answer{PartID: a.PartID, Value: a.Value})
	}
	return out
}

// JSON helpers

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func stringOrEmpty(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}
