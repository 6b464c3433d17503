package domain

// Interview lifecycle states. They are derived from the response set and
// never set directly by callers.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
)

// Part answer types.
const (
	AnswerBoolean  = "boolean"
	AnswerLabelled = "labelled_scale"
	AnswerNumeric  = "numeric"
)

// Score provenance.
const (
	ScoreManual     = "manual"
	ScoreCalculated = "calculated"
)

type RoleCategory struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type Questionnaire struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   string    `json:"created_at" format:"date-time"`
	Sections    []Section `json:"sections,omitempty"`
}

type Section struct {
	ID              string `json:"id"`
	QuestionnaireID string `json:"questionnaire_id"`
	Ordinal         int    `json:"ordinal"`
	Title           string `json:"title"`
	Steps           []Step `json:"steps,omitempty"`
}

type Step struct {
	ID        string     `json:"id"`
	SectionID string     `json:"section_id"`
	Ordinal   int        `json:"ordinal"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions,omitempty"`
}

type Question struct {
	ID              string         `json:"id"`
	StepID          string         `json:"step_id"`
	Ordinal         int            `json:"ordinal"`
	Title           string         `json:"title"`
	Text            string         `json:"text,omitempty"`
	RoleCategoryIDs []string       `json:"role_category_ids,omitempty"`
	Parts           []QuestionPart `json:"parts,omitempty"`
}

// QuestionPart is one scored component of a decomposed question.
// Boolean parts map "true"/"false" in Levels, labelled parts map each label,
// numeric parts use Ranges.
type QuestionPart struct {
	ID         string         `json:"id"`
	QuestionID string         `json:"question_id"`
	Ordinal    int            `json:"ordinal"`
	Text       string         `json:"text,omitempty"`
	AnswerType string         `json:"answer_type" enum:"boolean,labelled_scale,numeric"`
	Levels     map[string]int `json:"levels,omitempty"`
	Ranges     []NumericRange `json:"ranges,omitempty"`
}

type NumericRange struct {
	Min   float64 `json:"min" yaml:"min"`
	Max   float64 `json:"max" yaml:"max"`
	Level int     `json:"level" yaml:"level"`
}

// QuestionScope is a question id with its declared role categories, in
// questionnaire order.
type QuestionScope struct {
	QuestionID      string   `json:"question_id"`
	RoleCategoryIDs []string `json:"role_category_ids,omitempty"`
}

type Company struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type OrgNode struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"company_id"`
	ParentID  *string `json:"parent_id,omitempty"`
	Kind      string  `json:"kind"`
	Name      string  `json:"name"`
}

type CompanyRole struct {
	ID             string   `json:"id"`
	CompanyID      string   `json:"company_id"`
	OrgNodeID      *string  `json:"org_node_id,omitempty"`
	RoleCategoryID string   `json:"role_category_id"`
	Name           string   `json:"name"`
	Path           []string `json:"path,omitempty"`
}

type Contact struct {
	ID            string  `json:"id"`
	CompanyID     string  `json:"company_id"`
	Name          string  `json:"name"`
	Email         string  `json:"email,omitempty"`
	CompanyRoleID *string `json:"company_role_id,omitempty"`
}

type Assessment struct {
	ID              string `json:"id"`
	CompanyID       string `json:"company_id"`
	QuestionnaireID string `json:"questionnaire_id"`
	Name            string `json:"name"`
	CreatedAt       string `json:"created_at" format:"date-time"`
}

type Interview struct {
	ID              string   `json:"id"`
	CompanyID       string   `json:"company_id"`
	QuestionnaireID string   `json:"questionnaire_id"`
	AssessmentID    *string  `json:"assessment_id,omitempty"`
	ContactID       *string  `json:"contact_id,omitempty"`
	Name            string   `json:"name,omitempty"`
	Status          string   `json:"status" enum:"pending,in_progress,completed"`
	Enabled         bool     `json:"enabled"`
	RoleIDs         []string `json:"role_ids,omitempty"`
	CreatedBy       string   `json:"created_by"`
	CreatedAt       string   `json:"created_at" format:"date-time"`
	UpdatedAt       string   `json:"updated_at" format:"date-time"`
	CompletedAt     *string  `json:"completed_at,omitempty" format:"date-time"`
	DeletedAt       *string  `json:"-"`
}

// IsIndividual reports whether the interview is bound to a single contact,
// in which case the respondent role is implicit.
func (i Interview) IsIndividual() bool {
	return i.ContactID != nil && *i.ContactID != ""
}

// HasImplicitRole reports whether every answer is attributable without a
// role tag: the interview is individual or scoped to exactly one role.
func (i Interview) HasImplicitRole() bool {
	return i.IsIndividual() || len(i.RoleIDs) == 1
}

type InterviewResponse struct {
	ID           string       `json:"id"`
	InterviewID  string       `json:"interview_id"`
	QuestionID   string       `json:"question_id"`
	IsApplicable bool         `json:"is_applicable"`
	RatingScore  *float64     `json:"rating_score,omitempty"`
	IsUnknown    bool         `json:"is_unknown"`
	Comments     *string      `json:"comments,omitempty"`
	ScoreSource  string       `json:"score_source" enum:"manual,calculated"`
	RoleIDs      []string     `json:"role_ids,omitempty"`
	PartAnswers  []PartAnswer `json:"part_answers,omitempty"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
	UpdatedAt    string       `json:"updated_at" format:"date-time"`
}

// Answered reports whether a rating or an explicit unknown was recorded.
func (r InterviewResponse) Answered() bool {
	return r.RatingScore != nil || r.IsUnknown
}

type PartAnswer struct {
	PartID     string `json:"part_id"`
	Value      any    `json:"value"`
	Level      *int   `json:"level,omitempty"`
	AnsweredAt string `json:"answered_at,omitempty" format:"date-time"`
}

// ApplicableRole records either a universal marker (CompanyRoleID nil) or
// one applicable concrete role for an (interview, question) pair.
type ApplicableRole struct {
	ID            string  `json:"id"`
	InterviewID   string  `json:"interview_id"`
	QuestionID    string  `json:"question_id"`
	CompanyRoleID *string `json:"company_role_id,omitempty"`
	IsUniversal   bool    `json:"is_universal"`
}

type Progress struct {
	InterviewID        string `json:"interview_id"`
	Status             string `json:"status" enum:"pending,in_progress,completed"`
	TotalQuestions     int    `json:"total_questions"`
	AnsweredQuestions  int    `json:"answered_questions"`
	ProgressPercentage int    `json:"progress_percentage"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	CompanyID  string `json:"company_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
