package readylinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal readyline HTTP API client.
type Client struct {
	BaseURL     string
	CompanyID   string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, companyID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		CompanyID: companyID,
		Timeout:   10 * time.Second,
	}
}

// Interview represents the API interview model (partial).
type Interview struct {
	ID              string   `json:"id"`
	CompanyID       string   `json:"company_id"`
	QuestionnaireID string   `json:"questionnaire_id"`
	ContactID       string   `json:"contact_id,omitempty"`
	Individual      bool     `json:"individual"`
	Status          string   `json:"status"`
	Enabled         bool     `json:"enabled"`
	RoleIDs         []string `json:"role_ids"`
}

// CreateInterviewInput selects the questionnaire and respondents.
type CreateInterviewInput struct {
	QuestionnaireID string   `json:"questionnaire_id,omitempty"`
	AssessmentID    string   `json:"assessment_id,omitempty"`
	ContactID       string   `json:"contact_id,omitempty"`
	RoleIDs         []string `json:"role_ids,omitempty"`
	Name            string   `json:"name,omitempty"`
}

// PartAnswer is one answered part of a decomposed question.
type PartAnswer struct {
	PartID string `json:"part_id"`
	Value  any    `json:"value"`
	Level  *int   `json:"level,omitempty"`
}

// UpdateResponseInput changes a response. Nil fields are left unchanged.
type UpdateResponseInput struct {
	RatingScore *float64     `json:"rating_score,omitempty"`
	IsUnknown   *bool        `json:"is_unknown,omitempty"`
	ClearRating bool         `json:"clear_rating,omitempty"`
	RoleIDs     []string     `json:"role_ids,omitempty"`
	PartAnswers []PartAnswer `json:"part_answers,omitempty"`
	Comments    *string      `json:"comments,omitempty"`
}

// Response represents one question of an interview.
type Response struct {
	ID           string       `json:"id"`
	InterviewID  string       `json:"interview_id"`
	QuestionID   string       `json:"question_id"`
	IsApplicable bool         `json:"is_applicable"`
	RatingScore  *float64     `json:"rating_score"`
	IsUnknown    bool         `json:"is_unknown"`
	ScoreSource  string       `json:"score_source"`
	RoleIDs      []string     `json:"role_ids"`
	PartAnswers  []PartAnswer `json:"part_answers"`
}

// Progress is the derived completion of an interview.
type Progress struct {
	InterviewID        string `json:"interview_id"`
	Status             string `json:"status"`
	TotalQuestions     int    `json:"total_questions"`
	AnsweredQuestions  int    `json:"answered_questions"`
	ProgressPercentage int    `json:"progress_percentage"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s body=%s", e.StatusCode, e.Code, e.Body)
}

// CreateInterview creates an interview for the client's company.
func (c *Client) CreateInterview(ctx context.Context, in CreateInterviewInput) (Interview, error) {
	var resp Interview
	err := c.do(ctx, http.MethodPost, c.companyPath("interviews"), in, &resp)
	return resp, err
}

// UpdateResponse records a rating, role tags or part answers.
func (c *Client) UpdateResponse(ctx context.Context, responseID string, in UpdateResponseInput) (Response, error) {
	var resp Response
	err := c.do(ctx, http.MethodPatch, "v1/responses/"+url.PathEscape(responseID), in, &resp)
	return resp, err
}

// Responses lists the responses of an interview in questionnaire order.
func (c *Client) Responses(ctx context.Context, interviewID string) ([]Response, error) {
	var resp []Response
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/interviews/%s/responses", url.PathEscape(interviewID)), nil, &resp)
	return resp, err
}

// Progress returns the completion of an interview.
func (c *Client) Progress(ctx context.Context, interviewID string) (Progress, error) {
	var resp Progress
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v1/interviews/%s/progress", url.PathEscape(interviewID)), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) companyPath(p string) string {
	company := url.PathEscape(c.CompanyID)
	return fmt.Sprintf("v1/companies/%s/%s", company, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
