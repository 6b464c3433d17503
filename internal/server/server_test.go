package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"readyline/internal/catalog"
	"readyline/internal/config"
	"readyline/internal/db"
	"readyline/internal/domain"
	"readyline/internal/engine"
	"readyline/internal/migrate"
)

const testSecret = "test-secret"

const testCatalog = `
role_categories:
  - {id: planner, name: Planner}
  - {id: supervisor, name: Supervisor}
questionnaires:
  - id: mrq
    name: Maintenance Readiness
    sections:
      - title: Planning
        steps:
          - title: Work orders
            questions:
              - {id: q1, title: Backlog is reviewed weekly}
              - {id: q2, title: Planners own the schedule, role_categories: [planner]}
              - id: q3
                title: Compliance is tracked
                parts:
                  - id: q3a
                    answer_type: boolean
                    levels: {"true": 3, "false": 1}
companies:
  - id: acme
    name: Acme
    org:
      - name: North
        kind: region
        roles:
          - {id: r-planner, name: Pit Planner, category: planner}
    roles:
      - {id: r-super, name: Supervisor, category: supervisor}
    contacts:
      - {id: c1, name: Dana}
  - id: globex
    name: Globex
`

type testServer struct {
	*httptest.Server
	logs *observer.ObservedLogs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if _, err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	f, err := catalog.FromYAML([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	b, err := f.Resolve("2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("resolve catalog: %v", err)
	}
	if _, err := e.ImportCatalog(context.Background(), b, "tester"); err != nil {
		t.Fatalf("import catalog: %v", err)
	}
	core, logs := observer.New(zap.WarnLevel)
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowLegacyActorHeader: true},
		Logger:   zap.New(core),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		conn.Close()
	})
	return &testServer{Server: srv, logs: logs}
}

func bearer(t *testing.T, actor string, companies ...string) map[string]string {
	t.Helper()
	token, err := SignToken(testSecret, actor, companies, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error envelope: %v (%s)", err, data)
	}
	return env.Error.Code
}

func createInterview(t *testing.T, srv *testServer, headers map[string]string, body CreateInterviewRequest) InterviewResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/companies/acme/interviews", body, headers)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create interview: %d %s", res.StatusCode, data)
	}
	var iv InterviewResponse
	if err := json.Unmarshal(data, &iv); err != nil {
		t.Fatalf("decode interview: %v", err)
	}
	return iv
}

func listResponses(t *testing.T, srv *testServer, headers map[string]string, interviewID string) map[string]ResponseResponse {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/interviews/"+interviewID+"/responses", nil, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list responses: %d %s", res.StatusCode, data)
	}
	var items []ResponseResponse
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("decode responses: %v", err)
	}
	byQuestion := map[string]ResponseResponse{}
	for _, r := range items {
		byQuestion[r.QuestionID] = r
	}
	return byQuestion
}

func TestHealthIsPublic(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/companies/acme/roles", nil, nil)
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "unauthorized" {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/companies/acme/roles", nil, map[string]string{"Authorization": "Bearer nope"})
	if res.StatusCode != http.StatusUnauthorized || errorCode(t, data) != "invalid_credentials" {
		t.Fatalf("expected invalid credentials, got %d %s", res.StatusCode, data)
	}
}

func TestInterviewLifecycleOverHTTP(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	h := bearer(t, "dana", "acme")

	iv := createInterview(t, srv, h, CreateInterviewRequest{QuestionnaireID: "mrq", RoleIDs: []string{"r-planner"}})
	if iv.Status != domain.StatusPending || iv.CreatedBy != "dana" || len(iv.RoleIDs) != 1 {
		t.Fatalf("unexpected interview %+v", iv)
	}
	responses := listResponses(t, srv, h, iv.ID)
	if len(responses) != 3 {
		t.Fatalf("expected 3 responses, got %d", len(responses))
	}
	if got := responses["q1"].RoleIDs; len(got) != 1 || got[0] != "r-planner" {
		t.Fatalf("single-role interview should tag responses, got %v", got)
	}

	res, data := doJSON(t, client, http.MethodPatch, srv.URL+"/v1/responses/"+responses["q1"].ID, map[string]any{"rating_score": 3}, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update response: %d %s", res.StatusCode, data)
	}
	var updated ResponseResponse
	_ = json.Unmarshal(data, &updated)
	if updated.RatingScore == nil || *updated.RatingScore != 3 || updated.ScoreSource != domain.ScoreManual {
		t.Fatalf("unexpected response %+v", updated)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/interviews/"+iv.ID+"/progress", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("progress: %d %s", res.StatusCode, data)
	}
	var p ProgressResponse
	_ = json.Unmarshal(data, &p)
	if p.TotalQuestions != 3 || p.AnsweredQuestions != 1 || p.ProgressPercentage != 33 || p.Status != domain.StatusInProgress {
		t.Fatalf("unexpected progress %+v", p)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?company_id=acme&entity_kind=interview", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events: %d %s", res.StatusCode, data)
	}
	var evts paginatedEvents
	_ = json.Unmarshal(data, &evts)
	if len(evts.Items) != 2 || evts.Items[0].Type != "interview.status.changed" || evts.Items[1].Type != "interview.created" {
		t.Fatalf("unexpected events %+v", evts.Items)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/interviews/"+iv.ID, nil, h)
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/interviews/"+iv.ID, nil, h)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected 404 after delete, got %d %s", res.StatusCode, data)
	}
}

func TestCompanyScopeIsEnforced(t *testing.T) {
	srv := newTestServer(t)
	acme := bearer(t, "dana", "acme")
	globex := bearer(t, "sam", "globex")
	iv := createInterview(t, srv, acme, CreateInterviewRequest{QuestionnaireID: "mrq"})

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/interviews/"+iv.ID+"/progress", nil, globex)
	if res.StatusCode != http.StatusForbidden || errorCode(t, data) != "forbidden" {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/companies/acme/interviews", CreateInterviewRequest{QuestionnaireID: "mrq"}, globex)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 on create, got %d %s", res.StatusCode, data)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events", nil, globex)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("scoped principal must name a company, got %d %s", res.StatusCode, data)
	}
}

func TestErrorEnvelopeMapping(t *testing.T) {
	srv := newTestServer(t)
	client := srv.Client()
	h := bearer(t, "dana", "acme")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/companies/acme/interviews", CreateInterviewRequest{QuestionnaireID: "missing"}, h)
	if res.StatusCode != http.StatusNotFound || errorCode(t, data) != "not_found" {
		t.Fatalf("expected questionnaire not found, got %d %s", res.StatusCode, data)
	}

	individual := createInterview(t, srv, h, CreateInterviewRequest{QuestionnaireID: "mrq", ContactID: "c1"})
	responses := listResponses(t, srv, h, individual.ID)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/responses/"+responses["q1"].ID, map[string]any{"rating_score": 2, "is_unknown": true}, h)
	if res.StatusCode != http.StatusBadRequest || errorCode(t, data) != "bad_request" {
		t.Fatalf("expected conflicting rating to be 400, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/responses/"+responses["q1"].ID, map[string]any{
		"part_answers": []map[string]any{{"part_id": "x", "value": true}},
	}, h)
	if res.StatusCode != http.StatusUnprocessableEntity || errorCode(t, data) != "invalid_configuration" {
		t.Fatalf("expected invalid configuration, got %d %s", res.StatusCode, data)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v1/responses/"+responses["q3"].ID, map[string]any{
		"part_answers": []map[string]any{{"part_id": "q3a", "value": true}},
	}, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("part answers: %d %s", res.StatusCode, data)
	}
	var scored ResponseResponse
	_ = json.Unmarshal(data, &scored)
	if scored.RatingScore == nil || *scored.RatingScore != 3 || scored.ScoreSource != domain.ScoreCalculated {
		t.Fatalf("unexpected calculated response %+v", scored)
	}
}

func TestApplicableRolesAndCompanyRoles(t *testing.T) {
	srv := newTestServer(t)
	h := bearer(t, "dana", "acme")

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/companies/acme/roles", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("roles: %d %s", res.StatusCode, data)
	}
	var roles []RoleResponse
	_ = json.Unmarshal(data, &roles)
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %+v", roles)
	}

	iv := createInterview(t, srv, h, CreateInterviewRequest{QuestionnaireID: "mrq"})
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/interviews/"+iv.ID+"/questions/q2/applicable-roles", nil, h)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("applicable roles: %d %s", res.StatusCode, data)
	}
	var ar ApplicableRolesResponse
	_ = json.Unmarshal(data, &ar)
	if !ar.Applicable || ar.Universal || len(ar.Roles) != 1 || ar.Roles[0].ID != "r-planner" {
		t.Fatalf("unexpected applicable roles %+v", ar)
	}
	if got := ar.Roles[0].Path; len(got) != 2 || got[0] != "North" || got[1] != "Pit Planner" {
		t.Fatalf("unexpected org path %v", ar.Roles[0].Path)
	}
}

func TestLegacyActorHeaderWarns(t *testing.T) {
	srv := newTestServer(t)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/events", nil, map[string]string{"X-Actor-Id": "ops"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("legacy events: %d %s", res.StatusCode, data)
	}
	var evts paginatedEvents
	_ = json.Unmarshal(data, &evts)
	if len(evts.Items) != 1 || evts.Items[0].Type != "catalog.imported" {
		t.Fatalf("unexpected events %+v", evts.Items)
	}
	if srv.logs.FilterMessageSnippet("legacy X-Actor-Id").Len() != 1 {
		t.Fatalf("expected one legacy header warning, got %d", srv.logs.Len())
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/companies/acme/roles", nil, map[string]string{"X-Actor-Id": "ops", "X-Company-Id": "globex"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("legacy company scope ignored: %d %s", res.StatusCode, data)
	}
}

func TestOpenAPIServedConcurrently(t *testing.T) {
	srv := newTestServer(t)
	const n = 8
	bodies := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := srv.Client().Get(srv.URL + "/v1/openapi.json")
			if err != nil {
				errs[i] = err
				return
			}
			defer res.Body.Close()
			bodies[i], errs[i] = io.ReadAll(res.Body)
		}(i)
	}
	wg.Wait()
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("request %d: %v", i, errs[i])
		}
		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Fatalf("request %d got a different document", i)
		}
	}
	var doc map[string]any
	if err := json.Unmarshal(bodies[0], &doc); err != nil {
		t.Fatalf("decode openapi: %v", err)
	}
	if _, ok := doc["openapi"]; !ok {
		t.Fatalf("missing openapi version in %s", bodies[0])
	}
}
