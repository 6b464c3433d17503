package engine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"readyline/internal/catalog"
	"readyline/internal/config"
	"readyline/internal/db"
	"readyline/internal/domain"
	"readyline/internal/engine"
	"readyline/internal/engine/scoring"
	"readyline/internal/migrate"
	"readyline/internal/repo"
)

const fixture = `
role_categories:
  - {id: planner, name: Maintenance Planner}
  - {id: supervisor, name: Site Supervisor}
  - {id: operator, name: Equipment Operator}
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
              - {id: q3, title: Supervisors sign off shutdowns, role_categories: [supervisor]}
              - {id: q4, title: Operators do pre-start checks, role_categories: [operator]}
      - title: Measurement
        steps:
          - title: KPIs
            questions:
              - id: q5
                title: Schedule compliance is tracked
                parts:
                  - id: q5a
                    answer_type: numeric
                    ranges:
                      - {min: 0, max: 50, level: 1}
                      - {min: 51, max: 100, level: 2}
                  - id: q5b
                    answer_type: boolean
                    levels: {"true": 2, "false": 1}
                  - id: q5c
                    answer_type: labelled_scale
                    levels: {low: 1, high: 3}
  - id: empty
    name: Placeholder
companies:
  - id: acme
    name: Acme Mining
    org:
      - name: North
        kind: region
        children:
          - name: Pit 3
            kind: site
            roles:
              - {id: r-planner, name: Pit Planner, category: planner}
              - {id: r-planner2, name: Shutdown Planner, category: planner}
    roles:
      - {id: r-super, name: Floating Supervisor, category: supervisor}
    contacts:
      - {id: c1, name: Dana, role: r-planner}
    assessments:
      - {id: a1, name: Baseline, questionnaire: mrq}
  - id: globex
    name: Globex
    roles:
      - {id: g-planner, name: Planner, category: planner}
    contacts:
      - {id: c2, name: Sam}
`

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T, tweak ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if _, err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	for _, fn := range tweak {
		fn(cfg)
	}
	eng := engine.New(conn, cfg)
	eng.Log = zaptest.NewLogger(t)
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()
	importYAML(t, eng, ctx, fixture)
	return testEnv{Engine: eng, Ctx: ctx}
}

func importYAML(t *testing.T, eng engine.Engine, ctx context.Context, doc string) {
	t.Helper()
	f, err := catalog.FromYAML([]byte(doc))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	b, err := f.Resolve("2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("resolve catalog: %v", err)
	}
	if _, err := eng.ImportCatalog(ctx, b, "tester"); err != nil {
		t.Fatalf("import catalog: %v", err)
	}
}

func (env testEnv) create(t *testing.T, opts engine.InterviewCreateOptions) domain.Interview {
	t.Helper()
	if opts.ActorID == "" {
		opts.ActorID = "tester"
	}
	iv, err := env.Engine.CreateInterview(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}
	return iv
}

func (env testEnv) response(t *testing.T, interviewID, questionID string) domain.InterviewResponse {
	t.Helper()
	responses, err := env.Engine.ListResponses(env.Ctx, interviewID)
	if err != nil {
		t.Fatalf("list responses: %v", err)
	}
	for _, r := range responses {
		if r.QuestionID == questionID {
			return r
		}
	}
	t.Fatalf("no response for %s", questionID)
	return domain.InterviewResponse{}
}

func (env testEnv) count(t *testing.T, kind repo.Kind, interviewID string) int {
	t.Helper()
	n, err := env.Engine.Repo.CountForInterview(env.Ctx, kind, interviewID)
	if err != nil {
		t.Fatalf("count %s: %v", kind, err)
	}
	return n
}

func float(v float64) *float64 { return &v }
func flag(v bool) *bool          { return &v }

func TestCreateInterviewUnscoped(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq"})
	if iv.Status != domain.StatusPending || !iv.Enabled || iv.IsIndividual() {
		t.Fatalf("unexpected interview %+v", iv)
	}
	responses, err := env.Engine.ListResponses(env.Ctx, iv.ID)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"q1": true, "q2": true, "q3": true, "q4": false, "q5": true}
	if len(responses) != len(want) {
		t.Fatalf("got %d responses, want %d", len(responses), len(want))
	}
	for _, r := range responses {
		if r.IsApplicable != want[r.QuestionID] {
			t.Fatalf("%s applicable=%v", r.QuestionID, r.IsApplicable)
		}
	}
	q2, err := env.Engine.Repo.ListApplicableRoles(env.Ctx, iv.ID, "q2")
	if err != nil {
		t.Fatal(err)
	}
	if len(q2) != 2 || q2[0].IsUniversal {
		t.Fatalf("q2 records %+v", q2)
	}
	q1, _ := env.Engine.Repo.ListApplicableRoles(env.Ctx, iv.ID, "q1")
	if len(q1) != 1 || !q1[0].IsUniversal || q1[0].CompanyRoleID != nil {
		t.Fatalf("q1 records %+v", q1)
	}
	if n := env.count(t, repo.KindApplicableRole, iv.ID); n != 5 {
		t.Fatalf("applicable role rows %d, want 5", n)
	}
	if n := env.count(t, repo.KindResponseRole, iv.ID); n != 0 {
		t.Fatalf("response role rows %d, want 0", n)
	}
}

func TestCreateInterviewSingleRoleTagsEveryResponse(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", RoleIDs: []string{"r-planner", "r-planner"}})
	if len(iv.RoleIDs) != 1 {
		t.Fatalf("role ids %v", iv.RoleIDs)
	}
	if got := env.response(t, iv.ID, "q3"); got.IsApplicable {
		t.Fatalf("q3 should not apply to a planner-only interview")
	}
	q2 := env.response(t, iv.ID, "q2")
	if !q2.IsApplicable || len(q2.RoleIDs) != 1 || q2.RoleIDs[0] != "r-planner" {
		t.Fatalf("q2 %+v", q2)
	}
	if n := env.count(t, repo.KindResponseRole, iv.ID); n != 5 {
		t.Fatalf("response role rows %d, want 5", n)
	}
	if n := env.count(t, repo.KindInterviewRole, iv.ID); n != 1 {
		t.Fatalf("interview role rows %d, want 1", n)
	}
}

func TestCreateInterviewRollsBackOnFailure(t *testing.T) {
	env := newTestEnv(t)
	core, logs := observer.New(zap.WarnLevel)
	env.Engine.Log = zap.New(core)
	if _, err := env.Engine.DB.Exec(`CREATE TRIGGER fail_applicable BEFORE INSERT ON interview_applicable_roles BEGIN SELECT RAISE(ABORT, 'boom'); END;`); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.CreateInterview(env.Ctx, engine.InterviewCreateOptions{
		CompanyID: "acme", QuestionnaireID: "mrq", RoleIDs: []string{"r-planner", "r-super"}, ActorID: "tester",
	})
	var ce engine.CreationError
	if !errors.As(err, &ce) {
		t.Fatalf("expected creation error, got %v", err)
	}
	if ce.Step != "applicable roles" || ce.InterviewID == "" {
		t.Fatalf("creation error %+v", ce)
	}
	if _, err := env.Engine.GetInterview(env.Ctx, ce.InterviewID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found after rollback, got %v", err)
	}
	for _, k := range repo.CleanupOrder {
		if n := env.count(t, k, ce.InterviewID); n != 0 {
			t.Fatalf("%s rows left: %d", k, n)
		}
	}
	if logs.FilterMessage("interview creation rolled back").Len() != 1 {
		t.Fatalf("rollback not logged: %+v", logs.All())
	}
}

func TestCreateInterviewRejectsBadReferences(t *testing.T) {
	env := newTestEnv(t)
	cases := []struct {
		name string
		opts engine.InterviewCreateOptions
		kind string
	}{
		{"questionnaire", engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "nope"}, "questionnaire"},
		{"assessment", engine.InterviewCreateOptions{AssessmentID: "nope"}, "assessment"},
		{"company", engine.InterviewCreateOptions{CompanyID: "nope", QuestionnaireID: "mrq"}, "company"},
		{"foreign role", engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", RoleIDs: []string{"g-planner"}}, "company role"},
		{"contact", engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", ContactID: "nope"}, "contact"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.ActorID = "tester"
			_, err := env.Engine.CreateInterview(env.Ctx, tc.opts)
			var nf engine.NotFoundError
			if !errors.As(err, &nf) || nf.Kind != tc.kind {
				t.Fatalf("expected %s not found, got %v", tc.kind, err)
			}
		})
	}
	_, err := env.Engine.CreateInterview(env.Ctx, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", ContactID: "c2", ActorID: "tester"})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "contact_id" {
		t.Fatalf("expected contact validation error, got %v", err)
	}
	_, err = env.Engine.CreateInterview(env.Ctx, engine.InterviewCreateOptions{AssessmentID: "a1", QuestionnaireID: "empty", ActorID: "tester"})
	if !errors.As(err, &ve) || ve.Field != "questionnaire_id" {
		t.Fatalf("expected questionnaire mismatch, got %v", err)
	}
}

func TestCreateInterviewFromAssessment(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{AssessmentID: "a1"})
	if iv.CompanyID != "acme" || iv.QuestionnaireID != "mrq" || iv.AssessmentID == nil {
		t.Fatalf("interview %+v", iv)
	}
}

func TestEmptyQuestionnaireCreatesEmptyInterview(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "empty"})
	if n := env.count(t, repo.KindResponse, iv.ID); n != 0 {
		t.Fatalf("responses %d", n)
	}
	p, err := env.Engine.GetProgress(env.Ctx, iv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalQuestions != 0 || p.ProgressPercentage != 0 || p.Status != domain.StatusPending {
		t.Fatalf("progress %+v", p)
	}
}

func TestManualRatingSequence(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq"})
	r := env.response(t, iv.ID, "q1")
	update := func(opts engine.ResponseUpdateOptions) domain.InterviewResponse {
		t.Helper()
		opts.ID = r.ID
		opts.ActorID = "tester"
		got, err := env.Engine.UpdateResponse(env.Ctx, opts)
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		return got
	}
	got := update(engine.ResponseUpdateOptions{RatingScore: float(5)})
	if got.RatingScore == nil || *got.RatingScore != 5 || got.IsUnknown || got.ScoreSource != domain.ScoreManual {
		t.Fatalf("after rating %+v", got)
	}
	got = update(engine.ResponseUpdateOptions{IsUnknown: flag(true)})
	if got.RatingScore != nil || !got.IsUnknown {
		t.Fatalf("after unknown %+v", got)
	}
	got = update(engine.ResponseUpdateOptions{RatingScore: float(3)})
	if got.RatingScore == nil || *got.RatingScore != 3 || got.IsUnknown {
		t.Fatalf("after re-rating %+v", got)
	}
	got = update(engine.ResponseUpdateOptions{ClearRating: true})
	if got.RatingScore != nil || got.IsUnknown {
		t.Fatalf("after clear %+v", got)
	}
	_, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "tester", RatingScore: float(2), IsUnknown: flag(true)})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected conflict validation error, got %v", err)
	}
	_, err = env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: "missing", ActorID: "tester", RatingScore: float(2)})
	var nf engine.NotFoundError
	if !errors.As(err, &nf) || nf.Kind != "response" {
		t.Fatalf("expected response not found, got %v", err)
	}
}

func TestPartAnswersAreScored(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", ContactID: "c1", RoleIDs: []string{"r-planner"}})
	r := env.response(t, iv.ID, "q5")
	answer := func(answers ...scoring.Answer) (domain.InterviewResponse, error) {
		return env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "dana", PartAnswers: answers})
	}
	got, err := answer(scoring.Answer{PartID: "q5a", Value: 70.0}, scoring.Answer{PartID: "q5b", Value: true})
	if err != nil {
		t.Fatal(err)
	}
	if got.RatingScore == nil || *got.RatingScore != 2 || got.ScoreSource != domain.ScoreCalculated {
		t.Fatalf("rating %+v", got)
	}
	if len(got.PartAnswers) != 2 || got.PartAnswers[0].Level == nil || *got.PartAnswers[0].Level != 2 {
		t.Fatalf("stored answers %+v", got.PartAnswers)
	}

	got, err = answer(scoring.Answer{PartID: "q5c", Value: "high"})
	if err != nil {
		t.Fatal(err)
	}
	// levels 2, 2, 3 -> floor(7/3)
	if *got.RatingScore != 2 || len(got.PartAnswers) != 3 {
		t.Fatalf("after third part %+v", got)
	}

	got, err = answer(scoring.Answer{PartID: "q5a", Value: 10.0}, scoring.Answer{PartID: "q5c", Value: "medium"})
	if err != nil {
		t.Fatal(err)
	}
	// q5a now level 1, q5c unmapped and skipped -> floor(3/2)
	if *got.RatingScore != 1 || len(got.PartAnswers) != 3 {
		t.Fatalf("after replacement %+v", got)
	}

	_, err = env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "dana", RatingScore: float(4)})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "rating_score" {
		t.Fatalf("manual rating on calculated score: %v", err)
	}
	_, err = answer(scoring.Answer{PartID: "nope", Value: 1.0})
	var ice engine.InvalidConfigurationError
	if !errors.As(err, &ice) || ice.PartID != "nope" {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
	q1 := env.response(t, iv.ID, "q1")
	_, err = env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: q1.ID, ActorID: "dana", PartAnswers: []scoring.Answer{{PartID: "q5a", Value: 1.0}}})
	if !errors.As(err, &ice) || ice.QuestionID != "q1" {
		t.Fatalf("expected missing part scoring, got %v", err)
	}
}

func TestConcurrentPartAnswersKeepRatingDerived(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 20; i++ {
		iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", ContactID: "c1"})
		r := env.response(t, iv.ID, "q5")
		answers := []scoring.Answer{
			{PartID: "q5a", Value: 70.0},
			{PartID: "q5c", Value: "high"},
		}
		errs := make([]error, len(answers))
		var wg sync.WaitGroup
		for j, a := range answers {
			wg.Add(1)
			go func(j int, a scoring.Answer) {
				defer wg.Done()
				_, errs[j] = env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "dana", PartAnswers: []scoring.Answer{a}})
			}(j, a)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				t.Fatalf("iteration %d: %v", i, err)
			}
		}
		got, err := env.Engine.GetResponse(env.Ctx, r.ID)
		if err != nil {
			t.Fatal(err)
		}
		sum := 0
		for _, pa := range got.PartAnswers {
			if pa.Level != nil {
				sum += *pa.Level
			}
		}
		// levels 2 and 3 -> floor(5/2)
		if len(got.PartAnswers) != 2 || sum != 5 || got.RatingScore == nil || *got.RatingScore != 2 {
			t.Fatalf("iteration %d: parts=%d sum=%d rating=%v", i, len(got.PartAnswers), sum, got.RatingScore)
		}
	}
}

func TestPartAnswersRejectedOnMultiRespondent(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq"})
	r := env.response(t, iv.ID, "q5")
	_, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "tester", PartAnswers: []scoring.Answer{{PartID: "q5b", Value: true}}})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "part_answers" {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestStrictScoringRejectsUnmappedValues(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Scoring.Strict = true })
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", ContactID: "c1"})
	r := env.response(t, iv.ID, "q5")
	_, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "dana", PartAnswers: []scoring.Answer{{PartID: "q5c", Value: "medium"}}})
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error in strict mode, got %v", err)
	}
}

func TestRoleTagsMustBeApplicable(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq"})
	q2 := env.response(t, iv.ID, "q2")
	_, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: q2.ID, ActorID: "tester", RoleIDs: []string{"r-super"}})
	var ve engine.ValidationError
	if !errors.As(err, &ve) || ve.Field != "role_ids" {
		t.Fatalf("expected role tag rejection, got %v", err)
	}
	got, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: q2.ID, ActorID: "tester", RoleIDs: []string{"r-planner2"}})
	if err != nil || len(got.RoleIDs) != 1 {
		t.Fatalf("tag planner: %v %+v", err, got)
	}
	q1 := env.response(t, iv.ID, "q1")
	if _, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: q1.ID, ActorID: "tester", RoleIDs: []string{"r-super"}}); err != nil {
		t.Fatalf("universal question should accept any company role: %v", err)
	}
	got, err = env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: q2.ID, ActorID: "tester", RoleIDs: []string{}})
	if err != nil || len(got.RoleIDs) != 0 {
		t.Fatalf("clear tags: %v %+v", err, got)
	}

	ind := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", ContactID: "c1"})
	r := env.response(t, ind.ID, "q1")
	_, err = env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "dana", RoleIDs: []string{"r-planner"}})
	if !errors.As(err, &ve) {
		t.Fatalf("expected rejection on individual interview, got %v", err)
	}
}

func tenQuestionCatalog() string {
	var b strings.Builder
	b.WriteString("questionnaires:\n  - id: ten\n    name: Ten\n    sections:\n      - title: S\n        steps:\n          - title: St\n            questions:\n")
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "              - {id: t%d, title: Question %d}\n", i, i)
	}
	return b.String()
}

func TestProgressMultiRespondentNeedsRoleTags(t *testing.T) {
	env := newTestEnv(t)
	importYAML(t, env.Engine, env.Ctx, tenQuestionCatalog())
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "ten"})
	for i := 1; i <= 4; i++ {
		r := env.response(t, iv.ID, fmt.Sprintf("t%d", i))
		opts := engine.ResponseUpdateOptions{ID: r.ID, ActorID: "tester", RatingScore: float(3)}
		if i <= 3 {
			opts.RoleIDs = []string{"r-planner"}
		}
		if _, err := env.Engine.UpdateResponse(env.Ctx, opts); err != nil {
			t.Fatal(err)
		}
	}
	p, err := env.Engine.GetProgress(env.Ctx, iv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.TotalQuestions != 10 || p.AnsweredQuestions != 3 || p.ProgressPercentage != 30 || p.Status != domain.StatusInProgress {
		t.Fatalf("progress %+v", p)
	}
	stored, _ := env.Engine.GetInterview(env.Ctx, iv.ID)
	if stored.Status != domain.StatusInProgress {
		t.Fatalf("status not written through: %s", stored.Status)
	}
	evts, err := env.Engine.LatestEvents(env.Ctx, repo.EventFilters{EntityID: iv.ID, Type: "interview.status.changed"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("status events %v %+v", err, evts)
	}
}

func TestProgressIndividualWaivesRoleTags(t *testing.T) {
	env := newTestEnv(t)
	importYAML(t, env.Engine, env.Ctx, tenQuestionCatalog())
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "ten", ContactID: "c1"})
	rate := func(from, to int) {
		for i := from; i <= to; i++ {
			r := env.response(t, iv.ID, fmt.Sprintf("t%d", i))
			if _, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "dana", RatingScore: float(2)}); err != nil {
				t.Fatal(err)
			}
		}
	}
	rate(1, 4)
	p, err := env.Engine.GetProgress(env.Ctx, iv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.AnsweredQuestions != 4 || p.ProgressPercentage != 40 {
		t.Fatalf("progress %+v", p)
	}
	rate(5, 10)
	p, _ = env.Engine.GetProgress(env.Ctx, iv.ID)
	if p.Status != domain.StatusCompleted || p.ProgressPercentage != 100 {
		t.Fatalf("progress %+v", p)
	}
	stored, _ := env.Engine.GetInterview(env.Ctx, iv.ID)
	if stored.Status != domain.StatusCompleted || stored.CompletedAt == nil {
		t.Fatalf("stored %+v", stored)
	}
}

func TestProgressSingleRoleWaivesRoleTags(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", RoleIDs: []string{"r-planner"}})
	r := env.response(t, iv.ID, "q1")
	got, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "tester", RatingScore: float(3), RoleIDs: []string{}})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.RoleIDs) != 0 {
		t.Fatalf("tags not cleared: %v", got.RoleIDs)
	}
	p, err := env.Engine.GetProgress(env.Ctx, iv.ID)
	if err != nil {
		t.Fatal(err)
	}
	// q1, q2 and q5 apply to a planner
	if p.TotalQuestions != 3 || p.AnsweredQuestions != 1 || p.Status != domain.StatusInProgress {
		t.Fatalf("progress %+v", p)
	}
}

func TestProgressReturnedWhenStatusPersistFails(t *testing.T) {
	env := newTestEnv(t)
	core, logs := observer.New(zap.WarnLevel)
	env.Engine.Log = zap.New(core)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", ContactID: "c1"})
	r := env.response(t, iv.ID, "q1")
	if _, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "dana", RatingScore: float(1)}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.DB.Exec(`CREATE TRIGGER freeze_status BEFORE UPDATE OF status ON interviews BEGIN SELECT RAISE(ABORT, 'frozen'); END;`); err != nil {
		t.Fatal(err)
	}
	p, err := env.Engine.GetProgress(env.Ctx, iv.ID)
	if err != nil {
		t.Fatalf("progress should not fail: %v", err)
	}
	if p.Status != domain.StatusInProgress {
		t.Fatalf("derived status %s", p.Status)
	}
	stored, _ := env.Engine.GetInterview(env.Ctx, iv.ID)
	if stored.Status != domain.StatusPending {
		t.Fatalf("stored status changed to %s", stored.Status)
	}
	if logs.FilterMessage("persist interview status failed").Len() != 1 {
		t.Fatalf("write-through failure not logged")
	}
}

func TestDeleteAndDisableInterview(t *testing.T) {
	env := newTestEnv(t)
	multi := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq"})
	if _, err := env.Engine.SetInterviewEnabled(env.Ctx, multi.ID, false, "tester"); err == nil {
		t.Fatalf("multi-respondent interview cannot be disabled")
	}
	ind := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq", ContactID: "c1"})
	got, err := env.Engine.SetInterviewEnabled(env.Ctx, ind.ID, false, "tester")
	if err != nil || got.Enabled {
		t.Fatalf("disable: %v %+v", err, got)
	}
	r := env.response(t, ind.ID, "q1")
	if _, err := env.Engine.UpdateResponse(env.Ctx, engine.ResponseUpdateOptions{ID: r.ID, ActorID: "dana", RatingScore: float(1)}); err == nil {
		t.Fatalf("update on disabled interview should fail")
	}

	if err := env.Engine.DeleteInterview(env.Ctx, multi.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetInterview(env.Ctx, multi.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted interview still visible: %v", err)
	}
	list, err := env.Engine.ListInterviews(env.Ctx, repo.InterviewFilters{CompanyID: "acme"})
	if err != nil || len(list) != 1 || list[0].ID != ind.ID {
		t.Fatalf("list %v %+v", err, list)
	}
	if err := env.Engine.DeleteInterview(env.Ctx, multi.ID, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("second delete: %v", err)
	}
}

func TestApplicableRolesCarryOrgPaths(t *testing.T) {
	env := newTestEnv(t)
	iv := env.create(t, engine.InterviewCreateOptions{CompanyID: "acme", QuestionnaireID: "mrq"})
	got, err := env.Engine.ListApplicableRoles(env.Ctx, iv.ID, "q2")
	if err != nil {
		t.Fatal(err)
	}
	if got.Universal || !got.Applicable || len(got.Roles) != 2 {
		t.Fatalf("applicable roles %+v", got)
	}
	path := strings.Join(got.Roles[0].Path, " / ")
	if !strings.HasPrefix(path, "North / Pit 3 / ") {
		t.Fatalf("path %q", path)
	}
	q4, err := env.Engine.ListApplicableRoles(env.Ctx, iv.ID, "q4")
	if err != nil || q4.Applicable || len(q4.Roles) != 0 {
		t.Fatalf("q4 %v %+v", err, q4)
	}
	if _, err := env.Engine.ListApplicableRoles(env.Ctx, iv.ID, "zzz"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("unknown question: %v", err)
	}
}

func TestCatalogImportRecordsEvent(t *testing.T) {
	env := newTestEnv(t)
	evts, err := env.Engine.LatestEvents(env.Ctx, repo.EventFilters{Type: "catalog.imported"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("events %v %+v", err, evts)
	}
	if !strings.Contains(evts[0].Payload, `"questions":5`) {
		t.Fatalf("payload %s", evts[0].Payload)
	}
	roles, err := env.Engine.ListCompanyRoles(env.Ctx, "acme")
	if err != nil || len(roles) != 3 {
		t.Fatalf("roles %v %+v", err, roles)
	}
}
