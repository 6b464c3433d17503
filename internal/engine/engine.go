package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"readyline/internal/catalog"
	"readyline/internal/config"
	"readyline/internal/domain"
	"readyline/internal/events"
	"readyline/internal/orgtree"
	"readyline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{},
		Config: cfg,
		Log:    zap.NewNop(),
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) log() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) events() events.Writer {
	w := e.Events
	w.Now = e.now
	return w
}

func (e Engine) maxPathDepth() int {
	if e.Config != nil && e.Config.Org.MaxPathDepth > 0 {
		return e.Config.Org.MaxPathDepth
	}
	return orgtree.DefaultMaxDepth
}

// ImportCatalog stores a resolved catalog in one transaction. Role
// categories and companies are upserted so shared definitions can appear in
// several files; everything else must be new.
func (e Engine) ImportCatalog(ctx context.Context, b catalog.Bundle, actorID string) (map[string]int, error) {
	if actorID == "" {
		return nil, ValidationError{Field: "actor_id", Message: "required"}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	for _, c := range b.RoleCategories {
		if err := e.Repo.InsertRoleCategory(ctx, tx, c); err != nil {
			return nil, fmt.Errorf("role category %s: %w", c.ID, err)
		}
	}
	for _, q := range b.Questionnaires {
		if err := e.Repo.InsertQuestionnaire(ctx, tx, q); err != nil {
			return nil, err
		}
	}
	for _, cb := range b.Companies {
		if err := e.Repo.InsertCompany(ctx, tx, cb.Company); err != nil {
			return nil, fmt.Errorf("company %s: %w", cb.Company.ID, err)
		}
		for _, n := range cb.OrgNodes {
			if err := e.Repo.InsertOrgNode(ctx, tx, n); err != nil {
				return nil, fmt.Errorf("org node %s: %w", n.Name, err)
			}
		}
		for _, r := range cb.Roles {
			if err := e.Repo.InsertCompanyRole(ctx, tx, r); err != nil {
				return nil, fmt.Errorf("company role %s: %w", r.Name, err)
			}
		}
		for _, c := range cb.Contacts {
			if err := e.Repo.InsertContact(ctx, tx, c); err != nil {
				return nil, fmt.Errorf("contact %s: %w", c.Name, err)
			}
		}
		for _, a := range cb.Assessments {
			if err := e.Repo.InsertAssessment(ctx, tx, a); err != nil {
				return nil, fmt.Errorf("assessment %s: %w", a.Name, err)
			}
		}
	}
	counts := b.Counts()
	payload := events.Payload{}
	for k, v := range counts {
		payload[k] = v
	}
	if err := e.events().Append(ctx, tx, events.CatalogImported, "", "catalog", "", actorID, payload); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	e.log().Info("catalog imported", zap.Any("counts", counts), zap.String("actor", actorID))
	return counts, nil
}

// ListCompanyRoles returns a company's roles with their org path.
func (e Engine) ListCompanyRoles(ctx context.Context, companyID string) ([]domain.CompanyRole, error) {
	if _, err := e.Repo.GetCompany(ctx, companyID); err != nil {
		return nil, notFound(err, "company", companyID)
	}
	roles, err := e.Repo.ListCompanyRoles(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("role lookup failed: %w", err)
	}
	return e.withPaths(ctx, companyID, roles)
}

func (e Engine) withPaths(ctx context.Context, companyID string, roles []domain.CompanyRole) ([]domain.CompanyRole, error) {
	nodes, err := e.Repo.ListOrgNodes(ctx, companyID)
	if err != nil {
		return nil, fmt.Errorf("org lookup failed: %w", err)
	}
	return orgtree.New(nodes, e.maxPathDepth()).WithPaths(roles), nil
}

// LatestEvents lists audit events newest first.
func (e Engine) LatestEvents(ctx context.Context, f repo.EventFilters) ([]domain.Event, error) {
	return e.Repo.LatestEvents(ctx, f)
}

// CompanyOfInterview returns the owning company of a live interview.
func (e Engine) CompanyOfInterview(ctx context.Context, interviewID string) (string, error) {
	iv, err := e.Repo.GetInterview(ctx, interviewID)
	if err != nil {
		return "", notFound(err, "interview", interviewID)
	}
	return iv.CompanyID, nil
}

// CompanyOfResponse returns the owning company of a response.
func (e Engine) CompanyOfResponse(ctx context.Context, responseID string) (string, error) {
	resp, err := e.Repo.GetResponse(ctx, responseID)
	if err != nil {
		return "", notFound(err, "response", responseID)
	}
	return e.CompanyOfInterview(ctx, resp.InterviewID)
}
