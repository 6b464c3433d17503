package app

import (
	"context"
	"fmt"

	"readyline/internal/config"
	"readyline/internal/repo"
)

// ResolveCompanyAndConfig picks the active company and loads the workspace
// config. It prefers the override, then the only company in the DB.
func ResolveCompanyAndConfig(ctx context.Context, workspace, companyOverride string, r repo.Repo) (string, *config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return "", nil, err
	}
	companyID := companyOverride
	if companyID == "" {
		companies, err := r.ListCompanies(ctx)
		if err != nil {
			return "", nil, err
		}
		if len(companies) != 1 {
			return "", nil, fmt.Errorf("company not specified; use --company")
		}
		companyID = companies[0].ID
	}
	if _, err := r.GetCompany(ctx, companyID); err != nil {
		return "", nil, fmt.Errorf("company %s: %w", companyID, err)
	}
	return companyID, cfg, nil
}
