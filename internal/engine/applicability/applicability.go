// Package applicability decides which questions of a questionnaire apply to
// an interview and which concrete company roles they apply to.
package applicability

import "readyline/internal/domain"

// Decision is the resolved applicability of one question.
// Universal and a non-empty RoleIDs never coexist.
type Decision struct {
	QuestionID string
	Applicable bool
	Universal  bool
	RoleIDs    []string
}

// Resolver holds the company role pool and the interview scope so that
// per-question resolution does no lookups beyond map reads.
type Resolver struct {
	companyRoles   []domain.CompanyRole
	categoryOf     map[string]string
	interviewRoles []string
}

// NewResolver builds a resolver for one interview. interviewRoles may be
// empty (unscoped); duplicates are ignored.
func NewResolver(companyRoles []domain.CompanyRole, interviewRoles []string) Resolver {
	categoryOf := make(map[string]string, len(companyRoles))
	for _, r := range companyRoles {
		categoryOf[r.ID] = r.RoleCategoryID
	}
	return Resolver{
		companyRoles:   companyRoles,
		categoryOf:     categoryOf,
		interviewRoles: dedupe(interviewRoles),
	}
}

// Resolve applies the decision table for a single question:
//
//	interview unscoped, question universal  -> universal
//	interview scoped,   question universal  -> universal
//	interview unscoped, question restricted -> company roles in the categories
//	interview scoped,   question restricted -> interview roles in the categories
func (r Resolver) Resolve(q domain.QuestionScope) Decision {
	d := Decision{QuestionID: q.QuestionID}
	if len(q.RoleCategoryIDs) == 0 {
		d.Applicable = true
		d.Universal = true
		return d
	}
	wanted := make(map[string]struct{}, len(q.RoleCategoryIDs))
	for _, c := range q.RoleCategoryIDs {
		wanted[c] = struct{}{}
	}
	if len(r.interviewRoles) == 0 {
		for _, role := range r.companyRoles {
			if _, ok := wanted[role.RoleCategoryID]; ok {
				d.RoleIDs = append(d.RoleIDs, role.ID)
			}
		}
	} else {
		for _, id := range r.interviewRoles {
			cat, known := r.categoryOf[id]
			if !known {
				continue
			}
			if _, ok := wanted[cat]; ok {
				d.RoleIDs = append(d.RoleIDs, id)
			}
		}
	}
	d.Applicable = len(d.RoleIDs) > 0
	return d
}

// ResolveAll resolves every question in order.
func (r Resolver) ResolveAll(questions []domain.QuestionScope) []Decision {
	out := make([]Decision, 0, len(questions))
	for _, q := range questions {
		out = append(out, r.Resolve(q))
	}
	return out
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
