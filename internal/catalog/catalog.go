// Package catalog reads questionnaire and company definitions from YAML and
// turns them into domain records ready to be stored.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"readyline/internal/domain"
)

// namespace seeds the deterministic ids of records that omit one, so that
// importing the same file twice yields the same ids.
var namespace = uuid.MustParse("6f1c7a52-3c0e-4b8e-9a55-2f0d5d7a9e11")

// File models a catalog YAML document.
type File struct {
	RoleCategories []RoleCategory  `yaml:"role_categories"`
	Questionnaires []Questionnaire `yaml:"questionnaires"`
	Companies      []Company       `yaml:"companies"`
}

type RoleCategory struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type Questionnaire struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Sections    []Section `yaml:"sections"`
}

type Section struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Steps []Step `yaml:"steps"`
}

type Step struct {
	ID        string     `yaml:"id"`
	Title     string     `yaml:"title"`
	Questions []Question `yaml:"questions"`
}

type Question struct {
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	Text  string `yaml:"text"`
	// RoleCategories lists category ids or names; empty means universal.
	RoleCategories []string `yaml:"role_categories"`
	Parts          []Part   `yaml:"parts"`
}

type Part struct {
	ID         string                `yaml:"id"`
	Text       string                `yaml:"text"`
	AnswerType string                `yaml:"answer_type"`
	Levels     map[string]int        `yaml:"levels"`
	Ranges     []domain.NumericRange `yaml:"ranges"`
}

type Company struct {
	ID          string       `yaml:"id"`
	Name        string       `yaml:"name"`
	Org         []OrgNode    `yaml:"org"`
	Roles       []Role       `yaml:"roles"`
	Contacts    []Contact    `yaml:"contacts"`
	Assessments []Assessment `yaml:"assessments"`
}

// OrgNode is one level of a company hierarchy (business unit, region,
// site, work group...). Roles placed under a node inherit its path.
type OrgNode struct {
	ID       string    `yaml:"id"`
	Kind     string    `yaml:"kind"`
	Name     string    `yaml:"name"`
	Roles    []Role    `yaml:"roles"`
	Children []OrgNode `yaml:"children"`
}

type Role struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
}

type Contact struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
	// Role references a company role by id or name.
	Role string `yaml:"role"`
}

type Assessment struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	Questionnaire string `yaml:"questionnaire"`
}

// Bundle is a resolved catalog: every id filled in and every reference
// pointing at an id.
type Bundle struct {
	RoleCategories []domain.RoleCategory
	Questionnaires []domain.Questionnaire
	Companies      []CompanyBundle
}

type CompanyBundle struct {
	Company     domain.Company
	OrgNodes    []domain.OrgNode
	Roles       []domain.CompanyRole
	Contacts    []domain.Contact
	Assessments []domain.Assessment
}

// Counts summarizes a bundle for logs and event payloads.
func (b Bundle) Counts() map[string]int {
	counts := map[string]int{
		"role_categories": len(b.RoleCategories),
		"questionnaires":  len(b.Questionnaires),
		"companies":       len(b.Companies),
	}
	for _, q := range b.Questionnaires {
		for _, s := range q.Sections {
			for _, st := range s.Steps {
				counts["questions"] += len(st.Questions)
			}
		}
	}
	for _, c := range b.Companies {
		counts["roles"] += len(c.Roles)
		counts["contacts"] += len(c.Contacts)
		counts["assessments"] += len(c.Assessments)
	}
	return counts
}

// FromYAML parses a catalog document.
func FromYAML(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid catalog yaml: %w", err)
	}
	return &f, nil
}

// FromFile reads a catalog from disk.
func FromFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

func deriveID(explicit string, parts ...string) string {
	if explicit != "" {
		return explicit
	}
	return uuid.NewSHA1(namespace, []byte(strings.Join(parts, "/"))).String()
}

// Resolve validates the file and produces a Bundle stamped with createdAt.
func (f *File) Resolve(createdAt string) (Bundle, error) {
	var b Bundle
	categories := map[string]string{}
	for i, c := range f.RoleCategories {
		if strings.TrimSpace(c.Name) == "" {
			return b, fmt.Errorf("role_categories[%d]: name is required", i)
		}
		id := deriveID(c.ID, "role_category", c.Name)
		if err := register(categories, "role category", id, c.Name); err != nil {
			return b, err
		}
		b.RoleCategories = append(b.RoleCategories, domain.RoleCategory{ID: id, Name: c.Name, Description: c.Description})
	}

	questionnaires := map[string]string{}
	for i, q := range f.Questionnaires {
		rq, err := resolveQuestionnaire(q, categories, createdAt)
		if err != nil {
			return b, fmt.Errorf("questionnaires[%d]: %w", i, err)
		}
		if err := register(questionnaires, "questionnaire", rq.ID, rq.Name); err != nil {
			return b, err
		}
		b.Questionnaires = append(b.Questionnaires, rq)
	}

	for i, c := range f.Companies {
		cb, err := resolveCompany(c, categories, questionnaires, createdAt)
		if err != nil {
			return b, fmt.Errorf("companies[%d]: %w", i, err)
		}
		b.Companies = append(b.Companies, cb)
	}
	return b, nil
}

// register indexes a record under its id and its name. A name shared by two
// records is kept out of the index so that it cannot be used as a reference.
func register(index map[string]string, kind, id, name string) error {
	if _, dup := index[id]; dup && index[id] == id {
		return fmt.Errorf("duplicate %s id %s", kind, id)
	}
	index[id] = id
	if name == "" || name == id {
		return nil
	}
	if prev, ok := index[name]; ok && prev != id {
		index[name] = ""
		return nil
	}
	index[name] = id
	return nil
}

func lookup(index map[string]string, kind, ref string) (string, error) {
	id, ok := index[ref]
	if !ok {
		return "", fmt.Errorf("unknown %s %q", kind, ref)
	}
	if id == "" {
		return "", fmt.Errorf("ambiguous %s name %q; reference it by id", kind, ref)
	}
	return id, nil
}

func resolveQuestionnaire(q Questionnaire, categories map[string]string, createdAt string) (domain.Questionnaire, error) {
	if strings.TrimSpace(q.Name) == "" {
		return domain.Questionnaire{}, fmt.Errorf("name is required")
	}
	out := domain.Questionnaire{
		ID:          deriveID(q.ID, "questionnaire", q.Name),
		Name:        q.Name,
		Description: q.Description,
		CreatedAt:   createdAt,
	}
	for si, s := range q.Sections {
		sec := domain.Section{
			ID:              deriveID(s.ID, out.ID, "section", fmt.Sprint(si)),
			QuestionnaireID: out.ID,
			Ordinal:         si + 1,
			Title:           s.Title,
		}
		for sti, st := range s.Steps {
			step := domain.Step{
				ID:        deriveID(st.ID, sec.ID, "step", fmt.Sprint(sti)),
				SectionID: sec.ID,
				Ordinal:   sti + 1,
				Title:     st.Title,
			}
			for qi, qu := range st.Questions {
				rq, err := resolveQuestion(qu, step.ID, qi+1, categories)
				if err != nil {
					return out, fmt.Errorf("sections[%d].steps[%d].questions[%d]: %w", si, sti, qi, err)
				}
				step.Questions = append(step.Questions, rq)
			}
			sec.Steps = append(sec.Steps, step)
		}
		out.Sections = append(out.Sections, sec)
	}
	return out, nil
}

func resolveQuestion(q Question, stepID string, ordinal int, categories map[string]string) (domain.Question, error) {
	if strings.TrimSpace(q.Title) == "" {
		return domain.Question{}, fmt.Errorf("title is required")
	}
	out := domain.Question{
		ID:      deriveID(q.ID, stepID, "question", fmt.Sprint(ordinal)),
		StepID:  stepID,
		Ordinal: ordinal,
		Title:   q.Title,
		Text:    q.Text,
	}
	seen := map[string]bool{}
	for _, ref := range q.RoleCategories {
		id, err := lookup(categories, "role category", ref)
		if err != nil {
			return out, err
		}
		if !seen[id] {
			seen[id] = true
			out.RoleCategoryIDs = append(out.RoleCategoryIDs, id)
		}
	}
	partIDs := map[string]bool{}
	for pi, p := range q.Parts {
		part := domain.QuestionPart{
			ID:         deriveID(p.ID, out.ID, "part", fmt.Sprint(pi)),
			QuestionID: out.ID,
			Ordinal:    pi + 1,
			Text:       p.Text,
			AnswerType: p.AnswerType,
			Levels:     p.Levels,
			Ranges:     p.Ranges,
		}
		if partIDs[part.ID] {
			return out, fmt.Errorf("duplicate part id %s", part.ID)
		}
		partIDs[part.ID] = true
		if err := ValidatePart(part); err != nil {
			return out, fmt.Errorf("parts[%d]: %w", pi, err)
		}
		out.Parts = append(out.Parts, part)
	}
	return out, nil
}

// ValidatePart checks that a part's scoring map fits its answer type.
func ValidatePart(p domain.QuestionPart) error {
	switch p.AnswerType {
	case domain.AnswerBoolean:
		if len(p.Levels) == 0 {
			return fmt.Errorf("boolean part needs levels for true/false")
		}
		for k := range p.Levels {
			if k != "true" && k != "false" {
				return fmt.Errorf("boolean part level key %q must be true or false", k)
			}
		}
		if len(p.Ranges) > 0 {
			return fmt.Errorf("boolean part cannot have ranges")
		}
	case domain.AnswerLabelled:
		if len(p.Levels) == 0 {
			return fmt.Errorf("labelled part needs levels")
		}
		if len(p.Ranges) > 0 {
			return fmt.Errorf("labelled part cannot have ranges")
		}
	case domain.AnswerNumeric:
		if len(p.Ranges) == 0 {
			return fmt.Errorf("numeric part needs ranges")
		}
		for i, r := range p.Ranges {
			if r.Min > r.Max {
				return fmt.Errorf("range %d has min %v above max %v", i, r.Min, r.Max)
			}
		}
		if len(p.Levels) > 0 {
			return fmt.Errorf("numeric part cannot have levels")
		}
	default:
		return fmt.Errorf("unknown answer_type %q", p.AnswerType)
	}
	return nil
}

func resolveCompany(c Company, categories, questionnaires map[string]string, createdAt string) (CompanyBundle, error) {
	var cb CompanyBundle
	if strings.TrimSpace(c.Name) == "" {
		return cb, fmt.Errorf("name is required")
	}
	cb.Company = domain.Company{ID: deriveID(c.ID, "company", c.Name), Name: c.Name, CreatedAt: createdAt}
	roles := map[string]string{}

	addRole := func(r Role, nodeID *string, path string) error {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("%s: role name is required", path)
		}
		cat, err := lookup(categories, "role category", r.Category)
		if err != nil {
			return fmt.Errorf("role %s: %w", r.Name, err)
		}
		id := deriveID(r.ID, cb.Company.ID, path, "role", r.Name)
		if err := register(roles, "company role", id, r.Name); err != nil {
			return err
		}
		cb.Roles = append(cb.Roles, domain.CompanyRole{
			ID:             id,
			CompanyID:      cb.Company.ID,
			OrgNodeID:      nodeID,
			RoleCategoryID: cat,
			Name:           r.Name,
		})
		return nil
	}

	var walk func(nodes []OrgNode, parent *string, path string) error
	walk = func(nodes []OrgNode, parent *string, path string) error {
		for i, n := range nodes {
			if strings.TrimSpace(n.Name) == "" {
				return fmt.Errorf("%s[%d]: org node name is required", path, i)
			}
			nodePath := fmt.Sprintf("%s/%s", path, n.Name)
			id := deriveID(n.ID, cb.Company.ID, "org", nodePath)
			kind := n.Kind
			if kind == "" {
				kind = "unit"
			}
			cb.OrgNodes = append(cb.OrgNodes, domain.OrgNode{ID: id, CompanyID: cb.Company.ID, ParentID: parent, Kind: kind, Name: n.Name})
			nodeID := id
			for _, r := range n.Roles {
				if err := addRole(r, &nodeID, nodePath); err != nil {
					return err
				}
			}
			if err := walk(n.Children, &nodeID, nodePath); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(c.Org, nil, "org"); err != nil {
		return cb, err
	}
	for _, r := range c.Roles {
		if err := addRole(r, nil, "roles"); err != nil {
			return cb, err
		}
	}

	for i, ct := range c.Contacts {
		if strings.TrimSpace(ct.Name) == "" {
			return cb, fmt.Errorf("contacts[%d]: name is required", i)
		}
		contact := domain.Contact{
			ID:        deriveID(ct.ID, cb.Company.ID, "contact", ct.Name, ct.Email),
			CompanyID: cb.Company.ID,
			Name:      ct.Name,
			Email:     ct.Email,
		}
		if ct.Role != "" {
			id, err := lookup(roles, "company role", ct.Role)
			if err != nil {
				return cb, fmt.Errorf("contact %s: %w", ct.Name, err)
			}
			contact.CompanyRoleID = &id
		}
		cb.Contacts = append(cb.Contacts, contact)
	}

	for i, a := range c.Assessments {
		if strings.TrimSpace(a.Name) == "" {
			return cb, fmt.Errorf("assessments[%d]: name is required", i)
		}
		qid, err := lookup(questionnaires, "questionnaire", a.Questionnaire)
		if err != nil {
			return cb, fmt.Errorf("assessment %s: %w", a.Name, err)
		}
		cb.Assessments = append(cb.Assessments, domain.Assessment{
			ID:              deriveID(a.ID, cb.Company.ID, "assessment", a.Name),
			CompanyID:       cb.Company.ID,
			QuestionnaireID: qid,
			Name:            a.Name,
			CreatedAt:       createdAt,
		})
	}
	return cb, nil
}
