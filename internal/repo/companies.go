package repo

import (
	"context"
	"database/sql"

	"readyline/internal/domain"
)

func (r Repo) InsertCompany(ctx context.Context, tx *sql.Tx, c domain.Company) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO companies(id,name,created_at) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name`, c.ID, c.Name, c.CreatedAt)
	return err
}

func (r Repo) InsertOrgNode(ctx context.Context, tx *sql.Tx, n domain.OrgNode) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO org_nodes(id,company_id,parent_id,kind,name) VALUES (?,?,?,?,?)`,
		n.ID, n.CompanyID, nullableStringPtr(n.ParentID), n.Kind, n.Name)
	return err
}

func (r Repo) InsertCompanyRole(ctx context.Context, tx *sql.Tx, cr domain.CompanyRole) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO company_roles(id,company_id,org_node_id,role_category_id,name) VALUES (?,?,?,?,?)`,
		cr.ID, cr.CompanyID, nullableStringPtr(cr.OrgNodeID), cr.RoleCategoryID, cr.Name)
	return err
}

func (r Repo) InsertContact(ctx context.Context, tx *sql.Tx, c domain.Contact) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO contacts(id,company_id,name,email,company_role_id) VALUES (?,?,?,?,?)`,
		c.ID, c.CompanyID, c.Name, nullable(c.Email), nullableStringPtr(c.CompanyRoleID))
	return err
}

func (r Repo) InsertAssessment(ctx context.Context, tx *sql.Tx, a domain.Assessment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO assessments(id,company_id,questionnaire_id,name,created_at) VALUES (?,?,?,?,?)`,
		a.ID, a.CompanyID, a.QuestionnaireID, a.Name, a.CreatedAt)
	return err
}

func (r Repo) GetCompany(ctx context.Context, id string) (domain.Company, error) {
	var c domain.Company
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,created_at FROM companies WHERE id=?`, id).Scan(&c.ID, &c.Name, &c.CreatedAt)
	return c, notFoundIfNoRows(err, "company "+id)
}

func (r Repo) ListCompanies(ctx context.Context) ([]domain.Company, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,created_at FROM companies ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Company
	for rows.Next() {
		var c domain.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) ListOrgNodes(ctx context.Context, companyID string) ([]domain.OrgNode, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,company_id,parent_id,kind,name FROM org_nodes WHERE company_id=? ORDER BY id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OrgNode
	for rows.Next() {
		var n domain.OrgNode
		var parent sql.NullString
		if err := rows.Scan(&n.ID, &n.CompanyID, &parent, &n.Kind, &n.Name); err != nil {
			return nil, err
		}
		n.ParentID = stringPtr(parent)
		res = append(res, n)
	}
	return res, rows.Err()
}

// ListCompanyRoles returns every concrete role of a company with the role
// category it belongs to.
func (r Repo) ListCompanyRoles(ctx context.Context, companyID string) ([]domain.CompanyRole, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,company_id,org_node_id,role_category_id,name FROM company_roles WHERE company_id=? ORDER BY name, id`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.CompanyRole
	for rows.Next() {
		var cr domain.CompanyRole
		var node sql.NullString
		if err := rows.Scan(&cr.ID, &cr.CompanyID, &node, &cr.RoleCategoryID, &cr.Name); err != nil {
			return nil, err
		}
		cr.OrgNodeID = stringPtr(node)
		res = append(res, cr)
	}
	return res, rows.Err()
}

func (r Repo) GetContact(ctx context.Context, id string) (domain.Contact, error) {
	var c domain.Contact
	var email, role sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,company_id,name,email,company_role_id FROM contacts WHERE id=?`, id).
		Scan(&c.ID, &c.CompanyID, &c.Name, &email, &role)
	if err != nil {
		return c, notFoundIfNoRows(err, "contact "+id)
	}
	c.Email = email.String
	c.CompanyRoleID = stringPtr(role)
	return c, nil
}

func (r Repo) GetAssessment(ctx context.Context, id string) (domain.Assessment, error) {
	var a domain.Assessment
	err := r.DB.QueryRowContext(ctx, `SELECT id,company_id,questionnaire_id,name,created_at FROM assessments WHERE id=?`, id).
		Scan(&a.ID, &a.CompanyID, &a.QuestionnaireID, &a.Name, &a.CreatedAt)
	return a, notFoundIfNoRows(err, "assessment "+id)
}
