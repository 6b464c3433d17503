package repo

import (
	"context"
	"database/sql"
	"fmt"

	"readyline/internal/domain"
)

const interviewColumns = `id,company_id,questionnaire_id,assessment_id,contact_id,name,status,enabled,created_by,created_at,updated_at,completed_at,deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInterview(row rowScanner) (domain.Interview, error) {
	var iv domain.Interview
	var assessment, contact, name, completed, deleted sql.NullString
	var enabled int
	err := row.Scan(&iv.ID, &iv.CompanyID, &iv.QuestionnaireID, &assessment, &contact, &name, &iv.Status, &enabled,
		&iv.CreatedBy, &iv.CreatedAt, &iv.UpdatedAt, &completed, &deleted)
	if err != nil {
		return iv, err
	}
	iv.AssessmentID = stringPtr(assessment)
	iv.ContactID = stringPtr(contact)
	iv.Name = name.String
	iv.Enabled = enabled != 0
	iv.CompletedAt = stringPtr(completed)
	iv.DeletedAt = stringPtr(deleted)
	return iv, nil
}

// InsertInterview writes the interview row on its own; role associations
// are inserted separately so creation can be unwound step by step.
func (r Repo) InsertInterview(ctx context.Context, iv domain.Interview) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO interviews(`+interviewColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		iv.ID, iv.CompanyID, iv.QuestionnaireID, nullableStringPtr(iv.AssessmentID), nullableStringPtr(iv.ContactID),
		nullable(iv.Name), iv.Status, boolInt(iv.Enabled), iv.CreatedBy, iv.CreatedAt, iv.UpdatedAt,
		nullableStringPtr(iv.CompletedAt), nullableStringPtr(iv.DeletedAt))
	return err
}

func (r Repo) InsertInterviewRoles(ctx context.Context, interviewID string, roleIDs []string) error {
	if len(roleIDs) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, id := range roleIDs {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO interview_roles(interview_id,company_role_id) VALUES (?,?)`, interviewID, id); err != nil {
				return fmt.Errorf("interview role %s: %w", id, err)
			}
		}
		return nil
	})
}

// GetInterview returns a live interview with its selected roles. Soft-deleted
// interviews are reported as not found.
func (r Repo) GetInterview(ctx context.Context, id string) (domain.Interview, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+interviewColumns+` FROM interviews WHERE id=? AND deleted_at IS NULL`, id)
	iv, err := scanInterview(row)
	if err != nil {
		return iv, notFoundIfNoRows(err, "interview "+id)
	}
	iv.RoleIDs, err = r.ListInterviewRoleIDs(ctx, id)
	return iv, err
}

func (r Repo) ListInterviewRoleIDs(ctx context.Context, interviewID string) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT company_role_id FROM interview_roles WHERE interview_id=? ORDER BY company_role_id`, interviewID)
	if err != nil {
		return nil, err
	}
	return scanStrings(rows)
}

type InterviewFilters struct {
	CompanyID string
	Status    string
	ContactID string
	Limit     int
}

func (r Repo) ListInterviews(ctx context.Context, f InterviewFilters) ([]domain.Interview, error) {
	query := `SELECT ` + interviewColumns + ` FROM interviews WHERE deleted_at IS NULL`
	var args []any
	if f.CompanyID != "" {
		query += ` AND company_id=?`
		args = append(args, f.CompanyID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if f.ContactID != "" {
		query += ` AND contact_id=?`
		args = append(args, f.ContactID)
	}
	query += ` ORDER BY created_at DESC, id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Interview
	for rows.Next() {
		iv, err := scanInterview(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, iv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].RoleIDs, err = r.ListInterviewRoleIDs(ctx, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// UpdateInterviewStatus stores a derived status. completedAt is set when the
// interview reaches completed and cleared otherwise.
func (r Repo) UpdateInterviewStatus(ctx context.Context, id, status string, completedAt *string, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE interviews SET status=?, completed_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`,
		status, nullableStringPtr(completedAt), now, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "interview "+id)
}

func (r Repo) SoftDeleteInterview(ctx context.Context, tx *sql.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE interviews SET deleted_at=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, now, now, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "interview "+id)
}

func (r Repo) SetInterviewEnabled(ctx context.Context, tx *sql.Tx, id string, enabled bool, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE interviews SET enabled=?, updated_at=? WHERE id=? AND deleted_at IS NULL`, boolInt(enabled), now, id)
	if err != nil {
		return err
	}
	return requireAffected(res, "interview "+id)
}

func (r Repo) TouchInterview(ctx context.Context, tx *sql.Tx, id, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE interviews SET updated_at=? WHERE id=?`, now, id)
	return err
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}
