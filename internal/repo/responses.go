package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"readyline/internal/domain"
)

// ResponseRole tags one response with the company role that answered it.
type ResponseRole struct {
	ResponseID    string
	CompanyRoleID string
}

const responseColumns = `id,interview_id,question_id,is_applicable,rating_score,is_unknown,comments,score_source,created_at,updated_at`

func scanResponse(row rowScanner) (domain.InterviewResponse, error) {
	var resp domain.InterviewResponse
	var applicable, unknown int
	var rating sql.NullFloat64
	var comments sql.NullString
	err := row.Scan(&resp.ID, &resp.InterviewID, &resp.QuestionID, &applicable, &rating, &unknown, &comments,
		&resp.ScoreSource, &resp.CreatedAt, &resp.UpdatedAt)
	if err != nil {
		return resp, err
	}
	resp.IsApplicable = applicable != 0
	resp.IsUnknown = unknown != 0
	if rating.Valid {
		v := rating.Float64
		resp.RatingScore = &v
	}
	resp.Comments = stringPtr(comments)
	return resp, nil
}

// InsertResponses writes the placeholder responses of a new interview in one
// batch.
func (r Repo) InsertResponses(ctx context.Context, responses []domain.InterviewResponse) error {
	if len(responses) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO interview_responses(`+responseColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, resp := range responses {
			if _, err := stmt.ExecContext(ctx, resp.ID, resp.InterviewID, resp.QuestionID, boolInt(resp.IsApplicable),
				nullableFloatPtr(resp.RatingScore), boolInt(resp.IsUnknown), nullableStringPtr(resp.Comments),
				resp.ScoreSource, resp.CreatedAt, resp.UpdatedAt); err != nil {
				return fmt.Errorf("response for question %s: %w", resp.QuestionID, err)
			}
		}
		return nil
	})
}

func (r Repo) InsertApplicableRoles(ctx context.Context, records []domain.ApplicableRole) error {
	if len(records) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO interview_applicable_roles(id,interview_id,question_id,company_role_id,is_universal) VALUES (?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, ar := range records {
			if _, err := stmt.ExecContext(ctx, ar.ID, ar.InterviewID, ar.QuestionID, nullableStringPtr(ar.CompanyRoleID), boolInt(ar.IsUniversal)); err != nil {
				return fmt.Errorf("applicable role for question %s: %w", ar.QuestionID, err)
			}
		}
		return nil
	})
}

func (r Repo) InsertResponseRoles(ctx context.Context, tags []ResponseRole) error {
	if len(tags) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tags {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO response_roles(response_id,company_role_id) VALUES (?,?)`, t.ResponseID, t.CompanyRoleID); err != nil {
				return fmt.Errorf("response role %s: %w", t.ResponseID, err)
			}
		}
		return nil
	})
}

// ReplaceResponseRoles swaps the full role tag set of a response.
func (r Repo) ReplaceResponseRoles(ctx context.Context, tx *sql.Tx, responseID string, roleIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM response_roles WHERE response_id=?`, responseID); err != nil {
		return err
	}
	for _, id := range roleIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO response_roles(response_id,company_role_id) VALUES (?,?)`, responseID, id); err != nil {
			return err
		}
	}
	return nil
}

// UpdateResponse persists the rating, unknown marker, comments and score
// source of a response.
func (r Repo) UpdateResponse(ctx context.Context, tx *sql.Tx, resp domain.InterviewResponse) error {
	res, err := tx.ExecContext(ctx, `UPDATE interview_responses SET rating_score=?, is_unknown=?, comments=?, score_source=?, updated_at=? WHERE id=?`,
		nullableFloatPtr(resp.RatingScore), boolInt(resp.IsUnknown), nullableStringPtr(resp.Comments), resp.ScoreSource, resp.UpdatedAt, resp.ID)
	if err != nil {
		return err
	}
	return requireAffected(res, "response "+resp.ID)
}

// UpsertPartAnswers stores raw part answers, replacing any previous answer
// for the same part.
func (r Repo) UpsertPartAnswers(ctx context.Context, tx *sql.Tx, responseID string, answers []domain.PartAnswer) error {
	for _, a := range answers {
		data, err := json.Marshal(a.Value)
		if err != nil {
			return fmt.Errorf("part %s value: %w", a.PartID, err)
		}
		var level any
		if a.Level != nil {
			level = *a.Level
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO response_part_answers(response_id,part_id,value_json,level,answered_at) VALUES (?,?,?,?,?)
ON CONFLICT(response_id,part_id) DO UPDATE SET value_json=excluded.value_json, level=excluded.level, answered_at=excluded.answered_at`,
			responseID, a.PartID, string(data), level, a.AnsweredAt); err != nil {
			return fmt.Errorf("part %s: %w", a.PartID, err)
		}
	}
	return nil
}

// GetResponse loads a response of a live interview with its role tags and
// part answers.
func (r Repo) GetResponse(ctx context.Context, id string) (domain.InterviewResponse, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+prefixed("ir", responseColumns)+`
FROM interview_responses ir JOIN interviews i ON i.id=ir.interview_id
WHERE ir.id=? AND i.deleted_at IS NULL`, id)
	resp, err := scanResponse(row)
	if err != nil {
		return resp, notFoundIfNoRows(err, "response "+id)
	}
	roles, err := r.DB.QueryContext(ctx, `SELECT company_role_id FROM response_roles WHERE response_id=? ORDER BY company_role_id`, id)
	if err != nil {
		return resp, err
	}
	if resp.RoleIDs, err = scanStrings(roles); err != nil {
		return resp, err
	}
	resp.PartAnswers, err = r.ListPartAnswers(ctx, r.DB, id)
	return resp, err
}

// ListResponses returns every response of an interview in questionnaire
// order, with role tags and part answers attached.
func (r Repo) ListResponses(ctx context.Context, interviewID string) ([]domain.InterviewResponse, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+prefixed("ir", responseColumns)+`
FROM interview_responses ir
JOIN questions q ON q.id=ir.question_id
JOIN questionnaire_steps st ON st.id=q.step_id
JOIN questionnaire_sections sec ON sec.id=st.section_id
WHERE ir.interview_id=?
ORDER BY sec.ordinal, st.ordinal, q.ordinal, q.id`, interviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.InterviewResponse
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, resp)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	tags, err := r.DB.QueryContext(ctx, `SELECT rr.response_id, rr.company_role_id FROM response_roles rr
JOIN interview_responses ir ON ir.id=rr.response_id
WHERE ir.interview_id=? ORDER BY rr.response_id, rr.company_role_id`, interviewID)
	if err != nil {
		return nil, err
	}
	defer tags.Close()
	roles := map[string][]string{}
	for tags.Next() {
		var respID, roleID string
		if err := tags.Scan(&respID, &roleID); err != nil {
			return nil, err
		}
		roles[respID] = append(roles[respID], roleID)
	}
	if err := tags.Err(); err != nil {
		return nil, err
	}
	answers, err := listPartAnswers(ctx, r.DB, `pa.response_id IN (SELECT id FROM interview_responses WHERE interview_id=?)`, interviewID)
	if err != nil {
		return nil, err
	}
	for i := range res {
		res[i].RoleIDs = roles[res[i].ID]
		res[i].PartAnswers = answers[res[i].ID]
	}
	return res, nil
}

// ListPartAnswers returns the stored part answers of one response in part
// order. Pass the update's transaction to see its own writes.
func (r Repo) ListPartAnswers(ctx context.Context, q Querier, responseID string) ([]domain.PartAnswer, error) {
	answers, err := listPartAnswers(ctx, q, `pa.response_id=?`, responseID)
	if err != nil {
		return nil, err
	}
	return answers[responseID], nil
}

func listPartAnswers(ctx context.Context, q Querier, where string, arg any) (map[string][]domain.PartAnswer, error) {
	rows, err := q.QueryContext(ctx, `SELECT pa.response_id, pa.part_id, pa.value_json, pa.level, pa.answered_at
FROM response_part_answers pa JOIN question_parts p ON p.id=pa.part_id
WHERE `+where+` ORDER BY pa.response_id, p.ordinal, pa.part_id`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string][]domain.PartAnswer{}
	for rows.Next() {
		var respID, raw string
		var pa domain.PartAnswer
		var level sql.NullInt64
		if err := rows.Scan(&respID, &pa.PartID, &raw, &level, &pa.AnsweredAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &pa.Value); err != nil {
			return nil, fmt.Errorf("part %s value: %w", pa.PartID, err)
		}
		if level.Valid {
			l := int(level.Int64)
			pa.Level = &l
		}
		out[respID] = append(out[respID], pa)
	}
	return out, rows.Err()
}

// ListApplicableRoles returns the stored applicability records of one
// question within an interview.
func (r Repo) ListApplicableRoles(ctx context.Context, interviewID, questionID string) ([]domain.ApplicableRole, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,interview_id,question_id,company_role_id,is_universal
FROM interview_applicable_roles WHERE interview_id=? AND question_id=? ORDER BY is_universal DESC, company_role_id`, interviewID, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ApplicableRole
	for rows.Next() {
		var ar domain.ApplicableRole
		var role sql.NullString
		var universal int
		if err := rows.Scan(&ar.ID, &ar.InterviewID, &ar.QuestionID, &role, &universal); err != nil {
			return nil, err
		}
		ar.CompanyRoleID = stringPtr(role)
		ar.IsUniversal = universal != 0
		res = append(res, ar)
	}
	return res, rows.Err()
}

func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + c
	}
	return strings.Join(cols, ",")
}
