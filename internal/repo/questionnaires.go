package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"readyline/internal/domain"
)

func (r Repo) InsertRoleCategory(ctx context.Context, tx *sql.Tx, c domain.RoleCategory) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO role_categories(id,name,description) VALUES (?,?,?)
ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description`,
		c.ID, c.Name, nullable(c.Description))
	return err
}

func (r Repo) ListRoleCategories(ctx context.Context) ([]domain.RoleCategory, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,'') FROM role_categories ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoleCategory
	for rows.Next() {
		var c domain.RoleCategory
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// InsertQuestionnaire writes the full section/step/question tree.
func (r Repo) InsertQuestionnaire(ctx context.Context, tx *sql.Tx, q domain.Questionnaire) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO questionnaires(id,name,description,created_at) VALUES (?,?,?,?)`,
		q.ID, q.Name, nullable(q.Description), q.CreatedAt); err != nil {
		return fmt.Errorf("insert questionnaire %s: %w", q.ID, err)
	}
	for _, sec := range q.Sections {
		if _, err := tx.ExecContext(ctx, `INSERT INTO questionnaire_sections(id,questionnaire_id,ordinal,title) VALUES (?,?,?,?)`,
			sec.ID, q.ID, sec.Ordinal, sec.Title); err != nil {
			return fmt.Errorf("insert section %s: %w", sec.ID, err)
		}
		for _, st := range sec.Steps {
			if _, err := tx.ExecContext(ctx, `INSERT INTO questionnaire_steps(id,section_id,ordinal,title) VALUES (?,?,?,?)`,
				st.ID, sec.ID, st.Ordinal, st.Title); err != nil {
				return fmt.Errorf("insert step %s: %w", st.ID, err)
			}
			for _, qu := range st.Questions {
				if err := insertQuestion(ctx, tx, st.ID, qu); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func insertQuestion(ctx context.Context, tx *sql.Tx, stepID string, q domain.Question) error {
	if _, err := tx.ExecContext(ctx, `INSERT INTO questions(id,step_id,ordinal,title,question_text) VALUES (?,?,?,?,?)`,
		q.ID, stepID, q.Ordinal, q.Title, nullable(q.Text)); err != nil {
		return fmt.Errorf("insert question %s: %w", q.ID, err)
	}
	for _, cat := range q.RoleCategoryIDs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO question_role_categories(question_id,role_category_id) VALUES (?,?)`,
			q.ID, cat); err != nil {
			return fmt.Errorf("insert question %s category %s: %w", q.ID, cat, err)
		}
	}
	for _, p := range q.Parts {
		levels, err := marshalOptional(p.Levels, len(p.Levels) > 0)
		if err != nil {
			return err
		}
		ranges, err := marshalOptional(p.Ranges, len(p.Ranges) > 0)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO question_parts(id,question_id,ordinal,part_text,answer_type,levels_json,ranges_json) VALUES (?,?,?,?,?,?,?)`,
			p.ID, q.ID, p.Ordinal, nullable(p.Text), p.AnswerType, levels, ranges); err != nil {
			return fmt.Errorf("insert part %s: %w", p.ID, err)
		}
	}
	return nil
}

func marshalOptional(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r Repo) GetQuestionnaire(ctx context.Context, id string) (domain.Questionnaire, error) {
	var q domain.Questionnaire
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(description,''),created_at FROM questionnaires WHERE id=?`, id).
		Scan(&q.ID, &q.Name, &q.Description, &q.CreatedAt)
	return q, notFoundIfNoRows(err, "questionnaire "+id)
}

func (r Repo) ListQuestionnaires(ctx context.Context) ([]domain.Questionnaire, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,''),created_at FROM questionnaires ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Questionnaire
	for rows.Next() {
		var q domain.Questionnaire
		if err := rows.Scan(&q.ID, &q.Name, &q.Description, &q.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// ListQuestionScopes flattens a questionnaire's questions across sections and
// steps, in order, with each question's declared role categories.
func (r Repo) ListQuestionScopes(ctx context.Context, questionnaireID string) ([]domain.QuestionScope, error) {
	rows, err := r.DB.QueryContext(ctx, `
SELECT q.id, qrc.role_category_id
FROM questions q
JOIN questionnaire_steps st ON st.id=q.step_id
JOIN questionnaire_sections sec ON sec.id=st.section_id
LEFT JOIN question_role_categories qrc ON qrc.question_id=q.id
WHERE sec.questionnaire_id=?
ORDER BY sec.ordinal, st.ordinal, q.ordinal, q.id, qrc.role_category_id`, questionnaireID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QuestionScope
	for rows.Next() {
		var qid string
		var cat sql.NullString
		if err := rows.Scan(&qid, &cat); err != nil {
			return nil, err
		}
		if len(res) == 0 || res[len(res)-1].QuestionID != qid {
			res = append(res, domain.QuestionScope{QuestionID: qid})
		}
		if cat.Valid {
			last := &res[len(res)-1]
			last.RoleCategoryIDs = append(last.RoleCategoryIDs, cat.String)
		}
	}
	return res, rows.Err()
}

func (r Repo) GetQuestion(ctx context.Context, id string) (domain.Question, error) {
	var q domain.Question
	var text sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,step_id,ordinal,title,question_text FROM questions WHERE id=?`, id).
		Scan(&q.ID, &q.StepID, &q.Ordinal, &q.Title, &text)
	if err != nil {
		return q, notFoundIfNoRows(err, "question "+id)
	}
	if text.Valid {
		q.Text = text.String
	}
	cats, err := r.DB.QueryContext(ctx, `SELECT role_category_id FROM question_role_categories WHERE question_id=? ORDER BY role_category_id`, id)
	if err != nil {
		return q, err
	}
	if q.RoleCategoryIDs, err = scanStrings(cats); err != nil {
		return q, err
	}
	q.Parts, err = r.ListQuestionParts(ctx, id)
	return q, err
}

func (r Repo) ListQuestionParts(ctx context.Context, questionID string) ([]domain.QuestionPart, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,question_id,ordinal,COALESCE(part_text,''),answer_type,levels_json,ranges_json
FROM question_parts WHERE question_id=? ORDER BY ordinal, id`, questionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.QuestionPart
	for rows.Next() {
		var p domain.QuestionPart
		var levels, ranges sql.NullString
		if err := rows.Scan(&p.ID, &p.QuestionID, &p.Ordinal, &p.Text, &p.AnswerType, &levels, &ranges); err != nil {
			return nil, err
		}
		if levels.Valid && levels.String != "" {
			if err := json.Unmarshal([]byte(levels.String), &p.Levels); err != nil {
				return nil, fmt.Errorf("part %s levels: %w", p.ID, err)
			}
		}
		if ranges.Valid && ranges.String != "" {
			if err := json.Unmarshal([]byte(ranges.String), &p.Ranges); err != nil {
				return nil, fmt.Errorf("part %s ranges: %w", p.ID, err)
			}
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
