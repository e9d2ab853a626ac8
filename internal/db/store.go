package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/soaringjerry/labreport/internal/models"
)

func (s *SQLiteStore) AddAudit(ctx context.Context, e models.AuditEntry) {
	if e.Time.IsZero() {
		e.Time = s.now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO audit_log(time, actor, action, target, note) VALUES(?, ?, ?, ?, ?)`,
		e.Time.UTC().Unix(), e.Actor, e.Action, e.Target, toNullString(e.Note))
	s.logErr("add audit", err)
}

func (s *SQLiteStore) ListAudit(ctx context.Context) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT time, actor, action, target, note FROM audit_log ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	out := []models.AuditEntry{}
	for rows.Next() {
		var (
			ts   int64
			e    models.AuditEntry
			note sql.NullString
		)
		if err := rows.Scan(&ts, &e.Actor, &e.Action, &e.Target, &note); err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		e.Time = unixTime(ts)
		e.Note = note.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// users

func (s *SQLiteStore) AddUser(ctx context.Context, u *models.User) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO users(id, email, pass_hash, created_at) VALUES(?, ?, ?, ?)`,
		u.ID, strings.TrimSpace(u.Email), u.PassHash, u.CreatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	return nil
}

// FindUserByEmail returns nil, nil when no user matches.
func (s *SQLiteStore) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var (
		u  models.User
		ts int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, email, pass_hash, created_at FROM users WHERE email = ?`, strings.TrimSpace(email)).
		Scan(&u.ID, &u.Email, &u.PassHash, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	u.CreatedAt = unixTime(ts)
	return &u, nil
}

// feedback questions

func (s *SQLiteStore) InsertQuestion(ctx context.Context, q *models.FeedbackQuestion) error {
	opts, err := encodeJSON(nilIfEmpty(q.Options))
	if err != nil {
		return err
	}
	if q.Order == 0 {
		var maxPos sql.NullInt64
		if err := s.db.QueryRowContext(ctx, `SELECT MAX(position) FROM feedback_questions`).Scan(&maxPos); err != nil {
			return fmt.Errorf("next question position: %w", err)
		}
		q.Order = int(maxPos.Int64) + 1
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO feedback_questions(id, type, question, options, required, position) VALUES(?, ?, ?, ?, ?, ?)`,
		q.ID, q.Type, q.Question, opts, boolToInt64(q.Required), q.Order)
	if err != nil {
		return fmt.Errorf("insert question: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateQuestion(ctx context.Context, q *models.FeedbackQuestion) (bool, error) {
	opts, err := encodeJSON(nilIfEmpty(q.Options))
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE feedback_questions SET type = ?, question = ?, options = ?, required = ?, position = ? WHERE id = ?`,
		q.Type, q.Question, opts, boolToInt64(q.Required), q.Order, q.ID)
	if err != nil {
		return false, fmt.Errorf("update question: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

func (s *SQLiteStore) DeleteQuestion(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feedback_questions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete question: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

func (s *SQLiteStore) GetQuestion(ctx context.Context, id string) (*models.FeedbackQuestion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, question, options, required, position FROM feedback_questions WHERE id = ?`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return q, err
}

func (s *SQLiteStore) ListQuestions(ctx context.Context) ([]*models.FeedbackQuestion, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, type, question, options, required, position FROM feedback_questions ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()
	out := []*models.FeedbackQuestion{}
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanQuestion(sc scanner) (*models.FeedbackQuestion, error) {
	var (
		q        models.FeedbackQuestion
		opts     sql.NullString
		required int64
	)
	if err := sc.Scan(&q.ID, &q.Type, &q.Question, &opts, &required, &q.Order); err != nil {
		return nil, err
	}
	if err := decodeJSON(opts, &q.Options); err != nil {
		return nil, fmt.Errorf("decode question options: %w", err)
	}
	q.Required = int64ToBool(required)
	return &q, nil
}

// feedback responses

func (s *SQLiteStore) AddFeedbackResponse(ctx context.Context, r *models.FeedbackResponse) error {
	answers, err := encodeJSON(r.Answers)
	if err != nil {
		return err
	}
	if !answers.Valid {
		answers = sql.NullString{String: "{}", Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO feedback_responses(id, analytics_hash, language, answers, submitted_at) VALUES(?, ?, ?, ?, ?)`,
		r.ID, toNullString(r.AnalyticsHash), toNullString(r.Language), answers, r.SubmittedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("add feedback response: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFeedbackResponses(ctx context.Context) ([]*models.FeedbackResponse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, analytics_hash, language, answers, submitted_at FROM feedback_responses ORDER BY submitted_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list feedback responses: %w", err)
	}
	defer rows.Close()
	out := []*models.FeedbackResponse{}
	for rows.Next() {
		var (
			r             models.FeedbackResponse
			hash, lang    sql.NullString
			answers       sql.NullString
			submittedUnix int64
		)
		if err := rows.Scan(&r.ID, &hash, &lang, &answers, &submittedUnix); err != nil {
			return nil, fmt.Errorf("scan feedback response: %w", err)
		}
		if err := decodeJSON(answers, &r.Answers); err != nil {
			s.logErr("decode feedback answers", err)
			continue
		}
		r.AnalyticsHash = hash.String
		r.Language = lang.String
		r.SubmittedAt = unixTime(submittedUnix)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// condition records

func (s *SQLiteStore) AddConditionRecord(ctx context.Context, r *models.ConditionRecord) error {
	conds, err := encodeJSON(r.Conditions)
	if err != nil {
		return err
	}
	if !conds.Valid || conds.String == "null" {
		conds = sql.NullString{String: "[]", Valid: true}
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO condition_records(id, analytics_hash, age_range, gender, ethnicity, language, country, state, city, conditions, repeat_submitter, reported_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AnalyticsHash, toNullString(r.AgeRange), toNullString(r.Gender), toNullString(r.Ethnicity),
		toNullString(r.Language), toNullString(r.Country), toNullString(r.State), toNullString(r.City),
		conds, boolToInt64(r.Returning), r.ReportedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("add condition record: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListConditionRecords(ctx context.Context) ([]*models.ConditionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, analytics_hash, age_range, gender, ethnicity, language, country, state, city, conditions, repeat_submitter, reported_at
		FROM condition_records ORDER BY reported_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list condition records: %w", err)
	}
	defer rows.Close()
	out := []*models.ConditionRecord{}
	for rows.Next() {
		var (
			r                               models.ConditionRecord
			age, gender, eth, lang, country sql.NullString
			state, city, conds              sql.NullString
			returning, reported             int64
		)
		if err := rows.Scan(&r.ID, &r.AnalyticsHash, &age, &gender, &eth, &lang, &country, &state, &city, &conds, &returning, &reported); err != nil {
			return nil, fmt.Errorf("scan condition record: %w", err)
		}
		if err := decodeJSON(conds, &r.Conditions); err != nil {
			s.logErr("decode conditions", err)
			continue
		}
		r.AgeRange, r.Gender, r.Ethnicity, r.Language = age.String, gender.String, eth.String, lang.String
		r.Country, r.State, r.City = country.String, state.String, city.String
		r.Returning = int64ToBool(returning)
		r.ReportedAt = unixTime(reported)
		out = append(out, &r)
	}
	return out, rows.Err()
}

// CountRecentReports counts condition records reported at or after since.
func (s *SQLiteStore) CountRecentReports(ctx context.Context, since time.Time) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM condition_records WHERE reported_at >= ?`, since.UTC().Unix()).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reports: %w", err)
	}
	return n, nil
}

func nilIfEmpty(list []string) any {
	if len(list) == 0 {
		return nil
	}
	return list
}
