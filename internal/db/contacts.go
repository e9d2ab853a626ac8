package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/soaringjerry/labreport/internal/models"
)

// UpsertContact stores a consented contact. A repeat consent refreshes the
// envelope and language but keeps the original consent time and report count.
func (s *SQLiteStore) UpsertContact(ctx context.Context, c *models.ContactRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contacts(analytics_hash, email_envelope, language, consented_at, reports) VALUES(?, ?, ?, ?, 0)
		ON CONFLICT(analytics_hash) DO UPDATE SET email_envelope = excluded.email_envelope, language = excluded.language`,
		c.AnalyticsHash, c.EmailEnvelope, toNullString(c.Language), c.ConsentedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

// TouchContact counts a report for hash. It reports false when hash has no
// consented contact.
func (s *SQLiteStore) TouchContact(ctx context.Context, hash string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE contacts SET reports = reports + 1, last_report_at = ? WHERE analytics_hash = ?`, at.UTC().Unix(), hash)
	if err != nil {
		return false, fmt.Errorf("touch contact: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

func (s *SQLiteStore) ListContacts(ctx context.Context) ([]*models.ContactRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT analytics_hash, email_envelope, language, consented_at, last_report_at, reports
		FROM contacts ORDER BY consented_at, analytics_hash`)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()
	out := []*models.ContactRecord{}
	for rows.Next() {
		var (
			c          models.ContactRecord
			lang       sql.NullString
			consented  int64
			lastReport sql.NullInt64
		)
		if err := rows.Scan(&c.AnalyticsHash, &c.EmailEnvelope, &lang, &consented, &lastReport, &c.Reports); err != nil {
			return nil, fmt.Errorf("scan contact: %w", err)
		}
		c.Language = lang.String
		c.ConsentedAt = unixTime(consented)
		if lastReport.Valid {
			c.LastReportAt = unixTime(lastReport.Int64)
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteContact(ctx context.Context, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM contacts WHERE analytics_hash = ?`, hash)
	if err != nil {
		return false, fmt.Errorf("delete contact: %w", err)
	}
	return rowsAffected(res) > 0, nil
}

// campaigns

func (s *SQLiteStore) AddCampaign(ctx context.Context, c *models.Campaign) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO campaigns(id, subject, message, recipients, created_by, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		c.ID, c.Subject, c.Message, c.Recipients, c.CreatedBy, c.CreatedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("add campaign: %w", err)
	}
	return nil
}

// ListCampaigns returns campaigns newest first.
func (s *SQLiteStore) ListCampaigns(ctx context.Context) ([]*models.Campaign, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, subject, message, recipients, created_by, created_at FROM campaigns ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()
	out := []*models.Campaign{}
	for rows.Next() {
		var (
			c  models.Campaign
			ts int64
		)
		if err := rows.Scan(&c.ID, &c.Subject, &c.Message, &c.Recipients, &c.CreatedBy, &ts); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.CreatedAt = unixTime(ts)
		out = append(out, &c)
	}
	return out, rows.Err()
}
