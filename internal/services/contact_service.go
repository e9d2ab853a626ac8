package services

import (
	"context"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/soaringjerry/labreport/internal/models"
	"github.com/soaringjerry/labreport/internal/securestore"
)

const (
	maxSubjectLength  = 200
	maxCampaignLength = 5000
)

type ContactStore interface {
	UpsertContact(ctx context.Context, c *models.ContactRecord) error
	TouchContact(ctx context.Context, hash string, at time.Time) (bool, error)
	ListContacts(ctx context.Context) ([]*models.ContactRecord, error)
	DeleteContact(ctx context.Context, hash string) (bool, error)
	AddCampaign(ctx context.Context, c *models.Campaign) error
	ListCampaigns(ctx context.Context) ([]*models.Campaign, error)
	AddAudit(ctx context.Context, e models.AuditEntry)
}

// ContactRegistrar receives participants who agreed to be contacted.
type ContactRegistrar interface {
	Register(ctx context.Context, hash string, d models.Demographics) error
	RecordReport(ctx context.Context, hash string) error
}

type CampaignRequest struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// ContactService keeps the emails of participants who consented to follow
// up. Emails are sealed under a server-held contact key and indexed by the
// same analytics hash the session uses, so no plaintext email is stored.
type ContactService struct {
	store  ContactStore
	sealer *securestore.Store
	key    *securestore.Key
	logger *zap.Logger
	now    func() time.Time
	idGen  func() string
}

// NewContactService imports exportedKey, or generates a key when it is
// empty. A generated key lives only in memory, so contacts saved under it
// cannot be read after a restart.
func NewContactService(store ContactStore, cipher securestore.CipherProvider, exportedKey string, logger *zap.Logger) (*ContactService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("contacts")
	sealer := securestore.New(cipher, nil, securestore.WithLogger(logger))
	var (
		key *securestore.Key
		err error
	)
	if strings.TrimSpace(exportedKey) != "" {
		if key, err = sealer.ImportKey(strings.TrimSpace(exportedKey)); err != nil {
			return nil, fmt.Errorf("contact key: %w", err)
		}
	} else {
		if key, err = sealer.GenerateKey(context.Background()); err != nil {
			return nil, fmt.Errorf("contact key: %w", err)
		}
		logger.Warn("no contact key configured; contacts saved now are unreadable after restart")
	}
	return &ContactService{
		store:  store,
		sealer: sealer,
		key:    key,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		idGen:  func() string { return "m" + shortID(12) },
	}, nil
}

// Register seals the email of a consenting participant. Without consent or
// an email it does nothing.
func (s *ContactService) Register(ctx context.Context, hash string, d models.Demographics) error {
	if !d.ContactConsent || d.Email == "" || hash == "" {
		return nil
	}
	env, err := s.sealer.Encrypt(ctx, d.Email, s.key)
	if err != nil {
		return fmt.Errorf("seal contact: %w", err)
	}
	return s.store.UpsertContact(ctx, &models.ContactRecord{
		AnalyticsHash: hash,
		EmailEnvelope: env,
		Language:      d.Language,
		ConsentedAt:   s.now(),
	})
}

func (s *ContactService) RecordReport(ctx context.Context, hash string) error {
	_, err := s.store.TouchContact(ctx, hash, s.now())
	return err
}

// List decrypts the contact list. Entries sealed under another key are
// skipped with a warning.
func (s *ContactService) List(ctx context.Context) ([]models.Contact, error) {
	recs, err := s.store.ListContacts(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.Contact, 0, len(recs))
	for _, r := range recs {
		var email string
		if err := s.sealer.Decrypt(ctx, r.EmailEnvelope, s.key, &email); err != nil {
			s.logger.Warn("skip unreadable contact", zap.String("hash", r.AnalyticsHash), zap.Error(err))
			continue
		}
		c := models.Contact{
			AnalyticsHash: r.AnalyticsHash,
			Email:         email,
			Language:      r.Language,
			ConsentedAt:   r.ConsentedAt,
			Reports:       r.Reports,
		}
		if !r.LastReportAt.IsZero() {
			at := r.LastReportAt
			c.LastReportAt = &at
		}
		out = append(out, c)
	}
	return out, nil
}

// Remove withdraws the contact for email.
func (s *ContactService) Remove(ctx context.Context, actor, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return NewInvalidError("email required")
	}
	hash, err := s.sealer.Hash(ctx, strings.ToLower(email))
	if err != nil {
		return internalError(s.logger, "hash contact", err)
	}
	ok, err := s.store.DeleteContact(ctx, hash)
	if err != nil {
		return err
	}
	if !ok {
		return NewNotFoundError("contact not found")
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: s.now(), Actor: actor, Action: "contact_removed", Target: hash})
	return nil
}

// SendCampaign records a message to every readable contact and audits it.
// Delivery is left to an external mailer working from the campaign log.
func (s *ContactService) SendCampaign(ctx context.Context, actor string, req CampaignRequest) (*models.Campaign, error) {
	subject := strings.TrimSpace(req.Subject)
	message := strings.TrimSpace(req.Message)
	if subject == "" || message == "" {
		return nil, NewInvalidError("subject and message required")
	}
	if strings.ContainsAny(subject, "\r\n") || len(subject) > maxSubjectLength {
		return nil, NewInvalidError("invalid subject")
	}
	if len(message) > maxCampaignLength {
		return nil, NewInvalidError("message too long")
	}
	contacts, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	recipients := 0
	for _, c := range contacts {
		if _, err := mail.ParseAddress(c.Email); err == nil {
			recipients++
		}
	}
	if recipients == 0 {
		return nil, NewConflictError("no consented contacts")
	}
	c := &models.Campaign{
		ID:         s.idGen(),
		Subject:    subject,
		Message:    message,
		Recipients: recipients,
		CreatedBy:  actor,
		CreatedAt:  s.now(),
	}
	if err := s.store.AddCampaign(ctx, c); err != nil {
		return nil, err
	}
	s.store.AddAudit(ctx, models.AuditEntry{
		Time:   c.CreatedAt,
		Actor:  actor,
		Action: "campaign_recorded",
		Target: c.ID,
		Note:   fmt.Sprintf("%d recipients", recipients),
	})
	s.logger.Info("campaign recorded", zap.String("id", c.ID), zap.Int("recipients", recipients))
	return c, nil
}

func (s *ContactService) Campaigns(ctx context.Context) ([]*models.Campaign, error) {
	return s.store.ListCampaigns(ctx)
}
