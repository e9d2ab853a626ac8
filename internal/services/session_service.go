package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/soaringjerry/labreport/internal/models"
	"github.com/soaringjerry/labreport/internal/securestore"
)

// Record names held in each session's secure store.
const (
	RecordDemographics = "user_demographics"
	RecordResults      = "lab_results"
)

const DefaultSessionTTL = 2 * time.Hour

type SessionStore interface {
	KV(scope string) securestore.KV
	PurgeRecordsBefore(ctx context.Context, cutoff time.Time, keep ...string) (int, error)
	AddConditionRecord(ctx context.Context, r *models.ConditionRecord) error
	ListConditionRecords(ctx context.Context) ([]*models.ConditionRecord, error)
	AddAudit(ctx context.Context, e models.AuditEntry)
}

type StartSessionRequest struct {
	Demographics models.Demographics `json:"demographics"`
	ChallengeID  string              `json:"challenge_id"`
	Selected     []int               `json:"selected"`
}

type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Language  string    `json:"language"`
	Returning bool      `json:"returning"`
	ExpiresAt time.Time `json:"expires_at"`
}

type session struct {
	id        string
	store     *securestore.Store
	key       *securestore.Key
	hash      string
	language  string
	returning bool
	lastSeen  time.Time

	// serializes writes to the session's records
	writeMu sync.Mutex
}

// SessionService owns the per-session keys. Keys live only in memory; a
// client that exported its key can re-attach after a restart via Resume.
type SessionService struct {
	store  SessionStore
	cipher securestore.CipherProvider
	verify ChallengeVerifier
	logger *zap.Logger
	now    func() time.Time
	idGen  func() string
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[string]*session

	seenMu sync.Mutex
	seen   *bloom.BloomFilter

	contacts ContactRegistrar
}

func NewSessionService(store SessionStore, cipher securestore.CipherProvider, verify ChallengeVerifier, ttl time.Duration, logger *zap.Logger) *SessionService {
	if cipher == nil {
		cipher = securestore.NewAESGCMProvider()
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		store:    store,
		cipher:   cipher,
		verify:   verify,
		logger:   logger.Named("sessions"),
		now:      func() time.Time { return time.Now().UTC() },
		idGen:    uuid.NewString,
		ttl:      ttl,
		sessions: map[string]*session{},
		seen:     bloom.NewWithEstimates(100000, 0.001),
	}
}

// SetContacts routes consenting participants to c. Registration failures
// are logged and never fail the session.
func (s *SessionService) SetContacts(c ContactRegistrar) { s.contacts = c }

// WarmSeen loads the analytics hashes of earlier reports so returning
// submitters are recognised across restarts.
func (s *SessionService) WarmSeen(ctx context.Context) (int, error) {
	recs, err := s.store.ListConditionRecords(ctx)
	if err != nil {
		return 0, err
	}
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	for _, r := range recs {
		if r.AnalyticsHash != "" {
			s.seen.AddString(r.AnalyticsHash)
		}
	}
	return len(recs), nil
}

func (s *SessionService) Start(ctx context.Context, req StartSessionRequest) (*SessionInfo, error) {
	if s.verify != nil {
		ok, err := s.verify(req.ChallengeID, req.Selected)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrChallengeFailed
		}
	}
	d, err := ValidateDemographics(req.Demographics)
	if err != nil {
		return nil, err
	}
	id := s.idGen()
	st := s.secureStore(id)
	key, err := st.GenerateKey(ctx)
	if err != nil {
		return nil, internalError(s.logger, "generate key", err)
	}
	if err := st.Put(ctx, RecordDemographics, d, key); err != nil {
		return nil, internalError(s.logger, "store demographics", err)
	}
	identifier := strings.ToLower(d.Email)
	if identifier == "" {
		identifier = id
	}
	hash, err := st.Hash(ctx, identifier)
	if err != nil {
		return nil, internalError(s.logger, "hash identifier", err)
	}
	now := s.now()
	sess := &session{
		id:        id,
		store:     st,
		key:       key,
		hash:      hash,
		language:  d.Language,
		returning: s.markSeen(hash),
		lastSeen:  now,
	}
	s.mu.Lock()
	s.sessions[id] = sess
	info := s.info(sess)
	s.mu.Unlock()

	if s.contacts != nil && d.ContactConsent {
		if err := s.contacts.Register(ctx, hash, d); err != nil {
			s.logger.Warn("register contact", zap.String("session", id), zap.Error(err))
		}
	}
	note := ""
	if sess.returning {
		note = "returning"
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: now, Actor: "participant", Action: "session_start", Target: id, Note: note})
	return info, nil
}

// SaveResults encrypts the analysis under the session key and files a
// de-identified condition record for aggregation.
func (s *SessionService) SaveResults(ctx context.Context, id string, result *models.AnalysisResult) error {
	if result == nil {
		return NewInvalidError("result required")
	}
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()

	var d models.Demographics
	found, err := sess.store.Get(ctx, RecordDemographics, sess.key, &d)
	if err != nil {
		return internalError(s.logger, "read demographics", err)
	}
	if !found {
		return NewNotFoundError("demographics not found")
	}
	if err := sess.store.Put(ctx, RecordResults, result, sess.key); err != nil {
		return internalError(s.logger, "store results", err)
	}
	rec := &models.ConditionRecord{
		ID:            "r" + shortID(15),
		AnalyticsHash: sess.hash,
		AgeRange:      d.AgeRange,
		Gender:        d.Gender,
		Ethnicity:     d.Ethnicity,
		Language:      d.Language,
		Country:       d.Country,
		State:         d.State,
		City:          d.City,
		Conditions:    result.Conditions,
		Returning:     sess.returning,
		ReportedAt:    s.now(),
	}
	if err := s.store.AddConditionRecord(ctx, rec); err != nil {
		return internalError(s.logger, "add condition record", err)
	}
	if s.contacts != nil {
		if err := s.contacts.RecordReport(ctx, sess.hash); err != nil {
			s.logger.Warn("record contact report", zap.String("session", id), zap.Error(err))
		}
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: rec.ReportedAt, Actor: "participant", Action: "results_saved", Target: id})
	return nil
}

func (s *SessionService) Demographics(ctx context.Context, id string) (*models.Demographics, error) {
	var d models.Demographics
	if err := s.retrieve(ctx, id, RecordDemographics, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SessionService) Results(ctx context.Context, id string) (*models.AnalysisResult, error) {
	var r models.AnalysisResult
	if err := s.retrieve(ctx, id, RecordResults, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// AnalyticsHash returns the session's correlation hash.
func (s *SessionService) AnalyticsHash(id string) (string, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	return sess.hash, nil
}

// Language returns the explanation language chosen at Start.
func (s *SessionService) Language(id string) (string, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	return sess.language, nil
}

func (s *SessionService) ExportKey(id string) (string, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	out, err := sess.store.ExportKey(sess.key)
	if err != nil {
		return "", internalError(s.logger, "export key", err)
	}
	return out, nil
}

// Resume re-attaches a session from its exported key. The key must decrypt
// the stored demographics.
func (s *SessionService) Resume(ctx context.Context, id, exportedKey string) (*SessionInfo, error) {
	id = strings.TrimSpace(id)
	if id == "" || strings.TrimSpace(exportedKey) == "" {
		return nil, NewInvalidError("session_id and key required")
	}
	st := s.secureStore(id)
	key, err := st.ImportKey(exportedKey)
	if err != nil {
		return nil, NewInvalidError("invalid key")
	}
	var d models.Demographics
	found, err := st.Get(ctx, RecordDemographics, key, &d)
	if errors.Is(err, securestore.ErrDecryption) {
		return nil, NewUnauthorizedError("key does not match session")
	}
	if err != nil {
		return nil, internalError(s.logger, "resume session", err)
	}
	if !found {
		return nil, ErrSessionNotFound
	}
	identifier := strings.ToLower(d.Email)
	if identifier == "" {
		identifier = id
	}
	hash, err := st.Hash(ctx, identifier)
	if err != nil {
		return nil, internalError(s.logger, "hash identifier", err)
	}
	now := s.now()
	sess := &session{id: id, store: st, key: key, hash: hash, language: d.Language, lastSeen: now}
	s.mu.Lock()
	if prev, ok := s.sessions[id]; ok {
		sess.returning = prev.returning
	}
	s.sessions[id] = sess
	info := s.info(sess)
	s.mu.Unlock()
	s.store.AddAudit(ctx, models.AuditEntry{Time: now, Actor: "participant", Action: "session_resume", Target: id})
	return info, nil
}

// End removes every encrypted record of the session and forgets its key.
func (s *SessionService) End(ctx context.Context, id string) (int, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return 0, err
	}
	n, err := s.clear(ctx, sess)
	if err != nil {
		return 0, err
	}
	s.store.AddAudit(ctx, models.AuditEntry{Time: s.now(), Actor: "participant", Action: "session_end", Target: id})
	return n, nil
}

// Sweep ends sessions idle past the TTL and purges records left behind by
// sessions whose keys were lost. It returns the number of sessions ended.
func (s *SessionService) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	var expired []*session
	var active []string
	s.mu.RLock()
	for _, sess := range s.sessions {
		if now.Sub(sess.lastSeen) > s.ttl {
			expired = append(expired, sess)
		} else {
			active = append(active, sess.id)
		}
	}
	s.mu.RUnlock()

	ended := 0
	for _, sess := range expired {
		if _, err := s.clear(ctx, sess); err != nil {
			s.logger.Warn("sweep session", zap.String("session", sess.id), zap.Error(err))
			continue
		}
		ended++
	}
	purged, err := s.store.PurgeRecordsBefore(ctx, now.Add(-s.ttl), active...)
	if err != nil {
		return ended, internalError(s.logger, "purge records", err)
	}
	if ended > 0 || purged > 0 {
		s.logger.Info("session sweep", zap.Int("ended", ended), zap.Int("purged_records", purged))
	}
	return ended, nil
}

func (s *SessionService) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *SessionService) clear(ctx context.Context, sess *session) (int, error) {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	n, err := sess.store.ClearAll(ctx)
	if err != nil {
		return 0, internalError(s.logger, "clear records", err)
	}
	s.mu.Lock()
	if cur, ok := s.sessions[sess.id]; ok && cur == sess {
		delete(s.sessions, sess.id)
	}
	s.mu.Unlock()
	return n, nil
}

func (s *SessionService) retrieve(ctx context.Context, id, name string, out any) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}
	found, err := sess.store.Get(ctx, name, sess.key, out)
	if err != nil {
		return internalError(s.logger, "read "+name, err)
	}
	if !found {
		return NewNotFoundError(name + " not found")
	}
	return nil
}

// lookup returns a live session and refreshes its idle timer. Expired
// sessions are left for Sweep to clear.
func (s *SessionService) lookup(id string) (*session, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || now.Sub(sess.lastSeen) > s.ttl {
		return nil, ErrSessionNotFound
	}
	sess.lastSeen = now
	return sess, nil
}

func (s *SessionService) secureStore(id string) *securestore.Store {
	return securestore.New(s.cipher, s.store.KV(id), securestore.WithLogger(s.logger))
}

// markSeen records hash and reports whether it was (probably) seen before.
func (s *SessionService) markSeen(hash string) bool {
	s.seenMu.Lock()
	defer s.seenMu.Unlock()
	return s.seen.TestOrAddString(hash)
}

func (s *SessionService) info(sess *session) *SessionInfo {
	return &SessionInfo{
		SessionID: sess.id,
		Language:  sess.language,
		Returning: sess.returning,
		ExpiresAt: sess.lastSeen.Add(s.ttl),
	}
}
