package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soaringjerry/labreport/internal/models"
	"github.com/soaringjerry/labreport/internal/securestore"
)

type sessionStubStore struct {
	mu       sync.Mutex
	scopes   map[string]*securestore.MemoryKV
	records  []*models.ConditionRecord
	audit    []models.AuditEntry
	purged   []time.Time
	keptLast []string
}

func newSessionStubStore() *sessionStubStore {
	return &sessionStubStore{scopes: map[string]*securestore.MemoryKV{}}
}

func (s *sessionStubStore) KV(scope string) securestore.KV {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv, ok := s.scopes[scope]
	if !ok {
		kv = securestore.NewMemoryKV()
		s.scopes[scope] = kv
	}
	return kv
}

func (s *sessionStubStore) PurgeRecordsBefore(_ context.Context, cutoff time.Time, keep ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purged = append(s.purged, cutoff)
	s.keptLast = keep
	return 0, nil
}

func (s *sessionStubStore) AddConditionRecord(_ context.Context, r *models.ConditionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy := *r
	s.records = append(s.records, &copy)
	return nil
}

func (s *sessionStubStore) ListConditionRecords(context.Context) ([]*models.ConditionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.ConditionRecord(nil), s.records...), nil
}

func (s *sessionStubStore) AddAudit(_ context.Context, e models.AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, e)
}

func (s *sessionStubStore) keys(t *testing.T, scope string) []string {
	t.Helper()
	keys, err := s.KV(scope).Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys: %v", err)
	}
	return keys
}

func newTestSessionService(store *sessionStubStore, verify ChallengeVerifier, now *time.Time) *SessionService {
	svc := NewSessionService(store, nil, verify, time.Hour, nil)
	svc.now = func() time.Time { return *now }
	n := 0
	svc.idGen = func() string {
		n++
		return "sess-" + string(rune('a'+n-1))
	}
	return svc
}

func sampleDemographics() models.Demographics {
	return models.Demographics{AgeRange: "25-34", Country: "United States", State: "Texas", City: "Austin", Email: "a@b.com"}
}

func TestSessionStartStoresEncryptedDemographics(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()
	svc := newTestSessionService(store, nil, &now)

	info, err := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if info.SessionID != "sess-a" || info.Returning || info.Language != "English" {
		t.Fatalf("unexpected info %+v", info)
	}
	if !info.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", info.ExpiresAt)
	}
	keys := store.keys(t, "sess-a")
	if len(keys) != 1 || keys[0] != "encrypted_user_demographics" {
		t.Fatalf("unexpected keys %v", keys)
	}
	raw, _, _ := store.KV("sess-a").Get(ctx, keys[0])
	if raw == "" || strings.Contains(raw, "a@b.com") || strings.Contains(raw, "Texas") {
		t.Fatalf("record not encrypted: %q", raw)
	}

	d, err := svc.Demographics(ctx, info.SessionID)
	if err != nil {
		t.Fatalf("Demographics: %v", err)
	}
	if d.Email != "a@b.com" || d.AgeRange != "25-34" {
		t.Fatalf("unexpected demographics %+v", d)
	}
	if len(store.audit) != 1 || store.audit[0].Action != "session_start" {
		t.Fatalf("expected start audit, got %+v", store.audit)
	}
}

func TestSessionStartChallenge(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()

	svc := newTestSessionService(store, func(id string, selected []int) (bool, error) { return false, nil }, &now)
	if _, err := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()}); !errors.Is(err, ErrChallengeFailed) {
		t.Fatalf("expected ErrChallengeFailed, got %v", err)
	}

	boom := errors.New("boom")
	svc = newTestSessionService(store, func(id string, selected []int) (bool, error) { return false, boom }, &now)
	if _, err := svc.Start(ctx, StartSessionRequest{}); !errors.Is(err, boom) {
		t.Fatalf("expected verifier error, got %v", err)
	}

	var gotID string
	svc = newTestSessionService(store, func(id string, selected []int) (bool, error) {
		gotID = id
		return true, nil
	}, &now)
	if _, err := svc.Start(ctx, StartSessionRequest{Demographics: models.Demographics{}, ChallengeID: "c1"}); err == nil {
		t.Fatalf("expected demographics validation error")
	}
	if gotID != "c1" {
		t.Fatalf("verifier not called with challenge id")
	}
	if len(store.scopes) != 0 {
		t.Fatalf("rejected starts must not write records")
	}
}

func TestSessionReturningSubmitter(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()
	svc := newTestSessionService(store, nil, &now)

	first, err := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	d := sampleDemographics()
	d.Email = "A@B.com"
	second, err := svc.Start(ctx, StartSessionRequest{Demographics: d})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if first.Returning || !second.Returning {
		t.Fatalf("expected second start to be returning: %+v %+v", first, second)
	}
	h1, _ := svc.AnalyticsHash(first.SessionID)
	h2, _ := svc.AnalyticsHash(second.SessionID)
	if h1 == "" || h1 != h2 {
		t.Fatalf("expected shared analytics hash, got %q %q", h1, h2)
	}

	anon := sampleDemographics()
	anon.Email = ""
	third, err := svc.Start(ctx, StartSessionRequest{Demographics: anon})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	h3, _ := svc.AnalyticsHash(third.SessionID)
	if third.Returning || h3 == h1 {
		t.Fatalf("anonymous session should hash its own id")
	}
}

func TestSessionWarmSeen(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()
	svc := newTestSessionService(store, nil, &now)
	info, _ := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})
	if err := svc.SaveResults(ctx, info.SessionID, &models.AnalysisResult{}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}

	restarted := newTestSessionService(store, nil, &now)
	if n, err := restarted.WarmSeen(ctx); err != nil || n != 1 {
		t.Fatalf("WarmSeen n=%d err=%v", n, err)
	}
	again, err := restarted.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !again.Returning {
		t.Fatalf("expected submitter to be recognised after restart")
	}
}

func TestSessionSaveResults(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()
	svc := newTestSessionService(store, nil, &now)
	info, _ := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})

	if _, err := svc.Results(ctx, info.SessionID); err == nil {
		t.Fatalf("expected not found before results are saved")
	}
	result := &models.AnalysisResult{
		Language:   "English",
		Conditions: []models.Condition{{Name: "High Glucose", Severity: models.StatusHigh, TestName: "Glucose", Value: "145", Unit: "mg/dL"}},
		Summary:    "summary",
	}
	if err := svc.SaveResults(ctx, info.SessionID, result); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	got, err := svc.Results(ctx, info.SessionID)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if got.Summary != "summary" || len(got.Conditions) != 1 {
		t.Fatalf("unexpected results %+v", got)
	}
	if len(store.records) != 1 {
		t.Fatalf("expected one condition record, got %d", len(store.records))
	}
	rec := store.records[0]
	if rec.City != "Austin" || rec.AnalyticsHash == "" || rec.Conditions[0].Name != "High Glucose" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := svc.SaveResults(ctx, "missing", result); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := svc.SaveResults(ctx, info.SessionID, nil); err == nil {
		t.Fatalf("expected error for nil result")
	}
}

func TestSessionRegistersConsentedContacts(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()
	svc := newTestSessionService(store, nil, &now)
	contacts := newContactStubStore()
	csvc := newTestContactService(t, contacts, "")
	svc.SetContacts(csvc)

	if _, err := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(contacts.contacts) != 0 {
		t.Fatalf("participant without consent registered as contact")
	}

	d := sampleDemographics()
	d.ContactConsent = true
	info, err := svc.Start(ctx, StartSessionRequest{Demographics: d})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	hash, _ := svc.AnalyticsHash(info.SessionID)
	if _, ok := contacts.contacts[hash]; !ok {
		t.Fatalf("consenting participant not registered under the session hash")
	}
	if err := svc.SaveResults(ctx, info.SessionID, &models.AnalysisResult{Language: "English"}); err != nil {
		t.Fatalf("SaveResults: %v", err)
	}
	list, _ := csvc.List(ctx)
	if len(list) != 1 || list[0].Email != "a@b.com" || list[0].Reports != 1 {
		t.Fatalf("unexpected contacts %+v", list)
	}
}

func TestSessionExportAndResume(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()
	svc := newTestSessionService(store, nil, &now)
	info, _ := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})
	exported, err := svc.ExportKey(info.SessionID)
	if err != nil {
		t.Fatalf("ExportKey: %v", err)
	}

	restarted := newTestSessionService(store, nil, &now)
	if _, err := restarted.Demographics(ctx, info.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected unknown session after restart, got %v", err)
	}
	resumed, err := restarted.Resume(ctx, info.SessionID, exported)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if resumed.SessionID != info.SessionID {
		t.Fatalf("unexpected resumed session %+v", resumed)
	}
	d, err := restarted.Demographics(ctx, info.SessionID)
	if err != nil || d.Email != "a@b.com" {
		t.Fatalf("Demographics after resume: %+v %v", d, err)
	}

	other, _ := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})
	otherKey, _ := svc.ExportKey(other.SessionID)
	_, err = restarted.Resume(ctx, info.SessionID, otherKey)
	if se, ok := AsServiceError(err); !ok || se.Code != ErrorUnauthorized {
		t.Fatalf("expected unauthorized for foreign key, got %v", err)
	}
	if _, err := restarted.Resume(ctx, "sess-zz", exported); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for empty scope, got %v", err)
	}
	if _, err := restarted.Resume(ctx, info.SessionID, "not-a-key"); err == nil {
		t.Fatalf("expected error for malformed key")
	}
}

func TestSessionEndClearsRecords(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()
	svc := newTestSessionService(store, nil, &now)
	info, _ := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})
	_ = svc.SaveResults(ctx, info.SessionID, &models.AnalysisResult{Summary: "x"})
	_ = store.KV(info.SessionID).Set(ctx, "theme", "dark")

	n, err := svc.End(ctx, info.SessionID)
	if err != nil {
		t.Fatalf("End: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected two cleared records, got %d", n)
	}
	if keys := store.keys(t, info.SessionID); len(keys) != 1 || keys[0] != "theme" {
		t.Fatalf("unrelated keys must survive, got %v", keys)
	}
	if _, err := svc.Demographics(ctx, info.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after end, got %v", err)
	}
	if _, err := svc.End(ctx, info.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second end, got %v", err)
	}
}

func TestSessionSweepExpiresIdleSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()
	svc := newTestSessionService(store, nil, &now)
	idle, _ := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})
	now = now.Add(40 * time.Minute)
	busy, _ := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})

	now = now.Add(30 * time.Minute)
	if _, err := svc.Demographics(ctx, idle.SessionID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("idle session should be expired, got %v", err)
	}
	if _, err := svc.Demographics(ctx, busy.SessionID); err != nil {
		t.Fatalf("busy session should be live: %v", err)
	}

	ended, err := svc.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if ended != 1 || svc.Active() != 1 {
		t.Fatalf("expected one ended and one active, got ended=%d active=%d", ended, svc.Active())
	}
	if keys := store.keys(t, idle.SessionID); len(keys) != 0 {
		t.Fatalf("expired session records remain: %v", keys)
	}
	if len(store.purged) != 1 || !store.purged[0].Equal(now.Add(-time.Hour)) {
		t.Fatalf("unexpected purge cutoff %v", store.purged)
	}
	if len(store.keptLast) != 1 || store.keptLast[0] != busy.SessionID {
		t.Fatalf("active session must be kept, got %v", store.keptLast)
	}
}

func TestSessionConcurrentSaves(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1000, 0)
	store := newSessionStubStore()
	svc := newTestSessionService(store, nil, &now)
	info, _ := svc.Start(ctx, StartSessionRequest{Demographics: sampleDemographics()})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := svc.SaveResults(ctx, info.SessionID, &models.AnalysisResult{Summary: "s"}); err != nil {
				t.Errorf("SaveResults: %v", err)
			}
		}()
	}
	wg.Wait()
	if _, err := svc.Results(ctx, info.SessionID); err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(store.records) != 8 {
		t.Fatalf("expected 8 records, got %d", len(store.records))
	}
}
