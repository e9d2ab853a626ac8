package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soaringjerry/labreport/internal/db"
	"github.com/soaringjerry/labreport/internal/models"
	"github.com/soaringjerry/labreport/internal/services"
)

var _ Store = (*db.SQLiteStore)(nil)

const (
	testSecret   = "router-test-secret-0123"
	sampleReport = "Patient Name: John Smith\nDOB: 01/02/1980\nGlucose: 130 mg/dL\nHbA1c 6.8 %\nHDL 55 mg/dL\n"
)

func newTestStore(t *testing.T) *db.SQLiteStore {
	t.Helper()
	conn, err := db.OpenSQLite(db.MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.RunMigrations(context.Background(), conn, ""))
	store, err := db.NewSQLiteStore(conn, nil)
	require.NoError(t, err)
	return store
}

func newTestRouter(t *testing.T, store Store, opts Options) (*Router, http.Handler) {
	t.Helper()
	rt, err := NewRouter(store, opts, nil)
	require.NoError(t, err)
	return rt, rt.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out), rr.Body.String())
	return out
}

func startSession(t *testing.T, h http.Handler, email string) services.SessionInfo {
	t.Helper()
	rr := do(t, h, http.MethodPost, "/api/challenges", nil, nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	ch := decode[services.Challenge](t, rr)

	rr = do(t, h, http.MethodPost, "/api/sessions", map[string]any{
		"demographics": models.Demographics{AgeRange: "25–34", Country: "US", State: "NY", City: "Albany", Language: "es", Email: email},
		"challenge_id": ch.ID,
		"selected":     []int{0, 4},
	}, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[services.SessionInfo](t, rr)
}

func TestHealthAndHeaders(t *testing.T) {
	_, h := newTestRouter(t, newTestStore(t), Options{Commit: "abc"})
	rr := do(t, h, http.MethodGet, "/health", nil, http.Header{"Accept-Language": {"es-ES,en;q=0.5"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "es", rr.Header().Get("Content-Language"))
	assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	body := decode[map[string]any](t, rr)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "abc", body["commit"])

	rr = do(t, h, http.MethodGet, "/version", nil, nil)
	assert.Equal(t, "abc", decode[map[string]string](t, rr)["commit"])

	rr = do(t, h, http.MethodGet, "/api/options", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "65+")
}

func TestSessionLifecycle(t *testing.T) {
	store := newTestStore(t)
	_, h := newTestRouter(t, store, Options{})
	info := startSession(t, h, "Ana@Example.com")
	assert.Equal(t, "Spanish", info.Language)
	assert.False(t, info.Returning)
	base := "/api/sessions/" + info.SessionID

	rr := do(t, h, http.MethodGet, base+"/demographics", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	d := decode[models.Demographics](t, rr)
	assert.Equal(t, "25-34", d.AgeRange)
	assert.Equal(t, "Prefer not to say", d.Gender)

	rr = do(t, h, http.MethodGet, base+"/results", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodPost, base+"/report", map[string]string{"text": sampleReport}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[models.AnalysisResult](t, rr)
	assert.NotContains(t, res.ScrubbedText, "John")
	assert.Contains(t, res.Summary, "Summary preview (Spanish)")
	var names []string
	for _, c := range res.Conditions {
		names = append(names, c.Name)
	}
	assert.ElementsMatch(t, []string{"High Glucose", "Diabetes Range HbA1c"}, names)

	rr = do(t, h, http.MethodPost, base+"/report", map[string]string{"text": sampleReport}, nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	rr = do(t, h, http.MethodGet, base+"/results", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[models.AnalysisResult](t, rr).Values, 10)

	recs, err := store.ListConditionRecords(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.NotContains(t, recs[0].AnalyticsHash, "Ana")

	rr = do(t, h, http.MethodDelete, base, nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.EqualValues(t, 2, decode[map[string]any](t, rr)["cleared"])

	rr = do(t, h, http.MethodGet, base+"/results", nil, http.Header{"Accept-Language": {"es"}})
	assert.Equal(t, http.StatusNotFound, rr.Code)
	body := decode[errorBody](t, rr)
	assert.Equal(t, "not_found", body.Error)
	assert.Contains(t, body.Message, "sesión")
}

func TestReturningSubmitterFlagged(t *testing.T) {
	_, h := newTestRouter(t, newTestStore(t), Options{})
	first := startSession(t, h, "same@example.com")
	second := startSession(t, h, "same@example.com")
	assert.False(t, first.Returning)
	assert.True(t, second.Returning)
}

func TestResumeAfterRestart(t *testing.T) {
	store := newTestStore(t)
	_, h := newTestRouter(t, store, Options{})
	info := startSession(t, h, "")

	rr := do(t, h, http.MethodGet, "/api/sessions/"+info.SessionID+"/key", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	key := decode[map[string]string](t, rr)["key"]
	require.NotEmpty(t, key)

	_, restarted := newTestRouter(t, store, Options{})
	rr = do(t, restarted, http.MethodGet, "/api/sessions/"+info.SessionID+"/demographics", nil, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	_, otherHandler := newTestRouter(t, store, Options{})
	other := startSession(t, otherHandler, "")
	rr = do(t, otherHandler, http.MethodGet, "/api/sessions/"+other.SessionID+"/key", nil, nil)
	wrongKey := decode[map[string]string](t, rr)["key"]
	rr = do(t, restarted, http.MethodPost, "/api/sessions/resume", map[string]string{"session_id": info.SessionID, "key": wrongKey}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, restarted, http.MethodPost, "/api/sessions/resume", map[string]string{"session_id": info.SessionID, "key": key}, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	rr = do(t, restarted, http.MethodGet, "/api/sessions/"+info.SessionID+"/demographics", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "US", decode[models.Demographics](t, rr).Country)
}

func TestStartSessionRejectsReusedChallenge(t *testing.T) {
	_, h := newTestRouter(t, newTestStore(t), Options{})
	ch := decode[services.Challenge](t, do(t, h, http.MethodPost, "/api/challenges", nil, nil))
	body := map[string]any{
		"demographics": models.Demographics{AgeRange: "18-24", Country: "US"},
		"challenge_id": ch.ID,
		"selected":     []int{1},
	}
	rr := do(t, h, http.MethodPost, "/api/sessions", body, nil)
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/sessions", body, http.Header{"Accept-Language": {"es"}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Contains(t, decode[errorBody](t, rr).Message, "Seleccione")

	rr = do(t, h, http.MethodPost, "/api/sessions", nil, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func multipartReport(t *testing.T, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	hdr["Content-Type"] = []string{contentType}
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.WriteField("language", "French"))
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// textPDF builds a single-page PDF whose text layer holds the given lines.
func textPDF(lines ...string) []byte {
	var content strings.Builder
	content.WriteString("BT\n/F1 12 Tf\n72 720 Td\n")
	for i, l := range lines {
		if i > 0 {
			content.WriteString("T*\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", l)
	}
	content.WriteString("ET")
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
	}
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

func TestReportUploads(t *testing.T) {
	_, h := newTestRouter(t, newTestStore(t), Options{ReportInterval: time.Nanosecond})
	info := startSession(t, h, "")
	path := "/api/sessions/" + info.SessionID + "/report"

	body, ct := multipartReport(t, "report.txt", "text/plain", sampleReport)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "French", decode[models.AnalysisResult](t, rr).Language)

	body, ct = multipartReport(t, "report.pdf", "application/octet-stream", string(textPDF("Glucose: 130 mg/dL")))
	req = httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[models.AnalysisResult](t, rr)
	require.Len(t, res.Conditions, 1)
	assert.Equal(t, "High Glucose", res.Conditions[0].Name)
	assert.Equal(t, "French", res.Language)

	req = httptest.NewRequest(http.MethodPost, path+"?language=es", bytes.NewReader(textPDF("Glucose: 130 mg/dL")))
	req.Header.Set("Content-Type", "application/pdf")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Spanish", decode[models.AnalysisResult](t, rr).Language)

	// scanned PDFs carry no text layer
	body, ct = multipartReport(t, "scan.pdf", "application/pdf", string(textPDF()))
	req = httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decode[errorBody](t, rr).Message, "could not extract any text")

	req = httptest.NewRequest(http.MethodPost, path, strings.NewReader("%PDF-1.7"))
	req.Header.Set("Content-Type", "application/pdf")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, path, map[string]string{"text": "   "}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodPost, "/api/sessions/nope/report", map[string]string{"text": sampleReport}, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminDisabledWithoutSecret(t *testing.T) {
	rt, h := newTestRouter(t, newTestStore(t), Options{})
	assert.Nil(t, rt.Auth())
	rr := do(t, h, http.MethodPost, "/api/admin/login", map[string]string{"email": "a@b.com", "password": "x"}, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestAdminFeedbackAndConditions(t *testing.T) {
	store := newTestStore(t)
	rt, h := newTestRouter(t, store, Options{JWTSecret: testSecret, ReportInterval: time.Nanosecond})
	created, err := rt.Auth().EnsureAdmin(context.Background(), "admin@example.com", "s3cret-pass")
	require.NoError(t, err)
	require.True(t, created)

	rr := do(t, h, http.MethodPost, "/api/admin/login", map[string]string{"email": "admin@example.com", "password": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = do(t, h, http.MethodPost, "/api/admin/login", map[string]string{"email": "admin@example.com", "password": "s3cret-pass"}, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	auth := http.Header{"Authorization": {"Bearer " + decode[services.AuthResult](t, rr).Token}}

	rr = do(t, h, http.MethodGet, "/api/admin/conditions", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var ids []string
	for _, q := range []models.FeedbackQuestion{
		{Type: models.QuestionRating, Question: "Was the summary clear?", Required: true},
		{Type: models.QuestionRating, Question: "Would you use it again?"},
		{Type: models.QuestionMultiple, Question: "How did you hear about us?", Options: []string{"Clinic", "Friend"}},
	} {
		rr = do(t, h, http.MethodPost, "/api/admin/feedback/questions", q, auth)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		ids = append(ids, decode[models.FeedbackQuestion](t, rr).ID)
	}

	rr = do(t, h, http.MethodPut, "/api/admin/feedback/questions/"+ids[1], models.FeedbackQuestion{Type: models.QuestionRating, Question: "Would you return?"}, auth)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/feedback/questions", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Would you return?")

	info := startSession(t, h, "p@example.com")
	rr = do(t, h, http.MethodPost, "/api/sessions/"+info.SessionID+"/report", map[string]string{"text": sampleReport}, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	for _, answers := range []map[string]any{
		{ids[0]: 5, ids[1]: 4, ids[2]: "Clinic"},
		{ids[0]: 3, ids[1]: 2},
	} {
		rr = do(t, h, http.MethodPost, "/api/feedback/responses", map[string]any{"session_id": info.SessionID, "language": "en", "answers": answers}, nil)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	}
	rr = do(t, h, http.MethodPost, "/api/feedback/responses", map[string]any{"answers": map[string]any{ids[1]: 9}}, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/admin/feedback/summary", nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)
	sum := decode[services.FeedbackSummary](t, rr)
	assert.Equal(t, 2, sum.Responses)
	assert.Equal(t, 2, sum.AlphaN)
	assert.InDelta(t, 1.0, sum.Alpha, 1e-9)

	responses, err := store.ListFeedbackResponses(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.NotEmpty(t, responses[0].AnalyticsHash)

	rr = do(t, h, http.MethodGet, "/api/admin/conditions", nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)
	overview := decode[services.ConditionOverview](t, rr)
	assert.Equal(t, 1, overview.Reports)

	rr = do(t, h, http.MethodGet, "/api/admin/conditions?field=ageRange&value=25-34", nil, auth)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Contains(t, rr.Body.String(), "High Glucose")

	rr = do(t, h, http.MethodGet, "/api/admin/conditions?condition=High+Glucose", nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Albany, NY, US")

	rr = do(t, h, http.MethodGet, "/api/admin/conditions/stats", nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodDelete, "/api/admin/feedback/questions/"+ids[2], nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h, http.MethodDelete, "/api/admin/feedback/questions/"+ids[2], nil, auth)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, h, http.MethodGet, "/api/admin/audit", nil, auth)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "question_delete")
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestRouter(t, newTestStore(t), Options{CORSOrigins: []string{"https://app.example.com"}})
	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestNewRouterRejectsUnknownCipher(t *testing.T) {
	_, err := NewRouter(newTestStore(t), Options{Cipher: "des"}, nil)
	require.Error(t, err)
}
