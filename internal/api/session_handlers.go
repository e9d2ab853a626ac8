package api

import (
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gorilla/mux"

	"github.com/soaringjerry/labreport/internal/services"
)

// multipart overhead allowed on top of the report itself
const formOverhead = 64 << 10

// POST /api/challenges
func (rt *Router) handleIssueChallenge(w http.ResponseWriter, r *http.Request) {
	c, err := rt.challenges.Issue()
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// POST /api/sessions
// { demographics: {...}, challenge_id, selected: [int] }
func (rt *Router) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req services.StartSessionRequest
	if err := decodeBody(w, r, &req); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	info, err := rt.sessions.Start(r.Context(), req)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// POST /api/sessions/resume { session_id, key }
func (rt *Router) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID string `json:"session_id"`
		Key       string `json:"key"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	info, err := rt.sessions.Resume(r.Context(), req.SessionID, req.Key)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// DELETE /api/sessions/{id}
func (rt *Router) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, err := rt.sessions.End(r.Context(), id)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	rt.limiter.Forget(id)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cleared": n})
}

func (rt *Router) handleDemographics(w http.ResponseWriter, r *http.Request) {
	d, err := rt.sessions.Demographics(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (rt *Router) handleResults(w http.ResponseWriter, r *http.Request) {
	res, err := rt.sessions.Results(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/sessions/{id}/key returns the exported session key so the client
// can resume after a server restart.
func (rt *Router) handleExportKey(w http.ResponseWriter, r *http.Request) {
	key, err := rt.sessions.ExportKey(mux.Vars(r)["id"])
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

// POST /api/sessions/{id}/report
// JSON { text, language }, raw application/pdf (?language=), or multipart
// with a text or PDF "file" and "language".
func (rt *Router) handleReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sessionLang, err := rt.sessions.Language(id)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	text, lang, err := rt.readReport(w, r)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	if !rt.limiter.Allow(id) {
		rt.writeServiceError(w, r, services.NewTooManyRequestsError("report submitted too recently"))
		return
	}
	if lang == "" {
		lang = sessionLang
	}
	res, err := rt.reports.Analyze(r.Context(), text, lang)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	if err := rt.sessions.SaveResults(r.Context(), id, res); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// readReport returns the report text from a JSON body, a raw PDF body or a
// multipart upload whose "file" part is text or PDF.
func (rt *Router) readReport(w http.ResponseWriter, r *http.Request) (text, lang string, err error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case isPDF(mediaType, ""):
		r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadBytes)
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return "", "", services.NewInvalidError("upload too large")
		}
		text, err := services.ExtractPDFText(data)
		return text, r.URL.Query().Get("language"), err
	case mediaType == "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, services.MaxUploadBytes+formOverhead)
		if err := r.ParseMultipartForm(services.MaxReportBytes); err != nil {
			return "", "", services.NewInvalidError("invalid upload")
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return "", "", services.NewInvalidError("file required")
		}
		defer f.Close()
		if isPDF(hdr.Header.Get("Content-Type"), hdr.Filename) {
			data, err := io.ReadAll(io.LimitReader(f, services.MaxUploadBytes))
			if err != nil {
				return "", "", services.NewInvalidError("invalid upload")
			}
			text, err := services.ExtractPDFText(data)
			return text, r.FormValue("language"), err
		}
		b, err := io.ReadAll(io.LimitReader(f, services.MaxReportBytes+1))
		if err != nil {
			return "", "", services.NewInvalidError("invalid upload")
		}
		return string(b), r.FormValue("language"), nil
	default:
		var req struct {
			Text     string `json:"text"`
			Language string `json:"language"`
		}
		r.Body = http.MaxBytesReader(w, r.Body, services.MaxReportBytes+formOverhead)
		if err := decodeJSON(r.Body, &req); err != nil {
			return "", "", err
		}
		return req.Text, req.Language, nil
	}
}

func isPDF(contentType, filename string) bool {
	mt, _, _ := mime.ParseMediaType(contentType)
	return mt == "application/pdf" || strings.EqualFold(filepath.Ext(filename), ".pdf")
}
