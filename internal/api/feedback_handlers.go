package api

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/soaringjerry/labreport/internal/middleware"
	"github.com/soaringjerry/labreport/internal/models"
	"github.com/soaringjerry/labreport/internal/services"
)

func (rt *Router) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	qs, err := rt.feedback.ListQuestions(r.Context())
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": qs})
}

// POST /api/feedback/responses
// { session_id?, language, answers: {question_id: value} }
func (rt *Router) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		services.SubmitFeedbackRequest
		SessionID string `json:"session_id"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	// an unknown or expired session just leaves the response uncorrelated
	if id := strings.TrimSpace(req.SessionID); id != "" {
		if hash, err := rt.sessions.AnalyticsHash(id); err == nil {
			req.AnalyticsHash = hash
		}
	}
	resp, err := rt.feedback.Submit(r.Context(), req.SubmitFeedbackRequest)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"ok": true, "id": resp.ID})
}

func (rt *Router) handleAddQuestion(w http.ResponseWriter, r *http.Request) {
	var q models.FeedbackQuestion
	if err := decodeBody(w, r, &q); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	out, err := rt.feedback.AddQuestion(r.Context(), actor, &q)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (rt *Router) handleUpdateQuestion(w http.ResponseWriter, r *http.Request) {
	var q models.FeedbackQuestion
	if err := decodeBody(w, r, &q); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	q.ID = mux.Vars(r)["id"]
	actor, _ := middleware.ActorFromContext(r.Context())
	out, err := rt.feedback.UpdateQuestion(r.Context(), actor, &q)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleDeleteQuestion(w http.ResponseWriter, r *http.Request) {
	actor, _ := middleware.ActorFromContext(r.Context())
	if err := rt.feedback.DeleteQuestion(r.Context(), actor, mux.Vars(r)["id"]); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (rt *Router) handleFeedbackSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := rt.feedback.Summary(r.Context())
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
