package api

import (
	"net/http"

	"github.com/soaringjerry/labreport/internal/services"
)

// POST /api/admin/login { email, password }
func (rt *Router) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	res, err := rt.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/admin/conditions
//
//	no query            overview with top conditions
//	?field=&value=      condition counts within one demographic group
//	?condition=         locations reporting the condition
func (rt *Router) handleConditions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		out any
		err error
	)
	switch {
	case q.Get("condition") != "":
		var counts []services.Count
		counts, err = rt.conditions.ByLocation(r.Context(), q.Get("condition"))
		out = map[string]any{"condition": q.Get("condition"), "locations": counts}
	case q.Get("field") != "":
		var counts []services.Count
		counts, err = rt.conditions.ByDemographic(r.Context(), q.Get("field"), q.Get("value"))
		out = map[string]any{"field": q.Get("field"), "value": q.Get("value"), "conditions": counts}
	default:
		out, err = rt.conditions.Overview(r.Context())
	}
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) handleConditionStats(w http.ResponseWriter, r *http.Request) {
	counts, err := rt.conditions.Stats(r.Context())
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conditions": counts})
}

func (rt *Router) handleAudit(w http.ResponseWriter, r *http.Request) {
	entries, err := rt.store.ListAudit(r.Context())
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
