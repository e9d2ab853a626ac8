package api

import (
	"net/http"

	"github.com/soaringjerry/labreport/internal/middleware"
	"github.com/soaringjerry/labreport/internal/services"
)

// GET /api/admin/contacts
func (rt *Router) handleListContacts(w http.ResponseWriter, r *http.Request) {
	list, err := rt.contacts.List(r.Context())
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": list})
}

// DELETE /api/admin/contacts { email }
func (rt *Router) handleRemoveContact(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	if err := rt.contacts.Remove(r.Context(), actor, req.Email); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// POST /api/admin/campaigns { subject, message }
// The campaign is recorded and audited; nothing is sent from here.
func (rt *Router) handleSendCampaign(w http.ResponseWriter, r *http.Request) {
	var req services.CampaignRequest
	if err := decodeBody(w, r, &req); err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	actor, _ := middleware.ActorFromContext(r.Context())
	c, err := rt.contacts.SendCampaign(r.Context(), actor, req)
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (rt *Router) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	list, err := rt.contacts.Campaigns(r.Context())
	if err != nil {
		rt.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": list})
}
