package api

import (
	"context"

	"github.com/soaringjerry/labreport/internal/models"
	"github.com/soaringjerry/labreport/internal/services"
)

// Store is everything the router's services need from persistence.
type Store interface {
	services.SessionStore
	services.FeedbackStore
	services.ConditionStore
	services.AuthStore
	services.ContactStore

	ListAudit(ctx context.Context) ([]models.AuditEntry, error)
}
