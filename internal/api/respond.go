package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/soaringjerry/labreport/internal/middleware"
	"github.com/soaringjerry/labreport/internal/services"
	"github.com/soaringjerry/labreport/internal/utils"
)

const maxJSONBody = 64 << 10

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid:
		return http.StatusBadRequest
	case services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorForbidden:
		return http.StatusForbidden
	case services.ErrorNotFound:
		return http.StatusNotFound
	case services.ErrorConflict:
		return http.StatusConflict
	case services.ErrorTooManyRequests:
		return http.StatusTooManyRequests
	case services.ErrorBadGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError maps service errors to statuses. Anything that is not a
// ServiceError is logged and reported as a generic failure.
func (rt *Router) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	locale := middleware.LocaleFromContext(r.Context())
	se, ok := services.AsServiceError(err)
	if !ok {
		rt.logger.Error("unhandled error", zap.String("method", r.Method), zap.Error(err))
		se = &services.ServiceError{Code: services.ErrorInternal}
	}
	msg := se.Message
	switch {
	case se.Code == services.ErrorInternal:
		msg = utils.T(locale, "error.internal")
	case se == services.ErrChallengeFailed:
		msg = utils.T(locale, "error.challenge")
	case se == services.ErrSessionNotFound:
		msg = utils.T(locale, "error.session")
	}
	writeJSON(w, statusFor(se.Code), errorBody{Error: string(se.Code), Message: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	return decodeJSON(http.MaxBytesReader(w, r.Body, maxJSONBody), out)
}

func decodeJSON(body io.Reader, out any) error {
	if err := json.NewDecoder(body).Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return services.NewInvalidError("request body too large")
		case errors.Is(err, io.EOF):
			return services.NewInvalidError("request body required")
		default:
			return services.NewInvalidError("invalid json")
		}
	}
	return nil
}
