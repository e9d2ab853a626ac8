package middleware

import (
	"context"
	"net/http"

	"github.com/soaringjerry/labreport/internal/utils"
)

type ctxKey int

const localeKey ctxKey = 1

// SupportedLocales are the UI locales the server has copy for.
var SupportedLocales = []string{"en", "es", "ar", "bn", "fr", "hi", "ur", "ru", "yue", "zh-hk"}

// LocaleMiddleware extracts locale from query param (lang) or Accept-Language
// and stores it in request context.
func LocaleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		locale := utils.DetermineLocale(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), SupportedLocales, "en")
		w.Header().Set("Content-Language", locale)
		ctx := context.WithValue(r.Context(), localeKey, locale)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// LocaleFromContext retrieves the locale stored by LocaleMiddleware.
func LocaleFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(localeKey).(string); ok && s != "" {
		return s
	}
	return "en"
}
