package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/soaringjerry/labreport/internal/middleware"
	"github.com/soaringjerry/labreport/internal/securestore"
	"github.com/soaringjerry/labreport/internal/services"
	"github.com/soaringjerry/labreport/internal/utils"
)

type Options struct {
	Cipher      string
	SessionTTL  time.Duration
	Summary     services.SummaryConfig
	HTTPClient  services.HTTPClient
	JWTSecret   string
	CORSOrigins []string
	StaticDir   string
	ContactKey  string
	Commit      string
	BuildTime   string

	// minimum spacing between report uploads of one session
	ReportInterval time.Duration
}

type Router struct {
	store      Store
	challenges *services.ChallengeService
	sessions   *services.SessionService
	reports    *services.ReportService
	summaries  *services.SummaryService
	feedback   *services.FeedbackService
	conditions *services.ConditionService
	auth       *services.AuthService
	contacts   *services.ContactService
	tokens     *middleware.TokenAuth
	limiter    *reportLimiter
	opts       Options
	logger     *zap.Logger
}

// NewRouter wires the services over store. Admin routes are only mounted
// when a JWT secret is configured.
func NewRouter(store Store, opts Options, logger *zap.Logger) (*Router, error) {
	if store == nil {
		return nil, errors.New("api: nil store")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cipher, err := securestore.ProviderByName(opts.Cipher)
	if err != nil {
		return nil, err
	}
	if opts.ReportInterval <= 0 {
		opts.ReportInterval = 5 * time.Second
	}
	rt := &Router{
		store:      store,
		challenges: services.NewChallengeService(),
		summaries:  services.NewSummaryService(opts.Summary, opts.HTTPClient, logger),
		feedback:   services.NewFeedbackService(store),
		conditions: services.NewConditionService(store),
		limiter:    newReportLimiter(opts.ReportInterval),
		opts:       opts,
		logger:     logger.Named("api"),
	}
	rt.sessions = services.NewSessionService(store, cipher, rt.challenges.Verify, opts.SessionTTL, logger)
	rt.reports = services.NewReportService(rt.summaries)
	if rt.contacts, err = services.NewContactService(store, cipher, opts.ContactKey, logger); err != nil {
		return nil, err
	}
	rt.sessions.SetContacts(rt.contacts)
	if opts.JWTSecret != "" {
		if rt.tokens, err = middleware.NewTokenAuth(opts.JWTSecret); err != nil {
			return nil, err
		}
		rt.auth = services.NewAuthService(store, rt.tokens.SignToken)
	}
	return rt, nil
}

func (rt *Router) Sessions() *services.SessionService { return rt.sessions }

// Auth is nil when admin routes are disabled.
func (rt *Router) Auth() *services.AuthService { return rt.auth }

// Sweep ends idle sessions and drops report limiters that have refilled.
func (rt *Router) Sweep(ctx context.Context) (int, error) {
	rt.limiter.Prune()
	return rt.sessions.Sweep(ctx)
}

func (rt *Router) Register(r *mux.Router) {
	r.HandleFunc("/health", rt.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/version", rt.handleVersion).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/options", rt.handleOptions).Methods(http.MethodGet)
	a.HandleFunc("/challenges", rt.handleIssueChallenge).Methods(http.MethodPost)
	a.HandleFunc("/sessions", rt.handleStartSession).Methods(http.MethodPost)
	a.HandleFunc("/sessions/resume", rt.handleResumeSession).Methods(http.MethodPost)
	a.HandleFunc("/sessions/{id}", rt.handleEndSession).Methods(http.MethodDelete)
	a.HandleFunc("/sessions/{id}/demographics", rt.handleDemographics).Methods(http.MethodGet)
	a.HandleFunc("/sessions/{id}/report", rt.handleReport).Methods(http.MethodPost)
	a.HandleFunc("/sessions/{id}/results", rt.handleResults).Methods(http.MethodGet)
	a.HandleFunc("/sessions/{id}/key", rt.handleExportKey).Methods(http.MethodGet)
	a.HandleFunc("/feedback/questions", rt.handleListQuestions).Methods(http.MethodGet)
	a.HandleFunc("/feedback/responses", rt.handleSubmitFeedback).Methods(http.MethodPost)

	if rt.tokens != nil {
		a.HandleFunc("/admin/login", rt.handleLogin).Methods(http.MethodPost)
		admin := a.PathPrefix("/admin").Subrouter()
		admin.Use(rt.tokens.WithAuth, middleware.RequireAuth)
		admin.HandleFunc("/conditions", rt.handleConditions).Methods(http.MethodGet)
		admin.HandleFunc("/conditions/stats", rt.handleConditionStats).Methods(http.MethodGet)
		admin.HandleFunc("/audit", rt.handleAudit).Methods(http.MethodGet)
		admin.HandleFunc("/feedback/summary", rt.handleFeedbackSummary).Methods(http.MethodGet)
		admin.HandleFunc("/feedback/questions", rt.handleAddQuestion).Methods(http.MethodPost)
		admin.HandleFunc("/feedback/questions/{id}", rt.handleUpdateQuestion).Methods(http.MethodPut)
		admin.HandleFunc("/feedback/questions/{id}", rt.handleDeleteQuestion).Methods(http.MethodDelete)
		admin.HandleFunc("/contacts", rt.handleListContacts).Methods(http.MethodGet)
		admin.HandleFunc("/contacts", rt.handleRemoveContact).Methods(http.MethodDelete)
		admin.HandleFunc("/campaigns", rt.handleListCampaigns).Methods(http.MethodGet)
		admin.HandleFunc("/campaigns", rt.handleSendCampaign).Methods(http.MethodPost)
	}

	if rt.opts.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(rt.opts.StaticDir)))
	}
}

// Handler returns the full HTTP stack: routes plus logging, CORS, locale,
// per-route caching and security headers.
func (rt *Router) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.RequestLogger(rt.logger.Named("http")))
	rt.Register(r)
	h := middleware.CORS(rt.opts.CORSOrigins)(r)
	h = middleware.LocaleMiddleware(h)
	h = middleware.CachePolicy(h)
	return middleware.SecureHeaders(h)
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"name":       "LabReport API",
		"locale":     locale,
		"msg":        utils.T(locale, "health.ok"),
		"disclaimer": utils.T(locale, "disclaimer"),
		"sessions":   rt.sessions.Active(),
		"summaries":  rt.summaries.Enabled(),
		"commit":     rt.opts.Commit,
		"build_time": rt.opts.BuildTime,
	})
}

func (rt *Router) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"commit":     rt.opts.Commit,
		"build_time": rt.opts.BuildTime,
	})
}

// GET /api/options lists the choices the demographics form offers.
func (rt *Router) handleOptions(w http.ResponseWriter, r *http.Request) {
	locale := middleware.LocaleFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"age_ranges":  services.AgeRanges,
		"genders":     services.Genders,
		"ethnicities": services.Ethnicities,
		"languages":   services.Languages,
		"disclaimer":  utils.T(locale, "disclaimer"),
	})
}
