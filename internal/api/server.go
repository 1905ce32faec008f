// Package api is the HTTP surface of the auth service.
package api

import (
	"log/slog"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommw "github.com/Jeffreasy/ZorgPoortIdentity/internal/api/middleware"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/audit"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/auth"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/config"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/gdpr"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/storage"
)

// Handler bundles the services the auth endpoints dispatch into.
type Handler struct {
	auth     *auth.Service
	gdpr     *gdpr.Service
	store    storage.Store
	recorder audit.Recorder
	cfg      config.Config
	logger   *slog.Logger
}

func NewHandler(
	authSvc *auth.Service,
	gdprSvc *gdpr.Service,
	store storage.Store,
	recorder audit.Recorder,
	cfg config.Config,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		auth:     authSvc,
		gdpr:     gdprSvc,
		store:    store,
		recorder: recorder,
		cfg:      cfg,
		logger:   logger,
	}
}

// NewRouter wires the full auth-service route table.
func NewRouter(h *Handler, ready func() error) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)

	sentryHandler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	r.Use(sentryHandler.Handle)

	r.Use(custommw.RequestLogger)
	r.Use(custommw.PanicRecovery)
	r.Use(custommw.CORS(h.cfg.AllowedOrigins))

	limiter := custommw.NewIPRateLimiter(5, 10)
	r.Use(limiter.Middleware)

	requireAuth := custommw.AuthMiddleware(h.auth)
	requireAdmin := custommw.RequireRole(storage.RoleAdmin)
	internalOnly := custommw.InternalOnly(h.cfg.InternalAPISecret)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(ready))

	r.Route("/auth", func(r chi.Router) {
		// Public
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
		r.Post("/magic-link/request", h.RequestMagicLink)
		r.Post("/magic-link/verify", h.VerifyMagicLink)

		// Internal
		r.Group(func(r chi.Router) {
			r.Use(internalOnly)
			r.Post("/internal/audit-log", h.InternalAuditLog)
		})

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/profile", h.Profile)

			r.Get("/sessions", h.ListSessions)
			r.Delete("/sessions/{id}", h.RevokeSession)
			r.Post("/sessions/logout-other-devices", h.LogoutOtherDevices)
			r.Post("/sessions/logout-all-devices", h.LogoutAllDevices)

			r.Get("/audit/me", h.MyAuditLogs)

			r.Get("/gdpr/export", h.ExportData)
			r.Post("/gdpr/anonymize", h.Anonymize)
			r.Patch("/gdpr/update-email", h.UpdateEmail)

			// Admin
			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)

				r.Get("/users", h.AdminListUsers)
				r.Patch("/users/{id}/role", h.AdminChangeRole)
				r.Delete("/users/{id}", h.AdminDeleteUser)
				r.Delete("/users/{id}/permanent", h.AdminPermanentDelete)
				r.Post("/users/delete-non-admins", h.AdminDeleteNonAdmins)
				r.Post("/users/delete-all", h.AdminDeleteAll)
				r.Get("/audit-logs", h.AdminAuditLogs)
			})
		})
	})

	return r
}
