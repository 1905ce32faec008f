// Package emailapi is the HTTP surface of the email service.
package emailapi

import (
	"log/slog"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommw "github.com/Jeffreasy/ZorgPoortIdentity/internal/api/middleware"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/config"
	"github.com/Jeffreasy/ZorgPoortIdentity/internal/emailflow"
)

// Handler bundles the email-flow service behind the HTTP endpoints.
type Handler struct {
	flow   *emailflow.Service
	cfg    config.Config
	logger *slog.Logger
}

func NewHandler(flow *emailflow.Service, cfg config.Config, logger *slog.Logger) *Handler {
	return &Handler{flow: flow, cfg: cfg, logger: logger}
}

// NewRouter wires the email-service route table. The dispatch endpoints the
// auth service calls directly sit behind the internal secret; the rest are
// client-facing.
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

	internalOnly := custommw.InternalOnly(h.cfg.InternalAPISecret)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(ready))

	r.Route("/email", func(r chi.Router) {
		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/resend-verification", h.ResendVerification)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)

		r.Group(func(r chi.Router) {
			r.Use(internalOnly)
			r.Post("/send-verification", h.SendVerification)
			r.Post("/send-magic-link", h.SendMagicLink)
		})
	})

	return r
}
