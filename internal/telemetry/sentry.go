// Package telemetry wires the error reporter both services share.
package telemetry

import (
	"log/slog"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

// businessErrors are expected domain outcomes that must never page anyone.
var businessErrors = []string{
	"user not found",
	"invalid password",
	"invalid credentials",
	"account locked",
	"email not verified",
	"email already registered",
	"refresh token not found",
	"refresh token expired",
	"token invalidated",
	"token is invalid",
	"token has expired",
	"token already used",
	"session not found",
}

// Init configures Sentry for the given service. A missing DSN disables
// reporting without failing startup; dev environments usually run without it.
// The caller owns the returned flush and should defer it.
func Init(service, env, dsn string, logger *slog.Logger) func() {
	if dsn == "" {
		logger.Warn("sentry_dsn_missing", "details", "error reporting disabled")
		return func() {}
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		ServerName:       service,
		TracesSampleRate: 0.2,
		BeforeSend:       scrub,
	})
	if err != nil {
		logger.Error("sentry_init_failed", "error", err)
		return func() {}
	}

	logger.Info("sentry_initialized")
	return func() { sentry.Flush(2 * time.Second) }
}

// scrub drops expected business errors and strips credential-bearing headers
// before the event leaves the process.
func scrub(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	if hint != nil && hint.OriginalException != nil {
		msg := strings.ToLower(hint.OriginalException.Error())
		for _, be := range businessErrors {
			if strings.Contains(msg, be) {
				return nil
			}
		}
	}

	if event.Request != nil {
		delete(event.Request.Headers, "Authorization")
		delete(event.Request.Headers, "Cookie")
		delete(event.Request.Headers, "X-Internal-Secret")
		event.Request.Cookies = ""
	}
	return event
}
