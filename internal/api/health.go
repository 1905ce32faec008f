package api

import (
	"net/http"

	"github.com/Jeffreasy/ZorgPoortIdentity/internal/api/helpers"
)

func healthHandler(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyHandler reports readiness based on the injected probe, typically a
// database ping.
func readyHandler(probe func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if probe != nil {
			if err := probe(); err != nil {
				helpers.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
				return
			}
		}
		helpers.RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
