package handler

import (
	"net/http"

	"studyconnect/internal/config"
)

// Version is the API version reported by the status endpoint.
const Version = "0.1.0"

func statusHandler(cfg *config.Config) http.HandlerFunc {
	env := ""
	if cfg != nil {
		env = cfg.Environment
	}
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"service":     "studyconnect",
			"version":     Version,
			"environment": env,
			"status":      "operational",
		})
	}
}
