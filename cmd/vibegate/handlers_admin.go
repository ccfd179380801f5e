package main

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// throttleStatusHandler exposes the live throttle policy. GET returns the
// policy plus store stats; PUT/POST replaces the policy after validation,
// with validation failures answered through the pipeline's 400 stage.
func throttleStatusHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"policy":              a.throttle.Policy(),
				"active_clients":      a.throttle.ActiveClients(),
				"connected_terminals": a.hub.count(),
			})
			return
		}

		var policy ThrottlePolicy
		if err := json.NewDecoder(r.Body).Decode(&policy); err != nil {
			a.pipeline.Respond(w, r, newValidationError("invalid throttle policy", map[string]string{
				"body": "not valid JSON",
			}))
			return
		}
		if fields := validatePolicy(policy); len(fields) > 0 {
			a.pipeline.Respond(w, r, newValidationError("invalid throttle policy", fields))
			return
		}

		a.throttle.SetPolicy(policy)
		logger.Info("throttle policy updated",
			zap.Int("window_seconds", policy.WindowSeconds),
			zap.Int("max_requests", policy.MaxRequests),
			zap.Int("block_seconds", policy.BlockSeconds),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "policy updated"})
	}
}
