package main

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

// Health check handlers
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now(),
		"uptime":    time.Since(startTime).String(),
	})
}

func readyHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}

// Server info handler
func infoHandler(a *app) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		configLock.RLock()
		hostname := config.Hostname
		development := config.Development
		configLock.RUnlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"timestamp":   time.Now(),
			"request_id":  r.Header.Get("X-Request-ID"),
			"client":      clientID(r),
			"remote_addr": getClientIP(r),
			"server": map[string]interface{}{
				"hostname":    hostname,
				"version":     version,
				"go_version":  runtime.Version(),
				"platform":    runtime.GOOS + "/" + runtime.GOARCH,
				"start_time":  startTime,
				"uptime":      time.Since(startTime).String(),
				"development": development,
			},
			"throttle": map[string]interface{}{
				"active_clients":      a.throttle.ActiveClients(),
				"connected_terminals": a.hub.count(),
			},
		})
	}
}
