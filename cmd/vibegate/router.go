package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// app wires the stores and the pipeline into the handlers. Everything the
// middleware needs is injected here instead of living in package globals.
type app struct {
	throttle   *ClientThrottle
	conns      *ConnThrottle
	hub        *wsHub
	pipeline   *errorPipeline
	httpClient *http.Client
}

// setupRoutes configures all HTTP routes and middleware for the gateway.
func setupRoutes(a *app) *mux.Router {
	router := mux.NewRouter()

	configLock.RLock()
	requestTimeout := config.RequestTimeout
	anthropicUpstream := config.AnthropicUpstream
	openaiUpstream := config.OpenAIUpstream
	configLock.RUnlock()

	// Middleware, outermost first
	router.Use(loggingMiddleware)
	router.Use(corsMiddleware(a.pipeline))
	router.Use(requestIDMiddleware)
	router.Use(recoveryMiddleware(a.pipeline))
	router.Use(timeoutGuardMiddleware(a.pipeline, requestTimeout))
	router.Use(rateLimitMiddleware(a.pipeline))
	router.Use(clientThrottleMiddleware(a.throttle, a.pipeline))

	// Health check endpoints
	router.HandleFunc("/health", healthHandler).Methods("GET")
	router.HandleFunc("/ready", readyHandler).Methods("GET")

	// Server info
	router.HandleFunc("/info", infoHandler(a)).Methods("GET")

	// Throttle policy inspection and updates
	router.HandleFunc("/throttle", throttleStatusHandler(a)).Methods("GET", "PUT", "POST")

	// Terminal WebSocket, gated by the connection throttle
	router.HandleFunc("/ws", websocketHandler(a.conns, a.hub, a.pipeline))

	// Provider routes carry their sub-quota on top of the general throttle
	router.PathPrefix("/api/anthropic").Handler(
		providerThrottleMiddleware(a.throttle, a.pipeline, "anthropic")(
			providerForwardHandler("anthropic", anthropicUpstream, a.httpClient, a.pipeline)))
	router.PathPrefix("/api/openai").Handler(
		providerThrottleMiddleware(a.throttle, a.pipeline, "openai")(
			providerForwardHandler("openai", openaiUpstream, a.httpClient, a.pipeline)))

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler())

	// Everything else is an unmatched route; registered as a catch-all so
	// the middleware chain (and the general throttle) still applies.
	router.PathPrefix("/").Handler(notFoundHandler(a.pipeline))

	return router
}

func notFoundHandler(pipeline *errorPipeline) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pipeline.Respond(w, r, newNotFoundError(r.RequestURI))
	})
}
