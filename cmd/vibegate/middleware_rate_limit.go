package main

import (
	"net"
	"net/http"
	"strings"
)

// rateLimitMiddleware enforces the optional global limiter, skipping the
// WebSocket path (long-lived connections are governed by the connection
// throttle instead).
func rateLimitMiddleware(pipeline *errorPipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/ws" {
				next.ServeHTTP(w, r)
				return
			}
			if rateLimiter != nil && !rateLimiter.Allow() {
				throttleRejections.WithLabelValues("global").Inc()
				pipeline.Respond(w, r, newRateLimitError("Rate limit exceeded", 60))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientThrottleMiddleware runs the per-client check-and-record operation on
// every request except the WebSocket handshake and the health/metrics
// surface.
func clientThrottleMiddleware(throttle *ClientThrottle, pipeline *errorPipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if throttleExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			id := clientID(r)
			if decision := throttle.CheckRequest(id); !decision.Allowed {
				throttleRejections.WithLabelValues("general").Inc()
				pipeline.Respond(w, r, newRateLimitError(
					"Rate limit exceeded for client "+id+", slow down",
					decision.RetryAfter,
				))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// providerThrottleMiddleware layers a provider's sub-quota on top of the
// general throttle for a single route subtree.
func providerThrottleMiddleware(throttle *ClientThrottle, pipeline *errorPipeline, provider string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if decision := throttle.CheckProvider(clientID(r), provider); !decision.Allowed {
				throttleRejections.WithLabelValues("provider").Inc()
				pipeline.Respond(w, r, newProviderLimitError(provider, decision.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func throttleExempt(path string) bool {
	switch path {
	case "/ws", "/health", "/ready", "/metrics":
		return true
	}
	return false
}

// clientID derives the throttle key: session token when presented,
// otherwise the client IP, with "anonymous" as the final fallback.
func clientID(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get("X-Session-Token")); token != "" {
		return token
	}
	if ip := getClientIP(r); ip != "" {
		return ip
	}
	return "anonymous"
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
