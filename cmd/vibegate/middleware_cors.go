package main

import "net/http"

// corsMiddleware enables CORS when configured. With an origin allowlist set,
// a request from a foreign origin is rejected through the error pipeline;
// without one the policy is permissive.
func corsMiddleware(pipeline *errorPipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			configLock.RLock()
			enableCORS := config.EnableCORS
			allowed := config.AllowedOrigins
			configLock.RUnlock()

			if !enableCORS {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			if origin != "" && len(allowed) > 0 && !originAllowed(origin, allowed) {
				pipeline.Respond(w, r, newCORSError(origin))
				return
			}

			allowOrigin := "*"
			if len(allowed) > 0 {
				allowOrigin = origin
			}
			if allowOrigin != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "*")
			w.Header().Set("Access-Control-Expose-Headers", "*")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == origin || a == "*" {
			return true
		}
	}
	return false
}
