package main

import (
	"fmt"
	"net/http"
	"runtime/debug"
)

// recoveryMiddleware converts panics into internal errors for the pipeline,
// keeping the stack for logging (and for the response body in development).
func recoveryMiddleware(pipeline *errorPipeline) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if v := recover(); v != nil {
					err := newInternalError(fmt.Errorf("panic: %v", v))
					err.stack = string(debug.Stack())
					pipeline.Respond(w, r, err)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
