package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// pipelineStage inspects an error and either produces the terminal response
// (returning true) or passes by returning false.
type pipelineStage struct {
	name   string
	handle func(p *errorPipeline, w http.ResponseWriter, r *http.Request, err error) bool
}

// errorPipeline converts errors into HTTP responses through a fixed, ordered
// stage list. The global handler after the list always terminates, so every
// error yields exactly one response.
type errorPipeline struct {
	development bool
	hub         *wsHub
	stages      []pipelineStage
}

func newErrorPipeline(development bool, hub *wsHub) *errorPipeline {
	p := &errorPipeline{development: development, hub: hub}
	p.stages = []pipelineStage{
		{"validation", handleValidationError},
		{"auth", handleAuthError},
		{"rate_limit", handleRateLimitError},
		{"cors", handleCORSError},
		{"service_recovery", handleServiceRecovery},
		{"not_found", handleNotFoundError},
	}
	return p
}

// Respond walks the stage list; first match wins.
func (p *errorPipeline) Respond(w http.ResponseWriter, r *http.Request, err error) {
	for _, stage := range p.stages {
		if stage.handle(p, w, r, err) {
			pipelineErrors.WithLabelValues(stage.name).Inc()
			return
		}
	}
	p.respondGlobal(w, r, err)
	pipelineErrors.WithLabelValues("global").Inc()
}

func handleValidationError(p *errorPipeline, w http.ResponseWriter, r *http.Request, err error) bool {
	e, ok := asAPIError(err)
	if !ok || e.kind != kindValidation {
		return false
	}
	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{
			"message": "Validation Error",
			"status":  http.StatusBadRequest,
			"fields":  e.fields,
		},
	})
	p.logSummary(r, err, http.StatusBadRequest)
	return true
}

func handleAuthError(p *errorPipeline, w http.ResponseWriter, r *http.Request, err error) bool {
	e, ok := asAPIError(err)
	if !ok || (e.kind != kindUnauthorized && e.kind != kindForbidden) {
		return false
	}
	writeJSON(w, e.status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": e.message,
			"status":  e.status,
		},
	})
	p.logSummary(r, err, e.status)
	return true
}

// handleRateLimitError normalizes anything already carrying a 429 status or
// a rate-limit marker into the consistent quota-exceeded payload.
func handleRateLimitError(p *errorPipeline, w http.ResponseWriter, r *http.Request, err error) bool {
	title := "Too many requests"
	message := "Rate limit exceeded, slow down"
	retryAfter := 60

	if e, ok := asAPIError(err); ok {
		if e.kind != kindRateLimit && e.status != http.StatusTooManyRequests {
			return false
		}
		if e.title != "" {
			title = e.title
		}
		if e.message != "" {
			message = e.message
		}
		if e.retryAfter > 0 {
			retryAfter = e.retryAfter
		}
	} else if !strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		return false
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, map[string]interface{}{
		"error":      title,
		"message":    message,
		"retryAfter": retryAfter,
	})
	p.logSummary(r, err, http.StatusTooManyRequests)
	return true
}

func handleCORSError(p *errorPipeline, w http.ResponseWriter, r *http.Request, err error) bool {
	e, ok := asAPIError(err)
	if !ok || e.kind != kindCORS {
		return false
	}
	writeJSON(w, http.StatusForbidden, map[string]interface{}{
		"error": map[string]interface{}{
			"message": e.message,
			"status":  http.StatusForbidden,
		},
	})
	p.logSummary(r, err, http.StatusForbidden)
	return true
}

// handleServiceRecovery catches transport disconnects and unavailable
// dependencies, answers 503 with a retry hint, and asks connected WebSocket
// clients to reconnect. The broadcast is best-effort.
func handleServiceRecovery(p *errorPipeline, w http.ResponseWriter, r *http.Request, err error) bool {
	message := "Service temporarily unavailable"
	retryAfter := 30

	if e, ok := asAPIError(err); ok {
		if e.kind != kindUnavailable {
			return false
		}
		message = e.message
		if e.retryAfter > 0 {
			retryAfter = e.retryAfter
		}
	} else if !isTransportError(err) {
		return false
	}

	if p.hub != nil {
		go p.hub.broadcastReconnect(message)
	}

	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
		"error": map[string]interface{}{
			"message":    message,
			"retryAfter": retryAfter,
		},
	})
	p.logFull(r, err, http.StatusServiceUnavailable, "")
	return true
}

func handleNotFoundError(p *errorPipeline, w http.ResponseWriter, r *http.Request, err error) bool {
	e, ok := asAPIError(err)
	if !ok || e.kind != kindNotFound {
		return false
	}
	writeJSON(w, http.StatusNotFound, map[string]interface{}{
		"error": map[string]interface{}{
			"message": e.message,
			"status":  http.StatusNotFound,
		},
	})
	p.logSummary(r, err, http.StatusNotFound)
	return true
}

// respondGlobal is the terminal catch-all. It honors an error's own status
// when one is set, hides internals outside development, and logs 5xx with
// full diagnostic context.
func (p *errorPipeline) respondGlobal(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "Internal server error"
	stack := ""

	if e, ok := asAPIError(err); ok {
		if e.status >= 400 {
			status = e.status
		}
		if e.message != "" {
			message = e.message
		}
		stack = e.stack
	}

	body := map[string]interface{}{
		"message": message,
		"status":  status,
	}
	if p.development {
		if stack != "" {
			body["stack"] = stack
		}
		if err != nil {
			body["details"] = err.Error()
		}
	}
	writeJSON(w, status, map[string]interface{}{"error": body})

	if status >= 500 {
		p.logFull(r, err, status, stack)
	} else {
		p.logSummary(r, err, status)
	}
}

func (p *errorPipeline) logSummary(r *http.Request, err error, status int) {
	logger.Warn("request failed",
		zap.Int("status", status),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("request_id", r.Header.Get("X-Request-ID")),
		zap.String("reason", err.Error()),
	)
}

func (p *errorPipeline) logFull(r *http.Request, err error, status int, stack string) {
	fields := []zap.Field{
		zap.Int("status", status),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("remote", getClientIP(r)),
		zap.String("request_id", r.Header.Get("X-Request-ID")),
		zap.Error(err),
	}
	if stack != "" {
		fields = append(fields, zap.String("stack", stack))
	}
	logger.Error("request failed", fields...)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
