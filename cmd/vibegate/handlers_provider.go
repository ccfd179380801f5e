package main

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
)

// forwardedHeaders are the request headers relayed to provider upstreams.
var forwardedHeaders = []string{
	"Content-Type",
	"Accept",
	"Authorization",
	"X-Api-Key",
	"Anthropic-Version",
	"Anthropic-Beta",
	"OpenAI-Organization",
}

// providerForwardHandler relays a request to the provider's upstream API.
// The provider sub-quota middleware has already run by the time this
// executes. Upstream connection failures become service-unavailable errors,
// which the pipeline turns into a 503 plus a reconnect broadcast; an
// upstream 429 is normalized into the provider quota payload.
func providerForwardHandler(provider, upstream string, client *http.Client, pipeline *errorPipeline) http.HandlerFunc {
	prefix := "/api/" + provider
	return func(w http.ResponseWriter, r *http.Request) {
		configLock.RLock()
		maxBodySize := config.MaxBodySize
		configLock.RUnlock()

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			pipeline.Respond(w, r, newValidationError("invalid request", map[string]string{
				"body": "request body could not be read",
			}))
			return
		}

		target := strings.TrimSuffix(upstream, "/") + strings.TrimPrefix(r.URL.Path, prefix)
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
		if err != nil {
			pipeline.Respond(w, r, newInternalError(err))
			return
		}
		for _, name := range forwardedHeaders {
			if v := r.Header.Get(name); v != "" {
				req.Header.Set(name, v)
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			pipeline.Respond(w, r, newUnavailableError(providerDisplayName(provider)+" upstream is unavailable", 30))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter := 60
			if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && v > 0 {
				retryAfter = v
			}
			pipeline.Respond(w, r, newProviderLimitError(provider, retryAfter))
			return
		}

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	}
}
