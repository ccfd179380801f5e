package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderForwardRelays(t *testing.T) {
	setupTest()

	var captured *http.Request
	var capturedBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(r.Context())
		b, _ := io.ReadAll(r.Body)
		capturedBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"msg_1"}`))
	}))
	defer upstream.Close()

	handler := providerForwardHandler("anthropic", upstream.URL, upstream.Client(), newErrorPipeline(false, nil))

	req := httptest.NewRequest("POST", "/api/anthropic/v1/messages?beta=true", strings.NewReader(`{"model":"claude"}`))
	req.Header.Set("X-Api-Key", "sk-test")
	req.Header.Set("Anthropic-Version", "2023-06-01")
	req.Header.Set("X-Internal-Header", "should not forward")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":"msg_1"}`, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	require.NotNil(t, captured)
	assert.Equal(t, "/v1/messages", captured.URL.Path)
	assert.Equal(t, "beta=true", captured.URL.RawQuery)
	assert.Equal(t, "sk-test", captured.Header.Get("X-Api-Key"))
	assert.Equal(t, "2023-06-01", captured.Header.Get("Anthropic-Version"))
	assert.Empty(t, captured.Header.Get("X-Internal-Header"))
	assert.JSONEq(t, `{"model":"claude"}`, capturedBody)
}

func TestProviderForwardUpstreamDown(t *testing.T) {
	setupTest()

	// Grab an address nothing listens on.
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	handler := providerForwardHandler("anthropic", deadURL,
		&http.Client{Timeout: time.Second}, newErrorPipeline(false, nil))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/api/anthropic/v1/messages", nil))

	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "30", rr.Header().Get("Retry-After"))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	inner := body["error"].(map[string]interface{})
	assert.Equal(t, "Anthropic upstream is unavailable", inner["message"])
	assert.Equal(t, float64(30), inner["retryAfter"])
}

func TestProviderForwardNormalizesUpstream429(t *testing.T) {
	setupTest()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"type":"rate_limit_error"}`))
	}))
	defer upstream.Close()

	handler := providerForwardHandler("openai", upstream.URL, upstream.Client(), newErrorPipeline(false, nil))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("POST", "/api/openai/v1/chat/completions", nil))

	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "OpenAI API rate limit exceeded", body["error"])
	assert.Equal(t, float64(17), body["retryAfter"])
}

func TestProviderForwardRelaysUpstreamErrors(t *testing.T) {
	setupTest()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream broke"))
	}))
	defer upstream.Close()

	handler := providerForwardHandler("anthropic", upstream.URL, upstream.Client(), newErrorPipeline(false, nil))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest("GET", "/api/anthropic/v1/models", nil))

	// Non-429 upstream statuses pass through untouched.
	assert.Equal(t, http.StatusBadGateway, rr.Code)
	assert.Equal(t, "upstream broke", rr.Body.String())
}

func TestThrottleStatusGet(t *testing.T) {
	setupTest()
	a := newTestApp(testPolicy())
	a.throttle.CheckRequest("client-a")

	rr := httptest.NewRecorder()
	throttleStatusHandler(a)(rr, httptest.NewRequest("GET", "/throttle", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, float64(1), body["active_clients"])
	assert.Equal(t, float64(0), body["connected_terminals"])

	policy := body["policy"].(map[string]interface{})
	assert.Equal(t, float64(60), policy["window_seconds"])
	assert.Equal(t, float64(10), policy["max_requests"])
	assert.Equal(t, float64(300), policy["block_seconds"])
}

func TestThrottleStatusUpdate(t *testing.T) {
	setupTest()
	a := newTestApp(testPolicy())

	payload := `{"window_seconds":30,"max_requests":5,"block_seconds":120,"providers":{"anthropic":2}}`
	rr := httptest.NewRecorder()
	throttleStatusHandler(a)(rr, httptest.NewRequest("PUT", "/throttle", strings.NewReader(payload)))

	require.Equal(t, http.StatusOK, rr.Code)
	updated := a.throttle.Policy()
	assert.Equal(t, 30, updated.WindowSeconds)
	assert.Equal(t, 5, updated.MaxRequests)
	assert.Equal(t, 120, updated.BlockSeconds)
	assert.Equal(t, 2, updated.Providers["anthropic"])
}

func TestThrottleStatusRejectsMalformedJSON(t *testing.T) {
	setupTest()
	a := newTestApp(testPolicy())

	rr := httptest.NewRecorder()
	throttleStatusHandler(a)(rr, httptest.NewRequest("PUT", "/throttle", strings.NewReader("{not json")))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	inner := body["error"].(map[string]interface{})
	assert.Equal(t, "Validation Error", inner["message"])
	fields := inner["fields"].(map[string]interface{})
	assert.Equal(t, "not valid JSON", fields["body"])
}

func TestThrottleStatusRejectsInvalidPolicy(t *testing.T) {
	setupTest()
	a := newTestApp(testPolicy())

	payload := `{"window_seconds":0,"max_requests":-1,"block_seconds":300}`
	rr := httptest.NewRecorder()
	throttleStatusHandler(a)(rr, httptest.NewRequest("PUT", "/throttle", strings.NewReader(payload)))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	fields := body["error"].(map[string]interface{})["fields"].(map[string]interface{})
	assert.Contains(t, fields, "window_seconds")
	assert.Contains(t, fields, "max_requests")

	// Rejected policies leave the active one untouched.
	assert.Equal(t, 10, a.throttle.Policy().MaxRequests)
}

func TestHealthHandler(t *testing.T) {
	setupTest()
	rr := httptest.NewRecorder()
	healthHandler(rr, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, body["uptime"])
}

func TestReadyHandler(t *testing.T) {
	setupTest()
	rr := httptest.NewRecorder()
	readyHandler(rr, httptest.NewRequest("GET", "/ready", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rr.Body.String())
}

func TestInfoHandler(t *testing.T) {
	setupTest()
	configLock.Lock()
	config.Hostname = "gw-test"
	configLock.Unlock()

	a := newTestApp(testPolicy())
	req := httptest.NewRequest("GET", "/info", nil)
	req.Header.Set("X-Session-Token", "session-info")
	req.Header.Set("X-Request-ID", "req-123")
	rr := httptest.NewRecorder()
	infoHandler(a)(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "req-123", body["request_id"])
	assert.Equal(t, "session-info", body["client"])

	server := body["server"].(map[string]interface{})
	assert.Equal(t, "gw-test", server["hostname"])
	assert.Equal(t, version, server["version"])

	throttle := body["throttle"].(map[string]interface{})
	assert.Equal(t, float64(0), throttle["active_clients"])
}
