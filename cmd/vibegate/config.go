package main

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds gateway configuration
type Config struct {
	Port           string
	EnableTLS      bool
	CertFile       string
	KeyFile        string
	EnableCORS     bool
	AllowedOrigins []string // empty means any origin
	Development    bool
	LogRequests    bool
	MaxBodySize    int64
	Hostname       string

	// Per-client request throttle
	RequestWindow time.Duration
	RequestMax    int
	BlockDuration time.Duration
	SweepInterval time.Duration

	// WebSocket connection throttle
	ConnWindow   time.Duration
	ConnMax      int
	ConnCooldown time.Duration

	// Request timeout guard
	RequestTimeout time.Duration

	// Optional global limiter (requests/sec across all clients)
	RateLimitRPS   float64
	RateLimitBurst int

	// Provider upstreams
	AnthropicUpstream string
	OpenAIUpstream    string

	PolicyFile string
}

// ThrottlePolicy is the tunable part of the request throttle. It can be
// loaded from a YAML file at startup and inspected/replaced at runtime via
// the /throttle endpoint.
type ThrottlePolicy struct {
	WindowSeconds int            `yaml:"window_seconds" json:"window_seconds"`
	MaxRequests   int            `yaml:"max_requests" json:"max_requests"`
	BlockSeconds  int            `yaml:"block_seconds" json:"block_seconds"`
	Providers     map[string]int `yaml:"providers" json:"providers"`
}

// defaultPolicy returns the built-in throttle policy: 10 requests per
// 60-second window, 5-minute block, 3/min anthropic and 5/min openai calls.
func defaultPolicy() ThrottlePolicy {
	return ThrottlePolicy{
		WindowSeconds: 60,
		MaxRequests:   10,
		BlockSeconds:  300,
		Providers: map[string]int{
			"anthropic": 3,
			"openai":    5,
		},
	}
}

// loadConfigFromEnv builds a Config from environment variables.
func loadConfigFromEnv() Config {
	return Config{
		Port:           getEnv("PORT", "8080"),
		EnableTLS:      getEnv("ENABLE_TLS", "false") == "true",
		CertFile:       getEnv("CERT_FILE", "server.crt"),
		KeyFile:        getEnv("KEY_FILE", "server.key"),
		EnableCORS:     getEnv("ENABLE_CORS", "true") == "true",
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "")),
		Development:    getEnv("DEVELOPMENT", "false") == "true",
		LogRequests:    getEnv("LOG_REQUESTS", "true") == "true",
		MaxBodySize:    parseInt64(getEnv("MAX_BODY_SIZE", "10485760")),

		RequestWindow: parseSeconds(getEnv("THROTTLE_WINDOW_SECONDS", "60")),
		RequestMax:    int(parseInt64(getEnv("THROTTLE_MAX_REQUESTS", "10"))),
		BlockDuration: parseSeconds(getEnv("THROTTLE_BLOCK_SECONDS", "300")),
		SweepInterval: parseSeconds(getEnv("THROTTLE_SWEEP_SECONDS", "60")),

		ConnWindow:   parseSeconds(getEnv("CONN_WINDOW_SECONDS", "10")),
		ConnMax:      int(parseInt64(getEnv("CONN_MAX_ATTEMPTS", "5"))),
		ConnCooldown: parseSeconds(getEnv("CONN_COOLDOWN_SECONDS", "30")),

		RequestTimeout: parseSeconds(getEnv("REQUEST_TIMEOUT_SECONDS", "30")),

		RateLimitRPS:   parseFloat64(getEnv("RATE_LIMIT_RPS", "0")),
		RateLimitBurst: int(parseInt64(getEnv("RATE_LIMIT_BURST", "0"))),

		AnthropicUpstream: getEnv("ANTHROPIC_UPSTREAM", "https://api.anthropic.com"),
		OpenAIUpstream:    getEnv("OPENAI_UPSTREAM", "https://api.openai.com"),

		PolicyFile: getEnv("THROTTLE_POLICY_FILE", ""),
	}
}

// loadPolicyFile reads a ThrottlePolicy from a YAML file. A missing file is
// not an error; the caller falls back to the defaults.
func loadPolicyFile(path string) (ThrottlePolicy, bool, error) {
	policy := defaultPolicy()
	if path == "" {
		return policy, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return policy, false, nil
		}
		return policy, false, err
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return defaultPolicy(), false, err
	}
	return policy, true, nil
}

// validatePolicy returns a field->problem map, empty when the policy is valid.
func validatePolicy(p ThrottlePolicy) map[string]string {
	fields := make(map[string]string)
	if p.WindowSeconds <= 0 {
		fields["window_seconds"] = "must be a positive number of seconds"
	}
	if p.MaxRequests <= 0 {
		fields["max_requests"] = "must be a positive request count"
	}
	if p.BlockSeconds <= 0 {
		fields["block_seconds"] = "must be a positive number of seconds"
	}
	for name, limit := range p.Providers {
		if strings.TrimSpace(name) == "" {
			fields["providers"] = "provider names must not be empty"
		} else if limit <= 0 {
			fields["providers."+name] = "cap must be a positive call count"
		}
	}
	return fields
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt64(s string) int64 {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	return 0
}

func parseFloat64(s string) float64 {
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return 0
}

func parseSeconds(s string) time.Duration {
	return time.Duration(parseInt64(s)) * time.Second
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
