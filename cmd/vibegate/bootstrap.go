package main

import (
	"net/http"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const version = "1.0.0"

var (
	configLock  sync.RWMutex
	config      Config
	startTime   time.Time
	logger      *zap.Logger
	rateLimiter *rate.Limiter
)

// initializeServer performs explicit startup wiring: configuration, logger,
// throttle stores, janitor, limiter, and metrics registration.
func initializeServer() *app {
	startTime = time.Now()

	cfg := loadConfigFromEnv()
	configLock.Lock()
	config = cfg
	if hostname, _ := os.Hostname(); hostname != "" {
		config.Hostname = hostname
	}
	configLock.Unlock()

	initLogger(cfg.Development)

	policy, fromFile, err := loadPolicyFile(cfg.PolicyFile)
	if err != nil {
		logger.Warn("failed to parse throttle policy file, using defaults",
			zap.String("path", cfg.PolicyFile), zap.Error(err))
	}
	if fromFile {
		logger.Info("loaded throttle policy file", zap.String("path", cfg.PolicyFile))
	} else {
		// No file: the env-derived values are the policy.
		policy.WindowSeconds = int(cfg.RequestWindow / time.Second)
		policy.MaxRequests = cfg.RequestMax
		policy.BlockSeconds = int(cfg.BlockDuration / time.Second)
	}

	throttle := newClientThrottle(policy)
	throttle.StartJanitor(cfg.SweepInterval)

	conns := newConnThrottle(cfg.ConnWindow, cfg.ConnCooldown, cfg.ConnMax)
	hub := newWSHub()
	pipeline := newErrorPipeline(cfg.Development, hub)

	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst > 0 {
		rateLimiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}

	registerPrometheusMetrics()

	return &app{
		throttle:   throttle,
		conns:      conns,
		hub:        hub,
		pipeline:   pipeline,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func initLogger(development bool) {
	var err error
	if development {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
}
