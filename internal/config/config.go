// Package config loads SDK client options from environment variables,
// following the teacher's env-driven Load()/getenvFirst pattern
// (cli/internal/config/config.go) adapted to the notebook SDK's own
// knobs instead of delight's agent/ACP fields.
package config

import (
	"fmt"
	"os"
	"time"
)

// Options configures a notebook Client. Zero-value Options is not
// valid on its own; use Load or Defaults to obtain a populated value.
type Options struct {
	// BaseURL is the notebook-management HTTP API base URL.
	BaseURL string
	// Token is the bearer token sent on every HTTP and duplex-channel
	// request.
	Token string

	// StartClosed mirrors the reconnecting socket's lazy-connect flag;
	// per spec §6 it defaults to true.
	StartClosed bool
	// Debug enables verbose logging.
	Debug bool
	// Telemetry holds the NOTEBOOK_TELEMETRY toggle. No part of the SDK
	// reads it; Session.Health works regardless of its value.
	Telemetry bool

	// PingInterval is the keepalive ping period (spec default 30s).
	PingInterval time.Duration
	// MaxRetries bounds invoke() retry attempts (spec default 10).
	MaxRetries int
	// RateLimitPerSecond bounds outgoing requests per sliding window
	// (spec default 50).
	RateLimitPerSecond int
	// QueueMaxSize bounds the disconnected-request FIFO (spec default 100).
	QueueMaxSize int
	// QueueMaxAge bounds how long a queued request survives before it
	// expires (spec default 30s).
	QueueMaxAge time.Duration
}

// Defaults returns the spec-mandated default Options for a given token
// and base URL.
func Defaults(token, baseURL string) Options {
	return Options{
		BaseURL:            baseURL,
		Token:              token,
		StartClosed:        true,
		PingInterval:       30 * time.Second,
		MaxRetries:         10,
		RateLimitPerSecond: 50,
		QueueMaxSize:       100,
		QueueMaxAge:        30 * time.Second,
	}
}

const defaultBaseURL = "https://notebook-api.example.invalid"

// Load builds Options from NOTEBOOK_* environment variables, falling
// back to defaults for anything unset. Token must be supplied by the
// caller (there is no safe environment default for a bearer token) or
// present in NOTEBOOK_TOKEN.
func Load() (Options, error) {
	token := getenvFirst("NOTEBOOK_TOKEN", "NOTEBOOK_API_TOKEN")
	if token == "" {
		return Options{}, fmt.Errorf("config: NOTEBOOK_TOKEN is required")
	}

	baseURL := getenvFirst("NOTEBOOK_BASE_URL", "NOTEBOOK_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	opts := Defaults(token, baseURL)
	opts.Debug = envBool("NOTEBOOK_DEBUG")
	opts.Telemetry = envBool("NOTEBOOK_TELEMETRY")
	if v := os.Getenv("NOTEBOOK_START_CLOSED"); v != "" {
		opts.StartClosed = v == "true" || v == "1"
	}

	return opts, nil
}

// Validate enforces the constructor-time bounds spec §7 calls
// "invalid configuration" errors (ping interval bounds, retries
// bounds).
func (o Options) Validate() error {
	if o.Token == "" {
		return fmt.Errorf("config: token is required")
	}
	if o.PingInterval < time.Second {
		return fmt.Errorf("config: ping interval must be at least 1s, got %s", o.PingInterval)
	}
	if o.MaxRetries < 0 {
		return fmt.Errorf("config: max retries must be >= 0, got %d", o.MaxRetries)
	}
	if o.RateLimitPerSecond <= 0 {
		return fmt.Errorf("config: rate limit per second must be > 0, got %d", o.RateLimitPerSecond)
	}
	if o.QueueMaxSize <= 0 {
		return fmt.Errorf("config: queue max size must be > 0, got %d", o.QueueMaxSize)
	}
	return nil
}

func getenvFirst(primary, fallback string) string {
	if val := os.Getenv(primary); val != "" {
		return val
	}
	return os.Getenv(fallback)
}

func envBool(name string) bool {
	v := os.Getenv(name)
	return v == "true" || v == "1"
}
