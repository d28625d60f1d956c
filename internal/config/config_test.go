package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"NOTEBOOK_TOKEN", "NOTEBOOK_API_TOKEN",
		"NOTEBOOK_BASE_URL", "NOTEBOOK_URL",
		"NOTEBOOK_DEBUG", "NOTEBOOK_TELEMETRY", "NOTEBOOK_START_CLOSED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadRequiresToken(t *testing.T) {
	clearEnv(t)
	_, err := Load()
	require.Error(t, err)
}

func TestLoadFallsBackToDefaultsWhenTokenPresent(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTEBOOK_TOKEN", "tok-123")

	opts, err := Load()
	require.NoError(t, err)
	require.Equal(t, "tok-123", opts.Token)
	require.Equal(t, defaultBaseURL, opts.BaseURL)
	require.True(t, opts.StartClosed)
	require.Equal(t, 30*time.Second, opts.PingInterval)
}

func TestLoadPrefersPrimaryTokenOverFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTEBOOK_TOKEN", "primary")
	t.Setenv("NOTEBOOK_API_TOKEN", "fallback")

	opts, err := Load()
	require.NoError(t, err)
	require.Equal(t, "primary", opts.Token)
}

func TestLoadParsesBoolAndStartClosedOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("NOTEBOOK_TOKEN", "tok")
	t.Setenv("NOTEBOOK_DEBUG", "1")
	t.Setenv("NOTEBOOK_START_CLOSED", "false")

	opts, err := Load()
	require.NoError(t, err)
	require.True(t, opts.Debug)
	require.False(t, opts.StartClosed)
}

func TestValidateRejectsShortPingInterval(t *testing.T) {
	opts := Defaults("tok", "https://x.invalid")
	opts.PingInterval = 100 * time.Millisecond
	require.Error(t, opts.Validate())
}

func TestValidateRejectsZeroRateLimit(t *testing.T) {
	opts := Defaults("tok", "https://x.invalid")
	opts.RateLimitPerSecond = 0
	require.Error(t, opts.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	opts := Defaults("tok", "https://x.invalid")
	require.NoError(t, opts.Validate())
}
