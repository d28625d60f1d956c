package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bhandras/notebook/internal/clock"
)

func TestRateLimiterAllowsUpToMaxPerWindow(t *testing.T) {
	fc := clock.Fake(time.Now())
	rl := newRateLimiter(fc, 3, time.Second)

	require.True(t, rl.Allow())
	require.True(t, rl.Allow())
	require.True(t, rl.Allow())
	require.False(t, rl.Allow())
}

func TestRateLimiterRecoversAfterWindowSlides(t *testing.T) {
	fc := clock.Fake(time.Now())
	rl := newRateLimiter(fc, 2, time.Second)

	require.True(t, rl.Allow())
	require.True(t, rl.Allow())
	require.False(t, rl.Allow())

	fc.Advance(1100 * time.Millisecond)
	require.True(t, rl.Allow())
}
