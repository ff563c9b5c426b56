package errorgov

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestOnErrorTripsOnConsecutiveThreshold(t *testing.T) {
	var shutdowns int
	g := New(func(reason string) { shutdowns++ })

	now := time.Unix(1000, 0)
	for i := 0; i < MaxConsecutive-1; i++ {
		g.OnError(now)
	}
	require.False(t, g.ShutdownRequested())
	require.Equal(t, 0, shutdowns)

	g.OnError(now)
	require.True(t, g.ShutdownRequested())
	require.Equal(t, 1, shutdowns)
	require.True(t, g.CheckBreaker(now))
}

func TestOnSuccessResetsConsecutiveOnly(t *testing.T) {
	g := New(nil)
	now := time.Unix(1000, 0)

	for i := 0; i < MaxConsecutive-1; i++ {
		g.OnError(now)
	}
	g.OnSuccess()

	snap := g.Snapshot()
	require.Equal(t, 0, snap.Consecutive)
	require.Equal(t, MaxConsecutive-1, snap.Hourly)
}

func TestHourlyWindowResetsAfterElapse(t *testing.T) {
	g := New(nil)
	start := time.Unix(1000, 0)

	g.OnError(start)
	require.Equal(t, 1, g.Snapshot().Hourly)

	later := start.Add(HourlyWindow + time.Second)
	g.OnError(later)
	require.Equal(t, 1, g.Snapshot().Hourly)
}

func TestBreakerAutoClosesAfterTimeout(t *testing.T) {
	g := New(nil)
	opened := time.Unix(1000, 0)
	g.OpenBreaker(opened)

	require.True(t, g.CheckBreaker(opened.Add(time.Minute)))

	closedCheck := opened.Add(BreakerTimeout + time.Second)
	require.False(t, g.CheckBreaker(closedCheck))
}

func TestResetCountersClearsShutdown(t *testing.T) {
	g := New(func(string) {})
	now := time.Unix(1000, 0)
	for i := 0; i < MaxConsecutive; i++ {
		g.OnError(now)
	}
	require.True(t, g.ShutdownRequested())

	g.ResetCounters()
	require.False(t, g.ShutdownRequested())
	require.False(t, g.CheckBreaker(now))
}
