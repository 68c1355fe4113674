package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAllowWithinLimit(t *testing.T) {
	l := New(2, time.Minute)
	require.True(t, l.Allow("client-1"))
	require.True(t, l.Allow("client-1"))
	require.False(t, l.Allow("client-1"))
}

func TestAllowTracksKeysIndependently(t *testing.T) {
	l := New(1, time.Minute)
	require.True(t, l.Allow("a"))
	require.True(t, l.Allow("b"))
	require.False(t, l.Allow("a"))
}

func TestAllowResetsAfterWindowElapses(t *testing.T) {
	l := New(1, time.Minute)
	now := time.Now()
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("client-1"))
	require.False(t, l.Allow("client-1"))

	now = now.Add(2 * time.Minute)
	require.True(t, l.Allow("client-1"))
}

func TestReset(t *testing.T) {
	l := New(1, time.Minute)
	require.True(t, l.Allow("client-1"))
	require.False(t, l.Allow("client-1"))
	l.Reset()
	require.True(t, l.Allow("client-1"))
}
