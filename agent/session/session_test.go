package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIsTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, IsTerminal(StatusActive))
	require.True(t, IsTerminal(StatusCompleted))
	require.True(t, IsTerminal(StatusExpired))
	require.True(t, IsTerminal(StatusAbandoned))
	require.True(t, IsTerminal(StatusCancelled))
}

func TestIsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	s := &Session{Status: StatusActive, ExpiresAt: now.Add(-time.Minute)}
	require.True(t, s.IsExpired(now))

	s = &Session{Status: StatusActive, ExpiresAt: now.Add(time.Minute)}
	require.False(t, s.IsExpired(now))

	s = &Session{Status: StatusCompleted, ExpiresAt: now.Add(-time.Minute)}
	require.False(t, s.IsExpired(now), "terminal sessions are never reported as expired")
}
