package modelregistry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_ActiveEntry(t *testing.T) {
	t.Parallel()

	r := New(Entry{Code: "claude-sonnet", Provider: "anthropic", Active: true})

	e, err := r.Resolve("claude-sonnet")
	require.NoError(t, err)
	require.Equal(t, "anthropic", e.Provider)
}

func TestResolve_InactiveEntryRejected(t *testing.T) {
	t.Parallel()

	r := New(Entry{Code: "claude-old", Provider: "anthropic", Active: false})

	_, err := r.Resolve("claude-old")
	require.ErrorIs(t, err, ErrModelInactive)
}

func TestResolve_UnknownCode(t *testing.T) {
	t.Parallel()

	r := New()
	_, err := r.Resolve("does-not-exist")
	require.ErrorIs(t, err, ErrModelNotFound)
}

func TestLookup_ReturnsInactiveWithoutError(t *testing.T) {
	t.Parallel()

	r := New(Entry{Code: "claude-old", Active: false})
	e, err := r.Lookup("claude-old")
	require.NoError(t, err)
	require.False(t, e.Active)
}

func TestPut_RequiresCode(t *testing.T) {
	t.Parallel()

	r := New()
	require.Error(t, r.Put(Entry{Code: ""}))
}

func TestPut_UpsertsExistingEntry(t *testing.T) {
	t.Parallel()

	r := New(Entry{Code: "m1", Active: false})
	require.NoError(t, r.Put(Entry{Code: "m1", Active: true, Provider: "openai"}))

	e, err := r.Resolve("m1")
	require.NoError(t, err)
	require.Equal(t, "openai", e.Provider)
}
