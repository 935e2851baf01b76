package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mottych/purposepath-ai/agent/session"
)

func TestCreate_AssignsInitialVersion(t *testing.T) {
	t.Parallel()

	s := New()
	sess := &session.Session{ID: "s1", TenantID: "t1", UserID: "u1", TopicID: "topic", Status: session.StatusActive}

	require.NoError(t, s.Create(context.Background(), sess))
	require.EqualValues(t, 1, sess.Version)
}

func TestCreate_RejectsDuplicateID(t *testing.T) {
	t.Parallel()

	s := New()
	sess := &session.Session{ID: "s1", TenantID: "t1", Status: session.StatusActive}
	require.NoError(t, s.Create(context.Background(), sess))

	err := s.Create(context.Background(), &session.Session{ID: "s1", TenantID: "t1", Status: session.StatusActive})
	require.ErrorIs(t, err, session.ErrAlreadyExists)
}

func TestGet_ScopedByTenant(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.Create(context.Background(), &session.Session{ID: "s1", TenantID: "tenant-a", Status: session.StatusActive}))

	_, err := s.Get(context.Background(), "tenant-b", "s1")
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	got, err := s.Get(context.Background(), "tenant-a", "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", got.ID)
}

func TestGetResumableForTopic_IgnoresTerminalSessions(t *testing.T) {
	t.Parallel()

	s := New()
	sess := &session.Session{ID: "s1", TenantID: "t1", UserID: "u1", TopicID: "topic", Status: session.StatusActive}
	require.NoError(t, s.Create(context.Background(), sess))

	sess.Status = session.StatusCompleted
	require.NoError(t, s.Update(context.Background(), sess, 1))

	_, err := s.GetResumableForTopic(context.Background(), "t1", "topic")
	require.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestGetActiveForUserTopic_FindsOwnerOnly(t *testing.T) {
	t.Parallel()

	s := New()
	require.NoError(t, s.Create(context.Background(), &session.Session{
		ID: "s1", TenantID: "t1", UserID: "u1", TopicID: "topic", Status: session.StatusActive,
	}))

	_, err := s.GetActiveForUserTopic(context.Background(), "t1", "u2", "topic")
	require.ErrorIs(t, err, session.ErrSessionNotFound)

	got, err := s.GetActiveForUserTopic(context.Background(), "t1", "u1", "topic")
	require.NoError(t, err)
	require.Equal(t, "s1", got.ID)
}

func TestUpdate_RejectsStaleVersion(t *testing.T) {
	t.Parallel()

	s := New()
	sess := &session.Session{ID: "s1", TenantID: "t1", Status: session.StatusActive}
	require.NoError(t, s.Create(context.Background(), sess))

	err := s.Update(context.Background(), sess, 99)
	require.ErrorIs(t, err, session.ErrConcurrentModification)
}

func TestUpdate_SucceedsWithCorrectVersionAndBumpsIt(t *testing.T) {
	t.Parallel()

	s := New()
	sess := &session.Session{ID: "s1", TenantID: "t1", Status: session.StatusActive, Turn: 1}
	require.NoError(t, s.Create(context.Background(), sess))

	sess.Turn = 2
	require.NoError(t, s.Update(context.Background(), sess, 1))
	require.EqualValues(t, 2, sess.Version)

	got, err := s.Get(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, 2, got.Turn)
}

func TestClone_DeepCopiesMessagesAndExtractedResult(t *testing.T) {
	t.Parallel()

	s := New()
	sess := &session.Session{
		ID: "s1", TenantID: "t1", Status: session.StatusActive,
		Messages:        []session.Message{{Role: session.RoleUser, Content: "hi"}},
		ExtractedResult: map[string]any{"k": "v"},
	}
	require.NoError(t, s.Create(context.Background(), sess))

	got, err := s.Get(context.Background(), "t1", "s1")
	require.NoError(t, err)

	got.Messages[0].Content = "mutated"
	got.ExtractedResult["k"] = "mutated"

	got2, err := s.Get(context.Background(), "t1", "s1")
	require.NoError(t, err)
	require.Equal(t, "hi", got2.Messages[0].Content)
	require.Equal(t, "v", got2.ExtractedResult["k"])
}
