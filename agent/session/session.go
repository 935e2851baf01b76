// Package session defines the Coaching Session aggregate and the narrow
// persistence port the orchestrator uses to load and mutate it.
//
// A Session is the durable conversational container for a single
// (tenant, user, topic) coaching engagement. Sessions are created explicitly
// by Initiate and end explicitly or lazily (TTL expiry, turn-limit
// completion). Ended sessions are terminal: no further messages may be
// appended.
package session

import (
	"context"
	"errors"
	"time"
)

type (
	// Status represents the lifecycle state of a Coaching Session.
	Status string

	// Role identifies the speaker of a single message record.
	Role string

	// Message is a single immutable entry in a session's transcript.
	Message struct {
		// Role identifies the speaker.
		Role Role

		// Content is the message text.
		Content string

		// Timestamp records when the message was appended.
		Timestamp time.Time

		// Turn is the turn number for user/assistant messages. Zero for the
		// system message, which carries no turn.
		Turn int
	}

	// Session captures durable Coaching Session state.
	Session struct {
		// ID is the opaque, caller-stable session identifier.
		ID string

		// TenantID, UserID and TopicID scope the session. Every persistence
		// operation must filter on TenantID; cross-tenant reads are a
		// programming error.
		TenantID string
		UserID   string
		TopicID  string

		// Status is the current lifecycle state.
		Status Status

		// Turn is the number of assistant responses; the initiation response
		// is turn 1.
		Turn int

		// MaxTurns is copied from runtime configuration at creation time.
		MaxTurns int

		// CreatedAt, LastActivityAt and ExpiresAt bound the session's
		// lifetime. ExpiresAt is always >= LastActivityAt.
		CreatedAt      time.Time
		LastActivityAt time.Time
		ExpiresAt      time.Time

		// CompletedAt is set once the session transitions to Completed.
		CompletedAt *time.Time

		// Messages is the ordered, append-only transcript. The first message
		// is always the system prompt; the second is the assistant
		// initiation.
		Messages []Message

		// ExtractedResult holds the structured result object stored on
		// completion, and ExtractionSchemaID identifies which result schema
		// produced it.
		ExtractedResult    map[string]any
		ExtractionSchemaID string

		// Version is the optimistic-concurrency stamp. Every store write
		// must be conditioned on the version it read, and must increment it
		// on success.
		Version int64

		// CorrelationID is copied from the initiating request and persisted
		// with the session, so a single caller-supplied ID stays attached to
		// an entire multi-turn conversation across process restarts.
		CorrelationID string
	}

	// Store is the narrow persistence port the orchestrator depends on. All
	// methods are tenant-scoped: implementations must never return or
	// mutate a record whose tenant does not match the one supplied.
	Store interface {
		// Create persists a brand-new session. Returns ErrAlreadyExists if a
		// session with this ID is already stored.
		Create(ctx context.Context, s *Session) error

		// Get loads a session by id, scoped to tenant. Returns
		// ErrSessionNotFound if no session with that id exists for tenant,
		// deliberately indistinguishable from "exists under another
		// tenant" to preserve tenant isolation.
		Get(ctx context.Context, tenantID, sessionID string) (*Session, error)

		// GetActiveForUserTopic returns the resumable (non-terminal) session
		// for (tenant, user, topic), if any. Returns ErrSessionNotFound when
		// none exists.
		GetActiveForUserTopic(ctx context.Context, tenantID, userID, topicID string) (*Session, error)

		// GetResumableForTopic returns any resumable session for (tenant,
		// topic) regardless of owning user, used by Initiate to detect
		// SessionConflict. Returns ErrSessionNotFound when none exists.
		GetResumableForTopic(ctx context.Context, tenantID, topicID string) (*Session, error)

		// Update persists s, conditioned on expectedVersion matching the
		// currently stored version. Returns ErrConcurrentModification if the
		// stored version has advanced, and ErrSessionNotFound if the
		// session no longer exists. On success s.Version is the new stored
		// version.
		Update(ctx context.Context, s *Session, expectedVersion int64) error
	}
)

const (
	// StatusActive indicates the session is open for further turns.
	StatusActive Status = "active"

	// StatusCompleted indicates the session reached a successful terminal
	// state. An extracted result is stored only for topics with a result
	// schema; freeform topics complete without one.
	StatusCompleted Status = "completed"

	// StatusExpired indicates the session's TTL elapsed without
	// resumption. Lazily assigned on read.
	StatusExpired Status = "expired"

	// StatusAbandoned indicates the session was never resumed and its
	// retention window for resumable records elapsed.
	StatusAbandoned Status = "abandoned"

	// StatusCancelled indicates the caller explicitly cancelled the
	// session.
	StatusCancelled Status = "cancelled"

	// RoleSystem is the role for the system prompt message.
	RoleSystem Role = "system"

	// RoleUser is the role for user-authored messages.
	RoleUser Role = "user"

	// RoleAssistant is the role for assistant responses.
	RoleAssistant Role = "assistant"
)

var (
	// ErrSessionNotFound indicates no session exists for the given id and
	// tenant. Also returned (deliberately) when a session exists but under
	// a different tenant.
	ErrSessionNotFound = errors.New("session: not found")

	// ErrAlreadyExists indicates Create was called with an id already in
	// use.
	ErrAlreadyExists = errors.New("session: already exists")

	// ErrConcurrentModification indicates Update's expectedVersion no
	// longer matches the stored version. Callers retry against freshly
	// loaded state.
	ErrConcurrentModification = errors.New("session: concurrent modification")
)

// IsTerminal reports whether status forbids further message addition.
func IsTerminal(status Status) bool {
	switch status {
	case StatusCompleted, StatusExpired, StatusAbandoned, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsExpired reports whether s is Active and its TTL has elapsed as of now.
// Sessions in any other status are never reported as expired. Callers use
// this to apply lazy expiry on read.
func (s *Session) IsExpired(now time.Time) bool {
	return s.Status == StatusActive && !now.Before(s.ExpiresAt)
}
