// Package orchestrator implements the Session Orchestrator (C5): the
// engine's core, exposing Initiate, AddMessage, and Complete over the
// Coaching Session state machine. It depends on exactly three inward ports
// (topic lookup, runtime configuration, session persistence) and one
// outward port (the provider gateway), all passed in at construction; there
// is no package-level registry or singleton.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mottych/purposepath-ai/agent/extraction"
	"github.com/mottych/purposepath-ai/agent/model"
	"github.com/mottych/purposepath-ai/agent/provider"
	"github.com/mottych/purposepath-ai/agent/runtimeconfig"
	"github.com/mottych/purposepath-ai/agent/session"
	"github.com/mottych/purposepath-ai/agent/telemetry"
	"github.com/mottych/purposepath-ai/agent/template"
	"github.com/mottych/purposepath-ai/agent/topic"
)

type (
	// Gateway is the outward port the orchestrator dispatches model calls
	// through. Satisfied by *provider.Gateway; tests substitute fakes.
	Gateway interface {
		Dispatch(ctx context.Context, req provider.DispatchRequest) (*model.Response, error)
	}

	// AuthContext carries the caller identity and correlation id threaded
	// through every operation (spec.md 6: "Authentication context").
	AuthContext struct {
		TenantID      string
		UserID        string
		CorrelationID string
	}

	// Metadata is the uniform observability bundle returned alongside every
	// turn result.
	Metadata struct {
		Model            string
		ProcessingTimeMS int64
	}

	// TurnResult is the outcome of InitiateSession or AddMessage.
	TurnResult struct {
		SessionID string
		Message   string
		Turn      int
		MaxTurns  int
		IsFinal   bool
		Resumed   bool
		Metadata  Metadata
	}

	// CompleteResult is the outcome of CompleteSession.
	CompleteResult struct {
		SessionID string
		Status    string
		Result    map[string]any
		Metadata  Metadata
	}

	// Snapshot is the read-only view returned by GetSession.
	Snapshot struct {
		SessionID      string
		Status         session.Status
		Turn           int
		MaxTurns       int
		CreatedAt      time.Time
		LastActivityAt time.Time
		ExpiresAt      time.Time
	}

	// Orchestrator implements the Session Orchestrator.
	Orchestrator struct {
		topics    *topic.Registry
		configs   runtimeconfig.Store
		sessions  session.Store
		gateway   Gateway
		renderer  *template.Renderer
		extractor *extraction.Extractor
		logger    telemetry.Logger
		metrics   telemetry.Metrics

		maxRetries     int
		maxMessageLen  int
		newSessionID   func() string
		now            func() time.Time
	}

	// Option configures an Orchestrator.
	Option func(*Orchestrator)
)

// SessionConflictError indicates Initiate was refused because another user
// in the same tenant already owns a resumable session for the topic. It
// intentionally exposes the other user's opaque id and nothing else
// (spec.md 7: "PII in error messages is forbidden except for the explicitly
// contracted SessionConflict{other_user_id} case").
type SessionConflictError struct {
	OtherUserID string
}

func (e *SessionConflictError) Error() string {
	return fmt.Sprintf("orchestrator: session conflict with user %s", e.OtherUserID)
}

var (
	// ErrTopicNotAvailable indicates the topic does not exist, is not a
	// Conversation topic, or has no active runtime configuration for the
	// caller's tenant.
	ErrTopicNotAvailable = errors.New("orchestrator: topic not available")

	// ErrForbidden indicates the session exists but is not owned by the
	// caller.
	ErrForbidden = errors.New("orchestrator: forbidden")

	// ErrSessionNotActive indicates the session has reached a terminal
	// status and can no longer accept messages.
	ErrSessionNotActive = errors.New("orchestrator: session not active")

	// ErrMaxTurnsReached indicates the session's turn counter already
	// reached its configured bound; surfaced defensively, since reaching
	// max turns normally triggers immediate completion within the same
	// AddMessage call.
	ErrMaxTurnsReached = errors.New("orchestrator: max turns reached")

	// ErrSessionExpired indicates a read found the session past its TTL;
	// lazily assigned, per spec.md 4.5's state machine.
	ErrSessionExpired = errors.New("orchestrator: session expired")

	// ErrBusy indicates the bounded optimistic-concurrency retry budget was
	// exhausted; the external form of repeated ConcurrentModification.
	ErrBusy = errors.New("orchestrator: busy, retry")

	// ErrMessageInvalid indicates a user message is empty or exceeds the
	// declared upper-bound length.
	ErrMessageInvalid = errors.New("orchestrator: invalid message")

	// ErrCancelled indicates the operation's context was cancelled or its
	// deadline expired.
	ErrCancelled = errors.New("orchestrator: cancelled")
)

const (
	defaultMaxRetries    = 3
	defaultMaxMessageLen = 8000
)

// WithMaxRetries overrides the bounded optimistic-concurrency retry count
// (default 3) before AddMessage/InitiateSession surface ErrBusy.
func WithMaxRetries(n int) Option {
	return func(o *Orchestrator) { o.maxRetries = n }
}

// WithMaxMessageLength overrides the declared upper-bound user message
// length (default 8000 runes).
func WithMaxMessageLength(n int) Option {
	return func(o *Orchestrator) { o.maxMessageLen = n }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l telemetry.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithMetrics overrides the default no-op metrics recorder.
func WithMetrics(m telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New constructs an Orchestrator from its three inward ports (topics,
// configs, sessions) and outward port (gateway), plus the renderer and
// extractor collaborators.
func New(topics *topic.Registry, configs runtimeconfig.Store, sessions session.Store, gateway Gateway, renderer *template.Renderer, extractor *extraction.Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		topics:        topics,
		configs:       configs,
		sessions:      sessions,
		gateway:       gateway,
		renderer:      renderer,
		extractor:     extractor,
		logger:        telemetry.NewNoopLogger(),
		metrics:       telemetry.NewNoopMetrics(),
		maxRetries:    defaultMaxRetries,
		maxMessageLen: defaultMaxMessageLen,
		newSessionID:  func() string { return uuid.NewString() },
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// InitiateSession implements the Initiate contract (spec.md 4.5).
func (o *Orchestrator) InitiateSession(ctx context.Context, auth AuthContext, topicID string, parameters map[string]any) (*TurnResult, error) {
	def, cfg, err := o.resolveTopic(ctx, auth.TenantID, topicID)
	if err != nil {
		return nil, err
	}

	existing, err := o.sessions.GetResumableForTopic(ctx, auth.TenantID, topicID)
	switch {
	case err == nil:
		if existing.IsExpired(o.now()) {
			o.expireSession(ctx, existing)
		} else if existing.UserID == auth.UserID {
			return o.resume(ctx, auth, def, cfg, existing)
		} else {
			return nil, &SessionConflictError{OtherUserID: existing.UserID}
		}
	case errors.Is(err, session.ErrSessionNotFound):
		// no resumable session: fall through to creation.
	default:
		return nil, err
	}

	return o.create(ctx, auth, def, cfg, parameters)
}

func (o *Orchestrator) resolveTopic(ctx context.Context, tenantID, topicID string) (topic.Definition, *runtimeconfig.Record, error) {
	def, err := o.topics.Lookup(topicID)
	if err != nil || def.Kind != topic.KindConversation {
		return topic.Definition{}, nil, fmt.Errorf("%w: %s", ErrTopicNotAvailable, topicID)
	}
	cfg, err := o.configs.Get(ctx, tenantID, topicID)
	if err != nil || !cfg.Active {
		return topic.Definition{}, nil, fmt.Errorf("%w: %s", ErrTopicNotAvailable, topicID)
	}
	return def, cfg, nil
}

func (o *Orchestrator) create(ctx context.Context, auth AuthContext, def topic.Definition, cfg *runtimeconfig.Record, parameters map[string]any) (*TurnResult, error) {
	userCtx := template.UserContext{TenantID: auth.TenantID, UserID: auth.UserID}

	systemText, err := o.renderer.Render(ctx, def, topic.RoleSystem, parameters, userCtx)
	if err != nil {
		return nil, err
	}
	initiationText, err := o.renderer.Render(ctx, def, topic.RoleInitiation, parameters, userCtx)
	if err != nil {
		return nil, err
	}

	start := o.now()
	resp, err := o.gateway.Dispatch(ctx, provider.DispatchRequest{
		CorrelationID:     auth.CorrelationID,
		PrimaryModelCode:  cfg.ModelCode,
		FallbackModelCode: cfg.FallbackModelCode,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: systemText},
			{Role: model.RoleUser, Content: initiationText},
		},
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return nil, translateGatewayError(err)
	}

	now := o.now()
	sess := &session.Session{
		ID:             o.newSessionID(),
		TenantID:       auth.TenantID,
		UserID:         auth.UserID,
		TopicID:        def.ID,
		Status:         session.StatusActive,
		Turn:           1,
		MaxTurns:       cfg.MaxTurns,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(time.Duration(cfg.SessionTTLHours) * time.Hour),
		Messages: []session.Message{
			{Role: session.RoleSystem, Content: systemText, Timestamp: now},
			{Role: session.RoleAssistant, Content: resp.Text, Timestamp: now, Turn: 1},
		},
		CorrelationID: auth.CorrelationID,
	}
	isFinal := o.isCompletionSignal(def, resp) || sess.Turn >= sess.MaxTurns
	if isFinal {
		sess.Status = session.StatusCompleted
	}

	if err := o.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	result := &TurnResult{
		SessionID: sess.ID,
		Message:   resp.Text,
		Turn:      sess.Turn,
		MaxTurns:  sess.MaxTurns,
		IsFinal:   isFinal,
		Resumed:   false,
		Metadata:  Metadata{Model: resp.ModelUsed, ProcessingTimeMS: o.now().Sub(start).Milliseconds()},
	}
	if isFinal {
		if _, err := o.completeLocked(ctx, auth, sess); err != nil {
			o.logger.Warn(ctx, "implicit complete after initiate failed", "session_id", sess.ID, "error", err.Error())
		}
	}
	return result, nil
}

func (o *Orchestrator) resume(ctx context.Context, auth AuthContext, def topic.Definition, cfg *runtimeconfig.Record, sess *session.Session) (*TurnResult, error) {
	return o.withRetry(ctx, sess.ID, auth.TenantID, func(s *session.Session, version int64) (*TurnResult, error) {
		userCtx := template.UserContext{TenantID: auth.TenantID, UserID: auth.UserID}
		params := map[string]any{"conversation_summary": buildResumeDigest(s.Messages)}
		resumeText, err := o.renderer.Render(ctx, def, topic.RoleResume, params, userCtx)
		if err != nil {
			return nil, err
		}

		messages := []model.Message{{Role: model.RoleSystem, Content: s.Messages[0].Content}}
		for _, m := range s.Messages[1:] {
			messages = append(messages, model.Message{Role: model.ConversationRole(m.Role), Content: m.Content})
		}
		messages = append(messages, model.Message{Role: model.RoleUser, Content: resumeText})

		start := o.now()
		resp, err := o.gateway.Dispatch(ctx, provider.DispatchRequest{
			CorrelationID:     auth.CorrelationID,
			PrimaryModelCode:  cfg.ModelCode,
			FallbackModelCode: cfg.FallbackModelCode,
			Messages:          messages,
			Temperature:       cfg.Temperature,
			MaxTokens:         cfg.MaxTokens,
		})
		if err != nil {
			return nil, translateGatewayError(err)
		}

		now := o.now()
		s.Turn++
		s.LastActivityAt = now
		s.ExpiresAt = now.Add(time.Duration(cfg.SessionTTLHours) * time.Hour)
		s.Messages = append(s.Messages, session.Message{Role: session.RoleAssistant, Content: resp.Text, Timestamp: now, Turn: s.Turn})

		isFinal := o.isCompletionSignal(def, resp) || s.Turn >= s.MaxTurns
		if isFinal {
			s.Status = session.StatusCompleted
		}

		if err := o.sessions.Update(ctx, s, version); err != nil {
			return nil, err
		}

		result := &TurnResult{
			SessionID: s.ID,
			Message:   resp.Text,
			Turn:      s.Turn,
			MaxTurns:  s.MaxTurns,
			IsFinal:   isFinal,
			Resumed:   true,
			Metadata:  Metadata{Model: resp.ModelUsed, ProcessingTimeMS: o.now().Sub(start).Milliseconds()},
		}
		if isFinal {
			if _, err := o.completeLocked(ctx, auth, s); err != nil {
				o.logger.Warn(ctx, "implicit complete after resume failed", "session_id", s.ID, "error", err.Error())
			}
		}
		return result, nil
	})
}

// AddMessage implements the AddMessage contract (spec.md 4.5).
func (o *Orchestrator) AddMessage(ctx context.Context, auth AuthContext, sessionID, text string) (*TurnResult, error) {
	if strings.TrimSpace(text) == "" || len([]rune(text)) > o.maxMessageLen {
		return nil, ErrMessageInvalid
	}

	return o.withRetry(ctx, sessionID, auth.TenantID, func(s *session.Session, version int64) (*TurnResult, error) {
		if s.UserID != auth.UserID {
			return nil, ErrForbidden
		}
		if s.IsExpired(o.now()) {
			o.expireSession(ctx, s)
			return nil, ErrSessionExpired
		}
		if s.Status != session.StatusActive {
			return nil, ErrSessionNotActive
		}
		if s.Turn >= s.MaxTurns {
			return nil, ErrMaxTurnsReached
		}

		def, err := o.topics.Lookup(s.TopicID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrTopicNotAvailable, s.TopicID)
		}
		cfg, err := o.configs.Get(ctx, auth.TenantID, s.TopicID)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrTopicNotAvailable, s.TopicID)
		}

		now := o.now()
		s.Messages = append(s.Messages, session.Message{Role: session.RoleUser, Content: text, Timestamp: now, Turn: s.Turn + 1})

		messages := make([]model.Message, len(s.Messages))
		for i, m := range s.Messages {
			messages[i] = model.Message{Role: model.ConversationRole(m.Role), Content: m.Content}
		}

		start := o.now()
		resp, err := o.gateway.Dispatch(ctx, provider.DispatchRequest{
			CorrelationID:     auth.CorrelationID,
			PrimaryModelCode:  cfg.ModelCode,
			FallbackModelCode: cfg.FallbackModelCode,
			Messages:          messages,
			Temperature:       cfg.Temperature,
			MaxTokens:         cfg.MaxTokens,
		})
		if err != nil {
			return nil, translateGatewayError(err)
		}

		now = o.now()
		s.Turn++
		s.LastActivityAt = now
		s.ExpiresAt = now.Add(time.Duration(cfg.SessionTTLHours) * time.Hour)
		s.Messages = append(s.Messages, session.Message{Role: session.RoleAssistant, Content: resp.Text, Timestamp: now, Turn: s.Turn})

		isFinal := o.isCompletionSignal(def, resp) || s.Turn >= s.MaxTurns
		if isFinal {
			s.Status = session.StatusCompleted
		}

		if err := o.sessions.Update(ctx, s, version); err != nil {
			return nil, err
		}

		result := &TurnResult{
			SessionID: s.ID,
			Message:   resp.Text,
			Turn:      s.Turn,
			MaxTurns:  s.MaxTurns,
			IsFinal:   isFinal,
			Metadata:  Metadata{Model: resp.ModelUsed, ProcessingTimeMS: o.now().Sub(start).Milliseconds()},
		}
		if isFinal {
			if _, err := o.completeLocked(ctx, auth, s); err != nil {
				o.logger.Warn(ctx, "implicit complete after add message failed", "session_id", s.ID, "error", err.Error())
			}
		}
		return result, nil
	})
}

// CompleteSession implements the Complete contract (spec.md 4.5).
func (o *Orchestrator) CompleteSession(ctx context.Context, auth AuthContext, sessionID string) (*CompleteResult, error) {
	s, err := o.sessions.Get(ctx, auth.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.UserID != auth.UserID {
		return nil, ErrForbidden
	}
	if s.Status == session.StatusCompleted {
		return &CompleteResult{SessionID: s.ID, Status: string(session.StatusCompleted), Result: s.ExtractedResult}, nil
	}
	if s.IsExpired(o.now()) {
		o.expireSession(ctx, s)
		return nil, ErrSessionExpired
	}
	if s.Status != session.StatusActive {
		return nil, ErrSessionNotActive
	}
	return o.completeLocked(ctx, auth, s)
}

// completeLocked performs the extraction call and terminal transition
// against an already-loaded session. Called both from CompleteSession and
// internally when a turn's completion signal fires.
func (o *Orchestrator) completeLocked(ctx context.Context, auth AuthContext, s *session.Session) (*CompleteResult, error) {
	def, err := o.topics.Lookup(s.TopicID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotAvailable, s.TopicID)
	}
	if def.Freeform || def.Schema == nil {
		return o.finishWithoutExtraction(ctx, s)
	}
	cfg, err := o.configs.Get(ctx, auth.TenantID, s.TopicID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotAvailable, s.TopicID)
	}

	extractionModel := cfg.ExtractionModelCode
	if extractionModel == "" {
		extractionModel = cfg.ModelCode
	}
	instructions, err := o.renderer.Render(ctx, def, topic.RoleExtraction, nil, template.UserContext{TenantID: auth.TenantID, UserID: auth.UserID})
	if err != nil {
		return nil, err
	}

	result, err := o.extractor.Extract(ctx, def.Schema, extraction.Request{
		CorrelationID:          auth.CorrelationID,
		ModelCode:              extractionModel,
		FallbackModelCode:      cfg.FallbackModelCode,
		MaxTokens:              cfg.MaxTokens,
		ExtractionInstructions: instructions,
		Transcript:             serializeTranscript(s.Messages),
	})
	if err != nil {
		// spec.md 4.5 step 5: ExtractionFailed leaves the session Active.
		// A turn whose completion signal fired has already persisted the
		// session as Completed, so that status is reverted here.
		if s.Status == session.StatusCompleted {
			s.Status = session.StatusActive
			if perr := o.sessions.Update(ctx, s, s.Version); perr != nil {
				o.logger.Warn(ctx, "restoring active status after failed extraction failed", "session_id", s.ID, "error", perr.Error())
			}
		}
		return nil, err
	}

	now := o.now()
	s.Status = session.StatusCompleted
	s.CompletedAt = &now
	s.ExtractedResult = result
	s.ExtractionSchemaID = def.Schema.ID

	return &CompleteResult{
		SessionID: s.ID,
		Status:    string(session.StatusCompleted),
		Result:    result,
		Metadata:  Metadata{Model: extractionModel},
	}, o.persistCompletion(ctx, s)
}

func (o *Orchestrator) finishWithoutExtraction(ctx context.Context, s *session.Session) (*CompleteResult, error) {
	now := o.now()
	s.Status = session.StatusCompleted
	s.CompletedAt = &now
	return &CompleteResult{SessionID: s.ID, Status: string(session.StatusCompleted)}, o.persistCompletion(ctx, s)
}

func (o *Orchestrator) persistCompletion(ctx context.Context, s *session.Session) error {
	return o.sessions.Update(ctx, s, s.Version)
}

// GetSession implements the GetSession read accessor, applying lazy expiry.
func (o *Orchestrator) GetSession(ctx context.Context, auth AuthContext, sessionID string) (*Snapshot, error) {
	s, err := o.sessions.Get(ctx, auth.TenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if s.UserID != auth.UserID {
		return nil, ErrForbidden
	}
	if s.IsExpired(o.now()) {
		o.expireSession(ctx, s)
		s.Status = session.StatusExpired
	}
	return &Snapshot{
		SessionID:      s.ID,
		Status:         s.Status,
		Turn:           s.Turn,
		MaxTurns:       s.MaxTurns,
		CreatedAt:      s.CreatedAt,
		LastActivityAt: s.LastActivityAt,
		ExpiresAt:      s.ExpiresAt,
	}, nil
}

// expireSession best-effort persists the lazy Active -> Expired transition.
// Failure is logged, not surfaced: the caller already has the information
// it needs (the session is expired) regardless of whether the write lands.
func (o *Orchestrator) expireSession(ctx context.Context, s *session.Session) {
	version := s.Version
	s.Status = session.StatusExpired
	if err := o.sessions.Update(ctx, s, version); err != nil && !errors.Is(err, session.ErrConcurrentModification) {
		o.logger.Warn(ctx, "persisting lazy expiry failed", "session_id", s.ID, "error", err.Error())
	}
}

// isCompletionSignal implements spec.md 4.5's completion-signal rule:
// finish reason first, then the topic's textual marker.
func (o *Orchestrator) isCompletionSignal(def topic.Definition, resp *model.Response) bool {
	for _, fr := range def.CompletionFinishReasons {
		if resp.FinishReason == fr {
			return true
		}
	}
	if def.CompletionMarker != "" && strings.Contains(resp.Text, def.CompletionMarker) {
		return true
	}
	return false
}

// withRetry loads the session fresh, runs op, and retries on
// ErrConcurrentModification up to maxRetries times before surfacing ErrBusy
// (spec.md 5: per-session optimistic concurrency).
func (o *Orchestrator) withRetry(ctx context.Context, sessionID, tenantID string, op func(s *session.Session, version int64) (*TurnResult, error)) (*TurnResult, error) {
	var lastErr error
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		s, err := o.sessions.Get(ctx, tenantID, sessionID)
		if err != nil {
			return nil, err
		}
		version := s.Version
		result, err := op(s, version)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, session.ErrConcurrentModification) {
			lastErr = err
			continue
		}
		return nil, err
	}
	o.logger.Warn(ctx, "optimistic concurrency retries exhausted", "session_id", sessionID, "error", lastErr.Error())
	return nil, ErrBusy
}

// translateGatewayError maps a provider gateway error into ErrCancelled
// where applicable, otherwise passes it through unwrapped so callers can
// still errors.Is against provider.ErrProviderUnavailable/ErrProviderRejected.
func translateGatewayError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, provider.ErrCancelled) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}
