package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mottych/purposepath-ai/agent/extraction"
	"github.com/mottych/purposepath-ai/agent/model"
	"github.com/mottych/purposepath-ai/agent/provider"
	"github.com/mottych/purposepath-ai/agent/runtimeconfig"
	runtimeconfiginmem "github.com/mottych/purposepath-ai/agent/runtimeconfig/inmem"
	"github.com/mottych/purposepath-ai/agent/session"
	sessioninmem "github.com/mottych/purposepath-ai/agent/session/inmem"
	"github.com/mottych/purposepath-ai/agent/template"
	"github.com/mottych/purposepath-ai/agent/topic"
)

// fakeGateway returns a scripted sequence of responses, one per Dispatch
// call, and records every request it was handed.
type fakeGateway struct {
	responses []*model.Response
	calls     []provider.DispatchRequest
	err       error
}

func (g *fakeGateway) Dispatch(_ context.Context, req provider.DispatchRequest) (*model.Response, error) {
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	idx := len(g.calls) - 1
	if idx >= len(g.responses) {
		idx = len(g.responses) - 1
	}
	return g.responses[idx], nil
}

// fakeExtractionDispatcher adapts a canned JSON payload to extraction.Dispatcher.
type fakeExtractionDispatcher struct {
	text  string
	calls int
}

func (d *fakeExtractionDispatcher) Dispatch(_ context.Context, _ extraction.DispatchRequest) (*model.Response, error) {
	d.calls++
	return &model.Response{Text: d.text, FinishReason: "stop"}, nil
}

// fakeLoader serves canned template text keyed by ref.
type fakeLoader struct {
	texts map[string]string
}

func (l *fakeLoader) Load(_ context.Context, ref topic.TemplateRef) (string, error) {
	return l.texts[ref.Ref], nil
}

func newFreeformTopic() topic.Definition {
	return topic.Definition{
		ID:   "COACHING:freeform",
		Kind: topic.KindConversation,
		Templates: map[topic.TemplateRole]topic.TemplateRef{
			topic.RoleSystem:     {Ref: "system"},
			topic.RoleInitiation: {Ref: "initiation"},
			topic.RoleResume:     {Ref: "resume"},
		},
		Freeform:         true,
		CompletionMarker: "[[DONE]]",
	}
}

func newSchemaTopic() topic.Definition {
	def := newFreeformTopic()
	def.ID = "COACHING:structured"
	def.Freeform = false
	def.Templates[topic.RoleExtraction] = topic.TemplateRef{Ref: "extraction"}
	def.Schema = &topic.ResultSchema{
		ID: "structured-result",
		Fields: []topic.SchemaField{
			{Name: "summary", Kind: topic.ValueKindString, Required: true},
		},
	}
	return def
}

func newTestHarness(t *testing.T, def topic.Definition, gw Gateway) (*Orchestrator, *runtimeconfig.Record) {
	t.Helper()

	registry := topic.NewRegistry()
	require.NoError(t, registry.Register(def, nil, nil))

	loader := &fakeLoader{texts: map[string]string{
		"system":     "You are a coach.",
		"initiation": "Begin the session.",
		"resume":     "Continue: {{conversation_summary}}",
		"extraction": "Extract the result.",
	}}
	renderer := template.NewRenderer(loader)

	cfg := &runtimeconfig.Record{
		TenantID:           "tenant-a",
		TopicID:            def.ID,
		ModelCode:          "coach-default",
		FallbackModelCode:  "coach-fallback",
		Temperature:        0.5,
		MaxTokens:          512,
		MaxTurns:           5,
		SessionTTLHours:    24,
		IdleTimeoutMinutes: 30,
		Active:             true,
	}
	configs := runtimeconfiginmem.New(nil)
	require.NoError(t, configs.Put(context.Background(), cfg))

	sessions := sessioninmem.New()
	extractor := extraction.NewExtractor(&fakeExtractionDispatcher{text: `{"summary":"looks good"}`})

	orch := New(registry, configs, sessions, gw, renderer, extractor)
	return orch, cfg
}

func TestInitiateSession_CreatesNewSession(t *testing.T) {
	t.Parallel()

	def := newFreeformTopic()
	gw := &fakeGateway{responses: []*model.Response{{Text: "Welcome, let's begin.", FinishReason: "stop"}}}
	orch, _ := newTestHarness(t, def, gw)

	result, err := orch.InitiateSession(context.Background(), AuthContext{TenantID: "tenant-a", UserID: "user-1"}, def.ID, nil)
	require.NoError(t, err)
	require.False(t, result.Resumed)
	require.Equal(t, 1, result.Turn)
	require.Equal(t, "Welcome, let's begin.", result.Message)
	require.Len(t, gw.calls, 1)
	require.Equal(t, "coach-default", gw.calls[0].PrimaryModelCode)
	require.Equal(t, "coach-fallback", gw.calls[0].FallbackModelCode)

	snap, err := orch.GetSession(context.Background(), AuthContext{TenantID: "tenant-a", UserID: "user-1"}, result.SessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusActive, snap.Status)
	require.Equal(t, 1, snap.Turn)
}

func TestInitiateSession_ResumesForSameUser(t *testing.T) {
	t.Parallel()

	def := newFreeformTopic()
	gw := &fakeGateway{responses: []*model.Response{
		{Text: "Welcome.", FinishReason: "stop"},
		{Text: "Glad you're back.", FinishReason: "stop"},
	}}
	orch, _ := newTestHarness(t, def, gw)
	auth := AuthContext{TenantID: "tenant-a", UserID: "user-1"}

	first, err := orch.InitiateSession(context.Background(), auth, def.ID, nil)
	require.NoError(t, err)

	second, err := orch.InitiateSession(context.Background(), auth, def.ID, nil)
	require.NoError(t, err)
	require.True(t, second.Resumed)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Equal(t, 2, second.Turn)
}

func TestInitiateSession_ConflictForDifferentUser(t *testing.T) {
	t.Parallel()

	def := newFreeformTopic()
	gw := &fakeGateway{responses: []*model.Response{{Text: "Welcome.", FinishReason: "stop"}}}
	orch, _ := newTestHarness(t, def, gw)

	_, err := orch.InitiateSession(context.Background(), AuthContext{TenantID: "tenant-a", UserID: "user-1"}, def.ID, nil)
	require.NoError(t, err)

	_, err = orch.InitiateSession(context.Background(), AuthContext{TenantID: "tenant-a", UserID: "user-2"}, def.ID, nil)
	require.Error(t, err)
	var conflict *SessionConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "user-1", conflict.OtherUserID)
}

func TestAddMessage_CompletesOnMarker(t *testing.T) {
	t.Parallel()

	def := newFreeformTopic()
	gw := &fakeGateway{responses: []*model.Response{
		{Text: "Welcome.", FinishReason: "stop"},
		{Text: "Great work today. [[DONE]]", FinishReason: "stop"},
	}}
	orch, _ := newTestHarness(t, def, gw)
	auth := AuthContext{TenantID: "tenant-a", UserID: "user-1"}

	init, err := orch.InitiateSession(context.Background(), auth, def.ID, nil)
	require.NoError(t, err)

	turn, err := orch.AddMessage(context.Background(), auth, init.SessionID, "I did my homework.")
	require.NoError(t, err)
	require.True(t, turn.IsFinal)
	require.Equal(t, 2, turn.Turn)

	snap, err := orch.GetSession(context.Background(), auth, init.SessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusCompleted, snap.Status)
}

func TestAddMessage_ForbiddenForWrongUser(t *testing.T) {
	t.Parallel()

	def := newFreeformTopic()
	gw := &fakeGateway{responses: []*model.Response{{Text: "Welcome.", FinishReason: "stop"}}}
	orch, _ := newTestHarness(t, def, gw)

	init, err := orch.InitiateSession(context.Background(), AuthContext{TenantID: "tenant-a", UserID: "user-1"}, def.ID, nil)
	require.NoError(t, err)

	_, err = orch.AddMessage(context.Background(), AuthContext{TenantID: "tenant-a", UserID: "user-2"}, init.SessionID, "hi")
	require.ErrorIs(t, err, ErrForbidden)
}

func TestAddMessage_RejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	def := newFreeformTopic()
	gw := &fakeGateway{responses: []*model.Response{{Text: "Welcome.", FinishReason: "stop"}}}
	orch, _ := newTestHarness(t, def, gw)
	auth := AuthContext{TenantID: "tenant-a", UserID: "user-1"}

	init, err := orch.InitiateSession(context.Background(), auth, def.ID, nil)
	require.NoError(t, err)

	_, err = orch.AddMessage(context.Background(), auth, init.SessionID, "   ")
	require.ErrorIs(t, err, ErrMessageInvalid)
}

func TestAddMessage_RejectsAfterSessionNotActive(t *testing.T) {
	t.Parallel()

	def := newFreeformTopic()
	gw := &fakeGateway{responses: []*model.Response{
		{Text: "Welcome.", FinishReason: "stop"},
		{Text: "Done. [[DONE]]", FinishReason: "stop"},
	}}
	orch, _ := newTestHarness(t, def, gw)
	auth := AuthContext{TenantID: "tenant-a", UserID: "user-1"}

	init, err := orch.InitiateSession(context.Background(), auth, def.ID, nil)
	require.NoError(t, err)
	_, err = orch.AddMessage(context.Background(), auth, init.SessionID, "wrap it up")
	require.NoError(t, err)

	_, err = orch.AddMessage(context.Background(), auth, init.SessionID, "one more thing")
	require.ErrorIs(t, err, ErrSessionNotActive)
}

func TestCompleteSession_ExtractsStructuredResult(t *testing.T) {
	t.Parallel()

	def := newSchemaTopic()
	gw := &fakeGateway{responses: []*model.Response{{Text: "Welcome.", FinishReason: "stop"}}}
	orch, _ := newTestHarness(t, def, gw)
	auth := AuthContext{TenantID: "tenant-a", UserID: "user-1"}

	init, err := orch.InitiateSession(context.Background(), auth, def.ID, nil)
	require.NoError(t, err)

	result, err := orch.CompleteSession(context.Background(), auth, init.SessionID)
	require.NoError(t, err)
	require.Equal(t, "looks good", result.Result["summary"])
	require.Equal(t, string(session.StatusCompleted), result.Status)
}

func TestCompleteSession_IdempotentOnAlreadyCompleted(t *testing.T) {
	t.Parallel()

	def := newSchemaTopic()
	gw := &fakeGateway{responses: []*model.Response{{Text: "Welcome.", FinishReason: "stop"}}}
	orch, _ := newTestHarness(t, def, gw)
	auth := AuthContext{TenantID: "tenant-a", UserID: "user-1"}

	init, err := orch.InitiateSession(context.Background(), auth, def.ID, nil)
	require.NoError(t, err)

	first, err := orch.CompleteSession(context.Background(), auth, init.SessionID)
	require.NoError(t, err)

	second, err := orch.CompleteSession(context.Background(), auth, init.SessionID)
	require.NoError(t, err)
	require.Equal(t, first.Result, second.Result)
}

func TestGetSession_LazyExpiry(t *testing.T) {
	t.Parallel()

	def := newFreeformTopic()
	gw := &fakeGateway{responses: []*model.Response{{Text: "Welcome.", FinishReason: "stop"}}}
	orch, _ := newTestHarness(t, def, gw)
	orch.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	auth := AuthContext{TenantID: "tenant-a", UserID: "user-1"}

	init, err := orch.InitiateSession(context.Background(), auth, def.ID, nil)
	require.NoError(t, err)

	orch.now = func() time.Time { return time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC) }

	snap, err := orch.GetSession(context.Background(), auth, init.SessionID)
	require.NoError(t, err)
	require.Equal(t, session.StatusExpired, snap.Status)
}
