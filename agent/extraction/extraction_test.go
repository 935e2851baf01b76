package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mottych/purposepath-ai/agent/model"
	"github.com/mottych/purposepath-ai/agent/topic"
)

type scriptedDispatcher struct {
	texts []string
	calls int
}

func (d *scriptedDispatcher) Dispatch(_ context.Context, _ DispatchRequest) (*model.Response, error) {
	idx := d.calls
	d.calls++
	if idx >= len(d.texts) {
		idx = len(d.texts) - 1
	}
	return &model.Response{Text: d.texts[idx], FinishReason: "stop"}, nil
}

func schema() *topic.ResultSchema {
	return &topic.ResultSchema{
		ID: "test-result",
		Fields: []topic.SchemaField{
			{Name: "summary", Kind: topic.ValueKindString, Required: true},
			{Name: "score", Kind: topic.ValueKindNumber},
		},
	}
}

func TestExtract_SucceedsOnFirstAttempt(t *testing.T) {
	t.Parallel()

	d := &scriptedDispatcher{texts: []string{`{"summary":"good session","score":8}`}}
	e := NewExtractor(d)

	result, err := e.Extract(context.Background(), schema(), Request{Transcript: "USER: hi\nASSISTANT: hello"})
	require.NoError(t, err)
	require.Equal(t, "good session", result["summary"])
	require.Equal(t, 1, d.calls)
}

func TestExtract_RetriesOnceOnInvalidJSON(t *testing.T) {
	t.Parallel()

	d := &scriptedDispatcher{texts: []string{
		"not json at all",
		`{"summary":"fixed on retry"}`,
	}}
	e := NewExtractor(d)

	result, err := e.Extract(context.Background(), schema(), Request{Transcript: "x"})
	require.NoError(t, err)
	require.Equal(t, "fixed on retry", result["summary"])
	require.Equal(t, 2, d.calls)
}

func TestExtract_FailsAfterSecondAttemptStillInvalid(t *testing.T) {
	t.Parallel()

	d := &scriptedDispatcher{texts: []string{"nope", "still nope"}}
	e := NewExtractor(d)

	_, err := e.Extract(context.Background(), schema(), Request{Transcript: "x"})
	require.ErrorIs(t, err, ErrExtractionFailed)
	require.Equal(t, 2, d.calls)
}

func TestExtract_RejectsOutputMissingRequiredField(t *testing.T) {
	t.Parallel()

	d := &scriptedDispatcher{texts: []string{`{"score":3}`, `{"score":3}`}}
	e := NewExtractor(d)

	_, err := e.Extract(context.Background(), schema(), Request{Transcript: "x"})
	require.ErrorIs(t, err, ErrExtractionFailed)
}

func TestExtract_TrimsSurroundingProse(t *testing.T) {
	t.Parallel()

	d := &scriptedDispatcher{texts: []string{"Here is the result: {\"summary\":\"ok\"} thanks!"}}
	e := NewExtractor(d)

	result, err := e.Extract(context.Background(), schema(), Request{Transcript: "x"})
	require.NoError(t, err)
	require.Equal(t, "ok", result["summary"])
}
