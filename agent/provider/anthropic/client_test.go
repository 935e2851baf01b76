package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"

	"github.com/mottych/purposepath-ai/agent/model"
)

type scriptedMessagesClient struct {
	err error
}

func (c *scriptedMessagesClient) New(context.Context, sdk.MessageNewParams, ...option.RequestOption) (*sdk.Message, error) {
	return nil, c.err
}

func TestComplete_RateLimitedErrorClassifiedTransient(t *testing.T) {
	t.Parallel()

	cl, err := New(&scriptedMessagesClient{err: &sdk.Error{StatusCode: 429}}, Options{MaxTokens: 100})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{Model: "claude-x", Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	require.ErrorIs(t, err, model.ErrRateLimited)
}

func TestComplete_BadRequestClassifiedRejected(t *testing.T) {
	t.Parallel()

	cl, err := New(&scriptedMessagesClient{err: &sdk.Error{StatusCode: 400}}, Options{MaxTokens: 100})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{Model: "claude-x", Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	require.ErrorIs(t, err, model.ErrRejected)
}

func TestComplete_AuthFailureClassifiedRejected(t *testing.T) {
	t.Parallel()

	for _, status := range []int{401, 403} {
		cl, err := New(&scriptedMessagesClient{err: &sdk.Error{StatusCode: status}}, Options{MaxTokens: 100})
		require.NoError(t, err)

		_, err = cl.Complete(context.Background(), &model.Request{Model: "claude-x", Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
		require.ErrorIs(t, err, model.ErrRejected)
	}
}

func TestComplete_OtherErrorClassifiedUnavailable(t *testing.T) {
	t.Parallel()

	cl, err := New(&scriptedMessagesClient{err: errors.New("connection reset")}, Options{MaxTokens: 100})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{Model: "claude-x", Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	require.ErrorIs(t, err, model.ErrUnavailable)
}
