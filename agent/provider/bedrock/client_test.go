package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/require"

	"github.com/mottych/purposepath-ai/agent/model"
)

type scriptedRuntimeClient struct {
	err error
	out *bedrockruntime.ConverseOutput
}

func (c *scriptedRuntimeClient) Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return c.out, c.err
}

func TestComplete_RequiresModel(t *testing.T) {
	t.Parallel()

	cl, err := New(&scriptedRuntimeClient{}, Options{MaxTokens: 100})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	require.Error(t, err)
}

func TestComplete_RequiresMessages(t *testing.T) {
	t.Parallel()

	cl, err := New(&scriptedRuntimeClient{}, Options{MaxTokens: 100})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{Model: "claude-x"})
	require.Error(t, err)
}

func TestComplete_UnclassifiedErrorSurfacesAsUnavailable(t *testing.T) {
	t.Parallel()

	cl, err := New(&scriptedRuntimeClient{err: errors.New("network reset")}, Options{MaxTokens: 100})
	require.NoError(t, err)

	_, err = cl.Complete(context.Background(), &model.Request{Model: "claude-x", Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}}})
	require.ErrorIs(t, err, model.ErrUnavailable)
}

func TestIsRejected_NilError(t *testing.T) {
	t.Parallel()
	require.False(t, isRejected(nil))
}

func TestIsRateLimited_NilError(t *testing.T) {
	t.Parallel()
	require.False(t, isRateLimited(nil))
}
