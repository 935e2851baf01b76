package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mottych/purposepath-ai/agent/model"
	"github.com/mottych/purposepath-ai/agent/modelregistry"
)

type scriptedClient struct {
	responses []*model.Response
	errs      []error
	calls     int
}

func (c *scriptedClient) Complete(_ context.Context, _ *model.Request) (*model.Response, error) {
	idx := c.calls
	c.calls++
	if idx < len(c.errs) && c.errs[idx] != nil {
		return nil, c.errs[idx]
	}
	if idx < len(c.responses) {
		return c.responses[idx], nil
	}
	return c.responses[len(c.responses)-1], nil
}

func newRegistry() *modelregistry.Registry {
	return modelregistry.New(
		modelregistry.Entry{Code: "primary", Provider: "primary-tag", Active: true},
		modelregistry.Entry{Code: "fallback", Provider: "fallback-tag", Active: true},
		modelregistry.Entry{Code: "inactive", Provider: "primary-tag", Active: false},
	)
}

func TestDispatch_SucceedsOnPrimary(t *testing.T) {
	t.Parallel()

	primary := &scriptedClient{responses: []*model.Response{{Text: "hi"}}}
	gw := NewGateway(newRegistry(), map[string]model.Client{"primary-tag": primary}, nil, nil)

	resp, err := gw.Dispatch(context.Background(), DispatchRequest{PrimaryModelCode: "primary"})
	require.NoError(t, err)
	require.Equal(t, "hi", resp.Text)
	require.Equal(t, "primary", resp.ModelUsed)
	require.Equal(t, 1, primary.calls)
}

func TestDispatch_RejectedNeverRetries(t *testing.T) {
	t.Parallel()

	primary := &scriptedClient{errs: []error{model.ErrRejected}}
	gw := NewGateway(newRegistry(), map[string]model.Client{"primary-tag": primary}, nil, nil)

	_, err := gw.Dispatch(context.Background(), DispatchRequest{PrimaryModelCode: "primary"})
	require.ErrorIs(t, err, ErrProviderRejected)
	require.Equal(t, 1, primary.calls)
}

func TestDispatch_FallsBackAfterPrimaryExhausted(t *testing.T) {
	t.Parallel()

	primary := &scriptedClient{errs: []error{model.ErrUnavailable, model.ErrUnavailable}}
	fallback := &scriptedClient{responses: []*model.Response{{Text: "from fallback"}}}
	gw := NewGateway(newRegistry(), map[string]model.Client{
		"primary-tag":  primary,
		"fallback-tag": fallback,
	}, nil, nil)

	resp, err := gw.Dispatch(context.Background(), DispatchRequest{
		PrimaryModelCode:  "primary",
		FallbackModelCode: "fallback",
	})
	require.NoError(t, err)
	require.Equal(t, "from fallback", resp.Text)
	require.Equal(t, "fallback", resp.ModelUsed)
	require.Equal(t, 1, fallback.calls)
}

func TestDispatch_NoFallbackConfiguredSurfacesPrimaryError(t *testing.T) {
	t.Parallel()

	primary := &scriptedClient{errs: []error{model.ErrUnavailable, model.ErrUnavailable}}
	gw := NewGateway(newRegistry(), map[string]model.Client{"primary-tag": primary}, nil, nil)

	_, err := gw.Dispatch(context.Background(), DispatchRequest{PrimaryModelCode: "primary"})
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrProviderRejected))
}

func TestDispatch_UnknownModelCode(t *testing.T) {
	t.Parallel()

	gw := NewGateway(newRegistry(), map[string]model.Client{}, nil, nil)
	_, err := gw.Dispatch(context.Background(), DispatchRequest{PrimaryModelCode: "does-not-exist"})
	require.ErrorIs(t, err, ErrModelUnavailable)
}

func TestDispatch_InactiveModelCode(t *testing.T) {
	t.Parallel()

	gw := NewGateway(newRegistry(), map[string]model.Client{"primary-tag": &scriptedClient{}}, nil, nil)
	_, err := gw.Dispatch(context.Background(), DispatchRequest{PrimaryModelCode: "inactive"})
	require.ErrorIs(t, err, ErrModelUnavailable)
}

func TestDispatch_UnwiredProviderTag(t *testing.T) {
	t.Parallel()

	gw := NewGateway(newRegistry(), map[string]model.Client{}, nil, nil)
	_, err := gw.Dispatch(context.Background(), DispatchRequest{PrimaryModelCode: "primary"})
	require.ErrorIs(t, err, ErrUnknownProviderTag)
}
