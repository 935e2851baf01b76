// Package openai provides a model.Client implementation backed by the
// OpenAI Chat Completions API using github.com/openai/openai-go.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/mottych/purposepath-ai/agent/model"
)

type (
	// ChatClient captures the subset of the openai-go client used by the
	// adapter, so callers can pass either a real client or a mock in tests.
	ChatClient interface {
		New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	}

	// Options configures optional OpenAI adapter behavior.
	Options struct {
		MaxTokens   int
		Temperature float64
	}

	// Client implements model.Client via the OpenAI Chat Completions API.
	Client struct {
		chat   ChatClient
		maxTok int
		temp   float64
	}
)

// New builds an OpenAI-backed model client from the provided chat client and
// configuration options.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	return &Client{chat: chat, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a client using the default openai-go HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	cl := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&cl.Chat.Completions, opts)
}

// Complete renders a chat completion using the configured OpenAI client.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, len(req.Messages))
	for i, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			messages[i] = openai.SystemMessage(m.Content)
		case model.RoleUser:
			messages[i] = openai.UserMessage(m.Content)
		case model.RoleAssistant:
			messages[i] = openai.AssistantMessage(m.Content)
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: messages,
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	temp := req.Temperature
	if temp == 0 {
		temp = c.temp
	}
	if temp > 0 {
		params.Temperature = openai.Float(temp)
	}

	resp, err := c.chat.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRejected, err)
		}
		return nil, fmt.Errorf("%w: openai chat completion: %w", model.ErrUnavailable, err)
	}
	return translateResponse(resp), nil
}

func translateResponse(resp *openai.ChatCompletion) *model.Response {
	var text, finish string
	if len(resp.Choices) > 0 {
		text = resp.Choices[0].Message.Content
		finish = string(resp.Choices[0].FinishReason)
	}
	return &model.Response{
		Text:         text,
		FinishReason: finish,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}
}

// isRateLimited reports whether err represents an OpenAI rate-limiting
// response (HTTP 429).
func isRateLimited(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// isRejected reports whether err represents a non-transient OpenAI refusal:
// an invalid request, an authentication/permission failure, or a
// content-policy refusal. These must never be retried against primary or
// dispatched to a fallback model.
func isRejected(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 400, 401, 403:
			return true
		}
	}
	return false
}
