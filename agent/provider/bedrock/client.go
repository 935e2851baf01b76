// Package bedrock provides a model.Client implementation backed by the AWS
// Bedrock Converse API. Unlike a full agent runtime, this adapter only ever
// encodes plain role+text messages: there is no tool configuration, no
// streaming, and no thinking-budget wiring, since the coaching engine never
// uses those capabilities.
package bedrock

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/mottych/purposepath-ai/agent/model"
)

type (
	// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
	// required by the adapter, matching *bedrockruntime.Client so callers can
	// pass either the real client or a mock in tests.
	RuntimeClient interface {
		Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	}

	// Options configures the Bedrock client adapter.
	Options struct {
		// MaxTokens sets the default completion cap when a request does not
		// specify MaxTokens.
		MaxTokens int

		// Temperature is used when a request does not specify Temperature.
		Temperature float32
	}

	// Client implements model.Client on top of AWS Bedrock Converse.
	Client struct {
		runtime RuntimeClient
		maxTok  int
		temp    float32
	}
)

// New builds a Bedrock-backed model client from the provided runtime client
// and configuration options.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	return &Client{runtime: runtime, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// Complete issues a Converse request and translates the response into
// model.Response.
func (c *Client) Complete(ctx context.Context, req *model.Request) (*model.Response, error) {
	if req.Model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}

	var system []brtypes.SystemContentBlock
	var messages []brtypes.Message
	for _, m := range req.Messages {
		switch m.Role {
		case model.RoleSystem:
			system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
		case model.RoleUser:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case model.RoleAssistant:
			messages = append(messages, brtypes.Message{
				Role:    brtypes.ConversationRoleAssistant,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		}
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(req.Model),
		Messages: messages,
	}
	if len(system) > 0 {
		input.System = system
	}
	if cfg := c.inferenceConfig(req.MaxTokens, req.Temperature); cfg != nil {
		input.InferenceConfig = cfg
	}

	output, err := c.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		if isRejected(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRejected, err)
		}
		return nil, fmt.Errorf("%w: bedrock converse: %w", model.ErrUnavailable, err)
	}
	return translateResponse(output)
}

func (c *Client) inferenceConfig(reqMaxTokens int, reqTemp float64) *brtypes.InferenceConfiguration {
	maxTokens := reqMaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTok
	}
	temp := float32(reqTemp)
	if temp == 0 {
		temp = c.temp
	}
	if maxTokens <= 0 && temp == 0 {
		return nil
	}
	cfg := &brtypes.InferenceConfiguration{}
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if temp > 0 {
		cfg.Temperature = aws.Float32(temp)
	}
	return cfg
}

func translateResponse(output *bedrockruntime.ConverseOutput) (*model.Response, error) {
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return nil, errors.New("bedrock: unexpected converse output shape")
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	resp := &model.Response{
		Text:         text,
		FinishReason: string(output.StopReason),
	}
	if output.Usage != nil {
		resp.Usage = model.TokenUsage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}
	return resp, nil
}

// isRateLimited reports whether err represents a throttling response from
// Bedrock, following the smithy error taxonomy: a typed API error with a
// throttling error code, or an HTTP 429 response.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

// isRejected reports whether err represents a non-transient, non-retriable
// refusal from Bedrock: a malformed request, an unauthorized/forbidden
// caller, or content the model declined to generate. These must never be
// retried against primary or dispatched to a fallback model.
func isRejected(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ValidationException", "AccessDeniedException", "UnrecognizedClientException", "ModelErrorException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case 400, 401, 403:
			return true
		}
	}
	return false
}
