package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements the Client interface over the messages API.
type AnthropicClient struct {
	client anthropic.Client
}

// NewAnthropicClient creates an Anthropic messages client with the given
// credential.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	return &AnthropicClient{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider identifier.
func (c *AnthropicClient) Name() ID {
	return Anthropic
}

// Capabilities returns the static capability set of the messages variant.
// top_p is not honored; max_tokens is mandatory on the wire, so an unbounded
// request is capped at DefaultMaxTokens.
func (c *AnthropicClient) Capabilities() Capabilities {
	return Capabilities{
		MaxTokens:        true,
		DefaultMaxTokens: 4096,
	}
}

// Models returns the default model list.
func (c *AnthropicClient) Models() []string {
	return []string{
		"claude-sonnet-4-20250514",
		"claude-opus-4-20250514",
	}
}

// Generate sends a normalized request to the messages endpoint.
func (c *AnthropicClient) Generate(ctx context.Context, req Request) (*Response, error) {
	maxTokens := c.Capabilities().DefaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemPrompt}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		var apierr *anthropic.Error
		if errors.As(err, &apierr) {
			return nil, classifyStatus(Anthropic, apierr.StatusCode, err)
		}
		if IsTransient(err) {
			return nil, transientErr(Anthropic, 0, err)
		}
		return nil, permanentErr(Anthropic, 0, err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if content == "" {
		return nil, transientErr(Anthropic, 0, fmt.Errorf("empty message content"))
	}

	return &Response{
		Content:  content,
		Model:    string(resp.Model),
		Provider: Anthropic,
		Usage: Usage{
			PromptTokens:     intPtr(int(resp.Usage.InputTokens)),
			CompletionTokens: intPtr(int(resp.Usage.OutputTokens)),
			TotalTokens:      intPtr(int(resp.Usage.InputTokens + resp.Usage.OutputTokens)),
		},
		Metadata: map[string]string{
			"stop_reason": string(resp.StopReason),
		},
	}, nil
}
