package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements the Client interface over the chat-completions API.
type OpenAIClient struct {
	client openai.Client
}

// NewOpenAIClient creates an OpenAI chat client with the given credential.
func NewOpenAIClient(apiKey string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return &OpenAIClient{client: openai.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() ID {
	return OpenAI
}

// Capabilities returns the static capability set of the chat variant.
// The completion cap maps to the max_completion_tokens field; omitting it
// leaves the response unbounded.
func (c *OpenAIClient) Capabilities() Capabilities {
	return Capabilities{
		TopP:             true,
		MaxTokens:        true,
		UnboundedTokens:  true,
		DefaultMaxTokens: 4096,
	}
}

// Models returns the default model list.
func (c *OpenAIClient) Models() []string {
	return []string{
		"gpt-5.2-instant",
		"gpt-5.2-thinking",
		"gpt-5.2-pro",
	}
}

// Generate sends a normalized request to the chat-completions endpoint.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Response, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(req.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.SystemPrompt),
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}
	if req.MaxTokens != nil && *req.MaxTokens != UnboundedTokens {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(OpenAI, err)
	}
	if len(resp.Choices) == 0 {
		return nil, permanentErr(OpenAI, 0, fmt.Errorf("no choices returned"))
	}
	content := resp.Choices[0].Message.Content
	if content == "" {
		return nil, transientErr(OpenAI, 0, fmt.Errorf("empty completion content"))
	}

	return &Response{
		Content:  content,
		Model:    resp.Model,
		Provider: OpenAI,
		Usage: Usage{
			PromptTokens:     intPtr(int(resp.Usage.PromptTokens)),
			CompletionTokens: intPtr(int(resp.Usage.CompletionTokens)),
			TotalTokens:      intPtr(int(resp.Usage.TotalTokens)),
		},
		Metadata: map[string]string{
			"finish_reason": string(resp.Choices[0].FinishReason),
		},
	}, nil
}

// classifyOpenAIError is shared by the chat and image variants; both speak
// the same wire protocol and surface *openai.Error.
func classifyOpenAIError(p ID, err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return classifyStatus(p, apierr.StatusCode, err)
	}
	if IsTransient(err) {
		return transientErr(p, 0, err)
	}
	return permanentErr(p, 0, err)
}
