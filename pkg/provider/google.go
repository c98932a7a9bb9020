package provider

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

// GoogleClient implements the Client interface over the generate-content API.
type GoogleClient struct {
	client *genai.Client
}

// NewGoogleClient creates a Gemini generate-content client with the given
// credential.
func NewGoogleClient(apiKey string) (*GoogleClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("google API key is required")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create google client: %w", err)
	}
	return &GoogleClient{client: client}, nil
}

// Name returns the provider identifier.
func (c *GoogleClient) Name() ID {
	return Google
}

// Capabilities returns the static capability set of the generate-content
// variant. The completion cap maps to the maxOutputTokens field; leaving it
// unset is permitted, so the unbounded sentinel passes through.
func (c *GoogleClient) Capabilities() Capabilities {
	return Capabilities{
		MaxTokens:        true,
		UnboundedTokens:  true,
		DefaultMaxTokens: 4096,
	}
}

// Models returns the default model list.
func (c *GoogleClient) Models() []string {
	return []string{"gemini-2.0-pro"}
}

// Generate sends a normalized request to the generate-content endpoint.
func (c *GoogleClient) Generate(ctx context.Context, req Request) (*Response, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.SystemPrompt}},
		}
	}
	if req.MaxTokens != nil && *req.MaxTokens != UnboundedTokens {
		cfg.MaxOutputTokens = int32(*req.MaxTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		var apierr genai.APIError
		if errors.As(err, &apierr) {
			return nil, classifyStatus(Google, apierr.Code, err)
		}
		if IsTransient(err) {
			return nil, transientErr(Google, 0, err)
		}
		return nil, permanentErr(Google, 0, err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, transientErr(Google, 0, fmt.Errorf("no candidates returned"))
	}

	var content string
	if resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			content += part.Text
		}
	}
	if content == "" {
		return nil, transientErr(Google, 0, fmt.Errorf("empty candidate content"))
	}

	out := &Response{
		Content:  content,
		Model:    req.Model,
		Provider: Google,
		Metadata: map[string]string{
			"finish_reason": string(resp.Candidates[0].FinishReason),
		},
	}
	if meta := resp.UsageMetadata; meta != nil {
		out.Usage = Usage{
			PromptTokens:     intPtr(int(meta.PromptTokenCount)),
			CompletionTokens: intPtr(int(meta.CandidatesTokenCount)),
			TotalTokens:      intPtr(int(meta.TotalTokenCount)),
		}
	}
	return out, nil
}
