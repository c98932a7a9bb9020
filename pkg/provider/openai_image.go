package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIImageClient implements the Client interface over the image-generation
// endpoint. It returns the shared response envelope with Content holding a
// structured image-reference payload instead of prose.
type OpenAIImageClient struct {
	client openai.Client
}

// ImageReference is the JSON payload placed in Response.Content by the image
// variant. Exactly one of URL or B64Data is populated.
type ImageReference struct {
	URL     string `json:"url,omitempty"`
	B64Data string `json:"b64_data,omitempty"`
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
}

// NewOpenAIImageClient creates an image-generation client with the given
// credential.
func NewOpenAIImageClient(apiKey string) (*OpenAIImageClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai API key is required")
	}
	return &OpenAIImageClient{client: openai.NewClient(option.WithAPIKey(apiKey))}, nil
}

// Name returns the provider identifier.
func (c *OpenAIImageClient) Name() ID {
	return OpenAIImage
}

// Capabilities returns the static capability set. The image endpoint accepts
// neither sampling parameters nor a token cap.
func (c *OpenAIImageClient) Capabilities() Capabilities {
	return Capabilities{}
}

// Models returns the default model list.
func (c *OpenAIImageClient) Models() []string {
	return []string{"gpt-image-1"}
}

// Generate renders the prompt through the image endpoint. The system prompt
// is folded into the image prompt; the endpoint has no separate system role.
func (c *OpenAIImageClient) Generate(ctx context.Context, req Request) (*Response, error) {
	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}

	resp, err := c.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(req.Model),
		N:      openai.Int(1),
	})
	if err != nil {
		return nil, classifyOpenAIError(OpenAIImage, err)
	}
	if len(resp.Data) == 0 {
		return nil, transientErr(OpenAIImage, 0, fmt.Errorf("no image returned"))
	}

	ref := ImageReference{
		URL:     resp.Data[0].URL,
		B64Data: resp.Data[0].B64JSON,
		Model:   req.Model,
		Prompt:  req.Prompt,
	}
	if ref.URL == "" && ref.B64Data == "" {
		return nil, transientErr(OpenAIImage, 0, fmt.Errorf("image response carried no reference"))
	}
	payload, err := json.Marshal(ref)
	if err != nil {
		return nil, permanentErr(OpenAIImage, 0, fmt.Errorf("encode image reference: %w", err))
	}

	return &Response{
		Content:  string(payload),
		Model:    req.Model,
		Provider: OpenAIImage,
		Metadata: map[string]string{"content_type": "image_reference"},
	}, nil
}
