// Package provider normalizes divergent LLM vendor APIs into one internal
// request/response contract. Vendor-specific field names and wire shapes are
// absorbed here and nowhere else.
package provider

import "context"

// ID identifies a provider variant. The set is closed: the factory matches
// it exhaustively, so a misspelled provider is caught before any stage runs.
type ID string

const (
	OpenAI      ID = "openai"
	OpenAIImage ID = "openai-image"
	Anthropic   ID = "anthropic"
	Google      ID = "google"
	Mock        ID = "mock"
)

// Known reports whether id names a resolvable provider variant.
func Known(id ID) bool {
	switch id {
	case OpenAI, OpenAIImage, Anthropic, Google, Mock:
		return true
	}
	return false
}

// UnboundedTokens is the sentinel for "no completion cap" on providers that
// allow an unbounded response.
const UnboundedTokens = -1

// Request is the normalized generation request. TopP and MaxTokens are
// nullable: nil means "not requested", and the capability table may strip
// them before dispatch when the target vendor does not honor them.
type Request struct {
	Model        string
	Prompt       string
	SystemPrompt string
	Temperature  float64
	TopP         *float64
	MaxTokens    *int
}

// Usage captures normalized token accounting. Counts are nullable because
// not every vendor reports them.
type Usage struct {
	PromptTokens     *int `json:"prompt_tokens,omitempty"`
	CompletionTokens *int `json:"completion_tokens,omitempty"`
	TotalTokens      *int `json:"total_tokens,omitempty"`
}

// Response is the normalized generation response. Content is never empty on
// success; clients fail instead of returning a hollow result.
type Response struct {
	Content  string            `json:"content"`
	Model    string            `json:"model"`
	Provider ID                `json:"provider"`
	Usage    Usage             `json:"usage"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Client issues one normalized request to one vendor.
type Client interface {
	// Generate sends the request and returns a normalized response, or an
	// *Error classified as transient or permanent.
	Generate(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider identifier.
	Name() ID

	// Capabilities returns the static capability set of this variant.
	Capabilities() Capabilities

	// Models returns the variant's default model list.
	Models() []string
}

// Capabilities declares which optional request parameters a variant honors.
// Unsupported parameters are stripped centrally (see scrub) rather than sent
// and left for the vendor to ignore.
type Capabilities struct {
	// TopP reports whether the vendor accepts nucleus sampling.
	TopP bool
	// MaxTokens reports whether the vendor accepts a completion cap.
	MaxTokens bool
	// UnboundedTokens reports whether the vendor accepts running without a
	// completion cap. Variants without it substitute DefaultMaxTokens for
	// the UnboundedTokens sentinel.
	UnboundedTokens bool
	// DefaultMaxTokens is the cap used when the caller requests none (or
	// requests unbounded on a variant that requires a cap).
	DefaultMaxTokens int
}

// scrub drops request parameters the capability set does not cover. Applied
// once by the factory wrapper so no caller has to repeat it.
func scrub(req Request, caps Capabilities) Request {
	if !caps.TopP {
		req.TopP = nil
	}
	if req.MaxTokens != nil && *req.MaxTokens == UnboundedTokens && !caps.UnboundedTokens {
		capped := caps.DefaultMaxTokens
		req.MaxTokens = &capped
	}
	if !caps.MaxTokens {
		req.MaxTokens = nil
	}
	return req
}

func intPtr(v int) *int { return &v }
