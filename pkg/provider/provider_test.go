package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// recordingClient captures the request it receives so tests can observe what
// the normalizing wrapper let through.
type recordingClient struct {
	id   ID
	caps Capabilities
	last Request
}

func (c *recordingClient) Generate(_ context.Context, req Request) (*Response, error) {
	c.last = req
	return &Response{Content: "ok", Model: req.Model, Provider: c.id}, nil
}

func (c *recordingClient) Name() ID                   { return c.id }
func (c *recordingClient) Capabilities() Capabilities { return c.caps }
func (c *recordingClient) Models() []string           { return []string{"m-1"} }

func TestNormalizedStripsTopP(t *testing.T) {
	topP := 0.9

	tests := []struct {
		name     string
		caps     Capabilities
		wantTopP *float64
	}{
		{
			name:     "claude-like drops top_p",
			caps:     (&AnthropicClient{}).Capabilities(),
			wantTopP: nil,
		},
		{
			name:     "openai-like passes top_p unchanged",
			caps:     (&OpenAIClient{}).Capabilities(),
			wantTopP: &topP,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &recordingClient{id: Mock, caps: tt.caps}
			client := Normalized(inner)

			_, err := client.Generate(context.Background(), Request{
				Model:        "m-1",
				Prompt:       "hello",
				SystemPrompt: "system",
				TopP:         &topP,
			})
			if err != nil {
				t.Fatalf("generate: %v", err)
			}

			if tt.wantTopP == nil {
				if inner.last.TopP != nil {
					t.Fatalf("expected top_p stripped, got %v", *inner.last.TopP)
				}
				return
			}
			if inner.last.TopP == nil || *inner.last.TopP != *tt.wantTopP {
				t.Fatalf("expected top_p %v preserved, got %v", *tt.wantTopP, inner.last.TopP)
			}
		})
	}
}

func TestNormalizedMapsUnboundedTokens(t *testing.T) {
	unbounded := UnboundedTokens

	inner := &recordingClient{id: Mock, caps: Capabilities{MaxTokens: true, DefaultMaxTokens: 4096}}
	client := Normalized(inner)
	if _, err := client.Generate(context.Background(), Request{Model: "m-1", Prompt: "p", MaxTokens: &unbounded}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if inner.last.MaxTokens == nil || *inner.last.MaxTokens != 4096 {
		t.Fatalf("expected unbounded sentinel capped at 4096, got %v", inner.last.MaxTokens)
	}

	inner = &recordingClient{id: Mock, caps: Capabilities{MaxTokens: true, UnboundedTokens: true, DefaultMaxTokens: 4096}}
	client = Normalized(inner)
	if _, err := client.Generate(context.Background(), Request{Model: "m-1", Prompt: "p", MaxTokens: &unbounded}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if inner.last.MaxTokens == nil || *inner.last.MaxTokens != UnboundedTokens {
		t.Fatalf("expected unbounded sentinel preserved, got %v", inner.last.MaxTokens)
	}
}

func TestNormalizedStripsMaxTokensWhenUnsupported(t *testing.T) {
	maxTokens := 2048
	inner := &recordingClient{id: OpenAIImage, caps: (&OpenAIImageClient{}).Capabilities()}
	client := Normalized(inner)
	if _, err := client.Generate(context.Background(), Request{Model: "gpt-image-1", Prompt: "p", MaxTokens: &maxTokens}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if inner.last.MaxTokens != nil {
		t.Fatalf("expected max_tokens stripped for image variant, got %v", *inner.last.MaxTokens)
	}
}

func TestResolveUnknownProvider(t *testing.T) {
	_, err := Resolve(ID("unknown_vendor"), "key")
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestResolveRequiresCredential(t *testing.T) {
	for _, id := range []ID{OpenAI, OpenAIImage, Anthropic} {
		if _, err := Resolve(id, ""); err == nil {
			t.Fatalf("expected error resolving %s without credential", id)
		}
	}
}

func TestResolveIsDeterministic(t *testing.T) {
	first, err := Resolve(Mock, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := Resolve(Mock, "")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first.Name() != second.Name() {
		t.Fatalf("names differ: %s vs %s", first.Name(), second.Name())
	}
	if first.Capabilities() != second.Capabilities() {
		t.Fatal("capabilities differ between resolutions")
	}
}

func TestKnown(t *testing.T) {
	for _, id := range []ID{OpenAI, OpenAIImage, Anthropic, Google, Mock} {
		if !Known(id) {
			t.Fatalf("expected %s to be known", id)
		}
	}
	if Known(ID("unknown_vendor")) {
		t.Fatal("expected unknown_vendor to be unknown")
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{408, Transient},
		{429, Transient},
		{500, Transient},
		{503, Transient},
		{400, Permanent},
		{401, Permanent},
		{403, Permanent},
		{404, Permanent},
	}
	for _, tt := range tests {
		got := classifyStatus(Mock, tt.status, fmt.Errorf("status %d", tt.status))
		if got.Kind != tt.want {
			t.Fatalf("status %d: expected %s, got %s", tt.status, tt.want, got.Kind)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatal("deadline exceeded should be transient")
	}
	if IsTransient(context.Canceled) {
		t.Fatal("cancellation should not be transient")
	}
	if !IsTransient(transientErr(Mock, 429, fmt.Errorf("rate limited"))) {
		t.Fatal("429 should be transient")
	}
	if IsTransient(permanentErr(Mock, 401, fmt.Errorf("bad key"))) {
		t.Fatal("401 should not be transient")
	}
	if IsTransient(nil) {
		t.Fatal("nil should not be transient")
	}
}

func TestMockClientScriptedErrors(t *testing.T) {
	mock := NewMockClient()
	mock.FailWith(transientErr(Mock, 429, fmt.Errorf("rate limited")))

	if _, err := mock.Generate(context.Background(), Request{Prompt: "p"}); err == nil {
		t.Fatal("expected scripted error on first call")
	}
	resp, err := mock.Generate(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if resp.Content == "" {
		t.Fatal("expected non-empty content on success")
	}
	if mock.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", mock.Calls())
	}
}
