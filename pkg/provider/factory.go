package provider

import (
	"context"
	"fmt"
)

// ErrUnknownProvider is wrapped by Resolve for unrecognized identifiers so
// callers can treat the failure as a configuration problem.
var ErrUnknownProvider = fmt.Errorf("unknown provider")

// Resolve maps a provider identifier and credential to a concrete client.
// The switch is exhaustive over the closed ID set; an unrecognized id fails
// synchronously, before any stage work starts.
//
// Resolving the same (id, credential) pair twice yields clients with
// identical behavior, not necessarily the same instance.
func Resolve(id ID, credential string) (Client, error) {
	var (
		client Client
		err    error
	)
	switch id {
	case OpenAI:
		client, err = NewOpenAIClient(credential)
	case OpenAIImage:
		client, err = NewOpenAIImageClient(credential)
	case Anthropic:
		client, err = NewAnthropicClient(credential)
	case Google:
		client, err = NewGoogleClient(credential)
	case Mock:
		client = NewMockClient()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve provider %s: %w", id, err)
	}
	return Normalized(client), nil
}

// Normalized wraps a client so every request is scrubbed against the
// variant's capability table before dispatch. Resolve applies it to all
// clients it returns; it is exported for callers that construct clients
// directly (tests, local mock runs).
func Normalized(inner Client) Client {
	if _, ok := inner.(*normalizing); ok {
		return inner
	}
	return &normalizing{inner: inner}
}

// normalizing strips request parameters the target variant does not honor.
// Enforced here, once, instead of per caller.
type normalizing struct {
	inner Client
}

func (n *normalizing) Generate(ctx context.Context, req Request) (*Response, error) {
	return n.inner.Generate(ctx, scrub(req, n.inner.Capabilities()))
}

func (n *normalizing) Name() ID                   { return n.inner.Name() }
func (n *normalizing) Capabilities() Capabilities { return n.inner.Capabilities() }
func (n *normalizing) Models() []string           { return n.inner.Models() }
