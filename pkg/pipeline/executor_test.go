package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zen-systems/inkflow/pkg/provider"
)

func testStage() StageDefinition {
	return StageDefinition{
		Order:        1,
		Name:         "draft",
		Provider:     provider.Mock,
		Model:        "mock-1",
		SystemPrompt: "You write long-form prose.",
		Timeout:      time.Second,
		Heartbeat:    50 * time.Millisecond,
	}
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, BackoffFactor: 2.0}
}

func transientTestErr() error {
	return &provider.Error{Provider: provider.Mock, Kind: provider.Transient, Status: 429, Err: fmt.Errorf("rate limited")}
}

func permanentTestErr() error {
	return &provider.Error{Provider: provider.Mock, Kind: provider.Permanent, Status: 401, Err: fmt.Errorf("invalid key")}
}

func TestExecuteEmptySystemPromptFailsWithoutDispatch(t *testing.T) {
	mock := provider.NewMockClient()
	def := testStage()
	def.SystemPrompt = ""

	exec := &Executor{Retry: fastRetry()}
	res := exec.Execute(context.Background(), def, mock, StageInput{Topic: "t"}, nil)

	if res.Status != StageFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if res.ErrKind != KindValidation {
		t.Fatalf("expected validation error, got %s", res.ErrKind)
	}
	if res.Attempts != 0 {
		t.Fatalf("expected zero attempts, got %d", res.Attempts)
	}
	if mock.Calls() != 0 {
		t.Fatalf("expected zero dispatches, got %d", mock.Calls())
	}
}

func TestExecuteMissingModelFailsValidation(t *testing.T) {
	def := testStage()
	def.Model = ""

	exec := &Executor{Retry: fastRetry()}
	res := exec.Execute(context.Background(), def, provider.NewMockClient(), StageInput{}, nil)

	if res.ErrKind != KindValidation || res.Attempts != 0 {
		t.Fatalf("expected validation failure with zero attempts, got %s/%d", res.ErrKind, res.Attempts)
	}
}

func TestExecuteUnresolvedClientFailsValidation(t *testing.T) {
	exec := &Executor{Retry: fastRetry()}
	res := exec.Execute(context.Background(), testStage(), nil, StageInput{}, nil)

	if res.ErrKind != KindValidation || res.Attempts != 0 {
		t.Fatalf("expected validation failure with zero attempts, got %s/%d", res.ErrKind, res.Attempts)
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	mock := provider.NewMockClient()
	mock.FailWith(context.DeadlineExceeded, context.DeadlineExceeded)

	exec := &Executor{Retry: fastRetry()}
	res := exec.Execute(context.Background(), testStage(), mock, StageInput{Topic: "t"}, nil)

	if res.Status != StageCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", res.Status, res.ErrMsg)
	}
	if res.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", res.Attempts)
	}
	if mock.Calls() != 3 {
		t.Fatalf("expected 3 dispatches, got %d", mock.Calls())
	}
	if res.Output == "" {
		t.Fatal("expected non-empty output on completion")
	}
}

func TestExecuteExhaustsTransientRetries(t *testing.T) {
	mock := provider.NewMockClient()
	mock.FailWith(transientTestErr(), transientTestErr(), transientTestErr())

	exec := &Executor{Retry: fastRetry()}
	res := exec.Execute(context.Background(), testStage(), mock, StageInput{}, nil)

	if res.Status != StageFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if res.ErrKind != KindTransientProvider {
		t.Fatalf("expected transient_provider, got %s", res.ErrKind)
	}
	if res.Attempts != 3 || mock.Calls() != 3 {
		t.Fatalf("expected exactly 3 attempts, got attempts=%d calls=%d", res.Attempts, mock.Calls())
	}
}

func TestExecutePermanentErrorDoesNotRetry(t *testing.T) {
	mock := provider.NewMockClient()
	mock.FailWith(permanentTestErr())

	exec := &Executor{Retry: fastRetry()}
	res := exec.Execute(context.Background(), testStage(), mock, StageInput{}, nil)

	if res.Status != StageFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if res.ErrKind != KindPermanentProvider {
		t.Fatalf("expected permanent_provider, got %s", res.ErrKind)
	}
	if res.Attempts != 1 || mock.Calls() != 1 {
		t.Fatalf("expected a single attempt, got attempts=%d calls=%d", res.Attempts, mock.Calls())
	}
}

// blockingClient hangs until its context is done.
type blockingClient struct {
	delay time.Duration
}

func (c *blockingClient) Generate(ctx context.Context, req provider.Request) (*provider.Response, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(c.delay):
		return &provider.Response{Content: "late", Model: req.Model, Provider: provider.Mock}, nil
	}
}

func (c *blockingClient) Name() provider.ID                   { return provider.Mock }
func (c *blockingClient) Capabilities() provider.Capabilities { return provider.Capabilities{} }
func (c *blockingClient) Models() []string                    { return []string{"mock-1"} }

func TestExecuteTimeoutClassifiedAsTimeout(t *testing.T) {
	def := testStage()
	def.Timeout = 10 * time.Millisecond

	exec := &Executor{Retry: RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, BackoffFactor: 2.0}}
	res := exec.Execute(context.Background(), def, &blockingClient{delay: time.Second}, StageInput{}, nil)

	if res.Status != StageFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if res.ErrKind != KindTimeout {
		t.Fatalf("expected timeout, got %s", res.ErrKind)
	}
	if res.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", res.Attempts)
	}
}

func TestExecuteCancellationAbortsWithoutRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	exec := &Executor{Retry: fastRetry()}
	res := exec.Execute(ctx, testStage(), &blockingClient{delay: time.Second}, StageInput{}, nil)

	if res.Status != StageFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if res.ErrKind != KindCanceled {
		t.Fatalf("expected canceled, got %s", res.ErrKind)
	}
	if res.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", res.Attempts)
	}
}

func TestExecuteEmitsHeartbeats(t *testing.T) {
	def := testStage()
	def.Heartbeat = 5 * time.Millisecond
	def.Timeout = time.Second

	var mu sync.Mutex
	var beats []Beat
	beat := func(b Beat) {
		mu.Lock()
		beats = append(beats, b)
		mu.Unlock()
	}

	exec := &Executor{Retry: fastRetry()}
	res := exec.Execute(context.Background(), def, &blockingClient{delay: 40 * time.Millisecond}, StageInput{Topic: "t"}, beat)

	if res.Status != StageCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", res.Status, res.ErrMsg)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(beats) < 2 {
		t.Fatalf("expected at least 2 beats, got %d", len(beats))
	}
	for _, b := range beats {
		if b.Stage != "draft" {
			t.Fatalf("beat carries wrong stage %q", b.Stage)
		}
		if b.Attempt < 1 {
			t.Fatalf("beat carries attempt %d", b.Attempt)
		}
	}
}

func TestRetryPolicyDelaySchedule(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Second, BackoffFactor: 2.0, MaxAttempts: 4}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := policy.Delay(tt.attempt); got != tt.want {
			t.Fatalf("delay after attempt %d: expected %s, got %s", tt.attempt, tt.want, got)
		}
	}
}

func TestBuildPromptTemplate(t *testing.T) {
	def := testStage()
	def.Prompt = "Topic: {{.Topic}} | Brief: {{.Context.brief_output}} | Style: {{.Auxiliary.style}}"

	prompt, err := buildPrompt(def, StageInput{
		Topic:     "sea trade",
		Auxiliary: map[string]string{"style": "academic"},
		Context:   map[string]string{"brief_output": "X"},
	})
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	expected := "Topic: sea trade | Brief: X | Style: academic"
	if prompt != expected {
		t.Fatalf("unexpected prompt: %q", prompt)
	}
}

func TestBuildPromptDefaultIncludesContext(t *testing.T) {
	def := testStage()
	def.Prompt = ""

	prompt, err := buildPrompt(def, StageInput{
		Topic:   "sea trade",
		Context: map[string]string{"brief_output": "X", "outline_output": "Y"},
	})
	if err != nil {
		t.Fatalf("build prompt: %v", err)
	}
	for _, want := range []string{"sea trade", "brief_output", "X", "outline_output", "Y"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("default prompt missing %q: %q", want, prompt)
		}
	}
}
