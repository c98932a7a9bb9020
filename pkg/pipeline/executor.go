package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"text/template"
	"time"

	"github.com/zen-systems/inkflow/pkg/provider"
)

// Default execution knobs applied when a stage definition leaves them unset.
const (
	DefaultTimeout     = 2 * time.Minute
	DefaultHeartbeat   = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultBackoff     = 2.0
)

// RetryPolicy bounds the dispatch loop for transient failures.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = DefaultBackoff
	}
	return p
}

// Delay returns the backoff before the attempt following failed attempt i:
// BaseDelay * BackoffFactor^(i-1).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.BackoffFactor
	}
	return time.Duration(d)
}

// Beat is one liveness signal emitted while a stage has work in flight. It
// says "still working", distinct from the attempt's eventual outcome.
type Beat struct {
	Stage   string
	Attempt int
	At      time.Time
}

// BeatFunc receives heartbeats. It must not block.
type BeatFunc func(Beat)

// Executor runs exactly one stage: validation, timeout enforcement,
// heartbeat emission, and bounded retry with exponential backoff.
type Executor struct {
	Retry  RetryPolicy
	Logger func(format string, args ...any)
}

func (e *Executor) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger(format, args...)
	}
}

// Execute runs one stage against its resolved client and returns a terminal
// StageResult. It never panics across the provider boundary; every failure
// mode maps to an ErrorKind on the result.
func (e *Executor) Execute(ctx context.Context, def StageDefinition, client provider.Client, input StageInput, beat BeatFunc) StageResult {
	start := time.Now()

	// Validation failures are fatal before any network call: zero attempts,
	// no retry.
	if def.Name == "" {
		return failResult(def, KindValidation, "stage name is required", 0, start)
	}
	if strings.TrimSpace(def.SystemPrompt) == "" {
		return failResult(def, KindValidation, "system_prompt must not be empty", 0, start)
	}
	if def.Model == "" {
		return failResult(def, KindValidation, "model is required", 0, start)
	}
	if client == nil {
		return failResult(def, KindValidation, fmt.Sprintf("provider %q is not resolved", def.Provider), 0, start)
	}

	prompt, err := buildPrompt(def, input)
	if err != nil {
		return failResult(def, KindValidation, fmt.Sprintf("render prompt: %v", err), 0, start)
	}

	req := provider.Request{
		Model:        def.Model,
		Prompt:       prompt,
		SystemPrompt: def.SystemPrompt,
		Temperature:  def.Temperature,
		TopP:         def.TopP,
		MaxTokens:    def.MaxTokens,
	}

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	cadence := def.Heartbeat
	if cadence <= 0 {
		cadence = DefaultHeartbeat
	}
	policy := e.Retry.withDefaults()

	// One heartbeat loop covers the whole dispatch loop, backoff sleeps
	// included, so the supervisor window only closes on a genuinely silent
	// executor.
	var attemptNo atomic.Int64
	if beat != nil {
		stop := make(chan struct{})
		defer close(stop)
		go func() {
			ticker := time.NewTicker(cadence)
			defer ticker.Stop()
			for {
				select {
				case <-stop:
					return
				case at := <-ticker.C:
					beat(Beat{Stage: def.Name, Attempt: int(attemptNo.Load()), At: at})
				}
			}
		}()
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		attemptNo.Store(int64(attempt))

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := client.Generate(attemptCtx, req)
		cancel()

		if err == nil && (resp == nil || resp.Content == "") {
			err = fmt.Errorf("stage %s: provider returned empty content", def.Name)
		}
		if err == nil {
			result := StageResult{
				Name:     def.Name,
				Status:   StageCompleted,
				Output:   resp.Content,
				Attempts: attempt,
				Duration: time.Since(start),
				Usage:    resp.Usage,
				Model:    resp.Model,
				Provider: def.Provider,
			}
			if result.Model == "" {
				result.Model = def.Model
			}
			return result
		}
		lastErr = err

		// External cancellation aborts immediately; it is not a provider
		// failure and must not burn retry budget.
		if ctx.Err() != nil {
			return failErrResult(def, ctx.Err(), attempt, start)
		}

		if provider.IsTransient(err) && attempt < policy.MaxAttempts {
			delay := policy.Delay(attempt)
			e.logf("stage %s attempt %d/%d failed (%v), retrying in %s", def.Name, attempt, policy.MaxAttempts, err, delay)
			if sleepErr := sleepWithContext(ctx, delay); sleepErr != nil {
				return failErrResult(def, sleepErr, attempt, start)
			}
			continue
		}

		return failErrResult(def, err, attempt, start)
	}

	// Unreachable with MaxAttempts >= 1; kept for loop safety.
	return failErrResult(def, lastErr, policy.MaxAttempts, start)
}

func failResult(def StageDefinition, kind ErrorKind, msg string, attempts int, start time.Time) StageResult {
	return StageResult{
		Name:     def.Name,
		Status:   StageFailed,
		ErrKind:  kind,
		ErrMsg:   msg,
		Attempts: attempts,
		Duration: time.Since(start),
		Model:    def.Model,
		Provider: def.Provider,
	}
}

func failErrResult(def StageDefinition, err error, attempts int, start time.Time) StageResult {
	return failResult(def, KindOf(err), err.Error(), attempts, start)
}

// buildPrompt renders the stage's prompt template over the merged stage
// input. With no template, the prompt is the topic followed by each
// accumulated context entry.
func buildPrompt(def StageDefinition, input StageInput) (string, error) {
	if def.Prompt != "" {
		tmpl, err := template.New(def.Name).Option("missingkey=zero").Parse(def.Prompt)
		if err != nil {
			return "", err
		}
		var sb strings.Builder
		if err := tmpl.Execute(&sb, map[string]any{
			"Topic":     input.Topic,
			"Auxiliary": input.Auxiliary,
			"Context":   input.Context,
		}); err != nil {
			return "", err
		}
		return sb.String(), nil
	}

	var sb strings.Builder
	sb.WriteString(input.Topic)
	keys := make([]string, 0, len(input.Context))
	for k := range input.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString("\n\n## ")
		sb.WriteString(k)
		sb.WriteString("\n")
		sb.WriteString(input.Context[k])
	}
	return sb.String(), nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
