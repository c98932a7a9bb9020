package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zen-systems/inkflow/pkg/provider"
)

// ErrorKind is the closed failure taxonomy the coordinator branches on.
type ErrorKind string

const (
	KindConfiguration     ErrorKind = "configuration"
	KindValidation        ErrorKind = "validation"
	KindTransientProvider ErrorKind = "transient_provider"
	KindPermanentProvider ErrorKind = "permanent_provider"
	KindTimeout           ErrorKind = "timeout"
	KindHeartbeatLost     ErrorKind = "heartbeat_lost"
	KindCanceled          ErrorKind = "canceled"
)

// ConfigError is a fatal pre-run failure: empty stage list, duplicate order
// values, a stage missing a required field, an unknown provider. A run that
// hits one produces zero stage results.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("configuration: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("configuration: %s", e.Message)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError is a fatal per-stage failure raised before any network
// call. Zero attempts are counted and nothing is retried.
type ValidationError struct {
	Stage   string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage %s: %s %s", e.Stage, e.Field, e.Message)
}

// HeartbeatLostError marks an in-flight attempt whose liveness signal went
// silent past the supervision window. The outcome of the underlying call is
// unknown; the stage is forcibly retried from attempt 1.
type HeartbeatLostError struct {
	Stage   string
	Silence time.Duration
}

func (e *HeartbeatLostError) Error() string {
	return fmt.Sprintf("stage %s: no heartbeat for %s", e.Stage, e.Silence)
}

// KindOf classifies an error into the taxonomy. The coordinator and result
// records use it instead of inspecting error types downstream.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return KindConfiguration
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return KindValidation
	}
	var hbErr *HeartbeatLostError
	if errors.As(err, &hbErr) {
		return KindHeartbeatLost
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if provider.IsTransient(err) {
		return KindTransientProvider
	}
	return KindPermanentProvider
}
