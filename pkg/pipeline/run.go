// Package pipeline sequences ordered generation stages into one durable unit
// of work: fixed order, forward context threading, bounded retry, heartbeat
// supervision, and deterministic fail-fast on the first unrecoverable error.
package pipeline

import (
	"fmt"
	"time"

	"github.com/zen-systems/inkflow/pkg/provider"
)

// RunStatus is the terminal-or-running status of a pipeline run.
type RunStatus string

const (
	RunRunning    RunStatus = "RUNNING"
	RunCompleted  RunStatus = "COMPLETED"
	RunFailed     RunStatus = "FAILED"
	RunTerminated RunStatus = "TERMINATED"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunTerminated
}

// StageStatus is the lifecycle status of one stage within a run.
type StageStatus string

const (
	StagePending   StageStatus = "PENDING"
	StageRunning   StageStatus = "RUNNING"
	StageCompleted StageStatus = "COMPLETED"
	StageFailed    StageStatus = "FAILED"
)

// Phase names the coordinator's position in the run state machine.
type Phase string

const (
	PhaseInitializing  Phase = "INITIALIZING"
	PhaseLoadingConfig Phase = "LOADING_CONFIG"
	PhaseExecuting     Phase = "EXECUTING_STAGE"
	PhaseDone          Phase = "DONE"
)

// StageDefinition describes one stage of a pipeline. It is supplied by the
// configuration collaborator and treated as immutable for the duration of a
// run. Order values across a project are unique and contiguous ascending.
type StageDefinition struct {
	Order        int
	Name         string
	Provider     provider.ID
	Model        string
	Temperature  float64
	TopP         *float64
	MaxTokens    *int
	SystemPrompt string
	// Prompt is an optional text/template over {Topic, Auxiliary, Context}.
	// When empty the stage input is the topic followed by the accumulated
	// context in stage order.
	Prompt    string
	Timeout   time.Duration
	Heartbeat time.Duration
}

// StageResult is the standardized envelope for one attempted stage. It is
// written exactly once per stage per run; a stage is never re-entered after
// producing a terminal result.
type StageResult struct {
	Name     string         `json:"name"`
	Status   StageStatus    `json:"status"`
	Output   string         `json:"output,omitempty"`
	ErrKind  ErrorKind      `json:"error_kind,omitempty"`
	ErrMsg   string         `json:"error_message,omitempty"`
	Attempts int            `json:"attempts"`
	Duration time.Duration  `json:"duration"`
	Usage    provider.Usage `json:"usage"`
	Model    string         `json:"model,omitempty"`
	Provider provider.ID    `json:"provider,omitempty"`
}

// PipelineRun is the full record of one end-to-end execution. It is mutated
// only by the coordinator and frozen once its status is terminal.
type PipelineRun struct {
	ID        string            `json:"id"`
	ProjectID string            `json:"project_id"`
	Topic     string            `json:"topic"`
	Auxiliary map[string]string `json:"auxiliary,omitempty"`
	Status    RunStatus         `json:"status"`
	Phase     Phase             `json:"phase"`
	Stages    []StageResult     `json:"stages"`
	// Context accumulates "{stage}_output" keys. Additive only: an earlier
	// stage's output is never overwritten by a later one.
	Context     map[string]string `json:"context"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     time.Time         `json:"ended_at,omitzero"`
	FailedStage string            `json:"failed_stage,omitempty"`
	ErrKind     ErrorKind         `json:"error_kind,omitempty"`
	Reason      string            `json:"reason,omitempty"`
}

// ContextKey returns the accumulated-context key for a stage name.
func ContextKey(stage string) string {
	return fmt.Sprintf("%s_output", stage)
}

// snapshot deep-copies the run so callers can read it without racing the
// coordinator.
func (r *PipelineRun) snapshot() PipelineRun {
	out := *r
	out.Stages = make([]StageResult, len(r.Stages))
	copy(out.Stages, r.Stages)
	out.Context = make(map[string]string, len(r.Context))
	for k, v := range r.Context {
		out.Context[k] = v
	}
	out.Auxiliary = make(map[string]string, len(r.Auxiliary))
	for k, v := range r.Auxiliary {
		out.Auxiliary[k] = v
	}
	return out
}

// StageInput is the immutable input handed to the executor for one stage:
// the originating topic and auxiliary input merged with the context
// accumulated so far.
type StageInput struct {
	Topic     string
	Auxiliary map[string]string
	Context   map[string]string
}
