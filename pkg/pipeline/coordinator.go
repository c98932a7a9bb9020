package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/zen-systems/inkflow/pkg/provider"
)

// StageSource supplies the ordered stage list for a project. The coordinator
// reads it once per run at LOADING_CONFIG and does not cache across runs.
type StageSource interface {
	Stages(ctx context.Context, projectID string) ([]StageDefinition, error)
}

// CredentialSource supplies an opaque credential per provider identifier.
type CredentialSource interface {
	Credential(id provider.ID) (string, error)
}

// ResultSink receives the terminal PipelineRun for persistence or display.
// The coordinator's responsibility ends at producing the value.
type ResultSink interface {
	Record(ctx context.Context, run *PipelineRun) error
}

// ResolveFunc maps a provider identifier and credential to a client.
type ResolveFunc func(id provider.ID, credential string) (provider.Client, error)

// Options configures a Coordinator.
type Options struct {
	Stages      StageSource
	Credentials CredentialSource
	// Sink is optional; when set, every terminal run is recorded there.
	Sink ResultSink
	// Resolve defaults to provider.Resolve.
	Resolve ResolveFunc
	Retry   RetryPolicy
	// HeartbeatWindow overrides the per-stage supervision window. Zero
	// derives it as three missed beats of the stage's cadence.
	HeartbeatWindow time.Duration
	// MaxRestarts bounds heartbeat-loss restarts per stage.
	MaxRestarts int
	// MaxConcurrentRuns bounds runs in flight at once. Stages within a run
	// are always strictly sequential. Zero means 4.
	MaxConcurrentRuns int64
	Logger            func(format string, args ...any)
}

// Coordinator owns the state machine for pipeline runs. Runs share no
// mutable state with each other beyond read-only configuration and
// credentials.
type Coordinator struct {
	opts Options
	sem  *semaphore.Weighted

	mu   sync.Mutex
	runs map[string]*runState
}

// RunHandle identifies a run started by a Coordinator.
type RunHandle struct {
	ID string
}

type runState struct {
	mu         sync.Mutex
	run        PipelineRun
	cancel     context.CancelFunc
	done       chan struct{}
	terminated bool
}

// New creates a Coordinator. Stages and Credentials are required.
func New(opts Options) (*Coordinator, error) {
	if opts.Stages == nil {
		return nil, fmt.Errorf("stage source is required")
	}
	if opts.Credentials == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if opts.Resolve == nil {
		opts.Resolve = provider.Resolve
	}
	if opts.MaxConcurrentRuns <= 0 {
		opts.MaxConcurrentRuns = 4
	}
	return &Coordinator{
		opts: opts,
		sem:  semaphore.NewWeighted(opts.MaxConcurrentRuns),
		runs: make(map[string]*runState),
	}, nil
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.opts.Logger != nil {
		c.opts.Logger(format, args...)
	}
}

// Start begins a run for the given topic and returns its handle. The call
// blocks only while waiting for a run slot; execution proceeds in the
// background. ctx bounds the wait for a slot, not the run itself.
func (c *Coordinator) Start(ctx context.Context, topic, projectID string, auxiliary map[string]string) (RunHandle, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return RunHandle{}, fmt.Errorf("acquire run slot: %w", err)
	}

	aux := make(map[string]string, len(auxiliary))
	for k, v := range auxiliary {
		aux[k] = v
	}

	runCtx, cancel := context.WithCancel(context.Background())
	st := &runState{
		run: PipelineRun{
			ID:        uuid.New().String(),
			ProjectID: projectID,
			Topic:     topic,
			Auxiliary: aux,
			Status:    RunRunning,
			Phase:     PhaseInitializing,
			Context:   make(map[string]string),
			StartedAt: time.Now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	c.mu.Lock()
	c.runs[st.run.ID] = st
	c.mu.Unlock()

	go func() {
		defer c.sem.Release(1)
		c.execute(runCtx, st, projectID)
	}()

	return RunHandle{ID: st.run.ID}, nil
}

// Status returns a snapshot of the run. The snapshot is detached: mutating
// it does not affect the run.
func (c *Coordinator) Status(h RunHandle) (PipelineRun, error) {
	st, err := c.lookup(h)
	if err != nil {
		return PipelineRun{}, err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.run.snapshot(), nil
}

// Terminate cancels the run. An in-flight stage call is aborted, no further
// stage starts, and a late successful response is discarded. Terminating a
// run with nothing in flight still transitions it to TERMINATED. Terminating
// an already-terminal run is acknowledged without changing it.
func (c *Coordinator) Terminate(h RunHandle, reason string) error {
	st, err := c.lookup(h)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.terminated = true
	if !st.run.Status.Terminal() {
		st.run.Status = RunTerminated
		st.run.Phase = PhaseDone
		st.run.Reason = reason
		st.run.EndedAt = time.Now().UTC()
	}
	st.mu.Unlock()

	st.cancel()
	return nil
}

// Wait blocks until the run reaches a terminal status and returns its final
// snapshot.
func (c *Coordinator) Wait(ctx context.Context, h RunHandle) (PipelineRun, error) {
	st, err := c.lookup(h)
	if err != nil {
		return PipelineRun{}, err
	}
	select {
	case <-st.done:
	case <-ctx.Done():
		return PipelineRun{}, ctx.Err()
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.run.snapshot(), nil
}

func (c *Coordinator) lookup(h RunHandle) (*runState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.runs[h.ID]
	if !ok {
		return nil, fmt.Errorf("unknown run %q", h.ID)
	}
	return st, nil
}

// execute drives one run through the state machine:
// INITIALIZING -> LOADING_CONFIG -> EXECUTING_STAGE(i) -> terminal.
func (c *Coordinator) execute(ctx context.Context, st *runState, projectID string) {
	defer close(st.done)
	defer st.cancel()
	defer c.record(st)

	st.setPhase(PhaseLoadingConfig)

	defs, clients, err := c.loadConfig(ctx, projectID)
	if err != nil {
		c.logf("run %s: %v", st.run.ID, err)
		st.fail("", err)
		return
	}

	executor := &Executor{Retry: c.opts.Retry, Logger: c.opts.Logger}

	st.setPhase(PhaseExecuting)
	for _, def := range defs {
		if st.isTerminated() {
			return
		}

		input := st.stageInput()
		client := clients[def.Provider]
		sup := &Supervisor{
			Window:      c.heartbeatWindow(def),
			MaxRestarts: c.opts.MaxRestarts,
			Logger:      c.opts.Logger,
		}

		res := sup.Run(ctx, def.Name, func(ctx context.Context, beat BeatFunc) StageResult {
			return executor.Execute(ctx, def, client, input, beat)
		})

		st.mu.Lock()
		if st.terminated {
			// The run was terminated while this stage was in flight; the
			// result, successful or not, is discarded.
			st.mu.Unlock()
			return
		}
		st.run.Stages = append(st.run.Stages, res)
		if res.Status != StageCompleted {
			st.run.Status = RunFailed
			st.run.Phase = PhaseDone
			st.run.FailedStage = def.Name
			st.run.ErrKind = res.ErrKind
			st.run.Reason = res.ErrMsg
			st.run.EndedAt = time.Now().UTC()
			st.mu.Unlock()
			c.logf("run %s: stage %s failed (%s): %s", st.run.ID, def.Name, res.ErrKind, res.ErrMsg)
			return
		}
		st.run.Context[ContextKey(def.Name)] = res.Output
		st.mu.Unlock()
	}

	st.mu.Lock()
	if !st.terminated {
		st.run.Status = RunCompleted
		st.run.Phase = PhaseDone
		st.run.EndedAt = time.Now().UTC()
	}
	st.mu.Unlock()
}

// loadConfig reads the stage list, validates it structurally, and resolves
// every provider up front so a bad configuration never produces a
// partially-run pipeline.
func (c *Coordinator) loadConfig(ctx context.Context, projectID string) ([]StageDefinition, map[provider.ID]provider.Client, error) {
	defs, err := c.opts.Stages.Stages(ctx, projectID)
	if err != nil {
		return nil, nil, &ConfigError{Message: fmt.Sprintf("load stages for project %q", projectID), Err: err}
	}
	if err := ValidateStageList(defs); err != nil {
		return nil, nil, err
	}

	// Credentials are resolved once per run and shared read-only.
	clients := make(map[provider.ID]provider.Client)
	for _, def := range defs {
		if _, ok := clients[def.Provider]; ok {
			continue
		}
		cred, err := c.opts.Credentials.Credential(def.Provider)
		if err != nil {
			return nil, nil, &ConfigError{
				Field:   fmt.Sprintf("stages[%s].provider", def.Name),
				Message: fmt.Sprintf("credential for %s: %v", def.Provider, err),
				Err:     err,
			}
		}
		client, err := c.opts.Resolve(def.Provider, cred)
		if err != nil {
			return nil, nil, &ConfigError{
				Field:   fmt.Sprintf("stages[%s].provider", def.Name),
				Message: err.Error(),
				Err:     err,
			}
		}
		clients[def.Provider] = client
	}
	return defs, clients, nil
}

// ValidateStageList checks the structural invariants of a stage list: it is
// non-empty, names are unique and non-empty, providers are known, and order
// values are unique and contiguous ascending from 1.
func ValidateStageList(defs []StageDefinition) error {
	if len(defs) == 0 {
		return &ConfigError{Field: "stages", Message: "project has no stages"}
	}

	sorted := make([]StageDefinition, len(defs))
	copy(sorted, defs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	names := make(map[string]bool, len(sorted))
	for i, def := range sorted {
		if def.Name == "" {
			return &ConfigError{Field: fmt.Sprintf("stages[%d].name", i), Message: "is required"}
		}
		if names[def.Name] {
			return &ConfigError{Field: fmt.Sprintf("stages[%d].name", i), Message: fmt.Sprintf("duplicate stage name %q", def.Name)}
		}
		names[def.Name] = true
		if !provider.Known(def.Provider) {
			return &ConfigError{Field: fmt.Sprintf("stages[%s].provider", def.Name), Message: fmt.Sprintf("unknown provider %q", def.Provider)}
		}
		if def.Order != i+1 {
			return &ConfigError{
				Field:   fmt.Sprintf("stages[%s].order", def.Name),
				Message: fmt.Sprintf("order values must be unique and contiguous from 1, got %d at position %d", def.Order, i+1),
			}
		}
	}
	return nil
}

func (c *Coordinator) heartbeatWindow(def StageDefinition) time.Duration {
	if c.opts.HeartbeatWindow > 0 {
		return c.opts.HeartbeatWindow
	}
	cadence := def.Heartbeat
	if cadence <= 0 {
		cadence = DefaultHeartbeat
	}
	return 3 * cadence
}

func (c *Coordinator) record(st *runState) {
	if c.opts.Sink == nil {
		return
	}
	st.mu.Lock()
	snap := st.run.snapshot()
	st.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.opts.Sink.Record(ctx, &snap); err != nil {
		c.logf("run %s: record result: %v", snap.ID, err)
	}
}

func (st *runState) setPhase(p Phase) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.run.Status.Terminal() {
		st.run.Phase = p
	}
}

func (st *runState) isTerminated() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.terminated
}

func (st *runState) stageInput() StageInput {
	st.mu.Lock()
	defer st.mu.Unlock()
	snap := st.run.snapshot()
	return StageInput{Topic: snap.Topic, Auxiliary: snap.Auxiliary, Context: snap.Context}
}

// fail marks the run FAILED before any stage was attempted. Configuration
// failures land here with zero stage results.
func (st *runState) fail(stage string, err error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.run.Status.Terminal() {
		return
	}
	st.run.Status = RunFailed
	st.run.Phase = PhaseDone
	st.run.FailedStage = stage
	st.run.ErrKind = KindOf(err)
	st.run.Reason = err.Error()
	st.run.EndedAt = time.Now().UTC()
}
