package pipeline

import (
	"context"
	"time"
)

// DefaultHeartbeatWindow is the silence tolerated before an in-flight
// attempt is considered lost.
const DefaultHeartbeatWindow = 3 * DefaultHeartbeat

// Supervisor watches the heartbeat stream of an executing stage. When beats
// stop arriving for longer than Window, the in-flight attempt is treated as
// lost: its context is canceled, its eventual outcome is discarded, and the
// stage restarts from attempt 1. This is an at-least-once guarantee at the
// stage-attempt level.
type Supervisor struct {
	// Window is the heartbeat-timeout. Zero means DefaultHeartbeatWindow.
	Window time.Duration
	// MaxRestarts bounds forced restarts per stage so a provider that hangs
	// forever cannot loop the run. Zero means 1.
	MaxRestarts int
	Logger      func(format string, args ...any)
}

func (s *Supervisor) logf(format string, args ...any) {
	if s != nil && s.Logger != nil {
		s.Logger(format, args...)
	}
}

// Run executes work under heartbeat supervision and returns its terminal
// StageResult. work receives a context that is canceled when the attempt is
// lost and a BeatFunc it must feed while anything is in flight.
func (s *Supervisor) Run(ctx context.Context, stage string, work func(ctx context.Context, beat BeatFunc) StageResult) StageResult {
	window := DefaultHeartbeatWindow
	maxRestarts := 1
	if s != nil {
		if s.Window > 0 {
			window = s.Window
		}
		if s.MaxRestarts > 0 {
			maxRestarts = s.MaxRestarts
		}
	}

	for restart := 0; ; restart++ {
		res, lost := s.runOnce(ctx, window, work)
		if !lost {
			return res
		}
		if restart >= maxRestarts {
			lostErr := &HeartbeatLostError{Stage: stage, Silence: window}
			return StageResult{
				Name:    stage,
				Status:  StageFailed,
				ErrKind: KindHeartbeatLost,
				ErrMsg:  lostErr.Error(),
			}
		}
		s.logf("stage %s: heartbeat lost after %s, restarting from attempt 1", stage, window)
	}
}

// runOnce runs work to completion or to heartbeat loss. The second return is
// true when the attempt was lost and its result discarded.
func (s *Supervisor) runOnce(ctx context.Context, window time.Duration, work func(ctx context.Context, beat BeatFunc) StageResult) (StageResult, bool) {
	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	beats := make(chan time.Time, 16)
	beat := func(b Beat) {
		select {
		case beats <- b.At:
		default:
		}
	}

	resultCh := make(chan StageResult, 1)
	go func() {
		resultCh <- work(workCtx, beat)
	}()

	watchdog := time.NewTimer(window)
	defer watchdog.Stop()

	for {
		select {
		case res := <-resultCh:
			return res, false
		case <-beats:
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(window)
		case <-watchdog.C:
			cancel()
			<-resultCh
			return StageResult{}, true
		case <-ctx.Done():
			// External cancellation: let the worker observe it and report.
			cancel()
			return <-resultCh, false
		}
	}
}
