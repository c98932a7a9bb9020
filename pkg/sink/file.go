// Package sink provides result-sink implementations that persist terminal
// pipeline runs for later inspection.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zen-systems/inkflow/pkg/pipeline"
)

// RunRecord is the run-level metadata written to run.json.
type RunRecord struct {
	ID          string               `json:"id"`
	ProjectID   string               `json:"project_id"`
	Topic       string               `json:"topic"`
	Status      pipeline.RunStatus   `json:"status"`
	FailedStage string               `json:"failed_stage,omitempty"`
	ErrKind     pipeline.ErrorKind   `json:"error_kind,omitempty"`
	Reason      string               `json:"reason,omitempty"`
	Context     map[string]string    `json:"context"`
	StartedAt   time.Time            `json:"started_at"`
	EndedAt     time.Time            `json:"ended_at,omitzero"`
	Stages      []string             `json:"stages"`
}

// StageRecord is the per-stage detail written to stages/<stage>.json.
type StageRecord struct {
	Name           string               `json:"name"`
	Status         pipeline.StageStatus `json:"status"`
	Provider       string               `json:"provider,omitempty"`
	Model          string               `json:"model,omitempty"`
	Output         string               `json:"output,omitempty"`
	ErrKind        pipeline.ErrorKind   `json:"error_kind,omitempty"`
	ErrMsg         string               `json:"error_message,omitempty"`
	Attempts       int                  `json:"attempts"`
	DurationMillis int64                `json:"duration_ms"`
	PromptTokens   *int                 `json:"prompt_tokens,omitempty"`
	OutputTokens   *int                 `json:"completion_tokens,omitempty"`
	TotalTokens    *int                 `json:"total_tokens,omitempty"`
}

// FileSink writes one directory per run under its base directory:
// <base>/<runID>/run.json plus stages/<stage>.json.
type FileSink struct {
	baseDir string
}

// NewFileSink creates a file sink rooted at baseDir.
func NewFileSink(baseDir string) (*FileSink, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}
	return &FileSink{baseDir: baseDir}, nil
}

// RunDir returns the directory a run is recorded under.
func (s *FileSink) RunDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

// Record implements pipeline.ResultSink.
func (s *FileSink) Record(_ context.Context, run *pipeline.PipelineRun) error {
	runDir := s.RunDir(run.ID)
	if err := os.MkdirAll(filepath.Join(runDir, "stages"), 0755); err != nil {
		return err
	}

	record := RunRecord{
		ID:          run.ID,
		ProjectID:   run.ProjectID,
		Topic:       run.Topic,
		Status:      run.Status,
		FailedStage: run.FailedStage,
		ErrKind:     run.ErrKind,
		Reason:      run.Reason,
		Context:     run.Context,
		StartedAt:   run.StartedAt,
		EndedAt:     run.EndedAt,
	}
	for _, stage := range run.Stages {
		record.Stages = append(record.Stages, stage.Name)
	}
	if err := writeJSON(filepath.Join(runDir, "run.json"), record); err != nil {
		return err
	}

	for _, stage := range run.Stages {
		stageRecord := StageRecord{
			Name:           stage.Name,
			Status:         stage.Status,
			Provider:       string(stage.Provider),
			Model:          stage.Model,
			Output:         stage.Output,
			ErrKind:        stage.ErrKind,
			ErrMsg:         stage.ErrMsg,
			Attempts:       stage.Attempts,
			DurationMillis: stage.Duration.Milliseconds(),
			PromptTokens:   stage.Usage.PromptTokens,
			OutputTokens:   stage.Usage.CompletionTokens,
			TotalTokens:    stage.Usage.TotalTokens,
		}
		path := filepath.Join(runDir, "stages", fmt.Sprintf("%s.json", stage.Name))
		if err := writeJSON(path, stageRecord); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
