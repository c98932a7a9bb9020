package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/zen-systems/inkflow/pkg/pipeline"
	"github.com/zen-systems/inkflow/pkg/provider"
)

// Project is a parsed project file: a name plus its ordered stage list. It
// implements pipeline.StageSource.
type Project struct {
	Name       string        `yaml:"project" validate:"required"`
	StageConfs []StageConfig `yaml:"stages" validate:"required,min=1,dive"`
}

// StageConfig is the YAML shape of one stage definition. Durations are
// strings in time.ParseDuration form ("90s", "2m"). max_tokens -1 requests
// an unbounded response where the provider allows it.
type StageConfig struct {
	Order        int      `yaml:"order" validate:"gte=1"`
	Name         string   `yaml:"name" validate:"required"`
	Provider     string   `yaml:"provider" validate:"required"`
	Model        string   `yaml:"model" validate:"required"`
	Temperature  float64  `yaml:"temperature" validate:"gte=0,lte=2"`
	TopP         *float64 `yaml:"top_p,omitempty" validate:"omitempty,gte=0,lte=1"`
	MaxTokens    *int     `yaml:"max_tokens,omitempty" validate:"omitempty,gte=-1"`
	SystemPrompt string   `yaml:"system_prompt" validate:"required"`
	Prompt       string   `yaml:"prompt,omitempty"`
	Timeout      string   `yaml:"timeout,omitempty"`
	Heartbeat    string   `yaml:"heartbeat,omitempty"`
}

// LoadProject reads and validates a project file. Every structural problem
// is reported as a configuration error before any run can start.
func LoadProject(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &pipeline.ConfigError{Message: fmt.Sprintf("read project file %s", path), Err: err}
	}

	var p Project
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &pipeline.ConfigError{Message: fmt.Sprintf("parse project file %s", path), Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks field-level constraints and the stage-list invariants
// (unique names, contiguous ascending orders, known providers).
func (p *Project) Validate() error {
	if err := validator.New().Struct(p); err != nil {
		if invalid, ok := err.(validator.ValidationErrors); ok && len(invalid) > 0 {
			first := invalid[0]
			return &pipeline.ConfigError{
				Field:   first.Namespace(),
				Message: fmt.Sprintf("failed %q constraint", first.Tag()),
				Err:     err,
			}
		}
		return &pipeline.ConfigError{Message: "invalid project", Err: err}
	}

	defs, err := p.stageDefinitions()
	if err != nil {
		return err
	}
	return pipeline.ValidateStageList(defs)
}

// Definitions returns the validated, ordered stage definitions.
func (p *Project) Definitions() ([]pipeline.StageDefinition, error) {
	defs, err := p.stageDefinitions()
	if err != nil {
		return nil, err
	}
	if err := pipeline.ValidateStageList(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Stages implements pipeline.StageSource. A projectID of "" means "whatever
// this file defines"; anything else must match the file's project name.
func (p *Project) Stages(_ context.Context, projectID string) ([]pipeline.StageDefinition, error) {
	if projectID != "" && projectID != p.Name {
		return nil, fmt.Errorf("project %q is not defined by this file (found %q)", projectID, p.Name)
	}
	return p.Definitions()
}

func (p *Project) stageDefinitions() ([]pipeline.StageDefinition, error) {
	defs := make([]pipeline.StageDefinition, 0, len(p.StageConfs))
	for _, s := range p.StageConfs {
		timeout, err := parseDuration(s.Timeout, s.Name, "timeout")
		if err != nil {
			return nil, err
		}
		heartbeat, err := parseDuration(s.Heartbeat, s.Name, "heartbeat")
		if err != nil {
			return nil, err
		}
		defs = append(defs, pipeline.StageDefinition{
			Order:        s.Order,
			Name:         s.Name,
			Provider:     provider.ID(s.Provider),
			Model:        s.Model,
			Temperature:  s.Temperature,
			TopP:         s.TopP,
			MaxTokens:    s.MaxTokens,
			SystemPrompt: s.SystemPrompt,
			Prompt:       s.Prompt,
			Timeout:      timeout,
			Heartbeat:    heartbeat,
		})
	}
	return defs, nil
}

func parseDuration(value, stage, field string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, &pipeline.ConfigError{
			Field:   fmt.Sprintf("stages[%s].%s", stage, field),
			Message: fmt.Sprintf("invalid duration %q", value),
			Err:     err,
		}
	}
	if d <= 0 {
		return 0, &pipeline.ConfigError{
			Field:   fmt.Sprintf("stages[%s].%s", stage, field),
			Message: "duration must be positive",
		}
	}
	return d, nil
}
