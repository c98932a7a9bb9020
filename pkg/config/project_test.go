package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zen-systems/inkflow/pkg/pipeline"
	"github.com/zen-systems/inkflow/pkg/provider"
)

func writeProject(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "project.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write project: %v", err)
	}
	return path
}

const validProject = `project: longform
stages:
  - order: 1
    name: brief
    provider: openai
    model: gpt-5.2-instant
    temperature: 0.7
    top_p: 0.9
    max_tokens: 2048
    system_prompt: You produce a content brief.
    timeout: 90s
    heartbeat: 10s
  - order: 2
    name: research
    provider: anthropic
    model: claude-sonnet-4-20250514
    temperature: 0.4
    max_tokens: -1
    system_prompt: You research the brief.
    prompt: "Research this brief: {{.Context.brief_output}}"
`

func TestLoadProject(t *testing.T) {
	p, err := LoadProject(writeProject(t, validProject))
	if err != nil {
		t.Fatalf("load project: %v", err)
	}
	if p.Name != "longform" {
		t.Fatalf("unexpected project name %q", p.Name)
	}

	defs, err := p.Stages(context.Background(), "longform")
	if err != nil {
		t.Fatalf("stages: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 stages, got %d", len(defs))
	}

	brief := defs[0]
	if brief.Provider != provider.OpenAI || brief.Timeout != 90*time.Second || brief.Heartbeat != 10*time.Second {
		t.Fatalf("unexpected brief definition: %+v", brief)
	}
	if brief.TopP == nil || *brief.TopP != 0.9 {
		t.Fatalf("expected top_p 0.9, got %v", brief.TopP)
	}

	research := defs[1]
	if research.MaxTokens == nil || *research.MaxTokens != provider.UnboundedTokens {
		t.Fatalf("expected unbounded max_tokens sentinel, got %v", research.MaxTokens)
	}
}

func TestLoadProjectWrongProjectID(t *testing.T) {
	p, err := LoadProject(writeProject(t, validProject))
	if err != nil {
		t.Fatalf("load project: %v", err)
	}
	if _, err := p.Stages(context.Background(), "other"); err == nil {
		t.Fatal("expected error for mismatched project id")
	}
}

func TestLoadProjectRejectsMissingSystemPrompt(t *testing.T) {
	content := `project: longform
stages:
  - order: 1
    name: brief
    provider: openai
    model: gpt-5.2-instant
`
	_, err := LoadProject(writeProject(t, content))
	if err == nil {
		t.Fatal("expected error for missing system_prompt")
	}
	var cfgErr *pipeline.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %T: %v", err, err)
	}
}

func TestLoadProjectRejectsUnknownProvider(t *testing.T) {
	content := `project: longform
stages:
  - order: 1
    name: brief
    provider: unknown_vendor
    model: m
    system_prompt: s
`
	_, err := LoadProject(writeProject(t, content))
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if pipeline.KindOf(err) != pipeline.KindConfiguration {
		t.Fatalf("expected configuration kind, got %s", pipeline.KindOf(err))
	}
}

func TestLoadProjectRejectsDuplicateOrders(t *testing.T) {
	content := `project: longform
stages:
  - order: 1
    name: brief
    provider: mock
    model: mock-1
    system_prompt: s
  - order: 1
    name: research
    provider: mock
    model: mock-1
    system_prompt: s
`
	if _, err := LoadProject(writeProject(t, content)); err == nil {
		t.Fatal("expected error for duplicate orders")
	}
}

func TestLoadProjectRejectsEmptyStageList(t *testing.T) {
	if _, err := LoadProject(writeProject(t, "project: longform\nstages: []\n")); err == nil {
		t.Fatal("expected error for empty stage list")
	}
}

func TestLoadProjectRejectsBadDuration(t *testing.T) {
	content := `project: longform
stages:
  - order: 1
    name: brief
    provider: mock
    model: mock-1
    system_prompt: s
    timeout: ninety seconds
`
	if _, err := LoadProject(writeProject(t, content)); err == nil {
		t.Fatal("expected error for unparseable duration")
	}
}
