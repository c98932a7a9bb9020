package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/zen-systems/inkflow/pkg/pipeline"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS pipeline_runs (
	id           TEXT PRIMARY KEY,
	project_id   TEXT NOT NULL,
	topic        TEXT NOT NULL,
	status       TEXT NOT NULL,
	failed_stage TEXT,
	error_kind   TEXT,
	reason       TEXT,
	context      JSONB NOT NULL DEFAULT '{}'::jsonb,
	started_at   TIMESTAMPTZ NOT NULL,
	ended_at     TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS stage_results (
	run_id            TEXT NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
	name              TEXT NOT NULL,
	status            TEXT NOT NULL,
	provider          TEXT,
	model             TEXT,
	output            TEXT,
	error_kind        TEXT,
	error_message     TEXT,
	attempts          INT NOT NULL,
	duration_ms       BIGINT NOT NULL,
	prompt_tokens     INT,
	completion_tokens INT,
	total_tokens      INT,
	PRIMARY KEY (run_id, name)
);
`

// PostgresSink persists terminal runs to Postgres. Records are upserted by
// run ID so re-recording a run is harmless.
type PostgresSink struct {
	pool *pgxpool.Pool
}

// NewPostgresSink connects to databaseURL, verifies the connection, and
// ensures the schema exists.
func NewPostgresSink(ctx context.Context, databaseURL string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &PostgresSink{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresSink) Close() {
	s.pool.Close()
}

func (s *PostgresSink) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Record implements pipeline.ResultSink. The run row and its stage rows are
// written in one transaction so a recorded run is never partially visible.
func (s *PostgresSink) Record(ctx context.Context, run *pipeline.PipelineRun) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("marshal run context: %w", err)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var endedAt any
	if !run.EndedAt.IsZero() {
		endedAt = run.EndedAt
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pipeline_runs (id, project_id, topic, status, failed_stage, error_kind, reason, context, started_at, ended_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			failed_stage = EXCLUDED.failed_stage,
			error_kind = EXCLUDED.error_kind,
			reason = EXCLUDED.reason,
			context = EXCLUDED.context,
			ended_at = EXCLUDED.ended_at`,
		run.ID, run.ProjectID, run.Topic, string(run.Status),
		run.FailedStage, string(run.ErrKind), run.Reason,
		contextJSON, run.StartedAt, endedAt)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}

	for _, stage := range run.Stages {
		_, err = tx.Exec(ctx, `
			INSERT INTO stage_results (run_id, name, status, provider, model, output, error_kind, error_message, attempts, duration_ms, prompt_tokens, completion_tokens, total_tokens)
			VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11, $12, $13)
			ON CONFLICT (run_id, name) DO UPDATE SET
				status = EXCLUDED.status,
				output = EXCLUDED.output,
				error_kind = EXCLUDED.error_kind,
				error_message = EXCLUDED.error_message,
				attempts = EXCLUDED.attempts,
				duration_ms = EXCLUDED.duration_ms,
				prompt_tokens = EXCLUDED.prompt_tokens,
				completion_tokens = EXCLUDED.completion_tokens,
				total_tokens = EXCLUDED.total_tokens`,
			run.ID, stage.Name, string(stage.Status),
			string(stage.Provider), stage.Model, stage.Output,
			string(stage.ErrKind), stage.ErrMsg,
			stage.Attempts, stage.Duration.Milliseconds(),
			stage.Usage.PromptTokens, stage.Usage.CompletionTokens, stage.Usage.TotalTokens)
		if err != nil {
			return fmt.Errorf("insert stage %s of run %s: %w", stage.Name, run.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	return nil
}
