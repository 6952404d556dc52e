package sqlstore

import (
	"context"
	"fmt"
)

// Timestamps are stored as unix nanoseconds so both dialects order them the
// same way.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS pipelines (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		docker_image_url TEXT NOT NULL,
		repository_ssh_url TEXT NOT NULL,
		repository_branch TEXT NOT NULL,
		run_counter INTEGER NOT NULL DEFAULT 0,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pipelines_name_idx ON pipelines (name)`,
	`CREATE TABLE IF NOT EXISTS workflows (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_pipelines (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL REFERENCES workflows (id),
		pipeline_id TEXT NOT NULL REFERENCES pipelines (id),
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS workflow_pipelines_workflow_idx ON workflow_pipelines (workflow_id)`,
	`CREATE TABLE IF NOT EXISTS workflow_pipeline_dependencies (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL REFERENCES workflows (id),
		from_workflow_pipeline_id TEXT NOT NULL REFERENCES workflow_pipelines (id),
		to_workflow_pipeline_id TEXT NOT NULL REFERENCES workflow_pipelines (id),
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS workflow_pipeline_dependencies_workflow_idx ON workflow_pipeline_dependencies (workflow_id)`,
	`CREATE TABLE IF NOT EXISTS pipeline_runs (
		id TEXT PRIMARY KEY,
		pipeline_id TEXT NOT NULL REFERENCES pipelines (id),
		sequence INTEGER NOT NULL,
		callback_url TEXT NOT NULL,
		std_out TEXT NOT NULL DEFAULT '',
		std_err TEXT NOT NULL DEFAULT '',
		version INTEGER NOT NULL DEFAULT 1,
		created_at BIGINT NOT NULL,
		updated_at BIGINT NOT NULL,
		UNIQUE (pipeline_id, sequence)
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_run_states (
		pipeline_run_id TEXT NOT NULL REFERENCES pipeline_runs (id),
		position INTEGER NOT NULL,
		code TEXT NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (pipeline_run_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_run_inputs (
		pipeline_run_id TEXT NOT NULL REFERENCES pipeline_runs (id),
		position INTEGER NOT NULL,
		filename TEXT NOT NULL,
		url TEXT NOT NULL,
		PRIMARY KEY (pipeline_run_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS pipeline_run_artifacts (
		id TEXT PRIMARY KEY,
		pipeline_run_id TEXT NOT NULL REFERENCES pipeline_runs (id),
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		storage_key TEXT NOT NULL,
		size BIGINT NOT NULL,
		created_at BIGINT NOT NULL,
		UNIQUE (pipeline_run_id, position)
	)`,
	`CREATE TABLE IF NOT EXISTS workflow_runs (
		id TEXT PRIMARY KEY,
		workflow_id TEXT NOT NULL REFERENCES workflows (id),
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS workflow_runs_workflow_idx ON workflow_runs (workflow_id)`,
	`CREATE TABLE IF NOT EXISTS workflow_pipeline_runs (
		id TEXT PRIMARY KEY,
		workflow_run_id TEXT NOT NULL REFERENCES workflow_runs (id),
		workflow_pipeline_id TEXT NOT NULL REFERENCES workflow_pipelines (id),
		pipeline_run_id TEXT NOT NULL UNIQUE REFERENCES pipeline_runs (id),
		position INTEGER NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS workflow_pipeline_runs_run_idx ON workflow_pipeline_runs (workflow_run_id)`,
}

func (s *Store) migrate(ctx context.Context) error {
	return s.write(ctx, func(t *tx) error {
		for _, stmt := range schemaStatements {
			if _, err := t.exec(ctx, stmt); err != nil {
				return fmt.Errorf("creating schema: %w", err)
			}
		}
		return nil
	})
}
