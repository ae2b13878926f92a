package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/internal/agent"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS agent_runs (
    run_id      TEXT PRIMARY KEY,
    started_at  TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL,
    last_step   INTEGER NOT NULL DEFAULT 0,
    last_status TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS agent_steps (
    id          BIGSERIAL PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES agent_runs(run_id) ON DELETE CASCADE,
    step        INTEGER NOT NULL,
    action      TEXT NOT NULL,
    args        JSONB NOT NULL DEFAULT '[]',
    status      TEXT NOT NULL,
    details     TEXT NOT NULL,
    code        TEXT NOT NULL DEFAULT '',
    url         TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS agent_steps_run_idx ON agent_steps (run_id, step);
`

const sqlUpsertRun = `
        INSERT INTO agent_runs (run_id, started_at, updated_at, last_step, last_status)
        VALUES ($1, $2, $2, $3, $4)
        ON CONFLICT (run_id) DO UPDATE SET
            updated_at = EXCLUDED.updated_at,
            last_step = GREATEST(agent_runs.last_step, EXCLUDED.last_step),
            last_status = EXCLUDED.last_status;
    `

const sqlInsertStep = `
        INSERT INTO agent_steps (run_id, step, action, args, status, details, code, url, recorded_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);
    `

var stepColumns = []string{"run_id", "step", "action", "args", "status", "details", "code", "url", "recorded_at"}

// Store is the PostgreSQL step history. It satisfies agent.Recorder.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the history tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Record writes one step and bumps the run's summary row in a single transaction.
func (s *Store) Record(ctx context.Context, rec agent.StepRecord) error {
	args, err := encodeArgs(rec.Args)
	if err != nil {
		return err
	}
	at := recordedAt(rec)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlUpsertRun, rec.RunID, at, rec.Step, rec.Status); err != nil {
		return fmt.Errorf("failed to upsert run %s: %w", rec.RunID, err)
	}
	if _, err := tx.Exec(ctx, sqlInsertStep,
		rec.RunID, rec.Step, rec.Action, args,
		rec.Status, rec.Details, rec.Code, rec.URL, at,
	); err != nil {
		return fmt.Errorf("failed to insert step %d for run %s: %w", rec.Step, rec.RunID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Import bulk loads previously recorded steps, typically read back from a
// JSONL history file. All records must belong to the same run.
func (s *Store) Import(ctx context.Context, records []agent.StepRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}
	runID := records[0].RunID

	rows := make([][]interface{}, len(records))
	last := records[0]
	for i, rec := range records {
		if rec.RunID != runID {
			return 0, fmt.Errorf("record %d belongs to run %s, expected %s", i, rec.RunID, runID)
		}
		args, err := encodeArgs(rec.Args)
		if err != nil {
			return 0, err
		}
		rows[i] = []interface{}{
			rec.RunID, rec.Step, rec.Action, args,
			rec.Status, rec.Details, rec.Code, rec.URL, recordedAt(rec),
		}
		if rec.Step >= last.Step {
			last = rec
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	if _, err := tx.Exec(ctx, sqlUpsertRun, runID, recordedAt(records[0]), last.Step, last.Status); err != nil {
		return 0, fmt.Errorf("failed to upsert run %s: %w", runID, err)
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"agent_steps"}, stepColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, fmt.Errorf("failed to copy steps: %w", err)
	}
	if int(copyCount) != len(records) {
		return 0, fmt.Errorf("mismatch in copied steps count: expected %d, got %d", len(records), copyCount)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Imported step history.", zap.String("run_id", runID), zap.Int64("steps", copyCount))
	return copyCount, nil
}

// StepsByRunID returns a run's steps in the order they were recorded.
func (s *Store) StepsByRunID(ctx context.Context, runID string) ([]agent.StepRecord, error) {
	query := `
        SELECT step, action, args, status, details, code, url, recorded_at
        FROM agent_steps
        WHERE run_id = $1
        ORDER BY step ASC, id ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query steps: %w", err)
	}
	defer rows.Close()

	var steps []agent.StepRecord
	for rows.Next() {
		rec := agent.StepRecord{RunID: runID}
		var args []byte
		if err := rows.Scan(
			&rec.Step, &rec.Action, &args, &rec.Status,
			&rec.Details, &rec.Code, &rec.URL, &rec.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step row: %w", err)
		}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &rec.Args); err != nil {
				return nil, fmt.Errorf("failed to decode args of step %d: %w", rec.Step, err)
			}
		}
		steps = append(steps, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return steps, nil
}

func encodeArgs(args []string) (string, error) {
	if args == nil {
		args = []string{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("failed to encode args: %w", err)
	}
	return string(data), nil
}

func recordedAt(rec agent.StepRecord) time.Time {
	if rec.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return rec.Timestamp.UTC()
}
