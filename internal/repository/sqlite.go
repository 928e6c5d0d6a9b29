package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id          TEXT PRIMARY KEY,
	request_id  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	documents   INTEGER NOT NULL,
	prompt      TEXT NOT NULL,
	narrative   TEXT NOT NULL DEFAULT '',
	metadata    TEXT,
	error       TEXT NOT NULL DEFAULT '',
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_runs_started_at_idx ON analysis_runs (started_at DESC);`

const sqliteColumns = `id, request_id, status, documents, prompt, narrative, metadata, error, started_at, duration_ms`

type sqliteRunRepo struct {
	db  *sql.DB
	log *zap.Logger
}

// OpenSQLite opens (or creates) a SQLite run store. path ":memory:" keeps it in memory.
func OpenSQLite(ctx context.Context, path string, logger *zap.Logger) (AnalysisRunRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and serializes writers
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate analysis_runs: %w", err)
	}
	logger.Info("repository.sqlite.opened", zap.String("path", path))
	return &sqliteRunRepo{db: db, log: logger.With(zap.String("component", "repository.sqlite"))}, nil
}

func (r *sqliteRunRepo) Save(ctx context.Context, run AnalysisRun) error {
	run = prepare(run)
	meta, err := encodeMetadata(run.Metadata)
	if err != nil {
		return err
	}
	var metaArg any
	if meta != nil {
		metaArg = string(meta)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO analysis_runs (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.RequestID, string(run.Status), run.Documents, run.Prompt, run.Narrative,
		metaArg, run.Error, run.StartedAt.UnixNano(), run.Duration.Milliseconds(),
	)
	if err != nil {
		r.log.Error("repository.run.save_failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		return fmt.Errorf("insert analysis run: %w", err)
	}
	r.log.Debug("repository.run.saved", zap.String("run_id", run.ID.String()), zap.String("status", string(run.Status)))
	return nil
}

func (r *sqliteRunRepo) Get(ctx context.Context, id uuid.UUID) (AnalysisRun, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM analysis_runs WHERE id = ?`, id.String())
	run, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return AnalysisRun{}, ErrNotFound
	}
	return run, err
}

func (r *sqliteRunRepo) ListRecent(ctx context.Context, limit int) ([]AnalysisRun, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+sqliteColumns+` FROM analysis_runs ORDER BY started_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list analysis runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []AnalysisRun
	for rows.Next() {
		run, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *sqliteRunRepo) Close() error { return r.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (AnalysisRun, error) {
	var (
		run        AnalysisRun
		id, status string
		meta       sql.NullString
		startedNS  int64
		durationMS int64
	)
	if err := row.Scan(&id, &run.RequestID, &status, &run.Documents, &run.Prompt, &run.Narrative,
		&meta, &run.Error, &startedNS, &durationMS); err != nil {
		return AnalysisRun{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return AnalysisRun{}, fmt.Errorf("parse run id: %w", err)
	}
	m, err := decodeMetadata([]byte(meta.String))
	if err != nil {
		return AnalysisRun{}, err
	}
	run.ID = parsed
	run.Status = constants.AnalysisStatus(status)
	run.Metadata = m
	run.StartedAt = time.Unix(0, startedNS).UTC()
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
