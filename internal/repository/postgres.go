package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

type Config struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// DBTX is the subset of pgx used by the Postgres repository. *pgxpool.Pool and pgx.Tx satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OpenPool creates a pgx pool and pings it.
func OpenPool(ctx context.Context, cfg Config, logger *zap.Logger) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	pc.MinConns = cfg.MinConns
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "doc-analyzer"
	if cfg.StatementTimeout > 0 {
		pc.ConnConfig.RuntimeParams["statement_timeout"] = fmt.Sprint(cfg.StatementTimeout.Milliseconds())
	}

	dial := cfg.DialTimeout
	if dial <= 0 {
		dial = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, dial)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	logger.Info("repository.postgres.connected", zap.String("host", pc.ConnConfig.Host), zap.String("database", pc.ConnConfig.Database))
	return pool, nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id          UUID PRIMARY KEY,
	request_id  TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	documents   INTEGER NOT NULL,
	prompt      TEXT NOT NULL,
	narrative   TEXT NOT NULL DEFAULT '',
	metadata    JSONB,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_runs_started_at_idx ON analysis_runs (started_at DESC);`

const pgColumns = `id, request_id, status, documents, prompt, narrative, metadata, error, started_at, duration_ms`

type postgresRunRepo struct {
	db    DBTX
	close func()
	log   *zap.Logger
}

// NewPostgresRunRepository stores runs through db. closeFn may be nil.
func NewPostgresRunRepository(db DBTX, closeFn func(), logger *zap.Logger) AnalysisRunRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &postgresRunRepo{db: db, close: closeFn, log: logger.With(zap.String("component", "repository.postgres"))}
}

// MigratePostgres creates the runs table if missing.
func MigratePostgres(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, pgSchema); err != nil {
		return fmt.Errorf("migrate analysis_runs: %w", err)
	}
	return nil
}

func (r *postgresRunRepo) Save(ctx context.Context, run AnalysisRun) error {
	run = prepare(run)
	meta, err := encodeMetadata(run.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(ctx,
		`INSERT INTO analysis_runs (`+pgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID, run.RequestID, string(run.Status), run.Documents, run.Prompt, run.Narrative,
		meta, run.Error, run.StartedAt, run.Duration.Milliseconds(),
	)
	if err != nil {
		r.log.Error("repository.run.save_failed", zap.String("run_id", run.ID.String()), zap.Error(err))
		return fmt.Errorf("insert analysis run: %w", err)
	}
	r.log.Debug("repository.run.saved", zap.String("run_id", run.ID.String()), zap.String("status", string(run.Status)))
	return nil
}

func (r *postgresRunRepo) Get(ctx context.Context, id uuid.UUID) (AnalysisRun, error) {
	row := r.db.QueryRow(ctx, `SELECT `+pgColumns+` FROM analysis_runs WHERE id = $1`, id)
	run, err := scanPG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return AnalysisRun{}, ErrNotFound
	}
	return run, err
}

func (r *postgresRunRepo) ListRecent(ctx context.Context, limit int) ([]AnalysisRun, error) {
	rows, err := r.db.Query(ctx, `SELECT `+pgColumns+` FROM analysis_runs ORDER BY started_at DESC LIMIT $1`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list analysis runs: %w", err)
	}
	defer rows.Close()

	var out []AnalysisRun
	for rows.Next() {
		run, err := scanPG(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (r *postgresRunRepo) Close() error {
	if r.close != nil {
		r.close()
	}
	return nil
}

func scanPG(row pgx.Row) (AnalysisRun, error) {
	var (
		run        AnalysisRun
		status     string
		meta       []byte
		durationMS int64
	)
	if err := row.Scan(&run.ID, &run.RequestID, &status, &run.Documents, &run.Prompt, &run.Narrative,
		&meta, &run.Error, &run.StartedAt, &durationMS); err != nil {
		return AnalysisRun{}, err
	}
	m, err := decodeMetadata(meta)
	if err != nil {
		return AnalysisRun{}, err
	}
	run.Status = constants.AnalysisStatus(status)
	run.Metadata = m
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}
