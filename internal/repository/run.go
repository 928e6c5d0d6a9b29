package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/constants"
	"github.com/joseph-ayodele/doc-analyzer/internal/common"
)

var ErrNotFound = errors.New("analysis run not found")

// AnalysisRun is the persisted record of one orchestrated analysis.
type AnalysisRun struct {
	ID        uuid.UUID
	RequestID string
	Status    constants.AnalysisStatus
	Documents int
	Prompt    string
	Narrative string
	Metadata  map[constants.MetadataSlot]string
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

type AnalysisRunRepository interface {
	Save(ctx context.Context, run AnalysisRun) error
	Get(ctx context.Context, id uuid.UUID) (AnalysisRun, error)
	// ListRecent returns up to limit runs, newest first.
	ListRecent(ctx context.Context, limit int) ([]AnalysisRun, error)
	Close() error
}

const defaultListLimit = 50

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return defaultListLimit
	}
	return limit
}

func encodeMetadata(m map[constants.MetadataSlot]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func decodeMetadata(b []byte) (map[constants.MetadataSlot]string, error) {
	if len(b) == 0 || string(b) == "null" {
		return nil, nil
	}
	var m map[constants.MetadataSlot]string
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return m, nil
}

func prepare(run AnalysisRun) AnalysisRun {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.StartedAt = run.StartedAt.UTC()
	return run
}

// Open builds the run store selected by cfg. An empty driver returns nil, nil.
func Open(ctx context.Context, cfg common.StoreConfig, logger *zap.Logger) (AnalysisRunRepository, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "":
		return nil, nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN, logger)
	case "postgres":
		pool, err := OpenPool(ctx, Config{DSN: cfg.DSN, MaxConns: 10, MaxConnLifetime: 30 * time.Minute, MaxConnIdleTime: 5 * time.Minute}, logger)
		if err != nil {
			return nil, err
		}
		if err := MigratePostgres(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return NewPostgresRunRepository(pool, pool.Close, logger), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
