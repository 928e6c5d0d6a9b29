package analysis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm/gemini"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm/openai"
	"github.com/joseph-ayodele/doc-analyzer/internal/metrics"
	"github.com/joseph-ayodele/doc-analyzer/internal/repository"
	"github.com/joseph-ayodele/doc-analyzer/internal/retry"
)

// Build wires both adapters, their retry controllers and the ingestor from cfg.
// collector may be nil. extra options are applied last.
func Build(ctx context.Context, cfg *common.Config, logger *zap.Logger, collector *metrics.Collector, extra ...Option) (*Service, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	primaryAdapter, err := gemini.NewAdapter(ctx, gemini.Config{
		APIKey:            cfg.Gemini.APIKey,
		Endpoint:          cfg.Gemini.Endpoint,
		Variants:          cfg.Gemini.Models,
		Temperature:       cfg.Gemini.Temperature,
		Timeout:           cfg.Gemini.Timeout,
		RequestsPerSecond: cfg.Gemini.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("primary adapter: %w", err)
	}
	secondaryAdapter := openai.NewAdapter(openai.Config{
		APIKey:            cfg.OpenAI.APIKey,
		BaseURL:           cfg.OpenAI.BaseURL,
		Variants:          cfg.OpenAI.Models,
		Temperature:       cfg.OpenAI.Temperature,
		Timeout:           cfg.OpenAI.Timeout,
		RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
	}, logger)

	retryOpts := []retry.Option{retry.WithLogger(logger)}
	ingestOpts := []ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithMaxDocumentBytes(cfg.Ingest.MaxDocumentBytes),
		ingest.WithConcurrency(cfg.Ingest.Concurrency),
	}
	opts := []Option{
		WithLogger(logger),
		WithAsker(primaryAdapter),
		withCloser(primaryAdapter.Close),
	}
	if collector != nil {
		retryOpts = append(retryOpts, retry.WithRecorder(collector))
		ingestOpts = append(ingestOpts, ingest.WithObserver(collector))
		opts = append(opts, WithRecorder(collector))
	}

	runs, err := repository.Open(ctx, cfg.Store, logger)
	if err != nil {
		_ = primaryAdapter.Close()
		return nil, fmt.Errorf("run store: %w", err)
	}
	if runs != nil {
		opts = append(opts, WithRunStore(runs), withCloser(runs.Close))
	}

	primary := retry.New(primaryAdapter, policyFor(cfg.Retry, cfg.Retry.Primary, cfg.Gemini.Timeout), retryOpts...)
	secondary := retry.New(secondaryAdapter, policyFor(cfg.Retry, cfg.Retry.Secondary, cfg.OpenAI.Timeout), retryOpts...)
	opts = append(opts, WithIngestor(ingest.New(ingestOpts...)))
	opts = append(opts, extra...)

	logger.Info("analysis.build",
		zap.Strings("primary_variants", primaryAdapter.Variants()),
		zap.Int("primary_attempts", cfg.Retry.Primary.MaxAttempts),
		zap.Strings("secondary_variants", secondaryAdapter.Variants()),
		zap.Int("secondary_attempts", cfg.Retry.Secondary.MaxAttempts),
		zap.Duration("base_delay", cfg.Retry.BaseDelay),
	)
	return NewService(primary, secondary, opts...), nil
}

func policyFor(rc common.RetryConfig, budget common.RetryBudget, timeout time.Duration) retry.Policy {
	p := retry.Policy{
		MaxAttempts:    budget.MaxAttempts,
		BaseDelay:      rc.BaseDelay,
		AttemptTimeout: timeout,
	}
	if budget.StopOnFatal {
		p.Fatal = retry.FatalStop
	}
	return p
}
