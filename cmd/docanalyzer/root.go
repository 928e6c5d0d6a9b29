package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/internal/analysis"
	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/metrics"
	"github.com/joseph-ayodele/doc-analyzer/internal/telemetry"
)

type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg       *common.Config
	log       *zap.Logger
	telemetry *telemetry.Providers
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "docanalyzer",
		Short:         "Structured analysis of documents with LLM providers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("CONFIG_PATH"), "path to YAML config")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "console", "log format (console or json)")

	root.AddCommand(
		newAnalyzeCmd(a),
		newAskCmd(a),
		newBatchCmd(a),
		newWatchCmd(a),
	)
	return root, a
}

func (a *app) init() error {
	_ = godotenv.Load()

	cfg, err := common.LoadConfig(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	} else if cfg.Log.Level == "info" {
		// progress goes to stderr through color output; keep logs quiet unless asked
		cfg.Log.Level = "warn"
	}
	cfg.Log.Format = a.logFormat

	logger, err := common.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger

	a.telemetry, err = telemetry.Init(context.Background(), cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// close flushes spans and logs; it runs after every command, failed or not.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil && a.log != nil {
		a.log.Warn("docanalyzer.telemetry.shutdown_failed", zap.Error(err))
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

func (a *app) service(ctx context.Context, collector *metrics.Collector) (*analysis.Service, error) {
	svc, err := analysis.Build(ctx, a.cfg, a.log, collector, analysis.WithTracer(a.telemetry.Tracer(analysis.TracerName)))
	if err != nil {
		return nil, fmt.Errorf("build analysis service: %w", err)
	}
	return svc, nil
}

func (a *app) objectStore() (ingest.ObjectStore, error) {
	if a.cfg.Minio.Endpoint == "" {
		return nil, fmt.Errorf("object keys need MINIO_ENDPOINT to be configured")
	}
	return ingest.NewMinioStore(a.cfg.Minio)
}

// readText returns inline, or the contents of path when inline is empty.
func readText(inline, path string) (string, error) {
	if strings.TrimSpace(inline) != "" || path == "" {
		return inline, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
