package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/doc-analyzer/internal/analysis"
	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/metrics"
	"github.com/joseph-ayodele/doc-analyzer/internal/server"
	"github.com/joseph-ayodele/doc-analyzer/internal/telemetry"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config (optional)")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := common.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("analyzerd.failed", zap.Error(err))
	}
}

func run(cfg *common.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(flushCtx); err != nil {
			logger.Warn("analyzerd.telemetry.shutdown_failed", zap.Error(err))
		}
	}()

	collector := metrics.NewCollector("docanalyzer", logger)

	svc, err := analysis.Build(ctx, cfg, logger, collector, analysis.WithTracer(providers.Tracer(analysis.TracerName)))
	if err != nil {
		return fmt.Errorf("build analysis service: %w", err)
	}
	defer func() { _ = svc.Close() }()

	routerOpts := []server.Option{server.WithMetrics(collector.Handler(), collector)}
	if runs := svc.Runs(); runs != nil {
		routerOpts = append(routerOpts, server.WithRunHistory(runs))
	}
	if cfg.Minio.Endpoint != "" {
		store, err := ingest.NewMinioStore(cfg.Minio)
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		routerOpts = append(routerOpts, server.WithObjectStore(store))
		logger.Info("analyzerd.object_store", zap.String("endpoint", cfg.Minio.Endpoint), zap.String("bucket", store.Bucket()))
	}

	router := server.NewRouter(svc, server.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		RequestTimeout: cfg.Server.RequestTimeout,
		CORSOrigins:    cfg.Server.CORSOrigins,
	}, logger, routerOpts...)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.Server.RequestTimeout + 30*time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("analyzerd.http.listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http serve: %w", err)
		}
	}()

	var (
		grpcServer *grpc.Server
		hs         *health.Server
	)
	if cfg.Server.GRPCHealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCHealthAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = grpc.NewServer()
		hs = health.NewServer()
		healthpb.RegisterHealthServer(grpcServer, hs)
		hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		reflection.Register(grpcServer)

		go func() {
			logger.Info("analyzerd.grpc_health.listening", zap.String("addr", cfg.Server.GRPCHealthAddr))
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("analyzerd.shutdown")
	case serveErr = <-errCh:
		logger.Error("analyzerd.serve_failed", zap.Error(serveErr))
	}

	if hs != nil {
		hs.Shutdown()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("analyzerd.http.shutdown_failed", zap.Error(err))
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	logger.Info("analyzerd.stopped")
	return serveErr
}
