package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/internal/async"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/metrics"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		dirs        []string
		prompt      string
		promptFile  string
		override    string
		initial     bool
		debounce    time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Analyze every document dropped into the watched directories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			p, err := readText(prompt, promptFile)
			if err != nil {
				return err
			}

			collector := metrics.NewCollector("docanalyzer", a.log)
			svc, err := a.service(ctx, collector)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if metricsAddr != "" {
				srv := &http.Server{Addr: metricsAddr, Handler: collector.Handler(), ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						a.log.Error("watch.metrics.serve_failed", zap.Error(err))
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			handles, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
				Roots:       dirs,
				InitialScan: initial,
				SkipHidden:  true,
				Debounce:    debounce,
			}, a.log)
			if err != nil {
				return err
			}

			var mu sync.Mutex
			enc := json.NewEncoder(os.Stdout)
			q := async.NewAnalysisQueue(ctx, svc, a.log,
				async.WithWorkers(a.cfg.Batch.Workers),
				async.WithQueueSize(a.cfg.Batch.QueueSize),
				async.WithProcessTimeout(a.cfg.Batch.JobTimeout),
				async.WithRecorder(collector),
				async.WithResultHandler(func(r async.Result) {
					mu.Lock()
					defer mu.Unlock()
					_ = enc.Encode(toOutput(r))
				}),
			)

			printInfo("Watching %v (Ctrl+C to stop)", dirs)
			return watchLoop(ctx, q, handles, errs, p, override, a.log)
		},
	}
	cmd.Flags().StringSliceVar(&dirs, "dir", nil, "directory to watch (repeatable, recursive)")
	cmd.Flags().StringVarP(&prompt, "prompt", "p", "", "instruction prompt")
	cmd.Flags().StringVar(&promptFile, "prompt-file", "", "read the instruction prompt from a file")
	cmd.Flags().StringVarP(&override, "context", "c", "", "context override")
	cmd.Flags().BoolVar(&initial, "initial-scan", false, "also analyze documents already present")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "wait for writes to settle")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	_ = cmd.MarkFlagRequired("dir")
	return cmd
}

// watchLoop enqueues one job per emitted document until the watcher stops,
// then drains the queue.
func watchLoop(ctx context.Context, q async.Queue, handles <-chan ingest.Handle, errs <-chan error, prompt, override string, log *zap.Logger) error {
	for handles != nil || errs != nil {
		select {
		case h, ok := <-handles:
			if !ok {
				handles = nil
				continue
			}
			if _, err := q.Enqueue(ctx, async.Job{
				Name:    h.Name(),
				Handles: []ingest.Handle{h},
				Prompt:  prompt,
				Context: override,
			}); err != nil {
				log.Warn("watch.enqueue_failed", zap.String("name", h.Name()), zap.Error(err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			log.Error("watch.watcher_error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return q.Shutdown(shutdownCtx)
}
