package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/joseph-ayodele/doc-analyzer/internal/async"
	"github.com/joseph-ayodele/doc-analyzer/internal/export"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
	"github.com/joseph-ayodele/doc-analyzer/internal/metrics"
)

// jobOutput is one JSON line of batch and watch output.
type jobOutput struct {
	JobID     string              `json:"job_id"`
	Name      string              `json:"name"`
	Documents int                 `json:"documents"`
	Status    string              `json:"status"`
	Result    *llm.AnalysisResult `json:"result,omitempty"`
	Error     string              `json:"error,omitempty"`
	ElapsedMS int64               `json:"elapsed_ms"`
}

func toOutput(r async.Result) jobOutput {
	out := jobOutput{
		JobID:     r.Job.ID.String(),
		Name:      r.Job.Name,
		Documents: len(r.Job.Handles),
		Status:    "ok",
		ElapsedMS: r.Elapsed.Milliseconds(),
	}
	if r.Err != nil {
		out.Status = "failed"
		out.Error = r.Err.Error()
	} else {
		res := r.Analysis
		out.Result = &res
	}
	return out
}

func toRow(r async.Result) export.Row {
	o := toOutput(r)
	row := export.Row{
		JobID:     o.JobID,
		Name:      o.Name,
		Documents: o.Documents,
		Status:    o.Status,
		Error:     o.Error,
		Elapsed:   r.Elapsed,
	}
	if o.Result != nil {
		row.Narrative = o.Result.Narrative
		row.Metadata = o.Result.Metadata
	}
	return row
}

func newBatchCmd(a *app) *cobra.Command {
	var (
		manifestPath string
		outPath      string
		xlsxPath     string
		skipHidden   bool
		workers      int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run every job of a YAML manifest through the worker queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			m, err := loadManifest(manifestPath)
			if err != nil {
				return err
			}
			var store ingest.ObjectStore
			if m.usesObjects() {
				if store, err = a.objectStore(); err != nil {
					return err
				}
			}
			jobs, err := m.buildJobs(store, skipHidden)
			if err != nil {
				return err
			}

			collector := metrics.NewCollector("docanalyzer", a.log)
			svc, err := a.service(ctx, collector)
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if workers <= 0 {
				workers = a.cfg.Batch.Workers
			}
			results, err := runJobs(ctx, svc, jobs, a, collector, workers)
			if err != nil {
				return err
			}

			var w io.Writer = os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create output: %w", err)
				}
				defer func() { _ = f.Close() }()
				w = f
			}
			failed, err := writeJSONLines(w, results)
			if err != nil {
				return err
			}

			if xlsxPath != "" {
				rows := make([]export.Row, 0, len(results))
				for _, r := range results {
					rows = append(rows, toRow(r))
				}
				b, err := export.ResultsXLSX(rows, a.log)
				if err != nil {
					return err
				}
				if err := os.WriteFile(xlsxPath, b, 0o644); err != nil {
					return fmt.Errorf("write xlsx: %w", err)
				}
			}

			printSummary(len(results), failed, firstNonEmpty(outPath, xlsxPath))
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", failed, len(results))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "YAML manifest of jobs")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "write JSON lines here instead of stdout")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "also write an XLSX workbook of the results")
	cmd.Flags().BoolVar(&skipHidden, "skip-hidden", true, "skip hidden files in job directories")
	cmd.Flags().IntVar(&workers, "workers", 0, "concurrent jobs (defaults to batch.workers)")
	_ = cmd.MarkFlagRequired("manifest")
	return cmd
}

// runJobs enqueues jobs and returns their results in manifest order.
func runJobs(ctx context.Context, analyzer async.Analyzer, jobs []async.Job, a *app, rec async.Recorder, workers int) ([]async.Result, error) {
	var (
		mu      sync.Mutex
		results = make(map[uuid.UUID]async.Result, len(jobs))
	)
	q := async.NewAnalysisQueue(ctx, analyzer, a.log,
		async.WithWorkers(workers),
		async.WithQueueSize(a.cfg.Batch.QueueSize),
		async.WithProcessTimeout(a.cfg.Batch.JobTimeout),
		async.WithRecorder(rec),
		async.WithResultHandler(func(r async.Result) {
			mu.Lock()
			results[r.Job.ID] = r
			mu.Unlock()
			if r.Err != nil {
				_, _ = failColor.Fprintf(os.Stderr, "✗ %s: %v\n", r.Job.Name, r.Err)
			} else {
				_, _ = okColor.Fprintf(os.Stderr, "✓ %s (%s)\n", r.Job.Name, r.Elapsed.Round(time.Millisecond))
			}
		}),
	)

	order := make(map[uuid.UUID]int, len(jobs))
	printInfo("Queued %d job(s) on %d worker(s)", len(jobs), workers)
	for i, job := range jobs {
		id, err := q.Enqueue(ctx, job)
		if err != nil {
			_ = q.Shutdown(context.Background())
			return nil, fmt.Errorf("enqueue %s: %w", job.Name, err)
		}
		order[id] = i
	}
	if err := q.Shutdown(context.Background()); err != nil {
		return nil, err
	}

	out := make([]async.Result, 0, len(results))
	for _, r := range results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return order[out[i].Job.ID] < order[out[j].Job.ID] })
	return out, nil
}

func writeJSONLines(w io.Writer, results []async.Result) (failed int, err error) {
	enc := json.NewEncoder(w)
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
		if err := enc.Encode(toOutput(r)); err != nil {
			return failed, fmt.Errorf("write output: %w", err)
		}
	}
	return failed, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
