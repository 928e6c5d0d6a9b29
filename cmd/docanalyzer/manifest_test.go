package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/joseph-ayodele/doc-analyzer/internal/async"
	"github.com/joseph-ayodele/doc-analyzer/internal/common"
	"github.com/joseph-ayodele/doc-analyzer/internal/ingest"
	"github.com/joseph-ayodele/doc-analyzer/internal/llm"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestManifest_BuildJobs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "acme", "contract.pdf"), "%PDF-1.4")
	writeFile(t, filepath.Join(dir, "invoices", "b.png"), "png")
	writeFile(t, filepath.Join(dir, "invoices", "a.pdf"), "%PDF-1.4")
	writeFile(t, filepath.Join(dir, "prompts", "totals.txt"), "List every invoice total")
	manifestPath := filepath.Join(dir, "jobs.yaml")
	writeFile(t, manifestPath, `
defaults:
  prompt: Summarize the contract
  context: currency=EUR
jobs:
  - name: acme
    files: [acme/contract.pdf]
    context: client=ACME
  - dir: invoices
    promptFile: prompts/totals.txt
`)

	m, err := loadManifest(manifestPath)
	require.NoError(t, err)
	assert.False(t, m.usesObjects())

	jobs, err := m.buildJobs(nil, true)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "acme", jobs[0].Name)
	assert.Equal(t, "Summarize the contract", jobs[0].Prompt)
	assert.Equal(t, "client=ACME", jobs[0].Context)
	require.Len(t, jobs[0].Handles, 1)
	assert.Equal(t, "contract.pdf", jobs[0].Handles[0].Name())

	assert.Equal(t, "job-2", jobs[1].Name)
	assert.Equal(t, "List every invoice total", jobs[1].Prompt)
	assert.Equal(t, "currency=EUR", jobs[1].Context)
	require.Len(t, jobs[1].Handles, 2)
	assert.Equal(t, "a.pdf", jobs[1].Handles[0].Name())
	assert.Equal(t, "b.png", jobs[1].Handles[1].Name())
}

func TestManifest_Errors(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.pdf"), "%PDF-1.4")

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"no jobs", "jobs: []", "no jobs"},
		{"no prompt", "jobs:\n  - files: [a.pdf]", "no prompt"},
		{"no documents", "defaults:\n  prompt: p\njobs:\n  - name: empty", "no documents"},
		{"objects without store", "defaults:\n  prompt: p\njobs:\n  - objects: [k]", "object store"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, strings.ReplaceAll(tt.name, " ", "_")+".yaml")
			writeFile(t, path, tt.yaml)
			m, err := loadManifest(path)
			if err == nil {
				_, err = m.buildJobs(nil, true)
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

type analyzerFunc func(ctx context.Context, handles []ingest.Handle, prompt, override string) (llm.AnalysisResult, error)

func (f analyzerFunc) AnalyzeHandles(ctx context.Context, handles []ingest.Handle, prompt, override string) (llm.AnalysisResult, error) {
	return f(ctx, handles, prompt, override)
}

type nopRecorder struct{}

func (nopRecorder) ObserveJob(string)  {}
func (nopRecorder) SetQueueDepth(int) {}

func TestRunJobs_KeepsManifestOrder(t *testing.T) {
	a := &app{cfg: common.DefaultConfig(), log: zaptest.NewLogger(t)}
	analyzer := analyzerFunc(func(_ context.Context, _ []ingest.Handle, prompt, _ string) (llm.AnalysisResult, error) {
		if prompt == "fail" {
			return llm.AnalysisResult{}, errors.New("boom")
		}
		return llm.AnalysisResult{Narrative: prompt}, nil
	})
	var jobs []async.Job
	for _, p := range []string{"one", "fail", "three", "four"} {
		jobs = append(jobs, async.Job{Name: p, Prompt: p, Handles: []ingest.Handle{ingest.NewBytesHandle("x.txt", "text/plain", []byte("x"))}})
	}

	results, err := runJobs(context.Background(), analyzer, jobs, a, nopRecorder{}, 3)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, jobs[i].Name, r.Job.Name)
	}

	var buf bytes.Buffer
	failed, err := writeJSONLines(&buf, results)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	var first, second jobOutput
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "ok", first.Status)
	require.NotNil(t, first.Result)
	assert.Equal(t, "one", first.Result.Narrative)
	assert.Equal(t, "failed", second.Status)
	assert.Equal(t, "boom", second.Error)
	assert.Nil(t, second.Result)

	row := toRow(results[0])
	assert.Equal(t, "one", row.Narrative)
	assert.Equal(t, 1, row.Documents)
}

type fakeQueue struct {
	mu       sync.Mutex
	jobs     []async.Job
	shutdown bool
}

func (q *fakeQueue) Enqueue(_ context.Context, job async.Job) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return uuid.New(), nil
}

func (q *fakeQueue) Shutdown(context.Context) error {
	q.shutdown = true
	return nil
}

func TestWatchLoop(t *testing.T) {
	handles := make(chan ingest.Handle, 2)
	errs := make(chan error, 1)
	handles <- ingest.NewFileHandle("/in/a.pdf")
	handles <- ingest.NewFileHandle("/in/b.pdf")
	errs <- errors.New("overflow")
	close(handles)
	close(errs)

	q := &fakeQueue{}
	require.NoError(t, watchLoop(context.Background(), q, handles, errs, "Extract X", "ctx", zaptest.NewLogger(t)))

	assert.True(t, q.shutdown)
	require.Len(t, q.jobs, 2)
	assert.Equal(t, "a.pdf", q.jobs[0].Name)
	assert.Equal(t, "Extract X", q.jobs[0].Prompt)
	assert.Equal(t, "ctx", q.jobs[0].Context)
	assert.Len(t, q.jobs[1].Handles, 1)
}
