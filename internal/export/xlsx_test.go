package export

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap/zaptest"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

func TestResultsXLSX(t *testing.T) {
	rows := []Row{
		{
			JobID:     "job-1",
			Name:      "invoices",
			Documents: 3,
			Status:    "ok",
			Narrative: "A",
			Metadata:  map[constants.MetadataSlot]string{constants.Metadata2: "b"},
			Elapsed:   1500 * time.Millisecond,
		},
		{
			JobID:     "job-2",
			Name:      "contracts",
			Documents: 1,
			Status:    "failed",
			Error:     "all providers exhausted",
			Elapsed:   time.Second,
		},
	}

	b, err := ResultsXLSX(rows, zaptest.NewLogger(t))
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(b))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	assert.Equal(t, []string{sheet}, f.GetSheetList())
	got, err := f.GetRows(sheet)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, []string{"Job ID", "Name", "Documents", "Status", "Narrative",
		"metadata_1", "metadata_2", "metadata_3", "Error", "Elapsed (ms)"}, got[0])
	assert.Equal(t, []string{"job-1", "invoices", "3", "ok", "A", "", "b", "", "", "1500"}, got[1])
	assert.Equal(t, "failed", got[2][3])
	assert.Equal(t, "all providers exhausted", got[2][8])
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
	assert.Equal(t, "çã…", truncate(strings.Repeat("çã", 3), 3))
}
