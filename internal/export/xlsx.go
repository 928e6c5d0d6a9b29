package export

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/joseph-ayodele/doc-analyzer/constants"
)

// Row is one analysed job in a results workbook.
type Row struct {
	JobID     string
	Name      string
	Documents int
	Status    string // "ok" or "failed"
	Narrative string
	Metadata  map[constants.MetadataSlot]string
	Error     string
	Elapsed   time.Duration
}

const sheet = "Analyses"

// ResultsXLSX returns a workbook (as bytes) with one row per job, in the given order.
func ResultsXLSX(rows []Row, logger *zap.Logger) ([]byte, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	// rename the default sheet rather than adding a second one
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	headers := []string{"Job ID", "Name", "Documents", "Status", "Narrative"}
	for _, slot := range constants.Slots() {
		headers = append(headers, string(slot))
	}
	headers = append(headers, "Error", "Elapsed (ms)")

	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, h)
	}

	for i, r := range rows {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(sheet, cell, v)
		}
		write(1, r.JobID)
		write(2, r.Name)
		write(3, r.Documents)
		write(4, r.Status)
		write(5, truncate(r.Narrative, 32767))
		col := 6
		for _, slot := range constants.Slots() {
			write(col, r.Metadata[slot])
			col++
		}
		write(col, truncate(r.Error, 1000))
		write(col+1, r.Elapsed.Milliseconds())
	}

	_ = f.SetColWidth(sheet, "A", "A", 38) // job id
	_ = f.SetColWidth(sheet, "B", "B", 28) // name
	_ = f.SetColWidth(sheet, "E", "E", 80) // narrative
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	logger.Info("export.xlsx.ok",
		zap.Int("rows", len(rows)),
		zap.Int64("elapsed_ms", time.Since(start).Milliseconds()),
	)
	return buf.Bytes(), nil
}

// truncate caps s at n runes; Excel cells hold at most 32767 characters.
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
