package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agrisync/internal/config"
	"agrisync/internal/domain"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Exporter writes the current queue contents to an Excel workbook, for
// support staff diagnosing a farmer's stuck sync.
type Exporter struct {
	store  domain.MutationStore
	cfg    config.ExportConfig
	logger *zerolog.Logger
}

func NewExporter(store domain.MutationStore, cfg config.ExportConfig, logger *zerolog.Logger) *Exporter {
	return &Exporter{store: store, cfg: cfg, logger: logger}
}

// QueueReport renders the pending queue to an .xlsx file and returns its path.
func (e *Exporter) QueueReport(ctx context.Context) (string, error) {
	if err := os.MkdirAll(e.cfg.Path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	pending, err := e.store.ListMutations(ctx)
	if err != nil {
		return "", fmt.Errorf("error listing queue: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Pending mutations"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Queue snapshot: %s, %d pending",
		time.Now().Format("02.01.2006 15:04"), len(pending)))
	_ = f.MergeCell(sheetName, "A1", "D1")

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", headerStyle)

	columns := []string{"ID", "Type", "Enqueued at", "Payload"}
	for i, col := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, col)
	}

	for row, m := range pending {
		values := []interface{}{m.ID, m.Type, m.EnqueuedAt.Format(time.RFC3339), string(m.Payload)}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+3)
			_ = f.SetCellValue(sheetName, cell, v)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 10)
	_ = f.SetColWidth(sheetName, "B", "C", 22)
	_ = f.SetColWidth(sheetName, "D", "D", 60)
	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("queue_%s.xlsx", time.Now().Format("2006-01-02_150405"))
	filePath := filepath.Join(e.cfg.Path, fileName)
	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("pending", len(pending)).Msg("Queue report created")
	return filePath, nil
}
