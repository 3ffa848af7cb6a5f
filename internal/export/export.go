// Package export renders booking requests into XLSX files for operators.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"courtside/internal/domain"
	"courtside/internal/models"

	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

// Store is the slice of persistence the exporter needs.
type Store interface {
	ListByTargetRange(ctx context.Context, from, to time.Time) ([]*models.BookingRequest, error)
}

type Exporter struct {
	store  Store
	courts domain.CourtSource
	path   string
	logger *zerolog.Logger
}

func NewExporter(store Store, courts domain.CourtSource, path string, logger *zerolog.Logger) *Exporter {
	return &Exporter{store: store, courts: courts, path: path, logger: logger}
}

var columns = []string{
	"Request ID", "Owner", "Court", "Target date", "Time slot",
	"Status", "Attempts", "Confirmation", "Last error", "Created",
}

// Export writes all requests with target dates in [from, to] to an XLSX file
// and returns its path.
func (e *Exporter) Export(ctx context.Context, from, to time.Time) (string, error) {
	if err := os.MkdirAll(e.path, 0o755); err != nil {
		return "", fmt.Errorf("error creating export directory: %v", err)
	}

	requests, err := e.store.ListByTargetRange(ctx, from, to)
	if err != nil {
		return "", fmt.Errorf("error getting requests: %v", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Requests"
	index, err := f.NewSheet(sheetName)
	if err != nil {
		return "", fmt.Errorf("error creating sheet: %v", err)
	}
	f.SetActiveSheet(index)

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Booking requests: %s - %s",
		from.Format("02.01.2006"), to.Format("02.01.2006")))

	for i, header := range columns {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, header)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
	})
	firstHeader, _ := excelize.CoordinatesToCellName(1, 2)
	lastHeader, _ := excelize.CoordinatesToCellName(len(columns), 2)
	_ = f.SetCellStyle(sheetName, firstHeader, lastHeader, headerStyle)

	for i, req := range requests {
		row := i + 3
		values := []any{
			req.ID,
			req.OwnerID,
			e.courtName(req.CourtID),
			req.TargetDate.Format("2006-01-02"),
			req.TimeSlot,
			string(req.Status),
			fmt.Sprintf("%d/%d", req.AttemptCount, req.MaxAttempts),
			req.ConfirmationCode,
			req.LastError,
			req.CreatedAt.Format(time.RFC3339),
		}
		for col, value := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			_ = f.SetCellValue(sheetName, cell, value)
		}
	}

	_ = f.SetColWidth(sheetName, "A", "A", 38)
	_ = f.SetColWidth(sheetName, "B", "J", 20)

	lastTitle, _ := excelize.CoordinatesToCellName(len(columns), 1)
	_ = f.MergeCell(sheetName, "A1", lastTitle)

	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	_ = f.DeleteSheet("Sheet1")

	fileName := fmt.Sprintf("requests_%s_to_%s.xlsx",
		from.Format("2006-01-02"), to.Format("2006-01-02"))
	filePath := filepath.Join(e.path, fileName)

	if err := f.SaveAs(filePath); err != nil {
		return "", fmt.Errorf("error saving file: %v", err)
	}

	e.logger.Info().Str("file_path", filePath).Int("requests", len(requests)).Msg("export file created")
	return filePath, nil
}

func (e *Exporter) courtName(id int64) string {
	if court, ok := e.courts.Court(id); ok {
		return court.Name
	}
	return fmt.Sprintf("court %d", id)
}
