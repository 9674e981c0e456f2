package httpadapter

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/scanpipe/internal/core/domain"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	documentsSheet  = "Documents"
	entitiesSheet   = "Entities"
)

// writeWorkbook renders docs as one row per document plus one row per
// extracted entity.
func writeWorkbook(w io.Writer, docs []domain.Document) error {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	if err := book.SetSheetName("Sheet1", documentsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if _, err := book.NewSheet(entitiesSheet); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}

	if err := book.SetSheetRow(documentsSheet, "A1", &[]any{"ID", "Filename", "Status", "Submitted At", "Error"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := book.SetSheetRow(entitiesSheet, "A1", &[]any{"Document ID", "Type", "Value", "Confidence"}); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	entityRow := 2
	for i, doc := range docs {
		row := []any{doc.ID, doc.Filename, string(doc.Status), doc.SubmittedAt.UTC().Format(time.RFC3339), doc.ErrorMessage}
		if err := book.SetSheetRow(documentsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return fmt.Errorf("write document %s: %w", doc.ID, err)
		}
		for _, entity := range doc.Entities {
			cells := []any{doc.ID, string(entity.Type), entity.Value, entity.Confidence}
			if err := book.SetSheetRow(entitiesSheet, fmt.Sprintf("A%d", entityRow), &cells); err != nil {
				return fmt.Errorf("write entity of %s: %w", doc.ID, err)
			}
			entityRow++
		}
	}

	if err := book.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
