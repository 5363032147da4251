package export

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/repository"
)

// Excel caps a cell at 32767 characters.
const maxCellChars = 32000

// Service is a tiny façade over repositories that produces XLSX bytes for exports.
type Service struct {
	docs   repository.DocumentRepository
	pages  repository.PageRepository
	logger *slog.Logger
}

func NewService(docs repository.DocumentRepository, pages repository.PageRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, pages: pages, logger: logger}
}

// ExportDocumentXLSX returns a workbook with a "Document" sheet (metadata and
// understanding fields), a "Pages" sheet and one sheet per extracted table.
func (s *Service) ExportDocumentXLSX(ctx context.Context, documentID uuid.UUID) ([]byte, error) {
	start := time.Now()

	doc, err := s.docs.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	pages, err := s.pages.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("query pages: %w", err)
	}

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	const sheet = "Document"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	writeDocument(f, sheet, doc)

	if _, err := f.NewSheet("Pages"); err != nil {
		return nil, err
	}
	writePages(f, "Pages", pages)

	tables := 0
	for _, p := range pages {
		for i, t := range p.Tables {
			name := fmt.Sprintf("p%d_t%d", p.PageNumber, i+1)
			if _, err := f.NewSheet(name); err != nil {
				return nil, err
			}
			rows, err := ParseTableHTML(t.HTML)
			if err != nil {
				s.logger.Warn("export.table.parse_failed", "document_id", documentID, "sheet", name, "error", err)
				continue
			}
			writeRows(f, name, rows)
			tables++
		}
	}
	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	s.logger.Info("export.xlsx.ok",
		"document_id", documentID.String(),
		"pages", len(pages),
		"tables", tables,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeDocument(f *excelize.File, sheet string, d *entity.Document) {
	rows := [][]any{
		{"Field", "Value"},
		{"ID", d.ID.String()},
		{"Filename", d.OriginalFilename},
		{"Content Type", d.ContentType},
		{"File Size", d.FileSize},
		{"Status", d.Status.String()},
		{"Failure Reason", deref(d.FailureReason)},
		{"Pages", derefInt(d.PageCount)},
		{"Category", deref(d.Category)},
		{"Category Confidence", derefFloat(d.CategoryConfidence)},
		{"Document Date", deref(d.DocumentDate)},
		{"Summary", truncate(deref(d.Summary), maxCellChars)},
		{"Tags", strings.Join(d.Tags, ", ")},
		{"Key Points", strings.Join(d.KeyPoints, "\n")},
	}
	var e entity.Entities
	if d.Entities != nil {
		e = *d.Entities
	}
	rows = append(rows,
		[]any{"People", strings.Join(e.People, ", ")},
		[]any{"Organizations", strings.Join(e.Organizations, ", ")},
		[]any{"Dates", strings.Join(e.Dates, ", ")},
		[]any{"Amounts", strings.Join(e.Amounts, ", ")},
		[]any{"Addresses", strings.Join(e.Addresses, ", ")},
		[]any{"References", strings.Join(e.References, ", ")},
		[]any{"Created At", d.CreatedAt.UTC().Format(time.RFC3339)},
		[]any{"Updated At", d.UpdatedAt.UTC().Format(time.RFC3339)},
	)
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = f.SetSheetRow(sheet, cell, &r)
	}
	_ = f.SetColWidth(sheet, "A", "A", 22)
	_ = f.SetColWidth(sheet, "B", "B", 80)
}

func writePages(f *excelize.File, sheet string, pages []entity.OCRPage) {
	header := []any{"Page", "Width", "Height", "Confidence", "Blocks", "Tables", "Manually Corrected", "Text"}
	_ = f.SetSheetRow(sheet, "A1", &header)
	for i, p := range pages {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []any{p.PageNumber, p.Width, p.Height, p.Confidence, len(p.Blocks), len(p.Tables),
			strconv.FormatBool(p.ManuallyCorrected), truncate(deref(p.FullText), maxCellChars)}
		_ = f.SetSheetRow(sheet, cell, &row)
	}
	_ = f.SetColWidth(sheet, "H", "H", 80)
}

func writeRows(f *excelize.File, sheet string, rows [][]string) {
	for i, r := range rows {
		for j, v := range r {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			_ = f.SetCellValue(sheet, cell, v)
		}
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) any {
	if n == nil {
		return ""
	}
	return *n
}

func derefFloat(n *float64) any {
	if n == nil {
		return ""
	}
	return *n
}

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
