package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/ocr"
	"github.com/joseph-ayodele/docscan/internal/core/tables"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// runocr recognizes one page image locally and prints the page result as JSON.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if len(os.Args) != 2 {
		logger.Error("usage", "cmd", "runocr <page-image>")
		os.Exit(2)
	}
	path := os.Args[1]
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Error("read image", "path", path, "error", err)
		os.Exit(2)
	}

	cfg := common.LoadConfig()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Pipeline.OCRTimeout)
	defer cancel()

	img := entity.PageImage{
		Number:      1,
		Key:         filepath.Base(path),
		ContentType: constants.MimeTypeForExt(filepath.Ext(path)),
		Data:        data,
	}
	recognizer := ocr.NewTesseract(ocr.Config{
		Tesseract:   cfg.OCR.Tesseract,
		Lang:        cfg.OCR.Lang,
		TessdataDir: cfg.OCR.TessdataDir,
		PSM:         cfg.OCR.PSM,
		OEM:         cfg.OCR.OEM,
	}, logger)

	start := time.Now()
	text, err := recognizer.Recognize(ctx, img)
	if err != nil {
		logger.Error("text recognition failed", "error", err, "reason", common.FailureReason(err))
		os.Exit(1)
	}
	found, err := tables.NewLayoutExtractor(tables.Config{MinRows: cfg.Tables.MinRows, MinCols: cfg.Tables.MinCols}).Extract(ctx, img, text)
	if err != nil {
		logger.Warn("table extraction failed", "error", err)
		found = []entity.Table{}
	}

	logger.Info("text recognition OK",
		"blocks", len(text.Blocks),
		"chars", len(text.FullText),
		"confidence", text.Confidence,
		"tables", len(found),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]any{
		"full_text":  text.FullText,
		"blocks":     text.Blocks,
		"confidence": text.Confidence,
		"tables":     found,
	})
}
