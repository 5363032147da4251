// Package ocr runs the text recognition engine over one rasterized page.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

type Config struct {
	Tesseract   string // binary name or absolute path; if empty -> "tesseract"
	Lang        string // default "eng"
	TessdataDir string
	PSM         int // e.g., 6 is good for uniform block of text
	OEM         int // 1 = LSTM; leave 0 to use default
}

// Tesseract recognizes page images by shelling out to tesseract in TSV mode.
type Tesseract struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewTesseract(cfg Config, logger *slog.Logger) *Tesseract {
	return NewTesseractWithRunner(cfg, execRunner{}, logger)
}

func NewTesseractWithRunner(cfg Config, runner Runner, logger *slog.Logger) *Tesseract {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Tesseract{cfg: cfg, runner: runner, logger: logger}
}

// Recognize returns the page text, line blocks and page confidence for one image.
func (t *Tesseract) Recognize(ctx context.Context, img entity.PageImage) (entity.PageText, error) {
	if len(img.Data) == 0 {
		return entity.PageText{}, common.NewPermanentEngineError(constants.StageTextRecognition, errors.New("empty page image"))
	}

	ext := constants.NormalizeExt(path.Ext(img.Key))
	if _, ok := constants.AllowedPageExtensions[ext]; !ok {
		ext = constants.PageImageExt
	}
	f, err := os.CreateTemp("", "docscan-page-*."+ext)
	if err != nil {
		return entity.PageText{}, common.NewTransientEngineError(constants.StageTextRecognition, err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(img.Data); err != nil {
		f.Close()
		return entity.PageText{}, common.NewTransientEngineError(constants.StageTextRecognition, err)
	}
	if err := f.Close(); err != nil {
		return entity.PageText{}, common.NewTransientEngineError(constants.StageTextRecognition, err)
	}

	logger := t.logger.With("document_id", img.DocumentID, "page", img.Number)
	out, errb, err := t.runner.Run(ctx, t.cfg.Tesseract, logger, t.args(f.Name())...)
	if err != nil {
		return entity.PageText{}, classify(ctx, err, errb)
	}

	page := ParseTSV(out)
	logger.Debug("ocr.page.recognized", "blocks", len(page.Blocks), "words", len(page.Words), "confidence", page.Confidence)
	return page, nil
}

func (t *Tesseract) args(file string) []string {
	// tesseract <file> stdout -l <lang> [--psm N] [--oem N] [--tessdata-dir D] tsv
	args := []string{file, "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", strconv.Itoa(t.cfg.PSM))
	}
	if t.cfg.OEM > 0 {
		args = append(args, "--oem", strconv.Itoa(t.cfg.OEM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}
	return append(args, "tsv")
}

var permanentStderr = []string{
	"image file not found",
	"cannot read image",
	"unsupported image format",
	"pix not read",
	"failed loading language",
}

func classify(ctx context.Context, err error, stderr []byte) error {
	if ctx.Err() != nil {
		return common.NewTransientEngineError(constants.StageTextRecognition, fmt.Errorf("tesseract: %w", ctx.Err()))
	}
	if errors.Is(err, exec.ErrNotFound) {
		return common.NewPermanentEngineError(constants.StageTextRecognition, fmt.Errorf("tesseract: %w", err))
	}
	msg := strings.ToLower(string(stderr))
	for _, s := range permanentStderr {
		if strings.Contains(msg, s) {
			return common.NewPermanentEngineError(constants.StageTextRecognition, fmt.Errorf("tesseract: %s", strings.TrimSpace(string(stderr))))
		}
	}
	return common.NewTransientEngineError(constants.StageTextRecognition, fmt.Errorf("tesseract: %w", err))
}
