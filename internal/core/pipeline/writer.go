package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/stage"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/repository"
)

// Writer commits page and document results. Every write is retried under the
// persistence policy and surfaces as a PersistenceError once attempts run out.
type Writer struct {
	docs    repository.DocumentRepository
	pages   repository.PageRepository
	policy  stage.Policy
	backoff stage.Backoff
	logger  *slog.Logger
}

func NewWriter(docs repository.DocumentRepository, pages repository.PageRepository, attempts int, backoff stage.Backoff, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		docs:  docs,
		pages: pages,
		policy: stage.Policy{
			Name:        constants.StagePersistence,
			Required:    true,
			MaxAttempts: attempts,
			Retryable:   persistenceRetryable,
		},
		backoff: backoff,
		logger:  logger,
	}
}

// persistenceRetryable retries database errors but not outcomes a retry cannot change.
func persistenceRetryable(err error) bool {
	return !errors.Is(err, common.ErrStaleRun) &&
		!errors.Is(err, common.ErrNotFound) &&
		!errors.Is(err, common.ErrInvalidInput)
}

// PageResult is what one run produced for one page.
type PageResult struct {
	Image  entity.PageImage
	Text   entity.PageText
	Tables []entity.Table
}

// CommitPage upserts the page row keyed by (document_id, page_number).
func (w *Writer) CommitPage(ctx context.Context, documentID uuid.UUID, r PageResult) (*entity.OCRPage, error) {
	page := &entity.OCRPage{
		DocumentID:   documentID,
		PageNumber:   r.Image.Number,
		Width:        r.Image.Width,
		Height:       r.Image.Height,
		Blocks:       r.Text.Blocks,
		Tables:       r.Tables,
		Confidence:   MeanConfidence(r.Text.Blocks),
		PageImageURL: r.Image.URL,
	}
	if page.Blocks == nil {
		page.Blocks = []entity.Block{}
	}
	if page.Tables == nil {
		page.Tables = []entity.Table{}
	}
	if r.Text.FullText != "" {
		text := r.Text.FullText
		page.FullText = &text
	}

	res, err := stage.Run(ctx, w.policy, w.backoff, func(ctx context.Context) error {
		return w.pages.Upsert(ctx, page)
	})
	if err != nil {
		w.logger.Error("pipeline.commit_page.failed",
			"document_id", documentID, "page", page.PageNumber, "attempts", res.Attempts, "error", err)
		return nil, common.NewPersistenceError("commit_page", err)
	}
	return page, nil
}

// DocumentCommit is the terminal write of a run.
type DocumentCommit struct {
	Status        constants.DocumentStatus
	FailureReason string
	Understanding *entity.Understanding
	RawResponse   []byte
	LastPage      int
}

// CommitDocument flips the document to its terminal status in one transaction.
// ErrStaleRun (the document left processing underneath the run) is returned as is.
func (w *Writer) CommitDocument(ctx context.Context, documentID uuid.UUID, c DocumentCommit) (int, error) {
	var pages int
	res, err := stage.Run(ctx, w.policy, w.backoff, func(ctx context.Context) error {
		n, err := w.docs.Finish(ctx, documentID, repository.FinishParams{
			Status:        c.Status,
			FailureReason: c.FailureReason,
			Understanding: c.Understanding,
			RawResponse:   c.RawResponse,
			LastPage:      c.LastPage,
		})
		pages = n
		return err
	})
	switch {
	case err == nil:
		w.logger.Info("pipeline.commit_document.ok",
			"document_id", documentID, "status", c.Status, "pages", pages, "attempts", res.Attempts)
		return pages, nil
	case errors.Is(err, common.ErrStaleRun):
		w.logger.Warn("pipeline.commit_document.stale", "document_id", documentID, "status", c.Status)
		return 0, err
	default:
		w.logger.Error("pipeline.commit_document.failed",
			"document_id", documentID, "status", c.Status, "attempts", res.Attempts, "error", err)
		return 0, common.NewPersistenceError("commit_document", err)
	}
}

// MeanConfidence is the arithmetic mean of block confidences rounded to 4 places, 0 for no blocks.
func MeanConfidence(blocks []entity.Block) float64 {
	if len(blocks) == 0 {
		return 0
	}
	var sum float64
	for _, b := range blocks {
		sum += b.Confidence
	}
	return math.Round(sum/float64(len(blocks))*1e4) / 1e4
}
