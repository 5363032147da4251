package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/metrics"
	"github.com/joseph-ayodele/docscan/internal/repository"
	"github.com/joseph-ayodele/docscan/internal/search"
)

// Publisher keeps the search index in step with committed documents.
// A nil index turns both operations into no-ops.
type Publisher struct {
	docs    repository.DocumentRepository
	pages   repository.PageRepository
	index   search.Index
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewPublisher(docs repository.DocumentRepository, pages repository.PageRepository, index search.Index, m *metrics.Metrics, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{docs: docs, pages: pages, index: index, metrics: m, logger: logger}
}

// Publish projects the committed document into the index. A document that is not
// completed is retracted instead.
func (p *Publisher) Publish(ctx context.Context, documentID uuid.UUID) error {
	if p.index == nil {
		return nil
	}
	doc, err := p.docs.GetByID(ctx, documentID)
	if err != nil {
		return p.failed("publish", documentID, err)
	}
	if doc.Status != constants.StatusCompleted {
		p.logger.Warn("index.publish.not_completed", "document_id", documentID, "status", doc.Status)
		return p.Retract(ctx, documentID)
	}
	pages, err := p.pages.ListByDocument(ctx, documentID)
	if err != nil {
		return p.failed("publish", documentID, err)
	}
	if err := p.index.Put(ctx, search.FromDocument(*doc, pages)); err != nil {
		return p.failed("publish", documentID, err)
	}
	p.metrics.RecordIndex("publish", nil)
	p.logger.Info("index.publish.ok", "document_id", documentID, "pages", len(pages))
	return nil
}

// Retract removes the document from the index; a missing entry is success.
func (p *Publisher) Retract(ctx context.Context, documentID uuid.UUID) error {
	if p.index == nil {
		return nil
	}
	if err := p.index.Delete(ctx, documentID); err != nil {
		return p.failed("retract", documentID, err)
	}
	p.metrics.RecordIndex("retract", nil)
	p.logger.Info("index.retract.ok", "document_id", documentID)
	return nil
}

func (p *Publisher) failed(op string, documentID uuid.UUID, err error) error {
	p.metrics.RecordIndex(op, err)
	p.logger.Error(fmt.Sprintf("index.%s.failed", op), "document_id", documentID, "error", err)
	return common.NewIndexPublishError(op, err)
}
