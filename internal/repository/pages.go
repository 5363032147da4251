package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

var pageColumns = []string{
	"id", "document_id", "page_number", "width", "height", "full_text", "blocks", "tables",
	"confidence", "page_image_url", "manually_corrected", "created_at", "updated_at",
}

// pipelineColumns are overwritten by a re-run of the page stages.
var pipelineColumns = []string{
	"width", "height", "full_text", "blocks", "tables", "confidence", "page_image_url", "updated_at",
}

type PageRepository interface {
	Upsert(ctx context.Context, page *entity.OCRPage) error
	Get(ctx context.Context, documentID uuid.UUID, pageNumber int) (*entity.OCRPage, error)
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.OCRPage, error)
	CorrectText(ctx context.Context, documentID uuid.UUID, pageNumber int, text string) error
}

type pageRepo struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewPageRepository(db *DB, logger *slog.Logger) PageRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &pageRepo{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Upsert writes one page keyed by (document_id, page_number). Re-running it with the
// same input leaves the row unchanged apart from updated_at; the row id and created_at
// of the first write are kept.
func (r *pageRepo) Upsert(ctx context.Context, p *entity.OCRPage) error {
	if p.PageNumber < 1 {
		return fmt.Errorf("page number %d: %w", p.PageNumber, common.ErrInvalidInput)
	}
	blocks, err := json.Marshal(nonNilSlice(p.Blocks))
	if err != nil {
		return fmt.Errorf("encode blocks: %w", err)
	}
	tables, err := json.Marshal(nonNilSlice(p.Tables))
	if err != nil {
		return fmt.Errorf("encode tables: %w", err)
	}
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := r.now()

	q, args := r.db.builder().Insert(tablePages).
		Columns(pageColumns...).
		Values(p.ID, p.DocumentID, p.PageNumber, p.Width, p.Height, nullString(p.FullText),
			string(blocks), string(tables), p.Confidence, p.PageImageURL, false, now, now).
		OnConflict(
			entsql.ConflictColumns("document_id", "page_number"),
			entsql.ResolveWith(func(u *entsql.UpdateSet) {
				for _, c := range pipelineColumns {
					u.SetExcluded(c)
				}
				u.Set("manually_corrected", false)
			}),
		).
		Query()
	if _, err := exec(ctx, r.db.drv, q, args); err != nil {
		r.logger.Error("failed to upsert ocr page", "document_id", p.DocumentID, "page", p.PageNumber, "error", err)
		return err
	}
	return nil
}

func (r *pageRepo) Get(ctx context.Context, documentID uuid.UUID, pageNumber int) (*entity.OCRPage, error) {
	pages, err := r.list(ctx, entsql.And(
		entsql.EQ("document_id", documentID),
		entsql.EQ("page_number", pageNumber),
	))
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("page %d of %s: %w", pageNumber, documentID, common.ErrNotFound)
	}
	return &pages[0], nil
}

func (r *pageRepo) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]entity.OCRPage, error) {
	return r.list(ctx, entsql.EQ("document_id", documentID))
}

func (r *pageRepo) list(ctx context.Context, where *entsql.Predicate) ([]entity.OCRPage, error) {
	b := r.db.builder()
	q, args := b.Select(pageColumns...).
		From(b.Table(tablePages)).
		Where(where).
		OrderBy("page_number").
		Query()

	var out []entity.OCRPage
	err := queryRows(ctx, r.db.drv, q, args, func(rows *entsql.Rows) error {
		p, err := scanPage(rows)
		if err != nil {
			return err
		}
		out = append(out, *p)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list ocr pages", "error", err)
		return nil, err
	}
	return out, nil
}

// CorrectText is the manual correction write path. The flag stays set until a
// re-run of the page stages overwrites the row.
func (r *pageRepo) CorrectText(ctx context.Context, documentID uuid.UUID, pageNumber int, text string) error {
	q, args := r.db.builder().Update(tablePages).
		Set("full_text", text).
		Set("manually_corrected", true).
		Set("updated_at", r.now()).
		Where(entsql.And(
			entsql.EQ("document_id", documentID),
			entsql.EQ("page_number", pageNumber),
		)).
		Query()
	n, err := exec(ctx, r.db.drv, q, args)
	if err != nil {
		r.logger.Error("failed to correct page text", "document_id", documentID, "page", pageNumber, "error", err)
		return err
	}
	if n == 0 {
		return fmt.Errorf("page %d of %s: %w", pageNumber, documentID, common.ErrNotFound)
	}
	return nil
}

func scanPage(rows *entsql.Rows) (*entity.OCRPage, error) {
	var (
		p              entity.OCRPage
		fullText       sql.NullString
		blocks, tables sql.NullString
	)
	if err := rows.Scan(
		&p.ID, &p.DocumentID, &p.PageNumber, &p.Width, &p.Height, &fullText, &blocks, &tables,
		&p.Confidence, &p.PageImageURL, &p.ManuallyCorrected, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}
	p.FullText = stringPtr(fullText)
	if err := decodeJSON(blocks, &p.Blocks); err != nil {
		return nil, fmt.Errorf("decode blocks: %w", err)
	}
	if err := decodeJSON(tables, &p.Tables); err != nil {
		return nil, fmt.Errorf("decode tables: %w", err)
	}
	if p.Blocks == nil {
		p.Blocks = []entity.Block{}
	}
	if p.Tables == nil {
		p.Tables = []entity.Table{}
	}
	return &p, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
