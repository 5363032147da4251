package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

var documentColumns = []string{
	"id", "filename", "original_filename", "content_type", "file_size", "storage_key",
	"status", "failure_reason", "page_count", "category", "category_confidence", "summary",
	"tags", "entities", "document_date", "key_points", "ai_raw_response", "share_token",
	"is_public", "created_at", "updated_at",
}

// aiColumns are cleared on reprocess; raw OCR text lives in ocr_pages and is kept.
var aiColumns = []string{
	"category", "category_confidence", "summary", "tags", "entities",
	"document_date", "key_points", "ai_raw_response",
}

// FinishParams is the terminal write of a run.
type FinishParams struct {
	Status        constants.DocumentStatus
	FailureReason string
	Understanding *entity.Understanding
	RawResponse   []byte
	// LastPage drops page rows numbered above it on a completed finish; 0 keeps all rows.
	LastPage int
}

type DocumentRepository interface {
	Create(ctx context.Context, doc *entity.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error)
	ListByStatus(ctx context.Context, status constants.DocumentStatus, updatedBefore time.Time, limit int) ([]entity.Document, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	ResetForReprocess(ctx context.Context, id uuid.UUID) error
	Finish(ctx context.Context, id uuid.UUID, p FinishParams) (int, error)
	UpdateSearchText(ctx context.Context, id uuid.UUID, text *string) error
}

type documentRepo struct {
	db     *DB
	logger *slog.Logger
	now    func() time.Time
}

func NewDocumentRepository(db *DB, logger *slog.Logger) DocumentRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &documentRepo{
		db:     db,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a document in the uploaded state. The upload collaborator owns this write;
// it lives here so tools and tests can seed documents.
func (r *documentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.Status == "" {
		doc.Status = constants.StatusUploaded
	}
	now := r.now()
	doc.CreatedAt, doc.UpdatedAt = now, now

	q, args := r.db.builder().Insert(tableDocuments).
		Columns("id", "filename", "original_filename", "content_type", "file_size", "storage_key",
			"status", "share_token", "is_public", "created_at", "updated_at").
		Values(doc.ID, doc.Filename, doc.OriginalFilename, doc.ContentType, doc.FileSize, doc.StorageKey,
			string(doc.Status), nullString(doc.ShareToken), doc.IsPublic, now, now).
		Query()
	if _, err := exec(ctx, r.db.drv, q, args); err != nil {
		r.logger.Error("failed to create document", "document_id", doc.ID, "storage_key", doc.StorageKey, "error", err)
		return err
	}
	return nil
}

func (r *documentRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.Document, error) {
	return r.get(ctx, r.db.drv, id)
}

func (r *documentRepo) get(ctx context.Context, q dialect.ExecQuerier, id uuid.UUID) (*entity.Document, error) {
	b := r.db.builder()
	query, args := b.Select(documentColumns...).
		From(b.Table(tableDocuments)).
		Where(entsql.EQ("id", id)).
		Query()

	var out *entity.Document
	err := queryRows(ctx, q, query, args, func(rows *entsql.Rows) error {
		d, err := scanDocument(rows)
		if err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		r.logger.Error("failed to get document", "document_id", id, "error", err)
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return out, nil
}

func (r *documentRepo) ListByStatus(ctx context.Context, status constants.DocumentStatus, updatedBefore time.Time, limit int) ([]entity.Document, error) {
	b := r.db.builder()
	sel := b.Select(documentColumns...).
		From(b.Table(tableDocuments)).
		Where(entsql.EQ("status", string(status))).
		OrderBy("updated_at")
	if !updatedBefore.IsZero() {
		sel.Where(entsql.LT("updated_at", updatedBefore.UTC()))
	}
	if limit > 0 {
		sel.Limit(limit)
	}
	query, args := sel.Query()

	var out []entity.Document
	err := queryRows(ctx, r.db.drv, query, args, func(rows *entsql.Rows) error {
		d, err := scanDocument(rows)
		if err != nil {
			return err
		}
		out = append(out, *d)
		return nil
	})
	if err != nil {
		r.logger.Error("failed to list documents", "status", status, "error", err)
		return nil, err
	}
	return out, nil
}

// MarkProcessing moves an uploaded document to processing. False means it was not uploaded.
func (r *documentRepo) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	q, args := r.db.builder().Update(tableDocuments).
		Set("status", string(constants.StatusProcessing)).
		SetNull("failure_reason").
		Set("updated_at", r.now()).
		Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.StatusUploaded)),
		)).
		Query()
	n, err := exec(ctx, r.db.drv, q, args)
	if err != nil {
		r.logger.Error("failed to mark document processing", "document_id", id, "error", err)
		return false, err
	}
	return n == 1, nil
}

// ResetForReprocess flips a terminal document back to processing and clears AI-derived fields.
func (r *documentRepo) ResetForReprocess(ctx context.Context, id uuid.UUID) error {
	upd := r.db.builder().Update(tableDocuments).
		Set("status", string(constants.StatusProcessing)).
		SetNull("failure_reason").
		Set("updated_at", r.now())
	for _, c := range aiColumns {
		upd.SetNull(c)
	}
	q, args := upd.Where(entsql.And(
		entsql.EQ("id", id),
		entsql.In("status", string(constants.StatusCompleted), string(constants.StatusFailed)),
	)).Query()

	n, err := exec(ctx, r.db.drv, q, args)
	if err != nil {
		r.logger.Error("failed to reset document for reprocess", "document_id", id, "error", err)
		return err
	}
	if n == 1 {
		return nil
	}
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("document %s is %s: %w", id, doc.Status, common.ErrInvalidState)
}

// Finish is the single transaction that flips status to completed or failed.
// It is fenced on status=processing and returns the committed page count.
func (r *documentRepo) Finish(ctx context.Context, id uuid.UUID, p FinishParams) (int, error) {
	if !p.Status.IsTerminal() {
		return 0, fmt.Errorf("finish with non-terminal status %q: %w", p.Status, common.ErrInvalidInput)
	}
	var pages int
	err := r.db.withTx(ctx, func(tx dialect.Tx) error {
		b := r.db.builder()
		if p.Status == constants.StatusCompleted && p.LastPage > 0 {
			dq, dargs := b.Delete(tablePages).
				Where(entsql.And(
					entsql.EQ("document_id", id),
					entsql.GT("page_number", p.LastPage),
				)).Query()
			if _, err := exec(ctx, tx, dq, dargs); err != nil {
				return fmt.Errorf("prune pages: %w", err)
			}
		}
		cq, cargs := b.Select(entsql.Count("*")).
			From(b.Table(tablePages)).
			Where(entsql.EQ("document_id", id)).
			Query()
		if err := queryRows(ctx, tx, cq, cargs, func(rows *entsql.Rows) error {
			return rows.Scan(&pages)
		}); err != nil {
			return fmt.Errorf("count pages: %w", err)
		}

		upd := b.Update(tableDocuments).
			Set("status", string(p.Status)).
			Set("updated_at", r.now())
		if pages > 0 {
			upd.Set("page_count", pages)
		} else {
			upd.SetNull("page_count")
		}
		if p.Status == constants.StatusFailed {
			upd.Set("failure_reason", p.FailureReason)
		} else {
			upd.SetNull("failure_reason")
		}
		if err := setUnderstanding(upd, p.Understanding, p.RawResponse); err != nil {
			return err
		}

		q, args := upd.Where(entsql.And(
			entsql.EQ("id", id),
			entsql.EQ("status", string(constants.StatusProcessing)),
		)).Query()
		n, err := exec(ctx, tx, q, args)
		if err != nil {
			return err
		}
		if n != 1 {
			return fmt.Errorf("finish document %s: %w", id, common.ErrStaleRun)
		}
		return nil
	})
	if err != nil {
		r.logger.Error("failed to finish document", "document_id", id, "status", p.Status, "error", err)
		return 0, err
	}
	return pages, nil
}

func setUnderstanding(upd *entsql.UpdateBuilder, u *entity.Understanding, raw []byte) error {
	if u == nil {
		for _, c := range aiColumns {
			upd.SetNull(c)
		}
		return nil
	}
	tags, err := json.Marshal(nonNilSlice(u.Tags))
	if err != nil {
		return err
	}
	ents, err := json.Marshal(u.Entities)
	if err != nil {
		return err
	}
	points, err := json.Marshal(nonNilSlice(u.KeyPoints))
	if err != nil {
		return err
	}
	upd.Set("category", u.Category).
		Set("category_confidence", u.CategoryConfidence).
		Set("summary", u.Summary).
		Set("tags", string(tags)).
		Set("entities", string(ents)).
		Set("key_points", string(points))
	if u.DocumentDate != nil {
		upd.Set("document_date", *u.DocumentDate)
	} else {
		upd.SetNull("document_date")
	}
	if len(raw) > 0 {
		upd.Set("ai_raw_response", string(raw))
	} else {
		upd.SetNull("ai_raw_response")
	}
	return nil
}

func (r *documentRepo) UpdateSearchText(ctx context.Context, id uuid.UUID, text *string) error {
	upd := r.db.builder().Update(tableDocuments)
	if text != nil {
		upd.Set("search_text", *text)
	} else {
		upd.SetNull("search_text")
	}
	q, args := upd.Where(entsql.EQ("id", id)).Query()
	n, err := exec(ctx, r.db.drv, q, args)
	if err != nil {
		r.logger.Error("failed to update search text", "document_id", id, "error", err)
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return nil
}

func scanDocument(rows *entsql.Rows) (*entity.Document, error) {
	var (
		d                                     entity.Document
		status                                string
		failure, category, summary, date, raw sql.NullString
		tags, ents, points, share             sql.NullString
		pageCount                             sql.NullInt64
		confidence                            sql.NullFloat64
	)
	if err := rows.Scan(
		&d.ID, &d.Filename, &d.OriginalFilename, &d.ContentType, &d.FileSize, &d.StorageKey,
		&status, &failure, &pageCount, &category, &confidence, &summary,
		&tags, &ents, &date, &points, &raw, &share,
		&d.IsPublic, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return nil, err
	}
	d.Status = constants.DocumentStatus(status)
	d.FailureReason = stringPtr(failure)
	d.Category = stringPtr(category)
	d.Summary = stringPtr(summary)
	d.DocumentDate = stringPtr(date)
	d.AIRawResponse = stringPtr(raw)
	d.ShareToken = stringPtr(share)
	if pageCount.Valid {
		n := int(pageCount.Int64)
		d.PageCount = &n
	}
	if confidence.Valid {
		c := confidence.Float64
		d.CategoryConfidence = &c
	}
	if err := decodeJSON(tags, &d.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if err := decodeJSON(points, &d.KeyPoints); err != nil {
		return nil, fmt.Errorf("decode key_points: %w", err)
	}
	if ents.Valid && ents.String != "" {
		var e entity.Entities
		if err := json.Unmarshal([]byte(ents.String), &e); err != nil {
			return nil, fmt.Errorf("decode entities: %w", err)
		}
		d.Entities = &e
	}
	if d.Tags == nil {
		d.Tags = []string{}
	}
	if d.KeyPoints == nil {
		d.KeyPoints = []string{}
	}
	return &d, nil
}

func decodeJSON(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
