package repository

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"entgo.io/ent/dialect"
)

// Table and column names shared by the repositories.
const (
	tableDocuments = "documents"
	tablePages     = "ocr_pages"
)

// ddl is written for Postgres; sqliteTypes rewrites the few types SQLite spells differently.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id UUID PRIMARY KEY,
		filename TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		content_type TEXT NOT NULL,
		file_size BIGINT NOT NULL DEFAULT 0,
		storage_key TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'uploaded' CHECK (status IN ('uploaded', 'processing', 'completed', 'failed')),
		failure_reason TEXT,
		page_count INTEGER,
		category TEXT,
		category_confidence DOUBLE PRECISION,
		summary TEXT,
		tags JSONB,
		entities JSONB,
		document_date VARCHAR(20),
		key_points JSONB,
		ai_raw_response TEXT,
		search_text TEXT,
		share_token TEXT UNIQUE,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS documents_status_updated_idx ON documents (status, updated_at)`,
	`CREATE TABLE IF NOT EXISTS ocr_pages (
		id UUID PRIMARY KEY,
		document_id UUID NOT NULL REFERENCES documents (id) ON DELETE CASCADE,
		page_number INTEGER NOT NULL CHECK (page_number >= 1),
		width INTEGER NOT NULL DEFAULT 0,
		height INTEGER NOT NULL DEFAULT 0,
		full_text TEXT,
		blocks JSONB NOT NULL,
		tables JSONB NOT NULL,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
		page_image_url TEXT NOT NULL DEFAULT '',
		manually_corrected BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (document_id, page_number)
	)`,
}

var sqliteTypes = strings.NewReplacer(
	"UUID", "TEXT",
	"JSONB", "TEXT",
	"DOUBLE PRECISION", "REAL",
	"BIGINT", "INTEGER",
	"TIMESTAMPTZ", "DATETIME",
)

// Migrate creates the tables the pipeline owns. Statements are idempotent.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	for i, stmt := range ddl {
		if db.dialect == dialect.SQLite {
			stmt = sqliteTypes.Replace(stmt)
		}
		if err := db.drv.Exec(ctx, stmt, []any{}, nil); err != nil {
			logger.Error("migration failed", "statement", i, "error", err)
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	logger.Info("schema migrated", "dialect", db.dialect, "statements", len(ddl))
	return nil
}
