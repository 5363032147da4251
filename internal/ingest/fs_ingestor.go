package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/async"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/repository"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

// intakeNamespace derives document ids from content hashes so a file dropped
// twice maps onto the same document.
var intakeNamespace = uuid.MustParse("6f2d9a4e-3b1c-4e8a-9d7f-0c5b8e1a2f34")

// Enqueuer queues a document for its first run.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID uuid.UUID, reason constants.JobReason) (async.Job, error)
}

// FSIngestor reads single-page images from the local filesystem. Each file
// becomes one uploaded document whose page 1 is the file itself.
type FSIngestor struct {
	Docs     repository.DocumentRepository
	Store    storage.PageStore
	Enqueuer Enqueuer
	logger   *slog.Logger
}

func NewFSIngestor(docs repository.DocumentRepository, store storage.PageStore, enq Enqueuer, logger *slog.Logger) *FSIngestor {
	if logger == nil {
		logger = slog.Default()
	}
	return &FSIngestor{Docs: docs, Store: store, Enqueuer: enq, logger: logger}
}

// AllowedExt checks if a file extension is an accepted page image format.
func AllowedExt(ext string) bool {
	_, ok := constants.AllowedPageExtensions[constants.NormalizeExt(ext)]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func (i *FSIngestor) IngestPath(ctx context.Context, path string) (IngestionResult, error) {
	var out IngestionResult

	abs, err := filepath.Abs(path)
	if err != nil {
		return out, fmt.Errorf("abs path: %w", err)
	}
	ext := constants.NormalizeExt(filepath.Ext(abs))
	if ext == "" || !AllowedExt(ext) {
		return out, fmt.Errorf("unsupported or missing extension %q: %w", ext, common.ErrInvalidInput)
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		i.logger.Error("ingest.read.failed", "path", abs, "error", err)
		return out, err
	}
	sum := sha256.Sum256(data)
	hexHash := hex.EncodeToString(sum[:])
	id := uuid.NewSHA1(intakeNamespace, sum[:])

	out = IngestionResult{SourcePath: abs, DocumentID: id.String(), HashHex: hexHash, FileExt: ext}

	existing, err := i.Docs.GetByID(ctx, id)
	switch {
	case err == nil:
		out.Deduplicated = true
		out.UploadedAt = existing.CreatedAt
		i.logger.Debug("ingest.path.deduplicated", "path", abs, "document_id", id)
		return out, nil
	case !errors.Is(err, common.ErrNotFound):
		return out, err
	}

	doc := &entity.Document{
		ID:               id,
		Filename:         hexHash[:16] + "." + ext,
		OriginalFilename: filepath.Base(abs),
		ContentType:      constants.MimeTypeForExt(ext),
		FileSize:         int64(len(data)),
		StorageKey:       "intake/" + hexHash[:16] + "." + ext,
	}
	// pages first: a document row without pages would fail its first run
	if err := i.Store.PutPage(ctx, doc.StorageKey, 1, data); err != nil {
		return out, err
	}
	if err := i.Docs.Create(ctx, doc); err != nil {
		return out, err
	}
	out.UploadedAt = doc.CreatedAt

	if i.Enqueuer != nil {
		if _, err := i.Enqueuer.Enqueue(ctx, id, constants.ReasonInitial); err != nil && !errors.Is(err, common.ErrAlreadyActive) {
			return out, err
		}
	}
	i.logger.Info("ingest.path.ok", "path", abs, "document_id", id, "bytes", len(data))
	return out, nil
}

// IngestDirectory walks root, skips hidden if requested,
// and calls IngestPath for each file. Returns per-file results + aggregate stats.
func (i *FSIngestor) IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, DirStats{}, errors.New("root_path is required")
	}

	var results []IngestionResult
	var stats DirStats

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: walkErr.Error()})
			stats.Failed++
			return nil
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		r, err := i.IngestPath(ctx, path)
		if err != nil {
			results = append(results, IngestionResult{SourcePath: path, Err: err.Error()})
			stats.Failed++
			return nil
		}

		results = append(results, r)
		stats.Succeeded++
		if r.Deduplicated {
			stats.Deduplicated++
		}
		return nil
	})

	if err != nil {
		return results, stats, fmt.Errorf("walk: %w", err)
	}
	return results, stats, nil
}
