// Package ingest turns page images dropped on the local filesystem into
// uploaded documents and queues them for processing.
package ingest

import (
	"context"
	"time"
)

// IngestionResult is the per-file ingest outcome.
type IngestionResult struct {
	SourcePath   string
	DocumentID   string
	Deduplicated bool
	HashHex      string
	FileExt      string
	UploadedAt   time.Time
	Err          string
}

// DirStats summarizes a directory ingest.
type DirStats struct {
	Scanned      uint32
	Matched      uint32
	Succeeded    uint32
	Deduplicated uint32
	Failed       uint32
}

// Ingestor is the behavior the CLI and daemon depend on.
type Ingestor interface {
	// IngestPath a single path.
	IngestPath(ctx context.Context, path string) (IngestionResult, error)
	// IngestDirectory ingests all matching files under root.
	IngestDirectory(ctx context.Context, root string, skipHidden bool) ([]IngestionResult, DirStats, error)
}
