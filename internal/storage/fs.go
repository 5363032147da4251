package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// FS stores objects as files under Root; keys are slash-separated relative paths.
type FS struct {
	Root   string
	logger *slog.Logger
}

func NewFS(root string, logger *slog.Logger) *FS {
	if logger == nil {
		logger = slog.Default()
	}
	return &FS{Root: root, logger: logger}
}

func (s *FS) path(key string) string {
	return filepath.Join(s.Root, filepath.FromSlash(key))
}

func (s *FS) ListPages(ctx context.Context, documentID uuid.UUID, storageKey string) ([]entity.PageRef, error) {
	prefix := constants.PagePrefix(storageKey)
	entries, err := os.ReadDir(s.path(prefix))
	if errors.Is(err, fs.ErrNotExist) {
		return []entity.PageRef{}, nil
	}
	if err != nil {
		return nil, common.NewTransientEngineError(constants.StageTextRecognition, fmt.Errorf("list pages: %w", err))
	}

	refs := make([]entity.PageRef, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		key := prefix + e.Name()
		if n, ok := pageNumber(prefix, key); ok {
			refs = append(refs, entity.PageRef{DocumentID: documentID, Number: n, Key: key})
		}
	}
	return sortRefs(refs), nil
}

func (s *FS) LoadPage(ctx context.Context, ref entity.PageRef) (entity.PageImage, error) {
	p := s.path(ref.Key)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return entity.PageImage{}, common.NewPermanentEngineError(constants.StageTextRecognition, fmt.Errorf("page image %s: %w", ref.Key, err))
	}
	if err != nil {
		return entity.PageImage{}, common.NewTransientEngineError(constants.StageTextRecognition, fmt.Errorf("read page image %s: %w", ref.Key, err))
	}
	abs, _ := filepath.Abs(p)
	img := entity.PageImage{
		DocumentID: ref.DocumentID,
		Number:     ref.Number,
		Key:        ref.Key,
		URL:        "file://" + filepath.ToSlash(abs),
		Data:       data,
	}
	decodeSize(&img)
	return img, nil
}

func (s *FS) PutPage(ctx context.Context, storageKey string, page int, data []byte) error {
	key, err := pageKey(storageKey, page)
	if err != nil {
		return errors.Join(common.ErrInvalidInput, err)
	}
	p := s.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	s.logger.Debug("storage.page.put", "key", key, "bytes", len(data))
	return os.Rename(tmp, p)
}
