package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// GCS reads pages from one Cloud Storage bucket.
type GCS struct {
	bucket *storage.BucketHandle
	name   string
	logger *slog.Logger
}

func NewGCS(client *storage.Client, bucket string, logger *slog.Logger) *GCS {
	if logger == nil {
		logger = slog.Default()
	}
	return &GCS{bucket: client.Bucket(bucket), name: bucket, logger: logger}
}

func (s *GCS) ListPages(ctx context.Context, documentID uuid.UUID, storageKey string) ([]entity.PageRef, error) {
	prefix := constants.PagePrefix(storageKey)
	it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix, Delimiter: "/"})

	refs := []entity.PageRef{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, common.NewTransientEngineError(constants.StageTextRecognition, fmt.Errorf("list gs://%s/%s: %w", s.name, prefix, err))
		}
		if n, ok := pageNumber(prefix, attrs.Name); ok {
			refs = append(refs, entity.PageRef{DocumentID: documentID, Number: n, Key: attrs.Name})
		}
	}
	return sortRefs(refs), nil
}

func (s *GCS) LoadPage(ctx context.Context, ref entity.PageRef) (entity.PageImage, error) {
	r, err := s.bucket.Object(ref.Key).NewReader(ctx)
	if err != nil {
		return entity.PageImage{}, classify(ref.Key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return entity.PageImage{}, common.NewTransientEngineError(constants.StageTextRecognition, fmt.Errorf("read gs://%s/%s: %w", s.name, ref.Key, err))
	}
	img := entity.PageImage{
		DocumentID:  ref.DocumentID,
		Number:      ref.Number,
		Key:         ref.Key,
		URL:         fmt.Sprintf("gs://%s/%s", s.name, ref.Key),
		ContentType: r.Attrs.ContentType,
		Data:        data,
	}
	decodeSize(&img)
	return img, nil
}

func (s *GCS) PutPage(ctx context.Context, storageKey string, page int, data []byte) error {
	key, err := pageKey(storageKey, page)
	if err != nil {
		return errors.Join(common.ErrInvalidInput, err)
	}
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = constants.MimeTypeForExt(constants.PageImageExt)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to write to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	s.logger.Debug("storage.page.put", "bucket", s.name, "key", key, "bytes", len(data))
	return nil
}

func classify(key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return common.NewPermanentEngineError(constants.StageTextRecognition, fmt.Errorf("page image %s: %w", key, err))
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 && gerr.Code != http.StatusTooManyRequests {
		return common.NewPermanentEngineError(constants.StageTextRecognition, fmt.Errorf("page image %s: %w", key, err))
	}
	return common.NewTransientEngineError(constants.StageTextRecognition, fmt.Errorf("page image %s: %w", key, err))
}
