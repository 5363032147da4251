// Package storage reads rasterized page images from the object store.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// PageStore lists and loads the page images of a stored document.
type PageStore interface {
	ListPages(ctx context.Context, documentID uuid.UUID, storageKey string) ([]entity.PageRef, error)
	LoadPage(ctx context.Context, ref entity.PageRef) (entity.PageImage, error)
	PutPage(ctx context.Context, storageKey string, page int, data []byte) error
}

// pageNumber parses "{prefix}0007.png" into 7; ok is false for anything else under the prefix.
func pageNumber(prefix, key string) (int, bool) {
	rest := strings.TrimPrefix(key, prefix)
	if rest == key || strings.Contains(rest, "/") {
		return 0, false
	}
	ext := path.Ext(rest)
	if _, ok := constants.AllowedPageExtensions[constants.NormalizeExt(ext)]; !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(rest, ext))
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func sortRefs(refs []entity.PageRef) []entity.PageRef {
	sort.Slice(refs, func(i, j int) bool { return refs[i].Number < refs[j].Number })
	return refs
}

// decodeSize fills width and height when the format is decodable; unknown formats stay 0x0.
func decodeSize(img *entity.PageImage) {
	if cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data)); err == nil {
		img.Width, img.Height = cfg.Width, cfg.Height
	}
	if img.ContentType == "" {
		img.ContentType = constants.MimeTypeForExt(path.Ext(img.Key))
	}
}

func pageKey(storageKey string, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("page number must be >= 1, got %d", page)
	}
	return constants.PageImageKey(storageKey, page), nil
}
