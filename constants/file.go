package constants

import (
	"fmt"
	"path"
	"strings"
)

// PageImageExt is the extension of rasterized page images in the object store.
const PageImageExt = "png"

// PageBreak separates page texts in the aggregated document text.
const PageBreak = "\n\n--- Page Break ---\n\n"

// AllowedPageExtensions holds the image formats the recognition engine accepts.
var AllowedPageExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"tif":  {},
	"tiff": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// PagePrefix returns the object prefix holding the rasterized pages of a stored document.
// "uploads/abc.pdf" -> "uploads/abc/pages/"
func PagePrefix(storageKey string) string {
	base := strings.TrimSuffix(storageKey, path.Ext(storageKey))
	return base + "/pages/"
}

// PageImageKey returns the object key of one rasterized page (1-based).
func PageImageKey(storageKey string, page int) string {
	return fmt.Sprintf("%s%04d.%s", PagePrefix(storageKey), page, PageImageExt)
}

// MimeTypeForExt maps a page image extension to its content type.
func MimeTypeForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "tif", "tiff":
		return "image/tiff"
	default:
		return "image/png"
	}
}
