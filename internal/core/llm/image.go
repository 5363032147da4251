package llm

import (
	"encoding/base64"
	"path"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// MaxVisionBytes caps the page image we are willing to inline into a request.
const MaxVisionBytes = 8 << 20

// ShouldAttachImage reports whether img can be sent as vision input and returns its mime type.
func ShouldAttachImage(img *entity.PageImage) (bool, string) {
	if img == nil || len(img.Data) == 0 || len(img.Data) > MaxVisionBytes {
		return false, ""
	}
	mt := img.ContentType
	if mt == "" {
		mt = constants.MimeTypeForExt(path.Ext(img.Key))
	}
	if mt == "image/tiff" {
		// neither provider accepts tiff inline
		return false, ""
	}
	return true, mt
}

// DataURL renders img as a base64 data URL.
func DataURL(img *entity.PageImage, mimeType string) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
