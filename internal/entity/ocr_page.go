package entity

import (
	"time"

	"github.com/google/uuid"
)

// BBox is [xmin, ymin, xmax, ymax] in page pixels.
type BBox [4]float64

func (b BBox) Width() float64  { return b[2] - b[0] }
func (b BBox) Height() float64 { return b[3] - b[1] }

// Union returns the smallest box covering both.
func (b BBox) Union(o BBox) BBox {
	return BBox{min(b[0], o[0]), min(b[1], o[1]), max(b[2], o[2]), max(b[3], o[3])}
}

// Block is one recognized run of text on a page.
type Block struct {
	Text       string  `json:"text"`
	BBox       BBox    `json:"bbox"`
	Confidence float64 `json:"confidence"`
}

// Table is one extracted table; HTML is rendered as-is by consumers.
type Table struct {
	BBox BBox   `json:"bbox"`
	HTML string `json:"html"`
}

// PageText is the output of the text recognition stage for one page.
// Words are kept for layout consumers and never persisted.
type PageText struct {
	FullText   string
	Blocks     []Block
	Words      []Block
	Confidence float64
}

// OCRPage represents a persisted page result for data transfer between layers.
type OCRPage struct {
	ID                uuid.UUID `json:"id"`
	DocumentID        uuid.UUID `json:"document_id"`
	PageNumber        int       `json:"page_number"`
	Width             int       `json:"width"`
	Height            int       `json:"height"`
	FullText          *string   `json:"full_text,omitempty"`
	Blocks            []Block   `json:"blocks"`
	Tables            []Table   `json:"tables"`
	Confidence        float64   `json:"confidence"`
	PageImageURL      string    `json:"page_image_url"`
	ManuallyCorrected bool      `json:"manually_corrected"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
