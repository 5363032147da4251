package entity

import (
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
)

// Document represents an uploaded document for data transfer between layers.
// Identity and storage fields belong to the upload collaborator; everything
// processing-derived is written only by the pipeline.
type Document struct {
	ID                 uuid.UUID                `json:"id"`
	Filename           string                   `json:"filename"`
	OriginalFilename   string                   `json:"original_filename"`
	ContentType        string                   `json:"content_type"`
	FileSize           int64                    `json:"file_size"`
	StorageKey         string                   `json:"storage_key"`
	Status             constants.DocumentStatus `json:"status"`
	FailureReason      *string                  `json:"failure_reason,omitempty"`
	PageCount          *int                     `json:"page_count,omitempty"`
	Category           *string                  `json:"category,omitempty"`
	CategoryConfidence *float64                 `json:"category_confidence,omitempty"`
	Summary            *string                  `json:"summary,omitempty"`
	Tags               []string                 `json:"tags"`
	Entities           *Entities                `json:"entities,omitempty"`
	DocumentDate       *string                  `json:"document_date,omitempty"`
	KeyPoints          []string                 `json:"key_points"`
	AIRawResponse      *string                  `json:"-"`
	ShareToken         *string                  `json:"share_token,omitempty"`
	IsPublic           bool                     `json:"is_public"`
	CreatedAt          time.Time                `json:"created_at"`
	UpdatedAt          time.Time                `json:"updated_at"`
}

// HasUnderstanding reports whether any AI-derived field is populated.
func (d *Document) HasUnderstanding() bool {
	return d.Category != nil || d.Summary != nil || len(d.Tags) > 0 ||
		d.Entities != nil || d.DocumentDate != nil || len(d.KeyPoints) > 0
}

// Entities groups named entities found in a document by kind.
type Entities struct {
	People        []string `json:"people"`
	Organizations []string `json:"organizations"`
	Dates         []string `json:"dates"`
	Amounts       []string `json:"amounts"`
	Addresses     []string `json:"addresses"`
	References    []string `json:"references"`
}

// Empty reports whether no entity of any kind is present.
func (e Entities) Empty() bool {
	return len(e.People) == 0 && len(e.Organizations) == 0 && len(e.Dates) == 0 &&
		len(e.Amounts) == 0 && len(e.Addresses) == 0 && len(e.References) == 0
}

// Understanding is the structured result of the document understanding stage.
type Understanding struct {
	Category           string   `json:"category"`
	CategoryConfidence float64  `json:"category_confidence"`
	Summary            string   `json:"summary"`
	Tags               []string `json:"tags"`
	Entities           Entities `json:"entities"`
	DocumentDate       *string  `json:"document_date"`
	KeyPoints          []string `json:"key_points"`
}
