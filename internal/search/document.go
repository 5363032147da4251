// Package search projects completed documents into the search index.
package search

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

// Index is a search backend. Delete of a missing entry is not an error.
type Index interface {
	Put(ctx context.Context, doc Document) error
	Delete(ctx context.Context, documentID uuid.UUID) error
}

// Document is the denormalized search entry of one completed document.
type Document struct {
	DocumentID            string    `json:"document_id"`
	OriginalFilename      string    `json:"original_filename"`
	ContentType           string    `json:"content_type"`
	OCRText               string    `json:"ocr_text"`
	Summary               string    `json:"summary"`
	Category              *string   `json:"category"`
	Tags                  []string  `json:"tags"`
	EntitiesPeople        []string  `json:"entities_people"`
	EntitiesOrganizations []string  `json:"entities_organizations"`
	EntitiesDates         []string  `json:"entities_dates"`
	EntitiesAmounts       []string  `json:"entities_amounts"`
	EntitiesAddresses     []string  `json:"entities_addresses"`
	EntitiesReferences    []string  `json:"entities_references"`
	KeyPoints             []string  `json:"key_points"`
	DocumentDate          *string   `json:"document_date"`
	PageCount             *int      `json:"page_count"`
	FileSize              int64     `json:"file_size"`
	CreatedAt             time.Time `json:"created_at"`
}

// FromDocument builds the entry from a committed document and its pages in page order.
func FromDocument(doc entity.Document, pages []entity.OCRPage) Document {
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.FullText != nil && *p.FullText != "" {
			texts = append(texts, *p.FullText)
		}
	}
	name := doc.OriginalFilename
	if name == "" {
		name = doc.Filename
	}

	out := Document{
		DocumentID:       doc.ID.String(),
		OriginalFilename: name,
		ContentType:      doc.ContentType,
		OCRText:          strings.Join(texts, constants.PageBreak),
		Category:         doc.Category,
		Tags:             list(doc.Tags),
		KeyPoints:        list(doc.KeyPoints),
		DocumentDate:     doc.DocumentDate,
		PageCount:        doc.PageCount,
		FileSize:         doc.FileSize,
		CreatedAt:        doc.CreatedAt,
	}
	if doc.Summary != nil {
		out.Summary = *doc.Summary
	}
	var e entity.Entities
	if doc.Entities != nil {
		e = *doc.Entities
	}
	out.EntitiesPeople = list(e.People)
	out.EntitiesOrganizations = list(e.Organizations)
	out.EntitiesDates = list(e.Dates)
	out.EntitiesAmounts = list(e.Amounts)
	out.EntitiesAddresses = list(e.Addresses)
	out.EntitiesReferences = list(e.References)
	return out
}

// Text is the flattened form used by the SQL fallback.
func (d Document) Text() string {
	parts := []string{d.OriginalFilename, d.OCRText, d.Summary}
	parts = append(parts, d.KeyPoints...)
	parts = append(parts, d.Tags...)
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func list(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
