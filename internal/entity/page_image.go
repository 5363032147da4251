package entity

import "github.com/google/uuid"

// PageRef points at one rasterized page in the object store.
type PageRef struct {
	DocumentID uuid.UUID
	Number     int
	Key        string
}

// PageImage is a loaded rasterized page.
type PageImage struct {
	DocumentID  uuid.UUID
	Number      int
	Key         string
	URL         string
	ContentType string
	Data        []byte
	Width       int
	Height      int
}
