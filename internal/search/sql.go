package search

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/internal/common"
)

type searchTextWriter interface {
	UpdateSearchText(ctx context.Context, id uuid.UUID, text *string) error
}

// SQL writes the flattened entry into documents.search_text.
type SQL struct {
	docs searchTextWriter
}

func NewSQL(docs searchTextWriter) *SQL {
	return &SQL{docs: docs}
}

func (s *SQL) Put(ctx context.Context, doc Document) error {
	id, err := uuid.Parse(doc.DocumentID)
	if err != nil {
		return errors.Join(common.ErrInvalidInput, err)
	}
	text := doc.Text()
	return s.docs.UpdateSearchText(ctx, id, &text)
}

func (s *SQL) Delete(ctx context.Context, id uuid.UUID) error {
	err := s.docs.UpdateSearchText(ctx, id, nil)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	return err
}
