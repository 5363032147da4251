package export

import (
	"bytes"
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/repository"
	"github.com/joseph-ayodele/docscan/internal/repository/repotest"
)

const itemsTable = `<table><thead><tr><th>Item</th><th>Price</th></tr></thead>` +
	`<tbody><tr><td>Banana &amp; Co</td><td>120</td></tr><tr><td> Apple </td><td>80</td></tr></tbody></table>`

func TestParseTableHTML(t *testing.T) {
	rows, err := ParseTableHTML(itemsTable)
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Item", "Price"},
		{"Banana & Co", "120"},
		{"Apple", "80"},
	}, rows)

	rows, err = ParseTableHTML("<p>no table</p>")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestService_ExportDocumentXLSX(t *testing.T) {
	ctx := context.Background()
	db := repotest.Open(t)
	docs := repository.NewDocumentRepository(db, nil)
	pages := repository.NewPageRepository(db, nil)

	doc := &entity.Document{Filename: "a.pdf", OriginalFilename: "見積書.pdf", ContentType: "application/pdf", StorageKey: "k/a.pdf"}
	require.NoError(t, docs.Create(ctx, doc))
	text := "Item Price"
	require.NoError(t, pages.Upsert(ctx, &entity.OCRPage{
		DocumentID: doc.ID, PageNumber: 1, FullText: &text, Confidence: 0.9,
		Tables: []entity.Table{{BBox: entity.BBox{0, 0, 10, 10}, HTML: itemsTable}},
	}))
	require.NoError(t, pages.Upsert(ctx, &entity.OCRPage{DocumentID: doc.ID, PageNumber: 2}))
	ok, err := docs.MarkProcessing(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = docs.Finish(ctx, doc.ID, repository.FinishParams{
		Status: constants.StatusCompleted,
		Understanding: &entity.Understanding{
			Category: "Quotation", CategoryConfidence: 0.8, Summary: "quote",
			Tags:     []string{"a", "b"},
			Entities: entity.Entities{Organizations: []string{"ACME"}},
		},
	})
	require.NoError(t, err)

	out, err := NewService(docs, pages, nil).ExportDocumentXLSX(ctx, doc.ID)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(out))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Document", "Pages", "p1_t1"}, f.GetSheetList())

	rows, err := f.GetRows("Document")
	require.NoError(t, err)
	fields := map[string]string{}
	for _, r := range rows {
		if len(r) == 2 {
			fields[r[0]] = r[1]
		}
	}
	assert.Equal(t, "見積書.pdf", fields["Filename"])
	assert.Equal(t, "completed", fields["Status"])
	assert.Equal(t, "Quotation", fields["Category"])
	assert.Equal(t, "a, b", fields["Tags"])
	assert.Equal(t, "ACME", fields["Organizations"])

	table, err := f.GetRows("p1_t1")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"Item", "Price"}, {"Banana & Co", "120"}, {"Apple", "80"}}, table)

	pageRows, err := f.GetRows("Pages")
	require.NoError(t, err)
	assert.Len(t, pageRows, 3)
}

func TestService_ExportUnknownDocument(t *testing.T) {
	db := repotest.Open(t)
	svc := NewService(repository.NewDocumentRepository(db, nil), repository.NewPageRepository(db, nil), nil)
	_, err := svc.ExportDocumentXLSX(context.Background(), uuid.New())
	assert.ErrorIs(t, err, common.ErrNotFound)
}
