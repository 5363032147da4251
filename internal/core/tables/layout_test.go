package tables

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

func word(text string, x0, y0, x1, y1 float64) entity.Block {
	return entity.Block{Text: text, BBox: entity.BBox{x0, y0, x1, y1}, Confidence: 0.9}
}

func TestExtract_FindsGrid(t *testing.T) {
	words := []entity.Block{
		word("Item", 10, 100, 50, 120), word("Qty", 200, 100, 230, 120), word("Price", 300, 100, 350, 120),
		word("Apple", 10, 130, 60, 150), word("2", 205, 130, 215, 150), word("1.50", 300, 130, 340, 150),
		word("Banana", 10, 160, 70, 180), word("&", 75, 160, 85, 180), word("Co", 90, 160, 110, 180),
		word("3", 205, 160, 215, 180), word("0.75", 300, 160, 340, 180),
		word("Thank", 10, 300, 60, 320), word("you", 65, 300, 90, 320),
	}

	got, err := NewLayoutExtractor(Config{}).Extract(context.Background(), entity.PageImage{}, entity.PageText{Words: words})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, entity.BBox{10, 100, 350, 180}, got[0].BBox)
	assert.Equal(t,
		"<table><thead><tr><th>Item</th><th>Qty</th><th>Price</th></tr></thead>"+
			"<tbody><tr><td>Apple</td><td>2</td><td>1.50</td></tr>"+
			"<tr><td>Banana &amp; Co</td><td>3</td><td>0.75</td></tr></tbody></table>",
		got[0].HTML)
}

func TestExtract_ProseHasNoTables(t *testing.T) {
	words := []entity.Block{
		word("This", 10, 10, 40, 30), word("is", 45, 10, 55, 30), word("prose.", 60, 10, 100, 30),
		word("More", 10, 40, 45, 60), word("prose.", 50, 40, 90, 60),
	}
	got, err := NewLayoutExtractor(Config{}).Extract(context.Background(), entity.PageImage{}, entity.PageText{Words: words})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestExtract_NoWords(t *testing.T) {
	got, err := NewLayoutExtractor(Config{}).Extract(context.Background(), entity.PageImage{}, entity.PageText{})
	require.NoError(t, err)
	assert.Equal(t, []entity.Table{}, got)
}

func TestExtract_MinRows(t *testing.T) {
	words := []entity.Block{
		word("A", 10, 10, 20, 30), word("B", 200, 10, 210, 30),
		word("C", 10, 40, 20, 60), word("D", 200, 40, 210, 60),
	}
	got, err := NewLayoutExtractor(Config{MinRows: 3}).Extract(context.Background(), entity.PageImage{}, entity.PageText{Words: words})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtract_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLayoutExtractor(Config{}).Extract(ctx, entity.PageImage{}, entity.PageText{})
	assert.ErrorIs(t, err, context.Canceled)
}
