// Package tables finds grid-shaped regions in recognized word boxes and renders
// them as HTML tables.
package tables

import (
	"context"
	"html"
	"math"
	"sort"
	"strings"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

type Config struct {
	MinRows int // default 2
	MinCols int // default 2
	// GapFactor times the median word height separates two cells on a row.
	GapFactor float64
}

// LayoutExtractor detects tables from word geometry alone.
type LayoutExtractor struct {
	cfg Config
}

func NewLayoutExtractor(cfg Config) *LayoutExtractor {
	if cfg.MinRows < 2 {
		cfg.MinRows = 2
	}
	if cfg.MinCols < 2 {
		cfg.MinCols = 2
	}
	if cfg.GapFactor <= 0 {
		cfg.GapFactor = 1.5
	}
	return &LayoutExtractor{cfg: cfg}
}

type cell struct {
	text string
	bbox entity.BBox
}

type row struct {
	bbox  entity.BBox
	cells []cell
}

// Extract returns the tables found on the page; a page without tables yields an empty slice.
func (x *LayoutExtractor) Extract(ctx context.Context, img entity.PageImage, text entity.PageText) ([]entity.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tables := []entity.Table{}
	if len(text.Words) == 0 {
		return tables, nil
	}

	gap := x.cfg.GapFactor * medianHeight(text.Words)
	rows := groupRows(text.Words, gap)

	var run []row
	flush := func() {
		if len(run) >= x.cfg.MinRows {
			tables = append(tables, render(run))
		}
		run = nil
	}
	for _, r := range rows {
		if len(r.cells) >= x.cfg.MinCols {
			run = append(run, r)
			continue
		}
		flush()
	}
	flush()
	return tables, nil
}

func medianHeight(words []entity.Block) float64 {
	hs := make([]float64, 0, len(words))
	for _, w := range words {
		hs = append(hs, w.BBox.Height())
	}
	sort.Float64s(hs)
	return hs[len(hs)/2]
}

// groupRows clusters words whose vertical centers fall inside the current row's
// band, then splits each row into cells at horizontal gaps wider than gap.
func groupRows(words []entity.Block, gap float64) []row {
	ws := append([]entity.Block(nil), words...)
	sort.SliceStable(ws, func(i, j int) bool {
		ci, cj := center(ws[i].BBox), center(ws[j].BBox)
		if ci != cj {
			return ci < cj
		}
		return ws[i].BBox[0] < ws[j].BBox[0]
	})

	var lines [][]entity.Block
	var band entity.BBox
	for _, w := range ws {
		c := center(w.BBox)
		if len(lines) > 0 && c >= band[1] && c <= band[3] {
			lines[len(lines)-1] = append(lines[len(lines)-1], w)
			band = band.Union(w.BBox)
			continue
		}
		lines = append(lines, []entity.Block{w})
		band = w.BBox
	}

	rows := make([]row, 0, len(lines))
	for _, ln := range lines {
		sort.SliceStable(ln, func(i, j int) bool { return ln[i].BBox[0] < ln[j].BBox[0] })
		r := row{bbox: ln[0].BBox}
		cur := cell{text: ln[0].Text, bbox: ln[0].BBox}
		for _, w := range ln[1:] {
			r.bbox = r.bbox.Union(w.BBox)
			if w.BBox[0]-cur.bbox[2] > gap {
				r.cells = append(r.cells, cur)
				cur = cell{text: w.Text, bbox: w.BBox}
				continue
			}
			cur.text += " " + w.Text
			cur.bbox = cur.bbox.Union(w.BBox)
		}
		r.cells = append(r.cells, cur)
		rows = append(rows, r)
	}
	return rows
}

func center(b entity.BBox) float64 { return (b[1] + b[3]) / 2 }

// render aligns every row onto the column anchors of the widest row; the first
// row becomes the header.
func render(rows []row) entity.Table {
	anchors := rows[0].cells
	bbox := rows[0].bbox
	for _, r := range rows[1:] {
		if len(r.cells) > len(anchors) {
			anchors = r.cells
		}
		bbox = bbox.Union(r.bbox)
	}

	var sb strings.Builder
	sb.WriteString("<table>")
	for i, r := range rows {
		if i == 0 {
			sb.WriteString("<thead>")
		} else if i == 1 {
			sb.WriteString("<tbody>")
		}
		tag := "td"
		if i == 0 {
			tag = "th"
		}
		slots := make([]string, len(anchors))
		for _, c := range r.cells {
			k := nearest(anchors, c.bbox)
			if slots[k] != "" {
				slots[k] += " "
			}
			slots[k] += c.text
		}
		sb.WriteString("<tr>")
		for _, s := range slots {
			sb.WriteString("<" + tag + ">" + html.EscapeString(s) + "</" + tag + ">")
		}
		sb.WriteString("</tr>")
		if i == 0 {
			sb.WriteString("</thead>")
		}
	}
	sb.WriteString("</tbody></table>")

	return entity.Table{
		BBox: entity.BBox{math.Round(bbox[0]*10) / 10, math.Round(bbox[1]*10) / 10, math.Round(bbox[2]*10) / 10, math.Round(bbox[3]*10) / 10},
		HTML: sb.String(),
	}
}

func nearest(anchors []cell, b entity.BBox) int {
	best, dist := 0, math.Inf(1)
	mid := (b[0] + b[2]) / 2
	for i, a := range anchors {
		if mid >= a.bbox[0] && mid <= a.bbox[2] {
			return i
		}
		d := math.Min(math.Abs(mid-a.bbox[0]), math.Abs(mid-a.bbox[2]))
		if d < dist {
			best, dist = i, d
		}
	}
	return best
}
