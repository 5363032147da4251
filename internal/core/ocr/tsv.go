package ocr

import (
	"math"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

// tesseract TSV columns
const (
	colLevel = iota
	colPage
	colBlock
	colPar
	colLine
	colWord
	colLeft
	colTop
	colWidth
	colHeight
	colConf
	colText
	numCols
)

const levelWord = 5

type lineKey struct{ block, par, line int }

type lineAcc struct {
	words []string
	bbox  entity.BBox
	conf  float64
}

// ParseTSV groups word rows into line blocks. Block confidence is the mean word
// confidence on a 0..1 scale; page confidence is the mean over blocks.
func ParseTSV(out []byte) entity.PageText {
	var (
		order []lineKey
		lines = map[lineKey]*lineAcc{}
		words []entity.Block
	)
	for i, ln := range strings.Split(string(out), "\n") {
		if i == 0 || ln == "" {
			continue // header
		}
		cols := strings.Split(strings.TrimRight(ln, "\r"), "\t")
		if len(cols) < numCols {
			continue
		}
		if atoi(cols[colLevel]) != levelWord {
			continue
		}
		conf, err := strconv.ParseFloat(cols[colConf], 64)
		if err != nil || conf < 0 {
			continue
		}
		text := NormalizeWord(strings.Join(cols[colText:], " "))
		if text == "" {
			continue
		}
		left, top := float64(atoi(cols[colLeft])), float64(atoi(cols[colTop]))
		box := entity.BBox{left, top, left + float64(atoi(cols[colWidth])), top + float64(atoi(cols[colHeight]))}
		words = append(words, entity.Block{Text: text, BBox: box, Confidence: round(conf/100, 4)})

		k := lineKey{atoi(cols[colBlock]), atoi(cols[colPar]), atoi(cols[colLine])}
		acc, ok := lines[k]
		if !ok {
			acc = &lineAcc{bbox: box}
			lines[k] = acc
			order = append(order, k)
		}
		acc.words = append(acc.words, text)
		acc.bbox = acc.bbox.Union(box)
		acc.conf += conf
	}

	page := entity.PageText{Blocks: make([]entity.Block, 0, len(order)), Words: words}
	texts := make([]string, 0, len(order))
	var sum float64
	for _, k := range order {
		acc := lines[k]
		b := entity.Block{
			Text:       NormalizeLine(strings.Join(acc.words, " ")),
			BBox:       roundBox(acc.bbox),
			Confidence: round(acc.conf/float64(len(acc.words))/100, 4),
		}
		page.Blocks = append(page.Blocks, b)
		texts = append(texts, b.Text)
		sum += b.Confidence
	}
	page.FullText = strings.Join(texts, "\n")
	if len(page.Blocks) > 0 {
		page.Confidence = round(sum/float64(len(page.Blocks)), 4)
	}
	return page
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func roundBox(b entity.BBox) entity.BBox {
	return entity.BBox{round(b[0], 1), round(b[1], 1), round(b[2], 1), round(b[3], 1)}
}
