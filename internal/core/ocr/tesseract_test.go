package ocr

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/exec"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t800\t1000\t-1\t\n" +
	"4\t1\t1\t1\t1\t0\t10\t20\t200\t30\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t20\t80\t30\t90\tInvoice\n" +
	"5\t1\t1\t1\t1\t2\t100\t22\t110\t28\t96\tNo.  42\n" +
	"5\t1\t1\t1\t2\t1\t10\t60\t50\t25\t80\t-----\n" +
	"5\t1\t1\t1\t3\t1\t10\t100\t60\t25\t88\tTotal\n"

type fakeRunner struct {
	name   string
	args   []string
	input  []byte
	stdout []byte
	stderr []byte
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, logger *slog.Logger, args ...string) ([]byte, []byte, error) {
	f.name, f.args = name, args
	f.input, _ = os.ReadFile(args[0])
	return f.stdout, f.stderr, f.err
}

func page() entity.PageImage {
	return entity.PageImage{DocumentID: uuid.New(), Number: 1, Key: "docs/a/pages/0001.png", Data: []byte("png-bytes")}
}

func TestParseTSV_GroupsWordsIntoLines(t *testing.T) {
	pt := ParseTSV([]byte(sampleTSV))

	require.Len(t, pt.Blocks, 2)
	assert.Equal(t, "Invoice No. 42", pt.Blocks[0].Text)
	assert.Equal(t, entity.BBox{10, 20, 210, 50}, pt.Blocks[0].BBox)
	assert.InDelta(t, 0.93, pt.Blocks[0].Confidence, 1e-9)
	assert.Equal(t, "Total", pt.Blocks[1].Text)
	assert.InDelta(t, 0.88, pt.Blocks[1].Confidence, 1e-9)

	assert.Equal(t, "Invoice No. 42\nTotal", pt.FullText)
	assert.InDelta(t, 0.905, pt.Confidence, 1e-9)
	assert.Len(t, pt.Words, 3)
}

func TestParseTSV_EmptyPage(t *testing.T) {
	pt := ParseTSV([]byte("level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n"))
	assert.Empty(t, pt.Blocks)
	assert.NotNil(t, pt.Blocks)
	assert.Equal(t, "", pt.FullText)
	assert.Zero(t, pt.Confidence)
}

func TestRecognize_BuildsArgsAndWritesImage(t *testing.T) {
	r := &fakeRunner{stdout: []byte(sampleTSV)}
	tess := NewTesseractWithRunner(Config{Lang: "eng+jpn", PSM: 6, TessdataDir: "/td"}, r, nil)

	pt, err := tess.Recognize(context.Background(), page())
	require.NoError(t, err)
	assert.Equal(t, "tesseract", r.name)
	assert.Equal(t, []string{"stdout", "-l", "eng+jpn", "--psm", "6", "--tessdata-dir", "/td", "tsv"}, r.args[1:])
	assert.Equal(t, []byte("png-bytes"), r.input)
	assert.Equal(t, "Invoice No. 42\nTotal", pt.FullText)

	_, statErr := os.Stat(r.args[0])
	assert.True(t, os.IsNotExist(statErr), "temp image should be removed")
}

func TestRecognize_ErrorClassification(t *testing.T) {
	cases := []struct {
		name string
		r    *fakeRunner
		want error
	}{
		{"missing binary", &fakeRunner{err: exec.ErrNotFound}, common.ErrPermanentEngine},
		{"unreadable image", &fakeRunner{err: errors.New("exit status 1"), stderr: []byte("Error in pixReadStream: Pix not read")}, common.ErrPermanentEngine},
		{"crash", &fakeRunner{err: errors.New("signal: killed")}, common.ErrTransientEngine},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTesseractWithRunner(Config{}, tc.r, nil).Recognize(context.Background(), page())
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRecognize_EmptyImageIsPermanent(t *testing.T) {
	img := page()
	img.Data = nil
	_, err := NewTesseractWithRunner(Config{}, &fakeRunner{}, nil).Recognize(context.Background(), img)
	assert.ErrorIs(t, err, common.ErrPermanentEngine)
}

func TestNormalizeWord(t *testing.T) {
	assert.Equal(t, "", NormalizeWord("-----"))
	assert.Equal(t, "", NormalizeWord("|||"))
	assert.Equal(t, "a b", NormalizeWord(" a\tb "))
}
