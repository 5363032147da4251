package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/internal/entity"
)

const validResponse = `{
  "category": "Invoice",
  "category_confidence": 0.92,
  "summary": "Invoice for consulting services.",
  "tags": ["consulting", "2024"],
  "entities": {"people": ["Jane Doe"], "organizations": ["Acme"], "dates": ["2024-03-01"], "amounts": ["$1,200"], "addresses": [], "references": ["INV-42"]},
  "document_date": "2024-03-01",
  "key_points": ["Due in 30 days"]
}`

func TestParseResponse_Valid(t *testing.T) {
	out := ParseResponse([]byte(validResponse), nil)
	require.Equal(t, Parsed, out.Kind, out.Reason)
	require.NotNil(t, out.Result)
	assert.Equal(t, "Invoice", out.Result.Category)
	assert.Equal(t, 0.92, out.Result.CategoryConfidence)
	assert.Equal(t, []string{"consulting", "2024"}, out.Result.Tags)
	assert.Equal(t, []string{"INV-42"}, out.Result.Entities.References)
	assert.Equal(t, []string{}, out.Result.Entities.Addresses)
	require.NotNil(t, out.Result.DocumentDate)
	assert.Equal(t, "2024-03-01", *out.Result.DocumentDate)
	assert.JSONEq(t, validResponse, string(out.Raw))
}

func TestParseResponse_LenientNormalization(t *testing.T) {
	raw := "```json\n" + `{
  "category": "請求書",
  "categoryConfidence": "95",
  "summary": "請求書です。",
  "tags": "請求",
  "entities": {"people": null, "organizations": ["株式会社テスト"], "phones": ["03-0000"]},
  "language": "ja",
  "document_date": "2024年1月15日",
  "keyPoints": ["支払期限あり", ""]
}` + "\n```"

	out := ParseResponse([]byte(raw), nil)
	require.Equal(t, Parsed, out.Kind, out.Reason)
	assert.Equal(t, "Invoice", out.Result.Category)
	assert.InDelta(t, 0.95, out.Result.CategoryConfidence, 1e-9)
	assert.Equal(t, []string{"請求"}, out.Result.Tags)
	assert.Equal(t, []string{}, out.Result.Entities.People)
	assert.Equal(t, []string{"株式会社テスト"}, out.Result.Entities.Organizations)
	assert.Equal(t, []string{"支払期限あり"}, out.Result.KeyPoints)
	require.NotNil(t, out.Result.DocumentDate)
	assert.Equal(t, "2024-01-15", *out.Result.DocumentDate)
	assert.NotContains(t, string(out.Raw), "language")
}

func TestParseResponse_NullDate(t *testing.T) {
	raw := strings.Replace(validResponse, `"document_date": "2024-03-01"`, `"document_date": "unknown"`, 1)
	out := ParseResponse([]byte(raw), nil)
	require.Equal(t, Parsed, out.Kind, out.Reason)
	assert.Nil(t, out.Result.DocumentDate)
}

func TestParseResponse_SchemaInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":            "   ",
		"not json":         "I cannot help with that.",
		"missing category": `{"category_confidence": 0.5, "summary": "", "tags": [], "entities": {}, "document_date": null, "key_points": []}`,
		"missing summary":  `{"category": "Other", "category_confidence": 0.5, "tags": [], "entities": {}, "document_date": null, "key_points": []}`,
		"wrong type":       `{"category": "Other", "category_confidence": 0.5, "summary": {"a": 1}, "tags": [], "entities": {}, "document_date": null, "key_points": []}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			out := ParseResponse([]byte(raw), nil)
			assert.Equal(t, SchemaInvalid, out.Kind)
			assert.Nil(t, out.Result)
			assert.NotEmpty(t, out.Reason)
		})
	}
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "abc", TruncateRunes("abcdef", 3))
	assert.Equal(t, "日本", TruncateRunes("日本語", 2))
	assert.Equal(t, "short", TruncateRunes("short", 10))
	assert.Equal(t, "any", TruncateRunes("any", 0))
}

func TestBuildPrompts(t *testing.T) {
	sys := BuildSystemPrompt()
	assert.Contains(t, sys, "Invoice")
	assert.Contains(t, sys, "key_points")

	user := BuildUserPrompt(Request{Filename: "a.pdf", Text: "hello"}, false)
	assert.Contains(t, user, "Filename: a.pdf")
	assert.Contains(t, user, "--- OCR text ---\nhello\n")

	user = BuildUserPrompt(Request{Text: "hello"}, true)
	assert.Contains(t, user, "attached page image")
	assert.NotContains(t, user, "Filename")
}

func TestShouldAttachImage(t *testing.T) {
	ok, _ := ShouldAttachImage(nil)
	assert.False(t, ok)

	ok, mt := ShouldAttachImage(&entity.PageImage{Key: "x/pages/0001.png", Data: []byte{1}})
	assert.True(t, ok)
	assert.Equal(t, "image/png", mt)
	assert.Equal(t, "data:image/png;base64,AQ==", DataURL(&entity.PageImage{Data: []byte{1}}, mt))

	ok, _ = ShouldAttachImage(&entity.PageImage{Key: "x/pages/0001.tif", Data: []byte{1}})
	assert.False(t, ok)
}

func TestDisabled(t *testing.T) {
	out, err := Disabled{}.Understand(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, Unconfigured, out.Kind)
	assert.Equal(t, "unconfigured", out.Kind.String())
}
