package vertex

import (
	"context"
	"log/slog"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/llm"
)

type fakeModel struct {
	parts []genai.Part
	resp  *genai.GenerateContentResponse
	err   error
}

func (f *fakeModel) GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	return f.resp, f.err
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Parts: []genai.Part{genai.Text(s)}}}},
	}
}

func TestUnderstand_Parsed(t *testing.T) {
	m := &fakeModel{resp: textResponse(`{"category":"Report","category_confidence":0.7,"summary":"Quarterly report.","tags":[],` +
		`"entities":{"people":[],"organizations":[],"dates":[],"amounts":[],"addresses":[],"references":[]},` +
		`"document_date":"2024-06-30","key_points":[]}`)}
	c := &Client{cfg: Config{Model: "gemini-1.5-flash"}, model: m, logger: slog.Default()}

	out, err := c.Understand(context.Background(), llm.Request{Text: "Q2 report"})
	require.NoError(t, err)
	require.Equal(t, llm.Parsed, out.Kind, out.Reason)
	assert.Equal(t, "Report", out.Result.Category)
	require.Len(t, m.parts, 1)
}

func TestUnderstand_EmptyCandidatesIsSchemaInvalid(t *testing.T) {
	c := &Client{model: &fakeModel{resp: &genai.GenerateContentResponse{}}, logger: slog.Default()}
	out, err := c.Understand(context.Background(), llm.Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, llm.SchemaInvalid, out.Kind)
}

func TestUnderstand_ErrorClassification(t *testing.T) {
	c := &Client{model: &fakeModel{err: status.Error(codes.ResourceExhausted, "quota")}, logger: slog.Default()}
	_, err := c.Understand(context.Background(), llm.Request{Text: "x"})
	assert.ErrorIs(t, err, common.ErrTransientEngine)

	c = &Client{model: &fakeModel{err: status.Error(codes.PermissionDenied, "denied")}, logger: slog.Default()}
	_, err = c.Understand(context.Background(), llm.Request{Text: "x"})
	assert.ErrorIs(t, err, common.ErrPermanentEngine)
}

func TestNew_WithoutProjectIsUnconfigured(t *testing.T) {
	c, err := New(context.Background(), Config{}, nil)
	require.NoError(t, err)
	out, err := c.Understand(context.Background(), llm.Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, llm.Unconfigured, out.Kind)
	assert.NoError(t, c.Close())
}
