package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/llm"
	"github.com/joseph-ayodele/docscan/internal/entity"
)

const content = `{"category":"Contract","category_confidence":0.8,"summary":"Lease agreement.","tags":["lease"],` +
	`"entities":{"people":[],"organizations":["Acme"],"dates":[],"amounts":[],"addresses":[],"references":[]},` +
	`"document_date":null,"key_points":["12 month term"]}`

func chatResponse(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	return b
}

func TestUnderstand_Parsed(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		b, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(b, &got))
		_, _ = w.Write(chatResponse(content))
	}))
	defer srv.Close()

	c := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1", Model: "gpt-4o-mini", AttachFirstPage: true}, nil)
	out, err := c.Understand(context.Background(), llm.Request{
		DocumentID: uuid.New(),
		Text:       "LEASE AGREEMENT",
		FirstPage:  &entity.PageImage{Key: "k/pages/0001.png", Data: []byte{1, 2}},
	})
	require.NoError(t, err)
	require.Equal(t, llm.Parsed, out.Kind)
	assert.Equal(t, "Contract", out.Result.Category)
	assert.Nil(t, out.Result.DocumentDate)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	user := msgs[1].(map[string]any)["content"].([]any)
	assert.Equal(t, "image_url", user[1].(map[string]any)["type"])
}

func TestUnderstand_SchemaInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(chatResponse("Sorry, I can't do that."))
	}))
	defer srv.Close()

	out, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, nil).Understand(context.Background(), llm.Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, llm.SchemaInvalid, out.Kind)
}

func TestUnderstand_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, common.ErrTransientEngine},
		{http.StatusBadGateway, common.ErrTransientEngine},
		{http.StatusUnauthorized, common.ErrPermanentEngine},
		{http.StatusBadRequest, common.ErrPermanentEngine},
	}
	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			_, err := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL}, nil).Understand(context.Background(), llm.Request{Text: "x"})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestUnderstand_NoKeyIsUnconfigured(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	out, err := NewClient(Config{}, nil).Understand(context.Background(), llm.Request{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, llm.Unconfigured, out.Kind)
}
