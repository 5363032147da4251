package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

type OpenSearchConfig struct {
	URL      string
	Index    string
	Username string
	Password string
}

// OpenSearch indexes entries by document id.
type OpenSearch struct {
	client *opensearch.Client
	index  string
	logger *slog.Logger
}

func NewOpenSearch(cfg OpenSearchConfig, logger *slog.Logger) (*OpenSearch, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Index == "" {
		cfg.Index = "docscan-documents"
	}
	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("opensearch client: %w", err)
	}
	return &OpenSearch{client: client, index: cfg.Index, logger: logger}, nil
}

// EnsureIndex creates the index with its mapping when missing.
func (s *OpenSearch) EnsureIndex(ctx context.Context) error {
	res, err := opensearchapi.IndicesExistsRequest{Index: []string{s.index}}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("opensearch indices exists: %w", err)
	}
	drain(res)
	if res.StatusCode == http.StatusOK {
		s.logger.Info("index.ensure.exists", "index", s.index)
		return nil
	}

	body, err := json.Marshal(indexSettings)
	if err != nil {
		return err
	}
	res, err = opensearchapi.IndicesCreateRequest{Index: s.index, Body: bytes.NewReader(body)}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("opensearch indices create: %w", err)
	}
	defer drain(res)
	if res.IsError() && !strings.Contains(res.String(), "resource_already_exists_exception") {
		return fmt.Errorf("opensearch indices create: %s", res.Status())
	}
	s.logger.Info("index.ensure.created", "index", s.index)
	return nil
}

func (s *OpenSearch) Put(ctx context.Context, doc Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	res, err := opensearchapi.IndexRequest{
		Index:      s.index,
		DocumentID: doc.DocumentID,
		Body:       bytes.NewReader(body),
	}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("opensearch index: %w", err)
	}
	defer drain(res)
	if res.IsError() {
		return fmt.Errorf("opensearch index: %s", res.Status())
	}
	return nil
}

func (s *OpenSearch) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := opensearchapi.DeleteRequest{Index: s.index, DocumentID: id.String()}.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("opensearch delete: %w", err)
	}
	defer drain(res)
	if res.IsError() && res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("opensearch delete: %s", res.Status())
	}
	return nil
}

func drain(res *opensearchapi.Response) {
	if res != nil && res.Body != nil {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}
}

var jaText = map[string]any{"type": "text", "analyzer": "ja_analyzer", "search_analyzer": "ja_search_analyzer"}

var indexSettings = map[string]any{
	"settings": map[string]any{
		"analysis": map[string]any{
			"analyzer": map[string]any{
				"ja_analyzer": map[string]any{
					"type":      "custom",
					"tokenizer": "kuromoji_tokenizer",
					"filter":    []string{"kuromoji_baseform", "kuromoji_part_of_speech", "ja_stop", "lowercase"},
				},
				"ja_search_analyzer": map[string]any{
					"type":      "custom",
					"tokenizer": "kuromoji_tokenizer",
					"filter":    []string{"kuromoji_baseform", "kuromoji_part_of_speech", "ja_stop", "lowercase", "kuromoji_stemmer"},
				},
			},
			"filter": map[string]any{
				"ja_stop": map[string]any{"type": "stop", "stopwords": "_japanese_"},
			},
		},
		"number_of_shards":   1,
		"number_of_replicas": 0,
	},
	"mappings": map[string]any{
		"properties": map[string]any{
			"document_id": map[string]any{"type": "keyword"},
			"original_filename": map[string]any{
				"type": "text", "analyzer": "ja_analyzer", "search_analyzer": "ja_search_analyzer",
				"fields": map[string]any{"keyword": map[string]any{"type": "keyword"}},
			},
			"content_type":           map[string]any{"type": "keyword"},
			"ocr_text":               jaText,
			"summary":                jaText,
			"category":               map[string]any{"type": "keyword"},
			"tags":                   map[string]any{"type": "keyword"},
			"entities_people":        map[string]any{"type": "keyword"},
			"entities_organizations": map[string]any{"type": "keyword"},
			"entities_dates":         map[string]any{"type": "keyword"},
			"entities_amounts":       map[string]any{"type": "keyword"},
			"entities_addresses":     map[string]any{"type": "keyword"},
			"entities_references":    map[string]any{"type": "keyword"},
			"key_points":             jaText,
			"document_date":          map[string]any{"type": "date", "format": "yyyy-MM-dd||epoch_millis", "ignore_malformed": true},
			"page_count":             map[string]any{"type": "integer"},
			"file_size":              map[string]any{"type": "long"},
			"created_at":             map[string]any{"type": "date"},
		},
	},
}
