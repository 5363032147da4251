// Package vertex implements the understanding adapter on Gemini through Vertex AI.
package vertex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/llm"
)

type Config struct {
	Project         string
	Location        string // default us-central1
	Model           string // default gemini-1.5-flash
	Temperature     float32
	AttachFirstPage bool
}

type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Client holds a pre-configured generative model.
type Client struct {
	cfg        Config
	model      generator
	baseClient *genai.Client
	logger     *slog.Logger
}

// New creates the Vertex client. An empty project yields a client that reports Unconfigured.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.Model == "" || strings.HasPrefix(cfg.Model, "gpt-") {
		cfg.Model = "gemini-1.5-flash"
	}
	c := &Client{cfg: cfg, logger: logger}
	if cfg.Project == "" {
		return c, nil
	}

	baseClient, err := genai.NewClient(ctx, cfg.Project, cfg.Location)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	model := baseClient.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(llm.BuildSystemPrompt())},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](cfg.Temperature),
	}
	c.model = model
	c.baseClient = baseClient
	return c, nil
}

func (c *Client) Close() error {
	if c.baseClient != nil {
		return c.baseClient.Close()
	}
	return nil
}

// Understand implements llm.Understander.
func (c *Client) Understand(ctx context.Context, req llm.Request) (llm.Outcome, error) {
	if c.model == nil {
		return llm.Outcome{Kind: llm.Unconfigured, Reason: "VERTEX_PROJECT not set"}, nil
	}

	start := time.Now()
	logger := c.logger.With("document_id", req.DocumentID, "provider", "vertex", "model", c.cfg.Model)

	attach, mimeType := false, ""
	if c.cfg.AttachFirstPage {
		attach, mimeType = llm.ShouldAttachImage(req.FirstPage)
	}
	var parts []genai.Part
	if attach {
		parts = append(parts, genai.ImageData(strings.TrimPrefix(mimeType, "image/"), req.FirstPage.Data))
	}
	parts = append(parts, genai.Text(llm.BuildUserPrompt(req, attach)))

	logger.Info("llm.understand.start", "text_len", len(req.Text), "image_attached", attach)

	resp, err := c.model.GenerateContent(ctx, parts...)
	if err != nil {
		logger.Warn("llm.understand.call_failed", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Outcome{}, classify(err)
	}

	content := responseText(resp)
	out := llm.ParseResponse([]byte(content), logger)
	if out.Kind == llm.SchemaInvalid {
		logger.Warn("llm.understand.schema_invalid", "reason", out.Reason, "elapsed_ms", time.Since(start).Milliseconds())
		return out, nil
	}
	logger.Info("llm.understand.ok",
		"category", out.Result.Category,
		"tags", len(out.Result.Tags),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

func classify(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Internal, codes.Aborted, codes.Unknown:
		return common.NewTransientEngineError(constants.StageUnderstanding, fmt.Errorf("vertex: %w", err))
	default:
		return common.NewPermanentEngineError(constants.StageUnderstanding, fmt.Errorf("vertex: %w", err))
	}
}
