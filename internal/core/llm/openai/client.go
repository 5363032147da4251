package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/llm"
)

// Understand implements llm.Understander with chat/completions in JSON mode.
func (c *Client) Understand(ctx context.Context, req llm.Request) (llm.Outcome, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return llm.Outcome{Kind: llm.Unconfigured, Reason: "OPENAI_API_KEY not set"}, nil
	}

	start := time.Now()
	logger := c.logger.With("document_id", req.DocumentID, "provider", "openai", "model", c.cfg.Model)

	attach, mimeType := false, ""
	if c.cfg.AttachFirstPage {
		attach, mimeType = llm.ShouldAttachImage(req.FirstPage)
	}
	user := llm.BuildUserPrompt(req, attach)

	var userContent any = user
	if attach {
		userContent = []map[string]any{
			{"type": "text", "text": user},
			{"type": "image_url", "image_url": map[string]any{"url": llm.DataURL(req.FirstPage, mimeType)}},
		}
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt()},
			{"role": "user", "content": userContent},
		},
	}

	logger.Info("llm.understand.start", "text_len", len(req.Text), "image_attached", attach)

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, status, err := llm.SendJSON(ctx, c.http, endpoint, body, headers, logger)
	if err != nil {
		logger.Warn("llm.understand.http_error", "status", status, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Outcome{}, llm.ClassifyHTTPError(status, fmt.Errorf("openai: %w", err))
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return llm.Outcome{}, common.NewTransientEngineError(constants.StageUnderstanding, fmt.Errorf("decode openai response: %w", err))
	}
	if len(cc.Choices) == 0 {
		logger.Warn("llm.understand.no_choices", "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Outcome{Kind: llm.SchemaInvalid, Raw: raw, Reason: "no choices in openai response"}, nil
	}

	out := llm.ParseResponse([]byte(cc.Choices[0].Message.Content), logger)
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
