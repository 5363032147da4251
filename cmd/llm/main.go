package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/llm"
	repo "github.com/joseph-ayodele/docscan/internal/repository"
	svc "github.com/joseph-ayodele/docscan/internal/server"
)

// llm runs the understanding call against a processed document's stored text,
// several times, without writing anything back. Useful for prompt work.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage: llm <document_id> [times]")
		os.Exit(2)
	}
	documentID, err := uuid.Parse(os.Args[1])
	if err != nil {
		logger.Error("invalid document_id", "arg", os.Args[1], "error", err)
		os.Exit(2)
	}
	times := 3
	if len(os.Args) >= 3 {
		if n, err := strconv.Atoi(os.Args[2]); err == nil && n > 0 {
			times = n
		}
	}

	cfg := common.LoadConfig()
	if cfg.Database.DSN == "" {
		logger.Error("DB_URL env var is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := svc.ConnectDB(ctx, cfg.Database, false, logger)
	if err != nil {
		os.Exit(1)
	}
	defer repo.Close(db, logger)

	doc, err := repo.NewDocumentRepository(db, logger).GetByID(ctx, documentID)
	if err != nil {
		logger.Error("load document", "document_id", documentID, "error", err)
		os.Exit(1)
	}
	pages, err := repo.NewPageRepository(db, logger).ListByDocument(ctx, documentID)
	if err != nil {
		logger.Error("load pages", "document_id", documentID, "error", err)
		os.Exit(1)
	}
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.FullText != nil && strings.TrimSpace(*p.FullText) != "" {
			texts = append(texts, *p.FullText)
		}
	}

	understander, closeLLM, err := svc.NewUnderstander(ctx, cfg.LLM, logger)
	if err != nil {
		logger.Error("llm client", "provider", cfg.LLM.Provider, "error", err)
		os.Exit(1)
	}
	defer closeLLM()

	req := llm.Request{
		DocumentID: documentID,
		Filename:   doc.OriginalFilename,
		Text:       llm.TruncateRunes(strings.Join(texts, constants.PageBreak), cfg.LLM.MaxChars),
	}
	for i := 1; i <= times; i++ {
		runCtx, cancelRun := context.WithTimeout(context.Background(), cfg.LLM.Timeout)
		start := time.Now()
		out, err := understander.Understand(runCtx, req)
		cancelRun()

		if err != nil {
			logger.Error("understanding.run.error", "iter", i, "reason", common.FailureReason(err))
			continue
		}
		attrs := []any{"iter", i, "kind", out.Kind.String(), "elapsed_ms", time.Since(start).Milliseconds()}
		if out.Result != nil && out.Result.Category != "" {
			attrs = append(attrs, "category", out.Result.Category, "tags", out.Result.Tags)
		}
		if out.Reason != "" {
			attrs = append(attrs, "reason", out.Reason)
		}
		logger.Info("understanding.run.ok", attrs...)
	}
	logger.Info("done", "document_id", documentID.String(), "times", times, "chars", len(req.Text))
}
