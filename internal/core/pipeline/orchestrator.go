package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/async"
	"github.com/joseph-ayodele/docscan/internal/core/llm"
	"github.com/joseph-ayodele/docscan/internal/core/lock"
	"github.com/joseph-ayodele/docscan/internal/core/stage"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/metrics"
	"github.com/joseph-ayodele/docscan/internal/repository"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

var errLockLost = errors.New("active-job lock lost")

// Recognizer is the text recognition adapter.
type Recognizer interface {
	Recognize(ctx context.Context, img entity.PageImage) (entity.PageText, error)
}

// TableExtractor is the table extraction adapter.
type TableExtractor interface {
	Extract(ctx context.Context, img entity.PageImage, text entity.PageText) ([]entity.Table, error)
}

// Config holds the tuning of a run.
type Config struct {
	PageConcurrency      int
	MaxAttempts          int
	Backoff              stage.Backoff
	OCRTimeout           time.Duration
	TableTimeout         time.Duration
	UnderstandingTimeout time.Duration
	MaxChars             int
	MinChars             int
	AttachFirstPage      bool
	LockTTL              time.Duration
}

func ConfigFrom(c *common.Config) Config {
	return Config{
		PageConcurrency:      c.Pipeline.PageConcurrency,
		MaxAttempts:          c.Pipeline.MaxAttempts,
		Backoff:              stage.Backoff{Initial: c.Pipeline.BackoffInitial, Max: c.Pipeline.BackoffMax},
		OCRTimeout:           c.Pipeline.OCRTimeout,
		TableTimeout:         c.Pipeline.TableTimeout,
		UnderstandingTimeout: c.Pipeline.UnderstandingTimeout,
		MaxChars:             c.LLM.MaxChars,
		MinChars:             c.LLM.MinChars,
		AttachFirstPage:      c.LLM.AttachFirstPage,
		LockTTL:              c.Queue.LockTTL,
	}
}

// Deps are the collaborators of an Orchestrator. Tables may be nil to disable
// the table stage; Understander defaults to llm.Disabled.
type Deps struct {
	Documents    repository.DocumentRepository
	Store        storage.PageStore
	Recognizer   Recognizer
	Tables       TableExtractor
	Understander llm.Understander
	Writer       *Writer
	Publisher    *Publisher
	Locks        lock.Locker
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Orchestrator runs one job through the stage sequence and commits the outcome.
type Orchestrator struct {
	Deps
	cfg Config

	recognition   stage.Policy
	extraction    stage.Policy
	understanding stage.Policy
}

func New(deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Understander == nil {
		deps.Understander = llm.Disabled{}
	}
	if cfg.PageConcurrency < 1 {
		cfg.PageConcurrency = 4
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	return &Orchestrator{
		Deps: deps,
		cfg:  cfg,
		recognition: stage.Policy{
			Name:        constants.StageTextRecognition,
			Required:    true,
			MaxAttempts: cfg.MaxAttempts,
			Timeout:     cfg.OCRTimeout,
		},
		extraction: stage.Policy{
			Name:        constants.StageTableExtraction,
			MaxAttempts: 1,
			Timeout:     cfg.TableTimeout,
		},
		understanding: stage.Policy{
			Name:        constants.StageUnderstanding,
			MaxAttempts: 2,
			Timeout:     cfg.UnderstandingTimeout,
		},
	}
}

// Handle implements async.Handler. A nil return acknowledges the job: that covers
// terminal commits and jobs that turned out to be stale. Errors leave the document
// in processing and the job is redelivered.
func (o *Orchestrator) Handle(ctx context.Context, job async.Job) error {
	start := time.Now()
	logger := common.LoggerFromContext(ctx, o.Logger).With(
		"document_id", job.DocumentID, "job_id", job.ID, "reason", job.Reason, "delivery", job.Deliveries)

	if job.LockToken != "" {
		if err := o.Locks.Refresh(ctx, job.DocumentID, job.LockToken, o.cfg.LockTTL); err != nil {
			if errors.Is(err, lock.ErrNotHeld) {
				logger.Warn("pipeline.job.stale", "cause", "lock token no longer held")
				return nil
			}
			return fmt.Errorf("refresh lock: %w", err)
		}
	}

	doc, err := o.Documents.GetByID(ctx, job.DocumentID)
	if errors.Is(err, common.ErrNotFound) {
		logger.Warn("pipeline.job.document_missing")
		o.release(ctx, job, logger)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}

	switch doc.Status {
	case constants.StatusUploaded:
		ok, err := o.Documents.MarkProcessing(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
		if !ok {
			logger.Warn("pipeline.job.stale", "cause", "document left uploaded state")
			o.release(ctx, job, logger)
			return nil
		}
	case constants.StatusProcessing:
	default:
		logger.Info("pipeline.job.already_terminal", "status", doc.Status)
		o.release(ctx, job, logger)
		return nil
	}
	logger.Info("pipeline.job.start", "filename", doc.OriginalFilename)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stopBeat := o.heartbeat(runCtx, job, cancel, logger)
	commit, err := o.run(runCtx, doc, logger)
	stopBeat()

	if errors.Is(context.Cause(runCtx), errLockLost) {
		logger.Warn("pipeline.job.stale", "cause", errLockLost.Error())
		return nil
	}
	if err != nil {
		logger.Warn("pipeline.job.interrupted", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return err
	}
	return o.finish(ctx, job, commit, logger, start)
}

// run executes the stage sequence. Required-stage failures come back as a failed
// commit; the error return is reserved for interruptions that need redelivery.
func (o *Orchestrator) run(ctx context.Context, doc *entity.Document, logger *slog.Logger) (DocumentCommit, error) {
	var refs []entity.PageRef
	_, err := stage.Run(ctx, o.recognition, o.cfg.Backoff, func(ctx context.Context) error {
		var err error
		refs, err = o.Store.ListPages(ctx, doc.ID, doc.StorageKey)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return DocumentCommit{}, ctx.Err()
		}
		logger.Error("pipeline.pages.list_failed", "error", err)
		return failedCommit(o.recognition.Name, err), nil
	}
	if len(refs) == 0 {
		logger.Error("pipeline.pages.none", "storage_key", doc.StorageKey)
		return failedCommit(o.recognition.Name,
			common.NewPermanentEngineError(o.recognition.Name, errors.New("no page images found"))), nil
	}

	pages := make([]*entity.OCRPage, len(refs))
	var first *entity.PageImage

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.PageConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			page, img, err := o.processPage(gctx, doc, ref, logger)
			if err != nil {
				return err
			}
			pages[i] = page
			if i == 0 {
				first = &img
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return DocumentCommit{}, ctx.Err()
		}
		return failedCommit(o.recognition.Name, err), nil
	}
	logger.Info("pipeline.pages.done", "pages", len(pages))

	u, raw := o.understand(ctx, doc, pages, first, logger)
	if ctx.Err() != nil {
		return DocumentCommit{}, ctx.Err()
	}
	last := 0
	for _, p := range pages {
		last = max(last, p.PageNumber)
	}
	return DocumentCommit{
		Status:        constants.StatusCompleted,
		Understanding: u,
		RawResponse:   raw,
		LastPage:      last,
	}, nil
}

func (o *Orchestrator) processPage(ctx context.Context, doc *entity.Document, ref entity.PageRef, logger *slog.Logger) (*entity.OCRPage, entity.PageImage, error) {
	logger = logger.With("page", ref.Number)

	var (
		img    entity.PageImage
		loaded bool
		text   entity.PageText
	)
	res, err := stage.Run(ctx, o.recognition, o.cfg.Backoff, func(ctx context.Context) error {
		if !loaded {
			var err error
			if img, err = o.Store.LoadPage(ctx, ref); err != nil {
				return err
			}
			loaded = true
		}
		var err error
		text, err = o.Recognizer.Recognize(ctx, img)
		return err
	})
	if err != nil {
		o.Metrics.RecordStage(o.recognition.Name, "failed", res.Attempts, res.Elapsed)
		if ctx.Err() == nil {
			logger.Error("pipeline.stage.failed",
				"stage", o.recognition.Name, "attempts", res.Attempts, "elapsed_ms", res.Elapsed.Milliseconds(), "error", err)
		}
		return nil, img, err
	}
	o.Metrics.RecordStage(o.recognition.Name, "ok", res.Attempts, res.Elapsed)
	logger.Debug("pipeline.stage.ok", "stage", o.recognition.Name, "blocks", len(text.Blocks), "attempts", res.Attempts)

	tables := o.extractTables(ctx, img, text, logger)

	page, err := o.Writer.CommitPage(ctx, doc.ID, PageResult{Image: img, Text: text, Tables: tables})
	if err != nil {
		return nil, img, err
	}
	o.Metrics.RecordPage(page.Confidence)
	return page, img, nil
}

// extractTables never fails the page: any error degrades to zero tables.
func (o *Orchestrator) extractTables(ctx context.Context, img entity.PageImage, text entity.PageText, logger *slog.Logger) []entity.Table {
	if o.Tables == nil {
		return []entity.Table{}
	}
	var tables []entity.Table
	res, err := stage.Run(ctx, o.extraction, o.cfg.Backoff, func(ctx context.Context) error {
		var err error
		tables, err = o.Tables.Extract(ctx, img, text)
		return err
	})
	if err != nil {
		o.Metrics.RecordStage(o.extraction.Name, "skipped", res.Attempts, res.Elapsed)
		logger.Warn("pipeline.stage.skipped", "stage", o.extraction.Name, "error", err)
		return []entity.Table{}
	}
	o.Metrics.RecordStage(o.extraction.Name, "ok", res.Attempts, res.Elapsed)
	if tables == nil {
		tables = []entity.Table{}
	}
	return tables
}

// understand returns nil when the stage is skipped for any reason.
func (o *Orchestrator) understand(ctx context.Context, doc *entity.Document, pages []*entity.OCRPage, first *entity.PageImage, logger *slog.Logger) (*entity.Understanding, []byte) {
	name := o.understanding.Name
	texts := make([]string, 0, len(pages))
	for _, p := range pages {
		if p.FullText != nil && *p.FullText != "" {
			texts = append(texts, *p.FullText)
		}
	}
	text := strings.Join(texts, constants.PageBreak)
	if o.cfg.MaxChars > 0 {
		text = llm.TruncateRunes(text, o.cfg.MaxChars)
	}

	req := llm.Request{DocumentID: doc.ID, Filename: doc.OriginalFilename, Text: text}
	if o.cfg.AttachFirstPage && first != nil {
		if ok, _ := llm.ShouldAttachImage(first); ok {
			req.FirstPage = first
		}
	}
	if req.FirstPage == nil && nonSpaceLen(text) < o.cfg.MinChars {
		o.Metrics.RecordStage(name, "insufficient_text", 0, 0)
		logger.Info("pipeline.stage.skipped", "stage", name, "cause", "insufficient_text", "text_len", len(text))
		return nil, nil
	}

	var out llm.Outcome
	res, err := stage.Run(ctx, o.understanding, o.cfg.Backoff, func(ctx context.Context) error {
		got, err := o.Understander.Understand(ctx, req)
		if err != nil {
			return err
		}
		out = got
		switch got.Kind {
		case llm.SchemaInvalid:
			return common.NewSchemaInvalidError(name, got.Reason)
		case llm.Unconfigured:
			return fmt.Errorf("%w: %s", common.ErrAdapterUnconfigured, got.Reason)
		}
		return nil
	})
	switch {
	case errors.Is(err, common.ErrAdapterUnconfigured):
		o.Metrics.RecordStage(name, "unconfigured", res.Attempts, res.Elapsed)
		logger.Info("pipeline.stage.skipped", "stage", name, "cause", "unconfigured", "detail", out.Reason)
		return nil, nil
	case err != nil:
		o.Metrics.RecordStage(name, "skipped", res.Attempts, res.Elapsed)
		logger.Warn("pipeline.stage.skipped", "stage", name, "attempts", res.Attempts, "error", err)
		return nil, nil
	}
	o.Metrics.RecordStage(name, "ok", res.Attempts, res.Elapsed)
	logger.Info("pipeline.stage.ok", "stage", name, "category", out.Result.Category, "attempts", res.Attempts)
	return out.Result, out.Raw
}

// finish commits the terminal status, then syncs the index and releases the lock.
func (o *Orchestrator) finish(ctx context.Context, job async.Job, commit DocumentCommit, logger *slog.Logger, start time.Time) error {
	_, err := o.Writer.CommitDocument(ctx, job.DocumentID, commit)
	if err != nil && !errors.Is(err, common.ErrStaleRun) && commit.Status == constants.StatusCompleted {
		commit = DocumentCommit{Status: constants.StatusFailed, FailureReason: common.FailureReason(err)}
		_, err = o.Writer.CommitDocument(ctx, job.DocumentID, commit)
	}
	if errors.Is(err, common.ErrStaleRun) {
		logger.Warn("pipeline.job.stale", "cause", "document left processing during run")
		o.release(ctx, job, logger)
		return nil
	}
	if err != nil {
		return err
	}
	o.Metrics.RecordFinished(commit.Status.String())

	if commit.Status == constants.StatusCompleted {
		_ = o.Publisher.Publish(ctx, job.DocumentID)
	} else {
		_ = o.Publisher.Retract(ctx, job.DocumentID)
	}
	o.release(ctx, job, logger)

	logger.Info("pipeline.job.done",
		"status", commit.Status,
		"failure_reason", commit.FailureReason,
		"understanding", commit.Understanding != nil,
		"elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// DeadLetter forces a document whose job ran out of deliveries to failed.
func (o *Orchestrator) DeadLetter(ctx context.Context, job async.Job) {
	logger := common.LoggerFromContext(ctx, o.Logger).With("document_id", job.DocumentID, "job_id", job.ID)
	cause := common.NewTransientEngineError("job", fmt.Errorf("gave up after %d deliveries", job.Deliveries-1))
	commit := DocumentCommit{Status: constants.StatusFailed, FailureReason: common.FailureReason(cause)}

	// a job that never got past claiming still holds an uploaded document
	if _, err := o.Documents.MarkProcessing(ctx, job.DocumentID); err != nil {
		logger.Warn("pipeline.dead_letter.mark_processing_failed", "error", err)
	}
	_, err := o.Writer.CommitDocument(ctx, job.DocumentID, commit)
	switch {
	case errors.Is(err, common.ErrStaleRun), errors.Is(err, common.ErrNotFound):
		logger.Info("pipeline.dead_letter.skipped", "cause", err)
	case err != nil:
		logger.Error("pipeline.dead_letter.failed", "error", err)
		return
	default:
		o.Metrics.RecordFinished(commit.Status.String())
		_ = o.Publisher.Retract(ctx, job.DocumentID)
		logger.Error("pipeline.dead_letter.failed_document", "reason", commit.FailureReason)
	}
	o.release(ctx, job, logger)
}

func (o *Orchestrator) release(ctx context.Context, job async.Job, logger *slog.Logger) {
	if job.LockToken == "" {
		return
	}
	if err := o.Locks.Release(ctx, job.DocumentID, job.LockToken); err != nil && !errors.Is(err, lock.ErrNotHeld) {
		logger.Warn("pipeline.lock.release_failed", "error", err)
	}
}

// heartbeat keeps the job's lock alive during the run and cancels the run if the
// token is taken away.
func (o *Orchestrator) heartbeat(ctx context.Context, job async.Job, cancel context.CancelCauseFunc, logger *slog.Logger) func() {
	if job.LockToken == "" || o.cfg.LockTTL <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(o.cfg.LockTTL / 3)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				err := o.Locks.Refresh(ctx, job.DocumentID, job.LockToken, o.cfg.LockTTL)
				if errors.Is(err, lock.ErrNotHeld) {
					cancel(errLockLost)
					return
				}
				if err != nil {
					logger.Warn("pipeline.lock.refresh_failed", "error", err)
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func failedCommit(stageName string, err error) DocumentCommit {
	var ae *common.AppError
	if !errors.As(err, &ae) {
		err = common.NewTransientEngineError(stageName, err)
	}
	return DocumentCommit{Status: constants.StatusFailed, FailureReason: common.FailureReason(err)}
}

func nonSpaceLen(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
