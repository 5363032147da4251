// Package dispatch is the intake side of the pipeline: it turns upload and
// reprocess requests into queued jobs, one active job per document.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/async"
	"github.com/joseph-ayodele/docscan/internal/core/lock"
	"github.com/joseph-ayodele/docscan/internal/metrics"
	"github.com/joseph-ayodele/docscan/internal/repository"
)

// Retractor removes a document from the search index.
type Retractor interface {
	Retract(ctx context.Context, documentID uuid.UUID) error
}

type Dispatcher struct {
	docs      repository.DocumentRepository
	queue     async.Queue
	locks     lock.Locker
	retractor Retractor
	lockTTL   time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func New(docs repository.DocumentRepository, queue async.Queue, locks lock.Locker, retractor Retractor, lockTTL time.Duration, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &Dispatcher{
		docs:      docs,
		queue:     queue,
		locks:     locks,
		retractor: retractor,
		lockTTL:   lockTTL,
		metrics:   m,
		logger:    logger,
	}
}

// Enqueue publishes a job for the document. It fails with common.ErrAlreadyActive
// while another job holds the document's lock.
func (d *Dispatcher) Enqueue(ctx context.Context, documentID uuid.UUID, reason constants.JobReason) (async.Job, error) {
	logger := d.logger.With("document_id", documentID, "reason", reason)

	if _, err := d.docs.GetByID(ctx, documentID); err != nil {
		d.metrics.RecordEnqueue(string(reason), "rejected")
		return async.Job{}, err
	}
	token, err := d.acquire(ctx, documentID, reason, logger)
	if err != nil {
		return async.Job{}, err
	}
	return d.publish(ctx, documentID, reason, token, logger)
}

// Reprocess resets a completed or failed document to processing, clears its
// understanding fields, retracts it from the index and queues a new run.
func (d *Dispatcher) Reprocess(ctx context.Context, documentID uuid.UUID) (async.Job, error) {
	reason := constants.ReasonReprocess
	logger := d.logger.With("document_id", documentID, "reason", reason)

	doc, err := d.docs.GetByID(ctx, documentID)
	if err != nil {
		d.metrics.RecordEnqueue(string(reason), "rejected")
		return async.Job{}, err
	}
	if !doc.Status.IsTerminal() {
		d.metrics.RecordEnqueue(string(reason), "rejected")
		logger.Warn("dispatch.reprocess.rejected", "status", doc.Status)
		return async.Job{}, fmt.Errorf("document %s is %s: %w", documentID, doc.Status, common.ErrInvalidState)
	}

	token, err := d.acquire(ctx, documentID, reason, logger)
	if err != nil {
		return async.Job{}, err
	}
	if err := d.docs.ResetForReprocess(ctx, documentID); err != nil {
		d.release(ctx, documentID, token, logger)
		d.metrics.RecordEnqueue(string(reason), "rejected")
		logger.Warn("dispatch.reprocess.reset_failed", "error", err)
		return async.Job{}, err
	}
	if d.retractor != nil {
		if err := d.retractor.Retract(ctx, documentID); err != nil {
			logger.Warn("dispatch.reprocess.retract_failed", "error", err)
		}
	}
	return d.publish(ctx, documentID, reason, token, logger)
}

func (d *Dispatcher) acquire(ctx context.Context, documentID uuid.UUID, reason constants.JobReason, logger *slog.Logger) (string, error) {
	token, err := d.locks.Acquire(ctx, documentID, d.lockTTL)
	if errors.Is(err, common.ErrAlreadyActive) {
		d.metrics.RecordEnqueue(string(reason), "already_active")
		logger.Info("dispatch.enqueue.already_active")
		return "", fmt.Errorf("document %s: %w", documentID, err)
	}
	if err != nil {
		d.metrics.RecordEnqueue(string(reason), "error")
		logger.Error("dispatch.lock.failed", "error", err)
		return "", fmt.Errorf("acquire lock: %w", err)
	}
	return token, nil
}

func (d *Dispatcher) publish(ctx context.Context, documentID uuid.UUID, reason constants.JobReason, token string, logger *slog.Logger) (async.Job, error) {
	job := async.NewJob(documentID, reason, token, common.TraceIDFromContext(ctx))
	if err := d.queue.Publish(ctx, job); err != nil {
		d.release(ctx, documentID, token, logger)
		d.metrics.RecordEnqueue(string(reason), "error")
		logger.Error("dispatch.enqueue.failed", "error", err)
		return async.Job{}, fmt.Errorf("publish job: %w", err)
	}
	d.metrics.RecordEnqueue(string(reason), "ok")
	logger.Info("dispatch.enqueue.ok", "job_id", job.ID, "trace_id", job.TraceID)
	return job, nil
}

func (d *Dispatcher) release(ctx context.Context, documentID uuid.UUID, token string, logger *slog.Logger) {
	if err := d.locks.Release(context.WithoutCancel(ctx), documentID, token); err != nil && !errors.Is(err, lock.ErrNotHeld) {
		logger.Warn("dispatch.lock.release_failed", "error", err)
	}
}
