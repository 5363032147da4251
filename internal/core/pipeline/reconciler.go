package pipeline

import (
	"context"
	"errors"
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

// Enqueuer starts a job for a document.
type Enqueuer interface {
	Enqueue(ctx context.Context, documentID uuid.UUID, reason constants.JobReason) (async.Job, error)
}

// Reconciler brings the index back in line with document status and restarts
// documents whose job was lost.
type Reconciler struct {
	docs       repository.DocumentRepository
	publisher  *Publisher
	locks      lock.Locker
	enqueuer   Enqueuer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	stuckAfter time.Duration
	lockTTL    time.Duration
	now        func() time.Time
}

func NewReconciler(docs repository.DocumentRepository, publisher *Publisher, locks lock.Locker, enqueuer Enqueuer, stuckAfter time.Duration, m *metrics.Metrics, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if stuckAfter <= 0 {
		stuckAfter = time.Hour
	}
	return &Reconciler{
		docs:       docs,
		publisher:  publisher,
		locks:      locks,
		enqueuer:   enqueuer,
		metrics:    m,
		logger:     logger,
		stuckAfter: stuckAfter,
		lockTTL:    time.Minute,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Report counts what one pass did.
type Report struct {
	Published int
	Retracted int
	Requeued  int
	Skipped   int
	Failed    int
}

// Reconcile runs one pass. Individual document failures are counted, not returned.
func (r *Reconciler) Reconcile(ctx context.Context) (Report, error) {
	var rep Report
	start := time.Now()

	completed, err := r.docs.ListByStatus(ctx, constants.StatusCompleted, time.Time{}, 0)
	if err != nil {
		return rep, err
	}
	for _, d := range completed {
		switch ok, err := r.locked(ctx, d.ID, r.publisher.Publish); {
		case err != nil:
			rep.Failed++
		case !ok:
			rep.Skipped++
		default:
			rep.Published++
		}
	}

	failed, err := r.docs.ListByStatus(ctx, constants.StatusFailed, time.Time{}, 0)
	if err != nil {
		return rep, err
	}
	for _, d := range failed {
		switch ok, err := r.locked(ctx, d.ID, r.publisher.Retract); {
		case err != nil:
			rep.Failed++
		case !ok:
			rep.Skipped++
		default:
			rep.Retracted++
		}
	}

	cutoff := r.now().Add(-r.stuckAfter)
	for _, status := range []constants.DocumentStatus{constants.StatusProcessing, constants.StatusUploaded} {
		stuck, err := r.docs.ListByStatus(ctx, status, cutoff, 0)
		if err != nil {
			return rep, err
		}
		for _, d := range stuck {
			if status == constants.StatusProcessing {
				ok, err := r.locked(ctx, d.ID, r.publisher.Retract)
				if err != nil {
					rep.Failed++
					continue
				}
				if !ok {
					rep.Skipped++
					continue
				}
				rep.Retracted++
			}
			requeued, err := r.requeue(ctx, d.ID, status)
			if err != nil {
				rep.Failed++
				continue
			}
			if requeued {
				rep.Requeued++
			} else {
				rep.Skipped++
			}
		}
	}

	r.metrics.RecordReconcile("publish", rep.Published)
	r.metrics.RecordReconcile("retract", rep.Retracted)
	r.metrics.RecordReconcile("requeue", rep.Requeued)
	r.metrics.RecordReconcile("skip", rep.Skipped)
	r.metrics.RecordReconcile("error", rep.Failed)
	r.logger.Info("reconcile.done",
		"published", rep.Published, "retracted", rep.Retracted, "requeued", rep.Requeued,
		"skipped", rep.Skipped, "failed", rep.Failed, "elapsed_ms", time.Since(start).Milliseconds())
	return rep, nil
}

// locked runs fn while holding the document's lock, so index writes never
// interleave with a job for the same document. A document with a live job is
// skipped and reported as not run.
func (r *Reconciler) locked(ctx context.Context, id uuid.UUID, fn func(context.Context, uuid.UUID) error) (bool, error) {
	token, err := r.locks.Acquire(ctx, id, r.lockTTL)
	if errors.Is(err, common.ErrAlreadyActive) {
		r.logger.Debug("reconcile.document.active", "document_id", id)
		return false, nil
	}
	if err != nil {
		r.logger.Error("reconcile.lock.failed", "document_id", id, "error", err)
		return false, err
	}
	defer func() {
		if err := r.locks.Release(context.WithoutCancel(ctx), id, token); err != nil && !errors.Is(err, lock.ErrNotHeld) {
			r.logger.Warn("reconcile.lock.release_failed", "document_id", id, "error", err)
		}
	}()
	return true, fn(ctx, id)
}

// requeue restarts a document only when no live job holds its lock.
func (r *Reconciler) requeue(ctx context.Context, id uuid.UUID, status constants.DocumentStatus) (bool, error) {
	if _, held, err := r.locks.Holder(ctx, id); err != nil {
		return false, err
	} else if held {
		return false, nil
	}
	reason := constants.ReasonInitial
	if status == constants.StatusProcessing {
		reason = constants.ReasonReprocess
	}
	job, err := r.enqueuer.Enqueue(ctx, id, reason)
	if errors.Is(err, common.ErrAlreadyActive) {
		return false, nil
	}
	if err != nil {
		r.logger.Error("reconcile.requeue.failed", "document_id", id, "error", err)
		return false, err
	}
	r.logger.Warn("reconcile.requeue.ok", "document_id", id, "status", status, "job_id", job.ID)
	return true, nil
}

// Run reconciles every interval until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reconcile.failed", "error", err)
			}
		}
	}
}
