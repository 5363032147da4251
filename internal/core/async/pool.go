package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/metrics"
)

// Handler runs one job. A nil error acknowledges the job; any other error
// releases it for redelivery.
type Handler interface {
	Handle(ctx context.Context, job Job) error
}

type HandlerFunc func(ctx context.Context, job Job) error

func (f HandlerFunc) Handle(ctx context.Context, job Job) error { return f(ctx, job) }

// DeadLetterFunc is called instead of the handler once a job exceeded its delivery budget.
type DeadLetterFunc func(ctx context.Context, job Job)

// Pool runs workers that each take one job at a time from the queue.
type Pool struct {
	queue   Queue
	handler Handler
	logger  *slog.Logger
	metrics *metrics.Metrics

	workers       int
	timeout       time.Duration
	maxDeliveries int
	retryDelay    func(deliveries int) time.Duration
	deadLetter    DeadLetterFunc

	wg   sync.WaitGroup
	once sync.Once

	stopReceive context.CancelFunc
	stopJobs    context.CancelFunc
}

type Option func(*Pool)

func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.timeout = d
		}
	}
}

func WithMaxDeliveries(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.maxDeliveries = n
		}
	}
}

// WithRetryDelay sets how long a failed job stays leased before redelivery.
func WithRetryDelay(f func(deliveries int) time.Duration) Option {
	return func(p *Pool) { p.retryDelay = f }
}

func WithDeadLetter(f DeadLetterFunc) Option {
	return func(p *Pool) { p.deadLetter = f }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func NewPool(queue Queue, handler Handler, logger *slog.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		queue:         queue,
		handler:       handler,
		logger:        logger,
		workers:       4,
		timeout:       15 * time.Minute,
		maxDeliveries: 5,
		retryDelay:    func(int) time.Duration { return 0 },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start launches the workers. Jobs run on contexts detached from ctx so that
// Shutdown can let them drain.
func (p *Pool) Start(ctx context.Context) {
	p.once.Do(func() {
		recvCtx, stopReceive := context.WithCancel(ctx)
		jobCtx, stopJobs := context.WithCancel(context.WithoutCancel(ctx))
		p.stopReceive, p.stopJobs = stopReceive, stopJobs

		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go func(workerID int) {
				defer p.wg.Done()
				p.logger.Info("worker.started", "worker_id", workerID)
				p.work(recvCtx, jobCtx, workerID)
				p.logger.Info("worker.stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (p *Pool) work(recvCtx, jobCtx context.Context, workerID int) {
	for recvCtx.Err() == nil {
		d, err := p.queue.Receive(recvCtx)
		if err != nil {
			if errors.Is(err, ErrClosed) || recvCtx.Err() != nil {
				return
			}
			p.logger.Warn("worker.receive.failed", "worker_id", workerID, "error", err)
			select {
			case <-recvCtx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		p.run(jobCtx, workerID, d)
	}
}

func (p *Pool) run(base context.Context, workerID int, d *Delivery) {
	job := d.Job
	logger := p.logger.With("worker_id", workerID, "job_id", job.ID, "document_id", job.DocumentID,
		"reason", job.Reason, "delivery", job.Deliveries, "trace_id", job.TraceID)

	ctx := common.WithLogger(common.WithTraceID(base, job.TraceID), logger)

	if job.Deliveries > p.maxDeliveries {
		logger.Error("worker.job.dead_letter", "max_deliveries", p.maxDeliveries)
		done := p.metrics.JobStarted(job.Deliveries)
		if p.deadLetter != nil {
			dctx, cancel := context.WithTimeout(ctx, time.Minute)
			p.deadLetter(dctx, job)
			cancel()
		}
		p.ack(ctx, d, logger)
		done("dead_letter")
		return
	}

	done := p.metrics.JobStarted(job.Deliveries)
	jctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.handler.Handle(jctx, job)
	cancel()

	if err == nil {
		p.ack(ctx, d, logger)
		logger.Info("worker.job.done")
		done("ok")
		return
	}

	delay := p.retryDelay(job.Deliveries)
	logger.Warn("worker.job.failed", "error", err, "retry_in_ms", delay.Milliseconds())
	nctx, ncancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	if nerr := d.Nack(nctx, delay); nerr != nil {
		// the lease still expires on its own
		logger.Warn("worker.job.nack_failed", "error", nerr)
	}
	ncancel()
	done("error")
}

func (p *Pool) ack(ctx context.Context, d *Delivery, logger *slog.Logger) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := d.Ack(actx); err != nil {
		logger.Warn("worker.job.ack_failed", "error", err)
	}
}

// Shutdown stops receiving and waits for in-flight jobs. If ctx ends first the
// jobs are canceled; their leases bring them back on the next start.
func (p *Pool) Shutdown(ctx context.Context) {
	if p.stopReceive == nil {
		return
	}
	p.stopReceive()

	done := make(chan struct{})
	go func() { defer close(done); p.wg.Wait() }()

	select {
	case <-ctx.Done():
		p.logger.Warn("worker.shutdown.interrupted")
		p.stopJobs()
		<-done
	case <-done:
		p.logger.Info("worker.shutdown.drained")
	}
	p.stopJobs()
}
