package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type lease struct {
	job      Job
	deadline time.Time
}

// ChannelQueue is the in-process queue. Publish applies backpressure once size
// jobs are outstanding (queued or leased).
type ChannelQueue struct {
	logger     *slog.Logger
	visibility time.Duration
	now        func() time.Time

	slots  chan struct{}
	notify chan struct{}
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	ready    []Job
	inflight map[uuid.UUID]lease
}

type ChannelOption func(*ChannelQueue)

func WithQueueSize(n int) ChannelOption {
	return func(q *ChannelQueue) {
		if n > 0 {
			q.slots = make(chan struct{}, n)
		}
	}
}

func WithVisibilityTimeout(d time.Duration) ChannelOption {
	return func(q *ChannelQueue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithClock replaces the lease clock; the reaper goroutine is not started.
func WithClock(now func() time.Time) ChannelOption {
	return func(q *ChannelQueue) { q.now = now }
}

func NewChannelQueue(logger *slog.Logger, opts ...ChannelOption) *ChannelQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ChannelQueue{
		logger:     logger,
		visibility: 20 * time.Minute,
		slots:      make(chan struct{}, 256),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		inflight:   make(map[uuid.UUID]lease),
	}
	for _, o := range opts {
		o(q)
	}
	if q.now == nil {
		q.now = time.Now
		go q.reapLoop()
	}
	return q
}

func (q *ChannelQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *ChannelQueue) Publish(ctx context.Context, job Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.slots <- struct{}{}:
	default:
		q.logger.Warn("queue.full.backpressure", "document_id", job.DocumentID)
		select {
		case q.slots <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		case <-q.done:
			return ErrClosed
		}
	}

	q.mu.Lock()
	q.ready = append(q.ready, job)
	q.mu.Unlock()
	q.signal()
	q.logger.Debug("queue.job.published", "job_id", job.ID, "document_id", job.DocumentID, "reason", job.Reason)
	return nil
}

func (q *ChannelQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.mu.Lock()
		if len(q.ready) > 0 {
			job := q.ready[0]
			q.ready = q.ready[1:]
			job.Deliveries++
			q.inflight[job.ID] = lease{job: job, deadline: q.now().Add(q.visibility)}
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return q.delivery(job), nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.done:
			return nil, ErrClosed
		case <-q.notify:
		}
	}
}

// delivery binds ack/nack to this lease generation; a stale delivery whose lease
// already expired and was handed out again is a no-op.
func (q *ChannelQueue) delivery(job Job) *Delivery {
	current := func() bool {
		l, ok := q.inflight[job.ID]
		return ok && l.job.Deliveries == job.Deliveries
	}
	return &Delivery{
		Job: job,
		ack: func(context.Context) error {
			q.mu.Lock()
			defer q.mu.Unlock()
			if !current() {
				return nil
			}
			delete(q.inflight, job.ID)
			<-q.slots
			return nil
		},
		nack: func(_ context.Context, delay time.Duration) error {
			q.mu.Lock()
			if !current() {
				q.mu.Unlock()
				return nil
			}
			if delay <= 0 {
				delete(q.inflight, job.ID)
				q.ready = append(q.ready, job)
				q.mu.Unlock()
				q.signal()
				return nil
			}
			q.inflight[job.ID] = lease{job: job, deadline: q.now().Add(delay)}
			q.mu.Unlock()
			return nil
		},
	}
}

// Reap returns expired leases to the queue and reports how many it moved.
func (q *ChannelQueue) Reap() int {
	q.mu.Lock()
	now := q.now()
	n := 0
	for id, l := range q.inflight {
		if now.Before(l.deadline) {
			continue
		}
		delete(q.inflight, id)
		q.ready = append(q.ready, l.job)
		n++
		q.logger.Info("queue.lease.expired", "job_id", id, "document_id", l.job.DocumentID, "deliveries", l.job.Deliveries)
	}
	q.mu.Unlock()
	if n > 0 {
		q.signal()
	}
	return n
}

func (q *ChannelQueue) reapLoop() {
	interval := min(max(q.visibility/4, 10*time.Millisecond), time.Second)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-q.done:
			return
		case <-t.C:
			q.Reap()
		}
	}
}

// Len reports queued (not leased) jobs.
func (q *ChannelQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

func (q *ChannelQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
