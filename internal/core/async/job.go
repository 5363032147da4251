// Package async carries pipeline jobs from the dispatcher to the workers with
// at-least-once delivery: a received job is leased, and an unacknowledged lease
// expires back onto the queue.
package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/docscan/constants"
)

// ErrClosed is returned by Receive once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// Job is one request to run the pipeline for a document.
type Job struct {
	ID         uuid.UUID           `json:"id"`
	DocumentID uuid.UUID           `json:"document_id"`
	Reason     constants.JobReason `json:"reason"`
	LockToken  string              `json:"lock_token"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
	TraceID    string              `json:"trace_id,omitempty"`

	// Deliveries counts receives of this job, including the current one. The queue
	// sets it on receive; on the wire it is the count the sender last saw.
	Deliveries int `json:"attempt"`
}

func NewJob(documentID uuid.UUID, reason constants.JobReason, lockToken, traceID string) Job {
	return Job{
		ID:         uuid.New(),
		DocumentID: documentID,
		Reason:     reason,
		LockToken:  lockToken,
		EnqueuedAt: time.Now().UTC(),
		TraceID:    traceID,
	}
}

// Delivery is a leased job. Exactly one of Ack or Nack should be called.
type Delivery struct {
	Job  Job
	ack  func(ctx context.Context) error
	nack func(ctx context.Context, delay time.Duration) error
}

// Ack removes the job for good.
func (d *Delivery) Ack(ctx context.Context) error { return d.ack(ctx) }

// Nack keeps the lease for delay and then makes the job receivable again.
func (d *Delivery) Nack(ctx context.Context, delay time.Duration) error { return d.nack(ctx, delay) }

type Queue interface {
	Publish(ctx context.Context, job Job) error
	Receive(ctx context.Context) (*Delivery, error)
	Close() error
}
