// Package lock is the per-document active-job table: at most one token per
// document, each with an explicit expiry.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotHeld is returned when a token no longer owns the document's lock.
var ErrNotHeld = errors.New("lock not held by token")

// Locker grants one token per document at a time. Acquire returns
// common.ErrAlreadyActive while another unexpired token exists.
type Locker interface {
	Acquire(ctx context.Context, documentID uuid.UUID, ttl time.Duration) (string, error)
	Refresh(ctx context.Context, documentID uuid.UUID, token string, ttl time.Duration) error
	Release(ctx context.Context, documentID uuid.UUID, token string) error
	Holder(ctx context.Context, documentID uuid.UUID) (token string, ok bool, err error)
}

func newToken() string {
	return uuid.NewString()
}
