package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/async"
	"github.com/joseph-ayodele/docscan/internal/core/lock"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/repository"
	"github.com/joseph-ayodele/docscan/internal/repository/repotest"
)

type recordingRetractor struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingRetractor) Retract(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return nil
}

type fixture struct {
	docs      repository.DocumentRepository
	queue     *async.ChannelQueue
	locks     *lock.Memory
	retracted *recordingRetractor
	d         *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := repotest.Open(t)
	f := &fixture{
		docs:      repository.NewDocumentRepository(db, nil),
		queue:     async.NewChannelQueue(nil),
		locks:     lock.NewMemory(),
		retracted: &recordingRetractor{},
	}
	t.Cleanup(func() { _ = f.queue.Close() })
	f.d = New(f.docs, f.queue, f.locks, f.retracted, time.Minute, nil, nil)
	return f
}

func (f *fixture) uploaded(t *testing.T) *entity.Document {
	t.Helper()
	doc := &entity.Document{Filename: "x.pdf", OriginalFilename: "x.pdf", ContentType: "application/pdf", StorageKey: "docs/x.pdf"}
	require.NoError(t, f.docs.Create(context.Background(), doc))
	return doc
}

func (f *fixture) completed(t *testing.T) *entity.Document {
	t.Helper()
	ctx := context.Background()
	doc := f.uploaded(t)
	ok, err := f.docs.MarkProcessing(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.docs.Finish(ctx, doc.ID, repository.FinishParams{
		Status: constants.StatusCompleted,
		Understanding: &entity.Understanding{
			Category: "Invoice", CategoryConfidence: 0.9, Summary: "s",
			Tags: []string{"t"}, KeyPoints: []string{"k"},
		},
	})
	require.NoError(t, err)
	return doc
}

func (f *fixture) receive(t *testing.T) async.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d, err := f.queue.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Ack(ctx))
	return d.Job
}

func TestDispatcher_EnqueuePublishesJobWithToken(t *testing.T) {
	f := newFixture(t)
	doc := f.uploaded(t)

	job, err := f.d.Enqueue(context.Background(), doc.ID, constants.ReasonInitial)
	require.NoError(t, err)
	assert.NotEmpty(t, job.LockToken)
	assert.NotEmpty(t, job.TraceID)

	token, held, err := f.locks.Holder(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, job.LockToken, token)

	got := f.receive(t)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, constants.ReasonInitial, got.Reason)
}

func TestDispatcher_SecondEnqueueIsAlreadyActive(t *testing.T) {
	f := newFixture(t)
	doc := f.uploaded(t)

	_, err := f.d.Enqueue(context.Background(), doc.ID, constants.ReasonInitial)
	require.NoError(t, err)
	_, err = f.d.Enqueue(context.Background(), doc.ID, constants.ReasonInitial)
	assert.ErrorIs(t, err, common.ErrAlreadyActive)
}

func TestDispatcher_ConcurrentEnqueueOneWinner(t *testing.T) {
	f := newFixture(t)
	doc := f.uploaded(t)

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.d.Enqueue(context.Background(), doc.ID, constants.ReasonInitial)
		}(i)
	}
	wg.Wait()

	ok, active := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, common.ErrAlreadyActive):
			active++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, active)
}

func TestDispatcher_EnqueueUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.d.Enqueue(context.Background(), uuid.New(), constants.ReasonInitial)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestDispatcher_PublishFailureReleasesLock(t *testing.T) {
	f := newFixture(t)
	doc := f.uploaded(t)
	require.NoError(t, f.queue.Close())

	_, err := f.d.Enqueue(context.Background(), doc.ID, constants.ReasonInitial)
	assert.ErrorIs(t, err, async.ErrClosed)

	_, held, err := f.locks.Holder(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.False(t, held)
}

func TestDispatcher_ReprocessRequiresTerminalStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	doc := f.uploaded(t)
	_, err := f.d.Reprocess(ctx, doc.ID)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	ok, err := f.docs.MarkProcessing(ctx, doc.ID)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = f.d.Reprocess(ctx, doc.ID)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	_, held, err := f.locks.Holder(ctx, doc.ID)
	require.NoError(t, err)
	assert.False(t, held)
	assert.Empty(t, f.retracted.ids)
}

func TestDispatcher_ReprocessResetsAndRetracts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.completed(t)

	job, err := f.d.Reprocess(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.ReasonReprocess, job.Reason)

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusProcessing, got.Status)
	assert.False(t, got.HasUnderstanding())
	assert.Equal(t, []uuid.UUID{doc.ID}, f.retracted.ids)

	assert.Equal(t, job.ID, f.receive(t).ID)
}

func TestDispatcher_ReprocessWhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.completed(t)

	_, err := f.locks.Acquire(ctx, doc.ID, time.Minute)
	require.NoError(t, err)

	_, err = f.d.Reprocess(ctx, doc.ID)
	assert.ErrorIs(t, err, common.ErrAlreadyActive)

	got, err := f.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, constants.StatusCompleted, got.Status)
	assert.True(t, got.HasUnderstanding())
}
