package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/docscan/constants"
	"github.com/joseph-ayodele/docscan/internal/common"
	"github.com/joseph-ayodele/docscan/internal/core/async"
	"github.com/joseph-ayodele/docscan/internal/core/dispatch"
	"github.com/joseph-ayodele/docscan/internal/core/llm"
	"github.com/joseph-ayodele/docscan/internal/core/lock"
	"github.com/joseph-ayodele/docscan/internal/core/stage"
	"github.com/joseph-ayodele/docscan/internal/entity"
	"github.com/joseph-ayodele/docscan/internal/repository"
	"github.com/joseph-ayodele/docscan/internal/repository/repotest"
	"github.com/joseph-ayodele/docscan/internal/search"
	"github.com/joseph-ayodele/docscan/internal/storage"
)

const validUnderstanding = `{
  "category": "invoice",
  "category_confidence": 0.92,
  "summary": "ACME invoice for March",
  "tags": ["billing", "acme"],
  "entities": {
    "people": [],
    "organizations": ["ACME"],
    "dates": ["2024-03-01"],
    "amounts": ["¥1,000"],
    "addresses": [],
    "references": ["INV-42"]
  },
  "document_date": "2024-03-01",
  "key_points": ["due in 30 days"]
}`

type fakeRecognizer struct {
	mu    sync.Mutex
	pages map[int]entity.PageText
	fail  map[int][]error // consumed one per call
	calls map[int]int
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{pages: map[int]entity.PageText{}, fail: map[int][]error{}, calls: map[int]int{}}
}

func (f *fakeRecognizer) Recognize(ctx context.Context, img entity.PageImage) (entity.PageText, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[img.Number]++
	if errs := f.fail[img.Number]; len(errs) > 0 {
		err := errs[0]
		if len(errs) > 1 {
			f.fail[img.Number] = errs[1:]
		}
		if err != nil {
			return entity.PageText{}, err
		}
	}
	return f.pages[img.Number], nil
}

func (f *fakeRecognizer) set(page int, text string, confidences ...float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pt := entity.PageText{FullText: text}
	for i, c := range confidences {
		y := float64(10 + 30*i)
		pt.Blocks = append(pt.Blocks, entity.Block{Text: fmt.Sprintf("%s %d", text, i), BBox: entity.BBox{10, y, 200, y + 20}, Confidence: c})
	}
	pt.Words = pt.Blocks
	pt.Confidence = MeanConfidence(pt.Blocks)
	f.pages[page] = pt
}

func (f *fakeRecognizer) failWith(page int, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[page] = errs
}

type fakeTables struct {
	failPages map[int]bool
	always    bool
}

func (f *fakeTables) Extract(ctx context.Context, img entity.PageImage, text entity.PageText) ([]entity.Table, error) {
	if f.always || f.failPages[img.Number] {
		return nil, common.NewPermanentEngineError(constants.StageTableExtraction, errors.New("layout model crashed"))
	}
	return []entity.Table{{
		BBox: entity.BBox{0, 0, 100, 50},
		HTML: fmt.Sprintf("<table><tbody><tr><td>page %d</td></tr></tbody></table>", img.Number),
	}}, nil
}

type fakeUnderstander struct {
	mu       sync.Mutex
	outcomes []llm.Outcome
	calls    int
	last     llm.Request
}

func (f *fakeUnderstander) Understand(ctx context.Context, req llm.Request) (llm.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	out := f.outcomes[0]
	if len(f.outcomes) > 1 {
		f.outcomes = f.outcomes[1:]
	}
	return out, nil
}

func parsed() llm.Outcome {
	return llm.ParseResponse([]byte(validUnderstanding), nil)
}

type failingPages struct {
	repository.PageRepository
	calls int
}

func (f *failingPages) Upsert(ctx context.Context, p *entity.OCRPage) error {
	f.calls++
	return errors.New("database is locked")
}

type harness struct {
	docs       repository.DocumentRepository
	pages      repository.PageRepository
	store      *storage.FS
	locks      *lock.Memory
	index      *search.Memory
	queue      *async.ChannelQueue
	dispatcher *dispatch.Dispatcher
	publisher  *Publisher
	rec        *fakeRecognizer
	tables     *fakeTables
	und        *fakeUnderstander
	orch       *Orchestrator
	cfg        Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := repotest.Open(t)
	h := &harness{
		docs:   repository.NewDocumentRepository(db, nil),
		pages:  repository.NewPageRepository(db, nil),
		store:  storage.NewFS(t.TempDir(), nil),
		locks:  lock.NewMemory(),
		index:  search.NewMemory(),
		queue:  async.NewChannelQueue(nil),
		rec:    newFakeRecognizer(),
		tables: &fakeTables{failPages: map[int]bool{}},
		und:    &fakeUnderstander{outcomes: []llm.Outcome{parsed()}},
		cfg: Config{
			PageConcurrency: 2,
			MaxAttempts:     3,
			OCRTimeout:      time.Second,
			TableTimeout:    time.Second,
			MaxChars:        15000,
			MinChars:        10,
			LockTTL:         time.Minute,
		},
	}
	t.Cleanup(func() { _ = h.queue.Close() })
	h.publisher = NewPublisher(h.docs, h.pages, h.index, nil, nil)
	h.dispatcher = dispatch.New(h.docs, h.queue, h.locks, h.publisher, time.Minute, nil, nil)
	h.build(h.pages)
	return h
}

func (h *harness) build(pages repository.PageRepository) {
	h.orch = New(Deps{
		Documents:    h.docs,
		Store:        h.store,
		Recognizer:   h.rec,
		Tables:       h.tables,
		Understander: h.und,
		Writer:       NewWriter(h.docs, pages, 3, stage.Backoff{}, nil),
		Publisher:    h.publisher,
		Locks:        h.locks,
	}, h.cfg)
}

// upload creates a document with n stored pages and default recognition results.
func (h *harness) upload(t *testing.T, n int) *entity.Document {
	t.Helper()
	ctx := context.Background()
	doc := &entity.Document{
		Filename:         uuid.NewString() + ".pdf",
		OriginalFilename: "invoice.pdf",
		ContentType:      "application/pdf",
		FileSize:         4096,
	}
	doc.StorageKey = "documents/" + doc.Filename
	require.NoError(t, h.docs.Create(ctx, doc))
	for i := 1; i <= n; i++ {
		require.NoError(t, h.store.PutPage(ctx, doc.StorageKey, i, []byte(fmt.Sprintf("page-%d", i))))
		h.rec.set(i, fmt.Sprintf("Invoice page %d text", i), 0.9)
	}
	return doc
}

// next runs the next queued job through the orchestrator and acks it.
func (h *harness) next(t *testing.T) async.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := h.queue.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, h.orch.Handle(ctx, d.Job))
	require.NoError(t, d.Ack(ctx))
	return d.Job
}

func (h *harness) process(t *testing.T, id uuid.UUID) *entity.Document {
	t.Helper()
	_, err := h.dispatcher.Enqueue(context.Background(), id, constants.ReasonInitial)
	require.NoError(t, err)
	h.next(t)
	return h.reload(t, id)
}

func (h *harness) reload(t *testing.T, id uuid.UUID) *entity.Document {
	t.Helper()
	doc, err := h.docs.GetByID(context.Background(), id)
	require.NoError(t, err)
	return doc
}

func (h *harness) pagesOf(t *testing.T, id uuid.UUID) []entity.OCRPage {
	t.Helper()
	pages, err := h.pages.ListByDocument(context.Background(), id)
	require.NoError(t, err)
	return pages
}

func (h *harness) lockHeld(t *testing.T, id uuid.UUID) bool {
	t.Helper()
	_, held, err := h.locks.Holder(context.Background(), id)
	require.NoError(t, err)
	return held
}

func TestOrchestrator_ThreePageDocument(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 3)
	h.rec.set(1, "Invoice No. 42", 0.9, 0.95, 0.99)
	h.tables.failPages[2] = true

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusCompleted, got.Status)
	assert.Nil(t, got.FailureReason)
	require.NotNil(t, got.PageCount)
	assert.Equal(t, 3, *got.PageCount)
	require.NotNil(t, got.Category)
	assert.Equal(t, string(constants.Invoice), *got.Category)
	assert.Equal(t, "ACME invoice for March", *got.Summary)
	assert.Equal(t, []string{"billing", "acme"}, got.Tags)
	require.NotNil(t, got.Entities)
	assert.Equal(t, []string{"ACME"}, got.Entities.Organizations)
	assert.Equal(t, "2024-03-01", *got.DocumentDate)
	assert.Equal(t, []string{"due in 30 days"}, got.KeyPoints)

	pages := h.pagesOf(t, doc.ID)
	require.Len(t, pages, 3)
	assert.InDelta(t, 0.9467, pages[0].Confidence, 1e-9)
	assert.Len(t, pages[0].Blocks, 3)
	assert.Len(t, pages[0].Tables, 1)
	assert.Equal(t, []entity.Table{}, pages[1].Tables)
	assert.Len(t, pages[2].Tables, 1)
	assert.True(t, strings.HasPrefix(pages[0].PageImageURL, "file://"))

	entry, ok := h.index.Get(doc.ID)
	require.True(t, ok)
	assert.Contains(t, entry.OCRText, "Invoice No. 42")
	assert.Contains(t, entry.OCRText, constants.PageBreak)
	assert.Equal(t, "ACME invoice for March", entry.Summary)

	assert.Contains(t, h.und.last.Text, "Invoice page 3 text")
	assert.False(t, h.lockHeld(t, doc.ID))
}

func TestOrchestrator_UnconfiguredUnderstanding(t *testing.T) {
	h := newHarness(t)
	h.und.outcomes = []llm.Outcome{{Kind: llm.Unconfigured, Reason: "no key"}}
	doc := h.upload(t, 2)

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusCompleted, got.Status)
	assert.False(t, got.HasUnderstanding())
	assert.Nil(t, got.Category)
	assert.Nil(t, got.Summary)
	assert.Empty(t, got.Tags)
	assert.Nil(t, got.Entities)
	assert.Nil(t, got.DocumentDate)
	assert.Empty(t, got.KeyPoints)
	assert.Equal(t, 1, h.und.calls)

	_, ok := h.index.Get(doc.ID)
	assert.True(t, ok)
}

func TestOrchestrator_TablesAlwaysFail(t *testing.T) {
	h := newHarness(t)
	h.tables.always = true
	doc := h.upload(t, 3)

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusCompleted, got.Status)
	for _, p := range h.pagesOf(t, doc.ID) {
		assert.Equal(t, []entity.Table{}, p.Tables, "page %d", p.PageNumber)
	}
}

func TestOrchestrator_TransientRecognitionIsRetried(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 1)
	h.rec.failWith(1, common.NewTransientEngineError(constants.StageTextRecognition, errors.New("engine busy")), nil)

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusCompleted, got.Status)
	assert.Equal(t, 2, h.rec.calls[1])
}

func TestOrchestrator_RequiredStageFailureFailsDocument(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 3)
	h.rec.failWith(2, common.NewPermanentEngineError(constants.StageTextRecognition, errors.New("corrupt image")))

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusFailed, got.Status)
	require.NotNil(t, got.FailureReason)
	assert.Equal(t, "PermanentEngineError: text_recognition: corrupt image", *got.FailureReason)
	assert.Equal(t, 1, h.rec.calls[2])
	assert.Equal(t, 0, h.und.calls)
	assert.Equal(t, 0, h.index.Len())
	assert.False(t, h.lockHeld(t, doc.ID))
}

func TestOrchestrator_TransientExhaustionFailsDocument(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 1)
	busy := common.NewTransientEngineError(constants.StageTextRecognition, errors.New("engine busy"))
	h.rec.failWith(1, busy)

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusFailed, got.Status)
	assert.Contains(t, *got.FailureReason, "TransientEngineError")
	assert.Equal(t, 3, h.rec.calls[1])
}

func TestOrchestrator_NoPagesFailsDocument(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 0)

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusFailed, got.Status)
	assert.Contains(t, *got.FailureReason, "PermanentEngineError")
	assert.Nil(t, got.PageCount)
}

func TestOrchestrator_SchemaInvalidTwiceSkipsUnderstanding(t *testing.T) {
	h := newHarness(t)
	h.und.outcomes = []llm.Outcome{
		{Kind: llm.SchemaInvalid, Reason: "missing summary"},
		{Kind: llm.SchemaInvalid, Reason: "missing summary"},
		parsed(),
	}
	doc := h.upload(t, 1)

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusCompleted, got.Status)
	assert.False(t, got.HasUnderstanding())
	assert.Equal(t, 2, h.und.calls)
}

func TestOrchestrator_SchemaInvalidOnceThenParsed(t *testing.T) {
	h := newHarness(t)
	h.und.outcomes = []llm.Outcome{{Kind: llm.SchemaInvalid, Reason: "not json"}, parsed()}
	doc := h.upload(t, 1)

	got := h.process(t, doc.ID)

	assert.True(t, got.HasUnderstanding())
	assert.Equal(t, 2, h.und.calls)
}

func TestOrchestrator_InsufficientTextSkipsUnderstanding(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 1)
	h.rec.set(1, " a b ", 0.5)

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusCompleted, got.Status)
	assert.Equal(t, 0, h.und.calls)
}

func TestOrchestrator_PersistenceFailureFailsDocument(t *testing.T) {
	h := newHarness(t)
	broken := &failingPages{PageRepository: h.pages}
	h.build(broken)
	doc := h.upload(t, 1)

	got := h.process(t, doc.ID)

	assert.Equal(t, constants.StatusFailed, got.Status)
	assert.True(t, strings.HasPrefix(*got.FailureReason, "PersistenceError"), *got.FailureReason)
	assert.Equal(t, 3, broken.calls)
	assert.Equal(t, 0, h.index.Len())
}

func TestOrchestrator_ReprocessIsIdempotent(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 2)
	h.rec.set(1, "Invoice No. 42", 0.9, 0.95, 0.99)
	require.Equal(t, constants.StatusCompleted, h.process(t, doc.ID).Status)
	first := h.pagesOf(t, doc.ID)

	require.NoError(t, h.pages.CorrectText(context.Background(), doc.ID, 1, "hand fixed"))

	_, err := h.dispatcher.Reprocess(context.Background(), doc.ID)
	require.NoError(t, err)
	h.next(t)
	assert.Equal(t, constants.StatusCompleted, h.reload(t, doc.ID).Status)

	second := h.pagesOf(t, doc.ID)
	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].PageNumber, second[i].PageNumber)
		assert.Equal(t, first[i].FullText, second[i].FullText)
		assert.Equal(t, first[i].Blocks, second[i].Blocks)
		assert.Equal(t, first[i].Tables, second[i].Tables)
		assert.Equal(t, first[i].Confidence, second[i].Confidence)
		assert.False(t, second[i].ManuallyCorrected)
	}
}

func TestOrchestrator_RedeliveryDoesNotDuplicatePages(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 2)

	job, err := h.dispatcher.Enqueue(context.Background(), doc.ID, constants.ReasonInitial)
	require.NoError(t, err)
	h.next(t)

	// a redelivered copy of the same job after the commit is acknowledged without work
	require.NoError(t, h.orch.Handle(context.Background(), job))
	assert.Len(t, h.pagesOf(t, doc.ID), 2)
	assert.Equal(t, 2, h.rec.calls[1]+h.rec.calls[2])
}

func TestOrchestrator_InitialJobLeavesTerminalDocumentAlone(t *testing.T) {
	for _, tc := range []struct {
		name   string
		fail   bool
		status constants.DocumentStatus
	}{
		{name: "completed", status: constants.StatusCompleted},
		{name: "failed", fail: true, status: constants.StatusFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			ctx := context.Background()
			doc := h.upload(t, 2)
			if tc.fail {
				h.rec.failWith(2, common.NewPermanentEngineError(constants.StageTextRecognition, errors.New("corrupt image")))
			}
			before := h.process(t, doc.ID)
			require.Equal(t, tc.status, before.Status)
			pagesBefore := h.pagesOf(t, doc.ID)
			entryBefore, indexedBefore := h.index.Get(doc.ID)
			calls := h.rec.calls[1] + h.rec.calls[2]
			undCalls := h.und.calls

			_, err := h.dispatcher.Enqueue(ctx, doc.ID, constants.ReasonInitial)
			require.NoError(t, err)
			h.next(t)

			after := h.reload(t, doc.ID)
			assert.Equal(t, tc.status, after.Status)
			assert.Equal(t, before.FailureReason, after.FailureReason)
			assert.Equal(t, before.Summary, after.Summary)
			assert.Equal(t, pagesBefore, h.pagesOf(t, doc.ID))
			entryAfter, indexedAfter := h.index.Get(doc.ID)
			assert.Equal(t, indexedBefore, indexedAfter)
			assert.Equal(t, entryBefore, entryAfter)
			assert.Equal(t, calls, h.rec.calls[1]+h.rec.calls[2])
			assert.Equal(t, undCalls, h.und.calls)
			assert.False(t, h.lockHeld(t, doc.ID))
		})
	}
}

func TestOrchestrator_ReprocessDropsPagesNoLongerStored(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := h.upload(t, 3)
	require.Equal(t, constants.StatusCompleted, h.process(t, doc.ID).Status)
	require.Len(t, h.pagesOf(t, doc.ID), 3)

	h.store = storage.NewFS(t.TempDir(), nil)
	for i := 1; i <= 2; i++ {
		require.NoError(t, h.store.PutPage(ctx, doc.StorageKey, i, []byte(fmt.Sprintf("page-%d", i))))
	}
	h.build(h.pages)

	_, err := h.dispatcher.Reprocess(ctx, doc.ID)
	require.NoError(t, err)
	h.next(t)

	got := h.reload(t, doc.ID)
	assert.Equal(t, constants.StatusCompleted, got.Status)
	require.NotNil(t, got.PageCount)
	assert.Equal(t, 2, *got.PageCount)
	assert.Len(t, h.pagesOf(t, doc.ID), 2)
	entry, ok := h.index.Get(doc.ID)
	require.True(t, ok)
	assert.NotContains(t, entry.OCRText, "Invoice page 3 text")
}

func TestOrchestrator_ReprocessThenFailLeavesIndex(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 1)
	require.Equal(t, constants.StatusCompleted, h.process(t, doc.ID).Status)
	_, ok := h.index.Get(doc.ID)
	require.True(t, ok)

	_, err := h.dispatcher.Reprocess(context.Background(), doc.ID)
	require.NoError(t, err)
	_, ok = h.index.Get(doc.ID)
	assert.False(t, ok, "retracted before the new run starts")
	assert.Equal(t, constants.StatusProcessing, h.reload(t, doc.ID).Status)

	h.rec.failWith(1, common.NewPermanentEngineError(constants.StageTextRecognition, errors.New("unsupported format")))
	h.next(t)

	got := h.reload(t, doc.ID)
	assert.Equal(t, constants.StatusFailed, got.Status)
	assert.False(t, got.HasUnderstanding())
	_, ok = h.index.Get(doc.ID)
	assert.False(t, ok)
}

func TestOrchestrator_StaleTokenIsSkipped(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 1)
	job := async.NewJob(doc.ID, constants.ReasonInitial, "not-the-holder", "")

	require.NoError(t, h.orch.Handle(context.Background(), job))

	assert.Equal(t, constants.StatusUploaded, h.reload(t, doc.ID).Status)
	assert.Empty(t, h.rec.calls)
}

func TestOrchestrator_CanceledRunStaysProcessing(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 1)
	job, err := h.dispatcher.Enqueue(context.Background(), doc.ID, constants.ReasonInitial)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, h.orch.Handle(ctx, job))

	assert.NotEqual(t, constants.StatusFailed, h.reload(t, doc.ID).Status)
	assert.True(t, h.lockHeld(t, doc.ID))
}

func TestOrchestrator_DeadLetterForcesFailed(t *testing.T) {
	h := newHarness(t)
	doc := h.upload(t, 1)
	job, err := h.dispatcher.Enqueue(context.Background(), doc.ID, constants.ReasonInitial)
	require.NoError(t, err)
	job.Deliveries = 6

	h.orch.DeadLetter(context.Background(), job)

	got := h.reload(t, doc.ID)
	assert.Equal(t, constants.StatusFailed, got.Status)
	assert.Equal(t, "TransientEngineError: job: gave up after 5 deliveries", *got.FailureReason)
	assert.False(t, h.lockHeld(t, doc.ID))
}

func TestOrchestrator_WorksUnderPool(t *testing.T) {
	h := newHarness(t)
	docs := []*entity.Document{h.upload(t, 2), h.upload(t, 1), h.upload(t, 3)}

	pool := async.NewPool(h.queue, h.orch, nil, async.WithWorkers(2), async.WithDeadLetter(h.orch.DeadLetter))
	pool.Start(context.Background())
	for _, d := range docs {
		_, err := h.dispatcher.Enqueue(context.Background(), d.ID, constants.ReasonInitial)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool { return h.index.Len() == len(docs) }, 5*time.Second, 10*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pool.Shutdown(ctx)

	for _, d := range docs {
		assert.Equal(t, constants.StatusCompleted, h.reload(t, d.ID).Status)
	}
}
