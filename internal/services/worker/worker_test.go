package worker

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/database"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/download"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/qr"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/storage"
)

// memRuns is an in-memory RunStore.
type memRuns struct {
	mu   sync.Mutex
	runs map[string]*models.SeriesRun
}

func (m *memRuns) get(id string) models.SeriesRun {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.runs[id]
}

func (m *memRuns) GetRun(_ context.Context, id string) (*models.SeriesRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, database.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memRuns) StartRun(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	if r.Status != models.StatusPending {
		return false, nil
	}
	r.Status = models.StatusProcessing
	return true, nil
}

func (m *memRuns) UpdateRunProgress(_ context.Context, id string, done int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[id].Done = done
	return nil
}

func (m *memRuns) CompleteRun(_ context.Context, r *models.SeriesRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.runs[r.ID].Status != models.StatusProcessing {
		return database.ErrRunNotActive
	}
	r.Status = models.StatusCompleted
	cp := *r
	m.runs[r.ID] = &cp
	return nil
}

func (m *memRuns) FinishRun(_ context.Context, id string, status models.RunStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.runs[id]
	if r.Status.Finished() {
		return nil
	}
	r.Status = status
	r.ErrorMessage = message
	return nil
}

// recorder collects progress events and webhook notifications.
type recorder struct {
	mu       sync.Mutex
	events   []models.ProgressEvent
	notified []string
	onEvent  func(models.ProgressEvent)
}

func (r *recorder) Publish(ev models.ProgressEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	hook := r.onEvent
	r.mu.Unlock()
	if hook != nil {
		hook(ev)
	}
}

func (r *recorder) NotifyEvent(_ context.Context, _ string, event string, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notified = append(r.notified, event)
}

func (r *recorder) last() models.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

func templatePDF(t *testing.T, pages int) []byte {
	t.Helper()
	doc := gofpdf.New("P", "pt", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		doc.AddPage()
		doc.Text(50, 80, "Warranty card")
	}
	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

type fixture struct {
	pool  *Pool
	runs  *memRuns
	store *storage.LocalStore
	rec   *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	runs := &memRuns{runs: map[string]*models.SeriesRun{}}
	rec := &recorder{}
	pool := NewPool(1, 4, runs, store, stamp.New(qr.NewEncoder(), stamp.DefaultOptions()), rec)
	pool.SetWebhookService(rec)
	return &fixture{pool: pool, runs: runs, store: store, rec: rec}
}

func (f *fixture) addRun(t *testing.T, id, template string, copies int, mode string, src []byte) {
	t.Helper()
	key := storage.TemplateKey(id)
	require.NoError(t, f.store.Put(context.Background(), key, src, "application/pdf"))
	f.runs.runs[id] = &models.SeriesRun{
		ID:        id,
		APIKeyID:  "key-1",
		Template:  template,
		Copies:    copies,
		Mode:      mode,
		SourceKey: key,
		Status:    models.StatusPending,
	}
}

func TestProcessSeries_Archive(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "run-a", "KM-{0001}", 3, "archive", templatePDF(t, 1))

	require.NoError(t, f.pool.processSeries(Job{ID: "run-a", Type: JobSeriesRun}))

	run := f.runs.get("run-a")
	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, 3, run.Done)
	assert.Equal(t, 1, run.PageCount)
	assert.Equal(t, []string{"KM-0001", "KM-0002", "KM-0003"}, []string(run.Serials))
	assert.Equal(t, "KM-series.zip", run.ArtifactName)
	assert.Equal(t, "application/zip", run.ContentType)
	assert.JSONEq(t, "null", string(run.Warnings))

	data, err := f.store.Get(context.Background(), run.ArtifactKey)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), run.ArtifactSize)
	assert.Equal(t, download.Checksum(data), run.Checksum)

	var done []int
	for _, ev := range f.rec.events {
		done = append(done, ev.Done)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 3}, done)
	assert.Equal(t, models.StatusCompleted, f.rec.last().Status)
	assert.Equal(t, []string{models.EventSeriesCompleted}, f.rec.notified)
}

func TestProcessSeries_MergedWithOverride(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "run-m", "{1}", 2, "merged", templatePDF(t, 2))
	x, y := 10.0, 10.0
	f.runs.runs["run-m"].OverrideX = &x
	f.runs.runs["run-m"].OverrideY = &y

	require.NoError(t, f.pool.processSeries(Job{ID: "run-m", Type: JobSeriesRun}))

	run := f.runs.get("run-m")
	assert.Equal(t, models.StatusCompleted, run.Status)
	assert.Equal(t, "series.pdf", run.ArtifactName)

	data, err := f.store.Get(context.Background(), run.ArtifactKey)
	require.NoError(t, err)
	n, err := stamp.PageCount(data)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestProcessSeries_Failure(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "run-bad", "A{1}", 2, "archive", []byte("%PDF-1.4 this is not really a pdf"))

	err := f.pool.processSeries(Job{ID: "run-bad", Type: JobSeriesRun})
	assert.ErrorIs(t, err, stamp.ErrDocumentDecode)

	run := f.runs.get("run-bad")
	assert.Equal(t, models.StatusFailed, run.Status)
	assert.NotEmpty(t, run.ErrorMessage)
	assert.Equal(t, models.StatusFailed, f.rec.last().Status)
	assert.Equal(t, []string{models.EventSeriesFailed}, f.rec.notified)
}

func TestProcessSeries_BadTemplateString(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "run-t", "NOBRACES", 1, "archive", templatePDF(t, 1))

	err := f.pool.processSeries(Job{ID: "run-t", Type: JobSeriesRun})
	assert.Error(t, err)
	assert.Equal(t, models.StatusFailed, f.runs.get("run-t").Status)
}

func TestProcessSeries_SkipsCancelledBeforeStart(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "run-c", "A{1}", 1, "archive", templatePDF(t, 1))
	f.runs.runs["run-c"].Status = models.StatusCancelled

	require.NoError(t, f.pool.processSeries(Job{ID: "run-c", Type: JobSeriesRun}))
	assert.Equal(t, models.StatusCancelled, f.runs.get("run-c").Status)
	assert.Empty(t, f.rec.events)
	assert.Empty(t, f.rec.notified)
}

func TestProcessSeries_CancelWhileRunning(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "run-x", "X{1}", 25, "merged", templatePDF(t, 1))
	f.rec.onEvent = func(ev models.ProgressEvent) {
		if ev.Done == 1 {
			assert.True(t, f.pool.Cancel("run-x"))
		}
	}

	require.NoError(t, f.pool.processSeries(Job{ID: "run-x", Type: JobSeriesRun}))

	run := f.runs.get("run-x")
	assert.Equal(t, models.StatusCancelled, run.Status)
	assert.Less(t, run.Done, 25)
	assert.Equal(t, models.StatusCancelled, f.rec.last().Status)
	assert.Empty(t, f.rec.notified)
	assert.False(t, f.pool.Cancel("run-x"), "finished runs are no longer cancellable")
}

func TestSubmit_QueueFull(t *testing.T) {
	f := newFixture(t)
	pool := NewPool(1, 1, f.runs, f.store, nil, nil)

	require.NoError(t, pool.Submit(Job{ID: "1", Type: JobSeriesRun}))
	assert.ErrorIs(t, pool.Submit(Job{ID: "2", Type: JobSeriesRun}), ErrQueueFull)
	assert.Equal(t, 1, pool.QueueSize())
}

func TestPool_StartSubmitStop(t *testing.T) {
	f := newFixture(t)
	f.addRun(t, "run-bg", "BG-{01}", 2, "archive", templatePDF(t, 1))

	f.pool.Start()
	require.NoError(t, f.pool.Submit(Job{ID: "run-bg", Type: JobSeriesRun, CreatedAt: time.Now()}))
	require.Eventually(t, func() bool {
		return f.runs.get("run-bg").Status == models.StatusCompleted
	}, 10*time.Second, 20*time.Millisecond)
	f.pool.Stop()
}
