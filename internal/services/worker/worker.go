// Package worker provides a background job processing system using goroutines.
//
// Go Pattern: Goroutines and channels are Go's concurrency primitives.
// This worker pool pattern is very common in Go:
// 1. Create a buffered channel as a job queue
// 2. Spawn N worker goroutines that read from the channel
// 3. Send jobs to the channel from your HTTP handlers
// 4. Workers process jobs concurrently
//
// Each job here is one asynchronous series run: the worker loads the
// template from storage, runs the stamping pipeline, stores the artifact
// and reports progress along the way.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/database"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/serial"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/download"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/services/stamp"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/storage"
)

// JobType identifies what kind of work a job represents.
type JobType string

const (
	JobSeriesRun JobType = "series_run"
)

// ErrQueueFull is returned by Submit when no more jobs can be buffered.
var ErrQueueFull = errors.New("job queue is full; try again later")

// Job represents a unit of work to be processed by a worker.
type Job struct {
	ID        string // The series run ID
	Type      JobType
	CreatedAt time.Time
}

// RunStore is the run persistence workers need. *database.DB implements it.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*models.SeriesRun, error)
	StartRun(ctx context.Context, id string) (bool, error)
	UpdateRunProgress(ctx context.Context, id string, done int) error
	CompleteRun(ctx context.Context, r *models.SeriesRun) error
	FinishRun(ctx context.Context, id string, status models.RunStatus, message string) error
}

// Publisher receives live progress events (the websocket hub).
type Publisher interface {
	Publish(ev models.ProgressEvent)
}

// Notifier sends webhook events for finished runs.
type Notifier interface {
	NotifyEvent(ctx context.Context, apiKeyID, event string, data any)
}

// Pool manages a pool of worker goroutines.
type Pool struct {
	// Buffered channel acting as the job queue.
	jobs     chan Job
	workers  int
	db       RunStore
	store    storage.Store
	pipeline *stamp.Pipeline
	progress Publisher
	webhooks Notifier

	// running maps run IDs being processed to the cancel func of their context.
	mu      sync.Mutex
	running map[string]context.CancelFunc

	wg sync.WaitGroup

	// Cancelling ctx stops all workers and aborts in-flight runs.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates a new worker pool.
func NewPool(workers, queueSize int, db RunStore, store storage.Store, pipeline *stamp.Pipeline, progress Publisher) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:     make(chan Job, queueSize),
		workers:  workers,
		db:       db,
		store:    store,
		pipeline: pipeline,
		progress: progress,
		running:  make(map[string]context.CancelFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetWebhookService wires webhook notifications for finished runs.
func (p *Pool) SetWebhookService(n Notifier) {
	p.webhooks = n
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	log.Printf("🚀 Starting %d background workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop gracefully shuts down all workers. Runs still in progress are
// aborted and marked failed.
func (p *Pool) Stop() {
	log.Println("⏹️  Stopping workers...")
	p.cancel()
	close(p.jobs)
	p.wg.Wait()
	log.Println("✅ All workers stopped")
}

// Submit adds a job to the queue.
// Returns ErrQueueFull if the queue is full (non-blocking).
func (p *Pool) Submit(job Job) error {
	// Go Pattern: `select` with `default` makes channel operations non-blocking.
	select {
	case p.jobs <- job:
		log.Printf("📥 Job queued: %s (type: %s)", job.ID, job.Type)
		return nil
	default:
		return ErrQueueFull
	}
}

// Cancel aborts a run that is currently being processed. It reports
// whether the run was running on this pool.
func (p *Pool) Cancel(runID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	cancel, ok := p.running[runID]
	if ok {
		cancel()
	}
	return ok
}

// QueueSize returns the current number of jobs in the queue.
func (p *Pool) QueueSize() int {
	return len(p.jobs)
}

// WorkerCount returns the number of workers.
func (p *Pool) WorkerCount() int {
	return p.workers
}

// worker is the main loop for each worker goroutine.
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log.Printf("👷 Worker %d started", id)

	for job := range p.jobs {
		select {
		case <-p.ctx.Done():
			log.Printf("👷 Worker %d shutting down", id)
			return
		default:
		}

		log.Printf("👷 Worker %d processing job: %s (type: %s)", id, job.ID, job.Type)

		var err error
		switch job.Type {
		case JobSeriesRun:
			err = p.processSeries(job)
		default:
			err = fmt.Errorf("unknown job type: %s", job.Type)
		}

		if err != nil {
			log.Printf("❌ Worker %d: job %s failed: %v", id, job.ID, err)
		} else {
			log.Printf("✅ Worker %d: job %s done", id, job.ID)
		}
	}

	log.Printf("👷 Worker %d stopped", id)
}

// processSeries executes one series run end to end.
func (p *Pool) processSeries(job Job) error {
	// Bookkeeping uses a context that survives cancellation of the run
	// itself, so failures can still be recorded.
	bg := context.WithoutCancel(p.ctx)

	run, err := p.db.GetRun(bg, job.ID)
	if err != nil {
		return fmt.Errorf("failed to get run: %w", err)
	}

	started, err := p.db.StartRun(bg, run.ID)
	if err != nil {
		return err
	}
	if !started {
		log.Printf("⏭️  Run %s is %s; skipping", run.ID, run.Status)
		return nil
	}
	run.Status = models.StatusProcessing
	p.publish(run, 0, "")

	ctx, cancel := context.WithCancel(p.ctx)
	p.mu.Lock()
	p.running[run.ID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.running, run.ID)
		p.mu.Unlock()
		cancel()
	}()

	art, err := p.execute(ctx, run)
	if err != nil {
		return p.fail(bg, run, err)
	}

	key := storage.ArtifactKey(run.ID, art.Filename)
	if err := p.store.Put(bg, key, art.Data, art.ContentType); err != nil {
		return p.fail(bg, run, fmt.Errorf("failed to store artifact: %w", err))
	}

	warnings, err := json.Marshal(art.Warnings)
	if err != nil {
		return p.fail(bg, run, fmt.Errorf("failed to encode warnings: %w", err))
	}

	run.Done = len(art.Serials)
	run.PageCount = art.PageCount
	run.Serials = art.Serials
	run.Warnings = warnings
	run.ArtifactKey = key
	run.ArtifactName = art.Filename
	run.ContentType = art.ContentType
	run.ArtifactSize = int64(len(art.Data))
	run.Checksum = download.Checksum(art.Data)

	if err := p.db.CompleteRun(bg, run); err != nil {
		if errors.Is(err, database.ErrRunNotActive) {
			// Cancelled after the last copy; the artifact is not wanted.
			_ = p.store.Delete(bg, key)
			run.Status = models.StatusCancelled
			p.publish(run, run.Done, "")
			return nil
		}
		return p.fail(bg, run, err)
	}

	if len(art.Warnings) > 0 {
		log.Printf("⚠️  Run %s finished with %d warnings", run.ID, len(art.Warnings))
	}
	p.publish(run, run.Done, "")
	p.notify(bg, run, models.EventSeriesCompleted)
	return nil
}

// execute loads the inputs of run and runs the pipeline.
func (p *Pool) execute(ctx context.Context, run *models.SeriesRun) (*stamp.Artifact, error) {
	tmpl, err := serial.Parse(run.Template)
	if err != nil {
		return nil, err
	}
	mode, err := stamp.ParseMode(run.Mode)
	if err != nil {
		return nil, err
	}
	src, err := p.store.Get(ctx, run.SourceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}

	req := stamp.Request{
		Source:   src,
		Template: tmpl,
		Copies:   run.Copies,
		Mode:     mode,
	}
	if run.OverrideX != nil && run.OverrideY != nil {
		req.Override = &stamp.Point{X: *run.OverrideX, Y: *run.OverrideY}
	}

	obs := stamp.ObserverFunc(func(done, total int, s string) {
		if err := p.db.UpdateRunProgress(context.WithoutCancel(ctx), run.ID, done); err != nil {
			log.Printf("⚠️  Failed to record progress for run %s: %v", run.ID, err)
		}
		p.publish(run, done, s)
	})
	return p.pipeline.Run(ctx, req, obs)
}

// fail records err on run. Context cancellation caused by a client cancel
// is not a failure; cancellation caused by shutdown is.
func (p *Pool) fail(ctx context.Context, run *models.SeriesRun, err error) error {
	status, message := models.StatusFailed, err.Error()
	switch {
	case errors.Is(err, context.Canceled) && p.ctx.Err() != nil:
		message = "interrupted by server shutdown"
	case errors.Is(err, context.Canceled):
		status, message = models.StatusCancelled, "cancelled by client"
	}

	if dbErr := p.db.FinishRun(ctx, run.ID, status, message); dbErr != nil {
		log.Printf("⚠️  Failed to record outcome of run %s: %v", run.ID, dbErr)
	}
	run.Status = status
	run.ErrorMessage = message
	p.publish(run, run.Done, "")

	if status == models.StatusCancelled {
		log.Printf("🛑 Run %s cancelled", run.ID)
		return nil
	}
	p.notify(ctx, run, models.EventSeriesFailed)
	return err
}

// publish reports the current state of run with done copies finished.
func (p *Pool) publish(run *models.SeriesRun, done int, serial string) {
	if done > run.Done {
		run.Done = done
	}
	if p.progress == nil {
		return
	}
	p.progress.Publish(models.ProgressEvent{
		RunID:  run.ID,
		Done:   done,
		Total:  run.Copies,
		Serial: serial,
		Status: run.Status,
		Error:  run.ErrorMessage,
	})
}

func (p *Pool) notify(ctx context.Context, run *models.SeriesRun, event string) {
	if p.webhooks == nil {
		return
	}
	p.webhooks.NotifyEvent(ctx, run.APIKeyID, event, run)
}
