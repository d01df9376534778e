// Package janitor deletes the stored files of old runs on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Shimizu-Technology/serial-stamp-api/internal/models"
	"github.com/Shimizu-Technology/serial-stamp-api/internal/storage"
)

// batchSize bounds how many runs one sweep looks at per query.
const batchSize = 100

// RunStore is the persistence the janitor needs. *database.DB implements it.
type RunStore interface {
	ListExpiredRuns(ctx context.Context, cutoff time.Time, limit int) ([]models.SeriesRun, error)
	MarkRunExpired(ctx context.Context, id string) error
}

// Janitor removes templates and artifacts of runs older than a TTL.
type Janitor struct {
	db    RunStore
	store storage.Store
	ttl   time.Duration
	now   func() time.Time

	cron *cron.Cron
	mu   sync.Mutex // one sweep at a time
}

// New creates a janitor for runs older than ttl.
func New(db RunStore, store storage.Store, ttl time.Duration) *Janitor {
	return &Janitor{
		db:    db,
		store: store,
		ttl:   ttl,
		now:   time.Now,
		cron:  cron.New(),
	}
}

// Start schedules Sweep with a standard cron spec or descriptor such as
// "@hourly".
func (j *Janitor) Start(schedule string) error {
	_, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		n, err := j.Sweep(ctx)
		if err != nil {
			log.Printf("⚠️  Janitor sweep failed after %d runs: %v", n, err)
			return
		}
		if n > 0 {
			log.Printf("🧹 Janitor expired %d runs", n)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}
	j.cron.Start()
	log.Printf("🧹 Janitor scheduled (%s, ttl %s)", schedule, j.ttl)
	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep expires every finished run created more than ttl ago and returns
// how many were expired.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := j.now().Add(-j.ttl)
	expired := 0
	for {
		runs, err := j.db.ListExpiredRuns(ctx, cutoff, batchSize)
		if err != nil {
			return expired, err
		}
		if len(runs) == 0 {
			return expired, nil
		}

		for _, run := range runs {
			if err := j.expire(ctx, run); err != nil {
				return expired, err
			}
			expired++
		}
		if len(runs) < batchSize {
			return expired, nil
		}
	}
}

func (j *Janitor) expire(ctx context.Context, run models.SeriesRun) error {
	for _, key := range []string{run.ArtifactKey, run.SourceKey} {
		if key == "" {
			continue
		}
		if err := j.store.Delete(ctx, key); err != nil {
			return fmt.Errorf("run %s: %w", run.ID, err)
		}
	}
	if err := j.db.MarkRunExpired(ctx, run.ID); err != nil {
		return fmt.Errorf("run %s: %w", run.ID, err)
	}
	return nil
}
