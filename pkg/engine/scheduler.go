package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Observer receives scheduling lifecycle notifications, e.g. for metrics.
type Observer interface {
	JobStarted(tileID string)
	JobFinished(outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) JobStarted(string)   {}
func (nopObserver) JobFinished(Outcome) {}

// Options configures a Scheduler.
type Options struct {
	// MaxWorkers bounds the number of concurrently executing jobs.
	// Must be positive.
	MaxWorkers int

	// JobTimeout bounds a single job's execution. Zero means no timeout.
	JobTimeout time.Duration

	// Observer is notified of job starts and finishes. Optional.
	Observer Observer
}

// Scheduler dispatches jobs to a bounded pool of executors. A single job's
// failure is recorded in its outcome and never aborts the rest of the run.
type Scheduler struct {
	executor   Executor
	maxWorkers int
	jobTimeout time.Duration
	observer   Observer
}

// NewScheduler creates a scheduler. MaxWorkers <= 0 is rejected before any
// job starts.
func NewScheduler(executor Executor, opts Options) (*Scheduler, error) {
	if opts.MaxWorkers <= 0 {
		return nil, NewPermanentError("max workers must be positive", nil).
			WithCode(ErrCodeInvalidConcurrency)
	}
	obs := opts.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Scheduler{
		executor:   executor,
		maxWorkers: opts.MaxWorkers,
		jobTimeout: opts.JobTimeout,
		observer:   obs,
	}, nil
}

// Run executes all jobs and returns one outcome per job, in the order the
// jobs were supplied regardless of completion order. Cancelling the context
// stops dispatching new jobs; in-flight workers run to their next safe
// stopping point and undispatched jobs are reported as skipped.
func (s *Scheduler) Run(ctx context.Context, jobs []Job) []Outcome {
	workerCount := s.maxWorkers
	if len(jobs) < workerCount {
		workerCount = len(jobs)
	}

	// Results are slotted by job index, not tile ID, so two jobs that happen
	// to share an ID still each get their own outcome.
	type indexedJob struct {
		index int
		job   Job
	}
	queue := make(chan indexedJob)
	results := make([]Outcome, len(jobs))
	finished := make([]bool, len(jobs))

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range queue {
				outcome := s.runOne(ctx, item.job)
				results[item.index] = outcome
				finished[item.index] = true
				s.observer.JobFinished(outcome)
			}
		}()
	}

dispatch:
	for i, job := range jobs {
		select {
		case queue <- indexedJob{index: i, job: job}:
		case <-ctx.Done():
			log.Warn().Msg("Run cancelled, waiting for in-flight tiles to finish")
			break dispatch
		}
	}
	close(queue)
	wg.Wait()

	outcomes := make([]Outcome, 0, len(jobs))
	for i, job := range jobs {
		if finished[i] {
			outcomes = append(outcomes, results[i])
			continue
		}
		outcomes = append(outcomes, Outcome{
			TileID: job.TileID(),
			Status: StatusSkipped,
		})
	}
	return outcomes
}

// runOne executes a single job under the per-job timeout and converts any
// error into a failure outcome.
func (s *Scheduler) runOne(ctx context.Context, job Job) Outcome {
	jobCtx := ctx
	cancel := context.CancelFunc(func() {})
	if s.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, s.jobTimeout)
	}
	defer cancel()

	s.observer.JobStarted(job.TileID())
	started := time.Now()
	err := s.executor.ExecuteTile(jobCtx, job)
	elapsed := time.Since(started)

	if err != nil {
		code := CodeOf(err)
		if jobCtx.Err() == context.DeadlineExceeded {
			code = ErrCodeTimeout
			err = NewPermanentError("tile execution timed out", err).
				WithCode(ErrCodeTimeout).WithTile(job.TileID())
		}
		log.Error().
			Str("tile", job.TileID()).
			Str("code", code).
			Dur("duration", elapsed).
			Err(err).
			Msg("Tile failed")
		return Outcome{
			TileID:   job.TileID(),
			Status:   StatusFailed,
			Code:     code,
			Err:      err,
			Duration: elapsed,
		}
	}

	log.Info().
		Str("tile", job.TileID()).
		Dur("duration", elapsed).
		Msg("Tile succeeded")
	return Outcome{
		TileID:   job.TileID(),
		Status:   StatusSucceeded,
		Duration: elapsed,
	}
}
