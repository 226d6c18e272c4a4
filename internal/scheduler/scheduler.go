// Package scheduler runs the background sync workers on fixed cron
// cadences. Every job runs independently: a failing or panicking job is
// logged and recorded in sync state without disturbing its peers, and a
// job never overlaps with a still-running instance of itself.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/agentgate/agentgate/internal/classify"
	"github.com/agentgate/agentgate/internal/model"
	"github.com/agentgate/agentgate/internal/store"
	agentsync "github.com/agentgate/agentgate/internal/sync"
)

// Job is one recurring unit of work. Schedule is a standard five-field
// cron expression evaluated in UTC.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler dispatches due jobs on a coarse tick and tracks in-flight
// runs so a slow job skips its next slot instead of stacking.
type Scheduler struct {
	store  *store.Store
	logger *zap.Logger
	jobs   []Job

	tickInterval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	ticker  *time.Ticker
	lastRun map[string]time.Time
	active  map[string]struct{}
	wg      sync.WaitGroup
}

// New creates a scheduler over the given jobs. Job errors are recorded in
// the persistent sync state so operators can see the last failure.
func New(st *store.Store, jobs []Job, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:        st,
		logger:       logger.Named("scheduler"),
		jobs:         jobs,
		tickInterval: 30 * time.Second,
		lastRun:      make(map[string]time.Time),
		active:       make(map[string]struct{}),
	}
}

// Workers bundles everything the standard job set dispatches.
type Workers struct {
	Graph      *agentsync.GraphSyncer
	Relational *agentsync.RelationalSyncer
	Feedback   *agentsync.FeedbackSyncer
	Reconcile  *agentsync.Reconciler
	Classify   *classify.Consumer
	Store      *store.Store
}

// DefaultJobs returns the standard cadence: graph and relational sync
// every 15 minutes, reconciliation, feedback, and classification hourly,
// and a reputation snapshot at midnight UTC.
func DefaultJobs(w Workers) []Job {
	return []Job{
		{
			Name:     "graph_sync",
			Schedule: "*/15 * * * *",
			Run: func(ctx context.Context) error {
				_, err := w.Graph.Run(ctx)
				return err
			},
		},
		{
			Name:     "relational_sync",
			Schedule: "*/15 * * * *",
			Run: func(ctx context.Context) error {
				_, err := w.Relational.Run(ctx)
				return err
			},
		},
		{
			Name:     "reconcile",
			Schedule: "0 * * * *",
			Run: func(ctx context.Context) error {
				_, err := w.Reconcile.Run(ctx)
				return err
			},
		},
		{
			Name:     "feedback_sync",
			Schedule: "0 * * * *",
			Run: func(ctx context.Context) error {
				_, err := w.Feedback.Run(ctx)
				return err
			},
		},
		{
			Name:     "classification",
			Schedule: "0 * * * *",
			Run: func(ctx context.Context) error {
				if _, err := w.Classify.EnqueueUnclassified(ctx); err != nil {
					return fmt.Errorf("enqueue: %w", err)
				}
				if _, err := w.Classify.Run(ctx); err != nil {
					return fmt.Errorf("consume: %w", err)
				}
				if _, err := w.Classify.MaybeResetFailed(ctx); err != nil {
					return fmt.Errorf("reset failed: %w", err)
				}
				return nil
			},
		},
		{
			Name:     "reputation_snapshot",
			Schedule: "0 0 * * *",
			Run: func(ctx context.Context) error {
				_, err := w.Store.SnapshotReputation(ctx, time.Now().UTC().Format("2006-01-02"))
				return err
			},
		},
	}
}

// Start begins the dispatch loop. It is safe to call Start multiple times.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.ticker != nil {
		s.mu.Unlock()
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.ticker = time.NewTicker(s.tickInterval)
	ticker := s.ticker

	// Anchor every job at startup so cron slots are measured from now,
	// not from the zero time.
	now := time.Now().UTC()
	for _, job := range s.jobs {
		s.lastRun[job.Name] = now
	}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-loopCtx.Done():
				return
			case t := <-ticker.C:
				s.runOnce(loopCtx, t.UTC())
			}
		}
	}()
}

// Stop halts dispatching and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.ticker == nil {
		s.mu.Unlock()
		return
	}
	s.ticker.Stop()
	s.ticker = nil
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// TriggerNow runs a job by name immediately, regardless of schedule.
// Overlap protection still applies.
func (s *Scheduler) TriggerNow(ctx context.Context, name string) error {
	for _, job := range s.jobs {
		if job.Name == name {
			if !s.dispatch(ctx, job, time.Now().UTC()) {
				return fmt.Errorf("job %s already running", name)
			}
			return nil
		}
	}
	return fmt.Errorf("unknown job %s", name)
}

func (s *Scheduler) runOnce(ctx context.Context, now time.Time) {
	for _, job := range s.jobs {
		due, err := s.isDue(job, now)
		if err != nil {
			s.logger.Warn("invalid job schedule",
				zap.String("job", job.Name),
				zap.String("schedule", job.Schedule),
				zap.Error(err))
			continue
		}
		if !due {
			continue
		}
		s.dispatch(ctx, job, now)
	}
}

func (s *Scheduler) isDue(job Job, now time.Time) (bool, error) {
	spec, err := cron.ParseStandard(job.Schedule)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	anchor, ok := s.lastRun[job.Name]
	s.mu.Unlock()
	if !ok {
		anchor = now
	}
	return !spec.Next(anchor).After(now), nil
}

// dispatch claims the job and runs it in a goroutine. Returns false when
// a previous run is still in flight.
func (s *Scheduler) dispatch(ctx context.Context, job Job, now time.Time) bool {
	if !s.claim(job.Name) {
		s.logger.Debug("skipping overlapping run", zap.String("job", job.Name))
		return false
	}

	s.mu.Lock()
	s.lastRun[job.Name] = now
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.release(job.Name)
		s.runJob(ctx, job)
	}()
	return true
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic: %v", r)
			s.logger.Error("job panicked", zap.String("job", job.Name), zap.Any("panic", r))
			s.recordError(job.Name, err)
		}
	}()

	if err := job.Run(ctx); err != nil {
		s.logger.Warn("job failed",
			zap.String("job", job.Name),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		s.recordError(job.Name, err)
		return
	}
	s.logger.Info("job finished",
		zap.String("job", job.Name),
		zap.Duration("elapsed", time.Since(started)))
}

func (s *Scheduler) recordError(name string, err error) {
	if s.store == nil {
		return
	}
	updateErr := s.store.MutateSyncState(context.Background(), func(st *model.SyncState) {
		st.LastError = fmt.Sprintf("%s: %v", name, err)
	})
	if updateErr != nil {
		s.logger.Warn("record job error failed", zap.String("job", name), zap.Error(updateErr))
	}
}

func (s *Scheduler) claim(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.active[name]; ok {
		return false
	}
	s.active[name] = struct{}{}
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	delete(s.active, name)
	s.mu.Unlock()
}
