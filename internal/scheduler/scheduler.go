// Package scheduler runs named ingestion and maintenance jobs on a
// cron schedule, each tick expressed as a small gotaskflow DAG
// (fetch_and_process -> checkpoint) so the two stages are visible as
// distinct tasks to the executor, and guards overlapping runs of the same job with a
// cache-backed single-flight lock so a slow tick never doubles up with
// the next scheduled one.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	gotaskflow "github.com/noneback/go-taskflow"
	"github.com/robfig/cron/v3"

	"github.com/hoodinformatik/openthreat/internal/cache"
	"github.com/hoodinformatik/openthreat/internal/logging"
	"github.com/hoodinformatik/openthreat/internal/model"
	"github.com/hoodinformatik/openthreat/internal/store"
)

// sourceForJob maps a registered job name to the Source its audit
// trail entries are tagged with; jobs with no single upstream source
// (e.g. cache maintenance) get the zero value.
func sourceForJob(jobName string) model.Source {
	switch {
	case strings.HasPrefix(jobName, "nvd."):
		return model.SourceNVD
	case strings.HasPrefix(jobName, "cisa_kev."):
		return model.SourceCISAKEV
	case strings.HasPrefix(jobName, "rss."):
		return model.SourceRSS
	default:
		return ""
	}
}

// RunFunc executes one tick of a job starting from cursor (empty on
// first run or after a full-refresh job), returning the cursor to
// resume from next tick and the record counts this tick produced.
type RunFunc func(ctx context.Context, cursor string) (nextCursor string, counts Counts, err error)

// jobEntry is a registered job and its schedule.
type jobEntry struct {
	name    string
	spec    string
	run     RunFunc
	timeout time.Duration
}

// Scheduler owns the cron driver, the checkpoint store, and the
// single-flight lock coordination for every registered job.
type Scheduler struct {
	cron     *cron.Cron
	runStore *RunStore
	cache    cache.Cache
	store    *store.Store
	log      *logging.Logger
	executor gotaskflow.Executor

	mu   sync.Mutex
	jobs map[string]*jobEntry
}

// New builds a Scheduler. concurrency bounds the gotaskflow executor's
// worker pool shared by every job's per-tick DAG. st is the
// ingestion-run audit trail; it may be nil, in which case ticks run
// without one (tests exercising only the checkpoint/lock mechanics
// don't need a live database).
func New(runStore *RunStore, c cache.Cache, st *store.Store, log *logging.Logger, concurrency uint) *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		runStore: runStore,
		cache:    c,
		store:    st,
		log:      log,
		executor: gotaskflow.NewExecutor(concurrency),
		jobs:     make(map[string]*jobEntry),
	}
}

// Register adds a named job on a cron spec (standard 5-field syntax).
// timeout bounds a single tick; a job that overruns it is cancelled.
func (s *Scheduler) Register(name, spec string, timeout time.Duration, run RunFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &jobEntry{name: name, spec: spec, run: run, timeout: timeout}
	s.jobs[name] = entry

	_, err := s.cron.AddFunc(spec, func() {
		s.runTick(context.Background(), entry)
	})
	if err != nil {
		return fmt.Errorf("scheduler: register %s: %w", name, err)
	}
	return nil
}

// Start begins the cron driver. Non-blocking; call Stop to shut down.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the cron driver and waits for any in-flight tick.
func (s *Scheduler) Stop() { <-s.cron.Stop().Done() }

// RunNow triggers jobName immediately, outside its cron schedule —
// used by tests; no API route calls it.
func (s *Scheduler) RunNow(ctx context.Context, jobName string) error {
	s.mu.Lock()
	entry, ok := s.jobs[jobName]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("scheduler: unknown job %q", jobName)
	}
	s.runTick(ctx, entry)
	return nil
}

func (s *Scheduler) runTick(ctx context.Context, entry *jobEntry) {
	lockKey := cache.JobLockKey(entry.name, "tick")
	acquired, lockErr := s.cache.SetNX(ctx, lockKey, "1", entry.timeout)
	if lockErr != nil {
		s.log.Warn("scheduler: lock check failed for %s, proceeding without single-flight guard: %v", entry.name, lockErr)
	} else if !acquired {
		s.log.Debug("scheduler: %s already running elsewhere, skipping tick", entry.name)
		return
	}
	if lockErr == nil {
		defer func() { _ = s.cache.Del(ctx, lockKey) }()
	}

	tickCtx, cancel := context.WithTimeout(ctx, entry.timeout)
	defer cancel()

	prior, loadErr := s.runStore.GetLatestRun(ctx, entry.name)
	cursor := ""
	if loadErr == nil && prior != nil {
		cursor = prior.Cursor
	}

	runID := fmt.Sprintf("%s-%d", entry.name, time.Now().UnixNano())
	run, err := s.runStore.CreateRun(entry.name, runID, cursor)
	if err != nil {
		s.log.Error("scheduler: failed to create run record for %s: %v", entry.name, err)
		return
	}
	startedAt := time.Now()
	if s.store != nil {
		auditErr := s.store.CreateIngestionRun(ctx, model.IngestionRun{
			ID: runID, JobName: entry.name, Source: sourceForJob(entry.name), StartedAt: startedAt,
		})
		if auditErr != nil {
			s.log.Warn("scheduler: failed to open ingestion-run audit record for %s: %v", entry.name, auditErr)
		}
	}

	var nextCursor string
	var counts Counts
	var runErr error

	tf := gotaskflow.NewTaskFlow(entry.name)
	fetchTask := tf.NewTask("fetch_and_process", func() {
		nextCursor, counts, runErr = entry.run(tickCtx, run.Cursor)
	})
	checkpointTask := tf.NewTask("checkpoint", func() {
		if ckErr := s.runStore.UpdateCheckpoint(tickCtx, entry.name, runID, nextCursor, counts); ckErr != nil {
			s.log.Error("scheduler: checkpoint failed for %s: %v", entry.name, ckErr)
		}
	})
	fetchTask.Precede(checkpointTask)

	s.executor.Run(tf).Wait()

	if runErr != nil {
		s.log.Error("scheduler: %s failed: %v", entry.name, runErr)
		errMsg := runErr.Error()
		if tickCtx.Err() != nil {
			// Deadline and caller cancellation are recorded the same way.
			errMsg = "cancelled"
		}
		if fErr := s.runStore.Finish(ctx, entry.name, runID, StateFailed, errMsg); fErr != nil {
			s.log.Error("scheduler: failed to record failure for %s: %v", entry.name, fErr)
		}
		s.finishIngestionRunAudit(ctx, entry.name, runID, model.RunFailed, counts, errMsg)
		return
	}

	if fErr := s.runStore.Finish(ctx, entry.name, runID, StateCompleted, ""); fErr != nil {
		s.log.Error("scheduler: failed to record completion for %s: %v", entry.name, fErr)
	}
	s.finishIngestionRunAudit(ctx, entry.name, runID, model.RunSuccess, counts, "")
	s.log.Info("scheduler: %s completed — fetched=%d inserted=%d updated=%d failed=%d",
		entry.name, counts.Fetched, counts.Inserted, counts.Updated, counts.Failed)
}

// finishIngestionRunAudit closes out the SQL-backed audit record
// opened at tick start. A failure here is logged but never changes the
// job's own outcome — resumption reads the RunStore's checkpoint
// (bbolt plus its cache mirror), never this table.
func (s *Scheduler) finishIngestionRunAudit(ctx context.Context, jobName, runID string, status model.IngestionRunStatus, counts Counts, errMsg string) {
	if s.store == nil {
		return
	}
	ingestCounts := model.IngestionRunCounts{
		Fetched: counts.Fetched, Inserted: counts.Inserted, Updated: counts.Updated, Failed: counts.Failed,
	}
	if err := s.store.FinishIngestionRun(ctx, runID, status, ingestCounts, errMsg, time.Now()); err != nil {
		s.log.Warn("scheduler: failed to finalize ingestion-run audit record for %s: %v", jobName, err)
	}
}
