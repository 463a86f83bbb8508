package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/hoodinformatik/openthreat/internal/cache"
)

// checkpointMirrorTTL bounds how long a cache-mirrored checkpoint
// survives without a fresh write before another instance should treat
// it as stale and prefer its own bbolt record.
const checkpointMirrorTTL = 24 * time.Hour

// checkpointMirror is the small cross-instance-visible projection of a
// JobRun mirrored into the cache under CheckpointKey.
type checkpointMirror struct {
	Cursor    string    `json:"cursor"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Counts tallies per-record outcomes for a single job run.
type Counts struct {
	Fetched  int64 `json:"fetched"`
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
	Failed   int64 `json:"failed"`
}

// JobRun is one execution instance of a named job, persisted across
// process restarts so a crashed run resumes from its last checkpoint
// instead of restarting from scratch.
type JobRun struct {
	ID           string    `json:"id"`
	JobName      string    `json:"job_name"`
	State        JobState  `json:"state"`
	Cursor       string    `json:"cursor,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Counts       Counts    `json:"counts"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// RunStore persists JobRun records in bbolt, one bucket per job name so
// a job's history can be scanned without touching unrelated jobs. The
// bbolt record is the durable local copy; a checkpoint cursor is also
// mirrored into the cache so another worker instance can see how far
// a job has progressed without reaching into this process's local
// file, and GetLatestRun resumes from the mirrored cursor when it is
// newer than the bbolt record.
type RunStore struct {
	db    *bolt.DB
	cache cache.Cache
}

// OpenRunStore opens (creating if absent) the bbolt file at path. c may
// be nil, in which case checkpoint mirroring is skipped.
func OpenRunStore(path string, c cache.Cache) (*RunStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("scheduler: open run store: %w", err)
	}
	return &RunStore{db: db, cache: c}, nil
}

func (s *RunStore) bucket(tx *bolt.Tx, jobName string, create bool) (*bolt.Bucket, error) {
	name := []byte("job_runs_" + jobName)
	if create {
		return tx.CreateBucketIfNotExists(name)
	}
	b := tx.Bucket(name)
	if b == nil {
		return nil, fmt.Errorf("scheduler: no runs recorded for job %q", jobName)
	}
	return b, nil
}

// CreateRun starts a new run record for jobName, carrying forward
// cursor from the prior run's checkpoint (empty for a first run).
func (s *RunStore) CreateRun(jobName, runID, cursor string) (*JobRun, error) {
	run := &JobRun{
		ID: runID, JobName: jobName, State: StateRunning,
		Cursor: cursor, StartedAt: time.Now(), UpdatedAt: time.Now(),
	}
	return run, s.save(run)
}

func (s *RunStore) save(run *JobRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := s.bucket(tx, run.JobName, true)
		if err != nil {
			return err
		}
		return b.Put([]byte(run.ID), data)
	})
}

// GetLatestRun returns the most recently updated run for jobName, or
// nil if the job has never run. When a cache-mirrored checkpoint from
// another instance is fresher than this process's local bbolt record,
// its cursor wins — resume always continues from whichever source
// last advanced.
func (s *RunStore) GetLatestRun(ctx context.Context, jobName string) (*JobRun, error) {
	var latest *JobRun
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.bucket(tx, jobName, false)
		if err != nil {
			return nil // no runs yet is not an error for this query
		}
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var run JobRun
			if err := json.Unmarshal(v, &run); err != nil {
				continue
			}
			if latest == nil || run.UpdatedAt.After(latest.UpdatedAt) {
				r := run
				latest = &r
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	mirror, ok := s.loadCheckpointMirror(ctx, jobName)
	if !ok {
		return latest, nil
	}
	if latest == nil || mirror.UpdatedAt.After(latest.UpdatedAt) {
		if latest == nil {
			latest = &JobRun{JobName: jobName, State: StateCompleted}
		}
		latest.Cursor = mirror.Cursor
	}
	return latest, nil
}

// UpdateCheckpoint advances cursor and accumulates counts on runID.
func (s *RunStore) UpdateCheckpoint(ctx context.Context, jobName, runID, cursor string, delta Counts) error {
	run, err := s.getRun(jobName, runID)
	if err != nil {
		return err
	}
	run.Cursor = cursor
	run.Counts.Fetched += delta.Fetched
	run.Counts.Inserted += delta.Inserted
	run.Counts.Updated += delta.Updated
	run.Counts.Failed += delta.Failed
	run.UpdatedAt = time.Now()
	if err := s.save(run); err != nil {
		return err
	}
	s.mirrorCheckpoint(ctx, jobName, run.Cursor, run.UpdatedAt)
	return nil
}

// Finish transitions runID to a terminal state, optionally recording
// an error message (StateFailed) or leaving it empty (StateCompleted).
func (s *RunStore) Finish(ctx context.Context, jobName, runID string, state JobState, errMsg string) error {
	run, err := s.getRun(jobName, runID)
	if err != nil {
		return err
	}
	if !run.State.CanTransitionTo(state) {
		return fmt.Errorf("scheduler: invalid transition %s -> %s for run %s", run.State, state, runID)
	}
	run.State = state
	run.ErrorMessage = errMsg
	now := time.Now()
	run.UpdatedAt = now
	run.CompletedAt = &now
	if err := s.save(run); err != nil {
		return err
	}
	s.mirrorCheckpoint(ctx, jobName, run.Cursor, run.UpdatedAt)
	return nil
}

// mirrorCheckpoint best-effort writes the job's current cursor into the
// cache for cross-instance visibility. A failure here never fails the
// caller — the bbolt record is already durable.
func (s *RunStore) mirrorCheckpoint(ctx context.Context, jobName, cursor string, updatedAt time.Time) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(checkpointMirror{Cursor: cursor, UpdatedAt: updatedAt})
	if err != nil {
		return
	}
	_ = s.cache.Set(ctx, cache.CheckpointKey(jobName), string(data), checkpointMirrorTTL)
}

// loadCheckpointMirror reads back the cache-mirrored checkpoint, if any.
func (s *RunStore) loadCheckpointMirror(ctx context.Context, jobName string) (checkpointMirror, bool) {
	if s.cache == nil {
		return checkpointMirror{}, false
	}
	raw, err := s.cache.Get(ctx, cache.CheckpointKey(jobName))
	if err != nil || raw == "" {
		return checkpointMirror{}, false
	}
	var mirror checkpointMirror
	if err := json.Unmarshal([]byte(raw), &mirror); err != nil {
		return checkpointMirror{}, false
	}
	return mirror, true
}

func (s *RunStore) getRun(jobName, runID string) (*JobRun, error) {
	var run *JobRun
	err := s.db.View(func(tx *bolt.Tx) error {
		b, err := s.bucket(tx, jobName, false)
		if err != nil {
			return err
		}
		data := b.Get([]byte(runID))
		if data == nil {
			return fmt.Errorf("scheduler: run %s not found", runID)
		}
		run = &JobRun{}
		return json.Unmarshal(data, run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// Close releases the underlying bbolt file handle.
func (s *RunStore) Close() error { return s.db.Close() }
