// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package scheduler implements the Task Scheduler (C9): owns a set of
// registered tasks, drives periodic execution via one ticker goroutine per
// task plus a bounded pool of run workers, and exposes ad-hoc
// trigger/cancel/status/analyze-single operations.
package scheduler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/pdiddy/research-engine/internal/orchestrator"
	"github.com/pdiddy/research-engine/internal/pipeline"
	"github.com/pdiddy/research-engine/pkg/types"
)

// IndexSearcher is the subset of internal/index's Client this package
// depends on.
type IndexSearcher interface {
	Search(ctx context.Context, query string, mode types.SearchMode, limit int) ([]types.PaperRecord, error)
}

// RunRecorder is the subset of internal/history's Store this package
// depends on, for journaling completed runs.
type RunRecorder interface {
	Append(ctx context.Context, record types.TaskRunRecord) error
}

// Logger is the thin progress/diagnostic sink the scheduler accepts,
// satisfied trivially by log.New(w, prefix, flags).
type Logger interface {
	Printf(format string, args ...any)
}

// noopLogger discards everything; used when Scheduler.Logger is nil.
type noopLogger struct{}

func (noopLogger) Printf(string, ...any) {}

// MaxConcurrentRuns bounds the run-worker pool (spec §5: "a bounded pool of
// run workers").
const MaxConcurrentRuns = 4

// taskState is the scheduler's internal bookkeeping for one registered task.
type taskState struct {
	config   types.TaskConfig
	interval time.Duration
	lastRun  time.Time
	nextRun  time.Time
	running  bool
	cancel   context.CancelFunc
	stop     chan struct{}
}

// TaskStatus is one row of Status()'s output.
type TaskStatus struct {
	TaskID  string
	LastRun time.Time
	NextRun time.Time
	Running bool
}

// RunHandle identifies one in-flight or completed run, returned by
// TriggerOnce and accepted by Cancel.
type RunHandle struct {
	TaskID string
	RunID  string
}

// Scheduler owns registered tasks and drives their execution.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*taskState

	index    IndexSearcher
	pipeline *orchestrator.Pipeline
	history  RunRecorder
	pool     *pool.Pool
	log      Logger
}

// New returns a Scheduler backed by the given index client, per-paper
// pipeline, and history recorder. A nil logger discards progress output.
func New(index IndexSearcher, pipe *orchestrator.Pipeline, history RunRecorder, logger Logger) *Scheduler {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Scheduler{
		tasks:    make(map[string]*taskState),
		index:    index,
		pipeline: pipe,
		history:  history,
		pool:     pool.New().WithMaxGoroutines(MaxConcurrentRuns),
		log:      logger,
	}
}

// Register adds a new scheduled task and, when cfg.IntervalSeconds is
// positive, starts its ticker loop. Returns the
// assigned task_id (cfg.TaskID if already set, otherwise freshly generated).
func (s *Scheduler) Register(ctx context.Context, cfg types.TaskConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", pipeline.Wrap(pipeline.InvalidConfig, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	taskID := cfg.TaskID
	if taskID == "" {
		taskID = generateID()
		cfg.TaskID = taskID
	}
	if _, exists := s.tasks[taskID]; exists {
		return "", fmt.Errorf("task %s is already registered", taskID)
	}

	interval := time.Duration(cfg.IntervalSeconds) * time.Second
	state := &taskState{
		config:   cfg,
		interval: interval,
		nextRun:  time.Now().Add(interval),
		stop:     make(chan struct{}),
	}
	s.tasks[taskID] = state

	if interval > 0 {
		go s.tickLoop(taskID, state)
	}
	return taskID, nil
}

// Unregister stops a task's ticker loop and removes it.
func (s *Scheduler) Unregister(taskID string) {
	s.mu.Lock()
	state, ok := s.tasks[taskID]
	if ok {
		delete(s.tasks, taskID)
	}
	s.mu.Unlock()

	if ok {
		close(state.stop)
	}
}

func (s *Scheduler) tickLoop(taskID string, state *taskState) {
	ticker := time.NewTicker(state.interval)
	defer ticker.Stop()

	for {
		select {
		case <-state.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			state.nextRun = time.Now().Add(state.interval)
			s.mu.Unlock()
			// A tick arriving while a prior run is still active is dropped,
			// not queued (spec §4.8's overlap guard).
			if _, err := s.TriggerOnce(context.Background(), taskID); err != nil {
				s.log.Printf("task %s: tick dropped: %v", taskID, err)
			}
		}
	}
}

// TriggerOnce enqueues an immediate run of taskID, dropping the request if a
// run for this task is already active. The scheduler's is-running check and
// the atomic mark-as-running step are one critical section.
func (s *Scheduler) TriggerOnce(ctx context.Context, taskID string) (RunHandle, error) {
	s.mu.Lock()
	state, ok := s.tasks[taskID]
	if !ok {
		s.mu.Unlock()
		return RunHandle{}, fmt.Errorf("task %s is not registered", taskID)
	}
	if state.running {
		s.mu.Unlock()
		return RunHandle{}, fmt.Errorf("task %s: a run is already active, tick dropped", taskID)
	}
	runCtx, cancel := context.WithCancel(context.Background())
	state.running = true
	state.cancel = cancel
	cfg := state.config
	s.mu.Unlock()

	runID := generateID()
	handle := RunHandle{TaskID: taskID, RunID: runID}

	s.pool.Go(func() {
		s.executeRun(runCtx, taskID, runID, cfg)
	})

	return handle, nil
}

// Cancel requests cooperative cancellation of the active run for taskID. No
// error if no run is active; cancellation is a no-op in that case.
func (s *Scheduler) Cancel(handle RunHandle) {
	s.mu.Lock()
	state, ok := s.tasks[handle.TaskID]
	s.mu.Unlock()
	if !ok || state.cancel == nil {
		return
	}
	state.cancel()
}

// Status returns one row per registered task.
func (s *Scheduler) Status() []TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]TaskStatus, 0, len(s.tasks))
	for taskID, state := range s.tasks {
		statuses = append(statuses, TaskStatus{
			TaskID:  taskID,
			LastRun: state.lastRun,
			NextRun: state.nextRun,
			Running: state.running,
		})
	}
	return statuses
}

// executeRun runs the full search+per-paper pipeline for one task, then
// journals a TaskRunRecord and clears the running flag.
func (s *Scheduler) executeRun(ctx context.Context, taskID, runID string, cfg types.TaskConfig) {
	run := types.TaskRunRecord{
		TaskID:    taskID,
		RunID:     runID,
		Config:    cfg,
		StartedAt: time.Now(),
		Status:    types.RunRunning,
	}

	defer func() {
		run.EndedAt = time.Now()
		s.mu.Lock()
		if state, ok := s.tasks[taskID]; ok {
			state.running = false
			state.cancel = nil
			state.lastRun = run.EndedAt
		}
		s.mu.Unlock()
		if s.history != nil {
			s.history.Append(context.Background(), run)
		}
	}()

	candidates, err := s.index.Search(ctx, cfg.SearchQuery, cfg.SearchMode, cfg.MaxHitsPerSearch)
	if err != nil {
		run.Status = types.RunFailed
		run.Error = err.Error()
		return
	}

	summary := types.RunSummary{}
	isCancelled := func() bool { return ctx.Err() != nil }

	for _, candidate := range candidates {
		if isCancelled() {
			run.Status = types.RunCancelled
			break
		}
		summary.TotalSeen++

		outcome := s.pipeline.Run(ctx, candidate, cfg, isCancelled)
		if outcome.Err != nil {
			if pipeline.KindOf(outcome.Err) == pipeline.Cancelled {
				run.Status = types.RunCancelled
				break
			}
			summary.Errors++
		}
		if outcome.Relevant {
			summary.Relevant++
		}
		if outcome.Persisted {
			summary.Persisted++
		}
		if outcome.Deep {
			summary.DeepAnalyzed++
		}
	}

	run.Total = summary.TotalSeen
	run.Relevant = summary.Relevant
	run.Persisted = summary.Persisted
	run.DeepAnalyzed = summary.DeepAnalyzed
	if run.Status == "" {
		run.Status = types.RunCompleted
	}
}

// AnalyzeSingle creates a synthetic one-paper run that enters the pipeline
// directly at the FETCHING stage (or DEDUPE, if redoDedupe is requested),
// skipping C2 entirely. Used by the on-demand single-paper re-analysis path.
func (s *Scheduler) AnalyzeSingle(ctx context.Context, record types.PaperRecord, cfg types.TaskConfig, redoDedupe bool) orchestrator.Outcome {
	isCancelled := func() bool { return ctx.Err() != nil }
	if redoDedupe {
		return s.pipeline.Run(ctx, record, cfg, isCancelled)
	}
	return s.pipeline.RunFromFetch(ctx, record, cfg, isCancelled)
}

func generateID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
