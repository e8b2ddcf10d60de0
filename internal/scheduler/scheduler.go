// Package scheduler runs one time.Ticker per task against a bounded worker
// pool, generalizing the agent's "one goroutine per tier" probe loop into
// "one bounded pool shared across every task, one ticker per task." Each
// tick runs the full pipeline for that task: probe, evaluate, decide,
// persist, dispatch, record metrics — serialized per task by the state
// store's own per-task mutex so overlapping ticks (a slow probe plus a
// misfire) never interleave their state transitions.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pilot-net/urlcheck/internal/evaluator"
	"github.com/pilot-net/urlcheck/internal/metrics"
	"github.com/pilot-net/urlcheck/internal/notifier"
	"github.com/pilot-net/urlcheck/internal/statemachine"
	"github.com/pilot-net/urlcheck/internal/statestore"
	"github.com/pilot-net/urlcheck/pkg/types"
)

// Prober is the probe collaborator; satisfied by *prober.Prober.
type Prober interface {
	Probe(ctx context.Context, expect types.TaskExpectation) (types.Observation, error)
}

// Config controls the pool's resource limits, following spec.md's §5
// defaults.
type Config struct {
	// MaxConcurrentProbes bounds the whole pool, regardless of task count.
	MaxConcurrentProbes int
	// MaxInstancesPerTask caps overlapping invocations of the same task,
	// guarding against a single slow endpoint exhausting the shared pool.
	MaxInstancesPerTask int
	// MisfireGraceTime allows a tick that fires late (the pool was busy)
	// to still run, instead of being silently coalesced into the next one.
	MisfireGraceTime time.Duration
}

// DefaultConfig matches the values named in spec.md §5.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentProbes: 5,
		MaxInstancesPerTask: 3,
		MisfireGraceTime:    60 * time.Second,
	}
}

// AlertConfigSource supplies the current alert policy; swapped atomically on
// config reload.
type AlertConfigSource interface {
	Current() *types.AlertConfig
}

// Scheduler owns one ticker per task and a bounded worker pool shared across
// all of them.
type Scheduler struct {
	cfg Config

	prober      Prober
	store       *statestore.Store
	notif       *notifier.Notifier
	metricsReg  *metrics.Registry
	alertConfig AlertConfigSource
	logger      *slog.Logger

	poolSem chan struct{}

	tasksMu     sync.RWMutex
	tasks       map[string]types.TaskExpectation
	taskSems    map[string]chan struct{}

	wg sync.WaitGroup

	stopMu   sync.Mutex
	taskStop map[string]context.CancelFunc

	runningMu sync.RWMutex
	running   bool
	rootCtx   context.Context
}

// JobInfo summarizes one task's scheduling state, for POST /job/opt's
// list_jobs action.
type JobInfo struct {
	Name     string        `json:"name"`
	Interval time.Duration `json:"interval"`
	Running  bool          `json:"running"`
}

// New builds a Scheduler. alertConfig is read fresh on every tick rather
// than captured once.
func New(cfg Config, p Prober, store *statestore.Store, notif *notifier.Notifier, metricsReg *metrics.Registry, alertConfig AlertConfigSource, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxConcurrentProbes <= 0 {
		cfg.MaxConcurrentProbes = 5
	}
	if cfg.MaxInstancesPerTask <= 0 {
		cfg.MaxInstancesPerTask = 3
	}
	if cfg.MisfireGraceTime <= 0 {
		cfg.MisfireGraceTime = 60 * time.Second
	}
	return &Scheduler{
		cfg:         cfg,
		prober:      p,
		store:       store,
		notif:       notif,
		metricsReg:  metricsReg,
		alertConfig: alertConfig,
		logger:      logger.With("component", "scheduler"),
		poolSem:     make(chan struct{}, cfg.MaxConcurrentProbes),
		tasks:       make(map[string]types.TaskExpectation),
		taskSems:    make(map[string]chan struct{}),
		taskStop:    make(map[string]context.CancelFunc),
	}
}

// Start marks the scheduler as running and loads the initial task set,
// retaining ctx as the root context subsequent job-control actions
// (resume_job, start_sched) derive their task contexts from.
func (s *Scheduler) Start(ctx context.Context, tasks []types.TaskExpectation) {
	s.runningMu.Lock()
	s.rootCtx = ctx
	s.running = true
	s.runningMu.Unlock()
	s.LoadTasks(ctx, tasks)
}

// IsRunning reports whether the scheduler is currently accepting ticks.
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()
	return s.running
}

// ListJobs summarizes every configured task's current scheduling state, for
// POST /job/opt's list_jobs action.
func (s *Scheduler) ListJobs() []JobInfo {
	s.tasksMu.RLock()
	defer s.tasksMu.RUnlock()

	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	jobs := make([]JobInfo, 0, len(s.tasks))
	for name, t := range s.tasks {
		_, running := s.taskStop[name]
		jobs = append(jobs, JobInfo{Name: name, Interval: t.Interval, Running: running})
	}
	return jobs
}

// StopJob halts one task's ticker without forgetting its expectation, so
// ResumeJob can restart it later with the same configuration.
func (s *Scheduler) StopJob(name string) {
	s.stopTask(name)
}

// ResumeJob restarts a previously-stopped task's ticker using the root
// context captured by Start.
func (s *Scheduler) ResumeJob(name string) bool {
	s.tasksMu.RLock()
	t, ok := s.tasks[name]
	s.tasksMu.RUnlock()
	if !ok {
		return false
	}
	s.runningMu.RLock()
	ctx := s.rootCtx
	s.runningMu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	s.stopTask(name)
	s.startTask(ctx, t)
	return true
}

// ShutSched stops every job without waiting (unlike Shutdown, which blocks
// for graceful drain); it marks the scheduler not-running so /health and
// /job/opt report the stopped state accurately.
func (s *Scheduler) ShutSched() {
	s.stopMu.Lock()
	for name, cancel := range s.taskStop {
		cancel()
		delete(s.taskStop, name)
	}
	s.stopMu.Unlock()

	s.runningMu.Lock()
	s.running = false
	s.runningMu.Unlock()
}

// StartSched restarts every configured task using the root context captured
// by Start, the counterpart to ShutSched.
func (s *Scheduler) StartSched() {
	s.runningMu.Lock()
	ctx := s.rootCtx
	if ctx == nil {
		ctx = context.Background()
		s.rootCtx = ctx
	}
	s.running = true
	s.runningMu.Unlock()

	s.tasksMu.RLock()
	tasks := make([]types.TaskExpectation, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.tasksMu.RUnlock()

	for _, t := range tasks {
		s.startTask(ctx, t)
	}
}

// LoadTasks replaces the running task set. Tasks present before and after
// keep running uninterrupted; removed tasks are stopped; added tasks start
// a new ticker immediately.
func (s *Scheduler) LoadTasks(ctx context.Context, tasks []types.TaskExpectation) {
	next := make(map[string]types.TaskExpectation, len(tasks))
	for _, t := range tasks {
		next[t.Name] = t
	}

	s.tasksMu.Lock()
	var toStart []types.TaskExpectation
	for name, t := range next {
		if _, exists := s.tasks[name]; !exists {
			toStart = append(toStart, t)
		}
	}
	var toStop []string
	for name := range s.tasks {
		if _, exists := next[name]; !exists {
			toStop = append(toStop, name)
		}
	}
	s.tasks = next
	s.tasksMu.Unlock()

	for _, name := range toStop {
		s.stopTask(name)
	}
	for _, t := range toStart {
		s.startTask(ctx, t)
	}
}

// AddTask starts (or restarts, replacing the expectation) one task's ticker.
func (s *Scheduler) AddTask(ctx context.Context, t types.TaskExpectation) {
	s.tasksMu.Lock()
	s.tasks[t.Name] = t
	s.tasksMu.Unlock()
	s.stopTask(t.Name)
	s.startTask(ctx, t)
}

// RemoveTask stops a task's ticker and drops it from the running set.
func (s *Scheduler) RemoveTask(name string) {
	s.tasksMu.Lock()
	delete(s.tasks, name)
	s.tasksMu.Unlock()
	s.stopTask(name)
}

func (s *Scheduler) startTask(ctx context.Context, t types.TaskExpectation) {
	taskCtx, cancel := context.WithCancel(ctx)

	s.stopMu.Lock()
	s.taskStop[t.Name] = cancel
	s.stopMu.Unlock()

	s.tasksMu.Lock()
	if _, ok := s.taskSems[t.Name]; !ok {
		s.taskSems[t.Name] = make(chan struct{}, s.cfg.MaxInstancesPerTask)
	}
	s.tasksMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runTaskLoop(taskCtx, t)
	}()
}

func (s *Scheduler) stopTask(name string) {
	s.stopMu.Lock()
	cancel, ok := s.taskStop[name]
	delete(s.taskStop, name)
	s.stopMu.Unlock()
	if ok {
		cancel()
	}
}

func (s *Scheduler) runTaskLoop(ctx context.Context, t types.TaskExpectation) {
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-ticker.C:
			if time.Since(tick) > s.cfg.MisfireGraceTime {
				// Late enough that running now would just collide with the
				// next scheduled tick; skip this one rather than coalesce.
				s.logger.Warn("tick missed misfire grace window, skipping", "task", t.Name)
				continue
			}
			s.runOnce(ctx, t)
		}
	}
}

// runOnce executes one full pipeline pass for a task, bounded by both the
// pool-wide and per-task concurrency semaphores.
func (s *Scheduler) runOnce(ctx context.Context, t types.TaskExpectation) {
	s.tasksMu.RLock()
	taskSem := s.taskSems[t.Name]
	s.tasksMu.RUnlock()
	if taskSem == nil {
		return
	}

	select {
	case taskSem <- struct{}{}:
	default:
		s.logger.Warn("max instances per task reached, skipping tick", "task", t.Name)
		return
	}
	defer func() { <-taskSem }()

	select {
	case s.poolSem <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-s.poolSem }()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic recovered in task probe", "task", t.Name, "panic", r)
		}
	}()

	unlock := s.store.Lock(t.Name)
	defer unlock()

	obs, err := s.prober.Probe(ctx, t)
	if err != nil {
		s.logger.Error("probe failed to run", "task", t.Name, "error", err)
		return
	}

	flags := evaluator.Evaluate(t, obs)

	prior, _, err := s.store.Load(t.Name)
	if err != nil {
		s.logger.Error("state load failed", "task", t.Name, "error", err)
		return
	}

	cfg := s.alertConfig.Current()
	decision := statemachine.Evaluate(cfg, t, flags, obs, prior, time.Now())

	if err := s.store.Save(t.Name, decision.NextState); err != nil {
		s.logger.Error("state save failed", "task", t.Name, "error", err)
	}

	if s.metricsReg != nil {
		s.metricsReg.Observe(t.Name, flags, obs)
	}

	if s.notif != nil {
		for _, event := range decision.Events {
			s.notif.Dispatch(ctx, event)
		}
	}
}

// Shutdown stops every ticker and waits for in-flight probes to finish,
// bounded by ctx's deadline.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.stopMu.Lock()
	for _, cancel := range s.taskStop {
		cancel()
	}
	s.stopMu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AfterFork recreates process-local resources that must not be shared
// across a prefork supervisor's forked workers (the shared HTTP client's
// connection pool and the metrics registry's file descriptors). It swaps
// both unconditionally; main calls it only in a prefork child
// (URL_CHECK_PREFORK_CHILD=1).
func (s *Scheduler) AfterFork(newProber Prober, newMetrics *metrics.Registry) {
	s.prober = newProber
	s.metricsReg = newMetrics
}
