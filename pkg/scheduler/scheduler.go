// Package scheduler provides timed message dispatch: one-shot check-ins,
// recurring reminders with occurrence caps, continuation prompts, and an
// adaptive cadence driven by terminal activity.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmux/agentmux/pkg/store"
)

// ScheduleFile is the relative path of the persisted job list.
const ScheduleFile = "scheduled-messages.json"

// Default delays for the built-in job kinds.
const (
	DefaultInitialCheck   = 5 * time.Minute
	DefaultProgressCheck  = 30 * time.Minute
	DefaultCommitReminder = 25 * time.Minute
)

// JobType classifies a scheduled job.
type JobType string

// Job types.
const (
	TypeCheckIn        JobType = "check-in"
	TypeCommitReminder JobType = "commit-reminder"
	TypeProgressCheck  JobType = "progress-check"
	TypeContinuation   JobType = "continuation"
	TypeCustom         JobType = "custom"
)

// Recurrence configures a re-arming job. MaxOccurrences 0 means unbounded.
type Recurrence struct {
	Interval       time.Duration `json:"interval"`
	MaxOccurrences int           `json:"max_occurrences"`
	Occurrence     int           `json:"occurrence"`
}

// Job is one scheduled message.
type Job struct {
	ID            string            `json:"id"`
	TargetSession string            `json:"target_session"`
	Message       string            `json:"message"`
	Type          JobType           `json:"type"`
	At            time.Time         `json:"at"`
	Recurring     *Recurrence       `json:"recurring,omitempty"`
	Adaptive      bool              `json:"adaptive,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Dispatcher delivers a fired job's message, typically by enqueueing it
// into the central queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Stats summarizes scheduler activity.
type Stats struct {
	ActiveJobs     int             `json:"active_jobs"`
	ByType         map[JobType]int `json:"by_type"`
	TotalFired     int             `json:"total_fired"`
	TotalErrors    int             `json:"total_errors"`
	TotalCancelled int             `json:"total_cancelled"`
}

// Config tunes the scheduler.
type Config struct {
	InitialCheck    time.Duration
	ProgressCheck   time.Duration
	CommitReminder  time.Duration
	DispatchTimeout time.Duration
	Adaptive        AdaptiveConfig
}

// DefaultConfig returns the standard scheduler settings.
func DefaultConfig() Config {
	return Config{
		InitialCheck:    DefaultInitialCheck,
		ProgressCheck:   DefaultProgressCheck,
		CommitReminder:  DefaultCommitReminder,
		DispatchTimeout: 30 * time.Second,
		Adaptive:        DefaultAdaptiveConfig(),
	}
}

// Scheduler owns all timed jobs. Timers are producers; a single internal
// dispatcher goroutine executes firings, so dispatch never runs
// concurrently with itself. Every mutation is persisted.
type Scheduler struct {
	store      *store.Store
	dispatcher Dispatcher
	activity   *ActivityTracker
	cfg        Config

	mu     sync.Mutex
	jobs   map[string]*Job
	timers map[string]*time.Timer

	fired     int
	errors    int
	cancelled int

	fireCh   chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	logger *slog.Logger
}

// New creates the scheduler and re-arms persisted jobs: one-shots keep
// their original fire time (past-due ones fire immediately), recurring
// and adaptive jobs re-arm one interval from now.
func New(st *store.Store, dispatcher Dispatcher, activity *ActivityTracker, cfg Config) (*Scheduler, error) {
	if cfg.DispatchTimeout <= 0 {
		cfg.DispatchTimeout = DefaultConfig().DispatchTimeout
	}
	if activity == nil {
		activity = NewActivityTracker(cfg.Adaptive)
	}

	s := &Scheduler{
		store:      st,
		dispatcher: dispatcher,
		activity:   activity,
		cfg:        cfg,
		jobs:       make(map[string]*Job),
		timers:     make(map[string]*time.Timer),
		fireCh:     make(chan string, 64),
		stopCh:     make(chan struct{}),
		logger:     slog.Default().With("component", "scheduler"),
	}
	if err := s.restore(); err != nil {
		return nil, err
	}
	return s, nil
}

// Activity exposes the tracker so terminal output handlers can feed the
// adaptive signal.
func (s *Scheduler) Activity() *ActivityTracker { return s.activity }

// Start launches the dispatcher goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop cancels all timers and waits for the dispatcher to drain. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.mu.Lock()
		for id, t := range s.timers {
			t.Stop()
			delete(s.timers, id)
		}
		s.mu.Unlock()
	})
	s.wg.Wait()
}

// ScheduleCheck schedules a one-shot check-in. delay <= 0 uses the
// initial-check default.
func (s *Scheduler) ScheduleCheck(session, message string, delay time.Duration) (string, error) {
	if delay <= 0 {
		delay = s.cfg.InitialCheck
	}
	return s.add(&Job{
		TargetSession: session,
		Message:       message,
		Type:          TypeCheckIn,
		At:            time.Now().Add(delay),
	})
}

// ScheduleRecurring schedules a re-arming job. maxOccurrences 0 recurs
// until cancelled.
func (s *Scheduler) ScheduleRecurring(session, message string, jobType JobType, interval time.Duration, maxOccurrences int) (string, error) {
	return s.add(&Job{
		TargetSession: session,
		Message:       message,
		Type:          jobType,
		At:            time.Now().Add(interval),
		Recurring:     &Recurrence{Interval: interval, MaxOccurrences: maxOccurrences},
	})
}

// ScheduleContinuation schedules a one-shot continuation prompt.
func (s *Scheduler) ScheduleContinuation(session, message string, delay time.Duration) (string, error) {
	if delay <= 0 {
		delay = s.cfg.ProgressCheck
	}
	return s.add(&Job{
		TargetSession: session,
		Message:       message,
		Type:          TypeContinuation,
		At:            time.Now().Add(delay),
	})
}

// ScheduleAdaptive schedules a recurring check-in whose interval tracks
// the session's activity signal between the configured bounds.
func (s *Scheduler) ScheduleAdaptive(session, message string) (string, error) {
	interval := s.activity.IntervalFor(session)
	return s.add(&Job{
		TargetSession: session,
		Message:       message,
		Type:          TypeCheckIn,
		At:            time.Now().Add(interval),
		Recurring:     &Recurrence{Interval: interval},
		Adaptive:      true,
	})
}

// Cancel removes a job and its pending timer. Cancelling an id that has
// already fired (or never existed) is a no-op.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	if _, ok := s.jobs[id]; !ok {
		s.mu.Unlock()
		return nil
	}
	s.removeLocked(id)
	s.cancelled++
	err := s.persistLocked()
	s.mu.Unlock()

	s.logger.Info("Job cancelled", "job_id", id)
	return err
}

// CancelAllFor removes every job targeting the session. Returns the count
// removed.
func (s *Scheduler) CancelAllFor(session string) (int, error) {
	s.mu.Lock()
	removed := 0
	for id, job := range s.jobs {
		if job.TargetSession == session {
			s.removeLocked(id)
			s.cancelled++
			removed++
		}
	}
	var err error
	if removed > 0 {
		err = s.persistLocked()
	}
	s.mu.Unlock()

	if removed > 0 {
		s.logger.Info("Jobs cancelled for session", "session", session, "count", removed)
	}
	return removed, err
}

// Stats returns a snapshot of scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		ActiveJobs:     len(s.jobs),
		ByType:         make(map[JobType]int),
		TotalFired:     s.fired,
		TotalErrors:    s.errors,
		TotalCancelled: s.cancelled,
	}
	for _, job := range s.jobs {
		st.ByType[job.Type]++
	}
	return st
}

// Cleanup drops persisted jobs that are no longer armed in memory,
// rewriting the on-disk list from live state. Returns the number pruned.
func (s *Scheduler) Cleanup() (int, error) {
	persisted, err := store.ReadJSON(s.store, ScheduleFile, []*Job{})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stale := 0
	for _, job := range persisted {
		if _, ok := s.jobs[job.ID]; !ok {
			stale++
		}
	}
	if stale == 0 {
		return 0, nil
	}
	return stale, s.persistLocked()
}

// Jobs returns a snapshot of all armed jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

func (s *Scheduler) add(job *Job) (string, error) {
	job.ID = uuid.NewString()
	job.CreatedAt = time.Now()

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.armLocked(job)
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return "", err
	}

	s.logger.Info("Job scheduled",
		"job_id", job.ID, "type", job.Type, "session", job.TargetSession, "at", job.At)
	return job.ID, nil
}

// restore loads persisted jobs and re-arms them.
func (s *Scheduler) restore() error {
	persisted, err := store.ReadJSON(s.store, ScheduleFile, []*Job{})
	if err != nil {
		return err
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range persisted {
		if job.Recurring != nil {
			// Re-arm one interval from now rather than replaying fires
			// missed while the process was down.
			job.At = now.Add(job.Recurring.Interval)
		}
		s.jobs[job.ID] = job
		s.armLocked(job)
	}
	if len(persisted) > 0 {
		s.logger.Info("Restored scheduled jobs", "count", len(persisted))
	}
	return s.persistLocked()
}

// armLocked starts the job's timer. Past-due one-shots fire immediately.
// Caller holds s.mu.
func (s *Scheduler) armLocked(job *Job) {
	d := time.Until(job.At)
	if d < 0 {
		d = 0
	}
	id := job.ID
	s.timers[id] = time.AfterFunc(d, func() {
		select {
		case s.fireCh <- id:
		case <-s.stopCh:
		}
	})
}

// removeLocked drops the job and stops its timer. Caller holds s.mu.
func (s *Scheduler) removeLocked(id string) {
	delete(s.jobs, id)
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// run is the single dispatcher loop.
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	s.logger.Info("Scheduler started")

	for {
		select {
		case <-s.stopCh:
			s.logger.Info("Scheduler shutting down")
			return
		case <-ctx.Done():
			s.logger.Info("Context cancelled, scheduler shutting down")
			return
		case id := <-s.fireCh:
			s.fire(ctx, id)
		}
	}
}

// fire executes one firing: snapshot the job, re-arm or retire it, then
// dispatch outside the lock. Dispatch errors are logged and counted but
// never stop the scheduler.
func (s *Scheduler) fire(ctx context.Context, id string) {
	s.mu.Lock()
	job, ok := s.jobs[id]
	if !ok {
		// Cancelled after the timer fired.
		s.mu.Unlock()
		return
	}
	snapshot := *job
	s.rearmLocked(job)
	s.fired++
	if err := s.persistLocked(); err != nil {
		s.logger.Error("Failed to persist after fire", "job_id", id, "error", err)
	}
	s.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, s.cfg.DispatchTimeout)
	err := s.dispatcher.Dispatch(dctx, snapshot)
	cancel()
	if err != nil {
		s.mu.Lock()
		s.errors++
		s.mu.Unlock()
		s.logger.Error("Dispatch failed",
			"job_id", id, "type", snapshot.Type, "session", snapshot.TargetSession, "error", err)
		return
	}
	s.logger.Info("Job fired", "job_id", id, "type", snapshot.Type, "session", snapshot.TargetSession)
}

// rearmLocked advances a recurring job or retires a finished one. Caller
// holds s.mu.
func (s *Scheduler) rearmLocked(job *Job) {
	if job.Recurring == nil {
		s.removeLocked(job.ID)
		return
	}

	job.Recurring.Occurrence++
	if job.Recurring.MaxOccurrences > 0 && job.Recurring.Occurrence >= job.Recurring.MaxOccurrences {
		s.removeLocked(job.ID)
		return
	}

	interval := job.Recurring.Interval
	if job.Adaptive {
		interval = s.activity.IntervalFor(job.TargetSession)
		job.Recurring.Interval = interval
	}
	job.At = time.Now().Add(interval)
	s.armLocked(job)
}

// persistLocked writes the armed job list. Caller holds s.mu.
func (s *Scheduler) persistLocked() error {
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return s.store.AtomicWriteJSON(ScheduleFile, jobs)
}
