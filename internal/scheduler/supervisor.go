package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/voicegate/internal/metrics"
	"github.com/skypro1111/voicegate/internal/protocol"
)

var (
	// ErrServiceUnavailable is wrapped by ServiceError
	ErrServiceUnavailable = errors.New("transcription service unavailable")
	// ErrClosed is returned by Submit after Close
	ErrClosed = errors.New("supervisor closed")
)

// ServiceError reports that neither the active nor the backup worker answered
// within its timeout. It is fatal for the session.
type ServiceError struct {
	JobID   string
	Elapsed time.Duration
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%v: job %s got no result from active or backup worker after %v",
		ErrServiceUnavailable, e.JobID, e.Elapsed.Round(time.Millisecond))
}

func (e *ServiceError) Unwrap() error {
	return ErrServiceUnavailable
}

// Health of a worker slot
type Health int

const (
	Idle Health = iota
	Busy
	Dead
)

func (h Health) String() string {
	switch h {
	case Idle:
		return "idle"
	case Busy:
		return "busy"
	case Dead:
		return "dead"
	default:
		return fmt.Sprintf("Health(%d)", int(h))
	}
}

// Worker is the supervisor's view of one transcription worker
type Worker interface {
	ID() string
	Send(job *protocol.Job) error
	Results() <-chan protocol.Result
	Kill() error
}

// Spawner creates workers
type Spawner interface {
	Spawn(ctx context.Context) (Worker, error)
}

// SpawnerFunc adapts a function to the Spawner interface
type SpawnerFunc func(ctx context.Context) (Worker, error)

func (f SpawnerFunc) Spawn(ctx context.Context) (Worker, error) {
	return f(ctx)
}

// Config contains the failover timeouts
type Config struct {
	PrimaryTimeout   time.Duration
	SecondaryTimeout time.Duration
}

type slot struct {
	worker Worker
	health Health
}

// Supervisor owns exactly two worker slots. One is active and receives every
// job; the other is a warm backup that takes over when the active worker
// misses its deadline.
type Supervisor struct {
	config  Config
	spawner Spawner
	logger  *slog.Logger
	metrics *metrics.Metrics

	// submitMu keeps one job in flight and serializes Start and Close
	submitMu sync.Mutex
	started  bool
	closed   bool

	// stateMu guards slots and active so Stats never waits on a job
	stateMu sync.RWMutex
	slots   [2]slot
	active  int

	totalJobs       uint64
	failovers       uint64
	timeouts        uint64
	unavailable     uint64
	respawnFailures uint64
	lastLatency     time.Duration
}

// SlotStats describes one slot
type SlotStats struct {
	WorkerID string `json:"worker_id"`
	Health   string `json:"health"`
	Role     string `json:"role"`
}

// Stats represents supervisor statistics for monitoring
type Stats struct {
	Slots           []SlotStats   `json:"slots"`
	TotalJobs       uint64        `json:"total_jobs"`
	Failovers       uint64        `json:"failovers"`
	Timeouts        uint64        `json:"timeouts"`
	Unavailable     uint64        `json:"unavailable"`
	RespawnFailures uint64        `json:"respawn_failures"`
	LastLatency     time.Duration `json:"last_latency"`
}

// New creates a supervisor; call Start before Submit
func New(config Config, spawner Spawner, logger *slog.Logger, m *metrics.Metrics) (*Supervisor, error) {
	if config.PrimaryTimeout <= 0 {
		return nil, fmt.Errorf("primary timeout must be positive, got %v", config.PrimaryTimeout)
	}

	if config.SecondaryTimeout <= 0 {
		return nil, fmt.Errorf("secondary timeout must be positive, got %v", config.SecondaryTimeout)
	}

	if spawner == nil {
		return nil, fmt.Errorf("spawner is nil")
	}

	return &Supervisor{
		config:  config,
		spawner: spawner,
		logger:  logger,
		metrics: m,
		slots:   [2]slot{{health: Dead}, {health: Dead}},
	}, nil
}

// Start spawns the active and backup workers
func (s *Supervisor) Start(ctx context.Context) error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.started {
		return fmt.Errorf("supervisor already started")
	}

	for i := range s.slots {
		w, err := s.spawner.Spawn(ctx)
		if err != nil {
			s.killAll()
			return fmt.Errorf("failed to spawn worker %d: %w", i, err)
		}
		s.setSlot(i, slot{worker: w, health: Idle})
	}

	s.started = true
	s.logger.Info("Transcription workers started",
		slog.String("active", s.slots[0].worker.ID()),
		slog.String("backup", s.slots[1].worker.ID()),
		slog.Duration("primary_timeout", s.config.PrimaryTimeout),
		slog.Duration("secondary_timeout", s.config.SecondaryTimeout))

	return nil
}

// Submit runs one job to completion. It waits up to the primary timeout for
// the active worker; on timeout the job moves to the backup, the active worker
// is killed and respawned, roles swap, and the backup gets the secondary
// timeout. A second timeout returns *ServiceError. Engine failures inside the
// worker yield an empty transcript.
func (s *Supervisor) Submit(ctx context.Context, job *protocol.Job) (protocol.Result, error) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.closed {
		return protocol.Result{}, ErrClosed
	}
	if !s.started {
		return protocol.Result{}, fmt.Errorf("supervisor not started")
	}

	s.reviveDead(ctx)

	start := time.Now()
	job.SubmittedAt = start

	s.stateMu.Lock()
	s.totalJobs++
	s.stateMu.Unlock()

	activeIdx := s.activeIndex()
	logger := s.logger.With(slog.String("job_id", job.ID))

	if s.send(activeIdx, job, logger) {
		result, ok, err := s.await(ctx, activeIdx, job.ID, s.config.PrimaryTimeout, logger)
		if err != nil {
			return protocol.Result{}, err
		}
		if ok {
			return s.finish(result, start, "success", logger), nil
		}
	}

	s.stateMu.Lock()
	s.timeouts++
	s.stateMu.Unlock()
	s.metrics.RecordWorkerTimeout("active")

	logger.Warn("Active worker missed its deadline, failing over",
		slog.String("worker", s.workerID(activeIdx)),
		slog.Duration("timeout", s.config.PrimaryTimeout))

	backupIdx := 1 - activeIdx
	sentToBackup := s.send(backupIdx, job, logger)
	backupStart := time.Now()

	s.replace(ctx, activeIdx, logger)

	s.stateMu.Lock()
	s.active = backupIdx
	s.failovers++
	s.stateMu.Unlock()
	s.metrics.RecordFailover()

	if sentToBackup {
		remaining := s.config.SecondaryTimeout - time.Since(backupStart)
		result, ok, err := s.await(ctx, backupIdx, job.ID, remaining, logger)
		if err != nil {
			return protocol.Result{}, err
		}
		if ok {
			return s.finish(result, start, "failover_success", logger), nil
		}
	}

	elapsed := time.Since(start)

	s.stateMu.Lock()
	s.timeouts++
	s.unavailable++
	s.lastLatency = elapsed
	s.stateMu.Unlock()
	s.metrics.RecordWorkerTimeout("backup")
	s.metrics.RecordTranscriptionJob("unavailable", elapsed.Seconds())

	logger.Error("Backup worker missed its deadline, transcription unavailable",
		slog.String("worker", s.workerID(backupIdx)),
		slog.Duration("elapsed", elapsed))

	return protocol.Result{}, &ServiceError{JobID: job.ID, Elapsed: elapsed}
}

// Close kills both workers
func (s *Supervisor) Close() error {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.killAll()
}

// GetStats returns current supervisor statistics
func (s *Supervisor) GetStats() Stats {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	slots := make([]SlotStats, 0, len(s.slots))
	for i, sl := range s.slots {
		role := "backup"
		if i == s.active {
			role = "active"
		}
		id := ""
		if sl.worker != nil {
			id = sl.worker.ID()
		}
		slots = append(slots, SlotStats{WorkerID: id, Health: sl.health.String(), Role: role})
	}

	return Stats{
		Slots:           slots,
		TotalJobs:       s.totalJobs,
		Failovers:       s.failovers,
		Timeouts:        s.timeouts,
		Unavailable:     s.unavailable,
		RespawnFailures: s.respawnFailures,
		LastLatency:     s.lastLatency,
	}
}

func (s *Supervisor) finish(result protocol.Result, start time.Time, outcome string, logger *slog.Logger) protocol.Result {
	elapsed := time.Since(start)

	s.stateMu.Lock()
	s.lastLatency = elapsed
	s.stateMu.Unlock()

	if result.Err != "" {
		logger.Warn("Worker engine failed, using empty transcript", slog.String("error", result.Err))
		result.Text = ""
		outcome = "engine_error"
	}

	s.metrics.RecordTranscriptionJob(outcome, elapsed.Seconds())
	logger.Debug("Transcription finished",
		slog.String("outcome", outcome),
		slog.Duration("latency", elapsed),
		slog.Duration("worker_processing", result.ProcessingTime))

	return result
}

// send enqueues the job without blocking and marks the slot busy
func (s *Supervisor) send(idx int, job *protocol.Job, logger *slog.Logger) bool {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	sl := &s.slots[idx]
	if sl.health == Dead || sl.worker == nil {
		logger.Warn("Worker slot is dead, cannot send job", slog.Int("slot", idx))
		return false
	}

	if err := sl.worker.Send(job); err != nil {
		logger.Warn("Failed to send job", slog.String("worker", sl.worker.ID()), slog.String("error", err.Error()))
		return false
	}

	sl.health = Busy
	return true
}

// await waits for the result of jobID from slot idx, discarding stale results
func (s *Supervisor) await(ctx context.Context, idx int, jobID string, timeout time.Duration, logger *slog.Logger) (protocol.Result, bool, error) {
	s.stateMu.RLock()
	w := s.slots[idx].worker
	s.stateMu.RUnlock()

	// a result may already be buffered when the budget is spent
	if timeout <= 0 {
		for {
			select {
			case result := <-w.Results():
				if result.JobID == jobID {
					s.setHealth(idx, Idle)
					return result, true, nil
				}
			default:
				return protocol.Result{}, false, nil
			}
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case result := <-w.Results():
			if result.JobID != jobID {
				logger.Debug("Discarding stale result", slog.String("stale_job_id", result.JobID))
				continue
			}
			s.setHealth(idx, Idle)
			return result, true, nil
		case <-timer.C:
			return protocol.Result{}, false, nil
		case <-ctx.Done():
			return protocol.Result{}, false, ctx.Err()
		}
	}
}

// replace kills the worker in slot idx, joins it and spawns a fresh one. A
// failed spawn leaves the slot dead until the next Submit.
func (s *Supervisor) replace(ctx context.Context, idx int, logger *slog.Logger) {
	s.stateMu.Lock()
	old := s.slots[idx].worker
	s.slots[idx].health = Dead
	s.stateMu.Unlock()

	if old != nil {
		if err := old.Kill(); err != nil {
			logger.Warn("Failed to kill worker", slog.String("worker", old.ID()), slog.String("error", err.Error()))
		}
	}

	s.respawn(ctx, idx, logger)
}

func (s *Supervisor) respawn(ctx context.Context, idx int, logger *slog.Logger) {
	w, err := s.spawner.Spawn(ctx)
	if err != nil {
		s.stateMu.Lock()
		s.respawnFailures++
		s.slots[idx] = slot{health: Dead}
		s.stateMu.Unlock()

		s.metrics.RecordRespawnFailure()
		s.updateAlive()
		logger.Error("Failed to respawn worker", slog.Int("slot", idx), slog.String("error", err.Error()))
		return
	}

	s.setSlot(idx, slot{worker: w, health: Idle})
	logger.Info("Worker respawned", slog.Int("slot", idx), slog.String("worker", w.ID()))
}

// reviveDead respawns slots left dead by an earlier failed respawn
func (s *Supervisor) reviveDead(ctx context.Context) {
	for i := range s.slots {
		s.stateMu.RLock()
		dead := s.slots[i].health == Dead
		s.stateMu.RUnlock()

		if dead {
			s.respawn(ctx, i, s.logger)
		}
	}
}

func (s *Supervisor) killAll() error {
	var errs []error

	for i := range s.slots {
		s.stateMu.Lock()
		w := s.slots[i].worker
		s.slots[i] = slot{health: Dead}
		s.stateMu.Unlock()

		if w != nil {
			if err := w.Kill(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	s.updateAlive()
	return errors.Join(errs...)
}

func (s *Supervisor) setSlot(idx int, sl slot) {
	s.stateMu.Lock()
	s.slots[idx] = sl
	s.stateMu.Unlock()
	s.updateAlive()
}

func (s *Supervisor) setHealth(idx int, h Health) {
	s.stateMu.Lock()
	s.slots[idx].health = h
	s.stateMu.Unlock()
}

func (s *Supervisor) activeIndex() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.active
}

func (s *Supervisor) workerID(idx int) string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if w := s.slots[idx].worker; w != nil {
		return w.ID()
	}
	return "none"
}

func (s *Supervisor) updateAlive() {
	s.stateMu.RLock()
	alive := 0
	for _, sl := range s.slots {
		if sl.health != Dead {
			alive++
		}
	}
	s.stateMu.RUnlock()

	s.metrics.SetWorkersAlive(alive)
}
