package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nimeshabuddhika/custodial-ledger/services/ledger-worker/internal/observability"
	"go.uber.org/zap"
)

// Job is a periodic task. Run receives a context cancelled on Stop.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// distributedLock is satisfied by *cache.TickLock.
type distributedLock interface {
	TryAcquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

type SchedulerConfig struct {
	Logger *zap.Logger
	Jobs   []Job
	// Lock, when set, keeps replicas from running the same job at once.
	Lock distributedLock

	// internal initialization
	ctx     context.Context
	cancel  context.CancelFunc
	running map[string]*sync.Mutex
	wg      sync.WaitGroup
}

// NewScheduler validates the jobs. Names must be unique and intervals positive.
func NewScheduler(cfg SchedulerConfig) (*SchedulerConfig, error) {
	cfg.running = make(map[string]*sync.Mutex, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		if job.Interval <= 0 {
			return nil, fmt.Errorf("scheduler: job %s has no interval", job.Name)
		}
		if job.Run == nil {
			return nil, fmt.Errorf("scheduler: job %s has no run func", job.Name)
		}
		if _, dup := cfg.running[job.Name]; dup {
			return nil, fmt.Errorf("scheduler: job %s registered twice", job.Name)
		}
		cfg.running[job.Name] = &sync.Mutex{}
	}
	cfg.ctx, cfg.cancel = context.WithCancel(context.Background())
	return &cfg, nil
}

// Start runs every job once immediately and then on its interval. The returned func stops the
// scheduler and waits for in-flight ticks.
func (s *SchedulerConfig) Start() func() {
	for _, job := range s.Jobs {
		s.wg.Add(1)
		go s.loop(job)
	}
	s.Logger.Info("scheduler_started", zap.Int("jobs", len(s.Jobs)))
	return s.Stop
}

func (s *SchedulerConfig) Stop() {
	s.cancel()
	s.wg.Wait()
	s.Logger.Info("scheduler_stopped")
}

// RunNow runs a job out of band. It reports false, without running, when the job is unknown
// or a tick of it is already in flight.
func (s *SchedulerConfig) RunNow(name string) bool {
	for _, job := range s.Jobs {
		if job.Name == name {
			return s.tick(job)
		}
	}
	return false
}

func (s *SchedulerConfig) loop(job Job) {
	defer s.wg.Done()
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.tick(job)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.tick(job)
		}
	}
}

// tick runs the job unless a previous tick still holds it, here or on another replica.
func (s *SchedulerConfig) tick(job Job) bool {
	if s.ctx.Err() != nil {
		return false
	}
	mu := s.running[job.Name]
	if !mu.TryLock() {
		observability.SchedulerSkippedTicks.WithLabelValues(job.Name, "local").Inc()
		s.Logger.Warn("scheduler_tick_skipped", zap.String("job", job.Name), zap.String("holder", "local"))
		return false
	}
	defer mu.Unlock()

	if s.Lock != nil {
		release, ok, err := s.Lock.TryAcquire(s.ctx, job.Name)
		if err != nil {
			// no shared lock means no tick: two replicas must never overlap
			s.Logger.Error("scheduler_lock_failed", zap.String("job", job.Name), zap.Error(err))
			return false
		}
		if !ok {
			observability.SchedulerSkippedTicks.WithLabelValues(job.Name, "remote").Inc()
			s.Logger.Info("scheduler_tick_skipped", zap.String("job", job.Name), zap.String("holder", "remote"))
			return false
		}
		defer release()
	}

	if err := job.Run(s.ctx); err != nil {
		s.Logger.Error("scheduler_job_failed", zap.String("job", job.Name), zap.Error(err))
	}
	return true
}
