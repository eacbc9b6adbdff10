package imagesync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// MinPeriodicInterval is the shortest accepted repeat interval.
	MinPeriodicInterval = 15 * time.Minute
	// DefaultInitialDelay postpones the first run after enqueueing.
	DefaultInitialDelay = 5 * time.Minute

	defaultBackoff    = 30 * time.Second
	defaultMaxBackoff = 5 * time.Hour
)

// Policy decides what happens when a unique work name is already scheduled.
type Policy int

const (
	// PolicyKeep leaves the existing schedule untouched.
	PolicyKeep Policy = iota
	// PolicyReplace cancels the existing schedule and starts the new one.
	PolicyReplace
)

var (
	errMissingWorkName = errors.New("imagesync: work name required")
	errMissingWorkRun  = errors.New("imagesync: work function required")
	errSchedulerClosed = errors.New("imagesync: scheduler stopped")
)

// PeriodicWork describes a repeating background job.
type PeriodicWork struct {
	Interval     time.Duration
	InitialDelay time.Duration
	Policy       Policy
	Run          func(ctx context.Context) error
}

type SchedulerConfig struct {
	MinInterval time.Duration
	Backoff     time.Duration
	MaxBackoff  time.Duration
	Logger      *zap.Logger
}

// Scheduler runs uniquely named periodic work, each on its own goroutine.
// Failed or panicking runs are retried with doubling backoff.
type Scheduler struct {
	minInterval time.Duration
	backoff     time.Duration
	maxBackoff  time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	works   map[string]*scheduledWork
	stopped bool
	wg      sync.WaitGroup
}

type scheduledWork struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = MinPeriodicInterval
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		minInterval: minInterval,
		backoff:     backoff,
		maxBackoff:  maxBackoff,
		logger:      logger,
		works:       make(map[string]*scheduledWork),
	}
}

// EnqueueUniquePeriodic schedules work under name. It reports whether the
// new work was scheduled; with PolicyKeep an existing schedule wins.
func (s *Scheduler) EnqueueUniquePeriodic(name string, work PeriodicWork) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, errMissingWorkName
	}
	if work.Run == nil {
		return false, errMissingWorkRun
	}
	interval := work.Interval
	if interval < s.minInterval {
		interval = s.minInterval
	}
	delay := work.InitialDelay
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return false, errSchedulerClosed
	}
	existing, exists := s.works[name]
	if exists && work.Policy == PolicyKeep {
		s.mu.Unlock()
		s.logger.Debug("keeping existing periodic work", zap.String("name", name))
		return false, nil
	}
	if exists {
		existing.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	scheduled := &scheduledWork{cancel: cancel, done: make(chan struct{})}
	s.works[name] = scheduled
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("periodic work scheduled",
		zap.String("name", name),
		zap.Duration("interval", interval),
		zap.Duration("initial_delay", delay))
	go s.loop(ctx, name, scheduled, interval, delay, work.Run)
	return true, nil
}

// Scheduled reports whether work is registered under name.
func (s *Scheduler) Scheduled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.works[name]
	return ok
}

// Cancel stops the work registered under name, if any.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	scheduled, ok := s.works[name]
	if ok {
		delete(s.works, name)
	}
	s.mu.Unlock()
	if ok {
		scheduled.cancel()
		<-scheduled.done
	}
}

// Stop cancels all work and waits for running attempts to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	for name, scheduled := range s.works {
		scheduled.cancel()
		delete(s.works, name)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, scheduled *scheduledWork, interval, delay time.Duration, run func(context.Context) error) {
	defer s.wg.Done()
	defer close(scheduled.done)
	defer s.forget(name, scheduled)

	if !sleep(ctx, delay) {
		return
	}
	failures := 0
	for {
		err := s.attempt(ctx, name, run)
		if ctx.Err() != nil {
			return
		}
		wait := interval
		if err != nil {
			failures++
			wait = s.backoffFor(failures)
			s.logger.Warn("periodic work failed, retrying",
				zap.String("name", name),
				zap.Int("attempt", failures),
				zap.Duration("backoff", wait),
				zap.Error(err))
		} else {
			failures = 0
		}
		if !sleep(ctx, wait) {
			return
		}
	}
}

func (s *Scheduler) attempt(ctx context.Context, name string, run func(context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Error("periodic work panicked", zap.String("name", name), zap.Any("panic", recovered))
			err = fmt.Errorf("imagesync: work %s panicked: %v", name, recovered)
		}
	}()
	return run(ctx)
}

func (s *Scheduler) backoffFor(failures int) time.Duration {
	wait := s.backoff
	for i := 1; i < failures; i++ {
		wait *= 2
		if wait >= s.maxBackoff {
			return s.maxBackoff
		}
	}
	if wait > s.maxBackoff {
		return s.maxBackoff
	}
	return wait
}

func (s *Scheduler) forget(name string, scheduled *scheduledWork) {
	s.mu.Lock()
	if current, ok := s.works[name]; ok && current == scheduled {
		delete(s.works, name)
	}
	s.mu.Unlock()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
