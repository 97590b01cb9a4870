// Package sched implements the scheduling engine: a registry of shared
// task handles, a min-heap timer queue drained by a single timer
// goroutine, and a FIFO worker pool. Stopped tasks are dropped lazily
// when their queued entry is popped.
package sched

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"taskgate/internal/eventbus"
	"taskgate/internal/storage"
	"taskgate/internal/task"
	"taskgate/pkg/logx"
)

type Scheduler struct {
	cfg   Config
	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store // optional; nil disables persistence

	running atomic.Bool

	// Registry owns name uniqueness. Lock order: regMu before heapMu,
	// never the reverse; neither is held across Run().
	regMu    sync.Mutex
	registry map[string]*task.Task

	heapMu sync.Mutex
	timerQ timerHeap
	seq    uint64

	runq   chan *task.Task
	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup

	// warnLimit throttles per-run diagnostics (panics, store failures) so
	// a crash-looping task cannot flood the log.
	warnLimit *rate.Limiter

	executions atomic.Uint64
	panics     atomic.Uint64

	hmu     sync.Mutex
	history []storage.RunRecord
}

// New starts the scheduler immediately: one timer goroutine plus
// cfg.Workers workers. store may be nil.
func New(cfg Config, log logx.Logger, bus eventbus.Bus, store storage.Store) *Scheduler {
	cfg = cfg.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	s := &Scheduler{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		store:     store,
		registry:  make(map[string]*task.Task),
		runq:      make(chan *task.Task, cfg.QueueSize),
		wake:      make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 3),
	}
	s.running.Store(true)

	s.wg.Add(1)
	go s.timerLoop()
	for i := 0; i < cfg.Workers; i++ {
		idx := i
		s.wg.Add(1)
		go s.workerLoop(idx)
	}
	s.log.Info("scheduler started", logx.Int("workers", cfg.Workers))
	return s
}

// CreateTask registers the factory's task under name and schedules its
// first run at now+interval. Returns false on duplicate name, nil task,
// factory panic, or after shutdown.
func (s *Scheduler) CreateTask(name string, factory func() *task.Task) bool {
	if !s.running.Load() {
		return false
	}

	s.regMu.Lock()
	defer s.regMu.Unlock()

	if _, exists := s.registry[name]; exists {
		return false
	}

	var t *task.Task
	func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("task factory panicked", logx.String("task", name), logx.Any("panic", r))
				t = nil
			}
		}()
		t = factory()
	}()
	if t == nil {
		return false
	}

	s.registry[name] = t
	s.schedule(t, time.Now().Add(t.Interval()))

	s.log.Debug("task created", logx.String("task", name), logx.Duration("interval", t.Interval()))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskCreated, Data: TaskEvent{Name: name}})
	return true
}

// StopTask clears the task's active flag and erases it from the registry.
// Queued copies of the handle are dropped lazily when popped.
func (s *Scheduler) StopTask(name string) bool {
	if !s.running.Load() {
		return false
	}

	s.regMu.Lock()
	t, ok := s.registry[name]
	if ok {
		t.SetActive(false)
		delete(s.registry, name)
	}
	s.regMu.Unlock()

	if ok {
		s.log.Debug("task stopped", logx.String("task", name))
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStopped, Data: TaskEvent{Name: name}})
	}
	return ok
}

// UpdateTask atomically installs cfg on the named task. The new interval
// takes effect at the next reschedule after the currently-queued run.
func (s *Scheduler) UpdateTask(name string, cfg task.Config) bool {
	if !s.running.Load() {
		return false
	}

	s.regMu.Lock()
	t, ok := s.registry[name]
	s.regMu.Unlock()
	if !ok {
		return false
	}

	t.UpdateConfig(cfg)
	s.log.Debug("task updated", logx.String("task", name), logx.Duration("interval", cfg.Interval))
	s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskUpdated, Data: TaskEvent{Name: name}})
	return true
}

// GetTask returns the registered task handle, or nil.
func (s *Scheduler) GetTask(name string) *task.Task {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return s.registry[name]
}

// TaskCount reports the registry size.
func (s *Scheduler) TaskCount() int {
	s.regMu.Lock()
	defer s.regMu.Unlock()
	return len(s.registry)
}

// Shutdown is idempotent: it signals both loops, waits for in-flight runs
// to finish (drain-then-exit: workers complete the run they started and
// exit without rescheduling), and joins. Mutating operations fail
// afterwards.
func (s *Scheduler) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}
	start := time.Now()
	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

// schedule pushes a timer entry and wakes the timer loop so it can
// re-evaluate its deadline.
func (s *Scheduler) schedule(t *task.Task, at time.Time) {
	s.heapMu.Lock()
	s.seq++
	heap.Push(&s.timerQ, entry{at: at, seq: s.seq, task: t})
	s.heapMu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Snapshot returns a point-in-time view for logging and stats.
func (s *Scheduler) Snapshot() Snapshot {
	s.hmu.Lock()
	hist := make([]storage.RunRecord, len(s.history))
	copy(hist, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Running:    s.running.Load(),
		Workers:    s.cfg.Workers,
		Tasks:      s.TaskCount(),
		QueueLen:   len(s.runq),
		QueueCap:   cap(s.runq),
		Executions: s.executions.Load(),
		Panics:     s.panics.Load(),
		History:    hist,
	}
}
