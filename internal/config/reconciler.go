package config

import (
	"sync"
	"time"

	"taskgate/internal/eventbus"
	"taskgate/internal/sched"
	"taskgate/internal/task"
	"taskgate/internal/watcher"
	"taskgate/pkg/logx"
)

// ReconcilerConfig tunes the hot-reload loop.
type ReconcilerConfig struct {
	Path           string
	DebounceWindow time.Duration // quiet period before a reload applies; default 5s
	PollInterval   time.Duration // watcher mtime poll; default 1s
	TickInterval   time.Duration // debounce check cadence; default 1s
}

func (c ReconcilerConfig) withDefaults() ReconcilerConfig {
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	return c
}

// ReconcileSummary is the payload of reconcile.applied events.
type ReconcileSummary struct {
	Added   int
	Updated int
	Removed int
	Failed  int
	Total   int
}

// Reconciler keeps the scheduler's task set convergent with the declared
// document, absorbing rapid edit bursts through a debounce window. An
// invalid or empty reload keeps the current set (rollback on error).
type Reconciler struct {
	cfg   ReconcilerConfig
	sch   *sched.Scheduler
	bus   eventbus.Bus
	log   logx.Logger
	taskL logx.Logger // base logger handed to factory-built tasks

	w *watcher.Watcher

	// mu guards current/pending/lastChange. It is released before any
	// call into the scheduler to keep lock ordering flat.
	mu         sync.Mutex
	current    map[string]ExtendedConfig
	pending    bool
	lastChange time.Time

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewReconciler(cfg ReconcilerConfig, sch *sched.Scheduler, bus eventbus.Bus, log logx.Logger, taskLog logx.Logger) *Reconciler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Reconciler{
		cfg:     cfg.withDefaults(),
		sch:     sch,
		bus:     bus,
		log:     log,
		taskL:   taskLog,
		current: map[string]ExtendedConfig{},
	}
}

// Start loads the document once and reconciles against the empty set,
// then starts the watcher and the debounce loop. It returns false — and
// starts nothing — when the initial load yields no valid tasks.
func (r *Reconciler) Start() bool {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.running {
		return true
	}

	configs, err := ParseFile(r.cfg.Path, r.log)
	if err != nil {
		r.log.Error("initial task set load failed", logx.String("path", r.cfg.Path), logx.Err(err))
		return false
	}
	if len(configs) == 0 {
		r.log.Error("initial task set is empty", logx.String("path", r.cfg.Path))
		return false
	}

	r.sync(configs)

	r.w = watcher.New(r.cfg.Path, r.onFileChanged, r.cfg.PollInterval,
		r.log.With(logx.String("comp", "watcher")))
	r.w.Start()

	r.running = true
	r.stopCh = make(chan struct{})
	r.wg.Add(1)
	go r.debounceLoop()

	r.log.Info("reconciler started",
		logx.String("path", r.cfg.Path),
		logx.Duration("debounce", r.cfg.DebounceWindow),
		logx.Int("tasks", r.CurrentCount()))
	return true
}

// Stop halts the watcher and the debounce loop. Idempotent.
func (r *Reconciler) Stop() {
	r.runMu.Lock()
	if !r.running {
		r.runMu.Unlock()
		return
	}
	r.running = false
	close(r.stopCh)
	w := r.w
	r.w = nil
	r.runMu.Unlock()

	if w != nil {
		w.Stop()
	}
	r.wg.Wait()
	r.log.Info("reconciler stopped")
}

// CurrentCount reports the size of the reconciled set.
func (r *Reconciler) CurrentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.current)
}

func (r *Reconciler) onFileChanged() {
	r.mu.Lock()
	r.pending = true
	r.lastChange = time.Now()
	r.mu.Unlock()
	r.log.Debug("task set changed; debouncing")
}

func (r *Reconciler) debounceLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.mu.Lock()
			due := r.pending && time.Since(r.lastChange) >= r.cfg.DebounceWindow
			if due {
				r.pending = false
			}
			r.mu.Unlock()
			if due {
				r.applyPending()
			}
		}
	}
}

// applyPending re-parses and reconciles. A parse failure or empty result
// leaves the live state untouched.
func (r *Reconciler) applyPending() {
	configs, err := ParseFile(r.cfg.Path, r.log)
	if err != nil {
		r.log.Warn("reload parse failed; keeping current set", logx.Err(err))
		return
	}
	if len(configs) == 0 {
		r.log.Warn("reload yielded no valid tasks; keeping current set")
		return
	}
	r.sync(configs)
}

// sync diffs the declared set against the current one and applies the
// result: create missing tasks via the factory, update changed ones, stop
// removed ones. The current-set mutex is never held across scheduler
// calls.
func (r *Reconciler) sync(configs []ExtendedConfig) {
	r.mu.Lock()
	old := make(map[string]ExtendedConfig, len(r.current))
	for k, v := range r.current {
		old[k] = v
	}
	r.mu.Unlock()

	cs := diff(old, configs)
	var sum ReconcileSummary

	for _, c := range cs.create {
		c := c
		ok := r.sch.CreateTask(c.Task.Name, func() *task.Task {
			return task.Build(c.Type, c.Task, r.taskL)
		})
		if ok {
			sum.Added++
		} else {
			sum.Failed++
			r.log.Error("task create failed", logx.String("task", c.Task.Name), logx.String("type", c.Type))
		}
	}

	for _, c := range cs.update {
		if r.sch.UpdateTask(c.Task.Name, c.Task) {
			sum.Updated++
		} else {
			sum.Failed++
			r.log.Error("task update failed", logx.String("task", c.Task.Name))
		}
	}

	for _, name := range cs.remove {
		if r.sch.StopTask(name) {
			sum.Removed++
		} else {
			sum.Failed++
			r.log.Error("task stop failed", logx.String("task", name))
		}
	}

	r.mu.Lock()
	r.current = asMap(configs)
	sum.Total = len(r.current)
	r.mu.Unlock()

	if sum.Added+sum.Updated+sum.Removed+sum.Failed > 0 {
		r.log.Info("task set synchronized",
			logx.Int("added", sum.Added),
			logx.Int("updated", sum.Updated),
			logx.Int("removed", sum.Removed),
			logx.Int("failed", sum.Failed),
			logx.Int("total", sum.Total))
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.TypeReconcileApplied, Data: sum})
}
