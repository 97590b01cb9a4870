// Package housekeeping runs periodic maintenance beside the scheduler:
// pruning persisted run records past their retention and logging a stats
// line so long-running daemons leave a heartbeat in the log.
package housekeeping

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"taskgate/internal/eventbus"
	"taskgate/internal/sched"
	"taskgate/internal/storage"
	"taskgate/pkg/logx"
)

type Config struct {
	Spec      string        // cron spec or @every descriptor; default "@every 1m"
	Retention time.Duration // run-record retention; default 24h
}

func (c Config) withDefaults() Config {
	if c.Spec == "" {
		c.Spec = "@every 1m"
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	return c
}

type Janitor struct {
	cfg   Config
	log   logx.Logger
	sch   *sched.Scheduler
	store storage.Store // may be nil; stats line still runs
	bus   eventbus.Bus  // may be nil; panic tracking is then off

	c *cron.Cron

	// recentPanics counts run.panic events since the last sweep, fed by a
	// filtered bus subscription.
	recentPanics atomic.Uint64
	unsub        func()
	wg           sync.WaitGroup
}

func New(cfg Config, sch *sched.Scheduler, store storage.Store, bus eventbus.Bus, log logx.Logger) *Janitor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Janitor{cfg: cfg.withDefaults(), log: log, sch: sch, store: store, bus: bus}
}

// Start registers the sweep on its cron schedule and begins tracking
// panic events. Returns any spec error.
func (j *Janitor) Start() error {
	// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser))
	if _, err := c.AddFunc(j.cfg.Spec, j.sweep); err != nil {
		return err
	}
	j.c = c

	if j.bus != nil {
		ch, unsub := j.bus.Subscribe(64, eventbus.TypeRunPanic)
		j.unsub = unsub
		j.wg.Add(1)
		go func() {
			defer j.wg.Done()
			for range ch {
				j.recentPanics.Add(1)
			}
		}()
	}

	c.Start()
	j.log.Info("janitor started", logx.String("spec", j.cfg.Spec), logx.Duration("retention", j.cfg.Retention))
	return nil
}

// Stop halts the cron loop, waits for a running sweep to finish, and
// tears down the panic subscription.
func (j *Janitor) Stop() {
	if j.c == nil {
		return
	}
	<-j.c.Stop().Done()
	j.c = nil

	if j.unsub != nil {
		j.unsub()
		j.unsub = nil
	}
	j.wg.Wait()
	j.log.Info("janitor stopped")
}

func (j *Janitor) sweep() {
	defer func() {
		if r := recover(); r != nil {
			j.log.Error("panic in janitor sweep", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()

	snap := j.sch.Snapshot()
	fields := []logx.Field{
		logx.Int("tasks", snap.Tasks),
		logx.Uint64("executions", snap.Executions),
		logx.Uint64("panics", snap.Panics),
		logx.Uint64("recent_panics", j.recentPanics.Swap(0)),
		logx.Int("queue_len", snap.QueueLen),
		logx.Int("queue_cap", snap.QueueCap),
	}
	if j.bus != nil {
		fields = append(fields, logx.Uint64("events_dropped", j.bus.Dropped()))
	}
	j.log.Info("scheduler stats", fields...)

	if j.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	removed, err := j.store.PruneBefore(ctx, time.Now().Add(-j.cfg.Retention))
	if err != nil {
		j.log.Warn("run record prune failed", logx.Err(err))
		return
	}
	if removed > 0 {
		j.log.Debug("run records pruned", logx.Int64("removed", removed))
	}
}
