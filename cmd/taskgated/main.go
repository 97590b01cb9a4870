// taskgated is a config-driven periodic task scheduler daemon. It loads a
// declarative YAML task set, keeps it hot-reloaded through the
// reconciler, and runs each task through its debounced dual-channel state
// machine.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"taskgate/internal/config"
	"taskgate/internal/eventbus"
	"taskgate/internal/housekeeping"
	"taskgate/internal/sched"
	"taskgate/internal/storage"
	"taskgate/internal/task"
	"taskgate/pkg/logx"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath       = flag.String("config", "./tasks.yaml", "path to declarative task set (yaml)")
		workers       = flag.Int("workers", 4, "scheduler worker goroutines")
		debounce      = flag.Duration("debounce", 5*time.Second, "config reload debounce window")
		pollInterval  = flag.Duration("poll", time.Second, "config file poll interval")
		logLevel      = flag.String("log-level", "INFO", "log level (TRACE..ERROR)")
		logFile       = flag.String("log-file", "", "optional log file path")
		storageDriver = flag.String("storage", "none", "run-record storage driver: none|file|sqlite")
		storagePath   = flag.String("storage-path", "./taskgate_runs", "run-record storage path")
		janitorSpec   = flag.String("janitor", "@every 1m", "janitor cron spec")
		retention     = flag.Duration("retention", 24*time.Hour, "run-record retention")
		demo          = flag.Bool("demo", false, "register a programmatic demo sensor task")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log := logx.New(logx.Config{
		Level:   *logLevel,
		Console: true,
		File:    logx.FileConfig{Enabled: *logFile != "", Path: *logFile},
	})
	appLog := log.With(logx.String("comp", "app"))

	store, err := storage.Open(storage.Config{Driver: *storageDriver, Path: *storagePath},
		log.With(logx.String("comp", "storage")))
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal: storage:", err)
		return 1
	}
	if store != nil {
		appLog.Info("storage enabled", logx.String("driver", *storageDriver))
	}

	bus := eventbus.New()
	scheduler := sched.New(sched.Config{Workers: *workers},
		log.With(logx.String("comp", "sched")), bus, store)

	// Programmatic task beside the config-driven set, as in the original demo.
	if *demo {
		created := scheduler.CreateTask("DemoSensor", func() *task.Task {
			return task.Build(task.TypeSensor, task.Config{
				Name:         "DemoSensor",
				Interval:     2 * time.Second,
				SigTolerance: 10,
				AllowSignal:  true,
				ActTolerance: 10,
				AllowAction:  true,
			}, log)
		})
		appLog.Info("demo task registered", logx.Bool("created", created))
	}

	reconciler := config.NewReconciler(config.ReconcilerConfig{
		Path:           *cfgPath,
		DebounceWindow: *debounce,
		PollInterval:   *pollInterval,
	}, scheduler, bus, log.With(logx.String("comp", "reconciler")), log)

	if !reconciler.Start() {
		appLog.Error("initial task set load failed", logx.String("path", *cfgPath))
		scheduler.Shutdown()
		if store != nil {
			_ = store.Close()
		}
		return 1
	}

	janitor := housekeeping.New(housekeeping.Config{Spec: *janitorSpec, Retention: *retention},
		scheduler, store, bus, log.With(logx.String("comp", "janitor")))
	if err := janitor.Start(); err != nil {
		appLog.Warn("janitor disabled", logx.Err(err))
	}

	// No-op outside systemd.
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	appLog.Info("taskgated running",
		logx.String("config", *cfgPath),
		logx.Int("tasks", scheduler.TaskCount()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if *demo {
		g.Go(func() error { return driveDemo(gctx, scheduler) })
	}
	_ = g.Wait()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	appLog.Info("shutting down")

	janitor.Stop()
	reconciler.Stop()
	scheduler.Shutdown()
	if store != nil {
		_ = store.Close()
	}
	return 0
}

// driveDemo wiggles the demo sensor's reading so the state machine has
// something to chew on.
func driveDemo(ctx context.Context, scheduler *sched.Scheduler) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var tick float64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t := scheduler.GetTask("DemoSensor")
			if t == nil {
				return nil
			}
			if s, ok := t.Runner().(*task.Sensor); ok {
				tick++
				s.SetValue(50 + 30*math.Sin(tick/10))
			}
		}
	}
}
