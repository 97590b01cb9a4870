package sched

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"taskgate/internal/task"
	"taskgate/pkg/logx"
)

// countRunner counts Plan invocations; one Plan per tick.
type countRunner struct {
	runs     atomic.Int64
	firstRun atomic.Int64 // unix nanos of the first tick
}

func (r *countRunner) Plan() task.PlanResult {
	if r.runs.Add(1) == 1 {
		r.firstRun.Store(time.Now().UnixNano())
	}
	return task.PlanResult{}
}
func (r *countRunner) Signal(bool) {}
func (r *countRunner) Act(bool)    {}

type panicRunner struct {
	attempts atomic.Int64
}

func (r *panicRunner) Plan() task.PlanResult {
	r.attempts.Add(1)
	panic("boom")
}
func (r *panicRunner) Signal(bool) {}
func (r *panicRunner) Act(bool)    {}

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(Config{Workers: 4}, logx.Nop(), nil, nil)
	t.Cleanup(s.Shutdown)
	return s
}

func makeTask(name string, interval time.Duration, r task.Runner) *task.Task {
	return task.New(task.Config{
		Name:         name,
		Interval:     interval,
		SigTolerance: 1 << 30,
		AllowSignal:  true,
		ActTolerance: 1 << 30,
		AllowAction:  true,
	}, r)
}

func TestCreateRejectsDuplicate(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)

	factory := func() *task.Task { return makeTask("a", time.Hour, &countRunner{}) }
	if !s.CreateTask("a", factory) {
		t.Fatal("first create failed")
	}
	if s.CreateTask("a", factory) {
		t.Fatal("duplicate create succeeded")
	}
	if got := s.TaskCount(); got != 1 {
		t.Fatalf("TaskCount = %d, want 1", got)
	}
}

func TestCreateRejectsNilAndPanickingFactory(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)

	if s.CreateTask("nil", func() *task.Task { return nil }) {
		t.Fatal("nil factory result accepted")
	}
	if s.CreateTask("boom", func() *task.Task { panic("factory exploded") }) {
		t.Fatal("panicking factory accepted")
	}
	if got := s.TaskCount(); got != 0 {
		t.Fatalf("registry must be unmodified, got %d", got)
	}
}

func TestStopUnknownReturnsFalse(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	if s.StopTask("ghost") {
		t.Fatal("stop of unknown task returned true")
	}
}

func TestCreateThenStopEmptiesRegistry(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)

	s.CreateTask("a", func() *task.Task { return makeTask("a", time.Hour, &countRunner{}) })
	if !s.StopTask("a") {
		t.Fatal("stop failed")
	}
	if got := s.TaskCount(); got != 0 {
		t.Fatalf("TaskCount = %d, want 0", got)
	}
	if s.GetTask("a") != nil {
		t.Fatal("stopped task still visible")
	}
	// The name is reusable after stop.
	if !s.CreateTask("a", func() *task.Task { return makeTask("a", time.Hour, &countRunner{}) }) {
		t.Fatal("name not reusable after stop")
	}
}

func TestUpdateUnknownReturnsFalse(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	if s.UpdateTask("ghost", task.Config{Interval: time.Second}) {
		t.Fatal("update of unknown task returned true")
	}
}

func TestPeriodicExecution(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	r := &countRunner{}
	s.CreateTask("tick", func() *task.Task { return makeTask("tick", 20*time.Millisecond, r) })

	time.Sleep(300 * time.Millisecond)
	if got := r.runs.Load(); got < 5 {
		t.Fatalf("runs = %d, want >= 5", got)
	}
}

func TestFirstRunNotBeforeDeadline(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	r := &countRunner{}
	created := time.Now()
	s.CreateTask("late", func() *task.Task { return makeTask("late", 100*time.Millisecond, r) })

	time.Sleep(250 * time.Millisecond)
	first := r.firstRun.Load()
	if first == 0 {
		t.Fatal("task never ran")
	}
	// Lower bound per the scheduling contract; allow a little timer slack.
	if elapsed := time.Duration(first - created.UnixNano()); elapsed < 90*time.Millisecond {
		t.Fatalf("first run after %v, want >= ~100ms", elapsed)
	}
}

func TestStopPreventsFutureRuns(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	r := &countRunner{}
	s.CreateTask("s", func() *task.Task { return makeTask("s", 10*time.Millisecond, r) })

	time.Sleep(100 * time.Millisecond)
	s.StopTask("s")
	time.Sleep(50 * time.Millisecond) // let any in-flight run drain
	frozen := r.runs.Load()
	if frozen == 0 {
		t.Fatal("task never ran before stop")
	}

	time.Sleep(150 * time.Millisecond)
	if got := r.runs.Load(); got != frozen {
		t.Fatalf("runs after stop: %d -> %d", frozen, got)
	}
}

func TestDynamicIntervalSpeedsUp(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	r := &countRunner{}
	cfg := task.Config{
		Name: "d", Interval: 100 * time.Millisecond,
		SigTolerance: 1 << 30, AllowSignal: true,
		ActTolerance: 1 << 30, AllowAction: true,
	}
	s.CreateTask("d", func() *task.Task { return task.New(cfg, r) })

	time.Sleep(450 * time.Millisecond)
	k1 := r.runs.Load()

	fast := cfg
	fast.Interval = 20 * time.Millisecond
	if !s.UpdateTask("d", fast) {
		t.Fatal("update failed")
	}
	time.Sleep(450 * time.Millisecond)
	k2 := r.runs.Load() - k1

	if k1 == 0 {
		t.Fatal("no executions in the slow phase")
	}
	if k2 < 2*k1 {
		t.Fatalf("k2 = %d, want >= 2*k1 (k1 = %d)", k2, k1)
	}
}

func TestHighFrequencyTask(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	r := &countRunner{}
	s.CreateTask("hf", func() *task.Task { return makeTask("hf", time.Millisecond, r) })

	time.Sleep(200 * time.Millisecond)
	if got := r.runs.Load(); got < 50 {
		t.Fatalf("high-frequency runs = %d, want >= 50", got)
	}
}

func TestManyTasksStayActive(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)

	names := make([]string, 100)
	for i := range names {
		names[i] = fmt.Sprintf("task-%03d", i)
		n := names[i]
		if !s.CreateTask(n, func() *task.Task { return makeTask(n, 50*time.Millisecond, &countRunner{}) }) {
			t.Fatalf("create %q failed", n)
		}
	}

	time.Sleep(300 * time.Millisecond)
	if got := s.TaskCount(); got != 100 {
		t.Fatalf("TaskCount = %d, want 100", got)
	}
	for _, n := range names {
		tk := s.GetTask(n)
		if tk == nil || !tk.Active() {
			t.Fatalf("task %q not active", n)
		}
	}
}

func TestPanicIsContained(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	bad := &panicRunner{}
	good := &countRunner{}
	s.CreateTask("bad", func() *task.Task { return makeTask("bad", 10*time.Millisecond, bad) })
	s.CreateTask("good", func() *task.Task { return makeTask("good", 10*time.Millisecond, good) })

	time.Sleep(200 * time.Millisecond)

	// The panicking task keeps getting rescheduled; the workers survive.
	if got := bad.attempts.Load(); got < 2 {
		t.Fatalf("panicking task attempts = %d, want >= 2", got)
	}
	if got := good.runs.Load(); got < 5 {
		t.Fatalf("healthy task starved by panics: %d runs", got)
	}
	if snap := s.Snapshot(); snap.Panics == 0 {
		t.Fatal("panic counter not bumped")
	}
}

func TestShutdownIdempotentAndFinal(t *testing.T) {
	t.Parallel()
	s := New(Config{Workers: 2}, logx.Nop(), nil, nil)
	r := &countRunner{}
	s.CreateTask("x", func() *task.Task { return makeTask("x", 10*time.Millisecond, r) })
	time.Sleep(50 * time.Millisecond)

	s.Shutdown()
	s.Shutdown() // must not block or panic

	after := r.runs.Load()
	time.Sleep(80 * time.Millisecond)
	if got := r.runs.Load(); got != after {
		t.Fatalf("executions after shutdown: %d -> %d", after, got)
	}
	if s.CreateTask("y", func() *task.Task { return makeTask("y", time.Hour, &countRunner{}) }) {
		t.Fatal("create succeeded after shutdown")
	}
}

func TestSnapshotCountsExecutions(t *testing.T) {
	t.Parallel()
	s := newScheduler(t)
	r := &countRunner{}
	s.CreateTask("snap", func() *task.Task { return makeTask("snap", 10*time.Millisecond, r) })

	time.Sleep(120 * time.Millisecond)
	snap := s.Snapshot()
	if snap.Executions == 0 {
		t.Fatal("no executions recorded")
	}
	if len(snap.History) == 0 {
		t.Fatal("history empty")
	}
	if snap.History[len(snap.History)-1].Task != "snap" {
		t.Fatalf("unexpected history entry: %+v", snap.History[len(snap.History)-1])
	}
}
