package sched

import (
	"context"
	"runtime/debug"
	"time"

	"taskgate/internal/eventbus"
	"taskgate/internal/storage"
	"taskgate/internal/task"
	"taskgate/pkg/logx"
)

func (s *Scheduler) workerLoop(idx int) {
	defer s.wg.Done()

	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-s.stopCh:
			return
		default:
		}

		select {
		case <-s.stopCh:
			return
		case t := <-s.runq:
			// Lazy deletion: the handle may have been stopped while queued.
			if !t.Active() {
				continue
			}
			s.runOne(t)
			// Reschedule with the interval snapshotted after the run, so an
			// UpdateTask that landed mid-run takes effect now.
			if t.Active() {
				s.schedule(t, time.Now().Add(t.Interval()))
			}
		}
	}
}

// runOne executes a single tick behind a panic barrier: user code blowing
// up costs that tick, never the worker.
func (s *Scheduler) runOne(t *task.Task) {
	start := time.Now()
	panicked := false

	func() {
		defer func() {
			if r := recover(); r != nil {
				panicked = true
				if s.warnLimit.Allow() {
					s.log.Error("panic in task run",
						logx.String("task", t.Name()),
						logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
				}
			}
		}()
		t.Run()
	}()

	dur := time.Since(start)
	s.executions.Add(1)

	rec := storage.RunRecord{
		At:       start,
		Task:     t.Name(),
		Duration: dur,
		Panicked: panicked,
	}
	if panicked {
		s.panics.Add(1)
		rec.Error = "panic"
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRunPanic, Data: TaskEvent{
			Name: t.Name(), Started: start, Duration: dur, Panicked: true,
		}})
	} else {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRunCompleted, Data: TaskEvent{
			Name: t.Name(), Started: start, Duration: dur,
		}})
	}

	s.appendHistory(rec)
	s.persist(rec)
}

func (s *Scheduler) appendHistory(rec storage.RunRecord) {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	s.history = append(s.history, rec)
	if len(s.history) > s.cfg.HistorySize {
		s.history = s.history[len(s.history)-s.cfg.HistorySize:]
	}
}

func (s *Scheduler) persist(rec storage.RunRecord) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := s.store.AppendRun(ctx, rec); err != nil {
		if s.warnLimit.Allow() {
			s.log.Warn("run record not persisted", logx.String("task", rec.Task), logx.Err(err))
		}
	}
}
