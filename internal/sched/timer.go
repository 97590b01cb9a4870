package sched

import (
	"container/heap"
	"time"
)

// timerLoop is the single timer goroutine. It sleeps until the earliest
// deadline, hands due tasks to the worker queue, and re-evaluates whenever
// schedule() pushes a new entry or shutdown closes stopCh.
func (s *Scheduler) timerLoop() {
	defer s.wg.Done()

	for {
		s.heapMu.Lock()
		if len(s.timerQ) == 0 {
			s.heapMu.Unlock()
			select {
			case <-s.stopCh:
				return
			case <-s.wake:
				continue
			}
		}

		now := time.Now()
		due := s.timerQ[0].at
		if !due.After(now) {
			e := heap.Pop(&s.timerQ).(entry)
			s.heapMu.Unlock()

			// Lazy deletion: stopped handles are dropped here.
			if !e.task.Active() {
				continue
			}
			select {
			case s.runq <- e.task:
			case <-s.stopCh:
				return
			}
			continue
		}
		s.heapMu.Unlock()

		timer := time.NewTimer(due.Sub(now))
		select {
		case <-s.stopCh:
			timer.Stop()
			return
		case <-s.wake:
			// A new entry may be earlier than the one we were sleeping on.
			timer.Stop()
		case <-timer.C:
		}
	}
}
