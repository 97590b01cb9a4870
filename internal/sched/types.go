package sched

import (
	"time"

	"taskgate/internal/storage"
	"taskgate/internal/task"
)

// Config controls the scheduler.
type Config struct {
	Workers     int // worker goroutines; default 4
	QueueSize   int // worker queue capacity; default 256
	HistorySize int // in-memory run history cap; default 200
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// entry is one timer-queue element. The heap orders by due time; seq
// breaks ties stably in insertion order.
type entry struct {
	at   time.Time
	seq  uint64
	task *task.Task
}

// timerHeap is a min-heap over due times (container/heap contract).
type timerHeap []entry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) { *h = append(*h, x.(entry)) }

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = entry{}
	*h = old[:n-1]
	return e
}

// TaskEvent is the payload of task.* and run.* bus events.
type TaskEvent struct {
	Name     string
	Started  time.Time
	Duration time.Duration
	Panicked bool
}

// Snapshot is a point-in-time view of the scheduler, for logs and the
// janitor's stats line.
type Snapshot struct {
	Running    bool
	Workers    int
	Tasks      int
	QueueLen   int
	QueueCap   int
	Executions uint64
	Panics     uint64
	History    []storage.RunRecord
}
