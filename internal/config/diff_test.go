package config

import (
	"testing"
	"time"

	"taskgate/internal/task"
)

func ext(name string, interval time.Duration, typ string) ExtendedConfig {
	return ExtendedConfig{
		Type: typ,
		Task: task.Config{
			Name: name, Interval: interval,
			SigTolerance: 10, AllowSignal: true,
			ActTolerance: 10, AllowAction: true,
		},
	}
}

func TestDiffCreatesUpdatesRemoves(t *testing.T) {
	t.Parallel()
	old := map[string]ExtendedConfig{
		"A": ext("A", 100*time.Millisecond, task.TypeSensor),
		"B": ext("B", 200*time.Millisecond, task.TypeSensor),
	}
	declared := []ExtendedConfig{
		ext("A", 300*time.Millisecond, task.TypeSensor),   // changed
		ext("C", 150*time.Millisecond, task.TypeActuator), // new
	}

	cs := diff(old, declared)
	if len(cs.create) != 1 || cs.create[0].Task.Name != "C" {
		t.Fatalf("create = %+v", cs.create)
	}
	if len(cs.update) != 1 || cs.update[0].Task.Name != "A" {
		t.Fatalf("update = %+v", cs.update)
	}
	if len(cs.remove) != 1 || cs.remove[0] != "B" {
		t.Fatalf("remove = %+v", cs.remove)
	}
}

func TestDiffIdenticalSetIsNoop(t *testing.T) {
	t.Parallel()
	declared := []ExtendedConfig{ext("A", time.Second, task.TypeSensor)}
	cs := diff(asMap(declared), declared)
	if len(cs.create)+len(cs.update)+len(cs.remove) != 0 {
		t.Fatalf("expected no-op, got %+v", cs)
	}
}

func TestDiffTypeChangeCountsAsUpdate(t *testing.T) {
	t.Parallel()
	old := map[string]ExtendedConfig{"A": ext("A", time.Second, task.TypeSensor)}
	declared := []ExtendedConfig{ext("A", time.Second, task.TypeActuator)}
	cs := diff(old, declared)
	if len(cs.update) != 1 {
		t.Fatalf("type change must count as update: %+v", cs)
	}
}
