package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"taskgate/pkg/logx"
)

func openTestStore(t *testing.T) (Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runs.jsonl")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, path
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", "NONE"} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("driver %q: st=%v err=%v", driver, st, err)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestAppendAndPrune(t *testing.T) {
	t.Parallel()
	st, path := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	old := RunRecord{At: now.Add(-48 * time.Hour), Task: "old", Duration: time.Millisecond}
	fresh := RunRecord{At: now, Task: "fresh", Duration: 2 * time.Millisecond, Panicked: true, Error: "panic"}
	if err := st.AppendRun(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := st.AppendRun(ctx, fresh); err != nil {
		t.Fatal(err)
	}
	if got := countLines(t, path); got != 2 {
		t.Fatalf("lines = %d, want 2", got)
	}

	removed, err := st.PruneBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if got := countLines(t, path); got != 1 {
		t.Fatalf("lines after prune = %d, want 1", got)
	}

	// The survivor round-trips intact.
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var rec RunRecord
	if err := json.Unmarshal(b[:len(b)-1], &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Task != "fresh" || !rec.Panicked {
		t.Fatalf("survivor = %+v", rec)
	}
}

func TestAppendAfterPrune(t *testing.T) {
	t.Parallel()
	st, path := openTestStore(t)
	ctx := context.Background()

	if err := st.AppendRun(ctx, RunRecord{At: time.Now(), Task: "a"}); err != nil {
		t.Fatal(err)
	}
	if _, err := st.PruneBefore(ctx, time.Now().Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	// The live handle must follow the compacted file.
	if err := st.AppendRun(ctx, RunRecord{At: time.Now(), Task: "b"}); err != nil {
		t.Fatal(err)
	}
	if got := countLines(t, path); got != 2 {
		t.Fatalf("lines = %d, want 2", got)
	}
}
