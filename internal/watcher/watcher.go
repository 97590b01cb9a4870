// Package watcher notices changes to a single file. The primary mechanism
// is mtime polling; when the platform supports it, an fsnotify watch on
// the parent directory shortens the reaction time. Both paths funnel into
// one mtime guard, so duplicate events collapse and a missing file never
// fires the callback.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"taskgate/pkg/logx"
)

type Watcher struct {
	path     string
	onChange func()
	poll     time.Duration
	log      logx.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
	fsw     *fsnotify.Watcher

	// lastMod is the change guard shared by both loops.
	// The zero time is the "absent" sentinel.
	modMu   sync.Mutex
	lastMod time.Time
}

// New builds a watcher for path. callback runs on the watcher goroutine,
// so it must be quick; the reconciler only flips a pending flag in it.
func New(path string, callback func(), pollInterval time.Duration, log logx.Logger) *Watcher {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Watcher{path: path, onChange: callback, poll: pollInterval, log: log}
}

// Start snapshots the current mtime and spawns the polling loop. An
// fsnotify watch is attached best-effort; failure to attach is logged
// and polling carries on alone.
func (w *Watcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		w.log.Warn("already running", logx.String("path", w.path))
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})

	w.modMu.Lock()
	w.lastMod = w.modTime()
	w.modMu.Unlock()

	w.wg.Add(1)
	go w.pollLoop()

	if fsw, err := fsnotify.NewWatcher(); err == nil {
		if err := fsw.Add(filepath.Dir(w.path)); err == nil {
			w.fsw = fsw
			w.wg.Add(1)
			go w.notifyLoop(fsw)
		} else {
			_ = fsw.Close()
			w.log.Debug("fsnotify add failed; polling only", logx.Err(err))
		}
	} else {
		w.log.Debug("fsnotify init failed; polling only", logx.Err(err))
	}

	w.log.Info("watching", logx.String("path", w.path), logx.Duration("poll", w.poll))
}

// Stop is idempotent: it signals the loops and joins them.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stopCh)
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
	w.log.Info("stopped watching", logx.String("path", w.path))
}

func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Watcher) pollLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// notifyLoop reacts to fsnotify events for the watched basename. A broken
// watcher just ends this loop; polling remains as the fallback.
func (w *Watcher) notifyLoop(fsw *fsnotify.Watcher) {
	defer w.wg.Done()
	base := filepath.Base(w.path)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			// Compare by basename: editors rename/replace through temp files.
			if strings.EqualFold(filepath.Base(ev.Name), base) {
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					w.check()
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.log.Debug("fsnotify error", logx.Err(err))
			}
		}
	}
}

// check fires the callback when the mtime moved and the file exists.
// A file reappearing after deletion fires exactly once.
func (w *Watcher) check() {
	cur := w.modTime()

	w.modMu.Lock()
	changed := !cur.Equal(w.lastMod) && !cur.IsZero()
	if changed {
		w.lastMod = cur
	}
	w.modMu.Unlock()

	if changed {
		w.log.Debug("file change detected", logx.String("path", w.path))
		w.onChange()
	}
}

// modTime returns the file's mtime, or the zero time when the file is
// absent or unreadable. IO errors are tolerated; polling continues.
func (w *Watcher) modTime() time.Time {
	fi, err := os.Stat(w.path)
	if err != nil {
		return time.Time{}
	}
	return fi.ModTime()
}
