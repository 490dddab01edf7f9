package flashfs

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// selfTouchWindow is how long after one of our own mutations a matching
// fsnotify event is assumed to be its echo rather than an external change.
const selfTouchWindow = 2 * time.Second

// Watcher bridges changes made by other processes — a console `config import`,
// an OTA payload drop, a developer editing the file — onto the FlashFS event
// bus. Changes made through FlashFS itself are recognized by their self-touch
// marks and dropped, so the bus never delivers the same mutation twice.
type Watcher struct {
	fsys *FlashFS
	fw   *fsnotify.Watcher
	dir  string
}

// NewWatcher starts watching the OS directory backing fsys. The caller must
// Close the watcher when done.
func NewWatcher(fsys *FlashFS, dir string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("flashfs: watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("flashfs: watch %s: %w", dir, err)
	}
	w := &Watcher{fsys: fsys, fw: fw, dir: dir}
	go w.run()
	return w, nil
}

// Close stops the watch loop.
func (w *Watcher) Close() error {
	return w.fw.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("flashfs: watch error", "dir", w.dir, "err", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.dir, ev.Name)
	if err != nil {
		return
	}
	p := normalize(filepath.ToSlash(rel))
	if w.fsys.recentlySelfTouched(p, selfTouchWindow) {
		return
	}

	var action Action
	switch {
	case ev.Op&fsnotify.Create != 0:
		action = Created
	case ev.Op&fsnotify.Write != 0:
		action = Updated
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		action = Removed
	default:
		return // chmod etc.
	}

	slog.Debug("flashfs: external change", "path", p, "action", action)
	w.fsys.notify(p, action)
}
