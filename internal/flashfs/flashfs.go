// Package flashfs wraps the controller's flash data volume behind a small
// filesystem abstraction with change notifications. Mutating operations emit
// Created/Updated/Removed events to registered subscribers; dispatch is
// synchronous and runs on the mutating caller's stack, so callbacks must not
// block.
//
// Every path is normalized to begin with "/" before use; "config.json" and
// "/config.json" refer to the same file.
package flashfs

import (
	"fmt"
	"io"
	"os"
	"path"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// Action identifies the kind of change that happened to a file.
type Action uint8

const (
	Created Action = iota // file did not previously exist
	Updated               // existing file overwritten
	Removed               // file removed
)

func (a Action) String() string {
	switch a {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Removed:
		return "removed"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Callback receives file change notifications. It runs synchronously on the
// stack of whatever operation caused the change.
type Callback func(path string, action Action)

// Entry describes one file or directory returned by List.
type Entry struct {
	Name  string
	Size  int64
	IsDir bool
}

type subscriber struct {
	id uint32
	cb Callback
}

// FlashFS is the flash volume abstraction. It owns the mounted-volume handle
// and the subscriber registry; all raw volume operations go through it.
type FlashFS struct {
	mu      sync.Mutex
	fsys    afero.Fs
	mountFn func() error
	mounted bool

	nextSubID uint32
	subs      []subscriber

	// selfTouch records when we last mutated a path, so the external-change
	// watcher can tell our own writes apart from another process's.
	selfTouch map[string]time.Time
}

// New returns a FlashFS over the given backend. Mounting is a no-op; an
// in-memory afero.MemMapFs backend gives a fully functional volume for tests
// and mock operation.
func New(fsys afero.Fs) *FlashFS {
	return NewWithMount(fsys, nil)
}

// NewWithMount returns a FlashFS whose Mount runs the given function once
// until it succeeds. A nil mount function means the volume is always usable.
func NewWithMount(fsys afero.Fs, mount func() error) *FlashFS {
	return &FlashFS{
		fsys:      fsys,
		mountFn:   mount,
		nextSubID: 1,
		selfTouch: make(map[string]time.Time),
	}
}

// NewOS returns a FlashFS rooted at dir on the host filesystem. Mount creates
// the directory if needed.
func NewOS(dir string) *FlashFS {
	base := afero.NewBasePathFs(afero.NewOsFs(), dir)
	return NewWithMount(base, func() error {
		return os.MkdirAll(dir, 0o755)
	})
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}

// Mount makes the volume usable. Idempotent; every operation that needs the
// volume calls it on demand, so an explicit call is only needed to surface
// mount errors early.
func (f *FlashFS) Mount() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mountLocked()
}

func (f *FlashFS) mountLocked() error {
	if f.mounted {
		return nil
	}
	if f.mountFn != nil {
		if err := f.mountFn(); err != nil {
			return fmt.Errorf("flashfs: mount: %w", err)
		}
	}
	f.mounted = true
	return nil
}

func (f *FlashFS) ensureMounted() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mountLocked()
}

// Exists reports whether a file exists at the path. Returns false when the
// volume cannot be mounted.
func (f *FlashFS) Exists(name string) bool {
	p := normalize(name)
	if err := f.ensureMounted(); err != nil {
		return false
	}
	ok, err := afero.Exists(f.fsys, p)
	return err == nil && ok
}

// Read returns the full contents of a file. A missing file reports
// fs.ErrNotExist via the returned error.
func (f *FlashFS) Read(name string) ([]byte, error) {
	p := normalize(name)
	if err := f.ensureMounted(); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fsys, p)
	if err != nil {
		return nil, fmt.Errorf("flashfs: read %s: %w", p, err)
	}
	return data, nil
}

// Write creates or fully overwrites a file. On success it emits Created when
// the path did not exist before the write, Updated otherwise. A short or
// failed write returns an error and emits nothing.
func (f *FlashFS) Write(name string, data []byte) error {
	p := normalize(name)
	if err := f.ensureMounted(); err != nil {
		return err
	}
	existed, err := afero.Exists(f.fsys, p)
	if err != nil {
		return fmt.Errorf("flashfs: stat %s: %w", p, err)
	}

	file, err := f.fsys.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("flashfs: open %s: %w", p, err)
	}
	n, werr := file.Write(data)
	cerr := file.Close()
	if werr == nil && n != len(data) {
		werr = io.ErrShortWrite
	}
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		return fmt.Errorf("flashfs: write %s: %w", p, werr)
	}

	f.markSelf(p)
	action := Created
	if existed {
		action = Updated
	}
	f.notify(p, action)
	return nil
}

// Remove deletes a file. On success it emits Removed; a missing file or I/O
// error returns an error and emits nothing.
func (f *FlashFS) Remove(name string) error {
	p := normalize(name)
	if err := f.ensureMounted(); err != nil {
		return err
	}
	if err := f.fsys.Remove(p); err != nil {
		return fmt.Errorf("flashfs: remove %s: %w", p, err)
	}
	f.markSelf(p)
	f.notify(p, Removed)
	return nil
}

// Rename is the atomic replace primitive: an existing destination is removed,
// then oldname is renamed over it. It deliberately emits no event — callers
// performing a replace (the config store's persist) notify, or suppress,
// on their own terms. Both paths are still marked as self-touched so the
// external-change watcher does not relay them.
func (f *FlashFS) Rename(oldname, newname string) error {
	op, np := normalize(oldname), normalize(newname)
	if err := f.ensureMounted(); err != nil {
		return err
	}
	if ok, err := afero.Exists(f.fsys, np); err == nil && ok {
		if err := f.fsys.Remove(np); err != nil {
			return fmt.Errorf("flashfs: replace %s: %w", np, err)
		}
		f.markSelf(np)
	}
	if err := f.fsys.Rename(op, np); err != nil {
		return fmt.Errorf("flashfs: rename %s -> %s: %w", op, np, err)
	}
	f.markSelf(op)
	f.markSelf(np)
	return nil
}

// List returns the entries of a directory.
func (f *FlashFS) List(dir string) ([]Entry, error) {
	p := normalize(dir)
	if err := f.ensureMounted(); err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(f.fsys, p)
	if err != nil {
		return nil, fmt.Errorf("flashfs: list %s: %w", p, err)
	}
	entries := make([]Entry, 0, len(infos))
	for _, info := range infos {
		entries = append(entries, Entry{
			Name:  info.Name(),
			Size:  info.Size(),
			IsDir: info.IsDir(),
		})
	}
	return entries, nil
}

// Subscribe registers a callback for file change events and returns its
// handle. Handles are unique among active registrations and never zero, even
// after the internal counter wraps around.
func (f *FlashFS) Subscribe(cb Callback) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	var id uint32
	for {
		id = f.nextSubID
		f.nextSubID++
		if f.nextSubID == 0 { // wrapped
			f.nextSubID = 1
		}
		if id != 0 && !f.hasSubLocked(id) {
			break
		}
	}
	f.subs = append(f.subs, subscriber{id: id, cb: cb})
	return id
}

// Unsubscribe removes a registration. Returns false if the handle is unknown.
func (f *FlashFS) Unsubscribe(id uint32) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return true
		}
	}
	return false
}

func (f *FlashFS) hasSubLocked(id uint32) bool {
	for _, s := range f.subs {
		if s.id == id {
			return true
		}
	}
	return false
}

// notify delivers an event to all subscribers in registration order. The
// callback list is snapshotted under the lock first, so a callback that
// subscribes or unsubscribes during dispatch cannot corrupt iteration or
// cause double delivery.
func (f *FlashFS) notify(path string, action Action) {
	f.mu.Lock()
	cbs := make([]Callback, len(f.subs))
	for i, s := range f.subs {
		cbs[i] = s.cb
	}
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(path, action)
	}
}

func (f *FlashFS) markSelf(path string) {
	now := time.Now()
	f.mu.Lock()
	for p, t := range f.selfTouch {
		if now.Sub(t) > time.Minute {
			delete(f.selfTouch, p)
		}
	}
	f.selfTouch[path] = now
	f.mu.Unlock()
}

func (f *FlashFS) recentlySelfTouched(path string, window time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.selfTouch[path]
	return ok && time.Since(t) <= window
}
