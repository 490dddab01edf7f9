package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/dieselheater/heaterd/internal/flashfs"
)

// debounceInterval is how long after the last setter call a persist waits, so
// a burst of changes coalesces into a single flash write.
const debounceInterval = 2 * time.Second

// Store mediates all reads and writes of the configuration record. Setters
// only touch memory and mark the store dirty; Poll flushes pending changes to
// flash once the debounce window has elapsed. The store subscribes to the
// flash event bus and reloads when another component changes the backing
// file; its own persist is recognized and ignored via the suppress flag.
//
// The mutex guards the record, dirty state, and suppress flag. It is never
// held across filesystem I/O, and getters return copies, so no caller ever
// observes a partially updated record.
type Store struct {
	fsys  *flashfs.FlashFS
	clock clockwork.Clock

	mu         sync.Mutex
	record     Record
	dirty      bool
	lastChange time.Time
	suppress   bool // raised while our own persist is in flight

	subID    uint32
	failWarn *rate.Limiter
}

// NewStore loads the record from flash and subscribes to the file event bus.
// A missing, empty, or malformed configuration file keeps the built-in
// defaults; construction never fails. A nil clock means the real clock.
func NewStore(fsys *flashfs.FlashFS, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Store{
		fsys:     fsys,
		clock:    clock,
		record:   DefaultRecord(),
		failWarn: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
	s.reload()
	s.subID = fsys.Subscribe(s.onFileEvent)
	return s
}

// Close unsubscribes the store from the file event bus.
func (s *Store) Close() {
	if s.subID != 0 {
		s.fsys.Unsubscribe(s.subID)
		s.subID = 0
	}
}

// SSID returns a copy of the stored network SSID.
func (s *Store) SSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.SSID
}

// Password returns a copy of the stored network password.
func (s *Store) Password() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Password
}

// DeviceName returns a copy of the stored device name.
func (s *Store) DeviceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.DeviceName
}

// Snapshot returns a copy of the whole record.
func (s *Store) Snapshot() Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record
}

// Dirty reports whether a persist is owed.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// SetSSID updates the network SSID in memory and marks the store dirty.
func (s *Store) SetSSID(v string) {
	s.set(func(r *Record) { r.SSID = v })
}

// SetPassword updates the network password in memory and marks the store dirty.
func (s *Store) SetPassword(v string) {
	s.set(func(r *Record) { r.Password = v })
}

// SetDeviceName updates the device name in memory and marks the store dirty.
// An empty name falls back to DefaultDeviceName; the device name is never
// empty.
func (s *Store) SetDeviceName(v string) {
	if v == "" {
		v = DefaultDeviceName
	}
	s.set(func(r *Record) { r.DeviceName = v })
}

func (s *Store) set(mutate func(*Record)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&s.record)
	s.dirty = true
	s.lastChange = s.clock.Now()
}

// Poll flushes a pending change once the debounce window has elapsed. Call it
// periodically from the main loop. A failed persist leaves the dirty flag
// set, so the next poll retries; only the log line is rate-limited.
func (s *Store) Poll() {
	s.mu.Lock()
	due := s.dirty && s.clock.Since(s.lastChange) >= debounceInterval
	s.mu.Unlock()
	if !due {
		return
	}
	if err := s.persist(); err != nil && s.failWarn.Allow() {
		slog.Warn("config: persist failed, will retry", "path", Path, "err", err)
	}
}

// Flush writes any pending change immediately, bypassing the debounce wait.
// Returns nil when nothing is pending.
func (s *Store) Flush() error {
	s.mu.Lock()
	dirty := s.dirty
	s.mu.Unlock()
	if !dirty {
		return nil
	}
	return s.persist()
}

// persist snapshots the record and performs the atomic replace: write the
// snapshot to TmpPath, then rename it over Path. A reader or subscriber can
// never observe a half-written canonical file. The suppress flag is raised
// around the write so the store does not react to its own change events.
func (s *Store) persist() error {
	s.mu.Lock()
	data, err := s.record.Encode()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.suppress = true
	s.mu.Unlock()

	err = s.writeAtomic(data)

	s.mu.Lock()
	s.suppress = false
	if err == nil {
		s.dirty = false
		s.lastChange = time.Time{}
	}
	s.mu.Unlock()
	return err
}

func (s *Store) writeAtomic(data []byte) error {
	if err := s.fsys.Mount(); err != nil {
		return err
	}
	if err := s.fsys.Write(TmpPath, data); err != nil {
		if s.fsys.Exists(TmpPath) {
			_ = s.fsys.Remove(TmpPath)
		}
		return err
	}
	return s.fsys.Rename(TmpPath, Path)
}

// reload reads the canonical file into memory. A missing or empty file, or a
// malformed document, leaves the record untouched; fields absent from a valid
// document keep their current in-memory values. On success the dirty state is
// cleared — disk is now authoritative.
func (s *Store) reload() {
	data, err := s.fsys.Read(Path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("config: read failed, keeping current values", "path", Path, "err", err)
		}
		return
	}
	if len(data) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := s.record
	if err := rec.Decode(data); err != nil {
		slog.Warn("config: corrupt document ignored", "path", Path, "err", err)
		return
	}
	if rec.DeviceName == "" {
		rec.DeviceName = DefaultDeviceName
	}
	s.record = rec
	s.dirty = false
	s.lastChange = time.Time{}
}

// onFileEvent is the flash event bus callback. Events for other paths are
// ignored, as is everything while our own persist is in flight. An external
// create or update triggers a reload; an external removal is an authoritative
// factory signal and resets the record to defaults.
func (s *Store) onFileEvent(path string, action flashfs.Action) {
	if path != Path {
		return
	}
	s.mu.Lock()
	suppressed := s.suppress
	s.mu.Unlock()
	if suppressed {
		return
	}

	switch action {
	case flashfs.Created, flashfs.Updated:
		slog.Debug("config: backing file changed, reloading", "path", Path, "action", action)
		s.reload()
	case flashfs.Removed:
		s.mu.Lock()
		s.record = DefaultRecord()
		s.dirty = false
		s.lastChange = time.Time{}
		s.mu.Unlock()
		slog.Info("config: backing file removed, reset to defaults", "path", Path)
	}
}
