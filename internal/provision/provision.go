// Package provision derives the controller's provisioned state from the
// stored configuration and drives factory reset. The device counts as
// provisioned exactly when a network SSID has been stored.
package provision

import (
	"log/slog"

	"github.com/dieselheater/heaterd/internal/config"
	"github.com/dieselheater/heaterd/internal/flashfs"
)

// Service watches the configuration for provisioning-relevant changes.
type Service struct {
	store *config.Store
	fsys  *flashfs.FlashFS
	subID uint32
}

// New subscribes to the flash event bus so provisioned-state transitions are
// visible in the logs. Call Close at teardown.
func New(store *config.Store, fsys *flashfs.FlashFS) *Service {
	s := &Service{store: store, fsys: fsys}
	s.subID = fsys.Subscribe(s.onFileEvent)
	return s
}

// Close unsubscribes the service from the file event bus.
func (s *Service) Close() {
	if s.subID != 0 {
		s.fsys.Unsubscribe(s.subID)
		s.subID = 0
	}
}

// IsProvisioned reports whether WiFi credentials have been stored.
func (s *Service) IsProvisioned() bool {
	return s.store.SSID() != ""
}

// Provision stores the credentials and persists them immediately. An empty
// device name keeps the current one.
func (s *Service) Provision(ssid, password, deviceName string) error {
	s.store.SetSSID(ssid)
	s.store.SetPassword(password)
	if deviceName != "" {
		s.store.SetDeviceName(deviceName)
	}
	return s.store.Flush()
}

// Reset performs a factory reset by removing the configuration file. The
// Removed event restores the store's defaults, so the device reports
// unprovisioned immediately. Resetting an already-reset device is a no-op.
func (s *Service) Reset() error {
	if !s.fsys.Exists(config.Path) {
		return nil
	}
	slog.Info("provision: factory reset, removing stored configuration")
	return s.fsys.Remove(config.Path)
}

func (s *Service) onFileEvent(path string, action flashfs.Action) {
	if path != config.Path {
		return
	}
	// The store's own subscription was registered first, so by the time this
	// runs the record already reflects the change.
	slog.Debug("provision: configuration changed",
		"action", action,
		"provisioned", s.IsProvisioned(),
	)
}
