// Command heaterd is the diesel heater controller configuration daemon. It
// hosts the persistent configuration store on the flash data volume, follows
// changes other processes make to the stored configuration, and performs a
// factory reset when the boot button is held.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dieselheater/heaterd/internal/button"
	"github.com/dieselheater/heaterd/internal/config"
	"github.com/dieselheater/heaterd/internal/flashfs"
	"github.com/dieselheater/heaterd/internal/identity"
	"github.com/dieselheater/heaterd/internal/provision"
)

const (
	pollInterval     = 250 * time.Millisecond
	factoryResetHold = 10 * time.Second
)

func main() {
	var (
		dataDir = flag.String("data-dir", "", "data directory (default: ~/.local/share/heaterd)")
		debug   = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	// Configure logging
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Resolve data directory
	if *dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			slog.Error("cannot determine home directory", "err", err)
			os.Exit(1)
		}
		*dataDir = filepath.Join(home, ".local", "share", "heaterd")
	}

	// Graceful shutdown context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Flash volume
	fsys := flashfs.NewOS(*dataDir)
	if err := fsys.Mount(); err != nil {
		slog.Error("flash volume mount failed", "dir", *dataDir, "err", err)
		os.Exit(1)
	}

	// External change watcher; the daemon still works without it, it just
	// won't notice writes made by other processes.
	watcher, err := flashfs.NewWatcher(fsys, *dataDir)
	if err != nil {
		slog.Warn("external change watcher unavailable", "err", err)
	} else {
		defer watcher.Close()
	}

	// Configuration store
	store := config.NewStore(fsys, clockwork.NewRealClock())
	defer store.Close()

	deviceID, err := identity.DeviceID(fsys)
	if err != nil {
		slog.Warn("device id unavailable", "err", err)
	}
	slog.Info("heaterd starting",
		"version", identity.Version(fsys),
		"device_id", deviceID,
		"device_name", store.DeviceName(),
		"data_dir", *dataDir,
	)

	// Provisioning state
	prov := provision.New(store, fsys)
	defer prov.Close()
	if prov.IsProvisioned() {
		slog.Info("device provisioned", "ssid", store.SSID())
	} else {
		slog.Info("device not provisioned")
	}

	// Factory reset button (GPIO, linux only)
	var resetButton *button.Watcher
	if pin, err := button.BootButton(); err != nil {
		slog.Warn("factory reset button unavailable", "err", err)
	} else {
		resetButton = button.NewWatcher(pin, factoryResetHold, func() {
			slog.Info("factory reset requested via boot button")
			if err := prov.Reset(); err != nil {
				slog.Error("factory reset failed", "err", err)
			}
		}, nil)
	}

	// Main loop
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down")
			if err := store.Flush(); err != nil {
				slog.Error("final configuration flush failed", "err", err)
			}
			return
		case <-ticker.C:
			store.Poll()
			if resetButton != nil {
				resetButton.Poll()
			}
		}
	}
}
