// Package identity provides stable device identity for the heater controller.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/google/uuid"

	"github.com/dieselheater/heaterd/internal/flashfs"
)

// DefaultVersion is the fallback version string when metadata.json is not found.
const DefaultVersion = "0.1.0-go"

const (
	idPath       = "/device-id"
	metadataPath = "/metadata.json"
)

// DeviceID returns the device's persistent identifier, generating and storing
// one on first use. The identifier is stable across restarts.
func DeviceID(fsys *flashfs.FlashFS) (string, error) {
	data, err := fsys.Read(idPath)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
		// empty file: fall through and regenerate
	case !errors.Is(err, fs.ErrNotExist):
		return "", fmt.Errorf("identity: read device id: %w", err)
	}

	id := uuid.NewString()
	if err := fsys.Write(idPath, []byte(id+"\n")); err != nil {
		return "", fmt.Errorf("identity: store device id: %w", err)
	}
	return id, nil
}

// Version reads the software version from /metadata.json on the flash volume.
// Falls back to DefaultVersion if the file is missing or unreadable.
func Version(fsys *flashfs.FlashFS) string {
	data, err := fsys.Read(metadataPath)
	if err != nil {
		return DefaultVersion
	}

	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return DefaultVersion
	}
	if v, ok := meta["version"].(string); ok && v != "" {
		return v
	}
	return DefaultVersion
}
