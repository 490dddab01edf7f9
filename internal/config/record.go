// Package config holds the heater controller's persisted settings — the WiFi
// credentials and the device name. The Store keeps them in memory, persists
// them to flash with a debounce and an atomic replace, and follows
// externally-caused changes to the backing file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Path is the canonical location of the configuration file on the flash
// volume. TmpPath is the sibling staging file used by the atomic replace.
const (
	Path    = "/config.json"
	TmpPath = Path + ".tmp"
)

// DefaultDeviceName is used whenever no device name has been configured.
const DefaultDeviceName = "DieselHeaterController"

// ErrMalformed reports a document that could not be parsed at all, as opposed
// to a valid document that simply lacks the known keys.
var ErrMalformed = errors.New("config: malformed document")

// Record is the persisted configuration entity.
type Record struct {
	SSID       string `json:"ssid"`
	Password   string `json:"password"`
	DeviceName string `json:"deviceName"`
}

// DefaultRecord returns the built-in configuration: no credentials, default
// device name.
func DefaultRecord() Record {
	return Record{DeviceName: DefaultDeviceName}
}

// Encode renders the record as a JSON document. All three keys are always
// present; values may be empty strings.
func (r Record) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("config: encode: %w", err)
	}
	return data, nil
}

// Decode merges a JSON document into the record: keys present in the document
// overwrite the corresponding field, keys absent leave it untouched. A
// document that does not parse as a JSON object returns ErrMalformed and
// leaves the record unchanged.
func (r *Record) Decode(data []byte) error {
	var doc struct {
		SSID       *string `json:"ssid"`
		Password   *string `json:"password"`
		DeviceName *string `json:"deviceName"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.SSID != nil {
		r.SSID = *doc.SSID
	}
	if doc.Password != nil {
		r.Password = *doc.Password
	}
	if doc.DeviceName != nil {
		r.DeviceName = *doc.DeviceName
	}
	return nil
}
