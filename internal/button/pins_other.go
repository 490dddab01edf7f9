//go:build !linux

package button

import (
	"errors"

	"periph.io/x/conn/v3/gpio"
)

// BootButton is unavailable off-device; the daemon runs without the
// factory-reset gesture.
func BootButton() (gpio.PinIO, error) {
	return nil, errors.New("button: gpio not supported on this platform")
}
