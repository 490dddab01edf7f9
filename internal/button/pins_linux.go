//go:build linux

package button

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// bootButtonPin is the boot/factory-reset button input (BCM numbering). The
// firmware used the ESP32 boot button on GPIO0; on the Linux carrier board the
// equivalent input is routed to GPIO17.
const bootButtonPin = "GPIO17"

// BootButton opens the boot button input with its pull-up enabled.
func BootButton() (gpio.PinIO, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("button: gpio host init: %w", err)
	}

	pin := gpioreg.ByName(bootButtonPin)
	if pin == nil {
		return nil, fmt.Errorf("button: failed to open %s", bootButtonPin)
	}
	if err := pin.In(gpio.PullUp, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("button: configure %s as input: %w", bootButtonPin, err)
	}
	return pin, nil
}
