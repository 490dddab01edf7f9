// Package button watches the boot button for the factory-reset hold gesture.
package button

import (
	"time"

	"github.com/jonboulle/clockwork"
	"periph.io/x/conn/v3/gpio"
)

// Watcher tracks a momentary push button wired active low (pressed pulls the
// line to ground, as the boot button does on most controller boards). After a
// continuous hold of the configured duration the callback fires once; it will
// not fire again until the button is released.
type Watcher struct {
	pin    gpio.PinIO
	hold   time.Duration
	onHold func()
	clock  clockwork.Clock

	pressed   bool
	fired     bool
	pressedAt time.Time
}

// NewWatcher creates a watcher over the given pin. A nil clock means the real
// clock.
func NewWatcher(pin gpio.PinIO, hold time.Duration, onHold func(), clock clockwork.Clock) *Watcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Watcher{pin: pin, hold: hold, onHold: onHold, clock: clock}
}

// Poll samples the button. Call it periodically from the main loop; the
// sampling interval bounds how precisely the hold duration is honored.
func (w *Watcher) Poll() {
	pressed := w.pin.Read() == gpio.Low
	now := w.clock.Now()

	switch {
	case pressed && !w.pressed:
		w.pressed = true
		w.fired = false
		w.pressedAt = now
	case pressed && !w.fired:
		if now.Sub(w.pressedAt) >= w.hold {
			w.fired = true
			w.onHold()
		}
	case !pressed:
		w.pressed = false
		w.fired = false
	}
}
