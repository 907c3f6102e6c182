// Package gpio provides the line capabilities the mirror core is built on.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

import "errors"

// ErrUnsupported is returned when line acquisition is attempted on a
// platform without a GPIO character device.
var ErrUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// Input is the single sensing line.
type Input interface {
	// Level returns the current logical level, read from the line on every call.
	Level() (bool, error)

	// Subscribe enables both-edge notification. fn is called once per
	// notified transition and may be called concurrently with itself.
	Subscribe(fn func()) (Subscription, error)

	// Close releases the line.
	Close() error
}

// Subscription is an active edge subscription on an Input.
type Subscription interface {
	// Cancel stops notification. No new call to the subscribed function
	// starts after Cancel returns; a call already running may still finish.
	Cancel() error
}

// Outputs is an ordered group of driven lines written as one batch.
type Outputs interface {
	// Len returns the number of lines in the group.
	Len() int

	// WriteAll sets every line in one request. values has one entry
	// per line, 0 or 1, and is not retained.
	WriteAll(values []int) error

	// Levels reads back the logical level of every line.
	Levels() ([]bool, error)

	// Close releases the group.
	Close() error
}

// Bias values accepted for the switch line.
const (
	BiasAsIs     = ""
	BiasPullUp   = "pull-up"
	BiasPullDown = "pull-down"
	BiasDisabled = "disable"
)

// ValidBias reports whether b is a recognised bias setting.
func ValidBias(b string) bool {
	switch b {
	case BiasAsIs, BiasPullUp, BiasPullDown, BiasDisabled:
		return true
	}
	return false
}

// ChipConfig describes where the switch and output lines live.
type ChipConfig struct {
	Chip     string // e.g. "gpiochip0"
	Consumer string // label shown by gpioinfo

	Switch          int
	SwitchActiveLow bool
	SwitchBias      string

	Outputs          []int
	OutputsActiveLow bool
}

// ChipSource acquires lines described by a ChipConfig.
type ChipSource struct {
	cfg ChipConfig
}

// NewChipSource creates a source for the given configuration. Nothing is
// requested from the kernel until Input or Outputs is called.
func NewChipSource(cfg ChipConfig) *ChipSource {
	return &ChipSource{cfg: cfg}
}
