// Package mirror drives a group of output lines to the level of one input
// line. It has no knowledge of the GPIO backend; lines are injected through
// the gpio capability interfaces.
package mirror

import (
	"errors"
	"time"

	"github.com/sweeney/amp-switch/internal/gpio"
)

// Setup errors. Initialize wraps the underlying cause with one of these.
var (
	ErrAcquire   = errors.New("acquire lines")
	ErrSync      = errors.New("initial sync")
	ErrSubscribe = errors.New("subscribe to switch edges")
)

// Source supplies the configured line handles during Initialize.
type Source interface {
	Input() (gpio.Input, error)
	Outputs() (gpio.Outputs, error)
}

// State is the controller lifecycle state.
type State int

const (
	StateUninitialized State = iota
	StateSynchronized
	StateActive
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateSynchronized:
		return "SYNCHRONIZED"
	case StateActive:
		return "ACTIVE"
	case StateTerminated:
		return "TERMINATED"
	case StateFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Cause identifies what triggered a reaction.
type Cause string

const (
	CauseSync     Cause = "sync"     // startup sample
	CauseCatchUp  Cause = "catch-up" // re-sample right after subscribing
	CauseEdge     Cause = "edge"
	CauseShutdown Cause = "shutdown" // forced off
)

// Reaction describes one attempt to drive the outputs.
// Skipped is set when the switch read failed and no write was issued.
// Written is set when the write succeeded.
type Reaction struct {
	Time    time.Time
	Cause   Cause
	Level   bool
	Written bool
	Skipped bool
	Err     error
}
