// Package status provides a thread-safe status tracker for the amp-switch daemon.
// It is fed by the controller observer and the MQTT publisher, and read by
// HTTP handlers and MQTT status events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/amp-switch/internal/events"
)

// Level is the display form of a line level.
type Level string

const (
	LevelOn      Level = "ON"
	LevelOff     Level = "OFF"
	LevelUnknown Level = "UNKNOWN"
)

// LevelOf converts a boolean level.
func LevelOf(on bool) Level {
	if on {
		return LevelOn
	}
	return LevelOff
}

// Config contains daemon configuration for display.
type Config struct {
	Chip        string
	Switch      int
	Outputs     []int
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Counts tracks controller activity since startup.
type Counts struct {
	Edges       int // edge reactions that reached the outputs
	ReadErrors  int
	WriteErrors int
	MQTTDropped int // messages the broker will never see
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Level         Level
	State         string
	Counts        Counts
	LastChange    time.Time
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Level:     LevelUnknown,
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Record applies one controller reaction.
func (t *Tracker) Record(e events.LevelEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case e.Written:
		lvl := LevelOf(e.Level)
		if lvl != t.snap.Level {
			t.snap.LastChange = e.Timestamp
		}
		t.snap.Level = lvl
		if e.Cause == "edge" {
			t.snap.Counts.Edges++
		}
	case e.Skipped:
		t.snap.Counts.ReadErrors++
	case e.Err != "":
		t.snap.Counts.WriteErrors++
	}
}

// SetState sets the controller lifecycle state.
func (t *Tracker) SetState(state string) {
	t.mu.Lock()
	t.snap.State = state
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// AddMQTTDropped counts one MQTT message lost while the broker was
// unreachable.
func (t *Tracker) AddMQTTDropped() {
	t.mu.Lock()
	t.snap.Counts.MQTTDropped++
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
