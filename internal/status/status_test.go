package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/amp-switch/internal/events"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNewTracker(t *testing.T) {
	cfg := Config{Chip: "gpiochip0", Switch: 11, Outputs: []int{12, 13}, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"}
	tr := NewTracker(t0, cfg)

	snap := tr.Snapshot()
	if !snap.StartTime.Equal(t0) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, t0)
	}
	if snap.Level != LevelUnknown {
		t.Errorf("Level: got %q, want UNKNOWN", snap.Level)
	}
	if snap.Config.Switch != 11 || len(snap.Config.Outputs) != 2 {
		t.Errorf("Config: got %+v", snap.Config)
	}
	if snap.Now.IsZero() {
		t.Error("Now should be set by Snapshot")
	}
}

func TestRecordWritten(t *testing.T) {
	tr := NewTracker(t0, Config{})

	tr.Record(events.LevelEvent{Timestamp: t0, Level: false, Cause: "sync", Written: true})
	snap := tr.Snapshot()
	if snap.Level != LevelOff {
		t.Errorf("after sync: got %q, want OFF", snap.Level)
	}
	if snap.Counts.Edges != 0 {
		t.Errorf("sync counted as edge: %d", snap.Counts.Edges)
	}
	if !snap.LastChange.Equal(t0) {
		t.Errorf("LastChange: got %v, want %v", snap.LastChange, t0)
	}

	at := t0.Add(time.Minute)
	tr.Record(events.LevelEvent{Timestamp: at, Level: true, Cause: "edge", Written: true})
	snap = tr.Snapshot()
	if snap.Level != LevelOn {
		t.Errorf("after edge: got %q, want ON", snap.Level)
	}
	if snap.Counts.Edges != 1 {
		t.Errorf("Edges: got %d, want 1", snap.Counts.Edges)
	}
	if !snap.LastChange.Equal(at) {
		t.Errorf("LastChange: got %v, want %v", snap.LastChange, at)
	}
}

func TestRecordSameLevelKeepsLastChange(t *testing.T) {
	tr := NewTracker(t0, Config{})
	tr.Record(events.LevelEvent{Timestamp: t0, Level: true, Cause: "edge", Written: true})
	tr.Record(events.LevelEvent{Timestamp: t0.Add(time.Hour), Level: true, Cause: "edge", Written: true})

	snap := tr.Snapshot()
	if !snap.LastChange.Equal(t0) {
		t.Errorf("LastChange moved on a repeat level: %v", snap.LastChange)
	}
	if snap.Counts.Edges != 2 {
		t.Errorf("Edges: got %d, want 2", snap.Counts.Edges)
	}
}

func TestRecordErrors(t *testing.T) {
	tr := NewTracker(t0, Config{})
	tr.Record(events.LevelEvent{Timestamp: t0, Level: true, Cause: "sync", Written: true})

	tr.Record(events.LevelEvent{Timestamp: t0, Cause: "edge", Skipped: true, Err: "read failed"})
	tr.Record(events.LevelEvent{Timestamp: t0, Level: false, Cause: "edge", Err: "write failed"})
	tr.Record(events.LevelEvent{Timestamp: t0, Level: false, Cause: "edge", Err: "write failed"})

	snap := tr.Snapshot()
	if snap.Counts.ReadErrors != 1 {
		t.Errorf("ReadErrors: got %d, want 1", snap.Counts.ReadErrors)
	}
	if snap.Counts.WriteErrors != 2 {
		t.Errorf("WriteErrors: got %d, want 2", snap.Counts.WriteErrors)
	}
	// Failed reactions never change the displayed level
	if snap.Level != LevelOn {
		t.Errorf("Level: got %q, want ON", snap.Level)
	}
	if snap.Counts.Edges != 0 {
		t.Errorf("Edges: got %d, want 0", snap.Counts.Edges)
	}
}

func TestSetStateAndMQTT(t *testing.T) {
	tr := NewTracker(t0, Config{})
	tr.SetState("ACTIVE")
	tr.SetMQTTConnected(true)

	snap := tr.Snapshot()
	if snap.State != "ACTIVE" {
		t.Errorf("State: got %q, want ACTIVE", snap.State)
	}
	if !snap.MQTTConnected {
		t.Error("expected MQTTConnected=true")
	}
}

func TestAddMQTTDropped(t *testing.T) {
	tr := NewTracker(t0, Config{})
	tr.AddMQTTDropped()
	tr.AddMQTTDropped()

	if got := tr.Snapshot().Counts.MQTTDropped; got != 2 {
		t.Errorf("MQTTDropped: got %d, want 2", got)
	}
	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(tr.Snapshot()), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Counts.MQTTDropped != 2 {
		t.Errorf("mqtt_dropped: got %d, want 2", parsed.Status.Counts.MQTTDropped)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewTracker(t0, Config{})
	snap := tr.Snapshot()
	tr.Record(events.LevelEvent{Timestamp: t0, Level: true, Cause: "edge", Written: true})

	if snap.Level != LevelUnknown {
		t.Errorf("earlier snapshot changed: %q", snap.Level)
	}
}

func TestUptime(t *testing.T) {
	snap := Snapshot{StartTime: t0, Now: t0.Add(90 * time.Second)}
	if snap.Uptime() != 90*time.Second {
		t.Errorf("Uptime: got %v, want 90s", snap.Uptime())
	}
}

func TestFormatJSON(t *testing.T) {
	snap := Snapshot{
		Level:         LevelOn,
		State:         "ACTIVE",
		Counts:        Counts{Edges: 5, WriteErrors: 1},
		LastChange:    t0.Add(time.Minute),
		StartTime:     t0,
		Now:           t0.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{Chip: "gpiochip0", Switch: 11, Outputs: []int{12, 13}, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	s := parsed.Status
	if s.Switch != "ON" {
		t.Errorf("Switch: got %q, want ON", s.Switch)
	}
	if s.State != "ACTIVE" || !s.Ready {
		t.Errorf("State/Ready: got %q/%v", s.State, s.Ready)
	}
	if s.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", s.UptimeSeconds)
	}
	if s.LastChange != "2026-01-01T00:01:00Z" {
		t.Errorf("LastChange: got %q", s.LastChange)
	}
	if !s.MQTT.Connected || s.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("MQTT: got %+v", s.MQTT)
	}
	if s.Counts.Edges != 5 || s.Counts.WriteErrors != 1 {
		t.Errorf("Counts: got %+v", s.Counts)
	}
	if len(s.Config.Outputs) != 2 || s.Config.Outputs[1] != 13 {
		t.Errorf("Config.Outputs: got %v", s.Config.Outputs)
	}
	if s.Event != "" || s.Reason != "" {
		t.Errorf("web format should omit event/reason, got %q/%q", s.Event, s.Reason)
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	snap := Snapshot{StartTime: t0, Now: t0.Add(time.Second)}

	var raw map[string]interface{}
	if err := json.Unmarshal(FormatJSON(snap), &raw); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	status := raw["status"].(map[string]interface{})
	if status["switch"] != "UNKNOWN" {
		t.Errorf("switch: got %v, want UNKNOWN", status["switch"])
	}
	if status["state"] != "UNINITIALIZED" {
		t.Errorf("state: got %v, want UNINITIALIZED", status["state"])
	}
	if status["ready"] != false {
		t.Errorf("ready: got %v, want false", status["ready"])
	}
	if _, ok := status["last_change"]; ok {
		t.Error("last_change should be omitted before the first write")
	}
	cfg := status["config"].(map[string]interface{})
	if outs, ok := cfg["outputs"].([]interface{}); !ok || len(outs) != 0 {
		t.Errorf("config.outputs: got %v, want []", cfg["outputs"])
	}
}

func TestFormatStatusEvent(t *testing.T) {
	snap := Snapshot{
		Level:     LevelOff,
		State:     "ACTIVE",
		StartTime: t0,
		Now:       t0.Add(15 * time.Minute),
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "HEARTBEAT", ""), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "HEARTBEAT" {
		t.Errorf("Event: got %q, want HEARTBEAT", parsed.Status.Event)
	}
	if parsed.Status.Switch != "OFF" {
		t.Errorf("Switch: got %q, want OFF", parsed.Status.Switch)
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
}

func TestFormatStatusEventShutdown(t *testing.T) {
	snap := Snapshot{Level: LevelOff, State: "TERMINATED", StartTime: t0, Now: t0.Add(30 * time.Minute)}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM"), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Event/Reason: got %q/%q", parsed.Status.Event, parsed.Status.Reason)
	}
	if parsed.Status.Ready {
		t.Error("terminated controller should not be ready")
	}
}

func TestFormatStatusEventOmitsReasonWhenEmpty(t *testing.T) {
	snap := Snapshot{StartTime: t0, Now: t0.Add(time.Second)}

	var raw map[string]interface{}
	json.Unmarshal(FormatStatusEvent(snap, "STARTUP", ""), &raw)
	status := raw["status"].(map[string]interface{})
	if _, exists := status["reason"]; exists {
		t.Error("reason should be omitted when empty")
	}
	if status["event"] != "STARTUP" {
		t.Errorf("event: got %v, want STARTUP", status["event"])
	}
}

func TestConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			tr.Record(events.LevelEvent{Timestamp: time.Now(), Level: i%2 == 0, Cause: "edge", Written: true})
			tr.SetMQTTConnected(i%2 == 0)
			tr.SetState("ACTIVE")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			snap := tr.Snapshot()
			_ = snap.Uptime()
		}
	}()

	wg.Wait()

	if got := tr.Snapshot().Counts.Edges; got != 1000 {
		t.Errorf("Edges: got %d, want 1000", got)
	}
}
