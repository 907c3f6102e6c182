package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string     `json:"event,omitempty"`
	Reason        string     `json:"reason,omitempty"`
	Switch        string     `json:"switch"`
	State         string     `json:"state"`
	Ready         bool       `json:"ready"`
	LastChange    string     `json:"last_change,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"counts"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of controller counts.
type CountsJSON struct {
	Edges       int `json:"edges"`
	ReadErrors  int `json:"read_errors"`
	WriteErrors int `json:"write_errors"`
	MQTTDropped int `json:"mqtt_dropped"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip        string `json:"chip"`
	Switch      int    `json:"switch"`
	Outputs     []int  `json:"outputs"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	lvl := string(snap.Level)
	if lvl == "" {
		lvl = string(LevelUnknown)
	}
	state := snap.State
	if state == "" {
		state = "UNINITIALIZED"
	}
	outputs := snap.Config.Outputs
	if outputs == nil {
		outputs = []int{}
	}

	inner := StatusInner{
		Switch:        lvl,
		State:         state,
		Ready:         state == "ACTIVE",
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Edges:       snap.Counts.Edges,
			ReadErrors:  snap.Counts.ReadErrors,
			WriteErrors: snap.Counts.WriteErrors,
			MQTTDropped: snap.Counts.MQTTDropped,
		},
		Config: ConfigJSON{
			Chip:        snap.Config.Chip,
			Switch:      snap.Config.Switch,
			Outputs:     outputs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if !snap.LastChange.IsZero() {
		inner.LastChange = snap.LastChange.UTC().Format(time.RFC3339)
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
