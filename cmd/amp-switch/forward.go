package main

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/amp-switch/internal/events"
	"github.com/sweeney/amp-switch/internal/mirror"
	"github.com/sweeney/amp-switch/internal/mqtt"
	"github.com/sweeney/amp-switch/internal/status"
)

// drainTimeout bounds how long shutdown waits for the forced-off level to
// reach the publisher before the bus is closed.
const drainTimeout = 2 * time.Second

// forwarder is the bus subscriber that publishes written levels over MQTT.
// The controller emits the shutdown reaction last, so once the forwarder has
// handled it every earlier level has been handed to the publisher too.
type forwarder struct {
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker

	once    sync.Once
	stopped chan struct{}
}

func newForwarder(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker) *forwarder {
	return &forwarder{
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		stopped:    make(chan struct{}),
	}
}

func (f *forwarder) handle(e events.LevelEvent) {
	if e.Written {
		if err := f.publisher.Publish(e); err != nil {
			log.WithError(err).WithField("cause", e.Cause).Warn("publish error")
		}
	}
	if f.mqttStatus != nil {
		f.tracker.SetMQTTConnected(f.mqttStatus.IsConnected())
	}
	if e.Cause == string(mirror.CauseShutdown) {
		f.once.Do(func() { close(f.stopped) })
	}
}

// Stopped is closed after the shutdown level has been handled.
func (f *forwarder) Stopped() <-chan struct{} {
	return f.stopped
}

// waitDrained blocks until drained is closed or the timeout passes. A nil
// channel returns at once.
func waitDrained(drained <-chan struct{}, timeout time.Duration) {
	if drained == nil {
		return
	}
	select {
	case <-drained:
	case <-time.After(timeout):
		log.WithField("timeout", timeout).Warn("shutdown level not forwarded before timeout")
	}
}
