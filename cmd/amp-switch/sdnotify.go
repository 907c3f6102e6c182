package main

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/sirupsen/logrus"
)

// notifier sends sd_notify state strings to the service manager.
type notifier interface {
	Notify(state string) error
}

type systemdNotifier struct{}

// Notify is a no-op outside systemd (NOTIFY_SOCKET unset).
func (systemdNotifier) Notify(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

func notify(sd notifier, state string) {
	if sd == nil {
		return
	}
	if err := sd.Notify(state); err != nil {
		log.WithError(err).WithField("state", state).Debug("sd_notify failed")
	}
}

// watchdogInterval returns half the service's WatchdogSec, or zero when the
// watchdog is not enabled for this process.
func watchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		log.WithError(err).Warn("read watchdog settings")
		return 0
	}
	return d / 2
}
