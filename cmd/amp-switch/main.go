// Command amp-switch mirrors a GPIO switch input onto a group of amplifier
// enable outputs and reports activity over MQTT and HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sweeney/amp-switch/internal/config"
	"github.com/sweeney/amp-switch/internal/events"
	"github.com/sweeney/amp-switch/internal/gpio"
	"github.com/sweeney/amp-switch/internal/metrics"
	"github.com/sweeney/amp-switch/internal/mirror"
	"github.com/sweeney/amp-switch/internal/mqtt"
	"github.com/sweeney/amp-switch/internal/status"
	"github.com/sweeney/amp-switch/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const flagPrintState = "print-state"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.WithError(err).Fatal("fatal")
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "amp-switch",
		Short:         "Mirror a GPIO switch onto amplifier enable lines",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.FromFlags(cmd.Flags())
			if err != nil {
				return err
			}
			if err := setupLogging(cfg.Log); err != nil {
				return err
			}
			if printState, _ := cmd.Flags().GetBool(flagPrintState); printState {
				return printSwitch(cmd.OutOrStdout(), cfg, gpio.ReadSwitch)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("config: %w", err)
			}
			return run(cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().Bool(flagPrintState, false, "Print the switch level and exit")
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "amp-switch %s\n", version)
		},
	}
}

func setupLogging(cfg config.LogConfig) error {
	level, err := log.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text", "":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		return fmt.Errorf("log format: unknown value %q", cfg.Format)
	}
	return nil
}

func printSwitch(w io.Writer, cfg config.Config, read func(gpio.ChipConfig) (bool, error)) error {
	if cfg.Switch.Offset < 0 {
		return fmt.Errorf("config: switch.offset: required")
	}
	on, err := read(cfg.ChipConfig())
	if err != nil {
		return fmt.Errorf("read switch: %w", err)
	}
	fmt.Fprintf(w, "switch: %s\n", status.LevelOf(on))
	return nil
}

func run(cfg config.Config) error {
	heartbeat, err := cfg.HeartbeatInterval()
	if err != nil {
		return err
	}

	tracker := status.NewTracker(time.Now(), status.Config{
		Chip:        cfg.Chip,
		Switch:      cfg.Switch.Offset,
		Outputs:     cfg.Outputs.Offsets,
		HeartbeatMs: heartbeat.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPAddr:    cfg.HTTP.Addr,
	})

	// Initialize MQTT
	var publisher interface {
		mqtt.Publisher
		mqtt.ConnectionStatus
	} = mqtt.Nop{}
	if cfg.MQTT.Broker != "" {
		publisher = mqtt.NewRealPublisher(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topics:   mqtt.TopicsFor(cfg.MQTT.Topic),
			OnDrop:   dropped(tracker),
		})
	}
	defer publisher.Close()

	bus := events.New()
	defer bus.Close()
	fw := newForwarder(publisher, publisher, tracker)
	bus.Subscribe(fw.handle)

	ctrl, err := mirror.Initialize(gpio.NewChipSource(cfg.ChipConfig()),
		mirror.WithObserver(metrics.Observe),
		mirror.WithObserver(observe(tracker, bus)),
	)
	if err != nil {
		return fmt.Errorf("init mirror: %w", err)
	}
	tracker.SetState(ctrl.State().String())

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.WithError(err).Warn("failed to publish startup event")
	}

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server error")
			}
		}()
		defer srv.Shutdown(context.Background())
		log.WithField("addr", cfg.HTTP.Addr).Info("http status server listening")
	}

	log.WithFields(log.Fields{
		"chip":      cfg.Chip,
		"switch":    cfg.Switch.Offset,
		"outputs":   cfg.Outputs.Offsets,
		"broker":    cfg.MQTT.Broker,
		"heartbeat": heartbeat,
	}).Info("started")

	var hbTick <-chan time.Time
	if heartbeat > 0 {
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		hbTick = ticker.C
	}

	sd := systemdNotifier{}
	var wdTick <-chan time.Time
	if interval := watchdogInterval(); interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		wdTick = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	notify(sd, daemon.SdNotifyReady)
	return runLoop(ctrl, publisher, publisher, tracker, time.Now, hbTick, wdTick, sigCh, sd, fw.Stopped())
}

// dropped returns the MQTT OnDrop hook feeding metrics and the tracker.
func dropped(tracker *status.Tracker) func(string) {
	return func(topic string) {
		metrics.MQTTDropped(topic)
		tracker.AddMQTTDropped()
	}
}

// observe returns the controller observer that keeps the tracker current
// and hands the reaction to the bus for slower consumers.
func observe(tracker *status.Tracker, bus *events.Bus) func(mirror.Reaction) {
	return func(r mirror.Reaction) {
		e := events.FromReaction(r)
		tracker.Record(e)
		bus.Publish(e)
	}
}

// runLoop serves heartbeats and watchdog pings until a signal arrives, then
// forces the outputs off. drained, when non-nil, is waited on after the off
// write so the forced-off level is published before the bus closes.
func runLoop(ctrl *mirror.Controller, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, now func() time.Time, heartbeat, watchdog <-chan time.Time, sig <-chan os.Signal, sd notifier, drained <-chan struct{}) error {
	for {
		select {
		case s := <-sig:
			log.WithField("signal", s).Info("shutting down")
			notify(sd, daemon.SdNotifyStopping)

			shutdownErr := ctrl.Shutdown()
			if shutdownErr != nil {
				log.WithError(shutdownErr).Error("shutdown")
			}
			waitDrained(drained, drainTimeout)
			tracker.SetState(ctrl.State().String())

			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := tracker.Snapshot()
			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      mqtt.EventShutdown,
				Reason:     signalName,
				Retained:   true,
				RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, signalName),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.WithError(err).Warn("failed to publish shutdown event")
			} else {
				log.Info("published shutdown event")
			}
			return shutdownErr

		case <-heartbeat:
			if mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			snap := tracker.Snapshot()
			log.WithFields(log.Fields{
				"uptime": snap.Uptime().Truncate(time.Second),
				"level":  snap.Level,
				"edges":  snap.Counts.Edges,
			}).Info("heartbeat")

			event := mqtt.SystemEvent{
				Timestamp:  now(),
				Event:      mqtt.EventHeartbeat,
				RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
			}
			if err := publisher.PublishSystem(event); err != nil {
				log.WithError(err).Warn("heartbeat publish error")
			}

		case <-watchdog:
			notify(sd, daemon.SdNotifyWatchdog)
		}
	}
}
