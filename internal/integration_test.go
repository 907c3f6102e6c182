package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sweeney/amp-switch/internal/events"
	"github.com/sweeney/amp-switch/internal/gpio"
	"github.com/sweeney/amp-switch/internal/metrics"
	"github.com/sweeney/amp-switch/internal/mirror"
	"github.com/sweeney/amp-switch/internal/mqtt"
	"github.com/sweeney/amp-switch/internal/status"
	"github.com/sweeney/amp-switch/internal/web"
)

// pipeline wires the controller to the tracker, metrics and a fake MQTT
// publisher the same way the daemon does.
type pipeline struct {
	src     *gpio.FakeSource
	ctrl    *mirror.Controller
	bus     *events.Bus
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
}

func newPipeline(t *testing.T, src *gpio.FakeSource) (*pipeline, error) {
	t.Helper()
	p := &pipeline{
		src:     src,
		bus:     events.New(),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{Switch: 17, Outputs: []int{22, 23}}),
	}
	t.Cleanup(func() { p.bus.Close() })

	p.bus.Subscribe(func(e events.LevelEvent) {
		if e.Written {
			p.pub.Publish(e)
		}
	})

	ctrl, err := mirror.Initialize(src,
		mirror.WithObserver(metrics.Observe),
		mirror.WithObserver(func(r mirror.Reaction) {
			e := events.FromReaction(r)
			p.tracker.Record(e)
			p.bus.Publish(e)
		}),
	)
	if err != nil {
		return p, err
	}
	p.ctrl = ctrl
	p.tracker.SetState(ctrl.State().String())
	return p, nil
}

func mustPipeline(t *testing.T, level bool, n int) *pipeline {
	t.Helper()
	p, err := newPipeline(t, gpio.NewFakeSource(level, n))
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return p
}

// waitPublished waits until the publisher has recorded n level changes.
func (p *pipeline) waitPublished(t *testing.T, n int) []events.LevelEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := p.pub.LevelEvents(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d published events, have %d", n, len(p.pub.LevelEvents()))
	return nil
}

func (p *pipeline) outputs(t *testing.T) []bool {
	t.Helper()
	levels, err := p.src.Out.Levels()
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	return levels
}

func expectAll(t *testing.T, levels []bool, want bool) {
	t.Helper()
	for i, l := range levels {
		if l != want {
			t.Errorf("output %d: got %v, want %v", i, l, want)
		}
	}
}

// Input low at startup with two outputs: both are driven low.
func TestIntegrationStartupLow(t *testing.T) {
	p := mustPipeline(t, false, 2)

	expectAll(t, p.outputs(t), false)
	if p.src.Out.WriteCount() != 1 {
		t.Errorf("WriteCount: got %d, want 1 (sync only)", p.src.Out.WriteCount())
	}

	got := p.waitPublished(t, 1)
	if got[0].Cause != "sync" || got[0].Level {
		t.Errorf("sync event: got %+v", got[0])
	}
	snap := p.tracker.Snapshot()
	if snap.Level != status.LevelOff || snap.State != "ACTIVE" {
		t.Errorf("tracker: level=%q state=%q", snap.Level, snap.State)
	}
}

// A low to high transition drives every output high and is published.
func TestIntegrationRisingEdge(t *testing.T) {
	p := mustPipeline(t, false, 2)

	p.src.In.Set(true)

	expectAll(t, p.outputs(t), true)
	got := p.waitPublished(t, 2)
	if got[1].Cause != "edge" || !got[1].Level {
		t.Errorf("edge event: got %+v", got[1])
	}
	if p.tracker.Snapshot().Counts.Edges != 1 {
		t.Errorf("Edges: got %d, want 1", p.tracker.Snapshot().Counts.Edges)
	}
}

// A burst of edges settles on the last sampled level.
func TestIntegrationBurstSettles(t *testing.T) {
	p := mustPipeline(t, false, 2)

	p.src.In.Set(true)
	p.src.In.Set(false)
	p.src.In.SetQuiet(true) // the final edge was coalesced by the kernel
	p.src.In.Fire()

	expectAll(t, p.outputs(t), true)
	got := p.waitPublished(t, 4)
	if last := got[len(got)-1]; !last.Level {
		t.Errorf("last published level: got OFF, want ON")
	}
}

// Shutdown while the switch is on forces the outputs off.
func TestIntegrationShutdownForcesOff(t *testing.T) {
	p := mustPipeline(t, true, 2)
	expectAll(t, p.outputs(t), true)

	if err := p.ctrl.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	p.tracker.SetState(p.ctrl.State().String())

	expectAll(t, p.outputs(t), false)
	got := p.waitPublished(t, 2)
	if last := got[len(got)-1]; last.Cause != "shutdown" || last.Level {
		t.Errorf("shutdown event: got %+v", last)
	}

	snap := p.tracker.Snapshot()
	if snap.Level != status.LevelOff || snap.State != "TERMINATED" {
		t.Errorf("tracker after shutdown: level=%q state=%q", snap.Level, snap.State)
	}

	p.src.In.Set(false)
	p.src.In.Set(true)
	expectAll(t, p.outputs(t), false)
}

// Failing to acquire the outputs aborts startup without any write.
func TestIntegrationOutputAcquisitionFails(t *testing.T) {
	src := gpio.NewFakeSource(true, 2)
	src.OutputsError = errors.New("line busy")

	p, err := newPipeline(t, src)
	if !errors.Is(err, mirror.ErrAcquire) {
		t.Fatalf("expected ErrAcquire, got %v", err)
	}
	if src.Out.WriteCount() != 0 {
		t.Errorf("WriteCount: got %d, want 0", src.Out.WriteCount())
	}
	if !src.In.IsClosed() {
		t.Error("switch line not released")
	}

	time.Sleep(20 * time.Millisecond)
	if n := len(p.pub.LevelEvents()); n != 0 {
		t.Errorf("published %d events for a failed startup", n)
	}
}

// A write failure is counted but leaves the daemon running; the next edge
// recovers the outputs.
func TestIntegrationWriteFailureRecovers(t *testing.T) {
	p := mustPipeline(t, false, 2)

	p.src.Out.SetWriteError(errors.New("expander NAK"))
	p.src.In.Set(true)
	expectAll(t, p.outputs(t), false)

	p.src.Out.SetWriteError(nil)
	p.src.In.Set(false)
	p.src.In.Set(true)
	expectAll(t, p.outputs(t), true)

	snap := p.tracker.Snapshot()
	if snap.Counts.WriteErrors != 1 {
		t.Errorf("WriteErrors: got %d, want 1", snap.Counts.WriteErrors)
	}
	if p.ctrl.State() != mirror.StateActive {
		t.Errorf("state: got %v, want ACTIVE", p.ctrl.State())
	}
}

// The HTTP status endpoint reflects the pipeline state.
func TestIntegrationStatusEndpoint(t *testing.T) {
	p := mustPipeline(t, false, 2)
	p.src.In.Set(true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := web.New(ln.Addr().String(), p.tracker)
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + ln.Addr().String() + "/index.json")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sj.Status.Switch != "ON" || !sj.Status.Ready || sj.Status.Counts.Edges != 1 {
		t.Errorf("status: %+v", sj.Status)
	}
}

// Status events carry the current level for MQTT system messages.
func TestIntegrationShutdownStatusPayload(t *testing.T) {
	p := mustPipeline(t, true, 1)
	p.ctrl.Shutdown()
	p.tracker.SetState(p.ctrl.State().String())

	snap := p.tracker.Snapshot()
	err := p.pub.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      mqtt.EventShutdown,
		Reason:     "SIGTERM",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, "SIGTERM"),
	})
	if err != nil {
		t.Fatalf("PublishSystem: %v", err)
	}

	var parsed status.StatusJSON
	if err := json.Unmarshal(p.pub.SystemPayloads[0], &parsed); err != nil {
		t.Fatalf("invalid payload: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" || parsed.Status.Switch != "OFF" {
		t.Errorf("payload: %+v", parsed.Status)
	}
}
