//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sync"

	"github.com/warthog618/go-gpiocdev"
)

// lineOption is satisfied by the gpiocdev options that are valid both when
// requesting a line and when reconfiguring it.
type lineOption interface {
	gpiocdev.LineReqOption
	gpiocdev.LineConfigOption
}

// switchOptions returns the input configuration for the switch line.
func (s *ChipSource) switchOptions() []lineOption {
	opts := []lineOption{gpiocdev.AsInput}
	if s.cfg.SwitchActiveLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	switch s.cfg.SwitchBias {
	case BiasPullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case BiasPullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	case BiasDisabled:
		opts = append(opts, gpiocdev.WithBiasDisabled)
	}
	return opts
}

func (s *ChipSource) consumer() string {
	if s.cfg.Consumer == "" {
		return "amp-switch"
	}
	return s.cfg.Consumer
}

// Input requests the switch line as an input with an event handler
// attached. Edge detection stays off until Subscribe.
func (s *ChipSource) Input() (Input, error) {
	if !ValidBias(s.cfg.SwitchBias) {
		return nil, fmt.Errorf("switch bias %q: unknown", s.cfg.SwitchBias)
	}

	in := &RealInput{}
	base := s.switchOptions()
	req := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer(s.consumer()),
		gpiocdev.WithEventHandler(in.dispatch),
	}
	for _, o := range base {
		req = append(req, o)
		in.base = append(in.base, o)
	}

	line, err := gpiocdev.RequestLine(s.cfg.Chip, s.cfg.Switch, req...)
	if err != nil {
		return nil, fmt.Errorf("request switch line %s:%d: %w", s.cfg.Chip, s.cfg.Switch, err)
	}
	in.line = line
	return in, nil
}

// Outputs requests every output line in a single request, driven off.
func (s *ChipSource) Outputs() (Outputs, error) {
	if len(s.cfg.Outputs) == 0 {
		return nil, errors.New("request output lines: no offsets configured")
	}

	req := []gpiocdev.LineReqOption{
		gpiocdev.WithConsumer(s.consumer()),
		gpiocdev.AsOutput(make([]int, len(s.cfg.Outputs))...),
	}
	if s.cfg.OutputsActiveLow {
		req = append(req, gpiocdev.AsActiveLow)
	}

	lines, err := gpiocdev.RequestLines(s.cfg.Chip, s.cfg.Outputs, req...)
	if err != nil {
		return nil, fmt.Errorf("request output lines %s:%v: %w", s.cfg.Chip, s.cfg.Outputs, err)
	}
	return &RealOutputs{lines: lines, n: len(s.cfg.Outputs)}, nil
}

// ReadSwitch requests the switch line, reads it once and releases it.
func ReadSwitch(cfg ChipConfig) (bool, error) {
	in, err := NewChipSource(cfg).Input()
	if err != nil {
		return false, err
	}
	defer in.Close()
	return in.Level()
}

// RealInput is the switch line on a GPIO character device.
type RealInput struct {
	line *gpiocdev.Line
	base []gpiocdev.LineConfigOption

	mu      sync.Mutex
	handler func()
}

// dispatch runs on the gpiocdev watcher goroutine. The edge type is
// ignored; the subscriber re-reads the level.
func (r *RealInput) dispatch(gpiocdev.LineEvent) {
	r.mu.Lock()
	h := r.handler
	r.mu.Unlock()
	if h != nil {
		h()
	}
}

// Level returns the logical level of the switch line.
func (r *RealInput) Level() (bool, error) {
	v, err := r.line.Value()
	if err != nil {
		return false, fmt.Errorf("read switch line: %w", err)
	}
	return v == 1, nil
}

// Subscribe enables both-edge detection and routes events to fn.
func (r *RealInput) Subscribe(fn func()) (Subscription, error) {
	r.mu.Lock()
	r.handler = fn
	r.mu.Unlock()

	opts := append(append([]gpiocdev.LineConfigOption{}, r.base...), gpiocdev.WithBothEdges)
	if err := r.line.Reconfigure(opts...); err != nil {
		r.detach()
		return nil, fmt.Errorf("enable edge detection: %w", err)
	}
	return &realSubscription{in: r}, nil
}

func (r *RealInput) detach() {
	r.mu.Lock()
	r.handler = nil
	r.mu.Unlock()
}

// Close releases the switch line.
func (r *RealInput) Close() error {
	r.detach()
	if err := r.line.Close(); err != nil {
		return fmt.Errorf("close switch line: %w", err)
	}
	return nil
}

type realSubscription struct {
	in   *RealInput
	once sync.Once
	err  error
}

// Cancel detaches the handler before disabling edges, so events still
// queued in the kernel are dropped.
func (s *realSubscription) Cancel() error {
	s.once.Do(func() {
		s.in.detach()
		opts := append(append([]gpiocdev.LineConfigOption{}, s.in.base...), gpiocdev.WithoutEdges)
		if err := s.in.line.Reconfigure(opts...); err != nil {
			s.err = fmt.Errorf("disable edge detection: %w", err)
		}
	})
	return s.err
}

// RealOutputs is the output group on a GPIO character device.
type RealOutputs struct {
	lines *gpiocdev.Lines
	n     int
}

// Len returns the number of output lines.
func (o *RealOutputs) Len() int {
	return o.n
}

// WriteAll sets all output lines with one SET_VALUES request.
func (o *RealOutputs) WriteAll(values []int) error {
	if err := o.lines.SetValues(values); err != nil {
		return fmt.Errorf("set output lines: %w", err)
	}
	return nil
}

// Levels reads back the logical level of every output line.
func (o *RealOutputs) Levels() ([]bool, error) {
	raw := make([]int, o.n)
	if err := o.lines.Values(raw); err != nil {
		return nil, fmt.Errorf("read output lines: %w", err)
	}
	levels := make([]bool, o.n)
	for i, v := range raw {
		levels[i] = v == 1
	}
	return levels, nil
}

// Close releases the output lines. They are left as outputs at their last
// written level.
func (o *RealOutputs) Close() error {
	if err := o.lines.Close(); err != nil {
		return fmt.Errorf("close output lines: %w", err)
	}
	return nil
}
