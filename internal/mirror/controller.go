package mirror

import (
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/sweeney/amp-switch/internal/gpio"
)

// Controller reacts to switch edges by mirroring the switch level onto
// the output group.
type Controller struct {
	input gpio.Input
	lines *LineSet
	sub   gpio.Subscription

	logger    *log.Entry
	observers []func(Reaction)
	now       func() time.Time

	// mu serializes each reaction's read+write against other reactions
	// and against the shutdown write.
	mu    sync.Mutex
	state State
	level bool

	stopOnce sync.Once
	stopErr  error
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default logs under component=mirror.
func WithLogger(l *log.Entry) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithObserver adds a function called after every reaction. Observers run
// on the reacting goroutine with the controller locked and must not block.
func WithObserver(fn func(Reaction)) Option {
	return func(c *Controller) {
		c.observers = append(c.observers, fn)
	}
}

// WithClock sets the time source used for Reaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.now = now
	}
}

// Initialize acquires the lines from src, drives the outputs to the current
// switch level and subscribes to switch edges. On any error every line
// already acquired is released and no edge subscription remains.
func Initialize(src Source, opts ...Option) (*Controller, error) {
	c := &Controller{
		logger: log.WithField("component", "mirror"),
		now:    time.Now,
		state:  StateUninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}

	in, err := src.Input()
	if err == nil && in == nil {
		err = errors.New("no line")
	}
	if err != nil {
		return nil, c.fail(fmt.Errorf("%w: switch: %w", ErrAcquire, err))
	}
	out, err := src.Outputs()
	if err == nil && out == nil {
		err = errors.New("no lines")
	}
	if err != nil {
		return nil, c.fail(errors.Join(fmt.Errorf("%w: outputs: %w", ErrAcquire, err), in.Close()))
	}
	c.input = in
	c.lines = NewLineSet(out)

	level, err := in.Level()
	if err != nil {
		return nil, c.fail(errors.Join(fmt.Errorf("%w: %w", ErrSync, err), c.release()))
	}

	c.mu.Lock()
	c.apply(level, CauseSync)
	c.state = StateSynchronized
	c.mu.Unlock()

	sub, err := in.Subscribe(c.react)
	if err != nil {
		return nil, c.fail(errors.Join(fmt.Errorf("%w: %w", ErrSubscribe, err), c.release()))
	}

	c.mu.Lock()
	c.sub = sub
	c.state = StateActive
	c.mu.Unlock()

	c.catchUp(level)

	c.logger.WithFields(log.Fields{
		"outputs": c.lines.Len(),
		"level":   levelString(c.Level()),
	}).Info("mirroring switch")
	return c, nil
}

// fail moves the controller to Failed and logs the setup error with the
// state it ended in. Initialize returns no controller on failure, so the log
// entry is where Failed is seen.
func (c *Controller) fail(err error) error {
	c.mu.Lock()
	from := c.state
	c.state = StateFailed
	c.mu.Unlock()
	c.logger.WithError(err).WithFields(log.Fields{
		"state": StateFailed.String(),
		"from":  from.String(),
	}).Error("setup failed")
	return err
}

// catchUp re-samples the switch once after subscribing. An edge between
// the initial sync and the subscription would otherwise go unseen.
func (c *Controller) catchUp(synced bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return
	}
	level, err := c.input.Level()
	if err != nil {
		c.readFailed(CauseCatchUp, err)
		return
	}
	if level != synced {
		c.apply(level, CauseCatchUp)
	}
}

// react is the edge handler. It may run concurrently with itself and with
// Shutdown; the edge direction is not trusted, the level is re-read.
func (c *Controller) react() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return
	}
	level, err := c.input.Level()
	if err != nil {
		c.readFailed(CauseEdge, err)
		return
	}
	c.apply(level, CauseEdge)
}

// apply writes level to the outputs. c.mu must be held.
func (c *Controller) apply(level bool, cause Cause) {
	r := Reaction{Time: c.now(), Cause: cause, Level: level}
	if err := c.lines.Set(level); err != nil {
		// Best effort: the next edge retries.
		r.Err = err
		c.logger.WithError(err).WithField("cause", cause).Debug("output write skipped")
	} else {
		r.Written = true
		c.level = level
	}
	c.notify(r)
}

// readFailed reports a switch read that skipped a reaction. c.mu must be held.
func (c *Controller) readFailed(cause Cause, err error) {
	c.logger.WithError(err).WithField("cause", cause).Debug("switch read failed, reaction skipped")
	c.notify(Reaction{Time: c.now(), Cause: cause, Skipped: true, Err: err})
}

func (c *Controller) notify(r Reaction) {
	for _, fn := range c.observers {
		fn(r)
	}
}

// Shutdown stops reacting to edges, forces every output off and releases
// the lines. The off write happens even if cancelling the subscription
// fails. Only the first call does the work; concurrent and later calls wait
// for it and return its result.
func (c *Controller) Shutdown() error {
	c.stopOnce.Do(func() {
		c.stopErr = c.shutdown()
	})
	return c.stopErr
}

func (c *Controller) shutdown() error {
	c.mu.Lock()
	sub := c.sub
	c.mu.Unlock()

	// Cancel without holding mu: a handler already dispatched may be
	// waiting on it.
	var errs []error
	if sub != nil {
		if err := sub.Cancel(); err != nil {
			errs = append(errs, fmt.Errorf("cancel subscription: %w", err))
		}
	}

	c.mu.Lock()
	c.state = StateTerminated
	c.apply(false, CauseShutdown)
	c.mu.Unlock()

	if err := c.release(); err != nil {
		errs = append(errs, err)
	}
	c.logger.Info("outputs forced off, lines released")
	return errors.Join(errs...)
}

func (c *Controller) release() error {
	var errs []error
	if err := c.input.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release switch: %w", err))
	}
	if err := c.lines.Close(); err != nil {
		errs = append(errs, fmt.Errorf("release outputs: %w", err))
	}
	return errors.Join(errs...)
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Level returns the level most recently written to the outputs.
func (c *Controller) Level() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Outputs reads back the output levels.
func (c *Controller) Outputs() ([]bool, error) {
	return c.lines.Levels()
}

// Len returns the number of output lines.
func (c *Controller) Len() int {
	return c.lines.Len()
}

func levelString(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
