package gpio

import (
	"errors"
	"sync"
)

// FakeInput is a test double for the switch line.
// Set changes the level and, when subscribed, calls the handler
// synchronously on the caller's goroutine.
type FakeInput struct {
	mu sync.Mutex

	level   bool
	handler func()

	// ReadError, if set, will be returned by Level.
	ReadError error

	// SubscribeError, if set, will be returned by Subscribe.
	SubscribeError error

	// CancelError, if set, will be returned by Subscription.Cancel.
	CancelError error

	// Reads counts calls to Level.
	Reads int

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeInput creates a FakeInput at the given level.
func NewFakeInput(level bool) *FakeInput {
	return &FakeInput{level: level}
}

// Level returns the scripted level.
func (f *FakeInput) Level() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	if f.ReadError != nil {
		return false, f.ReadError
	}
	return f.level, nil
}

// SetReadError changes ReadError under the fake's lock.
func (f *FakeInput) SetReadError(err error) {
	f.mu.Lock()
	f.ReadError = err
	f.mu.Unlock()
}

// Subscribe records fn as the edge handler.
func (f *FakeInput) Subscribe(fn func()) (Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubscribeError != nil {
		return nil, f.SubscribeError
	}
	f.handler = fn
	return &fakeSubscription{in: f}, nil
}

// Subscribed reports whether a handler is currently attached.
func (f *FakeInput) Subscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler != nil
}

// Set changes the level. If the level changed and a handler is attached,
// the handler runs before Set returns.
func (f *FakeInput) Set(level bool) {
	f.mu.Lock()
	changed := f.level != level
	f.level = level
	h := f.handler
	f.mu.Unlock()
	if changed && h != nil {
		h()
	}
}

// SetQuiet changes the level without notifying, like an edge the
// hardware never reported.
func (f *FakeInput) SetQuiet(level bool) {
	f.mu.Lock()
	f.level = level
	f.mu.Unlock()
}

// Fire calls the handler without changing the level, like a spurious or
// coalesced edge. It reports whether a handler was attached.
func (f *FakeInput) Fire() bool {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h()
	return true
}

// Close marks the input as closed and drops the handler.
func (f *FakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = nil
	f.Closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (f *FakeInput) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

type fakeSubscription struct {
	in *FakeInput
}

func (s *fakeSubscription) Cancel() error {
	s.in.mu.Lock()
	defer s.in.mu.Unlock()
	s.in.handler = nil
	return s.in.CancelError
}

// FakeOutputs is a test double for the output group. It records every
// batch written to it.
type FakeOutputs struct {
	mu sync.Mutex

	values []int

	// Writes contains a copy of every batch passed to WriteAll.
	Writes [][]int

	// WriteError, if set, will be returned by WriteAll and no line changes.
	WriteError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOutputs creates n output lines, all off.
func NewFakeOutputs(n int) *FakeOutputs {
	return &FakeOutputs{values: make([]int, n)}
}

// Len returns the number of lines.
func (f *FakeOutputs) Len() int {
	return len(f.values)
}

// WriteAll records the batch and applies it.
func (f *FakeOutputs) WriteAll(values []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	if len(values) != len(f.values) {
		return errors.New("fake outputs: batch length mismatch")
	}
	batch := make([]int, len(values))
	copy(batch, values)
	f.Writes = append(f.Writes, batch)
	copy(f.values, values)
	return nil
}

// SetWriteError changes WriteError under the fake's lock.
func (f *FakeOutputs) SetWriteError(err error) {
	f.mu.Lock()
	f.WriteError = err
	f.mu.Unlock()
}

// Levels returns the current line levels.
func (f *FakeOutputs) Levels() ([]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	levels := make([]bool, len(f.values))
	for i, v := range f.values {
		levels[i] = v == 1
	}
	return levels, nil
}

// WriteCount returns the number of successful batch writes.
func (f *FakeOutputs) WriteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Writes)
}

// Close marks the outputs as closed.
func (f *FakeOutputs) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (f *FakeOutputs) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Closed
}

// FakeSource hands out a FakeInput and FakeOutputs, or scripted errors.
type FakeSource struct {
	In  *FakeInput
	Out *FakeOutputs

	// InputError, if set, will be returned by Input.
	InputError error

	// OutputsError, if set, will be returned by Outputs.
	OutputsError error
}

// NewFakeSource creates a source with the switch at level and n outputs.
func NewFakeSource(level bool, n int) *FakeSource {
	return &FakeSource{
		In:  NewFakeInput(level),
		Out: NewFakeOutputs(n),
	}
}

// Input returns the fake switch line.
func (s *FakeSource) Input() (Input, error) {
	if s.InputError != nil {
		return nil, s.InputError
	}
	return s.In, nil
}

// Outputs returns the fake output group.
func (s *FakeSource) Outputs() (Outputs, error) {
	if s.OutputsError != nil {
		return nil, s.OutputsError
	}
	return s.Out, nil
}
