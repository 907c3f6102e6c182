package mirror

import (
	"fmt"
	"sync"

	"github.com/sweeney/amp-switch/internal/gpio"
)

// LineSet owns the output group and writes one level to all of it.
type LineSet struct {
	mu  sync.Mutex
	out gpio.Outputs

	// Preallocated batches, never modified after construction.
	high []int
	low  []int
}

// NewLineSet takes ownership of out.
func NewLineSet(out gpio.Outputs) *LineSet {
	n := out.Len()
	s := &LineSet{
		out:  out,
		high: make([]int, n),
		low:  make([]int, n),
	}
	for i := range s.high {
		s.high[i] = 1
	}
	return s
}

// Len returns the number of output lines.
func (s *LineSet) Len() int {
	return len(s.high)
}

// Set drives every output to level in one batched write. Calls are
// serialized. On error the outputs are left as the backend left them.
func (s *LineSet) Set(level bool) error {
	if len(s.high) == 0 {
		return nil
	}
	values := s.low
	if level {
		values = s.high
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.out.WriteAll(values); err != nil {
		return fmt.Errorf("write %d outputs: %w", len(values), err)
	}
	return nil
}

// Levels reads back every output.
func (s *LineSet) Levels() ([]bool, error) {
	if len(s.high) == 0 {
		return []bool{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Levels()
}

// Close releases the output group.
func (s *LineSet) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.out.Close()
}
