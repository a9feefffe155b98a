package tlmbox

import (
	"context"
	"sync"
)

// Signal is a single-slot mailbox. Posting overwrites a value nobody has
// taken yet, so a waiter only ever sees the latest one.
type Signal[T any] struct {
	mu    sync.Mutex
	value T
	set   bool
	wake  chan struct{}
	strat *WaitStrategy
}

// NewSignal returns an empty signal.
func NewSignal[T any]() *Signal[T] {
	return &Signal[T]{wake: make(chan struct{}, 1), strat: NewWaitStrategy()}
}

// Signal stores v, replacing any value not yet taken, and wakes a waiter.
func (s *Signal[T]) Signal(v T) {
	s.mu.Lock()
	s.value = v
	s.set = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// TryTake removes and returns the stored value.
func (s *Signal[T]) TryTake() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if !s.set {
		return zero, false
	}
	v := s.value
	s.value = zero
	s.set = false
	return v, true
}

// Signaled reports whether a value is waiting.
func (s *Signal[T]) Signaled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set
}

// Reset drops any stored value.
func (s *Signal[T]) Reset() {
	s.TryTake()
}

// Wait blocks until a value is posted or ctx is done.
func (s *Signal[T]) Wait(ctx context.Context) (T, error) {
	var (
		v  T
		ok bool
	)
	take := func() bool {
		v, ok = s.TryTake()
		return ok
	}
	sleep := func() {
		select {
		case <-s.wake:
		case <-ctx.Done():
		}
	}
	for {
		if s.strat.Wait(take, sleep) {
			return v, nil
		}
		if err := ctx.Err(); err != nil {
			var zero T
			return zero, err
		}
	}
}
