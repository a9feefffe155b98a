package tlmbox

import (
	"runtime"
	"sync/atomic"
)

// WaitStrategy spins on a condition for an adaptive number of rounds
// before falling back to a blocking sleep. Successful spins raise the
// limit; spins that end in a sleep lower it.
type WaitStrategy struct {
	CurrentLimit atomic.Int32
	MinSpin      int32
	MaxSpin      int32
	IncStep      int32
	DecStep      int32
}

// NewWaitStrategy returns a strategy with the default limits.
func NewWaitStrategy() *WaitStrategy {
	w := &WaitStrategy{
		MinSpin: 16,
		MaxSpin: 4096,
		IncStep: 64,
		DecStep: 32,
	}
	w.CurrentLimit.Store(256)
	return w
}

// Wait runs condition until it returns true or the spin budget is spent,
// then runs sleep once and checks condition again. It reports whether
// the condition was met.
func (w *WaitStrategy) Wait(condition func() bool, sleep func()) bool {
	limit := w.CurrentLimit.Load()

	for i := int32(0); i < limit; i++ {
		if condition() {
			if limit < w.MaxSpin {
				w.CurrentLimit.Store(min(limit+w.IncStep, w.MaxSpin))
			}
			return true
		}
		if i&0x3F == 0 {
			runtime.Gosched()
		}
	}

	if limit > w.MinSpin {
		w.CurrentLimit.Store(max(limit-w.DecStep, w.MinSpin))
	}
	sleep()
	return condition()
}
