package marketdata

import (
	"sync/atomic"
	"time"
)

// StallTimeout is the duration of silence on the WS feed that trips the
// stall flag.
const StallTimeout = 30 * time.Second

// StallFlag is the atomic stall indicator. The watcher goroutine is the
// sole setter of true (rising edge); the stall-monitor goroutine is the
// sole setter of false, after a successful reconcile (falling edge).
type StallFlag struct {
	v atomic.Bool
}

// IsStalled reports the current value.
func (f *StallFlag) IsStalled() bool { return f.v.Load() }

// SetStalled sets the flag and reports whether this call produced a
// rising edge (false -> true transition).
func (f *StallFlag) SetStalled() (risingEdge bool) {
	return f.v.CompareAndSwap(false, true)
}

// ClearStalled clears the flag and reports whether this call produced a
// falling edge (true -> false transition).
func (f *StallFlag) ClearStalled() (fallingEdge bool) {
	return f.v.CompareAndSwap(true, false)
}

// IsStalledNow checks the buffer's last-message timestamp against
// StallTimeout.
func (b *Buffer) IsStalledNow(nowMs int64) bool {
	last := b.LastMessageAtMs()
	if last == 0 {
		return false
	}
	return nowMs-last > StallTimeout.Milliseconds()
}
