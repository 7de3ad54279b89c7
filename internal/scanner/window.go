package scanner

import (
	"github.com/shopspring/decimal"

	"fatfinger/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Window is a fixed-capacity ring of snapshots. The oldest entry is evicted
// first.
type Window struct {
	buf   []model.MarketSnapshot
	start int
	size  int
}

// NewWindow allocates a window holding at most capacity snapshots.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 1
	}
	return &Window{buf: make([]model.MarketSnapshot, capacity)}
}

// Push appends a snapshot, evicting the oldest when full.
func (w *Window) Push(s model.MarketSnapshot) {
	if w.size < len(w.buf) {
		w.buf[(w.start+w.size)%len(w.buf)] = s
		w.size++
		return
	}
	w.buf[w.start] = s
	w.start = (w.start + 1) % len(w.buf)
}

func (w *Window) Len() int { return w.size }

func (w *Window) Cap() int { return len(w.buf) }

// Latest returns the newest snapshot.
func (w *Window) Latest() (model.MarketSnapshot, bool) {
	if w.size == 0 {
		return model.MarketSnapshot{}, false
	}
	return w.buf[(w.start+w.size-1)%len(w.buf)], true
}

// Snapshots returns a copy of the window, oldest first.
func (w *Window) Snapshots() []model.MarketSnapshot {
	out := make([]model.MarketSnapshot, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.buf[(w.start+i)%len(w.buf)])
	}
	return out
}

// Volatility returns (max high - min low) / min low in percent. It needs at
// least two snapshots and a positive low.
func (w *Window) Volatility() (float64, bool) {
	if w.size < 2 {
		return 0, false
	}
	first := w.buf[w.start]
	high, low := first.High, first.Low
	for i := 1; i < w.size; i++ {
		s := w.buf[(w.start+i)%len(w.buf)]
		if s.High.GreaterThan(high) {
			high = s.High
		}
		if s.Low.LessThan(low) {
			low = s.Low
		}
	}
	if !low.IsPositive() {
		return 0, false
	}
	vol, _ := high.Sub(low).Div(low).Mul(hundred).Float64()
	return vol, true
}
