// Package aggregate maintains per-symbol rolling notional-volume sums.
package aggregate

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type entry struct {
	at    time.Time
	value decimal.Decimal
}

// Window is a fixed-duration sliding sum over timestamped values for
// one symbol. Entries arrive in non-decreasing timestamp order in
// practice, so eviction from the front is sufficient; a late
// out-of-order entry merely delays eviction and can overstate the sum
// until newer entries push the cutoff forward. That approximation is
// accepted, not corrected.
type Window struct {
	duration time.Duration
	entries  []entry
	sum      decimal.Decimal
}

func NewWindow(duration time.Duration) *Window {
	return &Window{duration: duration, sum: decimal.Zero}
}

// Update appends one value, evicts everything older than the trailing
// window and returns the post-eviction sum.
func (w *Window) Update(at time.Time, value decimal.Decimal) decimal.Decimal {
	w.entries = append(w.entries, entry{at: at, value: value})
	w.sum = w.sum.Add(value)

	cutoff := at.Add(-w.duration)
	i := 0
	for i < len(w.entries) && w.entries[i].at.Before(cutoff) {
		w.sum = w.sum.Sub(w.entries[i].value)
		i++
	}
	if i > 0 {
		w.entries = append(w.entries[:0], w.entries[i:]...)
	}
	return w.sum
}

// Len returns the number of retained entries.
func (w *Window) Len() int { return len(w.entries) }

// Book owns the windows of every tracked symbol for one stream type.
type Book struct {
	mu       sync.Mutex
	duration time.Duration
	windows  map[string]*Window
}

func NewBook(duration time.Duration) *Book {
	return &Book{duration: duration, windows: make(map[string]*Window)}
}

// Update routes one value into the symbol's window, creating it on
// first sight, and returns the rolling sum.
func (b *Book) Update(symbol string, at time.Time, value decimal.Decimal) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[symbol]
	if !ok {
		w = NewWindow(b.duration)
		b.windows[symbol] = w
	}
	return w.Update(at, value)
}

// SetDuration applies a new window length to future updates. Open
// windows are kept as-is; the next update evicts against the new
// cutoff.
func (b *Book) SetDuration(duration time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.duration = duration
	for _, w := range b.windows {
		w.duration = duration
	}
}

// Purge drops all state for a symbol.
func (b *Book) Purge(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.windows, symbol)
}

// Has reports whether a window exists for the symbol.
func (b *Book) Has(symbol string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.windows[symbol]
	return ok
}
