// Package stats keeps rolling windows of observed lending rates per
// currency and derives low/high/average over each window.
package stats

import (
	"github.com/shopspring/decimal"
)

// DefaultWindowCapacity covers 15 minutes at a 10 second sampling cadence.
const DefaultWindowCapacity = 6 * 15

// Summary is the derived view of one currency's rolling window. Before the
// first sample lands, all three values are the -1 sentinel so callers can
// detect a cold window.
type Summary struct {
	Low     decimal.Decimal
	High    decimal.Decimal
	Average decimal.Decimal
}

var sentinel = decimal.NewFromInt(-1)

// Warm reports whether the window has at least one sample.
func (s Summary) Warm() bool {
	return !s.Low.Equal(sentinel)
}

type window struct {
	samples []decimal.Decimal // newest first
	summary Summary
}

// Tracker maintains one bounded window per currency.
type Tracker struct {
	capacity int
	windows  map[string]*window
}

// NewTracker builds a Tracker; capacity <= 0 selects the default window.
func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	return &Tracker{
		capacity: capacity,
		windows:  make(map[string]*window),
	}
}

// Observe pushes a new sample for the currency, evicting the oldest sample
// once the window is full, and recomputes the summary.
func (t *Tracker) Observe(currency string, rate decimal.Decimal) Summary {
	w, ok := t.windows[currency]
	if !ok {
		w = &window{summary: Summary{Low: sentinel, High: sentinel, Average: sentinel}}
		t.windows[currency] = w
	}

	w.samples = append([]decimal.Decimal{rate}, w.samples...)
	if len(w.samples) > t.capacity {
		w.samples = w.samples[:t.capacity]
	}

	low, high := w.samples[0], w.samples[0]
	sum := decimal.Zero
	for _, sample := range w.samples {
		if sample.LessThan(low) {
			low = sample
		}
		if sample.GreaterThan(high) {
			high = sample
		}
		sum = sum.Add(sample)
	}

	w.summary = Summary{
		Low:     low,
		High:    high,
		Average: sum.Div(decimal.NewFromInt(int64(len(w.samples)))),
	}
	return w.summary
}

// Summary returns the current derived values for the currency. A currency
// that was never observed reports the cold sentinel.
func (t *Tracker) Summary(currency string) Summary {
	if w, ok := t.windows[currency]; ok {
		return w.summary
	}
	return Summary{Low: sentinel, High: sentinel, Average: sentinel}
}

// Len reports the number of samples currently held for the currency.
func (t *Tracker) Len(currency string) int {
	if w, ok := t.windows[currency]; ok {
		return len(w.samples)
	}
	return 0
}
