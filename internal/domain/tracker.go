package domain

import "sync"

// Tracker accumulates cost and call counts. It is safe for concurrent use
// and may be shared across several models. A nil Tracker ignores updates.
type Tracker struct {
	mu    sync.Mutex
	cost  float64
	calls int
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Add records one completed call with the given cost.
func (t *Tracker) Add(cost float64) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.cost += cost
	t.calls++
	t.mu.Unlock()
}

func (t *Tracker) Cost() float64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cost
}

func (t *Tracker) Calls() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.cost, t.calls = 0, 0
	t.mu.Unlock()
}
