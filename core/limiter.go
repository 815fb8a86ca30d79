package core

import "sync"

// IterationBudget counts Reasoning -> Acting -> Observing cycles of a run
// against a fixed maximum.
type IterationBudget struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewIterationBudget creates a budget allowing max iterations.
// If max <= 0, a single iteration is allowed.
func NewIterationBudget(max int) *IterationBudget {
	if max <= 0 {
		max = 1
	}
	return &IterationBudget{max: max}
}

// Consume records one completed iteration.
func (b *IterationBudget) Consume() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.count++
}

// Exhausted reports whether no further iteration may start.
func (b *IterationBudget) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count >= b.max
}

// Used returns the number of completed iterations.
func (b *IterationBudget) Used() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.count
}

// Remaining returns how many iterations are left.
func (b *IterationBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.max - b.count
}

// Max returns the configured maximum.
func (b *IterationBudget) Max() int { return b.max }
