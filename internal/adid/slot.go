package adid

import (
	"context"
	"sync/atomic"

	"github.com/brianly1003/adid/internal/domain"
)

// HandoffSlot passes a single value from a callback goroutine to one waiter.
// It holds at most one value and may be taken at most once.
type HandoffSlot[T any] struct {
	ch    chan T
	taken atomic.Bool
}

// NewHandoffSlot creates an empty slot.
func NewHandoffSlot[T any]() *HandoffSlot[T] {
	return &HandoffSlot[T]{ch: make(chan T, 1)}
}

// Put deposits v without blocking. It returns false if the slot is already
// full, in which case v is dropped.
func (s *HandoffSlot[T]) Put(v T) bool {
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// Take waits for the deposited value or for ctx to end. Calling Take a second
// time on the same slot panics with a *domain.ProgrammingError.
func (s *HandoffSlot[T]) Take(ctx context.Context) (T, error) {
	if !s.taken.CompareAndSwap(false, true) {
		panic(domain.NewProgrammingError("handoff slot already retrieved"))
	}

	select {
	case v := <-s.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
