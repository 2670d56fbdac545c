// Package serial runs units of work one at a time in the order they were
// submitted.
//
// Outbound calls to the queue API go through a single Serializer because every
// response may rotate the session token that the very next call must present.
package serial

import (
	"context"
	"sync"
	"sync/atomic"
)

// Serializer is a FIFO execution chain. The zero value is not usable; call New.
type Serializer struct {
	mu   sync.Mutex
	tail chan struct{} // closed once the most recently submitted unit settles

	waiting atomic.Int64
}

// New returns an idle Serializer.
func New() *Serializer {
	tail := make(chan struct{})
	close(tail)
	return &Serializer{tail: tail}
}

// Do runs work after every previously submitted unit has settled, whatever
// their outcome. The error returned is work's own.
//
// If ctx ends while waiting, Do returns ctx.Err() without running work; units
// submitted later still wait for the predecessors of this one.
func (s *Serializer) Do(ctx context.Context, work func(context.Context) error) error {
	done := make(chan struct{})

	s.mu.Lock()
	prev := s.tail
	s.tail = done
	s.mu.Unlock()

	s.waiting.Add(1)
	defer s.waiting.Add(-1)

	select {
	case <-prev:
	case <-ctx.Done():
		go func() {
			<-prev
			close(done)
		}()
		return ctx.Err()
	}

	defer close(done)
	return work(ctx)
}

// Len reports how many units are queued or running.
func (s *Serializer) Len() int {
	return int(s.waiting.Load())
}

// Run is Do for work that produces a value.
func Run[T any](ctx context.Context, s *Serializer, work func(context.Context) (T, error)) (T, error) {
	var out T
	err := s.Do(ctx, func(ctx context.Context) error {
		v, err := work(ctx)
		out = v
		return err
	})
	return out, err
}
