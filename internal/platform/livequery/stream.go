package livequery

import (
	"context"
	"errors"
	"sync"
)

// Snapshot is one delivery of a live query. Loading is true until the first
// result arrives; Err is set on the final snapshot when the source failed.
type Snapshot[T any] struct {
	Data    T
	Loading bool
	Err     error
}

// Stream delivers snapshots from a running source until it is stopped, its
// parent context ends, or the source fails. Consumers that fall behind only
// ever see the latest snapshot.
type Stream[T any] struct {
	updates chan Snapshot[T]
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once
}

// Source runs a live query, calling emit for every new result. It blocks until
// ctx ends or the underlying listener fails.
type Source[T any] func(ctx context.Context, emit func(T)) error

// Start runs source in its own goroutine. The first snapshot is always a
// Loading snapshot without data.
func Start[T any](parent context.Context, source Source[T]) *Stream[T] {
	ctx, cancel := context.WithCancel(parent)
	s := &Stream[T]{
		updates: make(chan Snapshot[T], 1),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	s.updates <- Snapshot[T]{Loading: true}

	go func() {
		defer close(s.done)
		defer close(s.updates)
		defer cancel()

		if source == nil {
			s.publish(Snapshot[T]{Err: errors.New("livequery: source is nil")})
			return
		}
		err := source(ctx, func(data T) {
			if ctx.Err() != nil {
				return
			}
			s.publish(Snapshot[T]{Data: data})
		})
		if err != nil && ctx.Err() == nil {
			s.publish(Snapshot[T]{Err: err})
		}
	}()
	return s
}

// Updates returns the snapshot channel. It is closed once the stream ends.
func (s *Stream[T]) Updates() <-chan Snapshot[T] { return s.updates }

// Done is closed after the source returned and the channel was closed.
func (s *Stream[T]) Done() <-chan struct{} { return s.done }

// Stop cancels the source and waits for it to return. Safe to call repeatedly.
func (s *Stream[T]) Stop() {
	s.once.Do(s.cancel)
	<-s.done
}

// publish replaces any undelivered snapshot with the newest one. Only the
// source goroutine sends, so the drain-then-send never blocks.
func (s *Stream[T]) publish(snap Snapshot[T]) {
	select {
	case <-s.updates:
	default:
	}
	s.updates <- snap
}
