package websocket

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Queue is a bounded per protocol inbox. Push never blocks: when the queue is
// full the oldest entry is dropped, so the socket read loop cannot stall on a
// protocol that stopped listening.
type Queue[T any] struct {
	name  string
	items chan T
}

func NewQueue[T any](name string, size int) *Queue[T] {
	if size <= 0 {
		size = 1
	}
	return &Queue[T]{name: name, items: make(chan T, size)}
}

func (q *Queue[T]) Push(item T) {
	for {
		select {
		case q.items <- item:
			return
		default:
		}
		select {
		case <-q.items:
			log.Warn().Str("queue", q.name).Msg("queue full, dropped oldest message")
		default:
		}
	}
}

// Pop waits for the next item or until ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	select {
	case item := <-q.items:
		return item, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Drain discards everything currently queued and reports how many items were
// removed.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		select {
		case <-q.items:
			n++
		default:
			return n
		}
	}
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}
