package realtime

import (
	"context"
	"sync"

	"github.com/desertthunder/sumstream/internal/models"
)

const (
	eventBuffer = 256
	stateBuffer = 64
)

// pipe adapts a callback subscription to a channel closed when ctx is done.
//
// With block set a full channel applies backpressure to the publisher; otherwise the oldest
// buffered value is dropped. State and notification publishers may hold locks, so they never block.
func pipe[T any](ctx context.Context, size int, block bool, subscribe func(func(T)) func()) <-chan T {
	ch := make(chan T, size)
	var (
		mu     sync.Mutex
		closed bool
	)

	unsubscribe := subscribe(func(v T) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		if block {
			select {
			case ch <- v:
			case <-ctx.Done():
			}
			return
		}
		for {
			select {
			case ch <- v:
				return
			default:
			}
			select {
			case <-ch:
			default:
			}
		}
	})

	context.AfterFunc(ctx, func() {
		unsubscribe()
		mu.Lock()
		defer mu.Unlock()
		closed = true
		close(ch)
	})
	return ch
}

// States streams state changes until ctx is done.
func (c *Client) States(ctx context.Context) <-chan models.ConnectionState {
	return pipe(ctx, stateBuffer, false, c.OnState)
}

// Events streams published events until ctx is done.
func (c *Client) Events(ctx context.Context) <-chan models.Event {
	return pipe(ctx, eventBuffer, true, c.OnEvent)
}

// NotificationLists streams the notification list after every change until ctx is done.
func (c *Client) NotificationLists(ctx context.Context) <-chan []models.Notification {
	return pipe(ctx, stateBuffer, false, c.OnNotifications)
}
