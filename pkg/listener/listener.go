package listener

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	errListenerStopped = errors.New("listener stopped")
)

type Job interface {
	Start(ctx context.Context)
	Stop()
}

var _ Job = (*Listener[struct{}])(nil)

// Listener drains a queue in a background goroutine and hands every item to
// handler in order. Handler errors are logged and do not stop the loop.
type Listener[T any] struct {
	name        string
	handler     func(input T) error
	stopHandler func()

	in     chan T
	wg     sync.WaitGroup
	cancel func()
	once   sync.Once
	log    *slog.Logger
}

func New[T any](
	name string,
	capacity int,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		name:        name,
		in:          make(chan T, capacity),
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
		log:         slog.Default().With("component", "listener", "listener", name),
	}
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		for {
			if err := l.run(ctx); errors.Is(err, errListenerStopped) {
				return
			}
		}
	}()
}

// Submit enqueues input without blocking. It reports false when the queue is
// full; the item is dropped.
func (l *Listener[T]) Submit(input T) bool {
	select {
	case l.in <- input:
		return true
	default:
		l.log.Warn("queue full, dropping item")
		return false
	}
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp := <-l.in:
		if err := l.handler(inp); err != nil {
			l.log.Warn("failed to handle input", "error", err)
		}
	case <-ctx.Done():
		return errListenerStopped
	}

	return nil
}

func (l *Listener[T]) Stop() {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
		l.stopHandler()
	})
}
