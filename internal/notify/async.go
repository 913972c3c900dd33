package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cardbounty/internal/events"
)

var (
	ErrQueueFull = errors.New("notification queue full")
	ErrClosed    = errors.New("notifier closed")
)

// Async hands events to a single background goroutine so a slow chat API
// never holds up the request that produced them. Each delivery gets its own
// timeout; events arriving while the buffer is full are dropped.
type Async struct {
	next    events.Sink
	timeout time.Duration
	log     *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan events.Event
	done   chan struct{}
}

func NewAsync(next events.Sink, buffer int, timeout time.Duration, logger *slog.Logger) *Async {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		log:     logger,
		queue:   make(chan events.Event, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *Async) Handle(_ context.Context, ev events.Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- ev:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s", ErrQueueFull, ev.Kind)
	}
}

func (a *Async) run() {
	defer close(a.done)
	for ev := range a.queue {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Handle(ctx, ev); err != nil {
			a.log.Warn("notification failed", "kind", ev.Kind, "bounty_id", ev.BountyID, "err", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be delivered or
// for ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
