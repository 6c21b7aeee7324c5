package events

import (
	"context"
	"log/slog"
	"sync"
)

// Dispatcher decouples event delivery from the caller. Emit never blocks: when
// the queue is full the event is dropped and logged.
type Dispatcher struct {
	publisher *Publisher
	queue     chan Event
	wg        sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(publisher *Publisher, buffer int) *Dispatcher {
	if buffer < 1 {
		buffer = 1
	}
	d := &Dispatcher{
		publisher: publisher,
		queue:     make(chan Event, buffer),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) Emit(ctx context.Context, e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		slog.WarnContext(ctx, "event_dropped", "event_type", e.Type, "tenant_id", e.TenantID, "reason", "dispatcher closed")
		return
	}
	select {
	case d.queue <- e:
	default:
		slog.WarnContext(ctx, "event_dropped", "event_type", e.Type, "tenant_id", e.TenantID, "reason", "queue full")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for e := range d.queue {
		if err := d.publisher.Publish(context.Background(), e); err != nil {
			slog.Warn("event_publish_failed", "event_type", e.Type, "error", err)
		}
	}
}

// Close stops accepting events and waits until queued ones are delivered or ctx
// expires.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
