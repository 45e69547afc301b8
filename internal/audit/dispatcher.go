package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
//
// With DropIfFull a full buffer sheds events instead of blocking the caller,
// except for the event types listed in Retained: those always wait for room
// (bounded by the caller's context) so terminal outcomes reach the sink.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
	Retained   []string
}

// Dispatcher asynchronously forwards audit events to a sink.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	retained   map[string]struct{}

	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once

	dropped atomic.Uint64
	mu      sync.Mutex
	byEvent map[string]uint64
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		retained:   make(map[string]struct{}, len(cfg.Retained)),
		ch:         make(chan Event, cfg.BufferSize),
		done:       make(chan struct{}),
		byEvent:    make(map[string]uint64),
	}
	for _, eventType := range cfg.Retained {
		d.retained[eventType] = struct{}{}
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case event := <-d.ch:
			d.sink.Emit(context.Background(), event)
		case <-d.done:
			for {
				select {
				case event := <-d.ch:
					d.sink.Emit(context.Background(), event)
				default:
					return
				}
			}
		}
	}
}

// Emit queues event for delivery. A shed event, or one abandoned because ctx
// ended while waiting for buffer room, is counted under its event type.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if d.dropIfFull && !d.isRetained(event.EventType) {
		select {
		case d.ch <- event:
		case <-d.done:
		default:
			d.drop(event.EventType)
		}
		return
	}

	select {
	case d.ch <- event:
	case <-ctx.Done():
		d.drop(event.EventType)
	case <-d.done:
	}
}

func (d *Dispatcher) isRetained(eventType string) bool {
	_, ok := d.retained[eventType]
	return ok
}

func (d *Dispatcher) drop(eventType string) {
	d.dropped.Add(1)
	d.mu.Lock()
	d.byEvent[eventType]++
	d.mu.Unlock()
}

func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports the total number of events that never reached the buffer.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

// DroppedByEvent returns a copy of the drop counts keyed by event type.
func (d *Dispatcher) DroppedByEvent() map[string]uint64 {
	if d == nil {
		return map[string]uint64{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]uint64, len(d.byEvent))
	for k, v := range d.byEvent {
		out[k] = v
	}
	return out
}
