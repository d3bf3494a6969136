package audit

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Config sizes the dispatcher queue and picks what Emit does when it is full.
type Config struct {
	Enabled    bool
	BufferSize int
	// DropIfFull makes Emit count and discard an event instead of waiting for
	// room in the queue.
	DropIfFull bool
}

// Dispatcher hands flow transitions to a Sink from one background goroutine, so
// a slow sink never holds a state machine lock. Methods on a nil Dispatcher are
// no-ops.
type Dispatcher struct {
	sink       Sink
	dropIfFull bool
	queue      chan Event
	stop       chan struct{}
	worker     sync.WaitGroup
	stopOnce   sync.Once
	stopped    atomic.Bool
	dropped    atomic.Uint64
	now        func() time.Time
}

// NewDispatcher starts the delivery goroutine. It returns nil when auditing is
// disabled.
func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	size := cfg.BufferSize
	if size <= 0 {
		size = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}

	d := &Dispatcher{
		sink:       sink,
		dropIfFull: cfg.DropIfFull,
		queue:      make(chan Event, size),
		stop:       make(chan struct{}),
		now:        time.Now,
	}
	d.worker.Add(1)
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer d.worker.Done()
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		case <-d.stop:
			d.drain()
			return
		}
	}
}

// drain delivers whatever is still queued after Close.
func (d *Dispatcher) drain() {
	for {
		select {
		case ev := <-d.queue:
			d.deliver(ev)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ev Event) {
	d.sink.Emit(context.Background(), ev)
}

// Emit stamps and scrubs ev, then queues it. With DropIfFull a full queue drops
// the event; otherwise Emit waits until there is room, ctx ends or the
// dispatcher is closed.
func (d *Dispatcher) Emit(ctx context.Context, ev Event) {
	if d == nil || d.stopped.Load() {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = d.now().UTC()
	}
	ev.Metadata = scrub(ev.Metadata)

	if d.dropIfFull {
		d.offer(ev)
		return
	}
	select {
	case d.queue <- ev:
	case <-ctx.Done():
	case <-d.stop:
	}
}

func (d *Dispatcher) offer(ev Event) {
	select {
	case d.queue <- ev:
	case <-d.stop:
	default:
		d.dropped.Add(1)
	}
}

// Close stops accepting events, flushes the queue to the sink and waits for the
// worker. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
		d.worker.Wait()
	})
}

// Dropped is the number of events discarded because the queue was full.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}

var sensitiveKeyParts = []string{"password", "token", "secret", "code", "otp"}

// scrub returns meta without credential-bearing keys. meta is copied only when
// something is removed.
func scrub(meta map[string]string) map[string]string {
	var out map[string]string
	for k := range meta {
		if !sensitiveKey(k) {
			continue
		}
		if out == nil {
			out = make(map[string]string, len(meta))
			for k2, v := range meta {
				out[k2] = v
			}
		}
		delete(out, k)
	}
	if out == nil {
		return meta
	}
	return out
}

func sensitiveKey(k string) bool {
	k = strings.ToLower(k)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}
