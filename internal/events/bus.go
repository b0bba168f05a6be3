package events

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

const defaultQueueSize = 256

// Handler consumes one event. Returned errors are logged, never propagated.
type Handler func(ctx context.Context, event Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus is a bounded in-process event queue drained by a fixed worker pool.
// Every subscriber sees every event; publishers never wait. Events for one task
// always land on the same worker, so subscribers see them in publish order.
type Bus struct {
	shards []chan Event
	next   atomic.Uint32
	log    logrus.FieldLogger

	mu   sync.RWMutex
	subs []subscription

	wg      sync.WaitGroup
	started bool
	cancel  context.CancelFunc
}

func NewBus(capacity, workers int, log logrus.FieldLogger) *Bus {
	if capacity <= 0 {
		capacity = defaultQueueSize
	}
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	perShard := (capacity + workers - 1) / workers
	shards := make([]chan Event, workers)
	for i := range shards {
		shards[i] = make(chan Event, perShard)
	}
	return &Bus{
		shards: shards,
		log:    log.WithField("component", "events"),
	}
}

// Subscribe registers handler under name. Subscribers added after Start still
// receive subsequent events.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, handler: handler})
}

// Publish enqueues event without blocking. A full queue drops the event.
func (b *Bus) Publish(event Event) bool {
	if b == nil {
		return false
	}
	select {
	case b.shardFor(event) <- event:
		return true
	default:
		b.log.WithFields(logrus.Fields{
			"event":   event.Type,
			"task_id": event.TaskID,
		}).Warn("event queue full, dropping event")
		return false
	}
}

// Depth is the number of queued events.
func (b *Bus) Depth() int {
	depth := 0
	for _, shard := range b.shards {
		depth += len(shard)
	}
	return depth
}

// shardFor pins task events to one worker. Events without a task spread
// round-robin.
func (b *Bus) shardFor(event Event) chan Event {
	if len(b.shards) == 1 {
		return b.shards[0]
	}
	if event.TaskID == "" {
		return b.shards[int(b.next.Add(1))%len(b.shards)]
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(event.TaskID))
	return b.shards[int(h.Sum32()%uint32(len(b.shards)))]
}

// Start launches the workers. They stop when ctx is cancelled or Stop is called.
func (b *Bus) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	ctx, b.cancel = context.WithCancel(ctx)
	b.mu.Unlock()

	b.wg.Add(len(b.shards))
	for _, shard := range b.shards {
		go func(shard <-chan Event) {
			defer b.wg.Done()
			b.worker(ctx, shard)
		}(shard)
	}
}

// Stop cancels the workers and waits for in-flight handlers to return.
// Events still queued are discarded.
func (b *Bus) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	b.wg.Wait()
	if dropped := b.Depth(); dropped > 0 {
		b.log.WithField("dropped", dropped).Warn("event bus stopped with queued events")
	}
}

func (b *Bus) worker(ctx context.Context, shard <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-shard:
			b.dispatch(ctx, event)
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, event Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.invoke(ctx, sub, event); err != nil {
			b.log.WithFields(logrus.Fields{
				"subscriber": sub.name,
				"event":      event.Type,
				"task_id":    event.TaskID,
			}).WithError(err).Warn("event subscriber failed")
		}
	}
}

func (b *Bus) invoke(ctx context.Context, sub subscription, event Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("subscriber panic: %v", recovered)
		}
	}()
	return sub.handler(ctx, event)
}
