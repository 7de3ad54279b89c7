package alert

import (
	"context"
	"fmt"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/yanun0323/errors"
	"go.uber.org/zap"

	"fatfinger/internal/obs"
	"fatfinger/pkg/exception"
)

const (
	DefaultHistorySize = 100
	DefaultQueueSize   = 1024
)

// Config sizes the bus.
type Config struct {
	HistorySize int `json:"historySize"`
	QueueSize   int `json:"queueSize"`
}

// Handler receives delivered alerts on the dispatch goroutine.
type Handler func(Alert)

type subscription struct {
	id      uint64
	typ     Type
	handler Handler
}

// Bus records every published alert in a bounded history and delivers it
// asynchronously to subscribers. Publish never blocks on a subscriber.
type Bus struct {
	log     *zap.Logger
	clock   clock.Clock
	metrics *obs.Metrics
	queue   *Queue

	mu      sync.RWMutex
	seq     uint64
	ring    []Alert
	start   int
	size    int
	subs    []subscription
	nextSub uint64
	dropped uint64
}

// NewBus creates a bus. Run must be started for subscribers to receive alerts.
func NewBus(cfg Config, log *zap.Logger, clk clock.Clock, metrics *obs.Metrics) *Bus {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Bus{
		log:     log.With(zap.String("component", "alert")),
		clock:   clk,
		metrics: metrics,
		queue:   NewQueue(cfg.QueueSize),
		ring:    make([]Alert, cfg.HistorySize),
	}
}

// Publish stamps the alert, stores it in history and queues it for delivery.
// A full queue drops the delivery but keeps the history entry.
func (b *Bus) Publish(a Alert) Alert {
	b.mu.Lock()
	b.seq++
	a.Seq = b.seq
	if a.Timestamp.IsZero() {
		a.Timestamp = b.clock.Now()
	}
	b.push(a)
	// enqueue under the lock so delivery follows Seq and reaches only the
	// subscribers registered at publish time
	err := b.queue.TryPublish(delivery{alert: a, targets: b.targets(a.Type)})
	if err != nil {
		b.dropped++
	}
	b.mu.Unlock()

	b.metrics.IncAlert(a.Type.String())
	if err != nil {
		b.metrics.IncAlertDrop()
		b.log.Warn("alert not delivered", zap.Uint64("seq", a.Seq), zap.Stringer("type", a.Type), zap.Error(err))
	}
	return a
}

// Emit publishes a payload under the given type.
func (b *Bus) Emit(typ Type, payload any) Alert {
	return b.Publish(Alert{Type: typ, Payload: payload})
}

// Subscribe registers handler for typ, or for every type with Wildcard.
// Handlers run in registration order and see only alerts published after
// registration. The returned func removes the subscription.
func (b *Bus) Subscribe(typ Type, handler Handler) (func(), error) {
	if handler == nil {
		return nil, errors.Wrap(exception.ErrNilInstance, "alert handler")
	}
	if typ != Wildcard && !typ.IsAvailable() {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "alert type %d", typ)
	}

	b.mu.Lock()
	b.nextSub++
	id := b.nextSub
	b.subs = append(b.subs, subscription{id: id, typ: typ, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}, nil
}

// Recent returns up to n of the latest alerts, newest last, optionally
// restricted to the given types.
func (b *Bus) Recent(n int, types ...Type) []Alert {
	if n <= 0 {
		return []Alert{}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Alert, 0, min(n, b.size))
	for i := b.size - 1; i >= 0 && len(out) < n; i-- {
		a := b.ring[(b.start+i)%len(b.ring)]
		if matches(a.Type, types) {
			out = append(out, a)
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Dropped returns the number of undelivered alerts.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// Run delivers queued alerts until ctx is done or the bus is closed.
func (b *Bus) Run(ctx context.Context) {
	b.queue.Run(ctx, b.dispatch)
}

// Close stops accepting deliveries. History keeps recording.
func (b *Bus) Close() {
	b.queue.Close()
}

func (b *Bus) push(a Alert) {
	capacity := len(b.ring)
	if b.size < capacity {
		b.ring[(b.start+b.size)%capacity] = a
		b.size++
		return
	}
	b.ring[b.start] = a
	b.start = (b.start + 1) % capacity
}

// targets must be called with b.mu held.
func (b *Bus) targets(typ Type) []subscription {
	var out []subscription
	for _, s := range b.subs {
		if s.typ == Wildcard || s.typ == typ {
			out = append(out, s)
		}
	}
	return out
}

func (b *Bus) dispatch(d delivery) {
	for _, s := range d.targets {
		b.deliver(s, d.alert)
	}
}

func (b *Bus) deliver(s subscription, a Alert) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("alert handler panic",
				zap.Uint64("subscription", s.id),
				zap.Uint64("seq", a.Seq),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	s.handler(a)
}

func matches(t Type, types []Type) bool {
	if len(types) == 0 {
		return true
	}
	for _, want := range types {
		if want == Wildcard || want == t {
			return true
		}
	}
	return false
}
