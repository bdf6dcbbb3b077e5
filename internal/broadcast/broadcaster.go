package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/0xc0d3d00d/pricefeed/internal/domain"
	"github.com/0xc0d3d00d/pricefeed/internal/telemetry"
)

// CloseReason explains why a subscription ended.
type CloseReason string

const (
	ReasonNone         CloseReason = ""
	ReasonClientClosed CloseReason = "client closed"
	ReasonSlowConsumer CloseReason = "slow consumer"
)

type Config struct {
	// BufferSize bounds each subscriber's outbound buffer.
	BufferSize int
	// MaxConsecutiveDrops forces a disconnect once a subscriber has had this
	// many events in a row replace older queued ones.
	MaxConsecutiveDrops int
}

// Subscription is one live delivery endpoint for one ticker. Consumers read
// Events until Done is closed; after that, Reason reports why.
type Subscription struct {
	ID     uuid.UUID
	Ticker string

	out  chan domain.TickEvent
	done chan struct{}

	mu     sync.Mutex
	closed bool
	reason CloseReason
	drops  int
}

func (s *Subscription) Events() <-chan domain.TickEvent { return s.out }
func (s *Subscription) Done() <-chan struct{}           { return s.done }

func (s *Subscription) Reason() CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *Subscription) close(reason CloseReason) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.reason = reason
	close(s.done)
}

// enqueue applies the latest-value-wins overflow policy: when the buffer is
// full the oldest queued event is discarded in favour of the newest.
// Returns whether the event displaced an older one and whether the
// consecutive-drop limit has been exhausted.
func (s *Subscription) enqueue(event domain.TickEvent, maxDrops int) (dropped, exhausted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, false
	}

	select {
	case s.out <- event:
		s.drops = 0
		return false, false
	default:
	}

	select {
	case <-s.out:
	default:
	}
	select {
	case s.out <- event:
	default:
	}

	s.drops++
	return true, maxDrops > 0 && s.drops >= maxDrops
}

// Broadcaster fans accepted ticks out to live subscribers. Delivery is
// best-effort and non-blocking per subscriber: a slow peer never stalls the
// write path or its neighbours.
type Broadcaster struct {
	cfg     Config
	metrics *telemetry.Metrics

	mu   sync.RWMutex
	subs map[string]map[uuid.UUID]*Subscription
}

func New(cfg Config, metrics *telemetry.Metrics) *Broadcaster {
	if metrics == nil {
		metrics = telemetry.NewNopMetrics()
	}
	return &Broadcaster{
		cfg:     cfg,
		metrics: metrics,
		subs:    make(map[string]map[uuid.UUID]*Subscription),
	}
}

// Subscribe registers a fresh delivery channel for the ticker. A previously
// force-closed client may resubscribe immediately; it starts with an empty
// buffer.
func (b *Broadcaster) Subscribe(ticker string) *Subscription {
	sub := &Subscription{
		ID:     uuid.New(),
		Ticker: ticker,
		out:    make(chan domain.TickEvent, b.cfg.BufferSize),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[ticker] == nil {
		b.subs[ticker] = make(map[uuid.UUID]*Subscription)
	}
	b.subs[ticker][sub.ID] = sub

	return sub
}

// Unsubscribe removes the registration. Safe to call repeatedly and after
// the subscription was already force-closed.
func (b *Broadcaster) Unsubscribe(sub *Subscription) {
	b.remove(sub, ReasonClientClosed)
}

func (b *Broadcaster) remove(sub *Subscription, reason CloseReason) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	if set, ok := b.subs[sub.Ticker]; ok {
		delete(set, sub.ID)
		if len(set) == 0 {
			delete(b.subs, sub.Ticker)
		}
	}
	b.mu.Unlock()

	sub.close(reason)
}

// Publish enqueues the event for every subscriber of its ticker and returns
// without waiting for transmission. Subscribers that exhaust their
// consecutive-drop allowance are force-closed as slow consumers.
func (b *Broadcaster) Publish(event domain.TickEvent) {
	b.mu.RLock()
	var exhausted []*Subscription
	for _, sub := range b.subs[event.Ticker] {
		dropped, full := sub.enqueue(event, b.cfg.MaxConsecutiveDrops)
		if dropped {
			b.metrics.EventsDropped.Add(context.Background(), 1)
		} else {
			b.metrics.EventsDelivered.Add(context.Background(), 1)
		}
		if full {
			exhausted = append(exhausted, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range exhausted {
		slog.Warn("disconnecting slow consumer",
			"ticker", sub.Ticker,
			"subscription_id", sub.ID,
			"consecutive_drops", b.cfg.MaxConsecutiveDrops)
		b.metrics.SlowConsumers.Add(context.Background(), 1)
		b.remove(sub, ReasonSlowConsumer)
	}
}

// SubscriberCount reports the number of live subscriptions for a ticker.
func (b *Broadcaster) SubscriberCount(ticker string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[ticker])
}
