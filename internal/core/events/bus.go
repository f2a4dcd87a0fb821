package events

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const defaultBufferSize = 1024

// subscription is one Subscribe call's registration. A subscriber that
// asked for several event types shares a single channel and a single
// evicted flag across all of them, so a full channel on any one type
// evicts it from every type at once.
type subscription struct {
	ch      chan Event
	types   map[EventType]struct{}
	evicted atomic.Bool
}

// EventBus manages event distribution using Go channels. Unlike a queue
// per event, a slow subscriber never holds up a fast one: the moment a
// subscriber's channel is found full, that subscriber alone is evicted
// (removed from every type it subscribed to, sent a best-effort OVERFLOW
// event, and closed) while every other subscriber keeps receiving.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType]map[*subscription]struct{}

	bufferSize int
	logger     zerolog.Logger

	metricsLock    sync.Mutex
	publishedCount map[EventType]int64
	droppedCount   map[EventType]int64
}

// NewEventBus creates a new event bus. bufferSize <= 0 defaults to 1024
// (the WebhookQueueSize default, §4.5/§6).
func NewEventBus(bufferSize int, logger zerolog.Logger) *EventBus {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &EventBus{
		subscribers:    make(map[EventType]map[*subscription]struct{}),
		bufferSize:     bufferSize,
		logger:         logger,
		publishedCount: make(map[EventType]int64),
		droppedCount:   make(map[EventType]int64),
	}
}

// Subscribe registers interest in one or more event types and returns a
// channel that receives every matching event until the subscriber falls
// behind (channel fills) or Unsubscribe/Close is called. The channel is
// closed exactly once, either by eviction or by Close. The channel has one
// slot beyond the bus buffer size, kept free for the terminal OVERFLOW event.
func (eb *EventBus) Subscribe(types ...EventType) <-chan Event {
	sub := &subscription{
		ch:    make(chan Event, eb.bufferSize+1),
		types: make(map[EventType]struct{}, len(types)),
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	for _, t := range types {
		sub.types[t] = struct{}{}
		if eb.subscribers[t] == nil {
			eb.subscribers[t] = make(map[*subscription]struct{})
		}
		eb.subscribers[t][sub] = struct{}{}
	}

	eb.logger.Info().
		Int("types", len(types)).
		Int("buffer_size", eb.bufferSize).
		Msg("new event bus subscriber registered")

	return sub.ch
}

// Publish delivers event to every live subscriber of its type. Delivery
// is non-blocking: a subscriber that already has bufferSize events queued
// is evicted, not waited on, so one slow reader can never stall the
// publisher or any other subscriber.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	subs := eb.subscribers[event.Type()]
	snapshot := make([]*subscription, 0, len(subs))
	for s := range subs {
		snapshot = append(snapshot, s)
	}
	eb.mu.RUnlock()

	if len(snapshot) == 0 {
		return
	}

	var delivered, dropped int
	for _, sub := range snapshot {
		if len(sub.ch) >= eb.bufferSize {
			dropped++
			eb.evict(sub, "subscriber queue full")
			continue
		}
		select {
		case sub.ch <- event:
			delivered++
		default:
			dropped++
			eb.evict(sub, "subscriber queue full")
		}
	}

	eb.updateMetrics(event.Type(), delivered, dropped)
}

// evict removes sub from every type it was registered under, best-effort
// delivers a terminal OVERFLOW event, and closes its channel. Safe to
// call more than once for the same subscription; only the first call
// acts.
func (eb *EventBus) evict(sub *subscription, reason string) {
	if !sub.evicted.CompareAndSwap(false, true) {
		return
	}

	eb.mu.Lock()
	for t := range sub.types {
		delete(eb.subscribers[t], sub)
	}
	eb.mu.Unlock()

	select {
	case sub.ch <- newOverflowEvent(reason):
	default:
	}
	close(sub.ch)

	eb.logger.Warn().Str("reason", reason).Msg("event bus subscriber evicted")
}

// Unsubscribe removes a subscription voluntarily (no OVERFLOW event is
// sent; the channel is simply closed).
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	var found *subscription
	for _, subs := range eb.subscribers {
		for s := range subs {
			if s.ch == ch {
				found = s
				break
			}
		}
		if found != nil {
			break
		}
	}
	if found == nil {
		eb.mu.Unlock()
		return
	}
	for t := range found.types {
		delete(eb.subscribers[t], found)
	}
	eb.mu.Unlock()

	if found.evicted.CompareAndSwap(false, true) {
		close(found.ch)
	}
}

// Close shuts down the event bus, closing every live subscriber channel.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.logger.Info().Msg("closing event bus")

	seen := make(map[*subscription]struct{})
	for _, subs := range eb.subscribers {
		for s := range subs {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			if s.evicted.CompareAndSwap(false, true) {
				close(s.ch)
			}
		}
	}

	eb.subscribers = make(map[EventType]map[*subscription]struct{})
}

// EventMetrics holds metrics for event publishing
type EventMetrics struct {
	EventType      EventType
	PublishedCount int64
	DroppedCount   int64
}

// GetMetrics returns the current metrics
func (eb *EventBus) GetMetrics() map[EventType]EventMetrics {
	eb.metricsLock.Lock()
	defer eb.metricsLock.Unlock()

	metrics := make(map[EventType]EventMetrics, len(eb.publishedCount))
	for eventType := range eb.publishedCount {
		metrics[eventType] = EventMetrics{
			EventType:      eventType,
			PublishedCount: eb.publishedCount[eventType],
			DroppedCount:   eb.droppedCount[eventType],
		}
	}
	return metrics
}

func (eb *EventBus) updateMetrics(eventType EventType, published, dropped int) {
	eb.metricsLock.Lock()
	defer eb.metricsLock.Unlock()
	eb.publishedCount[eventType] += int64(published)
	eb.droppedCount[eventType] += int64(dropped)
}

// SubscriberCount returns the number of live subscribers for a given
// event type.
func (eb *EventBus) SubscriberCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.subscribers[eventType])
}
