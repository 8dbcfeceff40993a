package service

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"
)

// LiveEvent is a named event with a JSON encoded payload.
type LiveEvent struct {
	Name string
	Data []byte
}

// LiveSubscriber receives events for a single session. Deliver must not block;
// a returned error removes the subscriber, after which Close is called once.
type LiveSubscriber interface {
	Deliver(event LiveEvent) error
	Close()
}

type subscription struct {
	subscriber LiveSubscriber
}

// Broadcaster fans session events out to live subscribers. Delivery is best effort
// and at most once; subscribers that fail a delivery are pruned.
type Broadcaster struct {
	mu       sync.RWMutex
	sessions map[string]map[*subscription]struct{}
	total    int
	closed   bool

	logger  *zap.Logger
	metrics *MetricsService
}

// NewBroadcaster constructs an empty registry.
func NewBroadcaster(logger *zap.Logger, metrics *MetricsService) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		sessions: make(map[string]map[*subscription]struct{}),
		logger:   logger,
		metrics:  metrics,
	}
}

// Subscribe registers sub for sessionID and returns an idempotent unsubscribe func.
// Subscribing after Close closes sub immediately.
func (b *Broadcaster) Subscribe(sessionID string, sub LiveSubscriber) func() {
	entry := &subscription{subscriber: sub}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.Close()
		return func() {}
	}
	subs, ok := b.sessions[sessionID]
	if !ok {
		subs = make(map[*subscription]struct{})
		b.sessions[sessionID] = subs
	}
	subs[entry] = struct{}{}
	b.total++
	total := b.total
	b.mu.Unlock()

	b.metrics.SetLiveSubscribers(total)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			removed := b.removeLocked(sessionID, entry)
			total := b.total
			b.mu.Unlock()
			if removed {
				b.metrics.SetLiveSubscribers(total)
			}
		})
	}
}

// Publish delivers the event to every subscriber of sessionID and returns the
// number of successful deliveries. It never fails the caller.
func (b *Broadcaster) Publish(sessionID, event string, payload interface{}) int {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Warn("marshal live event", zap.String("session_id", sessionID), zap.String("event", event), zap.Error(err))
		return 0
	}

	b.mu.RLock()
	targets := make([]*subscription, 0, len(b.sessions[sessionID]))
	for entry := range b.sessions[sessionID] {
		targets = append(targets, entry)
	}
	b.mu.RUnlock()

	msg := LiveEvent{Name: event, Data: data}
	delivered := 0
	var failed []*subscription
	for _, entry := range targets {
		if err := entry.subscriber.Deliver(msg); err != nil {
			failed = append(failed, entry)
			continue
		}
		delivered++
	}

	if len(failed) > 0 {
		b.mu.Lock()
		pruned := make([]*subscription, 0, len(failed))
		for _, entry := range failed {
			if b.removeLocked(sessionID, entry) {
				pruned = append(pruned, entry)
			}
		}
		total := b.total
		b.mu.Unlock()

		for _, entry := range pruned {
			entry.subscriber.Close()
		}
		b.metrics.RecordBroadcastDrop(len(pruned))
		b.metrics.SetLiveSubscribers(total)
		b.logger.Debug("pruned live subscribers", zap.String("session_id", sessionID), zap.Int("count", len(pruned)))
	}

	return delivered
}

// Count returns the number of subscribers registered for sessionID.
func (b *Broadcaster) Count(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}

// Close removes and closes every subscriber. Later subscriptions are refused.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*subscription
	for _, subs := range b.sessions {
		for entry := range subs {
			all = append(all, entry)
		}
	}
	b.sessions = make(map[string]map[*subscription]struct{})
	b.total = 0
	b.mu.Unlock()

	for _, entry := range all {
		entry.subscriber.Close()
	}
	b.metrics.SetLiveSubscribers(0)
}

func (b *Broadcaster) removeLocked(sessionID string, entry *subscription) bool {
	subs, ok := b.sessions[sessionID]
	if !ok {
		return false
	}
	if _, ok := subs[entry]; !ok {
		return false
	}
	delete(subs, entry)
	if len(subs) == 0 {
		delete(b.sessions, sessionID)
	}
	b.total--
	return true
}
