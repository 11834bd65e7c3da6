// Package stream fans engine events out to live subscribers such as SSE
// clients.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"rotasave.org/internal/rosca"
)

const subscriberBuffer = 16

type subscriber struct {
	ch     chan rosca.Event
	filter func(rosca.Event) bool
}

// Stream fan-outs group events to all active subscribers.
type Stream struct {
	mu      sync.RWMutex
	subs    map[int]subscriber
	next    int
	dropped atomic.Uint64
}

var _ rosca.EventSink = (*Stream)(nil)

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber for every event. The channel is closed
// when ctx ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan rosca.Event {
	return s.subscribe(ctx, nil)
}

// SubscribeGroup registers a subscriber for a single group's events.
func (s *Stream) SubscribeGroup(ctx context.Context, groupID uint64) <-chan rosca.Event {
	return s.subscribe(ctx, func(evt rosca.Event) bool { return evt.GroupID == groupID })
}

func (s *Stream) subscribe(ctx context.Context, filter func(rosca.Event) bool) <-chan rosca.Event {
	ch := make(chan rosca.Event, subscriberBuffer)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, filter: filter}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all matching subscribers.
func (s *Stream) Publish(evt rosca.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if sub.filter != nil && !sub.filter(evt) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking the engine.
			s.dropped.Add(1)
		}
	}
}

// Emit implements rosca.EventSink. Slow subscribers never fail delivery.
func (s *Stream) Emit(_ context.Context, evt rosca.Event) error {
	s.Publish(evt)
	return nil
}

// Subscribers reports the number of active subscribers.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}

// Dropped reports how many deliveries were skipped for slow subscribers.
func (s *Stream) Dropped() uint64 { return s.dropped.Load() }
