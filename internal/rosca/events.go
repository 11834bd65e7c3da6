package rosca

import (
	"context"
	"errors"
)

// EventKind names a state change.
type EventKind string

const (
	EventGroupCreated         EventKind = "group.created"
	EventMemberJoined         EventKind = "group.member_joined"
	EventGroupActivated       EventKind = "group.activated"
	EventContributionRecorded EventKind = "contribution.recorded"
	EventCycleAdvanced        EventKind = "cycle.advanced"
	EventGroupCompleted       EventKind = "group.completed"
	EventGroupCancelled       EventKind = "group.cancelled"
)

// Event is the structured record of one successful mutation.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	GroupID   uint64    `json:"group_id"`
	Cycle     uint32    `json:"cycle"`
	Member    Principal `json:"member,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Timestamp int64     `json:"timestamp,omitempty"`
}

// EventSink receives emitted events. Delivery is the sink's concern.
type EventSink interface {
	Emit(ctx context.Context, evt Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, evt Event) error

func (f SinkFunc) Emit(ctx context.Context, evt Event) error { return f(ctx, evt) }

// MultiSink delivers to every sink in order and joins their errors.
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, evt Event) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Emit(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EventEmitter stamps events with an id and hands them to the sink. It does
// not filter or buffer.
type EventEmitter struct {
	sink  EventSink
	newID func() string
}

// NewEventEmitter returns an emitter writing to sink. A nil sink discards.
func NewEventEmitter(sink EventSink, newID func() string) *EventEmitter {
	return &EventEmitter{sink: sink, newID: newID}
}

// Emit forwards evt to the sink.
func (e *EventEmitter) Emit(ctx context.Context, evt Event) (Event, error) {
	if evt.ID == "" && e.newID != nil {
		evt.ID = e.newID()
	}
	if e.sink == nil {
		return evt, nil
	}
	return evt, e.sink.Emit(ctx, evt)
}
