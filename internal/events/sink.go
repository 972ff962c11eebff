// Package events delivers committed escrow events to observers.
package events

import (
	"context"
	"errors"
	"sync"

	"htlc-escrow/internal/domain"
	"htlc-escrow/internal/logger"
	"htlc-escrow/internal/observability"
	"htlc-escrow/internal/storage"
)

// Sink receives events after their operation committed.
// Publish must not block the caller on slow observers.
type Sink interface {
	Publish(ctx context.Context, evs ...*domain.Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, ...*domain.Event) {}

// Multi fans events out to several sinks in order.
type Multi []Sink

// NewMulti creates a fan-out sink, skipping nil entries.
func NewMulti(sinks ...Sink) Multi {
	var m Multi
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m Multi) Publish(ctx context.Context, evs ...*domain.Event) {
	for _, e := range evs {
		if e != nil {
			observability.RecordEventPublished(string(e.Type), e.Timestamp)
		}
	}
	for _, s := range m {
		s.Publish(ctx, evs...)
	}
}

// StoreSink copies events into a secondary EventStore, e.g. the ClickHouse analytics log.
type StoreSink struct {
	name  string
	store storage.EventStore
	log   logger.Logger
}

// NewStoreSink creates a sink writing to store. name labels drop metrics.
func NewStoreSink(name string, store storage.EventStore, log logger.Logger) *StoreSink {
	return &StoreSink{name: name, store: store, log: log.With("store")}
}

// Publish appends each event. Duplicates are ignored so replays are harmless.
func (s *StoreSink) Publish(ctx context.Context, evs ...*domain.Event) {
	for _, e := range evs {
		if e == nil {
			continue
		}
		err := s.store.Append(ctx, e)
		if err == nil || errors.Is(err, storage.ErrDuplicateKey) {
			continue
		}
		observability.RecordEventDropped(s.name)
		s.log.Error("%s: append event %s: %v", s.name, e.ID, err)
	}
}

// LogSink writes one line per event.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a logging sink.
func NewLogSink(log logger.Logger) *LogSink {
	return &LogSink{log: log.With("events")}
}

func (s *LogSink) Publish(_ context.Context, evs ...*domain.Event) {
	for _, e := range evs {
		if e == nil {
			continue
		}
		if e.Secret != nil {
			s.log.Notice("%s escrow=%s seq=%d caller=%s amount=%d secret=%s",
				e.Type, e.EscrowID, e.Sequence, e.Caller, e.Amount, e.Secret)
			continue
		}
		s.log.Info("%s escrow=%s seq=%d caller=%s amount=%d",
			e.Type, e.EscrowID, e.Sequence, e.Caller, e.Amount)
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (r *Recorder) Publish(_ context.Context, evs ...*domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range evs {
		if e != nil {
			r.events = append(r.events, e)
		}
	}
}

// Events returns a snapshot of everything published so far.
func (r *Recorder) Events() []*domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Event, len(r.events))
	copy(out, r.events)
	return out
}

var (
	_ Sink = Discard{}
	_ Sink = Multi(nil)
	_ Sink = (*StoreSink)(nil)
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Recorder)(nil)
)
