package sinks

import (
	"context"
	"sync"

	"github.com/leadharvest/orchestrator/internal/progress"
)

// SubscriberSink fans events out to per-project subscribers over buffered
// channels. Delivery is best effort: a subscriber that falls behind misses
// events rather than stalling the hub's flush loop.
type SubscriberSink struct {
	mu     sync.RWMutex
	subs   map[string][]chan progress.Event
	buffer int
	closed bool
}

// NewSubscriberSink creates a SubscriberSink with the given per-subscriber
// channel buffer (default 64).
func NewSubscriberSink(buffer int) *SubscriberSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &SubscriberSink{
		subs:   make(map[string][]chan progress.Event),
		buffer: buffer,
	}
}

// Subscribe registers interest in one project's events. The returned cancel
// func removes the subscription and closes the channel.
func (s *SubscriberSink) Subscribe(projectID string) (<-chan progress.Event, func()) {
	ch := make(chan progress.Event, s.buffer)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subs[projectID] = append(s.subs[projectID], ch)
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			list := s.subs[projectID]
			for i, c := range list {
				if c == ch {
					s.subs[projectID] = append(list[:i], list[i+1:]...)
					break
				}
			}
			if len(s.subs[projectID]) == 0 {
				delete(s.subs, projectID)
			}
			if !s.closed {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Consume delivers each event to that project's subscribers without blocking.
func (s *SubscriberSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	for _, evt := range batch {
		for _, ch := range s.subs[evt.ProjectID] {
			select {
			case ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Close drops all subscriptions and closes their channels.
func (s *SubscriberSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for id, list := range s.subs {
		for _, ch := range list {
			close(ch)
		}
		delete(s.subs, id)
	}
	return nil
}
