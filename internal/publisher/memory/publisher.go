// Package memory captures invalidation events in process, standing in
// for Pub/Sub in tests and pubsub-disabled runs.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/registrolabs/renec-harvester/internal/registry"
)

// Event is one captured invalidation publish.
type Event struct {
	ID           string
	Topic        string
	Invalidation registry.InvalidationEvent
}

// Publisher records invalidation events for inspection.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish records the invalidation event and returns a pseudo ID.
// Payloads that are not invalidation events are rejected.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	event, ok := payload.(registry.InvalidationEvent)
	if !ok {
		return "", fmt.Errorf("unexpected payload type %T", payload)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("inv-%d", len(p.events)+1)
	p.events = append(p.events, Event{ID: id, Topic: topic, Invalidation: event})
	return id, nil
}

// Events returns the recorded publishes in order.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}

// EventsFor returns the invalidations recorded for one entity.
func (p *Publisher) EventsFor(kind registry.EntityKind, key string) []registry.InvalidationEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []registry.InvalidationEvent
	for _, e := range p.events {
		if e.Invalidation.Kind == kind && e.Invalidation.NaturalKey == key {
			out = append(out, e.Invalidation)
		}
	}
	return out
}
