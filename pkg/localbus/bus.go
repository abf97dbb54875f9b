// Copyright 2024-2026 Aiku AI

// Package localbus is an in-process event bus carrying local chat platform
// domain events to their subscribers.
//
// Subscribers register under an event name with a priority tier. Publish
// runs the handlers of one event synchronously, highest tier first and in
// registration order within a tier, and never stops early: a failing or
// panicking handler is logged and the remaining handlers still run.
package localbus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// Priority orders subscribers of the same event.
type Priority int

const (
	PriorityLow    Priority = 0
	PriorityMedium Priority = 1
	PriorityHigh   Priority = 2
)

// Handler processes the payload of one published event.
type Handler func(ctx context.Context, payload any) error

type subscription struct {
	id       string
	priority Priority
	handler  Handler
}

// Bus is an in-memory publish/subscribe bus. The zero value is not usable;
// create one with New.
type Bus struct {
	log  zerolog.Logger
	mu   sync.RWMutex
	subs map[string][]subscription
}

// New creates an empty bus.
func New(log zerolog.Logger) *Bus {
	return &Bus{
		log:  log.With().Str("component", "localbus").Logger(),
		subs: make(map[string][]subscription),
	}
}

// Subscribe registers handler for the named event. Registering the same id
// twice for one event replaces the earlier handler.
func (b *Bus) Subscribe(name string, priority Priority, id string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := slices.DeleteFunc(b.subs[name], func(s subscription) bool {
		return id != "" && s.id == id
	})
	subs = append(subs, subscription{id: id, priority: priority, handler: handler})
	slices.SortStableFunc(subs, func(a, b subscription) int {
		return int(b.priority) - int(a.priority)
	})
	b.subs[name] = subs
}

// Unsubscribe removes the handler registered under id for the named event.
func (b *Bus) Unsubscribe(name, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[name] = slices.DeleteFunc(b.subs[name], func(s subscription) bool {
		return s.id == id
	})
}

// Publish delivers payload to every subscriber of name and returns the
// joined handler errors.
func (b *Bus) Publish(ctx context.Context, name string, payload any) error {
	b.mu.RLock()
	subs := slices.Clone(b.subs[name])
	b.mu.RUnlock()

	if len(subs) == 0 {
		b.log.Trace().Str("event", name).Msg("No subscribers for event")
		return nil
	}

	var errs []error
	for _, sub := range subs {
		if err := b.call(ctx, name, sub, payload); err != nil {
			b.log.Error().Err(err).
				Str("event", name).
				Str("handler", sub.id).
				Msg("Event handler failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) call(ctx context.Context, name string, sub subscription, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler %s panicked on %s: %v", sub.id, name, r)
		}
	}()
	return sub.handler(ctx, payload)
}

// subscribers returns the handler ids registered for name in dispatch order.
func (b *Bus) subscribers(name string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.subs[name]))
	for _, s := range b.subs[name] {
		ids = append(ids, s.id)
	}
	return ids
}
