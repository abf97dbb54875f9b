// Copyright 2024-2026 Aiku AI

package matrixtransport

import (
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/federation-bridge/pkg/bridge"
)

// EventSource converts appservice transactions into typed inbound events.
// Events sent by users on the local server are echoes of outbound requests
// and are dropped.
type EventSource struct {
	log        zerolog.Logger
	serverName func() string

	handlersLock sync.RWMutex
	handlers     map[bridge.EventType][]bridge.EventHandler

	typingLock sync.Mutex
	typing     map[id.RoomID][]id.UserID
}

var _ bridge.EventSource = (*EventSource)(nil)

// NewEventSource creates an event source. serverName is consulted per event
// so that a changed federation domain applies immediately.
func NewEventSource(serverName func() string, log zerolog.Logger) *EventSource {
	return &EventSource{
		log:        log.With().Str("component", "eventsource").Logger(),
		serverName: serverName,
		handlers:   make(map[bridge.EventType][]bridge.EventHandler),
		typing:     make(map[id.RoomID][]id.UserID),
	}
}

func (s *EventSource) Subscribe(evtType bridge.EventType, handler bridge.EventHandler) {
	s.handlersLock.Lock()
	defer s.handlersLock.Unlock()
	s.handlers[evtType] = append(s.handlers[evtType], handler)
}

// Attach registers the source on an appservice event processor.
func (s *EventSource) Attach(ep *appservice.EventProcessor) {
	for _, evtType := range []event.Type{
		event.EventMessage,
		event.EventEncrypted,
		event.EventRedaction,
		event.StateRoomName,
		event.StateTopic,
		event.StatePowerLevels,
		event.StateMember,
		event.EphemeralEventTyping,
		event.EphemeralEventPresence,
	} {
		ep.On(evtType, s.Handle)
	}
}

// Handle converts evt and dispatches the results to the subscribers.
func (s *EventSource) Handle(ctx context.Context, evt *event.Event) {
	for _, inbound := range s.Convert(evt) {
		s.handlersLock.RLock()
		handlers := s.handlers[inbound.Type()]
		s.handlersLock.RUnlock()
		if len(handlers) == 0 {
			s.log.Trace().Str("event_type", string(inbound.Type())).Msg("No subscribers for inbound event")
			continue
		}
		for _, handler := range handlers {
			handler(ctx, inbound)
		}
	}
}

func (s *EventSource) isLocal(userID id.UserID) bool {
	return userID.Homeserver() == s.serverName()
}

// Convert turns a Matrix event into zero or more inbound events.
func (s *EventSource) Convert(evt *event.Event) []bridge.InboundEvent {
	switch evt.Type {
	case event.EphemeralEventTyping:
		return s.convertTyping(evt)
	case event.EphemeralEventPresence:
		if s.isLocal(evt.Sender) {
			return nil
		}
		return []bridge.InboundEvent{&bridge.PresenceEvent{
			UserID:   evt.Sender,
			Presence: evt.Content.AsPresence().Presence,
		}}
	}
	if s.isLocal(evt.Sender) {
		return nil
	}
	switch evt.Type {
	case event.EventMessage:
		return []bridge.InboundEvent{&bridge.MessageEvent{
			EventID: evt.ID,
			RoomID:  evt.RoomID,
			Sender:  evt.Sender,
			Content: evt.Content.AsMessage(),
		}}
	case event.EventEncrypted:
		content := evt.Content.AsEncrypted()
		ciphertext := string(content.MegolmCiphertext)
		if ciphertext == "" {
			ciphertext = string(content.Ciphertext)
		}
		return []bridge.InboundEvent{&bridge.EncryptedEvent{
			EventID:    evt.ID,
			RoomID:     evt.RoomID,
			Sender:     evt.Sender,
			Algorithm:  content.Algorithm,
			Ciphertext: ciphertext,
			RelatesTo:  content.RelatesTo,
		}}
	case event.EventRedaction:
		redacts := evt.Redacts
		if redacts == "" {
			redacts = evt.Content.AsRedaction().Redacts
		}
		if redacts == "" {
			return nil
		}
		return []bridge.InboundEvent{&bridge.RedactionEvent{
			EventID: evt.ID,
			RoomID:  evt.RoomID,
			Sender:  evt.Sender,
			Redacts: redacts,
		}}
	case event.StateRoomName:
		return []bridge.InboundEvent{&bridge.RoomNameEvent{
			RoomID: evt.RoomID,
			Sender: evt.Sender,
			Name:   evt.Content.AsRoomName().Name,
		}}
	case event.StateTopic:
		return []bridge.InboundEvent{&bridge.RoomTopicEvent{
			RoomID: evt.RoomID,
			Sender: evt.Sender,
			Topic:  evt.Content.AsTopic().Topic,
		}}
	case event.StatePowerLevels:
		return convertPowerLevels(evt)
	case event.StateMember:
		if evt.StateKey == nil {
			return nil
		}
		return []bridge.InboundEvent{&bridge.MembershipEvent{
			RoomID:     evt.RoomID,
			Sender:     evt.Sender,
			Target:     id.UserID(*evt.StateKey),
			Membership: evt.Content.AsMember().Membership,
		}}
	}
	return nil
}

// convertPowerLevels reports one role change per user whose effective
// power level differs from the previous state.
func convertPowerLevels(evt *event.Event) []bridge.InboundEvent {
	newLevels := evt.Content.AsPowerLevels()
	oldLevels := &event.PowerLevelsEventContent{}
	if prev := evt.Unsigned.PrevContent; prev != nil {
		_ = prev.ParseRaw(evt.Type)
		oldLevels = prev.AsPowerLevels()
	}
	users := make([]id.UserID, 0, len(newLevels.Users)+len(oldLevels.Users))
	for userID := range newLevels.Users {
		users = append(users, userID)
	}
	for userID := range oldLevels.Users {
		users = append(users, userID)
	}
	slices.Sort(users)
	users = slices.Compact(users)

	var out []bridge.InboundEvent
	for _, userID := range users {
		level := newLevels.GetUserLevel(userID)
		if level == oldLevels.GetUserLevel(userID) {
			continue
		}
		out = append(out, &bridge.RoomRoleEvent{
			RoomID: evt.RoomID,
			Sender: evt.Sender,
			Target: userID,
			Role:   bridge.RoleForPowerLevel(level),
		})
	}
	return out
}

// convertTyping diffs the typing users of a room against the previous
// notification.
func (s *EventSource) convertTyping(evt *event.Event) []bridge.InboundEvent {
	current := make([]id.UserID, 0)
	for _, userID := range evt.Content.AsTyping().UserIDs {
		if !s.isLocal(userID) {
			current = append(current, userID)
		}
	}
	slices.Sort(current)
	current = slices.Compact(current)

	s.typingLock.Lock()
	previous := s.typing[evt.RoomID]
	if len(current) == 0 {
		delete(s.typing, evt.RoomID)
	} else {
		s.typing[evt.RoomID] = current
	}
	s.typingLock.Unlock()

	var out []bridge.InboundEvent
	for _, userID := range current {
		if !slices.Contains(previous, userID) {
			out = append(out, &bridge.TypingEvent{RoomID: evt.RoomID, UserID: userID, Typing: true})
		}
	}
	for _, userID := range previous {
		if !slices.Contains(current, userID) {
			out = append(out, &bridge.TypingEvent{RoomID: evt.RoomID, UserID: userID, Typing: false})
		}
	}
	return out
}
