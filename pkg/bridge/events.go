// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// EventType names an inbound federation event stream.
type EventType string

const (
	EventMessage   EventType = "message"
	EventEncrypted EventType = "encrypted"
	EventRedaction EventType = "redaction"
	EventRoomName  EventType = "room.name"
	EventRoomTopic EventType = "room.topic"
	EventRoomRole  EventType = "room.role"
	EventTyping    EventType = "typing"
	EventPresence  EventType = "presence"

	// EventMembership carries joins and leaves of remote users.
	EventMembership EventType = "membership"
)

// AllEventTypes lists every inbound stream the bridge subscribes to.
var AllEventTypes = []EventType{
	EventMessage, EventEncrypted, EventRedaction,
	EventRoomName, EventRoomTopic, EventRoomRole,
	EventTyping, EventPresence, EventMembership,
}

// InboundEvent is an event delivered by the federation transport.
type InboundEvent interface {
	Type() EventType
}

// EventHandler consumes inbound events.
type EventHandler func(ctx context.Context, evt InboundEvent)

// EventSource is the transport's inbound event stream.
type EventSource interface {
	Subscribe(evtType EventType, handler EventHandler)
}

type MessageEvent struct {
	EventID id.EventID
	RoomID  id.RoomID
	Sender  id.UserID
	Content *event.MessageEventContent
}

type EncryptedEvent struct {
	EventID    id.EventID
	RoomID     id.RoomID
	Sender     id.UserID
	Algorithm  id.Algorithm
	Ciphertext string
	RelatesTo  *event.RelatesTo
}

type RedactionEvent struct {
	EventID id.EventID
	RoomID  id.RoomID
	Sender  id.UserID
	Redacts id.EventID
}

type RoomNameEvent struct {
	RoomID id.RoomID
	Sender id.UserID
	Name   string
}

type RoomTopicEvent struct {
	RoomID id.RoomID
	Sender id.UserID
	Topic  string
}

// RoomRoleEvent reports that Sender changed the role of Target.
type RoomRoleEvent struct {
	RoomID id.RoomID
	Sender id.UserID
	Target id.UserID
	Role   Role
}

type TypingEvent struct {
	RoomID id.RoomID
	UserID id.UserID
	Typing bool
}

type PresenceEvent struct {
	UserID   id.UserID
	Presence event.Presence
}

// MembershipEvent reports a membership change of Target made by Sender.
type MembershipEvent struct {
	RoomID     id.RoomID
	Sender     id.UserID
	Target     id.UserID
	Membership event.Membership
}

func (*MessageEvent) Type() EventType    { return EventMessage }
func (*EncryptedEvent) Type() EventType  { return EventEncrypted }
func (*RedactionEvent) Type() EventType  { return EventRedaction }
func (*RoomNameEvent) Type() EventType   { return EventRoomName }
func (*RoomTopicEvent) Type() EventType  { return EventRoomTopic }
func (*RoomRoleEvent) Type() EventType   { return EventRoomRole }
func (*TypingEvent) Type() EventType     { return EventTyping }
func (*PresenceEvent) Type() EventType   { return EventPresence }
func (*MembershipEvent) Type() EventType { return EventMembership }
