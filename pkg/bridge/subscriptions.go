// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/federation-bridge/pkg/localbus"
)

// Local domain event names.
const (
	LocalRoomCreated        = "room.created"
	LocalDirectBeforeCreate = "room.direct.before_create"
	LocalDirectCreated      = "room.direct.created"
	LocalMembersBeforeAdd   = "room.members.before_add"
	LocalMembersAdded       = "room.member.added"
	LocalMemberLeft         = "room.member.left"
	LocalMemberRemoved      = "room.member.removed"
	LocalMessageSaved       = "message.saved"
	LocalMessageDeleted     = "message.deleted"
	LocalReactionSet        = "reaction.set"
	LocalReactionUnset      = "reaction.unset"
	LocalRoomNameChanged    = "room.name.changed"
	LocalRoomTopicChanged   = "room.topic.changed"
	LocalRoomRoleChanging   = "room.role.changing"
	LocalUserTyping         = "user.typing"
	LocalPresenceStatus     = "presence.status"
	LocalSettingsChanged    = "settings.changed"
	LocalUserActivity       = "user.activity"
	subscriberID            = "federation-bridge"
)

// RoomCreatedPayload is published after a room is created locally. Only rooms
// marked Federated get a federation room. A set ExternalRoomID means the room
// already exists on the federation side.
type RoomCreatedPayload struct {
	Room           *Room
	Owner          *User
	Members        []string
	ExternalRoomID id.RoomID
}

// DirectRoomPayload is published after a direct room is created locally. The
// same federation rules as for RoomCreatedPayload apply.
type DirectRoomPayload struct {
	Room           *Room
	Members        []*User
	CreatorID      string
	ExternalRoomID id.RoomID
}

// UsernamesPayload lists users about to join a room, before the local
// records are created.
type UsernamesPayload struct {
	Usernames []string
}

// MembersAddedPayload is published after users were added to a room.
type MembersAddedPayload struct {
	Room      *Room
	Usernames []string
	Inviter   *User
}

// MemberLeftPayload is published after a user left a room.
type MemberLeftPayload struct {
	RoomID string
	User   *User
}

// MemberRemovedPayload is published after a user was removed from a room.
type MemberRemovedPayload struct {
	Room    *Room
	User    *User
	Remover *User
}

// MessagePayload is published after a message was saved. Edited messages
// carry Edited set.
type MessagePayload struct {
	Message *Message
	Room    *Room
	User    *User
}

type MessageDeletedPayload struct {
	Message *Message
	Room    *Room
	Actor   *User
}

type ReactionPayload struct {
	MessageID string
	Reaction  string
	User      *User
}

type RoomNamePayload struct {
	RoomID string
	Name   string
	User   *User
}

type RoomTopicPayload struct {
	Room  *Room
	Topic string
	User  *User
}

// RoomRolePayload is published before a room-scoped role is granted.
type RoomRolePayload struct {
	Room     *Room
	SenderID string
	UserID   string
	Role     Role
}

type TypingPayload struct {
	RoomID   string
	Username string
	Typing   bool
}

type PresencePayload struct {
	Username string
	Status   UserStatus
}

type SettingPayload struct {
	Key   string
	Value any
}

// ActivityPayload is published when a remote user starts or stops typing.
type ActivityPayload struct {
	RoomID string
	User   id.UserID
	Typing bool
}

func typed[T any](fn func(ctx context.Context, payload T) error) func(context.Context, any) error {
	return func(ctx context.Context, payload any) error {
		p, ok := payload.(T)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", payload)
		}
		return fn(ctx, p)
	}
}

// outbound wraps an outbound operation as a bus handler that records its
// result.
func (b *Bridge) outbound(name string, fn func(context.Context, any) error) localbus.Handler {
	return func(ctx context.Context, payload any) error {
		err := fn(ctx, payload)
		b.metrics.ObserveOutbound(name, err)
		if err != nil {
			b.log.Error().Err(err).Str("event", name).Msg("Outbound federation operation failed")
		}
		return err
	}
}

// inBridgedRoom reports whether a local message lives in a bridged room.
// Unknown messages are not bridged.
func (b *Bridge) inBridgedRoom(ctx context.Context, messageID string) (bool, error) {
	msg, err := b.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return false, fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return false, nil
	}
	room, err := b.store.GetRoomByID(ctx, msg.RoomID)
	if err != nil {
		return false, fmt.Errorf("failed to get room: %w", err)
	}
	return room.IsBridged(), nil
}

// RegisterLocalHandlers subscribes the outbound adapter to the local bus.
// Events in rooms that are not federated are ignored.
func (b *Bridge) RegisterLocalHandlers(bus *localbus.Bus) {
	sub := func(name string, priority localbus.Priority, fn func(context.Context, any) error) {
		bus.Subscribe(name, priority, subscriberID, b.outbound(name, fn))
		b.localEvents = append(b.localEvents, name)
	}

	sub(LocalSettingsChanged, localbus.PriorityHigh, typed(func(_ context.Context, p *SettingPayload) error {
		return b.ApplySetting(p.Key, p.Value)
	}))

	sub(LocalRoomCreated, localbus.PriorityMedium, typed(func(ctx context.Context, p *RoomCreatedPayload) error {
		if p.ExternalRoomID != "" {
			return b.AttachRoom(ctx, p.Room, p.ExternalRoomID)
		}
		if !p.Room.IsFederated() {
			return nil
		}
		_, err := b.CreateRoom(ctx, p.Room, p.Owner, p.Members)
		return err
	}))
	sub(LocalDirectBeforeCreate, localbus.PriorityHigh, typed(func(ctx context.Context, p *UsernamesPayload) error {
		return b.EnsureShadowUsersExist(ctx, p.Usernames)
	}))
	sub(LocalDirectCreated, localbus.PriorityMedium, typed(func(ctx context.Context, p *DirectRoomPayload) error {
		if p.ExternalRoomID != "" {
			return b.AttachRoom(ctx, p.Room, p.ExternalRoomID)
		}
		if !p.Room.IsFederated() {
			return nil
		}
		return b.CreateDirectRoom(ctx, p.Room, p.Members, p.CreatorID)
	}))
	sub(LocalMembersBeforeAdd, localbus.PriorityHigh, typed(func(ctx context.Context, p *UsernamesPayload) error {
		return b.EnsureShadowUsersExist(ctx, p.Usernames)
	}))
	sub(LocalMembersAdded, localbus.PriorityMedium, typed(func(ctx context.Context, p *MembersAddedPayload) error {
		if !p.Room.IsBridged() {
			return nil
		}
		return b.InviteUsers(ctx, p.Room, p.Usernames, p.Inviter)
	}))
	sub(LocalMemberLeft, localbus.PriorityMedium, typed(func(ctx context.Context, p *MemberLeftPayload) error {
		return b.LeaveRoom(ctx, p.RoomID, p.User, nil)
	}))
	sub(LocalMemberRemoved, localbus.PriorityMedium, typed(func(ctx context.Context, p *MemberRemovedPayload) error {
		if !p.Room.IsBridged() {
			return nil
		}
		return b.KickUser(ctx, p.Room, p.User, p.Remover)
	}))

	sub(LocalMessageSaved, localbus.PriorityMedium, typed(func(ctx context.Context, p *MessagePayload) error {
		if !p.Room.IsBridged() {
			return nil
		}
		if p.Message.Edited {
			if p.Message.ExternalEventID() == "" {
				return nil
			}
			return b.UpdateMessage(ctx, p.Room, p.Message)
		}
		return b.SendMessage(ctx, p.Message, p.Room, p.User)
	}))
	sub(LocalMessageDeleted, localbus.PriorityMedium, typed(func(ctx context.Context, p *MessageDeletedPayload) error {
		if !p.Room.IsBridged() {
			return nil
		}
		return b.DeleteMessage(ctx, p.Room, p.Message, p.Actor)
	}))
	sub(LocalReactionSet, localbus.PriorityLow, typed(func(ctx context.Context, p *ReactionPayload) error {
		if ok, err := b.inBridgedRoom(ctx, p.MessageID); !ok || err != nil {
			return err
		}
		return b.SendReaction(ctx, p.MessageID, p.Reaction, p.User)
	}))
	sub(LocalReactionUnset, localbus.PriorityLow, typed(func(ctx context.Context, p *ReactionPayload) error {
		if ok, err := b.inBridgedRoom(ctx, p.MessageID); !ok || err != nil {
			return err
		}
		return b.RemoveReaction(ctx, p.MessageID, p.Reaction, p.User)
	}))

	sub(LocalRoomNameChanged, localbus.PriorityMedium, typed(func(ctx context.Context, p *RoomNamePayload) error {
		room, err := b.store.GetRoomByID(ctx, p.RoomID)
		if err != nil {
			return fmt.Errorf("failed to get room: %w", err)
		}
		if !room.IsBridged() {
			return nil
		}
		return b.UpdateRoomName(ctx, p.RoomID, p.Name, p.User)
	}))
	sub(LocalRoomTopicChanged, localbus.PriorityMedium, typed(func(ctx context.Context, p *RoomTopicPayload) error {
		if !p.Room.IsBridged() {
			return nil
		}
		return b.UpdateRoomTopic(ctx, p.Room, p.Topic, p.User)
	}))
	sub(LocalRoomRoleChanging, localbus.PriorityHigh, typed(func(ctx context.Context, p *RoomRolePayload) error {
		if !p.Room.IsBridged() {
			return nil
		}
		return b.SetRoomRole(ctx, p.Room, p.SenderID, p.UserID, p.Role)
	}))

	sub(LocalUserTyping, localbus.PriorityLow, typed(func(ctx context.Context, p *TypingPayload) error {
		b.NotifyTyping(ctx, p.RoomID, p.Username, p.Typing)
		return nil
	}))
	sub(LocalPresenceStatus, localbus.PriorityLow, typed(func(ctx context.Context, p *PresencePayload) error {
		return b.NotifyPresence(ctx, p.Username, p.Status)
	}))
}

// UnregisterLocalHandlers removes the subscriptions made by
// RegisterLocalHandlers.
func (b *Bridge) UnregisterLocalHandlers(bus *localbus.Bus) {
	for _, name := range b.localEvents {
		bus.Unsubscribe(name, subscriberID)
	}
	b.localEvents = nil
}
