// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// CreateRoom creates the federation room for a new public or private room,
// records the mapping and invites every initial member except the owner.
func (b *Bridge) CreateRoom(ctx context.Context, room *Room, owner *User, members []string) (id.RoomID, error) {
	if b.transport == nil {
		return "", ErrConfigurationUnavailable
	}
	if room.Type != RoomPublic && room.Type != RoomPrivate {
		return "", fmt.Errorf("room %s is not a public or private room", room.ID)
	}

	server := b.serverName()
	creator := ToRemoteIdentifier(owner.Username, server)
	name := firstNonEmpty(room.Name, room.FriendlyName, "Untitled Room")
	visibility := VisibilityInvite
	if room.Type == RoomPublic {
		visibility = VisibilityPublic
	}

	var roomID id.RoomID
	err := b.call("create room", func() (err error) {
		roomID, err = b.transport.CreateRoom(ctx, creator, name, visibility)
		return err
	})
	if err != nil {
		return "", err
	}

	fed := RoomFederation{ExternalRoomID: roomID, Origin: server}
	if err = b.store.SetRoomFederation(ctx, room.ID, fed); err != nil {
		return roomID, fmt.Errorf("failed to save room mapping: %w", err)
	}
	room.Federation = &fed
	b.log.Info().Str("room_id", room.ID).Stringer("external_room_id", roomID).Msg("Created federation room")

	invitees := slices.DeleteFunc(slices.Clone(members), func(m string) bool { return m == owner.Username })
	if len(invitees) > 0 {
		if err = b.InviteUsers(ctx, room, invitees, owner); err != nil {
			return roomID, err
		}
	}
	return roomID, nil
}

// AttachRoom records the mapping of a room that already exists on the
// federation side. The origin is the server part of the external room ID.
func (b *Bridge) AttachRoom(ctx context.Context, room *Room, externalID id.RoomID) error {
	_, origin, ok := strings.Cut(string(externalID), ":")
	if !ok || origin == "" {
		return fmt.Errorf("%w: room ID %s", ErrMalformedIdentifier, externalID)
	}
	fed := RoomFederation{ExternalRoomID: externalID, Origin: origin}
	if err := b.store.SetRoomFederation(ctx, room.ID, fed); err != nil {
		return fmt.Errorf("failed to save room mapping: %w", err)
	}
	room.Federation = &fed
	return nil
}

// CreateDirectRoom bridges a direct room. A two-member room becomes a native
// direct room and requires the peer to be a shadow user. Larger rooms become
// private group rooms; members that are not shadow users are skipped and
// individual invite failures are only logged.
func (b *Bridge) CreateDirectRoom(ctx context.Context, room *Room, members []*User, creatorID string) error {
	if !b.available("create direct room") {
		return nil
	}

	idx := slices.IndexFunc(members, func(u *User) bool { return u.ID == creatorID })
	var creator *User
	if idx >= 0 {
		creator = members[idx]
	} else {
		var err error
		if creator, err = b.store.GetUserByID(ctx, creatorID); err != nil {
			return fmt.Errorf("failed to get creator: %w", err)
		}
	}
	if creator == nil {
		return unmapped("creator %s", creatorID)
	}

	server := b.serverName()
	creatorMXID := ToRemoteIdentifier(creator.Username, server)
	var roomID id.RoomID

	if len(members) == 2 {
		var peer *User
		for _, m := range members {
			if m.ID != creatorID {
				peer = m
			}
		}
		if peer == nil {
			return fmt.Errorf("other member not found in direct room %s", room.ID)
		}
		if !peer.IsShadow() {
			return fmt.Errorf("%w: %s", ErrPeerNotFederated, peer.Username)
		}
		err := b.call("create direct room", func() (err error) {
			roomID, err = b.transport.CreateDirectRoom(ctx, creatorMXID, peer.RemoteID)
			return err
		})
		if err != nil {
			return err
		}
		return b.saveDirectRoom(ctx, room, roomID, server)
	}

	name := firstNonEmpty(room.Name, room.FriendlyName, fmt.Sprintf("Group chat with %d members", len(members)))
	err := b.call("create room", func() (err error) {
		roomID, err = b.transport.CreateRoom(ctx, creatorMXID, name, VisibilityInvite)
		return err
	})
	if err != nil {
		return err
	}
	if err = b.saveDirectRoom(ctx, room, roomID, server); err != nil {
		return err
	}
	for _, m := range members {
		if m.ID == creatorID || !m.IsShadow() {
			continue
		}
		err = b.call("invite user", func() error {
			return b.transport.InviteUser(ctx, roomID, creatorMXID, m.RemoteID)
		})
		if err != nil {
			b.log.Warn().Err(err).
				Stringer("external_room_id", roomID).
				Stringer("user_id", m.RemoteID).
				Msg("Failed to invite member to group direct room")
		}
	}
	return nil
}

func (b *Bridge) saveDirectRoom(ctx context.Context, room *Room, roomID id.RoomID, server string) error {
	fed := RoomFederation{ExternalRoomID: roomID, Origin: server}
	if err := b.store.SetRoomFederation(ctx, room.ID, fed); err != nil {
		return fmt.Errorf("failed to save room mapping: %w", err)
	}
	room.Federation = &fed
	b.log.Info().Str("room_id", room.ID).Stringer("external_room_id", roomID).Msg("Created federation direct room")
	return nil
}

// SendMessage sends a new local message to the federation and records the
// resulting event ID on it. Messages that already crossed the bridge are
// skipped.
func (b *Bridge) SendMessage(ctx context.Context, msg *Message, room *Room, user *User) error {
	if !b.available("send message") {
		return nil
	}
	if evt := msg.ExternalEventID(); evt != "" {
		b.log.Debug().Str("message_id", msg.ID).Stringer("event_id", evt).Msg("Message already bridged, not sending")
		return nil
	}
	if !room.IsBridged() {
		return unmapped("room %s", room.ID)
	}

	sender := user.FederationID(b.serverName())
	rel, err := b.ResolveRelation(ctx, msg)
	if err != nil {
		return err
	}

	var content *event.MessageEventContent
	if len(msg.Files) > 0 {
		if b.media == nil {
			return ErrConfigurationUnavailable
		}
		// Only the first file is the upload itself, the rest are thumbnails.
		file := msg.Files[0]
		uri, err := b.media.PrepareLocalFile(ctx, file, sender)
		if err != nil {
			return fmt.Errorf("failed to upload file %s: %w", file.ID, err)
		}
		content = fileContent(file, uri)
	} else {
		content = b.textContent(strings.TrimPrefix(msg.Text, quotePrefix(msg.Text)))
	}
	content.RelatesTo = rel.RelatesTo()

	var eventID id.EventID
	err = b.call("send message", func() (err error) {
		eventID, err = b.transport.SendMessage(ctx, room.ExternalID(), sender, content)
		return err
	})
	if err != nil {
		return err
	}
	if eventID == "" {
		return ErrEmptyBridgeResult
	}
	if err = b.store.SetMessageEventID(ctx, msg.ID, eventID, BridgedOutbound); err != nil {
		return fmt.Errorf("failed to save event ID of message %s: %w", msg.ID, err)
	}
	msg.Federation = MessageFederation{EventID: eventID, State: BridgedOutbound}
	b.log.Debug().Str("message_id", msg.ID).Stringer("event_id", eventID).Msg("Sent message to federation")
	return nil
}

// UpdateMessage sends an edit of a bridged message. Edits authored by
// shadow users arrived from the federation and are not sent back.
func (b *Bridge) UpdateMessage(ctx context.Context, room *Room, msg *Message) error {
	if !b.available("update message") {
		return nil
	}
	original := msg.ExternalEventID()
	if original == "" {
		return unmapped("message %s", msg.ID)
	}
	if !room.IsBridged() {
		return unmapped("room %s", room.ID)
	}
	user, err := b.store.GetUserByID(ctx, msg.SenderID)
	if err != nil {
		return fmt.Errorf("failed to get sender: %w", err)
	}
	if user == nil {
		return unmapped("user %s", msg.SenderID)
	}
	if user.IsShadow() {
		b.log.Debug().Str("message_id", msg.ID).Msg("Edit by shadow user, not sending")
		return nil
	}

	content := b.textContent(strings.TrimPrefix(msg.Text, quotePrefix(msg.Text)))
	content.SetEdit(original)
	return b.call("edit message", func() error {
		_, err := b.transport.SendMessage(ctx, room.ExternalID(), user.FederationID(b.serverName()), content)
		return err
	})
}

// DeleteMessage redacts a bridged message. Messages that never crossed the
// bridge or are already deleted are ignored, as are deletions by shadow
// users.
func (b *Bridge) DeleteMessage(ctx context.Context, room *Room, msg *Message, actor *User) error {
	evt := msg.ExternalEventID()
	if evt == "" || msg.Deleted {
		return nil
	}
	if actor.IsShadow() {
		b.log.Debug().Str("message_id", msg.ID).Msg("Deletion by shadow user, not redacting")
		return nil
	}
	if !b.available("delete message") {
		return nil
	}
	if !room.IsBridged() {
		return unmapped("room %s", room.ID)
	}
	if actor == nil {
		return unmapped("actor deleting message %s", msg.ID)
	}
	sender := actor.FederationID(b.serverName())
	return b.call("redact message", func() error {
		_, err := b.transport.Redact(ctx, room.ExternalID(), sender, evt)
		return err
	})
}

// SendReaction sends a reaction and records its event ID for the reacting
// user. Reactions of shadow users came from the federation and are skipped.
func (b *Bridge) SendReaction(ctx context.Context, messageID, reaction string, user *User) error {
	if user.IsShadow() {
		b.log.Debug().Str("message_id", messageID).Str("reaction", reaction).Msg("Reaction by shadow user, not sending")
		return nil
	}
	if !b.available("send reaction") {
		return nil
	}
	msg, room, err := b.bridgedMessage(ctx, messageID)
	if err != nil {
		return err
	}

	var eventID id.EventID
	err = b.call("send reaction", func() (err error) {
		eventID, err = b.transport.SendReaction(ctx, room.ExternalID(), user.FederationID(b.serverName()), msg.ExternalEventID(), ShortcodeToEmoji(reaction))
		return err
	})
	if err != nil {
		return err
	}
	if eventID == "" {
		return ErrEmptyBridgeResult
	}
	return b.store.SetReactionEdge(ctx, &ReactionEdge{
		MessageID: messageID,
		Reaction:  reaction,
		Username:  user.Username,
		EventID:   eventID,
	})
}

// RemoveReaction redacts the reaction event user sent for reaction on the
// message. Without a recorded edge there is nothing to retract.
func (b *Bridge) RemoveReaction(ctx context.Context, messageID, reaction string, user *User) error {
	if user.IsShadow() {
		b.log.Debug().Str("message_id", messageID).Str("reaction", reaction).Msg("Reaction removed by shadow user, not redacting")
		return nil
	}
	edge, err := b.store.GetReactionEdge(ctx, messageID, reaction, user.Username)
	if err != nil {
		return fmt.Errorf("failed to get reaction edge: %w", err)
	}
	if edge == nil {
		b.log.Debug().Str("message_id", messageID).Str("reaction", reaction).Msg("No reaction edge, nothing to remove")
		return nil
	}
	if !b.available("remove reaction") {
		return nil
	}
	_, room, err := b.bridgedMessage(ctx, messageID)
	if err != nil {
		return err
	}
	err = b.call("redact reaction", func() error {
		_, err := b.transport.Redact(ctx, room.ExternalID(), user.FederationID(b.serverName()), edge.EventID)
		return err
	})
	if err != nil {
		return err
	}
	return b.store.ClearReactionEdge(ctx, messageID, reaction, user.Username)
}

func (b *Bridge) bridgedMessage(ctx context.Context, messageID string) (*Message, *Room, error) {
	msg, err := b.store.GetMessageByID(ctx, messageID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get message: %w", err)
	}
	if msg == nil {
		return nil, nil, unmapped("message %s not found", messageID)
	}
	room, err := b.store.GetRoomByID(ctx, msg.RoomID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get room: %w", err)
	}
	if !room.IsBridged() {
		return nil, nil, unmapped("room %s", msg.RoomID)
	}
	if msg.ExternalEventID() == "" {
		return nil, nil, unmapped("message %s", messageID)
	}
	return msg, room, nil
}

// InviteUsers invites targets to a bridged room. Targets that are federation
// identifiers are invited directly. Local usernames are invited and the
// invite is accepted on their behalf right away, unless the inviter is a
// shadow user whose invite the federation side already handled. A failed
// invite does not stop the others; all failures are returned together.
func (b *Bridge) InviteUsers(ctx context.Context, room *Room, targets []string, inviter *User) error {
	if !b.available("invite users") {
		return nil
	}
	if !room.IsBridged() {
		return unmapped("room %s", room.ID)
	}
	roomID := room.ExternalID()
	inviterID := inviter.FederationID(b.serverName())

	var g errgroup.Group
	errs := make([]error, len(targets))
	for i, target := range targets {
		g.Go(func() error {
			errs[i] = b.inviteUser(ctx, roomID, inviter, inviterID, target)
			return errs[i]
		})
	}
	if g.Wait() != nil {
		return errors.Join(errs...)
	}
	return nil
}

func (b *Bridge) inviteUser(ctx context.Context, roomID id.RoomID, inviter *User, inviterID id.UserID, target string) error {
	if ValidateRemoteIdentifier(target) {
		err := b.call("invite user", func() error {
			return b.transport.InviteUser(ctx, roomID, inviterID, id.UserID(target))
		})
		if err != nil {
			return fmt.Errorf("failed to invite %s: %w", target, err)
		}
		return nil
	}
	if inviter.IsShadow() {
		b.log.Debug().Str("username", target).Msg("Inviter is a shadow user, not inviting")
		return nil
	}
	invitee := ToRemoteIdentifier(target, b.serverName())
	err := b.call("invite user", func() error {
		return b.transport.InviteUser(ctx, roomID, inviterID, invitee)
	})
	if err != nil {
		return fmt.Errorf("failed to invite %s: %w", target, err)
	}
	return b.call("accept invite", func() error {
		return b.transport.AcceptInvite(ctx, roomID, invitee)
	})
}

// LeaveRoom makes user leave the federation room. Removals by a shadow
// user and leaves of shadow users are federation-originated and ignored.
func (b *Bridge) LeaveRoom(ctx context.Context, roomID string, user, kicker *User) error {
	if kicker.IsShadow() || user.IsShadow() {
		b.log.Debug().Str("room_id", roomID).Msg("Leave originated from federation, ignoring")
		return nil
	}
	room, err := b.store.GetRoomByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to get room: %w", err)
	}
	if !room.IsBridged() {
		return nil
	}
	if !b.available("leave room") {
		return nil
	}
	err = b.call("leave room", func() error {
		return b.transport.LeaveRoom(ctx, room.ExternalID(), user.FederationID(b.serverName()))
	})
	if err == nil {
		b.log.Info().Str("username", user.Username).Stringer("external_room_id", room.ExternalID()).Msg("User left federation room")
	}
	return err
}

// KickUser removes removed from the federation room on behalf of remover.
func (b *Bridge) KickUser(ctx context.Context, room *Room, removed, remover *User) error {
	if remover.IsShadow() {
		b.log.Debug().Str("room_id", room.ID).Msg("Kick by shadow user, ignoring")
		return nil
	}
	if !b.available("kick user") {
		return nil
	}
	if !room.IsBridged() {
		return unmapped("room %s", room.ID)
	}
	server := b.serverName()
	return b.call("kick user", func() error {
		return b.transport.KickUser(ctx, room.ExternalID(), remover.FederationID(server), removed.FederationID(server), "Kicked by "+remover.Username)
	})
}

// UpdateRoomName renames the federation room.
func (b *Bridge) UpdateRoomName(ctx context.Context, roomID, name string, user *User) error {
	if !b.available("update room name") {
		return nil
	}
	room, err := b.store.GetRoomByID(ctx, roomID)
	if err != nil {
		return fmt.Errorf("failed to get room: %w", err)
	}
	if !room.IsBridged() {
		return unmapped("room %s", roomID)
	}
	if user.IsShadow() {
		b.log.Debug().Str("room_id", roomID).Msg("Room name changed by shadow user, ignoring")
		return nil
	}
	return b.call("set room name", func() error {
		return b.transport.SetRoomName(ctx, room.ExternalID(), ToRemoteIdentifier(user.Username, b.serverName()), name)
	})
}

// UpdateRoomTopic changes the topic of the federation room.
func (b *Bridge) UpdateRoomTopic(ctx context.Context, room *Room, topic string, user *User) error {
	if !b.available("update room topic") {
		return nil
	}
	if user.IsShadow() {
		b.log.Debug().Str("room_id", room.ID).Msg("Room topic changed by shadow user, ignoring")
		return nil
	}
	if !room.IsBridged() {
		return unmapped("room %s", room.ID)
	}
	return b.call("set room topic", func() error {
		return b.transport.SetRoomTopic(ctx, room.ExternalID(), ToRemoteIdentifier(user.Username, b.serverName()), topic)
	})
}

// SetRoomRole maps a room-scoped role change to a federation power level.
func (b *Bridge) SetRoomRole(ctx context.Context, room *Room, senderID, userID string, role Role) error {
	level, err := role.PowerLevel()
	if err != nil {
		return fmt.Errorf("%w: %s", err, role)
	}
	if !b.available("set room role") {
		return nil
	}
	sender, err := b.store.GetUserByID(ctx, senderID)
	if err != nil {
		return fmt.Errorf("failed to get sender: %w", err)
	}
	if sender == nil {
		return unmapped("user %s", senderID)
	}
	if sender.IsShadow() {
		b.log.Debug().Str("room_id", room.ID).Msg("Role changed by shadow user, ignoring")
		return nil
	}
	target, err := b.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if target == nil {
		return unmapped("user %s", userID)
	}
	if !room.IsBridged() {
		return unmapped("room %s", room.ID)
	}
	server := b.serverName()
	return b.call("set power level", func() error {
		return b.transport.SetPowerLevel(ctx, room.ExternalID(), ToRemoteIdentifier(sender.Username, server), target.FederationID(server), level)
	})
}

// GetEventByID fetches a federation event.
func (b *Bridge) GetEventByID(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error) {
	if b.transport == nil {
		return nil, ErrConfigurationUnavailable
	}
	var evt *event.Event
	err := b.call("get event", func() (err error) {
		evt, err = b.transport.GetEvent(ctx, roomID, eventID)
		return err
	})
	return evt, err
}
