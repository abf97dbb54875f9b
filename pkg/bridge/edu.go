// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
)

var statusToPresence = map[UserStatus]event.Presence{
	StatusOnline:   event.PresenceOnline,
	StatusOffline:  event.PresenceOffline,
	StatusAway:     event.PresenceUnavailable,
	StatusBusy:     event.PresenceUnavailable,
	StatusDisabled: event.PresenceOffline,
}

// PresenceForStatus maps a local status to a federation presence.
func PresenceForStatus(status UserStatus) event.Presence {
	if p, ok := statusToPresence[status]; ok {
		return p
	}
	return event.PresenceOffline
}

// StatusForPresence maps a federation presence to a local status.
func StatusForPresence(presence event.Presence) UserStatus {
	switch presence {
	case event.PresenceOnline:
		return StatusOnline
	case event.PresenceUnavailable:
		return StatusAway
	default:
		return StatusOffline
	}
}

// NotifyTyping forwards a local typing signal. Typing is best effort:
// unknown rooms and users and transport failures are only logged.
func (b *Bridge) NotifyTyping(ctx context.Context, roomID, username string, typing bool) {
	if !b.settings.load().ProcessTyping || roomID == "" || username == "" || b.transport == nil {
		return
	}
	room, err := b.store.GetRoomByID(ctx, roomID)
	if err != nil || !room.IsBridged() {
		return
	}
	user, err := b.store.GetUserByUsername(ctx, username)
	if err != nil || user == nil || user.IsShadow() {
		return
	}
	err = b.call("send typing", func() error {
		return b.transport.SendTyping(ctx, room.ExternalID(), user.FederationID(b.serverName()), typing)
	})
	if err != nil {
		b.log.Debug().Err(err).Str("room_id", roomID).Msg("Failed to send typing notification")
	}
}

// NotifyPresence sends the presence of a local user to every bridged room
// the user is in. Remote users, whose name carries a server part, are
// skipped.
func (b *Bridge) NotifyPresence(ctx context.Context, username string, status UserStatus) error {
	if !b.settings.load().ProcessPresence || b.transport == nil {
		return nil
	}
	if username == "" || status == "" || strings.Contains(username, ":") {
		return nil
	}
	user, err := b.store.GetUserByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil || user.IsShadow() {
		return nil
	}
	rooms, err := b.store.GetUserBridgedRoomIDs(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to get bridged rooms: %w", err)
	}
	if len(rooms) == 0 {
		return nil
	}
	return b.call("send presence", func() error {
		return b.transport.SendPresence(ctx, user.FederationID(b.serverName()), PresenceForStatus(status), rooms)
	})
}

func (b *Bridge) handleTyping(ctx context.Context, e *TypingEvent) error {
	if !b.settings.load().ProcessTyping {
		return nil
	}
	room, err := b.store.GetRoomByExternalID(ctx, e.RoomID)
	if err != nil {
		return fmt.Errorf("failed to get room: %w", err)
	}
	if room == nil {
		zerolog.Ctx(ctx).Debug().Stringer("room_id", e.RoomID).Msg("No bridged room for typing event")
		return nil
	}
	b.publish(ctx, LocalUserActivity, &ActivityPayload{RoomID: room.ID, User: e.UserID, Typing: e.Typing})
	return nil
}

func (b *Bridge) handlePresence(ctx context.Context, e *PresenceEvent) error {
	if !b.settings.load().ProcessPresence {
		return nil
	}
	log := zerolog.Ctx(ctx)
	user, err := b.store.GetUserByUsername(ctx, string(e.UserID))
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if user == nil {
		log.Debug().Stringer("user_id", e.UserID).Msg("No shadow user for presence event")
		return nil
	}
	if !user.IsShadow() {
		log.Debug().Str("username", user.Username).Msg("User is not federated, skipping presence")
		return nil
	}
	status := StatusForPresence(e.Presence)
	if user.Status == status {
		log.Debug().Str("username", user.Username).Str("status", string(status)).Msg("Status unchanged, skipping")
		return nil
	}
	if err = b.store.SetUserStatus(ctx, user.ID, status); err != nil {
		return fmt.Errorf("failed to set user status: %w", err)
	}
	user.Status = status
	b.publish(ctx, LocalPresenceStatus, &PresencePayload{Username: user.Username, Status: status})
	return nil
}
