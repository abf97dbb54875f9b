// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// HandleFederationEvent applies one inbound federation event to local
// state. It never returns or panics: failures are logged so the transport
// can deliver the next event.
func (b *Bridge) HandleFederationEvent(ctx context.Context, evt InboundEvent) {
	log := b.log.With().Str("event_type", string(evt.Type())).Logger()
	ctx = log.WithContext(ctx)
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Panic in federation event handler")
			result = "panic"
		}
		b.metrics.ObserveInbound(evt.Type(), result)
	}()

	var err error
	switch e := evt.(type) {
	case *MessageEvent:
		err = b.handleMessage(ctx, e)
	case *EncryptedEvent:
		err = b.handleEncrypted(ctx, e)
	case *RedactionEvent:
		err = b.handleRedaction(ctx, e)
	case *RoomNameEvent:
		err = b.handleRoomName(ctx, e)
	case *RoomTopicEvent:
		err = b.handleRoomTopic(ctx, e)
	case *RoomRoleEvent:
		err = b.handleRoomRole(ctx, e)
	case *TypingEvent:
		err = b.handleTyping(ctx, e)
	case *PresenceEvent:
		err = b.handlePresence(ctx, e)
	case *MembershipEvent:
		err = b.handleMembership(ctx, e)
	default:
		log.Warn().Type("go_type", evt).Msg("Unknown federation event")
		result = "ignored"
		return
	}
	if err != nil {
		result = "error"
		log.Err(err).Msg("Failed to handle federation event")
	}
}

// resolveSenderAndRoom loads the local user and room a federation event is
// attributed to. Both must exist.
func (b *Bridge) resolveSenderAndRoom(ctx context.Context, sender id.UserID, roomID id.RoomID) (*User, *Room, error) {
	user, err := b.userForSender(ctx, sender)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sender %s: %w", sender, err)
	}
	if user == nil {
		return nil, nil, unmapped("user %s", sender)
	}
	room, err := b.store.GetRoomByExternalID(ctx, roomID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get room %s: %w", roomID, err)
	}
	if room == nil {
		return nil, nil, unmapped("room %s", roomID)
	}
	return user, room, nil
}

// alreadyBridged reports whether eventID is already linked to a local message.
func (b *Bridge) alreadyBridged(ctx context.Context, eventID id.EventID) (bool, error) {
	existing, err := b.store.GetMessageByExternalID(ctx, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to look up event %s: %w", eventID, err)
	}
	if existing != nil {
		zerolog.Ctx(ctx).Debug().Stringer("event_id", eventID).Str("message_id", existing.ID).Msg("Event already bridged, skipping")
		return true, nil
	}
	return false, nil
}

// threadInfo fills in the thread fields of msg from the thread root event.
func (b *Bridge) threadInfo(ctx context.Context, msg *Message, rootEvt id.EventID) error {
	if rootEvt == "" {
		return nil
	}
	root, err := b.store.GetMessageByExternalID(ctx, rootEvt)
	if err != nil {
		return fmt.Errorf("failed to get thread root: %w", err)
	}
	if root == nil {
		zerolog.Ctx(ctx).Warn().Stringer("thread_root", rootEvt).Msg("Thread root message not found")
		return nil
	}
	msg.ThreadID = root.ID
	msg.ShowInMainThread = root.ThreadCount == 0
	return nil
}

// editTarget loads the local message an edit applies to. A nil message
// means the edit should be dropped.
func (b *Bridge) editTarget(ctx context.Context, target id.EventID) (*Message, error) {
	original, err := b.store.GetMessageByExternalID(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("failed to get edited message: %w", err)
	}
	if original == nil {
		zerolog.Ctx(ctx).Warn().Stringer("target", target).Msg("Original message not found for edit")
		return nil, nil
	}
	if original.ExternalEventID() != target {
		return nil, nil
	}
	return original, nil
}

func (b *Bridge) saveInbound(ctx context.Context, msg *Message, room *Room, user *User) error {
	created, err := b.store.SaveMessage(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}
	log := zerolog.Ctx(ctx).With().Str("message_id", msg.ID).Stringer("event_id", msg.Federation.EventID).Logger()
	if !created {
		log.Debug().Msg("Federation message was already saved")
		return nil
	}
	log.Debug().Msg("Saved federation message")
	b.publish(ctx, LocalMessageSaved, &MessagePayload{Message: msg, Room: room, User: user})
	return nil
}

func (b *Bridge) updateInbound(ctx context.Context, msg *Message, room *Room, user *User) error {
	msg.Edited = true
	if err := b.store.UpdateMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	b.publish(ctx, LocalMessageSaved, &MessagePayload{Message: msg, Room: room, User: user})
	return nil
}

func (b *Bridge) handleMessage(ctx context.Context, e *MessageEvent) error {
	log := zerolog.Ctx(ctx)
	content := e.Content
	if content == nil || (content.Body == "" && content.MsgType == "") {
		log.Debug().Stringer("event_id", e.EventID).Msg("No message content in event")
		return nil
	}
	if done, err := b.alreadyBridged(ctx, e.EventID); err != nil || done {
		return err
	}
	user, room, err := b.resolveSenderAndRoom(ctx, e.Sender, e.RoomID)
	if err != nil {
		return err
	}

	rel := classifyRelation(content.RelatesTo)

	if rel.edits != "" && content.NewContent != nil {
		original, err := b.editTarget(ctx, rel.edits)
		if err != nil || original == nil {
			return err
		}
		text := b.localText(content.NewContent)
		if prefix := quotePrefix(original.Text); prefix != "" && quotePrefix(text) == "" {
			text = prefix + text
		}
		if text == original.Text {
			log.Debug().Str("message_id", original.ID).Msg("No changes in message content, skipping update")
			return nil
		}
		original.Text = text
		return b.updateInbound(ctx, original, room, user)
	}

	msg := &Message{
		RoomID:     room.ID,
		SenderID:   user.ID,
		Federation: MessageFederation{EventID: e.EventID, State: BridgedInbound},
	}
	if err = b.threadInfo(ctx, msg, rel.threadRoot); err != nil {
		return err
	}

	if rel.replyTo != "" {
		quoted, err := b.store.GetMessageByExternalID(ctx, rel.replyTo)
		if err != nil {
			return fmt.Errorf("failed to get quoted message: %w", err)
		}
		if quoted == nil {
			log.Warn().Stringer("reply_to", rel.replyTo).Msg("Original message not found for quote")
			return nil
		}
		content.RemoveReplyFallback()
		msg.Text = quoteText(MessageURL(b.settings.load().SiteURL, room, quoted.ID), b.localText(content))
		return b.saveInbound(ctx, msg, room, user)
	}

	if isMediaMsgType(content.MsgType) && content.URL != "" {
		if b.media == nil {
			return ErrConfigurationUnavailable
		}
		meta := RemoteFile{Name: content.Body, RoomID: room.ID, UserID: user.ID}
		if content.Info != nil {
			meta.MimeType = content.Info.MimeType
			meta.Size = int64(content.Info.Size)
		}
		fileID, err := b.media.DownloadRemoteFile(ctx, content.URL, meta)
		if err != nil {
			return fmt.Errorf("failed to download media: %w", err)
		}
		msg.Files = []File{{ID: fileID, Name: meta.Name, MimeType: meta.MimeType, Size: meta.Size}}
		msg.Attachments = []Attachment{fileAttachment(fileID, meta.Name, content.MsgType, content.Info)}
		return b.saveInbound(ctx, msg, room, user)
	}

	msg.Text = b.localText(content)
	return b.saveInbound(ctx, msg, room, user)
}

func (b *Bridge) handleEncrypted(ctx context.Context, e *EncryptedEvent) error {
	log := zerolog.Ctx(ctx)
	if e.Ciphertext == "" {
		log.Debug().Stringer("event_id", e.EventID).Msg("No ciphertext in encrypted event")
		return nil
	}
	if done, err := b.alreadyBridged(ctx, e.EventID); err != nil || done {
		return err
	}
	user, room, err := b.resolveSenderAndRoom(ctx, e.Sender, e.RoomID)
	if err != nil {
		return err
	}

	rel := classifyRelation(e.RelatesTo)
	encrypted := &EncryptedContent{Algorithm: e.Algorithm, Ciphertext: e.Ciphertext}

	if rel.edits != "" {
		original, err := b.editTarget(ctx, rel.edits)
		if err != nil || original == nil {
			return err
		}
		if original.Encrypted != nil && original.Encrypted.Ciphertext == e.Ciphertext {
			log.Debug().Str("message_id", original.ID).Msg("No changes in encrypted content, skipping update")
			return nil
		}
		original.Encrypted = encrypted
		return b.updateInbound(ctx, original, room, user)
	}

	msg := &Message{
		RoomID:     room.ID,
		SenderID:   user.ID,
		Encrypted:  encrypted,
		Federation: MessageFederation{EventID: e.EventID, State: BridgedInbound},
	}
	if err = b.threadInfo(ctx, msg, rel.threadRoot); err != nil {
		return err
	}
	if rel.replyTo != "" {
		quoted, err := b.store.GetMessageByExternalID(ctx, rel.replyTo)
		if err != nil {
			return fmt.Errorf("failed to get quoted message: %w", err)
		}
		if quoted == nil {
			log.Warn().Stringer("reply_to", rel.replyTo).Msg("Original message not found for quote")
			return nil
		}
	}
	return b.saveInbound(ctx, msg, room, user)
}

func (b *Bridge) handleRedaction(ctx context.Context, e *RedactionEvent) error {
	log := zerolog.Ctx(ctx)
	if e.Redacts == "" {
		log.Debug().Msg("No redacts field in redaction event")
		return nil
	}
	if b.transport == nil {
		return nil
	}
	target, err := b.GetEventByID(ctx, e.RoomID, e.Redacts)
	if err != nil || target == nil {
		log.Debug().Err(err).Stringer("redacts", e.Redacts).Msg("Redacted event not found")
		return nil
	}
	if target.Type.Type != event.EventMessage.Type && target.Type.Type != event.EventEncrypted.Type {
		log.Debug().Stringer("redacts", e.Redacts).Str("target_type", target.Type.Type).Msg("Redacted event is not a message")
		return nil
	}

	msg, err := b.store.GetMessageByExternalID(ctx, e.Redacts)
	if err != nil {
		return fmt.Errorf("failed to get redacted message: %w", err)
	}
	if msg == nil {
		log.Debug().Stringer("redacts", e.Redacts).Msg("No local message for redacted event")
		return nil
	}
	if msg.Deleted {
		return nil
	}
	user, err := b.userForSender(ctx, e.Sender)
	if err != nil || user == nil {
		log.Debug().Err(err).Stringer("sender", e.Sender).Msg("Redacting user not found")
		return nil
	}
	if err = b.store.DeleteMessage(ctx, msg.ID, user.ID); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	b.removeFiles(ctx, msg)
	room, err := b.store.GetRoomByID(ctx, msg.RoomID)
	if err != nil {
		return fmt.Errorf("failed to get room of deleted message %s: %w", msg.ID, err)
	}
	b.publish(ctx, LocalMessageDeleted, &MessageDeletedPayload{Message: msg, Room: room, Actor: user})
	return nil
}

// removeFiles deletes the stored files of a deleted message.
func (b *Bridge) removeFiles(ctx context.Context, msg *Message) {
	if b.media == nil {
		return
	}
	for _, file := range msg.Files {
		if err := b.media.RemoveLocalFile(ctx, file.ID); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).
				Str("message_id", msg.ID).
				Str("file_id", file.ID).
				Msg("Failed to remove file of deleted message")
		}
	}
}

func (b *Bridge) handleRoomName(ctx context.Context, e *RoomNameEvent) error {
	user, room, err := b.resolveSenderAndRoom(ctx, e.Sender, e.RoomID)
	if err != nil {
		return err
	}
	if err = b.store.SaveRoomName(ctx, room.ID, user.ID, e.Name); err != nil {
		return fmt.Errorf("failed to save room name: %w", err)
	}
	room.Name = e.Name
	b.publish(ctx, LocalRoomNameChanged, &RoomNamePayload{RoomID: room.ID, Name: e.Name, User: user})
	return nil
}

func (b *Bridge) handleRoomTopic(ctx context.Context, e *RoomTopicEvent) error {
	user, room, err := b.resolveSenderAndRoom(ctx, e.Sender, e.RoomID)
	if err != nil {
		return err
	}
	if err = b.store.SaveRoomTopic(ctx, room.ID, user.ID, e.Topic); err != nil {
		return fmt.Errorf("failed to save room topic: %w", err)
	}
	room.Topic = e.Topic
	b.publish(ctx, LocalRoomTopicChanged, &RoomTopicPayload{Room: room, Topic: e.Topic, User: user})
	return nil
}

// handleRoomRole applies a role change made by a remote user to a local
// user. Changes to remote users are out of scope and changes made by local
// users already happened locally.
func (b *Bridge) handleRoomRole(ctx context.Context, e *RoomRoleEvent) error {
	log := zerolog.Ctx(ctx)
	room, err := b.store.GetRoomByExternalID(ctx, e.RoomID)
	if err != nil {
		return fmt.Errorf("failed to get room %s: %w", e.RoomID, err)
	}
	if room == nil {
		return unmapped("room %s", e.RoomID)
	}

	server := b.serverName()
	targetName, targetLocal, err := LocalUsername(e.Target, server)
	if err != nil {
		return err
	}
	if !targetLocal {
		log.Debug().Stringer("target", e.Target).Msg("Role change for remote user, ignoring")
		return nil
	}
	target, err := b.store.GetUserByUsername(ctx, targetName)
	if err != nil {
		return fmt.Errorf("failed to get user: %w", err)
	}
	if target == nil {
		return unmapped("user %s", e.Target)
	}

	senderName, senderLocal, err := LocalUsername(e.Sender, server)
	if err != nil {
		return err
	}
	if senderLocal {
		log.Debug().Stringer("sender", e.Sender).Msg("Role change by local user, ignoring")
		return nil
	}
	sender, err := b.store.GetUserByUsername(ctx, senderName)
	if err != nil {
		return fmt.Errorf("failed to get sender: %w", err)
	}
	if sender == nil {
		return unmapped("user %s", e.Sender)
	}
	if err = b.store.SaveRoomRole(ctx, room.ID, sender.ID, target.ID, e.Role); err != nil {
		return fmt.Errorf("failed to save room role: %w", err)
	}
	return nil
}

// handleMembership keeps the member list of a bridged room in step with
// remote joins and leaves.
func (b *Bridge) handleMembership(ctx context.Context, e *MembershipEvent) error {
	log := zerolog.Ctx(ctx)
	if e.Target.Homeserver() == b.serverName() {
		return nil
	}
	room, err := b.store.GetRoomByExternalID(ctx, e.RoomID)
	if err != nil {
		return fmt.Errorf("failed to get room %s: %w", e.RoomID, err)
	}
	if room == nil {
		log.Debug().Stringer("room_id", e.RoomID).Msg("Membership change in unmapped room, ignoring")
		return nil
	}

	switch e.Membership {
	case event.MembershipJoin, event.MembershipInvite:
		user, err := b.ensureShadowUser(ctx, e.Target, "")
		if err != nil {
			return err
		}
		if err = b.store.AddRoomMember(ctx, room.ID, user.ID); err != nil {
			return fmt.Errorf("failed to add room member: %w", err)
		}
	case event.MembershipLeave, event.MembershipBan:
		user, err := b.store.GetUserByUsername(ctx, string(e.Target))
		if err != nil {
			return fmt.Errorf("failed to get user: %w", err)
		}
		if user == nil {
			return nil
		}
		if err = b.store.RemoveRoomMember(ctx, room.ID, user.ID); err != nil {
			return fmt.Errorf("failed to remove room member: %w", err)
		}
	}
	return nil
}
