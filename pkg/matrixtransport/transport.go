// Copyright 2024-2026 Aiku AI

// Package matrixtransport implements the federation transport of the bridge
// on the Matrix application service API.
package matrixtransport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/appservice"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/federation-bridge/pkg/bridge"
)

// ErrNoIntent is returned when a request has to be made as a user the
// appservice cannot act for.
var ErrNoIntent = errors.New("user is not managed by this appservice")

// Transport performs federation requests through per-user appservice
// intents.
type Transport struct {
	as            *appservice.AppService
	log           zerolog.Logger
	typingTimeout time.Duration
}

var _ bridge.Transport = (*Transport)(nil)

// New creates a transport on a configured appservice.
func New(as *appservice.AppService, typingTimeout time.Duration, log zerolog.Logger) *Transport {
	return &Transport{
		as:            as,
		log:           log.With().Str("component", "matrixtransport").Logger(),
		typingTimeout: typingTimeout,
	}
}

func (t *Transport) intent(userID id.UserID) (*appservice.IntentAPI, error) {
	intent := t.as.Intent(userID)
	if intent == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoIntent, userID)
	}
	return intent, nil
}

func (t *Transport) registeredIntent(ctx context.Context, userID id.UserID) (*appservice.IntentAPI, error) {
	intent, err := t.intent(userID)
	if err != nil {
		return nil, err
	}
	if err = intent.EnsureRegistered(ctx); err != nil {
		return nil, err
	}
	return intent, nil
}

func (t *Transport) createRoom(ctx context.Context, creator id.UserID, req *mautrix.ReqCreateRoom) (id.RoomID, error) {
	intent, err := t.registeredIntent(ctx, creator)
	if err != nil {
		return "", err
	}
	resp, err := intent.CreateRoom(ctx, req)
	if err != nil {
		return "", err
	}
	if err = t.as.StateStore.SetMembership(ctx, resp.RoomID, creator, event.MembershipJoin); err != nil {
		t.log.Warn().Err(err).Stringer("room_id", resp.RoomID).Msg("Failed to cache creator membership")
	}
	return resp.RoomID, nil
}

func (t *Transport) CreateRoom(ctx context.Context, creator id.UserID, name string, visibility bridge.RoomVisibility) (id.RoomID, error) {
	preset := "private_chat"
	if visibility == bridge.VisibilityPublic {
		preset = "public_chat"
	}
	return t.createRoom(ctx, creator, &mautrix.ReqCreateRoom{
		Name:   name,
		Preset: preset,
	})
}

func (t *Transport) CreateDirectRoom(ctx context.Context, creator, peer id.UserID) (id.RoomID, error) {
	return t.createRoom(ctx, creator, &mautrix.ReqCreateRoom{
		Preset:   "trusted_private_chat",
		IsDirect: true,
		Invite:   []id.UserID{peer},
	})
}

func (t *Transport) InviteUser(ctx context.Context, roomID id.RoomID, inviter, invitee id.UserID) error {
	intent, err := t.intent(inviter)
	if err != nil {
		return err
	}
	_, err = intent.InviteUser(ctx, roomID, &mautrix.ReqInviteUser{UserID: invitee})
	return err
}

func (t *Transport) AcceptInvite(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	intent, err := t.intent(userID)
	if err != nil {
		return err
	}
	return intent.EnsureJoined(ctx, roomID)
}

func (t *Transport) LeaveRoom(ctx context.Context, roomID id.RoomID, userID id.UserID) error {
	intent, err := t.intent(userID)
	if err != nil {
		return err
	}
	_, err = intent.LeaveRoom(ctx, roomID)
	return err
}

func (t *Transport) KickUser(ctx context.Context, roomID id.RoomID, kicker, kicked id.UserID, reason string) error {
	intent, err := t.intent(kicker)
	if err != nil {
		return err
	}
	_, err = intent.KickUser(ctx, roomID, &mautrix.ReqKickUser{UserID: kicked, Reason: reason})
	return err
}

func (t *Transport) SetRoomName(ctx context.Context, roomID id.RoomID, sender id.UserID, name string) error {
	intent, err := t.intent(sender)
	if err != nil {
		return err
	}
	_, err = intent.SetRoomName(ctx, roomID, name)
	return err
}

func (t *Transport) SetRoomTopic(ctx context.Context, roomID id.RoomID, sender id.UserID, topic string) error {
	intent, err := t.intent(sender)
	if err != nil {
		return err
	}
	_, err = intent.SetRoomTopic(ctx, roomID, topic)
	return err
}

func (t *Transport) SetPowerLevel(ctx context.Context, roomID id.RoomID, sender, target id.UserID, level int) error {
	intent, err := t.intent(sender)
	if err != nil {
		return err
	}
	_, err = intent.SetPowerLevel(ctx, roomID, target, level)
	return err
}

func (t *Transport) SendMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, content *event.MessageEventContent) (id.EventID, error) {
	intent, err := t.intent(sender)
	if err != nil {
		return "", err
	}
	resp, err := intent.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (t *Transport) SendReaction(ctx context.Context, roomID id.RoomID, sender id.UserID, target id.EventID, key string) (id.EventID, error) {
	intent, err := t.intent(sender)
	if err != nil {
		return "", err
	}
	resp, err := intent.SendMessageEvent(ctx, roomID, event.EventReaction, &event.ReactionEventContent{
		RelatesTo: event.RelatesTo{
			Type:    event.RelAnnotation,
			EventID: target,
			Key:     key,
		},
	})
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (t *Transport) Redact(ctx context.Context, roomID id.RoomID, sender id.UserID, target id.EventID) (id.EventID, error) {
	intent, err := t.intent(sender)
	if err != nil {
		return "", err
	}
	resp, err := intent.RedactEvent(ctx, roomID, target)
	if err != nil {
		return "", err
	}
	return resp.EventID, nil
}

func (t *Transport) GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error) {
	evt, err := t.as.BotIntent().GetEvent(ctx, roomID, eventID)
	if err != nil {
		return nil, err
	}
	if err = evt.Content.ParseRaw(evt.Type); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
		t.log.Debug().Err(err).Stringer("event_id", eventID).Msg("Failed to parse fetched event content")
	}
	return evt, nil
}

func (t *Transport) SendTyping(ctx context.Context, roomID id.RoomID, userID id.UserID, typing bool) error {
	intent, err := t.intent(userID)
	if err != nil {
		return err
	}
	_, err = intent.UserTyping(ctx, roomID, typing, t.typingTimeout)
	return err
}

// SendPresence sets the presence of userID. The homeserver fans it out to
// every room the user shares with remote servers, so roomIDs only scopes
// logging.
func (t *Transport) SendPresence(ctx context.Context, userID id.UserID, presence event.Presence, roomIDs []id.RoomID) error {
	intent, err := t.registeredIntent(ctx, userID)
	if err != nil {
		return err
	}
	t.log.Trace().
		Stringer("user_id", userID).
		Str("presence", string(presence)).
		Int("rooms", len(roomIDs)).
		Msg("Sending presence")
	return intent.SetPresence(ctx, mautrix.ReqPresence{Presence: presence})
}

func (t *Transport) QueryProfile(ctx context.Context, userID id.UserID) error {
	_, err := t.as.BotClient().GetProfile(ctx, userID)
	if errors.Is(err, mautrix.MNotFound) {
		return fmt.Errorf("%w: %s", bridge.ErrProfileNotFound, userID)
	}
	return err
}

func (t *Transport) UploadMedia(ctx context.Context, sender id.UserID, data []byte, mimeType, fileName string) (id.ContentURIString, error) {
	intent, err := t.registeredIntent(ctx, sender)
	if err != nil {
		return "", err
	}
	resp, err := intent.UploadMedia(ctx, mautrix.ReqUploadMedia{
		ContentBytes: data,
		ContentType:  mimeType,
		FileName:     fileName,
	})
	if err != nil {
		return "", err
	}
	return resp.ContentURI.CUString(), nil
}

func (t *Transport) DownloadMedia(ctx context.Context, uri id.ContentURIString) (io.ReadCloser, error) {
	parsed, err := uri.Parse()
	if err != nil {
		return nil, fmt.Errorf("invalid content URI %q: %w", uri, err)
	}
	resp, err := t.as.BotClient().Download(ctx, parsed)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
