// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"io"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Store is the local persistence layer. Lookups return (nil, nil) when the
// record does not exist. Every method is atomic for a single record.
type Store interface {
	GetUserByID(ctx context.Context, userID string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	// UpsertShadowUser inserts or refreshes a shadow user keyed by username.
	// The federation identity of an existing row is never changed.
	UpsertShadowUser(ctx context.Context, user *User) (*User, error)
	SetUserStatus(ctx context.Context, userID string, status UserStatus) error
	GetUserBridgedRoomIDs(ctx context.Context, userID string) ([]id.RoomID, error)

	GetRoomByID(ctx context.Context, roomID string) (*Room, error)
	GetRoomByExternalID(ctx context.Context, externalID id.RoomID) (*Room, error)
	SetRoomFederation(ctx context.Context, roomID string, fed RoomFederation) error
	SaveRoomName(ctx context.Context, roomID, actorID, name string) error
	SaveRoomTopic(ctx context.Context, roomID, actorID, topic string) error
	SaveRoomRole(ctx context.Context, roomID, actorID, userID string, role Role) error
	AddRoomMember(ctx context.Context, roomID, userID string) error
	RemoveRoomMember(ctx context.Context, roomID, userID string) error

	GetMessageByID(ctx context.Context, messageID string) (*Message, error)
	GetMessageByExternalID(ctx context.Context, eventID id.EventID) (*Message, error)
	// GetLatestThreadMessage returns the newest bridged message in a thread,
	// ignoring excludeID.
	GetLatestThreadMessage(ctx context.Context, threadID, excludeID string) (*Message, error)
	SetMessageEventID(ctx context.Context, messageID string, eventID id.EventID, state BridgeState) error
	// SaveMessage stores a new message and assigns its ID. A message whose
	// event ID is already stored gets the existing ID and created is false.
	SaveMessage(ctx context.Context, msg *Message) (created bool, err error)
	UpdateMessage(ctx context.Context, msg *Message) error
	DeleteMessage(ctx context.Context, messageID, actorID string) error

	GetReactionEdge(ctx context.Context, messageID, reaction, username string) (*ReactionEdge, error)
	SetReactionEdge(ctx context.Context, edge *ReactionEdge) error
	ClearReactionEdge(ctx context.Context, messageID, reaction, username string) error
}

// RoomVisibility selects the join rule of a newly created federation room.
type RoomVisibility string

const (
	VisibilityPublic RoomVisibility = "public"
	VisibilityInvite RoomVisibility = "invite"
)

// Transport performs federation requests on behalf of users. Every call is a
// single request bounded by the transport's own timeout.
type Transport interface {
	CreateRoom(ctx context.Context, creator id.UserID, name string, visibility RoomVisibility) (id.RoomID, error)
	CreateDirectRoom(ctx context.Context, creator, peer id.UserID) (id.RoomID, error)
	InviteUser(ctx context.Context, roomID id.RoomID, inviter, invitee id.UserID) error
	AcceptInvite(ctx context.Context, roomID id.RoomID, userID id.UserID) error
	LeaveRoom(ctx context.Context, roomID id.RoomID, userID id.UserID) error
	KickUser(ctx context.Context, roomID id.RoomID, kicker, kicked id.UserID, reason string) error
	SetRoomName(ctx context.Context, roomID id.RoomID, sender id.UserID, name string) error
	SetRoomTopic(ctx context.Context, roomID id.RoomID, sender id.UserID, topic string) error
	SetPowerLevel(ctx context.Context, roomID id.RoomID, sender, target id.UserID, level int) error

	SendMessage(ctx context.Context, roomID id.RoomID, sender id.UserID, content *event.MessageEventContent) (id.EventID, error)
	SendReaction(ctx context.Context, roomID id.RoomID, sender id.UserID, target id.EventID, key string) (id.EventID, error)
	Redact(ctx context.Context, roomID id.RoomID, sender id.UserID, target id.EventID) (id.EventID, error)
	GetEvent(ctx context.Context, roomID id.RoomID, eventID id.EventID) (*event.Event, error)

	SendTyping(ctx context.Context, roomID id.RoomID, userID id.UserID, typing bool) error
	SendPresence(ctx context.Context, userID id.UserID, presence event.Presence, roomIDs []id.RoomID) error
	// QueryProfile returns ErrProfileNotFound when the remote homeserver
	// reports that the user does not exist.
	QueryProfile(ctx context.Context, userID id.UserID) error

	UploadMedia(ctx context.Context, sender id.UserID, data []byte, mimeType, fileName string) (id.ContentURIString, error)
	// DownloadMedia returns the media body. The caller closes it.
	DownloadMedia(ctx context.Context, uri id.ContentURIString) (io.ReadCloser, error)
}

// RemoteFile describes a federation media object being pulled into local
// storage.
type RemoteFile struct {
	Name     string
	MimeType string
	Size     int64
	RoomID   string
	UserID   string
}

// MediaService moves file contents between local storage and the
// federation media repository.
type MediaService interface {
	// PrepareLocalFile uploads a locally stored file and returns its
	// federation content URI.
	PrepareLocalFile(ctx context.Context, file File, sender id.UserID) (id.ContentURIString, error)
	// DownloadRemoteFile stores a federation media object locally and
	// returns the local file ID.
	DownloadRemoteFile(ctx context.Context, uri id.ContentURIString, meta RemoteFile) (string, error)
	RemoveLocalFile(ctx context.Context, fileID string) error
}

// Broadcaster publishes local domain events.
type Broadcaster interface {
	Publish(ctx context.Context, name string, payload any) error
}
