// Copyright 2024-2026 Aiku AI

package bridge

import (
	"maunium.net/go/mautrix/id"
)

// ActorKind tells native local users apart from shadow users provisioned
// for remote federation identities.
type ActorKind int

const (
	LocalActor ActorKind = iota
	ShadowActor
)

func (k ActorKind) String() string {
	if k == ShadowActor {
		return "shadow"
	}
	return "local"
}

// UserStatus is the local presence status of a user.
type UserStatus string

const (
	StatusOnline   UserStatus = "online"
	StatusOffline  UserStatus = "offline"
	StatusAway     UserStatus = "away"
	StatusBusy     UserStatus = "busy"
	StatusDisabled UserStatus = "disabled"
)

// User is a local user record. Shadow users carry the federation identity
// they stand in for in RemoteID.
type User struct {
	ID          string
	Username    string
	DisplayName string
	Kind        ActorKind
	RemoteID    id.UserID
	Origin      string
	Status      UserStatus
}

// IsShadow reports whether the user only exists on the remote side.
func (u *User) IsShadow() bool {
	return u != nil && u.Kind == ShadowActor
}

// FederationID returns the identity the user acts as on the federation.
func (u *User) FederationID(homeDomain string) id.UserID {
	if u.IsShadow() {
		return u.RemoteID
	}
	return ToRemoteIdentifier(u.Username, homeDomain)
}

// RoomType is the local room type.
type RoomType string

const (
	RoomPublic  RoomType = "c"
	RoomPrivate RoomType = "p"
	RoomDirect  RoomType = "d"
)

// RoomFederation is the cross-system mapping of a bridged room.
type RoomFederation struct {
	ExternalRoomID id.RoomID
	Origin         string
}

// Room is a local room. A nil Federation means the room is not bridged.
type Room struct {
	ID           string
	Type         RoomType
	Name         string
	FriendlyName string
	Topic        string
	// Federated marks a room for federation before it has a mapping.
	Federated  bool
	Federation *RoomFederation
}

// IsBridged reports whether the room has an external room mapping.
func (r *Room) IsBridged() bool {
	return r != nil && r.Federation != nil && r.Federation.ExternalRoomID != ""
}

// IsFederated reports whether federation actions apply to the room.
func (r *Room) IsFederated() bool {
	return r != nil && (r.Federated || r.IsBridged())
}

// ExternalID returns the external room ID, or an empty string for
// unbridged rooms.
func (r *Room) ExternalID() id.RoomID {
	if !r.IsBridged() {
		return ""
	}
	return r.Federation.ExternalRoomID
}

// BridgeState records whether and in which direction a message crossed the
// bridge. A message leaves Unbridged at most once.
type BridgeState int

const (
	Unbridged BridgeState = iota
	BridgedOutbound
	BridgedInbound
)

func (s BridgeState) String() string {
	switch s {
	case BridgedOutbound:
		return "outbound"
	case BridgedInbound:
		return "inbound"
	default:
		return "unbridged"
	}
}

// MessageFederation holds the federation event a message is linked to.
type MessageFederation struct {
	EventID id.EventID
	State   BridgeState
}

// File is a locally stored upload attached to a message.
type File struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Size     int64  `json:"size"`
}

// AttachmentKind distinguishes quote attachments from file attachments.
type AttachmentKind string

const (
	AttachmentQuote AttachmentKind = "quote"
	AttachmentFile  AttachmentKind = "file"
)

// ImageDimensions are the pixel dimensions of an image attachment.
type ImageDimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Attachment is a message attachment. Quote attachments set MessageLink,
// file attachments set the title fields and at most one of the image,
// video or audio groups.
type Attachment struct {
	Kind        AttachmentKind `json:"kind"`
	MessageLink string         `json:"message_link,omitempty"`

	Title             string `json:"title,omitempty"`
	TitleLink         string `json:"title_link,omitempty"`
	TitleLinkDownload bool   `json:"title_link_download,omitempty"`
	Description       string `json:"description,omitempty"`

	ImageURL        string           `json:"image_url,omitempty"`
	ImageType       string           `json:"image_type,omitempty"`
	ImageSize       int64            `json:"image_size,omitempty"`
	ImageDimensions *ImageDimensions `json:"image_dimensions,omitempty"`

	VideoURL  string `json:"video_url,omitempty"`
	VideoType string `json:"video_type,omitempty"`
	VideoSize int64  `json:"video_size,omitempty"`

	AudioURL  string `json:"audio_url,omitempty"`
	AudioType string `json:"audio_type,omitempty"`
	AudioSize int64  `json:"audio_size,omitempty"`
}

// EncryptedContent is opaque end-to-end encrypted message content.
type EncryptedContent struct {
	Algorithm  id.Algorithm `json:"algorithm"`
	Ciphertext string       `json:"ciphertext"`
}

// Message is a local message.
type Message struct {
	ID       string
	RoomID   string
	SenderID string
	Text     string

	// ThreadID is the local ID of the thread root, if any.
	ThreadID         string
	ShowInMainThread bool
	ThreadCount      int

	Attachments []Attachment
	Files       []File
	Encrypted   *EncryptedContent

	Edited  bool
	Deleted bool

	Federation MessageFederation
}

// ExternalEventID returns the federation event ID of the message, or an
// empty string if it never crossed the bridge.
func (m *Message) ExternalEventID() id.EventID {
	if m == nil || m.Federation.State == Unbridged {
		return ""
	}
	return m.Federation.EventID
}

// QuoteLink returns the message link of the first quote attachment.
func (m *Message) QuoteLink() string {
	for _, att := range m.Attachments {
		if att.Kind == AttachmentQuote && att.MessageLink != "" {
			return att.MessageLink
		}
	}
	return ""
}

// ReactionEdge links one user's reaction on a message to the federation
// event that carries it.
type ReactionEdge struct {
	MessageID string
	Reaction  string
	Username  string
	EventID   id.EventID
}

// RelationKind enumerates the shapes a resolved Relation can take.
type RelationKind int

const (
	RelationNone RelationKind = iota
	RelationThread
	RelationReply
	RelationThreadReply
)

// Relation is the federation event a new federation event must reference.
type Relation struct {
	Kind           RelationKind
	ThreadRoot     id.EventID
	LatestInThread id.EventID
	ReplyTo        id.EventID
}

// Role is a room-scoped local role.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleLeader    Role = "leader"
	RoleUser      Role = "user"
)

// PowerLevel maps a local role to a federation power level.
func (r Role) PowerLevel() (int, error) {
	switch r {
	case RoleOwner:
		return 100, nil
	case RoleModerator:
		return 50, nil
	case RoleUser, "":
		return 0, nil
	default:
		return 0, ErrUnsupportedRole
	}
}

// RoleForPowerLevel maps a federation power level back to a local role.
func RoleForPowerLevel(level int) Role {
	switch {
	case level >= 100:
		return RoleOwner
	case level >= 50:
		return RoleModerator
	default:
		return RoleUser
	}
}

// VerificationResult is the outcome of verifying one federation identifier.
type VerificationResult string

const (
	Verified       VerificationResult = "VERIFIED"
	Unverified     VerificationResult = "UNVERIFIED"
	UnableToVerify VerificationResult = "UNABLE_TO_VERIFY"
)
