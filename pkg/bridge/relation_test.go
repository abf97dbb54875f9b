// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"errors"
	"testing"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

func TestQuotedMessageID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		link string
		want string
	}{
		{"https://chat.example.com/channel/general?msg=abc123", "abc123"},
		{"https://chat.example.com/group/r1?foo=1&msg=xyz", "xyz"},
		{"/channel/general?msg=abc#frag", "abc"},
		{"https://chat.example.com/channel/general", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := quotedMessageID(tt.link); got != tt.want {
			t.Errorf("quotedMessageID(%q) = %q, want %q", tt.link, got, tt.want)
		}
	}
}

func TestResolveRelation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv()
	room := env.store.addRoom(RoomPublic, "!room:home.example")
	bridged := func(eventID id.EventID, threadID string) *Message {
		msg := &Message{RoomID: room.ID, ThreadID: threadID}
		if eventID != "" {
			msg.Federation = MessageFederation{EventID: eventID, State: BridgedOutbound}
		}
		return env.store.addMessage(msg)
	}
	quoteOf := func(msg *Message) []Attachment {
		return []Attachment{{Kind: AttachmentQuote, MessageLink: MessageURL("https://chat.home.example", room, msg.ID)}}
	}

	root := bridged("$root", "")
	quoted := bridged("$quoted", "")
	unbridgedRoot := bridged("", "")
	lonelyRoot := bridged("$lonely", "")
	latest := bridged("$latest", root.ID)

	tests := []struct {
		name    string
		msg     *Message
		want    Relation
		wantErr error
	}{
		{
			name: "plain",
			msg:  &Message{ID: "new1", RoomID: room.ID},
			want: Relation{Kind: RelationNone},
		},
		{
			name: "quote",
			msg:  &Message{ID: "new2", RoomID: room.ID, Attachments: quoteOf(quoted)},
			want: Relation{Kind: RelationReply, ReplyTo: "$quoted"},
		},
		{
			name: "quote of unknown message",
			msg: &Message{ID: "new3", RoomID: room.ID, Attachments: []Attachment{
				{Kind: AttachmentQuote, MessageLink: "https://chat.home.example/channel/x?msg=missing"},
			}},
			want: Relation{Kind: RelationNone},
		},
		{
			name: "thread uses latest message",
			msg:  &Message{ID: "new4", RoomID: room.ID, ThreadID: root.ID},
			want: Relation{Kind: RelationThread, ThreadRoot: "$root", LatestInThread: latest.ExternalEventID()},
		},
		{
			name: "thread falls back to root",
			msg:  &Message{ID: "new5", RoomID: room.ID, ThreadID: lonelyRoot.ID},
			want: Relation{Kind: RelationThread, ThreadRoot: "$lonely", LatestInThread: "$lonely"},
		},
		{
			name: "quote inside thread",
			msg:  &Message{ID: "new6", RoomID: room.ID, ThreadID: root.ID, Attachments: quoteOf(quoted)},
			want: Relation{Kind: RelationThreadReply, ThreadRoot: "$root", ReplyTo: "$quoted"},
		},
		{
			name:    "thread root never bridged",
			msg:     &Message{ID: "new7", RoomID: room.ID, ThreadID: unbridgedRoot.ID},
			wantErr: ErrNoAnchorEvent,
		},
	}
	for _, tt := range tests {
		got, err := env.bridge.ResolveRelation(ctx, tt.msg)
		if tt.wantErr != nil {
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("%s: err = %v, want %v", tt.name, err, tt.wantErr)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: ResolveRelation: %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
	}
}

func TestRelationRelatesTo(t *testing.T) {
	t.Parallel()

	if rel := (Relation{Kind: RelationNone}).RelatesTo(); rel != nil {
		t.Errorf("none = %+v, want nil", rel)
	}

	thread := Relation{Kind: RelationThread, ThreadRoot: "$root", LatestInThread: "$latest"}.RelatesTo()
	if thread.Type != event.RelThread || thread.EventID != "$root" || !thread.IsFallingBack {
		t.Errorf("thread = %+v", thread)
	}
	if thread.InReplyTo == nil || thread.InReplyTo.EventID != "$latest" {
		t.Errorf("thread fallback = %+v", thread.InReplyTo)
	}

	reply := Relation{Kind: RelationReply, ReplyTo: "$q"}.RelatesTo()
	if reply.Type != "" || reply.InReplyTo == nil || reply.InReplyTo.EventID != "$q" {
		t.Errorf("reply = %+v", reply)
	}

	both := Relation{Kind: RelationThreadReply, ThreadRoot: "$root", ReplyTo: "$q"}.RelatesTo()
	if both.Type != event.RelThread || both.EventID != "$root" || both.IsFallingBack || both.InReplyTo.EventID != "$q" {
		t.Errorf("thread reply = %+v", both)
	}
}

func TestClassifyRelation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   *event.RelatesTo
		want inboundRelation
	}{
		{name: "none", in: nil, want: inboundRelation{}},
		{
			name: "reply",
			in:   &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: "$q"}},
			want: inboundRelation{replyTo: "$q"},
		},
		{
			name: "thread with fallback",
			in:   &event.RelatesTo{Type: event.RelThread, EventID: "$root", InReplyTo: &event.InReplyTo{EventID: "$latest"}, IsFallingBack: true},
			want: inboundRelation{threadRoot: "$root"},
		},
		{
			name: "reply inside thread",
			in:   &event.RelatesTo{Type: event.RelThread, EventID: "$root", InReplyTo: &event.InReplyTo{EventID: "$q"}},
			want: inboundRelation{threadRoot: "$root", replyTo: "$q"},
		},
		{
			name: "edit",
			in:   &event.RelatesTo{Type: event.RelReplace, EventID: "$orig"},
			want: inboundRelation{edits: "$orig"},
		},
	}
	for _, tt := range tests {
		if got := classifyRelation(tt.in); got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
	}
}
