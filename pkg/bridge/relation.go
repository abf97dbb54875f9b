// Copyright 2024-2026 Aiku AI

package bridge

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// quotedMessageID extracts the local message ID from a quote message link.
func quotedMessageID(link string) string {
	if u, err := url.Parse(link); err == nil {
		if mid := u.Query().Get("msg"); mid != "" {
			return mid
		}
	}
	_, after, ok := strings.Cut(link, "msg=")
	if !ok {
		return ""
	}
	if i := strings.IndexAny(after, "&#"); i >= 0 {
		after = after[:i]
	}
	return after
}

// quoteTarget returns the federation event of the message quoted by msg, or
// an empty ID when the message quotes nothing that crossed the bridge.
func (b *Bridge) quoteTarget(ctx context.Context, msg *Message) (id.EventID, error) {
	mid := quotedMessageID(msg.QuoteLink())
	if mid == "" {
		return "", nil
	}
	quoted, err := b.store.GetMessageByID(ctx, mid)
	if err != nil {
		return "", fmt.Errorf("failed to get quoted message %s: %w", mid, err)
	}
	if quoted == nil {
		b.log.Debug().Str("message_id", msg.ID).Str("quoted_id", mid).Msg("Quoted message not found, ignoring quote")
		return "", nil
	}
	return quoted.ExternalEventID(), nil
}

// ResolveRelation determines which federation events a new federation event
// for msg must reference. A quote inside a thread yields a thread reply;
// otherwise a quote yields a bare reply and a thread message references the
// newest bridged message in its thread.
func (b *Bridge) ResolveRelation(ctx context.Context, msg *Message) (Relation, error) {
	quoted, err := b.quoteTarget(ctx, msg)
	if err != nil {
		return Relation{}, err
	}

	if msg.ThreadID != "" {
		root, err := b.store.GetMessageByID(ctx, msg.ThreadID)
		if err != nil {
			return Relation{}, fmt.Errorf("failed to get thread root %s: %w", msg.ThreadID, err)
		}
		rootEvt := root.ExternalEventID()
		if rootEvt == "" {
			return Relation{}, fmt.Errorf("%w: thread root %s has no federation event", ErrNoAnchorEvent, msg.ThreadID)
		}
		if quoted != "" {
			return Relation{Kind: RelationThreadReply, ThreadRoot: rootEvt, ReplyTo: quoted}, nil
		}
		latest, err := b.store.GetLatestThreadMessage(ctx, msg.ThreadID, msg.ID)
		if err != nil {
			return Relation{}, fmt.Errorf("failed to get latest thread message: %w", err)
		}
		latestEvt := latest.ExternalEventID()
		if latestEvt == "" {
			latestEvt = rootEvt
		}
		return Relation{Kind: RelationThread, ThreadRoot: rootEvt, LatestInThread: latestEvt}, nil
	}

	if quoted != "" {
		return Relation{Kind: RelationReply, ReplyTo: quoted}, nil
	}
	return Relation{Kind: RelationNone}, nil
}

// RelatesTo converts the relation into federation relation metadata. It
// returns nil for RelationNone.
func (r Relation) RelatesTo() *event.RelatesTo {
	switch r.Kind {
	case RelationThread:
		return &event.RelatesTo{
			Type:          event.RelThread,
			EventID:       r.ThreadRoot,
			InReplyTo:     &event.InReplyTo{EventID: r.LatestInThread},
			IsFallingBack: true,
		}
	case RelationReply:
		return &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: r.ReplyTo}}
	case RelationThreadReply:
		return &event.RelatesTo{
			Type:      event.RelThread,
			EventID:   r.ThreadRoot,
			InReplyTo: &event.InReplyTo{EventID: r.ReplyTo},
		}
	default:
		return nil
	}
}

// inboundRelation is the classification of a federation event's relation
// metadata.
type inboundRelation struct {
	threadRoot id.EventID
	replyTo    id.EventID
	edits      id.EventID
}

// classifyRelation mirrors ResolveRelation for inbound events. Thread
// membership and rich replies are evaluated independently, so a reply
// inside a thread sets both. The reply fallback that threads carry for
// older clients is not treated as a reply.
func classifyRelation(rel *event.RelatesTo) inboundRelation {
	var out inboundRelation
	if rel == nil {
		return out
	}
	switch rel.Type {
	case event.RelThread:
		out.threadRoot = rel.EventID
	case event.RelReplace:
		out.edits = rel.EventID
	}
	if rel.InReplyTo != nil && rel.InReplyTo.EventID != "" {
		if rel.Type == "" || (rel.Type == event.RelThread && !rel.IsFallingBack) {
			out.replyTo = rel.InReplyTo.EventID
		}
	}
	return out
}
