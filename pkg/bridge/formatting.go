// Copyright 2024-2026 Aiku AI

package bridge

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"maunium.net/go/mautrix/event"

	"github.com/aiku/federation-bridge/pkg/bridge/localfmt"
	"github.com/aiku/federation-bridge/pkg/bridge/remotefmt"
)

var quotePrefixRe = regexp.MustCompile(`^\[ \]\([^)\s]*\?msg=[^)\s]+\) `)

// textContent converts local markdown into federation message content.
func (b *Bridge) textContent(text string) *event.MessageEventContent {
	parsed := localfmt.Parse(text, b.serverName())
	content := &event.MessageEventContent{
		MsgType:       event.MsgText,
		Body:          parsed.Body,
		Format:        parsed.Format,
		FormattedBody: parsed.FormattedBody,
	}
	if len(parsed.Mentions) > 0 {
		content.Mentions = &event.Mentions{UserIDs: parsed.Mentions}
	}
	return content
}

// localText converts federation message content into local markdown.
func (b *Bridge) localText(content *event.MessageEventContent) string {
	return remotefmt.Parse(content, b.serverName())
}

func roomTypePath(t RoomType) string {
	switch t {
	case RoomPrivate:
		return "group"
	case RoomDirect:
		return "direct"
	default:
		return "channel"
	}
}

// MessageURL returns the local permalink of a message.
func MessageURL(siteURL string, room *Room, messageID string) string {
	return fmt.Sprintf("%s/%s/%s?msg=%s",
		strings.TrimSuffix(siteURL, "/"), roomTypePath(room.Type), url.PathEscape(room.ID), url.QueryEscape(messageID))
}

// quoteText prefixes text with the invisible quote link local clients
// render as a quoted message.
func quoteText(messageURL, text string) string {
	return "[ ](" + messageURL + ") " + text
}

// quotePrefix returns the leading quote link of text, if any.
func quotePrefix(text string) string {
	return quotePrefixRe.FindString(text)
}
