// Copyright 2024-2026 Aiku AI

// Package localfmt converts local markdown messages to federation HTML.
package localfmt

import (
	"bytes"
	"regexp"
	"strings"
	"sync"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// ParsedMessage holds the result of converting local markdown to federation format.
type ParsedMessage struct {
	Body          string
	Format        event.Format
	FormattedBody string
	// Mentions lists the federation users pilled in the message, in order
	// of first appearance.
	Mentions []id.UserID
}

// MatrixToPrefix is the permalink prefix used for user pills.
const MatrixToPrefix = "https://matrix.to/#/"

var mentionRe = regexp.MustCompile(`(?:^|[^\w@])@([A-Za-z0-9_=+/-](?:[A-Za-z0-9._=+/-]*[A-Za-z0-9_=+/-])?(?::[A-Za-z0-9-]+(?:\.[A-Za-z0-9-]+)*(?::\d{1,5})?)?)`)

// Broadcast mentions have no federation counterpart.
var broadcastMentions = map[string]bool{"all": true, "here": true}

var (
	markdown     goldmark.Markdown
	markdownOnce sync.Once
)

func getMarkdown() goldmark.Markdown {
	markdownOnce.Do(func() {
		markdown = goldmark.New(
			goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
			goldmark.WithRendererOptions(html.WithHardWraps()),
		)
	})
	return markdown
}

// Parse converts a local markdown message to federation event content.
// Mentions of the form @user resolve against homeDomain; mentions that
// already carry a domain (@user:server) are used as-is.
func Parse(msg, homeDomain string) *ParsedMessage {
	if msg == "" {
		return &ParsedMessage{}
	}

	source := []byte(msg)
	md := getMarkdown()
	doc := md.Parser().Parse(text.NewReader(source))

	mentions := pillify(doc, source, homeDomain)
	if len(mentions) == 0 && isPlain(doc) {
		return &ParsedMessage{Body: msg}
	}

	var buf bytes.Buffer
	if err := md.Renderer().Render(&buf, source, doc); err != nil {
		return &ParsedMessage{Body: msg}
	}
	formatted := strings.TrimSpace(buf.String())
	// A lone paragraph does not need its wrapper.
	if doc.ChildCount() == 1 && doc.FirstChild().Kind() == ast.KindParagraph {
		formatted = strings.TrimSuffix(strings.TrimPrefix(formatted, "<p>"), "</p>")
	}

	return &ParsedMessage{
		Body:          msg,
		Format:        event.FormatHTML,
		FormattedBody: formatted,
		Mentions:      mentions,
	}
}

// isPlain reports whether the document is a single paragraph of unstyled text.
func isPlain(doc ast.Node) bool {
	if doc.ChildCount() != 1 || doc.FirstChild().Kind() != ast.KindParagraph {
		return false
	}
	for c := doc.FirstChild().FirstChild(); c != nil; c = c.NextSibling() {
		if c.Kind() != ast.KindText {
			return false
		}
	}
	return true
}

// pillify replaces @mentions in text nodes with links to the mentioned user.
func pillify(doc ast.Node, source []byte, homeDomain string) []id.UserID {
	var texts []*ast.Text
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch n.Kind() {
		case ast.KindCodeSpan, ast.KindLink, ast.KindAutoLink, ast.KindCodeBlock, ast.KindFencedCodeBlock:
			return ast.WalkSkipChildren, nil
		case ast.KindText:
			texts = append(texts, n.(*ast.Text))
		}
		return ast.WalkContinue, nil
	})

	var mentions []id.UserID
	seen := make(map[id.UserID]bool)
	for _, t := range texts {
		if t.IsRaw() {
			continue
		}
		seg := t.Segment
		value := seg.Value(source)
		matches := mentionRe.FindAllSubmatchIndex(value, -1)
		if len(matches) == 0 {
			continue
		}

		parent := t.Parent()
		pos := 0
		replaced := false
		for _, m := range matches {
			nameStart, nameEnd := m[2], m[3]
			name := string(value[nameStart:nameEnd])
			if broadcastMentions[name] {
				continue
			}
			userID := id.UserID("@" + name)
			if !strings.Contains(name, ":") {
				userID = id.NewUserID(name, homeDomain)
			}
			at := nameStart - 1
			if at > pos {
				parent.InsertBefore(parent, t, ast.NewTextSegment(text.NewSegment(seg.Start+pos, seg.Start+at)))
			}
			link := ast.NewLink()
			link.Destination = []byte(MatrixToPrefix + string(userID))
			link.AppendChild(link, ast.NewString(value[at:nameEnd]))
			parent.InsertBefore(parent, t, link)
			pos = nameEnd
			replaced = true
			if !seen[userID] {
				seen[userID] = true
				mentions = append(mentions, userID)
			}
		}
		if !replaced {
			continue
		}
		if pos < len(value) {
			rest := ast.NewTextSegment(text.NewSegment(seg.Start+pos, seg.Stop))
			rest.SetSoftLineBreak(t.SoftLineBreak())
			rest.SetHardLineBreak(t.HardLineBreak())
			parent.InsertBefore(parent, t, rest)
		} else if t.SoftLineBreak() || t.HardLineBreak() {
			tail := ast.NewTextSegment(text.NewSegment(seg.Stop, seg.Stop))
			tail.SetSoftLineBreak(t.SoftLineBreak())
			tail.SetHardLineBreak(t.HardLineBreak())
			parent.InsertBefore(parent, t, tail)
		}
		parent.RemoveChild(parent, t)
	}
	return mentions
}
