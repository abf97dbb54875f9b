// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package remotefmt converts federation HTML to local markdown.
package remotefmt

import (
	"html"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

var (
	replyRe      = regexp.MustCompile(`(?s)<mx-reply>.*?</mx-reply>`)
	pillRe       = regexp.MustCompile(`<a href="https://matrix\.to/#/([^"/?]+)"[^>]*>.*?</a>`)
	strongRe     = regexp.MustCompile(`<(?:strong|b)>(.*?)</(?:strong|b)>`)
	emRe         = regexp.MustCompile(`<(?:em|i)>(.*?)</(?:em|i)>`)
	delRe        = regexp.MustCompile(`<(?:del|s|strike)>(.*?)</(?:del|s|strike)>`)
	codeRe       = regexp.MustCompile(`<code>(.*?)</code>`)
	preRe        = regexp.MustCompile(`(?s)<pre><code(?: class="language-([\w+-]+)")?>(.*?)</code></pre>`)
	linkRe       = regexp.MustCompile(`<a href="([^"]+)"[^>]*>(.*?)</a>`)
	brRe         = regexp.MustCompile(`<br\s*/?>\n?`)
	blockquoteRe = regexp.MustCompile(`(?s)<blockquote>(.*?)</blockquote>`)
	headingRe    = regexp.MustCompile(`<h([1-6])>(.*?)</h[1-6]>`)
	ulRe         = regexp.MustCompile(`(?s)<ul>(.*?)</ul>`)
	olRe         = regexp.MustCompile(`(?s)<ol>(.*?)</ol>`)
	liRe         = regexp.MustCompile(`(?s)<li>(.*?)</li>`)
	pRe          = regexp.MustCompile(`(?s)<p>(.*?)</p>`)
	tagRe        = regexp.MustCompile(`<[^>]+>`)
	blankLinesRe = regexp.MustCompile(`\n{3,}`)
)

// Parse converts federation message content to local markdown. Pills for
// users on homeDomain become plain @username mentions, other pills keep the
// full federation identifier.
func Parse(content *event.MessageEventContent, homeDomain string) string {
	if content == nil {
		return ""
	}

	if content.Format != event.FormatHTML || content.FormattedBody == "" {
		return content.Body
	}

	text := replyRe.ReplaceAllString(content.FormattedBody, "")

	text = pillRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := pillRe.FindStringSubmatch(match)
		target, err := url.PathUnescape(parts[1])
		if err != nil || !strings.HasPrefix(target, "@") {
			return linkRe.ReplaceAllString(match, "[$2]($1)")
		}
		return Mention(id.UserID(target), homeDomain)
	})

	// Code blocks first, keeping their contents verbatim.
	text = preRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := preRe.FindStringSubmatch(match)
		return "```" + parts[1] + "\n" + strings.TrimSuffix(parts[2], "\n") + "\n```"
	})
	text = codeRe.ReplaceAllString(text, "`$1`")

	text = strongRe.ReplaceAllString(text, "**$1**")
	text = emRe.ReplaceAllString(text, "_${1}_")
	text = delRe.ReplaceAllString(text, "~~$1~~")

	text = linkRe.ReplaceAllString(text, "[$2]($1)")

	text = headingRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := headingRe.FindStringSubmatch(match)
		level := int(parts[1][0] - '0')
		return strings.Repeat("#", level) + " " + parts[2]
	})

	text = blockquoteRe.ReplaceAllStringFunc(text, func(match string) string {
		parts := blockquoteRe.FindStringSubmatch(match)
		inner := pRe.ReplaceAllString(parts[1], "$1\n")
		inner = brRe.ReplaceAllString(inner, "\n")
		lines := strings.Split(strings.TrimSpace(inner), "\n")
		for i, line := range lines {
			lines[i] = "> " + strings.TrimSpace(line)
		}
		return strings.Join(lines, "\n") + "\n"
	})

	text = ulRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for _, item := range items {
			result = append(result, "- "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n") + "\n"
	})

	text = olRe.ReplaceAllStringFunc(text, func(match string) string {
		items := liRe.FindAllStringSubmatch(match, -1)
		result := make([]string, 0, len(items))
		for i, item := range items {
			result = append(result, strconv.Itoa(i+1)+". "+strings.TrimSpace(item[1]))
		}
		return strings.Join(result, "\n") + "\n"
	})

	text = pRe.ReplaceAllString(text, "$1\n\n")
	text = brRe.ReplaceAllString(text, "\n")
	text = tagRe.ReplaceAllString(text, "")
	text = html.UnescapeString(text)
	text = blankLinesRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}

// Mention returns the local mention text for a federation user.
func Mention(userID id.UserID, homeDomain string) string {
	localpart, server, err := userID.Parse()
	if err != nil {
		return string(userID)
	}
	if server == homeDomain {
		return "@" + localpart
	}
	return string(userID)
}
