// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package mentionfmt extracts mentioned Matrix users from message content.
package mentionfmt

import (
	"html"
	"regexp"
	"strings"
	"unicode"

	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

var (
	linkRe    = regexp.MustCompile(`<a\s+href="([^"]+)"[^>]*>`)
	mxidRe    = regexp.MustCompile(`@[a-zA-Z0-9._=/+\-]+:[a-zA-Z0-9.\-]+(?::[0-9]+)?`)
	mxReplyRe = regexp.MustCompile(`(?s)^<mx-reply>.*?</mx-reply>`)
)

// Parse returns the users named in the argument text of content, in order of
// appearance and without duplicates. Pill links in the HTML body are used
// first, then bare user IDs in the plain body. A leading !keyword and any
// reply fallback are skipped.
//
// The m.mentions block is not a source: replies put the replied-to sender
// there, and that user was not named by the command.
func Parse(content *event.MessageEventContent) []id.UserID {
	if content == nil {
		return nil
	}

	if content.Format == event.FormatHTML && content.FormattedBody != "" {
		formatted := argText(mxReplyRe.ReplaceAllString(content.FormattedBody, ""))
		var users []id.UserID
		for _, match := range linkRe.FindAllStringSubmatch(formatted, -1) {
			if userID := userFromLink(html.UnescapeString(match[1])); userID != "" {
				users = append(users, userID)
			}
		}
		if len(users) > 0 {
			return dedupe(users)
		}
	}

	var users []id.UserID
	for _, match := range mxidRe.FindAllString(argText(trimReplyFallback(content.Body)), -1) {
		users = append(users, id.UserID(match))
	}
	return dedupe(users)
}

// First returns the first mentioned user, or false if nobody was mentioned.
func First(content *event.MessageEventContent) (id.UserID, bool) {
	users := Parse(content)
	if len(users) == 0 {
		return "", false
	}
	return users[0], true
}

// argText drops a leading !keyword so only the arguments are searched.
func argText(text string) string {
	text = strings.TrimLeftFunc(text, unicode.IsSpace)
	if !strings.HasPrefix(text, "!") {
		return text
	}
	idx := strings.IndexFunc(text, unicode.IsSpace)
	if idx < 0 {
		return ""
	}
	return text[idx:]
}

// trimReplyFallback removes the quoted "> " lines clients prepend to replies.
func trimReplyFallback(body string) string {
	if !strings.HasPrefix(body, "> ") {
		return body
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(line, "> ") {
			if line == "" {
				i++
			}
			return strings.Join(lines[i:], "\n")
		}
	}
	return ""
}

// userFromLink converts a matrix.to or matrix: URI into a user ID.
func userFromLink(href string) id.UserID {
	uri, err := id.ParseMatrixURIOrMatrixToURL(href)
	if err != nil || uri == nil {
		return ""
	}
	return uri.UserID()
}

func dedupe(users []id.UserID) []id.UserID {
	if len(users) == 0 {
		return nil
	}
	seen := make(map[id.UserID]struct{}, len(users))
	out := make([]id.UserID, 0, len(users))
	for _, user := range users {
		if _, ok := seen[user]; ok {
			continue
		}
		seen[user] = struct{}{}
		out = append(out, user)
	}
	return out
}
