// Copyright 2024-2026 Aiku AI

package notes

import (
	"github.com/aiku/mautrix-notes/pkg/notes/mentionfmt"
	"github.com/aiku/mautrix-notes/pkg/notes/replyfmt"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// replyContent converts a markdown reply to Matrix notice content.
func replyContent(text string) *event.MessageEventContent {
	return replyfmt.Render(text)
}

// mentionedUser returns the first user mentioned in a message.
func mentionedUser(content *event.MessageEventContent) (id.UserID, bool) {
	return mentionfmt.First(content)
}
