// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Message is one inbound chat message.
type Message struct {
	RoomID  id.RoomID
	Sender  id.UserID
	EventID id.EventID
	Content *event.MessageEventContent
	// Event is the raw event replies are threaded to. It may be nil.
	Event *event.Event
}

// MessageFromEvent converts a Matrix m.room.message event.
func MessageFromEvent(evt *event.Event) *Message {
	content := evt.Content.AsMessage()
	if content == nil {
		return nil
	}
	return &Message{
		RoomID:  evt.RoomID,
		Sender:  evt.Sender,
		EventID: evt.ID,
		Content: content,
		Event:   evt,
	}
}

// Gateway is the messaging side the dispatcher talks to. Tests inject a
// recording fake instead of a homeserver connection.
type Gateway interface {
	// Reply sends a markdown reply to the room of msg.
	Reply(ctx context.Context, msg *Message, text string) error
	// JoinedRooms lists the rooms the bot is currently a member of.
	JoinedRooms(ctx context.Context) ([]id.RoomID, error)
}

// MatrixGateway is the production Gateway backed by a mautrix client.
type MatrixGateway struct {
	client *mautrix.Client
	log    zerolog.Logger
}

var _ Gateway = (*MatrixGateway)(nil)

// NewMatrixGateway wraps a mautrix client.
func NewMatrixGateway(client *mautrix.Client, log zerolog.Logger) *MatrixGateway {
	return &MatrixGateway{
		client: client,
		log:    log.With().Str("component", "gateway").Logger(),
	}
}

func (g *MatrixGateway) Reply(ctx context.Context, msg *Message, text string) error {
	content := replyContent(text)
	if msg.Event != nil {
		content.SetReply(msg.Event)
	}
	resp, err := g.client.SendMessageEvent(ctx, msg.RoomID, event.EventMessage, content)
	if err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	g.log.Debug().
		Str("room_id", msg.RoomID.String()).
		Str("event_id", resp.EventID.String()).
		Msg("Sent reply")
	return nil
}

func (g *MatrixGateway) JoinedRooms(ctx context.Context) ([]id.RoomID, error) {
	resp, err := g.client.JoinedRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get joined rooms: %w", err)
	}
	return resp.JoinedRooms, nil
}
