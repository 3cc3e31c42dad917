// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// Bot connects a Dispatcher to a Matrix homeserver.
type Bot struct {
	Config     *Config
	Client     *mautrix.Client
	Dispatcher *Dispatcher

	log zerolog.Logger
}

// NewBot creates the Matrix client and the dispatcher. The store stays owned
// by the caller.
func NewBot(cfg *Config, store Store, log zerolog.Logger) (*Bot, error) {
	client, err := mautrix.NewClient(cfg.Homeserver.Address, cfg.Bot.UserID, cfg.Bot.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Matrix client: %w", err)
	}
	client.DeviceID = cfg.Bot.DeviceID
	client.Log = log.With().Str("component", "matrix").Logger()

	b := &Bot{
		Config: cfg,
		Client: client,
		Dispatcher: NewDispatcher(DispatcherParams{
			Store:   store,
			Gateway: NewMatrixGateway(client, log),
			Help:    NewHelpSource(cfg.HelpFile),
			Admins:  cfg.Admins,
			Timeout: cfg.Timeout(),
			Log:     log,
		}),
		log: log.With().Str("component", "bot").Logger(),
	}

	syncer, ok := client.Syncer.(mautrix.ExtensibleSyncer)
	if !ok {
		return nil, fmt.Errorf("unexpected syncer type %T", client.Syncer)
	}
	syncer.OnSync(client.DontProcessOldEvents)
	syncer.OnEventType(event.EventMessage, b.handleMessage)
	syncer.OnEventType(event.StateMember, b.handleMember)
	return b, nil
}

// Start loads persisted rooms. An error here must abort the process.
func (b *Bot) Start(ctx context.Context) error {
	whoami, err := b.Client.Whoami(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify access token: %w", err)
	}
	if whoami.UserID != b.Config.Bot.UserID {
		return fmt.Errorf("access token belongs to %s, expected %s", whoami.UserID, b.Config.Bot.UserID)
	}
	if err = b.Dispatcher.Start(ctx); err != nil {
		return err
	}
	b.log.Info().Str("user_id", whoami.UserID.String()).Msg("Bot started")
	return nil
}

// Run syncs with the homeserver until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	b.log.Info().Msg("Starting sync loop")
	err := b.Client.SyncWithContext(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("sync loop failed: %w", err)
	}
	b.log.Info().Msg("Sync loop stopped")
	return nil
}

func (b *Bot) handleMessage(ctx context.Context, evt *event.Event) {
	if evt.Sender == b.Client.UserID {
		return
	}
	msg := MessageFromEvent(evt)
	if msg == nil {
		return
	}
	b.Dispatcher.Handle(ctx, msg)
}

func (b *Bot) handleMember(ctx context.Context, evt *event.Event) {
	if id.UserID(evt.GetStateKey()) != b.Client.UserID {
		return
	}
	member := evt.Content.AsMember()
	if member.Membership != event.MembershipInvite || !b.Config.Bot.AutoJoin {
		return
	}
	log := b.log.With().
		Str("room_id", evt.RoomID.String()).
		Str("inviter", evt.Sender.String()).
		Logger()
	if _, err := b.Client.JoinRoomByID(ctx, evt.RoomID); err != nil {
		log.Error().Err(err).Msg("Failed to join room after invite")
		return
	}
	if err := b.Dispatcher.HandleInvite(ctx, evt.RoomID); err != nil {
		log.Error().Err(err).Msg("Failed to add invited room")
		return
	}
	log.Info().Msg("Joined room after invite")
}

// WatchJoinedRooms periodically reconciles joined rooms into the store so
// that rooms joined while the bot was offline eventually get a record.
//
// The interval parameter controls how often the check runs. Pass 0 to use
// the default of 5 minutes.
func (d *Dispatcher) WatchJoinedRooms(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	d.log.Info().
		Dur("interval", interval).
		Msg("Starting WatchJoinedRooms loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info().Msg("WatchJoinedRooms stopped")
			return
		case <-ticker.C:
			d.syncJoinedRooms(ctx)
		}
	}
}

func (d *Dispatcher) syncJoinedRooms(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	created, err := d.Sync(ctx)
	if err != nil {
		d.log.Error().Err(err).Msg("WatchJoinedRooms: failed to sync joined rooms")
		return
	}
	if created > 0 {
		d.log.Info().
			Int("created", created).
			Msg("WatchJoinedRooms: added new rooms")
	}
}
