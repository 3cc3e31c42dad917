// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"maunium.net/go/mautrix/id"
)

// Fixed replies.
const (
	msgNoNotes         = "No saved notes found!"
	msgNotesHeader     = "**Saved Notes** \n"
	msgAddDenied       = "Error! You do not have permission to add notes!"
	msgRemoveDenied    = "Error! You do not have permission to remove notes!"
	msgAddUserDenied   = "Error! You do not have permission to add users to the allowlist!"
	msgRemUserDenied   = "Error! You do not have permission to remove users from the allowlist!"
	msgAddUsage        = "Error! Please input a valid note to add! Check `!help` for usage examples"
	msgRemoveUsage     = "Error! Please input a valid command to remove! Check `!help` for usage examples"
	msgUserUsage       = "Error! Please mention a valid user! Check `!help` for usage examples"
	msgHelpNotFound    = "Error! Help text file not found."
	msgHelpFailed      = "Error! Failed to read help text file."
	msgCommandNotFound = "Error! Command `%s` not found"
	commandMacro       = "macro"
)

var deniedMessages = map[string]string{
	CommandAdd:        msgAddDenied,
	CommandRemove:     msgRemoveDenied,
	CommandAddUser:    msgAddUserDenied,
	CommandRemoveUser: msgRemUserDenied,
}

var usageMessages = map[string]string{
	CommandAdd:        msgAddUsage,
	CommandRemove:     msgRemoveUsage,
	CommandAddUser:    msgUserUsage,
	CommandRemoveUser: msgUserUsage,
}

var failureMessages = map[string]string{
	CommandHelp:       msgHelpFailed,
	CommandAdd:        "Error! Failed to add note.",
	CommandRemove:     "Error! Failed to remove note.",
	CommandList:       "Error! Failed to list notes.",
	CommandSync:       "Error! Failed to sync database.",
	CommandAddUser:    "Error! Failed to add user.",
	CommandRemoveUser: "Error! Failed to remove user.",
	commandMacro:      "Error! Failed to send command.",
}

// commandFunc handles one resolved command. An empty reply sends nothing.
type commandFunc func(ctx context.Context, msg *Message, res Resolution, cache *Cache) (reply, outcome string, err error)

// DispatcherParams holds the collaborators of a Dispatcher.
type DispatcherParams struct {
	Store   Store
	Gateway Gateway
	Help    HelpSource
	Admins  []id.UserID
	// Timeout bounds each request. Zero selects DefaultRequestTimeout.
	Timeout time.Duration
	Log     zerolog.Logger
}

// Dispatcher is the per-message entry point. It owns the room cache and
// replaces it wholesale after every mutation.
type Dispatcher struct {
	repo      *Repository
	macros    *MacroStore
	allowlist *Allowlist
	perms     *PermissionEvaluator
	gateway   Gateway
	help      HelpSource
	timeout   time.Duration
	log       zerolog.Logger

	cache      *atomic.Pointer[Cache]
	generation *atomic.Uint64
	handlers   map[string]commandFunc
}

// NewDispatcher creates a dispatcher with an empty cache. Call Start to load
// persisted state before handling messages.
func NewDispatcher(p DispatcherParams) *Dispatcher {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	help := p.Help
	if help == nil {
		help = StaticHelp(defaultHelpText)
	}
	d := &Dispatcher{
		repo:       NewRepository(p.Store, p.Log),
		macros:     NewMacroStore(p.Store, p.Log),
		allowlist:  NewAllowlist(p.Store, p.Log),
		perms:      NewPermissionEvaluator(p.Admins),
		gateway:    p.Gateway,
		help:       help,
		timeout:    timeout,
		log:        p.Log.With().Str("component", "dispatcher").Logger(),
		cache:      atomic.NewPointer(NewCache(nil)),
		generation: atomic.NewUint64(0),
	}
	d.handlers = map[string]commandFunc{
		CommandHelp:       d.handleHelp,
		CommandAdd:        d.handleAdd,
		CommandRemove:     d.handleRemove,
		CommandList:       d.handleList,
		CommandSync:       d.handleSync,
		CommandAddUser:    d.handleAddUser,
		CommandRemoveUser: d.handleRemoveUser,
	}
	return d
}

// Start performs the initial refresh. Its error is fatal to the caller.
func (d *Dispatcher) Start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	cache, err := d.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rooms: %w", err)
	}
	d.log.Info().
		Int("rooms", cache.RoomCount()).
		Int("macros", cache.MacroCount()).
		Msg("Loaded room cache")
	return nil
}

// Cache returns the current snapshot.
func (d *Dispatcher) Cache() *Cache {
	return d.cache.Load()
}

// Refresh rebuilds the cache from the store and swaps it in. A refresh that
// started before the one currently installed never overwrites it, so every
// committed mutation is visible once its own refresh returns.
func (d *Dispatcher) Refresh(ctx context.Context) (*Cache, error) {
	gen := d.generation.Inc()
	cache, err := d.repo.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	cache.generation = gen
	return d.install(cache), nil
}

// install swaps in cache unless a newer one is already installed. It returns
// the cache that ends up installed.
func (d *Dispatcher) install(cache *Cache) *Cache {
	for {
		current := d.cache.Load()
		if current != nil && current.generation > cache.generation {
			return current
		}
		if d.cache.CompareAndSwap(current, cache) {
			return cache
		}
	}
}

// Sync reconciles the bot's joined rooms into the store and refreshes.
func (d *Dispatcher) Sync(ctx context.Context) (created int, err error) {
	rooms, err := d.gateway.JoinedRooms(ctx)
	if err != nil {
		return 0, err
	}
	created, err = d.repo.VerifyAndAddRooms(ctx, rooms)
	if err != nil {
		return created, err
	}
	if _, err = d.Refresh(ctx); err != nil {
		return created, err
	}
	return created, nil
}

// HandleInvite records a room the bot was invited to and refreshes.
func (d *Dispatcher) HandleInvite(ctx context.Context, roomID id.RoomID) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.repo.AddInvitedRoom(ctx, roomID); err != nil {
		return err
	}
	_, err := d.Refresh(ctx)
	return err
}

// Handle processes one inbound message. It never panics and never returns an
// error: every failure is logged and answered in the room.
func (d *Dispatcher) Handle(ctx context.Context, msg *Message) {
	if msg == nil || msg.Content == nil {
		return
	}
	cache := d.cache.Load()
	res := Resolve(msg.Content.Body, msg.RoomID, cache)
	if res.Kind == ResolveNone {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	log := d.log.With().
		Str("room_id", msg.RoomID.String()).
		Str("sender", msg.Sender.String()).
		Str("event_id", msg.EventID.String()).
		Logger()
	ctx = log.WithContext(ctx)

	switch res.Kind {
	case ResolveMacro:
		d.run(ctx, msg, commandMacro, d.handleMacro, res, cache)
	case ResolveCommand:
		d.run(ctx, msg, res.Command, d.handlers[res.Command], res, cache)
	}
}

// run is the failure boundary around one command.
func (d *Dispatcher) run(ctx context.Context, msg *Message, command string, fn commandFunc, res Resolution, cache *Cache) {
	log := zerolog.Ctx(ctx).With().Str("command", command).Logger()
	defer func() {
		if p := recover(); p != nil {
			log.Error().Any("panic", p).Msg("Command handler panicked")
			commandsTotal.WithLabelValues(command, outcomeError).Inc()
			d.reply(ctx, msg, failureMessages[command])
		}
	}()

	log.Debug().Str("kind", res.Kind.String()).Msg("Handling command")
	var reply, outcome string
	var err error
	if res.Kind == ResolveCommand && IsMutating(command) {
		// Checked before the arguments are parsed.
		err = d.checkPermission(msg, cache)
	}
	if err == nil {
		reply, outcome, err = fn(ctx, msg, res, cache)
	}
	if err != nil {
		outcome = outcomeError
		reply = failureMessages[command]
		switch {
		case errors.Is(err, ErrParse):
			log.Warn().Err(err).Msg("Malformed command")
			if usage, ok := usageMessages[command]; ok {
				reply = usage
			}
		case errors.Is(err, ErrPermission):
			log.Warn().Err(err).Msg("Permission denied")
			outcome = outcomeDenied
			reply = deniedMessages[command]
		default:
			log.Error().Err(err).Msg("Failed to handle command")
		}
	}
	commandsTotal.WithLabelValues(command, outcome).Inc()
	if reply != "" {
		d.reply(ctx, msg, reply)
	}
}

func (d *Dispatcher) reply(ctx context.Context, msg *Message, text string) {
	if err := d.gateway.Reply(ctx, msg, text); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to send reply")
	}
}

// checkPermission returns ErrPermission unless sender is allowlisted.
func (d *Dispatcher) checkPermission(msg *Message, cache *Cache) error {
	if !d.perms.HasPermission(msg.RoomID, msg.Sender, cache) {
		return fmt.Errorf("%w: %s is not allowlisted in %s", ErrPermission, msg.Sender, msg.RoomID)
	}
	return nil
}

// mutate runs a store operation and then refreshes the cache.
func (d *Dispatcher) mutate(ctx context.Context, op func() (string, error)) (string, string, error) {
	reply, err := op()
	if err != nil {
		return "", "", err
	}
	if _, err = d.Refresh(ctx); err != nil {
		return "", "", err
	}
	return reply, outcomeOK, nil
}

func (d *Dispatcher) handleMacro(_ context.Context, _ *Message, res Resolution, _ *Cache) (string, string, error) {
	return res.Body, outcomeOK, nil
}

func (d *Dispatcher) handleHelp(ctx context.Context, _ *Message, _ Resolution, _ *Cache) (string, string, error) {
	text, err := d.help.HelpText()
	if errors.Is(err, fs.ErrNotExist) {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Help text file not found")
		return msgHelpNotFound, outcomeError, nil
	} else if err != nil {
		return "", "", err
	}
	return text, outcomeOK, nil
}

func (d *Dispatcher) handleAdd(ctx context.Context, msg *Message, res Resolution, _ *Cache) (string, string, error) {
	name, body, err := ParseAddArgs(res.Args)
	if err != nil {
		return "", "", err
	}
	return d.mutate(ctx, func() (string, error) {
		return d.macros.Add(ctx, msg.RoomID, name, body)
	})
}

func (d *Dispatcher) handleRemove(ctx context.Context, msg *Message, res Resolution, cache *Cache) (string, string, error) {
	name, err := ParseRemoveArgs(res.Args)
	if err != nil {
		return "", "", err
	}
	if _, ok := cache.Room(msg.RoomID).Macro(name); !ok {
		return fmt.Sprintf(msgCommandNotFound, name), outcomeIgnored, nil
	}
	reply, outcome, err := d.mutate(ctx, func() (string, error) {
		return d.macros.Remove(ctx, msg.RoomID, name)
	})
	if errors.Is(err, ErrNotFound) {
		// Removed concurrently after our snapshot was taken.
		return fmt.Sprintf(msgCommandNotFound, name), outcomeIgnored, nil
	}
	return reply, outcome, err
}

func (d *Dispatcher) handleList(_ context.Context, msg *Message, _ Resolution, cache *Cache) (string, string, error) {
	names := cache.Room(msg.RoomID).MacroNames()
	if len(names) == 0 {
		return msgNoNotes, outcomeOK, nil
	}
	items := make([]string, len(names))
	for i, name := range names {
		items[i] = "- " + name
	}
	return msgNotesHeader + strings.Join(items, "\n"), outcomeOK, nil
}

func (d *Dispatcher) handleSync(ctx context.Context, msg *Message, _ Resolution, _ *Cache) (string, string, error) {
	if !d.perms.IsAdmin(msg.Sender) {
		zerolog.Ctx(ctx).Debug().Msg("Ignoring sync from non-admin")
		return "", outcomeIgnored, nil
	}
	created, err := d.Sync(ctx)
	if err != nil {
		return "", "", err
	}
	zerolog.Ctx(ctx).Info().Int("created", created).Msg("Synced joined rooms")
	return "", outcomeOK, nil
}

func (d *Dispatcher) handleAddUser(ctx context.Context, msg *Message, _ Resolution, _ *Cache) (string, string, error) {
	userID, ok := mentionedUser(msg.Content)
	if !ok {
		return "", "", fmt.Errorf("%w: no user mentioned", ErrParse)
	}
	return d.mutate(ctx, func() (string, error) {
		return d.allowlist.AddUser(ctx, msg.RoomID, userID)
	})
}

func (d *Dispatcher) handleRemoveUser(ctx context.Context, msg *Message, _ Resolution, _ *Cache) (string, string, error) {
	userID, ok := mentionedUser(msg.Content)
	if !ok {
		return "", "", fmt.Errorf("%w: no user mentioned", ErrParse)
	}
	return d.mutate(ctx, func() (string, error) {
		return d.allowlist.RemoveUser(ctx, msg.RoomID, userID)
	})
}
