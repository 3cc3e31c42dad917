// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mautrix-notes is a Matrix bot that stores per-room notes and
// replays them on request. Only users on a room's allowlist may change its
// notes.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"maunium.net/go/mauflag"
	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-notes/pkg/notes"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	name    = "mautrix-notes"
	version = "0.1.0"
)

var (
	configPath     = mauflag.MakeFull("c", "config", "The path to your config file.", "config.yaml").String()
	generateConfig = mauflag.MakeFull("e", "generate-example-config", "Print the example config to stdout and exit.", "false").Bool()
	showVersion    = mauflag.MakeFull("v", "version", "View version and exit.", "false").Bool()
	grantRoom      = mauflag.MakeFull("r", "grant-room", "Room ID to add --grant-user to, then exit.", "").String()
	grantUser      = mauflag.MakeFull("u", "grant-user", "User ID to allowlist in --grant-room, then exit.", "").String()
	wantHelp, _    = mauflag.MakeHelpFlag()
)

func main() {
	mauflag.SetHelpTitles(
		fmt.Sprintf("%s %s - A Matrix bot for per-room notes.", name, version),
		fmt.Sprintf("%s [-hev] [-c <path>] [-r <room> -u <user>]", name),
	)
	err := mauflag.Parse()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		mauflag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		mauflag.PrintHelp()
		os.Exit(0)
	} else if *showVersion {
		fmt.Printf("%s %s (%s, built at %s)\n", name, Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *generateConfig {
		fmt.Print(notes.ExampleConfig)
		os.Exit(0)
	}

	cfg, err := notes.LoadConfig(*configPath)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(10)
	}
	logger, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(11)
	}
	log := *logger
	zerolog.DefaultContextLogger = &log

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = run(ctx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Bot exited with error")
	}
}

func run(ctx context.Context, cfg *notes.Config, log zerolog.Logger) error {
	store, err := notes.OpenSQLStore(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}()

	if *grantRoom != "" || *grantUser != "" {
		return grant(ctx, store, log)
	}

	bot, err := notes.NewBot(cfg, store, log)
	if err != nil {
		return err
	}
	if err = bot.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bot.Run(ctx)
	})
	if interval := cfg.WatchInterval(); interval > 0 {
		g.Go(func() error {
			bot.Dispatcher.WatchJoinedRooms(ctx, interval)
			return nil
		})
	}
	if cfg.AdminAPIAddr != "" {
		g.Go(func() error {
			return bot.Dispatcher.ServeAdminAPI(ctx, cfg.AdminAPIAddr)
		})
	}
	return g.Wait()
}

// grant bootstraps the first allowlisted user of a room.
func grant(ctx context.Context, store notes.Store, log zerolog.Logger) error {
	if *grantRoom == "" || *grantUser == "" {
		return fmt.Errorf("--grant-room and --grant-user must be used together")
	}
	reply, err := notes.NewAllowlist(store, log).AddUser(ctx, id.RoomID(*grantRoom), id.UserID(*grantUser))
	if err != nil {
		return err
	}
	log.Info().
		Str("room_id", *grantRoom).
		Str("user_id", *grantUser).
		Msg(reply)
	return nil
}
