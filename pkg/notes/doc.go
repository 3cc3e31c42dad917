// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package notes implements a Matrix bot that stores per-room text notes
// (macros) and replays them when a member sends "!<name>".
//
// Each room has its own set of notes and its own allowlist of users who may
// change them. Anyone in the room may read notes; only allowlisted users may
// add or remove notes and edit the allowlist.
//
// # Core Types
//
// [Store] is the persistence adapter. [SQLStore] implements it on SQLite or
// Postgres with one row per note and per allowed user, so concurrent edits
// to different fields of the same room never overwrite each other.
//
// [Cache] is an immutable snapshot of every room. The [Dispatcher] swaps in
// a new snapshot after every mutation; a refresh that started earlier never
// replaces a snapshot built later.
//
// [Dispatcher] resolves each message with [Resolve], checks permissions and
// routes the command. Built-in commands always win over notes of the same
// name. Every handler runs behind a failure boundary, so a broken command
// produces an error reply instead of taking the bot down.
//
// [Bot] connects the dispatcher to a homeserver through a mautrix client.
//
// # Admin API
//
// When admin_api_addr is set, POST /api/refresh rebuilds the cache (and
// optionally reconciles joined rooms) and GET /metrics exposes Prometheus
// metrics.
//
// # Sub-packages
//
//   - mentionfmt extracts mentioned users from Matrix message content.
//   - replyfmt renders markdown replies as Matrix HTML notices.
package notes
