// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notes

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// RoomState is the in-memory projection of one room's record.
// Its maps are private so a snapshot cannot be changed through Room.
type RoomState struct {
	RoomID id.RoomID

	macros       map[string]string
	allowedUsers map[id.UserID]struct{}
}

// MacroNames returns the room's macro names in sorted order.
func (rs *RoomState) MacroNames() []string {
	if rs == nil {
		return nil
	}
	names := make([]string, 0, len(rs.macros))
	for name := range rs.macros {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Macro returns the body of a macro.
func (rs *RoomState) Macro(name string) (string, bool) {
	if rs == nil {
		return "", false
	}
	body, ok := rs.macros[name]
	return body, ok
}

// IsAllowed reports whether the user is on the room's allowlist.
func (rs *RoomState) IsAllowed(userID id.UserID) bool {
	if rs == nil {
		return false
	}
	_, ok := rs.allowedUsers[userID]
	return ok
}

// Cache is an immutable snapshot of every known room. It is never modified
// after construction; a refresh builds a new one.
type Cache struct {
	rooms map[id.RoomID]*RoomState
	built time.Time
	// generation orders refreshes; a cache never replaces a newer one.
	generation uint64
}

// NewCache builds a cache from persisted records. The records are copied.
func NewCache(records []*Record) *Cache {
	c := &Cache{
		rooms: make(map[id.RoomID]*RoomState, len(records)),
		built: time.Now(),
	}
	for _, rec := range records {
		rs := &RoomState{
			RoomID:       rec.RoomID,
			macros:       make(map[string]string, len(rec.Macros)),
			allowedUsers: make(map[id.UserID]struct{}, len(rec.AllowedUsers)),
		}
		for name, body := range rec.Macros {
			rs.macros[name] = body
		}
		for userID := range rec.AllowedUsers {
			rs.allowedUsers[userID] = struct{}{}
		}
		c.rooms[rec.RoomID] = rs
	}
	return c
}

// Room returns the state of one room. Unknown rooms yield nil, which every
// RoomState method treats as an empty room.
func (c *Cache) Room(roomID id.RoomID) *RoomState {
	if c == nil {
		return nil
	}
	return c.rooms[roomID]
}

// Has reports whether the room has been materialized.
func (c *Cache) Has(roomID id.RoomID) bool {
	if c == nil {
		return false
	}
	_, ok := c.rooms[roomID]
	return ok
}

// RoomCount returns the number of rooms in the snapshot.
func (c *Cache) RoomCount() int {
	if c == nil {
		return 0
	}
	return len(c.rooms)
}

// Built returns when the snapshot was created.
func (c *Cache) Built() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.built
}

// MacroCount returns the total number of macros across all rooms.
func (c *Cache) MacroCount() int {
	if c == nil {
		return 0
	}
	total := 0
	for _, rs := range c.rooms {
		total += len(rs.macros)
	}
	return total
}

// Repository materializes persisted records into caches and reconciles room
// membership into persistence.
type Repository struct {
	store Store
	log   zerolog.Logger
}

// NewRepository creates a repository over the given store.
func NewRepository(store Store, log zerolog.Logger) *Repository {
	return &Repository{
		store: store,
		log:   log.With().Str("component", "repository").Logger(),
	}
}

// Refresh reads every record and builds a brand-new cache.
func (r *Repository) Refresh(ctx context.Context) (*Cache, error) {
	start := time.Now()
	records, err := r.store.AllRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to refresh room cache: %w", err)
	}
	cache := NewCache(records)
	elapsed := time.Since(start)
	refreshDuration.Observe(elapsed.Seconds())
	cachedRooms.Set(float64(cache.RoomCount()))
	r.log.Debug().
		Int("rooms", cache.RoomCount()).
		Int("macros", cache.MacroCount()).
		Dur("elapsed", elapsed).
		Msg("Refreshed room cache")
	return cache, nil
}

// VerifyAndAddRooms creates an empty record for every room that does not have
// one yet. It returns the number of records created.
func (r *Repository) VerifyAndAddRooms(ctx context.Context, roomIDs []id.RoomID) (int, error) {
	created := 0
	for _, roomID := range roomIDs {
		ok, err := r.store.EnsureRoom(ctx, roomID)
		if err != nil {
			return created, fmt.Errorf("failed to add room %s: %w", roomID, err)
		}
		if ok {
			created++
			r.log.Info().Str("room_id", roomID.String()).Msg("Added new room record")
		}
	}
	return created, nil
}

// AddInvitedRoom is VerifyAndAddRooms for a single room.
func (r *Repository) AddInvitedRoom(ctx context.Context, roomID id.RoomID) error {
	_, err := r.VerifyAndAddRooms(ctx, []id.RoomID{roomID})
	return err
}
