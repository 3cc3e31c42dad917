// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"
	"maunium.net/go/mautrix/id"
)

// Record is the durable representation of one room.
type Record struct {
	RoomID       id.RoomID
	Macros       map[string]string
	AllowedUsers map[id.UserID]struct{}
}

func newRecord(roomID id.RoomID) *Record {
	return &Record{
		RoomID:       roomID,
		Macros:       make(map[string]string),
		AllowedUsers: make(map[id.UserID]struct{}),
	}
}

// Store is the persistence adapter. Every error returned by an implementation
// wraps ErrStorage.
type Store interface {
	// GetRecord returns the record of one room, or nil if the room is unknown.
	GetRecord(ctx context.Context, roomID id.RoomID) (*Record, error)
	// EnsureRoom creates an empty record for the room if none exists.
	EnsureRoom(ctx context.Context, roomID id.RoomID) (created bool, err error)
	// PutMacro creates or overwrites one macro, creating the room record if needed.
	PutMacro(ctx context.Context, roomID id.RoomID, name, body string) error
	// DeleteMacro removes one macro and reports whether it existed.
	DeleteMacro(ctx context.Context, roomID id.RoomID, name string) (deleted bool, err error)
	// PutAllowedUser adds a user to the allowlist and reports whether it was absent.
	PutAllowedUser(ctx context.Context, roomID id.RoomID, userID id.UserID) (added bool, err error)
	// DeleteAllowedUser removes a user from the allowlist and reports whether it was present.
	DeleteAllowedUser(ctx context.Context, roomID id.RoomID, userID id.UserID) (deleted bool, err error)
	// AllRecords returns every persisted room record.
	AllRecords(ctx context.Context) ([]*Record, error)
}

const roomTableSchema = `
CREATE TABLE IF NOT EXISTS notes_room (
	room_id TEXT NOT NULL PRIMARY KEY
);
`

const macroTableSchema = `
CREATE TABLE IF NOT EXISTS notes_macro (
	room_id TEXT NOT NULL,
	name    TEXT NOT NULL,
	body    TEXT NOT NULL,
	PRIMARY KEY (room_id, name)
);
`

const allowedUserTableSchema = `
CREATE TABLE IF NOT EXISTS notes_allowed_user (
	room_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	PRIMARY KEY (room_id, user_id)
);
`

const (
	insertRoomSQL = "" +
		"INSERT INTO notes_room (room_id) VALUES ($1)" +
		" ON CONFLICT (room_id) DO NOTHING"
	selectRoomSQL = "" +
		"SELECT room_id FROM notes_room WHERE room_id = $1"
	selectAllRoomsSQL = "" +
		"SELECT room_id FROM notes_room"

	upsertMacroSQL = "" +
		"INSERT INTO notes_macro (room_id, name, body) VALUES ($1, $2, $3)" +
		" ON CONFLICT (room_id, name) DO UPDATE SET body = excluded.body"
	deleteMacroSQL = "" +
		"DELETE FROM notes_macro WHERE room_id = $1 AND name = $2"
	selectMacrosSQL = "" +
		"SELECT name, body FROM notes_macro WHERE room_id = $1"
	selectAllMacrosSQL = "" +
		"SELECT room_id, name, body FROM notes_macro"

	insertAllowedUserSQL = "" +
		"INSERT INTO notes_allowed_user (room_id, user_id) VALUES ($1, $2)" +
		" ON CONFLICT (room_id, user_id) DO NOTHING"
	deleteAllowedUserSQL = "" +
		"DELETE FROM notes_allowed_user WHERE room_id = $1 AND user_id = $2"
	selectAllowedUsersSQL = "" +
		"SELECT user_id FROM notes_allowed_user WHERE room_id = $1"
	selectAllAllowedUsersSQL = "" +
		"SELECT room_id, user_id FROM notes_allowed_user"
)

// SQLStore is the Store backed by a dbutil database (SQLite or Postgres).
type SQLStore struct {
	db  *dbutil.Database
	log zerolog.Logger
}

var _ Store = (*SQLStore)(nil)

// OpenSQLStore opens the database described by cfg and creates the schema.
func OpenSQLStore(ctx context.Context, cfg DatabaseConfig, log zerolog.Logger) (*SQLStore, error) {
	db, err := dbutil.NewWithDialect(cfg.URI, cfg.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open %s database: %w", ErrStorage, cfg.Type, err)
	}
	db.Log = dbutil.ZeroLogger(log.With().Str("db_section", "notes").Logger())
	if cfg.Type == "sqlite3" {
		// SQLite serializes writers anyway, a single connection avoids SQLITE_BUSY.
		db.RawDB.SetMaxOpenConns(1)
	}
	s := &SQLStore{db: db, log: log}
	for _, schema := range []string{roomTableSchema, macroTableSchema, allowedUserTableSchema} {
		if _, err = db.Exec(ctx, schema); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%w: failed to create schema: %w", ErrStorage, err)
		}
	}
	log.Info().Str("type", cfg.Type).Msg("Opened notes database")
	return s, nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) GetRecord(ctx context.Context, roomID id.RoomID) (*Record, error) {
	var found string
	err := s.db.QueryRow(ctx, selectRoomSQL, roomID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("%w: failed to get room %s: %w", ErrStorage, roomID, err)
	}
	rec := newRecord(roomID)

	rows, err := s.db.Query(ctx, selectMacrosSQL, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query macros: %w", ErrStorage, err)
	}
	for rows.Next() {
		var name, body string
		if err = rows.Scan(&name, &body); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: failed to scan macro: %w", ErrStorage, err)
		}
		rec.Macros[name] = body
	}
	if err = closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(ctx, selectAllowedUsersSQL, roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query allowed users: %w", ErrStorage, err)
	}
	for rows.Next() {
		var userID id.UserID
		if err = rows.Scan(&userID); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("%w: failed to scan allowed user: %w", ErrStorage, err)
		}
		rec.AllowedUsers[userID] = struct{}{}
	}
	if err = closeRows(rows); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SQLStore) EnsureRoom(ctx context.Context, roomID id.RoomID) (bool, error) {
	res, err := s.db.Exec(ctx, insertRoomSQL, roomID)
	if err != nil {
		return false, fmt.Errorf("%w: failed to insert room %s: %w", ErrStorage, roomID, err)
	}
	return rowsAffected(res)
}

func (s *SQLStore) PutMacro(ctx context.Context, roomID id.RoomID, name, body string) error {
	err := s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		if _, err := s.db.Exec(ctx, insertRoomSQL, roomID); err != nil {
			return err
		}
		_, err := s.db.Exec(ctx, upsertMacroSQL, roomID, name, body)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: failed to put macro %q: %w", ErrStorage, name, err)
	}
	return nil
}

func (s *SQLStore) DeleteMacro(ctx context.Context, roomID id.RoomID, name string) (bool, error) {
	res, err := s.db.Exec(ctx, deleteMacroSQL, roomID, name)
	if err != nil {
		return false, fmt.Errorf("%w: failed to delete macro %q: %w", ErrStorage, name, err)
	}
	return rowsAffected(res)
}

func (s *SQLStore) PutAllowedUser(ctx context.Context, roomID id.RoomID, userID id.UserID) (bool, error) {
	var added bool
	err := s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		if _, err := s.db.Exec(ctx, insertRoomSQL, roomID); err != nil {
			return err
		}
		res, err := s.db.Exec(ctx, insertAllowedUserSQL, roomID, userID)
		if err != nil {
			return err
		}
		added, err = rowsAffected(res)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("%w: failed to put allowed user %s: %w", ErrStorage, userID, err)
	}
	return added, nil
}

func (s *SQLStore) DeleteAllowedUser(ctx context.Context, roomID id.RoomID, userID id.UserID) (bool, error) {
	res, err := s.db.Exec(ctx, deleteAllowedUserSQL, roomID, userID)
	if err != nil {
		return false, fmt.Errorf("%w: failed to delete allowed user %s: %w", ErrStorage, userID, err)
	}
	return rowsAffected(res)
}

func (s *SQLStore) AllRecords(ctx context.Context) ([]*Record, error) {
	records := make(map[id.RoomID]*Record)
	var order []id.RoomID
	get := func(roomID id.RoomID) *Record {
		rec, ok := records[roomID]
		if !ok {
			rec = newRecord(roomID)
			records[roomID] = rec
			order = append(order, roomID)
		}
		return rec
	}

	var err error
	// All three reads share one transaction so the snapshot is consistent.
	err = s.db.DoTxn(ctx, nil, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, selectAllRoomsSQL)
		if err != nil {
			return err
		}
		for rows.Next() {
			var roomID id.RoomID
			if err = rows.Scan(&roomID); err != nil {
				_ = rows.Close()
				return err
			}
			get(roomID)
		}
		if err = closeRows(rows); err != nil {
			return err
		}

		rows, err = s.db.Query(ctx, selectAllMacrosSQL)
		if err != nil {
			return err
		}
		for rows.Next() {
			var roomID id.RoomID
			var name, body string
			if err = rows.Scan(&roomID, &name, &body); err != nil {
				_ = rows.Close()
				return err
			}
			get(roomID).Macros[name] = body
		}
		if err = closeRows(rows); err != nil {
			return err
		}

		rows, err = s.db.Query(ctx, selectAllAllowedUsersSQL)
		if err != nil {
			return err
		}
		for rows.Next() {
			var roomID id.RoomID
			var userID id.UserID
			if err = rows.Scan(&roomID, &userID); err != nil {
				_ = rows.Close()
				return err
			}
			get(roomID).AllowedUsers[userID] = struct{}{}
		}
		return closeRows(rows)
	})
	if err != nil {
		if errors.Is(err, ErrStorage) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: failed to read all records: %w", ErrStorage, err)
	}

	out := make([]*Record, 0, len(order))
	for _, roomID := range order {
		out = append(out, records[roomID])
	}
	return out, nil
}

func closeRows(rows dbutil.Rows) error {
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return fmt.Errorf("%w: failed to iterate rows: %w", ErrStorage, err)
	}
	if err := rows.Close(); err != nil {
		return fmt.Errorf("%w: failed to close rows: %w", ErrStorage, err)
	}
	return nil
}

func rowsAffected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: failed to read affected rows: %w", ErrStorage, err)
	}
	return n > 0, nil
}
