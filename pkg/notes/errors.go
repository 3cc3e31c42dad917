// Copyright 2024-2026 Aiku AI

package notes

import "errors"

var (
	// ErrStorage wraps every failure of the persistence layer.
	ErrStorage = errors.New("storage failure")
	// ErrParse is returned for malformed command arguments or mentions.
	ErrParse = errors.New("malformed command")
	// ErrNotFound is returned when removing a note that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPermission is returned when the sender is not allowed to mutate a room.
	ErrPermission = errors.New("permission denied")
)
