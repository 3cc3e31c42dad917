// Copyright 2024-2026 Aiku AI

package notes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// Allowlist writes a room's allowed users to the store.
type Allowlist struct {
	store Store
	log   zerolog.Logger
}

// NewAllowlist creates an allowlist manager.
func NewAllowlist(store Store, log zerolog.Logger) *Allowlist {
	return &Allowlist{
		store: store,
		log:   log.With().Str("component", "allowlist").Logger(),
	}
}

// AddUser adds a user to the room's allowlist. Adding a user that is already
// present is a no-op that still confirms.
func (al *Allowlist) AddUser(ctx context.Context, roomID id.RoomID, userID id.UserID) (string, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	added, err := al.store.PutAllowedUser(ctx, roomID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to add user: %w", err)
	}
	if !added {
		return fmt.Sprintf("User `%s` is already allowed to manage notes!", userID), nil
	}
	al.log.Info().
		Str("room_id", roomID.String()).
		Str("user_id", userID.String()).
		Msg("Added user to allowlist")
	return fmt.Sprintf("Successfully added `%s` to the allowlist!", userID), nil
}

// RemoveUser removes a user from the room's allowlist. Removing an absent
// user is reported in the message, not as an error.
func (al *Allowlist) RemoveUser(ctx context.Context, roomID id.RoomID, userID id.UserID) (string, error) {
	if err := validateUserID(userID); err != nil {
		return "", err
	}
	deleted, err := al.store.DeleteAllowedUser(ctx, roomID, userID)
	if err != nil {
		return "", fmt.Errorf("failed to remove user: %w", err)
	}
	if !deleted {
		return fmt.Sprintf("User `%s` was not found in the allowlist!", userID), nil
	}
	al.log.Info().
		Str("room_id", roomID.String()).
		Str("user_id", userID.String()).
		Msg("Removed user from allowlist")
	return fmt.Sprintf("Successfully removed `%s` from the allowlist!", userID), nil
}

func validateUserID(userID id.UserID) error {
	if _, _, err := userID.Parse(); err != nil {
		return fmt.Errorf("%w: invalid user ID %q", ErrParse, userID)
	}
	return nil
}
