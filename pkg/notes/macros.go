// Copyright 2024-2026 Aiku AI

package notes

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/id"
)

// MacroStore writes a room's macros to the store.
type MacroStore struct {
	store Store
	log   zerolog.Logger
}

// NewMacroStore creates a macro store.
func NewMacroStore(store Store, log zerolog.Logger) *MacroStore {
	return &MacroStore{
		store: store,
		log:   log.With().Str("component", "macros").Logger(),
	}
}

// Add creates or overwrites a macro and returns the confirmation message.
func (ms *MacroStore) Add(ctx context.Context, roomID id.RoomID, name, body string) (string, error) {
	if err := ValidateMacroName(name); err != nil {
		return "", err
	}
	if err := ms.store.PutMacro(ctx, roomID, name, body); err != nil {
		return "", fmt.Errorf("failed to add note: %w", err)
	}
	ms.log.Info().
		Str("room_id", roomID.String()).
		Str("name", name).
		Int("body_length", len(body)).
		Msg("Saved note")
	return fmt.Sprintf("Successfully added note `%s`!", name), nil
}

// Remove deletes a macro. It returns ErrNotFound if the macro does not exist.
func (ms *MacroStore) Remove(ctx context.Context, roomID id.RoomID, name string) (string, error) {
	deleted, err := ms.store.DeleteMacro(ctx, roomID, name)
	if err != nil {
		return "", fmt.Errorf("failed to remove note: %w", err)
	}
	if !deleted {
		return "", fmt.Errorf("%w: note %q", ErrNotFound, name)
	}
	ms.log.Info().
		Str("room_id", roomID.String()).
		Str("name", name).
		Msg("Removed note")
	return fmt.Sprintf("Successfully removed note `%s`!", name), nil
}
