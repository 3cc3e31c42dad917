// Copyright 2024-2026 Aiku AI

package notes

import "maunium.net/go/mautrix/id"

// PermissionEvaluator decides who may mutate a room and who may run
// administrative commands.
type PermissionEvaluator struct {
	admins map[id.UserID]struct{}
}

// NewPermissionEvaluator creates an evaluator with the configured admins.
func NewPermissionEvaluator(admins []id.UserID) *PermissionEvaluator {
	pe := &PermissionEvaluator{admins: make(map[id.UserID]struct{}, len(admins))}
	for _, admin := range admins {
		pe.admins[admin] = struct{}{}
	}
	return pe
}

// HasPermission reports whether sender is on the room's allowlist in the
// given cache snapshot. Admins get no implicit access here.
func (pe *PermissionEvaluator) HasPermission(roomID id.RoomID, sender id.UserID, cache *Cache) bool {
	return cache.Room(roomID).IsAllowed(sender)
}

// IsAdmin reports whether sender may run administrative commands like sync.
func (pe *PermissionEvaluator) IsAdmin(sender id.UserID) bool {
	if pe == nil {
		return false
	}
	_, ok := pe.admins[sender]
	return ok
}
