// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package notes

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"maunium.net/go/mautrix/id"
)

// CommandPrefix introduces every command and macro invocation.
const CommandPrefix = "!"

// Built-in command names.
const (
	CommandHelp       = "help"
	CommandAdd        = "add"
	CommandRemove     = "remove"
	CommandList       = "list"
	CommandSync       = "sync"
	CommandAddUser    = "add_user"
	CommandRemoveUser = "remove_user"
)

var reservedCommands = map[string]struct{}{
	CommandHelp:       {},
	CommandAdd:        {},
	CommandRemove:     {},
	CommandList:       {},
	CommandSync:       {},
	CommandAddUser:    {},
	CommandRemoveUser: {},
}

// IsReserved reports whether name is a built-in command. Reserved names
// shadow macros of the same name permanently.
func IsReserved(name string) bool {
	_, ok := reservedCommands[name]
	return ok
}

// IsMutating reports whether the command changes a room's notes or allowlist.
func IsMutating(command string) bool {
	switch command {
	case CommandAdd, CommandRemove, CommandAddUser, CommandRemoveUser:
		return true
	default:
		return false
	}
}

var (
	passiveRe   = regexp.MustCompile(`^!([\p{L}\p{N}_]+)$`)
	macroNameRe = regexp.MustCompile(`^[\p{L}\p{N}_]+$`)
)

// ResolutionKind says what an incoming message asks the bot to do.
type ResolutionKind int

const (
	// ResolveNone means the message is ignored.
	ResolveNone ResolutionKind = iota
	// ResolveCommand means the message is a built-in command.
	ResolveCommand
	// ResolveMacro means the message invokes a stored macro.
	ResolveMacro
)

func (k ResolutionKind) String() string {
	switch k {
	case ResolveCommand:
		return "command"
	case ResolveMacro:
		return "macro"
	default:
		return "none"
	}
}

// Resolution is the outcome of resolving one message.
type Resolution struct {
	Kind ResolutionKind
	// Command is the built-in command name for ResolveCommand.
	Command string
	// Args is the raw text after the command keyword.
	Args string
	// Name is the macro name for ResolveMacro.
	Name string
	// Body is the macro body for ResolveMacro.
	Body string
}

// Resolve decides what a message means in a room. Built-in commands are
// checked strictly before macro lookup.
func Resolve(text string, roomID id.RoomID, cache *Cache) Resolution {
	if command, args, ok := splitCommand(text); ok && IsReserved(command) {
		return Resolution{Kind: ResolveCommand, Command: command, Args: args}
	}
	// One trailing newline is tolerated, as some clients append it.
	match := passiveRe.FindStringSubmatch(strings.TrimSuffix(text, "\n"))
	if match == nil || IsReserved(match[1]) {
		return Resolution{Kind: ResolveNone}
	}
	body, ok := cache.Room(roomID).Macro(match[1])
	if !ok {
		return Resolution{Kind: ResolveNone}
	}
	return Resolution{Kind: ResolveMacro, Name: match[1], Body: body}
}

// splitCommand splits "!keyword rest" into the keyword and the rest. The
// keyword ends at the first whitespace character.
func splitCommand(text string) (command, args string, ok bool) {
	if !strings.HasPrefix(text, CommandPrefix) {
		return "", "", false
	}
	rest := text[len(CommandPrefix):]
	end := strings.IndexFunc(rest, unicode.IsSpace)
	if end < 0 {
		return rest, "", rest != ""
	}
	return rest[:end], strings.TrimSpace(rest[end:]), end > 0
}

// ParseAddArgs splits the arguments of "!add" into a macro name and body.
// The name is the first whitespace-delimited token; the body is the rest of
// the text with interior whitespace preserved.
func ParseAddArgs(args string) (name, body string, err error) {
	args = strings.TrimLeftFunc(args, unicode.IsSpace)
	end := strings.IndexFunc(args, unicode.IsSpace)
	if end < 0 {
		return "", "", fmt.Errorf("%w: add requires a name and a body", ErrParse)
	}
	name = args[:end]
	body = strings.TrimRightFunc(strings.TrimLeftFunc(args[end:], unicode.IsSpace), unicode.IsSpace)
	if err = ValidateMacroName(name); err != nil {
		return "", "", err
	}
	if body == "" {
		return "", "", fmt.Errorf("%w: add requires a non-empty body", ErrParse)
	}
	return name, body, nil
}

// ParseRemoveArgs returns the single macro name given to "!remove".
func ParseRemoveArgs(args string) (string, error) {
	fields := strings.Fields(args)
	if len(fields) != 1 {
		return "", fmt.Errorf("%w: remove takes exactly one name, got %d", ErrParse, len(fields))
	}
	return fields[0], nil
}

// ValidateMacroName checks that a name can be invoked as "!<name>".
func ValidateMacroName(name string) error {
	if !macroNameRe.MatchString(name) {
		return fmt.Errorf("%w: invalid note name %q", ErrParse, name)
	}
	if IsReserved(name) {
		return fmt.Errorf("%w: note name %q is a reserved command", ErrParse, name)
	}
	return nil
}
