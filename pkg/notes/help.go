// Copyright 2024-2026 Aiku AI

package notes

import (
	_ "embed"
	"fmt"
	"os"
)

//go:embed help.txt
var defaultHelpText string

// HelpSource returns the text replied to !help.
type HelpSource interface {
	HelpText() (string, error)
}

// StaticHelp serves a fixed help text.
type StaticHelp string

func (h StaticHelp) HelpText() (string, error) {
	return string(h), nil
}

// FileHelp reads the help text from a file on every request, so edits show up
// without a restart.
type FileHelp struct {
	Path string
}

func (h FileHelp) HelpText() (string, error) {
	data, err := os.ReadFile(h.Path)
	if err != nil {
		return "", fmt.Errorf("failed to read help text file: %w", err)
	}
	return string(data), nil
}

// NewHelpSource returns the help source for the given path. An empty path
// selects the built-in text.
func NewHelpSource(path string) HelpSource {
	if path == "" {
		return StaticHelp(defaultHelpText)
	}
	return FileHelp{Path: path}
}
