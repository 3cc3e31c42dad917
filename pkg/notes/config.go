// Copyright 2024-2026 Aiku AI

package notes

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"time"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
	"maunium.net/go/mautrix/id"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the bot configuration.
type Config struct {
	Homeserver HomeserverConfig `yaml:"homeserver"`
	Bot        BotConfig        `yaml:"bot"`
	Database   DatabaseConfig   `yaml:"database"`
	// Admins may run !sync. They get no implicit access to room allowlists.
	Admins   []id.UserID `yaml:"admins"`
	HelpFile string      `yaml:"help_file"`
	// RequestTimeout bounds each command, in seconds.
	RequestTimeout int `yaml:"request_timeout"`
	// SyncInterval is the membership watcher period in seconds. Zero disables it.
	SyncInterval int `yaml:"sync_interval"`
	// AdminAPIAddr is the listen address of the admin HTTP API. Empty disables it.
	AdminAPIAddr string `yaml:"admin_api_addr"`

	Logging zeroconfig.Config `yaml:"logging"`
}

// HomeserverConfig describes where the bot connects.
type HomeserverConfig struct {
	Address string `yaml:"address"`
}

// BotConfig holds the bot account credentials.
type BotConfig struct {
	UserID      id.UserID   `yaml:"user_id"`
	AccessToken string      `yaml:"access_token"`
	DeviceID    id.DeviceID `yaml:"device_id"`
	AutoJoin    bool        `yaml:"auto_join"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Type string `yaml:"type"`
	URI  string `yaml:"uri"`
}

// DefaultRequestTimeout is used when request_timeout is not positive.
const DefaultRequestTimeout = 30 * time.Second

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess validates the config and fills in defaults.
func (c *Config) PostProcess() error {
	if c.Homeserver.Address == "" {
		return fmt.Errorf("homeserver.address is required")
	}
	if _, _, err := c.Bot.UserID.Parse(); err != nil {
		return fmt.Errorf("bot.user_id is invalid: %w", err)
	}
	switch c.Database.Type {
	case "sqlite3", "postgres":
	case "":
		c.Database.Type = "sqlite3"
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}
	if c.Database.URI == "" {
		return fmt.Errorf("database.uri is required")
	}
	for _, admin := range c.Admins {
		if _, _, err := admin.Parse(); err != nil {
			return fmt.Errorf("invalid admin user ID %q: %w", admin, err)
		}
	}
	c.Homeserver.Address = strings.TrimSuffix(c.Homeserver.Address, "/")
	return nil
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(c.RequestTimeout) * time.Second
}

// WatchInterval returns the membership watcher period, or zero if disabled.
func (c *Config) WatchInterval() time.Duration {
	if c.SyncInterval <= 0 {
		return 0
	}
	return time.Duration(c.SyncInterval) * time.Second
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver", "address")
	helper.Copy(up.Str, "bot", "user_id")
	helper.Copy(up.Str, "bot", "access_token")
	helper.Copy(up.Str, "bot", "device_id")
	helper.Copy(up.Bool, "bot", "auto_join")
	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.List, "admins")
	helper.Copy(up.Str, "help_file")
	helper.Copy(up.Int, "request_timeout")
	helper.Copy(up.Int, "sync_interval")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Map, "logging")
}

// ParseConfig upgrades raw user YAML onto the example config, decodes it and
// runs PostProcess.
func ParseConfig(data []byte) (*Config, error) {
	var baseNode, cfgNode yaml.Node
	if err := yaml.Unmarshal([]byte(ExampleConfig), &baseNode); err != nil {
		return nil, fmt.Errorf("failed to parse example config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfgNode); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfgNode.Content) > 0 {
		upgradeConfig(up.NewHelper(&baseNode, &cfgNode))
	}
	var cfg Config
	if err := baseNode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("failed to post-process config: %w", err)
	}
	return &cfg, nil
}

// LoadConfig reads and parses the config file at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}
