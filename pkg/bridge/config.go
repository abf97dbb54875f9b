// Copyright 2024-2026 Aiku AI

package bridge

import (
	_ "embed"
	"errors"
	"fmt"
	"os"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config is the full bridge configuration file.
type Config struct {
	Homeserver HomeserverConfig  `yaml:"homeserver"`
	AppService AppServiceConfig  `yaml:"appservice"`
	Bridge     BridgeConfig      `yaml:"bridge"`
	Database   dbutil.Config     `yaml:"database"`
	Media      MediaConfig       `yaml:"media"`
	Logging    zeroconfig.Config `yaml:"logging"`
}

type HomeserverConfig struct {
	Address string `yaml:"address"`
	Domain  string `yaml:"domain"`
}

type AppServiceConfig struct {
	Registration string `yaml:"registration"`
	Hostname     string `yaml:"hostname"`
	Port         uint16 `yaml:"port"`
}

// BridgeConfig holds the federation bridge settings.
type BridgeConfig struct {
	// ServerName is the federation domain local users live on. Defaults to
	// homeserver.domain.
	ServerName      string `yaml:"server_name"`
	ProcessTyping   bool   `yaml:"process_typing"`
	ProcessPresence bool   `yaml:"process_presence"`
	// SiteURL is the public URL of the local chat platform, used to build
	// quote links for inbound replies.
	SiteURL string `yaml:"site_url"`
	// AdminAPIAddr is the listen address of the admin HTTP API serving
	// settings reload, identifier verification and metrics. Defaults to
	// ":29320".
	AdminAPIAddr      string `yaml:"admin_api_addr"`
	VerifyConcurrency int    `yaml:"verify_concurrency"`
	TypingTimeout     int    `yaml:"typing_timeout"`
}

type MediaConfig struct {
	Directory string `yaml:"directory"`
	MaxSize   int64  `yaml:"max_size"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills defaults and validates the loaded config.
func (c *Config) PostProcess() error {
	if c.Homeserver.Domain == "" {
		return errors.New("homeserver.domain must be set")
	}
	if c.Bridge.ServerName == "" {
		c.Bridge.ServerName = c.Homeserver.Domain
	}
	if c.Bridge.AdminAPIAddr == "" {
		c.Bridge.AdminAPIAddr = os.Getenv("BRIDGE_API_ADDR")
	}
	if c.Bridge.AdminAPIAddr == "" {
		c.Bridge.AdminAPIAddr = ":29320"
	}
	if c.Bridge.VerifyConcurrency <= 0 {
		c.Bridge.VerifyConcurrency = 8
	}
	if c.Bridge.TypingTimeout <= 0 {
		c.Bridge.TypingTimeout = 5
	}
	if c.Media.Directory == "" {
		c.Media.Directory = "./media"
	}
	return nil
}

// Settings returns the initial runtime settings snapshot.
func (c *BridgeConfig) Settings() *Settings {
	return &Settings{
		ServerName:      c.ServerName,
		ProcessTyping:   c.ProcessTyping,
		ProcessPresence: c.ProcessPresence,
		SiteURL:         c.SiteURL,
	}
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "homeserver", "address")
	helper.Copy(up.Str, "homeserver", "domain")

	helper.Copy(up.Str, "appservice", "registration")
	helper.Copy(up.Str, "appservice", "hostname")
	helper.Copy(up.Int, "appservice", "port")

	helper.Copy(up.Str|up.Null, "bridge", "server_name")
	helper.Copy(up.Bool, "bridge", "process_typing")
	helper.Copy(up.Bool, "bridge", "process_presence")
	helper.Copy(up.Str|up.Null, "bridge", "site_url")
	helper.Copy(up.Str, "bridge", "admin_api_addr")
	helper.Copy(up.Int, "bridge", "verify_concurrency")
	helper.Copy(up.Int, "bridge", "typing_timeout")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Int, "database", "max_open_conns")
	helper.Copy(up.Int, "database", "max_idle_conns")
	helper.Copy(up.Str|up.Null, "database", "conn_max_idle_time")
	helper.Copy(up.Str|up.Null, "database", "conn_max_lifetime")

	helper.Copy(up.Str, "media", "directory")
	helper.Copy(up.Int, "media", "max_size")

	helper.Copy(up.Map, "logging")
}

// ConfigUpgrader returns the upgrader that merges an existing config file
// with ExampleConfig.
func ConfigUpgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"appservice"},
			{"bridge"},
			{"database"},
			{"media"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

// LoadConfig upgrades the config file at path in place (unless save is
// false) and parses it.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, ConfigUpgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and post-processes raw YAML config data.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
