// Package config provides YAML-based configuration loading for the reminder bot.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level bot configuration, loaded from reminderbot.yaml.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Chat      ChatConfig      `yaml:"chat"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Trigger   TriggerConfig   `yaml:"trigger"`
}

// ServerConfig holds HTTP endpoint settings.
type ServerConfig struct {
	Port       int    `yaml:"port"`
	AuthSecret string `yaml:"auth_secret"` // optional bearer secret for /api/messages
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver   string `yaml:"driver"` // "sqlite", "mysql" or "memory"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`   // mysql
	Port     int    `yaml:"port"`   // mysql
	Database string `yaml:"database"`
}

// ChatConfig selects the chat platform adapter.
type ChatConfig struct {
	Platform string        `yaml:"platform"` // "discord", "slack" or "" (console)
	Channel  string        `yaml:"channel"`  // default channel to post to
	Discord  DiscordConfig `yaml:"discord"`
	Slack    SlackConfig   `yaml:"slack"`
}

// DiscordConfig holds Discord gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// SchedulerConfig controls the delivery sweep cadence.
type SchedulerConfig struct {
	Cron string `yaml:"cron"` // 5-field cron expression
}

// TriggerConfig controls the periodic self-call that wakes a delivery sweep.
type TriggerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	IntervalSec int    `yaml:"interval_sec"`
	URL         string `yaml:"url"` // defaults to the local notify endpoint
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 3978
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "reminderbot.db"
	}
	if c.Storage.Driver == "mysql" {
		if c.Storage.Host == "" {
			c.Storage.Host = "127.0.0.1"
		}
		if c.Storage.Port == 0 {
			c.Storage.Port = 3306
		}
	}
	if c.Scheduler.Cron == "" {
		c.Scheduler.Cron = "* * * * *"
	}
	if c.Trigger.IntervalSec == 0 {
		c.Trigger.IntervalSec = 60
	}
	if c.Trigger.URL == "" {
		c.Trigger.URL = fmt.Sprintf("http://localhost:%d/api/notify", c.Server.Port)
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Storage.Driver {
	case "sqlite", "memory":
	case "mysql":
		if c.Storage.Database == "" {
			errs = append(errs, "storage.database is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not supported", c.Storage.Driver))
	}
	switch c.Chat.Platform {
	case "":
	case "discord":
		if c.Chat.Discord.BotToken == "" {
			errs = append(errs, "chat.discord.bot_token is required")
		}
	case "slack":
		if c.Chat.Slack.AppToken == "" {
			errs = append(errs, "chat.slack.app_token is required")
		}
		if c.Chat.Slack.BotToken == "" {
			errs = append(errs, "chat.slack.bot_token is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("chat.platform %q is not supported", c.Chat.Platform))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
