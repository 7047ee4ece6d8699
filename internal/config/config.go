// Package config loads the daemon's TOML configuration file into a small
// set of string-bag maps. Validation beyond basic structure (does a
// referenced provider exist, does a retry token resolve) is deliberately
// left to the collaborators that already own that knowledge: retry.Parse
// and transport.Registry.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// General holds the daemon-wide settings. Retry is a TOML array literal
// (e.g. retry = ["sms", "60", "jabber", "GIVEUP"]), one token per array
// element, matching the token list retry.Parse expects directly.
type General struct {
	QueueDir          string   `toml:"queuedir"`
	Retry             []string `toml:"retry"`
	Notify            string   `toml:"notify"` // "inotify" or "signal"
	MonitoringAddress string   `toml:"monitoring_address"`
}

// Config is the fully parsed configuration file.
type Config struct {
	General   General
	Contacts  map[string]map[string]string
	Providers map[string]map[string]string
}

// raw mirrors the on-disk TOML shape; BurntSushi/toml needs concrete
// struct tags for the fixed "general" section but is happy to decode the
// freeform [contacts.*] / [providers.*] tables directly into
// map[string]map[string]string.
type raw struct {
	General   General                      `toml:"general"`
	Contacts  map[string]map[string]string `toml:"contacts"`
	Providers map[string]map[string]string `toml:"providers"`
}

// Load parses the TOML file at path.
func Load(path string) (*Config, error) {
	var r raw
	if _, err := toml.DecodeFile(path, &r); err != nil {
		return nil, fmt.Errorf("parsing config %q: %w", path, err)
	}

	c := &Config{
		General:   r.General,
		Contacts:  r.Contacts,
		Providers: r.Providers,
	}
	if c.Contacts == nil {
		c.Contacts = map[string]map[string]string{}
	}
	if c.Providers == nil {
		c.Providers = map[string]map[string]string{}
	}

	if err := c.validateStructure(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validateStructure() error {
	if c.General.QueueDir == "" {
		return fmt.Errorf("general.queuedir is required")
	}
	if len(c.General.Retry) == 0 {
		return fmt.Errorf("general.retry is required")
	}
	switch c.General.Notify {
	case "", "inotify", "signal":
	default:
		return fmt.Errorf("general.notify must be \"inotify\" or \"signal\", got %q", c.General.Notify)
	}
	for name := range c.Providers {
		if _, ok := c.Providers[name]["driver"]; !ok {
			return fmt.Errorf("providers.%s is missing a driver", name)
		}
	}
	return nil
}

// RetryTokens returns the token list retry.Parse expects.
func (c *Config) RetryTokens() []string {
	return c.General.Retry
}

// MonitoringAddress returns the configured listen address for the
// monitoring HTTP server, or "" if monitoring is disabled.
func (c *Config) MonitoringAddress() string {
	return c.General.MonitoringAddress
}

// Recipient merges a contact's own attribute bag with its name into the
// dict a transport's Send receives ({name} ∪ config.contacts[name]).
func (c *Config) Recipient(name string) map[string]string {
	bag := c.Contacts[name]
	out := make(map[string]string, len(bag)+1)
	for k, v := range bag {
		out[k] = v
	}
	out["name"] = name
	return out
}
