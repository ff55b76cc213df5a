// Package config loads and validates the node configuration from a JSON
// file with environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/trustbridge/intergov/channel"
	"github.com/trustbridge/intergov/errors"
	"github.com/trustbridge/intergov/message"
)

// envPrefix is the prefix of every environment override.
const envPrefix = "IGL"

// Config is the complete node configuration.
type Config struct {
	Jurisdiction string        `json:"jurisdiction"`
	NATS         NATSConfig    `json:"nats"`
	API          APIConfig     `json:"api"`
	Workers      WorkersConfig `json:"workers,omitempty"`

	// Channels is the routing table, in priority order.
	Channels []ChannelConfig `json:"channels,omitempty"`

	// DocumentAPIs maps a foreign jurisdiction to the base URL of its
	// document API, for the object spider.
	DocumentAPIs map[string]string `json:"document_apis,omitempty"`
}

// NATSConfig defines the NATS connection settings.
type NATSConfig struct {
	URL           string        `json:"url,omitempty"`
	Name          string        `json:"name,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty"`
}

// APIConfig defines the HTTP surface.
type APIConfig struct {
	Listen string `json:"listen,omitempty"`

	// HubURL is the public URL of the subscriptions endpoint, sent to
	// subscribers in the Link header of every callback.
	HubURL string `json:"hub_url,omitempty"`

	// CallbackURL is where channels deliver messages for this node.
	CallbackURL string `json:"callback_url,omitempty"`
}

// WorkersConfig tunes the poll loops.
type WorkersConfig struct {
	IdleSleep        time.Duration `json:"idle_sleep,omitempty"`
	ErrorSleep       time.Duration `json:"error_sleep,omitempty"`
	RouterAttempts   int           `json:"router_attempts,omitempty"`
	OutboxStaleAfter time.Duration `json:"outbox_stale_after,omitempty"`
	RefreshPeriod    time.Duration `json:"refresh_period,omitempty"`
	RetryDelayMin    time.Duration `json:"retry_delay_min,omitempty"`
	RetryDelayMax    time.Duration `json:"retry_delay_max,omitempty"`
}

// ChannelConfig binds a routing rule to an HTTP channel.
type ChannelConfig struct {
	channel.Rule

	// SubscriptionURL is the channel's WebSub endpoint the node renews
	// its own subscription at.
	SubscriptionURL string `json:"subscription_url,omitempty"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		NATS: NATSConfig{
			URL:           "nats://localhost:4222",
			Name:          "intergov",
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		API: APIConfig{
			Listen: ":8080",
		},
		Workers: WorkersConfig{
			IdleSleep:        time.Second,
			ErrorSleep:       5 * time.Second,
			RouterAttempts:   10,
			OutboxStaleAfter: 5 * time.Minute,
			RefreshPeriod:    24 * time.Hour,
			RetryDelayMin:    time.Second,
			RetryDelayMax:    10 * time.Second,
		},
	}
}

// Load reads the configuration file at path, applies environment
// overrides and validates the result. An empty path skips the file and
// builds the configuration from defaults and environment alone.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read "+path)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse "+path)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if val := os.Getenv(envPrefix + "_JURISDICTION"); val != "" {
		c.Jurisdiction = val
	}
	if val := os.Getenv(envPrefix + "_NATS_URL"); val != "" {
		c.NATS.URL = val
	}
	if val := os.Getenv(envPrefix + "_API_LISTEN"); val != "" {
		c.API.Listen = val
	}
	if val := os.Getenv(envPrefix + "_HUB_URL"); val != "" {
		c.API.HubURL = val
	}
	if val := os.Getenv(envPrefix + "_CALLBACK_URL"); val != "" {
		c.API.CallbackURL = val
	}
	if val := os.Getenv(envPrefix + "_DOCUMENT_APIS"); val != "" {
		endpoints := make(map[string]string)
		for _, pair := range strings.Split(val, ",") {
			jurisdiction, base, ok := strings.Cut(pair, "=")
			if ok {
				endpoints[strings.TrimSpace(jurisdiction)] = strings.TrimSpace(base)
			}
		}
		c.DocumentAPIs = endpoints
	}
}

// Validate reports the first problem with the configuration.
func (c *Config) Validate() error {
	if c.Jurisdiction == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
			"jurisdiction is required")
	}
	if _, err := message.ParseJurisdiction(c.Jurisdiction); err != nil {
		return errors.WrapInvalid(err, "config", "Validate",
			fmt.Sprintf("jurisdiction %q", c.Jurisdiction))
	}
	if c.NATS.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "config", "Validate",
			"nats.url is required")
	}
	for i, ch := range c.Channels {
		if ch.Name == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("channels[%d] has no name", i))
		}
		if ch.Endpoint == "" {
			return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
				fmt.Sprintf("channel %q has no endpoint", ch.Name))
		}
		if _, err := message.ParseJurisdiction(ch.Jurisdiction); err != nil {
			return errors.WrapInvalid(err, "config", "Validate",
				fmt.Sprintf("channel %q jurisdiction", ch.Name))
		}
	}
	for jurisdiction := range c.DocumentAPIs {
		if _, err := message.ParseJurisdiction(jurisdiction); err != nil {
			return errors.WrapInvalid(err, "config", "Validate",
				fmt.Sprintf("document_apis key %q", jurisdiction))
		}
	}
	if c.Workers.RetryDelayMax < c.Workers.RetryDelayMin {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "config", "Validate",
			"workers.retry_delay_max is below workers.retry_delay_min")
	}
	return nil
}

// SubscriptionURLs lists the channel endpoints the subscription
// refresher renews at, skipping channels without one.
func (c *Config) SubscriptionURLs() []string {
	var urls []string
	for _, ch := range c.Channels {
		if ch.SubscriptionURL != "" && !slices.Contains(urls, ch.SubscriptionURL) {
			urls = append(urls, ch.SubscriptionURL)
		}
	}
	return urls
}

// String renders the configuration as JSON with secrets masked.
func (c *Config) String() string {
	clone := *c
	clone.Channels = make([]ChannelConfig, len(c.Channels))
	copy(clone.Channels, c.Channels)
	for i := range clone.Channels {
		if clone.Channels[i].AuthToken != "" {
			clone.Channels[i].AuthToken = strings.Repeat("*", 8)
		}
	}
	data, err := json.MarshalIndent(&clone, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}
