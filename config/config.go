// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For the Helix credentials badge lookup needs, use ValidateHelixReady.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/onnwee/anonchat/alias"
	"github.com/onnwee/anonchat/chat"
)

type Config struct {
	// Twitch
	TwitchChannel      string
	TwitchBotUsername  string
	TwitchOAuthToken   string
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// Aliases
	AliasPool     alias.Pool
	AliasPoolFile string

	// Overlay
	OverlayLocation   *time.Location
	OverlayTimeLayout string
	OverlayHistory    int

	// Chat
	ChatAutoStart    bool
	AutoPollInterval time.Duration

	// Database (optional)
	DBDsn string

	// HTTP
	HTTPAddr string
}

// Load reads environment variables and applies defaults. Missing Twitch app credentials
// only disable badge images; missing DB_DSN disables the transcript archive and token storage.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchChannel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(os.Getenv("TWITCH_CHANNEL")), "#"))
	cfg.TwitchBotUsername = os.Getenv("TWITCH_BOT_USERNAME")
	cfg.TwitchOAuthToken = os.Getenv("TWITCH_OAUTH_TOKEN")
	cfg.TwitchClientID = os.Getenv("TWITCH_CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("TWITCH_CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		// reading chat is all the overlay needs
		cfg.TwitchScopes = "chat:read"
	}

	// ALIAS_POOL may use literal "\n" sequences since most env files are single-line
	cfg.AliasPool = alias.ParsePool(strings.ReplaceAll(os.Getenv("ALIAS_POOL"), `\n`, "\n"))
	cfg.AliasPoolFile = os.Getenv("ALIAS_POOL_FILE")
	if cfg.AliasPoolFile != "" {
		pool, err := alias.LoadPoolFile(cfg.AliasPoolFile)
		if err != nil {
			return nil, fmt.Errorf("read ALIAS_POOL_FILE: %w", err)
		}
		cfg.AliasPool = pool
	}

	cfg.OverlayLocation = time.Local
	if v := os.Getenv("OVERLAY_TIMEZONE"); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return nil, fmt.Errorf("invalid OVERLAY_TIMEZONE: %w", err)
		}
		cfg.OverlayLocation = loc
	}
	cfg.OverlayTimeLayout = os.Getenv("OVERLAY_TIME_LAYOUT")
	if cfg.OverlayTimeLayout == "" {
		cfg.OverlayTimeLayout = chat.DefaultTimeLayout
	}
	cfg.OverlayHistory = 200
	if v := os.Getenv("OVERLAY_HISTORY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid OVERLAY_HISTORY %q: want a positive integer", v)
		}
		cfg.OverlayHistory = n
	}

	cfg.ChatAutoStart = os.Getenv("CHAT_AUTO_START") == "1"
	cfg.AutoPollInterval = 30 * time.Second
	if v := os.Getenv("CHAT_AUTO_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.AutoPollInterval = d
		}
	}

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	return cfg, nil
}

// ValidateHelixReady checks the app credentials needed for Helix calls (badges, stream status).
func (c *Config) ValidateHelixReady() error {
	if c.TwitchClientID == "" || c.TwitchClientSecret == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET")
	}
	return nil
}

// ValidateOAuthReady checks the settings needed for the user authorization flow.
func (c *Config) ValidateOAuthReady() error {
	if err := c.ValidateHelixReady(); err != nil {
		return err
	}
	if c.TwitchRedirectURI == "" {
		return fmt.Errorf("missing twitch env: require TWITCH_REDIRECT_URI")
	}
	return nil
}

// ValidateAutoStart checks the settings needed to follow a channel's live status.
func (c *Config) ValidateAutoStart() error {
	if c.TwitchChannel == "" {
		return fmt.Errorf("CHAT_AUTO_START requires TWITCH_CHANNEL")
	}
	return c.ValidateHelixReady()
}
