package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Global represents ~/.wppconsole/config.toml.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// Config is the per-profile console configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Identity IdentityConfig `toml:"identity"`
	Sync     SyncConfig     `toml:"sync"`
	Rooms    RoomsConfig    `toml:"rooms"`
	Throttle ThrottleConfig `toml:"throttle"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig locates the backend.
type ServerConfig struct {
	RESTURL   string `toml:"rest_url"`
	SocketURL string `toml:"socket_url"`
	Token     string `toml:"token"`
}

// IdentityConfig is the acting user. DefaultTenant is the phone id selected
// on a first start, before any tenant was chosen.
type IdentityConfig struct {
	UserID        string `toml:"user_id"`
	Role          string `toml:"role"`
	DefaultTenant string `toml:"default_tenant"`
}

// SyncConfig sizes the dedup sets and page requests.
type SyncConfig struct {
	EventDedupSize       int `toml:"event_dedup_size"`
	MessageDedupSize     int `toml:"message_dedup_size"`
	ConversationPageSize int `toml:"conversation_page_size"`
	MessagePageSize      int `toml:"message_page_size"`
}

// RoomsConfig tunes room reconciliation.
type RoomsConfig struct {
	ReconcileInterval string   `toml:"reconcile_interval"`
	RetargetRoles     []string `toml:"retarget_roles"`
}

// ThrottleConfig holds the debounce and cooldown windows.
type ThrottleConfig struct {
	SearchDebounce string `toml:"search_debounce"`
	NotifyCooldown string `toml:"notify_cooldown"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `toml:"level"`
}

// Default returns a config with every tunable set.
func Default() *Config {
	return &Config{
		Sync: SyncConfig{
			EventDedupSize:       500,
			MessageDedupSize:     500,
			ConversationPageSize: 30,
			MessagePageSize:      50,
		},
		Rooms: RoomsConfig{
			ReconcileInterval: "2s",
		},
		Throttle: ThrottleConfig{
			SearchDebounce: "300ms",
			NotifyCooldown: "1s",
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads config from the given path on top of Default. Returns error if
// the file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadGlobal reads the global config file.
func LoadGlobal(path string) (*Global, error) {
	var g Global
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks URLs and duration strings.
func (c *Config) Validate() error {
	var errs []error
	for name, raw := range map[string]string{"server.rest_url": c.Server.RESTURL, "server.socket_url": c.Server.SocketURL} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s: invalid url %q", name, raw))
		}
	}
	for name, raw := range map[string]string{
		"rooms.reconcile_interval": c.Rooms.ReconcileInterval,
		"throttle.search_debounce": c.Throttle.SearchDebounce,
		"throttle.notify_cooldown": c.Throttle.NotifyCooldown,
	} {
		if raw == "" {
			continue
		}
		if d, err := time.ParseDuration(raw); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, raw))
		}
	}
	if c.Sync.EventDedupSize < 0 || c.Sync.MessageDedupSize < 0 {
		errs = append(errs, errors.New("sync: dedup sizes must not be negative"))
	}
	return errors.Join(errs...)
}

// ReconcileInterval returns the room reconciliation tick.
func (c *Config) ReconcileInterval() time.Duration {
	return parseOr(c.Rooms.ReconcileInterval, 2*time.Second)
}

// SearchDebounce returns the conversation search debounce window.
func (c *Config) SearchDebounce() time.Duration {
	return parseOr(c.Throttle.SearchDebounce, 300*time.Millisecond)
}

// NotifyCooldown returns the minimum spacing between notification sounds.
func (c *Config) NotifyCooldown() time.Duration {
	return parseOr(c.Throttle.NotifyCooldown, time.Second)
}

func parseOr(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// Save writes config to the given path, creating parent dirs as needed.
// The file holds the API token and is written 0600.
func Save(path string, cfg any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
