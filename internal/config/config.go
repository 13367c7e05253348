// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for
// sitechat.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.sitechat/config.toml
//   - ~/.sitechat/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/nvalden/sitechat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete sitechat configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Endpoint is the chat service connection.
	Endpoint EndpointConfig `toml:"endpoint" json:"endpoint"`

	// Chat controls conversation behavior.
	Chat ChatConfig `toml:"chat" json:"chat"`

	// Storage controls transcript persistence.
	Storage StorageConfig `toml:"storage" json:"storage"`

	// History controls the searchable transcript index.
	History HistoryConfig `toml:"history" json:"history"`

	// UI controls rendering.
	UI UIConfig `toml:"ui" json:"ui"`
}

// EndpointConfig describes the chat service endpoint.
type EndpointConfig struct {
	// URL is the streaming chat endpoint.
	URL string `toml:"url" json:"url"`
	// UserAgent overrides the client's User-Agent header when set.
	UserAgent string `toml:"user_agent" json:"user_agent"`
	// PageURL and PageTitle are reported in request metadata, standing in
	// for the embedding page.
	PageURL   string `toml:"page_url" json:"page_url"`
	PageTitle string `toml:"page_title" json:"page_title"`
	// StallTimeoutSecs bounds the wait for each streamed chunk.
	// 0 uses the built-in default; -1 disables the bound.
	StallTimeoutSecs int `toml:"stall_timeout_secs" json:"stall_timeout_secs"`
}

// ChatConfig controls conversation behavior.
type ChatConfig struct {
	// MaxMessages bounds the conversation; oldest entries evicted first.
	MaxMessages int `toml:"max_messages" json:"max_messages"`
	// Greeting is the assistant message opening a fresh conversation.
	Greeting string `toml:"greeting" json:"greeting"`
}

// StorageConfig controls transcript persistence.
type StorageConfig struct {
	// Dir is the transcript directory (empty = ~/.sitechat/transcripts).
	Dir string `toml:"dir" json:"dir"`
	// KeepTranscripts is how many transcripts to retain; older ones are
	// pruned. 0 disables pruning.
	KeepTranscripts int `toml:"keep_transcripts" json:"keep_transcripts"`
	// SaveOnExit writes the conversation to a transcript on quit.
	SaveOnExit bool `toml:"save_on_exit" json:"save_on_exit"`
}

// HistoryConfig controls the searchable transcript index.
type HistoryConfig struct {
	// Enabled turns the sqlite index on.
	Enabled bool `toml:"enabled" json:"enabled"`
	// DBPath is the index database path (empty = ~/.sitechat/history.db).
	DBPath string `toml:"db_path" json:"db_path"`
}

// UIConfig controls rendering.
type UIConfig struct {
	// Theme selects the color theme: "dark", "light", or "auto".
	Theme string `toml:"theme" json:"theme"`
	// Markdown renders assistant replies as markdown when true.
	Markdown bool `toml:"markdown" json:"markdown"`
	// SyntaxTheme names the highlighting style for code blocks.
	SyntaxTheme string `toml:"syntax_theme" json:"syntax_theme"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in default configuration.
func Default() *Config {
	return &Config{
		Version: "1",
		Endpoint: EndpointConfig{
			UserAgent:        "sitechat/1.0",
			StallTimeoutSecs: 120,
		},
		Chat: ChatConfig{
			MaxMessages: 50,
		},
		Storage: StorageConfig{
			KeepTranscripts: 100,
			SaveOnExit:      true,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		UI: UIConfig{
			Theme:       "auto",
			Markdown:    true,
			SyntaxTheme: "monokai",
		},
	}
}

// fillDefaults replaces zero values with built-in defaults after a load.
func fillDefaults(cfg *Config) {
	def := Default()
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.Endpoint.UserAgent == "" {
		cfg.Endpoint.UserAgent = def.Endpoint.UserAgent
	}
	if cfg.Endpoint.StallTimeoutSecs == 0 {
		cfg.Endpoint.StallTimeoutSecs = def.Endpoint.StallTimeoutSecs
	}
	if cfg.Chat.MaxMessages == 0 {
		cfg.Chat.MaxMessages = def.Chat.MaxMessages
	}
	if cfg.Storage.KeepTranscripts == 0 {
		cfg.Storage.KeepTranscripts = def.Storage.KeepTranscripts
	}
	if cfg.UI.Theme == "" {
		cfg.UI.Theme = def.UI.Theme
	}
	if cfg.UI.SyntaxTheme == "" {
		cfg.UI.SyntaxTheme = def.UI.SyntaxTheme
	}
}

// =============================================================================
// PATHS
// =============================================================================

// ConfigDir returns the sitechat configuration directory.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".sitechat"), nil
}

// ConfigPathTOML returns the TOML config file path.
func ConfigPathTOML() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ConfigPathJSON returns the JSON config file path.
func ConfigPathJSON() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// EnsureConfigDir creates the configuration directory if missing.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o700)
}

// TranscriptDir returns the resolved transcript directory.
func (c *Config) TranscriptDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "transcripts"), nil
}

// HistoryDBPath returns the resolved history database path.
func (c *Config) HistoryDBPath() (string, error) {
	if c.History.DBPath != "" {
		return c.History.DBPath, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "history.db"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from the standard locations, preferring TOML over
// JSON, falling back to defaults when no file exists. Environment overrides
// are applied last.
func Load() (*Config, error) {
	cfg := Default()

	if path, err := ConfigPathTOML(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadTOML(cfg, path); err != nil {
				return nil, err
			}
			cfg.ApplyEnvOverrides()
			fillDefaults(cfg)
			return cfg, nil
		}
	}

	if path, err := ConfigPathJSON(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if err := LoadJSON(cfg, path); err != nil {
				return nil, err
			}
			cfg.ApplyEnvOverrides()
			fillDefaults(cfg)
			return cfg, nil
		}
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	return cfg, nil
}

// LoadTOML loads TOML configuration from path into cfg.
func LoadTOML(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// LoadJSON loads JSON configuration from path into cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

// LoadFromPath loads configuration from an explicit path, selecting the
// format by extension.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = LoadTOML(cfg, path)
	case ".json":
		err = LoadJSON(cfg, path)
	default:
		err = fmt.Errorf("unsupported config format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	fillDefaults(cfg)
	return cfg, nil
}

// =============================================================================
// SAVING
// =============================================================================

// Save writes cfg to the standard TOML location.
func Save(cfg *Config) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	path, err := ConfigPathTOML()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML writes cfg as TOML via an atomic replace.
func SaveTOML(cfg *Config, path string) error {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, []byte(b.String()), 0o600)
}

// SaveJSON writes cfg as JSON via an atomic replace.
func SaveJSON(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return util.AtomicWriteFile(path, append(data, '\n'), 0o600)
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies SITECHAT_* environment variables on top of the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("SITECHAT_ENDPOINT"); v != "" {
		c.Endpoint.URL = v
	}
	if v := os.Getenv("SITECHAT_USER_AGENT"); v != "" {
		c.Endpoint.UserAgent = v
	}
	if v := os.Getenv("SITECHAT_PAGE_URL"); v != "" {
		c.Endpoint.PageURL = v
	}
	if v := os.Getenv("SITECHAT_PAGE_TITLE"); v != "" {
		c.Endpoint.PageTitle = v
	}
	if v := os.Getenv("SITECHAT_STALL_TIMEOUT"); v != "" {
		c.Endpoint.StallTimeoutSecs = util.StringToInt(v, c.Endpoint.StallTimeoutSecs)
	}
	if v := os.Getenv("SITECHAT_MAX_MESSAGES"); v != "" {
		c.Chat.MaxMessages = util.StringToInt(v, c.Chat.MaxMessages)
	}
	if v := os.Getenv("SITECHAT_GREETING"); v != "" {
		c.Chat.Greeting = v
	}
	if v := os.Getenv("SITECHAT_DATA_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("SITECHAT_THEME"); v != "" {
		c.UI.Theme = v
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors collects all validation failures.
type ValidateErrors []ValidationError

// Error implements the error interface.
func (e ValidateErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, v := range e {
		msgs = append(msgs, v.Error())
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks the configuration, collecting every problem before
// returning. A nil return means the config is usable.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Endpoint.URL != "" {
		u, err := url.Parse(c.Endpoint.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, ValidationError{
				Field:   "endpoint.url",
				Message: "must be an http or https URL",
			})
		}
	}
	if c.Chat.MaxMessages < 2 {
		errs = append(errs, ValidationError{
			Field:   "chat.max_messages",
			Message: "must be at least 2 (one exchange)",
		})
	}
	if c.Storage.KeepTranscripts < 0 {
		errs = append(errs, ValidationError{
			Field:   "storage.keep_transcripts",
			Message: "must not be negative",
		})
	}
	switch c.UI.Theme {
	case "dark", "light", "auto":
	default:
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: "must be one of: dark, light, auto",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
