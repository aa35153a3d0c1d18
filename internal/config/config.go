// Package config loads pollbot's YAML configuration and layers environment
// variable overrides on top: a plain struct decoded with yaml.v3, never a
// reflection-based env-binding library.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the full set of environment configuration pollbot needs to
// boot: bot token, database path, cache URL, system-owner user id, OAuth
// credentials, logging directory, static-archive directory.
type Config struct {
	Chat    ChatConfig    `yaml:"chat"`
	DB      DBConfig      `yaml:"db"`
	Cache   CacheConfig   `yaml:"cache"`
	Owner   OwnerConfig   `yaml:"owner"`
	OAuth   OAuthConfig   `yaml:"oauth"`
	Logging LoggingConfig `yaml:"logging"`
	Archive ArchiveConfig `yaml:"archive"`
	Screen  ScreenConfig  `yaml:"screenshot"`
	Web     WebConfig     `yaml:"web"`
}

type ChatConfig struct {
	BaseURL    string `yaml:"base_url"`
	Token      string `yaml:"token"`
	GatewayURL string `yaml:"gateway_url"`
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type CacheConfig struct {
	URL string `yaml:"url"`
}

type OwnerConfig struct {
	UserID string `yaml:"user_id"`
}

type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

type LoggingConfig struct {
	Directory string `yaml:"directory"`
	Level     string `yaml:"level"`
	JSON      bool   `yaml:"json"`
}

type ArchiveConfig struct {
	Directory string `yaml:"directory"`
}

type ScreenConfig struct {
	SigningKeyHex string `yaml:"signing_key_hex"`
}

type WebConfig struct {
	Addr string `yaml:"addr"`
}

// WithDefaults fills in the values pollbot needs to boot even with an
// empty config file.
func (c *Config) WithDefaults() *Config {
	if c == nil {
		c = &Config{}
	}
	if c.DB.Path == "" {
		c.DB.Path = "pollbot.db"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = "logs"
	}
	if c.Archive.Directory == "" {
		c.Archive.Directory = "static/polls"
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
	return c
}

// Load reads the YAML file at path (if it exists), applies WithDefaults,
// then overlays POLLBOT_*-prefixed environment variables: file/config
// first, explicit env override last.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg = cfg.WithDefaults()
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.Chat.BaseURL, "POLLBOT_CHAT_BASE_URL")
	overrideString(&cfg.Chat.Token, "POLLBOT_CHAT_TOKEN")
	overrideString(&cfg.Chat.GatewayURL, "POLLBOT_CHAT_GATEWAY_URL")
	overrideString(&cfg.DB.Path, "POLLBOT_DB_PATH")
	overrideString(&cfg.Cache.URL, "POLLBOT_CACHE_URL")
	overrideString(&cfg.Owner.UserID, "POLLBOT_OWNER_USER_ID")
	overrideString(&cfg.OAuth.ClientID, "POLLBOT_OAUTH_CLIENT_ID")
	overrideString(&cfg.OAuth.ClientSecret, "POLLBOT_OAUTH_CLIENT_SECRET")
	overrideString(&cfg.OAuth.RedirectURL, "POLLBOT_OAUTH_REDIRECT_URL")
	overrideString(&cfg.Logging.Directory, "POLLBOT_LOG_DIR")
	overrideString(&cfg.Logging.Level, "POLLBOT_LOG_LEVEL")
	overrideBool(&cfg.Logging.JSON, "POLLBOT_LOG_JSON")
	overrideString(&cfg.Archive.Directory, "POLLBOT_ARCHIVE_DIR")
	overrideString(&cfg.Screen.SigningKeyHex, "POLLBOT_SCREENSHOT_KEY")
	overrideString(&cfg.Web.Addr, "POLLBOT_WEB_ADDR")
}

func overrideString(dst *string, envVar string) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		*dst = v
	}
}

func overrideBool(dst *bool, envVar string) {
	if v := strings.TrimSpace(os.Getenv(envVar)); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}
