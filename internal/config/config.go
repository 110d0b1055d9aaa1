package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"radsite/internal/auth"
)

// Config models radsite.yml. Apps lists installed applications in
// registration order.
type Config struct {
	Site     Site      `yaml:"site"`
	Server   Server    `yaml:"server"`
	Database Database  `yaml:"database"`
	Apps     []string  `yaml:"apps"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Server struct {
	Addr        string `yaml:"addr"`
	APIBasePath string `yaml:"api_base_path"`
}

type Database struct {
	Workspace string `yaml:"workspace"`
}

// Webhook receives events from the event log as JSON POSTs. Empty Events
// means every event type.
type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Site holds the settings the engine and its views read.
type Site struct {
	Title            string        `yaml:"title"`
	SecretKey        string        `yaml:"secret_key"`
	LoginURL         string        `yaml:"login_url"`
	MinimumAuthLevel string        `yaml:"minimum_auth_level"`
	LoginExceptions  []string      `yaml:"login_exceptions"`
	SignedURLExpire  time.Duration `yaml:"signed_url_expire"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	SecureCookies    bool          `yaml:"secure_cookies"`
	DevLogin         bool          `yaml:"dev_login"`
}

// Level returns the parsed site default level, Cached when unset.
func (s Site) Level() (auth.Level, error) {
	if strings.TrimSpace(s.MinimumAuthLevel) == "" {
		return auth.Cached, nil
	}
	return auth.ParseLevel(s.MinimumAuthLevel)
}

// Exceptions compiles the login exception patterns, anchored at the start
// of the path.
func (s Site) Exceptions() ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(s.LoginExceptions))
	for _, p := range s.LoginExceptions {
		re, err := regexp.Compile("^(?:" + p + ")")
		if err != nil {
			return nil, fmt.Errorf("login exception %q: %w", p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with radsite init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Site.SecretKey) == "" {
		return fmt.Errorf("config.site.secret_key is required")
	}
	if _, err := c.Site.Level(); err != nil {
		return fmt.Errorf("config.site.minimum_auth_level: %w", err)
	}
	if _, err := c.Site.Exceptions(); err != nil {
		return fmt.Errorf("config.site.login_exceptions: %w", err)
	}
	if c.Site.LoginURL != "" && !strings.HasPrefix(c.Site.LoginURL, "/") {
		return fmt.Errorf("config.site.login_url must be a path")
	}
	if c.Server.APIBasePath != "" && !strings.HasPrefix(c.Server.APIBasePath, "/") {
		return fmt.Errorf("config.server.api_base_path must start with /")
	}
	if len(c.Apps) == 0 {
		return fmt.Errorf("config.apps is required")
	}
	seen := map[string]bool{}
	for _, name := range c.Apps {
		if name == "" {
			return fmt.Errorf("config.apps contains an empty name")
		}
		if seen[name] {
			return fmt.Errorf("app %s listed twice", name)
		}
		seen[name] = true
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "radsite.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(secret string) string {
	return fmt.Sprintf(defaultTemplate, secret)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config without a secret key.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, ""))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Unset keys keep
// their default.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `site:
  title: RAD site
  secret_key: "%s"
  login_url: /login
  minimum_auth_level: cached
  login_exceptions: []
  signed_url_expire: 1h
  session_ttl: 336h
  dev_login: false

server:
  addr: 127.0.0.1:8000
  api_base_path: /api

database:
  workspace: .

apps:
  - users
  - contacts
  - partners
`
