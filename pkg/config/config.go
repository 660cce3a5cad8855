package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is read from a YAML file under the user's home directory.
// All fields are optional; defaults are applied by the accessor methods.
//
// Example (~/.parley/config.yaml):
//
// server:
//   host: 127.0.0.1
//   port: 8088
// auth:
//   secret: 2f6c...
// llm:
//   provider: gemini
//   model: gemini-2.0-flash
//   api_key: AIza...
//
// Notes:
// - If the config file does not exist, Load returns defaults without error.
// - If the config file exists but cannot be parsed, Load returns an error.
// - Port must be between 1 and 65535.
// - Environment variables override file values (see applyEnv).
type AppConfig struct {
	Server        ServerConfig       `yaml:"server"`
	Database      DatabaseConfig     `yaml:"database"`
	Auth          AuthConfig         `yaml:"auth"`
	LLM           LLMConfig          `yaml:"llm"`
	Limits        LimitsConfig       `yaml:"limits"`
	Notifications NotificationConfig `yaml:"notifications"`
	Redis         RedisConfig        `yaml:"redis"`
	Client        ClientConfig       `yaml:"client"`
	Log           LogConfig          `yaml:"log"`
}

type ServerConfig struct {
	Host           *string  `yaml:"host"`
	Port           *int     `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

type DatabaseConfig struct {
	Path string `yaml:"path,omitempty"`
}

type AuthConfig struct {
	Secret     string        `yaml:"secret"`
	AccessTTL  time.Duration `yaml:"access_ttl,omitempty"`
	RefreshTTL time.Duration `yaml:"refresh_ttl,omitempty"`
}

type LLMConfig struct {
	Provider     string        `yaml:"provider,omitempty"`
	Model        string        `yaml:"model,omitempty"`
	APIKey       string        `yaml:"api_key,omitempty"`
	BaseURL      string        `yaml:"base_url,omitempty"`
	SystemPrompt string        `yaml:"system_prompt,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty"`
	// Breaker opens after this many consecutive failures.
	MaxFailures    uint32        `yaml:"max_failures,omitempty"`
	BreakerTimeout time.Duration `yaml:"breaker_timeout,omitempty"`
}

type LimitsConfig struct {
	PromptsPerMinute int `yaml:"prompts_per_minute,omitempty"`
	PromptBurst      int `yaml:"prompt_burst,omitempty"`
	// Concurrent model calls across all users.
	MaxGenerations int `yaml:"max_generations,omitempty"`
}

type NotificationConfig struct {
	Retention     time.Duration `yaml:"retention,omitempty"`
	PurgeSchedule string        `yaml:"purge_schedule,omitempty"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

type ClientConfig struct {
	ServerURL   string        `yaml:"server_url,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
	BackoffBase time.Duration `yaml:"backoff_base,omitempty"`
	BackoffMax  time.Duration `yaml:"backoff_max,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8088

	DefaultProvider = "gemini"
	DefaultModel    = "gemini-2.0-flash"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour

	DefaultPromptsPerMinute = 20
	DefaultPromptBurst      = 5
	DefaultMaxGenerations   = 4

	DefaultRetention     = 30 * 24 * time.Hour
	DefaultPurgeSchedule = "@daily"

	DefaultRedisChannel = "parley:envelopes"

	DefaultMaxAttempts = 8
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffMax  = 30 * time.Second

	DefaultLLMTimeout      = 2 * time.Minute
	DefaultMaxFailures     = 5
	DefaultBreakerCooldown = 30 * time.Second
)

// DefaultPaths returns the config dir and config file path.
func DefaultPaths() (configDir string, configFile string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("get user home dir: %w", err)
	}
	configDir = filepath.Join(home, ".parley")
	configFile = filepath.Join(configDir, "config.yaml")
	return configDir, configFile, nil
}

// Load reads ~/.parley/config.yaml and applies environment overrides.
// If the file doesn't exist, it returns a default config and nil error.
func Load() (*AppConfig, string, error) {
	_, configFile, err := DefaultPaths()
	if err != nil {
		return nil, "", err
	}

	cfg := &AppConfig{}

	b, err := os.ReadFile(configFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("read config file %s: %w", configFile, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, "", fmt.Errorf("parse yaml config %s: %w", configFile, err)
		}
	}

	applyEnv(cfg)

	host := cfg.Host()
	if strings.TrimSpace(host) == "" {
		return nil, "", fmt.Errorf("invalid server.host (empty) in %s", configFile)
	}

	port := cfg.Port()
	if port < 1 || port > 65535 {
		return nil, "", fmt.Errorf("invalid server.port %d in %s", port, configFile)
	}

	return cfg, configFile, nil
}

// applyEnv overlays PARLEY_* variables (and GEMINI_KEY) on top of the file values.
func applyEnv(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv("PARLEY_PORT")); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = ptr(p)
		}
	}
	if v := strings.TrimSpace(os.Getenv("PARLEY_HOST")); v != "" {
		cfg.Server.Host = ptr(v)
	}
	if v := os.Getenv("PARLEY_AUTH_SECRET"); v != "" {
		cfg.Auth.Secret = v
	}
	if v := os.Getenv("PARLEY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("PARLEY_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PARLEY_SERVER_URL"); v != "" {
		cfg.Client.ServerURL = v
	}
	if v := os.Getenv("GEMINI_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
}

// EnsureDefaultConfig writes a default config file if it doesn't already exist.
// The generated file carries a random token-signing secret.
func EnsureDefaultConfig() (string, error) {
	configDir, configFile, err := DefaultPaths()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(configFile); err == nil {
		return configFile, nil
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return "", fmt.Errorf("create config dir %s: %w", configDir, err)
	}

	secret, err := randomSecret()
	if err != nil {
		return "", err
	}

	defaultCfg := AppConfig{
		Server: ServerConfig{Host: ptr(DefaultHost), Port: ptr(DefaultPort)},
		Auth:   AuthConfig{Secret: secret},
		LLM:    LLMConfig{Provider: DefaultProvider, Model: DefaultModel},
	}
	b, err := yaml.Marshal(&defaultCfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}

	if err := os.WriteFile(configFile, b, 0o600); err != nil {
		return "", fmt.Errorf("write default config file %s: %w", configFile, err)
	}

	return configFile, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate auth secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (c *AppConfig) Host() string {
	if c == nil {
		return DefaultHost
	}
	if c.Server.Host == nil {
		return DefaultHost
	}
	v := strings.TrimSpace(*c.Server.Host)
	if v == "" {
		return DefaultHost
	}
	return v
}

func (c *AppConfig) Port() int {
	if c == nil {
		return DefaultPort
	}
	if c.Server.Port == nil {
		return DefaultPort
	}
	return *c.Server.Port
}

// DatabasePath defaults to parley.db next to the config file.
func (c *AppConfig) DatabasePath() string {
	if c != nil && strings.TrimSpace(c.Database.Path) != "" {
		return c.Database.Path
	}
	dir, _, err := DefaultPaths()
	if err != nil {
		return "parley.db"
	}
	return filepath.Join(dir, "parley.db")
}

// ServerURL is the base URL the terminal client talks to.
func (c *AppConfig) ServerURL() string {
	if c != nil && strings.TrimSpace(c.Client.ServerURL) != "" {
		return strings.TrimRight(c.Client.ServerURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.Host(), c.Port())
}

func (a AuthConfig) AccessTokenTTL() time.Duration {
	if a.AccessTTL <= 0 {
		return DefaultAccessTTL
	}
	return a.AccessTTL
}

func (a AuthConfig) RefreshTokenTTL() time.Duration {
	if a.RefreshTTL <= 0 {
		return DefaultRefreshTTL
	}
	return a.RefreshTTL
}

func (l LLMConfig) ProviderName() string {
	if v := strings.ToLower(strings.TrimSpace(l.Provider)); v != "" {
		return v
	}
	return DefaultProvider
}

func (l LLMConfig) ModelName() string {
	if v := strings.TrimSpace(l.Model); v != "" {
		return v
	}
	if l.ProviderName() == DefaultProvider {
		return DefaultModel
	}
	return ""
}

func (l LLMConfig) RequestTimeout() time.Duration {
	if l.Timeout <= 0 {
		return DefaultLLMTimeout
	}
	return l.Timeout
}

func (l LLMConfig) BreakerFailures() uint32 {
	if l.MaxFailures == 0 {
		return DefaultMaxFailures
	}
	return l.MaxFailures
}

func (l LLMConfig) BreakerCooldown() time.Duration {
	if l.BreakerTimeout <= 0 {
		return DefaultBreakerCooldown
	}
	return l.BreakerTimeout
}

func (l LimitsConfig) PerMinute() int {
	if l.PromptsPerMinute <= 0 {
		return DefaultPromptsPerMinute
	}
	return l.PromptsPerMinute
}

func (l LimitsConfig) Burst() int {
	if l.PromptBurst <= 0 {
		return DefaultPromptBurst
	}
	return l.PromptBurst
}

func (l LimitsConfig) Generations() int {
	if l.MaxGenerations <= 0 {
		return DefaultMaxGenerations
	}
	return l.MaxGenerations
}

func (n NotificationConfig) RetentionPeriod() time.Duration {
	if n.Retention <= 0 {
		return DefaultRetention
	}
	return n.Retention
}

func (n NotificationConfig) Schedule() string {
	if v := strings.TrimSpace(n.PurgeSchedule); v != "" {
		return v
	}
	return DefaultPurgeSchedule
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Addr) != "" }

func (r RedisConfig) ChannelName() string {
	if v := strings.TrimSpace(r.Channel); v != "" {
		return v
	}
	return DefaultRedisChannel
}

func (c ClientConfig) ReconnectAttempts() int {
	if c.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return c.MaxAttempts
}

func (c ClientConfig) Backoff() (base, max time.Duration) {
	base, max = c.BackoffBase, c.BackoffMax
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if max <= 0 {
		max = DefaultBackoffMax
	}
	if max < base {
		max = base
	}
	return base, max
}

func ptr[T any](v T) *T { return &v }
