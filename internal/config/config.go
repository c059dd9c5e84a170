package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for relaybot. It is resolved once at
// startup and treated as immutable by everything downstream.
type Config struct {
	General    GeneralConfig    `yaml:"general"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Completion CompletionConfig `yaml:"completion"`
	Context    ContextConfig    `yaml:"context"`
	Images     ImagesConfig     `yaml:"images"`
	Auth       AuthConfig       `yaml:"auth"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `yaml:"logLevel"`
	LogFile  string `yaml:"logFile,omitempty"`
}

// GatewayConfig configures the Discord connection and inbound filtering.
type GatewayConfig struct {
	Token           string   `yaml:"token"`
	GuildID         string   `yaml:"guildId,omitempty"`
	AllowBots       bool     `yaml:"allowBots"`
	AllowedChannels []string `yaml:"allowedChannels,omitempty"`
	BlockedChannels []string `yaml:"blockedChannels,omitempty"`
}

// CompletionConfig configures the remote completion service.
type CompletionConfig struct {
	APIBase        string `yaml:"apiBase"`
	DefaultModel   string `yaml:"defaultModel,omitempty"` // overrides the catalog default when set
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
}

// ContextConfig controls how much channel history goes into each prompt.
// WindowSize semantics: 1 = current message only, 0 = unlimited (paged),
// N > 1 = the N most recent messages. Bounded windows are limited to 100,
// the most the gateway serves in a single fetch; use 0 beyond that.
type ContextConfig struct {
	WindowSize int `yaml:"windowSize"`
}

// ImagesConfig controls image attachment forwarding.
type ImagesConfig struct {
	Enabled      bool  `yaml:"enabled"`
	MaxSizeBytes int64 `yaml:"maxSizeBytes"`
}

// AuthConfig configures completion-service credential resolution.
// Priority order at startup: Token, then the TokenEnv environment
// variable, then the cached credential at CachePath, then the interactive
// device flow (which requires ClientID).
type AuthConfig struct {
	Token         string `yaml:"token,omitempty"`
	TokenEnv      string `yaml:"tokenEnv,omitempty"`
	ClientID      string `yaml:"clientId,omitempty"`
	DeviceAuthURL string `yaml:"deviceAuthUrl,omitempty"`
	TokenURL      string `yaml:"tokenUrl,omitempty"`
	CachePath     string `yaml:"cachePath"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// DefaultConfigDir returns the default config directory (~/.relaybot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relaybot"
	}
	return filepath.Join(home, ".relaybot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.Auth.CachePath = ExpandPath(cfg.Auth.CachePath)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Context.WindowSize < 0 {
		errs = append(errs, "context.windowSize must be >= 0 (0 = unlimited, 1 = none)")
	}
	if cfg.Context.WindowSize > 100 {
		errs = append(errs, "context.windowSize must be <= 100 (use 0 for unlimited history)")
	}

	if cfg.Images.Enabled && cfg.Images.MaxSizeBytes < 1 {
		errs = append(errs, "images.maxSizeBytes must be >= 1 when image forwarding is enabled")
	}

	if cfg.Completion.APIBase == "" {
		errs = append(errs, "completion.apiBase is required")
	}
	if cfg.Completion.TimeoutSeconds < 1 {
		errs = append(errs, "completion.timeoutSeconds must be >= 1")
	}

	if cfg.Auth.CachePath == "" {
		errs = append(errs, "auth.cachePath is required")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		errs = append(errs, "metrics.addr is required when metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
