// Package config loads the CLI configuration from the user's config
// directory, with struct-tag defaults and environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	configDirName = "lyra"
	defaultConfig = ".config"
)

var configFiles = []string{
	"config.yaml",
	"config.yml",
}

// Config is the application configuration.
type Config struct {
	// BaseURL is the backend API root, without a trailing slash.
	BaseURL string `yaml:"base_url" default:"https://api.lyra.chat"`

	Retry struct {
		MaxRetries int           `yaml:"max_retries" default:"3"`
		BaseDelay  time.Duration `yaml:"base_delay" default:"1s"`
	} `yaml:"retry"`

	Render struct {
		// Format is "markdown" or "plain".
		Format string `yaml:"format" default:"markdown"`
	} `yaml:"render"`

	Log struct {
		// File enables a rotating debug log when set.
		File  string `yaml:"file"`
		Level string `yaml:"level" default:"warn"`
	} `yaml:"log"`
}

func newDefaultConfig() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return cfg, nil
}

// Dir returns the lyra config directory, honoring XDG_CONFIG_HOME.
func Dir() (string, error) {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home directory: %w", err)
		}
		configHome = filepath.Join(home, defaultConfig)
	}
	return filepath.Join(configHome, configDirName), nil
}

// AuthFile returns the path of the persisted auth state.
func AuthFile() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "auth.json"), nil
}

// Load reads the first available config file, fills defaults, and applies
// environment overrides. A missing config directory yields the defaults.
func Load() (*Config, error) {
	// Local .env files are a development convenience; absence is fine.
	_ = godotenv.Load()

	cfg, err := loadConfigFiles()
	if err != nil {
		return nil, err
	}
	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func loadConfigFiles() (*Config, error) {
	configDir, err := Dir()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return newDefaultConfig()
	}

	for _, filename := range configFiles {
		cfg, err := tryLoadConfig(filepath.Join(configDir, filename))
		if err == nil {
			return cfg, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load config from %s: %w", filename, err)
		}
	}

	return newDefaultConfig()
}

func tryLoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg, err := newDefaultConfig()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LYRA_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("LYRA_LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("LYRA_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

func (c *Config) validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url %q is not a valid URL", c.BaseURL)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must not be negative")
	}
	if c.Render.Format != "markdown" && c.Render.Format != "plain" {
		return fmt.Errorf("render.format must be markdown or plain, got %q", c.Render.Format)
	}
	return nil
}
