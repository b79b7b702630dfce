// Package config handles configuration loading for mybrowse.
// It supports a .env file, XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ProjectConfigName is the project-level override file searched upward from the working directory.
const ProjectConfigName = ".mybrowse.yaml"

// Config holds all configuration for mybrowse.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic" yaml:"anthropic"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Supervisor SupervisorConfig `mapstructure:"supervisor" yaml:"supervisor"`
	Persona    PersonaConfig    `mapstructure:"persona" yaml:"persona"`
	Events     EventsConfig     `mapstructure:"events" yaml:"events"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
}

// AnthropicConfig holds LLM settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Model      string `mapstructure:"model" yaml:"model"`
	MaxTokens  int    `mapstructure:"max_tokens" yaml:"max_tokens"`
	UseBedrock bool   `mapstructure:"use_bedrock" yaml:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	Driver      string `mapstructure:"driver" yaml:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
}

// BrowserConfig configures the external navigation engine process.
type BrowserConfig struct {
	// Command is the engine executable. The engine speaks JSON lines on stdout.
	Command        string   `mapstructure:"command" yaml:"command"`
	Args           []string `mapstructure:"args" yaml:"args"`
	Headless       bool     `mapstructure:"headless" yaml:"headless"`
	MaxSteps       int      `mapstructure:"max_steps" yaml:"max_steps"`
	ExecutablePath string   `mapstructure:"executable_path" yaml:"executable_path"`
	ScreenshotDir  string   `mapstructure:"screenshot_dir" yaml:"screenshot_dir"`
}

// SupervisorConfig tunes the orchestration engine.
type SupervisorConfig struct {
	HistoryLimit     int           `mapstructure:"history_limit" yaml:"history_limit"`
	HistoryMaxChars  int           `mapstructure:"history_max_chars" yaml:"history_max_chars"`
	MemoryLimit      int           `mapstructure:"memory_limit" yaml:"memory_limit"`
	AbortGrace       time.Duration `mapstructure:"abort_grace" yaml:"abort_grace"`
	AutosaveMinChars int           `mapstructure:"autosave_min_chars" yaml:"autosave_min_chars"`
	AutosaveMaxChars int           `mapstructure:"autosave_max_chars" yaml:"autosave_max_chars"`
}

// PersonaConfig points at the persona markdown files.
type PersonaConfig struct {
	SoulFile     string `mapstructure:"soul_file" yaml:"soul_file"`
	IdentityFile string `mapstructure:"identity_file" yaml:"identity_file"`
}

// EventsConfig configures the NATS lifecycle bus. An empty URL disables it.
type EventsConfig struct {
	NATSURL       string `mapstructure:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
}

// LogConfig configures the log file.
type LogConfig struct {
	Path  string `mapstructure:"path" yaml:"path"`
	Level string `mapstructure:"level" yaml:"level"`
}

// Load loads configuration from a .env file, XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, DATABASE_URL, ...), including values from .env
// 2. Project config (.mybrowse.yaml in current directory or parent)
// 3. User config (~/.config/mybrowse/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	// A missing .env is normal; existing environment variables win over it.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Storage.DatabaseURL = expandEnv(cfg.Storage.DatabaseURL)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// bindEnv maps the environment variables the deployment scripts already use.
func bindEnv(v *viper.Viper) {
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.model", "MYBROWSE_MODEL")
	v.BindEnv("storage.driver", "MYBROWSE_STORAGE_DRIVER")
	v.BindEnv("storage.database_url", "DATABASE_URL")
	v.BindEnv("browser.headless", "AGENT_HEADLESS")
	v.BindEnv("browser.max_steps", "AGENT_MAX_STEPS")
	v.BindEnv("browser.executable_path", "CHROME_PATH")
	v.BindEnv("persona.soul_file", "SOUL_FILE")
	v.BindEnv("persona.identity_file", "IDENTITY_FILE")
	v.BindEnv("events.nats_url", "NATS_URL")
	v.BindEnv("log.level", "MYBROWSE_LOG_LEVEL")
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Storage.DatabaseURL == "" {
			return errors.New("storage.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q (want %s or %s)", c.Storage.Driver, DriverSQLite, DriverPostgres)
	}
	if c.Supervisor.HistoryLimit < 0 || c.Supervisor.MemoryLimit < 0 {
		return errors.New("supervisor limits must not be negative")
	}
	if c.Supervisor.AbortGrace < 0 {
		return errors.New("supervisor.abort_grace must not be negative")
	}
	return nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// DefaultSQLitePath returns the default database location under XDG_DATA_HOME.
func DefaultSQLitePath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "mybrowse", "mybrowse.db")
}

// setDefaults configures default values. Keep in sync with Default.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("anthropic.api_key", d.Anthropic.APIKey)
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.max_tokens", d.Anthropic.MaxTokens)
	v.SetDefault("anthropic.use_bedrock", d.Anthropic.UseBedrock)
	v.SetDefault("anthropic.aws_region", d.Anthropic.AWSRegion)
	v.SetDefault("anthropic.aws_profile", d.Anthropic.AWSProfile)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.database_url", d.Storage.DatabaseURL)

	v.SetDefault("browser.command", d.Browser.Command)
	v.SetDefault("browser.args", d.Browser.Args)
	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.max_steps", d.Browser.MaxSteps)
	v.SetDefault("browser.executable_path", d.Browser.ExecutablePath)
	v.SetDefault("browser.screenshot_dir", d.Browser.ScreenshotDir)

	v.SetDefault("supervisor.history_limit", d.Supervisor.HistoryLimit)
	v.SetDefault("supervisor.history_max_chars", d.Supervisor.HistoryMaxChars)
	v.SetDefault("supervisor.memory_limit", d.Supervisor.MemoryLimit)
	v.SetDefault("supervisor.abort_grace", d.Supervisor.AbortGrace.String())
	v.SetDefault("supervisor.autosave_min_chars", d.Supervisor.AutosaveMinChars)
	v.SetDefault("supervisor.autosave_max_chars", d.Supervisor.AutosaveMaxChars)

	v.SetDefault("persona.soul_file", d.Persona.SoulFile)
	v.SetDefault("persona.identity_file", d.Persona.IdentityFile)

	v.SetDefault("events.nats_url", d.Events.NATSURL)
	v.SetDefault("events.subject_prefix", d.Events.SubjectPrefix)

	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
}

// getUserConfigDir returns the XDG config directory for mybrowse.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "mybrowse")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "mybrowse")
	}
	return filepath.Join(home, ".config", "mybrowse")
}

// findProjectConfig searches for .mybrowse.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Anthropic: AnthropicConfig{
			Model:     "claude-sonnet-4-5",
			MaxTokens: 2048,
			AWSRegion: "us-east-1",
		},
		Storage: StorageConfig{
			Driver:     DriverSQLite,
			SQLitePath: DefaultSQLitePath(),
		},
		Browser: BrowserConfig{
			Command:       "mybrowse-engine",
			Headless:      true,
			MaxSteps:      25,
			ScreenshotDir: "screenshots",
		},
		Supervisor: SupervisorConfig{
			HistoryLimit:     20,
			HistoryMaxChars:  1000,
			MemoryLimit:      5,
			AbortGrace:       30 * time.Second,
			AutosaveMinChars: 20,
			AutosaveMaxChars: 400,
		},
		Persona: PersonaConfig{
			SoulFile:     "soul.md",
			IdentityFile: "identity.md",
		},
		Events: EventsConfig{
			SubjectPrefix: "mybrowse",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
