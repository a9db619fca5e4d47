// Package config loads Chrona configuration from defaults, an optional
// YAML file, and CHRONA_* environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Tools   ToolsConfig   `yaml:"tools"`
	Store   StoreConfig   `yaml:"store"`
	Agent   AgentConfig   `yaml:"agent"`
	Model   ModelConfig   `yaml:"model"`
	Weather WeatherConfig `yaml:"weather"`
	Log     LogConfig     `yaml:"log"`
}

// ServerConfig is the agent API listener.
type ServerConfig struct {
	Host string `yaml:"host"`                             // default "127.0.0.1"
	Port int    `yaml:"port" validate:"min=0,max=65535"`  // default 7117
	// PublicURL is what the agent card advertises; defaults to the
	// listen address.
	PublicURL string `yaml:"publicUrl"`
}

// ToolsConfig is the tool provider listener plus where the agent finds it.
type ToolsConfig struct {
	Host string `yaml:"host"`                            // default "127.0.0.1"
	Port int    `yaml:"port" validate:"min=0,max=65535"` // default 7118
	// URL is the provider endpoint the agent calls; defaults to the
	// local listener.
	URL string `yaml:"url"`
}

type StoreConfig struct {
	Type    string `yaml:"type" validate:"oneof=bolt memory"` // default "bolt"
	DataDir string `yaml:"dataDir"`                           // default "~/.chrona/data"
}

type AgentConfig struct {
	RoundLimit   int    `yaml:"roundLimit" validate:"min=1"` // default 6
	ToolRetries  int    `yaml:"toolRetries" validate:"min=0"`
	Workers      int    `yaml:"workers" validate:"min=1"` // default 4
	SystemPrompt string `yaml:"systemPrompt"`             // empty keeps the built-in prompt
}

type ModelConfig struct {
	Provider string `yaml:"provider" validate:"oneof=openai groq"` // default "groq"
	APIKey   string `yaml:"apiKey"`
	Model    string `yaml:"model"`   // empty picks the provider default
	BaseURL  string `yaml:"baseUrl"` // empty picks the provider endpoint
}

type WeatherConfig struct {
	APIKey  string `yaml:"apiKey"`
	BaseURL string `yaml:"baseUrl"` // empty picks the public API
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"` // default "info"
	Format string `yaml:"format" validate:"oneof=console json"`         // default "console"
}

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 7117,
		},
		Tools: ToolsConfig{
			Host: "127.0.0.1",
			Port: 7118,
		},
		Store: StoreConfig{
			Type:    "bolt",
			DataDir: defaultDataDir(),
		},
		Agent: AgentConfig{
			RoundLimit: 6,
			Workers:    4,
		},
		Model: ModelConfig{
			Provider: "groq",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (optional when path is empty and no default file exists), then
// environment variables. A .env file in the working directory is loaded
// first so local API keys need no shell setup.
func Load(path string) (*Config, error) {
	// Missing .env is the normal case.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if path == "" {
		if _, err := os.Stat(defaultConfigPath()); err == nil {
			path = defaultConfigPath()
		}
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnv overlays CHRONA_* environment variables, plus the provider key
// conventions (OPENAI_API_KEY, GROQ_API_KEY, OPENWEATHER_API_KEY) when no
// explicit key is set.
func (c *Config) applyEnv() {
	setString(&c.Server.Host, "CHRONA_SERVER_HOST")
	setInt(&c.Server.Port, "CHRONA_SERVER_PORT")
	setString(&c.Server.PublicURL, "CHRONA_SERVER_PUBLIC_URL")

	setString(&c.Tools.Host, "CHRONA_TOOLS_HOST")
	setInt(&c.Tools.Port, "CHRONA_TOOLS_PORT")
	setString(&c.Tools.URL, "CHRONA_TOOLS_URL")

	setString(&c.Store.Type, "CHRONA_STORE_TYPE")
	setString(&c.Store.DataDir, "CHRONA_STORE_DATA_DIR")

	setInt(&c.Agent.RoundLimit, "CHRONA_AGENT_ROUND_LIMIT")
	setInt(&c.Agent.ToolRetries, "CHRONA_AGENT_TOOL_RETRIES")
	setInt(&c.Agent.Workers, "CHRONA_AGENT_WORKERS")
	setString(&c.Agent.SystemPrompt, "CHRONA_AGENT_SYSTEM_PROMPT")

	setString(&c.Model.Provider, "CHRONA_MODEL_PROVIDER")
	setString(&c.Model.APIKey, "CHRONA_MODEL_API_KEY")
	setString(&c.Model.Model, "CHRONA_MODEL_NAME")
	setString(&c.Model.BaseURL, "CHRONA_MODEL_BASE_URL")

	setString(&c.Weather.APIKey, "CHRONA_WEATHER_API_KEY")
	setString(&c.Weather.BaseURL, "CHRONA_WEATHER_BASE_URL")

	setString(&c.Log.Level, "CHRONA_LOG_LEVEL")
	setString(&c.Log.Format, "CHRONA_LOG_FORMAT")

	if c.Model.APIKey == "" {
		switch c.Model.Provider {
		case "openai":
			c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		case "groq":
			c.Model.APIKey = os.Getenv("GROQ_API_KEY")
		}
	}
	if c.Weather.APIKey == "" {
		c.Weather.APIKey = os.Getenv("OPENWEATHER_API_KEY")
	}
}

// ServerAddress returns the agent API listen address in "host:port" format.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ToolsAddress returns the tool provider listen address.
func (c *Config) ToolsAddress() string {
	return fmt.Sprintf("%s:%d", c.Tools.Host, c.Tools.Port)
}

// ToolsURL returns the endpoint the agent uses to reach the tool provider.
func (c *Config) ToolsURL() string {
	if c.Tools.URL != "" {
		return c.Tools.URL
	}
	return "http://" + c.ToolsAddress()
}

// PublicURL returns the externally visible agent URL for the agent card.
func (c *Config) PublicURL() string {
	if c.Server.PublicURL != "" {
		return c.Server.PublicURL
	}
	return "http://" + c.ServerAddress()
}

// DBPath returns the full path to the BoltDB file (DataDir + "/chrona.db").
func (c *Config) DBPath() string {
	return filepath.Join(c.Store.DataDir, "chrona.db")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setInt(dst *int, env string) {
	if v := os.Getenv(env); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// defaultConfigPath is ~/.chrona/config.yaml.
func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chrona", "config.yaml")
}

// defaultDataDir resolves the default data directory. It uses
// os.UserHomeDir() + "/.chrona/data", falling back to "/tmp/chrona/data"
// if the home directory cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "chrona", "data")
	}
	return filepath.Join(home, ".chrona", "data")
}
