// Package config loads hive's deployment configuration and the project
// registry. Settings come from ~/.hive/config.yaml with HIVE_-prefixed
// environment overrides on top of built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// HiveHomeDirName is the per-user state directory under $HOME.
const HiveHomeDirName = ".hive"

// Config holds every deployment-level setting.
type Config struct {
	// MaxConcurrentAgents caps agents across a run; the per-project
	// max_agents can only lower it.
	MaxConcurrentAgents int `mapstructure:"max_concurrent_agents"`
	// AutoMerge queues completed tasks for merging automatically.
	AutoMerge bool `mapstructure:"auto_merge"`
	// TickInterval is the scheduler period.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// CoordinationPort is the HTTP listener port for the MCP and
	// dashboard endpoints.
	CoordinationPort int `mapstructure:"coordination_port"`
	// CoordinationEndpoint is the MCP URL handed to agents.
	CoordinationEndpoint string `mapstructure:"coordination_endpoint"`
	// AnthropicAPIKey authenticates the planner. ${VAR} references are
	// expanded.
	AnthropicAPIKey string `mapstructure:"anthropic_api_key"`
	// AnthropicModel overrides the planner's default model.
	AnthropicModel string `mapstructure:"anthropic_model"`
	// UseAWSBedrock routes planner calls through Bedrock instead of the
	// Anthropic API.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock"`
	// AWSRegion selects the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile selects the shared-credentials profile for Bedrock.
	AWSProfile string `mapstructure:"aws_profile"`
	// AgentCommand is the binary launched inside each agent session.
	AgentCommand string `mapstructure:"agent_command"`
	// HeartbeatTTL is how long an agent stays alive without a heartbeat.
	HeartbeatTTL time.Duration `mapstructure:"heartbeat_ttl"`
	// LockTTL is how long a file lock survives without renewal.
	LockTTL time.Duration `mapstructure:"lock_ttl"`
	// SweepInterval is how often expired coordination state is purged.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// Debug enables the file-backed debug log.
	Debug bool `mapstructure:"debug"`
}

// Load reads configuration with precedence (highest first):
//  1. HIVE_-prefixed environment variables (plus bare ANTHROPIC_API_KEY)
//  2. ~/.hive/config.yaml
//  3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(HomeDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath reads configuration from a specific file. Environment
// overrides still apply.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("HIVE")
	v.AutomaticEnv()
	// The plain variable is what every Anthropic tool exports already.
	v.BindEnv("anthropic_api_key", "HIVE_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.AnthropicAPIKey = os.ExpandEnv(cfg.AnthropicAPIKey)
	return cfg, nil
}

// Save writes the configuration to ~/.hive/config.yaml.
func Save(cfg *Config) error {
	home := HomeDir()
	if err := os.MkdirAll(home, 0o700); err != nil {
		return fmt.Errorf("creating hive home: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(home, "config.yaml"))

	v.Set("max_concurrent_agents", cfg.MaxConcurrentAgents)
	v.Set("auto_merge", cfg.AutoMerge)
	v.Set("tick_interval", cfg.TickInterval.String())
	v.Set("coordination_port", cfg.CoordinationPort)
	v.Set("coordination_endpoint", cfg.CoordinationEndpoint)
	v.Set("anthropic_api_key", cfg.AnthropicAPIKey)
	v.Set("anthropic_model", cfg.AnthropicModel)
	v.Set("use_aws_bedrock", cfg.UseAWSBedrock)
	v.Set("aws_region", cfg.AWSRegion)
	v.Set("aws_profile", cfg.AWSProfile)
	v.Set("agent_command", cfg.AgentCommand)
	v.Set("heartbeat_ttl", cfg.HeartbeatTTL.String())
	v.Set("lock_ttl", cfg.LockTTL.String())
	v.Set("sweep_interval", cfg.SweepInterval.String())
	v.Set("debug", cfg.Debug)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path of the user config file.
func GetUserConfigPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// HomeDir returns hive's per-user state directory (~/.hive).
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", HiveHomeDirName)
	}
	return filepath.Join(home, HiveHomeDirName)
}

// CoordinationDBPath returns the path of the shared coordination database.
func CoordinationDBPath() string {
	return filepath.Join(HomeDir(), "coordination.db")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_concurrent_agents", 5)
	v.SetDefault("auto_merge", true)
	v.SetDefault("tick_interval", "60s")
	v.SetDefault("coordination_port", 8765)
	v.SetDefault("coordination_endpoint", "http://localhost:8765/mcp")
	v.SetDefault("anthropic_api_key", "")
	v.SetDefault("anthropic_model", "")
	v.SetDefault("use_aws_bedrock", false)
	v.SetDefault("aws_region", "")
	v.SetDefault("aws_profile", "")
	v.SetDefault("agent_command", "claude")
	v.SetDefault("heartbeat_ttl", "2m")
	v.SetDefault("lock_ttl", "15m")
	v.SetDefault("sweep_interval", "30s")
	v.SetDefault("debug", false)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		MaxConcurrentAgents:  5,
		AutoMerge:            true,
		TickInterval:         60 * time.Second,
		CoordinationPort:     8765,
		CoordinationEndpoint: "http://localhost:8765/mcp",
		AgentCommand:         "claude",
		HeartbeatTTL:         2 * time.Minute,
		LockTTL:              15 * time.Minute,
		SweepInterval:        30 * time.Second,
	}
}
