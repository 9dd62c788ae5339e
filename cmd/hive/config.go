package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/hive/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify hive configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.hive/config.yaml; every key can also be
set with a HIVE_-prefixed environment variable (HIVE_MAX_CONCURRENT_AGENTS,
HIVE_DEBUG, ...).`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("max_concurrent_agents: %d\n", cfg.MaxConcurrentAgents)
	fmt.Printf("auto_merge: %t\n", cfg.AutoMerge)
	fmt.Printf("tick_interval: %s\n", cfg.TickInterval)
	fmt.Printf("coordination_port: %d\n", cfg.CoordinationPort)
	fmt.Printf("coordination_endpoint: %s\n", cfg.CoordinationEndpoint)
	fmt.Printf("anthropic_api_key: %s (%s)\n", config.MaskAPIKey(cfg.AnthropicAPIKey), config.GetAPIKeySource(cfg))
	fmt.Printf("anthropic_model: %s\n", cfg.AnthropicModel)
	fmt.Printf("use_aws_bedrock: %t\n", cfg.UseAWSBedrock)
	fmt.Printf("aws_region: %s\n", cfg.AWSRegion)
	fmt.Printf("aws_profile: %s\n", cfg.AWSProfile)
	fmt.Printf("agent_command: %s\n", cfg.AgentCommand)
	fmt.Printf("heartbeat_ttl: %s\n", cfg.HeartbeatTTL)
	fmt.Printf("lock_ttl: %s\n", cfg.LockTTL)
	fmt.Printf("sweep_interval: %s\n", cfg.SweepInterval)
	fmt.Printf("debug: %t\n", cfg.Debug)
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

// getConfigValue retrieves a configuration value by key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "max_concurrent_agents":
		return strconv.Itoa(cfg.MaxConcurrentAgents), nil
	case "auto_merge":
		return strconv.FormatBool(cfg.AutoMerge), nil
	case "tick_interval":
		return cfg.TickInterval.String(), nil
	case "coordination_port":
		return strconv.Itoa(cfg.CoordinationPort), nil
	case "coordination_endpoint":
		return cfg.CoordinationEndpoint, nil
	case "anthropic_api_key":
		return config.MaskAPIKey(cfg.AnthropicAPIKey), nil
	case "anthropic_model":
		return cfg.AnthropicModel, nil
	case "use_aws_bedrock":
		return strconv.FormatBool(cfg.UseAWSBedrock), nil
	case "aws_region":
		return cfg.AWSRegion, nil
	case "aws_profile":
		return cfg.AWSProfile, nil
	case "agent_command":
		return cfg.AgentCommand, nil
	case "heartbeat_ttl":
		return cfg.HeartbeatTTL.String(), nil
	case "lock_ttl":
		return cfg.LockTTL.String(), nil
	case "sweep_interval":
		return cfg.SweepInterval.String(), nil
	case "debug":
		return strconv.FormatBool(cfg.Debug), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "max_concurrent_agents":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for max_concurrent_agents: %w", err)
		}
		cfg.MaxConcurrentAgents = n
	case "auto_merge":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for auto_merge: %w", err)
		}
		cfg.AutoMerge = b
	case "tick_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for tick_interval: %w", err)
		}
		cfg.TickInterval = d
	case "coordination_port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for coordination_port: %w", err)
		}
		cfg.CoordinationPort = n
	case "coordination_endpoint":
		cfg.CoordinationEndpoint = value
	case "anthropic_api_key":
		if err := config.ValidateAPIKey(value); err != nil {
			return err
		}
		cfg.AnthropicAPIKey = value
	case "anthropic_model":
		cfg.AnthropicModel = value
	case "use_aws_bedrock":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for use_aws_bedrock: %w", err)
		}
		cfg.UseAWSBedrock = b
	case "aws_region":
		cfg.AWSRegion = value
	case "aws_profile":
		cfg.AWSProfile = value
	case "agent_command":
		cfg.AgentCommand = value
	case "heartbeat_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for heartbeat_ttl: %w", err)
		}
		cfg.HeartbeatTTL = d
	case "lock_ttl":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for lock_ttl: %w", err)
		}
		cfg.LockTTL = d
	case "sweep_interval":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for sweep_interval: %w", err)
		}
		cfg.SweepInterval = d
	case "debug":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for debug: %w", err)
		}
		cfg.Debug = b
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
