package main

import (
	"testing"
	"time"

	"github.com/ShayCichocki/hive/internal/config"
)

func TestGetConfigValue(t *testing.T) {
	cfg := config.Default()
	cfg.MaxConcurrentAgents = 8
	cfg.AutoMerge = false
	cfg.TickInterval = 90 * time.Second
	cfg.CoordinationPort = 9001
	cfg.AgentCommand = "claude"
	cfg.Debug = true

	tests := []struct {
		key      string
		expected string
	}{
		{"max_concurrent_agents", "8"},
		{"auto_merge", "false"},
		{"tick_interval", "1m30s"},
		{"coordination_port", "9001"},
		{"agent_command", "claude"},
		{"heartbeat_ttl", "2m0s"},
		{"lock_ttl", "15m0s"},
		{"sweep_interval", "30s"},
		{"debug", "true"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			result, err := getConfigValue(cfg, tt.key)
			if err != nil {
				t.Fatalf("getConfigValue(%q) error = %v", tt.key, err)
			}
			if result != tt.expected {
				t.Errorf("getConfigValue(%q) = %q, want %q", tt.key, result, tt.expected)
			}
		})
	}
}

func TestGetConfigValueMasksAPIKey(t *testing.T) {
	cfg := config.Default()
	cfg.AnthropicAPIKey = "sk-ant-REDACTED"

	result, err := getConfigValue(cfg, "anthropic_api_key")
	if err != nil {
		t.Fatalf("getConfigValue() error = %v", err)
	}
	if result == cfg.AnthropicAPIKey {
		t.Error("API key displayed unmasked")
	}
	if result != "sk-ant-...1234" {
		t.Errorf("masked key = %q, want %q", result, "sk-ant-...1234")
	}
}

func TestGetConfigValueUnknownKey(t *testing.T) {
	cfg := config.Default()
	if _, err := getConfigValue(cfg, "no_such_key"); err == nil {
		t.Error("expected error for unknown key, got nil")
	}
}

func TestSetConfigValue(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		value  string
		verify func(t *testing.T, cfg *config.Config)
	}{
		{
			name:  "int key",
			key:   "max_concurrent_agents",
			value: "3",
			verify: func(t *testing.T, cfg *config.Config) {
				if cfg.MaxConcurrentAgents != 3 {
					t.Errorf("MaxConcurrentAgents = %d, want 3", cfg.MaxConcurrentAgents)
				}
			},
		},
		{
			name:  "bool key",
			key:   "auto_merge",
			value: "false",
			verify: func(t *testing.T, cfg *config.Config) {
				if cfg.AutoMerge {
					t.Error("AutoMerge = true, want false")
				}
			},
		},
		{
			name:  "duration key",
			key:   "tick_interval",
			value: "45s",
			verify: func(t *testing.T, cfg *config.Config) {
				if cfg.TickInterval != 45*time.Second {
					t.Errorf("TickInterval = %v, want 45s", cfg.TickInterval)
				}
			},
		},
		{
			name:  "string key",
			key:   "agent_command",
			value: "my-agent",
			verify: func(t *testing.T, cfg *config.Config) {
				if cfg.AgentCommand != "my-agent" {
					t.Errorf("AgentCommand = %q, want %q", cfg.AgentCommand, "my-agent")
				}
			},
		},
		{
			name:  "valid api key",
			key:   "anthropic_api_key",
			value: "sk-ant-REDACTED",
			verify: func(t *testing.T, cfg *config.Config) {
				if cfg.AnthropicAPIKey != "sk-ant-REDACTED" {
					t.Errorf("AnthropicAPIKey = %q", cfg.AnthropicAPIKey)
				}
			},
		},
		{
			name:  "case insensitive key",
			key:   "Coordination_Port",
			value: "8888",
			verify: func(t *testing.T, cfg *config.Config) {
				if cfg.CoordinationPort != 8888 {
					t.Errorf("CoordinationPort = %d, want 8888", cfg.CoordinationPort)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if err := setConfigValue(cfg, tt.key, tt.value); err != nil {
				t.Fatalf("setConfigValue(%q, %q) error = %v", tt.key, tt.value, err)
			}
			tt.verify(t, cfg)
		})
	}
}

func TestSetConfigValueRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric int", "max_concurrent_agents", "lots"},
		{"non-boolean", "auto_merge", "maybe"},
		{"bad duration", "tick_interval", "soon"},
		{"malformed api key", "anthropic_api_key", "not-a-key"},
		{"unknown key", "made_up_key", "value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			if err := setConfigValue(cfg, tt.key, tt.value); err == nil {
				t.Errorf("setConfigValue(%q, %q) expected error, got nil", tt.key, tt.value)
			}
		})
	}
}
