package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Agent struct {
		BaseURL          string `yaml:"base_url"`
		APIKey           string `yaml:"api_key"`
		QuizAgentID      string `yaml:"quiz_agent_id"`
		ScorecardAgentID string `yaml:"scorecard_agent_id"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"agent"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Session struct {
		TTL string `yaml:"ttl"`
	} `yaml:"session"`
}

// Load reads YAML config from path. The agent API key can also come from the
// AGENT_API_KEY environment variable so it stays out of checked-in config.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	if envKey := os.Getenv("AGENT_API_KEY"); envKey != "" {
		cfg.Agent.APIKey = envKey
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
