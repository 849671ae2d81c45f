// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the monitoring service.
type Config struct {
	// Postgres
	DatabaseURL string

	// Redis (notification sink)
	RedisURL    string
	EventsQueue string

	// Google OAuth client used to refresh Gmail account tokens.
	GoogleClientID     string
	GoogleClientSecret string

	// Analysis
	OpenAIKey   string
	OpenAIModel string

	// Monitoring
	PollInterval time.Duration
	FetchLimit   int

	// Auto-reply
	AutoReplyEnabled   bool
	ExcludedCategories []string

	// Server (health check only)
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Google struct {
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
	} `yaml:"google"`
	OpenAI struct {
		APIKey string `yaml:"api_key"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`
	AutoReply struct {
		Enabled            *bool    `yaml:"enabled"`
		ExcludedCategories []string `yaml:"excluded_categories"`
	} `yaml:"auto_reply"`
}

// defaultExcludedCategories are the analysis categories that never receive
// an autonomous reply.
var defaultExcludedCategories = []string{"newsletter", "marketing", "promotional", "social"}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseURL:        firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:           firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsQueue:        firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "mail_events")),
		GoogleClientID:     firstNonEmpty(raw.Google.ClientID, envOrDefault("GOOGLE_CLIENT_ID", "")),
		GoogleClientSecret: firstNonEmpty(raw.Google.ClientSecret, envOrDefault("GOOGLE_CLIENT_SECRET", "")),
		OpenAIKey:          firstNonEmpty(raw.OpenAI.APIKey, envOrDefault("OPENAI_API_KEY", "")),
		OpenAIModel:        firstNonEmpty(raw.OpenAI.Model, envOrDefault("OPENAI_MODEL", "gpt-4o-mini")),
		PollInterval:       envOrDefaultDuration("POLL_INTERVAL", 30*time.Second),
		FetchLimit:         envOrDefaultInt("FETCH_LIMIT", 10),
		AutoReplyEnabled:   true,
		ExcludedCategories: defaultExcludedCategories,
		Port:               envOrDefaultInt("PORT", 8080),
	}

	if raw.AutoReply.Enabled != nil {
		cfg.AutoReplyEnabled = *raw.AutoReply.Enabled
	}
	if v := os.Getenv("AUTO_REPLY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.AutoReplyEnabled = b
		}
	}
	if len(raw.AutoReply.ExcludedCategories) > 0 {
		cfg.ExcludedCategories = raw.AutoReply.ExcludedCategories
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required (set database.url or DATABASE_URL)")
	}
	if cfg.OpenAIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required (set openai.api_key or OPENAI_API_KEY)")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
