// Package config provides configuration loading and management for Plateful
// services.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/plateful/plateful/mealplan"
)

// Config represents the complete Plateful service configuration
type Config struct {
	Redis    RedisConfig     `yaml:"redis"`
	NATS     NATSConfig      `yaml:"nats"`
	Gateway  GatewayConfig   `yaml:"gateway"`
	Model    ModelConfig     `yaml:"model"`
	Vision   ModelConfig     `yaml:"vision"`
	Worker   WorkerConfig    `yaml:"worker"`
	MealPlan mealplan.Config `yaml:"mealplan"`
	Recipes  RecipesConfig   `yaml:"recipes"`
}

// RedisConfig configures the pub/sub relay connection
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379/0")
	URL string `yaml:"url"`
}

// NATSConfig configures the JetStream job queue connection
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`
}

// GatewayConfig configures the websocket gateway
type GatewayConfig struct {
	// Addr is the listen address (e.g., ":8090")
	Addr string `yaml:"addr"`
}

// ModelConfig configures an LLM endpoint
type ModelConfig struct {
	// Provider selects the API shape (e.g., "openai")
	Provider string `yaml:"provider"`
	// BaseURL is the API endpoint base URL
	BaseURL string `yaml:"base_url"`
	// Model is the model identifier
	Model string `yaml:"model"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// WorkerConfig configures the job worker
type WorkerConfig struct {
	// Durable is the JetStream durable consumer name
	Durable string `yaml:"durable"`
	// MaxDeliver caps delivery attempts per job before it is dropped
	MaxDeliver int `yaml:"max_deliver"`
	// AckWait is how long a job may run before redelivery
	AckWait time.Duration `yaml:"ack_wait"`
}

// RecipesConfig configures the recipe backend the worker calls
type RecipesConfig struct {
	// BaseURL is the internal recipe API base URL
	BaseURL string `yaml:"base_url"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Redis: RedisConfig{
			URL: "redis://localhost:6379/0",
		},
		NATS: NATSConfig{
			URL: "nats://localhost:4222",
		},
		Gateway: GatewayConfig{
			Addr: ":8090",
		},
		Model: ModelConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o-mini",
			Timeout:  2 * time.Minute,
		},
		Vision: ModelConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
			Model:    "gpt-4o",
			Timeout:  2 * time.Minute,
		},
		Worker: WorkerConfig{
			Durable:    "plateful-worker",
			MaxDeliver: 3,
			AckWait:    10 * time.Minute,
		},
		MealPlan: mealplan.DefaultConfig(),
		Recipes: RecipesConfig{
			BaseURL: "http://localhost:8080",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("redis.url is required")
	}
	if c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required")
	}
	if c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required")
	}
	if c.Model.Provider == "" || c.Model.BaseURL == "" || c.Model.Model == "" {
		return fmt.Errorf("model.provider, model.base_url, and model.model are required")
	}
	if c.Vision.Provider == "" || c.Vision.BaseURL == "" || c.Vision.Model == "" {
		return fmt.Errorf("vision.provider, vision.base_url, and vision.model are required")
	}
	if c.Worker.MaxDeliver < 1 {
		return fmt.Errorf("worker.max_deliver must be at least 1")
	}
	if c.MealPlan.MaxRounds < 1 {
		return fmt.Errorf("mealplan.max_rounds must be at least 1")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.Redis.URL != "" {
		c.Redis.URL = other.Redis.URL
	}
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.Gateway.Addr != "" {
		c.Gateway.Addr = other.Gateway.Addr
	}

	mergeModel(&c.Model, other.Model)
	mergeModel(&c.Vision, other.Vision)

	if other.Worker.Durable != "" {
		c.Worker.Durable = other.Worker.Durable
	}
	if other.Worker.MaxDeliver != 0 {
		c.Worker.MaxDeliver = other.Worker.MaxDeliver
	}
	if other.Worker.AckWait != 0 {
		c.Worker.AckWait = other.Worker.AckWait
	}

	if other.MealPlan.MaxRounds != 0 {
		c.MealPlan.MaxRounds = other.MealPlan.MaxRounds
	}
	if other.MealPlan.MaxResults != 0 {
		c.MealPlan.MaxResults = other.MealPlan.MaxResults
	}

	if other.Recipes.BaseURL != "" {
		c.Recipes.BaseURL = other.Recipes.BaseURL
	}
}

func mergeModel(dst *ModelConfig, src ModelConfig) {
	if src.Provider != "" {
		dst.Provider = src.Provider
	}
	if src.BaseURL != "" {
		dst.BaseURL = src.BaseURL
	}
	if src.Model != "" {
		dst.Model = src.Model
	}
	if src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
}
