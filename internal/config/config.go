package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"voicecore/internal/logger"
)

// ClassifierConfig holds intent classification tunables.
type ClassifierConfig struct {
	ConfidenceThreshold float64       `yaml:"confidence_threshold" envconfig:"CONFIDENCE_THRESHOLD" default:"0.6"`
	FallbackThreshold   float64       `yaml:"fallback_threshold" envconfig:"FALLBACK_THRESHOLD" default:"0.3"`
	CacheTTL            time.Duration `yaml:"cache_ttl" envconfig:"CLASSIFIER_CACHE_TTL" default:"5m"`
	MaxAlternatives     int           `yaml:"max_alternatives" envconfig:"MAX_ALTERNATIVES" default:"3"`
}

// DialogueConfig holds per-conversation state machine tunables.
type DialogueConfig struct {
	ToolTimeout  time.Duration `yaml:"tool_timeout" envconfig:"TOOL_TIMEOUT" default:"30s"`
	QueueSize    int           `yaml:"queue_size" envconfig:"DIALOGUE_QUEUE_SIZE" default:"16"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" envconfig:"DIALOGUE_IDLE_TIMEOUT" default:"10m"`
	HistoryLimit int           `yaml:"history_limit" envconfig:"CONTEXT_HISTORY_LIMIT" default:"20"`
}

// HistoryConfig bounds the execution history and undo stacks.
type HistoryConfig struct {
	MaxRecords int `yaml:"max_records" envconfig:"HISTORY_MAX_RECORDS" default:"1000"`
	MaxUndo    int `yaml:"max_undo" envconfig:"HISTORY_MAX_UNDO" default:"50"`
}

// RedisConfig holds the optional conversation store backend.
type RedisConfig struct {
	URL string        `yaml:"url" envconfig:"REDIS_URL"`
	TTL time.Duration `yaml:"ttl" envconfig:"REDIS_TTL" default:"40m"`
}

// Config is the root configuration for the core.
type Config struct {
	Log        logger.LogConfig `yaml:"log"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Dialogue   DialogueConfig   `yaml:"dialogue"`
	History    HistoryConfig    `yaml:"history"`
	Redis      RedisConfig      `yaml:"redis"`
}

// Load builds the configuration from environment variables only.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing environment configuration: %v", err)
	}
	return &cfg, nil
}

// LoadFile loads environment configuration, then overlays values from a
// YAML file. File values win over environment defaults.
func LoadFile(filepath string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing YAML: %v", err)
	}
	return cfg, nil
}
