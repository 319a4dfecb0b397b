package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the triage service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Triage    TriageConfig    `mapstructure:"triage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Listen   string `mapstructure:"listen"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// LLMConfig contains generation-service settings
type LLMConfig struct {
	Type           string        `mapstructure:"type"` // openai only for now
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	ReasoningModel string        `mapstructure:"reasoning_model"`
	EmbeddingModel string        `mapstructure:"embedding_model"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// TriageConfig contains the questioning-engine thresholds and limits
type TriageConfig struct {
	ConfidenceThreshold     float64       `mapstructure:"confidence_threshold"`
	HighConfidenceThreshold float64       `mapstructure:"high_confidence_threshold"`
	SatisfactionThreshold   float64       `mapstructure:"satisfaction_threshold"`
	MinQuestions            int           `mapstructure:"min_questions"`
	MaxQuestions            int           `mapstructure:"max_questions"`
	TopKSearch              int           `mapstructure:"top_k_search"`
	SessionTTL              time.Duration `mapstructure:"session_ttl"`
	CollaboratorTimeout     time.Duration `mapstructure:"collaborator_timeout"`
}

// RetrievalConfig contains vector-store settings for the case corpus
type RetrievalConfig struct {
	QdrantEndpoint string        `mapstructure:"qdrant_endpoint"`
	QdrantAPIKey   string        `mapstructure:"qdrant_api_key"`
	Collection     string        `mapstructure:"collection"`
	ScoreThreshold float64       `mapstructure:"score_threshold"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// StorageConfig contains session-store settings
type StorageConfig struct {
	Type  string      `mapstructure:"type"` // inmemory or redis
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// TelemetryConfig contains monitoring settings
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("healthverse")
	viper.SetConfigType("json")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("HEALTHVERSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional - defaults plus env are enough to run
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.listen", ":8000")
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")

	viper.SetDefault("llm.type", "openai")
	viper.SetDefault("llm.reasoning_model", "gpt-4o-mini")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 2048)
	viper.SetDefault("llm.timeout", "30s")

	viper.SetDefault("triage.confidence_threshold", 0.75)
	viper.SetDefault("triage.high_confidence_threshold", 0.9)
	viper.SetDefault("triage.satisfaction_threshold", 0.8)
	viper.SetDefault("triage.min_questions", 3)
	viper.SetDefault("triage.max_questions", 8)
	viper.SetDefault("triage.top_k_search", 5)
	viper.SetDefault("triage.session_ttl", "24h")
	viper.SetDefault("triage.collaborator_timeout", "30s")

	viper.SetDefault("retrieval.collection", "healthverse_cases")
	viper.SetDefault("retrieval.score_threshold", 0.3)
	viper.SetDefault("retrieval.timeout", "10s")

	viper.SetDefault("storage.type", "inmemory")
	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")

	viper.SetDefault("telemetry.enabled", true)
}

// overrideFromEnv overrides configuration with environment variables for sensitive data
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.api_key", apiKey)
	}
	if endpoint := os.Getenv("QDRANT_ENDPOINT"); endpoint != "" {
		viper.Set("retrieval.qdrant_endpoint", endpoint)
	}
	if apiKey := os.Getenv("QDRANT_CLUSTER_KEY"); apiKey != "" {
		viper.Set("retrieval.qdrant_api_key", apiKey)
	}
	if collection := os.Getenv("QDRANT_COLLECTION_NAME"); collection != "" {
		viper.Set("retrieval.collection", collection)
	}
	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
		viper.Set("storage.type", "redis")
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("storage.redis.password", password)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Triage.MaxQuestions <= 0 {
		return fmt.Errorf("triage.max_questions must be positive")
	}
	if config.Triage.MinQuestions < 0 || config.Triage.MinQuestions > config.Triage.MaxQuestions {
		return fmt.Errorf("triage.min_questions must be in [0, max_questions]")
	}
	if config.Triage.ConfidenceThreshold <= 0 || config.Triage.ConfidenceThreshold > 1 {
		return fmt.Errorf("triage.confidence_threshold must be in (0, 1]")
	}
	switch config.Storage.Type {
	case "inmemory", "redis":
	default:
		return fmt.Errorf("unsupported storage type: %s", config.Storage.Type)
	}
	return nil
}
