// Package config loads service configuration from YAML with
// environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string `yaml:"port"`
	LogLevel                 string `yaml:"logLevel"`
	DatabaseURL              string `yaml:"databaseURL"`
	RedisAddr                string `yaml:"redisAddr"`
	RedisPassword            string `yaml:"redisPassword"`
	DedupWindowSeconds       int    `yaml:"dedupWindowSeconds"`
	QueueConcurrency         int    `yaml:"queueConcurrency"`
	RetryMaxAttempts         int    `yaml:"retryMaxAttempts"`
	RetryBaseDelayMillis     int    `yaml:"retryBaseDelayMillis"`
	DrainTimeoutSeconds      int    `yaml:"drainTimeoutSeconds"`
	ChatAPIURL               string `yaml:"chatApiUrl"`
	ChatBotToken             string `yaml:"chatBotToken"`
	VisionAPIURL             string `yaml:"visionApiUrl"`
	VisionAPIKey             string `yaml:"visionApiKey"`
	StorageEndpoint          string `yaml:"storageEndpoint"`
	StorageAccessKey         string `yaml:"storageAccessKey"`
	StorageSecretKey         string `yaml:"storageSecretKey"`
	StorageBucket            string `yaml:"storageBucket"`
	StorageUseSSL            bool   `yaml:"storageUseSSL"`
	OverlayPath              string `yaml:"overlayPath"`
	MaxFileSizeBytes         int64  `yaml:"maxFileSizeBytes"`
	AllowedMimePrefixes      string `yaml:"allowedMimePrefixes"`
	AllowedUsers             string `yaml:"allowedUsers"`
	InternalJWTPublicKeyPath string `yaml:"internalJwtPublicKeyPath"`
	InternalJWTIssuers       string `yaml:"internalJwtIssuers"`
	AMQPURL                  string `yaml:"amqpUrl"`
	AMQPQueue                string `yaml:"amqpQueue"`
}

// Load reads config from path (defaults to config.yaml).
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	// Override with environment variables
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("STASHBOT_CHAT_API_URL"); v != "" {
		cfg.ChatAPIURL = v
	}
	if v := os.Getenv("STASHBOT_CHAT_BOT_TOKEN"); v != "" {
		cfg.ChatBotToken = v
	}
	if v := os.Getenv("STASHBOT_VISION_API_URL"); v != "" {
		cfg.VisionAPIURL = v
	}
	if v := os.Getenv("STASHBOT_VISION_API_KEY"); v != "" {
		cfg.VisionAPIKey = v
	}
	if v := os.Getenv("STASHBOT_STORAGE_ENDPOINT"); v != "" {
		cfg.StorageEndpoint = v
	}
	if v := os.Getenv("STASHBOT_STORAGE_ACCESS_KEY"); v != "" {
		cfg.StorageAccessKey = v
	}
	if v := os.Getenv("STASHBOT_STORAGE_SECRET_KEY"); v != "" {
		cfg.StorageSecretKey = v
	}
	if v := os.Getenv("STASHBOT_STORAGE_BUCKET"); v != "" {
		cfg.StorageBucket = v
	}
	if v := os.Getenv("STASHBOT_INTERNAL_JWT_PUBLIC_KEY_PATH"); v != "" {
		cfg.InternalJWTPublicKeyPath = v
	}
	if v := os.Getenv("STASHBOT_INTERNAL_JWT_ISSUERS"); v != "" {
		cfg.InternalJWTIssuers = v
	}
	if v := os.Getenv("STASHBOT_AMQP_URL"); v != "" {
		cfg.AMQPURL = v
	}
	if v := os.Getenv("STASHBOT_AMQP_QUEUE"); v != "" {
		cfg.AMQPQueue = v
	}
	if v := os.Getenv("STASHBOT_QUEUE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueConcurrency = n
		}
	}
	if v := os.Getenv("STASHBOT_RETRY_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryMaxAttempts = n
		}
	}
	if v := os.Getenv("STASHBOT_RETRY_BASE_DELAY_MILLIS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetryBaseDelayMillis = n
		}
	}
	if v := os.Getenv("STASHBOT_DEDUP_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DedupWindowSeconds = n
		}
	}
	if v := os.Getenv("STASHBOT_OVERLAY_PATH"); v != "" {
		cfg.OverlayPath = v
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *FileConfig) {
	if cfg.DedupWindowSeconds == 0 {
		cfg.DedupWindowSeconds = 300
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 3
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = 3
	}
	if cfg.RetryBaseDelayMillis == 0 {
		cfg.RetryBaseDelayMillis = 1000
	}
	if cfg.DrainTimeoutSeconds == 0 {
		cfg.DrainTimeoutSeconds = 30
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	if cfg.DatabaseURL == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if cfg.ChatAPIURL == "" {
		return errors.New("config: chatApiUrl is required (set in config.yaml or STASHBOT_CHAT_API_URL)")
	}
	if cfg.VisionAPIURL == "" {
		return errors.New("config: visionApiUrl is required (set in config.yaml or STASHBOT_VISION_API_URL)")
	}
	if cfg.StorageEndpoint == "" || cfg.StorageBucket == "" {
		return errors.New("config: storageEndpoint and storageBucket are required")
	}
	if strings.TrimSpace(cfg.InternalJWTPublicKeyPath) == "" {
		return errors.New("config: internalJwtPublicKeyPath is required for intake auth")
	}
	if strings.TrimSpace(cfg.InternalJWTIssuers) == "" {
		return errors.New("config: internalJwtIssuers is required (comma-separated issuer list)")
	}
	if cfg.QueueConcurrency < 1 || cfg.QueueConcurrency > 10 {
		return errors.New("config: queueConcurrency must be between 1 and 10")
	}
	if cfg.RetryMaxAttempts < 1 || cfg.RetryMaxAttempts > 10 {
		return errors.New("config: retryMaxAttempts must be between 1 and 10")
	}
	if cfg.RetryBaseDelayMillis < 10 || cfg.RetryBaseDelayMillis > 60000 {
		return errors.New("config: retryBaseDelayMillis must be between 10 and 60000")
	}
	if cfg.DedupWindowSeconds < 1 {
		return errors.New("config: dedupWindowSeconds must be >= 1")
	}
	if cfg.MaxFileSizeBytes < 0 {
		return errors.New("config: maxFileSizeBytes must be >= 0")
	}
	if cfg.AMQPURL != "" && cfg.AMQPQueue == "" {
		return errors.New("config: amqpQueue is required when amqpUrl is set")
	}
	return nil
}

// SplitList parses a comma-separated config value into trimmed entries.
func SplitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
