package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Import      ImportConfig      `yaml:"import"`
	Inference   InferenceConfig   `yaml:"inference"`
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
	ContactsAPI ContactsAPIConfig `yaml:"contacts_api"`
	Storage     StorageConfig     `yaml:"storage"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with container detection
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// ImportConfig holds limits for the import pipeline.
type ImportConfig struct {
	MaxFileSizeMB     int `yaml:"max_file_size_mb"`
	PreviewThreshold  int `yaml:"preview_threshold"`
	SampleSize        int `yaml:"sample_size"`
	MemoryBudgetMB    int `yaml:"memory_budget_mb"`
	SessionTTLMinutes int `yaml:"session_ttl_minutes"`
	CommitLockSeconds int `yaml:"commit_lock_seconds"`
}

// MaxFileSize returns the upload limit in bytes
func (c ImportConfig) MaxFileSize() int64 {
	return int64(c.MaxFileSizeMB) * 1024 * 1024
}

// MemoryBudgetBytes returns the preview memory budget in bytes
func (c ImportConfig) MemoryBudgetBytes() int64 {
	return int64(c.MemoryBudgetMB) * 1024 * 1024
}

// SessionTTL returns how long an idle import session is kept
func (c ImportConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// CommitLockTTL returns the TTL of the per-session commit lock
func (c ImportConfig) CommitLockTTL() time.Duration {
	return time.Duration(c.CommitLockSeconds) * time.Second
}

// InferenceConfig holds the optional language-model column mapping settings
type InferenceConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Provider       string `yaml:"provider"` // "openai", "bedrock" or "none"
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	Region         string `yaml:"region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxHeaders     int    `yaml:"max_headers"`
}

// Timeout returns the configured timeout as a duration
func (c InferenceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// RedisConfig holds the session store connection
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig holds the contacts database connection
type DatabaseConfig struct {
	URL   string `yaml:"url"`
	Table string `yaml:"table"`
}

// ContactsAPIConfig points at a REST contacts backend used as the commit sink
// when no database is configured.
type ContactsAPIConfig struct {
	BaseURL        string `yaml:"base_url"`
	Token          string `yaml:"token"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the configured timeout as a duration
func (c ContactsAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StorageConfig holds upload archive and import history configuration
type StorageConfig struct {
	Type          string `yaml:"type"` // "none", "local" or "aws"
	LocalPath     string `yaml:"local_path"`
	S3Bucket      string `yaml:"s3_bucket"`
	DynamoDBTable string `yaml:"dynamodb_table"`
	AWSRegion     string `yaml:"aws_region"`
	AWSProfile    string `yaml:"aws_profile"` // Empty string uses default credential chain

	// Endpoint, AccessKeyID and SecretAccessKey target S3/DynamoDB
	// compatible services such as LocalStack.
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GetAWSProfile returns the AWS profile, with environment variable override
func (c StorageConfig) GetAWSProfile() string {
	if envProfile := os.Getenv("AWS_PROFILE_OVERRIDE"); envProfile != "" {
		if envProfile == "none" || envProfile == "iam" {
			return ""
		}
		return envProfile
	}
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return ""
	}
	return c.AWSProfile
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		cfg.Server.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	if cfg.Import.MaxFileSizeMB == 0 {
		cfg.Import.MaxFileSizeMB = 50
	}
	if cfg.Import.PreviewThreshold == 0 {
		cfg.Import.PreviewThreshold = 10000
	}
	if cfg.Import.SampleSize == 0 {
		cfg.Import.SampleSize = 5000
	}
	if cfg.Import.MemoryBudgetMB == 0 {
		cfg.Import.MemoryBudgetMB = 256
	}
	if cfg.Import.SessionTTLMinutes == 0 {
		cfg.Import.SessionTTLMinutes = 120
	}
	if cfg.Import.CommitLockSeconds == 0 {
		cfg.Import.CommitLockSeconds = 300
	}
	if cfg.Inference.Provider == "" {
		cfg.Inference.Provider = "openai"
	}
	if cfg.Inference.BaseURL == "" {
		cfg.Inference.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Inference.Model == "" {
		cfg.Inference.Model = "gpt-4o-mini"
	}
	if cfg.Inference.Region == "" {
		cfg.Inference.Region = "us-east-1"
	}
	if cfg.Inference.TimeoutSeconds == 0 {
		cfg.Inference.TimeoutSeconds = 5
	}
	if cfg.Inference.MaxHeaders == 0 {
		cfg.Inference.MaxHeaders = 20
	}
	if cfg.Database.Table == "" {
		cfg.Database.Table = "contacts"
	}
	if cfg.ContactsAPI.TimeoutSeconds == 0 {
		cfg.ContactsAPI.TimeoutSeconds = 30
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "none"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./data/imports"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-west-2"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("INFERENCE_PROVIDER"); v != "" {
		cfg.Inference.Provider = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Inference.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		cfg.Inference.BaseURL = v
	}
	if v := os.Getenv("INFERENCE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Inference.Enabled = b
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("CONTACTS_API_URL"); v != "" {
		cfg.ContactsAPI.BaseURL = v
	}
	if v := os.Getenv("CONTACTS_API_TOKEN"); v != "" {
		cfg.ContactsAPI.Token = v
	}
	if v := os.Getenv("IMPORT_S3_BUCKET"); v != "" {
		cfg.Storage.S3Bucket = v
	}
	if v := os.Getenv("IMPORT_DYNAMODB_TABLE"); v != "" {
		cfg.Storage.DynamoDBTable = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}

// Validate reports every configuration problem at once.
func (cfg *Config) Validate() error {
	var result *multierror.Error

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server.port %d out of range", cfg.Server.Port))
	}
	if cfg.Import.SampleSize > cfg.Import.PreviewThreshold {
		result = multierror.Append(result, fmt.Errorf("import.sample_size %d exceeds import.preview_threshold %d",
			cfg.Import.SampleSize, cfg.Import.PreviewThreshold))
	}
	if cfg.Import.MaxFileSizeMB < 0 {
		result = multierror.Append(result, errors.New("import.max_file_size_mb must be positive"))
	}

	switch cfg.Inference.Provider {
	case "openai":
		if cfg.Inference.Enabled && cfg.Inference.APIKey == "" {
			result = multierror.Append(result, errors.New("inference.api_key is required for provider openai"))
		}
	case "bedrock", "none":
	default:
		result = multierror.Append(result, fmt.Errorf("inference.provider %q is not one of openai, bedrock, none", cfg.Inference.Provider))
	}

	switch cfg.Storage.Type {
	case "none", "local":
	case "aws":
		if cfg.Storage.S3Bucket == "" {
			result = multierror.Append(result, errors.New("storage.s3_bucket is required for storage type aws"))
		}
		if cfg.Storage.DynamoDBTable == "" {
			result = multierror.Append(result, errors.New("storage.dynamodb_table is required for storage type aws"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("storage.type %q is not one of none, local, aws", cfg.Storage.Type))
	}

	return result.ErrorOrNil()
}
