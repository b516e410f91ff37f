package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the casefile server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Storage   StorageConfig
	Vision    VisionConfig
	AI        AIConfig
	Jobs      JobsConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// StorageConfig describes the S3-compatible bucket holding uploaded images.
type StorageConfig struct {
	Endpoint      string
	Region        string
	Bucket        string
	AccessKey     string
	SecretKey     string
	UseSSL        bool
	PresignExpiry time.Duration
}

// VisionConfig points at the object detection and OCR services.
type VisionConfig struct {
	DetectorBaseURL string
	OCRBaseURL      string
	Timeout         time.Duration
}

type AIConfig struct {
	Provider         string
	VisionProvider   string
	InferenceTimeout time.Duration
	Ollama           EndpointConfig
	VLLM             EndpointConfig
	Groq             EndpointConfig
	OpenAI           OpenAIConfig
	Anthropic        EndpointConfig
}

// EndpointConfig is the common shape of a hosted or local model endpoint.
type EndpointConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

type OpenAIConfig struct {
	EndpointConfig
	VisionModel string
}

type JobsConfig struct {
	Workers   int
	QueueSize int
	StatusTTL time.Duration
}

type RateLimitConfig struct {
	PerMinute int
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"groq":      true,
	"openai":    true,
	"anthropic": true,
}

var validVisionProviders = map[string]bool{
	"openai":    true,
	"anthropic": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// A .env file in the working directory, if present, fills in variables that are not
// already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CASEFILE_PORT", 8080),
			Env:  envString("CASEFILE_ENV", "development"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Storage: StorageConfig{
			Endpoint:      os.Getenv("STORAGE_ENDPOINT"),
			Region:        envString("STORAGE_REGION", "us-east-1"),
			Bucket:        os.Getenv("STORAGE_BUCKET"),
			AccessKey:     os.Getenv("STORAGE_ACCESS_KEY"),
			SecretKey:     os.Getenv("STORAGE_SECRET_KEY"),
			UseSSL:        envBool("STORAGE_USE_SSL", true),
			PresignExpiry: envDuration("STORAGE_PRESIGN_EXPIRY", time.Hour),
		},
		Vision: VisionConfig{
			DetectorBaseURL: os.Getenv("DETECTOR_BASE_URL"),
			OCRBaseURL:      os.Getenv("OCR_BASE_URL"),
			Timeout:         envDuration("VISION_TIMEOUT", 30*time.Second),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			VisionProvider:   envString("VISION_PROVIDER", "openai"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 120*time.Second),
			Ollama: EndpointConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3.2"),
			},
			VLLM: EndpointConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000/v1"),
				APIKey:  os.Getenv("VLLM_API_KEY"),
				Model:   envString("VLLM_MODEL", ""),
			},
			Groq: EndpointConfig{
				BaseURL: envString("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
				APIKey:  os.Getenv("GROQ_API_KEY"),
				Model:   envString("GROQ_MODEL", "llama-3.3-70b-versatile"),
			},
			OpenAI: OpenAIConfig{
				EndpointConfig: EndpointConfig{
					BaseURL: envString("OPENAI_BASE_URL", "https://api.openai.com/v1"),
					APIKey:  os.Getenv("OPENAI_API_KEY"),
					Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
				},
				VisionModel: envString("OPENAI_VISION_MODEL", "gpt-4o"),
			},
			Anthropic: EndpointConfig{
				BaseURL: envString("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
				APIKey:  os.Getenv("ANTHROPIC_API_KEY"),
				Model:   envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		Jobs: JobsConfig{
			Workers:   envInt("JOB_WORKERS", 4),
			QueueSize: envInt("JOB_QUEUE_SIZE", 64),
			StatusTTL: envDuration("JOB_STATUS_TTL", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			PerMinute: envInt("RATE_LIMIT_PER_MINUTE", 120),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Storage.Bucket == "" {
		return fmt.Errorf("STORAGE_BUCKET is required")
	}

	if err := requireHTTPURL("DETECTOR_BASE_URL", c.Vision.DetectorBaseURL); err != nil {
		return err
	}
	if err := requireHTTPURL("OCR_BASE_URL", c.Vision.OCRBaseURL); err != nil {
		return err
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, groq, openai, anthropic; got %q", c.AI.Provider)
	}
	if !validVisionProviders[c.AI.VisionProvider] {
		return fmt.Errorf("VISION_PROVIDER must be one of openai, anthropic; got %q", c.AI.VisionProvider)
	}

	if c.AI.Provider == "vllm" && c.AI.VLLM.Model == "" {
		return fmt.Errorf("VLLM_MODEL is required when AI_PROVIDER is vllm")
	}
	if c.AI.Provider == "groq" && c.AI.Groq.APIKey == "" {
		return fmt.Errorf("GROQ_API_KEY is required when AI_PROVIDER is groq")
	}
	if (c.AI.Provider == "openai" || c.AI.VisionProvider == "openai") && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when openai serves text or vision")
	}
	if (c.AI.Provider == "anthropic" || c.AI.VisionProvider == "anthropic") && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when anthropic serves text or vision")
	}

	if c.Jobs.Workers < 1 {
		return fmt.Errorf("JOB_WORKERS must be at least 1, got %d", c.Jobs.Workers)
	}
	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("JOB_QUEUE_SIZE must be at least 1, got %d", c.Jobs.QueueSize)
	}

	return nil
}

func requireHTTPURL(key, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", key)
	}
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return fmt.Errorf("%s must start with http:// or https://, got %q", key, v)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
