// Package config loads daemon configuration from a YAML file with
// environment-variable overrides. A local .env file is folded into the
// environment first, so development setups need no exported variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	HTTP    HTTPConfig    `yaml:"http"`
	Redis   RedisConfig   `yaml:"redis"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
	Sandbox ServiceConfig `yaml:"sandbox"`
	Crew    ServiceConfig `yaml:"crew"`

	// Knowledge is optional; an empty URL disables reply augmentation.
	Knowledge ServiceConfig `yaml:"knowledge"`

	LLM     LLMConfig     `yaml:"llm"`
	Monitor MonitorConfig `yaml:"monitor"`
	Log     LogConfig     `yaml:"log"`
}

// HTTPConfig configures the health/metrics listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// RedisConfig configures the pub/sub transport.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SQLiteConfig configures session persistence.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// ServiceConfig points at an external collaborator service.
type ServiceConfig struct {
	URL string `yaml:"url"`
}

// LLMConfig configures the chat-completion endpoint.
type LLMConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// MonitorConfig tunes the session timeout monitor.
type MonitorConfig struct {
	Grace  time.Duration `yaml:"grace"`
	Buffer time.Duration `yaml:"buffer"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		HTTP:    HTTPConfig{Addr: ":8090"},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		SQLite:  SQLiteConfig{Path: "graphrun.db"},
		Sandbox: ServiceConfig{URL: "http://localhost:8190"},
		Crew:    ServiceConfig{URL: "http://localhost:8191"},
		LLM:     LLMConfig{BaseURL: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini"},
		Monitor: MonitorConfig{Grace: 5 * time.Second, Buffer: 500 * time.Millisecond},
		Log:     LogConfig{Level: "info"},
	}
}

// Load reads the YAML file at path (missing file means defaults) and then
// applies environment overrides.
func Load(path string) (Config, error) {
	// Ignore a missing .env; it only exists in development.
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults plus environment are a valid configuration.
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.HTTP.Addr, "GRAPHRUN_HTTP_ADDR")
	setString(&c.Redis.Addr, "GRAPHRUN_REDIS_ADDR")
	setString(&c.Redis.Password, "GRAPHRUN_REDIS_PASSWORD")
	setInt(&c.Redis.DB, "GRAPHRUN_REDIS_DB")
	setString(&c.SQLite.Path, "GRAPHRUN_SQLITE_PATH")
	setString(&c.Sandbox.URL, "GRAPHRUN_SANDBOX_URL")
	setString(&c.Crew.URL, "GRAPHRUN_CREW_URL")
	setString(&c.Knowledge.URL, "GRAPHRUN_KNOWLEDGE_URL")
	setString(&c.LLM.APIKey, "GRAPHRUN_LLM_API_KEY")
	setString(&c.LLM.APIKey, "OPENAI_API_KEY")
	setString(&c.LLM.BaseURL, "GRAPHRUN_LLM_BASE_URL")
	setString(&c.LLM.DefaultModel, "GRAPHRUN_LLM_MODEL")
	setDuration(&c.Monitor.Grace, "GRAPHRUN_MONITOR_GRACE")
	setDuration(&c.Monitor.Buffer, "GRAPHRUN_MONITOR_BUFFER")
	setString(&c.Log.Level, "GRAPHRUN_LOG_LEVEL")
	setBool(&c.Log.JSON, "GRAPHRUN_LOG_JSON")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
