package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      Log      `yaml:"log"`
	Telegram Telegram `yaml:"telegram"`
	OpenAI   OpenAI   `yaml:"openai"`
	Redis    Redis    `yaml:"redis"`
	Memory   Memory   `yaml:"memory"`
}

type OpenAI struct {
	// Supervisor model analyzes patient state and reviews drafts
	Supervisor ModelConfig `yaml:"supervisor" validate:"required"`
	// Therapist model writes the reply drafts
	Therapist ModelConfig `yaml:"therapist" validate:"required"`
}

type ModelConfig struct {
	// OpenAI base url
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1" validate:"required"`
	// OpenAI token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX" validate:"required"`
	// OpenAI model
	Model string `yaml:"model" example:"deepseek/deepseek-chat-v3-0324:free" validate:"required"`
}

type Telegram struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789" validate:"required"`
}

type Redis struct {
	// Redis connection url for the short-term transcript cache.
	// Leave empty to disable the cache and rely on memory files only.
	URL string `yaml:"url" example:"redis://localhost:6379/0"`
}

type Memory struct {
	// Directory for per-user memory files
	Dir string `yaml:"dir" example:"agent_memory"`
	// How long a writer waits for the per-user file lock
	LockTimeout time.Duration `yaml:"lock_timeout" example:"10s"`
}

type Log struct {
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

func Load() (*Config, error) {
	var result Config

	data, err := os.ReadFile("config.yaml")
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal(data, &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	if result.Memory.Dir == "" {
		result.Memory.Dir = "agent_memory"
	}
	if result.Memory.LockTimeout == 0 {
		result.Memory.LockTimeout = 10 * time.Second
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	return &result, nil
}
