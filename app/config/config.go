package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "config.yaml"

type Config struct {
	Log      Log      `yaml:"log"`
	HTTP     HTTP     `yaml:"http"`
	Store    Store    `yaml:"store"`
	Calendar Calendar `yaml:"calendar"`
	LLM      LLM      `yaml:"llm"`
	Booking  Booking  `yaml:"booking"`
}

type Log struct {
	// Minimum level written to the console
	Level string `yaml:"level" example:"info" validate:"oneof=debug info warn error"`
	// Telegram logging config
	Telegram TelegramLog `yaml:"telegram"`
}

type TelegramLog struct {
	// Chat bot token, obtain it via BotFather
	Token string `yaml:"token" example:"1234567890:ABCdefGHIjklMNopQRstUVwxyZ-123456789"`
	// Chat ID to send messages to
	ChatID string `yaml:"chat_id" example:"1001234567890"`
}

type HTTP struct {
	// Listen address of the chat API
	Addr string `yaml:"addr" example:":8080" validate:"required"`
}

type Store struct {
	// Conversation store backend
	Driver string `yaml:"driver" example:"sqlite" validate:"required,oneof=memory sqlite postgres redis"`
	// SQLite file path or Postgres connection string
	DSN string `yaml:"dsn" example:"data/meetwise.db" validate:"required_if=Driver sqlite,required_if=Driver postgres"`
	// Redis connection
	Redis Redis `yaml:"redis"`
	// Conversations idle for longer than this are purged
	Retention time.Duration `yaml:"retention" example:"720h"`
	// Cron schedule of the retention job
	PurgeSchedule string `yaml:"purge_schedule" example:"@hourly" validate:"required"`
	// Timeout of one store call made while handling a turn
	Timeout time.Duration `yaml:"timeout" example:"5s"`
}

type Redis struct {
	Addr     string `yaml:"addr" example:"localhost:6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" example:"0"`
}

type Calendar struct {
	// Google calendar to check and book, "primary" for the account's own calendar
	CalendarID string `yaml:"calendar_id" example:"primary" validate:"required"`
	// Service account or OAuth credentials JSON
	CredentialsFile string `yaml:"credentials_file" example:"credentials.json"`
	// API endpoint override, used against emulators
	Endpoint string `yaml:"endpoint"`
	// IANA timezone all dates are interpreted in
	Timezone string `yaml:"timezone" example:"Europe/Berlin" validate:"required"`
	// Daily range proposals are restricted to
	BusinessHours BusinessHours `yaml:"business_hours"`
	// Client-side request rate limit
	RequestsPerSecond float64 `yaml:"requests_per_second" example:"5" validate:"gt=0"`
}

type BusinessHours struct {
	Open  string `yaml:"open" example:"08:00" validate:"required"`
	Close string `yaml:"close" example:"20:00" validate:"required"`
}

type LLM struct {
	Extractor ModelConfig `yaml:"extractor" validate:"required"`
	// Optional, replies are rendered from templates when empty
	Composer ModelConfig `yaml:"composer"`
}

type ModelConfig struct {
	// openai (any compatible endpoint) or googleai
	Provider string `yaml:"provider" example:"openai" validate:"omitempty,oneof=openai googleai"`
	// OpenAI base url
	BaseURL string `yaml:"base_url" example:"https://openrouter.ai/api/v1"`
	// API token
	Token string `yaml:"token" example:"sk-proj-abc123456789DEF789ghi012JKL345mno678PQR901stu234VWX"`
	// Model name
	Model string `yaml:"model" example:"deepseek/deepseek-chat-v3-0324:free"`
}

func (m ModelConfig) Enabled() bool {
	return m.Model != ""
}

type Booking struct {
	// Timeout of one intent extraction call
	ExtractTimeout time.Duration `yaml:"extract_timeout" example:"30s"`
	// Timeout of one calendar call
	CalendarTimeout time.Duration `yaml:"calendar_timeout" example:"10s"`
	// Retries for transient failures, 1 when unset
	Retries *int `yaml:"retries" example:"1" validate:"omitempty,min=0,max=1"`
	// Number of proposals offered at once
	MaxProposals int `yaml:"max_proposals" example:"3" validate:"min=1"`
	// Title used when the user never gave one
	DefaultTitle string `yaml:"default_title" example:"Meeting"`
}

// Load reads path after loading .env, expanding ${VAR} references in the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var result Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.Errorf("failed to read config file: %w", err)
	}

	if err = yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &result); err != nil {
		return nil, oops.Errorf("failed to parse YAML config: %w", err)
	}

	applyDefaults(&result)

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(result); err != nil {
		return nil, oops.Errorf("failed to validate config: %w", err)
	}

	if result.LLM.Extractor.Model == "" {
		return nil, oops.Errorf("llm.extractor.model is required")
	}

	return &result, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "sqlite"
	}
	if cfg.Store.Driver == "sqlite" && cfg.Store.DSN == "" {
		cfg.Store.DSN = "data/meetwise.db"
	}
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = "localhost:6379"
	}
	if cfg.Store.Retention == 0 {
		cfg.Store.Retention = 30 * 24 * time.Hour
	}
	if cfg.Store.PurgeSchedule == "" {
		cfg.Store.PurgeSchedule = "@hourly"
	}
	if cfg.Store.Timeout == 0 {
		cfg.Store.Timeout = 5 * time.Second
	}
	if cfg.Calendar.CalendarID == "" {
		cfg.Calendar.CalendarID = "primary"
	}
	if cfg.Calendar.Timezone == "" {
		cfg.Calendar.Timezone = "UTC"
	}
	if cfg.Calendar.BusinessHours.Open == "" {
		cfg.Calendar.BusinessHours.Open = "08:00"
	}
	if cfg.Calendar.BusinessHours.Close == "" {
		cfg.Calendar.BusinessHours.Close = "20:00"
	}
	if cfg.Calendar.RequestsPerSecond == 0 {
		cfg.Calendar.RequestsPerSecond = 5
	}
	if cfg.LLM.Extractor.Provider == "" {
		cfg.LLM.Extractor.Provider = "openai"
	}
	if cfg.LLM.Composer.Provider == "" {
		cfg.LLM.Composer.Provider = cfg.LLM.Extractor.Provider
	}
	if cfg.Booking.ExtractTimeout == 0 {
		cfg.Booking.ExtractTimeout = 30 * time.Second
	}
	if cfg.Booking.CalendarTimeout == 0 {
		cfg.Booking.CalendarTimeout = 10 * time.Second
	}
	if cfg.Booking.Retries == nil {
		retries := 1
		cfg.Booking.Retries = &retries
	}
	if cfg.Booking.MaxProposals == 0 {
		cfg.Booking.MaxProposals = 3
	}
	if cfg.Booking.DefaultTitle == "" {
		cfg.Booking.DefaultTitle = "Meeting"
	}
}
