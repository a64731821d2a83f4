package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const configPathEnv = "CURATOR_CONFIG"

// Config holds process wiring and secrets. Tunables that the operator may
// change at runtime live in Settings instead.
type Config struct {
	Telegram  TelegramConfig    `yaml:"telegram"`
	Judge     JudgeConfig       `yaml:"judge"`
	Reddit    RedditConfig      `yaml:"reddit"`
	Twitter   TwitterConfig     `yaml:"twitter"`
	Database  DatabaseConfig    `yaml:"database"`
	DryRun    bool              `yaml:"dry_run"`
	Server    ServerConfig      `yaml:"server"`
	LogLevel  string            `yaml:"log_level"`
	Settings  map[string]string `yaml:"settings"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
}

type TelegramConfig struct {
	Token            string `yaml:"token"`
	WebhookURL       string `yaml:"webhook_url"`
	AuthorizedUserID int64  `yaml:"authorized_user_id"`
}

// JudgeConfig selects the judgment service. Provider is "gemini", "openai"
// or "none"; empty means pick whichever key is present.
type JudgeConfig struct {
	Provider     string `yaml:"provider"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
	GeminiModel  string `yaml:"gemini_model"`
	OpenAIAPIKey string `yaml:"openai_api_key"`
	OpenAIModel  string `yaml:"openai_model"`
}

type RedditConfig struct {
	Backend      string  `yaml:"backend"`
	ClientID     string  `yaml:"client_id"`
	ClientSecret string  `yaml:"client_secret"`
	Username     string  `yaml:"username"`
	Password     string  `yaml:"password"`
	UserAgent    string  `yaml:"user_agent"`
	RequestsPerS float64 `yaml:"requests_per_second"`
}

type TwitterConfig struct {
	APIKey            string `yaml:"api_key"`
	APISecret         string `yaml:"api_secret"`
	AccessToken       string `yaml:"access_token"`
	AccessTokenSecret string `yaml:"access_token_secret"`
}

// Configured reports whether every credential needed to post is present.
func (t TwitterConfig) Configured() bool {
	return t.APIKey != "" && t.APISecret != "" && t.AccessToken != "" && t.AccessTokenSecret != ""
}

type DatabaseConfig struct {
	Path    string `yaml:"path"`
	History string `yaml:"history"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Cooldown     time.Duration `yaml:"cooldown"`
}

// Load reads defaults, then the YAML file at path (or $CURATOR_CONFIG), then
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.Judge.Provider = cfg.Judge.resolveProvider()

	if cfg.Settings == nil {
		cfg.Settings = map[string]string{}
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Judge: JudgeConfig{
			GeminiModel: "gemini-2.5-flash-lite",
			OpenAIModel: "gpt-4o-mini",
		},
		Reddit: RedditConfig{
			Backend:      "json",
			UserAgent:    "CommentCurator/1.0",
			RequestsPerS: 1,
		},
		Database: DatabaseConfig{
			Path:    "reddit_data.db",
			History: "sqlite",
		},
		Server:   ServerConfig{Port: "8000"},
		LogLevel: "info",
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
			Cooldown:     5 * time.Minute,
		},
	}
}

func (c *Config) applyEnvOverrides() {
	c.Telegram.Token = getEnv("TELEGRAM_BOT_TOKEN", c.Telegram.Token)
	c.Telegram.WebhookURL = getEnv("TELEGRAM_WEBHOOK_URL", c.Telegram.WebhookURL)
	c.Telegram.AuthorizedUserID = getEnvAsInt64("AUTHORIZED_USER_ID", c.Telegram.AuthorizedUserID)

	c.Judge.Provider = getEnv("JUDGE_PROVIDER", c.Judge.Provider)
	c.Judge.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.Judge.GeminiAPIKey)
	c.Judge.GeminiModel = getEnv("GEMINI_MODEL", c.Judge.GeminiModel)
	c.Judge.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.Judge.OpenAIAPIKey)
	c.Judge.OpenAIModel = getEnv("OPENAI_MODEL", c.Judge.OpenAIModel)

	c.Reddit.Backend = getEnv("REDDIT_BACKEND", c.Reddit.Backend)
	c.Reddit.ClientID = getEnv("REDDIT_CLIENT_ID", c.Reddit.ClientID)
	c.Reddit.ClientSecret = getEnv("REDDIT_CLIENT_SECRET", c.Reddit.ClientSecret)
	c.Reddit.Username = getEnv("REDDIT_USERNAME", c.Reddit.Username)
	c.Reddit.Password = getEnv("REDDIT_PASSWORD", c.Reddit.Password)
	c.Reddit.UserAgent = getEnv("REDDIT_USER_AGENT", c.Reddit.UserAgent)
	c.Reddit.RequestsPerS = getEnvAsFloat("REDDIT_REQUESTS_PER_SECOND", c.Reddit.RequestsPerS)

	c.Twitter.APIKey = getEnv("TWITTER_API_KEY", c.Twitter.APIKey)
	c.Twitter.APISecret = getEnv("TWITTER_API_SECRET", c.Twitter.APISecret)
	c.Twitter.AccessToken = getEnv("TWITTER_ACCESS_TOKEN", c.Twitter.AccessToken)
	c.Twitter.AccessTokenSecret = getEnv("TWITTER_ACCESS_TOKEN_SECRET", c.Twitter.AccessTokenSecret)

	c.Database.Path = getEnv("DATABASE_PATH", c.Database.Path)
	c.Database.History = getEnv("HISTORY_BACKEND", c.Database.History)
	c.DryRun = getEnvAsBool("DRY_RUN", c.DryRun)
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Scheduler.PollInterval = getEnvAsDuration("SCHEDULER_POLL_INTERVAL", c.Scheduler.PollInterval)
	c.Scheduler.Cooldown = getEnvAsDuration("SCHEDULER_COOLDOWN", c.Scheduler.Cooldown)
}

func (j JudgeConfig) resolveProvider() string {
	switch p := strings.ToLower(strings.TrimSpace(j.Provider)); p {
	case "gemini", "openai", "none":
		return p
	}
	switch {
	case j.GeminiAPIKey != "":
		return "gemini"
	case j.OpenAIAPIKey != "":
		return "openai"
	default:
		return "none"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
