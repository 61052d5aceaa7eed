package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Governor  GovernorConfig  `mapstructure:"governor"`
	Windower  WindowerConfig  `mapstructure:"windower"`
	Session   SessionConfig   `mapstructure:"session"`
	Assistant AssistantConfig `mapstructure:"assistant"`
}

type TelegramConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

type GovernorConfig struct {
	CooldownMinutes int `mapstructure:"cooldown_minutes"`
	HourlyCap       int `mapstructure:"hourly_cap"`
}

type WindowerConfig struct {
	IdleGapMinutes int `mapstructure:"idle_gap_minutes"`
}

type SessionConfig struct {
	ArchiveAfterDays     int `mapstructure:"archive_after_days"`
	HistorySize          int `mapstructure:"history_size"`
	HistoryMaxAgeMinutes int `mapstructure:"history_max_age_minutes"`
	SweepIntervalMinutes int `mapstructure:"sweep_interval_minutes"`
}

// AssistantConfig is the persona an automated reply generator runs
// with: one shared router/classifier parameterized by these fields, not
// one implementation per assistant.
type AssistantConfig struct {
	Name               string              `mapstructure:"name"`
	SystemInstructions string              `mapstructure:"system_instructions"`
	CategoryKeywords   map[string][]string `mapstructure:"category_keywords"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	dbName := strings.TrimPrefix(u.Path, "/")

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   dbName,
		SSLMode:  "disable",
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("telegram.enabled", true)
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.7)
	v.SetDefault("openai.timeout_seconds", 10)
	v.SetDefault("governor.cooldown_minutes", 30)
	v.SetDefault("governor.hourly_cap", 20)
	v.SetDefault("windower.idle_gap_minutes", 30)
	v.SetDefault("session.archive_after_days", 7)
	v.SetDefault("session.history_size", 20)
	v.SetDefault("session.history_max_age_minutes", 720)
	v.SetDefault("session.sweep_interval_minutes", 60)
	v.SetDefault("assistant.name", "assistant")
	v.SetDefault("assistant.system_instructions",
		"You are a helpful, concise assistant answering chat messages on behalf of the account owner.")

	v.AutomaticEnv()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations that would misbehave at runtime
// rather than failing fast here.
func (c *Config) Validate() error {
	var problems []string

	if c.Telegram.Enabled && c.Telegram.Token == "" {
		problems = append(problems, "telegram.token is required while telegram.enabled is true")
	}
	if c.Governor.CooldownMinutes <= 0 {
		problems = append(problems, "governor.cooldown_minutes must be positive")
	}
	if c.Governor.HourlyCap <= 0 {
		problems = append(problems, "governor.hourly_cap must be positive")
	}
	if c.Windower.IdleGapMinutes <= 0 {
		problems = append(problems, "windower.idle_gap_minutes must be positive")
	}
	if c.Session.ArchiveAfterDays <= 0 {
		problems = append(problems, "session.archive_after_days must be positive")
	}
	if c.Session.HistorySize <= 0 {
		problems = append(problems, "session.history_size must be positive")
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		problems = append(problems, "openai.timeout_seconds must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
