package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	DeepSeek DeepSeekConfig `mapstructure:"deepseek"`
	Analyzer AnalyzerConfig `mapstructure:"analyzer"`
	Backfill BackfillConfig `mapstructure:"backfill"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type DeepSeekConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type AnalyzerConfig struct {
	CachePath   string `mapstructure:"cache_path"`
	ActiveHours int    `mapstructure:"active_hours"`
	ContextDays int    `mapstructure:"context_days"`
	MaxMessages int    `mapstructure:"max_messages"`
	Concurrency int    `mapstructure:"concurrency"`
}

type BackfillConfig struct {
	Days        int `mapstructure:"days"`
	BatchSize   int `mapstructure:"batch_size"`
	Concurrency int `mapstructure:"concurrency"`
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

	// Remove leading slash from path to get database name
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

	// Set default values
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("deepseek.base_url", "https://api.deepseek.com")
	v.SetDefault("deepseek.model", "deepseek-chat")
	v.SetDefault("deepseek.max_tokens", 300)
	v.SetDefault("deepseek.temperature", 0.2)
	v.SetDefault("analyzer.cache_path", "data/expectations_cache.json")
	v.SetDefault("analyzer.active_hours", 24)
	v.SetDefault("analyzer.context_days", 3)
	v.SetDefault("analyzer.max_messages", 50)
	v.SetDefault("analyzer.concurrency", 3)
	v.SetDefault("backfill.days", 30)
	v.SetDefault("backfill.batch_size", 50)
	v.SetDefault("backfill.concurrency", 5)

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file if present; env vars alone are enough to run
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	if apiKey := v.GetString("DEEPSEEK_API_KEY"); apiKey != "" {
		config.DeepSeek.APIKey = apiKey
	}

	if model := v.GetString("DEEPSEEK_MODEL"); model != "" {
		config.DeepSeek.Model = model
	}

	return &config, nil
}
