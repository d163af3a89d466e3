package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Features   FeatureConfig    `mapstructure:"features"`
	Fetcher    FetcherConfig    `mapstructure:"fetcher"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Report     ReportConfig     `mapstructure:"report"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port          int      `mapstructure:"port"`
	CORSOrigins   []string `mapstructure:"cors_origins"`
	EnableMetrics bool     `mapstructure:"enable_metrics"`
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	UseInMemory     bool          `mapstructure:"use_in_memory"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type OpenAIConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	Model             string        `mapstructure:"model"`
	BaseURL           string        `mapstructure:"base_url"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type FeatureConfig struct {
	EnableAIProcessing bool `mapstructure:"enable_ai_processing"`
	EnableWebScraping  bool `mapstructure:"enable_web_scraping"`
}

type FetcherConfig struct {
	ReaderURL string        `mapstructure:"reader_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
}

type WorkerConfig struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

type ClassifierConfig struct {
	MaxTags int `mapstructure:"max_tags"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type ReportConfig struct {
	Cron string `mapstructure:"cron"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AIEnabled reports whether items should be enriched at all.
func (c *Config) AIEnabled() bool {
	return c.Features.EnableAIProcessing
}

// envBindings maps config keys to the environment variables that override them.
var envBindings = map[string]string{
	"server.port":                   "PORT",
	"server.cors_origins":           "CORS_ORIGINS",
	"database.use_in_memory":        "DATABASE_USE_IN_MEMORY",
	"openai.api_key":                "OPENAI_API_KEY",
	"openai.model":                  "OPENAI_MODEL",
	"openai.base_url":               "OPENAI_BASE_URL",
	"features.enable_ai_processing": "ENABLE_AI_PROCESSING",
	"features.enable_web_scraping":  "ENABLE_WEB_SCRAPING",
	"telegram.token":                "TELEGRAM_TOKEN",
	"report.cron":                   "REPORT_CRON",
	"log.level":                     "LOG_LEVEL",
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Host == "" {
		return DatabaseConfig{}, fmt.Errorf("missing host in %q", u.Redacted())
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.cors_origins", []string{
		"http://localhost:3000",
		"http://localhost:3001",
		"http://localhost:3002",
	})
	v.SetDefault("server.enable_metrics", true)

	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "neofeed")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 30*time.Minute)

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.request_timeout", 30*time.Second)
	v.SetDefault("openai.requests_per_second", 2.0)

	v.SetDefault("features.enable_ai_processing", false)
	v.SetDefault("features.enable_web_scraping", true)

	v.SetDefault("fetcher.reader_url", "https://r.jina.ai/")
	v.SetDefault("fetcher.timeout", 10*time.Second)
	v.SetDefault("fetcher.cache_ttl", time.Hour)

	v.SetDefault("worker.count", 2)
	v.SetDefault("worker.queue_size", 100)

	v.SetDefault("classifier.max_tags", 8)
	v.SetDefault("log.level", "info")
}

// LoadConfig reads defaults, then the optional file at path, then the
// environment (including a .env file in the working directory).
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// Enable environment variable support
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		dbConfig.UseInMemory = config.Database.UseInMemory
		dbConfig.MaxOpenConns = config.Database.MaxOpenConns
		dbConfig.MaxIdleConns = config.Database.MaxIdleConns
		dbConfig.ConnMaxLifetime = config.Database.ConnMaxLifetime
		config.Database = dbConfig
	}

	config.Server.CORSOrigins = splitList(config.Server.CORSOrigins)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Worker.Count <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Worker.Count)
	}
	if c.Worker.QueueSize <= 0 {
		return fmt.Errorf("worker queue size must be positive, got %d", c.Worker.QueueSize)
	}
	if c.OpenAI.RequestTimeout <= 0 {
		return fmt.Errorf("openai request timeout must be positive")
	}
	return nil
}

// splitList flattens comma separated entries, as given by CORS_ORIGINS.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
