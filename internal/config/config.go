// Package config loads application configuration from defaults, an optional
// YAML file, and environment variables, using viper exactly as the rest of
// this codebase always has.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	LLM       LLM       `mapstructure:"llm"`
	Store     Store     `mapstructure:"store"`
	Cache     Cache     `mapstructure:"cache"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Server    Server    `mapstructure:"server"`
	Feeds     Feeds     `mapstructure:"feeds"`
	Logging   Logging   `mapstructure:"logging"`
}

// App holds general application configuration.
type App struct {
	Debug      bool   `mapstructure:"debug"`
	DataDir    string `mapstructure:"data_dir"`
	ConfigFile string `mapstructure:"config_file"`
}

// LLM holds Gemini model selection, fallback, and cache configuration.
type LLM struct {
	APIKey          string        `mapstructure:"api_key"`
	PrimaryModel    string        `mapstructure:"primary_model"`
	FallbackModel   string        `mapstructure:"fallback_model"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxTokens       int32         `mapstructure:"max_tokens"`
	Temperature     float32       `mapstructure:"temperature"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
	MonthlyBudgetUSD float64      `mapstructure:"monthly_budget_usd"`
	AlertThresholdPct float64     `mapstructure:"alert_threshold_pct"`
}

// Store holds the document-store connection. This layer names its interface
// after MongoDB (MONGODB_URI); internal/persistence backs it with Postgres
// JSONB collections instead, see DESIGN.md.
type Store struct {
	URI             string `mapstructure:"uri"`
	MaxConnections  int    `mapstructure:"max_connections"`
	IdleConnections int    `mapstructure:"idle_connections"`
}

// Cache holds the shared signal/LLM cache configuration.
type Cache struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisDB         int           `mapstructure:"redis_db"`
	SignalSharedTTL time.Duration `mapstructure:"signal_shared_ttl"`
	SignalLocalTTL  time.Duration `mapstructure:"signal_local_ttl"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
}

// Scheduler holds task-runner configuration.
type Scheduler struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxConcurrent int  `mapstructure:"max_concurrent"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host            string          `mapstructure:"host"`
	Port            int             `mapstructure:"port"`
	ReadTimeout     time.Duration   `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration   `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout"`
	APIKey          string          `mapstructure:"api_key"`
	CORS            CORSConfig      `mapstructure:"cors"`
	RateLimit       RateLimitConfig `mapstructure:"rate_limit"`
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
}

// Feeds holds RSS/Atom ingestion configuration.
type Feeds struct {
	Sources         []string      `mapstructure:"sources"`
	FetchInterval   time.Duration `mapstructure:"fetch_interval"`
	UserAgent       string        `mapstructure:"user_agent"`
	Timeout         time.Duration `mapstructure:"timeout"`
	MaxItemsPerFeed int           `mapstructure:"max_items_per_feed"`
}

// Logging holds logging configuration.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads configuration from defaults, an optional config file, and the
// environment, in that order of increasing precedence.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("warning: error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".narrative-core")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := postProcess(cfg); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	globalConfig = cfg
	return cfg, nil
}

// Get returns the global configuration, loading it with defaults if it
// hasn't been loaded yet.
func Get() *Config {
	if globalConfig == nil {
		cfg, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("failed to load configuration: %v", err))
		}
		return cfg
	}
	return globalConfig
}

// Reset clears the global configuration. Used by tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.data_dir", ".narrative-core-cache")

	viper.SetDefault("llm.primary_model", "gemini-2.0-flash")
	viper.SetDefault("llm.fallback_model", "gemini-2.0-flash-lite")
	viper.SetDefault("llm.timeout", "30s")
	viper.SetDefault("llm.max_tokens", 8192)
	viper.SetDefault("llm.temperature", 0.3)
	viper.SetDefault("llm.cache_ttl", "24h")
	viper.SetDefault("llm.monthly_budget_usd", 50.0)
	viper.SetDefault("llm.alert_threshold_pct", 0.8)

	viper.SetDefault("store.uri", "postgres://localhost:5432/narrative_core?sslmode=disable")
	viper.SetDefault("store.max_connections", 20)
	viper.SetDefault("store.idle_connections", 5)

	viper.SetDefault("cache.redis_addr", "")
	viper.SetDefault("cache.redis_db", 0)
	viper.SetDefault("cache.signal_shared_ttl", "120s")
	viper.SetDefault("cache.signal_local_ttl", "60s")
	viper.SetDefault("cache.sqlite_path", ".narrative-core-cache/llm_cache.db")

	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.max_concurrent", 4)

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "15s")
	viper.SetDefault("server.shutdown_timeout", "10s")
	viper.SetDefault("server.cors.enabled", true)
	viper.SetDefault("server.cors.allowed_origins", []string{"http://localhost:3000"})
	viper.SetDefault("server.rate_limit.enabled", true)
	viper.SetDefault("server.rate_limit.requests_per_minute", 60)

	viper.SetDefault("feeds.fetch_interval", "30m")
	viper.SetDefault("feeds.user_agent", "narrative-core/1.0")
	viper.SetDefault("feeds.timeout", "30s")
	viper.SetDefault("feeds.max_items_per_feed", 50)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}

func bindEnvironmentVariables() {
	bindEnvKeys("llm.api_key", []string{"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY"})
	bindEnvKeys("store.uri", []string{"MONGODB_URI", "DATABASE_URL"})
	bindEnvKeys("cache.redis_addr", []string{"REDIS_ADDR", "REDIS_URL"})
	bindEnvKeys("server.api_key", []string{"API_KEY", "NARRATIVE_CORE_API_KEY"})
	bindEnvKeys("app.debug", []string{"DEBUG"})
}

func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

func postProcess(cfg *Config) error {
	if cfg.App.DataDir != "" {
		cfg.App.DataDir = expandPath(cfg.App.DataDir)
	}
	if cfg.Cache.SQLitePath != "" {
		cfg.Cache.SQLitePath = expandPath(cfg.Cache.SQLitePath)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validate checks required secrets, requires the store URI to name the
// expected database, and guards against a development Postgres database name
// being used in an environment that looks production-like.
func validate(cfg *Config) error {
	const expectedDatabaseName = "narrative_core"
	var errs []string

	if cfg.LLM.APIKey == "" {
		errs = append(errs, "LLM API key is required. Set GEMINI_API_KEY or llm.api_key in config")
	}

	if cfg.Store.URI == "" {
		errs = append(errs, "store URI is required. Set MONGODB_URI or store.uri in config")
	} else if dsn := strings.SplitN(cfg.Store.URI, "?", 2)[0]; !strings.HasSuffix(dsn, "/"+expectedDatabaseName) {
		errs = append(errs, fmt.Sprintf("store.uri must name the %q database; refusing to start against a different database", expectedDatabaseName))
	}

	if !cfg.App.Debug && strings.Contains(strings.ToLower(cfg.Store.URI), "/dev") {
		errs = append(errs, "store.uri points at a 'dev' database but app.debug is false; refusing to start against a development database in a non-debug run")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}
