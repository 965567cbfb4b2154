package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config groups every setting of the panel backend.
type Config struct {
	Server ServerConfig
	Log    LogConfig
	Store  StoreConfig
	Feed   FeedConfig
	View   ViewConfig
	AI     AIConfig
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	store, err := loadStoreConfig()
	if err != nil {
		return nil, err
	}

	feed, err := loadFeedConfig()
	if err != nil {
		return nil, err
	}

	view, err := loadViewConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: server,
		Log:    loadLogConfig(),
		Store:  store,
		Feed:   feed,
		View:   view,
		AI:     ai,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr         string
	CookieSecure bool
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	secure, err := parseBoolEnv("COOKIE_SECURE", false)
	if err != nil {
		return ServerConfig{}, err
	}

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are accepted as-is.
		return ServerConfig{Addr: port, CookieSecure: secure}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, CookieSecure: secure}, nil
}

// LogConfig selects the zap encoder and level.
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Format: strings.ToLower(getEnvOrDefault("LOG_FORMAT", "json")),
	}
}

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// StoreConfig selects and configures the row store.
type StoreConfig struct {
	Driver      string
	SQLitePath  string
	DatabaseURL string
	SeedDemo    bool
}

func loadStoreConfig() (StoreConfig, error) {
	driver := strings.ToLower(getEnvOrDefault("STORE_DRIVER", DriverMemory))
	switch driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return StoreConfig{}, fmt.Errorf("invalid STORE_DRIVER value %q", driver)
	}

	seed, err := parseBoolEnv("SEED_DEMO", driver == DriverMemory)
	if err != nil {
		return StoreConfig{}, err
	}

	cfg := StoreConfig{
		Driver:      driver,
		SQLitePath:  getEnvOrDefault("SQLITE_PATH", "venux.db"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SeedDemo:    seed,
	}
	if driver == DriverPostgres && cfg.DatabaseURL == "" {
		return StoreConfig{}, fmt.Errorf("DATABASE_URL is required when STORE_DRIVER=%s", DriverPostgres)
	}
	return cfg, nil
}

// FeedConfig configures the optional RabbitMQ change feed.
type FeedConfig struct {
	URL           string
	Exchange      string
	RetryAttempts int
}

// Enabled reports whether a broker URL was given.
func (c FeedConfig) Enabled() bool { return c.URL != "" }

func loadFeedConfig() (FeedConfig, error) {
	attempts := 5
	if override, err := parseOptionalIntEnv("AMQP_RETRY_ATTEMPTS"); err != nil {
		return FeedConfig{}, err
	} else if override != nil {
		if *override < 1 {
			attempts = 1
		} else {
			attempts = *override
		}
	}

	return FeedConfig{
		URL:           strings.TrimSpace(os.Getenv("AMQP_URL")),
		Exchange:      getEnvOrDefault("AMQP_EXCHANGE", "venux.changes"),
		RetryAttempts: attempts,
	}, nil
}

// ViewConfig tunes the per-viewer controllers.
type ViewConfig struct {
	FetchTimeout time.Duration
	Location     *time.Location
}

func loadViewConfig() (ViewConfig, error) {
	timeout, err := parseDurationEnv("FETCH_TIMEOUT", 30*time.Second)
	if err != nil {
		return ViewConfig{}, err
	}
	if timeout <= 0 {
		return ViewConfig{}, fmt.Errorf("invalid FETCH_TIMEOUT value %q: must be positive", os.Getenv("FETCH_TIMEOUT"))
	}

	name := getEnvOrDefault("TIMEZONE", "Local")
	loc, err := time.LoadLocation(name)
	if err != nil {
		return ViewConfig{}, fmt.Errorf("invalid TIMEZONE value %q: %w", name, err)
	}

	return ViewConfig{FetchTimeout: timeout, Location: loc}, nil
}

// AIConfig describes the Ark chat model used by prompt previews.
type AIConfig struct {
	APIKey      string
	AccessKey   string
	SecretKey   string
	Model       string
	BaseURL     string
	Region      string
	Temperature *float64
	TopP        *float64
	MaxTokens   *int
}

// Enabled reports whether a model and credentials were supplied.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_MODEL with ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:      strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:   strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:   strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:       strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:     getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:      getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature: temperature,
		TopP:        topP,
		MaxTokens:   maxTokens,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
