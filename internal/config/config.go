// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the failover controller
type Config struct {
	// Targets are the (zone, hostname) pairs under management
	Targets []Target

	// RecordTypes restricts which record types are probed and reconciled
	RecordTypes []string

	// ProxiedDefault is the proxied attribute used when no local record
	// attributes are known
	ProxiedDefault bool

	// DNS management toggle: when false the controller only observes
	ManageDNS bool

	// Provider holds DNS provider API settings
	Provider ProviderConfig

	// Probe holds reachability probe settings
	Probe ProbeConfig

	// Flap holds hysteresis settings
	Flap FlapConfig

	// Database configuration
	Database DatabaseConfig

	// Cache configuration
	Cache CacheConfig

	// Redis configuration
	Redis RedisConfig

	// Telegram notification settings
	Telegram TelegramConfig

	// Cycle timing
	ProbeInterval time.Duration
	SyncInterval  time.Duration

	// Server behavior
	ShutdownTimeout time.Duration

	// Logging
	LogLevel string
}

// Target is one zone/hostname pair under management
type Target struct {
	ZoneID   string
	Hostname string
}

// ProviderConfig holds DNS provider API configuration
type ProviderConfig struct {
	APIToken string
	BaseURL  string
	Timeout  time.Duration
}

// ProbeConfig holds reachability probe configuration
type ProbeConfig struct {
	// Method selects the prober: "icmp", "exec" or "dns"
	Method      string
	Timeout     time.Duration
	Concurrency int
}

// FlapConfig holds hysteresis thresholds and notification policy
type FlapConfig struct {
	UpThreshold   int
	DownThreshold int

	// BootstrapFirstUp trusts a brand-new address immediately when its very
	// first sample is up
	BootstrapFirstUp bool

	// NotifyOnFirst sends a notification on first-ever classification
	NotifyOnFirst bool
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DBName         string
	SSLMode        string
	ConnectionName string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds in-memory record cache configuration
type CacheConfig struct {
	Enabled         bool
	MaxEntries      int
	CleanupInterval time.Duration
	TTL             time.Duration
}

// RedisConfig holds Redis L2 cache configuration
type RedisConfig struct {
	Enabled    bool
	Address    string
	ClientName string
	KeyPrefix  string
}

// TelegramConfig holds notification sink configuration
type TelegramConfig struct {
	Enabled bool
	Token   string
	ChatID  string
	Timeout time.Duration
}

// Load creates a new Config with values from environment variables or defaults
func Load() *Config {
	cfg := &Config{
		RecordTypes:    []string{"A"},
		ProxiedDefault: false,
		ManageDNS:      true,

		Provider: ProviderConfig{
			BaseURL: "https://api.cloudflare.com/client/v4",
			Timeout: 15 * time.Second,
		},

		Probe: ProbeConfig{
			Method:      "exec",
			Timeout:     2 * time.Second,
			Concurrency: 8,
		},

		Flap: FlapConfig{
			UpThreshold:   2,
			DownThreshold: 3,
		},

		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "dnsuser",
			Password:        "dnspass",
			DBName:          "dnsdb",
			SSLMode:         "disable",
			ConnectionName:  "failover_primary",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 2 * time.Minute,
		},

		Cache: CacheConfig{
			Enabled:         true,
			MaxEntries:      10000,
			CleanupInterval: 60 * time.Second,
			TTL:             60 * time.Second,
		},

		Redis: RedisConfig{
			Enabled:    false,
			Address:    "localhost:6379",
			ClientName: "records_cache",
			KeyPrefix:  "warden:records:",
		},

		Telegram: TelegramConfig{
			Enabled: true,
			Timeout: 10 * time.Second,
		},

		ProbeInterval:   10 * time.Second,
		SyncInterval:    3 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
	}

	loadTargetConfig(cfg)
	loadProviderConfig(cfg)
	loadProbeConfig(cfg)
	loadFlapConfig(cfg)
	loadDatabaseConfig(cfg)
	loadCacheConfig(cfg)
	loadRedisConfig(cfg)
	loadTelegramConfig(cfg)
	loadControllerConfig(cfg)

	return cfg
}

// pairSeparators splits the CF_ZONE_HOSTNAME list on whitespace, commas
// or semicolons
var pairSeparators = regexp.MustCompile(`[\s,;]+`)

// loadTargetConfig loads zone/hostname pairs and record types from environment
func loadTargetConfig(cfg *Config) {
	if env := os.Getenv("CF_ZONE_HOSTNAME"); env != "" {
		cfg.Targets = nil
		for _, pair := range pairSeparators.Split(env, -1) {
			zoneID, hostname, found := strings.Cut(pair, ":")
			if !found {
				continue
			}
			zoneID = strings.TrimSpace(zoneID)
			hostname = strings.TrimSpace(hostname)
			if zoneID != "" && hostname != "" {
				cfg.Targets = append(cfg.Targets, Target{ZoneID: zoneID, Hostname: hostname})
			}
		}
	}

	env := os.Getenv("CF_RECORD_TYPES")
	if env == "" {
		env = os.Getenv("CF_RECORD_TYPE")
	}
	if env != "" {
		var types []string
		for _, t := range strings.Split(strings.ToUpper(env), ",") {
			t = strings.TrimSpace(t)
			if t == "A" || t == "AAAA" {
				types = append(types, t)
			}
		}
		if len(types) > 0 {
			cfg.RecordTypes = types
		}
	}

	if env := os.Getenv("CF_PROXIED"); env != "" {
		cfg.ProxiedDefault = parseBoolish(env)
	}

	if env := os.Getenv("CF_MANAGE_DNS"); env != "" {
		cfg.ManageDNS = parseBoolish(env)
	}
}

// loadProviderConfig loads DNS provider API configuration from environment
func loadProviderConfig(cfg *Config) {
	if env := os.Getenv("CLOUDFLARE_API_TOKEN"); env != "" {
		cfg.Provider.APIToken = env
	} else if env := os.Getenv("CF_API_TOKEN"); env != "" {
		cfg.Provider.APIToken = env
	}

	if env := os.Getenv("CF_API_BASE"); env != "" {
		cfg.Provider.BaseURL = strings.TrimSuffix(env, "/")
	}

	if env := os.Getenv("CF_API_TIMEOUT"); env != "" {
		if val, err := time.ParseDuration(env); err == nil && val > 0 {
			cfg.Provider.Timeout = val
		}
	}
}

// loadProbeConfig loads probe configuration from environment
func loadProbeConfig(cfg *Config) {
	if env := os.Getenv("PROBE_METHOD"); env != "" {
		cfg.Probe.Method = strings.ToLower(env)
	}

	if env := os.Getenv("PROBE_TIMEOUT"); env != "" {
		if val, err := time.ParseDuration(env); err == nil && val > 0 {
			cfg.Probe.Timeout = val
		}
	}

	if env := os.Getenv("PROBE_CONCURRENCY"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.Probe.Concurrency = val
		}
	}
}

// loadFlapConfig loads hysteresis configuration from environment
func loadFlapConfig(cfg *Config) {
	if env := os.Getenv("FLAP_UP_THRESHOLD"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.Flap.UpThreshold = val
		}
	}

	if env := os.Getenv("FLAP_DOWN_THRESHOLD"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.Flap.DownThreshold = val
		}
	}

	if env := os.Getenv("FLAP_BOOTSTRAP_UP"); env != "" {
		cfg.Flap.BootstrapFirstUp = parseBoolish(env)
	}

	if env := os.Getenv("NOTIFY_ON_FIRST"); env != "" {
		cfg.Flap.NotifyOnFirst = parseBoolish(env)
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig(cfg *Config) {
	if env := os.Getenv("DB_HOST"); env != "" {
		cfg.Database.Host = env
	}

	if env := os.Getenv("DB_PORT"); env != "" {
		if port, err := strconv.Atoi(env); err == nil && port > 0 {
			cfg.Database.Port = port
		}
	}

	if env := os.Getenv("DB_USER"); env != "" {
		cfg.Database.User = env
	}

	if env := os.Getenv("DB_PASSWORD"); env != "" {
		cfg.Database.Password = env
	}

	if env := os.Getenv("DB_NAME"); env != "" {
		cfg.Database.DBName = env
	}

	if env := os.Getenv("DB_SSL_MODE"); env != "" {
		cfg.Database.SSLMode = env
	}

	if env := os.Getenv("DB_CONNECTION_NAME"); env != "" {
		cfg.Database.ConnectionName = env
	}

	if env := os.Getenv("DB_MAX_OPEN_CONNS"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.Database.MaxOpenConns = val
		}
	}

	if env := os.Getenv("DB_MAX_IDLE_CONNS"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val >= 0 {
			cfg.Database.MaxIdleConns = val
		}
	}

	if env := os.Getenv("DB_CONN_MAX_LIFETIME"); env != "" {
		if val, err := time.ParseDuration(env); err == nil {
			cfg.Database.ConnMaxLifetime = val
		}
	}

	if env := os.Getenv("DB_CONN_MAX_IDLE_TIME"); env != "" {
		if val, err := time.ParseDuration(env); err == nil {
			cfg.Database.ConnMaxIdleTime = val
		}
	}
}

// loadCacheConfig loads cache configuration from environment
func loadCacheConfig(cfg *Config) {
	if env := os.Getenv("CACHE_ENABLED"); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			cfg.Cache.Enabled = val
		}
	}

	if env := os.Getenv("CACHE_MAX_ENTRIES"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.Cache.MaxEntries = val
		}
	}

	if env := os.Getenv("CACHE_CLEANUP_INTERVAL"); env != "" {
		if val, err := time.ParseDuration(env); err == nil {
			cfg.Cache.CleanupInterval = val
		}
	}

	if env := os.Getenv("CACHE_TTL"); env != "" {
		if val, err := time.ParseDuration(env); err == nil {
			cfg.Cache.TTL = val
		}
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig(cfg *Config) {
	if env := os.Getenv("REDIS_ENABLED"); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			cfg.Redis.Enabled = val
		}
	}

	if env := os.Getenv("REDIS_ADDRESS"); env != "" {
		cfg.Redis.Address = env
	}

	if env := os.Getenv("REDIS_KEY_PREFIX"); env != "" {
		cfg.Redis.KeyPrefix = env
	}
}

// loadTelegramConfig loads notification configuration from environment
func loadTelegramConfig(cfg *Config) {
	if env := os.Getenv("TELEGRAM_BOT_TOKEN"); env != "" {
		cfg.Telegram.Token = env
	}

	if env := os.Getenv("TELEGRAM_CHAT_ID"); env != "" {
		cfg.Telegram.ChatID = env
	}

	if env := os.Getenv("TELEGRAM_ENABLED"); env != "" {
		cfg.Telegram.Enabled = parseBoolish(env)
	}

	// Notifications require both a token and a chat id.
	cfg.Telegram.Enabled = cfg.Telegram.Enabled && cfg.Telegram.Token != "" && cfg.Telegram.ChatID != ""
}

// loadControllerConfig loads cycle timing and server behavior from environment
func loadControllerConfig(cfg *Config) {
	if env := os.Getenv("PING_INTERVAL_SECONDS"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.ProbeInterval = time.Duration(val) * time.Second
		}
	}

	if env := os.Getenv("CF_SYNC_INTERVAL_MINUTES"); env != "" {
		if val, err := strconv.Atoi(env); err == nil && val > 0 {
			cfg.SyncInterval = time.Duration(val) * time.Minute
		}
	}

	if env := os.Getenv("SHUTDOWN_TIMEOUT"); env != "" {
		if val, err := time.ParseDuration(env); err == nil {
			cfg.ShutdownTimeout = val
		}
	}

	if env := os.Getenv("LOG_LEVEL"); env != "" {
		cfg.LogLevel = env
	}
}

// parseBoolish accepts the common truthy spellings seen in env files
func parseBoolish(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return &ValidationError{Field: "Targets", Message: "CF_ZONE_HOSTNAME must contain at least one zone_id:hostname pair"}
	}
	for _, t := range c.Targets {
		if t.ZoneID == "" || t.Hostname == "" {
			return &ValidationError{Field: "Targets", Message: "zone id and hostname cannot be empty"}
		}
	}

	if len(c.RecordTypes) == 0 {
		return &ValidationError{Field: "RecordTypes", Message: "at least one record type is required"}
	}

	if err := c.Provider.Validate(); err != nil {
		return fmt.Errorf("provider config error: %w", err)
	}

	if err := c.Probe.Validate(); err != nil {
		return fmt.Errorf("probe config error: %w", err)
	}

	if err := c.Flap.Validate(); err != nil {
		return fmt.Errorf("flap config error: %w", err)
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database config error: %w", err)
	}

	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache config error: %w", err)
	}

	if c.ProbeInterval <= 0 {
		return &ValidationError{Field: "ProbeInterval", Message: "must be greater than 0"}
	}

	if c.SyncInterval <= 0 {
		return &ValidationError{Field: "SyncInterval", Message: "must be greater than 0"}
	}

	return nil
}

// Validate validates provider configuration
func (p *ProviderConfig) Validate() error {
	if p.APIToken == "" {
		return &ValidationError{Field: "APIToken", Message: "CLOUDFLARE_API_TOKEN (or CF_API_TOKEN) must be set"}
	}

	if p.BaseURL == "" {
		return &ValidationError{Field: "BaseURL", Message: "cannot be empty"}
	}

	if p.Timeout <= 0 {
		return &ValidationError{Field: "Timeout", Message: "must be greater than 0"}
	}

	return nil
}

// Validate validates probe configuration
func (p *ProbeConfig) Validate() error {
	switch p.Method {
	case "icmp", "exec", "dns":
	default:
		return &ValidationError{Field: "Method", Message: "must be 'icmp', 'exec' or 'dns'"}
	}

	if p.Timeout <= 0 {
		return &ValidationError{Field: "Timeout", Message: "must be greater than 0"}
	}

	if p.Concurrency <= 0 {
		return &ValidationError{Field: "Concurrency", Message: "must be greater than 0"}
	}

	return nil
}

// Validate validates hysteresis configuration
func (f *FlapConfig) Validate() error {
	if f.UpThreshold <= 0 {
		return &ValidationError{Field: "UpThreshold", Message: "must be greater than 0"}
	}

	if f.DownThreshold <= 0 {
		return &ValidationError{Field: "DownThreshold", Message: "must be greater than 0"}
	}

	return nil
}

// Validate validates database configuration
func (db *DatabaseConfig) Validate() error {
	if db.Host == "" {
		return &ValidationError{Field: "Host", Message: "cannot be empty"}
	}

	if db.Port <= 0 || db.Port > 65535 {
		return &ValidationError{Field: "Port", Message: "must be between 1 and 65535"}
	}

	if db.User == "" {
		return &ValidationError{Field: "User", Message: "cannot be empty"}
	}

	if db.DBName == "" {
		return &ValidationError{Field: "DBName", Message: "cannot be empty"}
	}

	if db.ConnectionName == "" {
		return &ValidationError{Field: "ConnectionName", Message: "cannot be empty"}
	}

	if db.MaxOpenConns <= 0 {
		return &ValidationError{Field: "MaxOpenConns", Message: "must be greater than 0"}
	}

	if db.MaxIdleConns < 0 {
		return &ValidationError{Field: "MaxIdleConns", Message: "cannot be negative"}
	}

	return nil
}

// Validate validates cache configuration
func (cache *CacheConfig) Validate() error {
	if cache.Enabled {
		if cache.MaxEntries <= 0 {
			return &ValidationError{Field: "MaxEntries", Message: "must be greater than 0 when cache is enabled"}
		}

		if cache.CleanupInterval < 0 {
			return &ValidationError{Field: "CleanupInterval", Message: "cannot be negative"}
		}

		if cache.TTL < 0 {
			return &ValidationError{Field: "TTL", Message: "cannot be negative"}
		}
	}

	return nil
}

// SyncEveryCycles returns how many probe cycles pass between provider
// resyncs, never less than one.
func (c *Config) SyncEveryCycles() int {
	cycles := int(c.SyncInterval / c.ProbeInterval)
	if cycles < 1 {
		cycles = 1
	}
	return cycles
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s %s", e.Field, e.Message)
}
