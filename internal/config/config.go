// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Database types
const (
	SQLiteDatabase = "sqlite"
)

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName                    string   `mapstructure:"appname"`
	AppPort                    string   `mapstructure:"appport"`
	Environment                string   `mapstructure:"environment"`
	LogLevel                   LogLevel `mapstructure:"loglevel"`
	PrivateKey                 string   `mapstructure:"privatekey"`
	SessionTimeoutSeconds      int      `mapstructure:"sessiontimeoutseconds"`
	LoginSessionTimeoutSeconds int      `mapstructure:"loginsessiontimeoutseconds"`
	AdminEmail                 string   `mapstructure:"adminemail"`
	Domain                     string   `mapstructure:"domain"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	GeoDBPath             string `mapstructure:"geodbpath"`
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseType         string `mapstructure:"dbtype"`
	DatabaseMaxOpenConns int    `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int    `mapstructure:"dbmaxidleconns"`

	// Ingestion rate limiting (fixed window, per client IP)
	RateLimitMaxRequests   int `mapstructure:"ratelimitmaxrequests"`
	RateLimitWindowSeconds int `mapstructure:"ratelimitwindowseconds"`

	// Aggregation settings
	AggregationCutoffSeconds int `mapstructure:"aggregationcutoffseconds"`
	JobIntervalSeconds       int `mapstructure:"jobintervalseconds"`

	// Data retention settings. 0 keeps aggregated stats forever.
	StatsRetentionDays int `mapstructure:"statsretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Set defaults
		v.SetDefault("appname", "visitly")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("sessiontimeoutseconds", 1800)
		v.SetDefault("loginsessiontimeoutseconds", 604800) // 1 week
		v.SetDefault("storagepath", "storage")
		v.SetDefault("geodbpath", "storage/GeoLite2-Country.mmdb")
		v.SetDefault("publicdir", "public")
		v.SetDefault("publicassetsurlprefix", "/assets")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbtype", SQLiteDatabase)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("ratelimitmaxrequests", 100)
		v.SetDefault("ratelimitwindowseconds", 60)
		v.SetDefault("aggregationcutoffseconds", 3600)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("statsretentiondays", 0)

		// Bind environment variables
		v.BindEnv("appname", "VISITLY_APP_NAME")
		v.BindEnv("appport", "VISITLY_APP_PORT")
		v.BindEnv("environment", "VISITLY_ENV")
		v.BindEnv("loglevel", "VISITLY_LOG_LEVEL")
		v.BindEnv("privatekey", "VISITLY_PRIVATE_KEY")
		v.BindEnv("sessiontimeoutseconds", "VISITLY_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("loginsessiontimeoutseconds", "VISITLY_LOGIN_SESSION_TIMEOUT_SECONDS")
		v.BindEnv("adminemail", "VISITLY_ADMIN_EMAIL")
		v.BindEnv("domain", "VISITLY_DOMAIN")
		v.BindEnv("storagepath", "VISITLY_STORAGE_PATH")
		v.BindEnv("geodbpath", "VISITLY_GEO_DB_PATH")
		v.BindEnv("publicdir", "VISITLY_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "VISITLY_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "VISITLY_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "VISITLY_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "VISITLY_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "VISITLY_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbtype", "VISITLY_DB_TYPE")
		v.BindEnv("dbmaxopenconns", "VISITLY_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "VISITLY_DB_MAX_IDLE_CONNS")
		v.BindEnv("ratelimitmaxrequests", "VISITLY_RATE_LIMIT_MAX_REQUESTS")
		v.BindEnv("ratelimitwindowseconds", "VISITLY_RATE_LIMIT_WINDOW_SECONDS")
		v.BindEnv("aggregationcutoffseconds", "VISITLY_AGGREGATION_CUTOFF_SECONDS")
		v.BindEnv("jobintervalseconds", "VISITLY_JOB_INTERVAL_SECONDS")
		v.BindEnv("statsretentiondays", "VISITLY_STATS_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		// Validate
		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()

		// Validate private key - in production, must be explicitly set (not empty, not default)
		defaultKey := "88888888888888888888888888888888"
		if cfg.PrivateKey == "" {
			log.Fatal("Private key is required")
		}
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique VISITLY_PRIVATE_KEY (cannot use default)")
		}
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	validDBTypes := map[string]bool{
		SQLiteDatabase: true,
	}
	if !validDBTypes[c.DatabaseType] {
		return fmt.Errorf("invalid database type: %s", c.DatabaseType)
	}

	if c.RateLimitMaxRequests <= 0 {
		return fmt.Errorf("rate limit max requests must be positive, got %d", c.RateLimitMaxRequests)
	}
	if c.RateLimitWindowSeconds <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %d", c.RateLimitWindowSeconds)
	}
	if c.AggregationCutoffSeconds <= 0 {
		return fmt.Errorf("aggregation cutoff must be positive, got %d", c.AggregationCutoffSeconds)
	}

	return nil
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetPort returns the HTTP server port (implements cartridge.Config interface).
func (c *Config) GetPort() string {
	return c.AppPort
}

// GetPublicDirectory returns the path to public/static assets (implements cartridge.Config interface).
func (c *Config) GetPublicDirectory() string {
	return c.PublicDirectory
}

// GetAssetsPrefix returns the URL prefix for static assets (implements cartridge.Config interface).
func (c *Config) GetAssetsPrefix() string {
	return c.PublicAssetsUrlPrefix
}

// GetAppName returns the application name (implements cartridge.FactoryConfig interface).
func (c *Config) GetAppName() string {
	return c.AppName
}

// DatabaseDSN returns the database connection string (implements cartridge.FactoryConfig interface).
func (c *Config) DatabaseDSN() string {
	return c.GetDatabasePath()
}

// GetSessionSecret returns the session encryption key (implements cartridge.FactoryConfig interface).
func (c *Config) GetSessionSecret() string {
	return c.PrivateKey
}

// GetSessionTimeout returns the visitor session inactivity timeout in seconds.
// A visitor session rotates once this much time passes without a page view.
func (c *Config) GetSessionTimeout() int {
	return c.SessionTimeoutSeconds
}

// GetLoginSessionTimeout returns the admin login session timeout in seconds.
func (c *Config) GetLoginSessionTimeout() int {
	return c.LoginSessionTimeoutSeconds
}

// GetAggregationCutoff returns the age in seconds past which a raw session
// becomes eligible for rollup and deletion.
func (c *Config) GetAggregationCutoff() int {
	return c.AggregationCutoffSeconds
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1 // Required for E2E test stability
	}

	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1 // Matches MaxOpenConns for test stability
	}

	return 5
}

// GetLogLevel returns the log level as a string (implements cartridge.LogConfigProvider).
func (c *Config) GetLogLevel() string {
	return string(c.LogLevel)
}

// GetLogDirectory returns the logs directory (implements cartridge.LogConfigProvider).
func (c *Config) GetLogDirectory() string {
	return c.LogsDirectory
}

// GetLogMaxSizeMB returns the max log file size in MB (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxSizeMB() int {
	return c.LogsMaxSizeInMb
}

// GetLogMaxBackups returns the max number of log backups (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxBackups() int {
	return c.LogsMaxBackups
}

// GetLogMaxAgeDays returns the max age in days for log files (implements cartridge.LogConfigProvider).
func (c *Config) GetLogMaxAgeDays() int {
	return c.LogsMaxAgeInDays
}

// Reset clears the cached configuration; intended for tests.
func Reset() {
	once = sync.Once{}
	cfg = nil
}
