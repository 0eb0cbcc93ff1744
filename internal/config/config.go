// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

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

// MaxQueryFields is the upstream cap on dimensions plus filter predicates in one report request.
const MaxQueryFields = 9

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`
	PrivateKey  string   `mapstructure:"privatekey"`

	// File paths
	DatabasePath          string `mapstructure:"storagepath"`
	DatabaseName          string `mapstructure:"-"` // Derived from other settings
	PublicDirectory       string `mapstructure:"publicdir"`
	PublicAssetsUrlPrefix string `mapstructure:"publicassetsurlprefix"`

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings (run ledger)
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Analytics source
	GAPropertyID        string `mapstructure:"gapropertyid"`
	GACredentialsFile   string `mapstructure:"gacredentialsfile"`
	QueryTimeoutSeconds int    `mapstructure:"querytimeoutseconds"`

	// Circuit breaker around the analytics source
	BreakerMinRequests    int     `mapstructure:"breakerminrequests"`
	BreakerFailureRatio   float64 `mapstructure:"breakerfailureratio"`
	BreakerTimeoutSeconds int     `mapstructure:"breakertimeoutseconds"`

	// Engine settings
	PrimaryRowLimit      int `mapstructure:"primaryrowlimit"`
	ReconcileRowLimit    int `mapstructure:"reconcilerowlimit"`
	DetailRowLimit       int `mapstructure:"detailrowlimit"`
	DefaultVisitorLimit  int `mapstructure:"defaultvisitorlimit"`
	MaxVisitorLimit      int `mapstructure:"maxvisitorlimit"`
	PowerUserMinSessions int `mapstructure:"powerusermin"`
	DetailWorkers        int `mapstructure:"detailworkers"`

	// Job scheduling settings
	JobIntervalSeconds int `mapstructure:"jobintervalseconds"`

	// Data retention settings
	RunsRetentionDays int `mapstructure:"runsretentiondays"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		v.SetDefault("appname", "visitorlens")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelDebug))
		v.SetDefault("privatekey", "88888888888888888888888888888888")
		v.SetDefault("storagepath", "storage")
		v.SetDefault("publicdir", "web")
		v.SetDefault("publicassetsurlprefix", "/")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("gapropertyid", "")
		v.SetDefault("gacredentialsfile", "")
		v.SetDefault("querytimeoutseconds", 30)
		v.SetDefault("breakerminrequests", 10)
		v.SetDefault("breakerfailureratio", 0.6)
		v.SetDefault("breakertimeoutseconds", 120)
		v.SetDefault("primaryrowlimit", 10000)
		v.SetDefault("reconcilerowlimit", 10000)
		v.SetDefault("detailrowlimit", 1000)
		v.SetDefault("defaultvisitorlimit", 100)
		v.SetDefault("maxvisitorlimit", 1000)
		v.SetDefault("powerusermin", 3)
		v.SetDefault("detailworkers", 5)
		v.SetDefault("jobintervalseconds", 3600)
		v.SetDefault("runsretentiondays", 30)

		v.BindEnv("appname", "VISITORLENS_APP_NAME")
		v.BindEnv("appport", "VISITORLENS_APP_PORT")
		v.BindEnv("environment", "VISITORLENS_ENV")
		v.BindEnv("loglevel", "VISITORLENS_LOG_LEVEL")
		v.BindEnv("privatekey", "VISITORLENS_PRIVATE_KEY")
		v.BindEnv("storagepath", "VISITORLENS_STORAGE_PATH")
		v.BindEnv("publicdir", "VISITORLENS_PUBLIC_DIR")
		v.BindEnv("publicassetsurlprefix", "VISITORLENS_PUBLIC_ASSETS_URL_PREFIX")
		v.BindEnv("logsdir", "VISITORLENS_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "VISITORLENS_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "VISITORLENS_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "VISITORLENS_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "VISITORLENS_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "VISITORLENS_DB_MAX_IDLE_CONNS")
		v.BindEnv("gapropertyid", "VISITORLENS_GA_PROPERTY_ID")
		v.BindEnv("gacredentialsfile", "VISITORLENS_GA_CREDENTIALS_FILE", "GOOGLE_APPLICATION_CREDENTIALS")
		v.BindEnv("querytimeoutseconds", "VISITORLENS_QUERY_TIMEOUT_SECONDS")
		v.BindEnv("breakerminrequests", "VISITORLENS_BREAKER_MIN_REQUESTS")
		v.BindEnv("breakerfailureratio", "VISITORLENS_BREAKER_FAILURE_RATIO")
		v.BindEnv("breakertimeoutseconds", "VISITORLENS_BREAKER_TIMEOUT_SECONDS")
		v.BindEnv("primaryrowlimit", "VISITORLENS_PRIMARY_ROW_LIMIT")
		v.BindEnv("reconcilerowlimit", "VISITORLENS_RECONCILE_ROW_LIMIT")
		v.BindEnv("detailrowlimit", "VISITORLENS_DETAIL_ROW_LIMIT")
		v.BindEnv("defaultvisitorlimit", "VISITORLENS_DEFAULT_VISITOR_LIMIT")
		v.BindEnv("maxvisitorlimit", "VISITORLENS_MAX_VISITOR_LIMIT")
		v.BindEnv("powerusermin", "VISITORLENS_POWER_USER_MIN_SESSIONS")
		v.BindEnv("detailworkers", "VISITORLENS_DETAIL_WORKERS")
		v.BindEnv("jobintervalseconds", "VISITORLENS_JOB_INTERVAL_SECONDS")
		v.BindEnv("runsretentiondays", "VISITORLENS_RUNS_RETENTION_DAYS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		cfg.DatabaseName = cfg.GetDatabasePath()

		defaultKey := "88888888888888888888888888888888"
		if cfg.IsProduction() && cfg.PrivateKey == defaultKey {
			log.Fatal("Production requires a unique VISITORLENS_PRIVATE_KEY (cannot use default)")
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

	if c.PowerUserMinSessions < 1 {
		return fmt.Errorf("power user minimum sessions must be at least 1, got %d", c.PowerUserMinSessions)
	}
	if c.DefaultVisitorLimit < 1 || c.DefaultVisitorLimit > c.MaxVisitorLimit {
		return fmt.Errorf("default visitor limit %d outside 1..%d", c.DefaultVisitorLimit, c.MaxVisitorLimit)
	}
	if c.BreakerFailureRatio <= 0 || c.BreakerFailureRatio > 1 {
		return fmt.Errorf("breaker failure ratio must be in (0,1], got %v", c.BreakerFailureRatio)
	}

	return nil
}

// GetDatabasePath returns the run ledger database path based on environment
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

// HasAnalyticsSource reports whether enough settings exist to build the analytics client.
func (c *Config) HasAnalyticsSource() bool {
	return c.GAPropertyID != ""
}

// QueryTimeout returns the per-request deadline applied to analytics source calls.
func (c *Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
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

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on environment
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}

	if c.Environment == Test {
		return 1
	}

	return 4
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value based on environment
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}

	if c.Environment == Test {
		return 1
	}

	return 2
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
