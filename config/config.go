package config

import (
	"time"

	"gorm.io/gorm/logger"
)

// Config notesync configuration, read from the environment
type Config struct {
	App      AppConfig      `env-prefix:"NOTESYNC_APP_"`
	Database DatabaseConfig `env-prefix:"NOTESYNC_DB_"`
	Client   ClientConfig   `env-prefix:"NOTESYNC_CLIENT_"`
	Server   ServerConfig   `env-prefix:"NOTESYNC_SERVER_"`
	Push     PushConfig     `env-prefix:"NOTESYNC_PUSH_"`
}

// AppConfig process wide settings
type AppConfig struct {
	LogLevel string `env:"LOG_LEVEL" env-default:"info"`
	LogJSON  bool   `env:"LOG_JSON" env-default:"false"`
}

// DatabaseConfig local SQLite database settings
type DatabaseConfig struct {
	// File SQLite database file
	File string `env:"FILE" env-default:"notesync.db"`
	// LogLevel GORM log level: silent, error, warn or info
	LogLevel string `env:"LOG_LEVEL" env-default:"error"`
}

// GORMLogLevel the GORM logger level for the configured name
func (c DatabaseConfig) GORMLogLevel() logger.LogLevel {
	switch c.LogLevel {
	case "silent":
		return logger.Silent
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return logger.Error
	}
}

// ClientConfig offline notes client settings
type ClientConfig struct {
	// ServerURL base URL of the notes server
	ServerURL string `env:"SERVER_URL" env-default:"http://localhost:3000"`
	// RequestTimeout timeout of a single call to the server
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" env-default:"15s"`
	// CacheVersion application shell version to serve
	CacheVersion string `env:"CACHE_VERSION" env-default:"v1"`
	// CachePrefix cache generation name prefix
	CachePrefix string `env:"CACHE_PREFIX" env-default:"notes"`
	// ShellManifest comma separated application shell paths. Empty uses the built-in manifest.
	ShellManifest []string `env:"SHELL_MANIFEST" env-separator:","`
	// ProbeInterval connectivity polling interval
	ProbeInterval time.Duration `env:"PROBE_INTERVAL" env-default:"5s"`
	// PeriodicSyncInterval interval between periodic syncs while online
	PeriodicSyncInterval time.Duration `env:"PERIODIC_SYNC_INTERVAL" env-default:"4s"`
	// SyncLeaseTTL how long a sync lease survives a crashed holder
	SyncLeaseTTL time.Duration `env:"SYNC_LEASE_TTL" env-default:"1m"`
	// DeferredRetryAttempts executions of a deferred task per connectivity restoration
	DeferredRetryAttempts uint `env:"DEFERRED_RETRY_ATTEMPTS" env-default:"3"`
	// DeferredRetryDelay delay between executions of a deferred task
	DeferredRetryDelay time.Duration `env:"DEFERRED_RETRY_DELAY" env-default:"2s"`
}

// ServerConfig notes server settings
type ServerConfig struct {
	Addr            string        `env:"ADDR" env-default:":3000"`
	StaticDir       string        `env:"STATIC_DIR" env-default:"public"`
	MaxBodyBytes    int64         `env:"MAX_BODY_BYTES" env-default:"2097152"`
	RequestIDHeader string        `env:"REQUEST_ID_HEADER" env-default:"X-Request-ID"`
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" env-default:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" env-default:"30s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// PushConfig web push settings. Push is off unless both VAPID keys are set.
type PushConfig struct {
	VAPIDPublicKey  string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `env:"VAPID_PRIVATE_KEY"`
	Subject         string `env:"VAPID_SUBJECT" env-default:"mailto:test@example.com"`
	Title           string `env:"TITLE" env-default:"Notes"`
	TTL             int    `env:"TTL" env-default:"60"`
	Concurrency     int    `env:"CONCURRENCY" env-default:"8"`
}

// Enabled whether push notifications can be sent
func (c PushConfig) Enabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}
