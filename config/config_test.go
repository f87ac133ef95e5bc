package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alwitt/notesync/config"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm/logger"
)

func TestParseDefaults(t *testing.T) {
	assert := assert.New(t)

	cfg, err := config.Parse(filepath.Join(t.TempDir(), "missing.env"))
	assert.Nil(err)
	assert.Equal("info", cfg.App.LogLevel)
	assert.Equal("http://localhost:3000", cfg.Client.ServerURL)
	assert.Equal(time.Second*4, cfg.Client.PeriodicSyncInterval)
	assert.Equal(uint(3), cfg.Client.DeferredRetryAttempts)
	assert.Equal(":3000", cfg.Server.Addr)
	assert.Equal(int64(2097152), cfg.Server.MaxBodyBytes)
	assert.Equal(logger.Error, cfg.Database.GORMLogLevel())
	assert.False(cfg.Push.Enabled())
	assert.Empty(cfg.Client.ShellManifest)
}

func TestParseOverrides(t *testing.T) {
	assert := assert.New(t)

	envFile := filepath.Join(t.TempDir(), "test.env")
	assert.Nil(os.WriteFile(envFile, []byte(
		"NOTESYNC_PUSH_VAPID_PUBLIC_KEY=pub\nNOTESYNC_PUSH_VAPID_PRIVATE_KEY=priv\n",
	), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("NOTESYNC_PUSH_VAPID_PUBLIC_KEY")
		_ = os.Unsetenv("NOTESYNC_PUSH_VAPID_PRIVATE_KEY")
	})
	t.Setenv("NOTESYNC_CLIENT_SERVER_URL", "http://notes.example.com")
	t.Setenv("NOTESYNC_DB_LOG_LEVEL", "silent")
	t.Setenv("NOTESYNC_CLIENT_SHELL_MANIFEST", "/,/index.html,/app.js")

	cfg, err := config.Parse(envFile)
	assert.Nil(err)
	assert.Equal("http://notes.example.com", cfg.Client.ServerURL)
	assert.Equal(logger.Silent, cfg.Database.GORMLogLevel())
	assert.True(cfg.Push.Enabled())
	assert.Equal("pub", cfg.Push.VAPIDPublicKey)
	assert.Equal([]string{"/", "/index.html", "/app.js"}, cfg.Client.ShellManifest)
}
