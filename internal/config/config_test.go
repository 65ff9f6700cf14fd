package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/lock"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, int64(5), cfg.Enrol.RoleID)
	assert.Equal(t, time.Minute, cfg.Cron.Interval)
	assert.Equal(t, 2*time.Second, cfg.Certificate.LockWait)
	assert.Equal(t, lock.DefaultWait, cfg.Certificate.LockWait)
	assert.Equal(t, lock.DefaultTTL, cfg.Certificate.LockTTL)
	assert.Empty(t, cfg.Redis.Addr)
	for typ, on := range cfg.EnabledSources() {
		assert.True(t, on, "source %s", typ)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROGRAMS_DB_PATH", "/tmp/x.db")
	t.Setenv("PROGRAMS_CRON_INTERVAL", "5m")
	t.Setenv("PROGRAMS_SOURCES_APPROVAL_ENABLED", "false")
	t.Setenv("PROGRAMS_REDIS_ADDR", "localhost:6379")

	cfg, err := Load(New(), "")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/x.db", cfg.DB.Path)
	assert.Equal(t, 5*time.Minute, cfg.Cron.Interval)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.EnabledSources()[domain.SourceApproval])
	assert.True(t, cfg.EnabledSources()[domain.SourceCohort])
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "programs.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
enrol:
  role_id: 7
certificate:
  lock_ttl: 30s
`), 0o644))

	cfg, err := Load(New(), path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, int64(7), cfg.Enrol.RoleID)
	assert.Equal(t, 30*time.Second, cfg.Certificate.LockTTL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Log.Level = "loud"
	cfg.Cron.Interval = -time.Second
	cfg.Enrol.RoleID = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "cron.interval")
	assert.Contains(t, err.Error(), "enrol.role_id")
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, "WARN", lvl.String())

	_, err = ParseLevel("verbose")
	assert.Error(t, err)
}
