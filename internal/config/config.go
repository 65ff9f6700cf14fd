// Package config loads the runtime settings of the programs engine from
// defaults, an optional YAML file and PROGRAMS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/alexanderramin/programs/internal/domain"
	"github.com/alexanderramin/programs/internal/lock"
)

// EnvPrefix is prepended to every environment override, e.g. PROGRAMS_DB_PATH.
const EnvPrefix = "PROGRAMS"

type Config struct {
	DB          DBConfig          `mapstructure:"db"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Log         LogConfig         `mapstructure:"log"`
	Enrol       EnrolConfig       `mapstructure:"enrol"`
	Sources     SourcesConfig     `mapstructure:"sources"`
	Cron        CronConfig        `mapstructure:"cron"`
	Certificate CertificateConfig `mapstructure:"certificate"`
	Server      ServerConfig      `mapstructure:"server"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig enables the shared flag cache and advisory locks when Addr
// is set. Without it both stay in process.
type RedisConfig struct {
	Addr   string `mapstructure:"addr"`
	Prefix string `mapstructure:"prefix"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// Calls logs every use case and reconciliation pass.
	Calls bool `mapstructure:"calls"`
}

type EnrolConfig struct {
	RoleID int64 `mapstructure:"role_id"`
}

type SourceToggle struct {
	Enabled bool `mapstructure:"enabled"`
}

type SourcesConfig struct {
	Cohort         SourceToggle `mapstructure:"cohort"`
	SelfAllocation SourceToggle `mapstructure:"selfallocation"`
	Approval       SourceToggle `mapstructure:"approval"`
	Program        SourceToggle `mapstructure:"program"`
	Certification  SourceToggle `mapstructure:"certification"`
}

type CronConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type CertificateConfig struct {
	LockWait time.Duration `mapstructure:"lock_wait"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DefaultConfig returns the settings used when nothing is overridden.
// Every source type is enabled.
func DefaultConfig() Config {
	dbPath := "programs.db"
	if home, err := os.UserHomeDir(); err == nil {
		dbPath = filepath.Join(home, ".programs", "programs.db")
	}
	on := SourceToggle{Enabled: true}
	return Config{
		DB:          DBConfig{Path: dbPath},
		Redis:       RedisConfig{Prefix: "programs:"},
		Log:         LogConfig{Level: "info"},
		Enrol:       EnrolConfig{RoleID: 5},
		Sources:     SourcesConfig{Cohort: on, SelfAllocation: on, Approval: on, Program: on, Certification: on},
		Cron:        CronConfig{Interval: time.Minute},
		Certificate: CertificateConfig{LockWait: lock.DefaultWait, LockTTL: lock.DefaultTTL},
		Server:      ServerConfig{Addr: ":8080"},
	}
}

// New returns a viper instance with defaults and environment binding set
// up. Callers may bind command flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("db.path", d.DB.Path)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.prefix", d.Redis.Prefix)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.calls", d.Log.Calls)
	v.SetDefault("enrol.role_id", d.Enrol.RoleID)
	for _, name := range []string{"cohort", "selfallocation", "approval", "program", "certification"} {
		v.SetDefault("sources."+name+".enabled", true)
	}
	v.SetDefault("cron.interval", d.Cron.Interval)
	v.SetDefault("certificate.lock_wait", d.Certificate.LockWait)
	v.SetDefault("certificate.lock_ttl", d.Certificate.LockTTL)
	v.SetDefault("server.addr", d.Server.Addr)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, file string) (Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", file, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.DB.Path == "" {
		errs = append(errs, domain.NewValidationError("db.path", "is required", nil))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, domain.NewValidationError("log.level", err.Error(), nil))
	}
	if c.Enrol.RoleID <= 0 {
		errs = append(errs, domain.NewValidationError("enrol.role_id", "must be positive", nil))
	}
	if c.Cron.Interval <= 0 {
		errs = append(errs, domain.NewValidationError("cron.interval", "must be positive", nil))
	}
	if c.Certificate.LockWait < 0 {
		errs = append(errs, domain.NewValidationError("certificate.lock_wait", "must not be negative", nil))
	}
	if c.Certificate.LockTTL <= 0 {
		errs = append(errs, domain.NewValidationError("certificate.lock_ttl", "must be positive", nil))
	}
	return errors.Join(errs...)
}

// EnabledSources maps every non-manual source type to its toggle.
func (c Config) EnabledSources() map[domain.SourceType]bool {
	return map[domain.SourceType]bool{
		domain.SourceCohort:         c.Sources.Cohort.Enabled,
		domain.SourceSelfAllocation: c.Sources.SelfAllocation.Enabled,
		domain.SourceApproval:       c.Sources.Approval.Enabled,
		domain.SourceProgram:        c.Sources.Program.Enabled,
		domain.SourceCertification:  c.Sources.Certification.Enabled,
	}
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
