// Package config loads client and server settings through viper: defaults,
// an optional config file, JOBSYNC_* environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/iudanet/jobsync/internal/logging"
)

// EnvPrefix is the prefix of environment overrides, e.g. JOBSYNC_SERVER.
const EnvPrefix = "JOBSYNC"

// Client keys
const (
	KeyApp               = "app"
	KeyEntity            = "entity"
	KeyServer            = "server"
	KeyDB                = "db"
	KeyTokenFile         = "token_file"
	KeyUser              = "user"
	KeySchemaVersion     = "schema_version"
	KeyMergeStrategy     = "merge.strategy"
	KeyMergeWindow       = "merge.conflict_window"
	KeySyncThrottle      = "sync.throttle"
	KeySyncProbeInterval = "sync.probe_interval"
	KeyQueueMaxRetries   = "queue.max_retries"
	KeyQueueBaseDelay    = "queue.base_delay"
	KeyQueueMaxDelay     = "queue.max_delay"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
	KeyLogFile           = "log.file"
)

// Server keys
const (
	KeyListen    = "listen"
	KeyJWTSecret = "jwt_secret"
	KeyAccessTTL = "access_ttl"
	KeyRateLimit = "rate_limit"
)

// Client holds the settings of the jobsync CLI.
type Client struct {
	Log            logging.Config
	App            string
	Entity         string
	Server         string
	DB             string
	TokenFile      string
	User           string
	MergeStrategy  string
	SchemaVersion  int
	MaxRetries     int
	ConflictWindow time.Duration
	Throttle       time.Duration
	ProbeInterval  time.Duration
	BaseDelay      time.Duration
	MaxDelay       time.Duration
}

// Server holds the settings of the reference server.
type Server struct {
	Log       logging.Config
	Listen    string
	DB        string
	JWTSecret string
	AccessTTL time.Duration
	RateLimit int // запросов в минуту на клиента, 0 - без ограничения
}

// New creates a viper instance wired to the JOBSYNC_* environment.
// file may be empty.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	}

	return v, nil
}

// BindFlags binds the flags of fs that were set on the command line to their
// viper keys. Unset flags are skipped so their zero values do not shadow the
// config file or the environment.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for flag, key := range keys {
		f := fs.Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}

// SetClientDefaults registers the client defaults on v.
func SetClientDefaults(v *viper.Viper) {
	v.SetDefault(KeyApp, "jobsync")
	v.SetDefault(KeyEntity, "jobs")
	v.SetDefault(KeyServer, "http://localhost:8080")
	v.SetDefault(KeyDB, "jobsync.db")
	v.SetDefault(KeyTokenFile, "jobsync-session.json")
	v.SetDefault(KeyUser, "")
	v.SetDefault(KeySchemaVersion, 1)
	v.SetDefault(KeyMergeStrategy, "latest-wins")
	v.SetDefault(KeyMergeWindow, 5*time.Minute)
	v.SetDefault(KeySyncThrottle, 30*time.Second)
	v.SetDefault(KeySyncProbeInterval, 15*time.Second)
	v.SetDefault(KeyQueueMaxRetries, 5)
	v.SetDefault(KeyQueueBaseDelay, time.Second)
	v.SetDefault(KeyQueueMaxDelay, 30*time.Second)
	setLogDefaults(v)
}

// SetServerDefaults registers the server defaults on v.
func SetServerDefaults(v *viper.Viper) {
	v.SetDefault(KeyListen, ":8080")
	v.SetDefault(KeyDB, "jobsync-server.db")
	v.SetDefault(KeyJWTSecret, "")
	v.SetDefault(KeyAccessTTL, 24*time.Hour)
	v.SetDefault(KeyRateLimit, 600)
	setLogDefaults(v)
}

func setLogDefaults(v *viper.Viper) {
	v.SetDefault(KeyLogLevel, logging.DefaultConfig.Level)
	v.SetDefault(KeyLogFormat, logging.DefaultConfig.Format)
	v.SetDefault(KeyLogFile, "")
}

// LoadClient reads the client settings from v.
func LoadClient(v *viper.Viper) (Client, error) {
	cfg := Client{
		App:            v.GetString(KeyApp),
		Entity:         v.GetString(KeyEntity),
		Server:         strings.TrimRight(v.GetString(KeyServer), "/"),
		DB:             v.GetString(KeyDB),
		TokenFile:      v.GetString(KeyTokenFile),
		User:           v.GetString(KeyUser),
		SchemaVersion:  v.GetInt(KeySchemaVersion),
		MergeStrategy:  v.GetString(KeyMergeStrategy),
		ConflictWindow: v.GetDuration(KeyMergeWindow),
		Throttle:       v.GetDuration(KeySyncThrottle),
		ProbeInterval:  v.GetDuration(KeySyncProbeInterval),
		MaxRetries:     v.GetInt(KeyQueueMaxRetries),
		BaseDelay:      v.GetDuration(KeyQueueBaseDelay),
		MaxDelay:       v.GetDuration(KeyQueueMaxDelay),
		Log:            loadLog(v),
	}

	var errs []error
	if cfg.App == "" {
		errs = append(errs, errors.New("app must not be empty"))
	}
	if cfg.Entity == "" {
		errs = append(errs, errors.New("entity must not be empty"))
	}
	if cfg.DB == "" {
		errs = append(errs, errors.New("db must not be empty"))
	}
	if cfg.SchemaVersion < 1 {
		errs = append(errs, fmt.Errorf("schema_version must be positive, got %d", cfg.SchemaVersion))
	}
	if cfg.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("queue.max_retries must be positive, got %d", cfg.MaxRetries))
	}
	if cfg.BaseDelay > cfg.MaxDelay {
		errs = append(errs, fmt.Errorf("queue.base_delay %s exceeds queue.max_delay %s", cfg.BaseDelay, cfg.MaxDelay))
	}

	return cfg, errors.Join(errs...)
}

// LoadServer reads the server settings from v.
func LoadServer(v *viper.Viper) (Server, error) {
	cfg := Server{
		Listen:    v.GetString(KeyListen),
		DB:        v.GetString(KeyDB),
		JWTSecret: v.GetString(KeyJWTSecret),
		AccessTTL: v.GetDuration(KeyAccessTTL),
		RateLimit: v.GetInt(KeyRateLimit),
		Log:       loadLog(v),
	}

	var errs []error
	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("jwt_secret must be set (JOBSYNC_JWT_SECRET)"))
	}
	if cfg.AccessTTL <= 0 {
		errs = append(errs, errors.New("access_ttl must be positive"))
	}
	if cfg.RateLimit < 0 {
		errs = append(errs, errors.New("rate_limit must not be negative"))
	}

	return cfg, errors.Join(errs...)
}

func loadLog(v *viper.Viper) logging.Config {
	cfg := logging.DefaultConfig
	cfg.Level = v.GetString(KeyLogLevel)
	cfg.Format = v.GetString(KeyLogFormat)
	cfg.File = v.GetString(KeyLogFile)
	return cfg
}
