package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	FeatureFlags FeatureFlagsConfig
	Allocation   AllocationConfig
	Sync         SyncConfig
	Cron         CronConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env            string        `envconfig:"COCLEDGER_APP_ENV" required:"true"`
	Port           string        `envconfig:"COCLEDGER_APP_PORT" required:"true"`
	LogLevel       string        `envconfig:"COCLEDGER_LOG_LEVEL" default:"info"`
	LogWarnStack   bool          `envconfig:"COCLEDGER_LOG_WARN_STACK" default:"false"`
	RequestTimeout time.Duration `envconfig:"COCLEDGER_REQUEST_TIMEOUT" default:"15s"`
	CORSOrigins    []string      `envconfig:"COCLEDGER_CORS_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"COCLEDGER_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"COCLEDGER_DB_DSN"`
	Driver string `envconfig:"COCLEDGER_DB_DRIVER" default:"postgres"`

	Host     string `envconfig:"COCLEDGER_DB_HOST"`
	Port     int    `envconfig:"COCLEDGER_DB_PORT" default:"5432"`
	User     string `envconfig:"COCLEDGER_DB_USER"`
	Password string `envconfig:"COCLEDGER_DB_PASSWORD"`
	Name     string `envconfig:"COCLEDGER_DB_NAME"`
	SSLMode  string `envconfig:"COCLEDGER_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"COCLEDGER_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"COCLEDGER_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"COCLEDGER_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"COCLEDGER_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// IsSQLite reports whether the configured driver targets sqlite.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DBDriverSQLite)
}

type RedisConfig struct {
	URL          string        `envconfig:"COCLEDGER_REDIS_URL"`
	Address      string        `envconfig:"COCLEDGER_REDIS_ADDR"`
	Password     string        `envconfig:"COCLEDGER_REDIS_PASSWORD"`
	DB           int           `envconfig:"COCLEDGER_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"COCLEDGER_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"COCLEDGER_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"COCLEDGER_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"COCLEDGER_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"COCLEDGER_REDIS_WRITE_TIMEOUT" default:"5s"`
}

// Enabled reports whether any redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != "" || r.Address != ""
}

type FeatureFlagsConfig struct {
	AutoMigrate   bool `envconfig:"COCLEDGER_AUTO_MIGRATE" default:"false"`
	ExposeMetrics bool `envconfig:"COCLEDGER_EXPOSE_METRICS" default:"true"`
}

type AllocationConfig struct {
	DefaultAlternates int `envconfig:"COCLEDGER_ALLOCATION_DEFAULT_ALTERNATES" default:"10"`
	CommitRetries     int `envconfig:"COCLEDGER_ALLOCATION_COMMIT_RETRIES" default:"3"`
}

// SyncConfig points the cron worker at the third-party COC receipt feed.
type SyncConfig struct {
	FeedURL      string        `envconfig:"COCLEDGER_SYNC_FEED_URL"`
	FeedToken    string        `envconfig:"COCLEDGER_SYNC_FEED_TOKEN"`
	Timeout      time.Duration `envconfig:"COCLEDGER_SYNC_TIMEOUT" default:"30s"`
	LookbackDays int           `envconfig:"COCLEDGER_SYNC_LOOKBACK_DAYS" default:"7"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"COCLEDGER_CRON_INTERVAL" default:"15m"`
	LockTTL  time.Duration `envconfig:"COCLEDGER_CRON_LOCK_TTL" default:"30m"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}
	if db.IsSQLite() {
		return fmt.Errorf("%s is required for the sqlite driver", EnvDBDSN)
	}

	missing := []string{}
	values := map[string]string{
		EnvDBHost: db.Host,
		EnvDBUser: db.User,
		EnvDBName: db.Name,
	}
	for _, env := range discreteDBEnvVars {
		if values[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.User)
	if db.Password != "" {
		userInfo = url.UserPassword(db.User, db.Password)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.Host, db.Port),
		Path:   db.Name,
	}

	if db.SSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.SSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
