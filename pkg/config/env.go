package config

// EnvPrefix is handed to envconfig; every field carries an explicit tag so the
// prefix only matters for untagged additions.
const EnvPrefix = "COCLEDGER"

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	DBDriverPostgres = "postgres"
	DBDriverSQLite   = "sqlite"
)

const (
	EnvAppEnv   = "COCLEDGER_APP_ENV"
	EnvPort     = "COCLEDGER_APP_PORT"
	EnvLogLevel = "COCLEDGER_LOG_LEVEL"

	EnvDBDSN    = "COCLEDGER_DB_DSN"
	EnvDBDriver = "COCLEDGER_DB_DRIVER"
	EnvDBHost   = "COCLEDGER_DB_HOST"
	EnvDBPort   = "COCLEDGER_DB_PORT"
	EnvDBUser   = "COCLEDGER_DB_USER"
	EnvDBName   = "COCLEDGER_DB_NAME"

	EnvRedisURL = "COCLEDGER_REDIS_URL"

	EnvAllocationDefaultAlternates = "COCLEDGER_ALLOCATION_DEFAULT_ALTERNATES"
	EnvSyncFeedURL                 = "COCLEDGER_SYNC_FEED_URL"
	EnvCronInterval                = "COCLEDGER_CRON_INTERVAL"
)

var discreteDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
