package config

// EnvPrefix namespaces every environment variable the service reads.
const EnvPrefix = "SOKONI"

const (
	AppEnvDev  = "development"
	AppEnvProd = "production"
)

const (
	EnvDBDSN  = "SOKONI_DB_DSN"
	EnvDBHost = "SOKONI_DB_HOST"
	EnvDBUser = "SOKONI_DB_USER"
	EnvDBName = "SOKONI_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
