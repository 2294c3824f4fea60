package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fbz-tec/pg2parquet/core/errs"
	"github.com/joho/godotenv"
)

const (
	DefaultDBPort = 5432

	// PrecisionOption makes the server print float4/float8 values with enough
	// digits to reproduce the exact binary value from text.
	PrecisionOption = "-c extra_float_digits=3"
)

// LookupFunc reads one environment variable; os.LookupEnv in production.
type LookupFunc func(key string) (string, bool)

// ConnParams holds the connection inputs collected from flags. Zero values
// mean "not given".
type ConnParams struct {
	DSN      string
	Service  string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// LoadEnv loads a .env file from the working directory into the process
// environment, if one exists. Variables already set are not overridden.
func LoadEnv() {
	_ = godotenv.Load()
}

// Resolve turns the collected inputs into a single connection string with
// the float precision option injected. Sources are tried in order:
// explicit DSN, named service, individual fields supplemented from the
// environment, then PGSERVICE from the environment.
func Resolve(p ConnParams, lookup LookupFunc) (string, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if dsn := strings.TrimSpace(p.DSN); dsn != "" {
		return WithPrecision(dsn)
	}

	if svc := strings.TrimSpace(p.Service); svc != "" {
		return WithPrecision(serviceDSN(svc, p))
	}

	fields, err := fieldsFromEnv(p, lookup)
	if err != nil {
		return "", err
	}
	missing := fields.missing()
	if len(missing) == 0 {
		return WithPrecision(fields.keywordValue())
	}
	if svc, ok := envFirst(lookup, "PGSERVICE"); ok {
		return WithPrecision(serviceDSN(svc, p))
	}
	return "", fmt.Errorf("%w: missing connection parameters: %s (use --dsn, --service, flags, or PGHOST/PGDATABASE/PGUSER)",
		errs.ErrConfig, strings.Join(missing, ", "))
}

// fieldsFromEnv fills every field not given on the command line from the
// environment. PG* variables win over the legacy DB_* names.
func fieldsFromEnv(p ConnParams, lookup LookupFunc) (ConnParams, error) {
	if p.Host == "" {
		p.Host, _ = envFirst(lookup, "PGHOST", "DB_HOST")
	}
	if p.Database == "" {
		p.Database, _ = envFirst(lookup, "PGDATABASE", "DB_NAME")
	}
	if p.User == "" {
		p.User, _ = envFirst(lookup, "PGUSER", "DB_USER")
	}
	if p.Password == "" {
		p.Password, _ = envFirst(lookup, "PGPASSWORD", "DB_PASS")
	}
	if p.SSLMode == "" {
		p.SSLMode, _ = envFirst(lookup, "PGSSLMODE", "DB_SSLMODE")
	}
	if p.Port == 0 {
		if v, ok := envFirst(lookup, "PGPORT", "DB_PORT"); ok {
			port, err := strconv.Atoi(v)
			if err != nil {
				return p, fmt.Errorf("%w: port %q is not a number", errs.ErrConfig, v)
			}
			p.Port = port
		} else {
			p.Port = DefaultDBPort
		}
	}
	if p.Port < 1 || p.Port > 65535 {
		return p, fmt.Errorf("%w: port must be a valid port number (1-65535), got %d", errs.ErrConfig, p.Port)
	}
	return p, nil
}

func (p ConnParams) missing() []string {
	var missing []string
	if strings.TrimSpace(p.Host) == "" {
		missing = append(missing, "host")
	}
	if strings.TrimSpace(p.Database) == "" {
		missing = append(missing, "database")
	}
	if strings.TrimSpace(p.User) == "" {
		missing = append(missing, "user")
	}
	return missing
}

func (p ConnParams) keywordValue() string {
	kv := newKeywordValues()
	kv.set("host", p.Host)
	kv.set("port", strconv.Itoa(p.Port))
	kv.set("dbname", p.Database)
	kv.set("user", p.User)
	if p.Password != "" {
		kv.set("password", p.Password)
	}
	if p.SSLMode != "" {
		kv.set("sslmode", p.SSLMode)
	}
	return kv.String()
}

// serviceDSN names a pg_service.conf entry. Fields given on the command line
// are appended so they override the service file, as libpq does.
func serviceDSN(service string, p ConnParams) string {
	kv := newKeywordValues()
	kv.set("service", service)
	if p.Host != "" {
		kv.set("host", p.Host)
	}
	if p.Port != 0 {
		kv.set("port", strconv.Itoa(p.Port))
	}
	if p.Database != "" {
		kv.set("dbname", p.Database)
	}
	if p.User != "" {
		kv.set("user", p.User)
	}
	if p.Password != "" {
		kv.set("password", p.Password)
	}
	if p.SSLMode != "" {
		kv.set("sslmode", p.SSLMode)
	}
	return kv.String()
}

func envFirst(lookup LookupFunc, keys ...string) (string, bool) {
	for _, key := range keys {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v), true
		}
	}
	return "", false
}
