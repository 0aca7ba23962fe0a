package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// DatabaseConfig satisfies the go-persistence-bun client config.
type DatabaseConfig struct {
	Driver         string        `koanf:"driver" json:"driver"`
	DSN            string        `koanf:"dsn" json:"dsn"`
	Debug          bool          `koanf:"debug" json:"debug"`
	PingTimeout    time.Duration `koanf:"ping_timeout" json:"ping_timeout"`
	MaxOpenConns   int           `koanf:"max_open_conns" json:"max_open_conns"`
	OtelIdentifier string        `koanf:"otel_identifier" json:"otel_identifier"`
}

func (c DatabaseConfig) GetDebug() bool {
	return c.Debug
}

func (c DatabaseConfig) GetDriver() string {
	return c.Driver
}

func (c DatabaseConfig) GetServer() string {
	return c.DSN
}

func (c DatabaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c DatabaseConfig) GetOtelIdentifier() string {
	if strings.TrimSpace(c.OtelIdentifier) == "" {
		return "go-integrations"
	}
	return c.OtelIdentifier
}

// Open connects to Postgres (lib/pq) or SQLite (mattn/go-sqlite3) and wraps
// the handle in a persistence client with the matching bun dialect.
func Open(cfg DatabaseConfig) (*persistence.Client, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("sqlstore: database dsn is required")
	}
	switch driver {
	case DriverPostgres, "postgresql", "pg":
		cfg.Driver = DriverPostgres
	case DriverSQLite, "sqlite":
		cfg.Driver = DriverSQLite
	default:
		return nil, fmt.Errorf("sqlstore: unsupported database driver %q", cfg.Driver)
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	var client *persistence.Client
	if cfg.Driver == DriverPostgres {
		client, err = persistence.New(cfg, sqlDB, pgdialect.New())
	} else {
		// SQLite serializes writers; a single connection avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
		client, err = persistence.New(cfg, sqlDB, sqlitedialect.New())
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("sqlstore: new persistence client: %w", err)
	}
	return client, nil
}
