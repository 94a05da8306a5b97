package store

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/pypeaday/soonish/internal/modkit"
)

// Config is the store module's configuration section (spec.md §6: "database
// connection string"), shaped like modules/database/config.go's
// ConnectionConfig.
type Config struct {
	Driver                string        `yaml:"driver" env:"DRIVER"` // "pgx" or "sqlite"
	DSN                   string        `yaml:"dsn" env:"DSN"`
	MaxOpenConnections    int           `yaml:"max_open_connections" env:"MAX_OPEN_CONNECTIONS"`
	MaxIdleConnections    int           `yaml:"max_idle_connections" env:"MAX_IDLE_CONNECTIONS"`
	ConnectionMaxLifetime time.Duration `yaml:"connection_max_lifetime" env:"CONNECTION_MAX_LIFETIME"`
}

// DB wraps *sql.DB as the "db" service other modules (durabletimer, the
// repositories below) depend on.
type DB struct {
	db *sql.DB
}

func Open(cfg Config) (*DB, error) {
	conn, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, modkit.Wrap(modkit.KindFatalConfig, "open database", err)
	}
	if cfg.MaxOpenConnections > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConnections)
	}
	if cfg.MaxIdleConnections > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConnections)
	}
	if cfg.ConnectionMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnectionMaxLifetime)
	}
	return &DB{db: conn}, nil
}

func (d *DB) Conn() *sql.DB { return d.db }

// NewDBFromConn wraps an already-open, already-migrated connection as a DB,
// for callers (tests in other packages) that build their own sqlite handle
// rather than going through Open.
func NewDBFromConn(conn *sql.DB) *DB { return &DB{db: conn} }

func (d *DB) Ping(ctx context.Context) error { return d.db.PingContext(ctx) }

func (d *DB) Close() error { return d.db.Close() }

// Module registers the DB connection and runs migrations at Init, exactly
// like modules/database's Init-time Connect().
type Module struct {
	cfg *Config
	db  *DB
}

func NewModule() *Module { return &Module{cfg: &Config{Driver: "sqlite", DSN: "file::memory:?cache=shared"}} }

// NewModuleWithConfig is NewModule with the defaults pre-empted by a config
// already loaded from YAML/env (spec.md §6 "database connection string");
// cmd/soonishd uses this once it has parsed the process config, since
// Application.Init has no config-loading hook between RegisterConfig and
// Init for a module to feed itself from a file path.
func NewModuleWithConfig(cfg Config) *Module { return &Module{cfg: &cfg} }

func (m *Module) Name() string { return "store" }

func (m *Module) RegisterConfig(app *modkit.Application) error {
	app.RegisterConfigSection("store", modkit.NewStdConfigProvider(m.cfg))
	return nil
}

func (m *Module) Init(app *modkit.Application) error {
	db, err := Open(*m.cfg)
	if err != nil {
		return err
	}
	if err := Migrate(db.Conn(), m.cfg.Driver); err != nil {
		return modkit.Wrap(modkit.KindFatalConfig, "run migrations", err)
	}
	m.db = db
	return app.RegisterService("db", db)
}

func (m *Module) Start(ctx context.Context) error { return m.db.Ping(ctx) }
func (m *Module) Stop(ctx context.Context) error  { return m.db.Close() }
