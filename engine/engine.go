package engine

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/nikola-chen/cormstream/dialect"
	"github.com/nikola-chen/cormstream/streaming"
)

// Config defines the configuration for Engine.
type Config struct {
	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of connections in the idle connection pool.
	MaxIdleConns int
	// ConnMaxLifetime sets the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration

	// FetchSize is the fetch size hint given to every streamed statement.
	// Zero leaves the choice to the dialect's configurator.
	FetchSize int
	// DisableStreaming replaces the dialect's configurator with a no-op.
	DisableStreaming bool

	// LogSQL enables SQL logging.
	LogSQL bool
	// LogArgs enables argument logging in SQL logs.
	LogArgs bool
	// LogCanceled keeps context cancellation errors as is in SQL logs.
	LogCanceled bool
	// SlowQuery sets the threshold for slow query logging.
	SlowQuery time.Duration
	// MaxLogSQLLen truncates logged SQL. Zero means 2048.
	MaxLogSQLLen int
	// MaxLogArgsItems limits logged arguments. Zero means 20.
	MaxLogArgsItems int
	// MaxLogArgsLen limits the formatted argument list. Zero means 512.
	MaxLogArgsLen int
	// ArgFormatter formats a single logged argument. The default redacts strings.
	ArgFormatter func(any) string
}

// Option is a function to configure the Engine.
type Option func(*Engine) error

// WithLogger sets the logger for the Engine.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			return errors.New("cormstream: nil logger")
		}
		e.logger = logger
		return nil
	}
}

// WithConfig sets the configuration for the Engine.
func WithConfig(cfg Config) Option {
	return func(e *Engine) error {
		if cfg.FetchSize < 0 {
			return errors.Errorf("cormstream: negative fetch size %d", cfg.FetchSize)
		}
		e.cfg = cfg
		return nil
	}
}

// WithConfigurator overrides the dialect's streaming configurator.
func WithConfigurator(c streaming.Configurator) Option {
	return func(e *Engine) error {
		e.configurator = c
		return nil
	}
}

// Engine streams query results from a database/sql pool.
type Engine struct {
	db           *sql.DB
	dialect      dialect.Dialect
	configurator streaming.Configurator
	executor     *streaming.Executor
	logger       *zap.Logger
	cfg          Config
}

// Open opens a database connection.
func Open(driverName, dsn string, opts ...Option) (*Engine, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "cormstream: open %s", driverName)
	}
	e, err := WithDB(db, driverName, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

// WithDB creates an Engine with an existing sql.DB. dialectName selects the
// dialect and with it the streaming configurator, once for the Engine's
// lifetime.
func WithDB(db *sql.DB, dialectName string, opts ...Option) (*Engine, error) {
	if db == nil {
		return nil, errors.New("cormstream: nil *sql.DB")
	}
	d, ok := dialect.Get(dialectName)
	if !ok {
		return nil, errors.New("cormstream: unsupported dialect: " + dialectName)
	}

	e := &Engine{
		db:      db,
		dialect: d,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	switch {
	case e.configurator != nil:
	case e.cfg.DisableStreaming:
		e.configurator = streaming.NoOp{}
	default:
		e.configurator = d.Streaming()
	}
	e.executor = streaming.NewExecutor(d.Name(), dialect.Cursors(d))
	e.logger = e.logger.With(zap.String("dialect", d.Name()))

	if e.cfg.MaxOpenConns > 0 {
		e.db.SetMaxOpenConns(e.cfg.MaxOpenConns)
	}
	if e.cfg.MaxIdleConns > 0 {
		e.db.SetMaxIdleConns(e.cfg.MaxIdleConns)
	}
	if e.cfg.ConnMaxLifetime > 0 {
		e.db.SetConnMaxLifetime(e.cfg.ConnMaxLifetime)
	}

	e.logger.Debug("engine ready", zap.Stringer("configurator", e.configurator))
	return e, nil
}

// DB returns the underlying sql.DB.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Dialect returns the database dialect.
func (e *Engine) Dialect() dialect.Dialect {
	return e.dialect
}

// Configurator returns the streaming configurator selected for the Engine.
func (e *Engine) Configurator() streaming.Configurator {
	return e.configurator
}

// Close closes the database connection.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Ping verifies a connection to the database is still alive.
func (e *Engine) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

// Stats returns the connection pool statistics.
func (e *Engine) Stats() sql.DBStats {
	return e.db.Stats()
}
