package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

var errDSNRequired = errors.New("database DSN is required")

// Client owns the gorm handle every donation repository shares and the
// *sql.DB pool underneath it.
type Client struct {
	conn *gorm.DB
	pool *sql.DB
}

// New opens and pings the Postgres pool described by cfg.
func New(ctx context.Context, cfg config.DBConfig, logg *logger.Logger) (*Client, error) {
	if cfg.DSN == "" {
		return nil, errDSNRequired
	}

	dialector := postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true})
	conn, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newQueryLogger(logg, cfg.SlowQuery),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening db connection: %w", err)
	}

	client, err := wrap(conn)
	if err != nil {
		return nil, err
	}
	sizePool(client.pool, cfg)
	if err := client.Ping(ctx); err != nil {
		_ = client.pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "max_open_conns", cfg.MaxOpenConns), "database connection established")
	}
	return client, nil
}

// FromGorm wraps an already opened connection, e.g. an in-memory sqlite
// handle in tests. It panics if conn has no *sql.DB underneath.
func FromGorm(conn *gorm.DB) *Client {
	client, err := wrap(conn)
	if err != nil {
		panic(err)
	}
	return client
}

func wrap(conn *gorm.DB) (*Client, error) {
	pool, err := conn.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql db handle: %w", err)
	}
	return &Client{conn: conn, pool: pool}, nil
}

func sizePool(pool *sql.DB, cfg config.DBConfig) {
	if cfg.MaxOpenConns > 0 {
		pool.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		pool.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	pool.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	pool.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
}

func (c *Client) DB() *gorm.DB { return c.conn }

// SQL exposes the pool for goose and the pool stats collector.
func (c *Client) SQL() *sql.DB { return c.pool }

// Ping backs /health/ready.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.pool.Close()
}

// WithTx runs fn in one transaction; an error or panic from fn rolls it back.
func (c *Client) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return c.conn.WithContext(ctx).Transaction(fn)
}
