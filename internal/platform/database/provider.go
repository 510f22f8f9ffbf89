package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/tiendaplus/api/internal/platform/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const defaultPingTimeout = 5 * time.Second

// ErrProviderClosed is returned once Close has been called.
var ErrProviderClosed = errors.New("database: provider is closed")

// Provider owns the shared gorm handle backed by the Postgres connection pool.
type Provider struct {
	cfg         config.DatabaseConfig
	pingTimeout time.Duration
	gormConfig  *gorm.Config
	dialector   gorm.Dialector

	mu     sync.Mutex
	db     *gorm.DB
	closed bool
}

// ProviderOption customises the Provider behaviour.
type ProviderOption func(*Provider)

// WithPingTimeout overrides the timeout used when verifying connectivity.
func WithPingTimeout(timeout time.Duration) ProviderOption {
	return func(p *Provider) {
		if timeout > 0 {
			p.pingTimeout = timeout
		}
	}
}

// WithGormLogger replaces the gorm logger, e.g. with a zap-backed adapter.
func WithGormLogger(logger gormlogger.Interface) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.gormConfig.Logger = logger
		}
	}
}

// WithDialector swaps the Postgres dialector. Tests use it to point at an existing *sql.DB.
func WithDialector(dialector gorm.Dialector) ProviderOption {
	return func(p *Provider) {
		p.dialector = dialector
	}
}

// NewProvider constructs a Provider using the supplied configuration.
func NewProvider(cfg config.DatabaseConfig, opts ...ProviderOption) *Provider {
	provider := &Provider{
		cfg:         cfg,
		pingTimeout: defaultPingTimeout,
		gormConfig: &gorm.Config{
			Logger:                                   gormlogger.Default.LogMode(gormlogger.Warn),
			NowFunc: func() time.Time {
				return time.Now().UTC()
			},
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// DB returns the lazily opened gorm handle bound to ctx.
func (p *Provider) DB(ctx context.Context) (*gorm.DB, error) {
	if ctx == nil {
		return nil, errors.New("database: context is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrProviderClosed
	}
	if p.db == nil {
		db, err := p.open(ctx)
		if err != nil {
			return nil, err
		}
		p.db = db
	}
	return p.db.WithContext(ctx), nil
}

func (p *Provider) open(ctx context.Context) (*gorm.DB, error) {
	dialector := p.dialector
	if dialector == nil {
		dsn := strings.TrimSpace(p.cfg.DSN)
		if dsn == "" {
			return nil, errors.New("database: dsn is required")
		}
		dialector = postgres.Open(dsn)
	}

	db, err := gorm.Open(dialector, p.gormConfig)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database: get sql.DB: %w", err)
	}
	if p.cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(p.cfg.MaxOpenConns)
	}
	if p.cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(p.cfg.MaxIdleConns)
	}
	if p.cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(p.cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, p.pingTimeout)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, WrapError("database.ping", err)
	}
	return db, nil
}

// Ping verifies connectivity. It backs the readiness probe.
func (p *Provider) Ping(ctx context.Context) error {
	db, err := p.DB(ctx)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return WrapError("database.ping", sqlDB.PingContext(ctx))
}

// Close releases the connection pool. The Provider cannot be reused afterwards.
func (p *Provider) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	if p.db == nil {
		return nil
	}
	sqlDB, err := p.db.DB()
	p.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
