// Package store provides named database connections and dialect handling
// for the replication engine. Stores are declared in configuration, opened
// lazily through database/sql and cached for the life of the provider.
//
// Supported drivers: postgres (pgx), mysql, sqlite (modernc, no cgo) and
// snowflake. Each store carries a Dialect so callers can build queries
// without knowing which driver is underneath.
package store

import (
	"context"
	"database/sql"
	"sync"

	"go.uber.org/zap"

	// Database drivers registered with database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/snowflakedb/gosnowflake"
	_ "modernc.org/sqlite"

	"github.com/hashicorp/go-multierror"

	"github.com/tablemirror/tablemirror/pkg/config"
	"github.com/tablemirror/tablemirror/pkg/errors"
	"github.com/tablemirror/tablemirror/pkg/logger"
)

// driverNames maps configured driver ids to registered database/sql drivers.
var driverNames = map[string]string{
	"postgres":  "pgx",
	"mysql":     "mysql",
	"sqlite":    "sqlite",
	"snowflake": "snowflake",
}

// Store is an open, pooled connection to one named data store.
type Store struct {
	// ID is the configured store id
	ID string
	// DB is the pooled connection handle
	DB *sql.DB
	// Dialect handles driver-specific SQL syntax
	Dialect Dialect
}

// Provider resolves store ids to open Store handles. Opening is lazy and
// the handle is cached; concurrent Get calls are safe.
type Provider struct {
	mu     sync.Mutex
	cfgs   map[string]config.StoreConfig
	stores map[string]*Store
	logger *zap.Logger
}

// NewProvider creates a Provider over the configured stores. Driver names
// are checked up front so a typo fails at startup, not mid-cycle.
func NewProvider(cfgs map[string]config.StoreConfig) (*Provider, error) {
	for id, cfg := range cfgs {
		if _, ok := driverNames[cfg.Driver]; !ok {
			return nil, errors.Newf(errors.ErrorTypeConfig, "store %q: unsupported driver %q", id, cfg.Driver)
		}
	}
	return &Provider{
		cfgs:   cfgs,
		stores: make(map[string]*Store),
		logger: logger.Get().With(zap.String("component", "store_provider")),
	}, nil
}

// Get returns the open Store for id, opening and pinging it on first use.
func (p *Provider) Get(ctx context.Context, id string) (*Store, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if s, ok := p.stores[id]; ok {
		return s, nil
	}

	cfg, ok := p.cfgs[id]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "unknown store %q", id)
	}

	db, err := sql.Open(driverNames[cfg.Driver], cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to open store").
			WithDetail("store", id).
			WithDetail("driver", cfg.Driver)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping store").
			WithDetail("store", id).
			WithDetail("driver", cfg.Driver)
	}

	s := &Store{
		ID:      id,
		DB:      db,
		Dialect: dialectFor(cfg.Driver),
	}
	p.stores[id] = s

	p.logger.Info("opened store",
		zap.String("store", id),
		zap.String("driver", cfg.Driver))

	return s, nil
}

// Health pings every configured store, opening any not yet open.
// All failures are aggregated into one error.
func (p *Provider) Health(ctx context.Context) error {
	var result *multierror.Error
	for id := range p.cfgs {
		if _, err := p.Get(ctx, id); err != nil {
			result = multierror.Append(result, err)
			continue
		}
		p.mu.Lock()
		s := p.stores[id]
		p.mu.Unlock()
		if err := s.DB.PingContext(ctx); err != nil {
			result = multierror.Append(result,
				errors.Wrap(err, errors.ErrorTypeConnection, "store unhealthy").WithDetail("store", id))
		}
	}
	return result.ErrorOrNil()
}

// Close closes every open store handle.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for id, s := range p.stores {
		if err := s.DB.Close(); err != nil {
			result = multierror.Append(result, errors.Wrap(err, errors.ErrorTypeConnection, "failed to close store").WithDetail("store", id))
		}
		delete(p.stores, id)
	}
	return result.ErrorOrNil()
}
