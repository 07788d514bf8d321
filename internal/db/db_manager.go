package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"mokametrics-ingest/internal/config"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

type DBManager struct {
	pool         *pgxpool.Pool
	mu           sync.RWMutex
	shutdownChan chan struct{}
	wg           sync.WaitGroup
	logger       *zap.SugaredLogger
	shutdownOnce sync.Once
	pingInterval time.Duration
}

func NewDBManager(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) (*DBManager, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		return nil, err
	}

	// Disable prepared statements to avoid the "prepared statement already exists" error
	poolConfig.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	if cfg.DBCACert != "" {
		tlsConfig, err := cfg.CreatePostgresTLSConfig()
		if err != nil {
			return nil, err
		}
		poolConfig.ConnConfig.TLSConfig = tlsConfig
	}
	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}

	return &DBManager{
		pool:         pool,
		shutdownChan: make(chan struct{}),
		logger:       logger,
		pingInterval: 30 * time.Second,
	}, nil
}

func (d *DBManager) Pool() *pgxpool.Pool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pool
}

// StartAutoReconnect periodically pings the database so a broken pool shows
// up in the logs and in /ready before a message needs it.
func (d *DBManager) StartAutoReconnect(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(d.pingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-d.shutdownChan:
				d.logger.Info("auto-reconnect stopped: shutdown signal received")
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := d.Ping(ctx); err != nil {
					d.logger.Errorw("DB ping failed", "error", err)
				} else {
					d.logger.Debug("DB ping successful")
				}
			}
		}
	}()
}

// Shutdown gracefully stops the DBManager
func (d *DBManager) Shutdown() {
	d.shutdownOnce.Do(func() {
		d.logger.Info("initiating DBManager graceful shutdown...")

		close(d.shutdownChan)
		d.wg.Wait()

		d.mu.Lock()
		if d.pool != nil {
			d.pool.Close()
			d.logger.Info("database connection pool closed")
		}
		d.mu.Unlock()

		d.logger.Info("DBManager shutdown completed")
	})
}

// IsShuttingDown returns true if shutdown has been initiated
func (d *DBManager) IsShuttingDown() bool {
	select {
	case <-d.shutdownChan:
		return true
	default:
		return false
	}
}

// Ping fails once shutdown has begun so readiness drops before the pool
// closes.
func (d *DBManager) Ping(ctx context.Context) error {
	if d.IsShuttingDown() {
		return errors.New("database manager shutting down")
	}
	return d.Pool().Ping(ctx)
}
