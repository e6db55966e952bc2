// Package database coordinates the optional miner stores: PostgreSQL for
// the share log, Redis for live stats and InfluxDB for time series.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bardlex/gominer/internal/database/influx"
	"github.com/bardlex/gominer/internal/database/postgres"
	"github.com/bardlex/gominer/internal/database/redis"
	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/report"
	"github.com/bardlex/gominer/pkg/circuit"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
	"github.com/bardlex/gominer/pkg/retry"
)

// Manager coordinates writes across whichever stores are configured. It
// implements report.StatsSink and report.ShareSink.
type Manager struct {
	Postgres *postgres.Client
	Redis    *redis.Client
	Influx   *influx.Client

	Shares *postgres.ShareRepository

	pgBreaker    *circuit.Breaker
	redisBreaker *circuit.Breaker
	retryConfig  *retry.Config
	logger       *log.Logger
}

// Config holds configuration for the stores. A nil entry disables that
// store.
type Config struct {
	Postgres *postgres.Config
	Redis    *redis.Config
	Influx   *influx.Config
}

// Enabled reports whether any store is configured.
func (c *Config) Enabled() bool {
	return c != nil && (c.Postgres != nil || c.Redis != nil || c.Influx != nil)
}

// NewManager connects to every configured store. If any connection fails
// the ones already opened are closed.
func NewManager(ctx context.Context, cfg *Config, logger *log.Logger) (*Manager, error) {
	m := &Manager{
		retryConfig: retry.SinkConfig(),
		logger:      logger.WithComponent("database"),
	}

	if cfg.Postgres != nil {
		pg, err := postgres.NewClient(ctx, cfg.Postgres)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeDatabase, "postgres_connection",
				"failed to connect to PostgreSQL database")
		}
		m.Postgres = pg
		m.Shares = postgres.NewShareRepository(pg.DB())
		m.pgBreaker = circuit.New(breakerConfig("postgres"))
	}

	if cfg.Redis != nil {
		rc, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_connection",
				"failed to connect to Redis database")
			return nil, m.closeAfter(origErr)
		}
		m.Redis = rc
		m.redisBreaker = circuit.New(breakerConfig("redis"))
	}

	if cfg.Influx != nil {
		ic, err := influx.NewClient(ctx, cfg.Influx)
		if err != nil {
			origErr := errors.Wrap(err, errors.ErrorTypeDatabase, "influx_connection",
				"failed to connect to InfluxDB database")
			return nil, m.closeAfter(origErr)
		}
		m.Influx = ic
	}

	return m, nil
}

func breakerConfig(name string) *circuit.Config {
	return &circuit.Config{
		Name:            name,
		MaxFailures:     3,
		SuccessRequired: 2,
		Timeout:         30 * time.Second,
		ResetTimeout:    60 * time.Second,
	}
}

func (m *Manager) closeAfter(origErr *errors.ServiceError) error {
	if closeErr := m.Close(); closeErr != nil {
		return origErr.WithContext("cleanup_error", closeErr.Error())
	}
	return origErr
}

// Close closes all open connections
func (m *Manager) Close() error {
	var errs []error

	if m.Postgres != nil {
		if err := m.Postgres.Close(); err != nil {
			errs = append(errs, fmt.Errorf("PostgreSQL close error: %w", err))
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if m.Influx != nil {
		m.Influx.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("database close errors: %v", errs)
	}

	return nil
}

// Health checks every open connection
func (m *Manager) Health(ctx context.Context) error {
	if m.Postgres != nil {
		if err := m.Postgres.Health(ctx); err != nil {
			return fmt.Errorf("PostgreSQL health check failed: %w", err)
		}
	}

	if m.Redis != nil {
		if err := m.Redis.Health(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}

	if m.Influx != nil {
		if err := m.Influx.Health(ctx); err != nil {
			return fmt.Errorf("InfluxDB health check failed: %w", err)
		}
	}

	return nil
}

// WriteStats records a stats snapshot. InfluxDB writes are asynchronous;
// the Redis snapshot goes through the breaker and retry policy.
func (m *Manager) WriteStats(ctx context.Context, stats miner.Stats) error {
	if m.Influx != nil {
		_ = m.Influx.WriteStats(ctx, stats)
	}

	if m.Redis == nil {
		return nil
	}
	return m.redisBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Redis.WriteStats(ctx, stats); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "redis_stats",
					"failed to write stats snapshot to Redis").
					WithContext("hashrate", stats.Hashrate)
			}
			return nil
		})
	})
}

// WriteShare records a share. PostgreSQL is the durable record and is
// retried; the Redis counter and InfluxDB point are best effort.
func (m *Manager) WriteShare(ctx context.Context, share report.ShareRecord) error {
	if m.Influx != nil {
		_ = m.Influx.WriteShare(ctx, share)
	}

	if m.Redis != nil {
		err := m.redisBreaker.Execute(ctx, func() error {
			return m.Redis.WriteShare(ctx, share)
		})
		if err != nil {
			redisErr := errors.Wrap(err, errors.ErrorTypeDatabase, "redis_share_counter",
				"failed to update share counter in Redis (non-critical)")
			redisErr.Retryable = false
			m.logger.WithError(redisErr).Warn("share counter not updated")
		}
	}

	if m.Shares == nil {
		return nil
	}
	return m.pgBreaker.Execute(ctx, func() error {
		return retry.Do(ctx, m.retryConfig, func() error {
			if err := m.Shares.CreateShare(ctx, postgres.ShareFromRecord(share)); err != nil {
				return errors.Wrap(err, errors.ErrorTypeDatabase, "record_share",
					"failed to store share in PostgreSQL").
					WithContext("job_id", share.JobID).
					WithContext("nonce", share.Nonce).
					WithContext("status", string(share.Status))
			}
			return nil
		})
	})
}

// HashrateHistory returns recent hashrate samples from InfluxDB.
func (m *Manager) HashrateHistory(ctx context.Context, window time.Duration) ([]influx.HashratePoint, error) {
	if m.Influx == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "influx_disabled", "InfluxDB is not configured")
	}
	return m.Influx.HashrateHistory(ctx, window)
}

// RecentShares returns the newest stored shares.
func (m *Manager) RecentShares(ctx context.Context, limit int) ([]*postgres.Share, error) {
	if m.Shares == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "postgres_disabled", "PostgreSQL is not configured")
	}
	return m.Shares.RecentShares(ctx, limit, 0)
}

// StartPeriodicTasks flushes InfluxDB and logs its asynchronous write
// errors until ctx is done.
func (m *Manager) StartPeriodicTasks(ctx context.Context) {
	if m.Influx == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Influx.Flush()
			}
		}
	}()

	go func() {
		errs := m.Influx.Errors()
		for {
			select {
			case <-ctx.Done():
				return
			case err, ok := <-errs:
				if !ok {
					return
				}
				m.logger.WithError(err).Warn("InfluxDB write failed")
			}
		}
	}()
}
