// Package redis keeps the latest miner stats snapshot, a short hashrate
// window and share counters in Redis for dashboards.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/report"
)

// Client wraps Redis operations for one miner
type Client struct {
	rdb      *redis.Client
	keys     Keys
	statsTTL time.Duration
	window   time.Duration
	now      func() time.Time
}

// Config holds Redis connection configuration
type Config struct {
	// URL is a redis:// or rediss:// connection string.
	URL string
	// KeyPrefix namespaces every key, e.g. "gominer:<wallet>".
	KeyPrefix string
	// StatsTTL expires the snapshot when the miner stops reporting.
	StatsTTL time.Duration
	// HashrateWindow bounds the hashrate sorted set.
	HashrateWindow time.Duration
	DialTimeout    time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// NewClient creates a new Redis client and pings the server
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return newClient(rdb, cfg), nil
}

func newClient(rdb *redis.Client, cfg *Config) *Client {
	c := &Client{
		rdb:      rdb,
		keys:     NewKeys(cfg.KeyPrefix),
		statsTTL: cfg.StatsTTL,
		window:   cfg.HashrateWindow,
		now:      time.Now,
	}
	if c.statsTTL <= 0 {
		c.statsTTL = time.Minute
	}
	if c.window <= 0 {
		c.window = 10 * time.Minute
	}
	return c
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Keys names the Redis keys used for one miner.
type Keys struct {
	Stats    string
	Hashrate string
	Shares   string
}

// NewKeys derives the key set from a prefix.
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = "gominer"
	}
	prefix = strings.TrimSuffix(prefix, ":")
	return Keys{
		Stats:    prefix + ":stats",
		Hashrate: prefix + ":hashrate",
		Shares:   prefix + ":shares",
	}
}

// WriteStats implements report.StatsSink: it replaces the snapshot and
// appends the hashrate sample in one pipeline.
func (c *Client) WriteStats(ctx context.Context, stats miner.Stats) error {
	now := c.now()
	data, err := json.Marshal(report.NewSnapshot(stats, now))
	if err != nil {
		return fmt.Errorf("failed to marshal stats snapshot: %w", err)
	}

	ts := now.Unix()
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, c.keys.Stats, data, c.statsTTL)
	pipe.ZAdd(ctx, c.keys.Hashrate, redis.Z{
		Score:  float64(ts),
		Member: hashrateMember(ts, stats.Hashrate),
	})
	pipe.ZRemRangeByScore(ctx, c.keys.Hashrate, "0", strconv.FormatInt(ts-int64(c.window.Seconds()), 10))
	pipe.Expire(ctx, c.keys.Hashrate, c.window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write stats: %w", err)
	}
	return nil
}

// WriteShare implements report.ShareSink by counting shares per status.
func (c *Client) WriteShare(ctx context.Context, share report.ShareRecord) error {
	if err := c.rdb.HIncrBy(ctx, c.keys.Shares, string(share.Status), 1).Err(); err != nil {
		return fmt.Errorf("failed to increment share counter: %w", err)
	}
	return nil
}

// Snapshot returns the latest stats snapshot.
func (c *Client) Snapshot(ctx context.Context) (*report.Snapshot, error) {
	data, err := c.rdb.Get(ctx, c.keys.Stats).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, fmt.Errorf("no stats snapshot")
		}
		return nil, fmt.Errorf("failed to get stats snapshot: %w", err)
	}

	var snap report.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stats snapshot: %w", err)
	}
	return &snap, nil
}

// ShareCounts returns the per-status share counters.
func (c *Client) ShareCounts(ctx context.Context) (map[string]int64, error) {
	raw, err := c.rdb.HGetAll(ctx, c.keys.Shares).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get share counters: %w", err)
	}
	counts := make(map[string]int64, len(raw))
	for status, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		counts[status] = n
	}
	return counts, nil
}

// AverageHashrate averages the samples recorded within the window
func (c *Client) AverageHashrate(ctx context.Context, window time.Duration) (float64, error) {
	minScore := c.now().Add(-window).Unix()

	values, err := c.rdb.ZRangeByScore(ctx, c.keys.Hashrate, &redis.ZRangeBy{
		Min: strconv.FormatInt(minScore, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate values: %w", err)
	}

	return averageMembers(values), nil
}

// Sorted set members must be unique, so each sample carries its timestamp.
func hashrateMember(ts int64, hashrate float64) string {
	return strconv.FormatInt(ts, 10) + ":" + strconv.FormatFloat(hashrate, 'f', -1, 64)
}

func averageMembers(members []string) float64 {
	var (
		total float64
		n     int
	)
	for _, m := range members {
		_, v, ok := strings.Cut(m, ":")
		if !ok {
			continue
		}
		hashrate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		total += hashrate
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}
