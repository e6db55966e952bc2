// Package influx writes miner hashrate and share measurements to InfluxDB
// and reads hashrate history back for dashboards.
package influx

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/report"
)

const (
	measurementStats  = "miner_stats"
	measurementShares = "shares"
)

// Client wraps InfluxDB operations for miner time series
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	queryAPI api.QueryAPI
	bucket   string
	tags     map[string]string
}

// Config holds InfluxDB connection configuration
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
	// Tags are attached to every point, typically host and wallet.
	Tags map[string]string
}

// NewClient creates a new InfluxDB client and checks the server is healthy
func NewClient(ctx context.Context, cfg *Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		bucket:   cfg.Bucket,
		tags:     cfg.Tags,
	}
	if err := c.Health(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return c, nil
}

// Close flushes pending points and closes the connection
func (c *Client) Close() {
	c.writeAPI.Flush()
	c.client.Close()
}

// Health checks InfluxDB connectivity
func (c *Client) Health(ctx context.Context) error {
	health, err := c.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("failed to check InfluxDB health: %w", err)
	}

	if health.Status != "pass" {
		msg := ""
		if health.Message != nil {
			msg = *health.Message
		}
		return fmt.Errorf("InfluxDB health check failed: %s", msg)
	}

	return nil
}

// Errors exposes asynchronous write failures
func (c *Client) Errors() <-chan error {
	return c.writeAPI.Errors()
}

// WriteStats implements report.StatsSink. Points are batched by the client
// and written asynchronously.
func (c *Client) WriteStats(_ context.Context, stats miner.Stats) error {
	c.writeAPI.WritePoint(StatsPoint(stats, c.tags, time.Now()))
	return nil
}

// WriteShare implements report.ShareSink.
func (c *Client) WriteShare(_ context.Context, share report.ShareRecord) error {
	c.writeAPI.WritePoint(SharePoint(share, c.tags))
	return nil
}

// StatsPoint builds the stats measurement.
func StatsPoint(stats miner.Stats, tags map[string]string, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"hashrate":     stats.Hashrate,
		"total_hashes": stats.TotalHashes,
		"accepted":     stats.Accepted,
		"rejected":     stats.Rejected,
		"uptime_s":     stats.Uptime.Seconds(),
		"threads":      stats.Threads,
		"connected":    stats.Connected,
	}
	if stats.CPUTemp != nil {
		fields["cpu_temp"] = *stats.CPUTemp
	}
	if stats.CPUUsage != nil {
		fields["cpu_usage"] = *stats.CPUUsage
	}
	return write.NewPoint(measurementStats, copyTags(tags), fields, at)
}

// SharePoint builds the share measurement. The point is timestamped with
// the time the share was found.
func SharePoint(share report.ShareRecord, tags map[string]string) *write.Point {
	t := copyTags(tags)
	t["status"] = string(share.Status)
	t["worker"] = fmt.Sprintf("%d", share.Worker)

	fields := map[string]interface{}{
		"job_id": share.JobID,
		"nonce":  share.Nonce,
		"hash":   share.Hash,
		"count":  1,
	}
	at := share.FoundAt
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(measurementShares, t, fields, at)
}

func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags)+2)
	for k, v := range tags {
		out[k] = v
	}
	return out
}

// HashrateHistory returns the mean hashrate in 1 minute windows over the
// given duration.
func (c *Client) HashrateHistory(ctx context.Context, duration time.Duration) ([]HashratePoint, error) {
	result, err := c.queryAPI.Query(ctx, hashrateQuery(c.bucket, duration))
	if err != nil {
		return nil, fmt.Errorf("failed to query hashrate history: %w", err)
	}
	defer func() { _ = result.Close() }()

	var points []HashratePoint
	for result.Next() {
		record := result.Record()
		if value, ok := record.Value().(float64); ok {
			points = append(points, HashratePoint{
				Time:     record.Time(),
				Hashrate: value,
			})
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("error reading query result: %w", result.Err())
	}

	return points, nil
}

func hashrateQuery(bucket string, duration time.Duration) string {
	return fmt.Sprintf(`
		from(bucket: "%s")
		|> range(start: -%s)
		|> filter(fn: (r) => r._measurement == "%s")
		|> filter(fn: (r) => r._field == "hashrate")
		|> aggregateWindow(every: 1m, fn: mean, createEmpty: false)
	`, bucket, duration.String(), measurementStats)
}

// Flush forces a write of all pending points
func (c *Client) Flush() {
	c.writeAPI.Flush()
}

// HashratePoint represents a hashrate measurement at a point in time
type HashratePoint struct {
	Time     time.Time `json:"time"`
	Hashrate float64   `json:"hashrate"`
}
