// Package report fans mining statistics and share events out to optional
// sinks: the log, time-series storage, caches and message buses.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/pow"
	"github.com/bardlex/gominer/pkg/log"
)

// ShareStatus describes what happened to a share the engine found.
type ShareStatus string

const (
	// ShareSubmitted means the share passed local checks and was sent to the pool.
	ShareSubmitted ShareStatus = "submitted"
	// ShareInvalid means local validation rejected the share.
	ShareInvalid ShareStatus = "invalid"
	// ShareDuplicate means the same job and nonce were already submitted.
	ShareDuplicate ShareStatus = "duplicate"
	// ShareUnsent means the pool connection refused the submit.
	ShareUnsent ShareStatus = "unsent"
)

// ShareRecord is the sink-facing view of a share.
type ShareRecord struct {
	JobID     string
	Worker    int
	Nonce     string
	Hash      string
	Status    ShareStatus
	Reason    string
	Pool      string
	Wallet    string
	FoundAt   time.Time
	Algorithm string
}

// NewShareRecord builds a record from an engine share.
func NewShareRecord(share *miner.Share, status ShareStatus, reason string) ShareRecord {
	return ShareRecord{
		JobID:   share.JobID,
		Worker:  share.Worker,
		Nonce:   pow.EncodeNonce(share.Nonce),
		Hash:    pow.BytesToHex(share.Hash[:]),
		Status:  status,
		Reason:  reason,
		FoundAt: share.FoundAt,
	}
}

// StatsSink receives periodic stats snapshots.
type StatsSink interface {
	WriteStats(ctx context.Context, stats miner.Stats) error
}

// ShareSink receives share events.
type ShareSink interface {
	WriteShare(ctx context.Context, share ShareRecord) error
}

// Fanout forwards to every registered sink. A failing sink does not stop
// delivery to the others.
type Fanout struct {
	stats  []StatsSink
	shares []ShareSink
}

// NewFanout returns an empty fanout.
func NewFanout() *Fanout {
	return &Fanout{}
}

// AddStats registers a stats sink. Nil sinks are ignored.
func (f *Fanout) AddStats(sink StatsSink) *Fanout {
	if sink != nil {
		f.stats = append(f.stats, sink)
	}
	return f
}

// AddShares registers a share sink. Nil sinks are ignored.
func (f *Fanout) AddShares(sink ShareSink) *Fanout {
	if sink != nil {
		f.shares = append(f.shares, sink)
	}
	return f
}

// Len returns the number of stats and share sinks.
func (f *Fanout) Len() (stats, shares int) {
	return len(f.stats), len(f.shares)
}

// WriteStats implements StatsSink.
func (f *Fanout) WriteStats(ctx context.Context, stats miner.Stats) error {
	var errs []error
	for _, sink := range f.stats {
		if err := sink.WriteStats(ctx, stats); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}

// WriteShare implements ShareSink.
func (f *Fanout) WriteShare(ctx context.Context, share ShareRecord) error {
	var errs []error
	for _, sink := range f.shares {
		if err := sink.WriteShare(ctx, share); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", sink, err))
		}
	}
	return errors.Join(errs...)
}

// LogSink writes stats and shares to the structured log.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink returns a sink logging through logger.
func NewLogSink(logger *log.Logger) *LogSink {
	return &LogSink{logger: logger.WithComponent("report")}
}

// WriteStats logs one [STATS] line per snapshot.
func (s *LogSink) WriteStats(_ context.Context, stats miner.Stats) error {
	attrs := []any{
		"hashrate", stats.Hashrate,
		"total_hashes", stats.TotalHashes,
		"accepted", stats.Accepted,
		"rejected", stats.Rejected,
		"uptime_s", int64(stats.Uptime.Seconds()),
		"connected", stats.Connected,
		"threads", stats.Threads,
	}
	if stats.CPUTemp != nil {
		attrs = append(attrs, "cpu_temp", *stats.CPUTemp)
	}
	if stats.CPUUsage != nil {
		attrs = append(attrs, "cpu_usage", *stats.CPUUsage)
	}
	s.logger.Info(FormatStats(stats), attrs...)
	return nil
}

// WriteShare logs the share outcome.
func (s *LogSink) WriteShare(_ context.Context, share ShareRecord) error {
	logger := s.logger.WithJob(share.JobID)
	if share.Status == ShareSubmitted {
		logger.LogShareSubmission(share.JobID, share.Nonce, string(share.Status))
		return nil
	}
	logger.Warn("share not submitted",
		"status", share.Status,
		"reason", share.Reason,
		"nonce", share.Nonce,
		"worker", share.Worker,
	)
	return nil
}

// LineSink writes "[STATS]|<hashrate>|<accepted>" lines for host processes
// that scrape the miner's stdout.
type LineSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewLineSink writes to w.
func NewLineSink(w io.Writer) *LineSink {
	return &LineSink{w: w}
}

// WriteStats implements StatsSink.
func (s *LineSink) WriteStats(_ context.Context, stats miner.Stats) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "[STATS]|%.2f|%d\n", stats.Hashrate, stats.Accepted)
	return err
}

// FormatStats renders the human readable stats line.
func FormatStats(stats miner.Stats) string {
	return fmt.Sprintf("[STATS] Hashrate: %s | Accepted: %d | Rejected: %d | Uptime: %s",
		FormatHashrate(stats.Hashrate), stats.Accepted, stats.Rejected,
		stats.Uptime.Truncate(time.Second))
}

// FormatHashrate scales a hashes-per-second value to the largest whole unit.
func FormatHashrate(hps float64) string {
	units := []string{"H/s", "KH/s", "MH/s", "GH/s", "TH/s"}
	i := 0
	for hps >= 1000 && i < len(units)-1 {
		hps /= 1000
		i++
	}
	return fmt.Sprintf("%.2f %s", hps, units[i])
}

// ShareCounts is the accepted/rejected pair reported to hosts.
type ShareCounts struct {
	Accepted uint64 `json:"accepted"`
	Rejected uint64 `json:"rejected"`
}

// Snapshot is the JSON shape of a stats report. Uptime is in seconds and
// the CPU readings are omitted when unavailable.
type Snapshot struct {
	Hashrate  float64     `json:"hashrate"`
	Shares    ShareCounts `json:"shares"`
	Uptime    float64     `json:"uptime"`
	Connected bool        `json:"connected"`
	Running   bool        `json:"running"`
	Threads   int         `json:"threads"`
	CPUTemp   *float64    `json:"cpuTemp,omitempty"`
	CPUUsage  *float64    `json:"cpuUsage,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// NewSnapshot converts engine stats taken at the given time.
func NewSnapshot(stats miner.Stats, at time.Time) Snapshot {
	return Snapshot{
		Hashrate:  stats.Hashrate,
		Shares:    ShareCounts{Accepted: stats.Accepted, Rejected: stats.Rejected},
		Uptime:    stats.Uptime.Seconds(),
		Connected: stats.Connected,
		Running:   stats.Running,
		Threads:   stats.Threads,
		CPUTemp:   stats.CPUTemp,
		CPUUsage:  stats.CPUUsage,
		Timestamp: at.Unix(),
	}
}
