// Package session wires one mining run together: the pool connection, the
// worker pool, local share checks and the report sinks. A Session is the
// surface an embedding host drives through Start, Stop and Stats.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gominer/internal/miner"
	"github.com/bardlex/gominer/internal/pow"
	"github.com/bardlex/gominer/internal/report"
	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/internal/telemetry"
	"github.com/bardlex/gominer/internal/validation"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

const (
	seenShares  = 4096
	shareMaxAge = time.Minute
	sinkTimeout = 5 * time.Second
)

// Result reports the outcome of Start.
type Result struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Option customizes a Session.
type Option func(*Session)

// WithStatsSink adds a sink that receives a snapshot every stats interval.
func WithStatsSink(sink report.StatsSink) Option {
	return func(s *Session) { s.statsSinks.AddStats(sink) }
}

// WithShareSink adds a sink that receives every share the workers find.
func WithShareSink(sink report.ShareSink) Option {
	return func(s *Session) { s.shareSinks.AddShares(sink) }
}

// WithTelemetry sets the source of CPU readings included in Stats.
func WithTelemetry(src telemetry.Source) Option {
	return func(s *Session) { s.telemetry = src }
}

// Session owns at most one active run at a time.
type Session struct {
	logger     *log.Logger
	statsSinks *report.Fanout
	shareSinks *report.Fanout
	telemetry  telemetry.Source

	// mu serializes Start and Stop.
	mu      sync.Mutex
	current atomic.Pointer[run]
}

type run struct {
	cfg       Config
	client    *stratum.Client
	engine    *miner.Engine
	validator *validation.ShareValidator
	seen      *lru.Cache[string, struct{}]
	shares    chan miner.Share
	dropped   atomic.Uint64

	cancel  context.CancelFunc
	group   *errgroup.Group
	stopped bool
}

// New creates an idle session.
func New(logger *log.Logger, opts ...Option) *Session {
	s := &Session{
		logger:     logger.WithComponent("session"),
		statsSinks: report.NewFanout(),
		shareSinks: report.NewFanout(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start stops any active run, connects to the pool, subscribes, authorizes
// and starts mining. ctx bounds connection setup only; the run lasts until
// Stop.
func (s *Session) Start(ctx context.Context, cfg Config) Result {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Result{Error: err.Error()}
	}
	host, port, err := ParsePoolURL(cfg.PoolURL)
	if err != nil {
		return Result{Error: err.Error()}
	}
	hasher, err := pow.NewHasher(cfg.Algorithm)
	if err != nil {
		return Result{Error: errors.Wrap(err, errors.ErrorTypeConfig, "start", "invalid algorithm").Error()}
	}
	minerCfg := miner.Config{NumThreads: cfg.NumThreads, Intensity: cfg.Intensity}
	if err := minerCfg.Validate(); err != nil {
		return Result{Error: errors.Wrap(err, errors.ErrorTypeConfig, "start", "invalid miner config").Error()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()

	r, err := s.newRun(cfg, hasher)
	if err != nil {
		return Result{Error: err.Error()}
	}

	logger := s.logger.WithFields("pool", cfg.PoolURL)
	if err := r.client.Connect(ctx, host, port); err != nil {
		logger.WithError(err).Error("failed to connect to pool")
		return Result{Error: err.Error()}
	}
	if !r.client.Subscribe(cfg.UserAgent) || !r.client.Login(cfg.WalletAddress, cfg.Password) {
		r.client.Disconnect()
		err := errors.New(errors.ErrorTypeConnection, "start", "failed to send handshake to pool")
		logger.WithError(err).Error("pool handshake failed")
		return Result{Error: err.Error()}
	}

	if err := r.engine.Start(minerCfg); err != nil {
		r.client.Disconnect()
		return Result{Error: err.Error()}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.group = new(errgroup.Group)
	r.group.Go(func() error { return s.drive(runCtx, r) })
	r.group.Go(func() error { return s.submitShares(runCtx, r) })
	r.group.Go(func() error { return s.reportStats(runCtx, r) })

	s.current.Store(r)
	logger.Info("mining session started",
		"wallet", cfg.WalletAddress,
		"threads", cfg.NumThreads,
		"algorithm", hasher.Name(),
	)
	return Result{Success: true}
}

func (s *Session) newRun(cfg Config, hasher pow.Hasher) (*run, error) {
	validator, err := validation.NewShareValidator(hasher, validation.DefaultJobHistory, shareMaxAge)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "start", "failed to create share validator")
	}
	seen, err := lru.New[string, struct{}](seenShares)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "start", "failed to create share cache")
	}

	r := &run{
		cfg: cfg,
		client: stratum.NewClient(stratum.ClientConfig{
			DialTimeout:       cfg.DialTimeout,
			WriteTimeout:      cfg.WriteTimeout,
			UsePoolDifficulty: cfg.UsePoolDifficulty,
		}, s.logger),
		engine:    miner.NewEngine(hasher, s.logger),
		validator: validator,
		seen:      seen,
		shares:    make(chan miner.Share, cfg.ShareQueueSize),
	}

	r.client.OnJob(func(job *stratum.Job) {
		r.validator.TrackJob(job)
		r.engine.SetJob(job)
	})
	r.client.OnResult(func(res stratum.Result) {
		if res.Kind == stratum.ResultRejected && res.ID == stratum.SubmitID {
			r.engine.RecordRejected()
		}
	})
	r.engine.SetShareCallback(func(share miner.Share) {
		select {
		case r.shares <- share:
		default:
			if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
				s.logger.Warn("share queue full, dropping share",
					"job_id", share.JobID,
					"dropped_total", n,
				)
			}
		}
	})
	return r, nil
}

// Stop halts the workers, closes the connection and waits for the run's
// goroutines. Stats keep reporting the final counters afterwards.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Session) stopLocked() {
	r := s.current.Load()
	if r == nil || r.stopped {
		return
	}
	r.engine.Stop()
	r.client.Disconnect()
	r.cancel()
	_ = r.group.Wait()
	r.stopped = true

	st := s.Stats()
	s.writeStats(st)
	s.logger.Info("mining session stopped",
		"total_hashes", st.TotalHashes,
		"accepted", st.Accepted,
		"rejected", st.Rejected,
		"uptime", st.Uptime.Truncate(time.Millisecond).String(),
	)
}

// Running reports whether a run is active.
func (s *Session) Running() bool {
	r := s.current.Load()
	return r != nil && r.engine.Running()
}

// Stats returns the current counters. Before the first Start everything is
// zero and Connected is false.
func (s *Session) Stats() miner.Stats {
	var st miner.Stats
	if r := s.current.Load(); r != nil {
		st = r.engine.Stats()
		st.Connected = r.client.IsConnected()
	}
	if s.telemetry != nil {
		reading := s.telemetry.Read()
		st.CPUTemp = reading.CPUTemp
		st.CPUUsage = reading.CPUUsage
	}
	return st
}

// drive dispatches pool traffic. Losing the connection does not stop the
// workers; they keep hashing the last job until Stop.
func (s *Session) drive(ctx context.Context, r *run) error {
	err := r.client.Run(ctx)
	if err == nil && ctx.Err() == nil {
		s.logger.Warn("pool connection lost, mining continues on the last job")
	}
	return nil
}

func (s *Session) submitShares(ctx context.Context, r *run) error {
	for {
		select {
		case <-ctx.Done():
			s.drainShares(r)
			return nil
		case share := <-r.shares:
			s.handleShare(r, share)
		}
	}
}

// drainShares records shares still queued at shutdown without submitting.
func (s *Session) drainShares(r *run) {
	for {
		select {
		case share := <-r.shares:
			s.publishShare(r, &share, report.ShareUnsent, "session stopped")
		default:
			return
		}
	}
}

func (s *Session) handleShare(r *run, share miner.Share) {
	key := share.JobID + ":" + pow.EncodeNonce(share.Nonce)
	if seen, _ := r.seen.ContainsOrAdd(key, struct{}{}); seen {
		s.publishShare(r, &share, report.ShareDuplicate, "already submitted")
		return
	}

	if err := r.validator.ValidateShare(&share); err != nil {
		s.logger.WithJob(share.JobID).WithError(err).Warn("share failed local validation")
		s.publishShare(r, &share, report.ShareInvalid, err.Error())
		return
	}

	s.logger.LogShareFound(share.Worker, share.JobID, share.Nonce, pow.BytesToHex(share.Hash[:]))
	if !r.client.Submit(share.JobID, share.NTime, share.Nonce, share.ExtraNonce2) {
		s.publishShare(r, &share, report.ShareUnsent, "not connected")
		return
	}
	s.publishShare(r, &share, report.ShareSubmitted, "")
}

func (s *Session) publishShare(r *run, share *miner.Share, status report.ShareStatus, reason string) {
	rec := report.NewShareRecord(share, status, reason)
	rec.Pool = r.cfg.PoolURL
	rec.Wallet = r.cfg.WalletAddress
	rec.Algorithm = r.cfg.Algorithm

	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.shareSinks.WriteShare(ctx, rec); err != nil {
		s.logger.WithError(err).Warn("share sink write failed", "job_id", rec.JobID)
	}
}

func (s *Session) reportStats(ctx context.Context, r *run) error {
	ticker := time.NewTicker(r.cfg.StatsInterval)
	defer ticker.Stop()

	var (
		lastHashes uint64
		lastAt     = time.Now()
	)
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			st := s.Stats()
			s.logger.LogThroughput("hashing", st.TotalHashes-lastHashes, now.Sub(lastAt))
			lastHashes, lastAt = st.TotalHashes, now
			s.writeStats(st)
		}
	}
}

func (s *Session) writeStats(st miner.Stats) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()
	if err := s.statsSinks.WriteStats(ctx, st); err != nil {
		s.logger.WithError(err).Warn("stats sink write failed")
	}
}
