package miner

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/bardlex/gominer/internal/pow"
	"github.com/bardlex/gominer/internal/stratum"
	"github.com/bardlex/gominer/pkg/log"
)

const (
	// nonceStride separates the starting nonces of adjacent workers.
	nonceStride = 1_000_000_000
	// batchSize is the number of hashes between counter updates.
	batchSize = 2000
	// refreshInterval is the number of local hashes between job checks.
	refreshInterval = 1000
	// idleSleep is how long a worker waits when there is no job.
	idleSleep = 100 * time.Millisecond
	// minStatsWindow is the uptime below which hashrate reads as zero.
	minStatsWindow = 100 * time.Millisecond

	// InputSize is the length of the hash input.
	InputSize = stratum.HeaderSize + 8 + 32 + 8

	inputSize       = InputSize
	timestampOffset = stratum.HeaderSize
	nonceOffset     = inputSize - 8
)

// ErrAlreadyRunning is returned by Start on a running engine.
var ErrAlreadyRunning = errors.New("miner already running")

// Engine owns the worker pool and the authoritative mining counters.
type Engine struct {
	hasher pow.Hasher
	logger *log.Logger

	mu      sync.Mutex
	running atomic.Bool
	stop    chan struct{}
	group   *errgroup.Group
	cfg     atomic.Pointer[Config]

	job atomic.Pointer[stratum.Job]

	totalHashes atomic.Uint64
	accepted    atomic.Uint64
	rejected    atomic.Uint64
	startedAt   atomic.Int64
	stoppedAt   atomic.Int64

	shareMu sync.RWMutex
	onShare func(Share)
}

// NewEngine creates a stopped engine.
func NewEngine(hasher pow.Hasher, logger *log.Logger) *Engine {
	return &Engine{
		hasher: hasher,
		logger: logger.WithComponent("miner"),
	}
}

// SetShareCallback registers the function workers call for every share.
// It runs on the worker goroutine and must not block.
func (e *Engine) SetShareCallback(fn func(Share)) {
	e.shareMu.Lock()
	e.onShare = fn
	e.shareMu.Unlock()
}

// SetJob publishes job to all workers. The engine keeps its own copy.
func (e *Engine) SetJob(job *stratum.Job) {
	if job == nil {
		return
	}
	e.job.Store(job.Clone())
}

// CurrentJob returns the published job, or nil.
func (e *Engine) CurrentJob() *stratum.Job {
	return e.job.Load()
}

// Start resets the counters and launches cfg.NumThreads workers.
func (e *Engine) Start(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return ErrAlreadyRunning
	}

	e.totalHashes.Store(0)
	e.accepted.Store(0)
	e.rejected.Store(0)
	e.startedAt.Store(time.Now().UnixNano())
	e.stoppedAt.Store(0)
	e.cfg.Store(&cfg)
	e.stop = make(chan struct{})
	e.group = new(errgroup.Group)
	e.running.Store(true)

	for i := 0; i < cfg.NumThreads; i++ {
		i := i
		e.group.Go(func() error {
			e.work(i)
			return nil
		})
	}

	e.logger.Info("mining started",
		"threads", cfg.NumThreads,
		"intensity", cfg.Intensity,
		"algorithm", e.hasher.Name(),
	)
	return nil
}

// Stop clears the running flag and waits for every worker to exit.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return
	}
	e.running.Store(false)
	close(e.stop)
	_ = e.group.Wait()
	e.stoppedAt.Store(time.Now().UnixNano())

	e.logger.Info("mining stopped", "total_hashes", e.totalHashes.Load())
}

// Running reports whether workers are active.
func (e *Engine) Running() bool {
	return e.running.Load()
}

// RecordRejected counts a share the pool refused.
func (e *Engine) RecordRejected() {
	e.rejected.Add(1)
}

// Stats returns a snapshot of the counters. Hashrate is the cumulative hash
// count over elapsed time and reads as zero during the first 100ms.
func (e *Engine) Stats() Stats {
	s := Stats{
		TotalHashes: e.totalHashes.Load(),
		Accepted:    e.accepted.Load(),
		Rejected:    e.rejected.Load(),
		Running:     e.running.Load(),
	}
	if cfg := e.cfg.Load(); cfg != nil {
		s.Threads = cfg.NumThreads
		s.Intensity = cfg.Intensity
	}

	started := e.startedAt.Load()
	if started == 0 {
		return s
	}
	end := time.Now().UnixNano()
	if stopped := e.stoppedAt.Load(); stopped != 0 {
		end = stopped
	}
	s.Uptime = time.Duration(end - started)
	if s.Uptime > minStatsWindow {
		s.Hashrate = float64(s.TotalHashes) / s.Uptime.Seconds()
	}
	return s
}

func (e *Engine) work(index int) {
	logger := e.logger.WithWorker(index)
	logger.Debug("worker started")
	defer logger.Debug("worker stopped")

	start := uint64(index) * nonceStride
	nonce := start

	var (
		local        *stratum.Job
		input        [inputSize]byte
		sinceRefresh uint64
	)

	for e.running.Load() {
		if local == nil || sinceRefresh >= refreshInterval {
			sinceRefresh = 0
			if shared := e.job.Load(); shared != nil && shared != local &&
				(local == nil || shared.ID != local.ID || shared.CleanJobs) {
				local = shared
				fillInput(&input, local)
			}
		}

		if local == nil {
			select {
			case <-e.stop:
			case <-time.After(idleSleep):
			}
			continue
		}

		if next := advanceNonce(nonce, start); next != nonce {
			logger.Warn("nonce space exhausted, restarting at worker offset", "offset", start)
			nonce = next
		}

		ntime := uint32(local.Timestamp)
		for i := 0; i < batchSize; i++ {
			binary.LittleEndian.PutUint64(input[nonceOffset:], nonce)
			hash := e.hasher.Sum(input[:], 0)
			if pow.CheckDifficulty(hash[:], local.Target[:]) {
				e.accepted.Add(1)
				e.emit(Share{
					JobID:    local.ID,
					Nonce:    nonce,
					NTime:    ntime,
					Accepted: true,
					Reason:   "Share found",
					Worker:   index,
					Hash:     hash,
					FoundAt:  time.Now(),
				})
			}
			nonce++
		}

		e.totalHashes.Add(batchSize)
		sinceRefresh += batchSize
	}
}

func (e *Engine) emit(share Share) {
	e.shareMu.RLock()
	fn := e.onShare
	e.shareMu.RUnlock()
	if fn != nil {
		fn(share)
	}
}

// fillInput lays out header(32) | timestamp LE(8) | zero(32) | nonce LE(8).
func fillInput(buf *[inputSize]byte, job *stratum.Job) {
	*buf = [inputSize]byte{}
	copy(buf[:stratum.HeaderSize], job.Header[:])
	binary.LittleEndian.PutUint64(buf[timestampOffset:], job.Timestamp)
}

// WorkInput returns the hash input a worker builds for job and nonce.
func WorkInput(job *stratum.Job, nonce uint64) [InputSize]byte {
	var buf [inputSize]byte
	fillInput(&buf, job)
	binary.LittleEndian.PutUint64(buf[nonceOffset:], nonce)
	return buf
}

// advanceNonce returns nonce unless a full batch from it would overflow,
// in which case the worker restarts at its own offset.
func advanceNonce(nonce, start uint64) uint64 {
	if nonce > math.MaxUint64-batchSize {
		return start
	}
	return nonce
}
