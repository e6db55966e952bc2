// Package miner runs the proof-of-work search: a pool of workers hashing
// disjoint nonce ranges against the current job, with lock-free counters
// that can be read while the workers run.
package miner

import (
	"fmt"
	"time"
)

// Config is supplied once per Start.
type Config struct {
	NumThreads int
	// Intensity is advisory and recorded only; workers always run at full
	// speed.
	Intensity float64
}

// Validate checks the thread count and intensity range.
func (c Config) Validate() error {
	if c.NumThreads < 1 {
		return fmt.Errorf("thread count must be at least 1, got %d", c.NumThreads)
	}
	if c.Intensity < 0 || c.Intensity > 1 {
		return fmt.Errorf("intensity must be between 0 and 1, got %v", c.Intensity)
	}
	return nil
}

// Share is a nonce a worker found below the job target.
type Share struct {
	JobID       string
	ExtraNonce2 uint64
	Nonce       uint64
	NTime       uint32
	Accepted    bool
	Reason      string
	Worker      int
	Hash        [32]byte
	FoundAt     time.Time
}

// Stats is a point-in-time copy of the engine counters plus the fields the
// session layer fills in.
type Stats struct {
	Hashrate    float64
	TotalHashes uint64
	Accepted    uint64
	Rejected    uint64
	Uptime      time.Duration
	Running     bool
	Threads     int
	Intensity   float64
	Connected   bool
	CPUTemp     *float64
	CPUUsage    *float64
}
