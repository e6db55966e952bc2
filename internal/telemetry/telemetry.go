// Package telemetry samples optional host metrics reported alongside mining
// stats. Every reading may be absent.
package telemetry

import (
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Reading is one telemetry sample. Nil fields are unavailable.
type Reading struct {
	CPUTemp  *float64 // degrees Celsius
	CPUUsage *float64 // percent of all cores used by this process
}

// Source produces readings.
type Source interface {
	Read() Reading
}

// Sampler reads process CPU usage between successive calls and the first
// readable thermal zone.
type Sampler struct {
	thermalGlob string
	numCPU      int
	now         func() time.Time
	cpuTime     func() (time.Duration, bool)

	mu       sync.Mutex
	lastWall time.Time
	lastCPU  time.Duration
}

// NewSampler creates a sampler; the first CPU reading covers the time since
// creation.
func NewSampler() *Sampler {
	s := &Sampler{
		thermalGlob: "/sys/class/thermal/thermal_zone*/temp",
		numCPU:      runtime.NumCPU(),
		now:         time.Now,
		cpuTime:     processCPUTime,
	}
	s.lastWall = s.now()
	s.lastCPU, _ = s.cpuTime()
	return s
}

// Read implements Source.
func (s *Sampler) Read() Reading {
	return Reading{
		CPUTemp:  s.temperature(),
		CPUUsage: s.usage(),
	}
}

func (s *Sampler) usage() *float64 {
	cpu, ok := s.cpuTime()
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	wall := now.Sub(s.lastWall)
	used := cpu - s.lastCPU
	s.lastWall, s.lastCPU = now, cpu
	if wall <= 0 || s.numCPU <= 0 {
		return nil
	}

	pct := float64(used) / float64(wall) / float64(s.numCPU) * 100
	pct = min(max(pct, 0), 100)
	return &pct
}

func (s *Sampler) temperature() *float64 {
	zones, err := filepath.Glob(s.thermalGlob)
	if err != nil || len(zones) == 0 {
		return nil
	}
	sort.Strings(zones)
	for _, zone := range zones {
		raw, err := os.ReadFile(zone)
		if err != nil {
			continue
		}
		milli, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
		if err != nil || milli <= 0 {
			continue
		}
		c := milli / 1000
		return &c
	}
	return nil
}
