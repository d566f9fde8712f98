// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lifecycle watches process memory pressure and sheds caches when
// it climbs. It never terminates runs.
package lifecycle

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"time"
)

const (
	// DefaultSampleInterval is how often memory usage is sampled.
	DefaultSampleInterval = 10 * time.Second

	// DefaultHighWater logs a warning when heap usage crosses this fraction
	// of the limit.
	DefaultHighWater = 0.75

	// DefaultCriticalWater triggers cache eviction when heap usage crosses
	// this fraction of the limit.
	DefaultCriticalWater = 0.85
)

// Evictor is anything that can shed cached state under memory pressure.
type Evictor interface {
	EvictCaches()
}

// EvictorFunc adapts a function to the Evictor interface.
type EvictorFunc func()

// EvictCaches calls the function.
func (f EvictorFunc) EvictCaches() { f() }

// Sample is one memory reading.
type Sample struct {
	HeapBytes  uint64
	LimitBytes uint64
	Usage      float64
}

// MemoryMonitor samples heap usage against the configured soft limit and
// invokes eviction hooks when the critical watermark is crossed.
type MemoryMonitor struct {
	limit    uint64
	interval time.Duration
	high     float64
	critical float64
	evictors []Evictor
	logger   *slog.Logger
	read     func() uint64
}

// MemoryOption configures a MemoryMonitor.
type MemoryOption func(*MemoryMonitor)

// WithSampleInterval overrides the sampling interval.
func WithSampleInterval(interval time.Duration) MemoryOption {
	return func(m *MemoryMonitor) { m.interval = interval }
}

// WithWatermarks overrides the high and critical usage fractions.
func WithWatermarks(high, critical float64) MemoryOption {
	return func(m *MemoryMonitor) {
		m.high = high
		m.critical = critical
	}
}

// WithMemoryLogger sets the logger.
func WithMemoryLogger(logger *slog.Logger) MemoryOption {
	return func(m *MemoryMonitor) { m.logger = logger }
}

// withHeapReader overrides heap sampling, for tests.
func withHeapReader(read func() uint64) MemoryOption {
	return func(m *MemoryMonitor) { m.read = read }
}

// NewMemoryMonitor creates a monitor with a soft heap limit in bytes. A
// zero limit falls back to the runtime's memory limit when one is set, and
// otherwise disables watermark checks.
func NewMemoryMonitor(limit uint64, evictors []Evictor, opts ...MemoryOption) *MemoryMonitor {
	if limit == 0 {
		if soft := debug.SetMemoryLimit(-1); soft > 0 && soft < int64(^uint64(0)>>1) {
			limit = uint64(soft)
		}
	}
	m := &MemoryMonitor{
		limit:    limit,
		interval: DefaultSampleInterval,
		high:     DefaultHighWater,
		critical: DefaultCriticalWater,
		evictors: evictors,
		logger:   slog.Default(),
		read:     readHeap,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run samples until the context is cancelled.
func (m *MemoryMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check()
		}
	}
}

// Check takes one sample and reacts to it. Exposed so callers can force a
// reading outside the sampling loop.
func (m *MemoryMonitor) Check() Sample {
	sample := Sample{
		HeapBytes:  m.read(),
		LimitBytes: m.limit,
	}
	if m.limit == 0 {
		return sample
	}
	sample.Usage = float64(sample.HeapBytes) / float64(m.limit)

	switch {
	case sample.Usage >= m.critical:
		m.logger.Warn("memory critical, evicting caches",
			"heap_bytes", sample.HeapBytes,
			"limit_bytes", sample.LimitBytes,
			"usage", sample.Usage)
		for _, evictor := range m.evictors {
			evictor.EvictCaches()
		}
		runtime.GC()
	case sample.Usage >= m.high:
		m.logger.Warn("memory high",
			"heap_bytes", sample.HeapBytes,
			"limit_bytes", sample.LimitBytes,
			"usage", sample.Usage)
	}
	return sample
}

func readHeap() uint64 {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	return stats.HeapAlloc
}
