package service

import (
	"sort"
	"sync"
	"time"
)

// slowQueryThreshold marks a query as slow in the stats
const slowQueryThreshold = 100 * time.Millisecond

// PerformanceMonitor tracks query latency and cache effectiveness
type PerformanceMonitor struct {
	mu           sync.Mutex
	cachedTimes  []time.Duration
	dbTimes      []time.Duration
	cacheHits    int64
	cacheMisses  int64
	slowQueries  int64
	totalQueries int64
	maxSamples   int
}

// NewPerformanceMonitor creates a new performance monitor
func NewPerformanceMonitor() *PerformanceMonitor {
	return &PerformanceMonitor{maxSamples: 1000}
}

// RecordQuery records a query execution time
func (pm *PerformanceMonitor) RecordQuery(duration time.Duration, cached bool) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.totalQueries++
	if cached {
		pm.cacheHits++
		pm.cachedTimes = appendSample(pm.cachedTimes, duration, pm.maxSamples)
	} else {
		pm.cacheMisses++
		pm.dbTimes = appendSample(pm.dbTimes, duration, pm.maxSamples)
	}
	if duration > slowQueryThreshold {
		pm.slowQueries++
	}
}

func appendSample(samples []time.Duration, d time.Duration, max int) []time.Duration {
	samples = append(samples, d)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}

// PerformanceStats contains performance statistics
type PerformanceStats struct {
	TotalQueries int64   `json:"totalQueries"`
	CacheHits    int64   `json:"cacheHits"`
	CacheMisses  int64   `json:"cacheMisses"`
	SlowQueries  int64   `json:"slowQueries"`
	CacheHitRate float64 `json:"cacheHitRate"` // Percentage
	AvgCachedMs  float64 `json:"avgCachedMs"`
	AvgDBMs      float64 `json:"avgDbMs"`
	P95DBMs      float64 `json:"p95DbMs"`
}

// GetStats returns current performance statistics
func (pm *PerformanceMonitor) GetStats() *PerformanceStats {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	stats := &PerformanceStats{
		TotalQueries: pm.totalQueries,
		CacheHits:    pm.cacheHits,
		CacheMisses:  pm.cacheMisses,
		SlowQueries:  pm.slowQueries,
		AvgCachedMs:  averageMs(pm.cachedTimes),
		AvgDBMs:      averageMs(pm.dbTimes),
	}
	if pm.totalQueries > 0 {
		stats.CacheHitRate = float64(pm.cacheHits) / float64(pm.totalQueries) * 100
	}
	if len(pm.dbTimes) > 0 {
		sorted := append([]time.Duration(nil), pm.dbTimes...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		idx := int(float64(len(sorted)) * 0.95)
		if idx >= len(sorted) {
			idx = len(sorted) - 1
		}
		stats.P95DBMs = float64(sorted[idx]) / float64(time.Millisecond)
	}
	return stats
}

func averageMs(samples []time.Duration) float64 {
	if len(samples) == 0 {
		return 0
	}
	var total time.Duration
	for _, d := range samples {
		total += d
	}
	return float64(total) / float64(len(samples)) / float64(time.Millisecond)
}

// Reset resets all performance metrics
func (pm *PerformanceMonitor) Reset() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	pm.cachedTimes = nil
	pm.dbTimes = nil
	pm.cacheHits = 0
	pm.cacheMisses = 0
	pm.slowQueries = 0
	pm.totalQueries = 0
}
