package edgecache

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    fetchCounter   prometheus.Counter
//	    fetchHistogram prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordFetch(strategy string, duration time.Duration, err error) {
//	    p.fetchCounter.Inc()
//	    // ... record strategy label, error state, duration, etc.
//	}
type MetricsCollector interface {
	// RecordFetch is called after each handled fetch.
	// strategy is the routing decision that served it ("network-only",
	// "cache-first", "network-first"), duration is the total time taken,
	// err is nil if a response was produced.
	RecordFetch(strategy string, duration time.Duration, err error)

	// RecordInstall is called after each install attempt.
	// duration covers the full manifest seed, err is nil if the
	// generation reached the waiting state.
	RecordInstall(duration time.Duration, err error)

	// RecordActivate is called after each activation attempt.
	RecordActivate(duration time.Duration, err error)

	// RecordMessage is called after each control message dispatch.
	// msgType is the inbound type discriminator, err is nil if the
	// mutation was enqueued.
	RecordMessage(msgType string, err error)

	// RecordTask is called after each background task submission.
	// tag identifies the task, err is nil if it was enqueued.
	RecordTask(tag string, err error)

	// RecordEviction is called after a bound enforcement pass.
	// count is the number of entries evicted.
	RecordEviction(count int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordFetch(string, time.Duration, error) {}
func (NoopMetricsCollector) RecordInstall(time.Duration, error)       {}
func (NoopMetricsCollector) RecordActivate(time.Duration, error)      {}
func (NoopMetricsCollector) RecordMessage(string, error)              {}
func (NoopMetricsCollector) RecordTask(string, error)                 {}
func (NoopMetricsCollector) RecordEviction(int)                       {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	FetchCount        atomic.Int64
	FetchErrors       atomic.Int64
	FetchTotalNanos   atomic.Int64
	FetchNetworkOnly  atomic.Int64
	FetchCacheFirst   atomic.Int64
	FetchNetworkFirst atomic.Int64
	InstallCount      atomic.Int64
	InstallErrors     atomic.Int64
	InstallTotalNanos atomic.Int64
	ActivateCount     atomic.Int64
	ActivateErrors    atomic.Int64
	MessageCount      atomic.Int64
	MessageErrors     atomic.Int64
	TaskCount         atomic.Int64
	TaskErrors        atomic.Int64
	EvictedEntries    atomic.Int64
}

// RecordFetch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordFetch(strategy string, duration time.Duration, err error) {
	b.FetchCount.Add(1)
	b.FetchTotalNanos.Add(duration.Nanoseconds())
	switch strategy {
	case "network-only":
		b.FetchNetworkOnly.Add(1)
	case "cache-first":
		b.FetchCacheFirst.Add(1)
	case "network-first":
		b.FetchNetworkFirst.Add(1)
	}
	if err != nil {
		b.FetchErrors.Add(1)
	}
}

// RecordInstall implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInstall(duration time.Duration, err error) {
	b.InstallCount.Add(1)
	b.InstallTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.InstallErrors.Add(1)
	}
}

// RecordActivate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordActivate(duration time.Duration, err error) {
	b.ActivateCount.Add(1)
	if err != nil {
		b.ActivateErrors.Add(1)
	}
}

// RecordMessage implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMessage(msgType string, err error) {
	b.MessageCount.Add(1)
	if err != nil {
		b.MessageErrors.Add(1)
	}
}

// RecordTask implements MetricsCollector.
func (b *BasicMetricsCollector) RecordTask(tag string, err error) {
	b.TaskCount.Add(1)
	if err != nil {
		b.TaskErrors.Add(1)
	}
}

// RecordEviction implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEviction(count int) {
	b.EvictedEntries.Add(int64(count))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		FetchCount:        b.FetchCount.Load(),
		FetchErrors:       b.FetchErrors.Load(),
		FetchAvgNanos:     b.getAvgFetchNanos(),
		FetchNetworkOnly:  b.FetchNetworkOnly.Load(),
		FetchCacheFirst:   b.FetchCacheFirst.Load(),
		FetchNetworkFirst: b.FetchNetworkFirst.Load(),
		InstallCount:      b.InstallCount.Load(),
		InstallErrors:     b.InstallErrors.Load(),
		InstallAvgNanos:   b.getAvgInstallNanos(),
		ActivateCount:     b.ActivateCount.Load(),
		ActivateErrors:    b.ActivateErrors.Load(),
		MessageCount:      b.MessageCount.Load(),
		MessageErrors:     b.MessageErrors.Load(),
		TaskCount:         b.TaskCount.Load(),
		TaskErrors:        b.TaskErrors.Load(),
		EvictedEntries:    b.EvictedEntries.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgFetchNanos() int64 {
	count := b.FetchCount.Load()
	if count == 0 {
		return 0
	}
	return b.FetchTotalNanos.Load() / count
}

func (b *BasicMetricsCollector) getAvgInstallNanos() int64 {
	count := b.InstallCount.Load()
	if count == 0 {
		return 0
	}
	return b.InstallTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	FetchCount        int64
	FetchErrors       int64
	FetchAvgNanos     int64
	FetchNetworkOnly  int64
	FetchCacheFirst   int64
	FetchNetworkFirst int64
	InstallCount      int64
	InstallErrors     int64
	InstallAvgNanos   int64
	ActivateCount     int64
	ActivateErrors    int64
	MessageCount      int64
	MessageErrors     int64
	TaskCount         int64
	TaskErrors        int64
	EvictedEntries    int64
}
