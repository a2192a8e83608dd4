package app

import (
	"sync/atomic"
	"time"
)

// Metrics tracks commit latency.
type Metrics struct {
	commitCount   atomic.Uint64
	commitFailed  atomic.Uint64
	commitTotalNs atomic.Int64
	commitMinNs   atomic.Int64
	commitMaxNs   atomic.Int64
	lastCommitNs  atomic.Int64

	startTime time.Time
}

// NewMetrics creates a new metrics tracker.
func NewMetrics() *Metrics {
	m := &Metrics{startTime: time.Now()}
	// Initialize min to max int64 so the first commit will be smaller
	m.commitMinNs.Store(1<<63 - 1)
	return m
}

// RecordCommit records the duration of one commit. Failed commits are
// counted but do not contribute to timing.
func (m *Metrics) RecordCommit(d time.Duration, err error) {
	if err != nil {
		m.commitFailed.Add(1)
		return
	}
	ns := d.Nanoseconds()
	m.commitCount.Add(1)
	m.commitTotalNs.Add(ns)
	m.lastCommitNs.Store(ns)

	for {
		cur := m.commitMinNs.Load()
		if ns >= cur || m.commitMinNs.CompareAndSwap(cur, ns) {
			break
		}
	}
	for {
		cur := m.commitMaxNs.Load()
		if ns <= cur || m.commitMaxNs.CompareAndSwap(cur, ns) {
			break
		}
	}
}

// MetricsSnapshot is a point-in-time copy of the metrics.
type MetricsSnapshot struct {
	Commits       uint64
	FailedCommits uint64
	AvgCommit     time.Duration
	MinCommit     time.Duration
	MaxCommit     time.Duration
	LastCommit    time.Duration
	Uptime        time.Duration
}

// Snapshot returns the current metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Commits:       m.commitCount.Load(),
		FailedCommits: m.commitFailed.Load(),
		MaxCommit:     time.Duration(m.commitMaxNs.Load()),
		LastCommit:    time.Duration(m.lastCommitNs.Load()),
		Uptime:        time.Since(m.startTime),
	}
	if s.Commits > 0 {
		s.AvgCommit = time.Duration(m.commitTotalNs.Load() / int64(s.Commits))
		s.MinCommit = time.Duration(m.commitMinNs.Load())
	}
	return s
}
