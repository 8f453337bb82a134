package main

import (
	"sync"
)

// ReportCache provides a thread-safe cache for computed report payloads.
// Invalidation is explicit rather than time-based: posted data only changes
// through voucher posting, reversal, or a chart mutation, and every one of
// those flushes the whole cache after commit. A cached report is therefore
// always identical to what a fresh computation would return.
type ReportCache struct {
	entries map[string]any
	mu      sync.RWMutex
}

// NewReportCache creates an empty ReportCache.
func NewReportCache() *ReportCache {
	return &ReportCache{
		entries: make(map[string]any),
	}
}

// Get returns the cached payload for the key, if any.
func (rc *ReportCache) Get(key string) (any, bool) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	payload, ok := rc.entries[key]
	return payload, ok
}

// Put stores a computed payload under the key.
func (rc *ReportCache) Put(key string, payload any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.entries[key] = payload
}

// Flush drops every cached report. Called after any mutation that can change
// report output.
func (rc *ReportCache) Flush() {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	rc.entries = make(map[string]any)
}

// Len returns the number of cached reports.
func (rc *ReportCache) Len() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()

	return len(rc.entries)
}
