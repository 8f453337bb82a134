package main

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportCache(t *testing.T) {
	cache := NewReportCache()

	// Miss on an empty cache
	payload, ok := cache.Get("trial_balance:latest")
	assert.False(t, ok)
	assert.Nil(t, payload)
	assert.Equal(t, 0, cache.Len())

	// Hit after a put, payload returned as stored
	report := &TrialBalanceReport{}
	cache.Put("trial_balance:latest", report)
	payload, ok = cache.Get("trial_balance:latest")
	require.True(t, ok)
	assert.Same(t, report, payload.(*TrialBalanceReport))
	assert.Equal(t, 1, cache.Len())

	// Re-putting the same key overwrites rather than accumulating
	replacement := &TrialBalanceReport{}
	cache.Put("trial_balance:latest", replacement)
	payload, ok = cache.Get("trial_balance:latest")
	require.True(t, ok)
	assert.Same(t, replacement, payload.(*TrialBalanceReport))
	assert.Equal(t, 1, cache.Len())

	// Distinct keys are independent entries
	cache.Put("profit_loss::", &ProfitLossReport{})
	assert.Equal(t, 2, cache.Len())

	// Flush drops everything
	cache.Flush()
	assert.Equal(t, 0, cache.Len())
	_, ok = cache.Get("trial_balance:latest")
	assert.False(t, ok)
}

func TestReportCacheConcurrentAccess(t *testing.T) {
	cache := NewReportCache()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("dashboard:%d", n)
			for j := 0; j < 100; j++ {
				cache.Put(key, &DashboardReport{})
				cache.Get(key)
				if j%25 == 0 {
					cache.Flush()
				}
			}
		}(i)
	}
	wg.Wait()

	// The exact count depends on interleaving, only the bound is fixed
	assert.LessOrEqual(t, cache.Len(), 10)
}
