package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

type fakeStore struct {
	mu     sync.Mutex
	stored []models.Transaction
}

func (f *fakeStore) StoreTransaction(tenant string, tx models.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, tx)
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type scriptedConfluenceEngine struct {
	mu        sync.Mutex
	failTimes int
	calls     int
	result    []models.Confluence
}

func (s *scriptedConfluenceEngine) Ingest(tenant string, tx models.Transaction) ([]models.Confluence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failTimes {
		return nil, errors.New("simulated transient failure")
	}
	return s.result, nil
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.FailNow(t, "condition not met within timeout")
}

func TestEnqueue_ProcessesJobThroughPipeline(t *testing.T) {
	store := &fakeStore{}
	confEngine := &scriptedConfluenceEngine{}
	var alerted []models.Confluence
	var alertMu sync.Mutex
	alertFn := func(tenant string, conf models.Confluence) error {
		alertMu.Lock()
		defer alertMu.Unlock()
		alerted = append(alerted, conf)
		return nil
	}

	engine := NewEngine(confEngine, store, alertFn, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	engine.Enqueue("tenant-1", models.Transaction{TokenAddress: "addrA"}, models.JobMeta{TokenAddressHint: "addrA"})

	waitFor(t, time.Second, func() bool { return store.count() == 1 && engine.Stats("tenant-1").Processed == 1 })

	stats := engine.Stats("tenant-1")
	assert.EqualValues(t, 1, stats.Processed)
	assert.Equal(t, 0, stats.Pending)
}

func TestEnqueue_FiltersAlertsByTokenHint(t *testing.T) {
	store := &fakeStore{}
	confEngine := &scriptedConfluenceEngine{
		result: []models.Confluence{
			{TokenAddress: "addrA"},
			{TokenAddress: "addrB"},
		},
	}
	var alerted []models.Confluence
	var alertMu sync.Mutex
	alertFn := func(tenant string, conf models.Confluence) error {
		alertMu.Lock()
		defer alertMu.Unlock()
		alerted = append(alerted, conf)
		return nil
	}

	engine := NewEngine(confEngine, store, alertFn, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	engine.Enqueue("tenant-1", models.Transaction{TokenAddress: "addrA"}, models.JobMeta{TokenAddressHint: "addrA"})

	waitFor(t, time.Second, func() bool {
		alertMu.Lock()
		defer alertMu.Unlock()
		return len(alerted) == 1
	})

	alertMu.Lock()
	defer alertMu.Unlock()
	require.Len(t, alerted, 1)
	assert.Equal(t, "addrA", alerted[0].TokenAddress)
}

func TestEnqueue_RetriesOnFailureThenSucceeds(t *testing.T) {
	store := &fakeStore{}
	confEngine := &scriptedConfluenceEngine{failTimes: 1}
	alertFn := func(tenant string, conf models.Confluence) error { return nil }

	engine := NewEngine(confEngine, store, alertFn, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	engine.Enqueue("tenant-1", models.Transaction{TokenAddress: "addrA"}, models.JobMeta{TokenAddressHint: "addrA"})

	// First attempt fails fast; retry is scheduled after 2^1 = 2s. Allow
	// enough slack for the scheduler tick plus the backoff delay.
	waitFor(t, 4*time.Second, func() bool {
		stats := engine.Stats("tenant-1")
		return stats.Processed == 1
	})

	stats := engine.Stats("tenant-1")
	assert.EqualValues(t, 1, stats.Errors)
	assert.EqualValues(t, 1, stats.Processed)
}

func TestEnqueue_AbandonsAfterMaxAttempts(t *testing.T) {
	store := &fakeStore{}
	confEngine := &scriptedConfluenceEngine{failTimes: 1000}
	alertFn := func(tenant string, conf models.Confluence) error { return nil }

	engine := NewEngine(confEngine, store, alertFn, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, engine.Start(ctx))
	defer engine.Stop()

	engine.Enqueue("tenant-1", models.Transaction{TokenAddress: "addrA"}, models.JobMeta{TokenAddressHint: "addrA"})

	// Delays are 2s, 4s, 8s before the job is abandoned on the 4th failure.
	waitFor(t, 16*time.Second, func() bool {
		stats := engine.Stats("tenant-1")
		return stats.Errors == 4
	})

	stats := engine.Stats("tenant-1")
	assert.EqualValues(t, 0, stats.Processed)
	assert.Equal(t, 0, stats.Pending)
}

func TestRemoveTenant_DropsPendingJobs(t *testing.T) {
	store := &fakeStore{}
	confEngine := &scriptedConfluenceEngine{failTimes: 1000}
	alertFn := func(tenant string, conf models.Confluence) error { return nil }

	engine := NewEngine(confEngine, store, alertFn, newTestLogger())

	engine.Enqueue("tenant-1", models.Transaction{TokenAddress: "addrA"}, models.JobMeta{TokenAddressHint: "addrA"})
	engine.Enqueue("tenant-1", models.Transaction{TokenAddress: "addrA"}, models.JobMeta{TokenAddressHint: "addrA"})

	engine.RemoveTenant("tenant-1")

	stats := engine.Stats("tenant-1")
	assert.Equal(t, 0, stats.Pending)
}
