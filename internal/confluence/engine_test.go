package confluence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

type fakeStore struct {
	mu    sync.Mutex
	saved []models.Confluence
}

func (f *fakeStore) SaveConfluence(conf *models.Confluence) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, *conf)
	return nil
}

func (f *fakeStore) ConfluenceExists(tenant, tokenIdentity string, detectionTimestamp time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.saved {
		if c.Tenant == tenant && c.TokenIdentity() == tokenIdentity && c.DetectionTimestamp.Equal(detectionTimestamp) {
			return true, nil
		}
	}
	return false, nil
}

type fakeDedupCache struct {
	mu     sync.Mutex
	marked map[string]bool
}

func newFakeDedupCache() *fakeDedupCache {
	return &fakeDedupCache{marked: make(map[string]bool)}
}

func (f *fakeDedupCache) WasConfluenceDetected(tenant, tokenIdentity string, detectionTimestamp time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marked[dedupCacheKey(tenant, tokenIdentity, detectionTimestamp)], nil
}

func (f *fakeDedupCache) MarkConfluenceDetected(tenant, tokenIdentity string, detectionTimestamp time.Time, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[dedupCacheKey(tenant, tokenIdentity, detectionTimestamp)] = true
	return nil
}

func dedupCacheKey(tenant, tokenIdentity string, detectionTimestamp time.Time) string {
	return fmt.Sprintf("%s:%s:%d", tenant, tokenIdentity, detectionTimestamp.Unix())
}

type fixedSettings struct {
	settings models.TenantSettings
}

func (f fixedSettings) TenantSettings(tenant string) models.TenantSettings {
	return f.settings
}

type fakeTrustRecorder struct {
	mu     sync.Mutex
	bumped []string
}

func (f *fakeTrustRecorder) RecordParticipation(walletKey string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumped = append(f.bumped, walletKey)
}

func newTestEngine(minWallets, windowMinutes int) (*Engine, *fakeStore) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	store := &fakeStore{}
	settings := fixedSettings{settings: models.TenantSettings{MinWallets: minWallets, WindowMinutes: windowMinutes}}
	return NewEngine(store, settings, nil, nil, logger), store
}

func txFor(wallet string, minutesAgo int) models.Transaction {
	return models.Transaction{
		WalletLabel:  wallet,
		Side:         models.SideBuy,
		TokenSymbol:  "PEPE",
		TokenAddress: "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		Amount:       decimal.NewFromInt(100),
		MarketCap:    decimal.NewFromInt(500000),
		Timestamp:    time.Now().Add(-time.Duration(minutesAgo) * time.Minute),
	}
}

func TestIngest_FiresOnThresholdWallets(t *testing.T) {
	engine, _ := newTestEngine(3, 1440)

	confs, err := engine.Ingest("tenant-1", txFor("wallet-a", 3))
	require.NoError(t, err)
	assert.Empty(t, confs)

	confs, err = engine.Ingest("tenant-1", txFor("wallet-b", 2))
	require.NoError(t, err)
	assert.Empty(t, confs)

	confs, err = engine.Ingest("tenant-1", txFor("wallet-c", 1))
	require.NoError(t, err)
	require.Len(t, confs, 1)
	assert.Equal(t, 3, confs[0].WalletCount)
}

func TestIngest_DistinctWalletsOnly(t *testing.T) {
	engine, _ := newTestEngine(2, 1440)

	_, err := engine.Ingest("tenant-1", txFor("wallet-a", 5))
	require.NoError(t, err)
	// Same wallet buying again should not count twice toward the threshold.
	confs, err := engine.Ingest("tenant-1", txFor("wallet-a", 4))
	require.NoError(t, err)
	assert.Empty(t, confs)

	confs, err = engine.Ingest("tenant-1", txFor("wallet-b", 1))
	require.NoError(t, err)
	require.Len(t, confs, 1)
	assert.Equal(t, 2, confs[0].WalletCount)
}

func TestIngest_DedupSuppressesReemission(t *testing.T) {
	engine, store := newTestEngine(2, 1440)

	_, err := engine.Ingest("tenant-1", txFor("wallet-a", 5))
	require.NoError(t, err)
	confs, err := engine.Ingest("tenant-1", txFor("wallet-b", 4))
	require.NoError(t, err)
	require.Len(t, confs, 1)
	assert.Len(t, store.saved, 1)

	// A third distinct wallet still extends the same bucket but does not
	// retroactively re-fire at the already-recorded detection timestamp
	// unless the bucket is reset — here we simulate a duplicate Ingest call
	// with the same threshold-crossing event to confirm dedup holds.
	confs, err = engine.Ingest("tenant-1", txFor("wallet-c", 3))
	require.NoError(t, err)
	assert.Empty(t, confs)
}

func TestIngest_BuyAndSellTrackedSeparately(t *testing.T) {
	engine, _ := newTestEngine(2, 1440)

	buy := txFor("wallet-a", 5)
	sell := txFor("wallet-b", 4)
	sell.Side = models.SideSell

	confs, err := engine.Ingest("tenant-1", buy)
	require.NoError(t, err)
	assert.Empty(t, confs)

	confs, err = engine.Ingest("tenant-1", sell)
	require.NoError(t, err)
	assert.Empty(t, confs, "a sell from a different wallet must not complete the buy bucket's threshold")
}

func TestIngest_RecordsTrustParticipationOnEmit(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	store := &fakeStore{}
	trust := &fakeTrustRecorder{}
	settings := fixedSettings{settings: models.TenantSettings{MinWallets: 2, WindowMinutes: 1440}}
	engine := NewEngine(store, settings, trust, nil, logger)

	_, err := engine.Ingest("tenant-1", txFor("wallet-a", 5))
	require.NoError(t, err)
	confs, err := engine.Ingest("tenant-1", txFor("wallet-b", 4))
	require.NoError(t, err)
	require.Len(t, confs, 1)

	assert.ElementsMatch(t, []string{
		models.NormalizeWalletLabel("wallet-a"),
		models.NormalizeWalletLabel("wallet-b"),
	}, trust.bumped)
}

func TestIngest_DedupCacheHitSkipsDurableStoreCheckAndSave(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	store := &fakeStore{}
	dedup := newFakeDedupCache()
	settings := fixedSettings{settings: models.TenantSettings{MinWallets: 2, WindowMinutes: 1440}}
	engine := NewEngine(store, settings, nil, dedup, logger)

	_, err := engine.Ingest("tenant-1", txFor("wallet-a", 5))
	require.NoError(t, err)
	confs, err := engine.Ingest("tenant-1", txFor("wallet-b", 4))
	require.NoError(t, err)
	require.Len(t, confs, 1)
	assert.Len(t, store.saved, 1)

	marked, err := dedup.WasConfluenceDetected("tenant-1", confs[0].TokenIdentity(), confs[0].DetectionTimestamp)
	require.NoError(t, err)
	assert.True(t, marked, "a successful emit must mark the dedup cache")

	// wallet-x's event lands between wallet-a and wallet-b, so it becomes the
	// new detection point. A pre-marked cache entry for that exact detection
	// timestamp must suppress emission even though the durable store has
	// never seen it.
	repeat := confs[0]
	late := txFor("wallet-x", 5)
	dedup.marked[dedupCacheKey("tenant-1", repeat.TokenIdentity(), late.Timestamp)] = true
	_, err = engine.Ingest("tenant-1", late)
	require.NoError(t, err)
	confs2, err := engine.Ingest("tenant-1", txFor("wallet-y", 4))
	require.NoError(t, err)
	assert.Empty(t, confs2, "dedup cache hit should suppress emission before the durable store is consulted")
	assert.Len(t, store.saved, 1, "durable store must not receive a second save")
}

func TestEmit_DedupCacheMarkerScopedToDetectionTimestampDoesNotSuppressLaterConfluence(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	store := &fakeStore{}
	dedup := newFakeDedupCache()
	settings := fixedSettings{settings: models.TenantSettings{MinWallets: 2, WindowMinutes: 1440}}
	engine := NewEngine(store, settings, nil, dedup, logger)

	now := time.Now()
	older := models.Confluence{
		Tenant:             "tenant-1",
		TokenAddress:       "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		DetectionTimestamp: now.Add(-time.Hour),
	}
	confs, err := engine.emit(older)
	require.NoError(t, err)
	require.Len(t, confs, 1)
	assert.Len(t, store.saved, 1)

	// A second, genuinely distinct confluence for the same tenant/token with
	// a later detection timestamp must still fire, even though the older
	// timestamp's marker is still within the dedup TTL.
	newer := older
	newer.DetectionTimestamp = now
	confs2, err := engine.emit(newer)
	require.NoError(t, err)
	assert.Len(t, confs2, 1, "a genuinely new detection timestamp must still fire")
	assert.Len(t, store.saved, 2)
}

func TestIngest_EvictsStaleEntries(t *testing.T) {
	engine, _ := newTestEngine(2, 10)

	_, err := engine.Ingest("tenant-1", txFor("wallet-a", 60))
	require.NoError(t, err)

	confs, err := engine.Ingest("tenant-1", txFor("wallet-b", 1))
	require.NoError(t, err)
	assert.Empty(t, confs, "wallet-a's event is outside the 10-minute window and should have been evicted")
}
