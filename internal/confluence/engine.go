// Package confluence implements the sliding-window distinct-wallet detector:
// one in-memory bucket per (tenant, tokenIdentity, side), evicted on a
// tenant-configured window and re-sorted on out-of-order arrival.
package confluence

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

// Store is the durable-persistence seam the Engine relies on for the
// cross-restart dedup check and the confluence record itself.
type Store interface {
	SaveConfluence(conf *models.Confluence) error
	ConfluenceExists(tenant, tokenIdentity string, detectionTimestamp time.Time) (bool, error)
}

// SettingsProvider supplies the per-tenant minWallets/windowMinutes pair.
type SettingsProvider interface {
	TenantSettings(tenant string) models.TenantSettings
}

// TrustRecorder receives one bump per wallet that participated in a newly
// emitted confluence — the seam *trust.Ledger satisfies, keyed by the
// normalized wallet label (models.NormalizeWalletLabel), since a
// ConfluenceWallet carries only a label, not an address.
type TrustRecorder interface {
	RecordParticipation(walletKey string)
}

// DedupCache is a fast, best-effort pre-check in front of the durable
// ConfluenceExists round-trip. *cache.Client satisfies it. A cache miss or
// error never blocks detection — it falls through to the durable check. A hit
// suppresses the alert without consulting the durable store: the marker is
// scoped to one exact detection timestamp, so it means this precise
// confluence already fired, while a later detection timestamp for the same
// token is a different key and can still fire inside the same TTL window.
type DedupCache interface {
	WasConfluenceDetected(tenant, tokenIdentity string, detectionTimestamp time.Time) (bool, error)
	MarkConfluenceDetected(tenant, tokenIdentity string, detectionTimestamp time.Time, ttl time.Duration) error
}

// dedupCacheTTL bounds how long a fired-confluence marker survives in the
// cache — long enough to outlast the widest allowed tenant window.
const dedupCacheTTL = 48 * time.Hour

// bucketKey identifies one sliding-window bucket. Buy and sell confluences
// are tracked independently — see SPEC_FULL.md Open Question (a).
type bucketKey struct {
	tenant        string
	tokenIdentity string
	side          models.Side
}

// bucket holds one (tenant, tokenIdentity, side)'s recent events.
type bucket struct {
	tokenSymbol  string
	tokenAddress string
	entries      []models.Transaction
}

// Engine is the confluence detector.
type Engine struct {
	store    Store
	settings SettingsProvider
	trust    TrustRecorder
	dedup    DedupCache
	logger   *logrus.Logger

	mu      sync.Mutex
	buckets map[bucketKey]*bucket
}

// NewEngine creates an Engine. trust and dedup may both be nil: trust simply
// skips participation bumps (trust bookkeeping, not a detection gate),
// and dedup simply skips the fast-path cache check, falling straight through
// to the durable store's ConfluenceExists.
func NewEngine(store Store, settings SettingsProvider, trust TrustRecorder, dedup DedupCache, logger *logrus.Logger) *Engine {
	return &Engine{
		store:    store,
		settings: settings,
		trust:    trust,
		dedup:    dedup,
		logger:   logger,
		buckets:  make(map[bucketKey]*bucket),
	}
}

// Ingest inserts tx into its bucket, evicts stale entries, and returns any
// Confluence newly detected as a result (almost always 0 or 1 element).
func (e *Engine) Ingest(tenant string, tx models.Transaction) ([]models.Confluence, error) {
	settings := e.settings.TenantSettings(tenant)
	key := bucketKey{tenant: tenant, tokenIdentity: tx.TokenIdentity(), side: tx.Side}
	window := time.Duration(settings.WindowMinutes) * time.Minute

	e.mu.Lock()
	b, ok := e.buckets[key]
	if !ok {
		b = &bucket{tokenSymbol: tx.TokenSymbol, tokenAddress: tx.TokenAddress}
		e.buckets[key] = b
	}
	b.entries = append(b.entries, tx)
	evictStale(b, window)
	sortByTimestamp(b)

	conf, fire := detect(tenant, key, b, settings.MinWallets)
	e.mu.Unlock()

	if !fire {
		return nil, nil
	}

	return e.emit(conf)
}

// Sweep evicts stale entries across every bucket and drops buckets left
// empty, run periodically by the background sweeper.
func (e *Engine) Sweep() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for key, b := range e.buckets {
		settings := e.settings.TenantSettings(key.tenant)
		window := time.Duration(settings.WindowMinutes) * time.Minute
		evictStale(b, window)
		if len(b.entries) == 0 {
			delete(e.buckets, key)
		}
	}
}

func evictStale(b *bucket, window time.Duration) {
	cutoff := time.Now().Add(-window)
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}

func sortByTimestamp(b *bucket) {
	sort.SliceStable(b.entries, func(i, j int) bool {
		return b.entries[i].Timestamp.Before(b.entries[j].Timestamp)
	})
}

// detect applies the distinct-wallet aggregation and detection rule over an
// already-evicted, already-sorted bucket.
func detect(tenant string, key bucketKey, b *bucket, minWallets int) (models.Confluence, bool) {
	seen := make(map[string]bool)
	var contributing []models.Transaction

	var detectionTx *models.Transaction
	for i := range b.entries {
		tx := b.entries[i]
		wid := tx.WalletIdentity()
		if !seen[wid] {
			seen[wid] = true
			contributing = append(contributing, tx)
			if len(seen) == minWallets && detectionTx == nil {
				detectionTx = &b.entries[i]
			}
		}
	}

	if detectionTx == nil {
		return models.Confluence{}, false
	}

	marketCap := detectionMarketCap(*detectionTx, contributing)

	wallets := make([]models.ConfluenceWallet, 0, len(contributing))
	for _, tx := range contributing {
		wallets = append(wallets, models.ConfluenceWallet{
			Label:       tx.WalletLabel,
			Side:        tx.Side,
			Amount:      tx.Amount,
			QuoteAmount: tx.QuoteAmount,
			Timestamp:   tx.Timestamp,
		})
	}

	conf := models.Confluence{
		ID:                 uuid.NewString(),
		Tenant:             tenant,
		Side:               key.side,
		TokenSymbol:        b.tokenSymbol,
		TokenAddress:       b.tokenAddress,
		DetectionTimestamp: detectionTx.Timestamp,
		DetectionMarketCap: marketCap,
		WalletCount:        len(seen),
		Wallets:            wallets,
		FirstTxTimestamp:   b.entries[0].Timestamp,
	}

	return conf, true
}

// detectionMarketCap is the market cap recorded on the detecting event, or
// the mean of contributing events' market caps when that field is absent
// (SPEC_FULL.md Open Question (b)).
func detectionMarketCap(detectionTx models.Transaction, contributing []models.Transaction) decimal.Decimal {
	if !detectionTx.MarketCap.IsZero() {
		return detectionTx.MarketCap
	}

	sum := decimal.Zero
	var count int
	for _, tx := range contributing {
		if !tx.MarketCap.IsZero() {
			sum = sum.Add(tx.MarketCap)
			count++
		}
	}
	if count == 0 {
		return sum
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

// emit persists the confluence if it hasn't already fired for this exact
// detection timestamp, returning it on success.
func (e *Engine) emit(conf models.Confluence) ([]models.Confluence, error) {
	if e.dedup != nil {
		cached, err := e.dedup.WasConfluenceDetected(conf.Tenant, conf.TokenIdentity(), conf.DetectionTimestamp)
		if err != nil {
			e.logger.WithError(err).Warn("dedup cache check failed, falling back to durable store")
		} else if cached {
			return nil, nil
		}
	}

	exists, err := e.store.ConfluenceExists(conf.Tenant, conf.TokenIdentity(), conf.DetectionTimestamp)
	if err != nil {
		return nil, fmt.Errorf("confluence dedup check failed: %w", err)
	}
	if exists {
		return nil, nil
	}

	if err := e.store.SaveConfluence(&conf); err != nil {
		return nil, fmt.Errorf("confluence persistence failed: %w", err)
	}

	if e.dedup != nil {
		if err := e.dedup.MarkConfluenceDetected(conf.Tenant, conf.TokenIdentity(), conf.DetectionTimestamp, dedupCacheTTL); err != nil {
			e.logger.WithError(err).Warn("failed to mark confluence detected in cache")
		}
	}

	if e.trust != nil {
		for _, w := range conf.Wallets {
			e.trust.RecordParticipation(models.NormalizeWalletLabel(w.Label))
		}
	}

	e.logger.WithFields(logrus.Fields{
		"tenant":       conf.Tenant,
		"token":        conf.TokenIdentity(),
		"side":         conf.Side,
		"wallet_count": conf.WalletCount,
	}).Info("confluence detected")

	return []models.Confluence{conf}, nil
}
