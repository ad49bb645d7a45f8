// Package recap implements the pure aggregator that consolidates persisted
// confluences and fresh ATH analyses into per-token and per-wallet
// performance views over a tenant-requested window.
package recap

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

const (
	minWindowHours    = 1
	maxWindowHours    = 168
	quickDumpWindow   = 2 * time.Hour
	quickDumpGainCap  = 50
	hitRateThreshold  = 100
	earlyWalletWeight = 1.5
	earlyWalletCount  = 2

	// maxConcurrentAnalyses bounds how many ATH analyses (each a price-history
	// scan over the network) run at once during a single recap.
	maxConcurrentAnalyses = 8
)

// ConfluenceStore is the durable read seam the aggregator loads its inputs
// from, plus the ATH-result cache that spares a recap re-run over the same
// confluence from re-scanning price history. *db.Connection satisfies it.
type ConfluenceStore interface {
	GetConfluencesSince(tenant string, since time.Time) ([]models.Confluence, error)
	GetCachedATHResult(tenant, tokenAddress string, detectionTimestamp time.Time) (*models.ATHResult, error)
	SaveATHResult(tenant string, detectionTimestamp time.Time, result *models.ATHResult) error
}

// Analyzer is the price-history scan seam. *ath.Analyzer satisfies it.
type Analyzer interface {
	Analyze(ctx context.Context, tokenAddress string, detectionTime time.Time, initialMarketCap decimal.Decimal, endTime time.Time) (*models.ATHResult, error)
}

// TokenRecap is one analyzed confluence's performance entry.
type TokenRecap struct {
	Confluence         models.Confluence
	ATH                models.ATHResult
	PerformanceBucket  string
	QuickDump          bool
	TimeToATHMinutes   int
	DetectionMarketCap decimal.Decimal
}

// WalletScorecard is one wallet's aggregated standing across the window.
type WalletScorecard struct {
	WalletLabel   string
	Appearances   int
	EarlyCount    int
	WeightedScore float64
}

// GroupStats are the window-wide aggregate figures.
type GroupStats struct {
	HitRateAtLeast100Pct float64
	MedianGainPct        decimal.Decimal
	MeanGainPct          decimal.Decimal
}

// Result is the rendered structured payload a recap request produces.
type Result struct {
	Tenant          string
	WindowHours     int
	GeneratedAt     time.Time
	TokensTotal     int
	TokensAnalyzed  int
	Tokens          []TokenRecap
	WalletScorecard []WalletScorecard
	GroupStats      GroupStats
}

// Aggregator is the pure recap computation over a ConfluenceStore and an
// Analyzer; it holds no state of its own across calls.
type Aggregator struct {
	store    ConfluenceStore
	analyzer Analyzer
	logger   *logrus.Logger
}

// NewAggregator creates an Aggregator.
func NewAggregator(store ConfluenceStore, analyzer Analyzer, logger *logrus.Logger) *Aggregator {
	return &Aggregator{store: store, analyzer: analyzer, logger: logger}
}

// Generate produces a Result for tenant over the requested window, clamped
// to [1, 168] hours.
func (a *Aggregator) Generate(ctx context.Context, tenant string, windowHours int) (*Result, error) {
	hours := clampWindow(windowHours)
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	confluences, err := a.store.GetConfluencesSince(tenant, since)
	if err != nil {
		return nil, err
	}

	analyses := a.analyzeAll(ctx, tenant, confluences)

	walletAgg := make(map[string]*WalletScorecard)
	var tokens []TokenRecap
	var gains []decimal.Decimal
	analyzed := 0

	for _, an := range analyses {
		if an == nil {
			continue
		}
		analyzed++

		tokens = append(tokens, TokenRecap{
			Confluence:         an.conf,
			ATH:                *an.result,
			PerformanceBucket:  performanceBucket(an.result.PercentageGain),
			QuickDump:          isQuickDump(an.result, an.conf.DetectionTimestamp),
			TimeToATHMinutes:   an.result.MinutesToATH,
			DetectionMarketCap: an.conf.DetectionMarketCap,
		})
		gains = append(gains, an.result.PercentageGain)

		accumulateWalletScores(walletAgg, an.conf)
	}

	scorecards := make([]WalletScorecard, 0, len(walletAgg))
	for _, s := range walletAgg {
		scorecards = append(scorecards, *s)
	}
	sort.Slice(scorecards, func(i, j int) bool {
		return scorecards[i].WeightedScore > scorecards[j].WeightedScore
	})

	return &Result{
		Tenant:          tenant,
		WindowHours:     hours,
		GeneratedAt:     time.Now(),
		TokensTotal:     len(confluences),
		TokensAnalyzed:  analyzed,
		Tokens:          tokens,
		WalletScorecard: scorecards,
		GroupStats:      computeGroupStats(gains),
	}, nil
}

// tokenAnalysis pairs a confluence with its resolved ATH analysis.
type tokenAnalysis struct {
	conf   models.Confluence
	result *models.ATHResult
}

// analyzeAll runs the ATH analysis for every confluence carrying a token
// address, bounded to maxConcurrentAnalyses in flight at once. A previously
// cached result for the same (tenant, token address, detection timestamp) is
// reused instead of re-scanning price history; a fresh analysis is persisted
// back to the cache. Results are returned in the same order confluences were
// submitted; a nil entry marks a skipped or failed analysis.
func (a *Aggregator) analyzeAll(ctx context.Context, tenant string, confluences []models.Confluence) []*tokenAnalysis {
	p := pool.NewWithResults[*tokenAnalysis]().WithMaxGoroutines(maxConcurrentAnalyses)

	for _, conf := range confluences {
		conf := conf
		if conf.TokenAddress == "" {
			continue
		}

		p.Go(func() *tokenAnalysis {
			if cached, err := a.store.GetCachedATHResult(tenant, conf.TokenAddress, conf.DetectionTimestamp); err != nil {
				a.logger.WithError(err).WithField("token_address", conf.TokenAddress).Warn("ATH result cache lookup failed, re-analyzing")
			} else if cached != nil {
				return &tokenAnalysis{conf: conf, result: cached}
			}

			result, err := a.analyzer.Analyze(ctx, conf.TokenAddress, conf.DetectionTimestamp, conf.DetectionMarketCap, time.Now())
			if err != nil {
				a.logger.WithError(err).WithField("token_address", conf.TokenAddress).Warn("ATH analysis failed during recap, skipping token")
				return nil
			}
			if result == nil {
				return nil
			}

			if err := a.store.SaveATHResult(tenant, conf.DetectionTimestamp, result); err != nil {
				a.logger.WithError(err).WithField("token_address", conf.TokenAddress).Warn("failed to cache ATH result")
			}

			return &tokenAnalysis{conf: conf, result: result}
		})
	}

	return p.Wait()
}

// clampWindow enforces the [1, 168] hour bound on recap window requests.
func clampWindow(hours int) int {
	if hours < minWindowHours {
		return minWindowHours
	}
	if hours > maxWindowHours {
		return maxWindowHours
	}
	return hours
}

// performanceBucket classifies a percentage gain into one of nine fixed
// buckets.
func performanceBucket(gain decimal.Decimal) string {
	switch {
	case gain.LessThanOrEqual(decimal.NewFromInt(-75)):
		return "<=-75%"
	case gain.LessThan(decimal.NewFromInt(-50)):
		return "-75%..-50%"
	case gain.LessThan(decimal.NewFromInt(0)):
		return "-50%..0%"
	case gain.LessThan(decimal.NewFromInt(50)):
		return "0%..50%"
	case gain.LessThan(decimal.NewFromInt(100)):
		return "50%..100%"
	case gain.LessThan(decimal.NewFromInt(200)):
		return "100%..200%"
	case gain.LessThan(decimal.NewFromInt(500)):
		return "200%..500%"
	case gain.LessThan(decimal.NewFromInt(1000)):
		return "500%..1000%"
	default:
		return ">=1000%"
	}
}

// isQuickDump reports whether a result crossed the 50% drop threshold within
// 2 hours of detection while never reaching a 50% gain.
func isQuickDump(result *models.ATHResult, detectionTime time.Time) bool {
	if !result.Drop50PctDetected || result.Drop50PctTimestamp == nil {
		return false
	}
	withinWindow := result.Drop50PctTimestamp.Sub(detectionTime) <= quickDumpWindow
	gainCapped := result.PercentageGain.LessThan(decimal.NewFromInt(quickDumpGainCap))
	return withinWindow && gainCapped
}

// accumulateWalletScores folds one confluence's distinct wallets into the
// running scorecard map, weighting the first two distinct wallets at
// detection by 1.5x.
func accumulateWalletScores(agg map[string]*WalletScorecard, conf models.Confluence) {
	seen := make(map[string]bool)
	distinctIdx := 0
	for _, w := range conf.Wallets {
		key := models.NormalizeWalletLabel(w.Label)
		if seen[key] {
			continue
		}
		seen[key] = true

		weight := 1.0
		early := distinctIdx < earlyWalletCount
		if early {
			weight = earlyWalletWeight
		}
		distinctIdx++

		s, ok := agg[key]
		if !ok {
			s = &WalletScorecard{WalletLabel: w.Label}
			agg[key] = s
		}
		s.Appearances++
		s.WeightedScore += weight
		if early {
			s.EarlyCount++
		}
	}
}

// computeGroupStats derives the window-wide hit rate and gain statistics.
func computeGroupStats(gains []decimal.Decimal) GroupStats {
	if len(gains) == 0 {
		return GroupStats{}
	}

	sorted := make([]decimal.Decimal, len(gains))
	copy(sorted, gains)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	var hits int
	sum := decimal.Zero
	for _, g := range gains {
		if g.GreaterThanOrEqual(decimal.NewFromInt(hitRateThreshold)) {
			hits++
		}
		sum = sum.Add(g)
	}

	mean := sum.Div(decimal.NewFromInt(int64(len(gains))))

	var median decimal.Decimal
	n := len(sorted)
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
	}

	return GroupStats{
		HitRateAtLeast100Pct: math.Round(float64(hits)/float64(len(gains))*10000) / 10000,
		MedianGainPct:        median,
		MeanGainPct:          mean,
	}
}
