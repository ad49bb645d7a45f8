package recap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

type fakeConfluenceStore struct {
	confluences []models.Confluence
	err         error

	saved map[string]*models.ATHResult
}

func (f *fakeConfluenceStore) GetConfluencesSince(tenant string, since time.Time) ([]models.Confluence, error) {
	return f.confluences, f.err
}

func athCacheKey(tenant, tokenAddress string, detectionTimestamp time.Time) string {
	return tenant + ":" + tokenAddress + ":" + detectionTimestamp.String()
}

func (f *fakeConfluenceStore) GetCachedATHResult(tenant, tokenAddress string, detectionTimestamp time.Time) (*models.ATHResult, error) {
	if f.saved == nil {
		return nil, nil
	}
	return f.saved[athCacheKey(tenant, tokenAddress, detectionTimestamp)], nil
}

func (f *fakeConfluenceStore) SaveATHResult(tenant string, detectionTimestamp time.Time, result *models.ATHResult) error {
	if f.saved == nil {
		f.saved = make(map[string]*models.ATHResult)
	}
	f.saved[athCacheKey(tenant, result.TokenAddress, detectionTimestamp)] = result
	return nil
}

type fakeAnalyzer struct {
	results map[string]*models.ATHResult
	errs    map[string]error
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, tokenAddress string, detectionTime time.Time, initialMarketCap decimal.Decimal, endTime time.Time) (*models.ATHResult, error) {
	if err, ok := f.errs[tokenAddress]; ok {
		return nil, err
	}
	return f.results[tokenAddress], nil
}

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func confluenceFixture(tokenAddr string, detectedAt time.Time, wallets ...string) models.Confluence {
	var cw []models.ConfluenceWallet
	for _, w := range wallets {
		cw = append(cw, models.ConfluenceWallet{Label: w, Side: models.SideBuy, Timestamp: detectedAt})
	}
	return models.Confluence{
		ID:                 "conf-" + tokenAddr,
		Tenant:             "tenant-1",
		Side:               models.SideBuy,
		TokenSymbol:        "PEPE",
		TokenAddress:       tokenAddr,
		DetectionTimestamp: detectedAt,
		DetectionMarketCap: decimal.NewFromInt(100000),
		WalletCount:        len(wallets),
		Wallets:            cw,
		FirstTxTimestamp:   detectedAt,
	}
}

func TestGenerate_SkipsConfluencesWithoutTokenAddress(t *testing.T) {
	now := time.Now()
	conf := confluenceFixture("", now, "wallet-a", "wallet-b")
	store := &fakeConfluenceStore{confluences: []models.Confluence{conf}}
	analyzer := &fakeAnalyzer{results: map[string]*models.ATHResult{}}

	agg := NewAggregator(store, analyzer, newTestLogger())
	result, err := agg.Generate(context.Background(), "tenant-1", 24)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TokensTotal)
	assert.Equal(t, 0, result.TokensAnalyzed)
}

func TestGenerate_ClassifiesPerformanceBucketAndQuickDump(t *testing.T) {
	now := time.Now()
	conf := confluenceFixture("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", now, "wallet-a", "wallet-b")
	drop50Time := now.Add(90 * time.Minute)

	store := &fakeConfluenceStore{confluences: []models.Confluence{conf}}
	analyzer := &fakeAnalyzer{results: map[string]*models.ATHResult{
		conf.TokenAddress: {
			TokenAddress:       conf.TokenAddress,
			InitialPrice:       decimal.NewFromFloat(1.0),
			AthPrice:           decimal.NewFromFloat(1.3),
			PercentageGain:     decimal.NewFromInt(30),
			MinutesToATH:       20,
			Drop50PctDetected:  true,
			Drop50PctTimestamp: &drop50Time,
		},
	}}

	agg := NewAggregator(store, analyzer, newTestLogger())
	result, err := agg.Generate(context.Background(), "tenant-1", 24)
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)
	assert.Equal(t, "0%..50%", result.Tokens[0].PerformanceBucket)
	assert.True(t, result.Tokens[0].QuickDump)
}

func TestGenerate_WeightsFirstTwoDistinctWalletsHigher(t *testing.T) {
	now := time.Now()
	conf := confluenceFixture("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", now, "wallet-a", "wallet-b", "wallet-c")

	store := &fakeConfluenceStore{confluences: []models.Confluence{conf}}
	analyzer := &fakeAnalyzer{results: map[string]*models.ATHResult{
		conf.TokenAddress: {TokenAddress: conf.TokenAddress, PercentageGain: decimal.NewFromInt(10)},
	}}

	agg := NewAggregator(store, analyzer, newTestLogger())
	result, err := agg.Generate(context.Background(), "tenant-1", 24)
	require.NoError(t, err)

	scores := map[string]float64{}
	for _, s := range result.WalletScorecard {
		scores[s.WalletLabel] = s.WeightedScore
	}
	assert.Equal(t, 1.5, scores["wallet-a"])
	assert.Equal(t, 1.5, scores["wallet-b"])
	assert.Equal(t, 1.0, scores["wallet-c"])
}

func TestGenerate_GroupStatsHitRateMedianMean(t *testing.T) {
	now := time.Now()
	addrs := []string{
		"7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU",
		"9yLYug3DX98e08UYKTEqcE6kCliftqB94UAStKptBtV",
		"2aBCdE1FG23h45IJKLMnopQRsTUVwxYz1234567890",
	}
	var confluences []models.Confluence
	results := map[string]*models.ATHResult{}
	gains := []int64{50, 100, 150}
	for i, addr := range addrs {
		confluences = append(confluences, confluenceFixture(addr, now, "wallet-a", "wallet-b"))
		results[addr] = &models.ATHResult{TokenAddress: addr, PercentageGain: decimal.NewFromInt(gains[i])}
	}

	store := &fakeConfluenceStore{confluences: confluences}
	analyzer := &fakeAnalyzer{results: results}

	agg := NewAggregator(store, analyzer, newTestLogger())
	result, err := agg.Generate(context.Background(), "tenant-1", 24)
	require.NoError(t, err)

	assert.InDelta(t, 2.0/3.0, result.GroupStats.HitRateAtLeast100Pct, 0.0001)
	assert.True(t, result.GroupStats.MedianGainPct.Equal(decimal.NewFromInt(100)))
	assert.True(t, result.GroupStats.MeanGainPct.Equal(decimal.NewFromInt(100)))
}

func TestGenerate_ClampsWindowHours(t *testing.T) {
	store := &fakeConfluenceStore{}
	analyzer := &fakeAnalyzer{}
	agg := NewAggregator(store, analyzer, newTestLogger())

	result, err := agg.Generate(context.Background(), "tenant-1", 10000)
	require.NoError(t, err)
	assert.Equal(t, maxWindowHours, result.WindowHours)

	result, err = agg.Generate(context.Background(), "tenant-1", 0)
	require.NoError(t, err)
	assert.Equal(t, minWindowHours, result.WindowHours)
}

func TestGenerate_SkipsTokenOnAnalyzerError(t *testing.T) {
	now := time.Now()
	conf := confluenceFixture("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", now, "wallet-a", "wallet-b")
	store := &fakeConfluenceStore{confluences: []models.Confluence{conf}}
	analyzer := &fakeAnalyzer{errs: map[string]error{conf.TokenAddress: assertErr{}}}

	agg := NewAggregator(store, analyzer, newTestLogger())
	result, err := agg.Generate(context.Background(), "tenant-1", 24)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TokensTotal)
	assert.Equal(t, 0, result.TokensAnalyzed)
}

func TestGenerate_CachesAndReusesATHResult(t *testing.T) {
	now := time.Now()
	conf := confluenceFixture("7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU", now, "wallet-a", "wallet-b")
	store := &fakeConfluenceStore{confluences: []models.Confluence{conf}}
	analyzer := &fakeAnalyzer{results: map[string]*models.ATHResult{
		conf.TokenAddress: {TokenAddress: conf.TokenAddress, PercentageGain: decimal.NewFromInt(42)},
	}}

	agg := NewAggregator(store, analyzer, newTestLogger())

	result, err := agg.Generate(context.Background(), "tenant-1", 24)
	require.NoError(t, err)
	require.Len(t, result.Tokens, 1)
	assert.True(t, result.Tokens[0].ATH.PercentageGain.Equal(decimal.NewFromInt(42)))
	assert.Len(t, store.saved, 1, "a fresh analysis must be cached")

	// A second recap over the same confluence must reuse the cached result
	// instead of calling the analyzer again.
	analyzer.results[conf.TokenAddress] = &models.ATHResult{TokenAddress: conf.TokenAddress, PercentageGain: decimal.NewFromInt(999)}
	result2, err := agg.Generate(context.Background(), "tenant-1", 24)
	require.NoError(t, err)
	require.Len(t, result2.Tokens, 1)
	assert.True(t, result2.Tokens[0].ATH.PercentageGain.Equal(decimal.NewFromInt(42)), "cached result must be reused, not re-analyzed")
}

type assertErr struct{}

func (assertErr) Error() string { return "analyzer failed" }
