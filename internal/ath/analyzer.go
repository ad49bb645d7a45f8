// Package ath implements the phased, adaptive-resolution price-history scan
// that computes peak gain and early-drop thresholds following a confluence
// detection, plus the batch orchestrator that runs it across many tokens
// under a shared rate budget.
package ath

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/skarlow/confluence-oracle/internal/priceapi"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

const (
	batchSize       = 3
	interGroupDelay = 1 * time.Second
	requestsPerSec  = 5
)

var earlyDropThresholds = []int{20, 30, 40, 50}

type scanPhase struct {
	startOffset time.Duration
	endOffset   time.Duration
	resolution  string
}

var scanPhases = []scanPhase{
	{startOffset: 0, endOffset: 30 * time.Minute, resolution: "5m"},
	{startOffset: 30 * time.Minute, endOffset: 2 * time.Hour, resolution: "15m"},
	{startOffset: 2 * time.Hour, endOffset: 48 * time.Hour, resolution: "30m"},
}

// Analyzer runs the phased ATH scan against a price-history client, under a
// process-wide shared rate limiter.
type Analyzer struct {
	priceClient priceapi.Client
	limiter     *rate.Limiter
	logger      *logrus.Logger
}

// NewAnalyzer creates an Analyzer with the global 5rps / 200ms-inter-request
// budget.
func NewAnalyzer(priceClient priceapi.Client, logger *logrus.Logger) *Analyzer {
	return &Analyzer{
		priceClient: priceClient,
		limiter:     rate.NewLimiter(rate.Every(time.Second/requestsPerSec), 1),
		logger:      logger,
	}
}

// ScanRequest is one token submitted to the analyzer.
type ScanRequest struct {
	TokenAddress     string
	DetectionTime    time.Time
	InitialMarketCap decimal.Decimal
	EndTime          time.Time
}

// ScanOutcome pairs a request with its result; Result is nil when the scan
// returned None (no analyzable data or a failed price query), Err is nil
// unless the context ended while waiting on the rate limiter.
type ScanOutcome struct {
	Request ScanRequest
	Result  *models.ATHResult
	Err     error
}

// Analyze runs the phased scan for a single token. It never returns an error
// for "no data" conditions — those yield (nil, nil); the analyzer never
// throws, failures return nil and are counted by the caller instead.
func (a *Analyzer) Analyze(ctx context.Context, tokenAddress string, detectionTime time.Time, initialMarketCap decimal.Decimal, endTime time.Time) (*models.ATHResult, error) {
	if models.IsSimulationAddress(tokenAddress) {
		return nil, nil
	}

	var samples []models.PricePoint
	var initialPrice, maxPrice, minPrice, minBeforeAth decimal.Decimal
	var maxTimestamp, minBeforeAthTime time.Time
	recorded := make(map[int]bool, len(earlyDropThresholds))
	var earlyDrops []models.EarlyDrop
	var drop50Detected bool
	var drop50Timestamp *time.Time
	initialized := false

phaseLoop:
	for _, phase := range scanPhases {
		phaseFrom := detectionTime.Add(phase.startOffset)
		phaseTo := detectionTime.Add(phase.endOffset)
		if phaseFrom.After(endTime) {
			break
		}
		if phaseTo.After(endTime) {
			phaseTo = endTime
		}
		if !phaseFrom.Before(phaseTo) {
			continue
		}

		if err := a.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		points, err := a.priceClient.GetPriceHistory(tokenAddress, phaseFrom, phaseTo, phase.resolution)
		if err != nil {
			a.logger.WithError(err).WithField("token_address", tokenAddress).Warn("price history phase query failed, using partial result")
			if !initialized {
				return nil, nil
			}
			break
		}
		if len(points) == 0 {
			if !initialized {
				return nil, nil
			}
			continue
		}

		for _, p := range points {
			ts := time.Unix(p.UnixTime, 0)

			if !initialized {
				if p.Value.Sign() <= 0 {
					return nil, nil
				}
				initialPrice = p.Value
				maxPrice = p.Value
				maxTimestamp = ts
				minPrice = p.Value
				minBeforeAth = p.Value
				minBeforeAthTime = ts
				samples = append(samples, p)
				initialized = true
				continue
			}

			samples = append(samples, p)

			if p.Value.GreaterThan(maxPrice) {
				maxPrice = p.Value
				maxTimestamp = ts
				minBeforeAth, minBeforeAthTime = minBefore(samples, ts)
			}
			if p.Value.LessThan(minPrice) {
				minPrice = p.Value
			}

			dropFraction := decimal.NewFromInt(1).Sub(p.Value.Div(initialPrice))
			for _, threshold := range earlyDropThresholds {
				if recorded[threshold] {
					continue
				}
				thresholdFraction := decimal.NewFromInt(int64(threshold)).Div(decimal.NewFromInt(100))
				if dropFraction.GreaterThanOrEqual(thresholdFraction) {
					recorded[threshold] = true
					earlyDrops = append(earlyDrops, models.EarlyDrop{
						ThresholdPct:      threshold,
						MinutesFromDetect: int(ts.Sub(detectionTime).Minutes()),
					})
				}
			}

			if p.Value.LessThanOrEqual(initialPrice.Mul(decimal.NewFromFloat(0.5))) {
				drop50Detected = true
				t := ts
				drop50Timestamp = &t
				break phaseLoop
			}
		}
	}

	if !initialized {
		return nil, nil
	}

	percentageGain := maxPrice.Sub(initialPrice).Div(initialPrice).Mul(decimal.NewFromInt(100))

	return &models.ATHResult{
		TokenAddress:          tokenAddress,
		InitialPrice:          initialPrice,
		AthPrice:              maxPrice,
		AthTimestamp:          maxTimestamp,
		PercentageGain:        percentageGain,
		MinutesToATH:          int(maxTimestamp.Sub(detectionTime).Minutes()),
		MinPriceBeforeAth:     minBeforeAth,
		MinutesToMinBeforeAth: int(minBeforeAthTime.Sub(detectionTime).Minutes()),
		EarlyDrops:            earlyDrops,
		Drop50PctDetected:     drop50Detected,
		Drop50PctTimestamp:    drop50Timestamp,
		DataPoints:            len(samples),
	}, nil
}

// minBefore rescans the accumulated samples to find the minimum price
// strictly before newMaxTs — the low point reached on the way up to a new
// all-time high, rescanned from scratch every time one is found.
func minBefore(samples []models.PricePoint, newMaxTs time.Time) (decimal.Decimal, time.Time) {
	var min decimal.Decimal
	var minTs time.Time
	found := false
	for _, s := range samples {
		ts := time.Unix(s.UnixTime, 0)
		if !ts.Before(newMaxTs) {
			continue
		}
		if !found || s.Value.LessThan(min) {
			min = s.Value
			minTs = ts
			found = true
		}
	}
	if !found {
		return samples[0].Value, time.Unix(samples[0].UnixTime, 0)
	}
	return min, minTs
}

// AnalyzeBatch runs Analyze for every request, in groups of batchSize
// processed sequentially (never concurrently, so the rate budget stays
// predictable) with an inter-group delay.
func (a *Analyzer) AnalyzeBatch(ctx context.Context, requests []ScanRequest) []ScanOutcome {
	outcomes := make([]ScanOutcome, 0, len(requests))

	for i := 0; i < len(requests); i += batchSize {
		end := i + batchSize
		if end > len(requests) {
			end = len(requests)
		}

		for _, req := range requests[i:end] {
			result, err := a.Analyze(ctx, req.TokenAddress, req.DetectionTime, req.InitialMarketCap, req.EndTime)
			outcomes = append(outcomes, ScanOutcome{Request: req, Result: result, Err: err})
		}

		if end < len(requests) {
			time.Sleep(interGroupDelay)
		}
	}

	return outcomes
}
