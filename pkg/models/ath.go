package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EarlyDrop records the first time a drop threshold was crossed relative to
// detection.
type EarlyDrop struct {
	ThresholdPct     int `json:"threshold_pct"`
	MinutesFromDetect int `json:"minutes_from_detection"`
}

// ATHResult is the outcome of the phased price-history scan following a
// Confluence detection.
type ATHResult struct {
	TokenAddress          string          `json:"token_address"`
	InitialPrice          decimal.Decimal `json:"initial_price"`
	AthPrice              decimal.Decimal `json:"ath_price"`
	AthTimestamp          time.Time       `json:"ath_timestamp"`
	PercentageGain        decimal.Decimal `json:"percentage_gain"`
	MinutesToATH          int             `json:"minutes_to_ath"`
	MinPriceBeforeAth     decimal.Decimal `json:"min_price_before_ath"`
	MinutesToMinBeforeAth int             `json:"minutes_to_min_before_ath"`
	EarlyDrops            []EarlyDrop     `json:"early_drops"`
	Drop50PctDetected     bool            `json:"drop_50pct_detected"`
	Drop50PctTimestamp    *time.Time      `json:"drop_50pct_timestamp,omitempty"`
	DataPoints            int             `json:"data_points"`
}

// PricePoint is one sample from the price-history API.
type PricePoint struct {
	UnixTime int64
	Value    decimal.Decimal
}
