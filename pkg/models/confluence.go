package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConfluenceWallet is one wallet's contributing event inside a Confluence.
type ConfluenceWallet struct {
	Label       string          `json:"label"`
	Side        Side            `json:"side"`
	Amount      decimal.Decimal `json:"amount"`
	QuoteAmount decimal.Decimal `json:"quote_amount"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Confluence is emitted when distinct wallets converge on the same token
// within a tenant's sliding window.
type Confluence struct {
	ID                 string             `json:"id"`
	Tenant             string             `json:"tenant"`
	Side               Side               `json:"side"`
	TokenSymbol        string             `json:"token_symbol"`
	TokenAddress       string             `json:"token_address,omitempty"`
	DetectionTimestamp time.Time          `json:"detection_timestamp"`
	DetectionMarketCap decimal.Decimal    `json:"detection_market_cap"`
	WalletCount        int                `json:"wallet_count"`
	Wallets            []ConfluenceWallet `json:"wallets"`
	FirstTxTimestamp   time.Time          `json:"first_tx_timestamp"`
}

// TokenIdentity mirrors Transaction.TokenIdentity for bucket/dedup keys.
func (c Confluence) TokenIdentity() string {
	if c.TokenAddress != "" {
		return "addr:" + c.TokenAddress
	}
	return "sym:" + c.TokenSymbol
}

// ConfluenceEchoHeader is the glyph+header prefix every outbound alert's
// rendered text must begin with, so the fan-in router can detect and
// suppress its own echoes. Both internal/alerting (which renders it) and
// internal/fanin (which matches against it) depend on this single constant.
const ConfluenceEchoHeader = "🔔 CONFLUENCE"

// AlertKindConfluence is the only outbound alert kind in scope.
const AlertKindConfluence = "CONFLUENCE"

// OutboundAlert is the structured payload handed to an AlertSink; the sink
// renders and transmits it.
type OutboundAlert struct {
	Tenant             string
	Kind               string
	Coin               string
	CoinAddress        string
	Wallets            []string
	DetectionTimestamp time.Time
	MarketCap          decimal.Decimal
}

// AlertFromConfluence builds the outbound alert payload for a detected
// confluence.
func AlertFromConfluence(conf Confluence) OutboundAlert {
	wallets := make([]string, 0, len(conf.Wallets))
	for _, w := range conf.Wallets {
		wallets = append(wallets, w.Label)
	}
	return OutboundAlert{
		Tenant:             conf.Tenant,
		Kind:               AlertKindConfluence,
		Coin:               conf.TokenSymbol,
		CoinAddress:        conf.TokenAddress,
		Wallets:            wallets,
		DetectionTimestamp: conf.DetectionTimestamp,
		MarketCap:          conf.DetectionMarketCap,
	}
}
