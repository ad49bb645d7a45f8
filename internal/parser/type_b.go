package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

// typeBExtractor handles the format where the wallet label ends at the
// first colon, side comes from an explicit "Token Buy"/"Token Sell" phrase,
// the token address sits in a monospace `...` segment, and quantities are
// on two labeled "Sent"/"Received" lines.
type typeBExtractor struct{}

var (
	typeBLabelRe    = regexp.MustCompile(`^\s*([^:\n]+):`)
	typeBSideRe     = regexp.MustCompile(`(?i)Token\s+(Buy|Sell)`)
	typeBAddressRe  = regexp.MustCompile("`([1-9A-HJ-NP-Za-km-z]{32,44})`")
	typeBSentRe     = regexp.MustCompile(`(?im)^Sent:\s*([\d.,]+)\s*(\w+)`)
	typeBReceivedRe = regexp.MustCompile(`(?im)^Received:\s*([\d.,]+)\s*(\w+)`)
)

func (e *typeBExtractor) Extract(msg models.InboundMessage) (*models.Transaction, bool) {
	text := msg.Text

	labelMatch := typeBLabelRe.FindStringSubmatch(text)
	if labelMatch == nil {
		return nil, false
	}
	walletLabel := strings.TrimSpace(labelMatch[1])

	sideMatch := typeBSideRe.FindStringSubmatch(text)
	if sideMatch == nil {
		return nil, false
	}
	var side models.Side
	if strings.EqualFold(sideMatch[1], "Buy") {
		side = models.SideBuy
	} else {
		side = models.SideSell
	}

	sent := typeBSentRe.FindStringSubmatch(text)
	received := typeBReceivedRe.FindStringSubmatch(text)
	if sent == nil || received == nil {
		return nil, false
	}

	var quoteAmount, tokenAmount decimal.Decimal
	var quoteSym models.QuoteSymbol
	var tokenSym string
	if isQuoteSymbol(sent[2]) {
		quoteAmount, quoteSym = parseDecimal(sent[1]), models.QuoteSymbol(strings.ToUpper(sent[2]))
		tokenAmount, tokenSym = parseDecimal(received[1]), received[2]
	} else {
		tokenAmount, tokenSym = parseDecimal(sent[1]), sent[2]
		quoteAmount, quoteSym = parseDecimal(received[1]), models.QuoteSymbol(strings.ToUpper(received[2]))
	}

	tx := &models.Transaction{
		WalletLabel: walletLabel,
		Side:        side,
		TokenSymbol: tokenSym,
		Amount:      tokenAmount,
		QuoteAmount: quoteAmount,
		QuoteSymbol: quoteSym,
		UsdValue:    findFirstUSDValue(text),
		MarketCap:   findMarketCap(text),
		Timestamp:   msg.Timestamp,
	}

	if addr := typeBAddressRe.FindStringSubmatch(text); addr != nil {
		tx.TokenAddress = addr[1]
	}
	tx.WalletAddress = resolveWalletAddress(msg, explorerAddressRe)

	return tx, true
}
