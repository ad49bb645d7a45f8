package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

// typeCExtractor handles the format where side comes from a glyph+word
// marker ("🟢 BUY" / "🔴 SELL"), the token symbol is on the header line or a
// "#SYM" token, the swap line carries both amounts plus an embedded
// "($N)" USD value, and the token address is the last base58-shaped line.
type typeCExtractor struct{}

var (
	typeCSideRe    = regexp.MustCompile(`(?i)(🟢\s*BUY|🔴\s*SELL)`)
	typeCHashTagRe = regexp.MustCompile(`#(\w+)`)
	typeCSwapRe    = regexp.MustCompile(`([\d.,]+)\s*(\w+)\s*(?:➡️|->|→)\s*([\d.,]+)\s*(\w+)\s*\(\$([\d.,]+)\)`)
)

func (e *typeCExtractor) Extract(msg models.InboundMessage) (*models.Transaction, bool) {
	text := msg.Text

	sideMatch := typeCSideRe.FindStringSubmatch(text)
	if sideMatch == nil {
		return nil, false
	}
	var side models.Side
	if strings.Contains(sideMatch[1], "🟢") || strings.Contains(strings.ToUpper(sideMatch[1]), "BUY") {
		side = models.SideBuy
	} else {
		side = models.SideSell
	}

	swap := typeCSwapRe.FindStringSubmatch(text)
	if swap == nil {
		return nil, false
	}

	var quoteAmount, tokenAmount decimal.Decimal
	var quoteSym models.QuoteSymbol
	var tokenSym string
	if isQuoteSymbol(swap[2]) {
		quoteAmount = parseDecimal(swap[1])
		quoteSym = models.QuoteSymbol(strings.ToUpper(swap[2]))
		tokenAmount = parseDecimal(swap[3])
		tokenSym = swap[4]
	} else {
		tokenAmount = parseDecimal(swap[1])
		tokenSym = swap[2]
		quoteAmount = parseDecimal(swap[3])
		quoteSym = models.QuoteSymbol(strings.ToUpper(swap[4]))
	}

	if sym := headerOrHashTagSymbol(text); sym != "" {
		tokenSym = sym
	}

	tx := &models.Transaction{
		WalletLabel: firstLine(text),
		Side:        side,
		TokenSymbol: tokenSym,
		Amount:      tokenAmount,
		QuoteAmount: quoteAmount,
		QuoteSymbol: quoteSym,
		UsdValue:    parseDecimal(swap[5]),
		MarketCap:   findMarketCap(text),
		Timestamp:   msg.Timestamp,
	}

	tx.TokenAddress = strings.TrimSuffix(lastMatchingAddress(text), "pump")

	return tx, true
}

// headerOrHashTagSymbol prefers a "#SYM" hashtag anywhere in the message,
// falling back to nothing — the swap line's own symbol is used otherwise.
func headerOrHashTagSymbol(text string) string {
	if m := typeCHashTagRe.FindStringSubmatch(text); m != nil {
		return strings.ToUpper(m[1])
	}
	return ""
}

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		return strings.TrimSpace(text[:idx])
	}
	return strings.TrimSpace(text)
}
