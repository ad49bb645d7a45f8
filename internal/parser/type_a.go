package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

// typeAExtractor handles the format where a colored-circle glyph pair marks
// buy/sell, the wallet label is the line right after a marker glyph, and a
// "Swapped X #QUOTE for Y #TOKEN" sentence carries the amounts.
type typeAExtractor struct{}

var (
	typeAMarkerRe = regexp.MustCompile(`(?m)^[\x{1F300}-\x{1FAFF}\x{2600}-\x{27BF}]\s*(.+)$`)
	typeABuyRe    = regexp.MustCompile(`(?i)Swapped\s+([\d.,]+)\s*#(\w+)\s+for\s+([\d.,]+)\s*#(\w+)`)
	typeASideRe   = regexp.MustCompile(`🟢|🔴`)
)

func (e *typeAExtractor) Extract(msg models.InboundMessage) (*models.Transaction, bool) {
	text := msg.Text

	walletLabel := ""
	if m := typeAMarkerRe.FindStringSubmatch(text); m != nil {
		walletLabel = strings.TrimSpace(m[1])
	}
	if walletLabel == "" {
		return nil, false
	}

	swap := typeABuyRe.FindStringSubmatch(text)
	if swap == nil {
		return nil, false
	}

	side, ok := resolveTypeASide(text, swap)
	if !ok {
		return nil, false
	}

	// swap = [_, firstAmount, firstSym, secondAmount, secondSym]. A buy
	// reads "Swapped <quote> for <token>"; a sell is the mirror.
	var quoteAmount, tokenAmount decimal.Decimal
	var quoteSym models.QuoteSymbol
	var tokenSym string
	if side == models.SideBuy {
		quoteAmount, quoteSym = parseDecimal(swap[1]), models.QuoteSymbol(strings.ToUpper(swap[2]))
		tokenAmount, tokenSym = parseDecimal(swap[3]), swap[4]
	} else {
		tokenAmount, tokenSym = parseDecimal(swap[1]), swap[2]
		quoteAmount, quoteSym = parseDecimal(swap[3]), models.QuoteSymbol(strings.ToUpper(swap[4]))
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

	urls := entityURLs(msg)
	tx.TokenAddress = resolveTokenAddressFromURLs(urls)
	if tx.TokenAddress == "" {
		tx.TokenAddress = resolveTokenAddressFromText(text)
	}
	tx.WalletAddress = resolveWalletAddress(msg, profileURLRe)

	return tx, true
}

// resolveTypeASide derives buy/sell from the colored-circle glyph pair
// (🟢 buy, 🔴 sell); if neither glyph is present it falls back to the
// "Swapped X for Y" sentence's own orientation — a known quote symbol in
// the first position is a buy, in the second position a sell.
func resolveTypeASide(text string, swap []string) (models.Side, bool) {
	glyph := typeASideRe.FindString(text)
	switch glyph {
	case "🟢":
		return models.SideBuy, true
	case "🔴":
		return models.SideSell, true
	}

	if isQuoteSymbol(swap[2]) && !isQuoteSymbol(swap[4]) {
		return models.SideBuy, true
	}
	if isQuoteSymbol(swap[4]) && !isQuoteSymbol(swap[2]) {
		return models.SideSell, true
	}
	return "", false
}

func isQuoteSymbol(sym string) bool {
	switch strings.ToUpper(sym) {
	case "SOL", "ETH", "USDC", "USDT":
		return true
	}
	return false
}
