package models

import (
	"strings"
	"time"
	"unicode"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Side is the direction of a parsed trade event.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// QuoteSymbol is the base currency of a swap.
type QuoteSymbol string

const (
	QuoteSOL  QuoteSymbol = "SOL"
	QuoteETH  QuoteSymbol = "ETH"
	QuoteUSDC QuoteSymbol = "USDC"
	QuoteUSDT QuoteSymbol = "USDT"
)

// simulationPrefixes are reserved address prefixes used by tracker bots for
// paper-trading / simulated wallets. Addresses starting with one of these are
// never treated as real activity.
var simulationPrefixes = []string{"SIM", "TEST", "DEMO1111"}

// Transaction is a normalized trade event extracted from a tracker message.
type Transaction struct {
	WalletLabel   string          `json:"wallet_label"`
	WalletAddress string          `json:"wallet_address,omitempty"`
	Side          Side            `json:"side"`
	TokenSymbol   string          `json:"token_symbol"`
	TokenAddress  string          `json:"token_address,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	QuoteAmount   decimal.Decimal `json:"quote_amount"`
	QuoteSymbol   QuoteSymbol     `json:"quote_symbol"`
	UsdValue      decimal.Decimal `json:"usd_value"`
	MarketCap     decimal.Decimal `json:"market_cap"`
	Timestamp     time.Time       `json:"timestamp"`
}

// TokenIdentity returns the canonical token key for bucketing: the address
// when present, otherwise the uppercased symbol. Address-keyed and
// symbol-keyed identities are never considered equal, even if the symbol
// matches.
func (t Transaction) TokenIdentity() string {
	if t.TokenAddress != "" {
		return "addr:" + t.TokenAddress
	}
	return "sym:" + strings.ToUpper(t.TokenSymbol)
}

// WalletIdentity returns the distinct-wallet key: address when present, else
// the normalized label.
func (t Transaction) WalletIdentity() string {
	if t.WalletAddress != "" {
		return "addr:" + t.WalletAddress
	}
	return "label:" + NormalizeWalletLabel(t.WalletLabel)
}

// NormalizeWalletLabel case-folds and NFKC-normalizes a wallet label so that
// visually-identical handles using different codepoints compare equal.
func NormalizeWalletLabel(label string) string {
	folded := strings.ToLower(strings.TrimSpace(label))
	return norm.NFKC.String(folded)
}

// IsSimulationAddress reports whether s carries a reserved paper-trading
// prefix, independent of whether it is otherwise a well-formed address —
// the price-history client short-circuits on this without a network call.
func IsSimulationAddress(s string) bool {
	for _, p := range simulationPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// IsValidAddress reports whether s matches the base58 alphabet/length rule
// expected of a Solana-style token or wallet address (≥30 chars) and is not a
// reserved simulation placeholder.
func IsValidAddress(s string) bool {
	if len(s) < 30 || len(s) > 64 {
		return false
	}
	for _, p := range simulationPrefixes {
		if strings.HasPrefix(s, p) {
			return false
		}
	}
	if _, err := base58.Decode(s); err != nil {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// Normalize applies the post-normalization stage shared by every parser:
// uppercase the symbol, drop invalid addresses, and default the quote
// symbol. Returns false if the transaction has neither a usable token
// address nor symbol, or no determinable side — per spec the caller should
// then discard the result entirely (ParseNoMatch/ParseMalformed).
func (t *Transaction) Normalize() bool {
	t.TokenSymbol = strings.ToUpper(strings.TrimSpace(t.TokenSymbol))
	if t.TokenAddress != "" && !IsValidAddress(t.TokenAddress) {
		t.TokenAddress = ""
	}
	if t.WalletAddress != "" && !IsValidAddress(t.WalletAddress) {
		t.WalletAddress = ""
	}
	if t.QuoteSymbol == "" {
		t.QuoteSymbol = QuoteSOL
	} else {
		t.QuoteSymbol = QuoteSymbol(strings.ToUpper(string(t.QuoteSymbol)))
	}
	if t.Side != SideBuy && t.Side != SideSell {
		return false
	}
	if t.TokenAddress == "" && t.TokenSymbol == "" {
		return false
	}
	return true
}
