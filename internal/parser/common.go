package parser

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

// addressRe matches a bare base58 token/wallet address, 32-44 chars.
var addressRe = regexp.MustCompile(`[1-9A-HJ-NP-Za-km-z]{32,44}`)

// chartLinkAddrRe matches an address used as a URL path segment, with an
// optional "pump" suffix (the launchpad convention for bonding-curve
// tokens), e.g. https://dexscreener.com/solana/<addr>pump
var chartLinkAddrRe = regexp.MustCompile(`/([1-9A-HJ-NP-Za-km-z]{32,44})(pump)?(?:[/?]|$)`)

// botDeepLinkRe matches a trading-bot deep link of the form
// t.me/bot?start=d-<session>-<addr>
var botDeepLinkRe = regexp.MustCompile(`start=d-[^-]*-([1-9A-HJ-NP-Za-km-z]{32,44})`)

// profileURLRe matches a tracker profile URL's trailing wallet address.
var profileURLRe = regexp.MustCompile(`/profile/([1-9A-HJ-NP-Za-km-z]{32,44})`)

// explorerAddressRe matches a block-explorer address URL.
var explorerAddressRe = regexp.MustCompile(`/address/([1-9A-HJ-NP-Za-km-z]{32,44})`)

// usdValueRe matches the first "$<number>" occurrence, optionally with
// comma separators.
var usdValueRe = regexp.MustCompile(`\$([0-9][0-9,]*\.?[0-9]*)`)

// marketCapRe matches "MC: $<number><suffix?>".
var marketCapRe = regexp.MustCompile(`(?i)MC:?\s*\$([0-9][0-9,]*\.?[0-9]*)\s*([kKmMbB])?`)

// suffixMultiplier expands a k/M/B suffix into a decimal multiplier.
func suffixMultiplier(suffix string) decimal.Decimal {
	switch strings.ToLower(suffix) {
	case "k":
		return decimal.NewFromInt(1_000)
	case "m":
		return decimal.NewFromInt(1_000_000)
	case "b":
		return decimal.NewFromInt(1_000_000_000)
	default:
		return decimal.NewFromInt(1)
	}
}

// parseDecimal parses a comma-stripped numeric string into a Decimal,
// returning zero on failure rather than propagating an error — parsers
// never fail the pipeline.
func parseDecimal(s string) decimal.Decimal {
	clean := strings.ReplaceAll(s, ",", "")
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// findFirstUSDValue returns the first "$N" amount in text.
func findFirstUSDValue(text string) decimal.Decimal {
	m := usdValueRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero
	}
	return parseDecimal(m[1])
}

// findMarketCap returns the "MC: $N[k|M|B]" value in text, expanded.
func findMarketCap(text string) decimal.Decimal {
	m := marketCapRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero
	}
	base := parseDecimal(m[1])
	return base.Mul(suffixMultiplier(m[2]))
}

// entityURLs returns the URL strings carried by url/text_url entities, in
// message order — this is what chart links and deep links are resolved
// from before falling back to text pattern matching.
func entityURLs(msg models.InboundMessage) []string {
	urls := make([]string, 0, len(msg.Entities))
	for _, e := range msg.Entities {
		if (e.Kind == models.EntityURL || e.Kind == models.EntityTextURL) && e.URL != "" {
			urls = append(urls, e.URL)
		}
	}
	return urls
}

// resolveTokenAddressFromURLs applies the chart-link then deep-link URL
// priority shared by the type A and C extractors.
func resolveTokenAddressFromURLs(urls []string) string {
	for _, u := range urls {
		if m := chartLinkAddrRe.FindStringSubmatch(u); m != nil {
			return m[1]
		}
	}
	for _, u := range urls {
		if m := botDeepLinkRe.FindStringSubmatch(u); m != nil {
			return m[1]
		}
	}
	return ""
}

// resolveTokenAddressFromText is the text-pattern fallback for when no URL
// entity carried the address.
func resolveTokenAddressFromText(text string) string {
	if m := chartLinkAddrRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := botDeepLinkRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

// resolveWalletAddress scans url entities then raw text for a profile-link
// or explorer-link wallet address.
func resolveWalletAddress(msg models.InboundMessage, pattern *regexp.Regexp) string {
	for _, u := range entityURLs(msg) {
		if m := pattern.FindStringSubmatch(u); m != nil {
			return m[1]
		}
	}
	if m := pattern.FindStringSubmatch(msg.Text); m != nil {
		return m[1]
	}
	return ""
}

// lastMatchingAddress returns the last line of text matching a bare base58
// address, with an optional "pump" suffix stripped.
func lastMatchingAddress(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if m := addressRe.FindString(line); m != "" && (m == line || m == strings.TrimSuffix(line, "pump")) {
			return strings.TrimSuffix(m, "pump")
		}
	}
	return ""
}
