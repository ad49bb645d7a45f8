package parser

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

// Two distinct, valid-looking base58 addresses used across the fixtures
// below — one standing in for a token mint, one for a wallet.
const (
	fixtureTokenAddr  = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
	fixtureWalletAddr = "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM"
)

func newRegistry() *Registry {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return NewRegistry(logger)
}

func TestTypeA_BuySwap(t *testing.T) {
	msg := models.InboundMessage{
		Text: "🟢 whale-42\n" +
			"Swapped 1.5 #SOL for 10000 #PEPE\n" +
			"MC: $420k",
		Entities: []models.Entity{
			{Kind: models.EntityTextURL, URL: "https://gmgn.ai/sol/token/" + fixtureTokenAddr},
			{Kind: models.EntityTextURL, URL: "https://t.me/tracker?start=/profile/" + fixtureWalletAddr},
		},
		Timestamp: time.Now(),
	}

	r := newRegistry()
	tx, ok := r.Parse(msg, models.TrackerTypeA)
	require.True(t, ok)
	require.NotNil(t, tx)

	assert.Equal(t, models.SideBuy, tx.Side)
	assert.Equal(t, "PEPE", tx.TokenSymbol)
	assert.Equal(t, "whale-42", tx.WalletLabel)
	assert.True(t, tx.Amount.Equal(decimal.NewFromInt(10000)))
	assert.True(t, tx.QuoteAmount.Equal(decimal.NewFromFloat(1.5)))
	assert.Equal(t, fixtureTokenAddr, tx.TokenAddress)
	assert.Equal(t, models.QuoteSOL, tx.QuoteSymbol)
}

func TestTypeA_SellSwap(t *testing.T) {
	msg := models.InboundMessage{
		Text: "🔴 whale-42\n" +
			"Swapped 10000 #PEPE for 1.5 #SOL\n" +
			"MC: $420k",
		Timestamp: time.Now(),
	}

	r := newRegistry()
	tx, ok := r.Parse(msg, models.TrackerTypeA)
	require.True(t, ok)
	require.NotNil(t, tx)

	assert.Equal(t, models.SideSell, tx.Side)
	assert.Equal(t, "PEPE", tx.TokenSymbol)
}

func TestTypeB_BuySwap(t *testing.T) {
	msg := models.InboundMessage{
		Text: "degen-wallet: Token Buy\n" +
			"Sent: 2.0 SOL\n" +
			"Received: 50000 PEPE\n" +
			"Contract: `" + fixtureTokenAddr + "`\n" +
			"$560.00 | MC: $1.2m",
		Entities: []models.Entity{
			{Kind: models.EntityTextURL, URL: "https://solscan.io/address/" + fixtureWalletAddr},
		},
		Timestamp: time.Now(),
	}

	r := newRegistry()
	tx, ok := r.Parse(msg, models.TrackerTypeB)
	require.True(t, ok)
	require.NotNil(t, tx)

	assert.Equal(t, models.SideBuy, tx.Side)
	assert.Equal(t, "degen-wallet", tx.WalletLabel)
	assert.Equal(t, "PEPE", tx.TokenSymbol)
	assert.Equal(t, fixtureTokenAddr, tx.TokenAddress)
	assert.Equal(t, fixtureWalletAddr, tx.WalletAddress)
}

func TestTypeC_BuySwap(t *testing.T) {
	msg := models.InboundMessage{
		Text: "🟢 BUY #PEPE\n" +
			"1.5 SOL ➡️ 10000 PEPE ($300.50)\n" +
			fixtureTokenAddr + "pump",
		Timestamp: time.Now(),
	}

	r := newRegistry()
	tx, ok := r.Parse(msg, models.TrackerTypeC)
	require.True(t, ok)
	require.NotNil(t, tx)

	assert.Equal(t, models.SideBuy, tx.Side)
	assert.Equal(t, "PEPE", tx.TokenSymbol)
	assert.Equal(t, fixtureTokenAddr, tx.TokenAddress)
	assert.True(t, tx.UsdValue.Equal(decimal.NewFromFloat(300.50)))
}

// TestTokenIdentity_AddressTakesPriorityOverSymbol covers the rule that
// address-keyed and symbol-keyed identities never collide, even when the
// symbol happens to match.
func TestTokenIdentity_AddressTakesPriorityOverSymbol(t *testing.T) {
	withAddr := models.Transaction{TokenAddress: fixtureTokenAddr, TokenSymbol: "PEPE"}
	withoutAddr := models.Transaction{TokenSymbol: "PEPE"}

	assert.NotEqual(t, withAddr.TokenIdentity(), withoutAddr.TokenIdentity())
}

func TestUnrecognizedMessage_DropsWithoutError(t *testing.T) {
	msg := models.InboundMessage{Text: "gm frens, wagmi", Timestamp: time.Now()}

	r := newRegistry()
	for _, tt := range []models.TrackerType{models.TrackerTypeA, models.TrackerTypeB, models.TrackerTypeC} {
		tx, ok := r.Parse(msg, tt)
		assert.False(t, ok)
		assert.Nil(t, tx)
	}
}
