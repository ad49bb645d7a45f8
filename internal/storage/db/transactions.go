package db

import (
	"context"
	"fmt"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

// StoreTransaction persists every parsed trade event, independent of whether
// it later contributes to a confluence — the audit trail a recap or a manual
// investigation reads back against.
func (c *Connection) StoreTransaction(tenant string, tx models.Transaction) error {
	ctx := context.Background()

	query := `
		INSERT INTO transactions (
			tenant, wallet_label, wallet_address, side, token_symbol, token_address,
			amount, quote_amount, quote_symbol, usd_value, market_cap, occurred_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := c.pool.Exec(ctx, query,
		tenant,
		tx.WalletLabel,
		tx.WalletAddress,
		tx.Side,
		tx.TokenSymbol,
		tx.TokenAddress,
		tx.Amount,
		tx.QuoteAmount,
		tx.QuoteSymbol,
		tx.UsdValue,
		tx.MarketCap,
		tx.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("échec de l'enregistrement de la transaction: %w", err)
	}

	return nil
}
