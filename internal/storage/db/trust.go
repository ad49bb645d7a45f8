package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// SaveWalletTrustScore upserts a wallet's current trust score, called
// periodically by the trust ledger's maintenance sweep.
func (c *Connection) SaveWalletTrustScore(walletAddress string, score float64) error {
	ctx := context.Background()

	_, err := c.pool.Exec(ctx, `
		INSERT INTO wallet_trust_scores (wallet_address, score, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (wallet_address) DO UPDATE SET
			score = $2,
			updated_at = now()
	`, walletAddress, score)
	if err != nil {
		return fmt.Errorf("échec de l'enregistrement du score de confiance: %w", err)
	}

	return nil
}

// SaveWalletTrustScores batches the upsert above in a single transaction,
// used by the ledger's periodic decay sweep to flush every wallet at once.
func (c *Connection) SaveWalletTrustScores(scores map[string]float64) error {
	ctx := context.Background()
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("échec du démarrage de la transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for wallet, score := range scores {
		_, err := tx.Exec(ctx, `
			INSERT INTO wallet_trust_scores (wallet_address, score, updated_at)
			VALUES ($1, $2, now())
			ON CONFLICT (wallet_address) DO UPDATE SET
				score = $2,
				updated_at = now()
		`, wallet, score)
		if err != nil {
			return fmt.Errorf("échec de l'upsert du score de confiance: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("échec de la validation de la transaction: %w", err)
	}

	return nil
}

// GetWalletTrustScore returns the persisted score for a wallet, or 0 if none.
func (c *Connection) GetWalletTrustScore(walletAddress string) (float64, error) {
	ctx := context.Background()

	var score float64
	err := c.pool.QueryRow(ctx,
		`SELECT score FROM wallet_trust_scores WHERE wallet_address = $1`,
		walletAddress,
	).Scan(&score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("échec de la récupération du score de confiance: %w", err)
	}

	return score, nil
}
