package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skarlow/confluence-oracle/pkg/models"
)

// SaveConfluence persists a detected confluence, including the distinct
// wallets that made it up, as the durable record a recap later reads back.
func (c *Connection) SaveConfluence(conf *models.Confluence) error {
	ctx := context.Background()

	walletsJSON, err := json.Marshal(conf.Wallets)
	if err != nil {
		return fmt.Errorf("échec de la sérialisation des wallets: %w", err)
	}

	query := `
		INSERT INTO confluences (
			id, tenant, side, token_symbol, token_address, detection_timestamp,
			detection_market_cap, wallet_count, wallets, first_tx_timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		) ON CONFLICT (id) DO NOTHING
	`

	_, err = c.pool.Exec(ctx, query,
		conf.ID,
		conf.Tenant,
		conf.Side,
		conf.TokenSymbol,
		conf.TokenAddress,
		conf.DetectionTimestamp,
		conf.DetectionMarketCap,
		conf.WalletCount,
		walletsJSON,
		conf.FirstTxTimestamp,
	)
	if err != nil {
		return fmt.Errorf("échec de l'enregistrement de la confluence: %w", err)
	}

	return nil
}

// GetConfluencesSince loads every confluence detected for tenant at or after
// since, ordered oldest-first — the feed a recap aggregates over.
func (c *Connection) GetConfluencesSince(tenant string, since time.Time) ([]models.Confluence, error) {
	ctx := context.Background()

	rows, err := c.pool.Query(ctx, `
		SELECT id, tenant, side, token_symbol, token_address, detection_timestamp,
			detection_market_cap, wallet_count, wallets, first_tx_timestamp
		FROM confluences
		WHERE tenant = $1 AND detection_timestamp >= $2
		ORDER BY detection_timestamp ASC
	`, tenant, since)
	if err != nil {
		return nil, fmt.Errorf("échec de la récupération des confluences: %w", err)
	}
	defer rows.Close()

	confluences := make([]models.Confluence, 0)
	for rows.Next() {
		var conf models.Confluence
		var walletsJSON []byte

		if err := rows.Scan(
			&conf.ID,
			&conf.Tenant,
			&conf.Side,
			&conf.TokenSymbol,
			&conf.TokenAddress,
			&conf.DetectionTimestamp,
			&conf.DetectionMarketCap,
			&conf.WalletCount,
			&walletsJSON,
			&conf.FirstTxTimestamp,
		); err != nil {
			return nil, fmt.Errorf("échec du scan des confluences: %w", err)
		}

		if err := json.Unmarshal(walletsJSON, &conf.Wallets); err != nil {
			return nil, fmt.Errorf("échec de la désérialisation des wallets: %w", err)
		}

		confluences = append(confluences, conf)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("erreur pendant l'itération sur les résultats: %w", err)
	}

	return confluences, nil
}

// ConfluenceExists reports whether a confluence for (tenant, tokenIdentity)
// at exactly detectionTimestamp was already persisted — the durable dedup
// check run before emitting a new alert.
func (c *Connection) ConfluenceExists(tenant, tokenIdentity string, detectionTimestamp time.Time) (bool, error) {
	ctx := context.Background()

	addr, sym := splitTokenIdentity(tokenIdentity)

	var count int
	err := c.pool.QueryRow(ctx, `
		SELECT count(*) FROM confluences
		WHERE tenant = $1
		  AND token_address = $2 AND ($2 <> '' OR token_symbol = $3)
		  AND detection_timestamp = $4
	`, tenant, addr, sym, detectionTimestamp).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("échec de la vérification de déduplication: %w", err)
	}

	return count > 0, nil
}

// splitTokenIdentity reverses Transaction.TokenIdentity's "addr:"/"sym:"
// prefixing for use in a SQL predicate.
func splitTokenIdentity(identity string) (addr, sym string) {
	switch {
	case len(identity) > 5 && identity[:5] == "addr:":
		return identity[5:], ""
	case len(identity) > 4 && identity[:4] == "sym:":
		return "", identity[4:]
	default:
		return "", identity
	}
}

// SaveATHResult caches an ATH analysis against (tenant, token address,
// detection timestamp) so a recap re-run over the same confluence does not
// re-scan price history.
func (c *Connection) SaveATHResult(tenant string, detectionTimestamp time.Time, result *models.ATHResult) error {
	ctx := context.Background()

	earlyDropsJSON, err := json.Marshal(result.EarlyDrops)
	if err != nil {
		return fmt.Errorf("échec de la sérialisation des early drops: %w", err)
	}

	_, err = c.pool.Exec(ctx, `
		INSERT INTO ath_results (
			tenant, token_address, detection_timestamp, initial_price, ath_price,
			ath_timestamp, percentage_gain, minutes_to_ath, min_price_before_ath,
			minutes_to_min_before_ath, early_drops, drop_50pct_detected,
			drop_50pct_timestamp
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		) ON CONFLICT (tenant, token_address, detection_timestamp) DO UPDATE SET
			initial_price = $4,
			ath_price = $5,
			ath_timestamp = $6,
			percentage_gain = $7,
			minutes_to_ath = $8,
			min_price_before_ath = $9,
			minutes_to_min_before_ath = $10,
			early_drops = $11,
			drop_50pct_detected = $12,
			drop_50pct_timestamp = $13
	`,
		tenant, result.TokenAddress, detectionTimestamp, result.InitialPrice, result.AthPrice, result.AthTimestamp,
		result.PercentageGain, result.MinutesToATH, result.MinPriceBeforeAth,
		result.MinutesToMinBeforeAth, earlyDropsJSON, result.Drop50PctDetected,
		result.Drop50PctTimestamp,
	)
	if err != nil {
		return fmt.Errorf("échec de l'enregistrement du résultat ATH: %w", err)
	}

	return nil
}

// GetCachedATHResult loads a previously saved ATH result for (tenant, token
// address, detection timestamp), or (nil, nil) on a cache miss.
func (c *Connection) GetCachedATHResult(tenant, tokenAddress string, detectionTimestamp time.Time) (*models.ATHResult, error) {
	ctx := context.Background()

	var result models.ATHResult
	var earlyDropsJSON []byte
	result.TokenAddress = tokenAddress

	err := c.pool.QueryRow(ctx, `
		SELECT initial_price, ath_price, ath_timestamp, percentage_gain,
			minutes_to_ath, min_price_before_ath, minutes_to_min_before_ath,
			early_drops, drop_50pct_detected, drop_50pct_timestamp
		FROM ath_results
		WHERE tenant = $1 AND token_address = $2 AND detection_timestamp = $3
	`, tenant, tokenAddress, detectionTimestamp).Scan(
		&result.InitialPrice, &result.AthPrice, &result.AthTimestamp, &result.PercentageGain,
		&result.MinutesToATH, &result.MinPriceBeforeAth, &result.MinutesToMinBeforeAth,
		&earlyDropsJSON, &result.Drop50PctDetected, &result.Drop50PctTimestamp,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("échec de la lecture du résultat ATH en cache: %w", err)
	}

	if err := json.Unmarshal(earlyDropsJSON, &result.EarlyDrops); err != nil {
		return nil, fmt.Errorf("échec de la désérialisation des early drops: %w", err)
	}

	return &result, nil
}
