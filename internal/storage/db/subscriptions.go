package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/skarlow/confluence-oracle/pkg/models"
)

// SaveSubscription persists a tenant's tracker subscription, upserting on
// the (tenant, tracker_handle) pair so a re-subscribe just refreshes it.
func (c *Connection) SaveSubscription(sub *models.Subscription) error {
	ctx := context.Background()

	query := `
		INSERT INTO subscriptions (
			tenant, tracker_handle, tracker_platform_id, tracker_type, created_at
		) VALUES (
			$1, $2, $3, $4, $5
		) ON CONFLICT (tenant, tracker_handle) DO UPDATE SET
			tracker_platform_id = $3,
			tracker_type = $4
	`

	_, err := c.pool.Exec(ctx, query,
		sub.Tenant,
		sub.Tracker.Handle,
		sub.Tracker.PlatformID,
		sub.TrackerType,
		sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("échec de l'enregistrement de l'abonnement: %w", err)
	}

	return nil
}

// DeleteSubscription removes a tenant's subscription to a tracker.
func (c *Connection) DeleteSubscription(tenant, trackerHandle string) error {
	ctx := context.Background()

	_, err := c.pool.Exec(ctx,
		`DELETE FROM subscriptions WHERE tenant = $1 AND tracker_handle = $2`,
		tenant, trackerHandle,
	)
	if err != nil {
		return fmt.Errorf("échec de la suppression de l'abonnement: %w", err)
	}

	return nil
}

// GetSubscriptionsForTenant lists every tracker a tenant currently follows.
func (c *Connection) GetSubscriptionsForTenant(tenant string) ([]models.Subscription, error) {
	ctx := context.Background()

	rows, err := c.pool.Query(ctx, `
		SELECT tenant, tracker_handle, tracker_platform_id, tracker_type, created_at
		FROM subscriptions
		WHERE tenant = $1
		ORDER BY created_at ASC
	`, tenant)
	if err != nil {
		return nil, fmt.Errorf("échec de la récupération des abonnements: %w", err)
	}
	defer rows.Close()

	subs := make([]models.Subscription, 0)
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(
			&sub.Tenant,
			&sub.Tracker.Handle,
			&sub.Tracker.PlatformID,
			&sub.TrackerType,
			&sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("échec du scan des abonnements: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("erreur pendant l'itération sur les résultats: %w", err)
	}

	return subs, nil
}

// GetAllSubscriptions loads the full subscription directory, used to warm
// the in-memory tracker registry on startup.
func (c *Connection) GetAllSubscriptions() ([]models.Subscription, error) {
	ctx := context.Background()

	rows, err := c.pool.Query(ctx, `
		SELECT tenant, tracker_handle, tracker_platform_id, tracker_type, created_at
		FROM subscriptions
		ORDER BY tenant ASC, created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("échec de la récupération des abonnements: %w", err)
	}
	defer rows.Close()

	subs := make([]models.Subscription, 0)
	for rows.Next() {
		var sub models.Subscription
		if err := rows.Scan(
			&sub.Tenant,
			&sub.Tracker.Handle,
			&sub.Tracker.PlatformID,
			&sub.TrackerType,
			&sub.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("échec du scan des abonnements: %w", err)
		}
		subs = append(subs, sub)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("erreur pendant l'itération sur les résultats: %w", err)
	}

	return subs, nil
}

// SaveTenantSettings upserts a tenant's confluence thresholds.
func (c *Connection) SaveTenantSettings(s *models.TenantSettings) error {
	ctx := context.Background()

	_, err := c.pool.Exec(ctx, `
		INSERT INTO tenant_settings (tenant, min_wallets, window_minutes)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant) DO UPDATE SET
			min_wallets = $2,
			window_minutes = $3
	`, s.Tenant, s.MinWallets, s.WindowMinutes)
	if err != nil {
		return fmt.Errorf("échec de l'enregistrement des réglages du tenant: %w", err)
	}

	return nil
}

// GetTenantSettings returns the stored settings for a tenant, or false when
// the tenant has never customized them (caller should fall back to
// models.DefaultTenantSettings).
func (c *Connection) GetTenantSettings(tenant string) (*models.TenantSettings, bool, error) {
	ctx := context.Background()

	var s models.TenantSettings
	err := c.pool.QueryRow(ctx, `
		SELECT tenant, min_wallets, window_minutes
		FROM tenant_settings
		WHERE tenant = $1
	`, tenant).Scan(&s.Tenant, &s.MinWallets, &s.WindowMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("échec de la récupération des réglages du tenant: %w", err)
	}

	return &s, true, nil
}
