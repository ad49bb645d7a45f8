package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/skarlow/confluence-oracle/pkg/utils/config"
	"go.uber.org/zap"
)

// Client is the confluence-detection dedup cache: a thin Redis wrapper
// scoped to the one thing it backs, WasConfluenceDetected/MarkConfluenceDetected.
type Client struct {
	client *redis.Client
	ctx    context.Context
	config *config.RedisConfig
	logger *zap.Logger
}

// NewClient crée un nouveau client Redis
func NewClient(ctx context.Context, config *config.RedisConfig) (*Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("échec de la connexion à Redis: %w", err)
	}

	logger, _ := zap.NewProduction()

	return &Client{
		client: redisClient,
		ctx:    ctx,
		config: config,
		logger: logger,
	}, nil
}

// Close ferme la connexion Redis
func (c *Client) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Set stocke une valeur dans le cache
func (c *Client) Set(key string, value string, expiration time.Duration) error {
	return c.client.Set(c.ctx, key, value, expiration).Err()
}

// Exists vérifie si une clé existe
func (c *Client) Exists(key string) (bool, error) {
	result, err := c.client.Exists(c.ctx, key).Result()
	if err != nil {
		return false, err
	}
	return result > 0, nil
}

// MarkConfluenceDetected records that tenant/token already fired a
// confluence at this exact detection timestamp, so a recap-window re-run or
// a redelivered event does not re-alert.
func (c *Client) MarkConfluenceDetected(tenant, tokenIdentity string, detectionTimestamp time.Time, ttl time.Duration) error {
	key := fmt.Sprintf("confluence:fired:%s:%s:%d", tenant, tokenIdentity, detectionTimestamp.Unix())
	return c.Set(key, "1", ttl)
}

// WasConfluenceDetected reports whether tenant/token already fired at this
// exact detection timestamp within the dedup TTL.
func (c *Client) WasConfluenceDetected(tenant, tokenIdentity string, detectionTimestamp time.Time) (bool, error) {
	key := fmt.Sprintf("confluence:fired:%s:%s:%d", tenant, tokenIdentity, detectionTimestamp.Unix())
	return c.Exists(key)
}
