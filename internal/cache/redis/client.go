package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shopsight/backend/internal/metrics"
	"github.com/shopsight/backend/pkg/logger"
	"github.com/shopsight/backend/pkg/utils"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// answerKey derives one cache slot per store and question pair.
func answerKey(store, question string) string {
	return fmt.Sprintf("answer:%s", utils.ShortHash(store+"|"+question))
}

func (c *Client) SetAnswer(ctx context.Context, store, question string, envelope interface{}, ttl time.Duration) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal answer: %w", err)
	}

	err = c.client.Set(ctx, answerKey(store, question), data, ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to set answer cache: %w", err)
	}

	logger.Debug("Answer cached", zap.String("store", store), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetAnswer(ctx context.Context, store, question string, envelope interface{}) (bool, error) {
	data, err := c.client.Get(ctx, answerKey(store, question)).Bytes()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("answer").Inc()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get answer cache: %w", err)
	}

	err = json.Unmarshal(data, envelope)
	if err != nil {
		return false, fmt.Errorf("failed to unmarshal answer: %w", err)
	}

	metrics.CacheHits.WithLabelValues("answer").Inc()
	logger.Debug("Answer cache hit", zap.String("store", store))
	return true, nil
}

// InvalidateAnswers drops every cached answer. Store data changes on
// Shopify's side without notice, so the TTL is the primary staleness bound
// and this is the manual override.
func (c *Client) InvalidateAnswers(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "answer:*", 0).Iterator()
	for iter.Next(ctx) {
		err := c.client.Del(ctx, iter.Val()).Err()
		if err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Answer cache invalidated")
	return nil
}

// IncrementQuestionCount tracks per-store question volume outside Prometheus
// so it survives restarts.
func (c *Client) IncrementQuestionCount(ctx context.Context, store string) error {
	return c.client.Incr(ctx, fmt.Sprintf("questions:%s", store)).Err()
}

func (c *Client) GetQuestionCount(ctx context.Context, store string) (int64, error) {
	val, err := c.client.Get(ctx, fmt.Sprintf("questions:%s", store)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}
