package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/marketplace/internal/domain"
)

const (
	alertKeyPrefix       = "marketplace:stock-alerts:"
	DefaultAlertCacheTTL = 30 * time.Second
)

// AlertCache кеширует отчёт об остатках по значению порога.
type AlertCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewAlertCache создаёт кеш; ttl <= 0 заменяется на DefaultAlertCacheTTL.
func NewAlertCache(client redis.UniversalClient, ttl time.Duration) *AlertCache {
	if ttl <= 0 {
		ttl = DefaultAlertCacheTTL
	}
	return &AlertCache{client: client, ttl: ttl}
}

func alertKey(thresholdPct int) string {
	return alertKeyPrefix + strconv.Itoa(thresholdPct)
}

// Get возвращает отчёт и true, если он есть в кеше.
func (c *AlertCache) Get(ctx context.Context, thresholdPct int) (domain.StockAlerts, bool, error) {
	raw, err := c.client.Get(ctx, alertKey(thresholdPct)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.StockAlerts{}, false, nil
		}
		return domain.StockAlerts{}, false, fmt.Errorf("redis get stock alerts: %w", err)
	}

	var alerts domain.StockAlerts
	if err := json.Unmarshal(raw, &alerts); err != nil {
		return domain.StockAlerts{}, false, fmt.Errorf("decode stock alerts: %w", err)
	}
	return alerts, true, nil
}

// Set сохраняет отчёт на ttl.
func (c *AlertCache) Set(ctx context.Context, alerts domain.StockAlerts) error {
	raw, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("marshal stock alerts: %w", err)
	}
	if err := c.client.Set(ctx, alertKey(alerts.ThresholdPct), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set stock alerts: %w", err)
	}
	return nil
}

// Invalidate удаляет отчёты для всех порогов.
func (c *AlertCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, alertKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan stock alerts: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete stock alerts: %w", err)
	}
	return nil
}
