package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stxbot/internal/domain"
)

const marketTTL = 30 * time.Minute

// MarketCache implements domain.MarketCache. Each catalog refresh replaces
// the whole snapshot.
//
// Key schema:
//
//	stxbot:market:{id} - string holding the market as JSON
//	stxbot:markets     - set of market IDs in the latest snapshot
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(id string) string { return keyPrefix + "market:" + id }

const marketIndexKey = keyPrefix + "markets"

// ReplaceAll stores markets as the current snapshot, dropping markets that
// are no longer listed.
func (mc *MarketCache) ReplaceAll(ctx context.Context, markets []domain.Market) error {
	previous, err := mc.rdb.SMembers(ctx, marketIndexKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("redis: read market index: %w", err)
	}

	current := make(map[string]struct{}, len(markets))
	pipe := mc.rdb.TxPipeline()
	pipe.Del(ctx, marketIndexKey)

	for _, m := range markets {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("redis: marshal market %s: %w", m.ID, err)
		}
		current[m.ID] = struct{}{}
		pipe.Set(ctx, marketKey(m.ID), data, marketTTL)
		pipe.SAdd(ctx, marketIndexKey, m.ID)
	}
	for _, id := range previous {
		if _, ok := current[id]; !ok {
			pipe.Del(ctx, marketKey(id))
		}
	}
	if len(markets) > 0 {
		pipe.Expire(ctx, marketIndexKey, marketTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: replace markets: %w", err)
	}
	return nil
}

// Get retrieves a Market by its ID from the cache.
// It returns domain.ErrNotFound when the key does not exist.
func (mc *MarketCache) Get(ctx context.Context, id string) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %s: %w", id, err)
	}

	var market domain.Market
	if err := json.Unmarshal(data, &market); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %s: %w", id, err)
	}
	return market, nil
}

// IDs returns the market IDs of the latest snapshot, sorted.
func (mc *MarketCache) IDs(ctx context.Context) ([]string, error) {
	ids, err := mc.rdb.SMembers(ctx, marketIndexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: list market ids: %w", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)
