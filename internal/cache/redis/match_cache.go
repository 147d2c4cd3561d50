package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/stakeescrow/internal/domain"
)

// DefaultMatchTTL bounds how long a cached view may be served.
const DefaultMatchTTL = 30 * time.Second

// MatchCache implements domain.MatchCache with one hash per match.
//
// Key schema:
//
//	escrow:match:{id}  - hash with field "data" containing the JSON view
type MatchCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMatchCache creates a MatchCache. A non-positive ttl uses DefaultMatchTTL.
func NewMatchCache(c *Client, ttl time.Duration) *MatchCache {
	if ttl <= 0 {
		ttl = DefaultMatchTTL
	}
	return &MatchCache{rdb: c.Underlying(), ttl: ttl}
}

func matchKey(id uint64) string { return "escrow:match:" + strconv.FormatUint(id, 10) }

// Set stores view until the TTL expires.
func (mc *MatchCache) Set(ctx context.Context, view domain.MatchView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("redis: marshal match %d: %w", view.MatchID, err)
	}
	key := matchKey(view.MatchID)
	pipe := mc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, mc.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set match %d: %w", view.MatchID, err)
	}
	return nil
}

// Get returns the cached view, domain.ErrNotFound on a miss.
func (mc *MatchCache) Get(ctx context.Context, matchID uint64) (domain.MatchView, error) {
	data, err := mc.rdb.HGet(ctx, matchKey(matchID), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MatchView{}, domain.ErrNotFound
		}
		return domain.MatchView{}, fmt.Errorf("redis: get match %d: %w", matchID, err)
	}
	var view domain.MatchView
	if err := json.Unmarshal(data, &view); err != nil {
		return domain.MatchView{}, fmt.Errorf("redis: unmarshal match %d: %w", matchID, err)
	}
	return view, nil
}

// Invalidate drops the cached view.
func (mc *MatchCache) Invalidate(ctx context.Context, matchID uint64) error {
	if err := mc.rdb.Del(ctx, matchKey(matchID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate match %d: %w", matchID, err)
	}
	return nil
}

var _ domain.MatchCache = (*MatchCache)(nil)
