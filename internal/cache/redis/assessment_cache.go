package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/marketguard/internal/domain"
)

const symbolsKey = "mg:assessment:symbols"

func assessmentKey(symbol string) string {
	return "mg:assessment:" + symbol
}

// AssessmentCache implements domain.AssessmentCache. Each symbol's latest
// assessment is a JSON string at "mg:assessment:{symbol}"; the set of known
// symbols lives at "mg:assessment:symbols".
type AssessmentCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewAssessmentCache creates an AssessmentCache. A zero ttl keeps entries
// until overwritten.
func NewAssessmentCache(c *Client, ttl time.Duration) *AssessmentCache {
	return &AssessmentCache{rdb: c.Underlying(), ttl: ttl}
}

// SetLatest stores a as the latest assessment for its symbol.
func (ac *AssessmentCache) SetLatest(ctx context.Context, a domain.Assessment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("redis: marshal assessment %s: %w", a.Symbol, err)
	}
	_, err = ac.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, assessmentKey(a.Symbol), data, ac.ttl)
		p.SAdd(ctx, symbolsKey, a.Symbol)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set assessment %s: %w", a.Symbol, err)
	}
	return nil
}

// GetLatest returns the cached assessment or domain.ErrNotFound.
func (ac *AssessmentCache) GetLatest(ctx context.Context, symbol string) (domain.Assessment, error) {
	data, err := ac.rdb.Get(ctx, assessmentKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Assessment{}, domain.ErrNotFound
		}
		return domain.Assessment{}, fmt.Errorf("redis: get assessment %s: %w", symbol, err)
	}
	var a domain.Assessment
	if err := json.Unmarshal(data, &a); err != nil {
		return domain.Assessment{}, fmt.Errorf("redis: decode assessment %s: %w", symbol, err)
	}
	return a, nil
}

// Symbols lists every symbol with a cached assessment, sorted.
func (ac *AssessmentCache) Symbols(ctx context.Context) ([]string, error) {
	out, err := ac.rdb.SMembers(ctx, symbolsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: list symbols: %w", err)
	}
	sort.Strings(out)
	return out, nil
}

var _ domain.AssessmentCache = (*AssessmentCache)(nil)
