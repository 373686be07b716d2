package candidate

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "candidates:pool:"

// CachedProvider memoizes pool lookups in Redis for ttl. Redis failures fall
// through to the wrapped provider.
type CachedProvider struct {
	next  Provider
	redis *redis.Client
	ttl   time.Duration
	log   *zap.Logger
}

func NewCachedProvider(next Provider, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedProvider {
	return &CachedProvider{next: next, redis: client, ttl: ttl, log: logger.Named("candidate_cache")}
}

func (p *CachedProvider) FindEligible(ctx context.Context, q Query) ([]Candidate, error) {
	key := cacheKey(q)
	raw, err := p.redis.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var out []Candidate
		if jerr := json.Unmarshal(raw, &out); jerr == nil {
			return out, nil
		}
		p.log.Warn("discarding corrupt cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		p.log.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	out, err := p.next.FindEligible(ctx, q)
	if err != nil {
		return nil, err
	}
	if b, jerr := json.Marshal(out); jerr == nil {
		if serr := p.redis.Set(ctx, key, b, p.ttl).Err(); serr != nil {
			p.log.Warn("cache write failed", zap.String("key", key), zap.Error(serr))
		}
	}
	return out, nil
}

func cacheKey(q Query) string {
	raw := fmt.Sprintf("%s|%s|%s|%d|%s|%d",
		strings.ToLower(q.VehicleType),
		strings.Join(q.AcceptTypes, ","),
		strings.ToLower(strings.TrimSpace(q.Region)),
		q.MinExperience,
		strings.Join(idStrings(q.IDs), ","),
		q.Limit,
	)
	sum := sha1.Sum([]byte(raw))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
