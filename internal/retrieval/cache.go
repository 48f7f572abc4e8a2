package retrieval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"vita/internal/domain"
	"vita/internal/metrics"
)

const cacheKeyPrefix = "vita:retrieval:"

// CachedRetriever memoizes another Retriever in Redis. Cache failures are logged and bypassed.
type CachedRetriever struct {
	next Retriever
	rdb  *redis.Client
	ttl  time.Duration
	log  zerolog.Logger
}

func NewCachedRetriever(next Retriever, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedRetriever {
	return &CachedRetriever{next: next, rdb: rdb, ttl: ttl, log: log}
}

func cacheKey(query string, ns Namespace, k int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", ns, k, strings.ToLower(strings.TrimSpace(query)))))
	return cacheKeyPrefix + hex.EncodeToString(sum[:16])
}

func (c *CachedRetriever) Retrieve(ctx context.Context, query string, ns Namespace, k int) ([]domain.Passage, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	key := cacheKey(query, ns, k)
	data, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var hits []domain.Passage
		if err := json.Unmarshal(data, &hits); err == nil {
			metrics.RetrievalCache.WithLabelValues("hit").Inc()
			return hits, nil
		}
		metrics.RetrievalCache.WithLabelValues("error").Inc()
	case errors.Is(err, redis.Nil):
		metrics.RetrievalCache.WithLabelValues("miss").Inc()
	default:
		metrics.RetrievalCache.WithLabelValues("error").Inc()
		c.log.Warn().Err(err).Str("namespace", string(ns)).Msg("retrieval cache read failed")
	}

	hits, err := c.next.Retrieve(ctx, query, ns, k)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(hits); err == nil {
		if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
			c.log.Warn().Err(err).Str("namespace", string(ns)).Msg("retrieval cache write failed")
		}
	}
	return hits, nil
}
