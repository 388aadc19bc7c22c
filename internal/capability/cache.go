// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/vecmath"
)

// kv is the subset of the redis client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *goredis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *goredis.StatusCmd
}

// CachedEmbedder memoizes embeddings in redis, keyed by model and a hash
// of the text. Redis failures fall through to the wrapped Embedder.
type CachedEmbedder struct {
	next  Embedder
	rdb   kv
	model string
	ttl   time.Duration
	log   *logger.Logger
}

// NewCachedEmbedder wraps next with a redis cache.
func NewCachedEmbedder(next Embedder, rdb kv, model string, ttl time.Duration, log *logger.Logger) *CachedEmbedder {
	return &CachedEmbedder{
		next:  next,
		rdb:   rdb,
		model: model,
		ttl:   ttl,
		log:   logger.OrNop(log).With("service", "EmbeddingCache"),
	}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

func (c *CachedEmbedder) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "recall:emb:" + c.model + ":" + hex.EncodeToString(sum[:])
}

// Embed returns a cached vector when present, otherwise calls the wrapped
// Embedder and stores the result.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	key := c.key(text)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		if vec, derr := vecmath.Decode(raw); derr == nil && len(vec) > 0 {
			return vec, nil
		}
		c.log.Warn("discarding corrupt cache entry", "key", key)
	case !errors.Is(err, goredis.Nil):
		c.log.Warn("cache read failed", "error", err)
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := c.rdb.Set(ctx, key, vecmath.Encode(vec), c.ttl).Err(); err != nil {
		c.log.Warn("cache write failed", "error", err)
	}
	return vec, nil
}
