// Package cache is an optional Redis-backed memo of extraction results
// keyed by image content hash. It exists to absorb idempotent retries
// from flaky clients, not to change billing semantics: a cache hit is
// never counted as a new image.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Entry struct {
	Extracted   map[string]any `json:"extracted"`
	RawResponse string         `json:"raw_response"`
}

// ResultCache is nil-safe: a nil cache misses on every Get and drops
// every Put, so the processing path needs no Redis guard.
type ResultCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func New(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *ResultCache {
	return &ResultCache{rdb: rdb, ttl: ttl, logger: logger}
}

// Key hashes the image content together with the output level, since
// the two levels produce different result shapes.
func Key(imageB64 string, level string) string {
	h := sha256.New()
	h.Write([]byte(imageB64))
	h.Write([]byte{0})
	h.Write([]byte(level))
	return fmt.Sprintf("ocr:result:%s", hex.EncodeToString(h.Sum(nil)))
}

func (c *ResultCache) Get(ctx context.Context, key string) (*Entry, bool) {
	if c == nil {
		return nil, false
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("result cache read failed", zap.Error(err))
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.Warn("result cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return &entry, true
}

func (c *ResultCache) Put(ctx context.Context, key string, entry *Entry) {
	if c == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn("result cache marshal failed", zap.Error(err))
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("result cache write failed", zap.Error(err))
	}
}
