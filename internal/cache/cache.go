// Package cache holds completed responses so identical requests can be
// answered without spending provider quota. The router itself never consults
// the cache; the HTTP layer checks it before calling Complete.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/inferoute/inferoute/internal/models"
)

// Config holds configuration for the completion cache.
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

// CompletionCache stores completion results keyed by request content.
type CompletionCache interface {
	Get(ctx context.Context, key string) (*models.CompletionResult, bool, error)
	Set(ctx context.Context, key string, result *models.CompletionResult) error
	Clear(ctx context.Context) error
	Close() error
}

// Key derives a stable cache key from the conversation and the routing
// context fields that affect the answer. Request IDs are deliberately left
// out.
func Key(messages []models.Message, reqctx models.RequestContext) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(messages)
	_ = enc.Encode(reqctx.TaskType)
	_ = enc.Encode(reqctx.Environment)
	_ = enc.Encode(reqctx.RequireCapabilities)
	return hex.EncodeToString(h.Sum(nil))
}

type item struct {
	result    models.CompletionResult
	expiresAt time.Time
}

// MemoryCache is an in-process CompletionCache with TTL eviction.
type MemoryCache struct {
	config Config
	mu     sync.Mutex
	data   map[string]*item
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache(config Config) *MemoryCache {
	if config.TTL <= 0 {
		config.TTL = time.Hour
	}
	if config.MaxSize <= 0 {
		config.MaxSize = 1000
	}
	return &MemoryCache{
		config: config,
		data:   make(map[string]*item),
	}
}

// Get returns a copy of the cached result, if present and unexpired.
func (c *MemoryCache) Get(ctx context.Context, key string) (*models.CompletionResult, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	it, ok := c.data[key]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(it.expiresAt) {
		delete(c.data, key)
		return nil, false, nil
	}
	result := it.result
	return &result, true, nil
}

// Set stores a result under the key.
func (c *MemoryCache) Set(ctx context.Context, key string, result *models.CompletionResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &item{
		result:    *result,
		expiresAt: time.Now().Add(c.config.TTL),
	}
	if len(c.data) > c.config.MaxSize {
		c.evict()
	}
	return nil
}

// evict drops expired items first, then the soonest-to-expire until under the
// limit. Called with the lock held.
func (c *MemoryCache) evict() {
	now := time.Now()
	for key, it := range c.data {
		if now.After(it.expiresAt) {
			delete(c.data, key)
		}
	}
	for len(c.data) > c.config.MaxSize {
		var oldestKey string
		var oldest time.Time
		for key, it := range c.data {
			if oldestKey == "" || it.expiresAt.Before(oldest) {
				oldestKey = key
				oldest = it.expiresAt
			}
		}
		delete(c.data, oldestKey)
	}
}

// Clear removes everything.
func (c *MemoryCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string]*item)
	return nil
}

// Close releases resources.
func (c *MemoryCache) Close() error {
	return c.Clear(context.Background())
}
