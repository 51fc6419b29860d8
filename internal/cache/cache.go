// Package cache stores upstream forecast responses for a bounded time.
package cache

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/metrics"
)

// Cache is a byte-value store with per-entry TTL. A miss is (nil, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close()
}

// Open returns a Valkey-backed cache when addr is set and reachable, and an
// in-memory cache otherwise.
func Open(addr string) Cache {
	if addr == "" {
		return NewMemory(nil)
	}

	var (
		opt valkey.ClientOption
		err error
	)
	if strings.Contains(addr, "://") {
		opt, err = valkey.ParseURL(addr)
	} else {
		opt = valkey.ClientOption{InitAddress: []string{addr}}
	}
	if err != nil {
		log.Printf("cache: invalid valkey address %q, using memory: %v", addr, err)
		return NewMemory(nil)
	}

	client, err := valkey.NewClient(opt)
	if err != nil {
		log.Printf("cache: valkey client: %v, using memory", err)
		return NewMemory(nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		log.Printf("cache: valkey ping failed: %v, using memory", err)
		client.Close()
		return NewMemory(nil)
	}

	log.Printf("cache: using valkey at %s", addr)
	return NewValkey(client, "fallout")
}

func recordLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	metrics.CacheRequests.WithLabelValues(backend, result).Inc()
}
