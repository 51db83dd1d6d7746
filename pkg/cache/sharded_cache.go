package cache

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 16

// ShardedPriceCache holds the latest price per symbol, sharded to keep
// readers of one symbol off the lock of another.
type ShardedPriceCache struct {
	shards [numShards]*priceShard
}

type priceShard struct {
	mu    sync.RWMutex
	items map[string]Quote
}

// Quote is a cached price and the time it was observed.
type Quote struct {
	Price     float64   `json:"price"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewShardedPriceCache creates a new sharded cache.
func NewShardedPriceCache() *ShardedPriceCache {
	c := &ShardedPriceCache{}
	for i := 0; i < numShards; i++ {
		c.shards[i] = &priceShard{
			items: make(map[string]Quote),
		}
	}
	return c
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32() % numShards
}

// Set stores a price for a symbol.
func (c *ShardedPriceCache) Set(symbol string, price float64, at time.Time) {
	shard := c.shards[shardIndex(symbol)]
	shard.mu.Lock()
	shard.items[symbol] = Quote{Price: price, UpdatedAt: at}
	shard.mu.Unlock()
}

// Get retrieves a price for a symbol.
func (c *ShardedPriceCache) Get(symbol string) (float64, bool) {
	q, ok := c.Quote(symbol)
	return q.Price, ok
}

// Quote retrieves the full cached entry for a symbol.
func (c *ShardedPriceCache) Quote(symbol string) (Quote, bool) {
	shard := c.shards[shardIndex(symbol)]
	shard.mu.RLock()
	q, ok := shard.items[symbol]
	shard.mu.RUnlock()
	return q, ok
}

// Len returns total items across all shards.
func (c *ShardedPriceCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.items)
		shard.mu.RUnlock()
	}
	return total
}

// GetAll returns a copy of every cached quote.
func (c *ShardedPriceCache) GetAll() map[string]Quote {
	result := make(map[string]Quote)
	for _, shard := range c.shards {
		shard.mu.RLock()
		for sym, q := range shard.items {
			result[sym] = q
		}
		shard.mu.RUnlock()
	}
	return result
}
