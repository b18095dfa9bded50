package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto"
)

// MemoryConfig sizes the in-process cache.
type MemoryConfig struct {
	// MaxCostBytes bounds the summed payload size of stored results.
	MaxCostBytes int64
	// NumCounters should be about ten times the expected number of entries.
	NumCounters int64
}

// MemoryProvider implements Provider on top of a ristretto cache. Admission is
// probabilistic, so a Set may be dropped under pressure.
type MemoryProvider struct {
	cache *ristretto.Cache
}

// NewMemoryProvider creates an in-process provider.
func NewMemoryProvider(cfg MemoryConfig) (*MemoryProvider, error) {
	if cfg.MaxCostBytes <= 0 {
		cfg.MaxCostBytes = 64 << 20
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCostBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &MemoryProvider{cache: c}, nil
}

// Get returns a copy of the stored payload.
func (p *MemoryProvider) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	value, ok := p.cache.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	payload, ok := value.([]byte)
	if !ok {
		return nil, errors.New("memory cache holds a non-byte value")
	}
	return append([]byte(nil), payload...), nil
}

// Set stores a copy of value, costed by its length. The write is visible to Get once
// ristretto has drained its buffers.
func (p *MemoryProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload := append([]byte(nil), value...)
	cost := int64(len(payload))
	if cost == 0 {
		cost = 1
	}
	if ttl > 0 {
		p.cache.SetWithTTL(key, payload, cost, ttl)
	} else {
		p.cache.Set(key, payload, cost)
	}
	p.cache.Wait()
	return nil
}

// Del removes a key.
func (p *MemoryProvider) Del(_ context.Context, key string) error {
	p.cache.Del(key)
	return nil
}

// Close stops ristretto's background goroutines.
func (p *MemoryProvider) Close() error {
	p.cache.Close()
	return nil
}
