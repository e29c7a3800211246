package encprofile

import (
	"context"
	"fmt"

	"github.com/allegro/bigcache/v3"
)

const (
	maxCacheShards = 1024
	// entries each shard must hold before it starts evicting
	entriesPerShard = 4
	// bigcache entry header, 32-byte handle key and queue length prefix
	cacheEntryOverhead = 18 + 32 + 8
)

// NewCiphertextCache builds a cache whose shards fit ciphertext blobs of
// blobSize bytes within the configured memory cap.
func NewCiphertextCache(ctx context.Context, cfg CacheConfig, blobSize int) (*bigcache.BigCache, error) {
	shards, err := cacheShards(cfg.HardMaxMB, blobSize)
	if err != nil {
		return nil, err
	}
	cacheCfg := bigcache.DefaultConfig(cfg.LifeWindow)
	cacheCfg.Shards = shards
	cacheCfg.MaxEntrySize = blobSize
	cacheCfg.HardMaxCacheSize = cfg.HardMaxMB
	cacheCfg.Verbose = false
	return bigcache.New(ctx, cacheCfg)
}

// cacheShards returns the largest power of two, at most 1024, that leaves
// room for entriesPerShard blobs in every shard. A cap of 0 is unbounded.
func cacheShards(hardMaxMB, blobSize int) (int, error) {
	if hardMaxMB <= 0 {
		return maxCacheShards, nil
	}
	total := hardMaxMB << 20
	perShard := entriesPerShard * (blobSize + cacheEntryOverhead)
	if total < perShard {
		return 0, fmt.Errorf("cache.hard_max_mb %d cannot hold %d ciphertexts of %d bytes", hardMaxMB, entriesPerShard, blobSize)
	}
	shards := 1
	for shards < maxCacheShards && total/(shards*2) >= perShard {
		shards *= 2
	}
	return shards, nil
}
