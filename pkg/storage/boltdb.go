package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/burrow/pkg/blobstore"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketBlobs = []byte("blobs")
	bucketMeta  = []byte("meta")
)

// entry is the JSON value stored in the meta bucket
type entry struct {
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	LastAccess  int64  `json:"last_access"`
}

// Stats summarizes cache usage
type Stats struct {
	Entries int
	Bytes   int64
	Hits    uint64
	Misses  uint64
}

// BoltCache is a bounded read-through cache of small blobs on local disk.
// Keys are namespaced by tenant so one file serves every tenant.
type BoltCache struct {
	db        *bolt.DB
	budget    int64
	maxObject int64
	logger    zerolog.Logger

	mu     sync.Mutex
	total  int64
	hits   uint64
	misses uint64
	// access times newer than the persisted ones, written back on
	// eviction and close
	touched map[string]int64
}

// NewBoltCache opens or creates the cache file in dir
func NewBoltCache(dir string, budget, maxObject int64) (*BoltCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache dir: %w", err)
	}
	dbPath := filepath.Join(dir, "blobcache.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}

	var total int64
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketBlobs, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return tx.Bucket(bucketMeta).ForEach(func(k, v []byte) error {
			var e entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			total += e.Size
			return nil
		})
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	c := &BoltCache{
		db:        db,
		budget:    budget,
		maxObject: maxObject,
		total:     total,
		touched:   make(map[string]int64),
		logger:    log.WithComponent("blobcache"),
	}
	c.logger.Debug().
		Str("path", dbPath).
		Str("budget", humanize.IBytes(uint64(budget))).
		Str("used", humanize.IBytes(uint64(total))).
		Msg("Blob cache opened")
	return c, nil
}

// Close persists pending access times and closes the database
func (c *BoltCache) Close() error {
	c.mu.Lock()
	err := c.db.Update(func(tx *bolt.Tx) error {
		return c.flushAccess(tx.Bucket(bucketMeta))
	})
	c.mu.Unlock()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to persist access times")
	}
	return c.db.Close()
}

// Stats returns current usage
func (c *BoltCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	_ = c.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(bucketMeta).Stats().KeyN
		return nil
	})
	return Stats{Entries: n, Bytes: c.total, Hits: c.hits, Misses: c.misses}
}

// Wrap returns a blobstore.Store for tenant that reads through the cache
// into backend. Writes go straight to backend and invalidate the entry.
func (c *BoltCache) Wrap(tenant string, backend blobstore.Store) blobstore.Store {
	return &cachedStore{cache: c, tenant: tenant, backend: backend}
}

func cacheKey(tenant, key string) []byte {
	return []byte(tenant + "\x00" + key)
}

func (c *BoltCache) lookup(k []byte) (data []byte, contentType string, ok bool) {
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(k)
		if raw == nil {
			return nil
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		blob := tx.Bucket(bucketBlobs).Get(k)
		if blob == nil {
			return nil
		}
		// bolt memory is only valid inside the transaction
		data = append([]byte(nil), blob...)
		contentType = e.ContentType
		ok = true
		return nil
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Cache lookup failed")
		return nil, "", false
	}

	c.mu.Lock()
	if ok {
		c.hits++
		c.touched[string(k)] = time.Now().UnixNano()
	} else {
		c.misses++
	}
	c.mu.Unlock()
	return data, contentType, ok
}

func (c *BoltCache) store(k []byte, data []byte, contentType string) error {
	size := int64(len(data))
	if size > c.maxObject || size > c.budget {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		blobs := tx.Bucket(bucketBlobs)

		if prev := meta.Get(k); prev != nil {
			var e entry
			if err := json.Unmarshal(prev, &e); err == nil {
				c.total -= e.Size
			}
		}

		raw, err := json.Marshal(entry{ContentType: contentType, Size: size, LastAccess: time.Now().UnixNano()})
		if err != nil {
			return err
		}
		if err := blobs.Put(k, data); err != nil {
			return err
		}
		if err := meta.Put(k, raw); err != nil {
			return err
		}
		delete(c.touched, string(k))
		c.total += size

		if c.total > c.budget {
			return c.evict(meta, blobs, k)
		}
		return nil
	})
}

// evict drops least recently used entries until the budget holds, never
// touching keep. Caller holds c.mu.
func (c *BoltCache) evict(meta, blobs *bolt.Bucket, keep []byte) error {
	type candidate struct {
		key        []byte
		size       int64
		lastAccess int64
	}
	var candidates []candidate
	err := meta.ForEach(func(k, v []byte) error {
		if bytes.Equal(k, keep) {
			return nil
		}
		var e entry
		if err := json.Unmarshal(v, &e); err != nil {
			return err
		}
		last := max(e.LastAccess, c.touched[string(k)])
		candidates = append(candidates, candidate{key: append([]byte(nil), k...), size: e.Size, lastAccess: last})
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].lastAccess < candidates[j].lastAccess })
	for _, cand := range candidates {
		if c.total <= c.budget {
			break
		}
		if err := blobs.Delete(cand.key); err != nil {
			return err
		}
		if err := meta.Delete(cand.key); err != nil {
			return err
		}
		delete(c.touched, string(cand.key))
		c.total -= cand.size
	}
	return c.flushAccess(meta)
}

// flushAccess writes pending access times into meta. Caller holds c.mu.
func (c *BoltCache) flushAccess(meta *bolt.Bucket) error {
	for key, at := range c.touched {
		raw := meta.Get([]byte(key))
		if raw == nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		if at <= e.LastAccess {
			continue
		}
		e.LastAccess = at
		updated, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := meta.Put([]byte(key), updated); err != nil {
			return err
		}
	}
	clear(c.touched)
	return nil
}

func (c *BoltCache) remove(k []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMeta)
		if prev := meta.Get(k); prev != nil {
			var e entry
			if err := json.Unmarshal(prev, &e); err == nil {
				c.total -= e.Size
			}
		}
		delete(c.touched, string(k))
		_ = tx.Bucket(bucketBlobs).Delete(k)
		return meta.Delete(k)
	})
}

type cachedStore struct {
	cache   *BoltCache
	tenant  string
	backend blobstore.Store
}

func (s *cachedStore) Get(ctx context.Context, key string) (*blobstore.Object, error) {
	k := cacheKey(s.tenant, key)
	if data, contentType, ok := s.cache.lookup(k); ok {
		return &blobstore.Object{
			Body:        io.NopCloser(bytes.NewReader(data)),
			ContentType: contentType,
			Size:        int64(len(data)),
		}, nil
	}

	obj, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if obj.Size < 0 || obj.Size > s.cache.maxObject {
		return obj, nil
	}

	defer obj.Body.Close()
	data, err := io.ReadAll(io.LimitReader(obj.Body, s.cache.maxObject+1))
	if err != nil {
		return nil, &blobstore.Error{Kind: blobstore.KindTransient, Op: "get", Key: key, Err: err}
	}
	if int64(len(data)) == obj.Size {
		if err := s.cache.store(k, data, obj.ContentType); err != nil {
			s.cache.logger.Warn().Err(err).Str("key", key).Msg("Failed to populate cache")
		}
	}
	return &blobstore.Object{
		Body:        io.NopCloser(bytes.NewReader(data)),
		ContentType: obj.ContentType,
		Size:        int64(len(data)),
	}, nil
}

func (s *cachedStore) Put(ctx context.Context, key string, body io.Reader, contentType string) (blobstore.PutResult, error) {
	s.cache.remove(cacheKey(s.tenant, key))
	return s.backend.Put(ctx, key, body, contentType)
}

func (s *cachedStore) Head(ctx context.Context, key string) (bool, error) {
	var found bool
	_ = s.cache.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketMeta).Get(cacheKey(s.tenant, key)) != nil
		return nil
	})
	if found {
		return true, nil
	}
	return s.backend.Head(ctx, key)
}
