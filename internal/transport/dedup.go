package transport

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 32

// DedupStore persists successful responses under an idempotency key.
type DedupStore interface {
	Load(ctx context.Context, key string) (*Response, bool, error)
	Save(ctx context.Context, key string, resp *Response, ttl time.Duration) error
}

// Deduplicator collapses repeated calls sharing an idempotency key into one
// external side effect. Calls with the same key are serialized through a
// per-key lock held in one of several shards; unrelated keys never contend.
type Deduplicator struct {
	store  DedupStore
	ttl    time.Duration
	shards [shardCount]lockShard
}

type lockShard struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewDeduplicator wraps store with per-key locking. A non-positive ttl
// defaults to ten minutes.
func NewDeduplicator(store DedupStore, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	d := &Deduplicator{store: store, ttl: ttl}
	for i := range d.shards {
		d.shards[i].locks = make(map[string]*keyLock)
	}
	return d
}

// Do returns the stored response for key when present; otherwise it runs fn
// and stores a successful result. replayed reports a cache hit.
func (d *Deduplicator) Do(ctx context.Context, key string, fn func() (*Response, error)) (resp *Response, replayed bool, err error) {
	release, err := d.acquire(ctx, key)
	if err != nil {
		return nil, false, err
	}
	defer release()

	if cached, ok, err := d.store.Load(ctx, key); err == nil && ok {
		return cached, true, nil
	}

	resp, err = fn()
	if err != nil {
		return nil, false, err
	}
	// A failed save only loses protection for later retries.
	_ = d.store.Save(ctx, key, resp, d.ttl)
	return resp, false, nil
}

func (d *Deduplicator) shard(key string) *lockShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.shards[h.Sum32()%shardCount]
}

func (d *Deduplicator) acquire(ctx context.Context, key string) (func(), error) {
	shard := d.shard(key)

	shard.mu.Lock()
	lock, ok := shard.locks[key]
	if !ok {
		lock = &keyLock{sem: make(chan struct{}, 1)}
		shard.locks[key] = lock
	}
	lock.refs++
	shard.mu.Unlock()

	unref := func() {
		shard.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(shard.locks, key)
		}
		shard.mu.Unlock()
	}

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		unref()
		return nil, ctx.Err()
	}

	return func() {
		<-lock.sem
		unref()
	}, nil
}

// MemoryStore is an in-process DedupStore with lazy expiry.
type MemoryStore struct {
	now    func() time.Time
	shards [shardCount]memoryShard
}

type memoryShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	resp      *Response
	expiresAt time.Time
}

// NewMemoryStore returns an empty store using the wall clock.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithClock(time.Now)
}

// NewMemoryStoreWithClock returns an empty store reading time from now.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	s := &MemoryStore{now: now}
	for i := range s.shards {
		s.shards[i].entries = make(map[string]memoryEntry)
	}
	return s
}

func (s *MemoryStore) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}

// Load implements DedupStore.
func (s *MemoryStore) Load(_ context.Context, key string) (*Response, bool, error) {
	shard := s.shard(key)
	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !s.now().Before(entry.expiresAt) {
		shard.mu.Lock()
		if current, ok := shard.entries[key]; ok && current.expiresAt == entry.expiresAt {
			delete(shard.entries, key)
		}
		shard.mu.Unlock()
		return nil, false, nil
	}
	return entry.resp.Clone(), true, nil
}

// Save implements DedupStore.
func (s *MemoryStore) Save(_ context.Context, key string, resp *Response, ttl time.Duration) error {
	shard := s.shard(key)
	shard.mu.Lock()
	shard.entries[key] = memoryEntry{resp: resp.Clone(), expiresAt: s.now().Add(ttl)}
	shard.mu.Unlock()
	return nil
}

// Sweep drops expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	now := s.now()
	removed := 0
	for i := range s.shards {
		shard := &s.shards[i]
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if !now.Before(entry.expiresAt) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}
