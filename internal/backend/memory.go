package backend

import (
	"context"
	"path"
	"strconv"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend using maps. Suitable for tests
// and single-process deployments without persistence.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	sets    map[string]map[string]struct{}
	now     func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithClock overrides the time source, letting tests control TTL expiry.
func WithClock(now func() time.Time) MemoryOption {
	return func(b *MemoryBackend) { b.now = now }
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	b := &MemoryBackend{
		entries: make(map[string]memEntry),
		sets:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// expired reports whether e is past its deadline. Caller holds at least a read lock.
func (b *MemoryBackend) expired(e memEntry) bool {
	return !e.expiresAt.IsZero() && b.now().After(e.expiresAt)
}

func (b *MemoryBackend) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return "", false, nil
	}
	if b.expired(e) {
		b.mu.Lock()
		delete(b.entries, key)
		b.mu.Unlock()
		return "", false, nil
	}
	return e.value, true, nil
}

func (b *MemoryBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.setLocked(key, value, ttl)
	return nil
}

func (b *MemoryBackend) setLocked(key, value string, ttl time.Duration) {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	}
	b.entries[key] = e
}

func (b *MemoryBackend) Delete(ctx context.Context, keys ...string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deleteLocked(keys), nil
}

func (b *MemoryBackend) deleteLocked(keys []string) int {
	removed := 0
	for _, key := range keys {
		if e, ok := b.entries[key]; ok {
			delete(b.entries, key)
			if !b.expired(e) {
				removed++
			}
			continue
		}
		if _, ok := b.sets[key]; ok {
			delete(b.sets, key)
			removed++
		}
	}
	return removed
}

func (b *MemoryBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var matched []string
	for key, e := range b.entries {
		if b.expired(e) {
			continue
		}
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	for key := range b.sets {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

func (b *MemoryBackend) SAdd(ctx context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.saddLocked(key, members)
	return nil
}

func (b *MemoryBackend) saddLocked(key string, members []string) {
	set, ok := b.sets[key]
	if !ok {
		set = make(map[string]struct{})
		b.sets[key] = set
	}
	for _, m := range members {
		set[m] = struct{}{}
	}
}

func (b *MemoryBackend) SRem(ctx context.Context, key string, members ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sremLocked(key, members)
	return nil
}

func (b *MemoryBackend) sremLocked(key string, members []string) {
	set, ok := b.sets[key]
	if !ok {
		return
	}
	for _, m := range members {
		delete(set, m)
	}
	if len(set) == 0 {
		delete(b.sets, key)
	}
}

func (b *MemoryBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	set := b.sets[key]
	members := make([]string, 0, len(set))
	for m := range set {
		members = append(members, m)
	}
	return members, nil
}

func (b *MemoryBackend) SCard(ctx context.Context, key string) (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return int64(len(b.sets[key])), nil
}

func (b *MemoryBackend) Incr(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if ok && b.expired(e) {
		ok = false
		e = memEntry{}
	}
	var n int64
	if ok {
		parsed, err := strconv.ParseInt(e.value, 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
	}
	n++
	// The existing deadline is preserved, matching SETEX + INCR semantics.
	b.entries[key] = memEntry{value: strconv.FormatInt(n, 10), expiresAt: e.expiresAt}
	return n, nil
}

func (b *MemoryBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[key]
	if !ok || b.expired(e) {
		return nil
	}
	if ttl > 0 {
		e.expiresAt = b.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	b.entries[key] = e
	return nil
}

// memOp is a queued pipeline operation.
type memOp struct {
	kind    int
	key     string
	value   string
	ttl     time.Duration
	keys    []string
	members []string
}

const (
	opSet = iota
	opDelete
	opSAdd
	opSRem
)

type memPipe struct {
	ops []memOp
}

func (p *memPipe) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, memOp{kind: opSet, key: key, value: value, ttl: ttl})
}

func (p *memPipe) Delete(keys ...string) {
	p.ops = append(p.ops, memOp{kind: opDelete, keys: keys})
}

func (p *memPipe) SAdd(key string, members ...string) {
	p.ops = append(p.ops, memOp{kind: opSAdd, key: key, members: members})
}

func (p *memPipe) SRem(key string, members ...string) {
	p.ops = append(p.ops, memOp{kind: opSRem, key: key, members: members})
}

// Pipeline applies all queued operations under a single lock so batches
// from concurrent callers never interleave.
func (b *MemoryBackend) Pipeline(ctx context.Context, fn func(Pipe) error) error {
	pipe := &memPipe{}
	if err := fn(pipe); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, op := range pipe.ops {
		switch op.kind {
		case opSet:
			b.setLocked(op.key, op.value, op.ttl)
		case opDelete:
			b.deleteLocked(op.keys)
		case opSAdd:
			b.saddLocked(op.key, op.members)
		case opSRem:
			b.sremLocked(op.key, op.members)
		}
	}
	return nil
}

func (b *MemoryBackend) Ping(ctx context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }
