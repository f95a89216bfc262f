package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"go.etcd.io/bbolt"
)

var (
	bucketKV   = []byte("kv")
	bucketSets = []byte("sets")
)

// BoltBackend implements Backend on an embedded bbolt database. TTLs are
// stored as deadlines inside the value envelope and checked on read; bbolt
// has no native expiry, so expired entries linger on disk until the next
// read or overwrite touches them.
type BoltBackend struct {
	db  *bbolt.DB
	now func() time.Time
}

// boltEnvelope wraps a stored value with its expiry deadline (unix nanos, 0 = none).
type boltEnvelope struct {
	Value     string `json:"v"`
	ExpiresAt int64  `json:"exp,omitempty"`
}

// NewBoltBackend opens or creates a bbolt database at dbPath. Parent
// directories are created if they do not exist.
func NewBoltBackend(dbPath string) (*BoltBackend, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	db, err := bbolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketKV); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketSets)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}
	return &BoltBackend{db: db, now: time.Now}, nil
}

func (b *BoltBackend) expired(env boltEnvelope) bool {
	return env.ExpiresAt != 0 && b.now().UnixNano() > env.ExpiresAt
}

func (b *BoltBackend) envelope(value string, ttl time.Duration) ([]byte, error) {
	env := boltEnvelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = b.now().Add(ttl).UnixNano()
	}
	return json.Marshal(env)
}

func (b *BoltBackend) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketKV).Get([]byte(key))
		if data == nil {
			return nil
		}
		var env boltEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		if b.expired(env) {
			return nil
		}
		value, found = env.Value, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("bolt get: %w", err)
	}
	return value, found, nil
}

func (b *BoltBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	data, err := b.envelope(value, ttl)
	if err != nil {
		return fmt.Errorf("bolt set: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketKV).Put([]byte(key), data)
	})
}

func (b *BoltBackend) Delete(ctx context.Context, keys ...string) (int, error) {
	removed := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		kv := tx.Bucket(bucketKV)
		sets := tx.Bucket(bucketSets)
		for _, key := range keys {
			k := []byte(key)
			if kv.Get(k) != nil {
				if err := kv.Delete(k); err != nil {
					return err
				}
				removed++
				continue
			}
			if sets.Bucket(k) != nil {
				if err := sets.DeleteBucket(k); err != nil {
					return err
				}
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("bolt delete: %w", err)
	}
	return removed, nil
}

func (b *BoltBackend) Keys(ctx context.Context, pattern string) ([]string, error) {
	var matched []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		err := tx.Bucket(bucketKV).ForEach(func(k, v []byte) error {
			var env boltEnvelope
			if err := json.Unmarshal(v, &env); err != nil {
				return err
			}
			if b.expired(env) {
				return nil
			}
			if ok, _ := path.Match(pattern, string(k)); ok {
				matched = append(matched, string(k))
			}
			return nil
		})
		if err != nil {
			return err
		}
		return tx.Bucket(bucketSets).ForEachBucket(func(k []byte) error {
			if ok, _ := path.Match(pattern, string(k)); ok {
				matched = append(matched, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt keys: %w", err)
	}
	return matched, nil
}

func (b *BoltBackend) SAdd(ctx context.Context, key string, members ...string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return boltSAdd(tx, key, members)
	})
}

func boltSAdd(tx *bbolt.Tx, key string, members []string) error {
	set, err := tx.Bucket(bucketSets).CreateBucketIfNotExists([]byte(key))
	if err != nil {
		return err
	}
	for _, m := range members {
		if err := set.Put([]byte(m), nil); err != nil {
			return err
		}
	}
	return nil
}

func (b *BoltBackend) SRem(ctx context.Context, key string, members ...string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return boltSRem(tx, key, members)
	})
}

func boltSRem(tx *bbolt.Tx, key string, members []string) error {
	set := tx.Bucket(bucketSets).Bucket([]byte(key))
	if set == nil {
		return nil
	}
	for _, m := range members {
		if err := set.Delete([]byte(m)); err != nil {
			return err
		}
	}
	return nil
}

func (b *BoltBackend) SMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		set := tx.Bucket(bucketSets).Bucket([]byte(key))
		if set == nil {
			return nil
		}
		return set.ForEach(func(k, _ []byte) error {
			members = append(members, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("bolt smembers: %w", err)
	}
	return members, nil
}

func (b *BoltBackend) SCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		set := tx.Bucket(bucketSets).Bucket([]byte(key))
		if set == nil {
			return nil
		}
		return set.ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("bolt scard: %w", err)
	}
	return n, nil
}

// Incr is atomic: bbolt serializes writers, so the read-modify-write runs alone.
func (b *BoltBackend) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := b.db.Update(func(tx *bbolt.Tx) error {
		kv := tx.Bucket(bucketKV)
		var env boltEnvelope
		if data := kv.Get([]byte(key)); data != nil {
			if err := json.Unmarshal(data, &env); err != nil {
				return err
			}
			if b.expired(env) {
				env = boltEnvelope{}
			} else if env.Value != "" {
				parsed, err := strconv.ParseInt(env.Value, 10, 64)
				if err != nil {
					return err
				}
				n = parsed
			}
		}
		n++
		env.Value = strconv.FormatInt(n, 10)
		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return kv.Put([]byte(key), data)
	})
	if err != nil {
		return 0, fmt.Errorf("bolt incr: %w", err)
	}
	return n, nil
}

func (b *BoltBackend) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		kv := tx.Bucket(bucketKV)
		data := kv.Get([]byte(key))
		if data == nil {
			return nil
		}
		var env boltEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			return err
		}
		if b.expired(env) {
			return nil
		}
		if ttl > 0 {
			env.ExpiresAt = b.now().Add(ttl).UnixNano()
		} else {
			env.ExpiresAt = 0
		}
		updated, err := json.Marshal(env)
		if err != nil {
			return err
		}
		return kv.Put([]byte(key), updated)
	})
	if err != nil {
		return fmt.Errorf("bolt expire: %w", err)
	}
	return nil
}

type boltPipe struct {
	ops []memOp
}

func (p *boltPipe) Set(key, value string, ttl time.Duration) {
	p.ops = append(p.ops, memOp{kind: opSet, key: key, value: value, ttl: ttl})
}

func (p *boltPipe) Delete(keys ...string) {
	p.ops = append(p.ops, memOp{kind: opDelete, keys: keys})
}

func (p *boltPipe) SAdd(key string, members ...string) {
	p.ops = append(p.ops, memOp{kind: opSAdd, key: key, members: members})
}

func (p *boltPipe) SRem(key string, members ...string) {
	p.ops = append(p.ops, memOp{kind: opSRem, key: key, members: members})
}

// Pipeline applies all queued operations inside a single write transaction.
func (b *BoltBackend) Pipeline(ctx context.Context, fn func(Pipe) error) error {
	pipe := &boltPipe{}
	if err := fn(pipe); err != nil {
		return err
	}
	err := b.db.Update(func(tx *bbolt.Tx) error {
		kv := tx.Bucket(bucketKV)
		for _, op := range pipe.ops {
			switch op.kind {
			case opSet:
				data, err := b.envelope(op.value, op.ttl)
				if err != nil {
					return err
				}
				if err := kv.Put([]byte(op.key), data); err != nil {
					return err
				}
			case opDelete:
				for _, key := range op.keys {
					if err := kv.Delete([]byte(key)); err != nil {
						return err
					}
					if tx.Bucket(bucketSets).Bucket([]byte(key)) != nil {
						if err := tx.Bucket(bucketSets).DeleteBucket([]byte(key)); err != nil {
							return err
						}
					}
				}
			case opSAdd:
				if err := boltSAdd(tx, op.key, op.members); err != nil {
					return err
				}
			case opSRem:
				if err := boltSRem(tx, op.key, op.members); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt pipeline: %w", err)
	}
	return nil
}

func (b *BoltBackend) Ping(ctx context.Context) error { return nil }

func (b *BoltBackend) Close() error {
	return b.db.Close()
}
