package backend

import (
	"context"
	"testing"
	"time"
)

func TestMemoryBackend_GetSet(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	if _, ok, err := b.Get(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := b.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	value, ok, err := b.Get(ctx, "k")
	if err != nil || !ok || value != "v" {
		t.Errorf("Get: got %q, %v, %v", value, ok, err)
	}
}

func TestMemoryBackend_TTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewMemoryBackend(WithClock(clock))
	ctx := context.Background()

	_ = b.Set(ctx, "k", "v", time.Second)
	if _, ok, _ := b.Get(ctx, "k"); !ok {
		t.Fatal("expected hit before expiry")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := b.Get(ctx, "k"); ok {
		t.Error("expected miss after expiry")
	}
	// Expired keys do not show up in Keys either.
	_ = b.Set(ctx, "k2", "v", time.Second)
	now = now.Add(2 * time.Second)
	keys, _ := b.Keys(ctx, "k*")
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}

func TestMemoryBackend_Delete(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	_ = b.Set(ctx, "a", "1", 0)
	_ = b.SAdd(ctx, "s", "m1")
	n, err := b.Delete(ctx, "a", "s", "absent")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 removed, got %d", n)
	}
	n, _ = b.Delete(ctx, "a")
	if n != 0 {
		t.Errorf("second delete should remove 0, got %d", n)
	}
}

func TestMemoryBackend_Sets(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	_ = b.SAdd(ctx, "s", "a", "b", "c")
	card, _ := b.SCard(ctx, "s")
	if card != 3 {
		t.Errorf("SCard: got %d", card)
	}
	_ = b.SRem(ctx, "s", "b")
	members, _ := b.SMembers(ctx, "s")
	if len(members) != 2 {
		t.Errorf("SMembers: got %v", members)
	}
	// Removing the last members drops the set entirely.
	_ = b.SRem(ctx, "s", "a", "c")
	card, _ = b.SCard(ctx, "s")
	if card != 0 {
		t.Errorf("expected empty set, got %d", card)
	}
}

func TestMemoryBackend_Incr(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := b.Incr(ctx, "counter")
		if err != nil {
			t.Fatal(err)
		}
		if n != want {
			t.Errorf("Incr: got %d, want %d", n, want)
		}
	}
}

func TestMemoryBackend_IncrKeepsTTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	b := NewMemoryBackend(WithClock(clock))
	ctx := context.Background()

	_ = b.Set(ctx, "c", "1", 10*time.Second)
	if _, err := b.Incr(ctx, "c"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(11 * time.Second)
	if _, ok, _ := b.Get(ctx, "c"); ok {
		t.Error("counter should expire with its original deadline")
	}
}

func TestMemoryBackend_Keys(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	_ = b.Set(ctx, "emb:model:aaa", "1", 0)
	_ = b.Set(ctx, "emb:model:bbb", "2", 0)
	_ = b.Set(ctx, "query:default:ccc", "3", 0)
	keys, err := b.Keys(ctx, "emb:model:*")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 keys, got %v", keys)
	}
}

func TestMemoryBackend_Pipeline(t *testing.T) {
	b := NewMemoryBackend()
	ctx := context.Background()

	err := b.Pipeline(ctx, func(p Pipe) error {
		p.Set("doc:1", "payload", 0)
		p.SAdd("all", "1")
		p.SAdd("coll:default", "1")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Get(ctx, "doc:1"); !ok {
		t.Error("pipelined set missing")
	}
	card, _ := b.SCard(ctx, "all")
	if card != 1 {
		t.Errorf("pipelined sadd: got %d members", card)
	}

	err = b.Pipeline(ctx, func(p Pipe) error {
		p.SRem("all", "1")
		p.Delete("doc:1")
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := b.Get(ctx, "doc:1"); ok {
		t.Error("pipelined delete did not remove key")
	}
}
