package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/ratelimit"
)

func TestRateLimitStoreGetMissingReturnsNilNotError(t *testing.T) {
	db := openTestDB(t)
	store := NewRateLimitStore(db)

	got, err := store.Get(context.Background(), ratelimit.Key{RuleID: "r1", Tool: "fs.write", Host: "h1", Agent: "a1"})
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil bucket, got %+v", got)
	}
}

func TestRateLimitStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	store := NewRateLimitStore(db)
	ctx := context.Background()

	key := ratelimit.Key{RuleID: "r1", Tool: "fs.write", Host: "h1", Agent: "a1"}
	now := time.Now().UTC().Truncate(time.Second)
	b := ratelimit.Bucket{Key: key, Tokens: 3.5, UpdatedAt: now}

	if err := store.Put(ctx, b); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	got, err := store.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Tokens != 3.5 {
		t.Fatalf("expected tokens 3.5, got %v", got.Tokens)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Fatalf("expected UpdatedAt to round-trip, got %v", got.UpdatedAt)
	}
}

func TestRateLimitStoreDistinctKeysAreIndependent(t *testing.T) {
	db := openTestDB(t)
	store := NewRateLimitStore(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	k1 := ratelimit.Key{RuleID: "r1", Tool: "fs.write", Host: "h1", Agent: "a1"}
	k2 := ratelimit.Key{RuleID: "r1", Tool: "fs.write", Host: "h2", Agent: "a1"}

	if err := store.Put(ctx, ratelimit.Bucket{Key: k1, Tokens: 1, UpdatedAt: now}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := store.Put(ctx, ratelimit.Bucket{Key: k2, Tokens: 9, UpdatedAt: now}); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got1, err := store.Get(ctx, k1)
	if err != nil {
		t.Fatalf("Get(k1) error: %v", err)
	}
	got2, err := store.Get(ctx, k2)
	if err != nil {
		t.Fatalf("Get(k2) error: %v", err)
	}
	if got1.Tokens != 1 || got2.Tokens != 9 {
		t.Fatalf("expected independent buckets, got %v and %v", got1.Tokens, got2.Tokens)
	}
}
