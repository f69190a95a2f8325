package sqlstore

import (
	"context"
	"testing"
	"time"
)

func TestConfirmationStoreMintAndValidate(t *testing.T) {
	db := openTestDB(t)
	store := NewConfirmationStore(db)
	ctx := context.Background()

	tok, err := store.Mint(ctx, "fs.write", "prod-1", "claude", map[string]interface{}{"path": "/etc/passwd"}, 5*time.Minute)
	if err != nil {
		t.Fatalf("Mint() error: %v", err)
	}
	if tok.Token == "" {
		t.Fatal("expected non-empty token")
	}

	ok, err := store.Validate(ctx, tok.Token, "fs.write", "prod-1", "claude")
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if !ok {
		t.Fatal("expected first validation to succeed")
	}
}

func TestConfirmationStoreTokenIsSingleUse(t *testing.T) {
	db := openTestDB(t)
	store := NewConfirmationStore(db)
	ctx := context.Background()

	tok, err := store.Mint(ctx, "fs.write", "prod-1", "claude", nil, 5*time.Minute)
	if err != nil {
		t.Fatalf("Mint() error: %v", err)
	}

	if ok, err := store.Validate(ctx, tok.Token, "fs.write", "prod-1", "claude"); err != nil || !ok {
		t.Fatalf("expected first validate to succeed, ok=%v err=%v", ok, err)
	}
	if ok, err := store.Validate(ctx, tok.Token, "fs.write", "prod-1", "claude"); err != nil || ok {
		t.Fatalf("expected reuse to fail, ok=%v err=%v", ok, err)
	}
}

func TestConfirmationStoreRejectsMismatchedTuple(t *testing.T) {
	db := openTestDB(t)
	store := NewConfirmationStore(db)
	ctx := context.Background()

	tok, err := store.Mint(ctx, "fs.write", "prod-1", "claude", nil, 5*time.Minute)
	if err != nil {
		t.Fatalf("Mint() error: %v", err)
	}

	if ok, err := store.Validate(ctx, tok.Token, "fs.write", "prod-2", "claude"); err != nil || ok {
		t.Fatalf("expected host mismatch to fail, ok=%v err=%v", ok, err)
	}

	// The mismatched attempt must not have consumed the token.
	if ok, err := store.Validate(ctx, tok.Token, "fs.write", "prod-1", "claude"); err != nil || !ok {
		t.Fatalf("expected exact-match validate to still succeed, ok=%v err=%v", ok, err)
	}
}

func TestConfirmationStoreRejectsExpiredToken(t *testing.T) {
	db := openTestDB(t)
	store := NewConfirmationStore(db)
	ctx := context.Background()

	tok, err := store.Mint(ctx, "fs.write", "prod-1", "claude", nil, -time.Minute)
	if err != nil {
		t.Fatalf("Mint() error: %v", err)
	}
	if ok, err := store.Validate(ctx, tok.Token, "fs.write", "prod-1", "claude"); err != nil || ok {
		t.Fatalf("expected expired token to fail, ok=%v err=%v", ok, err)
	}
}

func TestConfirmationStoreUnknownTokenFailsWithoutError(t *testing.T) {
	db := openTestDB(t)
	store := NewConfirmationStore(db)

	ok, err := store.Validate(context.Background(), "does-not-exist", "fs.write", "prod-1", "claude")
	if err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if ok {
		t.Fatal("expected unknown token to fail validation")
	}
}
