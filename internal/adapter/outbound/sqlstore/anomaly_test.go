package sqlstore

import (
	"context"
	"testing"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/anomaly"
)

func TestAnomalyStoreGetMissingReturnsNilNotError(t *testing.T) {
	db := openTestDB(t)
	store := NewAnomalyStore(db)

	got, err := store.Get(context.Background(), "fs.read|build-agent-1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil baseline, got %+v", got)
	}
}

func TestAnomalyStoreRoundTripsNestedFields(t *testing.T) {
	db := openTestDB(t)
	store := NewAnomalyStore(db)
	ctx := context.Background()

	b := anomaly.NewBaseline("fs.read|build-agent-1")
	b.SampleCount = 42
	b.FrequencyMean = 1.5
	b.FrequencyM2 = 0.3
	b.HourlyDistribution[10] = 0.2
	b.Fingerprints = []string{"deadbeef", "cafebabe"}
	b.Bigrams = map[string]float64{"fs.read->fs.write": 0.6}

	if err := store.Put(ctx, b); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := store.Get(ctx, b.Key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.SampleCount != 42 {
		t.Fatalf("unexpected scalar fields: %+v", got)
	}
	if got.HourlyDistribution[10] != 0.2 {
		t.Fatalf("expected hourly distribution to round-trip, got %v", got.HourlyDistribution)
	}
	if len(got.Fingerprints) != 2 || got.Fingerprints[0] != "deadbeef" {
		t.Fatalf("expected fingerprints to round-trip, got %v", got.Fingerprints)
	}
	if got.Bigrams["fs.read->fs.write"] != 0.6 {
		t.Fatalf("expected bigrams to round-trip, got %v", got.Bigrams)
	}
}

func TestAnomalyStorePutIsUpsert(t *testing.T) {
	db := openTestDB(t)
	store := NewAnomalyStore(db)
	ctx := context.Background()

	b := anomaly.NewBaseline("k1")
	b.SampleCount = 1
	if err := store.Put(ctx, b); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	b.SampleCount = 2
	if err := store.Put(ctx, b); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	got, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.SampleCount != 2 {
		t.Fatalf("expected upserted sample count 2, got %d", got.SampleCount)
	}
}
