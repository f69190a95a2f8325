package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/anomaly"
)

// AnomalyStore implements anomaly.Store against the anomaly_baselines
// table. The hourly distribution, fingerprint set, and bigram map are
// JSON blob columns, matching the teacher's technique for persisting
// nested structures alongside scalar fields.
type AnomalyStore struct {
	db *DB
}

func NewAnomalyStore(db *DB) *AnomalyStore { return &AnomalyStore{db: db} }

func (s *AnomalyStore) Get(ctx context.Context, key string) (*anomaly.Baseline, error) {
	row := s.db.Read.QueryRowContext(ctx, `
		SELECT key, sample_count, frequency_mean, frequency_m2, error_rate_mean, error_rate_m2,
		       hourly_distribution, fingerprints, bigrams
		FROM anomaly_baselines WHERE key = ?`, key)

	b := anomaly.NewBaseline(key)
	var hourlyJSON, fingerprintsJSON, bigramsJSON string

	err := row.Scan(&b.Key, &b.SampleCount, &b.FrequencyMean, &b.FrequencyM2, &b.ErrorRateMean, &b.ErrorRateM2,
		&hourlyJSON, &fingerprintsJSON, &bigramsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: loading anomaly baseline %s: %w", key, err)
	}

	var hourly [24]float64
	if err := json.Unmarshal([]byte(hourlyJSON), &hourly); err != nil {
		return nil, fmt.Errorf("sqlstore: unmarshaling hourly distribution for %s: %w", key, err)
	}
	b.HourlyDistribution = hourly

	var fingerprints []string
	if err := json.Unmarshal([]byte(fingerprintsJSON), &fingerprints); err != nil {
		return nil, fmt.Errorf("sqlstore: unmarshaling fingerprints for %s: %w", key, err)
	}
	b.Fingerprints = fingerprints

	var bigrams map[string]float64
	if err := json.Unmarshal([]byte(bigramsJSON), &bigrams); err != nil {
		return nil, fmt.Errorf("sqlstore: unmarshaling bigrams for %s: %w", key, err)
	}
	b.Bigrams = bigrams

	return b, nil
}

func (s *AnomalyStore) Put(ctx context.Context, b *anomaly.Baseline) error {
	hourlyJSON, err := json.Marshal(b.HourlyDistribution)
	if err != nil {
		return fmt.Errorf("sqlstore: marshaling hourly distribution: %w", err)
	}
	fingerprints := b.Fingerprints
	if fingerprints == nil {
		fingerprints = []string{}
	}
	fingerprintsJSON, err := json.Marshal(fingerprints)
	if err != nil {
		return fmt.Errorf("sqlstore: marshaling fingerprints: %w", err)
	}
	bigrams := b.Bigrams
	if bigrams == nil {
		bigrams = map[string]float64{}
	}
	bigramsJSON, err := json.Marshal(bigrams)
	if err != nil {
		return fmt.Errorf("sqlstore: marshaling bigrams: %w", err)
	}

	_, err = s.db.Write.ExecContext(ctx, `
		INSERT INTO anomaly_baselines (key, sample_count, frequency_mean, frequency_m2, error_rate_mean,
		                                error_rate_m2, hourly_distribution, fingerprints, bigrams)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			sample_count=excluded.sample_count, frequency_mean=excluded.frequency_mean,
			frequency_m2=excluded.frequency_m2, error_rate_mean=excluded.error_rate_mean,
			error_rate_m2=excluded.error_rate_m2, hourly_distribution=excluded.hourly_distribution,
			fingerprints=excluded.fingerprints, bigrams=excluded.bigrams`,
		b.Key, b.SampleCount, b.FrequencyMean, b.FrequencyM2, b.ErrorRateMean, b.ErrorRateM2,
		string(hourlyJSON), string(fingerprintsJSON), string(bigramsJSON),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: saving anomaly baseline %s: %w", b.Key, err)
	}
	return nil
}
