// Package anomaly implements the EWMA-based behavioral anomaly detector:
// five weighted components folded into a composite 0-100 score, with a
// Welford-stabilized online baseline updated after every observation.
// This complements rather than replaces the teacher's static
// tool.ClassifyTool pattern classifier -- static risk classification and
// learned-baseline anomaly scoring are orthogonal signals, and both end
// up in a verdict's risk factors.
package anomaly

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/sentinelgate/sentinel/internal/domain/sentinel/canon"
)

// Alpha is the EWMA smoothing factor used for every mean/stddev update.
const Alpha = 0.1

// MinSampleCount is the warm-up threshold below which every component
// returns 0 regardless of observed values.
const MinSampleCount = 10

// MaxFingerprints bounds the FIFO set of argument fingerprints kept per
// baseline.
const MaxFingerprints = 1000

const (
	weightFrequency = 0.25
	weightTemporal  = 0.15
	weightArgument  = 0.30
	weightSequence  = 0.15
	weightError     = 0.15
)

// Baseline is the learned per-(tool,host) behavioral profile. All fields
// are exported so a Store implementation can persist them directly;
// Detector never mutates a Baseline it did not just load.
type Baseline struct {
	Key string

	SampleCount int64

	FrequencyMean   float64
	FrequencyM2     float64 // Welford accumulator, not variance itself
	ErrorRateMean   float64
	ErrorRateM2     float64

	// HourlyDistribution is a 24-slot probability vector over hour-of-day.
	HourlyDistribution [24]float64

	// Fingerprints is a FIFO-bounded set of argument-fingerprint hashes
	// seen so far, most-recent at the back.
	Fingerprints     []string
	fingerprintIndex map[string]bool

	// Bigrams maps "prevTool->tool" to a decayed observation frequency.
	// prevTool is always supplied by the caller (the host's most recent
	// audit entry), never tracked locally -- a baseline scoped to a single
	// tool could otherwise never see any bigram but tool->tool.
	Bigrams map[string]float64
}

// NewBaseline returns a zero-value baseline ready for its first
// observation.
func NewBaseline(key string) *Baseline {
	return &Baseline{
		Key:              key,
		fingerprintIndex: map[string]bool{},
		Bigrams:          map[string]float64{},
	}
}

// rebuildIndex restores fingerprintIndex from Fingerprints after loading
// a Baseline from storage, where only the slice is persisted.
func (b *Baseline) rebuildIndex() {
	if b.fingerprintIndex != nil {
		return
	}
	b.fingerprintIndex = make(map[string]bool, len(b.Fingerprints))
	for _, f := range b.Fingerprints {
		b.fingerprintIndex[f] = true
	}
	if b.Bigrams == nil {
		b.Bigrams = map[string]float64{}
	}
}

// Observation is the raw input folded into a composite score and used to
// update the baseline afterward.
type Observation struct {
	Tool string
	// PrevTool is the tool of the most recent audit entry for the same
	// host before this observation's timestamp, or empty if there is
	// none. Sourced externally from the audit log, not from the baseline,
	// since the baseline is scoped to a single tool and can never observe
	// a genuine cross-tool transition on its own.
	PrevTool          string
	Arguments         interface{} // raw arguments value; fingerprinted internally
	HourOfDay         int         // 0-23
	OpsLastHour       float64
	ErrorRateLastHour float64
}

// Score is the composite result of scoring one Observation against a
// Baseline, without yet updating it.
type Score struct {
	Composite  float64
	Frequency  float64
	Temporal   float64
	Argument   float64
	Sequence   float64
	ErrorRate  float64
}

// RiskFactor mirrors policy.RiskFactor's shape without importing the
// policy package, keeping this package dependency-free of domain/policy.
type RiskFactor struct {
	Factor  string
	Score   float64
	Details string
}

// Store persists baselines keyed by an opaque string (the caller decides
// the key shape; the interceptor uses "tool|host").
type Store interface {
	Get(ctx context.Context, key string) (*Baseline, error)
	Put(ctx context.Context, b *Baseline) error
}

// Detector scores observations and updates baselines through a Store.
type Detector struct {
	store Store
}

// New creates a Detector backed by store.
func New(store Store) *Detector {
	return &Detector{store: store}
}

// Score computes the composite anomaly score and per-component scores
// for obs against the baseline at key, without mutating persisted state.
// Call Observe afterward to fold the observation into the baseline.
func (d *Detector) Score(ctx context.Context, key string, obs Observation) (Score, error) {
	b, err := d.load(ctx, key)
	if err != nil {
		return Score{}, err
	}
	return score(b, obs), nil
}

// Observe updates the baseline at key with obs. Call this after scoring,
// per the "baselines updated after the decision" rule -- never before.
func (d *Detector) Observe(ctx context.Context, key string, obs Observation) error {
	b, err := d.load(ctx, key)
	if err != nil {
		return err
	}
	update(b, obs)
	return d.store.Put(ctx, b)
}

func (d *Detector) load(ctx context.Context, key string) (*Baseline, error) {
	b, err := d.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		b = NewBaseline(key)
	}
	b.rebuildIndex()
	return b, nil
}

func score(b *Baseline, obs Observation) Score {
	if b.SampleCount < MinSampleCount {
		return Score{}
	}

	var s Score
	s.Frequency = zscoreComponent(obs.OpsLastHour, b.FrequencyMean, welfordStddev(b.FrequencyM2, b.SampleCount))
	s.Temporal = temporalComponent(b.HourlyDistribution, obs.HourOfDay)
	s.Argument = argumentComponent(b, obs.Arguments)
	s.Sequence = sequenceComponent(b, obs.PrevTool, obs.Tool)
	s.ErrorRate = zscoreComponent(obs.ErrorRateLastHour, b.ErrorRateMean, welfordStddev(b.ErrorRateM2, b.SampleCount))

	s.Composite = weightFrequency*s.Frequency +
		weightTemporal*s.Temporal +
		weightArgument*s.Argument +
		weightSequence*s.Sequence +
		weightError*s.ErrorRate
	return s
}

func zscoreComponent(value, mean, stddev float64) float64 {
	if stddev == 0 {
		return 0
	}
	z := (value - mean) / stddev
	v := 100 * z / 3
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func temporalComponent(dist [24]float64, hour int) float64 {
	if hour < 0 || hour > 23 {
		return 0
	}
	p := dist[hour]
	switch {
	case p < 0.01:
		return 100
	case p < 0.05:
		return 75
	case p < 0.10:
		return 50
	default:
		return 0
	}
}

func argumentComponent(b *Baseline, arguments interface{}) float64 {
	fp, err := fingerprint(arguments)
	if err != nil {
		return 0
	}
	if b.fingerprintIndex[fp] {
		return 0
	}
	return 100
}

func sequenceComponent(b *Baseline, prevTool, tool string) float64 {
	if prevTool == "" {
		return 0
	}
	bigram := prevTool + "->" + tool
	p := b.Bigrams[bigram]
	switch {
	case p <= 0:
		return 100
	case p < 0.01:
		return 75
	case p < 0.05:
		return 50
	default:
		return 0
	}
}

// fingerprint hashes the canonical JSON of arguments with SHA-256.
func fingerprint(arguments interface{}) (string, error) {
	data, err := canon.Serialize(arguments)
	if err != nil {
		return "", fmt.Errorf("anomaly: fingerprinting arguments: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// update folds obs into b per the EWMA/Welford baseline update rules.
// Order matters: the fingerprint/bigram/hourly updates must use the
// pre-update fingerprint set and bigram map, since the whole point is to
// detect novelty against what was known *before* this observation.
func update(b *Baseline, obs Observation) {
	b.FrequencyMean, b.FrequencyM2 = ewmaWelfordUpdate(b.FrequencyMean, b.FrequencyM2, obs.OpsLastHour, b.SampleCount)
	b.ErrorRateMean, b.ErrorRateM2 = ewmaWelfordUpdate(b.ErrorRateMean, b.ErrorRateM2, obs.ErrorRateLastHour, b.SampleCount)

	if obs.HourOfDay >= 0 && obs.HourOfDay <= 23 {
		n := float64(b.SampleCount)
		for h := 0; h < 24; h++ {
			onehot := 0.0
			if h == obs.HourOfDay {
				onehot = 1.0
			}
			b.HourlyDistribution[h] = (b.HourlyDistribution[h]*n + onehot) / (n + 1)
		}
	}

	if fp, err := fingerprint(obs.Arguments); err == nil {
		if !b.fingerprintIndex[fp] {
			b.fingerprintIndex[fp] = true
			b.Fingerprints = append(b.Fingerprints, fp)
			if len(b.Fingerprints) > MaxFingerprints {
				oldest := b.Fingerprints[0]
				b.Fingerprints = b.Fingerprints[1:]
				delete(b.fingerprintIndex, oldest)
			}
		}
	}

	if obs.PrevTool != "" {
		bigram := obs.PrevTool + "->" + obs.Tool
		b.Bigrams[bigram] = Alpha*1 + (1-Alpha)*b.Bigrams[bigram]
	}

	b.SampleCount++
}

// ewmaWelfordUpdate applies an EWMA mean update alongside a Welford-style
// variance accumulator, returning the new mean and M2 accumulator. Using
// Welford's form (rather than a naive sum-of-squares) keeps the variance
// estimate numerically stable across a long-running process.
func ewmaWelfordUpdate(mean, m2 float64, value float64, sampleCount int64) (newMean, newM2 float64) {
	newMean = Alpha*value + (1-Alpha)*mean
	delta := value - mean
	deltaNew := value - newMean
	n := float64(sampleCount + 1)
	newM2 = m2 + delta*deltaNew/n
	if newM2 < 0 {
		newM2 = 0
	}
	return newMean, newM2
}

func welfordStddev(m2 float64, sampleCount int64) float64 {
	if sampleCount < 2 {
		return 0
	}
	variance := m2 / float64(sampleCount-1)
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// RiskFactors converts component scores above 30 into descriptive risk
// factors, suitable for folding into a policy verdict's risk_factors list.
func (s Score) RiskFactors() []RiskFactor {
	var out []RiskFactor
	add := func(name string, value float64, desc string) {
		if value > 30 {
			out = append(out, RiskFactor{Factor: name, Score: value, Details: desc})
		}
	}
	add("frequency_anomaly", s.Frequency, "call frequency deviates from learned baseline")
	add("temporal_anomaly", s.Temporal, "call occurs at an unusual hour for this baseline")
	add("argument_novelty", s.Argument, "argument fingerprint not previously observed")
	add("sequence_anomaly", s.Sequence, "tool sequence (bigram) not previously observed")
	add("error_rate_anomaly", s.ErrorRate, "error rate deviates from learned baseline")
	return out
}
